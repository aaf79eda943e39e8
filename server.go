package bucketcache

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

// Subscriber captures the subset of nats.Conn used by the server.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// ServerConfig configures the cache-owning process's request handler.
type ServerConfig struct {
	Conn    Subscriber
	Subject string
	Logger  *log.Logger
}

// Server executes forwarded cache calls against the local Store and replies
// with the result or a re-raisable error kind. One server runs per owning
// process; every other process reaches the store through it.
type Server struct {
	store   *Store
	subject string
	logger  *log.Logger
	sub     *nats.Subscription
}

// NewServer binds a store to a transport subject.
func NewServer(store *Store, cfg ServerConfig) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("bucketcache: server requires a store")
	}
	subject := cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{store: store, subject: subject, logger: logger}
	if cfg.Conn != nil {
		sub, err := cfg.Conn.Subscribe(subject, s.onMessage)
		if err != nil {
			return nil, fmt.Errorf("%w: subscribe %s: %v", ErrTransport, subject, err)
		}
		s.sub = sub
	}
	return s, nil
}

// Close stops serving cache calls.
func (s *Server) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *Server) onMessage(msg *nats.Msg) {
	reply := s.handle(context.Background(), msg.Data)
	if err := msg.Respond(reply); err != nil {
		s.logger.Error("cache reply failed", "subject", s.subject, "err", err)
	}
}

// handle decodes one framed request, runs it against the store, and encodes
// the framed response.
func (s *Server) handle(ctx context.Context, data []byte) []byte {
	var req requestEnvelope
	payload, err := decodeFrame(data, &req)
	if err != nil {
		s.logger.Error("malformed cache request", "err", err)
		return s.reply(nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err))
	}

	switch req.Method {
	case methodGet:
		body, err := s.store.Get(ctx, req.Bucket, req.Identifier)
		return s.reply(body, err)
	case methodAdd:
		var expiresAt time.Time
		if req.ExpiresAtMillis > 0 {
			expiresAt = time.UnixMilli(req.ExpiresAtMillis)
		}
		err := s.store.Add(ctx, req.Bucket, req.Identifier, payload,
			time.Duration(req.TTLMillis)*time.Millisecond, expiresAt)
		return s.reply(nil, err)
	case methodDelete:
		return s.reply(nil, s.store.Delete(ctx, req.Bucket, req.Identifier))
	case methodClear:
		return s.reply(nil, s.store.Clear(ctx, req.Buckets, req.ClearDurable))
	default:
		return s.reply(nil, fmt.Errorf("bucketcache: unknown method %q", req.Method))
	}
}

func (s *Server) reply(payload []byte, err error) []byte {
	env := responseEnvelope{OK: err == nil}
	if err != nil {
		env.ErrorKind = errorKind(err)
		env.ErrorMessage = err.Error()
		payload = nil
	}
	frame, encErr := encodeFrame(env, payload)
	if encErr != nil {
		// The envelope is plain strings; this cannot fail in practice.
		s.logger.Error("cache response encode failed", "err", encErr)
		return nil
	}
	return frame
}
