package bucketcache

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultSubject = "bucketcache.rpc"

// Requester captures the subset of nats.Conn used by the remote backend.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// RemoteConfig configures a backend that forwards cache operations to the
// owning process over request/reply.
type RemoteConfig struct {
	Conn    Requester
	Subject string
}

type remoteBackend struct {
	conn    Requester
	subject string
}

// NewRemoteBackend builds the forwarding backend used by processes that do
// not own cache state. Calls from a single caller are delivered in issue
// order; there is no built-in timeout or retry beyond what ctx carries.
func NewRemoteBackend(cfg RemoteConfig) Backend {
	subject := cfg.Subject
	if subject == "" {
		subject = defaultSubject
	}
	return &remoteBackend{conn: cfg.Conn, subject: subject}
}

func (b *remoteBackend) Get(ctx context.Context, bucket, identifier string) ([]byte, error) {
	return b.call(ctx, requestEnvelope{
		Method:     methodGet,
		Bucket:     bucket,
		Identifier: identifier,
	}, nil)
}

func (b *remoteBackend) Add(ctx context.Context, bucket, identifier string, payload []byte, ttl time.Duration, expiresAt time.Time) error {
	env := requestEnvelope{
		Method:     methodAdd,
		Bucket:     bucket,
		Identifier: identifier,
		TTLMillis:  ttl.Milliseconds(),
	}
	if !expiresAt.IsZero() {
		env.ExpiresAtMillis = expiresAt.UnixMilli()
	}
	_, err := b.call(ctx, env, payload)
	return err
}

func (b *remoteBackend) Delete(ctx context.Context, bucket, identifier string) error {
	_, err := b.call(ctx, requestEnvelope{
		Method:     methodDelete,
		Bucket:     bucket,
		Identifier: identifier,
	}, nil)
	return err
}

func (b *remoteBackend) Clear(ctx context.Context, buckets []string, clearDurable bool) error {
	_, err := b.call(ctx, requestEnvelope{
		Method:       methodClear,
		Buckets:      buckets,
		ClearDurable: clearDurable,
	}, nil)
	return err
}

func (b *remoteBackend) call(ctx context.Context, env requestEnvelope, payload []byte) ([]byte, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("%w: connection unavailable", ErrTransport)
	}
	frame, err := encodeFrame(env, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	msg, err := b.conn.RequestWithContext(ctx, b.subject, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	var resp responseEnvelope
	body, err := decodeFrame(msg.Data, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if !resp.OK {
		if kindErr := errorForKind(resp.ErrorKind); kindErr != nil {
			return nil, kindErr
		}
		return nil, fmt.Errorf("bucketcache: remote call failed: %s", resp.ErrorMessage)
	}
	return body, nil
}
