package bucketcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// loopbackConn routes requests straight into a server handler, standing in
// for a real messaging connection.
type loopbackConn struct {
	server *Server
}

func (c *loopbackConn) RequestWithContext(ctx context.Context, _ string, data []byte) (*nats.Msg, error) {
	return &nats.Msg{Data: c.server.handle(ctx, data)}, nil
}

type failingConn struct {
	err error
}

func (c *failingConn) RequestWithContext(context.Context, string, []byte) (*nats.Msg, error) {
	return nil, c.err
}

func remotePair(t *testing.T) (*Cache, *Store) {
	t.Helper()
	ctx := context.Background()
	reg := testRegistry(t)
	store, err := NewStore(ctx, reg)
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	server, err := NewServer(store, ServerConfig{})
	if err != nil {
		t.Fatalf("server failed: %v", err)
	}
	backend := NewRemoteBackend(RemoteConfig{Conn: &loopbackConn{server: server}})
	return New(backend, reg), store
}

func TestRemoteRoundTrip(t *testing.T) {
	c, _ := remotePair(t)
	in := showInfo{Title: "Remote", Seasons: 2}

	if err := c.Add("common", "show", in); err != nil {
		t.Fatalf("remote add failed: %v", err)
	}
	out, err := GetValue[showInfo](c, "common", "show")
	if err != nil {
		t.Fatalf("remote get failed: %v", err)
	}
	if out.Title != in.Title || out.Seasons != in.Seasons {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestRemoteMissIsReRaised(t *testing.T) {
	c, _ := remotePair(t)
	if _, err := GetValue[showInfo](c, "common", "absent"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss across the wire, got %v", err)
	}
}

func TestRemoteUnknownBucketIsReRaised(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, testRegistry(t))
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	server, err := NewServer(store, ServerConfig{})
	if err != nil {
		t.Fatalf("server failed: %v", err)
	}
	backend := NewRemoteBackend(RemoteConfig{Conn: &loopbackConn{server: server}})

	// Straight to the backend so the rejection comes from the owning store,
	// not the caller-side catalog check.
	if _, err := backend.Get(ctx, "bogus", "k"); !errors.Is(err, ErrUnknownBucket) {
		t.Fatalf("expected unknown bucket across the wire, got %v", err)
	}
}

func TestRemoteAddCarriesExpiry(t *testing.T) {
	c, store := remotePair(t)
	if err := c.Add("common", "brief", "v", WithTTL(50*time.Millisecond)); err != nil {
		t.Fatalf("remote add failed: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Get(ctx, "common", "brief"); err != nil {
		t.Fatalf("expected entry in owning store, got %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := GetValue[string](c, "common", "brief"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ttl honored across the wire, got %v", err)
	}
}

func TestRemoteClear(t *testing.T) {
	c, store := remotePair(t)
	_ = c.Add("common", "a", 1)
	_ = c.Add("metadata", "b", 2)

	if err := c.Clear("common"); err != nil {
		t.Fatalf("remote clear failed: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Get(ctx, "common", "a"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected cleared bucket, got %v", err)
	}
	if _, err := store.Get(ctx, "metadata", "b"); err != nil {
		t.Fatalf("expected other bucket intact, got %v", err)
	}
}

func TestRemoteTransportFailure(t *testing.T) {
	reg := testRegistry(t)
	backend := NewRemoteBackend(RemoteConfig{Conn: &failingConn{err: errors.New("no route")}})
	c := New(backend, reg)

	if _, err := c.Get("common", "k"); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestRemoteNilConnection(t *testing.T) {
	reg := testRegistry(t)
	c := New(NewRemoteBackend(RemoteConfig{}), reg)
	if err := c.Add("common", "k", "v"); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error for nil connection, got %v", err)
	}
}

func TestServerRejectsMalformedFrame(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, testRegistry(t))
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	server, err := NewServer(store, ServerConfig{})
	if err != nil {
		t.Fatalf("server failed: %v", err)
	}

	reply := server.handle(ctx, []byte{0x01, 0x02})
	var resp responseEnvelope
	if _, err := decodeFrame(reply, &resp); err != nil {
		t.Fatalf("reply frame undecodable: %v", err)
	}
	if resp.OK {
		t.Fatal("expected error response for malformed frame")
	}
	if resp.ErrorKind != kindCorrupt {
		t.Fatalf("expected corrupt kind, got %q", resp.ErrorKind)
	}
}

func TestWireFrameRoundTrip(t *testing.T) {
	env := requestEnvelope{
		Method:     methodAdd,
		Bucket:     "common",
		Identifier: "id",
		TTLMillis:  1500,
	}
	payload := []byte{0x00, 0xFF, 0x10, 0x20}

	frame, err := encodeFrame(env, payload)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var got requestEnvelope
	body, err := decodeFrame(frame, &got)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Method != env.Method || got.Bucket != env.Bucket || got.TTLMillis != env.TTLMillis {
		t.Fatalf("envelope mismatch: %+v", got)
	}
	if len(body) != len(payload) || body[1] != 0xFF {
		t.Fatalf("payload mismatch: %v", body)
	}

	empty, err := encodeFrame(env, nil)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	body, err = decodeFrame(empty, &got)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body != nil {
		t.Fatalf("expected nil payload, got %v", body)
	}
}
