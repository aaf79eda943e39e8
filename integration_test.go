//go:build integration

package bucketcache

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var integrationRedis struct {
	container testcontainers.Container
	addr      string
}

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, addr, err := startRedisContainer(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to start redis integration container: " + err.Error() + "\n")
		os.Exit(1)
	}
	integrationRedis.container = container
	integrationRedis.addr = addr

	exitCode := m.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = integrationRedis.container.Terminate(shutdownCtx)

	os.Exit(exitCode)
}

func startRedisContainer(ctx context.Context) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	port, err := container.MappedPort(ctx, nat.Port("6379/tcp"))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, "", err
	}
	return container, net.JoinHostPort(host, port.Port()), nil
}

func integrationRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: integrationRedis.addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegrationRedisDurableRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewRedisDurableStore(RedisDurableConfig{
		Client: integrationRedisClient(t),
		Prefix: "it-roundtrip",
	})
	expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	if err := store.Put(ctx, "metadata", "id1", []byte("payload"), expiry); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	rec, ok, err := store.Get(ctx, "metadata", "id1")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if string(rec.Payload) != "payload" || !rec.ExpiresAt.Equal(expiry) {
		t.Fatalf("record mismatch: %+v", rec)
	}
}

func TestIntegrationRedisBackedStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	durable := NewRedisDurableStore(RedisDurableConfig{
		Client: integrationRedisClient(t),
		Prefix: "it-restart",
	})
	registry := MustRegistry(
		Bucket{Name: "common", DefaultTTL: time.Hour},
		Bucket{Name: "metadata", Persistent: true, DefaultTTL: 24 * time.Hour},
	)

	store, err := NewStore(ctx, registry, WithDurableStore(durable))
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if err := store.Add(ctx, "metadata", "kept", []byte("v"), time.Hour, time.Time{}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := store.Add(ctx, "common", "dropped", []byte("v"), time.Hour, time.Time{}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	reborn, err := NewStore(ctx, registry, WithDurableStore(durable))
	if err != nil {
		t.Fatalf("restart store failed: %v", err)
	}
	if _, err := reborn.Get(ctx, "metadata", "kept"); err != nil {
		t.Fatalf("expected persistent entry after restart, got %v", err)
	}
	if _, err := reborn.Get(ctx, "common", "dropped"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected volatile entry gone, got %v", err)
	}
}
