package bucketcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
)

// Role identifies how a process participates in the cache topology. Exactly
// one process owns the store; every other process proxies to it.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleRemote Role = "remote"
)

// ServiceConfig describes one process's cache wiring. Fields carry env tags
// so deployments can configure processes without code changes.
type ServiceConfig struct {
	Role             Role   `env:"BUCKETCACHE_ROLE" envDefault:"owner"`
	Subject          string `env:"BUCKETCACHE_SUBJECT" envDefault:"bucketcache.rpc"`
	DurableDriver    string `env:"BUCKETCACHE_DURABLE_DRIVER"`
	DurableDSN       string `env:"BUCKETCACHE_DURABLE_DSN"`
	DurableTable     string `env:"BUCKETCACHE_DURABLE_TABLE" envDefault:"cache_entries"`
	StrictDurability bool   `env:"BUCKETCACHE_STRICT_DURABILITY"`
}

// ServiceConfigFromEnv reads ServiceConfig from the environment.
func ServiceConfigFromEnv() (ServiceConfig, error) {
	var cfg ServiceConfig
	if err := env.Parse(&cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("bucketcache: parse service config: %w", err)
	}
	return cfg, nil
}

// Conn is the transport connection a service needs: request for remote
// processes, subscribe for the owner. *nats.Conn satisfies it.
type Conn interface {
	Requester
	Subscriber
}

type serviceDeps struct {
	conn    Conn
	durable DurableStore
	profile ProfileProvider
	logger  *log.Logger
}

// ServiceOption supplies collaborator dependencies to NewService.
type ServiceOption func(*serviceDeps)

// WithServiceConn attaches the transport connection. Required for remote
// processes; for the owner it enables serving cross-process calls.
func WithServiceConn(conn Conn) ServiceOption {
	return func(d *serviceDeps) { d.conn = conn }
}

// WithServiceDurable attaches an explicit durable backend, overriding any
// driver named in the config.
func WithServiceDurable(durable DurableStore) ServiceOption {
	return func(d *serviceDeps) { d.durable = durable }
}

// WithServiceProfile sets the active-profile provider used for identifier
// scoping.
func WithServiceProfile(p ProfileProvider) ServiceOption {
	return func(d *serviceDeps) { d.profile = p }
}

// WithServiceLogger overrides the service logger.
func WithServiceLogger(logger *log.Logger) ServiceOption {
	return func(d *serviceDeps) { d.logger = logger }
}

// Service is the composition root for a process's cache access. It owns the
// constructed pieces explicitly; there is no ambient global to reach for.
type Service struct {
	role   Role
	cache  *Cache
	store  *Store
	server *Server
	logger *log.Logger
}

// NewService wires a process's cache according to its role, decided once
// here and never re-checked per call.
func NewService(ctx context.Context, registry *Registry, cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	var deps serviceDeps
	for _, opt := range opts {
		opt(&deps)
	}
	logger := deps.logger
	if logger == nil {
		logger = log.Default()
	}
	role := cfg.Role
	if role == "" {
		role = RoleOwner
	}

	cacheOpts := []Option{}
	if deps.profile != nil {
		cacheOpts = append(cacheOpts, WithProfile(deps.profile))
	}

	switch role {
	case RoleOwner:
		durable := deps.durable
		if durable == nil && cfg.DurableDriver != "" {
			sqlStore, err := NewSQLDurableStore(SQLDurableConfig{
				DriverName: cfg.DurableDriver,
				DSN:        cfg.DurableDSN,
				Table:      cfg.DurableTable,
			})
			if err != nil {
				return nil, fmt.Errorf("bucketcache: durable backend %q: %w", cfg.DurableDriver, err)
			}
			durable = sqlStore
		}
		storeOpts := []StoreOption{WithStoreLogger(logger)}
		if durable != nil {
			storeOpts = append(storeOpts, WithDurableStore(durable))
		}
		if cfg.StrictDurability {
			storeOpts = append(storeOpts, WithStrictDurability())
		}
		store, err := NewStore(ctx, registry, storeOpts...)
		if err != nil {
			return nil, err
		}
		svc := &Service{
			role:   RoleOwner,
			store:  store,
			cache:  New(NewLocalBackend(store), registry, cacheOpts...),
			logger: logger,
		}
		if deps.conn != nil {
			server, err := NewServer(store, ServerConfig{
				Conn:    deps.conn,
				Subject: cfg.Subject,
				Logger:  logger,
			})
			if err != nil {
				return nil, err
			}
			svc.server = server
			logger.Info("cache service serving", "subject", cfg.Subject)
		}
		return svc, nil

	case RoleRemote:
		if deps.conn == nil {
			return nil, errors.New("bucketcache: remote role requires a connection")
		}
		backend := NewRemoteBackend(RemoteConfig{Conn: deps.conn, Subject: cfg.Subject})
		return &Service{
			role:   RoleRemote,
			cache:  New(backend, registry, cacheOpts...),
			logger: logger,
		}, nil

	default:
		return nil, fmt.Errorf("bucketcache: unknown role %q", role)
	}
}

// Cache returns the facade callers use.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Store returns the local store; nil for remote processes.
func (s *Service) Store() *Store {
	return s.store
}

// Role reports how this process participates in the topology.
func (s *Service) Role() Role {
	return s.role
}

// Close stops serving cross-process calls when this process is the owner.
func (s *Service) Close() error {
	if s.server == nil {
		return nil
	}
	return s.server.Close()
}
