// Package app assembles the runtime graph shared by every binary: storage,
// locking, the selected backend, the auth simulator, event sinks and the
// domain services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/project-vector/internal/api"
	"github.com/hackgods/project-vector/internal/appointment"
	"github.com/hackgods/project-vector/internal/auth"
	"github.com/hackgods/project-vector/internal/config"
	"github.com/hackgods/project-vector/internal/db"
	"github.com/hackgods/project-vector/internal/domain"
	"github.com/hackgods/project-vector/internal/events"
	"github.com/hackgods/project-vector/internal/kv"
	"github.com/hackgods/project-vector/internal/lock"
	"github.com/hackgods/project-vector/internal/mockstore"
	"github.com/hackgods/project-vector/internal/notes"
	redisclient "github.com/hackgods/project-vector/internal/redis"
	"github.com/hackgods/project-vector/internal/supabase"
	"github.com/hackgods/project-vector/internal/support"
	"github.com/hackgods/project-vector/internal/waitlist"
)

const redisNamespace = "vector"

type App struct {
	Config  config.Config
	Logger  *slog.Logger
	KV      kv.Store
	Backend domain.Backend
	// Store is set when the local document store is the backend.
	Store  *mockstore.Store
	Auth   *auth.Simulator
	Rules  auth.Rules
	Events domain.EventPublisher

	Appointments *appointment.Service
	Notes        *notes.Service
	Support      *support.Service
	Waitlist     *waitlist.Service

	Checks []api.Check

	redis   *redis.Client
	pg      *pgxpool.Pool
	nats    *nats.Conn
	unwatch func()
}

// Build connects every configured dependency. Optional sinks that fail to
// connect are logged and skipped; the store and backend are required.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	if cfg.StoreDriver == config.StoreRedis {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		a.redis = rdb
		a.Logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	store, err := a.openKV()
	if err != nil {
		return err
	}
	a.KV = store
	a.Checks = append(a.Checks, api.Check{Name: "kv", Required: true, Ping: store.Ping})

	var locker lock.Locker = lock.NewLocal()
	if a.redis != nil {
		locker = redisclient.NewRedisLocker(a.redis, cfg.LockTTL)
	}

	switch cfg.Backend {
	case config.BackendSupabase:
		client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			return err
		}
		a.Backend = supabase.New(client, supabase.WithLogger(a.Logger))
	default:
		ms := mockstore.New(store, mockstore.WithLogger(a.Logger), mockstore.WithNoShowGrace(cfg.NoShowGrace))
		if err := ms.Load(ctx); err != nil {
			return fmt.Errorf("load store: %w", err)
		}
		a.Store = ms
		a.Backend = ms
	}
	a.Checks = append(a.Checks, api.Check{Name: "backend", Required: true, Ping: a.Backend.Ping})

	a.Events = a.buildEvents(ctx)

	rules := auth.DefaultRules()
	if cfg.IdentitiesFile != "" {
		if rules, err = auth.LoadRules(cfg.IdentitiesFile); err != nil {
			return err
		}
	}
	a.Rules = rules
	authOpts := []auth.Option{auth.WithRules(rules), auth.WithLogger(a.Logger)}
	if cfg.SessionTTL > 0 {
		authOpts = append(authOpts, auth.WithSessionTTL(cfg.SessionTTL))
	}
	sim, err := auth.NewSimulator(store, cfg.Secret(), authOpts...)
	if err != nil {
		return err
	}
	a.Auth = sim
	a.unwatch = events.BridgeAuth(sim, a.Events, a.Logger)
	if _, err := sim.Restore(ctx); err != nil {
		a.Logger.Warn("restore session failed", "error", err)
	}

	a.Appointments = appointment.NewService(a.Backend, sim, locker, a.Events,
		appointment.WithLogger(a.Logger),
		appointment.WithNoShowGrace(cfg.NoShowGrace))
	a.Notes = notes.NewService(a.Backend, sim, locker, a.Events, notes.WithLogger(a.Logger))
	a.Support = support.NewService(a.Backend, sim, a.Events, support.WithLogger(a.Logger))
	a.Waitlist = waitlist.NewService(a.Backend, sim, locker, a.Events, waitlist.WithLogger(a.Logger))
	return nil
}

func (a *App) openKV() (kv.Store, error) {
	switch a.Config.StoreDriver {
	case config.StoreMemory:
		return kv.NewMemoryStore(), nil
	case config.StoreRedis:
		return redisclient.NewKV(a.redis, redisNamespace), nil
	default:
		return kv.NewFileStore(a.Config.StorePath, a.Logger)
	}
}

func (a *App) buildEvents(ctx context.Context) domain.EventPublisher {
	sinks := events.Multi{events.NewLogPublisher(a.Logger)}

	if dsn := a.Config.PostgresDSN; dsn != "" {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, dsn, db.PoolOptions{AppName: "vector-" + a.Config.Env})
		if err == nil {
			eventLog := db.NewEventLog(pool)
			if err = eventLog.EnsureSchema(pgCtx); err == nil {
				a.pg = pool
				sinks = append(sinks, eventLog)
				a.Checks = append(a.Checks, api.Check{Name: "postgres", Ping: pool.Ping})
				a.Logger.Info("connected to postgres event log")
			} else {
				pool.Close()
			}
		}
		cancel()
		if err != nil {
			a.Logger.Warn("postgres event log disabled", "error", err)
		}
	}

	if url := a.Config.NATSURL; url != "" {
		nc, err := events.ConnectNATS(url, "vector-"+a.Config.Env)
		if err != nil {
			a.Logger.Warn("nats publisher disabled", "error", err)
		} else {
			a.nats = nc
			sinks = append(sinks, events.NewNATSPublisher(nc, events.DefaultSubjectPrefix))
			a.Checks = append(a.Checks, api.Check{Name: "nats", Ping: func(context.Context) error {
				if !nc.IsConnected() {
					return errors.New("nats not connected")
				}
				return nil
			}})
			a.Logger.Info("connected to nats", "url", url)
		}
	}
	return sinks
}

// Handler builds the HTTP router over the assembled services.
func (a *App) Handler(version string) http.Handler {
	return api.NewRouter(api.RouterConfig{
		Auth:         a.Auth,
		Appointments: a.Appointments,
		Notes:        a.Notes,
		Support:      a.Support,
		Waitlist:     a.Waitlist,
		Checks:       a.Checks,
		Logger:       a.Logger,
		Env:          a.Config.Env,
		Version:      version,
	})
}

// ActAs returns ctx carrying a short-lived session for email without
// touching the simulator's current session.
func (a *App) ActAs(ctx context.Context, email string) (context.Context, domain.Session, error) {
	ident, err := a.Rules.Resolve(email)
	if err != nil {
		return nil, domain.Session{}, err
	}
	sess := domain.Session{
		UserID:    ident.UserID,
		Email:     ident.Email,
		Alias:     ident.Alias,
		Role:      ident.Role,
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}
	return auth.WithSession(ctx, sess), sess, nil
}

// Close releases every connection Build opened. It is safe on a partially
// built App.
func (a *App) Close() {
	if a.unwatch != nil {
		a.unwatch()
	}
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.Logger.Warn("nats drain", "error", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("closing redis", "error", err)
		}
	}
}
