package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/toolink/callgate/config"
	"github.com/toolink/callgate/extension"
	"github.com/toolink/callgate/gatekeeper"
	"github.com/toolink/callgate/issuer"
	"github.com/toolink/callgate/limiter"
	"github.com/toolink/callgate/server"
	"github.com/toolink/callgate/session"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gatekeeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}
}

// app is the fully wired service.
type app struct {
	manager    *extension.Manager
	gatekeeper *gatekeeper.Gatekeeper
}

func newApp(cfg config.Config) (*app, error) {
	m := extension.NewManager()

	store, err := newQuotaStore(cfg.Storage, m)
	if err != nil {
		return nil, err
	}
	identityTier, err := limiter.NewTier(limiter.TierIdentity, cfg.Quota.IdentityLimit, cfg.Quota.IdentityWindow, store)
	if err != nil {
		return nil, err
	}
	globalTier, err := limiter.NewTier(limiter.TierGlobal, cfg.Quota.GlobalLimit, cfg.Quota.GlobalWindow, store)
	if err != nil {
		return nil, err
	}

	binder, err := newBinder(cfg.Session)
	if err != nil {
		return nil, err
	}

	voice, err := issuer.NewVoiceIssuer(issuer.VoiceConfig{
		AccountSID:     cfg.Twilio.AccountSID,
		APIKeySID:      cfg.Twilio.APIKeySID,
		APISecret:      cfg.Twilio.APISecret,
		ApplicationSID: cfg.Twilio.ApplicationSID,
		AllowIncoming:  cfg.Twilio.AllowIncoming,
	})
	if err != nil {
		return nil, err
	}

	gk, err := gatekeeper.New(gatekeeper.Config{
		Sessions:      binder,
		IdentityQuota: identityTier,
		GlobalQuota:   globalTier,
		Issuer:        voice,
		TTL:           cfg.TokenTTL,
	})
	if err != nil {
		return nil, err
	}

	router, err := server.NewRouter(server.RouterConfig{
		Gatekeeper: gk,
		Sessions:   binder,
		Cookie: server.CookieConfig{
			Name:   cfg.Session.CookieName,
			Secure: cfg.Session.CookieSecure,
			TTL:    cfg.Session.TTL,
		},
		TrustProxy: cfg.Server.TrustProxy,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Server.HealthAddr != "" {
		if err := m.Register(server.NewHealthServer(cfg.Server.HealthAddr)); err != nil {
			return nil, err
		}
	}
	if err := m.Register(server.NewHTTPServer(cfg.Server.ListenAddr, router)); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_mode", cfg.Session.Mode).
		Str("storage", cfg.Storage.Type).
		Int("identity_limit", cfg.Quota.IdentityLimit).
		Dur("identity_window", cfg.Quota.IdentityWindow).
		Int("global_limit", cfg.Quota.GlobalLimit).
		Dur("global_window", cfg.Quota.GlobalWindow).
		Dur("token_ttl", cfg.TokenTTL).
		Msg("gatekeeper configured")

	return &app{manager: m, gatekeeper: gk}, nil
}

// newQuotaStore builds the configured store and registers the extension that owns it.
func newQuotaStore(cfg config.StorageConfig, m *extension.Manager) (limiter.Store, error) {
	switch cfg.Type {
	case limiter.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		err := m.Register(&extension.Hooks{
			ID: "redis",
			OnLoad: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("ping redis at %s: %w", cfg.Redis.Addr, err)
				}
				return nil
			},
			OnClose: func(context.Context) error { return client.Close() },
		})
		if err != nil {
			return nil, err
		}
		return limiter.NewRedisStore(client, cfg.Redis.Prefix), nil

	case limiter.StorageMemory:
		store := limiter.NewMemoryStore(limiter.WithIdleWindows(cfg.IdleWindows))
		var stop context.CancelFunc
		err := m.Register(&extension.Hooks{
			ID: "quota-janitor",
			OnLoad: func(context.Context) error {
				var ctx context.Context
				ctx, stop = context.WithCancel(context.Background())
				store.StartJanitor(ctx, cfg.SweepEvery)
				return nil
			},
			OnClose: func(context.Context) error {
				stop()
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

func newBinder(cfg config.SessionConfig) (session.Binder, error) {
	switch cfg.Mode {
	case session.ModeSigned:
		b, err := session.NewSignedBinder([]byte(cfg.Secret), session.WithTTL(cfg.TTL))
		if err != nil {
			return nil, err
		}
		return b, nil
	case session.ModeStateful:
		return session.NewStatefulBinder(), nil
	default:
		return nil, fmt.Errorf("unsupported session mode: %s", cfg.Mode)
	}
}

// run loads every extension, blocks until ctx is done, then shuts down.
func (a *app) run(ctx context.Context) error {
	if err := a.manager.LoadAll(ctx); err != nil {
		return err
	}
	log.Info().Msg("callgate started")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.manager.ShutdownAll(shutdownCtx)
}
