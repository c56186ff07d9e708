package daemon

import (
	"context"
	"time"

	"github.com/papo-chat/papo/internal/bus"
	"github.com/papo-chat/papo/internal/cache"
	"github.com/papo-chat/papo/internal/config"
	"github.com/papo-chat/papo/internal/lock"
	"github.com/papo-chat/papo/internal/logging"
	"github.com/papo-chat/papo/internal/outbox"
	"github.com/papo-chat/papo/internal/pager"
	"github.com/papo-chat/papo/internal/profile"
	"github.com/papo-chat/papo/internal/session"
	"github.com/papo-chat/papo/internal/status"
	"github.com/papo-chat/papo/internal/store"
	"github.com/papo-chat/papo/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideConfig,
			provideStore,
			provideCache,
			provideAdapter,
			provideActor,
			providePagerManager,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.Encryption.PassphraseFile != "" {
		logger.Info("store passphrase configured",
			zap.String("source", cfg.Encryption.PassphraseFile))
	}
	return cfg, nil
}

func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath, err := profile.StorePath(p.ProfileName)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	passphrase, err := cfg.ReadPassphrase()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Unlock(passphrase); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCache() *cache.Cache {
	return cache.New()
}

func provideAdapter(p Params, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.ProfileName, logger)
}

func provideActor(adapter *wa.Adapter, db *store.DB, c *cache.Cache, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *session.Actor {
	return session.New(adapter, db, c, b, machine, logger.Named("session"))
}

func providePagerManager(db *store.DB, c *cache.Cache, b *bus.Bus, actor *session.Actor, logger *zap.Logger) *pager.Manager {
	return pager.NewManager(db, c, b, actor, logger.Named("pager"))
}

func provideSender(db *store.DB, c *cache.Cache, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, c, adapter, b, logger.Named("outbox"))
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, adapter *wa.Adapter, actor *session.Actor, manager *pager.Manager, sender *outbox.Sender, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sender.Start(context.Background())

			if adapter.HasSession() {
				return actor.Start()
			}

			logger.Info("no credentials found, starting device link")
			events, err := adapter.StartPairing(context.Background())
			if err != nil {
				return err
			}
			go func() {
				for evt := range events {
					b.Publish(bus.Event{
						Kind:      "session.pairing",
						Timestamp: time.Now(),
						Payload:   evt,
					})
					switch evt.Type {
					case wa.PairingSuccess:
						logger.Info("device linked")
						if err := actor.Start(); err != nil {
							logger.Error("session start failed", zap.Error(err))
						}
					case wa.PairingCode:
						logger.Info("pairing code issued")
					default:
						logger.Warn("pairing did not complete",
							zap.String("type", string(evt.Type)),
							zap.String("message", evt.Message))
					}
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			manager.CloseAll()
			sender.Stop()
			actor.Stop()
			if err := adapter.Close(); err != nil {
				logger.Warn("error closing engine", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
