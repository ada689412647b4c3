package daemon

import (
	"context"

	"github.com/matheus3301/convo/internal/api"
	"github.com/matheus3301/convo/internal/lock"
	"github.com/matheus3301/convo/internal/logging"
	"github.com/matheus3301/convo/internal/session"
	"github.com/matheus3301/convo/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved file locations passed to the fx module. Empty
// fields fall back to the session defaults.
type Params struct {
	SocketPath string
	DBPath     string
	LockPath   string
	LogPath    string
}

func (p Params) withDefaults() Params {
	if p.SocketPath == "" {
		p.SocketPath = session.SocketPath()
	}
	if p.DBPath == "" {
		p.DBPath = session.DBPath()
	}
	if p.LockPath == "" {
		p.LockPath = session.LockPath()
	}
	if p.LogPath == "" {
		p.LogPath = session.LogPath("convod")
	}
	return p
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p.withDefaults()),
		fx.Provide(
			provideLogger,
			provideLock,
			provideStore,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.LogPath, "convod")
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring daemon lock", zap.String("path", p.LockPath))
	l, err := lock.Acquire(p.LockPath)
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(p.DBPath)
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
	logger.Info("store initialized", zap.String("path", p.DBPath))
	return db, nil
}

func provideService(db *store.DB, logger *zap.Logger) *api.Service {
	return api.NewService(db, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
