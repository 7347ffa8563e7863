package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/tpost/internal/api"
	"github.com/matheus3301/tpost/internal/audit"
	"github.com/matheus3301/tpost/internal/auth"
	"github.com/matheus3301/tpost/internal/bus"
	"github.com/matheus3301/tpost/internal/compose"
	"github.com/matheus3301/tpost/internal/config"
	"github.com/matheus3301/tpost/internal/connectivity"
	"github.com/matheus3301/tpost/internal/drive"
	"github.com/matheus3301/tpost/internal/favorites"
	"github.com/matheus3301/tpost/internal/graph"
	"github.com/matheus3301/tpost/internal/imaging"
	"github.com/matheus3301/tpost/internal/lock"
	"github.com/matheus3301/tpost/internal/logging"
	"github.com/matheus3301/tpost/internal/metrics"
	"github.com/matheus3301/tpost/internal/session"
	"github.com/matheus3301/tpost/internal/status"
	"github.com/matheus3301/tpost/internal/store"
	intsync "github.com/matheus3301/tpost/internal/sync"
)

// retryInterval re-drains a non-empty queue while online.
const retryInterval = 5 * time.Minute

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = resolve from config.toml, .env and environment
	Debug       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideMonitor,
			provideLock,
			provideStore,
			metrics.New,
			provideGraph,
			provideDrive,
			provideComposer,
			provideAuth,
			provideAudit,
			provideFavorites,
			provideCatalog,
			provideRefresher,
			provideEngine,
			provideProber,
			provideControlService,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, nil
	}
	return config.Resolve(session.ConfigPath(), session.EnvPath(p.SessionName))
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideMonitor(b *bus.Bus, m *status.Machine, logger *zap.Logger) *connectivity.Monitor {
	return connectivity.NewMonitor(b, m, logger)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by its
// owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGraph(cfg *config.Config, m *metrics.Metrics) *graph.Client {
	return graph.New(cfg.Graph.BaseURL, graph.WithObserver(m))
}

func provideDrive(g *graph.Client, cfg *config.Config, m *metrics.Metrics) (*drive.Client, error) {
	return drive.New(g,
		drive.WithChunkSize(int(cfg.Upload.ChunkSize)),
		drive.WithLargeFileThreshold(int(cfg.Upload.LargeFileThreshold)),
		drive.WithObserver(m),
	)
}

func provideComposer(g *graph.Client, cfg *config.Config) *compose.Composer {
	policy := imaging.Policy{
		QualitySteps:       cfg.Upload.QualitySteps,
		SizeThresholdBytes: cfg.Upload.BudgetBytes,
	}
	return compose.New(g, cfg.Upload.MaxWidth, cfg.Upload.MaxHeight, policy)
}

func provideAuth(cfg *config.Config, db *store.DB, logger *zap.Logger) *auth.Authenticator {
	a := auth.New(auth.Config{
		AuthorityURL: cfg.Auth.AuthorityURL,
		TenantID:     cfg.Auth.TenantID,
		ClientID:     cfg.Auth.ClientID,
		Scopes:       cfg.Auth.Scopes,
	}, db, logger)
	if !a.Configured() {
		logger.Warn("auth.client_id is not set; sign-in is disabled until it is configured")
	}
	return a
}

func provideAudit(g *graph.Client, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *audit.Logger {
	return audit.New(g, cfg.Audit.SiteID, cfg.Audit.ListID, cfg.Audit.Source, m, logger)
}

func provideFavorites(db *store.DB, b *bus.Bus, logger *zap.Logger) *favorites.Service {
	return favorites.NewService(db, b, logger)
}

func provideCatalog(svc *favorites.Service, g *graph.Client, dc *drive.Client, a *auth.Authenticator, mon *connectivity.Monitor, logger *zap.Logger) *favorites.Catalog {
	return favorites.NewCatalog(svc, g, dc, a, mon, logger)
}

func provideRefresher(db *store.DB, b *bus.Bus, a *auth.Authenticator, g *graph.Client, dc *drive.Client, mon *connectivity.Monitor, logger *zap.Logger) *favorites.Refresher {
	return favorites.NewRefresher(db, b, a, g, dc, mon, logger)
}

func provideEngine(
	cfg *config.Config,
	db *store.DB,
	b *bus.Bus,
	a *auth.Authenticator,
	g *graph.Client,
	dc *drive.Client,
	c *compose.Composer,
	al *audit.Logger,
	catalog *favorites.Catalog,
	mon *connectivity.Monitor,
	m *metrics.Metrics,
	logger *zap.Logger,
) *intsync.Engine {
	return intsync.NewEngine(intsync.Deps{
		DB:       db,
		Bus:      b,
		Tokens:   a,
		Sites:    g,
		Drive:    dc,
		Composer: c,
		Audit:    al,
		Teams:    catalog,
		Gate:     mon,
		Metrics:  m,
		Logger:   logger,
	}, intsync.Options{
		Mode:          cfg.Upload.Mode,
		RetryInterval: retryInterval,
	})
}

func provideProber(cfg *config.Config, mon *connectivity.Monitor, logger *zap.Logger) *connectivity.Prober {
	interval := time.Duration(cfg.Network.ProbeIntervalSeconds) * time.Second
	return connectivity.NewProber(cfg.Network.ProbeURL, interval, mon, logger)
}

func provideControlService(
	p Params,
	cfg *config.Config,
	db *store.DB,
	b *bus.Bus,
	engine *intsync.Engine,
	favs *favorites.Service,
	catalog *favorites.Catalog,
	mon *connectivity.Monitor,
	a *auth.Authenticator,
	logger *zap.Logger,
) *api.ControlService {
	return api.NewControlService(api.Deps{
		SessionName: p.SessionName,
		Mode:        cfg.Upload.Mode,
		DB:          db,
		Bus:         b,
		Engine:      engine,
		Favorites:   favs,
		Catalog:     catalog,
		Monitor:     mon,
		Account:     a,
		Logger:      logger,
	})
}

type lifecycleDeps struct {
	fx.In

	Server    *Server
	Metrics   *MetricsServer
	Lock      *lock.Lock
	DB        *store.DB
	Bus       *bus.Bus
	Auth      *auth.Authenticator
	Audit     *audit.Logger
	Monitor   *connectivity.Monitor
	Prober    *connectivity.Prober
	Engine    *intsync.Engine
	Refresher *favorites.Refresher
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Account presence is one of the two connectivity inputs.
			d.Auth.OnAccountChange(func(signedIn bool) {
				if !signedIn {
					d.Audit.Forget()
				}
				d.Monitor.SetAuthenticated(signedIn)
				d.Bus.Emit(bus.KindAccountChanged, signedIn)
			})
			d.Monitor.SetAuthenticated(d.Auth.HasAccount(ctx))

			// Subscribers first, so the first probe result reaches them.
			d.Engine.Start(context.Background())
			d.Refresher.Start(context.Background())
			d.Prober.Start()

			go func() {
				if err := d.Server.Start(); err != nil {
					d.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			d.Metrics.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Metrics.Stop(ctx)
			d.Server.Stop(ctx)
			d.Prober.Stop()
			d.Refresher.Stop()
			d.Engine.Stop()
			if err := d.DB.Close(); err != nil {
				d.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}
