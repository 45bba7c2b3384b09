// Package app wires the repository processing core's background services
// together and supervises them for the lifetime of one process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/repocore/repocore/internal/adapters"
	"github.com/repocore/repocore/internal/config"
	"github.com/repocore/repocore/internal/corerr"
	"github.com/repocore/repocore/internal/domain"
	"github.com/repocore/repocore/internal/gitx"
	"github.com/repocore/repocore/internal/httpapi"
	"github.com/repocore/repocore/internal/incremental"
	"github.com/repocore/repocore/internal/logging"
	"github.com/repocore/repocore/internal/ports"
	"github.com/repocore/repocore/internal/processinglog"
	"github.com/repocore/repocore/internal/scheduler"
	"github.com/repocore/repocore/internal/store"
	"github.com/repocore/repocore/internal/worker"
)

// App holds every service the repository processing core needs to run.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Store     ports.Store
	Workspace ports.WorkspaceManager
	Logs      *processinglog.Service
	Scheduler *scheduler.Scheduler
	Worker    *worker.Worker
	httpSrv   *http.Server
}

// Option is a functional option for New, mirroring the teacher's own
// App construction pattern for overriding dependencies in tests.
type Option func(*options)

type options struct {
	cfg        *config.Config
	configPath string
	generator  ports.Generator
	notifier   ports.Notifier
	platform   ports.PlatformApp
	store      ports.Store
}

// WithConfig injects a pre-built configuration, bypassing disk loading.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConfigPath overrides where Load reads the config file from.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithGenerator overrides the default logging-only generator stub.
func WithGenerator(g ports.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithNotifier overrides the default no-op notifier.
func WithNotifier(n ports.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithPlatformApp overrides the default no-installation platform app stub.
func WithPlatformApp(p ports.PlatformApp) Option {
	return func(o *options) { o.platform = p }
}

// WithStore injects a pre-opened store, bypassing SQLite file opening. Used
// in tests to substitute an in-memory double.
func WithStore(s ports.Store) Option {
	return func(o *options) { o.store = s }
}

// New constructs an App: loads and validates configuration, opens the
// store, and wires every background service. It does not start them; call
// Run for that.
func New(opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}

		if err := loaded.Validate(); err != nil {
			return nil, err
		}

		cfg = loaded
	}

	logger := logging.NewWithLevel(cfg.LogLevel)

	db := o.store
	if db == nil {
		opened, err := store.Open(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}

		db = opened
	}

	generator := o.generator
	if generator == nil {
		generator = adapters.LoggingGenerator{}
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = adapters.NoopNotifier{}
	}

	platform := o.platform
	if platform == nil {
		platform = adapters.NoopPlatformApp{}
	}

	workspaceMgr := gitx.New(cfg.RepositoriesDirectory, cfg.InsecureSkipTLSVerify, platform, cfg.PlatformToken)
	workspaceMgr.RetryConfig = gitx.FixedRetryConfig{MaxAttempts: cfg.MaxRetryAttempts, Delay: time.Duration(cfg.RetryDelayMs) * time.Millisecond}

	if cfg.InsecureSkipTLSVerify {
		gitx.InstallInsecureTransport()
	}

	logs := processinglog.New(db)

	incrementalSvc := incremental.New(db, workspaceMgr, generator, notifier, logs, incremental.RetryConfig{
		MaxAttempts: cfg.MaxRetryAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
	})

	sched := scheduler.New(db, incrementalSvc, scheduler.Config{
		PollingInterval:              time.Duration(cfg.PollingIntervalSeconds) * time.Second,
		DefaultUpdateIntervalMinutes: cfg.DefaultUpdateIntervalMinutes,
		ManualTriggerPriority:        cfg.ManualTriggerPriority,
		StartupSweepAge:              time.Duration(cfg.StartupSweepAgeMinutes) * time.Minute,
	})

	proc := worker.New(db, workspaceMgr, generator, logs)

	resolver := &storeResolver{store: db}
	router := httpapi.NewRouter(logs, resolver)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     db,
		Workspace: workspaceMgr,
		Logs:      logs,
		Scheduler: sched,
		Worker:    proc,
		httpSrv:   &http.Server{Addr: cfg.HTTPAddr, Handler: router},
	}, nil
}

// Run starts the Processing Worker, Incremental Update Scheduler, and HTTP
// server, and blocks until ctx is cancelled or one of them fails. Per §9,
// shutdown is cooperative: each service observes ctx and drains promptly.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Worker.Run(gctx)
	})

	g.Go(func() error {
		return a.Scheduler.Run(gctx)
	})

	g.Go(func() error {
		return a.runHTTPServer(gctx)
	})

	return g.Wait()
}

func (a *App) runHTTPServer(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		log.Info("http server listening", "addr", a.httpSrv.Addr)

		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}

		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return a.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close releases resources held by the App (currently just the store, when
// it is a closeable implementation such as the SQLite-backed store.Store).
func (a *App) Close() error {
	if closer, ok := a.Store.(interface{ Close() error }); ok {
		return closer.Close()
	}

	return nil
}

// storeResolver resolves (owner, repo) URL segments to a repository id by
// scanning non-deleted repositories, the only lookup the store exposes by
// organization/name pair.
type storeResolver struct {
	store ports.Store
}

func (r *storeResolver) ResolveRepositoryID(ctx context.Context, owner, name string) (string, error) {
	for _, status := range []domain.RepositoryStatus{domain.RepositoryPending, domain.RepositoryProcessing, domain.RepositoryCompleted, domain.RepositoryFailed} {
		repos, err := r.store.ListRepositoriesByStatus(ctx, []domain.RepositoryStatus{status}, 0)
		if err != nil {
			return "", err
		}

		for _, repo := range repos {
			if repo.Organization == owner && repo.Name == name {
				return repo.ID, nil
			}
		}
	}

	return "", corerr.NewNotFound("repository", owner+"/"+name)
}
