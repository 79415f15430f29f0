package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/croplink/ai/agent"
	"github.com/teranos/croplink/am"
	"github.com/teranos/croplink/content"
	"github.com/teranos/croplink/docstore"
	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/ingest"
	"github.com/teranos/croplink/internal/httpclient"
	"github.com/teranos/croplink/linkage"
	"github.com/teranos/croplink/logger"
	"github.com/teranos/croplink/metrics"
	"github.com/teranos/croplink/pulse/async"
	"github.com/teranos/croplink/pulse/budget"
	"github.com/teranos/croplink/pulse/schedule"
	"github.com/teranos/croplink/server"
	"github.com/teranos/croplink/sourcecfg"
	"github.com/teranos/croplink/version"
)

// ServeCmd runs the whole pipeline in one process
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run event intake, workers, the pull scheduler and the admin API",
	Long: `Run croplink: the storage notification endpoint, the worker pool draining
the ingestion queue, the reaper recovering stuck jobs, the scheduled-pull
ticker and the admin read API, all against one database.

Press Ctrl+C once for a graceful shutdown, twice to exit immediately.`,
	RunE: runServe,
}

var (
	serveDBPath  string
	servePort    int
	serveWorkers int
)

func init() {
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides server.port)")
	ServeCmd.Flags().IntVar(&serveWorkers, "workers", -1, "Worker count (overrides pulse.workers, 0 = intake only)")
}

// service holds every started component so shutdown can stop them in order
type service struct {
	database *sql.DB
	cache    *sourcecfg.Cache
	pool     *async.WorkerPool
	reaper   *async.Reaper
	ticker   *schedule.Ticker
	srv      *server.Server
	watcher  *am.ConfigWatcher
	cancel   context.CancelFunc
	log      *zap.SugaredLogger
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if serveWorkers >= 0 {
		cfg.Pulse.Workers = serveWorkers
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	dbPath := serveDBPath
	if dbPath == "" {
		dbPath = cfg.GetDatabasePath()
	}

	printStartupBanner(cfg, dbPath)

	rt, err := startPipeline(cmd.Context(), cfg, dbPath, logger.Logger)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")
	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- rt.stop()
	}()

	select {
	case err := <-shutdownDone:
		if err != nil {
			return errors.Wrap(err, "shutdown error")
		}
		pterm.Success.Println("croplink stopped cleanly")
		return nil
	case <-sigChan:
		pterm.Warning.Println("\nForce shutdown - exiting immediately")
		os.Exit(1)
		return nil
	}
}

// startPipeline opens the database and starts every component. On error
// whatever was started is stopped again.
func startPipeline(parent context.Context, cfg *am.Config, dbPath string, log *zap.SugaredLogger) (_ *service, err error) {
	ctx, cancel := context.WithCancel(parent)
	rt := &service{cancel: cancel, log: log}
	defer func() {
		if err != nil {
			_ = rt.stop()
		}
	}()

	rt.database, err = openDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	store, err := newSourceStore(cfg, rt.database, log)
	if err != nil {
		return nil, err
	}
	rt.cache = sourcecfg.NewCache(store, sourcecfg.CacheOptions{
		TTL:     cfg.Sources.CacheTTL(),
		Logger:  log,
		Metrics: m,
	})
	if err := rt.cache.Refresh(ctx); err != nil {
		// Lookups retry the load; intake still starts
		log.Warnw("Initial source config load failed", logger.FieldError, err)
	}
	if dir, ok := store.(*sourcecfg.DirStore); ok && cfg.Sources.Watch {
		if err := dir.Watch(ctx, rt.cache.Invalidate); err != nil {
			return nil, errors.Wrap(err, "failed to watch source config directory")
		}
	}

	processor, err := newProcessor(cfg, log)
	if err != nil {
		return nil, err
	}
	linker := linkage.NewValidator(linkage.SQLRepositories(rt.database), m, log)
	docs := docstore.NewStore(rt.database, m, log)

	queue := async.NewQueue(rt.database)
	gate := ingest.NewGate(queue, cfg.Pulse.MaxAttempts, m, log)
	adapter := ingest.NewAdapter(rt.cache, gate, ingest.SQLResolvers(rt.database), m, log)
	pipeline := ingest.NewPipeline(rt.cache, processor, linker, docs, ingest.PipelineConfig{
		AttemptTimeout: cfg.Pulse.ProcessingTimeout(),
	}, log)

	router := async.NewRetryRouter(queue, async.RetryPolicy{
		MaxAttempts: cfg.Pulse.MaxAttempts,
		BackoffBase: time.Duration(cfg.Pulse.BackoffBaseSeconds) * time.Second,
		BackoffMax:  time.Duration(cfg.Pulse.BackoffMaxSeconds) * time.Second,
	}, m, log)

	rt.pool = async.NewWorkerPool(ctx, queue, pipeline, router, async.WorkerPoolConfig{
		Workers:          cfg.Pulse.Workers,
		PollInterval:     cfg.Pulse.PollInterval(),
		MaxMemoryPercent: float64(cfg.Pulse.MaxMemoryPercent),
	}, m, log)
	rt.pool.Start()

	if cfg.Pulse.TickerIntervalSeconds > 0 {
		rt.reaper = async.NewReaper(queue, router, cfg.Pulse.ReaperTimeout(),
			time.Duration(cfg.Pulse.TickerIntervalSeconds)*time.Second, log)
		rt.reaper.Start(ctx)
	}

	rt.ticker = schedule.NewTicker(ctx, rt.cache, adapter, queue, rt.pool, schedule.DefaultTickerConfig(), log)
	rt.ticker.Start()

	rt.srv = server.New(server.Options{
		Queue:          queue,
		Adapter:        adapter,
		Documents:      docs,
		Sources:        rt.cache,
		WorkerPool:     rt.pool,
		Gatherer:       prometheus.DefaultGatherer,
		AllowedOrigins: cfg.GetServerAllowedOrigins(),
		Logger:         log,
	})
	if err := rt.srv.Start(cfg.GetServerPort()); err != nil {
		return nil, errors.Wrap(err, "server failed to start")
	}

	if path := am.FindProjectConfig(); path != "" {
		rt.watcher, err = am.NewConfigWatcher(path, log.Named("config"))
		if err != nil {
			log.Warnw("Config file watching disabled", logger.FieldPath, path, logger.FieldError, err)
			err = nil
		} else {
			rt.watcher.OnReload(func(next *am.Config) error {
				// Only the source cache is hot-reloadable; everything else needs a restart
				if next.Sources.Store != cfg.Sources.Store || next.Sources.Dir != cfg.Sources.Dir {
					log.Warnw("Source store settings changed, restart to apply",
						"store", next.Sources.Store, "dir", next.Sources.Dir)
				}
				rt.cache.Invalidate()
				return nil
			})
			rt.watcher.Start()
		}
	}

	logger.AddPulseOpenSymbol(log).Infow("croplink running",
		"port", cfg.GetServerPort(),
		"workers", cfg.Pulse.Workers,
		"sources", len(rt.cache.Sources(ctx)),
	)
	return rt, nil
}

// newProcessor builds the content processor from the landing, pull and
// agent settings.
func newProcessor(cfg *am.Config, log *zap.SugaredLogger) (*content.Processor, error) {
	pullTimeout := time.Duration(cfg.Pull.TimeoutSeconds) * time.Second
	client := httpclient.New(httpclient.Options{
		Timeout:           pullTimeout,
		AllowPrivateHosts: cfg.Pull.AllowPrivateHosts,
	})

	landing, err := content.NewGetterFetcher(cfg.Landing.RootURI, client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to configure landing store access")
	}
	pull := content.NewPullFetcher(client, budget.NewLimiter(cfg.Pull.RequestsPerMinute, cfg.Pull.Burst))

	var extractor content.Agent
	if cfg.Agent.BaseURL != "" {
		extractor = agent.NewClient(agent.Config{
			BaseURL: cfg.Agent.BaseURL,
			APIKey:  cfg.Agent.APIKey,
			Model:   cfg.Agent.Model,
			Timeout: time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
			Logger:  log,
		})
	}

	return content.NewProcessor(landing, pull, extractor, content.NewSchemaValidator(cfg.Sources.SchemaDir), log), nil
}

// stop shuts components down intake first, so no new work arrives while
// workers drain. Safe to call on a partially started runtime.
func (rt *service) stop() error {
	var errs []error
	if rt.watcher != nil {
		if err := rt.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.srv != nil {
		if err := rt.srv.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.ticker != nil {
		rt.ticker.Stop()
	}
	if rt.reaper != nil {
		rt.reaper.Stop()
	}
	if rt.pool != nil {
		rt.pool.Stop()
	}
	rt.cancel()
	if rt.database != nil {
		if err := rt.database.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close database"))
		}
	}
	logger.AddPulseCloseSymbol(rt.log).Infow("croplink stopped")
	return errors.Join(errs...)
}

// printStartupBanner prints the startup summary
func printStartupBanner(cfg *am.Config, dbPath string) {
	info := version.Get()

	pterm.DefaultSection.Println("croplink")
	pterm.Printf("Version:   %s (commit %s)\n", info.Version, info.Short())
	pterm.Printf("Database:  %s\n", dbPath)
	pterm.Printf("Port:      %d\n", cfg.GetServerPort())
	pterm.Printf("Workers:   %d\n", cfg.Pulse.Workers)
	pterm.Printf("Sources:   %s", cfg.Sources.Store)
	if cfg.Sources.Store == "dir" {
		pterm.Printf(" (%s)", cfg.Sources.Dir)
	}
	pterm.Println()
	pterm.Printf("Landing:   %s\n", cfg.Landing.RootURI)
	fmt.Println()
}
