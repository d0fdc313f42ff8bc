package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/xcord/hub/pkg/api"
	"github.com/xcord/hub/pkg/config"
	"github.com/xcord/hub/pkg/configgen"
	"github.com/xcord/hub/pkg/destroy"
	"github.com/xcord/hub/pkg/drivers"
	"github.com/xcord/hub/pkg/drivers/caddy"
	"github.com/xcord/hub/pkg/drivers/docker"
	"github.com/xcord/hub/pkg/drivers/minio"
	"github.com/xcord/hub/pkg/drivers/notify"
	"github.com/xcord/hub/pkg/drivers/route53"
	"github.com/xcord/hub/pkg/events"
	"github.com/xcord/hub/pkg/federation"
	"github.com/xcord/hub/pkg/health"
	"github.com/xcord/hub/pkg/ids"
	"github.com/xcord/hub/pkg/lifecycle"
	"github.com/xcord/hub/pkg/log"
	"github.com/xcord/hub/pkg/pipeline"
	"github.com/xcord/hub/pkg/provision"
	"github.com/xcord/hub/pkg/queue"
	"github.com/xcord/hub/pkg/reconciler"
	"github.com/xcord/hub/pkg/security"
	"github.com/xcord/hub/pkg/storage"
	"github.com/xcord/hub/pkg/tier"
	"github.com/xcord/hub/pkg/worker"
)

// Boot gate tuning. Compose-style deployments regularly start the hub
// before postgres, the engine, or the proxy answer; each dependency
// gets up to a minute to come up before boot fails.
const (
	bootAttempts = 30
	bootDelay    = 2 * time.Second

	shutdownTimeout = 15 * time.Second
	recorderBuffer  = 256

	// Instances serve their internal admin API on plain HTTP inside the
	// shared network.
	instanceAdminPort = 80
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the hub orchestrator daemon",
	Long: `Start the orchestrator: wait for dependencies, apply schema
migrations, then serve the ops API while the worker drains the
pipeline queues and the reconciler sweeps running instances for
drift.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("hubd")
	logger.Info().Str("version", Version).Int64("worker_id", cfg.WorkerID).Msg("hub starting")

	if err := ids.Init(cfg.WorkerID); err != nil {
		return fmt.Errorf("initializing ID generator: %w", err)
	}

	fs := afero.NewOsFs()
	kek, err := config.LoadKEK(fs, cfg.KEKFile)
	if err != nil {
		return fmt.Errorf("loading KEK: %w", err)
	}
	wrapper, err := security.NewKeyWrapper(kek)
	if err != nil {
		return fmt.Errorf("initializing key wrapper: %w", err)
	}
	catalog, err := tier.Load(fs, cfg.TierCatalogFile)
	if err != nil {
		return fmt.Errorf("loading tier catalog: %w", err)
	}

	ctx := cmd.Context()

	// Driver construction is offline; every client dials lazily. The
	// boot gate below is what proves the endpoints answer.
	engine, err := docker.New(cfg.Engine.Endpoint, docker.Options{
		SharedNetwork: cfg.Engine.SharedNetwork,
		Image:         cfg.Engine.InstanceImage,
		ConfigFile:    path.Base(configgen.MountPath),
	})
	if err != nil {
		return fmt.Errorf("building engine driver: %w", err)
	}
	defer engine.Close()

	dnsProvider, err := route53.New(ctx, cfg.DNS.ZoneID, cfg.BaseDomain)
	if err != nil {
		return fmt.Errorf("building dns driver: %w", err)
	}
	proxy, err := caddy.New(cfg.Proxy.AdminURL, cfg.Proxy.Server)
	if err != nil {
		return fmt.Errorf("building proxy driver: %w", err)
	}
	objects, err := minio.New(ctx, minio.Options{
		Endpoint:     cfg.ObjectStore.Endpoint,
		AdminURL:     cfg.ObjectStore.AdminURL,
		RootUser:     cfg.ObjectStore.RootUser,
		RootPassword: cfg.ObjectStore.RootPassword,
		UseSSL:       cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("building object store driver: %w", err)
	}

	drv := drivers.Set{
		Engine:   engine,
		DNS:      dnsProvider,
		Proxy:    proxy,
		Store:    objects,
		Notifier: notify.New(instanceAdminPort),
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	// The store and maintenance pools connect inside the gate so a
	// late-starting postgres delays boot instead of failing it.
	var (
		store *storage.PostgresStore
		maint *storage.Maintenance
	)
	bootCheckers := []health.Checker{
		health.NewFunc("database", func(ctx context.Context) error {
			if store != nil {
				return nil
			}
			s, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			store = s
			return nil
		}),
		health.NewFunc("maintenance", func(ctx context.Context) error {
			if maint != nil {
				return nil
			}
			m, err := storage.NewMaintenance(ctx, cfg.Database.MaintenanceURL)
			if err != nil {
				return err
			}
			maint = m
			return nil
		}),
		health.NewRedis(rdb),
		health.NewFunc("engine", engine.Ping),
		health.NewFunc("proxy", proxy.Ping),
		health.NewFunc("objectstore", objects.Ping),
		health.NewFunc("dns", dnsProvider.Ping),
	}
	if err := health.Wait(ctx, bootAttempts, bootDelay, bootCheckers...); err != nil {
		return fmt.Errorf("dependencies not ready: %w", err)
	}
	defer store.Close()
	defer maint.Close()
	logger.Info().Msg("all dependencies ready")

	if err := storage.RunMigrations(ctx, store.DB().DB); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	recorder := events.NewRecorder(broker, recorderBuffer)
	recorder.Start()
	defer recorder.Stop()

	q := queue.New(store)
	renderer := configgen.NewRenderer(cfg, catalog, store)
	exec := pipeline.NewExecutor(store)
	pipelines := worker.Pipelines{
		Provision: provision.New(provision.Deps{
			Store:    store,
			Drivers:  drv,
			Cfg:      cfg,
			Catalog:  catalog,
			Renderer: renderer,
			Wrapper:  wrapper,
			Maint:    maint,
		}),
		Destroy: destroy.New(destroy.Deps{Store: store, Drivers: drv, Cfg: cfg}),
		Suspend: lifecycle.NewSuspend(lifecycle.Deps{Store: store, Drivers: drv}),
		Resume:  lifecycle.NewResume(lifecycle.Deps{Store: store, Drivers: drv}),
	}

	poll, err := time.ParseDuration(cfg.Worker.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid worker poll interval %q: %w", cfg.Worker.PollInterval, err)
	}
	w := worker.New(q, exec, pipelines, broker, worker.Config{
		PollInterval: poll,
		Concurrency:  cfg.Worker.Concurrency,
	})
	w.Start()

	var rec *reconciler.Reconciler
	if cfg.Reconciler.Enabled {
		rec = reconciler.New(reconciler.Deps{
			Store:     store,
			Drivers:   drv,
			Queue:     q,
			Executor:  exec,
			Provision: pipelines.Provision,
			Broker:    broker,
		}, reconciler.Config{
			Schedule:  cfg.Reconciler.Schedule,
			SelfHeal:  cfg.Reconciler.SelfHeal,
			Resolver:  cfg.DNS.Resolver,
			GatewayIP: cfg.DNS.GatewayIP,
		})
		if err := rec.Start(); err != nil {
			w.Stop()
			return fmt.Errorf("starting reconciler: %w", err)
		}
	}

	readiness := health.NewRegistry(
		health.NewDatabase(store.DB()),
		health.NewRedis(rdb),
		health.NewFunc("engine", engine.Ping),
		health.NewFunc("proxy", proxy.Ping),
		health.NewFunc("objectstore", objects.Ping),
		health.NewFunc("dns", dnsProvider.Ping),
	)
	srv := api.New(cfg.API.ListenAddr, api.Deps{
		Store:      store,
		Queue:      q,
		Broker:     broker,
		Recorder:   recorder,
		Readiness:  readiness,
		Federation: federation.NewService(store),
		Version:    Version,
	})
	if err := srv.Start(); err != nil {
		if rec != nil {
			rec.Stop()
		}
		w.Stop()
		return fmt.Errorf("starting ops API: %w", err)
	}

	logger.Info().Msg("hub running")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	// Stop intake first, then the loops. Worker shutdown aborts
	// in-flight pipelines crash-equivalently; still-queued rows are
	// redelivered on the next start.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("ops API shutdown incomplete")
	}
	if rec != nil {
		rec.Stop()
	}
	w.Stop()

	logger.Info().Msg("shutdown complete")
	return nil
}
