package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voxleads/chimera/internal/api"
	artifactgcs "github.com/voxleads/chimera/internal/artifact/gcs"
	artifactmem "github.com/voxleads/chimera/internal/artifact/memory"
	"github.com/voxleads/chimera/internal/blueprint"
	"github.com/voxleads/chimera/internal/browser"
	sysclock "github.com/voxleads/chimera/internal/clock/system"
	"github.com/voxleads/chimera/internal/config"
	"github.com/voxleads/chimera/internal/dispatcher"
	uuidgen "github.com/voxleads/chimera/internal/id/uuid"
	"github.com/voxleads/chimera/internal/logging"
	"github.com/voxleads/chimera/internal/mission"
	"github.com/voxleads/chimera/internal/provider"
	pubmem "github.com/voxleads/chimera/internal/publisher/memory"
	pubgcp "github.com/voxleads/chimera/internal/publisher/pubsub"
	queuemem "github.com/voxleads/chimera/internal/queue/memory"
	"github.com/voxleads/chimera/internal/queue/redisq"
	"github.com/voxleads/chimera/internal/status"
	"github.com/voxleads/chimera/internal/stealth"
	"github.com/voxleads/chimera/internal/telemetry"
	"github.com/voxleads/chimera/internal/telemetry/sinks"
	"github.com/voxleads/chimera/internal/vision"
	"github.com/voxleads/chimera/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane and worker pool",
		Long: `Starts the HTTP control plane and the stealth worker pool. The trust
gate runs before any worker accepts traffic; a failing gate aborts startup.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := sysclock.New()
	ids := uuidgen.New()

	// Queue and status store share the backend choice: redis for anything
	// multi-process, memory for single-binary development.
	var (
		q  mission.Queue
		st mission.StatusStore
	)
	switch cfg.Queue.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		rq := redisq.New(rdb, cfg.ResultTTL())
		if err := rq.Ping(ctx); err != nil {
			return err
		}
		q = rq
		st = status.NewRedisStore(rdb, clock)
	default:
		mq := queuemem.NewQueue(cfg.Queue.Capacity, cfg.ResultTTL())
		defer mq.Close()
		q = mq
		st = status.NewMemoryStore(clock)
	}

	var bps mission.BlueprintStore
	switch cfg.Blueprints.Backend {
	case "postgres":
		ps, err := blueprint.NewPostgresStore(ctx, blueprint.PostgresConfig{
			DSN:      cfg.Blueprints.DSN,
			MaxConns: cfg.Blueprints.MaxConns,
		}, clock)
		if err != nil {
			return err
		}
		defer ps.Close()
		bps = ps
	default:
		bps = blueprint.NewMemoryStore(clock)
	}
	if cfg.Blueprints.SeedFile != "" {
		seeds, err := blueprint.LoadSeedFile(cfg.Blueprints.SeedFile)
		if err != nil {
			return err
		}
		if err := blueprint.Seed(ctx, bps, seeds, logger); err != nil {
			return err
		}
	}

	pool := stealth.NewPool(stealth.PoolConfig{
		ProxyURLs: cfg.Stealth.ProxyURLs,
		StickyTTL: cfg.StickyTTL(),
	}, clock, logger)
	chrome := browser.NewChrome(browser.Config{
		MaxSessions:       cfg.Browser.MaxSessions,
		NavigationTimeout: cfg.NavTimeout(),
		Headful:           cfg.Browser.Headful,
	}, logger)

	// The gate runs before anything accepts traffic: dispatching missions
	// through a detectable profile burns identities and poisons providers.
	if cfg.Gate.Enabled {
		gate := stealth.NewGate(stealth.GateConfig{
			ScoreURL:    cfg.Gate.ScoreURL,
			TargetScore: cfg.Gate.TargetScore,
			SettleDelay: cfg.GateSettleDelay(),
			Timeout:     cfg.GateTimeout(),
		}, pool, chrome, logger)
		score, err := gate.Validate(ctx)
		if err != nil {
			return err
		}
		logger.Info("trust gate passed", zap.Float64("score", score))
	}

	oracle, err := vision.NewClient(vision.Config{
		BaseURL:    cfg.Vision.BaseURL,
		RPCTimeout: cfg.VisionRPCTimeout(),
	}, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	hub := telemetry.NewHub(telemetry.Config{
		BufferSize:     cfg.Telemetry.BufferSize,
		MaxBatchEvents: cfg.Telemetry.MaxBatchEvents,
		MaxBatchWait:   cfg.MaxBatchWait(),
		Logger:         logger,
	}, sinks.NewLogSink(logger), sinks.NewStatusSink(st, logger), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("telemetry hub close", zap.Error(err))
		}
	}()

	var artifacts mission.ArtifactStore
	if cfg.Storage.GCSBucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		defer func() { _ = gcsClient.Close() }()
		artifacts, err = artifactgcs.New(gcsClient, artifactgcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return err
		}
	} else {
		artifacts = artifactmem.New()
	}

	var pub mission.Publisher
	if cfg.PubSub.ProjectID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		gcpPub, err := pubgcp.New(psClient)
		if err != nil {
			return err
		}
		defer gcpPub.Close()
		pub = gcpPub
	} else {
		pub = pubmem.New()
	}

	resultTopic := cfg.Worker.ResultTopic
	if cfg.PubSub.TopicName != "" {
		resultTopic = cfg.PubSub.TopicName
	}

	registry := provider.NewRegistry(cfg.Providers.QPS)

	workerPool := dispatcher.NewPool(cfg.Worker.Count, func(workerID string) *worker.Worker {
		resolver := worker.NewResolver(bps, oracle, hub, clock, cfg.Vision.ConfidenceThreshold, logger)
		return worker.New(worker.Config{
			WorkerID:       workerID,
			DequeueWait:    cfg.DequeueWait(),
			MaxAttempts:    cfg.Worker.MaxAttempts,
			VisionFallback: cfg.Worker.VisionFallback,
			ResultTopic:    resultTopic,
		}, worker.Deps{
			Queue:      q,
			Providers:  registry,
			Identities: pool,
			Browser:    chrome,
			Resolver:   resolver,
			Blueprints: bps,
			Hub:        hub,
			Artifacts:  artifacts,
			Publisher:  pub,
			Clock:      clock,
			Logger:     logger,
		})
	}, logger)

	d := dispatcher.New(dispatcher.Config{
		AwaitTimeout: cfg.AwaitTimeout(),
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}, q, st, ids, clock, logger)

	apiCfg := api.Config{RequestTimeout: cfg.ServerTimeout()}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	srv := api.NewServer(apiCfg, d, st, bps, q, reg, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workerPool.Run(ctx) })
	g.Go(func() error {
		logger.Info("control plane listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("chimerad stopped")
	return nil
}
