package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tunebridge/internal/catalog"
	"tunebridge/internal/config"
	"tunebridge/internal/jobs"
	"tunebridge/internal/logging"
	"tunebridge/internal/metadata"
	"tunebridge/internal/metrics"
	"tunebridge/internal/models"
	"tunebridge/internal/resolver"
	"tunebridge/internal/services"
)

// WorkerServer handles background job processing
type WorkerServer struct {
	srv       *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	client    *asynq.Client
	db        *gorm.DB
	config    *config.AppConfig
	log       *logging.Logger
}

// NewWorkerServer creates a new worker server
func NewWorkerServer() (*WorkerServer, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)

	if cfg.Crypto.SecretsKey != "" {
		key, err := hex.DecodeString(cfg.Crypto.SecretsKey)
		if err != nil {
			return nil, fmt.Errorf("secrets key is not valid hex: %w", err)
		}
		if err := models.SetSecretsKey(key); err != nil {
			return nil, fmt.Errorf("failed to install secrets key: %w", err)
		}
	} else {
		logger.Warn("no secrets key configured, connection tokens stored in plaintext")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	m := metrics.InitializeMetrics()
	repo := services.NewRepository(db)

	// The refresher only uses the token endpoint; no access token needed.
	refresher := catalog.NewClient("")
	tokens := services.NewTokenService(repo, refresher, cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, logger)

	verifier := metadata.NewVerifier(logger,
		metadata.NewMusicBrainzClient(cfg.MusicBrainz.UserAgent),
		metadata.NewDiscogsClient(cfg.Discogs.Token, cfg.MusicBrainz.UserAgent),
	).WithMetrics(m)

	syncSvc := jobs.NewSyncService(
		repo,
		tokens,
		func(accessToken, market string) jobs.Catalog {
			return catalog.NewClient(accessToken, catalog.WithMarket(market))
		},
		rdb,
		cfg.Sync.LockTimeout,
		cfg.Sync.Staleness,
		logger,
		m,
	)
	syncSvc.SetResolverFactory(func(cat jobs.Catalog) jobs.TrackResolver {
		return resolver.New(cat, logger,
			resolver.WithVerifier(verifier),
			resolver.WithMetrics(m))
	})

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Sync.Concurrency,
		Queues: map[string]int{
			jobs.QueueSync:        6, // playlist sync and build runs
			jobs.QueueMaintenance: 1, // dispatch fan-out, purge
		},
	})

	client := asynq.NewClient(redisOpt)

	mux := asynq.NewServeMux()
	syncSvc.RegisterHandlers(mux, client)

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if err := jobs.RegisterPeriodicTasks(scheduler, cfg.Sync.DispatchInterval); err != nil {
		return nil, fmt.Errorf("failed to register periodic tasks: %w", err)
	}

	return &WorkerServer{
		srv:       srv,
		mux:       mux,
		scheduler: scheduler,
		client:    client,
		db:        db,
		config:    cfg,
		log:       logger,
	}, nil
}

// Start starts the scheduler and the worker server
func (w *WorkerServer) Start() error {
	w.log.Info("starting worker server")

	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if err := w.srv.Run(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the worker server
func (w *WorkerServer) Shutdown() {
	w.log.Info("shutting down worker server")
	w.scheduler.Shutdown()
	w.srv.Shutdown()
	if err := w.client.Close(); err != nil {
		w.log.Zerolog().Error().Err(err).Msg("failed to close task client")
	}
}

// Main entry point for the worker service
func main() {
	worker, err := NewWorkerServer()
	if err != nil {
		log.Fatal("Failed to create worker server:", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	go func() {
		if err := worker.Start(); err != nil {
			log.Fatal("Worker server error:", err)
		}
	}()

	<-sigCh
	worker.Shutdown()
}
