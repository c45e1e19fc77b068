package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tunebridge/internal/config"
	"tunebridge/internal/health"
	"tunebridge/internal/logging"
	"tunebridge/internal/metrics"
)

// Version of the application
var Version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	m := metrics.InitializeMetrics()

	app := fiber.New(fiber.Config{
		ServerHeader: "TuneBridge",
		AppName:      "TuneBridge v" + Version,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	checker := health.NewChecker(db, rdb, m)
	checker.RegisterRoutes(app)
	app.Get("/metrics", metrics.Handler())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("shutting down gracefully")
		if err := app.Shutdown(); err != nil {
			logger.Zerolog().Error().Err(err).Msg("error during shutdown")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Zerolog().Info().Str("addr", addr).Msg("starting ops server")
	if err := app.Listen(addr); err != nil {
		logger.Zerolog().Error().Err(err).Msg("server stopped")
	}
}
