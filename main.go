package main

import (
	"context"
	"log"
	"os"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"boardflow/authz"
	"boardflow/config"
	"boardflow/fanout"
	"boardflow/middleware"
	"boardflow/ordering"
	"boardflow/realtime"
	"boardflow/routes"
	"boardflow/store"
	"boardflow/utils"
	"boardflow/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "BOARDFLOW: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry init failed: %v", err)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Structured logger for the realtime path
	rtLog := logrus.New()
	rtLog.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
	})

	// Core components, constructor-injected and built once
	st := store.NewGormStore(config.DB)
	authzEngine := authz.NewEngine(st)
	orderingEngine := ordering.NewEngine(st)
	broker := fanout.NewRedisBroker(config.AppConfig.Redis)
	fanoutEngine := fanout.NewEngine(st, broker, rtLog)
	registry := realtime.NewRegistry(utils.NewCredentialVerifier(config.DB), rtLog)

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Start the pub/sub subscriber so this process delivers events to
	// the connections it holds
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eventWorker := worker.NewEventWorker(broker, registry, rtLog)
	go eventWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, routes.Deps{
		DB:       config.DB,
		Store:    st,
		Authz:    authzEngine,
		Ordering: orderingEngine,
		Fanout:   fanoutEngine,
		Registry: registry,
	})

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "running",
			"version":     "1.0.0",
			"connections": registry.LocalConnections(),
		})
	})

	// Start server
	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
