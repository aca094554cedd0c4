package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/audioscore/api/internal/client"
	"github.com/audioscore/api/internal/config"
	"github.com/audioscore/api/internal/handler"
	"github.com/audioscore/api/internal/ledger"
	"github.com/audioscore/api/internal/middleware"
	"github.com/audioscore/api/internal/service"
	"github.com/audioscore/api/internal/stage"
	"github.com/audioscore/api/internal/worker"
	ws "github.com/audioscore/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize progress ledger
	progressLedger, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		log.Fatalf("Failed to open progress ledger: %v", err)
	}
	defer progressLedger.Close()

	// Initialize artifact store
	store, err := client.NewS3Store(&cfg.S3)
	if err != nil {
		log.Fatalf("Failed to initialize artifact store: %v", err)
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize services
	taskTimeout := time.Duration(cfg.Worker.TaskTimeout) * time.Minute
	transcribeService := service.NewTranscribeService(asynqClient, progressLedger, hub, taskTimeout)

	// Initialize handlers
	transcribeHandler := handler.NewTranscribeHandler(transcribeService, validate)
	artifactHandler := handler.NewArtifactHandler(store, validate)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API routes
	api := app.Group("/api")

	api.Post("/transcribe", rateLimiter.TranscribeLimit(cfg.RateLimit.TranscribePerHour), transcribeHandler.Start)
	api.Get("/jobs/:userId", transcribeHandler.ListJobs)
	api.Get("/jobs/:userId/:jobId", transcribeHandler.GetJob)

	api.Post("/upload/presign", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), artifactHandler.PresignUpload)
	api.Get("/artifacts/presign", artifactHandler.PresignDownload)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, store, progressLedger, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, store client.ArtifactStore, progressLedger ledger.ProgressLedger, hub *ws.Hub) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				"transcribe": 10,
			},
		},
	)

	runner := stage.NewExecRunner(&cfg.Stage)
	transcribeWorker := worker.NewTranscribeWorker(store, progressLedger, hub, runner, cfg.Stage.WorkDir)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTranscribe, transcribeWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
