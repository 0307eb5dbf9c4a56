package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/Jenks18/kara-sub001/internal/config"
	"github.com/Jenks18/kara-sub001/internal/database"
	"github.com/Jenks18/kara-sub001/internal/handlers"
	"github.com/Jenks18/kara-sub001/internal/middleware"
	"github.com/Jenks18/kara-sub001/internal/pipeline"
	"github.com/Jenks18/kara-sub001/internal/services"
)

func main() {
	// Load .env file if it exists
	godotenv.Load()

	cfg := config.Load()
	if cfg.IsProduction() && cfg.JWTSecret == "change-me-in-production-please" {
		log.Fatal("JWT_SECRET must be set in production")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store directory: loaded once at boot, refreshed in the background.
	// The pipeline must not start with an empty directory, so the first
	// load is fatal.
	directory := services.NewDirectory(db)
	if err := directory.Refresh(ctx); err != nil {
		log.Fatalf("Failed to load store directory: %v", err)
	}
	directory.Start(ctx, cfg.DirectoryRefresh)

	// Object storage for uploaded receipt images. Optional: without it the
	// API still accepts URL-referenced receipts.
	var storage *services.StorageService
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		storage, err = services.NewStorageService(
			cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey,
			cfg.S3Bucket, cfg.S3Region, cfg.S3UseSSL,
		)
		if err != nil {
			log.Fatalf("Failed to initialize storage service: %v", err)
		}
		if err := storage.EnsureBucket(ctx); err != nil {
			log.Printf("Warning: Failed to ensure bucket exists: %v", err)
		}
	} else {
		log.Println("S3 credentials not configured, image uploads disabled")
	}

	// OCR is optional too: a missing tesseract install degrades to the
	// QR/portal strategy only.
	var ocr services.TextReader
	ocrService, err := services.NewOCRService()
	if err != nil {
		log.Printf("Warning: OCR unavailable, running QR-only: %v", err)
		ocr = services.NoOCR{}
	} else {
		defer ocrService.Close()
		ocr = ocrService
	}

	portalClient := services.NewRetryingClient(cfg.PortalTimeout, cfg.PortalMaxRetries, cfg.PortalUserAgent)
	portal := services.NewPortalVerifier(portalClient)
	qr := services.NewQRScanner(portal, cfg.PortalHosts)
	resolver := services.NewStoreResolver(directory)
	extractor := services.NewTemplateExtractor(directory)
	fetcher := services.NewImageFetcher(storage, portalClient)

	orchestrator := pipeline.NewOrchestrator(
		db, db, db, fetcher, qr, ocr, resolver, extractor,
		pipeline.Config{
			BranchTimeout:      cfg.BranchTimeout,
			OCRTimeout:         cfg.OCRTimeout,
			ScanStaleAfter:     cfg.ScanStaleAfter,
			AmountTolerancePct: cfg.AmountTolerancePct,
		},
	)
	pool := pipeline.NewWorkerPool(orchestrator, db, cfg.WorkerCount, cfg.QueueSize, cfg.RequeueInterval, cfg.ScanStaleAfter)
	pool.Start(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler:      handlers.ErrorHandler,
		BodyLimit:         int(cfg.MaxUploadBytes) + 1024*1024,
		EnablePrintRoutes: cfg.IsDevelopment(),
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	receiptHandler := handlers.NewReceiptHandler(db, cfg, storage, pool)
	storeHandler := handlers.NewStoreHandler(directory)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Receipt routes (authenticated)
	receipts := api.Group("/receipts", middleware.AuthRequired(cfg))
	receipts.Post("/", receiptHandler.SubmitReceipt)
	receipts.Get("/", receiptHandler.ListReceipts)
	receipts.Get("/:id", receiptHandler.GetReceipt)
	receipts.Get("/:id/result", receiptHandler.GetReceiptResult)
	receipts.Get("/:id/log", receiptHandler.GetReceiptLog)
	receipts.Get("/:id/image", receiptHandler.GetReceiptImage)

	// Store directory routes (public read, attributed when a token is sent)
	stores := api.Group("/stores", middleware.AuthOptional(cfg))
	stores.Get("/", storeHandler.ListStores)
	stores.Get("/:id", storeHandler.GetStore)

	log.Printf("Server starting on port %s", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}
