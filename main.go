package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adscan-pipeline/browser"
	"adscan-pipeline/classifier"
	"adscan-pipeline/config"
	"adscan-pipeline/database"
	"adscan-pipeline/detector"
	"adscan-pipeline/gemini"
	"adscan-pipeline/handlers"
	"adscan-pipeline/llm"
	"adscan-pipeline/metrics"
	"adscan-pipeline/rabbitmq"
	"adscan-pipeline/service"
	"adscan-pipeline/services"
	"adscan-pipeline/stubllm"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var scanURL = flag.String("scan", "", "Scan a single URL, print the JSON result and exit.")

func main() {
	flag.Parse()

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Failed to load .env file: %v", err)
	}

	// Load configuration
	cfg := config.Load()
	setupLogging(cfg)

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	metrics.Register()

	launcher, err := browser.NewLauncher(cfg.BrowserOptions())
	if err != nil {
		log.Fatalf("Failed to configure browser: %v", err)
	}

	client := newLLMClient(cfg)
	brandService := services.NewBrandService()
	cls := classifier.New(client, brandService, cfg.MaxImageDimension)

	var (
		reporters []service.Reporter
		store     handlers.ReportStore
		closers   []io.Closer
	)

	if cfg.SinkEnabled(config.SinkMySQL) {
		db, err := database.NewDatabase(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		closers = append(closers, db)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.CreateAdSlotReportsTable(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to create ad_slot_reports table: %v", err)
		}
		reporters = append(reporters, db)
		store = db
	}

	if cfg.SinkEnabled(config.SinkRabbitMQ) {
		publisher, err := rabbitmq.NewPublisherFromConfig(cfg.RabbitMQ)
		if err != nil {
			// Continue without publisher - scans still work
			log.Errorf("Failed to initialize RabbitMQ publisher: %v", err)
		} else {
			closers = append(closers, publisher)
			reporters = append(reporters, publisher)
		}
	}

	scanner := service.NewScanner(
		service.BrowserLauncher{Launcher: launcher},
		detector.New(cfg.MaxAdSlots),
		cls,
		cfg.ScanTimeout,
		reporters...,
	)

	if *scanURL != "" {
		code := runOnce(scanner, *scanURL)
		closeAll(closers)
		os.Exit(code)
	}

	// Setup HTTP server
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.NewHandlers(scanner, store, cfg.GeminiAPIKey).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start HTTP server in a goroutine
	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// In-flight scans may take up to SCAN_TIMEOUT
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ScanTimeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	closeAll(closers)

	log.Info("Server exited")
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			log.Warnf("Failed to close sink: %v", err)
		}
	}
}

func setupLogging(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.SetHandler(jsonhandler.New(os.Stderr))
	} else {
		log.SetHandler(text.New(os.Stderr))
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func newLLMClient(cfg *config.Config) llm.Client {
	var client llm.Client
	model := ""
	switch cfg.LLMProvider {
	case config.ProviderStub:
		client = stubllm.NewClient()
	default:
		g := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)
		client = g
		model = g.Model()
	}
	log.Infof("Classifier LLM provider=%s model=%s", client.SourceName(), model)
	return client
}

func runOnce(scanner *service.Scanner, rawURL string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ads, err := scanner.Scan(ctx, rawURL)
	if err != nil {
		log.Errorf("Scan failed: %v", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(handlers.ScanResponse{Ads: ads}); err != nil {
		log.Errorf("Failed to write result: %v", err)
		return 1
	}
	return 0
}
