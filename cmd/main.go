package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/gopayments/payflow/handler"
	"github.com/gopayments/payflow/infra/config"
	"github.com/gopayments/payflow/infra/logger"
	"github.com/gopayments/payflow/infra/middle"
	"github.com/gopayments/payflow/infra/opensearch"
	"github.com/gopayments/payflow/infra/response"
	"github.com/gopayments/payflow/infra/store"
	"github.com/gopayments/payflow/provider"
	"github.com/gopayments/payflow/router"
)

func main() {
	// Load Env
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg := config.LoadAppConfig()

	// Audit event logging is optional; the console logger always runs.
	var eventLogger *opensearch.Logger
	if cfg.EnableLogging {
		osClient, err := opensearch.NewClient(cfg)
		if err != nil {
			log.Printf("Failed to initialize OpenSearch client: %v", err)
			log.Println("Continuing without OpenSearch logging...")
		} else {
			eventLogger = opensearch.NewLogger(osClient)
			log.Println("OpenSearch logging initialized successfully")
		}
	}
	logger.InitGlobalLogger(eventLogger)

	// Driver registry: a drivers file when configured, the built-in
	// table otherwise. Either way it is immutable from here on.
	var registry *config.Registry
	var err error
	if cfg.DriversFile != "" {
		registry, err = config.LoadRegistryFile(cfg.DriversFile)
	} else {
		registry, err = config.NewRegistry(config.DefaultDrivers(), cfg.DefaultDriver)
	}
	if err != nil {
		log.Fatalf("Failed to build driver registry: %v", err)
	}
	log.Printf("Configured payment drivers: %v", registry.DriverNames())

	defaultDriver := registry.DefaultDriver()
	if defaultDriver == "" {
		defaultDriver = cfg.DefaultDriver
	}

	transactions, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open transaction store: %v", err)
	}
	defer transactions.Close()

	// Webhook dedupe is optional; reconciliation is idempotent without it.
	var dedupe *provider.DeliveryCache
	if cfg.RedisAddr != "" {
		dedupe, err = provider.NewDeliveryCache(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Printf("Failed to connect to Redis: %v", err)
			log.Println("Continuing without webhook delivery deduplication...")
		} else {
			defer dedupe.Close()
			log.Println("Webhook delivery deduplication enabled")
		}
	}

	dispatcher := provider.NewDispatcher(registry)
	paymentService := provider.NewService(registry, dispatcher, transactions, defaultDriver)
	callbackReconciler := provider.NewCallbackReconciler(transactions, provider.CallbackURLs{
		Success: cfg.CallbackSuccessURL,
		Error:   cfg.CallbackErrorURL,
		Cancel:  cfg.CallbackCancelURL,
	})
	webhookReconciler := provider.NewWebhookReconciler(registry, dispatcher, transactions, cfg.WebhookToken, dedupe)

	var search *opensearch.Client
	if eventLogger != nil {
		search = eventLogger.Client()
	}

	deps := router.Deps{
		Registry:      registry,
		Payment:       handler.NewPaymentHandler(paymentService, validator.New()),
		Callback:      handler.NewCallbackHandler(callbackReconciler),
		Webhook:       handler.NewWebhookHandler(webhookReconciler),
		Health:        handler.NewHealthHandler(transactions.DB(), registry, search, dedupe),
		APIKey:        cfg.APIKey,
		WebhookPrefix: cfg.WebhookPrefix,
	}

	// Chi Define Routes
	r := chi.NewRouter()

	// Basic Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middle.PanicRecoveryMiddleware())
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With", "X-Webhook-Token", "Stripe-Signature"},
		ExposedHeaders:   []string{"Link", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Routes(r, deps)

	// Not Found
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = response.WriteJSON(w, http.StatusNotFound, response.Response{
			Code:    http.StatusNotFound,
			Success: false,
			Message: "Not Found",
		})
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err.Error())
		}
	}()

	log.Println("API is running on", cfg.Port)

	<-ctx.Done()
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
