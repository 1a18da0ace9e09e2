package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	exchangesvc "github.com/healthex/dlt-exchange/internal/exchange"
	"github.com/healthex/dlt-exchange/pkg/config"
	"github.com/healthex/dlt-exchange/pkg/database"
	core "github.com/healthex/dlt-exchange/pkg/exchange"
	"github.com/healthex/dlt-exchange/pkg/interfaces"
	"github.com/healthex/dlt-exchange/pkg/logger"
	"github.com/healthex/dlt-exchange/pkg/monitoring"
	"github.com/healthex/dlt-exchange/pkg/rewards"
	"github.com/healthex/dlt-exchange/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("exchange-service", cfg.LogLevel)
	log.Info("Starting Exchange Service")

	metrics := monitoring.NewMetricsCollector("exchange-service")

	// Select the state backend and, with Postgres, the audit read model
	var state core.State
	var auditRepo interfaces.AuditRepository
	var db *database.DB
	switch cfg.Exchange.StateBackend {
	case "postgres":
		db, err = database.NewConnection(&cfg.Database, log)
		if err != nil {
			log.WithFields(map[string]interface{}{"error": err}).Fatal("Failed to connect to database")
		}
		defer db.Close()

		state, err = storage.NewPostgres(db)
		if err != nil {
			log.WithFields(map[string]interface{}{"error": err}).Fatal("Failed to initialize Postgres state backend")
		}
		auditRepo, err = exchangesvc.NewPostgresAuditRepository(db, metrics)
		if err != nil {
			log.WithFields(map[string]interface{}{"error": err}).Fatal("Failed to initialize audit read model")
		}
	default:
		state = storage.NewMemory()
	}

	// The notifier closes over the service, which is created right after the
	// ledger it observes.
	var service *exchangesvc.Service
	ledger := core.New(state,
		core.WithLogger(log),
		core.WithSchedule(rewards.Linear{Base: cfg.Exchange.RewardBase, Step: cfg.Exchange.RewardStep}),
		core.WithNotifier(func(n core.AccessNotification) {
			if service != nil {
				service.HandleNotification(n)
			}
		}),
	)

	// The configured administrator principal bootstraps the ledger
	if err := ledger.Init(cfg.Exchange.AdminPrincipal); err != nil {
		log.WithFields(map[string]interface{}{"error": err}).Fatal("Failed to initialize exchange administrator")
	}

	service = exchangesvc.NewService(ledger, auditRepo, log, metrics)
	handlers := exchangesvc.NewHandlers(service, log)
	middleware := exchangesvc.NewMiddleware(cfg.JWT.SecretKey, cfg.JWT.Issuer, log, metrics)

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging)
	router.Use(middleware.Metrics)

	// Health and metrics stay outside the authenticated surface
	router.HandleFunc(cfg.Monitoring.HealthPath, healthHandler(db)).Methods("GET")
	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.MetricsPath, metrics.Handler()).Methods("GET")
	}

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.Authenticate)
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter := exchangesvc.NewRateLimiter(cfg.Server.RateLimitPerMinute, time.Minute)
		apiRouter.Use(middleware.RateLimit(limiter))
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				limiter.Cleanup(time.Hour)
			}
		}()
	}
	handlers.RegisterRoutes(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithFields(map[string]interface{}{"addr": server.Addr}).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(map[string]interface{}{"error": err}).Fatal("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Exchange Service")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithFields(map[string]interface{}{"error": err}).Error("Failed to shutdown server gracefully")
	}

	log.Info("Exchange Service stopped")
}

// healthHandler reports service and, when configured, database health.
func healthHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "healthy"}
		code := http.StatusOK
		if db != nil {
			if err := db.Health(); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				code = http.StatusServiceUnavailable
			} else {
				status["database"] = "healthy"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}
