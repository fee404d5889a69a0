package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/engramhq/engram/internal/api/handlers"
	mw "github.com/engramhq/engram/internal/api/middleware"
	"github.com/engramhq/engram/internal/buildconfig"
	"github.com/engramhq/engram/internal/config"
	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/embedding"
	"github.com/engramhq/engram/internal/extract"
	"github.com/engramhq/engram/internal/redact"
	"github.com/engramhq/engram/internal/service"
	"github.com/engramhq/engram/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// App holds the router and background workers for lifecycle management.
type App struct {
	Router        *chi.Mux
	Consolidation *service.ConsolidationWorker
	startTime     time.Time
	requestCount  atomic.Int64
	errorCount    atomic.Int64
}

func NewApp(db *store.DB, embedder domain.Embedder, cfg service.RuntimeConfig, logger *zap.Logger) *App {
	// Stores
	memoryStore := store.NewMemoryStore(db)
	contradictionStore := store.NewContradictionStore(db)

	// Services
	memorySvc := service.NewMemoryService(memoryStore, embedder, redact.New(), extract.New(), cfg, logger)
	recallSvc := service.NewRecallService(memoryStore, embedder, cfg.RecallCandidateCap, logger)
	consolidationSvc := service.NewConsolidationService(memoryStore, contradictionStore, cfg.RecallCandidateCap, logger)
	contradictionSvc := service.NewContradictionService(contradictionStore, logger)

	interval, err := time.ParseDuration(cfg.ConsolidationInterval)
	if err != nil || interval <= 0 {
		interval = 6 * time.Hour
	}
	worker := service.NewConsolidationWorker(consolidationSvc, interval, logger)

	// Handlers
	memoryHandler := handlers.NewMemoryHandler(memorySvc, recallSvc)
	consolidationHandler := handlers.NewConsolidationHandler(consolidationSvc)
	contradictionHandler := handlers.NewContradictionHandler(contradictionSvc)
	statusHandler := handlers.NewStatusHandler(memorySvc)

	r := chi.NewRouter()

	app := &App{
		Router:        r,
		Consolidation: worker,
		startTime:     time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)                                                 // Generate/extract request ID first
	r.Use(middleware.RealIP)                                            // Extract real IP
	r.Use(metricsCollector.Middleware)                                  // Collect metrics
	r.Use(mw.Logging(logger))                                           // Log all requests
	r.Use(middleware.Recoverer)                                         // Recover from panics
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst())) // Rate limiting

	r.Get("/health", healthHandler(db))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusHandler.Status)

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", memoryHandler.Create)
			r.Get("/", memoryHandler.List)
			r.Post("/search", memoryHandler.Search)
			r.Post("/bulk-delete", memoryHandler.BulkDelete)
			r.Get("/{id}", memoryHandler.GetByID)
			r.Delete("/{id}", memoryHandler.Delete)
		})

		r.Post("/consolidate", consolidationHandler.Trigger)

		r.Route("/contradictions", func(r chi.Router) {
			r.Get("/", contradictionHandler.List)
			r.Post("/{id}/resolve", contradictionHandler.Resolve)
		})

		// Older clients call the contradiction list "conflicts".
		r.Get("/conflicts", contradictionHandler.Conflicts)
	})

	return app
}

func healthHandler(db *store.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"version":    buildconfig.Version(),
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.MemoryStore        = (*store.MemoryStore)(nil)
	_ domain.ContradictionStore = (*store.ContradictionStore)(nil)
	_ domain.Embedder           = (*embedding.Breaker)(nil)
	_ domain.Embedder           = (*embedding.LocalClient)(nil)
	_ domain.Embedder           = (*embedding.MockClient)(nil)
	_ domain.Redactor           = (*redact.Redactor)(nil)
	_ domain.Extractor          = (*extract.Extractor)(nil)
)
