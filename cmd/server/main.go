package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fxclear/eod-engine/internal/eod"
	"github.com/fxclear/eod-engine/internal/metrics"
	"github.com/fxclear/eod-engine/internal/refdata"
	"github.com/fxclear/eod-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	valuationCurrency := os.Getenv("VALUATION_CURRENCY")
	if valuationCurrency == "" {
		valuationCurrency = "JPY"
	}

	roundingExponent := int32(5) // floor proportional demands to 100,000 units
	if v := os.Getenv("EOD_ROUNDING_EXPONENT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			slog.Error("invalid EOD_ROUNDING_EXPONENT", "value", v, "err", err)
			os.Exit(1)
		}
		roundingExponent = int32(n)
	}

	// --- Initialize store and reference data ---
	var (
		st      store.Store
		src     refdata.Source
		cleanup []func()
	)

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		src = refdata.NewPostgresSource(pool, valuationCurrency)
		slog.Info("connected to PostgreSQL")

		// Wrap reference data with a Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			src = refdata.NewCachedSource(src, rdb, 12*time.Hour)
			slog.Info("Redis reference-data cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
		src = &refdata.Static{}
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := eod.NewWSHub()
	go wsHub.Run()

	// --- EOD run service ---
	cfg := eod.Config{RoundingExponent: roundingExponent}
	svc := eod.NewService(st, src, cfg, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(5 * time.Minute)) // runs are long-lived requests
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"eod-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for run progress events.
		r.Get("/ws", wsHub.HandleWS)

		// EOD runs and results.
		r.Post("/eod/runs", svc.HandleRun)
		r.Get("/eod/trades", svc.HandleTrades)
		r.Get("/eod/margins", svc.HandleMargins)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("eod-engine listening", "port", port,
			"rounding_exponent", roundingExponent,
			"valuation_currency", valuationCurrency,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down eod-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("eod-engine stopped")
}
