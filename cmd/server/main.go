package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/editions/storefront/internal/config"
	"github.com/editions/storefront/internal/events"
	"github.com/editions/storefront/internal/metrics"
	"github.com/editions/storefront/internal/payment"
	"github.com/editions/storefront/internal/reservation"
	"github.com/editions/storefront/internal/shop"
	"github.com/editions/storefront/internal/store"
)

var Version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := rootCmd().Execute(); err != nil {
		slog.Error("storefront exited", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Edition storefront backend: checkout, payment webhooks, inventory",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "optional YAML config file")
	cmd.Flags().String("port", "", "HTTP port (PORT)")
	cmd.Flags().String("data-dir", "", "directory for the JSON inventory files (DATA_DIR)")
	cmd.Flags().String("provider", "", "payment provider: stripe or payrexx (PAYMENT_PROVIDER)")
	v.BindPFlag("port", cmd.Flags().Lookup("port"))
	v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
	v.BindPFlag("payment_provider", cmd.Flags().Lookup("provider"))

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	} else {
		fs, err := store.OpenFileStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open inventory: %w", err)
		}
		st = fs
	}

	// Redis serves both the sold-list cache and shared reservations.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
	}

	if sold, err := st.SoldEditions(ctx); err == nil {
		metrics.EditionsSold.Set(float64(len(sold)))
	}

	// --- Payment provider ---
	provider, err := payment.New(cfg.Payment())
	if err != nil {
		return err
	}

	opts := []shop.Option{}

	// --- Reservations ---
	if cfg.ReservationTTL > 0 {
		var holder reservation.Holder = reservation.NewMemoryHolder()
		if rdb != nil {
			holder = reservation.NewRedisHolder(rdb)
		}
		opts = append(opts, shop.WithReservations(holder))
		slog.Info("edition reservations enabled", "ttl", cfg.ReservationTTL.String())
	}

	// --- Order events ---
	if cfg.KafkaBroker != "" {
		pub := events.NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { pub.Close() })
		opts = append(opts, shop.WithPublisher(pub))
		slog.Info("publishing order events", "broker", cfg.KafkaBroker, "topic", cfg.KafkaTopic)
	}

	// --- WebSocket hub ---
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	wsHub := shop.NewWSHub()
	go wsHub.Run(hubCtx)
	opts = append(opts, shop.WithHub(wsHub))

	// --- Shop service ---
	shopSvc := shop.NewService(st, provider, cfg.Shop(), opts...)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for the storefront pages.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"storefront"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Both deployment layouts: a plain server and serverless-style /api routes.
	r.Group(shopSvc.Routes)
	r.Route("/api", shopSvc.Routes)

	// --- Server ---
	// No WriteTimeout: it would cut off WebSocket connections.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("storefront listening",
			"port", cfg.Port,
			"provider", provider.Name(),
			"data_dir", cfg.DataDir,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down storefront...")
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("storefront stopped")
	return nil
}
