package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jackc/pgx/v5/pgxpool"
	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-verify/pkg/account"
	"github.com/tendant/simple-verify/pkg/config"
	"github.com/tendant/simple-verify/pkg/delivery"
	"github.com/tendant/simple-verify/pkg/emailverification"
	"github.com/tendant/simple-verify/pkg/emailverification/api"
	"github.com/tendant/simple-verify/pkg/notification"
	"github.com/tendant/simple-verify/pkg/ratelimit"
)

type options struct {
	EnvFile     string `long:"env-file" description:"Path to a .env file (default: next to the binary or in the working directory)"`
	PrintConfig bool   `long:"print-config" description:"Print the environment variables read at startup and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if opts.PrintConfig {
		fmt.Println(config.Usage())
		return
	}

	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.Verification.Persistence == "postgres" || cfg.Queue.Backend == config.QueueBackendPostgres {
		dbConfig := cfg.Database.ToDbConfig()
		pool, err = dbutils.NewDbPool(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User, "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	var accounts account.Store
	if cfg.Verification.Persistence == "postgres" {
		accounts = account.NewPostgresRepository(pool)
	} else {
		accounts = account.NewInMemoryRepository()
	}

	store, err := emailverification.NewStore(cfg.Verification.Persistence, emailverification.StoreConfig{
		Pool:     pool,
		Accounts: accounts,
	})
	if err != nil {
		slog.Error("Failed creating verification store", "error", err)
		os.Exit(1)
	}

	queue, closeQueue, err := delivery.NewQueue(cfg.Queue.Backend, delivery.QueueConfig{
		Pool:    pool,
		AMQPURL: cfg.Queue.AMQPURL,
		Name:    cfg.Queue.Name,
		Lease:   cfg.Delivery.Lease,
	})
	if err != nil {
		slog.Error("Failed creating delivery queue", "backend", cfg.Queue.Backend, "error", err)
		os.Exit(1)
	}
	defer closeQueue()

	notices, err := notification.NewSMTPNotificationManager(cfg.Email.ToSMTPConfig())
	if err != nil {
		slog.Error("Failed initialize notification manager", "error", err)
		os.Exit(1)
	}

	generator := emailverification.NewGenerator(store, accounts, cfg.Verification.GeneratorOptions()...)
	dispatcher := delivery.NewDispatcher(queue, cfg.Delivery.MaxAttempts)
	service := emailverification.NewService(accounts, store, generator, dispatcher,
		emailverification.WithRetention(cfg.Verification.Retention),
	)

	workerOpts := append(cfg.Delivery.WorkerOptions(),
		delivery.WithMetrics(delivery.NewMetrics(prometheus.DefaultRegisterer)),
		delivery.WithTokenTTL(cfg.Verification.TokenTTL),
	)
	worker := delivery.NewWorker(queue, accounts, store, notices, cfg.Verification.BaseURL, workerOpts...)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Delivery worker stopped", "error", err)
		}
	}()

	sweeper, err := emailverification.NewSweeper(service, cfg.Verification.SweepSchedule)
	if err != nil {
		slog.Error("Failed creating sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start(ctx)

	handler := api.NewHandler(service, limiterOptions(ctx, cfg.RateLimit)...)

	server := app.DefaultApp()
	mountRoutes(server.R, pool, handler, cfg.JWT)

	slog.Info("Verification service starting",
		"persistence", cfg.Verification.Persistence,
		"queue", cfg.Queue.Backend,
		"workers", cfg.Delivery.Workers,
		"token_ttl", cfg.Verification.TokenTTL,
		"max_attempts", cfg.Delivery.MaxAttempts)

	server.Run()
}

func limiterOptions(ctx context.Context, cfg config.RateLimitConfig) []api.HandlerOption {
	if !cfg.Enabled {
		slog.Info("Resend rate limiting disabled")
		return nil
	}

	if cfg.UseRedis() {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		slog.Info("Resend rate limiting backed by redis", "addr", cfg.RedisAddr)
		return []api.HandlerOption{
			api.WithEmailLimiter(ratelimit.NewRedisLimiter(client, cfg.Prefix+":email", cfg.PerEmailCapacity, cfg.PerEmailWindow)),
			api.WithIPLimiter(ratelimit.NewRedisLimiter(client, cfg.Prefix+":ip", cfg.PerIPCapacity, cfg.PerIPWindow)),
		}
	}

	email := ratelimit.NewMemoryLimiter(cfg.PerEmailCapacity, cfg.PerEmailRefillRate(), cfg.IdleTTL)
	ip := ratelimit.NewMemoryLimiter(cfg.PerIPCapacity, cfg.PerIPRefillRate(), cfg.IdleTTL)
	go email.Run(ctx)
	go ip.Run(ctx)
	slog.Info("Resend rate limiting in memory")
	return []api.HandlerOption{api.WithEmailLimiter(email), api.WithIPLimiter(ip)}
}

// mountRoutes registers the probes, metrics and verification API on r
func mountRoutes(r *chi.Mux, pool *pgxpool.Pool, handler *api.Handler, jwt config.JWTConfig) {
	app.RoutesHealthz(r)
	r.Get("/readyz", readyz(pool))
	r.Handle("/metrics", promhttp.Handler())
	handler.Routes(r, jwt.TokenAuth())
}

func readyz(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				slog.Warn("Readiness check failed", "error", err)
				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, map[string]string{"status": "unavailable"})
				return
			}
		}
		render.JSON(w, r, map[string]string{"status": "ok"})
	}
}
