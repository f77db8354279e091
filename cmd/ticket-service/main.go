package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qline/ticket-service/internal/config"
	"qline/ticket-service/internal/directory"
	"qline/ticket-service/internal/httpapi"
	"qline/ticket-service/internal/notify"
	"qline/ticket-service/internal/queue"
	"qline/ticket-service/internal/store/postgres"
	"qline/ticket-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DB_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Setup("ticket-service")
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Printf("telemetry shutdown error: %v", err)
		}
	}()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("database ping: %v", err)
	}

	notifier, closeNotifier := buildNotifier(cfg)
	defer closeNotifier()

	engine := queue.New(postgres.NewStore(pool), directory.NewPostgres(pool), queue.Options{
		MissedThreshold: cfg.MissedThreshold,
		Notifier:        notifier,
	})

	handler := httpapi.NewHandler(engine, httpapi.Options{AdminToken: cfg.AdminToken})

	ipLimiter := httpapi.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	orgLimiter := httpapi.NewRateLimiter(cfg.OrgRateLimitPerMinute, cfg.OrgRateLimitBurst)

	var root http.Handler = handler.Routes()
	root = httpapi.RateLimitMiddleware(ipLimiter, orgLimiter)(root)
	root = httpapi.LoggingMiddleware(root)
	root = otelhttp.NewHandler(root, "ticket-service")

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Printf("ticket-service listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Println("ticket-service stopped")
}

func buildNotifier(cfg config.Config) (notify.Notifier, func()) {
	switch cfg.Notifier {
	case "webhook":
		if cfg.WebhookURL == "" {
			log.Fatal("NOTIF_WEBHOOK_URL is required for the webhook notifier")
		}
		return notify.NewWebhook(cfg.WebhookURL, cfg.WebhookToken), func() {}
	case "redis":
		if cfg.RedisAddr == "" {
			log.Fatal("REDIS_ADDR is required for the redis notifier")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return notify.NewRedis(rdb), func() {
			if err := rdb.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
	default:
		return notify.LogNotifier{}, func() {}
	}
}
