package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smartqueue/internal/clock"
	"smartqueue/internal/config"
	"smartqueue/internal/httpapi"
	"smartqueue/internal/logging"
	"smartqueue/internal/models"
	"smartqueue/internal/notify"
	"smartqueue/internal/queue"
	"smartqueue/internal/service"
	"smartqueue/internal/store"
	"smartqueue/internal/store/memory"
	"smartqueue/internal/store/postgres"
	"smartqueue/internal/telemetry"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		stdlog.Fatalf("logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatalw("smartqueue exited", "error", err)
	}
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	shutdownTelemetry := telemetry.Setup("smartqueue")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	loc := time.UTC
	if cfg.Timezone != "" {
		parsed, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Warnw("unknown timezone, using UTC", "timezone", cfg.Timezone)
		} else {
			loc = parsed
		}
	}
	clk := clock.NewSystem(loc)

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = postgres.NewStore(pool)
		log.Infow("using postgres store")
	} else {
		repo = seedDemoStore(log)
		log.Infow("DB_DSN not set, using in-memory store")
	}

	engine := queue.NewEngine(repo, clk, cfg.DefaultServiceDuration)
	notifier := notify.New(repo, engine, notify.LogSink{Log: log}, clk, log, notify.Config{
		SettlingDelay: cfg.SettlingDelay,
		EmailEnabled:  cfg.EmailEnabled,
	})
	defer notifier.Close()

	orch := service.NewOrchestrator(repo, engine, clk, notifier, log, service.Config{
		SeniorAgeYears: cfg.SeniorAgeYears,
	})

	handler := httpapi.NewHandler(orch)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", otelhttp.NewHandler(
		httpapi.LoggingMiddleware(log, limiter.Middleware(handler.Routes())),
		"smartqueue",
	))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Infow("smartqueue listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// seedDemoStore provisions one service group with two points so the API is
// usable out of the box without a database.
func seedDemoStore(log *zap.SugaredLogger) *memory.Store {
	repo := memory.NewStore()
	group := models.ServiceGroup{
		GroupID: uuid.NewString(),
		Code:    "GEN",
		Name:    "General",
	}
	repo.AddServiceGroup(group)
	for i, name := range []string{"Counter 1", "Counter 2"} {
		point := models.ServicePoint{
			PointID:                uuid.NewString(),
			GroupID:                group.GroupID,
			Name:                   name,
			RoomLabel:              "R" + string(rune('1'+i)),
			ServiceDurationMinutes: 15,
			DailyCapacity:          200,
			Available:              true,
		}
		repo.AddServicePoint(point)
		log.Infow("seeded demo point", "point_id", point.PointID, "name", point.Name)
	}
	log.Infow("seeded demo group", "group_id", group.GroupID, "code", group.Code)
	return repo
}
