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

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"tlr.org/internal/config"
	"tlr.org/internal/jobs"
	"tlr.org/internal/mail"
	"tlr.org/internal/obs"
	"tlr.org/internal/search"
	"tlr.org/internal/store/pg"
)

var version = "0.1.0"

func main() {
	obs.Init()
	obs.InitBuildInfo("tlr-worker", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("missing DSN: the worker needs TLR_PG_DSN")
	}
	store, err := pg.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	queue := mail.NewAsynqQueue(cfg.Redis)
	defer queue.Close()

	var sender mail.Sender = mail.LogSender{}
	if cfg.Mail.NotifyURL != "" {
		sender = mail.NewNotifySender(cfg.Mail.NotifyURL, cfg.Mail.NotifyAPIKey)
	}
	indexer := search.Open(cfg.Search)

	runner := jobs.NewRunner(*cfg, store, queue,
		jobs.WithDeduper(jobs.NewRedisDeduper(rdb, cfg.Mail.DedupTTL)),
		jobs.WithIndexer(indexer),
	)
	mux := jobs.NewMux(jobs.Handlers{
		Sweeps: jobs.NewSweepHandler(runner),
		Mail:   mail.NewHandler(sender),
		Search: search.NewSyncHandler(store, indexer),
	})

	redisOpt := mail.RedisOpt(cfg.Redis)
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			obs.Error("task failed", map[string]any{"type": task.Type(), "error": err})
		}),
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	if err := jobs.Register(scheduler, cfg.Schedule); err != nil {
		log.Fatalf("schedule: %v", err)
	}

	if err := scheduler.Start(); err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	if err := srv.Start(mux); err != nil {
		log.Fatalf("worker: %v", err)
	}

	metrics := &http.Server{Addr: ":9100", Handler: obs.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error("metrics listener failed", map[string]any{"error": err})
		}
	}()
	obs.Info("worker started", map[string]any{"version": version, "redis": cfg.Redis.Addr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	obs.Info("shutting down", nil)
	scheduler.Shutdown()
	srv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metrics.Shutdown(shutdownCtx)
	obs.Info("stopped", nil)
}
