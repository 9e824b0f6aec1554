package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"google.golang.org/grpc"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/config"
	"tlr.org/internal/directory"
	"tlr.org/internal/httpapi"
	"tlr.org/internal/jobs"
	"tlr.org/internal/mail"
	"tlr.org/internal/obs"
	"tlr.org/internal/search"
	"tlr.org/internal/store/pg"
)

var version = "0.1.0"

func main() {
	obs.Init()
	obs.InitBuildInfo("tlr-api", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	deps := httpapi.Deps{Config: *cfg, Version: version}
	var sink audit.Sink
	if cfg.Database.DSN != "" {
		store, err := pg.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		deps.Store, sink = store, store

		client := asynq.NewClient(mail.RedisOpt(cfg.Redis))
		defer client.Close()
		queue := mail.NewAsynqQueue(cfg.Redis)
		defer queue.Close()
		deps.Mail = queue
		deps.Search = search.NewAsynqSyncer(client)
		deps.Reindex = jobs.NewTrigger(client)
	} else {
		// Single process mode: everything runs inline against memory.
		obs.Warn("no database configured, using in-memory store", nil)
		store := directory.NewInMemory()
		indexer := search.Open(cfg.Search)
		queue := mail.Direct{Sender: mail.LogSender{}}
		deps.Store = store
		deps.Mail = queue
		deps.Search = search.Inline{Source: store, Indexer: indexer}
		deps.Reindex = jobs.NewRunner(*cfg, store, queue, jobs.WithIndexer(indexer))
	}
	deps.Audit = audit.NewRecorder(sink)

	deps.Auth, err = auth.NewService(deps.Store, cfg.Auth.Secret, auth.WithTokenTTL(cfg.Auth.TokenTTL))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	api := httpapi.New(deps)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := httpapi.NewGRPCServer(httpapi.ReadyProbe{Store: deps.Store})
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go health.Run(ctx, 10*time.Second)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.Info("api started", map[string]any{
		"version":   version,
		"http_addr": cfg.Server.Addr,
		"grpc_addr": cfg.Server.GRPCAddr,
	})

	<-ctx.Done()
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	obs.Info("stopped", nil)
}
