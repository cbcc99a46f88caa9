package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/nexuspass/internal/app"
	"github.com/dharsanguruparan/nexuspass/internal/config"
	"github.com/dharsanguruparan/nexuspass/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !cfg.UsesRedis() {
		log.Fatalf("NEXUSPASS_REDIS_ADDR is required for the worker")
	}
	if cfg.DatabaseURL == "" || !cfg.UsesS3() {
		// In-memory stores are private to one process, so a separate worker
		// would issue codes nobody can see.
		log.Fatalf("the worker needs NEXUSPASS_DATABASE_URL and NEXUSPASS_S3_ENDPOINT")
	}

	a, err := app.Build(ctx, cfg, app.Options{Bootstrap: true})
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	server := asynq.NewServer(a.RedisOpt(), asynq.Config{
		Concurrency: cfg.ProcessingPool,
	})
	processor := worker.NewProcessor(a.Generator)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Printf("worker stopped: %v", err)
		a.Close()
		os.Exit(1)
	}
}
