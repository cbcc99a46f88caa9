// Package main runs the nexuspass HTTP API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/nexuspass/internal/api"
	"github.com/dharsanguruparan/nexuspass/internal/app"
	"github.com/dharsanguruparan/nexuspass/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	a, err := app.Build(ctx, cfg, app.Options{Bootstrap: true})
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	srv := api.New(cfg, a.Deps(a.Dispatcher(ctx)))
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		a.Close()
		os.Exit(1)
	}
}
