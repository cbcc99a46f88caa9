// Package app assembles the check-in services from configuration. The API
// server, the asynq worker and the CLI all build on it.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/nexuspass/internal/api"
	"github.com/dharsanguruparan/nexuspass/internal/checkin"
	"github.com/dharsanguruparan/nexuspass/internal/config"
	"github.com/dharsanguruparan/nexuspass/internal/database"
	"github.com/dharsanguruparan/nexuspass/internal/processing"
	"github.com/dharsanguruparan/nexuspass/internal/qr"
	"github.com/dharsanguruparan/nexuspass/internal/queue"
	"github.com/dharsanguruparan/nexuspass/internal/repository"
	"github.com/dharsanguruparan/nexuspass/internal/s3storage"
	"github.com/dharsanguruparan/nexuspass/internal/signing"
	"github.com/dharsanguruparan/nexuspass/internal/storage"
)

// App holds the wired services.
type App struct {
	Config    *config.Config
	Attendees api.AttendeeStore
	Artifacts checkin.ArtifactStore
	Generator *checkin.Generator
	Desk      *checkin.Desk
	Reporter  *checkin.Reporter
	Signer    *signing.Signer
	// Presigner is nil unless an S3 endpoint is configured.
	Presigner api.Presigner

	closers []func()
}

// Options tweak Build.
type Options struct {
	// Bootstrap creates the emp table and the code bucket when missing.
	Bootstrap bool
}

// Build connects to Postgres and S3 when configured and falls back to the
// in-memory stores otherwise.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	scheme, err := qr.ParseScheme(cfg.PayloadScheme)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Signer: signing.NewSigner(cfg.SigningSecret)}

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if opts.Bootstrap {
			if err := database.EnsureSchema(ctx, pool); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.Attendees = repository.NewAttendeeRepository(pool)
	} else {
		log.Printf("NEXUSPASS_DATABASE_URL not set, using in-memory attendee directory")
		a.Attendees = storage.NewMemoryDirectory()
	}

	if cfg.UsesS3() {
		store, err := s3storage.New(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		if opts.Bootstrap {
			if err := store.EnsureBucket(ctx); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.Artifacts = store
		a.Presigner = store
	} else {
		log.Printf("NEXUSPASS_S3_ENDPOINT not set, keeping QR codes in memory")
		a.Artifacts = storage.NewMemoryArtifacts()
	}

	a.Generator = checkin.NewGenerator(a.Attendees, a.Artifacts, scheme, qr.NewRenderer(cfg.CodeSize))
	var deskOpts []checkin.DeskOption
	if cfg.RequireIssuedCode {
		deskOpts = append(deskOpts, checkin.WithIssuedCodeGate(a.Artifacts))
	}
	a.Desk = checkin.NewDesk(a.Attendees, scheme, qr.NewDecoder(), deskOpts...)
	a.Reporter = checkin.NewReporter(a.Attendees)
	return a, nil
}

// Dispatcher returns the asynq dispatcher when Redis is configured and an
// in-process worker pool bound to ctx otherwise.
func (a *App) Dispatcher(ctx context.Context) api.Dispatcher {
	if a.Config.UsesRedis() {
		client := asynq.NewClient(a.RedisOpt())
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				log.Printf("close asynq client: %v", err)
			}
		})
		return queue.NewDispatcher(client, a.Config.GenerateUniqueTTL, a.Config.GenerateTaskRetries)
	}
	proc := processing.New(a.Generator, a.Config.ProcessingPool)
	proc.Start(ctx)
	return proc
}

// RedisOpt is the asynq connection shared by the client and the worker.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	}
}

// Deps converts the App into api.Deps.
func (a *App) Deps(dispatcher api.Dispatcher) api.Deps {
	return api.Deps{
		Attendees:  a.Attendees,
		Artifacts:  a.Artifacts,
		Generator:  a.Generator,
		Desk:       a.Desk,
		Reporter:   a.Reporter,
		Signer:     a.Signer,
		Dispatcher: dispatcher,
		Presigner:  a.Presigner,
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
