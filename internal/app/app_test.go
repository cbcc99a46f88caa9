package app

import (
	"context"
	"testing"
	"time"

	"github.com/dharsanguruparan/nexuspass/internal/config"
	"github.com/dharsanguruparan/nexuspass/internal/model"
	"github.com/dharsanguruparan/nexuspass/internal/processing"
	"github.com/dharsanguruparan/nexuspass/internal/queue"
	"github.com/dharsanguruparan/nexuspass/internal/storage"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Address:        ":0",
		CodeBucket:     "nexuspass",
		PayloadScheme:  config.SchemeIDName,
		CodeSize:       290,
		MaxFrameSize:   1 << 20,
		SigningSecret:  []byte("secret"),
		SignedURLTTL:   time.Minute,
		ProcessingPool: 1,
	}
}

func TestBuildFallsBackToMemory(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(), Options{Bootstrap: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	if _, ok := a.Attendees.(*storage.MemoryDirectory); !ok {
		t.Fatalf("expected memory directory, got %T", a.Attendees)
	}
	if _, ok := a.Artifacts.(*storage.MemoryArtifacts); !ok {
		t.Fatalf("expected memory artifacts, got %T", a.Artifacts)
	}
	if a.Presigner != nil {
		t.Fatalf("presigner must be nil without S3")
	}
}

func TestBuildRejectsUnknownScheme(t *testing.T) {
	cfg := memoryConfig()
	cfg.PayloadScheme = "name_only"
	if _, err := Build(context.Background(), cfg, Options{}); err == nil {
		t.Fatalf("expected error for unknown scheme")
	}
}

func TestInProcessDispatcherRunsBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := Build(ctx, memoryConfig(), Options{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	if err := a.Attendees.Create(ctx, &model.Attendee{ID: "A", Name: "Ada Lovelace"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	d := a.Dispatcher(ctx)
	proc, ok := d.(*processing.Processor)
	if !ok {
		t.Fatalf("expected in-process dispatcher, got %T", d)
	}
	done := make(chan processing.Result, 1)
	proc.Notify(done)
	if _, err := d.Dispatch(ctx, queue.NewGeneratePayload("test")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	select {
	case res := <-done:
		if res.Err != nil || res.Generated != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish")
	}

	res := a.Desk.ProcessPayload(ctx, "A Ada Lovelace")
	if res.Outcome != model.OutcomeMarked {
		t.Fatalf("expected MARKED, got %+v", res)
	}
}
