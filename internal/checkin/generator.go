package checkin

import (
	"context"
	"fmt"
	"log"

	"github.com/dharsanguruparan/nexuspass/internal/qr"
)

// BatchError reports a generation batch that stopped part way. Artifacts
// written before the failure stay in place; rerunning the batch only handles
// the remaining attendees.
type BatchError struct {
	Generated  int
	AttendeeID string
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("generated %d codes before failing on attendee %s: %v", e.Generated, e.AttendeeID, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Partial reports whether some artifacts were written before the failure.
func (e *BatchError) Partial() bool { return e.Generated > 0 }

// Generator issues QR artifacts for attendees that have none.
type Generator struct {
	dir      Directory
	store    ArtifactStore
	scheme   qr.Scheme
	renderer Renderer
}

// NewGenerator wires a Generator.
func NewGenerator(dir Directory, store ArtifactStore, scheme qr.Scheme, renderer Renderer) *Generator {
	return &Generator{dir: dir, store: store, scheme: scheme, renderer: renderer}
}

// GenerateMissing renders, stores and records a code for every attendee
// without a locator and returns how many were issued. Zero with a nil error
// means there was nothing to do.
func (g *Generator) GenerateMissing(ctx context.Context) (int, error) {
	pending, err := g.dir.ListWithoutCode(ctx)
	if err != nil {
		return 0, storeErr("list attendees without code", err)
	}
	generated := 0
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			return generated, &BatchError{Generated: generated, AttendeeID: a.ID, Err: err}
		}
		payload, err := g.scheme.Encode(a)
		if err != nil {
			// A row that cannot be encoded must not block everyone after it.
			log.Printf("skipping attendee %s: %v", a.ID, err)
			continue
		}
		png, err := g.renderer.Render(payload)
		if err != nil {
			// Same for a payload too long for any QR version. Only store
			// failures stop the batch.
			log.Printf("skipping attendee %s: render: %v", a.ID, err)
			continue
		}
		locator, err := g.store.Put(ctx, qr.ObjectKey(a.ID), png)
		if err != nil {
			return generated, &BatchError{Generated: generated, AttendeeID: a.ID, Err: storeErr("store artifact", err)}
		}
		// A crash here leaves a blob without a locator; the next batch simply
		// overwrites the same deterministic key.
		written, err := g.dir.SetCodeLocator(ctx, a.ID, locator)
		if err != nil {
			return generated, &BatchError{Generated: generated, AttendeeID: a.ID, Err: storeErr("record locator", err)}
		}
		if !written {
			log.Printf("attendee %s received a code from a concurrent batch", a.ID)
			continue
		}
		generated++
		log.Printf("generated code for attendee %s at %s", a.ID, locator)
	}
	return generated, nil
}
