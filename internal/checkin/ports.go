// Package checkin holds the event check-in core: the idempotent code
// generator, the attendance state machine and the statistics reporter. It
// talks to the attendee directory, the artifact store and the frame decoder
// through the interfaces below.
package checkin

import (
	"context"
	"errors"
	"fmt"

	"github.com/dharsanguruparan/nexuspass/internal/model"
)

// Directory is the attendee table. MarkAttended must be atomic per attendee:
// at most one caller observes the false to true transition.
type Directory interface {
	List(ctx context.Context) ([]model.Attendee, error)
	ListWithoutCode(ctx context.Context) ([]model.Attendee, error)
	Find(ctx context.Context, id model.Identity) (*model.Attendee, error)
	SetCodeLocator(ctx context.Context, attendeeID, locator string) (bool, error)
	MarkAttended(ctx context.Context, id model.Identity) (*model.Attendee, error)
}

// ArtifactStore is the blob store holding rendered codes.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// FrameDecoder extracts QR payload texts from an image.
type FrameDecoder interface {
	Decode(frame []byte) ([]string, error)
}

// Renderer turns a payload into image bytes.
type Renderer interface {
	Render(payload string) ([]byte, error)
}

// storeErr tags infrastructure failures with model.ErrStore exactly once.
func storeErr(op string, err error) error {
	if errors.Is(err, model.ErrStore) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrStore, op, err)
}
