package checkin

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/nexuspass/internal/model"
	"github.com/dharsanguruparan/nexuspass/internal/qr"
)

// Desk runs the attendance state machine for scanned payloads. It keeps no
// per-attendee state; the directory's attended flag is the only authority.
type Desk struct {
	dir     Directory
	scheme  qr.Scheme
	decoder FrameDecoder
	// issued, when set, must contain the attendee's artifact before the
	// directory is consulted.
	issued ArtifactStore
	newID  func() string
}

// DeskOption customises a Desk.
type DeskOption func(*Desk)

// WithIssuedCodeGate requires the scanned attendee's code to exist in store.
// A missing artifact is reported as NOT_FOUND.
func WithIssuedCodeGate(store ArtifactStore) DeskOption {
	return func(d *Desk) { d.issued = store }
}

// NewDesk wires a Desk.
func NewDesk(dir Directory, scheme qr.Scheme, decoder FrameDecoder, opts ...DeskOption) *Desk {
	d := &Desk{dir: dir, scheme: scheme, decoder: decoder, newID: uuid.NewString}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ProcessFrame decodes a camera frame and processes every payload in decode
// order. An empty slice means no code was visible.
func (d *Desk) ProcessFrame(ctx context.Context, frame []byte) ([]model.ScanResult, error) {
	if d.decoder == nil {
		return nil, errors.New("no frame decoder configured")
	}
	payloads, err := d.decoder.Decode(frame)
	if err != nil {
		return nil, err
	}
	results := make([]model.ScanResult, 0, len(payloads))
	for _, p := range payloads {
		results = append(results, d.ProcessPayload(ctx, p))
	}
	return results, nil
}

// ProcessPayload resolves one payload and performs the attendance transition.
// Every failure is folded into the returned outcome.
func (d *Desk) ProcessPayload(ctx context.Context, payload string) model.ScanResult {
	res := model.ScanResult{ScanID: d.newID(), Payload: payload}
	id, err := d.scheme.Parse(payload)
	if err != nil {
		return d.finish(res, model.OutcomeMalformedPayload, err)
	}
	res.AttendeeID = id.ID
	res.Name = id.Name

	if d.issued != nil {
		ok, err := d.issued.Exists(ctx, qr.ObjectKey(id.ID))
		if err != nil {
			return d.finish(res, model.OutcomeStoreError, storeErr("check issued code", err))
		}
		if !ok {
			return d.finish(res, model.OutcomeNotFound, nil)
		}
	}

	a, err := d.dir.MarkAttended(ctx, id)
	switch {
	case err == nil:
		res.Name = a.Name
		return d.finish(res, model.OutcomeMarked, nil)
	case errors.Is(err, model.ErrAlreadyAttended):
		if a != nil {
			res.Name = a.Name
		}
		return d.finish(res, model.OutcomeAlreadyMarked, nil)
	case errors.Is(err, model.ErrAttendeeNotFound):
		return d.finish(res, model.OutcomeNotFound, nil)
	default:
		return d.finish(res, model.OutcomeStoreError, storeErr("mark attended", err))
	}
}

func (d *Desk) finish(res model.ScanResult, outcome model.Outcome, err error) model.ScanResult {
	res.Outcome = outcome
	res.Category = outcome.Category()
	res.Message = message(res, outcome, err)
	if outcome == model.OutcomeStoreError && err != nil {
		res.Error = err.Error()
	}
	log.Printf("scan %s: payload=%q attendee=%q outcome=%s", res.ScanID, res.Payload, res.AttendeeID, outcome)
	return res
}

func message(res model.ScanResult, outcome model.Outcome, err error) string {
	who := res.AttendeeID
	if res.Name != "" {
		who = fmt.Sprintf("%s (%s)", res.Name, res.AttendeeID)
	}
	switch outcome {
	case model.OutcomeMarked:
		return "Attendance marked for " + who
	case model.OutcomeAlreadyMarked:
		return who + " has already been marked as attended"
	case model.OutcomeNotFound:
		return "No registered attendee matches this code"
	case model.OutcomeMalformedPayload:
		return "This QR code is not a valid pass, please rescan"
	default:
		if err != nil {
			return "Check-in failed: " + err.Error()
		}
		return "Check-in failed"
	}
}
