// Package qr implements the QR payload scheme, PNG rendering of attendee codes
// and decoding of camera frames.
package qr

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/dharsanguruparan/nexuspass/internal/model"
)

// Scheme is the text layout embedded in every code of a deployment.
type Scheme string

const (
	// SchemeID embeds the bare attendee id.
	SchemeID Scheme = "id"
	// SchemeIDName embeds "<attendee_id> <name>", split at the first space.
	SchemeIDName Scheme = "id_name"
)

const objectKeyPrefix = "qrcodes/"

// ParseScheme validates a configured scheme name.
func ParseScheme(name string) (Scheme, error) {
	switch s := Scheme(strings.ToLower(strings.TrimSpace(name))); s {
	case SchemeID, SchemeIDName:
		return s, nil
	default:
		return "", fmt.Errorf("unknown payload scheme %q", name)
	}
}

// Encode renders the payload for an attendee. Ids containing whitespace are
// rejected because the scanner could not split them back unambiguously.
func (s Scheme) Encode(a model.Attendee) (string, error) {
	if a.ID == "" || strings.IndexFunc(a.ID, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("attendee id %q cannot be encoded", a.ID)
	}
	switch s {
	case SchemeID:
		return a.ID, nil
	case SchemeIDName:
		if strings.TrimSpace(a.Name) == "" {
			return "", fmt.Errorf("attendee %s has no name to encode", a.ID)
		}
		// Parse drops line terminators, so a name holding one could never
		// match the directory again.
		if strings.ContainsAny(a.Name, "\r\n") {
			return "", fmt.Errorf("attendee %s has a line break in its name", a.ID)
		}
		return a.ID + " " + a.Name, nil
	default:
		return "", fmt.Errorf("unknown payload scheme %q", string(s))
	}
}

// Parse splits a scanned payload back into an identity. Any payload that does
// not fit the scheme wraps model.ErrMalformedPayload. Scanners often append a
// line terminator; it is dropped, but the name keeps every other character
// so it still matches the stored value exactly.
func (s Scheme) Parse(payload string) (model.Identity, error) {
	text := strings.TrimLeftFunc(strings.TrimRight(payload, "\r\n"), unicode.IsSpace)
	if strings.TrimSpace(text) == "" {
		return model.Identity{}, malformed("empty payload")
	}
	switch s {
	case SchemeID:
		text = strings.TrimSpace(text)
		// A composite code scanned by a bare-id deployment lands here.
		if strings.IndexFunc(text, unicode.IsSpace) >= 0 {
			return model.Identity{}, malformed("expected a single identifier")
		}
		return model.Identity{ID: text}, nil
	case SchemeIDName:
		id, name, ok := strings.Cut(text, " ")
		if !ok || id == "" || strings.TrimSpace(name) == "" {
			return model.Identity{}, malformed("expected \"<id> <name>\"")
		}
		return model.Identity{ID: id, Name: name}, nil
	default:
		return model.Identity{}, errors.New("unknown payload scheme")
	}
}

// ObjectKey is the deterministic artifact key for an attendee.
func ObjectKey(attendeeID string) string {
	return objectKeyPrefix + attendeeID + ".png"
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", model.ErrMalformedPayload, reason)
}
