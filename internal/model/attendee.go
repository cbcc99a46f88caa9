// Package model contains the struct definitions and sentinel errors shared by
// the directory, the artifact store and the check-in core.
package model

import (
	"errors"
	"time"
)

var (
	// ErrAttendeeNotFound means no directory row matched the scanned identity.
	ErrAttendeeNotFound = errors.New("attendee not found")
	// ErrAttendeeExists is returned when provisioning a duplicate attendee id.
	ErrAttendeeExists = errors.New("attendee already exists")
	// ErrAlreadyAttended is returned by a guarded attendance update that found
	// the flag already set. It is an informational result, not a failure.
	ErrAlreadyAttended = errors.New("attendee already marked as attended")
	// ErrMalformedPayload means a scanned text does not follow the payload scheme.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrArtifactNotFound is returned by artifact stores for unknown keys.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrStore is wrapped around every directory or blob store failure so callers
	// can tell infrastructure problems apart from scan results.
	ErrStore = errors.New("store error")
)

// Attendee is one row of the EMP table.
type Attendee struct {
	ID   string `json:"attendeeId"`
	Name string `json:"name"`
	// CodeLocator is set once by the generator and never changed afterwards.
	CodeLocator *string    `json:"codeLocator,omitempty"`
	Attended    bool       `json:"attended"`
	AttendedAt  *time.Time `json:"attendedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// HasCode reports whether a QR artifact has been recorded for the attendee.
func (a Attendee) HasCode() bool {
	return a.CodeLocator != nil && *a.CodeLocator != ""
}

// Identity is what a decoded payload resolves to. Name is empty when the
// deployment encodes bare identifiers.
type Identity struct {
	ID   string `json:"attendeeId"`
	Name string `json:"name,omitempty"`
}
