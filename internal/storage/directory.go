// Package storage contains in-memory implementations of the attendee
// directory and the artifact store. They back the tests and the --memory
// development mode of the binaries.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/nexuspass/internal/model"
)

// MemoryDirectory keeps attendees in a map guarded by a RWMutex. The
// attendance transition runs entirely under the write lock, which gives it the
// same at-most-once behaviour as the guarded SQL UPDATE.
type MemoryDirectory struct {
	mu        sync.RWMutex
	attendees map[string]*model.Attendee
	// failWith makes every call return the given error; tests use it to
	// simulate an unreachable store.
	failWith error
}

// NewMemoryDirectory constructs a MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		attendees: make(map[string]*model.Attendee),
	}
}

// Fail makes subsequent calls return err. Pass nil to recover.
func (m *MemoryDirectory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Create inserts an unattended attendee without a code.
func (m *MemoryDirectory) Create(_ context.Context, a *model.Attendee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if _, ok := m.attendees[a.ID]; ok {
		return model.ErrAttendeeExists
	}
	now := time.Now().UTC()
	a.Attended = false
	a.AttendedAt = nil
	a.CodeLocator = nil
	a.CreatedAt = now
	a.UpdatedAt = now
	rec := *a
	m.attendees[a.ID] = &rec
	return nil
}

// List returns copies of every attendee ordered by id.
func (m *MemoryDirectory) List(_ context.Context) ([]model.Attendee, error) {
	return m.collect(func(*model.Attendee) bool { return true })
}

// ListWithoutCode returns attendees that have no locator yet.
func (m *MemoryDirectory) ListWithoutCode(_ context.Context) ([]model.Attendee, error) {
	return m.collect(func(a *model.Attendee) bool { return !a.HasCode() })
}

// Find resolves an identity by exact id (and name when present).
func (m *MemoryDirectory) Find(_ context.Context, id model.Identity) (*model.Attendee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	rec, ok := m.lookup(id)
	if !ok {
		return nil, model.ErrAttendeeNotFound
	}
	return copyAttendee(rec), nil
}

// SetCodeLocator stores the locator if the attendee has none.
func (m *MemoryDirectory) SetCodeLocator(_ context.Context, attendeeID, locator string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, m.failWith
	}
	rec, ok := m.attendees[attendeeID]
	if !ok || rec.HasCode() {
		return false, nil
	}
	loc := locator
	rec.CodeLocator = &loc
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkAttended performs the false to true transition exactly once.
func (m *MemoryDirectory) MarkAttended(_ context.Context, id model.Identity) (*model.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	rec, ok := m.lookup(id)
	if !ok {
		return nil, model.ErrAttendeeNotFound
	}
	if rec.Attended {
		return copyAttendee(rec), model.ErrAlreadyAttended
	}
	now := time.Now().UTC()
	rec.Attended = true
	rec.AttendedAt = &now
	rec.UpdatedAt = now
	return copyAttendee(rec), nil
}

func (m *MemoryDirectory) lookup(id model.Identity) (*model.Attendee, bool) {
	rec, ok := m.attendees[id.ID]
	if !ok {
		return nil, false
	}
	if id.Name != "" && rec.Name != id.Name {
		return nil, false
	}
	return rec, true
}

func (m *MemoryDirectory) collect(keep func(*model.Attendee) bool) ([]model.Attendee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]model.Attendee, 0, len(m.attendees))
	for _, rec := range m.attendees {
		if keep(rec) {
			out = append(out, *copyAttendee(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// copyAttendee returns a deep copy so callers cannot mutate internal state
// through the pointer fields.
func copyAttendee(rec *model.Attendee) *model.Attendee {
	c := *rec
	if rec.CodeLocator != nil {
		loc := *rec.CodeLocator
		c.CodeLocator = &loc
	}
	if rec.AttendedAt != nil {
		at := *rec.AttendedAt
		c.AttendedAt = &at
	}
	return &c
}
