package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/nexuspass/internal/model"
)

// AttendeeRepository wraps all SQL against the emp table. Every statement is
// parameterised; payload text never becomes part of the query.
type AttendeeRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewAttendeeRepository constructs a repository.
func NewAttendeeRepository(pool *pgxpool.Pool) *AttendeeRepository {
	return &AttendeeRepository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const uniqueViolation = "23505"

const selectColumns = `attendee_id, name, qr_code, attended, attended_at, created_at, updated_at`

// Create inserts a freshly provisioned attendee.
func (r *AttendeeRepository) Create(ctx context.Context, a *model.Attendee) error {
	now := r.now()
	a.Attended = false
	a.AttendedAt = nil
	a.CodeLocator = nil
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO emp (attendee_id, name, qr_code, attended, attended_at, created_at, updated_at)
		VALUES ($1,$2,NULL,FALSE,NULL,$3,$4)
	`, a.ID, a.Name, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrAttendeeExists
		}
		return fmt.Errorf("%w: insert attendee: %w", model.ErrStore, err)
	}
	return nil
}

// List returns every attendee ordered by id.
func (r *AttendeeRepository) List(ctx context.Context) ([]model.Attendee, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM emp ORDER BY attendee_id`)
}

// ListWithoutCode returns attendees that have no QR artifact yet.
func (r *AttendeeRepository) ListWithoutCode(ctx context.Context) ([]model.Attendee, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM emp WHERE qr_code IS NULL OR qr_code = '' ORDER BY attendee_id`)
}

// Find resolves an identity by exact match on id, and on name when the
// identity carries one.
func (r *AttendeeRepository) Find(ctx context.Context, id model.Identity) (*model.Attendee, error) {
	var row pgx.Row
	if id.Name == "" {
		row = r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM emp WHERE attendee_id=$1`, id.ID)
	} else {
		row = r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM emp WHERE attendee_id=$1 AND name=$2`, id.ID, id.Name)
	}
	a, err := scanAttendee(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAttendeeNotFound
		}
		return nil, fmt.Errorf("%w: select attendee: %w", model.ErrStore, err)
	}
	return a, nil
}

// SetCodeLocator records the artifact locator unless one is already present.
// It reports whether this call performed the write.
func (r *AttendeeRepository) SetCodeLocator(ctx context.Context, attendeeID, locator string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE emp
		SET qr_code=$1, updated_at=$2
		WHERE attendee_id=$3 AND (qr_code IS NULL OR qr_code = '')
	`, locator, r.now(), attendeeID)
	if err != nil {
		return false, fmt.Errorf("%w: update qr_code: %w", model.ErrStore, err)
	}
	return tag.RowsAffected() == 1, nil
}

// errUnsettled is returned when the guarded UPDATE keeps missing a row that
// reads back as unattended. The scan should be retried.
var errUnsettled = fmt.Errorf("%w: attendance row changed during update, rescan", model.ErrStore)

const markAttempts = 2

// MarkAttended flips attended from false to true with a single guarded UPDATE
// inside a transaction. The affected row count decides the result: one row
// means this caller performed the transition; zero rows is disambiguated into
// ErrAlreadyAttended or ErrAttendeeNotFound.
func (r *AttendeeRepository) MarkAttended(ctx context.Context, id model.Identity) (*model.Attendee, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", model.ErrStore, err)
	}
	// Rollback after Commit is a no-op, so this only undoes failed attempts.
	defer tx.Rollback(ctx)

	for attempt := 0; attempt < markAttempts; attempt++ {
		marked, err := r.markTx(ctx, tx, id)
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("%w: commit: %w", model.ErrStore, err)
			}
			return marked, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: update attended: %w", model.ErrStore, err)
		}
		existing, err := r.findTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if retry, err := settleMiss(existing); !retry {
			return existing, err
		}
	}
	return nil, errUnsettled
}

// settleMiss interprets a row re-read after the guarded UPDATE matched
// nothing. An unattended row was committed after the UPDATE took its
// snapshot, so the UPDATE is worth running again.
func settleMiss(existing *model.Attendee) (retry bool, err error) {
	if existing.Attended {
		return false, model.ErrAlreadyAttended
	}
	return true, nil
}

func (r *AttendeeRepository) markTx(ctx context.Context, tx pgx.Tx, id model.Identity) (*model.Attendee, error) {
	now := r.now()
	var row pgx.Row
	if id.Name == "" {
		row = tx.QueryRow(ctx, `
			UPDATE emp SET attended=TRUE, attended_at=$1, updated_at=$1
			WHERE attendee_id=$2 AND attended=FALSE
			RETURNING `+selectColumns, now, id.ID)
	} else {
		row = tx.QueryRow(ctx, `
			UPDATE emp SET attended=TRUE, attended_at=$1, updated_at=$1
			WHERE attendee_id=$2 AND name=$3 AND attended=FALSE
			RETURNING `+selectColumns, now, id.ID, id.Name)
	}
	return scanAttendee(row)
}

func (r *AttendeeRepository) findTx(ctx context.Context, tx pgx.Tx, id model.Identity) (*model.Attendee, error) {
	var row pgx.Row
	if id.Name == "" {
		row = tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM emp WHERE attendee_id=$1`, id.ID)
	} else {
		row = tx.QueryRow(ctx, `SELECT `+selectColumns+` FROM emp WHERE attendee_id=$1 AND name=$2`, id.ID, id.Name)
	}
	a, err := scanAttendee(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAttendeeNotFound
		}
		return nil, fmt.Errorf("%w: select attendee: %w", model.ErrStore, err)
	}
	return a, nil
}

func (r *AttendeeRepository) query(ctx context.Context, stmt string, args ...any) ([]model.Attendee, error) {
	rows, err := r.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query attendees: %w", model.ErrStore, err)
	}
	defer rows.Close()
	var out []model.Attendee
	for rows.Next() {
		a, err := scanAttendee(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan attendee: %w", model.ErrStore, err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate attendees: %w", model.ErrStore, err)
	}
	return out, nil
}

func scanAttendee(row pgx.Row) (*model.Attendee, error) {
	var (
		a          model.Attendee
		qrCode     sql.NullString
		attendedAt sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Name, &qrCode, &a.Attended, &attendedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if qrCode.Valid && qrCode.String != "" {
		loc := qrCode.String
		a.CodeLocator = &loc
	}
	if attendedAt.Valid {
		at := attendedAt.Time
		a.AttendedAt = &at
	}
	return &a, nil
}
