// Package audit records who changed which appointment and how.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	ActionCreate = "appointment.create"
	ActionUpdate = "appointment.update"
	ActionCancel = "appointment.cancel"
	ActionNoShow = "appointment.no_show"
)

// Record is a single write-only audit entry. ActorID is uuid.Nil for
// system actors such as the no-show worker.
type Record struct {
	ActorID    uuid.UUID      `json:"actor_id"`
	Action     string         `json:"action"`
	ResourceID uuid.UUID      `json:"resource_id"`
	Changeset  map[string]any `json:"changeset,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Recorder persists audit records. Callers treat failures as non-fatal.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgRecorder appends records to the audit_logs table.
type PgRecorder struct {
	db execer
}

func NewPgRecorder(db execer) *PgRecorder {
	return &PgRecorder{db: db}
}

func (r *PgRecorder) Record(ctx context.Context, rec Record) error {
	var changeset []byte
	if len(rec.Changeset) > 0 {
		data, err := json.Marshal(rec.Changeset)
		if err != nil {
			return fmt.Errorf("marshal audit changeset: %w", err)
		}
		changeset = data
	}

	var actor *uuid.UUID
	if rec.ActorID != uuid.Nil {
		actor = &rec.ActorID
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, action, resource_id, changeset, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, actor, rec.Action, rec.ResourceID, changeset, nullableTime(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Multi writes to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
