package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one audit-trail row. Before/After snapshots are marshalled to
// JSON at write time.
type Entry struct {
	Action    string
	Entity    string
	EntityID  uuid.UUID
	ActorID   uuid.UUID
	ActorRole string
	Before    any
	After     any
	IP        string
	CreatedAt time.Time
}

// Recorder persists audit entries. Callers treat failures as best-effort:
// a lost audit row never fails the operation being audited.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

type PgRecorder struct {
	pool *pgxpool.Pool
}

func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool}
}

func (r *PgRecorder) Record(ctx context.Context, e Entry) error {
	before, err := marshalSnapshot(e.Before)
	if err != nil {
		return fmt.Errorf("marshal before snapshot: %w", err)
	}
	after, err := marshalSnapshot(e.After)
	if err != nil {
		return fmt.Errorf("marshal after snapshot: %w", err)
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_logs (action, entity, entity_id, actor_id, actor_role, before, after, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.Action, e.Entity, e.EntityID, e.ActorID, e.ActorRole, before, after, e.IP, createdAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func marshalSnapshot(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
