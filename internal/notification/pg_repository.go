package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/myhubcares/clinic-scheduling/internal/appointment"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Store

func (r *PgRepository) Insert(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, title, body, priority, payload, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)
	`, m.ID, m.UserID, m.Title, m.Body, m.Priority, payload, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PgRepository) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, title, body, priority, payload, read, created_at
		FROM notifications
		WHERE user_id = $1
		  AND (NOT $2::bool OR NOT read)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		var (
			m       Message
			payload []byte
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Title, &m.Body, &m.Priority, &payload, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &m.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload for %s: %w", m.ID, err)
			}
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *PgRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET read = true
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	return err
}

// Directory

const userColumns = `id, role, facility_id, first_name, last_name, active, created_at, updated_at`

func scanUser(row pgx.Row) (*appointment.User, error) {
	var u appointment.User
	err := row.Scan(&u.ID, &u.Role, &u.FacilityID, &u.FirstName, &u.LastName, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PgRepository) UserByID(ctx context.Context, id uuid.UUID) (*appointment.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *PgRepository) UserForPatient(ctx context.Context, patientID uuid.UUID) (*appointment.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT u.id, u.role, u.facility_id, u.first_name, u.last_name, u.active, u.created_at, u.updated_at
		FROM users u
		JOIN patients p ON p.user_id = u.id
		WHERE p.id = $1
	`, patientID)
	return scanUser(row)
}

func (r *PgRepository) ActiveStaffByRoles(ctx context.Context, roles []appointment.Role) ([]appointment.User, error) {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE active AND role = ANY($1)
	`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (r *PgRepository) StaffByRoleAtFacility(ctx context.Context, role appointment.Role, facilityID uuid.UUID) ([]appointment.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE active
		  AND role = $1
		  AND (facility_id = $2 OR facility_id IS NULL)
	`, role, facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]appointment.User, error) {
	var result []appointment.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}
