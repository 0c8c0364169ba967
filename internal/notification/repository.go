package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/myhubcares/clinic-scheduling/internal/appointment"
)

var ErrUserNotFound = errors.New("user not found")

// Store persists in-app messages for later reading by the dashboard.
type Store interface {
	Insert(ctx context.Context, m *Message) error
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]Message, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) error
}

// Directory answers the recipient-selection queries the fan-out rules need.
type Directory interface {
	UserByID(ctx context.Context, id uuid.UUID) (*appointment.User, error)
	// UserForPatient resolves a patient record to its user account, if linked.
	UserForPatient(ctx context.Context, patientID uuid.UUID) (*appointment.User, error)
	// ActiveStaffByRoles returns all active users with any of the given roles.
	ActiveStaffByRoles(ctx context.Context, roles []appointment.Role) ([]appointment.User, error)
	// StaffByRoleAtFacility returns active users with the role scoped to the
	// facility, plus facility-unscoped ones.
	StaffByRoleAtFacility(ctx context.Context, role appointment.Role, facilityID uuid.UUID) ([]appointment.User, error)
}
