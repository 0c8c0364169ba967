package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ListFilter is the enumerated set of supported appointment list predicates.
// Supplied fields are AND-combined; values always travel as query parameters.
type ListFilter struct {
	PatientID  *uuid.UUID
	ProviderID *uuid.UUID
	FacilityID *uuid.UUID
	Status     *Status
	Type       *Type
	From       *time.Time // scheduled_start >= From
	To         *time.Time // scheduled_start < To
	Limit      int
	Offset     int
}

func (f ListFilter) Validate() error {
	if f.Status != nil && !f.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, *f.Status)
	}
	if f.Type != nil && !f.Type.Valid() {
		return fmt.Errorf("%w: invalid appointment_type %q", ErrValidation, *f.Type)
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return fmt.Errorf("%w: from must be before to", ErrValidation)
	}
	return nil
}

// whereClause builds the parameterized predicate list. Placeholders start at
// $1; args line up with them.
func (f ListFilter) whereClause() (string, []any) {
	var (
		preds []string
		args  []any
	)

	add := func(expr string, v any) {
		args = append(args, v)
		preds = append(preds, fmt.Sprintf(expr, len(args)))
	}

	if f.PatientID != nil {
		add("a.patient_id = $%d", *f.PatientID)
	}
	if f.ProviderID != nil {
		add("a.provider_id = $%d", *f.ProviderID)
	}
	if f.FacilityID != nil {
		add("a.facility_id = $%d", *f.FacilityID)
	}
	if f.Status != nil {
		add("a.status = $%d", *f.Status)
	}
	if f.Type != nil {
		add("a.appointment_type = $%d", *f.Type)
	}
	if f.From != nil {
		add("a.scheduled_start >= $%d", *f.From)
	}
	if f.To != nil {
		add("a.scheduled_start < $%d", *f.To)
	}

	if len(preds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(preds, " AND "), args
}

func (f ListFilter) limits() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
