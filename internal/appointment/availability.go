package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Resolver answers "may this window be booked?". It is read-only and
// advisory: the booking transaction re-runs the same checks against the live
// store before writing.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// CheckAvailability determines whether a new appointment may be booked at the
// facility (optionally scoped to a provider) for [start, end).
//
// Slot mode is in force whenever the (facility, provider) pair has at least
// one availability slot row; the pair is otherwise unconstrained by slots and
// only the overlap check applies.
func (r *Resolver) CheckAvailability(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, start, end time.Time) (*Availability, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_start and scheduled_end are required", ErrValidation)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: scheduled_start must be before scheduled_end", ErrValidation)
	}

	n, err := r.repo.CountSlots(ctx, facilityID, providerID)
	if err != nil {
		return nil, fmt.Errorf("count slots: %w", err)
	}
	slotsMode := n > 0

	var slotID *uuid.UUID
	if slotsMode {
		slot, err := r.repo.FindAvailableSlot(ctx, facilityID, providerID, start, end)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return nil, fmt.Errorf("find available slot: %w", err)
		}
		if slot != nil {
			slotID = &slot.ID
		}
	}

	conflicts, err := r.repo.FindConflicts(ctx, facilityID, providerID, start, end, nil)
	if err != nil {
		return nil, fmt.Errorf("find conflicts: %w", err)
	}

	return &Availability{
		Available: len(conflicts) == 0 && (!slotsMode || slotID != nil),
		SlotsMode: slotsMode,
		SlotID:    slotID,
		Conflicts: conflicts,
	}, nil
}

// ListOpenSlots returns the facility's available slots for a date, dropping
// any whose window already collides with a live appointment.
func (r *Resolver) ListOpenSlots(ctx context.Context, facilityID uuid.UUID, providerID *uuid.UUID, date time.Time) ([]AvailabilitySlot, error) {
	slots, err := r.repo.ListSlotsByDate(ctx, facilityID, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	open := make([]AvailabilitySlot, 0, len(slots))
	for _, s := range slots {
		conflicts, err := r.repo.FindConflicts(ctx, facilityID, s.ProviderID, s.StartTime, s.EndTime, nil)
		if err != nil {
			return nil, fmt.Errorf("check slot %s: %w", s.ID, err)
		}
		if len(conflicts) == 0 {
			open = append(open, s)
		}
	}
	return open, nil
}
