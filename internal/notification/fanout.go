package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/myhubcares/clinic-scheduling/internal/appointment"
	redisclient "github.com/myhubcares/clinic-scheduling/internal/redis"
)

// Fanout turns appointment lifecycle events into per-recipient in-app
// messages and realtime pushes. Recipient selection encodes care-team policy:
// who is asked to confirm an appointment depends on role and facility scope.
//
// Delivery is best-effort per recipient; one failed message never blocks the
// rest of the broadcast.
type Fanout struct {
	store Store
	dir   Directory
	push  redisclient.Pusher
}

func NewFanout(store Store, dir Directory, push redisclient.Pusher) *Fanout {
	return &Fanout{store: store, dir: dir, push: push}
}

var broadcastRoles = []appointment.Role{
	appointment.RoleAdmin,
	appointment.RoleCaseManager,
	appointment.RoleLabPersonnel,
}

// AppointmentCreated notifies the care team and the patient about a new
// booking. Staff who can act on the appointment get requires_confirmation
// messages; a user is never asked twice for the same event even when they
// match more than one selection rule.
func (f *Fanout) AppointmentCreated(ctx context.Context, d *appointment.Detail) error {
	when := formatWhen(d.ScheduledStart)

	// Informational broadcast to active staff in the always-notified roles.
	staff, err := f.dir.ActiveStaffByRoles(ctx, broadcastRoles)
	if err != nil {
		return fmt.Errorf("list broadcast staff: %w", err)
	}
	info := payloadFor(EventCreated, d, false)
	for _, u := range staff {
		f.deliver(ctx, u.ID,
			"New appointment booked",
			fmt.Sprintf("%s booked a %s appointment at %s on %s.", d.PatientName, d.Type, d.FacilityName, when),
			PriorityNormal, info)
	}

	// Patient confirmation message, if the patient has a linked account.
	if patientUser, err := f.dir.UserForPatient(ctx, d.PatientID); err == nil {
		f.deliver(ctx, patientUser.ID,
			"Appointment booked",
			fmt.Sprintf("Your %s appointment at %s is booked for %s.", d.Type, d.FacilityName, when),
			PriorityNormal, info)
	} else if !errors.Is(err, ErrUserNotFound) {
		log.Warn().Err(err).Stringer("patient_id", d.PatientID).Msg("resolve patient user failed")
	}

	// Action-required messages. seen guards against asking the same user
	// twice, e.g. the assigned provider who is also iterated as a nurse.
	confirm := payloadFor(EventCreated, d, true)
	seen := make(map[uuid.UUID]bool)

	if d.ProviderID != nil {
		provider, err := f.dir.UserByID(ctx, *d.ProviderID)
		if err != nil {
			log.Warn().Err(err).Stringer("provider_id", *d.ProviderID).Msg("resolve assigned provider failed")
		} else if provider.Role == appointment.RolePhysician || provider.Role == appointment.RoleNurse {
			seen[provider.ID] = true
			f.deliver(ctx, provider.ID,
				"Appointment assigned to you",
				fmt.Sprintf("%s has a %s appointment with you at %s on %s. Please accept or decline.", d.PatientName, d.Type, d.FacilityName, when),
				PriorityHigh, confirm)
		}
	}

	askStaff := func(users []appointment.User, title, body string) {
		for _, u := range users {
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			f.deliver(ctx, u.ID, title, body, PriorityNormal, confirm)
		}
	}

	caseManagers, err := f.dir.StaffByRoleAtFacility(ctx, appointment.RoleCaseManager, d.FacilityID)
	if err != nil {
		return fmt.Errorf("list case managers: %w", err)
	}
	askStaff(caseManagers,
		"Appointment needs review",
		fmt.Sprintf("%s booked a %s appointment at %s on %s.", d.PatientName, d.Type, d.FacilityName, when))

	if d.ProviderID == nil {
		physicians, err := f.dir.StaffByRoleAtFacility(ctx, appointment.RolePhysician, d.FacilityID)
		if err != nil {
			return fmt.Errorf("list physicians: %w", err)
		}
		askStaff(physicians,
			"Unassigned appointment",
			fmt.Sprintf("%s booked a %s appointment at %s on %s with no provider assigned.", d.PatientName, d.Type, d.FacilityName, when))
	}

	nurses, err := f.dir.StaffByRoleAtFacility(ctx, appointment.RoleNurse, d.FacilityID)
	if err != nil {
		return fmt.Errorf("list nurses: %w", err)
	}
	askStaff(nurses,
		"Appointment needs review",
		fmt.Sprintf("%s booked a %s appointment at %s on %s.", d.PatientName, d.Type, d.FacilityName, when))

	return nil
}

// ProviderAccepted tells the patient their provider accepted; the patient is
// still expected to confirm attendance themselves.
func (f *Fanout) ProviderAccepted(ctx context.Context, d *appointment.Detail) error {
	patientUser, err := f.dir.UserForPatient(ctx, d.PatientID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("resolve patient user: %w", err)
	}

	provider := "your provider"
	if d.ProviderName != nil {
		provider = *d.ProviderName
	}

	f.deliver(ctx, patientUser.ID,
		"Provider accepted your appointment",
		fmt.Sprintf("%s accepted your appointment at %s on %s. Please confirm you will attend.", provider, d.FacilityName, formatWhen(d.ScheduledStart)),
		PriorityHigh, payloadFor(EventAccepted, d, true))
	return nil
}

// ProviderDeclined tells the patient, including the decline reason when one
// was given.
func (f *Fanout) ProviderDeclined(ctx context.Context, d *appointment.Detail, reason string) error {
	patientUser, err := f.dir.UserForPatient(ctx, d.PatientID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("resolve patient user: %w", err)
	}

	body := fmt.Sprintf("Your appointment at %s on %s was declined.", d.FacilityName, formatWhen(d.ScheduledStart))
	if strings.TrimSpace(reason) != "" {
		body += " Reason: " + reason
	} else {
		body += " Please contact the facility to reschedule."
	}

	f.deliver(ctx, patientUser.ID,
		"Appointment declined",
		body,
		PriorityHigh, payloadFor(EventDeclined, d, false))
	return nil
}

// PatientConfirmed notifies the assigned provider and acknowledges back to
// the patient.
func (f *Fanout) PatientConfirmed(ctx context.Context, d *appointment.Detail) error {
	when := formatWhen(d.ScheduledStart)
	payload := payloadFor(EventConfirmed, d, false)

	if d.ProviderID != nil {
		f.deliver(ctx, *d.ProviderID,
			"Patient confirmed attendance",
			fmt.Sprintf("%s confirmed the %s appointment at %s on %s.", d.PatientName, d.Type, d.FacilityName, when),
			PriorityNormal, payload)
	}

	patientUser, err := f.dir.UserForPatient(ctx, d.PatientID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("resolve patient user: %w", err)
	}
	f.deliver(ctx, patientUser.ID,
		"Appointment confirmed",
		fmt.Sprintf("Your appointment at %s on %s is confirmed.", d.FacilityName, when),
		PriorityNormal, payload)
	return nil
}

// AppointmentChanged tells the patient what moved: provider, time, or both.
func (f *Fanout) AppointmentChanged(ctx context.Context, d *appointment.Detail, ch appointment.Change) error {
	patientUser, err := f.dir.UserForPatient(ctx, d.PatientID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("resolve patient user: %w", err)
	}

	var parts []string
	if ch.ProviderChanged {
		oldName := "unassigned"
		if ch.PreviousProviderID != nil {
			if prev, err := f.dir.UserByID(ctx, *ch.PreviousProviderID); err == nil {
				oldName = prev.FullName()
			}
		}
		newName := "unassigned"
		if d.ProviderName != nil {
			newName = *d.ProviderName
		}
		parts = append(parts, fmt.Sprintf("your provider changed from %s to %s", oldName, newName))
	}
	if ch.TimeChanged {
		parts = append(parts, fmt.Sprintf("it moved from %s to %s", formatWhen(ch.PreviousStart), formatWhen(d.ScheduledStart)))
	}

	f.deliver(ctx, patientUser.ID,
		"Appointment updated",
		fmt.Sprintf("Your appointment at %s was updated: %s.", d.FacilityName, strings.Join(parts, " and ")),
		PriorityNormal, payloadFor(EventChanged, d, false))
	return nil
}

// deliver stores the message and pushes it on the recipient's channel. Both
// failures are logged and swallowed.
func (f *Fanout) deliver(ctx context.Context, userID uuid.UUID, title, body string, priority Priority, payload Payload) {
	m := &Message{
		UserID:   userID,
		Title:    title,
		Body:     body,
		Priority: priority,
		Payload:  payload,
	}

	if err := f.store.Insert(ctx, m); err != nil {
		log.Warn().Err(err).Stringer("user_id", userID).Str("event", payload.Type).Msg("store notification failed")
	}
	if err := f.push.Publish(ctx, userID, payload.Type, m.Payload); err != nil {
		log.Warn().Err(err).Stringer("user_id", userID).Str("event", payload.Type).Msg("push notification failed")
	}
}

func formatWhen(t time.Time) string {
	return t.Format("Mon, 02 Jan 2006 at 15:04")
}
