// Package reminders schedules and dispatches event reminders over email and
// WhatsApp.
package reminders

import (
	"context"
	"log"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"example.com/scheduling/internal/domain"
)

// defaultMessage is used when a reminder spec carries no message of its own.
const defaultMessage = "Hi {{.ContactName}}, this is a reminder for {{.EventSummary}} on {{.EventStart}}."

const eventStartLayout = "02 Jan 2006 15:04"

// Scheduler turns reminder specs into persisted reminder rows.
type Scheduler struct {
	store domain.ReminderStore
	clock func() time.Time
}

// NewScheduler constructs a Scheduler. clock is injectable for tests.
func NewScheduler(store domain.ReminderStore, clock func() time.Time) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{store: store, clock: clock}
}

// Schedule computes fire times for the given specs and inserts the batch
// atomically. Specs whose fire time is already past are dropped without
// error; the remaining rows either all land or none do. Returns the inserted
// reminders.
func (s *Scheduler) Schedule(ctx context.Context, event *domain.CrmEvent, contact *domain.Contact, specs []domain.ReminderSpec) ([]domain.EventReminder, error) {
	if err := ValidateSpecs(specs, contact); err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	rows := make([]domain.EventReminder, 0, len(specs))
	for _, spec := range specs {
		fireAt := event.StartTime.Add(-time.Duration(spec.MinutesBefore) * time.Minute)
		if !fireAt.After(now) {
			log.Printf("reminders: dropping %s reminder for event %s, fire time %s already past", spec.Channel, event.ID, fireAt.Format(time.RFC3339))
			continue
		}
		message, err := renderMessage(spec.Message, event, contact)
		if err != nil {
			return nil, domain.Wrap(domain.KindValidation, "reminder message template is invalid", err)
		}
		rows = append(rows, domain.EventReminder{
			ID:             uuid.NewString(),
			EventID:        event.ID,
			OrganizationID: event.OrganizationID,
			Channel:        spec.Channel,
			ScheduledAt:    fireAt,
			Status:         domain.ReminderScheduled,
			Message:        message,
			CreatedAt:      now,
		})
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := s.store.InsertBatch(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Reschedule replaces the pending reminders of an event after its start time
// moved. When specs is nil the offsets are derived from the pending rows
// relative to oldStart, so an untouched reminder set keeps its lead times.
func (s *Scheduler) Reschedule(ctx context.Context, event *domain.CrmEvent, contact *domain.Contact, specs []domain.ReminderSpec, oldStart time.Time) ([]domain.EventReminder, error) {
	if specs == nil {
		existing, err := s.store.ListByEvent(ctx, event.OrganizationID, event.ID)
		if err != nil {
			return nil, err
		}
		for _, row := range existing {
			if row.Status != domain.ReminderScheduled {
				continue
			}
			minutes := int(oldStart.Sub(row.ScheduledAt) / time.Minute)
			specs = append(specs, domain.ReminderSpec{
				Channel:       row.Channel,
				MinutesBefore: minutes,
				Message:       row.Message,
			})
		}
	}
	if err := s.store.DeletePending(ctx, event.OrganizationID, event.ID); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, nil
	}
	return s.Schedule(ctx, event, contact, specs)
}

// CancelPending drops the scheduled reminders of an event, leaving terminal
// rows untouched.
func (s *Scheduler) CancelPending(ctx context.Context, orgID, eventID string) error {
	return s.store.DeletePending(ctx, orgID, eventID)
}

// ValidateSpecs checks reminder specs against the contact before any write
// happens, so callers can reject a request without side effects.
func ValidateSpecs(specs []domain.ReminderSpec, contact *domain.Contact) error {
	for _, spec := range specs {
		if spec.MinutesBefore <= 0 {
			return domain.E(domain.KindValidation, "reminder lead time must be positive")
		}
		switch spec.Channel {
		case domain.ChannelEmail:
			if contact == nil || contact.Email == "" {
				return domain.E(domain.KindValidation, "contact has no email address for an email reminder")
			}
		case domain.ChannelWhatsApp:
			if contact == nil || contact.Phone == "" {
				return domain.E(domain.KindValidation, "contact has no phone number for a WhatsApp reminder")
			}
		default:
			return domain.E(domain.KindValidation, "unsupported reminder channel")
		}
	}
	return nil
}

// renderMessage expands the requested message (or the default) against the event
// and contact. Messages already free of template actions pass through as-is.
func renderMessage(raw string, event *domain.CrmEvent, contact *domain.Contact) (string, error) {
	if raw == "" {
		raw = defaultMessage
	}
	if !strings.Contains(raw, "{{") {
		return raw, nil
	}
	tmpl, err := template.New("reminder").Parse(raw)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	err = tmpl.Execute(&out, struct {
		ContactName  string
		EventSummary string
		EventStart   string
	}{
		ContactName:  contact.Name,
		EventSummary: event.Summary,
		EventStart:   event.StartTime.Format(eventStartLayout),
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
