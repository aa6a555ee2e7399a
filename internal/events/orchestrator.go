// Package events coordinates the dual write of CRM events: the remote
// calendar is written first, the local record second. Remote failures block
// the operation; a local failure after a remote success degrades it.
package events

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/reminders"
)

// degradedNotice is returned to the caller when the remote write landed but
// the local record could not be stored. There is no rollback of the remote
// side; the calendars reconcile on the next successful write.
const degradedNotice = "the calendar event was created remotely but could not be recorded locally; it will appear in the calendar but not in the CRM until re-synced"

// remindersNotice flags an event that was saved without its reminder batch.
const remindersNotice = "the event was saved but its reminders could not be scheduled"

// LivenessResetter returns the connection probe to idle after a write proved
// the remote side reachable.
type LivenessResetter interface {
	Reset(orgID string)
}

// CreateRequest is the input for booking a new event.
type CreateRequest struct {
	ContactID   string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Mode        domain.SyncMode
	Reminders   []domain.ReminderSpec
}

// UpdateRequest carries the mutable fields of an event. Nil pointers leave
// the current value in place. Reminders nil means "keep the existing lead
// times" when the start moves; an empty non-nil slice clears pending ones.
type UpdateRequest struct {
	Summary     *string
	Description *string
	Start       *time.Time
	End         *time.Time
	Mode        domain.SyncMode
	Reminders   []domain.ReminderSpec
}

// Orchestrator runs event create, update and cancel against both stores.
type Orchestrator struct {
	events    domain.EventStore
	contacts  domain.ContactStore
	orgs      domain.OrganizationStore
	remote    domain.RemoteCalendar
	scheduler *reminders.Scheduler
	tracker   LivenessResetter
	clock     func() time.Time
}

// NewOrchestrator constructs an Orchestrator. clock is injectable for tests.
func NewOrchestrator(events domain.EventStore, contacts domain.ContactStore, orgs domain.OrganizationStore, remote domain.RemoteCalendar, scheduler *reminders.Scheduler, tracker LivenessResetter, clock func() time.Time) *Orchestrator {
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{
		events:    events,
		contacts:  contacts,
		orgs:      orgs,
		remote:    remote,
		scheduler: scheduler,
		tracker:   tracker,
		clock:     clock,
	}
}

// Create validates everything before touching any store: a rejected request
// leaves zero writes behind, local or remote.
func (o *Orchestrator) Create(ctx context.Context, orgID string, req CreateRequest) (*domain.SyncResult, error) {
	if err := o.checkOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	summary := strings.TrimSpace(req.Summary)
	if summary == "" {
		return nil, domain.E(domain.KindValidation, "event summary is required")
	}
	if err := validateWindow(req.Start, req.End); err != nil {
		return nil, err
	}
	mode, err := normalizeMode(req.Mode)
	if err != nil {
		return nil, err
	}
	contact, err := o.resolveContact(ctx, orgID, req.ContactID)
	if err != nil {
		return nil, err
	}
	if err := reminders.ValidateSpecs(req.Reminders, contact); err != nil {
		return nil, err
	}

	now := o.clock().UTC()
	event := domain.CrmEvent{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		ContactID:      contact.ID,
		Summary:        summary,
		Description:    req.Description,
		StartTime:      req.Start,
		EndTime:        req.End,
		Status:         domain.EventConfirmed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if mode == domain.SyncLocalOnly {
		if err := o.events.Insert(ctx, event); err != nil {
			return nil, err
		}
		if err := o.scheduleReminders(ctx, &event, contact, req.Reminders); err != nil {
			return &domain.SyncResult{Event: &event, Outcome: domain.OutcomeDegraded, Notice: remindersNotice}, nil
		}
		return &domain.SyncResult{Event: &event, Outcome: domain.OutcomeLocalOnly}, nil
	}

	remote, err := o.remote.CreateEvent(ctx, orgID, payloadFor(&event, contact))
	if err != nil {
		return nil, err
	}
	event.GoogleEventID = &remote.ID
	o.markReachable(orgID)

	if err := o.events.Insert(ctx, event); err != nil {
		log.Printf("events: local insert after remote create failed for organization %s: %v", orgID, err)
		return &domain.SyncResult{Event: &event, Outcome: domain.OutcomeDegraded, Notice: degradedNotice}, nil
	}
	if err := o.scheduleReminders(ctx, &event, contact, req.Reminders); err != nil {
		return &domain.SyncResult{Event: &event, Outcome: domain.OutcomeDegraded, Notice: remindersNotice}, nil
	}
	return &domain.SyncResult{Event: &event, Outcome: domain.OutcomeFull}, nil
}

// Update applies the changed fields, writing remote-first when the event has
// (or gains) a remote counterpart. A moved start time reschedules pending
// reminders, preserving their lead times unless new specs are given.
func (o *Orchestrator) Update(ctx context.Context, orgID, eventID string, req UpdateRequest) (*domain.SyncResult, error) {
	event, err := o.loadEvent(ctx, orgID, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status == domain.EventCancelled {
		return nil, domain.E(domain.KindInvalidState, "a cancelled event cannot be updated")
	}
	mode, err := normalizeMode(req.Mode)
	if err != nil {
		return nil, err
	}

	oldStart := event.StartTime
	updated := *event
	if req.Summary != nil {
		updated.Summary = *req.Summary
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	if req.Start != nil {
		updated.StartTime = *req.Start
	}
	if req.End != nil {
		updated.EndTime = *req.End
	}
	updated.Summary = strings.TrimSpace(updated.Summary)
	if updated.Summary == "" {
		return nil, domain.E(domain.KindValidation, "event summary is required")
	}
	if err := validateWindow(updated.StartTime, updated.EndTime); err != nil {
		return nil, err
	}
	contact, err := o.resolveContact(ctx, orgID, event.ContactID)
	if err != nil {
		return nil, err
	}
	if req.Reminders != nil {
		if err := reminders.ValidateSpecs(req.Reminders, contact); err != nil {
			return nil, err
		}
	}
	updated.UpdatedAt = o.clock().UTC()

	outcome := domain.OutcomeLocalOnly
	if mode == domain.SyncLocalAndRemote {
		if updated.Synced() {
			if _, err := o.remote.UpdateEvent(ctx, orgID, *updated.GoogleEventID, payloadFor(&updated, contact)); err != nil {
				return nil, err
			}
		} else {
			// First remote write for an event that was local-only so far.
			remote, err := o.remote.CreateEvent(ctx, orgID, payloadFor(&updated, contact))
			if err != nil {
				return nil, err
			}
			updated.GoogleEventID = &remote.ID
		}
		o.markReachable(orgID)
		outcome = domain.OutcomeFull
	}

	if err := o.events.Update(ctx, updated); err != nil {
		if outcome == domain.OutcomeFull {
			log.Printf("events: local update after remote write failed for organization %s: %v", orgID, err)
			return &domain.SyncResult{Event: &updated, Outcome: domain.OutcomeDegraded, Notice: degradedNotice}, nil
		}
		return nil, err
	}

	if req.Reminders != nil || !updated.StartTime.Equal(oldStart) {
		if _, err := o.scheduler.Reschedule(ctx, &updated, contact, req.Reminders, oldStart); err != nil {
			log.Printf("events: rescheduling reminders for event %s failed: %v", eventID, err)
			return &domain.SyncResult{Event: &updated, Outcome: domain.OutcomeDegraded,
				Notice: "the event was updated but its reminders could not be rescheduled"}, nil
		}
	}
	return &domain.SyncResult{Event: &updated, Outcome: outcome}, nil
}

// Cancel soft-deletes the event. The remote copy is deleted first; a copy
// already gone remotely still cancels locally. Cancelling twice is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, orgID, eventID string) (*domain.SyncResult, error) {
	event, err := o.loadEvent(ctx, orgID, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status == domain.EventCancelled {
		return &domain.SyncResult{Event: event, Outcome: domain.OutcomeLocalOnly}, nil
	}

	outcome := domain.OutcomeLocalOnly
	if event.Synced() {
		if err := o.remote.DeleteEvent(ctx, orgID, *event.GoogleEventID); err != nil {
			return nil, err
		}
		o.markReachable(orgID)
		outcome = domain.OutcomeFull
	}

	cancelled := *event
	cancelled.Status = domain.EventCancelled
	cancelled.UpdatedAt = o.clock().UTC()
	if err := o.events.Update(ctx, cancelled); err != nil {
		if outcome == domain.OutcomeFull {
			log.Printf("events: local cancel after remote delete failed for organization %s: %v", orgID, err)
			return &domain.SyncResult{Event: &cancelled, Outcome: domain.OutcomeDegraded,
				Notice: "the calendar event was removed remotely but is still marked active locally"}, nil
		}
		return nil, err
	}

	if err := o.scheduler.CancelPending(ctx, orgID, eventID); err != nil {
		log.Printf("events: dropping pending reminders for cancelled event %s failed: %v", eventID, err)
	}
	return &domain.SyncResult{Event: &cancelled, Outcome: outcome}, nil
}

// Get returns a single event.
func (o *Orchestrator) Get(ctx context.Context, orgID, eventID string) (*domain.CrmEvent, error) {
	return o.loadEvent(ctx, orgID, eventID)
}

// ListByContact pages through a contact's events ordered by start time.
func (o *Orchestrator) ListByContact(ctx context.Context, orgID, contactID string, cursor *domain.Cursor, limit int) ([]domain.CrmEvent, *domain.Cursor, error) {
	if _, err := o.resolveContact(ctx, orgID, contactID); err != nil {
		return nil, nil, err
	}
	return o.events.ListByContact(ctx, orgID, contactID, cursor, limit)
}

// Reminders lists the reminder rows of an event, terminal ones included.
func (o *Orchestrator) Reminders(ctx context.Context, orgID, eventID string, store domain.ReminderStore) ([]domain.EventReminder, error) {
	if _, err := o.loadEvent(ctx, orgID, eventID); err != nil {
		return nil, err
	}
	return store.ListByEvent(ctx, orgID, eventID)
}

func (o *Orchestrator) loadEvent(ctx context.Context, orgID, eventID string) (*domain.CrmEvent, error) {
	event, err := o.events.Get(ctx, orgID, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.E(domain.KindNotFound, "event not found")
	}
	return event, nil
}

func (o *Orchestrator) resolveContact(ctx context.Context, orgID, contactID string) (*domain.Contact, error) {
	if contactID == "" {
		return nil, domain.E(domain.KindValidation, "contact id is required")
	}
	contact, err := o.contacts.Resolve(ctx, orgID, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, domain.E(domain.KindNotFound, "contact not found")
	}
	return contact, nil
}

func (o *Orchestrator) checkOrganization(ctx context.Context, orgID string) error {
	exists, err := o.orgs.OrganizationExists(ctx, orgID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.E(domain.KindUnknownOrganization, "organization could not be resolved")
	}
	return nil
}

func (o *Orchestrator) scheduleReminders(ctx context.Context, event *domain.CrmEvent, contact *domain.Contact, specs []domain.ReminderSpec) error {
	if len(specs) == 0 {
		return nil
	}
	if _, err := o.scheduler.Schedule(ctx, event, contact, specs); err != nil {
		log.Printf("events: scheduling reminders for event %s failed: %v", event.ID, err)
		return err
	}
	return nil
}

func (o *Orchestrator) markReachable(orgID string) {
	if o.tracker != nil {
		o.tracker.Reset(orgID)
	}
}

func validateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return domain.E(domain.KindValidation, "event start and end are required")
	}
	if !end.After(start) {
		return domain.E(domain.KindValidation, "event end must be after its start")
	}
	return nil
}

func normalizeMode(mode domain.SyncMode) (domain.SyncMode, error) {
	switch mode {
	case "":
		return domain.SyncLocalAndRemote, nil
	case domain.SyncLocalOnly, domain.SyncLocalAndRemote:
		return mode, nil
	default:
		return "", domain.E(domain.KindValidation, "unsupported sync mode")
	}
}

func payloadFor(event *domain.CrmEvent, contact *domain.Contact) domain.EventPayload {
	return domain.EventPayload{
		Summary:       event.Summary,
		Description:   event.Description,
		Start:         event.StartTime,
		End:           event.EndTime,
		AttendeeEmail: contact.Email,
	}
}
