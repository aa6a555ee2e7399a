package outbox

import "time"

// Payload shapes for the calendar domain events consumed by the CRM
// automation pipeline.

// CalendarEventCreated is emitted when an event is booked.
type CalendarEventCreated struct {
	EventID        string    `json:"event_id"`
	OrganizationID string    `json:"organization_id"`
	ContactID      string    `json:"contact_id"`
	Summary        string    `json:"summary"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	GoogleEventID  string    `json:"google_event_id,omitempty"`
	Synced         bool      `json:"synced"`
}

// CalendarEventUpdated is emitted when an event's fields change.
type CalendarEventUpdated struct {
	EventID        string    `json:"event_id"`
	OrganizationID string    `json:"organization_id"`
	ContactID      string    `json:"contact_id"`
	Summary        string    `json:"summary"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	GoogleEventID  string    `json:"google_event_id,omitempty"`
	Synced         bool      `json:"synced"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// CalendarEventCancelled is emitted when an event is soft-deleted.
type CalendarEventCancelled struct {
	EventID        string    `json:"event_id"`
	OrganizationID string    `json:"organization_id"`
	ContactID      string    `json:"contact_id"`
	CancelledAt    time.Time `json:"cancelled_at"`
}
