package domain

import (
	"context"
	"time"
)

// EventStatus is the lifecycle state of a CRM event. Events are soft-deleted
// by moving to cancelled; rows are never removed, preserving reminder history.
type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventCancelled EventStatus = "cancelled"
)

// SyncMode selects whether an event operation touches the remote calendar.
type SyncMode string

const (
	SyncLocalOnly      SyncMode = "local_only"
	SyncLocalAndRemote SyncMode = "local_and_remote"
)

// CrmEvent is the local record of a scheduled meeting. GoogleEventID is nil
// for events that were never synced to the remote calendar.
type CrmEvent struct {
	ID             string
	OrganizationID string
	ContactID      string
	Summary        string
	Description    string
	StartTime      time.Time
	EndTime        time.Time
	Status         EventStatus
	GoogleEventID  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Synced reports whether the event has a remote counterpart.
func (e *CrmEvent) Synced() bool {
	return e.GoogleEventID != nil && *e.GoogleEventID != ""
}

// SyncOutcome distinguishes full success from degraded success (remote write
// landed, local bookkeeping failed).
type SyncOutcome string

const (
	OutcomeFull      SyncOutcome = "full"
	OutcomeDegraded  SyncOutcome = "degraded"
	OutcomeLocalOnly SyncOutcome = "local_only"
)

// SyncResult is what event operations hand back to the API layer.
type SyncResult struct {
	Event   *CrmEvent
	Outcome SyncOutcome
	// Notice carries the non-blocking follow-up message for degraded results.
	Notice string
}

// Cursor is an opaque pagination position over (start_time, event_id).
type Cursor struct {
	StartTime time.Time
	ID        string
}

// EventStore persists CRM events, scoped by organization.
// Get returns (nil, nil) when the event does not exist.
type EventStore interface {
	Insert(ctx context.Context, event CrmEvent) error
	Get(ctx context.Context, orgID, eventID string) (*CrmEvent, error)
	Update(ctx context.Context, event CrmEvent) error
	ListByContact(ctx context.Context, orgID, contactID string, cursor *Cursor, limit int) ([]CrmEvent, *Cursor, error)
}
