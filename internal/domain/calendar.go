package domain

import (
	"context"
	"time"
)

// BusySlot is a busy interval reported by the remote calendar. Intervals are
// half-open: [Start, End).
type BusySlot struct {
	Start time.Time
	End   time.Time
}

// Overlaps applies the half-open overlap test against a candidate interval.
// Boundary-touching intervals do not overlap.
func (b BusySlot) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

// TimeSlot is a suggested free meeting slot.
type TimeSlot struct {
	Start time.Time
	End   time.Time
}

// EventPayload is the provider-neutral event body written to the remote
// calendar.
type EventPayload struct {
	Summary       string
	Description   string
	Location      string
	Start         time.Time
	End           time.Time
	AttendeeEmail string
}

// RemoteEvent is the remote calendar's view of a created or updated event.
type RemoteEvent struct {
	ID    string
	Start time.Time
	End   time.Time
}

// RemoteCalendar is the subset of the external calendar API this subsystem
// needs. Implementations resolve the organization's credential internally and
// must honour the context deadline on every call.
type RemoteCalendar interface {
	ListBusy(ctx context.Context, orgID string, from, to time.Time) ([]BusySlot, error)
	CreateEvent(ctx context.Context, orgID string, payload EventPayload) (*RemoteEvent, error)
	UpdateEvent(ctx context.Context, orgID, externalID string, payload EventPayload) (*RemoteEvent, error)
	DeleteEvent(ctx context.Context, orgID, externalID string) error
	// Probe is a lightweight read used by the connection state machine.
	Probe(ctx context.Context, orgID string) error
}
