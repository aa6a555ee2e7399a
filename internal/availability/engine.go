// Package availability computes free meeting slots for a day by subtracting
// the remote calendar's busy intervals from the working window.
package availability

import (
	"context"
	"log"
	"time"

	"example.com/scheduling/internal/domain"
)

// Result is a slot suggestion outcome. Degraded is set when the busy lookup
// failed and the grid was computed without remote data.
type Result struct {
	Slots    []domain.TimeSlot
	Degraded bool
	Cause    string
}

// Engine suggests free slots within a configured working window.
type Engine struct {
	remote         domain.RemoteCalendar
	dayStart       time.Duration
	dayEnd         time.Duration
	granularity    time.Duration
	maxSuggestions int
	clock          func() time.Time
}

// NewEngine constructs an Engine. dayStart and dayEnd are offsets from
// midnight of the requested day. clock is injectable for tests.
func NewEngine(remote domain.RemoteCalendar, dayStart, dayEnd, granularity time.Duration, maxSuggestions int, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		remote:         remote,
		dayStart:       dayStart,
		dayEnd:         dayEnd,
		granularity:    granularity,
		maxSuggestions: maxSuggestions,
		clock:          clock,
	}
}

// SuggestSlots returns up to the configured number of free slots of the given
// duration on the requested day. A busy-lookup failure against a reachable
// credential degrades the result instead of failing it: the caller gets an
// empty slot list plus the cause.
func (e *Engine) SuggestSlots(ctx context.Context, orgID string, day time.Time, duration time.Duration) (*Result, error) {
	if duration <= 0 {
		return nil, domain.E(domain.KindValidation, "slot duration must be positive")
	}
	if duration > e.dayEnd-e.dayStart {
		return nil, domain.E(domain.KindValidation, "slot duration exceeds the working window")
	}

	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	windowStart := midnight.Add(e.dayStart)
	windowEnd := midnight.Add(e.dayEnd)

	busy, err := e.remote.ListBusy(ctx, orgID, windowStart, windowEnd)
	if err != nil {
		if domain.KindOf(err) != domain.KindRemoteUnavailable {
			return nil, err
		}
		log.Printf("availability: busy lookup failed for organization %s: %v", orgID, err)
		return &Result{
			Slots:    nil,
			Degraded: true,
			Cause:    domain.MessageOf(err),
		}, nil
	}

	return &Result{
		Slots: ComputeSlots(e.clock(), windowStart, windowEnd, e.granularity, duration, busy, e.maxSuggestions),
	}, nil
}

// ComputeSlots walks the window on granularity boundaries and keeps candidates
// that fit before the window end, start at or after now, and overlap no busy
// interval. Intervals are half-open, so a candidate that merely touches a busy
// boundary is free.
func ComputeSlots(now, windowStart, windowEnd time.Time, granularity, duration time.Duration, busy []domain.BusySlot, max int) []domain.TimeSlot {
	slots := make([]domain.TimeSlot, 0, max)
	for start := windowStart; !start.Add(duration).After(windowEnd); start = start.Add(granularity) {
		if start.Before(now) {
			continue
		}
		end := start.Add(duration)
		if anyOverlap(busy, start, end) {
			continue
		}
		slots = append(slots, domain.TimeSlot{Start: start, End: end})
		if len(slots) == max {
			break
		}
	}
	return slots
}

func anyOverlap(busy []domain.BusySlot, start, end time.Time) bool {
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}
