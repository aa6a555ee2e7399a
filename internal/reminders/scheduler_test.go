package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/domain"
)

var (
	eventStart = time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	schedNow   = time.Date(2024, time.June, 1, 8, 0, 0, 0, time.UTC)
)

func testEvent() *domain.CrmEvent {
	return &domain.CrmEvent{
		ID:             "evt-1",
		OrganizationID: "org-1",
		ContactID:      "contact-1",
		Summary:        "Quarterly review",
		StartTime:      eventStart,
		EndTime:        eventStart.Add(time.Hour),
		Status:         domain.EventConfirmed,
	}
}

func testContact() *domain.Contact {
	return &domain.Contact{ID: "contact-1", Name: "Ada", Email: "ada@example.com", Phone: "+390000000"}
}

func TestScheduleComputesFireTimes(t *testing.T) {
	store := &memReminderStore{}
	sched := NewScheduler(store, func() time.Time { return schedNow })

	rows, err := sched.Schedule(context.Background(), testEvent(), testContact(), []domain.ReminderSpec{
		{Channel: domain.ChannelEmail, MinutesBefore: 60},
		{Channel: domain.ChannelWhatsApp, MinutesBefore: 30},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC), rows[0].ScheduledAt)
	require.Equal(t, time.Date(2024, time.June, 1, 9, 30, 0, 0, time.UTC), rows[1].ScheduledAt)
	require.Equal(t, domain.ReminderScheduled, rows[0].Status)
	require.Len(t, store.inserted, 2)
}

func TestScheduleDropsPastFireTimesSilently(t *testing.T) {
	store := &memReminderStore{}
	sched := NewScheduler(store, func() time.Time { return schedNow })

	rows, err := sched.Schedule(context.Background(), testEvent(), testContact(), []domain.ReminderSpec{
		{Channel: domain.ChannelEmail, MinutesBefore: 180}, // fires 07:00, already past
		{Channel: domain.ChannelEmail, MinutesBefore: 30},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, time.Date(2024, time.June, 1, 9, 30, 0, 0, time.UTC), rows[0].ScheduledAt)
}

func TestScheduleAllPastYieldsNoInsert(t *testing.T) {
	store := &memReminderStore{}
	sched := NewScheduler(store, func() time.Time { return eventStart })

	rows, err := sched.Schedule(context.Background(), testEvent(), testContact(), []domain.ReminderSpec{
		{Channel: domain.ChannelEmail, MinutesBefore: 60},
	})
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Empty(t, store.inserted, "no batch insert for an empty set")
}

func TestScheduleRendersMessageTemplate(t *testing.T) {
	store := &memReminderStore{}
	sched := NewScheduler(store, func() time.Time { return schedNow })

	rows, err := sched.Schedule(context.Background(), testEvent(), testContact(), []domain.ReminderSpec{
		{Channel: domain.ChannelEmail, MinutesBefore: 30, Message: "See you at {{.EventSummary}}, {{.ContactName}}"},
	})
	require.NoError(t, err)
	require.Equal(t, "See you at Quarterly review, Ada", rows[0].Message)
}

func TestScheduleDefaultMessage(t *testing.T) {
	store := &memReminderStore{}
	sched := NewScheduler(store, func() time.Time { return schedNow })

	rows, err := sched.Schedule(context.Background(), testEvent(), testContact(), []domain.ReminderSpec{
		{Channel: domain.ChannelEmail, MinutesBefore: 30},
	})
	require.NoError(t, err)
	require.Equal(t, "Hi Ada, this is a reminder for Quarterly review on 01 Jun 2024 10:00.", rows[0].Message)
}

func TestScheduleValidation(t *testing.T) {
	sched := NewScheduler(&memReminderStore{}, func() time.Time { return schedNow })

	_, err := sched.Schedule(context.Background(), testEvent(), testContact(), []domain.ReminderSpec{
		{Channel: domain.ChannelEmail, MinutesBefore: 0},
	})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	noEmail := &domain.Contact{ID: "contact-1", Name: "Ada", Phone: "+390000000"}
	_, err = sched.Schedule(context.Background(), testEvent(), noEmail, []domain.ReminderSpec{
		{Channel: domain.ChannelEmail, MinutesBefore: 30},
	})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = sched.Schedule(context.Background(), testEvent(), testContact(), []domain.ReminderSpec{
		{Channel: "Pager", MinutesBefore: 30},
	})
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRescheduleDerivesOffsetsFromPendingRows(t *testing.T) {
	oldStart := eventStart
	store := &memReminderStore{
		existing: []domain.EventReminder{
			{ID: "r1", EventID: "evt-1", OrganizationID: "org-1", Channel: domain.ChannelEmail,
				ScheduledAt: oldStart.Add(-60 * time.Minute), Status: domain.ReminderScheduled, Message: "keep this text"},
			{ID: "r2", EventID: "evt-1", OrganizationID: "org-1", Channel: domain.ChannelEmail,
				ScheduledAt: oldStart.Add(-30 * time.Minute), Status: domain.ReminderSent, Message: "terminal, ignored"},
		},
	}
	sched := NewScheduler(store, func() time.Time { return schedNow })

	moved := testEvent()
	moved.StartTime = eventStart.Add(2 * time.Hour)

	rows, err := sched.Reschedule(context.Background(), moved, testContact(), nil, oldStart)
	require.NoError(t, err)
	require.True(t, store.pendingDeleted)
	require.Len(t, rows, 1, "terminal rows are not carried over")
	require.Equal(t, moved.StartTime.Add(-60*time.Minute), rows[0].ScheduledAt)
	require.Equal(t, "keep this text", rows[0].Message)
}

func TestRescheduleWithExplicitSpecsReplacesPending(t *testing.T) {
	store := &memReminderStore{}
	sched := NewScheduler(store, func() time.Time { return schedNow })

	rows, err := sched.Reschedule(context.Background(), testEvent(), testContact(), []domain.ReminderSpec{
		{Channel: domain.ChannelWhatsApp, MinutesBefore: 45},
	}, eventStart)
	require.NoError(t, err)
	require.True(t, store.pendingDeleted)
	require.Len(t, rows, 1)
	require.Equal(t, domain.ChannelWhatsApp, rows[0].Channel)
}

type memReminderStore struct {
	inserted       []domain.EventReminder
	existing       []domain.EventReminder
	pendingDeleted bool
}

func (m *memReminderStore) InsertBatch(_ context.Context, rows []domain.EventReminder) error {
	m.inserted = append(m.inserted, rows...)
	return nil
}

func (m *memReminderStore) DeletePending(context.Context, string, string) error {
	m.pendingDeleted = true
	return nil
}

func (m *memReminderStore) ListByEvent(context.Context, string, string) ([]domain.EventReminder, error) {
	return m.existing, nil
}

func (m *memReminderStore) ClaimDue(context.Context, time.Time, int) ([]domain.DueReminder, error) {
	return nil, nil
}

func (m *memReminderStore) MarkSent(context.Context, string, string, time.Time) error { return nil }

func (m *memReminderStore) MarkFailed(context.Context, string, string, string) error {
	return nil
}
