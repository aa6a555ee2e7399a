package domain

import (
	"context"
	"time"
)

// Channel is the delivery channel for a reminder.
type Channel string

const (
	ChannelEmail    Channel = "Email"
	ChannelWhatsApp Channel = "WhatsApp"
)

// ReminderStatus models the reminder lifecycle. sent and failed are terminal;
// the dispatcher never revisits them.
type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderSent      ReminderStatus = "sent"
	ReminderFailed    ReminderStatus = "failed"
)

// ReminderSpec is the caller-supplied request: fire this message on this
// channel N minutes before the event starts.
type ReminderSpec struct {
	Channel       Channel
	MinutesBefore int
	Message       string
}

// EventReminder is a persisted reminder row.
type EventReminder struct {
	ID             string
	EventID        string
	OrganizationID string
	Channel        Channel
	ScheduledAt    time.Time
	Status         ReminderStatus
	ErrorMessage   *string
	Message        string
	CreatedAt      time.Time
	SentAt         *time.Time
}

// DueReminder is a claimed reminder joined with the recipient and event
// fields the dispatcher needs to deliver it.
type DueReminder struct {
	EventReminder
	EventSummary string
	ContactName  string
	ContactEmail string
	ContactPhone string
}

// ReminderStore persists reminders. InsertBatch is atomic: either every
// reminder in the batch lands or none do. ClaimDue must hand a given
// scheduled row to exactly one dispatcher.
type ReminderStore interface {
	InsertBatch(ctx context.Context, reminders []EventReminder) error
	DeletePending(ctx context.Context, orgID, eventID string) error
	ListByEvent(ctx context.Context, orgID, eventID string) ([]EventReminder, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]DueReminder, error)
	MarkSent(ctx context.Context, orgID, reminderID string, at time.Time) error
	MarkFailed(ctx context.Context, orgID, reminderID, cause string) error
}

// NotificationChannel sends rendered reminder messages. Implementations live
// outside the scheduling core.
type NotificationChannel interface {
	SendEmail(ctx context.Context, to, subject, body string) error
	SendWhatsApp(ctx context.Context, to, body string) error
}
