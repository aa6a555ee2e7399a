package reminders

import (
	"context"
	"errors"
	"log"
	"time"

	"example.com/scheduling/internal/domain"
)

// Dispatcher polls for due reminders and delivers them. sent and failed are
// terminal: a reminder is attempted exactly once and never revisited.
type Dispatcher struct {
	store            domain.ReminderStore
	notifier         domain.NotificationChannel
	pollInterval     time.Duration
	batchSize        int
	clock            func() time.Time
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store domain.ReminderStore, notifier domain.NotificationChannel, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		store:            store,
		notifier:         notifier,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		clock:            time.Now,
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.DispatchDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("reminder dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the polling loop has exited.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

// DispatchDue claims one batch of due reminders and delivers each exactly
// once. Delivery failures mark the row failed with the cause; they do not
// abort the rest of the batch.
func (d *Dispatcher) DispatchDue(ctx context.Context) error {
	start := time.Now()
	now := d.clock().UTC()

	due, err := d.store.ClaimDue(ctx, now, d.batchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	for _, reminder := range due {
		if err := d.deliver(ctx, reminder); err != nil {
			failedCounter.WithLabelValues(string(reminder.Channel)).Inc()
			log.Printf("reminders: delivery of %s to contact of event %s failed: %v", reminder.ID, reminder.EventID, err)
			if markErr := d.store.MarkFailed(ctx, reminder.OrganizationID, reminder.ID, domain.MessageOf(err)); markErr != nil {
				return markErr
			}
			continue
		}
		sentCounter.WithLabelValues(string(reminder.Channel)).Inc()
		if err := d.store.MarkSent(ctx, reminder.OrganizationID, reminder.ID, d.clock().UTC()); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, reminder domain.DueReminder) error {
	switch reminder.Channel {
	case domain.ChannelEmail:
		if reminder.ContactEmail == "" {
			return domain.E(domain.KindReminderDeliveryFailed, "contact has no email address")
		}
		subject := "Reminder: " + reminder.EventSummary
		return d.notifier.SendEmail(ctx, reminder.ContactEmail, subject, reminder.Message)
	case domain.ChannelWhatsApp:
		if reminder.ContactPhone == "" {
			return domain.E(domain.KindReminderDeliveryFailed, "contact has no phone number")
		}
		return d.notifier.SendWhatsApp(ctx, reminder.ContactPhone, reminder.Message)
	default:
		return domain.E(domain.KindReminderDeliveryFailed, "unsupported reminder channel")
	}
}
