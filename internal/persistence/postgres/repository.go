// Package postgres provides Postgres-backed persistence for the scheduling
// service. Every tenant-scoped statement runs inside a transaction that sets
// app.tenant_id so the row-level security policies apply.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/observability"
	"example.com/scheduling/internal/outbox"
)

// CredentialRepository implements domain.CredentialStore.
type CredentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository constructs a CredentialRepository.
func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

// Get returns the organization's credential, or (nil, nil) when none exists.
func (r *CredentialRepository) Get(ctx context.Context, orgID string) (*domain.CalendarCredential, error) {
	const query = `SELECT organization_id, access_token, refresh_token, COALESCE(token_expiry, 'epoch'::timestamptz), COALESCE(google_email, ''), COALESCE(last_validated_at, 'epoch'::timestamptz), created_at, updated_at
        FROM calendar_credentials WHERE organization_id=$1`

	var cred domain.CalendarCredential
	err := inTenantTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, query, orgID)
		return row.Scan(&cred.OrganizationID, &cred.AccessToken, &cred.RefreshToken, &cred.TokenExpiry, &cred.GoogleEmail, &cred.LastValidatedAt, &cred.CreatedAt, &cred.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// Save upserts the whole credential row atomically, so readers never observe
// a token pair mid-replacement.
func (r *CredentialRepository) Save(ctx context.Context, cred domain.CalendarCredential) error {
	const stmt = `INSERT INTO calendar_credentials (organization_id, access_token, refresh_token, token_expiry, google_email, last_validated_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (organization_id) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            token_expiry = EXCLUDED.token_expiry,
            google_email = EXCLUDED.google_email,
            last_validated_at = EXCLUDED.last_validated_at,
            updated_at = EXCLUDED.updated_at`

	return inTenantTx(ctx, r.pool, cred.OrganizationID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt,
			cred.OrganizationID,
			cred.AccessToken,
			cred.RefreshToken,
			nullIfZeroTime(cred.TokenExpiry),
			nullIfEmpty(cred.GoogleEmail),
			nullIfZeroTime(cred.LastValidatedAt),
			cred.CreatedAt,
			cred.UpdatedAt,
		)
		return err
	})
}

// Delete removes the credential. Deleting an absent credential is a no-op.
func (r *CredentialRepository) Delete(ctx context.Context, orgID string) error {
	return inTenantTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM calendar_credentials WHERE organization_id=$1`, orgID)
		return err
	})
}

// EventRepository implements domain.EventStore and records outbox events in
// the same transaction as the event row.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

const eventColumns = `event_id, organization_id, contact_id, summary, description, start_time, end_time, status, google_event_id, created_at, updated_at`

// Insert persists the event and enqueues calendar.event.created.
func (r *EventRepository) Insert(ctx context.Context, event domain.CrmEvent) error {
	const stmt = `INSERT INTO crm_events (` + eventColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	err := inTenantTx(ctx, r.pool, event.OrganizationID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, stmt,
			event.ID,
			event.OrganizationID,
			event.ContactID,
			event.Summary,
			event.Description,
			event.StartTime,
			event.EndTime,
			event.Status,
			event.GoogleEventID,
			event.CreatedAt,
			event.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return insertOutbox(ctx, tx, event, "calendar.event.created", outbox.CalendarEventCreated{
			EventID:        event.ID,
			OrganizationID: event.OrganizationID,
			ContactID:      event.ContactID,
			Summary:        event.Summary,
			StartTime:      event.StartTime,
			EndTime:        event.EndTime,
			GoogleEventID:  stringValue(event.GoogleEventID),
			Synced:         event.Synced(),
		})
	})
	if err != nil {
		return err
	}
	observability.RecordEventPersisted(event.UpdatedAt)
	return nil
}

// Get returns the event, or (nil, nil) when it does not exist.
func (r *EventRepository) Get(ctx context.Context, orgID, eventID string) (*domain.CrmEvent, error) {
	const query = `SELECT ` + eventColumns + ` FROM crm_events WHERE organization_id=$1 AND event_id=$2`

	var event domain.CrmEvent
	err := inTenantTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		return scanEvent(tx.QueryRow(ctx, query, orgID, eventID), &event)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Update rewrites the mutable columns and enqueues the matching domain event.
// A row moving to cancelled emits calendar.event.cancelled instead of
// calendar.event.updated.
func (r *EventRepository) Update(ctx context.Context, event domain.CrmEvent) error {
	const stmt = `UPDATE crm_events SET summary=$3, description=$4, start_time=$5, end_time=$6, status=$7, google_event_id=$8, updated_at=$9
        WHERE organization_id=$1 AND event_id=$2`

	err := inTenantTx(ctx, r.pool, event.OrganizationID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, stmt,
			event.OrganizationID,
			event.ID,
			event.Summary,
			event.Description,
			event.StartTime,
			event.EndTime,
			event.Status,
			event.GoogleEventID,
			event.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		if event.Status == domain.EventCancelled {
			return insertOutbox(ctx, tx, event, "calendar.event.cancelled", outbox.CalendarEventCancelled{
				EventID:        event.ID,
				OrganizationID: event.OrganizationID,
				ContactID:      event.ContactID,
				CancelledAt:    event.UpdatedAt,
			})
		}
		return insertOutbox(ctx, tx, event, "calendar.event.updated", outbox.CalendarEventUpdated{
			EventID:        event.ID,
			OrganizationID: event.OrganizationID,
			ContactID:      event.ContactID,
			Summary:        event.Summary,
			StartTime:      event.StartTime,
			EndTime:        event.EndTime,
			GoogleEventID:  stringValue(event.GoogleEventID),
			Synced:         event.Synced(),
			OccurredAt:     event.UpdatedAt,
		})
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.E(domain.KindNotFound, "event not found")
	}
	if err != nil {
		return err
	}
	observability.RecordEventPersisted(event.UpdatedAt)
	return nil
}

// ListByContact returns the contact's events newest-first with keyset
// pagination over (start_time, event_id).
func (r *EventRepository) ListByContact(ctx context.Context, orgID, contactID string, cursor *domain.Cursor, limit int) ([]domain.CrmEvent, *domain.Cursor, error) {
	args := []interface{}{orgID, contactID, limit}
	query := `SELECT ` + eventColumns + ` FROM crm_events WHERE organization_id=$1 AND contact_id=$2`
	if cursor != nil {
		query += ` AND (start_time, event_id) < ($4, $5)`
		args = append(args, cursor.StartTime, cursor.ID)
	}
	query += ` ORDER BY start_time DESC, event_id DESC LIMIT $3`

	results := make([]domain.CrmEvent, 0, limit)
	err := inTenantTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var event domain.CrmEvent
			if err := scanEvent(rows, &event); err != nil {
				return err
			}
			results = append(results, event)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartTime: last.StartTime, ID: last.ID}
	}
	return results, next, nil
}

// ReminderRepository implements domain.ReminderStore.
type ReminderRepository struct {
	pool *pgxpool.Pool
}

// NewReminderRepository constructs a ReminderRepository.
func NewReminderRepository(pool *pgxpool.Pool) *ReminderRepository {
	return &ReminderRepository{pool: pool}
}

const reminderColumns = `reminder_id, event_id, organization_id, channel, scheduled_at, status, error_message, message, created_at, sent_at`

// InsertBatch persists every reminder in one transaction: all or nothing.
func (r *ReminderRepository) InsertBatch(ctx context.Context, reminders []domain.EventReminder) error {
	if len(reminders) == 0 {
		return nil
	}
	const stmt = `INSERT INTO event_reminders (` + reminderColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	return inTenantTx(ctx, r.pool, reminders[0].OrganizationID, func(tx pgx.Tx) error {
		for _, rem := range reminders {
			_, err := tx.Exec(ctx, stmt,
				rem.ID,
				rem.EventID,
				rem.OrganizationID,
				rem.Channel,
				rem.ScheduledAt,
				rem.Status,
				rem.ErrorMessage,
				rem.Message,
				rem.CreatedAt,
				rem.SentAt,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePending removes the scheduled reminders of an event, leaving terminal
// rows in place as delivery history.
func (r *ReminderRepository) DeletePending(ctx context.Context, orgID, eventID string) error {
	return inTenantTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM event_reminders WHERE organization_id=$1 AND event_id=$2 AND status='scheduled'`, orgID, eventID)
		return err
	})
}

// ListByEvent returns every reminder of an event, terminal rows included.
func (r *ReminderRepository) ListByEvent(ctx context.Context, orgID, eventID string) ([]domain.EventReminder, error) {
	const query = `SELECT ` + reminderColumns + ` FROM event_reminders
        WHERE organization_id=$1 AND event_id=$2 ORDER BY scheduled_at`

	var results []domain.EventReminder
	err := inTenantTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, orgID, eventID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rem domain.EventReminder
			if err := rows.Scan(&rem.ID, &rem.EventID, &rem.OrganizationID, &rem.Channel, &rem.ScheduledAt, &rem.Status, &rem.ErrorMessage, &rem.Message, &rem.CreatedAt, &rem.SentAt); err != nil {
				return err
			}
			results = append(results, rem)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// claimStaleAfter lets a crashed dispatcher's claims be retried.
const claimStaleAfter = 5 * time.Minute

// ClaimDue atomically claims up to limit due reminders across tenants and
// returns them joined with the recipient and event fields. FOR UPDATE SKIP
// LOCKED keeps concurrent dispatchers from claiming the same row.
func (r *ReminderRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.DueReminder, error) {
	const query = `
        WITH due AS (
            SELECT reminder_id FROM event_reminders
            WHERE status='scheduled' AND scheduled_at <= $1
              AND (claimed_at IS NULL OR claimed_at < $2)
            ORDER BY scheduled_at
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        UPDATE event_reminders r SET claimed_at = NOW()
        FROM due, crm_events e, contacts c
        WHERE r.reminder_id = due.reminder_id
          AND e.event_id = r.event_id
          AND c.contact_id = e.contact_id
        RETURNING r.reminder_id, r.event_id, r.organization_id, r.channel, r.scheduled_at, r.status, r.error_message, r.message, r.created_at, r.sent_at,
            e.summary, c.name, COALESCE(c.email, ''), COALESCE(c.phone, '')`

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query, now, now.Add(-claimStaleAfter), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.DueReminder
	for rows.Next() {
		var due domain.DueReminder
		if err := rows.Scan(&due.ID, &due.EventID, &due.OrganizationID, &due.Channel, &due.ScheduledAt, &due.Status, &due.ErrorMessage, &due.Message, &due.CreatedAt, &due.SentAt,
			&due.EventSummary, &due.ContactName, &due.ContactEmail, &due.ContactPhone); err != nil {
			return nil, err
		}
		results = append(results, due)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// MarkSent moves the reminder to its terminal sent state.
func (r *ReminderRepository) MarkSent(ctx context.Context, orgID, reminderID string, at time.Time) error {
	err := inTenantTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE event_reminders SET status='sent', sent_at=$3 WHERE organization_id=$1 AND reminder_id=$2 AND status='scheduled'`, orgID, reminderID, at)
		return err
	})
	if err != nil {
		return err
	}
	observability.RecordReminderDispatched(at)
	return nil
}

// MarkFailed moves the reminder to its terminal failed state with the cause.
// sent_at stays NULL: nothing was delivered.
func (r *ReminderRepository) MarkFailed(ctx context.Context, orgID, reminderID, cause string) error {
	return inTenantTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `UPDATE event_reminders SET status='failed', error_message=$3 WHERE organization_id=$1 AND reminder_id=$2 AND status='scheduled'`, orgID, reminderID, cause)
		return err
	})
}

// ContactRepository implements domain.ContactStore.
type ContactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository constructs a ContactRepository.
func NewContactRepository(pool *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

// Resolve returns the contact, or (nil, nil) when it does not exist in the
// organization.
func (r *ContactRepository) Resolve(ctx context.Context, orgID, contactID string) (*domain.Contact, error) {
	const query = `SELECT contact_id, name, COALESCE(email, ''), COALESCE(phone, '')
        FROM contacts WHERE organization_id=$1 AND contact_id=$2`

	var contact domain.Contact
	err := inTenantTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, orgID, contactID).Scan(&contact.ID, &contact.Name, &contact.Email, &contact.Phone)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// OrganizationRepository implements domain.OrganizationStore.
type OrganizationRepository struct {
	pool *pgxpool.Pool
}

// NewOrganizationRepository constructs an OrganizationRepository.
func NewOrganizationRepository(pool *pgxpool.Pool) *OrganizationRepository {
	return &OrganizationRepository{pool: pool}
}

// OrganizationExists reports whether the organization is known.
func (r *OrganizationRepository) OrganizationExists(ctx context.Context, orgID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM organizations WHERE organization_id=$1)`, orgID).Scan(&exists)
	return exists, err
}

// inTenantTx runs fn in a transaction with app.tenant_id set for the RLS
// policies, committing on success.
func inTenantTx(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(tx pgx.Tx) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, event domain.CrmEvent, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, stmt,
		event.OrganizationID,
		"calendar_event",
		event.ID,
		eventType,
		meta.Topic,
		meta.PartitionKeyFn(event),
		body,
	)
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable, event *domain.CrmEvent) error {
	return row.Scan(&event.ID, &event.OrganizationID, &event.ContactID, &event.Summary, &event.Description, &event.StartTime, &event.EndTime, &event.Status, &event.GoogleEventID, &event.CreatedAt, &event.UpdatedAt)
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZeroTime(value time.Time) interface{} {
	if value.IsZero() {
		return nil
	}
	return value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	PartitionKeyFn func(domain.CrmEvent) string
}

var eventCatalog = map[string]EventMetadata{
	"calendar.event.created": {
		Topic: "calendar_events",
		PartitionKeyFn: func(e domain.CrmEvent) string {
			return fmt.Sprintf("%s:%s", e.OrganizationID, e.ContactID)
		},
	},
	"calendar.event.updated": {
		Topic: "calendar_events",
		PartitionKeyFn: func(e domain.CrmEvent) string {
			return fmt.Sprintf("%s:%s", e.OrganizationID, e.ContactID)
		},
	},
	"calendar.event.cancelled": {
		Topic: "calendar_events",
		PartitionKeyFn: func(e domain.CrmEvent) string {
			return fmt.Sprintf("%s:%s", e.OrganizationID, e.ContactID)
		},
	},
}
