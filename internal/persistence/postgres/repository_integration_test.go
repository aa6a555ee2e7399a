//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/scheduling/internal/domain"
)

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("crm"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func seedTenant(t *testing.T, ctx context.Context, pool *pgxpool.Pool) (orgID, contactID string) {
	t.Helper()
	orgID = uuid.NewString()
	contactID = uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO organizations (organization_id, name) VALUES ($1, 'Acme')`, orgID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO contacts (contact_id, organization_id, name, email, phone) VALUES ($1, $2, 'Ada', 'ada@example.com', '+390000000')`, contactID, orgID)
	require.NoError(t, err)
	return orgID, contactID
}

func TestCredentialRoundTrip(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	orgID, _ := seedTenant(t, ctx, pool)

	repo := NewCredentialRepository(pool)

	missing, err := repo.Get(ctx, orgID)
	require.NoError(t, err)
	require.Nil(t, missing)

	now := time.Now().UTC().Truncate(time.Microsecond)
	cred := domain.CalendarCredential{
		OrganizationID:  orgID,
		AccessToken:     "at-1",
		RefreshToken:    "rt-1",
		TokenExpiry:     now.Add(time.Hour),
		GoogleEmail:     "owner@example.com",
		LastValidatedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repo.Save(ctx, cred))

	stored, err := repo.Get(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, "at-1", stored.AccessToken)
	require.Equal(t, "owner@example.com", stored.GoogleEmail)

	// Save replaces the whole row.
	cred.AccessToken = "at-2"
	cred.RefreshToken = "rt-2"
	require.NoError(t, repo.Save(ctx, cred))
	stored, err = repo.Get(ctx, orgID)
	require.NoError(t, err)
	require.Equal(t, "at-2", stored.AccessToken)
	require.Equal(t, "rt-2", stored.RefreshToken)

	require.NoError(t, repo.Delete(ctx, orgID))
	gone, err := repo.Get(ctx, orgID)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestEventInsertWritesOutboxRow(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	orgID, contactID := seedTenant(t, ctx, pool)

	repo := NewEventRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)
	googleID := "g-123"
	event := domain.CrmEvent{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		ContactID:      contactID,
		Summary:        "Quarterly review",
		StartTime:      now.Add(24 * time.Hour),
		EndTime:        now.Add(25 * time.Hour),
		Status:         domain.EventConfirmed,
		GoogleEventID:  &googleID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, repo.Insert(ctx, event))

	stored, err := repo.Get(ctx, orgID, event.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "g-123", *stored.GoogleEventID)

	var eventType, topic string
	err = pool.QueryRow(ctx, `SELECT event_type, topic FROM outbox WHERE aggregate_id=$1`, event.ID).Scan(&eventType, &topic)
	require.NoError(t, err)
	require.Equal(t, "calendar.event.created", eventType)
	require.Equal(t, "calendar_events", topic)

	// Cancelling enqueues the cancelled event in the same transaction.
	cancelled := *stored
	cancelled.Status = domain.EventCancelled
	cancelled.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, repo.Update(ctx, cancelled))

	var count int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE aggregate_id=$1 AND event_type='calendar.event.cancelled'`, event.ID).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestListByContactPaginates(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	orgID, contactID := seedTenant(t, ctx, pool)

	repo := NewEventRepository(pool)
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		event := domain.CrmEvent{
			ID:             uuid.NewString(),
			OrganizationID: orgID,
			ContactID:      contactID,
			Summary:        "Meeting",
			StartTime:      base.Add(time.Duration(i) * time.Hour),
			EndTime:        base.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			Status:         domain.EventConfirmed,
			CreatedAt:      base,
			UpdatedAt:      base,
		}
		require.NoError(t, repo.Insert(ctx, event))
	}

	first, cursor, err := repo.ListByContact(ctx, orgID, contactID, nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.NotNil(t, cursor)
	require.True(t, first[0].StartTime.After(first[2].StartTime), "newest first")

	second, _, err := repo.ListByContact(ctx, orgID, contactID, cursor, 3)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.True(t, second[0].StartTime.Before(first[2].StartTime))
}

func TestReminderLifecycle(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	orgID, contactID := seedTenant(t, ctx, pool)

	eventRepo := NewEventRepository(pool)
	repo := NewReminderRepository(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	event := domain.CrmEvent{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		ContactID:      contactID,
		Summary:        "Quarterly review",
		StartTime:      now.Add(time.Hour),
		EndTime:        now.Add(2 * time.Hour),
		Status:         domain.EventConfirmed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, eventRepo.Insert(ctx, event))

	due := domain.EventReminder{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		OrganizationID: orgID,
		Channel:        domain.ChannelEmail,
		ScheduledAt:    now.Add(-time.Minute),
		Status:         domain.ReminderScheduled,
		Message:        "see you soon",
		CreatedAt:      now,
	}
	future := due
	future.ID = uuid.NewString()
	future.ScheduledAt = now.Add(30 * time.Minute)
	require.NoError(t, repo.InsertBatch(ctx, []domain.EventReminder{due, future}))

	claimed, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1, "only the due reminder is claimed")
	require.Equal(t, due.ID, claimed[0].ID)
	require.Equal(t, "Quarterly review", claimed[0].EventSummary)
	require.Equal(t, "ada@example.com", claimed[0].ContactEmail)

	// A second claim within the stale window finds nothing.
	again, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, again)

	require.NoError(t, repo.MarkSent(ctx, orgID, due.ID, now))
	require.NoError(t, repo.MarkFailed(ctx, orgID, future.ID, "mailbox unavailable"))
	rows, err := repo.ListByEvent(ctx, orgID, event.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		switch row.ID {
		case due.ID:
			require.Equal(t, domain.ReminderSent, row.Status)
			require.NotNil(t, row.SentAt)
		case future.ID:
			require.Equal(t, domain.ReminderFailed, row.Status)
			require.Nil(t, row.SentAt, "a failed reminder was never sent")
			require.NotNil(t, row.ErrorMessage)
			require.Equal(t, "mailbox unavailable", *row.ErrorMessage)
		}
	}

	// DeletePending only touches scheduled rows; both terminal rows survive.
	require.NoError(t, repo.DeletePending(ctx, orgID, event.ID))
	rows, err = repo.ListByEvent(ctx, orgID, event.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestContactAndOrganizationLookups(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)
	orgID, contactID := seedTenant(t, ctx, pool)

	contacts := NewContactRepository(pool)
	contact, err := contacts.Resolve(ctx, orgID, contactID)
	require.NoError(t, err)
	require.Equal(t, "Ada", contact.Name)

	missing, err := contacts.Resolve(ctx, orgID, uuid.NewString())
	require.NoError(t, err)
	require.Nil(t, missing)

	orgs := NewOrganizationRepository(pool)
	exists, err := orgs.OrganizationExists(ctx, orgID)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = orgs.OrganizationExists(ctx, uuid.NewString())
	require.NoError(t, err)
	require.False(t, exists)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
