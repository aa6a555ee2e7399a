// Package google adapts the Google Calendar API to the RemoteCalendar
// contract, resolving stored credentials and refreshing tokens as needed.
package google

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"example.com/scheduling/internal/domain"
)

const primaryCalendarID = "primary"

// refreshExpiryBuffer forces a token refresh shortly before the stored expiry
// so in-flight calls do not race the provider-side cutoff.
const refreshExpiryBuffer = 60 * time.Second

// Client implements domain.RemoteCalendar against the organization's primary
// Google calendar.
type Client struct {
	creds    domain.CredentialStore
	oauthCfg *oauth2.Config
	timeout  time.Duration
	clock    func() time.Time
}

// NewClient constructs a Client. timeout bounds every remote call.
func NewClient(creds domain.CredentialStore, oauthCfg *oauth2.Config, timeout time.Duration) *Client {
	return &Client{creds: creds, oauthCfg: oauthCfg, timeout: timeout, clock: time.Now}
}

// ListBusy returns the busy intervals of the primary calendar in [from, to).
func (c *Client) ListBusy(ctx context.Context, orgID string, from, to time.Time) ([]domain.BusySlot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, orgID)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: primaryCalendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, c.classify("free/busy query", err)
	}

	cal, ok := resp.Calendars[primaryCalendarID]
	if !ok {
		return nil, nil
	}
	busy := make([]domain.BusySlot, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		start, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, domain.Wrap(domain.KindRemoteUnavailable, "remote calendar returned an unparseable busy interval", err)
		}
		end, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, domain.Wrap(domain.KindRemoteUnavailable, "remote calendar returned an unparseable busy interval", err)
		}
		busy = append(busy, domain.BusySlot{Start: start, End: end})
	}
	return busy, nil
}

// CreateEvent inserts the event into the primary calendar and notifies
// attendees.
func (c *Client) CreateEvent(ctx context.Context, orgID string, payload domain.EventPayload) (*domain.RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, orgID)
	if err != nil {
		return nil, err
	}

	created, err := svc.Events.Insert(primaryCalendarID, toAPIEvent(payload)).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return nil, c.classify("event insert", err)
	}
	return fromAPIEvent(created, payload), nil
}

// UpdateEvent patches the remote event in place.
func (c *Client) UpdateEvent(ctx context.Context, orgID, externalID string, payload domain.EventPayload) (*domain.RemoteEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, orgID)
	if err != nil {
		return nil, err
	}

	updated, err := svc.Events.Patch(primaryCalendarID, externalID, toAPIEvent(payload)).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return nil, c.classify("event patch", err)
	}
	return fromAPIEvent(updated, payload), nil
}

// DeleteEvent removes the remote event. An event already gone remotely counts
// as deleted.
func (c *Client) DeleteEvent(ctx context.Context, orgID, externalID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, orgID)
	if err != nil {
		return err
	}

	err = svc.Events.Delete(primaryCalendarID, externalID).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			log.Printf("google: event %s already absent remotely for organization %s", externalID, orgID)
			return nil
		}
		return c.classify("event delete", err)
	}
	return nil
}

// Probe issues a minimal list call against the primary calendar to verify the
// credential end to end.
func (c *Client) Probe(ctx context.Context, orgID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	svc, err := c.service(ctx, orgID)
	if err != nil {
		return err
	}

	now := c.clock().UTC()
	_, err = svc.Events.List(primaryCalendarID).
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.Add(time.Hour).Format(time.RFC3339)).
		SingleEvents(true).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return c.classify("probe", err)
	}
	return nil
}

// service resolves the organization's credential and builds an authenticated
// calendar service. Refreshed tokens are written back through the store so the
// persisted row always holds the newest pair.
func (c *Client) service(ctx context.Context, orgID string) (*calendar.Service, error) {
	cred, err := c.creds.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.E(domain.KindNotConnected, "no calendar is connected for this organization")
	}
	if !cred.Valid() {
		return nil, domain.E(domain.KindCredentialCorrupted, "stored calendar credential is incomplete")
	}

	base := c.oauthCfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       cred.TokenExpiry,
	})
	source := oauth2.ReuseTokenSourceWithExpiry(nil, &persistingTokenSource{
		ctx:   ctx,
		base:  base,
		creds: c.creds,
		cred:  *cred,
		clock: c.clock,
	}, refreshExpiryBuffer)

	svc, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, domain.Wrap(domain.KindRemoteUnavailable, "building the remote calendar client failed", err)
	}
	return svc, nil
}

func (c *Client) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.KindRemoteUnavailable, "remote calendar did not answer in time", err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return domain.Wrap(domain.KindCredentialCorrupted, "refreshing the calendar token was rejected", err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return domain.Wrap(domain.KindCredentialCorrupted, "remote calendar rejected the stored credential", err)
	}
	return domain.Wrap(domain.KindRemoteUnavailable, fmt.Sprintf("%s against the remote calendar failed", op), err)
}

// persistingTokenSource writes refreshed tokens back to the credential store.
// A failed write is logged but does not fail the call; the refreshed token is
// still usable for the request in flight.
type persistingTokenSource struct {
	ctx   context.Context
	base  oauth2.TokenSource
	creds domain.CredentialStore
	cred  domain.CalendarCredential
	clock func() time.Time
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != p.cred.AccessToken {
		updated := p.cred
		updated.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			updated.RefreshToken = token.RefreshToken
		}
		updated.TokenExpiry = token.Expiry
		updated.UpdatedAt = p.clock().UTC()
		if err := p.creds.Save(p.ctx, updated); err != nil {
			log.Printf("google: persisting refreshed token for organization %s failed: %v", p.cred.OrganizationID, err)
		} else {
			p.cred = updated
		}
	}
	return token, nil
}

func toAPIEvent(payload domain.EventPayload) *calendar.Event {
	event := &calendar.Event{
		Summary:     payload.Summary,
		Description: payload.Description,
		Location:    payload.Location,
		Start:       &calendar.EventDateTime{DateTime: payload.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: payload.End.Format(time.RFC3339)},
	}
	if payload.AttendeeEmail != "" {
		event.Attendees = []*calendar.EventAttendee{{Email: payload.AttendeeEmail}}
	}
	return event
}

func fromAPIEvent(event *calendar.Event, payload domain.EventPayload) *domain.RemoteEvent {
	remote := &domain.RemoteEvent{ID: event.Id, Start: payload.Start, End: payload.End}
	if event.Start != nil && event.Start.DateTime != "" {
		if start, err := time.Parse(time.RFC3339, event.Start.DateTime); err == nil {
			remote.Start = start
		}
	}
	if event.End != nil && event.End.DateTime != "" {
		if end, err := time.Parse(time.RFC3339, event.End.DateTime); err == nil {
			remote.End = end
		}
	}
	return remote
}
