package oauth

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"

	"example.com/scheduling/internal/domain"
)

// TokenExchanger performs the authorization-code exchange with the provider.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

type googleExchanger struct {
	cfg *oauth2.Config
}

func (g googleExchanger) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.cfg.Exchange(ctx, code)
}

// NewGoogleConfig builds the oauth2 configuration for the calendar scopes the
// service needs.
func NewGoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{calendarapi.CalendarEventsScope, calendarapi.CalendarScope},
		Endpoint:     google.Endpoint,
	}
}

// LivenessResetter lets the flow return the connection tracker to idle after
// a successful (re)connect.
type LivenessResetter interface {
	Reset(orgID string)
}

// Flow runs the begin/complete authorization handshake.
type Flow struct {
	states    *StateManager
	creds     domain.CredentialStore
	orgs      domain.OrganizationStore
	exchanger TokenExchanger
	oauthCfg  *oauth2.Config
	tracker   LivenessResetter
	timeout   time.Duration
	clock     func() time.Time

	mu        sync.Mutex
	completed map[string]completedFlow // keyed by consumed state token
}

type completedFlow struct {
	orgID   string
	code    string
	expires time.Time
}

// NewFlow constructs a Flow. exchanger may be nil, in which case the real
// Google token endpoint is used.
func NewFlow(states *StateManager, creds domain.CredentialStore, orgs domain.OrganizationStore, oauthCfg *oauth2.Config, tracker LivenessResetter, exchangeTimeout time.Duration, exchanger TokenExchanger, clock func() time.Time) *Flow {
	if exchanger == nil {
		exchanger = googleExchanger{cfg: oauthCfg}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Flow{
		states:    states,
		creds:     creds,
		orgs:      orgs,
		exchanger: exchanger,
		oauthCfg:  oauthCfg,
		tracker:   tracker,
		timeout:   exchangeTimeout,
		clock:     clock,
		completed: make(map[string]completedFlow),
	}
}

// Begin issues a CSRF state and returns the provider consent URL embedding it.
func (f *Flow) Begin(ctx context.Context, orgID string) (string, error) {
	if err := f.resolveOrganization(ctx, orgID); err != nil {
		return "", err
	}
	state, err := f.states.Issue(orgID)
	if err != nil {
		return "", err
	}
	url := f.oauthCfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return url, nil
}

// Complete redeems the state, exchanges the code and persists the credential.
//
// A duplicate invocation for the same redirect (browser back button, double
// effect) is a no-op: the second call returns the already-stored credential
// without calling the provider again. Any other reuse of the state fails
// with an invalid-state error.
func (f *Flow) Complete(ctx context.Context, code, state, orgID string) (*domain.CalendarCredential, bool, error) {
	if code == "" {
		return nil, false, domain.E(domain.KindValidation, "authorization code is required")
	}
	if err := f.resolveOrganization(ctx, orgID); err != nil {
		return nil, false, err
	}

	if err := f.states.Consume(orgID, state); err != nil {
		if replay, ok := f.replayOf(state, code, orgID); ok {
			cred, getErr := f.creds.Get(ctx, replay.orgID)
			if getErr == nil && cred != nil {
				return cred, true, nil
			}
		}
		return nil, false, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	token, err := f.exchanger.Exchange(exchangeCtx, code)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, false, domain.Wrap(domain.KindExchangeTimeout, "the authorization provider did not answer in time", err)
		}
		return nil, false, domain.Wrap(domain.KindRemoteUnavailable, "token exchange with the provider failed", err)
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		return nil, false, domain.E(domain.KindCredentialCorrupted, "the provider returned an incomplete token pair")
	}

	now := f.clock().UTC()
	cred := domain.CalendarCredential{
		OrganizationID:  orgID,
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
		TokenExpiry:     token.Expiry,
		LastValidatedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := f.creds.Save(ctx, cred); err != nil {
		return nil, false, err
	}

	f.rememberCompletion(state, code, orgID)
	if f.tracker != nil {
		f.tracker.Reset(orgID)
	}
	log.Printf("oauth: calendar connected for organization %s", orgID)
	return &cred, false, nil
}

// Disconnect removes the stored credential and invalidates the probe state.
func (f *Flow) Disconnect(ctx context.Context, orgID string) error {
	if err := f.creds.Delete(ctx, orgID); err != nil {
		return err
	}
	if f.tracker != nil {
		f.tracker.Reset(orgID)
	}
	log.Printf("oauth: calendar disconnected for organization %s", orgID)
	return nil
}

func (f *Flow) resolveOrganization(ctx context.Context, orgID string) error {
	if orgID == "" {
		return domain.E(domain.KindValidation, "organization id is required")
	}
	exists, err := f.orgs.OrganizationExists(ctx, orgID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.E(domain.KindUnknownOrganization, "organization could not be resolved")
	}
	return nil
}

func (f *Flow) rememberCompletion(state, code, orgID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock()
	for token, done := range f.completed {
		if now.After(done.expires) {
			delete(f.completed, token)
		}
	}
	f.completed[state] = completedFlow{orgID: orgID, code: code, expires: now.Add(StateTTL)}
}

// replayOf reports whether this (state, code) pair already completed
// successfully, scoping the no-op guard to the exact redirect instance.
func (f *Flow) replayOf(state, code, orgID string) (completedFlow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	done, ok := f.completed[state]
	if !ok || done.code != code || done.orgID != orgID || f.clock().After(done.expires) {
		return completedFlow{}, false
	}
	return done, true
}
