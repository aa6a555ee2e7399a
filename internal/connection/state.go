// Package connection derives the calendar connection state for an
// organization and owns the liveness probe lifecycle.
package connection

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"example.com/scheduling/internal/domain"
)

// Status derives the connection status purely from the stored credential.
// The three outcomes are exhaustive and mutually exclusive.
func Status(cred *domain.CalendarCredential) domain.ConnectionStatus {
	switch {
	case cred == nil:
		return domain.StatusDisconnected
	case !cred.Valid():
		return domain.StatusCorrupted
	default:
		return domain.StatusConnected
	}
}

type orgState struct {
	liveness domain.Liveness
	cause    string
}

// Tracker answers "can we talk to the remote calendar right now" without
// re-probing on every request. The first observation of a connected
// credential issues exactly one probe per organization; concurrent observers
// wait on the in-flight probe instead of issuing their own.
type Tracker struct {
	creds   domain.CredentialStore
	remote  domain.RemoteCalendar
	timeout time.Duration

	mu    sync.Mutex
	orgs  map[string]*orgState
	group singleflight.Group
}

// NewTracker constructs a Tracker. timeout bounds each probe call.
func NewTracker(creds domain.CredentialStore, remote domain.RemoteCalendar, timeout time.Duration) *Tracker {
	return &Tracker{
		creds:   creds,
		remote:  remote,
		timeout: timeout,
		orgs:    make(map[string]*orgState),
	}
}

// State returns the current connection state, probing the remote calendar if
// this organization has not been probed since its last reset.
func (t *Tracker) State(ctx context.Context, orgID string) (domain.ConnectionState, error) {
	cred, err := t.creds.Get(ctx, orgID)
	if err != nil {
		return domain.ConnectionState{}, err
	}

	status := Status(cred)
	if status != domain.StatusConnected {
		// Leaving the connected state invalidates any probe result.
		t.Reset(orgID)
		return domain.ConnectionState{Status: status, Liveness: domain.LivenessIdle}, nil
	}

	liveness, cause := t.ensureProbed(ctx, orgID)
	return domain.ConnectionState{Status: status, Liveness: liveness, Cause: cause}, nil
}

// ensureProbed moves idle -> checking -> valid|error at most once per reset.
// The singleflight group coalesces concurrent idle observers onto one probe.
func (t *Tracker) ensureProbed(ctx context.Context, orgID string) (domain.Liveness, string) {
	t.mu.Lock()
	st, ok := t.orgs[orgID]
	if !ok {
		st = &orgState{liveness: domain.LivenessIdle}
		t.orgs[orgID] = st
	}
	if st.liveness == domain.LivenessValid || st.liveness == domain.LivenessError {
		liveness, cause := st.liveness, st.cause
		t.mu.Unlock()
		return liveness, cause
	}
	st.liveness = domain.LivenessChecking
	t.mu.Unlock()

	// The probe runs detached from the caller's context so that a cancelled
	// request does not fail the probe every waiter shares.
	_, err, _ := t.group.Do(orgID, func() (interface{}, error) {
		return nil, t.probe(orgID)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok = t.orgs[orgID]
	if !ok {
		// Reset raced the probe; stay idle and let the next observer re-probe.
		return domain.LivenessIdle, ""
	}
	if st.liveness == domain.LivenessChecking {
		if err != nil {
			st.liveness = domain.LivenessError
			st.cause = domain.MessageOf(err)
		} else {
			st.liveness = domain.LivenessValid
			st.cause = ""
		}
	}
	return st.liveness, st.cause
}

// probe issues the remote liveness call, unless the state settled or was
// reset while this caller was between observing checking and joining the
// flight. Singleflight only dedups in-flight calls, so without the re-check a
// late joiner would fire one extra remote call after the result landed.
func (t *Tracker) probe(orgID string) error {
	t.mu.Lock()
	st, ok := t.orgs[orgID]
	if !ok || st.liveness != domain.LivenessChecking {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	return t.remote.Probe(probeCtx, orgID)
}

// Reset returns the organization to idle so the next observation re-probes.
// Called after successful event sync, completed authorization, and disconnect.
func (t *Tracker) Reset(orgID string) {
	t.mu.Lock()
	delete(t.orgs, orgID)
	t.mu.Unlock()
	t.group.Forget(orgID)
}
