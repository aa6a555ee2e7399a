package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/domain"
)

func TestStatusDerivation(t *testing.T) {
	cases := []struct {
		name string
		cred *domain.CalendarCredential
		want domain.ConnectionStatus
	}{
		{"absent", nil, domain.StatusDisconnected},
		{"missing access token", &domain.CalendarCredential{RefreshToken: "r"}, domain.StatusCorrupted},
		{"missing refresh token", &domain.CalendarCredential{AccessToken: "a"}, domain.StatusCorrupted},
		{"both empty", &domain.CalendarCredential{}, domain.StatusCorrupted},
		{"complete", &domain.CalendarCredential{AccessToken: "a", RefreshToken: "r"}, domain.StatusConnected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Status(tc.cred))
		})
	}
}

func TestStateProbesOnceWhileIdle(t *testing.T) {
	remote := &fakeRemote{gate: make(chan struct{})}
	tracker := NewTracker(connectedStore{}, remote, time.Second)

	const callers = 16
	results := make([]domain.ConnectionState, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = tracker.State(context.Background(), "org-1")
		}(i)
	}

	// Give every caller a chance to observe idle before the probe resolves.
	time.Sleep(50 * time.Millisecond)
	close(remote.gate)
	wg.Wait()

	require.Equal(t, int32(1), remote.probes.Load(), "concurrent idle observers must share one probe")
	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, state := range results {
		require.Equal(t, domain.StatusConnected, state.Status)
		require.Equal(t, domain.LivenessValid, state.Liveness)
	}
}

func TestStateDoesNotReprobeAfterSettling(t *testing.T) {
	remote := &fakeRemote{err: domain.E(domain.KindRemoteUnavailable, "calendar unreachable")}
	tracker := NewTracker(connectedStore{}, remote, time.Second)

	state, err := tracker.State(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, domain.LivenessError, state.Liveness)
	require.Equal(t, "calendar unreachable", state.Cause)

	state, err = tracker.State(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, domain.LivenessError, state.Liveness)
	require.Equal(t, int32(1), remote.probes.Load(), "error is sticky until reset")
}

func TestLateFlightJoinerSkipsSettledProbe(t *testing.T) {
	remote := &fakeRemote{}
	tracker := NewTracker(connectedStore{}, remote, time.Second)

	_, err := tracker.State(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, int32(1), remote.probes.Load())

	// A caller that observed checking but reached the flight only after the
	// result landed must not issue a fresh remote call.
	require.NoError(t, tracker.probe("org-1"))
	require.Equal(t, int32(1), remote.probes.Load())
}

func TestResetTriggersFreshProbe(t *testing.T) {
	remote := &fakeRemote{}
	tracker := NewTracker(connectedStore{}, remote, time.Second)

	_, err := tracker.State(context.Background(), "org-1")
	require.NoError(t, err)

	tracker.Reset("org-1")

	state, err := tracker.State(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, domain.LivenessValid, state.Liveness)
	require.Equal(t, int32(2), remote.probes.Load())
}

func TestStateForDisconnectedAndCorrupted(t *testing.T) {
	remote := &fakeRemote{}

	state, err := NewTracker(emptyStore{}, remote, time.Second).State(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusDisconnected, state.Status)
	require.Equal(t, domain.LivenessIdle, state.Liveness)

	state, err = NewTracker(corruptedStore{}, remote, time.Second).State(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCorrupted, state.Status)

	require.Equal(t, int32(0), remote.probes.Load(), "only connected credentials are probed")
}

type fakeRemote struct {
	probes atomic.Int32
	gate   chan struct{}
	err    error
}

func (f *fakeRemote) Probe(ctx context.Context, orgID string) error {
	f.probes.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.err
}

func (f *fakeRemote) ListBusy(context.Context, string, time.Time, time.Time) ([]domain.BusySlot, error) {
	return nil, nil
}

func (f *fakeRemote) CreateEvent(context.Context, string, domain.EventPayload) (*domain.RemoteEvent, error) {
	return nil, nil
}

func (f *fakeRemote) UpdateEvent(context.Context, string, string, domain.EventPayload) (*domain.RemoteEvent, error) {
	return nil, nil
}

func (f *fakeRemote) DeleteEvent(context.Context, string, string) error { return nil }

type connectedStore struct{}

func (connectedStore) Get(context.Context, string) (*domain.CalendarCredential, error) {
	return &domain.CalendarCredential{OrganizationID: "org-1", AccessToken: "a", RefreshToken: "r"}, nil
}
func (connectedStore) Save(context.Context, domain.CalendarCredential) error { return nil }
func (connectedStore) Delete(context.Context, string) error                  { return nil }

type emptyStore struct{}

func (emptyStore) Get(context.Context, string) (*domain.CalendarCredential, error) { return nil, nil }
func (emptyStore) Save(context.Context, domain.CalendarCredential) error           { return nil }
func (emptyStore) Delete(context.Context, string) error                            { return nil }

type corruptedStore struct{}

func (corruptedStore) Get(context.Context, string) (*domain.CalendarCredential, error) {
	return &domain.CalendarCredential{OrganizationID: "org-1", AccessToken: "a"}, nil
}
func (corruptedStore) Save(context.Context, domain.CalendarCredential) error { return nil }
func (corruptedStore) Delete(context.Context, string) error                  { return nil }
