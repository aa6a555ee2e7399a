// Package oauth implements the one-shot authorization flow that turns a
// Google consent redirect into a stored calendar credential.
package oauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"example.com/scheduling/internal/domain"
)

// StateTTL bounds how long an issued CSRF state stays redeemable.
const StateTTL = 10 * time.Minute

// StateManager issues and consumes single-use CSRF state tokens. Tokens are
// HMAC-signed (org id + nonce + issue time) and additionally tracked
// server-side so each one is redeemable exactly once.
type StateManager struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	pending map[string]pendingState // keyed by organization id
}

type pendingState struct {
	token   string
	expires time.Time
}

// NewStateManager constructs a StateManager. clock is injectable for tests.
func NewStateManager(secret []byte, clock func() time.Time) *StateManager {
	if clock == nil {
		clock = time.Now
	}
	return &StateManager{
		secret:  secret,
		ttl:     StateTTL,
		clock:   clock,
		pending: make(map[string]pendingState),
	}
}

// Issue mints a state token for the organization, replacing any earlier
// unredeemed token.
func (m *StateManager) Issue(orgID string) (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)
	issued := m.clock().Unix()

	payload := fmt.Sprintf("%s|%s|%d", orgID, nonce, issued)
	token := base64.URLEncoding.EncodeToString([]byte(payload + "|" + m.sign(payload)))

	m.mu.Lock()
	m.pending[orgID] = pendingState{token: token, expires: m.clock().Add(m.ttl)}
	m.mu.Unlock()

	return token, nil
}

// Consume redeems a state token for the organization. The stored token is
// removed before any check runs, so a second redemption fails no matter how
// the first one ended.
func (m *StateManager) Consume(orgID, token string) error {
	m.mu.Lock()
	stored, ok := m.pending[orgID]
	delete(m.pending, orgID)
	m.mu.Unlock()

	if !ok || stored.token != token {
		return domain.E(domain.KindInvalidState, "authorization state is unknown or already used")
	}
	if m.clock().After(stored.expires) {
		return domain.E(domain.KindInvalidState, "authorization state has expired")
	}
	return m.verify(token, orgID)
}

func (m *StateManager) verify(token, orgID string) error {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return domain.E(domain.KindInvalidState, "authorization state is malformed")
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 || parts[0] != orgID {
		return domain.E(domain.KindInvalidState, "authorization state is malformed")
	}
	if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
		return domain.E(domain.KindInvalidState, "authorization state is malformed")
	}

	payload := strings.Join(parts[:3], "|")
	if !hmac.Equal([]byte(parts[3]), []byte(m.sign(payload))) {
		return domain.E(domain.KindInvalidState, "authorization state signature mismatch")
	}
	return nil
}

func (m *StateManager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
