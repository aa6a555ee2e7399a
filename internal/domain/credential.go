// Package domain defines the core types and store contracts for the calendar
// scheduling subsystem.
package domain

import (
	"context"
	"time"
)

// CalendarCredential is the per-organization external calendar token pair.
// At most one exists per organization.
type CalendarCredential struct {
	OrganizationID  string
	AccessToken     string
	RefreshToken    string
	TokenExpiry     time.Time
	GoogleEmail     string
	LastValidatedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Valid reports whether the stored token pair passes the structural check.
// A credential failing this check is corrupted, not disconnected.
func (c *CalendarCredential) Valid() bool {
	return c != nil && c.AccessToken != "" && c.RefreshToken != ""
}

// ConnectionStatus is derived purely from the credential store contents.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnected    ConnectionStatus = "connected"
	StatusCorrupted    ConnectionStatus = "corrupted"
)

// Liveness is the runtime probe status for a connected credential.
type Liveness string

const (
	LivenessIdle     Liveness = "idle"
	LivenessChecking Liveness = "checking"
	LivenessValid    Liveness = "valid"
	LivenessError    Liveness = "error"
)

// ConnectionState is the caller-facing view of "can we talk to the remote
// calendar right now". It is recomputed, never persisted.
type ConnectionState struct {
	Status   ConnectionStatus
	Liveness Liveness
	Cause    string
}

// CredentialStore persists calendar credentials. Get returns (nil, nil) when
// no credential exists for the organization. Save replaces the whole token
// pair atomically; readers never observe a partial update.
type CredentialStore interface {
	Get(ctx context.Context, orgID string) (*CalendarCredential, error)
	Save(ctx context.Context, cred CalendarCredential) error
	Delete(ctx context.Context, orgID string) error
}

// OrganizationStore resolves organization ids.
type OrganizationStore interface {
	OrganizationExists(ctx context.Context, orgID string) (bool, error)
}

// Contact is the resolved CRM contact an event is booked with. Contact CRUD
// itself is outside this subsystem; we only read.
type Contact struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// ContactStore reads contacts for validation and reminder rendering.
// Resolve returns (nil, nil) when the contact does not exist.
type ContactStore interface {
	Resolve(ctx context.Context, orgID, contactID string) (*Contact, error)
}
