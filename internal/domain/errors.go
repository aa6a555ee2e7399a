package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error so the API layer can pick a response without
// inspecting message text.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindInvalidState           Kind = "invalid_state"
	KindUnknownOrganization    Kind = "unknown_organization"
	KindCredentialCorrupted    Kind = "credential_corrupted"
	KindRemoteUnavailable      Kind = "remote_unavailable"
	KindExchangeTimeout        Kind = "exchange_timeout"
	KindDegradedSync           Kind = "degraded_sync"
	KindReminderDeliveryFailed Kind = "reminder_delivery_failed"
	KindNotConnected           Kind = "not_connected"
	KindNotFound               Kind = "not_found"
)

// Error carries a machine-readable kind alongside a human message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error with no cause.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a typed error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, or "" for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

// MessageOf returns the human message for typed errors, falling back to
// Error() for everything else.
func MessageOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
