// Package notify turns a confirmed (or degraded) incident analysis plus an
// optional evidence link into a delivered alert, with bounded retries and
// a text-only degraded mode. Delivery failure is reported, never thrown.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrKind classifies transport failures. All kinds are retryable; the
// distinction drives logging and the oversize fallback.
type ErrKind string

const (
	ErrKindAuth       ErrKind = "auth"
	ErrKindTooLarge   ErrKind = "too_large"
	ErrKindConnection ErrKind = "connection"
	ErrKindTimeout    ErrKind = "timeout"
	ErrKindOther      ErrKind = "other"
)

// TransportError wraps a send failure with its kind.
type TransportError struct {
	Kind ErrKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s error: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// KindOf extracts the error kind, defaulting to "other".
func KindOf(err error) ErrKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindOther
}

// Message is a fully composed alert ready for a transport.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	TextBody string
	HTMLBody string
	AlertID  string
}

// Transport delivers a composed message. Implementations classify their
// failures as TransportError kinds where they can.
type Transport interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// DeliveryAttempt records one try at delivering an alert.
type DeliveryAttempt struct {
	Attempt      int       `json:"attempt"`
	StartedAt    time.Time `json:"started_at"`
	Success      bool      `json:"success"`
	Err          string    `json:"error,omitempty"`
	FallbackUsed bool      `json:"fallback_used"`
}

// FinalStatus summarizes a delivery outcome.
type FinalStatus string

const (
	StatusDelivered         FinalStatus = "delivered"
	StatusDeliveredFallback FinalStatus = "delivered_fallback"
	StatusFailed            FinalStatus = "failed"
)

// DeliveryReport is the structured, inspectable outcome of one Deliver
// call: the audit trail of every attempt plus the final verdict.
type DeliveryReport struct {
	Success       bool              `json:"success"`
	TotalAttempts int               `json:"total_attempts"`
	FallbackUsed  bool              `json:"fallback_used"`
	FinalStatus   FinalStatus       `json:"final_status"`
	LastError     string            `json:"last_error,omitempty"`
	Attempts      []DeliveryAttempt `json:"attempts"`
}
