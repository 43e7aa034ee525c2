package notifier

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	AudienceClient = "client"
	AudienceTech   = "tech"
)

// Config controls addresses and the async pipeline.
type Config struct {
	From        string
	Client      []string
	Tech        []string
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

// ValidationError means a request is missing its subject or text. It is
// returned before any transport is contacted.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string { return "notifier: request has no " + e.Field }

// DeliveryError is a transport failure for one audience.
type DeliveryError struct {
	Audience  string
	Transport string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notifier: %s delivery via %s failed: %v", e.Audience, e.Transport, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// AudienceResult is the outcome of one audience delivery.
type AudienceResult struct {
	Audience   string
	Recipients []string
	Took       time.Duration
	Err        error
}

// Result is the outcome of Deliver. Audiences without recipients are absent.
type Result struct {
	ID        string
	Audiences []AudienceResult
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	ID       string    `json:"id"`
	Audience string    `json:"audience,omitempty"`
	Subject  string    `json:"subject"`
	Events   int       `json:"events"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
