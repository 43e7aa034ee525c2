package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery records one audience delivery attempt.
type Delivery struct {
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
	Audience    string    `json:"audience"`
	Transport   string    `json:"transport"`
	Recipients  []string  `json:"recipients"`
	Subject     string    `json:"subject"`
	Events      int       `json:"events"`
	Attachments int       `json:"attachments"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	TookMS      int64     `json:"took_ms"`
}

// Store is the audit persistence API.
type Store interface {
	AppendDelivery(ctx context.Context, d Delivery) error
	// RecentDeliveries returns up to limit records, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	// PruneBefore deletes records older than t and returns how many went.
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
	Close() error
}
