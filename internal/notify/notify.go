// Package notify delivers fire-and-forget notifications to users, e.g. the
// outcome of a reviewed change request. Delivery failures are logged by the
// caller and never affect the operation that triggered them.
package notify

import (
	"context"
	"time"
)

type Notification struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	RedirectTo  string    `json:"redirectTo,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Noop drops every notification. Used when no delivery backend is configured.
type Noop struct{}

func (Noop) Notify(context.Context, Notification) error { return nil }
