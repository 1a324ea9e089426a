// Package webhooks delivers platform events to registered partner endpoints.
//
// Admins register endpoint subscriptions (CRM sync, notification fan-out,
// BI pipelines) for event types such as contact_unlocked or refund_settled.
// Payloads are signed with a per-subscription HMAC secret so receivers can
// verify origin.
package webhooks

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("webhook subscription not found")

// Known event types. These match the names published by the domain services;
// a subscription listing none of them simply never fires.
const (
	EventContactUnlocked = "contact_unlocked"
	EventDealClosed      = "deal_closed"
	EventRefundRequested = "refund_requested"
	EventRefundSettled   = "refund_settled"
	EventRefundResolved  = "refund_resolved"
	EventCoinsPurchased  = "coins_purchased"
)

// Event is one delivery payload.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription is a registered partner endpoint.
type Subscription struct {
	ID                  string     `json:"id"`
	Label               string     `json:"label"`
	URL                 string     `json:"url"`
	Secret              string     `json:"-"`
	Events              []string   `json:"events"`
	Active              bool       `json:"active"`
	CreatedAt           time.Time  `json:"createdAt"`
	LastSuccess         *time.Time `json:"lastSuccess,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

// WantsEvent reports whether the subscription listens for eventType.
func (s *Subscription) WantsEvent(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}
