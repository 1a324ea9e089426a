// Package purchases credits coin packages bought through Stripe Checkout.
//
// The only write path is the Stripe webhook: a checkout.session.completed
// event carrying professional_id and package_id metadata. Crediting is
// idempotent on the Stripe session ID, so webhook retries are safe.
package purchases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/conectapro/backend/internal/ledger"
	"github.com/conectapro/backend/internal/pricing"
)

var (
	ErrBadSignature   = errors.New("webhook signature verification failed")
	ErrMissingActor   = errors.New("checkout session has no professional_id metadata")
	ErrUnknownPackage = errors.New("checkout session references an unknown coin package")
)

// LedgerService abstracts the idempotent purchase credit.
type LedgerService interface {
	CreditPurchase(ctx context.Context, professionalID string, coins int64, description, paymentRef string) (int64, error)
}

// PricingProvider supplies the coin package catalog.
type PricingProvider interface {
	Get(ctx context.Context) (pricing.Snapshot, error)
}

// EventSink receives platform events for the ops feed.
type EventSink interface {
	Publish(eventType string, payload any)
}

// Service settles Stripe checkout sessions into coin credits.
type Service struct {
	ledger        LedgerService
	pricing       PricingProvider
	webhookSecret string
	events        EventSink
}

// NewService creates a new purchase service.
func NewService(ledger LedgerService, pricing PricingProvider, webhookSecret string) *Service {
	return &Service{
		ledger:        ledger,
		pricing:       pricing,
		webhookSecret: webhookSecret,
	}
}

// WithEvents adds an event sink for the ops feed.
func (s *Service) WithEvents(e EventSink) *Service {
	s.events = e
	return s
}

// Settlement describes one credited purchase.
type Settlement struct {
	ProfessionalID string `json:"professionalId"`
	PackageID      string `json:"packageId"`
	Coins          int64  `json:"coins"`
	PaymentRef     string `json:"paymentRef"`
	Balance        int64  `json:"balance"`
	Duplicate      bool   `json:"duplicate"`
}

// HandleWebhook verifies and settles a raw Stripe webhook delivery.
// A nil Settlement with nil error means the event type is not ours.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Settlement, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return nil, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	return s.settle(ctx, &session)
}

func (s *Service) settle(ctx context.Context, session *stripe.CheckoutSession) (*Settlement, error) {
	professionalID := session.Metadata["professional_id"]
	if professionalID == "" {
		return nil, ErrMissingActor
	}
	packageID := session.Metadata["package_id"]

	snap, err := s.pricing.Get(ctx)
	if err != nil {
		return nil, err
	}
	pkg, ok := snap.Package(packageID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackage, packageID)
	}

	settlement := &Settlement{
		ProfessionalID: professionalID,
		PackageID:      pkg.ID,
		Coins:          pkg.Coins,
		PaymentRef:     session.ID,
	}

	balance, err := s.ledger.CreditPurchase(ctx, professionalID, pkg.Coins,
		fmt.Sprintf("coin package %s", pkg.ID), session.ID)
	if err != nil {
		// A retried delivery must still be acked with 200.
		if isDuplicatePayment(err) {
			settlement.Duplicate = true
			return settlement, nil
		}
		return nil, err
	}
	settlement.Balance = balance

	if s.events != nil {
		s.events.Publish("coins_purchased", settlement)
	}
	return settlement, nil
}

// Packages returns the current purchasable coin packages.
func (s *Service) Packages(ctx context.Context) ([]pricing.CoinPackage, error) {
	snap, err := s.pricing.Get(ctx)
	if err != nil {
		return nil, err
	}
	return snap.CoinPackages, nil
}

func isDuplicatePayment(err error) bool {
	return errors.Is(err, ledger.ErrDuplicatePayment)
}
