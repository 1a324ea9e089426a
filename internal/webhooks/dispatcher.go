package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/conectapro/backend/internal/circuitbreaker"
	"github.com/conectapro/backend/internal/idgen"
	"github.com/conectapro/backend/internal/retry"
)

var (
	deliveryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conectapro",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total webhook delivery attempts by event type and outcome.",
	}, []string{"event_type", "outcome"})

	subscriptionsDisabled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "conectapro",
		Subsystem: "webhook",
		Name:      "subscriptions_disabled_total",
		Help:      "Subscriptions auto-disabled after repeated delivery failures.",
	})
)

func init() {
	prometheus.MustRegister(deliveryTotal, subscriptionsDisabled)
}

const (
	deliveryTimeout = 10 * time.Second
	deliveryRetries = 3
	retryBaseDelay  = 500 * time.Millisecond

	// A subscription this far gone is auto-disabled; an admin has to
	// re-register it after fixing the endpoint.
	maxConsecutiveFailures = 10
)

// Dispatcher fans platform events out to subscribed partner endpoints.
// It satisfies the EventSink interface of the domain services, so it can
// be wired next to the realtime hub.
type Dispatcher struct {
	store   Store
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		client:  &http.Client{Timeout: deliveryTimeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// Publish delivers an event to every active subscription listening for its
// type. Fire-and-forget: deliveries run in their own goroutines and failures
// are recorded on the subscription, never surfaced to the caller.
func (d *Dispatcher) Publish(eventType string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	subs, err := d.store.GetByEvent(ctx, eventType)
	if err != nil {
		d.logger.Warn("webhook subscription lookup failed", "event", eventType, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      payload,
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		go d.deliver(sub, event)
	}
}

func (d *Dispatcher) deliver(sub *Subscription, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if !d.breaker.Allow(sub.ID) {
		deliveryTotal.WithLabelValues(event.Type, "skipped").Inc()
		d.recordFailure(ctx, sub, "circuit open")
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, fmt.Sprintf("marshal: %v", err))
		return
	}

	err = retry.Do(ctx, deliveryRetries, retryBaseDelay, func() error {
		return d.post(ctx, sub, event, payload)
	})
	if err != nil {
		deliveryTotal.WithLabelValues(event.Type, "error").Inc()
		d.breaker.RecordFailure(sub.ID)
		d.recordFailure(ctx, sub, err.Error())
		d.logger.Warn("webhook delivery failed",
			"subscription", sub.ID,
			"label", sub.Label,
			"event", event.Type,
			"error", err,
		)
		return
	}

	deliveryTotal.WithLabelValues(event.Type, "success").Inc()
	d.breaker.RecordSuccess(sub.ID)
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Conecta-Event", event.Type)
	req.Header.Set("X-Conecta-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if sub.Secret != "" {
		req.Header.Set("X-Conecta-Signature", Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// The receiver rejected the payload; retrying will not help.
		return retry.Permanent(fmt.Errorf("endpoint returned %d", resp.StatusCode))
	default:
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("webhook subscription update failed", "subscription", sub.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, msg string) {
	sub.LastError = msg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= maxConsecutiveFailures && sub.Active {
		sub.Active = false
		subscriptionsDisabled.Inc()
		d.logger.Error("webhook subscription disabled after repeated failures",
			"subscription", sub.ID,
			"label", sub.Label,
			"failures", sub.ConsecutiveFailures,
		)
	}
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("webhook subscription update failed", "subscription", sub.ID, "error", err)
	}
}

// Sign computes the hex HMAC-SHA256 signature receivers verify.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
