// Package pricing supplies the runtime-mutable platform pricing settings.
//
// Unlock costs, the per-request professional cap and refund policy are
// admin-editable at runtime. Components never read these values from package
// constants: they take a Snapshot from the Provider at the moment they need
// one, so a mid-flight settings change can never retroactively alter an
// already-committed unlock or refund (those snapshot their own cost).
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNotFound       = errors.New("pricing settings not found")
	ErrInvalidSetting = errors.New("invalid pricing setting")
)

// Defaults used whenever no settings row exists.
const (
	DefaultUnlockCostNormal           = 15
	DefaultUnlockCostExclusive        = 50
	DefaultMaxProfessionalsPerRequest = 4
	DefaultRefundPercentage           = 30
	DefaultRefundWindowDays           = 7
)

// CoinPackage is a purchasable bundle of coins.
type CoinPackage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Coins      int64  `json:"coins"`
	PriceCents int64  `json:"priceCents"`
}

// Snapshot is an immutable view of the settings at a point in time.
// Callers keep the snapshot for the duration of one operation.
type Snapshot struct {
	UnlockCostNormal           int64         `json:"unlockCostNormal"`
	UnlockCostExclusive        int64         `json:"unlockCostExclusive"`
	MaxProfessionalsPerRequest int           `json:"maxProfessionalsPerRequest"`
	RefundPercentage           int           `json:"refundPercentage"`
	RefundWindowDays           int           `json:"refundWindowDays"`
	CoinPackages               []CoinPackage `json:"coinPackages"`
	Version                    int64         `json:"version"`
	UpdatedAt                  time.Time     `json:"updatedAt"`
}

// UnlockCost returns the coin cost for the given contact type.
func (s Snapshot) UnlockCost(exclusive bool) int64 {
	if exclusive {
		return s.UnlockCostExclusive
	}
	return s.UnlockCostNormal
}

// RefundAmount computes the refunded coins for a spend, rounding half up.
func (s Snapshot) RefundAmount(coinsSpent int64) int64 {
	return (coinsSpent*int64(s.RefundPercentage) + 50) / 100
}

// Package looks up a coin package by ID.
func (s Snapshot) Package(id string) (CoinPackage, bool) {
	for _, p := range s.CoinPackages {
		if p.ID == id {
			return p, true
		}
	}
	return CoinPackage{}, false
}

// Defaults returns the hardcoded fallback settings.
func Defaults() Snapshot {
	return Snapshot{
		UnlockCostNormal:           DefaultUnlockCostNormal,
		UnlockCostExclusive:        DefaultUnlockCostExclusive,
		MaxProfessionalsPerRequest: DefaultMaxProfessionalsPerRequest,
		RefundPercentage:           DefaultRefundPercentage,
		RefundWindowDays:           DefaultRefundWindowDays,
		CoinPackages: []CoinPackage{
			{ID: "pkg_starter", Name: "Starter", Coins: 30, PriceCents: 2990},
			{ID: "pkg_pro", Name: "Professional", Coins: 100, PriceCents: 7990},
			{ID: "pkg_max", Name: "Max", Coins: 300, PriceCents: 19990},
		},
		Version:   0,
		UpdatedAt: time.Time{},
	}
}

// Store persists pricing settings.
type Store interface {
	Get(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
}

// Update carries a partial settings change. Nil fields are left unchanged.
type Update struct {
	UnlockCostNormal           *int64         `json:"unlockCostNormal"`
	UnlockCostExclusive        *int64         `json:"unlockCostExclusive"`
	MaxProfessionalsPerRequest *int           `json:"maxProfessionalsPerRequest"`
	RefundPercentage           *int           `json:"refundPercentage"`
	RefundWindowDays           *int           `json:"refundWindowDays"`
	CoinPackages               *[]CoinPackage `json:"coinPackages"`
}

// Provider serves the current settings with an in-process cache.
type Provider struct {
	store Store
	mu    sync.RWMutex
	cur   *Snapshot
}

// NewProvider creates a provider backed by the given store.
func NewProvider(store Store) *Provider {
	return &Provider{store: store}
}

// Get returns the current settings snapshot, falling back to defaults
// when no settings row has ever been saved.
func (p *Provider) Get(ctx context.Context) (Snapshot, error) {
	p.mu.RLock()
	if p.cur != nil {
		snap := *p.cur
		p.mu.RUnlock()
		return snap, nil
	}
	p.mu.RUnlock()

	s, err := p.store.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return Snapshot{}, err
	}

	p.mu.Lock()
	p.cur = s
	p.mu.Unlock()
	return *s, nil
}

// Apply validates and persists a settings update, bumping the version.
func (p *Provider) Apply(ctx context.Context, u Update) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, err := p.store.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		d := Defaults()
		cur = &d
	} else if err != nil {
		return Snapshot{}, err
	}

	next := *cur
	if u.UnlockCostNormal != nil {
		next.UnlockCostNormal = *u.UnlockCostNormal
	}
	if u.UnlockCostExclusive != nil {
		next.UnlockCostExclusive = *u.UnlockCostExclusive
	}
	if u.MaxProfessionalsPerRequest != nil {
		next.MaxProfessionalsPerRequest = *u.MaxProfessionalsPerRequest
	}
	if u.RefundPercentage != nil {
		next.RefundPercentage = *u.RefundPercentage
	}
	if u.RefundWindowDays != nil {
		next.RefundWindowDays = *u.RefundWindowDays
	}
	if u.CoinPackages != nil {
		next.CoinPackages = *u.CoinPackages
	}

	if err := validate(next); err != nil {
		return Snapshot{}, err
	}

	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now()

	if err := p.store.Save(ctx, &next); err != nil {
		return Snapshot{}, err
	}

	p.cur = &next
	return next, nil
}

// Invalidate drops the cache; the next Get re-reads the store. Used when
// another instance may have written settings.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cur = nil
	p.mu.Unlock()
}

func validate(s Snapshot) error {
	if s.UnlockCostNormal <= 0 || s.UnlockCostExclusive <= 0 {
		return fmt.Errorf("%w: unlock costs must be positive", ErrInvalidSetting)
	}
	if s.UnlockCostExclusive < s.UnlockCostNormal {
		return fmt.Errorf("%w: exclusive cost below normal cost", ErrInvalidSetting)
	}
	if s.MaxProfessionalsPerRequest < 1 {
		return fmt.Errorf("%w: professional cap must be at least 1", ErrInvalidSetting)
	}
	if s.RefundPercentage < 0 || s.RefundPercentage > 100 {
		return fmt.Errorf("%w: refund percentage out of range", ErrInvalidSetting)
	}
	if s.RefundWindowDays < 1 {
		return fmt.Errorf("%w: refund window must be at least 1 day", ErrInvalidSetting)
	}
	for _, pkg := range s.CoinPackages {
		if pkg.ID == "" || pkg.Coins <= 0 || pkg.PriceCents <= 0 {
			return fmt.Errorf("%w: malformed coin package %q", ErrInvalidSetting, pkg.ID)
		}
	}
	return nil
}
