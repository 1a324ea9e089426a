// Package reconciliation audits the coin ledger.
//
// Every balance mutation appends a transaction-log entry, so for every
// account the stored balance must equal the sum of its signed entry
// amounts, and consecutive entries must chain before/after balances.
// A sweep recomputes both and reports accounts that drifted.
package reconciliation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/conectapro/backend/internal/ledger"
	"github.com/conectapro/backend/internal/metrics"
)

// Mismatch is one account whose stored balance disagrees with its log.
type Mismatch struct {
	ProfessionalID string `json:"professionalId"`
	StoredBalance  int64  `json:"storedBalance"`
	ComputedSum    int64  `json:"computedSum"`
	BrokenChain    bool   `json:"brokenChain"` // before/after of consecutive entries disagree
}

// Report is the outcome of one sweep.
type Report struct {
	SweptAt    time.Time  `json:"sweptAt"`
	Accounts   int        `json:"accounts"`
	Mismatches []Mismatch `json:"mismatches"`
}

// Clean reports whether the sweep found no drift.
func (r *Report) Clean() bool {
	return len(r.Mismatches) == 0
}

// Checker recomputes account balances from the transaction log.
type Checker interface {
	Sweep(ctx context.Context) (*Report, error)
}

// Service runs ledger audit sweeps and keeps the latest report.
type Service struct {
	checker Checker
	logger  *slog.Logger

	last *Report // guarded by the single Run goroutine plus Sweep callers
}

// NewService creates a new reconciliation service.
func NewService(checker Checker, logger *slog.Logger) *Service {
	return &Service{checker: checker, logger: logger}
}

// Sweep runs one audit pass and records the result.
func (s *Service) Sweep(ctx context.Context) (*Report, error) {
	report, err := s.checker.Sweep(ctx)
	if err != nil {
		return nil, err
	}

	metrics.LedgerMismatches.Set(float64(len(report.Mismatches)))
	if !report.Clean() {
		s.logger.Error("ledger drift detected",
			"accounts", report.Accounts,
			"mismatches", len(report.Mismatches),
		)
	} else {
		s.logger.Info("ledger sweep clean", "accounts", report.Accounts)
	}

	s.last = report
	return report, nil
}

// Run sweeps on an interval until ctx is done. Call in a goroutine.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("ledger sweep failed", "error", err)
			}
		}
	}
}

// MemoryChecker audits the in-memory ledger store.
type MemoryChecker struct {
	store *ledger.MemoryStore
}

// NewMemoryChecker creates a checker over an in-memory ledger store.
func NewMemoryChecker(store *ledger.MemoryStore) *MemoryChecker {
	return &MemoryChecker{store: store}
}

var _ Checker = (*MemoryChecker)(nil)

func (c *MemoryChecker) Sweep(ctx context.Context) (*Report, error) {
	balances, entries := c.store.Dump()

	sums := make(map[string]int64, len(balances))
	lastAfter := make(map[string]int64, len(balances))
	broken := make(map[string]bool)
	seen := make(map[string]bool)

	for _, e := range entries {
		if seen[e.ProfessionalID] && e.BalanceBefore != lastAfter[e.ProfessionalID] {
			broken[e.ProfessionalID] = true
		}
		seen[e.ProfessionalID] = true
		lastAfter[e.ProfessionalID] = e.BalanceAfter
		sums[e.ProfessionalID] += e.Amount
	}

	report := &Report{SweptAt: time.Now(), Accounts: len(balances)}
	for id, stored := range balances {
		if stored != sums[id] || broken[id] {
			report.Mismatches = append(report.Mismatches, Mismatch{
				ProfessionalID: id,
				StoredBalance:  stored,
				ComputedSum:    sums[id],
				BrokenChain:    broken[id],
			})
		}
	}
	sort.Slice(report.Mismatches, func(i, j int) bool {
		return report.Mismatches[i].ProfessionalID < report.Mismatches[j].ProfessionalID
	})
	return report, nil
}
