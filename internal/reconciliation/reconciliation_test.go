package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/conectapro/backend/internal/ledger"
)

func TestMemoryCheckerCleanSweep(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	l := ledger.New(store)

	// Real traffic across three accounts, one of them untouched
	for _, id := range []string{"pro_joao", "pro_ana", "pro_lucas"} {
		if err := l.Open(ctx, id); err != nil {
			t.Fatalf("Open %s: %v", id, err)
		}
	}
	if _, err := l.CreditAdmin(ctx, "pro_joao", 100, "ajuste manual"); err != nil {
		t.Fatalf("CreditAdmin: %v", err)
	}
	if _, err := l.Debit(ctx, "pro_joao", 15, "contato liberado", "unl_1"); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if _, err := l.CreditAdmin(ctx, "pro_ana", 50, "ajuste manual"); err != nil {
		t.Fatalf("CreditAdmin: %v", err)
	}

	report, err := NewMemoryChecker(store).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !report.Clean() {
		t.Errorf("mismatches = %+v, want clean", report.Mismatches)
	}
	if report.Accounts != 3 {
		t.Errorf("accounts = %d, want 3", report.Accounts)
	}
}

type stubChecker struct {
	report *Report
	err    error
	calls  int
}

func (c *stubChecker) Sweep(ctx context.Context) (*Report, error) {
	c.calls++
	return c.report, c.err
}

func TestServiceSweepReportsDrift(t *testing.T) {
	dirty := &Report{
		SweptAt:  time.Now(),
		Accounts: 2,
		Mismatches: []Mismatch{
			{ProfessionalID: "pro_joao", StoredBalance: 85, ComputedSum: 100},
		},
	}
	s := NewService(&stubChecker{report: dirty}, slog.Default())

	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if report.Clean() {
		t.Error("drifted report should not be clean")
	}
	if len(report.Mismatches) != 1 || report.Mismatches[0].ProfessionalID != "pro_joao" {
		t.Errorf("mismatches = %+v", report.Mismatches)
	}
}

func TestServiceSweepError(t *testing.T) {
	boom := errors.New("audit query timed out")
	s := NewService(&stubChecker{err: boom}, slog.Default())

	if _, err := s.Sweep(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped checker error", err)
	}
}

func TestRunSweepsOnInterval(t *testing.T) {
	store := ledger.NewMemoryStore()
	s := NewService(NewMemoryChecker(store), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if s.last == nil {
		t.Fatal("no sweep recorded")
	}
	if !s.last.Clean() {
		t.Errorf("empty ledger sweep should be clean: %+v", s.last.Mismatches)
	}
}
