package ledger

import (
	"context"
	"errors"
	"testing"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(NewMemoryStore())
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	if err := l.Open(ctx, "pro_a"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.CreditAdmin(ctx, "pro_a", 100, "welcome grant"); err != nil {
		t.Fatalf("CreditAdmin: %v", err)
	}

	// Re-opening must not reset the balance
	if err := l.Open(ctx, "pro_a"); err != nil {
		t.Fatalf("Open again: %v", err)
	}
	bal, err := l.Balance(ctx, "pro_a")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 100 {
		t.Errorf("balance = %d, want 100", bal)
	}
}

func TestBalanceUnknownAccount(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Balance(context.Background(), "pro_ghost")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	if err := l.Open(ctx, "pro_a"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.CreditAdmin(ctx, "pro_a", 10, "grant"); err != nil {
		t.Fatalf("CreditAdmin: %v", err)
	}

	_, err := l.Debit(ctx, "pro_a", 15, "contact unlock", "ulk_x")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// Failed debit must not touch the balance
	bal, _ := l.Balance(ctx, "pro_a")
	if bal != 10 {
		t.Errorf("balance = %d, want 10", bal)
	}
}

func TestDebitExactBalance(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	_ = l.Open(ctx, "pro_a")
	_, _ = l.CreditAdmin(ctx, "pro_a", 50, "grant")

	bal, err := l.Debit(ctx, "pro_a", 50, "contact unlock", "ulk_x")
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if bal != 0 {
		t.Errorf("balance = %d, want 0", bal)
	}
}

func TestInvalidAmounts(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_ = l.Open(ctx, "pro_a")

	if _, err := l.Debit(ctx, "pro_a", 0, "", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Debit(0) err = %v, want ErrInvalidAmount", err)
	}
	if _, err := l.Debit(ctx, "pro_a", -5, "", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("Debit(-5) err = %v, want ErrInvalidAmount", err)
	}
	if _, err := l.CreditAdmin(ctx, "pro_a", 0, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("CreditAdmin(0) err = %v, want ErrInvalidAmount", err)
	}
	if _, err := l.CreditRefund(ctx, "pro_a", -1, "", ""); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("CreditRefund(-1) err = %v, want ErrInvalidAmount", err)
	}
}

func TestCreditPurchaseRejectsReplayedPayment(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_ = l.Open(ctx, "pro_a")

	bal, err := l.CreditPurchase(ctx, "pro_a", 100, "coin package", "cs_test_123")
	if err != nil {
		t.Fatalf("CreditPurchase: %v", err)
	}
	if bal != 100 {
		t.Errorf("balance = %d, want 100", bal)
	}

	// Same payment reference delivered again (webhook retry)
	_, err = l.CreditPurchase(ctx, "pro_a", 100, "coin package", "cs_test_123")
	if !errors.Is(err, ErrDuplicatePayment) {
		t.Fatalf("replay err = %v, want ErrDuplicatePayment", err)
	}
	bal, _ = l.Balance(ctx, "pro_a")
	if bal != 100 {
		t.Errorf("balance after replay = %d, want 100", bal)
	}
}

func TestCanSpend(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_ = l.Open(ctx, "pro_a")
	_, _ = l.CreditAdmin(ctx, "pro_a", 30, "grant")

	ok, err := l.CanSpend(ctx, "pro_a", 30)
	if err != nil || !ok {
		t.Errorf("CanSpend(30) = %v, %v; want true, nil", ok, err)
	}
	ok, err = l.CanSpend(ctx, "pro_a", 31)
	if err != nil || ok {
		t.Errorf("CanSpend(31) = %v, %v; want false, nil", ok, err)
	}
}

func TestHistoryChainAndOrder(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_ = l.Open(ctx, "pro_a")

	_, _ = l.CreditAdmin(ctx, "pro_a", 100, "grant")
	_, _ = l.Debit(ctx, "pro_a", 15, "contact unlock", "ulk_1")
	_, _ = l.CreditRefund(ctx, "pro_a", 4, "automatic refund", "rfd_1")

	entries, err := l.History(ctx, "pro_a", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	// Newest first
	if entries[0].Type != TypeRefundCredit || entries[2].Type != TypeAdminCredit {
		t.Errorf("unexpected order: %s .. %s", entries[0].Type, entries[2].Type)
	}

	// Every entry's before/after must be consistent, and consecutive
	// entries must chain
	for i, e := range entries {
		if e.BalanceBefore+e.Amount != e.BalanceAfter {
			t.Errorf("entry %d: %d + %d != %d", i, e.BalanceBefore, e.Amount, e.BalanceAfter)
		}
	}
	for i := 0; i < len(entries)-1; i++ {
		if entries[i].BalanceBefore != entries[i+1].BalanceAfter {
			t.Errorf("chain broken between %d and %d", i, i+1)
		}
	}

	bal, _ := l.Balance(ctx, "pro_a")
	if entries[0].BalanceAfter != bal {
		t.Errorf("latest entry after = %d, balance = %d", entries[0].BalanceAfter, bal)
	}
}

func TestHistoryPagePagination(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	_ = l.Open(ctx, "pro_a")

	for i := 0; i < 5; i++ {
		if _, err := l.CreditAdmin(ctx, "pro_a", 10, "grant"); err != nil {
			t.Fatalf("CreditAdmin: %v", err)
		}
	}

	page1, cursor, more, err := l.HistoryPage(ctx, "pro_a", "", 2)
	if err != nil {
		t.Fatalf("HistoryPage: %v", err)
	}
	if len(page1) != 2 || !more || cursor == "" {
		t.Fatalf("page1: len=%d more=%v cursor=%q", len(page1), more, cursor)
	}

	page2, cursor2, more2, err := l.HistoryPage(ctx, "pro_a", cursor, 2)
	if err != nil {
		t.Fatalf("HistoryPage 2: %v", err)
	}
	if len(page2) != 2 || !more2 {
		t.Fatalf("page2: len=%d more=%v", len(page2), more2)
	}

	page3, _, more3, err := l.HistoryPage(ctx, "pro_a", cursor2, 2)
	if err != nil {
		t.Fatalf("HistoryPage 3: %v", err)
	}
	if len(page3) != 1 || more3 {
		t.Fatalf("page3: len=%d more=%v", len(page3), more3)
	}

	// No entry appears twice across pages
	seen := make(map[string]bool)
	for _, e := range append(append(page1, page2...), page3...) {
		if seen[e.ID] {
			t.Errorf("entry %s returned twice", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestHistoryPageBadCursor(t *testing.T) {
	l := newTestLedger(t)
	_, _, _, err := l.HistoryPage(context.Background(), "pro_a", "not-a-cursor", 10)
	if err == nil {
		t.Error("expected error for malformed cursor")
	}
}
