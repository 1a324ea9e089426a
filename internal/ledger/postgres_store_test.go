//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/conectapro/backend/internal/testutil"
)

func setupTestStore(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()
	db := testutil.Postgres(t)
	t.Cleanup(func() {
		db.Exec("DELETE FROM ledger_entries")
		db.Exec("DELETE FROM professional_balances")
	})
	return NewPostgresStore(db), db
}

func TestPostgres_CreditCreatesAccount(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	balance, err := store.Credit(ctx, "pro_pg_1", 100, TypePurchase, "pacote de 100 moedas", "", "pi_test_001")
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if balance != 100 {
		t.Errorf("balance = %d, want 100", balance)
	}

	got, err := store.Balance(ctx, "pro_pg_1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if got != 100 {
		t.Errorf("Balance = %d, want 100", got)
	}
}

func TestPostgres_BalanceUnknownAccount(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.Balance(context.Background(), "pro_pg_nobody")
	if err != ErrAccountNotFound {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestPostgres_DebitInsufficientBalance(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Credit(ctx, "pro_pg_2", 10, TypeAdminCredit, "ajuste", "", ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	_, err := store.Debit(ctx, "pro_pg_2", 15, "desbloqueio", "ulk_x")
	if err != ErrInsufficientBalance {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}

	got, err := store.Balance(ctx, "pro_pg_2")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if got != 10 {
		t.Errorf("balance after rejected debit = %d, want 10", got)
	}
}

func TestPostgres_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	// 50 coins, 10 workers each trying to spend 15. At most 3 can succeed;
	// serialization aborts may reject some of those, but the balance must
	// always match the debits that committed.
	if _, err := store.Credit(ctx, "pro_pg_3", 50, TypeAdminCredit, "saldo inicial", "", ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := int64(0)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Debit(ctx, "pro_pg_3", 15, "desbloqueio", ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded > 3 {
		t.Errorf("successful debits = %d, want at most 3", succeeded)
	}
	got, err := store.Balance(ctx, "pro_pg_3")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if got != 50-15*succeeded {
		t.Errorf("final balance = %d, want %d", got, 50-15*succeeded)
	}
}

func TestPostgres_HistoryRecordsChain(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Credit(ctx, "pro_pg_4", 100, TypePurchase, "pacote", "", "pi_test_004"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if _, err := store.Debit(ctx, "pro_pg_4", 15, "desbloqueio", "ulk_4"); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if _, err := store.Credit(ctx, "pro_pg_4", 5, TypeRefundCredit, "reembolso", "ref_4", ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	entries, err := store.History(ctx, "pro_pg_4", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	byType := make(map[EntryType]*Entry)
	for _, e := range entries {
		byType[e.Type] = e
	}
	debit := byType[TypeUsageDebit]
	if debit == nil {
		t.Fatal("no usage_debit entry in history")
	}
	if debit.Amount != -15 || debit.BalanceBefore != 100 || debit.BalanceAfter != 85 {
		t.Errorf("debit entry = amount %d, before %d, after %d; want -15, 100, 85",
			debit.Amount, debit.BalanceBefore, debit.BalanceAfter)
	}
	if debit.Reference != "ulk_4" {
		t.Errorf("debit reference = %q, want %q", debit.Reference, "ulk_4")
	}
	refund := byType[TypeRefundCredit]
	if refund == nil || refund.BalanceAfter != 90 {
		t.Errorf("refund entry = %+v, want balance after 90", refund)
	}
}

func TestPostgres_HasPayment(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Credit(ctx, "pro_pg_5", 100, TypePurchase, "pacote", "", "pi_test_005"); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	seen, err := store.HasPayment(ctx, "pi_test_005")
	if err != nil {
		t.Fatalf("HasPayment failed: %v", err)
	}
	if !seen {
		t.Error("HasPayment = false for a recorded purchase")
	}

	seen, err = store.HasPayment(ctx, "pi_never_seen")
	if err != nil {
		t.Fatalf("HasPayment failed: %v", err)
	}
	if seen {
		t.Error("HasPayment = true for an unknown payment ref")
	}
}
