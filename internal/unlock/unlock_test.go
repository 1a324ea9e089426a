package unlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/conectapro/backend/internal/accounts"
	"github.com/conectapro/backend/internal/ledger"
	"github.com/conectapro/backend/internal/pricing"
	"github.com/conectapro/backend/internal/requests"
	"github.com/conectapro/backend/internal/syncutil"
)

type testEnv struct {
	unlocks  *Service
	ledger   *ledger.Ledger
	requests *requests.Service
	accounts *accounts.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	led := ledger.New(ledger.NewMemoryStore())
	reqs := requests.NewService(requests.NewMemoryStore())
	accs := accounts.NewService(accounts.NewMemoryStore(), led)
	prov := pricing.NewProvider(pricing.NewMemoryStore())
	locks := &syncutil.ShardedMutex{}

	svc := NewService(NewMemoryStore(), led, prov, reqs, locks).
		WithAccountGate(accs)

	return &testEnv{unlocks: svc, ledger: led, requests: reqs, accounts: accs}
}

// registerPro creates a professional with the given coin balance.
func (e *testEnv) registerPro(t *testing.T, id string, coins int64) {
	t.Helper()
	ctx := context.Background()
	err := e.accounts.Register(ctx, &accounts.Professional{
		ID:    id,
		Name:  "Pro " + id,
		Email: id + "@example.com.br",
	})
	if err != nil {
		t.Fatalf("Register %s: %v", id, err)
	}
	if coins > 0 {
		if _, err := e.ledger.CreditAdmin(ctx, id, coins, "test grant"); err != nil {
			t.Fatalf("CreditAdmin %s: %v", id, err)
		}
	}
}

func (e *testEnv) postRequest(t *testing.T, id string) {
	t.Helper()
	err := e.requests.Create(context.Background(), &requests.ServiceRequest{
		ID:       id,
		ClientID: "cli_maria",
		Category: "eletricista",
		Title:    "Trocar fiação da cozinha",
	})
	if err != nil {
		t.Fatalf("Create request %s: %v", id, err)
	}
}

func TestUnlockContactNormal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.registerPro(t, "pro_joao", 100)
	env.postRequest(t, "req_1")

	rec, balance, err := env.unlocks.UnlockContact(ctx, "pro_joao", "req_1", false)
	if err != nil {
		t.Fatalf("UnlockContact: %v", err)
	}
	if rec.CoinsSpent != pricing.DefaultUnlockCostNormal {
		t.Errorf("CoinsSpent = %d, want %d", rec.CoinsSpent, pricing.DefaultUnlockCostNormal)
	}
	if balance != 100-pricing.DefaultUnlockCostNormal {
		t.Errorf("balance = %d, want %d", balance, 100-pricing.DefaultUnlockCostNormal)
	}
	if !rec.ContactUnlocked || rec.DealClosed || rec.Exclusive {
		t.Errorf("unexpected record flags: %+v", rec)
	}

	// Request stays open after a normal unlock
	req, _ := env.requests.Get(ctx, "req_1")
	if req.Status != requests.StatusOpen {
		t.Errorf("request status = %s, want open", req.Status)
	}
}

func TestUnlockContactExclusive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.registerPro(t, "pro_joao", 100)
	env.postRequest(t, "req_1")

	rec, balance, err := env.unlocks.UnlockContact(ctx, "pro_joao", "req_1", true)
	if err != nil {
		t.Fatalf("UnlockContact: %v", err)
	}
	if rec.CoinsSpent != pricing.DefaultUnlockCostExclusive {
		t.Errorf("CoinsSpent = %d, want %d", rec.CoinsSpent, pricing.DefaultUnlockCostExclusive)
	}
	if balance != 100-pricing.DefaultUnlockCostExclusive {
		t.Errorf("balance = %d", balance)
	}

	// Exclusive unlock moves the request to in_progress
	req, _ := env.requests.Get(ctx, "req_1")
	if req.Status != requests.StatusInProgress {
		t.Errorf("request status = %s, want in_progress", req.Status)
	}

	// Nobody else can unlock an in_progress request
	env.registerPro(t, "pro_ana", 100)
	_, _, err = env.unlocks.UnlockContact(ctx, "pro_ana", "req_1", false)
	if !errors.Is(err, ErrRequestUnavailable) {
		t.Errorf("err = %v, want ErrRequestUnavailable", err)
	}
}

func TestUnlockRequestNotOpen(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.registerPro(t, "pro_joao", 100)
	env.postRequest(t, "req_1")
	if err := env.requests.Cancel(ctx, "req_1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, _, err := env.unlocks.UnlockContact(ctx, "pro_joao", "req_1", false)
	if !errors.Is(err, ErrRequestUnavailable) {
		t.Errorf("canceled request err = %v, want ErrRequestUnavailable", err)
	}

	_, _, err = env.unlocks.UnlockContact(ctx, "pro_joao", "req_ghost", false)
	if !errors.Is(err, ErrRequestUnavailable) {
		t.Errorf("unknown request err = %v, want ErrRequestUnavailable", err)
	}
}

func TestUnlockDuplicate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.registerPro(t, "pro_joao", 100)
	env.postRequest(t, "req_1")

	if _, _, err := env.unlocks.UnlockContact(ctx, "pro_joao", "req_1", false); err != nil {
		t.Fatalf("first unlock: %v", err)
	}
	_, _, err := env.unlocks.UnlockContact(ctx, "pro_joao", "req_1", false)
	if !errors.Is(err, ErrAlreadyUnlocked) {
		t.Fatalf("second unlock err = %v, want ErrAlreadyUnlocked", err)
	}

	// Only the first unlock was charged
	bal, _ := env.ledger.Balance(ctx, "pro_joao")
	if bal != 100-pricing.DefaultUnlockCostNormal {
		t.Errorf("balance = %d, want one debit only", bal)
	}
}

func TestUnlockCapacityReached(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.postRequest(t, "req_1")

	for i := 0; i < pricing.DefaultMaxProfessionalsPerRequest; i++ {
		id := fmt.Sprintf("pro_%d", i)
		env.registerPro(t, id, 100)
		if _, _, err := env.unlocks.UnlockContact(ctx, id, "req_1", false); err != nil {
			t.Fatalf("unlock %d: %v", i, err)
		}
	}

	env.registerPro(t, "pro_late", 100)
	_, _, err := env.unlocks.UnlockContact(ctx, "pro_late", "req_1", false)
	if !errors.Is(err, ErrCapacityReached) {
		t.Fatalf("err = %v, want ErrCapacityReached", err)
	}
	bal, _ := env.ledger.Balance(ctx, "pro_late")
	if bal != 100 {
		t.Errorf("rejected unlock debited coins: balance = %d", bal)
	}
}

func TestUnlockCapacityCheckedBeforeBalance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.postRequest(t, "req_1")

	for i := 0; i < pricing.DefaultMaxProfessionalsPerRequest; i++ {
		id := fmt.Sprintf("pro_%d", i)
		env.registerPro(t, id, 100)
		if _, _, err := env.unlocks.UnlockContact(ctx, id, "req_1", false); err != nil {
			t.Fatalf("unlock %d: %v", i, err)
		}
	}

	// Broke and over capacity: capacity rejection wins
	env.registerPro(t, "pro_broke", 0)
	_, _, err := env.unlocks.UnlockContact(ctx, "pro_broke", "req_1", false)
	if !errors.Is(err, ErrCapacityReached) {
		t.Errorf("err = %v, want ErrCapacityReached before balance check", err)
	}
}

func TestUnlockExclusiveUnavailable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.registerPro(t, "pro_first", 100)
	env.registerPro(t, "pro_second", 100)
	env.postRequest(t, "req_1")

	if _, _, err := env.unlocks.UnlockContact(ctx, "pro_first", "req_1", false); err != nil {
		t.Fatalf("normal unlock: %v", err)
	}
	_, _, err := env.unlocks.UnlockContact(ctx, "pro_second", "req_1", true)
	if !errors.Is(err, ErrExclusiveUnavailable) {
		t.Fatalf("err = %v, want ErrExclusiveUnavailable", err)
	}
}

func TestUnlockInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.registerPro(t, "pro_joao", pricing.DefaultUnlockCostNormal-1)
	env.postRequest(t, "req_1")

	_, _, err := env.unlocks.UnlockContact(ctx, "pro_joao", "req_1", false)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	// No record was created for the failed unlock
	recs, _ := env.unlocks.ListByRequest(ctx, "req_1")
	if len(recs) != 0 {
		t.Errorf("len(records) = %d, want 0", len(recs))
	}
}

func TestUnlockBannedProfessional(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.registerPro(t, "pro_joao", 100)
	env.postRequest(t, "req_1")

	if _, err := env.accounts.Ban(ctx, "pro_joao", "fraude em reembolsos"); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	_, _, err := env.unlocks.UnlockContact(ctx, "pro_joao", "req_1", false)
	if !errors.Is(err, accounts.ErrBanned) {
		t.Fatalf("err = %v, want ErrBanned", err)
	}
}

func TestUnlockConcurrentCapacity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.postRequest(t, "req_1")

	const contenders = 8
	for i := 0; i < contenders; i++ {
		env.registerPro(t, fmt.Sprintf("pro_%d", i), 100)
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.unlocks.UnlockContact(ctx, fmt.Sprintf("pro_%d", i), "req_1", false)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrCapacityReached) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != pricing.DefaultMaxProfessionalsPerRequest {
		t.Errorf("succeeded = %d, want %d", succeeded, pricing.DefaultMaxProfessionalsPerRequest)
	}

	count, _ := env.unlocks.ListByRequest(ctx, "req_1")
	if len(count) != pricing.DefaultMaxProfessionalsPerRequest {
		t.Errorf("records = %d, want %d", len(count), pricing.DefaultMaxProfessionalsPerRequest)
	}
}

// stuckRequests serves reads normally but never completes the exclusive
// transition.
type stuckRequests struct {
	*requests.Service
}

func (s *stuckRequests) SetInProgress(ctx context.Context, id string) error {
	return errors.New("store unavailable")
}

func TestExclusiveUnlockSurvivesTransitionFailure(t *testing.T) {
	ctx := context.Background()

	led := ledger.New(ledger.NewMemoryStore())
	reqs := requests.NewService(requests.NewMemoryStore())
	prov := pricing.NewProvider(pricing.NewMemoryStore())
	store := NewMemoryStore()
	svc := NewService(store, led, prov, &stuckRequests{reqs}, &syncutil.ShardedMutex{})

	if err := led.Open(ctx, "pro_joao"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := led.CreditAdmin(ctx, "pro_joao", 100, "test grant"); err != nil {
		t.Fatalf("CreditAdmin: %v", err)
	}
	err := reqs.Create(ctx, &requests.ServiceRequest{
		ID:       "req_1",
		ClientID: "cli_maria",
		Category: "eletricista",
		Title:    "Trocar fiação da cozinha",
	})
	if err != nil {
		t.Fatalf("Create request: %v", err)
	}

	// Coins moved and the record persisted, so the caller gets the
	// contact even though the request transition failed.
	rec, balance, err := svc.UnlockContact(ctx, "pro_joao", "req_1", true)
	if err != nil {
		t.Fatalf("UnlockContact: %v", err)
	}
	if rec == nil || !rec.Exclusive || !rec.ContactUnlocked {
		t.Fatalf("record = %+v, want exclusive unlocked", rec)
	}
	if balance != 100-pricing.DefaultUnlockCostExclusive {
		t.Errorf("balance = %d, want %d", balance, 100-pricing.DefaultUnlockCostExclusive)
	}
	if _, err := store.GetByPair(ctx, "pro_joao", "req_1"); err != nil {
		t.Errorf("GetByPair after unlock: %v", err)
	}
}

func TestContactType(t *testing.T) {
	if (&Record{Exclusive: true}).ContactType() != "exclusive" {
		t.Error("exclusive record should report exclusive")
	}
	if (&Record{}).ContactType() != "normal" {
		t.Error("normal record should report normal")
	}
}
