package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/conectapro/backend/internal/ledger"
)

func newTestService(t *testing.T) (*Service, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(ledger.NewMemoryStore())
	return NewService(NewMemoryStore(), l), l
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	s, l := newTestService(t)

	err := s.Register(ctx, &Professional{
		ID:    "pro_joao",
		Name:  "João Batista",
		Email: "  Joao.Batista@Example.COM ",
		Phone: "+55 11 98765-4321",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	p, err := s.Get(ctx, "pro_joao")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Email != "joao.batista@example.com" {
		t.Errorf("email = %q, want normalized lowercase", p.Email)
	}
	if p.Banned {
		t.Error("new professional should not be banned")
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	// Registration opens a zero-balance coin account
	bal, err := l.Balance(ctx, "pro_joao")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal != 0 {
		t.Errorf("opening balance = %d, want 0", bal)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	if err := s.Register(ctx, &Professional{ID: "pro_joao", Name: "João", Email: "joao@example.com"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := s.Register(ctx, &Professional{ID: "pro_outro", Name: "Outro", Email: "JOAO@example.com"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestGetUnknown(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Get(context.Background(), "pro_ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEnsureActive(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	if err := s.Register(ctx, &Professional{ID: "pro_joao", Name: "João", Email: "joao@example.com"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.EnsureActive(ctx, "pro_joao"); err != nil {
		t.Errorf("EnsureActive active = %v, want nil", err)
	}
	if err := s.EnsureActive(ctx, "pro_ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("EnsureActive unknown = %v, want ErrNotFound", err)
	}
}

func TestBanAndUnban(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	if err := s.Register(ctx, &Professional{ID: "pro_joao", Name: "João", Email: "joao@example.com"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	p, err := s.Ban(ctx, "pro_joao", "contatos abusivos")
	if err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if !p.Banned || p.BanReason != "contatos abusivos" || p.BannedAt == nil {
		t.Errorf("banned professional = %+v", p)
	}
	if err := s.EnsureActive(ctx, "pro_joao"); !errors.Is(err, ErrBanned) {
		t.Errorf("EnsureActive banned = %v, want ErrBanned", err)
	}

	p, err = s.Unban(ctx, "pro_joao")
	if err != nil {
		t.Fatalf("Unban: %v", err)
	}
	if p.Banned || p.BanReason != "" || p.BannedAt != nil {
		t.Errorf("unbanned professional = %+v", p)
	}
	if err := s.EnsureActive(ctx, "pro_joao"); err != nil {
		t.Errorf("EnsureActive after unban = %v, want nil", err)
	}

	// The account and its history survive a ban cycle
	if _, err := s.Get(ctx, "pro_joao"); err != nil {
		t.Errorf("Get after ban cycle: %v", err)
	}
}

func TestBanUnknown(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.Ban(context.Background(), "pro_ghost", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
