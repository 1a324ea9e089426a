package requests

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewMemoryStore())
}

func post(t *testing.T, s *Service, id string) {
	t.Helper()
	err := s.Create(context.Background(), &ServiceRequest{
		ID:       id,
		ClientID: "cli_maria",
		Category: "marceneiro",
		Title:    "Armário sob medida para cozinha",
	})
	if err != nil {
		t.Fatalf("Create %s: %v", id, err)
	}
}

func TestCreateStartsOpen(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	post(t, s, "req_1")

	r, err := s.Get(ctx, "req_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Status != StatusOpen {
		t.Errorf("status = %s, want open", r.Status)
	}
	if !r.AcceptsUnlocks() {
		t.Error("open request should accept unlocks")
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestGetUnknown(t *testing.T) {
	s := newTestService(t)
	_, err := s.Get(context.Background(), "req_ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetInProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	post(t, s, "req_1")

	if err := s.SetInProgress(ctx, "req_1"); err != nil {
		t.Fatalf("SetInProgress: %v", err)
	}
	r, _ := s.Get(ctx, "req_1")
	if r.Status != StatusInProgress {
		t.Errorf("status = %s, want in_progress", r.Status)
	}
	if r.AcceptsUnlocks() {
		t.Error("in_progress request should not accept unlocks")
	}

	// Only open requests can go in_progress
	if err := s.SetInProgress(ctx, "req_1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second SetInProgress err = %v, want ErrInvalidTransition", err)
	}
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	post(t, s, "req_1")

	if err := s.Finalize(ctx, "req_1", "pro_joao"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	r, _ := s.Get(ctx, "req_1")
	if r.Status != StatusFinalized || r.ContractedProfessionalID != "pro_joao" {
		t.Errorf("request = %+v, want finalized by pro_joao", r)
	}
}

func TestFinalizeWinsOverCanceled(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	post(t, s, "req_1")

	if err := s.Cancel(ctx, "req_1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// A late close still takes the contract: the unlock record is the
	// authority on whether closing was legal.
	if err := s.Finalize(ctx, "req_1", "pro_joao"); err != nil {
		t.Fatalf("Finalize after cancel: %v", err)
	}
	r, _ := s.Get(ctx, "req_1")
	if r.Status != StatusFinalized {
		t.Errorf("status = %s, want finalized", r.Status)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	post(t, s, "req_1")

	if err := s.Cancel(ctx, "req_1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	r, _ := s.Get(ctx, "req_1")
	if r.Status != StatusCanceled {
		t.Errorf("status = %s, want canceled", r.Status)
	}

	// Canceled is terminal for Cancel
	if err := s.Cancel(ctx, "req_1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Cancel err = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelFromInProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	post(t, s, "req_1")

	_ = s.SetInProgress(ctx, "req_1")
	if err := s.Cancel(ctx, "req_1"); err != nil {
		t.Fatalf("Cancel from in_progress: %v", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	post(t, s, "req_1")
	post(t, s, "req_2")
	err := s.Create(ctx, &ServiceRequest{
		ID:       "req_3",
		ClientID: "cli_pedro",
		Category: "eletricista",
		Title:    "Instalar chuveiro novo",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = s.Cancel(ctx, "req_2")

	open, err := s.List(ctx, Query{Status: StatusOpen})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(open) != 2 {
		t.Errorf("open requests = %d, want 2", len(open))
	}

	eletricistas, err := s.List(ctx, Query{Category: "eletricista"})
	if err != nil {
		t.Fatalf("List by category: %v", err)
	}
	if len(eletricistas) != 1 || eletricistas[0].ID != "req_3" {
		t.Errorf("category filter returned %d results", len(eletricistas))
	}

	limited, err := s.List(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited list = %d, want 1", len(limited))
	}
}
