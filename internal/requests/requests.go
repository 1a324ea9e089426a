// Package requests manages client service requests.
//
// A service request is a client's posted job. It accepts contact unlocks only
// while open; an exclusive unlock moves it to in_progress, a closed deal
// finalizes it and a self-reported non-close cancels it.
package requests

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("service request not found")
	ErrInvalidTransition = errors.New("invalid service request status transition")
)

// Status is the service request lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusFinalized  Status = "finalized"
	StatusCanceled   Status = "canceled"
)

// ServiceRequest is a client's posted job listing.
type ServiceRequest struct {
	ID                       string    `json:"id"`
	ClientID                 string    `json:"clientId"`
	Category                 string    `json:"category"`
	Subcategory              string    `json:"subcategory,omitempty"`
	Title                    string    `json:"title"`
	Description              string    `json:"description,omitempty"`
	Status                   Status    `json:"status"`
	ContractedProfessionalID string    `json:"contractedProfessionalId,omitempty"`
	CreatedAt                time.Time `json:"createdAt"`
	UpdatedAt                time.Time `json:"updatedAt"`
}

// AcceptsUnlocks reports whether new contact unlocks are allowed.
func (r *ServiceRequest) AcceptsUnlocks() bool {
	return r.Status == StatusOpen
}

// Query filters request listings.
type Query struct {
	Category string
	Status   Status
	Limit    int
}

// Store persists service requests.
type Store interface {
	Create(ctx context.Context, r *ServiceRequest) error
	Get(ctx context.Context, id string) (*ServiceRequest, error)
	Update(ctx context.Context, r *ServiceRequest) error
	List(ctx context.Context, q Query) ([]*ServiceRequest, error)
}

// Service implements service request business logic.
type Service struct {
	store Store
}

// NewService creates a new requests service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create posts a new service request for a client.
func (s *Service) Create(ctx context.Context, r *ServiceRequest) error {
	now := time.Now()
	r.Status = StatusOpen
	r.CreatedAt = now
	r.UpdatedAt = now
	return s.store.Create(ctx, r)
}

// Get returns a service request by ID.
func (s *Service) Get(ctx context.Context, id string) (*ServiceRequest, error) {
	return s.store.Get(ctx, id)
}

// List returns service requests matching the query.
func (s *Service) List(ctx context.Context, q Query) ([]*ServiceRequest, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	return s.store.List(ctx, q)
}

// SetInProgress transitions open → in_progress (exclusive unlock).
func (s *Service) SetInProgress(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusInProgress, "", StatusOpen)
}

// Finalize transitions to finalized and records the contracted professional.
// Allowed from any status: the unlock record's deal_closed flag is the
// authority on whether closing was legal, and a late close on an already
// settled request still wins the contract.
func (s *Service) Finalize(ctx context.Context, id, professionalID string) error {
	return s.transition(ctx, id, StatusFinalized, professionalID,
		StatusOpen, StatusInProgress, StatusFinalized, StatusCanceled)
}

// Cancel transitions to canceled (self-reported non-close refund).
func (s *Service) Cancel(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusCanceled, "", StatusOpen, StatusInProgress)
}

func (s *Service) transition(ctx context.Context, id string, to Status, professionalID string, from ...Status) error {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	allowed := false
	for _, f := range from {
		if r.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}

	r.Status = to
	if professionalID != "" {
		r.ContractedProfessionalID = professionalID
	}
	r.UpdatedAt = time.Now()
	return s.store.Update(ctx, r)
}
