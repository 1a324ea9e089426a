// Package auth resolves the authenticated actor on each request.
//
// Authentication model: the session gateway in front of this service has
// already authenticated the user. It forwards the actor identity in headers,
// signed with a shared HMAC secret, and the core trusts that identity:
// - X-Actor-Id / X-Actor-Role: the authenticated actor
// - X-Actor-Signature: HMAC-SHA256 over "id|role" (skipped if no secret set)
// - X-Admin-Secret: static secret gating /admin routes
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Errors
var (
	ErrNoIdentity       = errors.New("actor identity required")
	ErrInvalidSignature = errors.New("invalid actor signature")
	ErrForbiddenRole    = errors.New("actor role not allowed")
)

// Role classifies the acting party.
type Role string

const (
	RoleProfessional Role = "professional"
	RoleClient       Role = "client"
	RoleAdmin        Role = "admin"
)

// Identity is the authenticated actor forwarded by the session gateway.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Verifier checks forwarded-identity signatures.
type Verifier struct {
	secret []byte // empty = signature check disabled (development)
}

// NewVerifier creates a verifier. An empty secret disables signature checks.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign computes the signature the gateway attaches for an identity.
func (v *Verifier) Sign(id Identity) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id.ID + "|" + string(id.Role)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify validates a forwarded identity against its signature.
func (v *Verifier) Verify(id Identity, signature string) error {
	if len(v.secret) == 0 {
		return nil
	}
	expected := v.Sign(id)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
