package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyIdentity is the key for storing the actor identity in gin context
	ContextKeyIdentity = "actorIdentity"
)

// Middleware extracts the forwarded actor identity from request headers.
// Sets the identity in context when present and correctly signed.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetHeader("X-Actor-Id")
		role := Role(c.GetHeader("X-Actor-Role"))

		if actorID != "" && role != "" {
			id := Identity{ID: actorID, Role: role}
			if err := v.Verify(id, c.GetHeader("X-Actor-Signature")); err == nil {
				c.Set(ContextKeyIdentity, id)
			}
		}

		c.Next()
	}
}

// RequireActor rejects requests without a forwarded identity.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyIdentity); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Actor identity required.",
			})
			return
		}
		c.Next()
	}
}

// RequireRole rejects actors whose role is not in the allowed set.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Actor identity required.",
			})
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Your role cannot perform this operation.",
		})
	}
}

// RequireAdmin gates /admin routes behind the static admin secret.
// An empty configured secret disables the admin surface entirely.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin API disabled.",
			})
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid admin secret.",
			})
			return
		}
		c.Next()
	}
}

// GetIdentity returns the actor identity from context (if authenticated)
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// ActorID returns the authenticated actor's ID, or "" when anonymous.
func ActorID(c *gin.Context) string {
	id, ok := GetIdentity(c)
	if !ok {
		return ""
	}
	return id.ID
}

// AdminID returns the acting admin's ID for audit fields. Admin requests
// authenticate with the shared secret; the individual admin is forwarded
// like any other actor.
func AdminID(c *gin.Context) string {
	id, ok := GetIdentity(c)
	if ok && id.Role == RoleAdmin {
		return id.ID
	}
	return "admin"
}
