package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(v *Verifier, adminSecret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(v))

	whoami := func(c *gin.Context) {
		id, _ := GetIdentity(c)
		c.JSON(http.StatusOK, gin.H{"id": id.ID, "role": string(id.Role)})
	}
	r.GET("/open", whoami)

	pros := r.Group("", RequireActor(), RequireRole(RoleProfessional))
	pros.GET("/pro", whoami)

	admin := r.Group("", RequireAdmin(adminSecret))
	admin.GET("/admin", whoami)

	return r
}

func do(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/pro", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSignedIdentityAccepted(t *testing.T) {
	v := NewVerifier("segredo-do-gateway")
	r := newTestRouter(v, "")

	id := Identity{ID: "pro_joao", Role: RoleProfessional}
	w := do(r, map[string]string{
		"X-Actor-Id":        id.ID,
		"X-Actor-Role":      string(id.Role),
		"X-Actor-Signature": v.Sign(id),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["id"] != "pro_joao" || body["role"] != "professional" {
		t.Errorf("identity = %v", body)
	}
}

func TestBadSignatureTreatedAsAnonymous(t *testing.T) {
	v := NewVerifier("segredo-do-gateway")
	r := newTestRouter(v, "")

	w := do(r, map[string]string{
		"X-Actor-Id":        "pro_joao",
		"X-Actor-Role":      "professional",
		"X-Actor-Signature": "deadbeef",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestEmptySecretSkipsSignatureCheck(t *testing.T) {
	v := NewVerifier("")
	r := newTestRouter(v, "")

	w := do(r, map[string]string{
		"X-Actor-Id":   "pro_joao",
		"X-Actor-Role": "professional",
	})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (dev mode)", w.Code)
	}
}

func TestRequireActorRejectsAnonymous(t *testing.T) {
	r := newTestRouter(NewVerifier(""), "")
	w := do(r, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireRoleRejectsWrongRole(t *testing.T) {
	r := newTestRouter(NewVerifier(""), "")
	w := do(r, map[string]string{
		"X-Actor-Id":   "cli_maria",
		"X-Actor-Role": "client",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	r := newTestRouter(NewVerifier(""), "chave-admin")

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no secret: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Admin-Secret", "chave-errada")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Admin-Secret", "chave-admin")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("correct secret: status = %d, want 200", w.Code)
	}
}

func TestRequireAdminDisabledWithoutSecret(t *testing.T) {
	r := newTestRouter(NewVerifier(""), "")

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Admin-Secret", "qualquer-coisa")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 (admin surface disabled)", w.Code)
	}
}

func TestAdminID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := AdminID(c); got != "admin" {
		t.Errorf("anonymous AdminID = %q, want \"admin\"", got)
	}
	c.Set(ContextKeyIdentity, Identity{ID: "adm_rita", Role: RoleAdmin})
	if got := AdminID(c); got != "adm_rita" {
		t.Errorf("AdminID = %q, want adm_rita", got)
	}
}
