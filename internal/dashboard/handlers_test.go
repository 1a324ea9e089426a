package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/conectapro/backend/internal/pricing"
	"github.com/conectapro/backend/internal/refunds"
	"github.com/conectapro/backend/internal/requests"
)

type stubQueue struct {
	pending []*refunds.Refund
}

func (q *stubQueue) ListPending(ctx context.Context, limit int) ([]*refunds.Refund, error) {
	return q.pending, nil
}

type stubFeed struct{}

func (stubFeed) Stats() map[string]any {
	return map[string]any{"clients": 2}
}

func newTestRouter(t *testing.T) (*gin.Engine, *requests.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reqs := requests.NewService(requests.NewMemoryStore())
	prc := pricing.NewProvider(pricing.NewMemoryStore())
	queue := &stubQueue{pending: []*refunds.Refund{{ID: "ref_1"}, {ID: "ref_2"}}}

	h := NewHandler(reqs, queue, prc, stubFeed{})
	r := gin.New()
	h.RegisterAdminRoutes(r.Group("/v1"))
	return r, reqs
}

func TestOverview(t *testing.T) {
	router, reqs := newTestRouter(t)
	ctx := context.Background()

	for _, id := range []string{"req_1", "req_2", "req_3"} {
		err := reqs.Create(ctx, &requests.ServiceRequest{
			ID: id, ClientID: "cli_maria", Category: "pintor", Title: "Pintar sala e quartos",
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := reqs.SetInProgress(ctx, "req_3"); err != nil {
		t.Fatalf("SetInProgress: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/overview", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		Requests struct {
			Open       int `json:"open"`
			InProgress int `json:"inProgress"`
		} `json:"requests"`
		Refunds struct {
			PendingReview int `json:"pendingReview"`
		} `json:"refunds"`
		Pricing struct {
			Version          int64 `json:"version"`
			UnlockCostNormal int64 `json:"unlockCostNormal"`
		} `json:"pricing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Requests.Open != 2 || body.Requests.InProgress != 1 {
		t.Errorf("requests = %+v", body.Requests)
	}
	if body.Refunds.PendingReview != 2 {
		t.Errorf("pendingReview = %d, want 2", body.Refunds.PendingReview)
	}
	if body.Pricing.UnlockCostNormal != pricing.Defaults().UnlockCostNormal {
		t.Errorf("unlockCostNormal = %d", body.Pricing.UnlockCostNormal)
	}
}

func TestOpenRequestsFilters(t *testing.T) {
	router, reqs := newTestRouter(t)
	ctx := context.Background()

	err := reqs.Create(ctx, &requests.ServiceRequest{
		ID: "req_1", ClientID: "cli_maria", Category: "pintor", Title: "Pintar fachada",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = reqs.Create(ctx, &requests.ServiceRequest{
		ID: "req_2", ClientID: "cli_pedro", Category: "jardineiro", Title: "Podar árvores do quintal",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/overview/requests?category=jardineiro", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Count    int                        `json:"count"`
		Requests []*requests.ServiceRequest `json:"requests"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Requests[0].ID != "req_2" {
		t.Errorf("filtered = %+v", body)
	}
}
