package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/http/middleware"
	"github.com/tbourn/go-lockd-backend/internal/ledger"
	"github.com/tbourn/go-lockd-backend/internal/services"
)

var testTxID = strings.Repeat("ab", 32)

// ---------- fakes ----------

type fakeLocks struct {
	got      services.LockClaim
	res      services.RecordLockResult
	replayed bool
	err      error
}

func (f *fakeLocks) RecordLock(_ context.Context, claim services.LockClaim) (services.RecordLockResult, bool, error) {
	f.got = claim
	return f.res, f.replayed, f.err
}

type fakePurchases struct {
	got      services.PurchaseClaim
	res      services.PurchaseResult
	replayed bool
	err      error
}

func (f *fakePurchases) BuyContent(_ context.Context, claim services.PurchaseClaim) (services.PurchaseResult, bool, error) {
	f.got = claim
	return f.res, f.replayed, f.err
}

type fakeContents struct {
	fresh  bool
	filter domain.ContentFilter
	item   *domain.Content
	err    error
}

func (f *fakeContents) Get(_ context.Context, id string, fresh bool) (*domain.Content, error) {
	f.fresh = fresh
	if f.err != nil {
		return nil, f.err
	}
	return f.item, nil
}

func (f *fakeContents) List(_ context.Context, fl domain.ContentFilter, _, _ int) ([]domain.Content, int64, error) {
	f.filter = fl
	return nil, 0, f.err
}

func (f *fakeContents) Locks(context.Context, string, int, int) ([]domain.Lock, int64, error) {
	return nil, 0, f.err
}

type fakeAdmin struct {
	height int64
	drift  []ledger.Drift
	err    error
}

func (f *fakeAdmin) RunDecayPass(_ context.Context, height int64) (ledger.PassResult, error) {
	f.height = height
	return ledger.PassResult{Height: height}, f.err
}

func (f *fakeAdmin) ScoreDrift(context.Context) ([]ledger.Drift, error) { return f.drift, f.err }

// ---------- router ----------

func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity())
	r.POST("/locks", middleware.IdempotencyValidator("recordLock", nil), h.RecordLock)
	r.GET("/contents", h.ListContents)
	r.GET("/contents/:id", h.GetContent)
	r.GET("/contents/:id/locks", h.ListContentLocks)
	r.POST("/contents/:id/purchases", middleware.IdempotencyValidator("buyContent", nil), h.BuyContent)
	r.POST("/admin/decay", h.RunDecay)
	r.GET("/admin/score-drift", h.ScoreDrift)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, user string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, w.Body.String())
	}
	return er
}
