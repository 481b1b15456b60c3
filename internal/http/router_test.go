package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-lockd-backend/internal/config"
	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/guard"
	"github.com/tbourn/go-lockd-backend/internal/ledger"
	"github.com/tbourn/go-lockd-backend/internal/repo"
	"github.com/tbourn/go-lockd-backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// --- fakes ---

type countingLimiter struct {
	calls []string
	deny  bool
}

func (l *countingLimiter) Allow(_ context.Context, action, actor string) (guard.Decision, error) {
	l.calls = append(l.calls, action+"|"+actor)
	if l.deny {
		return guard.Decision{}, &guard.RateLimitError{Action: action, RetryAfter: 2 * time.Second}
	}
	return guard.Decision{Remaining: 9}, nil
}

type stubLocks struct{ calls int }

func (s *stubLocks) RecordLock(_ context.Context, claim services.LockClaim) (services.RecordLockResult, bool, error) {
	s.calls++
	return services.RecordLockResult{Lock: &domain.Lock{TxID: claim.TxID}}, false, nil
}

type stubPurchases struct{}

func (stubPurchases) BuyContent(context.Context, services.PurchaseClaim) (services.PurchaseResult, bool, error) {
	return services.PurchaseResult{}, false, nil
}

type stubAdmin struct{}

func (stubAdmin) RunDecayPass(_ context.Context, h int64) (ledger.PassResult, error) {
	return ledger.PassResult{Height: h}, nil
}
func (stubAdmin) ScoreDrift(context.Context) ([]ledger.Drift, error) { return nil, nil }

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		AdminToken:  "s3cret",
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestServer(t *testing.T, cfg config.Config, lim *countingLimiter, locks *stubLocks, ready func(context.Context) error) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	r := gin.New()
	RegisterRoutes(r, cfg, Deps{
		DB:        db,
		Limiter:   lim,
		Locks:     locks,
		Purchases: stubPurchases{},
		Contents:  &services.ContentService{DB: db, Scorer: ledger.NewEngine(db)},
		Admin:     stubAdmin{},
		Ready:     ready,
	})
	return r, db
}

func serve(r http.Handler, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// --- tests ---

func TestRegisterRoutes_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestServer(t, testConfig(), &countingLimiter{}, &stubLocks{}, nil)

	w := serve(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "lockd_http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	if w = serve(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w = serve(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_HealthReadiness(t *testing.T) {
	r, _ := newTestServer(t, testConfig(), &countingLimiter{}, &stubLocks{}, func(context.Context) error {
		return errors.New("redis: connection refused")
	})
	if w := serve(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newTestServer(t, cfg, &countingLimiter{}, &stubLocks{}, nil)

	w := serve(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://example.com"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_APILimitAndReplayBypass(t *testing.T) {
	lim := &countingLimiter{}
	locks := &stubLocks{}
	r, db := newTestServer(t, testConfig(), lim, locks, nil)

	txid := strings.Repeat("ab", 32)
	body := fmt.Sprintf(`{"tx_id":%q,"amount":1000,"duration_blocks":10,"content_id":"c1"}`, txid)
	hdr := map[string]string{"X-User-ID": "alice", "Idempotency-Key": txid}

	w := serve(r, http.MethodPost, "/api/v1/locks", body, hdr)
	if w.Code != http.StatusCreated || len(lim.calls) != 1 || lim.calls[0] != "api|user:alice" {
		t.Fatalf("status=%d calls=%v", w.Code, lim.calls)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Fatalf("remaining header = %q", w.Header().Get("X-RateLimit-Remaining"))
	}

	// Once a completed record exists, the replay skips the API limiter.
	if err := db.Create(&domain.IdempotencyRecord{
		ID: uuid.NewString(), Action: guard.ActionRecordLock, NaturalKey: txid,
		Status: domain.IdemCompleted, AttemptID: uuid.NewString(), ExpiresAt: time.Now().Add(time.Hour),
	}).Error; err != nil {
		t.Fatalf("seed record: %v", err)
	}
	lim.deny = true
	w = serve(r, http.MethodPost, "/api/v1/locks", body, hdr)
	if w.Code != http.StatusCreated || len(lim.calls) != 1 {
		t.Fatalf("replay charged: status=%d calls=%v", w.Code, lim.calls)
	}

	// Without the key the request is charged and rejected.
	w = serve(r, http.MethodPost, "/api/v1/locks", body, map[string]string{"X-User-ID": "alice"})
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "2" {
		t.Fatalf("status=%d retry=%q", w.Code, w.Header().Get("Retry-After"))
	}
	if locks.calls != 2 {
		t.Fatalf("service calls = %d", locks.calls)
	}
}

func TestRegisterRoutes_AdminToken(t *testing.T) {
	r, _ := newTestServer(t, testConfig(), &countingLimiter{}, &stubLocks{}, nil)

	if w := serve(r, http.MethodPost, "/api/v1/admin/decay?height=10", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	w := serve(r, http.MethodPost, "/api/v1/admin/decay?height=10", "", map[string]string{"X-Admin-Token": "s3cret"})
	if w.Code != http.StatusOK || w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("with token: status=%d cache=%q", w.Code, w.Header().Get("Cache-Control"))
	}
}

func TestRegisterRoutes_ContentsList(t *testing.T) {
	r, db := newTestServer(t, testConfig(), &countingLimiter{}, &stubLocks{}, nil)
	if err := repo.CreateContent(context.Background(), db, &domain.Content{ID: "c1", OwnerID: "seller", Title: "Hello"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w := serve(r, http.MethodGet, "/api/v1/contents?q=hell", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"id":"c1"`) || w.Header().Get("ETag") == "" {
		t.Fatalf("status=%d etag=%q body=%s", w.Code, w.Header().Get("ETag"), w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
