package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/tbourn/go-lockd-backend/internal/services"
)

func TestRunDecay_Height(t *testing.T) {
	fa := &fakeAdmin{}
	r := newTestRouter(New(nil, nil, nil, fa))

	if w := doJSON(t, r, http.MethodPost, "/admin/decay?height=1200", "", nil, nil); w.Code != http.StatusOK || fa.height != 1200 {
		t.Fatalf("status=%d height=%d", w.Code, fa.height)
	}
	if w := doJSON(t, r, http.MethodPost, "/admin/decay", "", nil, nil); w.Code != http.StatusOK || fa.height != 0 {
		t.Fatalf("default: status=%d height=%d", w.Code, fa.height)
	}
	if w := doJSON(t, r, http.MethodPost, "/admin/decay?height=tip", "", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad height: status=%d", w.Code)
	}

	fa.err = &services.ValidationError{Field: "height", Reason: "must not be negative"}
	if w := doJSON(t, r, http.MethodPost, "/admin/decay?height=-1", "", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("negative: status=%d", w.Code)
	}
}

func TestScoreDrift_EmptyIsArray(t *testing.T) {
	r := newTestRouter(New(nil, nil, nil, &fakeAdmin{}))
	w := doJSON(t, r, http.MethodGet, "/admin/score-drift", "", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(body["drift"]) != "[]" {
		t.Fatalf("drift = %s", body["drift"])
	}
}
