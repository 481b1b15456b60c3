package handlers

import (
	"net/http"
	"testing"

	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/services"
)

func TestBuyContent_UsesPathAndCaller(t *testing.T) {
	fp := &fakePurchases{res: services.PurchaseResult{Purchase: &domain.Purchase{TxID: testTxID, Price: 100000}}}
	r := newTestRouter(New(nil, fp, nil, nil))

	w := doJSON(t, r, http.MethodPost, "/contents/c9/purchases", "bob", BuyContentRequest{TxID: testTxID}, map[string]string{"Idempotency-Key": testTxID})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if fp.got.BuyerID != "bob" || fp.got.ContentID != "c9" || fp.got.TxID != testTxID {
		t.Fatalf("claim = %+v", fp.got)
	}
}

func TestBuyContent_Replay(t *testing.T) {
	fp := &fakePurchases{replayed: true, res: services.PurchaseResult{Purchase: &domain.Purchase{TxID: testTxID}}}
	r := newTestRouter(New(nil, fp, nil, nil))
	w := doJSON(t, r, http.MethodPost, "/contents/c9/purchases", "bob", BuyContentRequest{TxID: testTxID}, nil)
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("status=%d replayed=%q", w.Code, w.Header().Get("Idempotency-Replayed"))
	}
}

func TestBuyContent_Errors(t *testing.T) {
	cases := []struct {
		name   string
		user   string
		body   any
		err    error
		status int
		code   string
	}{
		{"anonymous", "", BuyContentRequest{TxID: testTxID}, nil, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"missing tx", "bob", BuyContentRequest{}, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"self purchase", "bob", BuyContentRequest{TxID: testTxID}, services.ErrSelfPurchase, http.StatusConflict, ErrCodeSelfPurchase},
		{"listing changed", "bob", BuyContentRequest{TxID: testTxID}, services.ErrListingChanged, http.StatusConflict, ErrCodeListingChanged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(New(nil, &fakePurchases{err: tc.err}, nil, nil))
			w := doJSON(t, r, http.MethodPost, "/contents/c9/purchases", tc.user, tc.body, nil)
			if w.Code != tc.status || decodeErr(t, w).Code != tc.code {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
		})
	}
}
