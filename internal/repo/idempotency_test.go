package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-lockd-backend/internal/domain"
)

func TestCreateIdempotency_SuccessAndDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Now().UTC()

	rec, err := CreateIdempotency(ctx, db, "recordLock", "tx1", "att-1", time.Minute)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.Status != domain.IdemInFlight || rec.AttemptID != "att-1" || rec.NaturalKey != "tx1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !(rec.ExpiresAt.After(start) && rec.ExpiresAt.Before(start.Add(2*time.Minute))) {
		t.Fatalf("unexpected ExpiresAt: %v", rec.ExpiresAt)
	}

	if _, err := CreateIdempotency(ctx, db, "recordLock", "tx1", "att-2", time.Minute); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same natural key under another action is independent.
	if _, err := CreateIdempotency(ctx, db, "buyContent", "tx1", "att-3", time.Minute); err != nil {
		t.Fatalf("other action: %v", err)
	}
}

func TestCreateIdempotency_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrator().DropTable(&domain.IdempotencyRecord{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	_, err := CreateIdempotency(context.Background(), db, "recordLock", "tx", "att", time.Minute)
	if err == nil || err == ErrDuplicate {
		t.Fatalf("expected a non-duplicate error, got %v", err)
	}
}

func TestCompleteIdempotency_OnlyOwningAttempt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rec, err := CreateIdempotency(ctx, db, "recordLock", "tx1", "att-1", time.Minute)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := CompleteIdempotency(ctx, db, rec.ID, "att-other", []byte(`{}`)); !errors.Is(err, ErrStaleAttempt) {
		t.Fatalf("expected ErrStaleAttempt, got %v", err)
	}
	if err := CompleteIdempotency(ctx, db, rec.ID, "att-1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := GetIdempotency(ctx, db, "recordLock", "tx1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.IdemCompleted || string(got.Result) != `{"ok":true}` {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Settled records cannot be failed afterwards.
	if err := FailIdempotency(ctx, db, rec.ID, "att-1", "late"); !errors.Is(err, ErrStaleAttempt) {
		t.Fatalf("expected ErrStaleAttempt, got %v", err)
	}
}

func TestReleaseIdempotency(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	live, _ := CreateIdempotency(ctx, db, "a", "live", "att", time.Hour)
	if ok, err := ReleaseIdempotency(ctx, db, live, now); err != nil || ok {
		t.Fatalf("live in-flight record must not be released: ok=%v err=%v", ok, err)
	}

	failed, _ := CreateIdempotency(ctx, db, "a", "failed", "att", time.Hour)
	if err := FailIdempotency(ctx, db, failed.ID, "att", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if ok, err := ReleaseIdempotency(ctx, db, failed, now); err != nil || !ok {
		t.Fatalf("failed record should be released: ok=%v err=%v", ok, err)
	}

	stale, _ := CreateIdempotency(ctx, db, "a", "stale", "att", time.Millisecond)
	if ok, err := ReleaseIdempotency(ctx, db, stale, now.Add(time.Second)); err != nil || !ok {
		t.Fatalf("lapsed lease should be released: ok=%v err=%v", ok, err)
	}
	if _, err := GetIdempotency(ctx, db, "a", "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after release, got %v", err)
	}

	// Releasing twice reports false rather than erroring.
	if ok, err := ReleaseIdempotency(ctx, db, stale, now.Add(time.Second)); err != nil || ok {
		t.Fatalf("second release: ok=%v err=%v", ok, err)
	}
}

func TestPurgeIdempotency(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	done, _ := CreateIdempotency(ctx, db, "a", "done", "att", time.Hour)
	_ = CompleteIdempotency(ctx, db, done.ID, "att", []byte(`1`))
	_, _ = CreateIdempotency(ctx, db, "a", "flight", "att", time.Hour)

	n, err := PurgeIdempotency(ctx, db, time.Now().UTC().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if _, err := GetIdempotency(ctx, db, "a", "flight"); err != nil {
		t.Fatalf("in-flight record must survive purge: %v", err)
	}
}
