package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/ledger"
	"github.com/tbourn/go-lockd-backend/internal/repo"
)

func TestContentGet_TriggersDecayWhenBehindTip(t *testing.T) {
	e := newEnv(t)
	trig := &countingTrigger{}
	svc := newContentService(e, fixedHeights{h: tipAt + 10, cached: true}, trig)

	c, err := svc.Get(context.Background(), content, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.ID != content || trig.n != 1 {
		t.Fatalf("content=%q triggers=%d", c.ID, trig.n)
	}

	// Nothing cached: no trigger, no chain call.
	svc.Heights = fixedHeights{h: tipAt + 10}
	if _, err := svc.Get(context.Background(), content, false); err != nil || trig.n != 1 {
		t.Fatalf("uncached: err=%v triggers=%d", err, trig.n)
	}
}

func TestContentGet_FreshRecomputesAtHeight(t *testing.T) {
	e := newEnv(t)
	id := txid(400)
	e.src.put(lockTx(t, id, 100_000, tipAt+144, ""))
	if _, _, err := e.locks.RecordLock(context.Background(), lockClaim(id, 100_000, 144)); err != nil {
		t.Fatalf("record: %v", err)
	}

	svc := newContentService(e, fixedHeights{h: tipAt + 72}, nil)
	stale, err := svc.Get(context.Background(), content, false)
	if err != nil || stale.Score != 100_000 {
		t.Fatalf("cached read: score=%d err=%v", stale.Score, err)
	}
	fresh, err := svc.Get(context.Background(), content, true)
	if err != nil {
		t.Fatalf("fresh read: %v", err)
	}
	if fresh.Score != 50_000 || fresh.ScoreHeight != tipAt+72 {
		t.Fatalf("fresh score=%d height=%d", fresh.Score, fresh.ScoreHeight)
	}
}

func TestContentGet_NotFound(t *testing.T) {
	e := newEnv(t)
	svc := newContentService(e, fixedHeights{h: tipAt}, nil)
	if _, err := svc.Get(context.Background(), "missing", false); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestContentList_Filters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addContent(t, &domain.Content{ID: "c2", OwnerID: "writer", Title: "Second post", Score: 5})
	e.addContent(t, &domain.Content{ID: "c3", OwnerID: "writer", Title: "archived", Status: domain.ContentArchived})
	if err := repo.CreateFollow(ctx, e.db, "bob", "writer"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	svc := newContentService(e, fixedHeights{h: tipAt}, nil)

	items, total, err := svc.List(ctx, domain.All(domain.FollowedBy("bob"), domain.StatusIs(domain.ContentPublished)), 1, 10)
	if err != nil || total != 1 || items[0].ID != "c2" {
		t.Fatalf("followed+published: total=%d items=%v err=%v", total, items, err)
	}

	_, total, err = svc.List(ctx, domain.Any(domain.TitleContains("POST"), domain.StatusIs(domain.ContentArchived)), 1, 10)
	if err != nil || total != 2 {
		t.Fatalf("any: total=%d err=%v", total, err)
	}

	if _, _, err := svc.List(ctx, domain.StatusIs("deleted"), 1, 10); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("bad filter: err = %v", err)
	}
}

func TestContentLocks_Pages(t *testing.T) {
	e := newEnv(t)
	for i, u := range []string{"a", "b", "c"} {
		e.holderLock(t, "lock-"+u, txid(410+i), u, 1000)
	}
	svc := newContentService(e, fixedHeights{h: tipAt}, nil)

	items, total, err := svc.Locks(context.Background(), content, 2, 2)
	if err != nil || total != 3 || len(items) != 1 {
		t.Fatalf("page 2: total=%d len=%d err=%v", total, len(items), err)
	}
	if _, _, err := svc.Locks(context.Background(), "missing", 1, 10); !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("missing: err = %v", err)
	}
}

func TestAdmin_RunDecayPassAtCurrentHeight(t *testing.T) {
	e := newEnv(t)
	e.holderLock(t, "lock-a", txid(420), "alice", 1000)
	if err := repo.AddContentScore(context.Background(), e.db, content, 1000); err != nil {
		t.Fatalf("seed score: %v", err)
	}
	admin := &AdminService{Scorer: ledger.NewEngine(e.db), Heights: fixedHeights{h: tipAt + 100}}

	res, err := admin.RunDecayPass(context.Background(), 0)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if res.Height != tipAt+100 || res.Expired != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := e.getContent(t, content).Score; got != 0 {
		t.Fatalf("score = %d after expiry", got)
	}
	drift, err := admin.ScoreDrift(context.Background())
	if err != nil || len(drift) != 0 {
		t.Fatalf("drift = %v err=%v", drift, err)
	}

	if _, err := admin.RunDecayPass(context.Background(), -1); !errors.Is(err, ErrInvalidClaim) {
		t.Fatalf("negative height: err = %v", err)
	}
}
