package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-lockd-backend/internal/chain"
	"github.com/tbourn/go-lockd-backend/internal/config"
	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/guard"
	"github.com/tbourn/go-lockd-backend/internal/kv/kvtest"
	"github.com/tbourn/go-lockd-backend/internal/ledger"
	"github.com/tbourn/go-lockd-backend/internal/repo"
	"github.com/tbourn/go-lockd-backend/internal/script"
	"github.com/tbourn/go-lockd-backend/internal/verify"
)

const (
	genPub  = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
	tipAt   = 1000
	seller  = "seller"
	content = "c1"
)

func txid(n int) string { return fmt.Sprintf("%064x", n) }

func pkh() [20]byte {
	var h [20]byte
	raw, _ := hex.DecodeString(genPub)
	copy(h[:], btcutil.Hash160(raw))
	return h
}

// fakeSource serves canned transactions; mu guards txs for concurrent tests.
type fakeSource struct {
	mu  sync.Mutex
	txs map[string]*chain.Tx
	err error
}

func (f *fakeSource) put(tx *chain.Tx) {
	f.mu.Lock()
	f.txs[tx.TxID] = tx
	f.mu.Unlock()
}

func (f *fakeSource) GetTransaction(_ context.Context, id string) (*chain.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[id]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	return tx, nil
}

func (f *fakeSource) GetTipHeight(context.Context) (int64, error) { return tipAt, nil }

func (f *fakeSource) IsOutputSpent(context.Context, string, int) (bool, error) { return false, nil }

type fixedHeights struct {
	h      int64
	cached bool
	err    error
}

func (f fixedHeights) CurrentHeight(context.Context) (int64, error) { return f.h, f.err }

func (f fixedHeights) Cached(context.Context) (int64, bool) { return f.h, f.cached }

type countingTrigger struct{ n int }

func (c *countingTrigger) Trigger() { c.n++ }

type env struct {
	db        *gorm.DB
	src       *fakeSource
	store     *kvtest.Store
	locks     *LockService
	purchases *PurchaseService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := newTestDB(t)
	src := &fakeSource{txs: map[string]*chain.Tx{}}
	store := kvtest.New()
	limiter := guard.NewRateLimiter(store, config.RateLimitConfig{
		Window: time.Minute, RecordLock: 5, BuyContent: 5, API: 100,
	}, config.ModeProduction)
	g := guard.NewIdempotency(db, time.Minute)
	v := verify.New(src, verify.Options{HeightTolerance: verify.DefaultHeightTolerance})

	e := &env{
		db:    db,
		src:   src,
		store: store,
		locks: &LockService{
			Guard:    g,
			Limiter:  limiter,
			Verifier: v,
			Heights:  fixedHeights{h: tipAt},
			Limits: config.LockConfig{
				MinAmount: 1000, MaxAmount: 1_000_000_000,
				MinBlocks: 1, MaxBlocks: 52_560,
				MinSaleRatioBps: 1000,
			},
		},
		purchases: &PurchaseService{
			Guard:          g,
			Limiter:        limiter,
			Verifier:       v,
			Heights:        fixedHeights{h: tipAt},
			HolderShareBps: 1000,
		},
	}
	e.addContent(t, &domain.Content{ID: content, OwnerID: seller, Title: "first"})
	return e
}

func (e *env) addContent(t *testing.T, c *domain.Content) {
	t.Helper()
	if err := repo.CreateContent(context.Background(), e.db, c); err != nil {
		t.Fatalf("create content: %v", err)
	}
}

func (e *env) getContent(t *testing.T, id string) *domain.Content {
	t.Helper()
	c, err := repo.GetContent(context.Background(), e.db, id)
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	return c
}

func (e *env) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// lockTx builds a confirmed lock transaction paying amount into a timelock
// that opens at unlock, with an optional reference envelope.
func lockTx(t *testing.T, id string, amount, unlock int64, ref string) *chain.Tx {
	t.Helper()
	tl, err := script.BuildTimelockScript(unlock, pkh(), []byte{0x75})
	if err != nil {
		t.Fatalf("build timelock: %v", err)
	}
	tx := &chain.Tx{TxID: id, Confirmed: true, Confirmations: 2, Outputs: []chain.Output{
		{Index: 0, Value: amount, ScriptHex: hex.EncodeToString(tl)},
	}}
	if ref != "" {
		out, err := script.BuildProtocolEnvelope(script.ProtocolTag, script.ActionLock, ref)
		if err != nil {
			t.Fatalf("build envelope: %v", err)
		}
		tx.Outputs = append(tx.Outputs, chain.Output{Index: 1, ScriptHex: hex.EncodeToString(out)})
	}
	return tx
}

// payTx builds a confirmed payment of amount to genPub's key hash.
func payTx(t *testing.T, id string, amount int64) *chain.Tx {
	t.Helper()
	raw, err := script.BuildPayToHash(pkh())
	if err != nil {
		t.Fatalf("build p2pkh: %v", err)
	}
	return &chain.Tx{TxID: id, Confirmed: true, Confirmations: 1, Outputs: []chain.Output{
		{Index: 0, Value: amount, ScriptHex: hex.EncodeToString(raw)},
	}}
}

func lockClaim(id string, amount, duration int64) LockClaim {
	return LockClaim{UserID: "alice", TxID: id, Amount: amount, DurationBlocks: duration, ContentID: content}
}

// holderLock inserts an active lock directly, bypassing verification.
func (e *env) holderLock(t *testing.T, id, tx, user string, value int64) {
	t.Helper()
	l := &domain.Lock{
		ID: id, TxID: tx, UserID: user, ContentID: content,
		Amount: value, InitialValue: value, CurrentValue: value,
		StartBlock: tipAt, DurationBlocks: 100, RemainingBlocks: 100, Verified: true,
	}
	if err := repo.CreateLock(context.Background(), e.db, l); err != nil {
		t.Fatalf("create lock: %v", err)
	}
}

func newContentService(e *env, h fixedHeights, trig DecayTrigger) *ContentService {
	return &ContentService{DB: e.db, Scorer: ledger.NewEngine(e.db), Heights: h, Decay: trig}
}
