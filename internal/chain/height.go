package chain

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-lockd-backend/internal/kv"
)

const tipHeightKey = "chain:tip-height"

// HeightCache serves the current block height from the shared store when a
// recent value exists and from the live source otherwise. Store failures
// fall through to the source; the height is never invented.
type HeightCache struct {
	src Source
	kv  kv.Client
	ttl time.Duration
}

// NewHeightCache returns a cache; a nil store disables caching.
func NewHeightCache(src Source, store kv.Client, ttl time.Duration) *HeightCache {
	return &HeightCache{src: src, kv: store, ttl: ttl}
}

// CurrentHeight returns the cached or live tip height.
func (h *HeightCache) CurrentHeight(ctx context.Context) (int64, error) {
	if height, ok := h.Cached(ctx); ok {
		return height, nil
	}
	return h.Refresh(ctx)
}

// Cached returns the cached height without touching the chain.
func (h *HeightCache) Cached(ctx context.Context) (int64, bool) {
	if h.kv == nil {
		return 0, false
	}
	v, err := h.kv.Get(ctx, tipHeightKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			log.Warn().Str("component", "chain").Err(err).Msg("height cache read failed")
		}
		return 0, false
	}
	height, err := strconv.ParseInt(v, 10, 64)
	if err != nil || height < 0 {
		return 0, false
	}
	return height, true
}

// Refresh reads the live tip and stores it.
func (h *HeightCache) Refresh(ctx context.Context) (int64, error) {
	height, err := h.src.GetTipHeight(ctx)
	if err != nil {
		return 0, err
	}
	if h.kv != nil {
		if err := h.kv.Set(ctx, tipHeightKey, strconv.FormatInt(height, 10), h.ttl); err != nil {
			log.Warn().Str("component", "chain").Err(err).Msg("height cache write failed")
		}
	}
	return height, nil
}
