package blockchain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// CachedBlockhash holds one fetched blockhash with metadata.
type CachedBlockhash struct {
	Hash                 string
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// BlockhashCache keeps a double-buffered blockhash so the submit path
// never blocks on a fetch. A background loop rotates fresh hashes in.
type BlockhashCache struct {
	current atomic.Pointer[CachedBlockhash]
	next    atomic.Pointer[CachedBlockhash]

	rpc      *RPCClient
	ttl      time.Duration
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	hits   atomic.Int64
	misses atomic.Int64
}

// NewBlockhashCache creates a blockhash cache. refreshInterval governs the
// prefetch cadence; ttl bounds how stale a served hash may be.
func NewBlockhashCache(rpc *RPCClient, refreshInterval, ttl time.Duration) *BlockhashCache {
	return &BlockhashCache{
		rpc:      rpc,
		interval: refreshInterval,
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
}

// Start performs the initial fetch and begins the refresh loop.
func (c *BlockhashCache) Start() error {
	if err := c.fetchAndRotate(); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.prefetchLoop()

	log.Info().
		Dur("interval", c.interval).
		Dur("ttl", c.ttl).
		Msg("blockhash cache started")
	return nil
}

// Stop stops the background refresh.
func (c *BlockhashCache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Get returns a valid cached blockhash, falling back to a synchronous
// fetch only when both buffers are stale.
func (c *BlockhashCache) Get() (string, error) {
	if cached := c.current.Load(); cached != nil && time.Since(cached.FetchedAt) < c.ttl {
		c.hits.Add(1)
		return cached.Hash, nil
	}
	if next := c.next.Load(); next != nil && time.Since(next.FetchedAt) < c.ttl {
		c.hits.Add(1)
		return next.Hash, nil
	}

	c.misses.Add(1)
	log.Warn().Msg("blockhash cache miss, forcing sync refresh")
	if err := c.fetchAndRotate(); err != nil {
		return "", err
	}
	return c.current.Load().Hash, nil
}

// Age returns time since the last successful fetch.
func (c *BlockhashCache) Age() time.Duration {
	cached := c.current.Load()
	if cached == nil {
		return 0
	}
	return time.Since(cached.FetchedAt)
}

// HitRate returns the cache hit rate percentage.
func (c *BlockhashCache) HitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 100.0
	}
	return float64(hits) / float64(total) * 100
}

func (c *BlockhashCache) prefetchLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.fetchAndRotate(); err != nil {
				log.Warn().Err(err).Msg("blockhash prefetch failed")
			}
		}
	}
}

func (c *BlockhashCache) fetchAndRotate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return err
	}

	fresh := &CachedBlockhash{
		Hash:                 result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
		FetchedAt:            time.Now(),
	}

	// Rotate: next becomes current, the fresh hash becomes next.
	prev := c.current.Load()
	c.current.Store(c.next.Load())
	c.next.Store(fresh)
	if prev == nil || c.current.Load() == nil {
		c.current.Store(fresh)
	}
	return nil
}
