// Package contextcache holds the transcript context for at most one video
// and collapses concurrent loads of the same video into one fetch.
package contextcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lotas/vidchat/internal/applog"
	"github.com/lotas/vidchat/internal/metrics"
	"github.com/lotas/vidchat/internal/types"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidated is returned to waiters whose load finished after the cache
// was invalidated or moved on to another video. The result was discarded.
var ErrInvalidated = errors.New("context cache invalidated")

const debugSegments = 5

// TranscriptFetcher fetches transcript segments from the remote service.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, id types.VideoID) ([]types.Segment, error)
}

// MetadataSource describes the page currently showing id.
type MetadataSource interface {
	Metadata(id types.VideoID) types.Metadata
}

// Cache owns the single cache entry. Payloads handed out are never mutated.
type Cache struct {
	fetcher TranscriptFetcher
	meta    MetadataSource

	group singleflight.Group

	mu      sync.Mutex
	entry   types.CacheEntry
	lastErr error
	gen     uint64 // bumped on every new load and every invalidation
	key     string // singleflight key of the pending load, if any
}

// New creates an empty Cache. meta may be nil.
func New(fetcher TranscriptFetcher, meta MetadataSource) *Cache {
	return &Cache{fetcher: fetcher, meta: meta}
}

// EnsureLoaded returns the context for id, fetching it at most once.
// A Ready entry for id is returned without a network call; a pending load
// for id is joined. Cancelling ctx stops the wait but not the shared fetch.
func (c *Cache) EnsureLoaded(ctx context.Context, id types.VideoID) (*types.ContextPayload, error) {
	c.mu.Lock()
	if c.entry.State == types.CacheReady && c.entry.VideoID == id {
		payload := c.entry.Payload
		c.mu.Unlock()
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		applog.Info("cache.hit", "video", id)
		logSegments(id, payload.Transcript)
		return payload, nil
	}

	var key string
	var gen uint64
	if c.entry.State == types.CacheLoading && c.entry.VideoID == id {
		key, gen = c.key, c.gen
		metrics.CacheLookupsTotal.WithLabelValues("join").Inc()
		applog.Info("cache.join", "video", id)
	} else {
		c.gen++
		gen = c.gen
		key = fmt.Sprintf("%d/%s", gen, id)
		c.key = key
		c.entry = types.CacheEntry{VideoID: id, State: types.CacheLoading}
		c.lastErr = nil
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		applog.Info("cache.miss", "video", id)
	}
	c.mu.Unlock()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(fetchCtx, id, gen)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.ContextPayload), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load runs once per singleflight key.
func (c *Cache) load(ctx context.Context, id types.VideoID, gen uint64) (*types.ContextPayload, error) {
	// A caller that saw Loading may reach DoChan after the flight for its
	// key already finished; answer from the committed entry instead of
	// fetching again. A newer generation owns any fetch for id now.
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		applog.Info("cache.stale", "video", id)
		return nil, ErrInvalidated
	}
	switch c.entry.State {
	case types.CacheReady:
		p := c.entry.Payload
		c.mu.Unlock()
		return p, nil
	case types.CacheFailed:
		err := c.lastErr
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	applog.Info("cache.fetch", "video", id)
	segments, err := c.fetcher.FetchTranscript(ctx, id)

	var payload *types.ContextPayload
	if err == nil {
		payload = &types.ContextPayload{Transcript: segments, Metadata: c.metadata(id)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		metrics.TranscriptFetchesTotal.WithLabelValues("discarded").Inc()
		applog.Info("cache.discard", "video", id)
		return nil, ErrInvalidated
	}
	c.key = ""
	if err != nil {
		c.entry = types.CacheEntry{VideoID: id, State: types.CacheFailed}
		c.lastErr = err
		metrics.TranscriptFetchesTotal.WithLabelValues("error").Inc()
		applog.Error("cache.fetch", err, "video", id)
		return nil, err
	}
	c.entry = types.CacheEntry{VideoID: id, Payload: payload, State: types.CacheReady}
	metrics.TranscriptFetchesTotal.WithLabelValues("ok").Inc()
	applog.Info("cache.ready", "video", id, "segments", len(segments))
	logSegments(id, segments)
	return payload, nil
}

func (c *Cache) metadata(id types.VideoID) types.Metadata {
	var m types.Metadata
	if c.meta != nil {
		m = c.meta.Metadata(id)
	}
	m.VideoID = id
	return m
}

// Invalidate resets the entry to Empty and forgets any pending load. The
// pending fetch keeps running; its result is discarded.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	prev := c.entry.VideoID
	c.entry = types.CacheEntry{State: types.CacheEmpty}
	c.lastErr = nil
	c.key = ""
	applog.Info("cache.invalidate", "video", prev)
}

// Snapshot returns a copy of the current entry.
func (c *Cache) Snapshot() types.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry
}

func logSegments(id types.VideoID, segments []types.Segment) {
	n := len(segments)
	if n > debugSegments {
		n = debugSegments
	}
	for i, s := range segments[:n] {
		applog.Info("cache.segment", "video", id, "i", i, "start", s.Start, "text", s.Text)
	}
	applog.Info("cache.segments", "video", id, "total", len(segments))
}
