package app

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// metadataCacheSize bounds the per-session metadata cache. Entries are
// never invalidated; staleness is acceptable because video metadata
// rarely changes within a session.
const metadataCacheSize = 512

type fetchState int

const (
	fetchUnfetched fetchState = iota
	fetchInFlight
	fetchAttempted
)

// MetadataClient is the remote lookup the resolver depends on.
type MetadataClient interface {
	View(ctx context.Context, id VideoIdentity) (*ViewInfo, error)
	Tags(ctx context.Context, bvid string) ([]string, error)
}

// MetadataResolver lazily fetches title/author/tags for a video identity
// and caches the result for the session. Each identity gets at most one
// fetch attempt, success or not, so re-scanning a card can never cause a
// retry storm. Completed fetches fire the on-update hook so the rule
// engine re-runs for the affected identity.
type MetadataResolver struct {
	client   MetadataClient
	logger   *slog.Logger
	onUpdate func(id VideoIdentity)

	mu     sync.Mutex
	states map[string]fetchState
	cache  *lru.Cache[string, VideoMetadata]
	wg     sync.WaitGroup
}

func NewMetadataResolver(client MetadataClient, logger *slog.Logger) *MetadataResolver {
	if logger == nil {
		logger = discardLogger()
	}
	cache, _ := lru.New[string, VideoMetadata](metadataCacheSize)
	return &MetadataResolver{
		client: client,
		logger: logger.With("component", "metadata"),
		states: make(map[string]fetchState),
		cache:  cache,
	}
}

// SetOnUpdate registers the re-evaluation trigger invoked after a fetch
// lands metadata for an identity.
func (r *MetadataResolver) SetOnUpdate(fn func(id VideoIdentity)) {
	r.mu.Lock()
	r.onUpdate = fn
	r.mu.Unlock()
}

// Lookup returns cached metadata without triggering a fetch.
func (r *MetadataResolver) Lookup(id VideoIdentity) (VideoMetadata, bool) {
	key := id.Key()
	if key == "" {
		return VideoMetadata{}, false
	}
	return r.cache.Get(key)
}

// Resolve returns cached metadata if present. On the first request for an
// unfetched identity it starts one background fetch and reports pending;
// while a fetch is in flight or after an attempt concluded, further calls
// are no-ops.
func (r *MetadataResolver) Resolve(ctx context.Context, id VideoIdentity) (VideoMetadata, bool) {
	key := id.Key()
	if key == "" {
		return VideoMetadata{}, false
	}
	if metadata, ok := r.cache.Get(key); ok {
		return metadata, true
	}
	if r.client == nil {
		return VideoMetadata{}, false
	}

	r.mu.Lock()
	if r.states[key] != fetchUnfetched {
		r.mu.Unlock()
		return VideoMetadata{}, false
	}
	r.states[key] = fetchInFlight
	r.mu.Unlock()

	r.wg.Add(1)
	go r.fetch(ctx, id, key)
	return VideoMetadata{}, false
}

// Attempted reports whether a fetch for the identity has started or
// concluded this session.
func (r *MetadataResolver) Attempted(id VideoIdentity) bool {
	key := id.Key()
	if key == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[key] != fetchUnfetched
}

// Pending reports whether a fetch for the identity is currently in
// flight.
func (r *MetadataResolver) Pending(id VideoIdentity) bool {
	key := id.Key()
	if key == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[key] == fetchInFlight
}

// Wait blocks until all in-flight fetches conclude. Used by one-shot
// evaluation paths that want metadata applied before reporting.
func (r *MetadataResolver) Wait() {
	r.wg.Wait()
}

func (r *MetadataResolver) fetch(ctx context.Context, id VideoIdentity, key string) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.states[key] = fetchAttempted
		r.mu.Unlock()
	}()

	view, err := r.client.View(ctx, id)
	if err != nil {
		r.logger.Debug("metadata view fetch failed", "id", key, "error", err)
		return
	}
	metadata := VideoMetadata{Title: view.Title, Author: view.Author}
	if view.Bvid != "" {
		// Tag lookup needs the canonical bvid from the view response.
		tags, err := r.client.Tags(ctx, view.Bvid)
		if err != nil {
			r.logger.Debug("metadata tag fetch failed", "id", key, "error", err)
		} else {
			metadata.Tags = tags
		}
	}
	r.cache.Add(key, metadata)
	r.logger.Debug("metadata fetched", "id", key, "tags", len(metadata.Tags))

	r.mu.Lock()
	onUpdate := r.onUpdate
	r.mu.Unlock()
	if onUpdate != nil {
		onUpdate(id)
	}
}
