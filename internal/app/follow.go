package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// followPageSize is the fixed page size for the followings endpoint.
// Pagination stops at the first short page.
const followPageSize = 50

// FollowClient is the remote follow-list lookup the synchronizer uses.
type FollowClient interface {
	HasCredentials() bool
	Followings(ctx context.Context, page, pageSize int) ([]FollowEntry, error)
}

// FollowSynchronizer keeps the follow whitelist fresh. Refreshes are
// time-gated by FollowRefreshInterval; concurrent callers share one
// in-flight fetch. Without credentials the synchronizer no-ops rather
// than erroring.
type FollowSynchronizer struct {
	client    FollowClient
	store     *SQLiteStore
	logger    *slog.Logger
	now       func() time.Time
	onRefresh func()

	mu       sync.Mutex
	settings FollowSettings
	nameSet  map[string]struct{}
	inFlight chan struct{}
}

func NewFollowSynchronizer(client FollowClient, store *SQLiteStore, logger *slog.Logger) *FollowSynchronizer {
	if logger == nil {
		logger = discardLogger()
	}
	s := &FollowSynchronizer{
		client: client,
		store:  store,
		logger: logger.With("component", "followsync"),
		now:    time.Now,
	}
	s.setSettingsLocked(FollowSettings{Follows: []FollowEntry{}})
	return s
}

// SetOnRefresh registers the hook fired after a refresh lands a new
// follow list; the session uses it to re-evaluate tracked cards.
func (s *FollowSynchronizer) SetOnRefresh(fn func()) {
	s.mu.Lock()
	s.onRefresh = fn
	s.mu.Unlock()
}

// SetSettings replaces the whitelist snapshot wholesale, e.g. at startup
// or after an external settings change.
func (s *FollowSynchronizer) SetSettings(settings FollowSettings) {
	s.mu.Lock()
	s.setSettingsLocked(settings)
	s.mu.Unlock()
}

func (s *FollowSynchronizer) setSettingsLocked(settings FollowSettings) {
	s.settings = settings
	s.nameSet = settings.NameSet()
}

// Settings returns the current whitelist snapshot.
func (s *FollowSynchronizer) Settings() FollowSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Contains reports whether the author is in the enabled whitelist,
// case-insensitive and trimmed.
func (s *FollowSynchronizer) Contains(author string) bool {
	normalized := normalizeForMatch(author)
	if normalized == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.settings.Enabled {
		return false
	}
	_, ok := s.nameSet[normalized]
	return ok
}

// Ensure refreshes the whitelist when it is enabled and either forced,
// empty, or older than the refresh interval. Callers arriving while a
// refresh is in flight wait for it instead of fanning out duplicate
// fetches.
func (s *FollowSynchronizer) Ensure(ctx context.Context, force bool) FollowSettings {
	s.mu.Lock()
	if !s.settings.Enabled {
		s.mu.Unlock()
		s.logger.Debug("whitelist disabled, skip refresh")
		return s.Settings()
	}
	if !force && !s.shouldFetchLocked() {
		s.mu.Unlock()
		s.logger.Debug("whitelist fresh, skip refresh")
		return s.Settings()
	}
	if s.inFlight != nil {
		wait := s.inFlight
		s.mu.Unlock()
		<-wait
		return s.Settings()
	}
	done := make(chan struct{})
	s.inFlight = done
	s.mu.Unlock()

	follows, ok := s.fetchAll(ctx)

	s.mu.Lock()
	if ok {
		s.setSettingsLocked(FollowSettings{
			Enabled:     true,
			LastFetched: s.now().UnixMilli(),
			Follows:     follows,
		})
	}
	settings := s.settings
	onRefresh := s.onRefresh
	s.inFlight = nil
	s.mu.Unlock()
	close(done)

	if ok {
		if s.store != nil {
			if err := s.store.SaveFollowSettings(ctx, settings); err != nil {
				s.logger.Warn("persist follow settings failed", "error", err)
			}
		}
		s.logger.Info("follow whitelist refreshed", "count", len(settings.Follows))
		if onRefresh != nil {
			onRefresh()
		}
	}
	return settings
}

func (s *FollowSynchronizer) shouldFetchLocked() bool {
	if len(s.settings.Follows) == 0 {
		return true
	}
	return s.now().UnixMilli()-s.settings.LastFetched > FollowRefreshInterval.Milliseconds()
}

// fetchAll paginates the remote follow list. A page failure terminates
// pagination and yields whatever was collected so far; missing
// credentials yield no refresh at all.
func (s *FollowSynchronizer) fetchAll(ctx context.Context) ([]FollowEntry, bool) {
	if s.client == nil || !s.client.HasCredentials() {
		s.logger.Debug("missing credentials, skip follow fetch")
		return nil, false
	}
	var collected []FollowEntry
	for page := 1; ; page++ {
		entries, err := s.client.Followings(ctx, page, followPageSize)
		if err != nil {
			s.logger.Debug("follow page fetch failed", "page", page, "error", err)
			break
		}
		for _, entry := range entries {
			if entry.NameLower != "" {
				collected = append(collected, entry)
			}
		}
		if len(entries) < followPageSize {
			break
		}
	}
	return collected, true
}
