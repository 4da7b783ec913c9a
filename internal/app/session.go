package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// SessionOptions wires a Session's collaborators. Store may be nil for a
// purely in-memory session; Metadata and Follows may be nil when the
// remote lookups are unavailable.
type SessionOptions struct {
	Store    *SQLiteStore
	Metadata MetadataClient
	Follows  FollowClient
	Effector Effector
	Logger   *slog.Logger
}

// Session is the explicit context object owning the decision cache, the
// metadata cache, the follow synchronizer, and the settings snapshot.
// Everything the browser extension kept in module globals lives here, so
// tests get a fresh isolated context per session.
type Session struct {
	ID       string
	store    *SQLiteStore
	cache    *DecisionCache
	resolver *MetadataResolver
	follows  *FollowSynchronizer
	engine   *RuleEngine
	effector Effector
	logger   *slog.Logger

	mu      sync.Mutex
	tracked map[string]CardSnapshot // identity key -> latest snapshot
}

func NewSession(opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	s := &Session{
		ID:       uuid.NewString(),
		store:    opts.Store,
		effector: opts.Effector,
		logger:   logger.With("component", "session"),
		tracked:  make(map[string]CardSnapshot),
	}
	s.cache = NewDecisionCache(opts.Store, logger)
	s.resolver = NewMetadataResolver(opts.Metadata, logger)
	s.follows = NewFollowSynchronizer(opts.Follows, opts.Store, logger)
	s.engine = NewRuleEngine(s.cache, s.resolver, s.follows, logger)
	s.resolver.SetOnUpdate(s.reevaluateIdentity)
	s.follows.SetOnRefresh(s.rescanTracked)
	return s
}

// Init loads settings and the decision log from the store, hydrates the
// caches, and kicks a follow-whitelist refresh if one is due. Storage
// failures degrade to defaults; Init itself never fails.
func (s *Session) Init(ctx context.Context) {
	if s.store != nil {
		s.engine.SetThreshold(s.store.ReadThreshold(ctx))
		s.engine.SetClipSettings(s.store.ReadClipSettings(ctx))
		s.follows.SetSettings(s.store.ReadFollowSettings(ctx))

		records, err := s.store.ListDecisionRecords(ctx)
		if err != nil {
			s.logger.Warn("load decision log failed", "error", err)
		} else {
			s.cache.Hydrate(records, true)
		}
	}
	s.follows.Ensure(ctx, false)
	s.logger.Debug("session initialized", "session", s.ID)
}

// Cache exposes the decision cache.
func (s *Session) Cache() *DecisionCache { return s.cache }

// Resolver exposes the metadata resolver.
func (s *Session) Resolver() *MetadataResolver { return s.resolver }

// Follows exposes the follow synchronizer.
func (s *Session) Follows() *FollowSynchronizer { return s.follows }

// Engine exposes the rule engine.
func (s *Session) Engine() *RuleEngine { return s.engine }

// Evaluate runs one card through the rule engine, tracks it for later
// re-evaluation, and applies the verdict through the effector. The
// second return value is false when the card has no usable identity.
func (s *Session) Evaluate(ctx context.Context, card CardSnapshot) (Verdict, bool) {
	verdict, ok := s.engine.Evaluate(ctx, card)
	if !ok {
		return Verdict{}, false
	}
	key := card.Identity().Key()
	s.mu.Lock()
	s.tracked[key] = card
	s.mu.Unlock()
	if s.effector != nil {
		s.effector.Apply(key, verdict)
	}
	return verdict, true
}

// EvaluateBatch evaluates a list of cards and partitions them into
// allowed and blocked. Cards without identity are skipped.
func (s *Session) EvaluateBatch(ctx context.Context, cards []CardSnapshot) (allowed, blocked []CardSnapshot, skipped int) {
	for _, card := range cards {
		verdict, ok := s.Evaluate(ctx, card)
		if !ok {
			skipped++
			continue
		}
		if verdict.Hide {
			blocked = append(blocked, card)
		} else {
			allowed = append(allowed, card)
		}
	}
	return allowed, blocked, skipped
}

// WaitForMetadata blocks until in-flight metadata fetches conclude and
// their re-evaluations have been applied. One-shot callers use it to
// report settled verdicts.
func (s *Session) WaitForMetadata() {
	s.resolver.Wait()
}

// SetThreshold replaces the threshold snapshot and re-evaluates tracked
// cards, mirroring an external settings change notification.
func (s *Session) SetThreshold(seconds int) {
	if seconds == s.engine.Threshold() {
		return
	}
	s.engine.SetThreshold(seconds)
	s.rescanTracked()
}

// SetClipSettings replaces the clip rule snapshot wholesale and
// re-evaluates tracked cards.
func (s *Session) SetClipSettings(settings ClipSettings) {
	s.engine.SetClipSettings(settings)
	s.rescanTracked()
}

// SetFollowSettings replaces the whitelist snapshot wholesale and forces
// a refresh check.
func (s *Session) SetFollowSettings(ctx context.Context, settings FollowSettings) {
	s.follows.SetSettings(settings)
	s.follows.Ensure(ctx, true)
}

// SyncFollows refreshes the follow whitelist, optionally ignoring the
// refresh interval.
func (s *Session) SyncFollows(ctx context.Context, force bool) FollowSettings {
	return s.follows.Ensure(ctx, force)
}

// rescanTracked invalidates the memo tiers and re-runs the engine for
// every tracked card. It only fires when settings or the follow list
// changed, so cached verdicts must not short-circuit the re-run; a newly
// followed author can retroactively allow a previously blocked card.
func (s *Session) rescanTracked() {
	s.cache.Invalidate()
	s.mu.Lock()
	cards := make([]CardSnapshot, 0, len(s.tracked))
	for _, card := range s.tracked {
		cards = append(cards, card)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, card := range cards {
		verdict, ok := s.engine.Evaluate(ctx, card)
		if !ok {
			continue
		}
		if s.effector != nil {
			s.effector.Apply(card.Identity().Key(), verdict)
		}
	}
}

// reevaluateIdentity re-runs the engine for the tracked card matching an
// identity, applied when its metadata fetch lands.
func (s *Session) reevaluateIdentity(id VideoIdentity) {
	key := id.Key()
	s.mu.Lock()
	card, ok := s.tracked[key]
	s.mu.Unlock()
	if !ok {
		// Harmless: the result stays cached by identity for later use.
		return
	}
	verdict, ok := s.engine.Evaluate(context.Background(), card)
	if !ok {
		return
	}
	if s.effector != nil {
		s.effector.Apply(key, verdict)
	}
}
