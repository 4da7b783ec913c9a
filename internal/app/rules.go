package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RuleEngine is the decision function. Given a card's locally available
// signals and the current settings it produces an allow/block verdict
// with a reason, consulting the decision cache first and recording every
// terminal verdict back into it. Evaluation is deterministic for
// unchanged inputs and safe to re-run on metadata or settings changes.
type RuleEngine struct {
	cache    *DecisionCache
	resolver *MetadataResolver
	follows  *FollowSynchronizer
	logger   *slog.Logger

	mu               sync.RWMutex
	thresholdSeconds int
	clipSettings     ClipSettings
}

func NewRuleEngine(cache *DecisionCache, resolver *MetadataResolver, follows *FollowSynchronizer, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = discardLogger()
	}
	return &RuleEngine{
		cache:            cache,
		resolver:         resolver,
		follows:          follows,
		logger:           logger.With("component", "ruleengine"),
		thresholdSeconds: DefaultThresholdSeconds,
		clipSettings:     ClipSettings{},
	}
}

// SetThreshold replaces the duration threshold snapshot.
func (e *RuleEngine) SetThreshold(seconds int) {
	e.mu.Lock()
	e.thresholdSeconds = seconds
	e.mu.Unlock()
}

// Threshold returns the current duration threshold in seconds.
func (e *RuleEngine) Threshold() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholdSeconds
}

// SetClipSettings compiles and replaces the clip rule snapshot wholesale.
func (e *RuleEngine) SetClipSettings(settings ClipSettings) {
	compiled := CompileClipSettings(settings)
	e.mu.Lock()
	e.clipSettings = compiled
	e.mu.Unlock()
}

// Evaluate runs the full decision sequence for one card. The second
// return value is false when the card has no usable video identity; such
// cards are skipped entirely: no verdict, no cache write.
func (e *RuleEngine) Evaluate(ctx context.Context, card CardSnapshot) (Verdict, bool) {
	id := card.Identity()
	if id.IsZero() {
		return Verdict{}, false
	}
	key := id.Key()

	// Cached final verdict short-circuits re-evaluation.
	if verdict, ok := e.cache.Lookup(key); ok {
		return verdict, true
	}

	title, author, tags, duration := e.cardSignals(card, id)

	e.mu.RLock()
	threshold := e.thresholdSeconds
	rules := e.clipSettings.Rules
	e.mu.RUnlock()

	// Follow whitelist overrides every other check.
	if e.follows != nil && e.follows.Contains(author) {
		verdict := Verdict{Hide: false, Reason: ReasonFollowWhitelist}
		e.record(ctx, key, title, author, duration, ResultAllow, ReasonFollowWhitelist)
		e.logDecision(key, verdict, "follow whitelist hit")
		return verdict, true
	}

	// Duration threshold. Unknown duration skips the check rather than
	// blocking.
	if duration != nil && *duration >= 0 && threshold > 0 && *duration < threshold {
		verdict := Verdict{Hide: true, Reason: ReasonDuration}
		e.record(ctx, key, title, author, duration, ResultBlock, ReasonDuration)
		e.logDecision(key, verdict, "below duration threshold")
		return verdict, true
	}

	// Ordered clip rules; the first rule that matches keywords and is not
	// waived wins. Waivers continue to the next rule instead of
	// terminating, so a later rule can still block.
	allowReason := ReasonNone
	metadataPending := false
	if duration != nil {
		for index, rule := range rules {
			if !rule.Enabled || *duration <= 0 || *duration > rule.MaxDurationSeconds {
				continue
			}
			if len(tags) == 0 && e.resolver != nil {
				if !e.resolver.Attempted(id) {
					e.resolver.Resolve(ctx, id)
					metadataPending = true
				} else if e.resolver.Pending(id) {
					metadataPending = true
				}
			}
			hasKeyword := matchesAny(title, rule.Keywords) || anyTagMatches(tags, rule.Keywords)
			if e.follows != nil && e.follows.Contains(author) {
				if allowReason == ReasonNone {
					allowReason = ReasonFollowWhitelist
				}
				continue
			}
			if !hasKeyword {
				continue
			}
			if matchesAny(author, rule.AllowedAuthors) {
				if allowReason == ReasonNone {
					allowReason = ReasonRuleAuthor
				}
				e.logger.Debug("clip rule waived by author",
					"id", key, "rule", index, "author", author)
				continue
			}
			verdict := Verdict{Hide: true, Reason: ReasonKeyword}
			e.record(ctx, key, title, author, duration, ResultBlock, ReasonKeyword)
			e.logger.Debug("clip rule matched",
				"id", key, "rule", index, "title", title, "duration", *duration)
			return verdict, true
		}
	}

	// No rule applied. Terminal allows are persisted too, so the audit
	// log explains why a card stayed visible. An allow reached while a
	// metadata fetch is still in flight is provisional: it is not
	// recorded, so the re-run after metadata lands starts from a cold
	// cache instead of the frozen early verdict.
	verdict := Verdict{Hide: false, Reason: allowReason}
	if !metadataPending {
		e.record(ctx, key, title, author, duration, ResultAllow, allowReason)
	}
	return verdict, true
}

// cardSignals merges the card's own fields with any session-cached
// metadata for the identity. Card fields win; cached tags supplement.
func (e *RuleEngine) cardSignals(card CardSnapshot, id VideoIdentity) (title, author string, tags []string, duration *int) {
	title = card.Title
	author = card.Author
	tags = append(tags, card.Tags...)
	duration = card.DurationSeconds
	if duration == nil {
		duration = ParseDurationText(card.Duration)
	}
	if e.resolver != nil {
		if metadata, ok := e.resolver.Lookup(id); ok {
			if title == "" {
				title = metadata.Title
			}
			if author == "" {
				author = metadata.Author
			}
			tags = append(tags, metadata.Tags...)
		}
	}
	return title, author, tags, duration
}

func (e *RuleEngine) record(ctx context.Context, key, title, author string, duration *int, result Result, reason Reason) {
	if e.cache == nil {
		return
	}
	e.cache.Record(ctx, DecisionRecord{
		ID:              key,
		Title:           title,
		Author:          author,
		DurationSeconds: duration,
		Result:          result,
		Reason:          string(reason),
		Timestamp:       time.Now().UnixMilli(),
	})
}

func (e *RuleEngine) logDecision(key string, verdict Verdict, msg string) {
	e.logger.Debug(msg, "id", key, "hide", verdict.Hide, "reason", string(verdict.Reason))
}

func anyTagMatches(tags, keywords []string) bool {
	for _, tag := range tags {
		if matchesAny(tag, keywords) {
			return true
		}
	}
	return false
}
