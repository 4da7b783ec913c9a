package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type cacheEntry struct {
	Result    Result
	Reason    Reason
	Timestamp int64
}

// DecisionCache memoizes verdicts so a card that leaves and re-enters the
// feed never re-runs rule matching. Two tiers: a block-memo populated on
// every block verdict, and the authoritative final-decision index that is
// consulted first and can override a stale block with a newer allow. Both
// tiers are updated together under one lock; the durable log is written
// through best-effort.
type DecisionCache struct {
	mu        sync.Mutex
	blockMemo map[string]cacheEntry
	final     map[string]cacheEntry
	records   []DecisionRecord // newest-first mirror of the durable log
	store     *SQLiteStore
	logger    *slog.Logger
}

// NewDecisionCache creates a cache backed by the given store. A nil store
// keeps the cache purely in-memory.
func NewDecisionCache(store *SQLiteStore, logger *slog.Logger) *DecisionCache {
	if logger == nil {
		logger = discardLogger()
	}
	return &DecisionCache{
		blockMemo: make(map[string]cacheEntry),
		final:     make(map[string]cacheEntry),
		store:     store,
		logger:    logger.With("component", "decisioncache"),
	}
}

// Lookup returns the cached verdict for an identity key. The final index
// wins; a block-memo hit is promoted into the final index.
func (c *DecisionCache) Lookup(key string) (Verdict, bool) {
	if key == "" {
		return Verdict{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.final[key]; ok {
		return Verdict{Hide: entry.Result == ResultBlock, Reason: entry.Reason}, true
	}
	if entry, ok := c.blockMemo[key]; ok {
		c.final[key] = cacheEntry{Result: ResultBlock, Reason: entry.Reason, Timestamp: entry.Timestamp}
		return Verdict{Hide: true, Reason: entry.Reason}, true
	}
	return Verdict{}, false
}

// Record registers a terminal decision: the in-memory record list is
// deduplicated by (id, result) and capped, both memo tiers are updated,
// and the record is written through to the durable log. Recording the
// same (id, result) twice only refreshes the timestamp. An allow that
// supersedes a cached block clears the block-memo entry once no record
// still asserts block for that id.
func (c *DecisionCache) Record(ctx context.Context, record DecisionRecord) {
	if record.ID == "" {
		return
	}
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().UnixMilli()
	}

	c.mu.Lock()
	next := make([]DecisionRecord, 0, len(c.records)+1)
	next = append(next, record)
	for _, existing := range c.records {
		if existing.ID == record.ID && existing.Result == record.Result {
			continue
		}
		next = append(next, existing)
	}
	if len(next) > DecisionRecordLimit {
		next = next[:DecisionRecordLimit]
	}
	c.records = next

	entry := cacheEntry{Result: record.Result, Reason: Reason(record.Reason), Timestamp: record.Timestamp}
	if record.Result == ResultBlock {
		c.blockMemo[record.ID] = entry
		c.final[record.ID] = entry
	} else {
		if _, blocked := c.blockMemo[record.ID]; blocked && !c.hasBlockRecordLocked(record.ID) {
			delete(c.blockMemo, record.ID)
		}
		c.final[record.ID] = entry
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.SaveDecisionRecord(ctx, record); err != nil {
		c.logger.Warn("persist decision record failed", "id", record.ID, "error", err)
	}
}

func (c *DecisionCache) hasBlockRecordLocked(id string) bool {
	for _, record := range c.records {
		if record.ID == id && record.Result == ResultBlock {
			return true
		}
	}
	return false
}

// Hydrate rebuilds the memo tiers from a durable record list. reset
// clears existing state first, used after the log is fetched fresh from
// storage.
func (c *DecisionCache) Hydrate(records []DecisionRecord, reset bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reset {
		c.blockMemo = make(map[string]cacheEntry)
		c.final = make(map[string]cacheEntry)
		c.records = nil
	}
	for _, record := range records {
		if record.ID == "" {
			continue
		}
		c.records = append(c.records, record)
		entry := cacheEntry{Result: record.Result, Reason: Reason(record.Reason), Timestamp: record.Timestamp}
		if record.Result == ResultBlock {
			if existing, ok := c.blockMemo[record.ID]; !ok || entry.Timestamp >= existing.Timestamp {
				c.blockMemo[record.ID] = entry
			}
		}
		// Recency guards the final index: an older record never
		// overwrites a newer verdict for the same id.
		if existing, ok := c.final[record.ID]; !ok || entry.Timestamp >= existing.Timestamp {
			c.final[record.ID] = entry
		}
	}
}

// Invalidate clears both memo tiers while keeping the record mirror, so
// the next evaluation of every identity runs fresh. Used when settings
// or the follow list change: the cached verdicts' inputs are stale.
func (c *DecisionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockMemo = make(map[string]cacheEntry)
	c.final = make(map[string]cacheEntry)
}

// Records returns a copy of the in-memory decision log, newest-first.
func (c *DecisionCache) Records() []DecisionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DecisionRecord, len(c.records))
	copy(out, c.records)
	return out
}
