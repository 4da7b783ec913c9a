package app

import (
	"context"
	"fmt"
	"testing"
)

func TestDecisionCacheLookupPrecedence(t *testing.T) {
	cache := NewDecisionCache(nil, nil)
	ctx := context.Background()

	if _, ok := cache.Lookup("bvid:BV1AB411c7XY"); ok {
		t.Fatal("empty cache should miss")
	}
	if _, ok := cache.Lookup(""); ok {
		t.Fatal("empty key should miss")
	}

	cache.Record(ctx, DecisionRecord{ID: "bvid:BV1AB411c7XY", Result: ResultBlock, Reason: string(ReasonDuration), Timestamp: 1})

	verdict, ok := cache.Lookup("bvid:BV1AB411c7XY")
	if !ok || !verdict.Hide || verdict.Reason != ReasonDuration {
		t.Fatalf("got %+v ok=%v, want duration block", verdict, ok)
	}
}

func TestDecisionCacheAllowSupersedesBlock(t *testing.T) {
	cache := NewDecisionCache(nil, nil)
	ctx := context.Background()

	cache.Record(ctx, DecisionRecord{ID: "aid:1", Result: ResultBlock, Reason: string(ReasonKeyword), Timestamp: 1})
	cache.Record(ctx, DecisionRecord{ID: "aid:1", Result: ResultAllow, Reason: string(ReasonFollowWhitelist), Timestamp: 2})

	verdict, ok := cache.Lookup("aid:1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if verdict.Hide {
		t.Fatal("newer allow should win over earlier block")
	}
	if verdict.Reason != ReasonFollowWhitelist {
		t.Fatalf("got reason %q, want follow_whitelist", verdict.Reason)
	}

	// Both directions of the decision survive in the record mirror
	records := cache.Records()
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Result != ResultAllow {
		t.Fatalf("got newest record %q, want allow", records[0].Result)
	}
}

func TestDecisionCacheDedupAndCap(t *testing.T) {
	cache := NewDecisionCache(nil, nil)
	ctx := context.Background()

	// Same (id, result) refreshes rather than duplicating
	cache.Record(ctx, DecisionRecord{ID: "aid:1", Result: ResultBlock, Reason: string(ReasonDuration), Timestamp: 1})
	cache.Record(ctx, DecisionRecord{ID: "aid:1", Result: ResultBlock, Reason: string(ReasonDuration), Timestamp: 2})
	if got := cache.Records(); len(got) != 1 {
		t.Fatalf("got %d records, want 1 after dedup", len(got))
	}

	for i := 0; i < DecisionRecordLimit+10; i++ {
		cache.Record(ctx, DecisionRecord{
			ID:        fmt.Sprintf("aid:%d", i),
			Result:    ResultBlock,
			Reason:    string(ReasonDuration),
			Timestamp: int64(i + 10),
		})
	}
	records := cache.Records()
	if len(records) != DecisionRecordLimit {
		t.Fatalf("got %d records, want cap %d", len(records), DecisionRecordLimit)
	}
	if records[0].ID != fmt.Sprintf("aid:%d", DecisionRecordLimit+9) {
		t.Fatalf("got newest %q, want the last recorded id", records[0].ID)
	}
}

func TestDecisionCacheHydrate(t *testing.T) {
	cache := NewDecisionCache(nil, nil)

	cache.Hydrate([]DecisionRecord{
		{ID: "aid:1", Result: ResultBlock, Reason: string(ReasonDuration), Timestamp: 5},
		// Older allow for the same id must not overwrite the newer block
		{ID: "aid:1", Result: ResultAllow, Reason: string(ReasonNone), Timestamp: 3},
		{ID: "aid:2", Result: ResultAllow, Reason: string(ReasonFollowWhitelist), Timestamp: 4},
		{ID: "", Result: ResultBlock, Timestamp: 9}, // skipped
	}, true)

	verdict, ok := cache.Lookup("aid:1")
	if !ok || !verdict.Hide {
		t.Fatalf("got %+v ok=%v, want newer block to win hydrate", verdict, ok)
	}
	verdict, ok = cache.Lookup("aid:2")
	if !ok || verdict.Hide || verdict.Reason != ReasonFollowWhitelist {
		t.Fatalf("got %+v ok=%v, want whitelist allow", verdict, ok)
	}
	if got := cache.Records(); len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}

	// reset=true starts over
	cache.Hydrate([]DecisionRecord{
		{ID: "aid:9", Result: ResultBlock, Reason: string(ReasonKeyword), Timestamp: 1},
	}, true)
	if _, ok := cache.Lookup("aid:1"); ok {
		t.Fatal("reset hydrate should drop old entries")
	}
	if got := cache.Records(); len(got) != 1 {
		t.Fatalf("got %d records after reset, want 1", len(got))
	}
}

func TestDecisionCacheInvalidateKeepsRecords(t *testing.T) {
	cache := NewDecisionCache(nil, nil)
	ctx := context.Background()

	cache.Record(ctx, DecisionRecord{ID: "aid:1", Result: ResultBlock, Reason: string(ReasonDuration), Timestamp: 1})
	cache.Invalidate()

	if _, ok := cache.Lookup("aid:1"); ok {
		t.Fatal("invalidated cache should miss")
	}
	if got := cache.Records(); len(got) != 1 {
		t.Fatalf("got %d records after invalidate, want 1", len(got))
	}
}

func TestDecisionCacheWritesThroughToStore(t *testing.T) {
	store := setupTestStore(t)
	cache := NewDecisionCache(store, nil)
	ctx := context.Background()

	cache.Record(ctx, DecisionRecord{ID: "aid:7", Title: "t", Result: ResultBlock, Reason: string(ReasonDuration), Timestamp: 1})

	records, err := store.ListDecisionRecords(ctx)
	if err != nil {
		t.Fatalf("ListDecisionRecords: %v", err)
	}
	if len(records) != 1 || records[0].ID != "aid:7" {
		t.Fatalf("got %v, want aid:7 persisted", records)
	}
}
