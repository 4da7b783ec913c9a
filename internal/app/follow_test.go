package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeFollowClient serves canned paginated follow lists.
type fakeFollowClient struct {
	mu          sync.Mutex
	pages       map[int][]FollowEntry
	pageErrs    map[int]error
	calls       int32
	credentials bool
	delay       time.Duration
}

func (f *fakeFollowClient) HasCredentials() bool { return f.credentials }

func (f *fakeFollowClient) Followings(ctx context.Context, page, pageSize int) ([]FollowEntry, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.pageErrs[page]; ok {
		return nil, err
	}
	return f.pages[page], nil
}

func fullPage(prefix string) []FollowEntry {
	entries := make([]FollowEntry, followPageSize)
	for i := range entries {
		name := fmt.Sprintf("%s-%d", prefix, i)
		entries[i] = FollowEntry{Name: name, NameLower: name}
	}
	return entries
}

func TestEnsureFetchesAllPages(t *testing.T) {
	client := &fakeFollowClient{
		credentials: true,
		pages: map[int][]FollowEntry{
			1: fullPage("a"),
			2: {{Name: "Last One", NameLower: "last one"}},
		},
	}
	s := NewFollowSynchronizer(client, nil, nil)
	s.SetSettings(FollowSettings{Enabled: true})

	settings := s.Ensure(context.Background(), false)
	if len(settings.Follows) != followPageSize+1 {
		t.Fatalf("got %d follows, want %d", len(settings.Follows), followPageSize+1)
	}
	if settings.LastFetched == 0 {
		t.Fatal("lastFetched should be stamped after a refresh")
	}
	if !s.Contains("Last One") {
		t.Fatal("fetched entry should be in the whitelist")
	}
	// Pagination stopped at the short page
	if got := atomic.LoadInt32(&client.calls); got != 2 {
		t.Fatalf("got %d page fetches, want 2", got)
	}
}

func TestEnsurePageFailureKeepsPartialList(t *testing.T) {
	client := &fakeFollowClient{
		credentials: true,
		pages:       map[int][]FollowEntry{1: fullPage("a")},
		pageErrs:    map[int]error{2: errors.New("rate limited")},
	}
	s := NewFollowSynchronizer(client, nil, nil)
	s.SetSettings(FollowSettings{Enabled: true})

	settings := s.Ensure(context.Background(), false)
	if len(settings.Follows) != followPageSize {
		t.Fatalf("got %d follows, want the %d collected before the failure", len(settings.Follows), followPageSize)
	}
}

func TestEnsureSkipsWhenDisabled(t *testing.T) {
	client := &fakeFollowClient{credentials: true, pages: map[int][]FollowEntry{1: {{Name: "x", NameLower: "x"}}}}
	s := NewFollowSynchronizer(client, nil, nil)

	settings := s.Ensure(context.Background(), true)
	if len(settings.Follows) != 0 {
		t.Fatalf("disabled synchronizer fetched %d follows, want 0", len(settings.Follows))
	}
	if got := atomic.LoadInt32(&client.calls); got != 0 {
		t.Fatalf("got %d fetches while disabled, want 0", got)
	}
}

func TestEnsureSkipsWhenFresh(t *testing.T) {
	client := &fakeFollowClient{credentials: true, pages: map[int][]FollowEntry{1: {{Name: "new", NameLower: "new"}}}}
	s := NewFollowSynchronizer(client, nil, nil)

	base := time.Now()
	s.now = func() time.Time { return base }
	s.SetSettings(FollowSettings{
		Enabled:     true,
		LastFetched: base.Add(-time.Hour).UnixMilli(),
		Follows:     []FollowEntry{{Name: "old", NameLower: "old"}},
	})

	s.Ensure(context.Background(), false)
	if got := atomic.LoadInt32(&client.calls); got != 0 {
		t.Fatalf("fresh list triggered %d fetches, want 0", got)
	}

	// Past the interval the refresh runs
	s.now = func() time.Time { return base.Add(FollowRefreshInterval + time.Minute) }
	settings := s.Ensure(context.Background(), false)
	if got := atomic.LoadInt32(&client.calls); got != 1 {
		t.Fatalf("stale list triggered %d fetches, want 1", got)
	}
	if len(settings.Follows) != 1 || settings.Follows[0].Name != "new" {
		t.Fatalf("got %v, want refreshed list", settings.Follows)
	}
}

func TestEnsureForceIgnoresInterval(t *testing.T) {
	client := &fakeFollowClient{credentials: true, pages: map[int][]FollowEntry{1: {{Name: "new", NameLower: "new"}}}}
	s := NewFollowSynchronizer(client, nil, nil)
	s.SetSettings(FollowSettings{
		Enabled:     true,
		LastFetched: time.Now().UnixMilli(),
		Follows:     []FollowEntry{{Name: "old", NameLower: "old"}},
	})

	s.Ensure(context.Background(), true)
	if got := atomic.LoadInt32(&client.calls); got != 1 {
		t.Fatalf("forced refresh triggered %d fetches, want 1", got)
	}
}

func TestEnsureWithoutCredentialsKeepsExistingList(t *testing.T) {
	client := &fakeFollowClient{credentials: false}
	s := NewFollowSynchronizer(client, nil, nil)
	s.SetSettings(FollowSettings{
		Enabled: true,
		Follows: []FollowEntry{{Name: "kept", NameLower: "kept"}},
	})

	settings := s.Ensure(context.Background(), true)
	if len(settings.Follows) != 1 || settings.Follows[0].Name != "kept" {
		t.Fatalf("got %v, want the stored list untouched", settings.Follows)
	}
	if settings.LastFetched != 0 {
		t.Fatal("a skipped refresh must not stamp lastFetched")
	}
}

func TestEnsureConcurrentCallersShareOneFetch(t *testing.T) {
	client := &fakeFollowClient{
		credentials: true,
		pages:       map[int][]FollowEntry{1: {{Name: "x", NameLower: "x"}}},
		delay:       50 * time.Millisecond,
	}
	s := NewFollowSynchronizer(client, nil, nil)
	s.SetSettings(FollowSettings{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Ensure(context.Background(), true)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&client.calls); got != 1 {
		t.Fatalf("got %d fetches for 5 concurrent callers, want 1", got)
	}
}

func TestEnsurePersistsThroughStore(t *testing.T) {
	store := setupTestStore(t)
	client := &fakeFollowClient{credentials: true, pages: map[int][]FollowEntry{1: {{Name: "Saved", NameLower: "saved"}}}}
	s := NewFollowSynchronizer(client, store, nil)
	s.SetSettings(FollowSettings{Enabled: true})

	s.Ensure(context.Background(), true)

	persisted := store.ReadFollowSettings(context.Background())
	if !persisted.Enabled || len(persisted.Follows) != 1 || persisted.Follows[0].NameLower != "saved" {
		t.Fatalf("got persisted %+v, want the refreshed list", persisted)
	}
}

func TestContains(t *testing.T) {
	s := NewFollowSynchronizer(nil, nil, nil)
	s.SetSettings(FollowSettings{
		Enabled: true,
		Follows: []FollowEntry{{Name: "Some Uploader", NameLower: "some uploader"}},
	})

	if !s.Contains("  SOME uploader ") {
		t.Fatal("membership should be case-insensitive and trimmed")
	}
	if s.Contains("other") {
		t.Fatal("unknown author should not match")
	}
	if s.Contains("") {
		t.Fatal("empty author should not match")
	}

	s.SetSettings(FollowSettings{Enabled: false, Follows: []FollowEntry{{Name: "Some Uploader", NameLower: "some uploader"}}})
	if s.Contains("Some Uploader") {
		t.Fatal("disabled whitelist should never match")
	}
}
