package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *BiliClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	creds := BiliCredentials{UserID: "12345", CSRF: "csrf-token", SessData: "sess"}
	return NewBiliClient(server.URL, creds, 5*time.Second, nil)
}

func TestViewByBvid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/x/web-interface/view" {
			t.Errorf("got path %q, want /x/web-interface/view", r.URL.Path)
		}
		if got := r.URL.Query().Get("bvid"); got != "BV1AB411c7XY" {
			t.Errorf("got bvid param %q, want BV1AB411c7XY", got)
		}
		w.Write([]byte(`{"code":0,"data":{"title":"A Video","bvid":"BV1AB411c7XY","owner":{"name":"Uploader"}}}`))
	})

	info, err := client.View(context.Background(), BvidIdentity("BV1AB411c7XY"))
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if info.Title != "A Video" || info.Author != "Uploader" || info.Bvid != "BV1AB411c7XY" {
		t.Fatalf("got %+v, want parsed view fields", info)
	}
}

func TestViewByAid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("aid"); got != "170001" {
			t.Errorf("got aid param %q, want 170001", got)
		}
		w.Write([]byte(`{"code":0,"data":{"title":"Old Video","bvid":"BV1xx411c7XZ","owner":{"name":"Someone"}}}`))
	})

	info, err := client.View(context.Background(), AidIdentity(170001))
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if info.Bvid != "BV1xx411c7XZ" {
		t.Fatalf("got bvid %q, want canonical bvid from the response", info.Bvid)
	}
}

func TestViewAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-404,"message":"video not found"}`))
	})
	if _, err := client.View(context.Background(), AidIdentity(1)); err == nil {
		t.Fatal("non-zero api code should error")
	}
}

func TestTags(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/x/tag/archive/tags" {
			t.Errorf("got path %q, want /x/tag/archive/tags", r.URL.Path)
		}
		w.Write([]byte(`{"code":0,"data":[{"tag_name":"切片"},{"name":"直播"},{}]}`))
	})

	tags, err := client.Tags(context.Background(), "BV1AB411c7XY")
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(tags) != 2 || tags[0] != "切片" || tags[1] != "直播" {
		t.Fatalf("got tags %v, want [切片 直播]", tags)
	}
}

func TestFollowingsSendsCredentials(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("vmid") != "12345" {
			t.Errorf("got vmid %q, want 12345", q.Get("vmid"))
		}
		if q.Get("ps") != "50" || q.Get("pn") != "2" {
			t.Errorf("got ps=%q pn=%q, want 50/2", q.Get("ps"), q.Get("pn"))
		}
		cookie, err := r.Cookie("bili_jct")
		if err != nil || cookie.Value != "csrf-token" {
			t.Errorf("got bili_jct cookie %v err=%v, want csrf-token", cookie, err)
		}
		if _, err := r.Cookie("DedeUserID"); err != nil {
			t.Error("DedeUserID cookie missing")
		}
		w.Write([]byte(`{"code":0,"data":{"list":[{"mid":7,"uname":"Uploader A"},{"nickname":"Uploader B"},{"mid":9}]}}`))
	})

	entries, err := client.Followings(context.Background(), 2, 50)
	if err != nil {
		t.Fatalf("Followings: %v", err)
	}
	// Nameless entries are dropped
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name != "Uploader A" || entries[0].NameLower != "uploader a" {
		t.Fatalf("got %+v, want normalized uname", entries[0])
	}
	if entries[0].UID == nil || *entries[0].UID != 7 {
		t.Fatalf("got uid %v, want 7", entries[0].UID)
	}
	if entries[1].Name != "Uploader B" {
		t.Fatalf("got %+v, want nickname fallback", entries[1])
	}
}

func TestHasCredentials(t *testing.T) {
	client := NewBiliClient(DefaultAPIBaseURL, BiliCredentials{}, time.Second, nil)
	if client.HasCredentials() {
		t.Fatal("empty credentials should report false")
	}
	client = NewBiliClient(DefaultAPIBaseURL, BiliCredentials{UserID: "1", CSRF: "x"}, time.Second, nil)
	if !client.HasCredentials() {
		t.Fatal("userid+csrf should report true")
	}
}

func TestGetHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if _, err := client.View(context.Background(), AidIdentity(1)); err == nil {
		t.Fatal("non-200 status should error")
	}
}
