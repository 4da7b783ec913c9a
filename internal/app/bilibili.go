package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIBaseURL is the Bilibili web API root.
const DefaultAPIBaseURL = "https://api.bilibili.com"

// BiliCredentials carries the cookie-based auth the followings endpoint
// requires. UserID is the DedeUserID cookie, CSRF the bili_jct cookie.
type BiliCredentials struct {
	UserID   string
	CSRF     string
	SessData string
}

// Complete reports whether the credentials are usable for authenticated
// endpoints.
func (c BiliCredentials) Complete() bool {
	return c.UserID != "" && c.CSRF != ""
}

// ViewInfo is the primary metadata lookup result.
type ViewInfo struct {
	Title  string
	Author string
	Bvid   string
}

// BiliClient calls the Bilibili web API. All lookups are best-effort:
// callers treat failures as absent data, never as faults.
type BiliClient struct {
	baseURL string
	creds   BiliCredentials
	client  *http.Client
	logger  *slog.Logger
}

func NewBiliClient(baseURL string, creds BiliCredentials, timeout time.Duration, logger *slog.Logger) *BiliClient {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &BiliClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "biliclient"),
	}
}

// HasCredentials reports whether authenticated endpoints can be called.
func (c *BiliClient) HasCredentials() bool {
	return c.creds.Complete()
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *BiliClient) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.attachCookies(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}
	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if envelope.Code != 0 {
		return nil, fmt.Errorf("request %s: api code %d (%s)", path, envelope.Code, envelope.Message)
	}
	return envelope.Data, nil
}

func (c *BiliClient) attachCookies(req *http.Request) {
	if c.creds.UserID != "" {
		req.AddCookie(&http.Cookie{Name: "DedeUserID", Value: c.creds.UserID})
	}
	if c.creds.CSRF != "" {
		req.AddCookie(&http.Cookie{Name: "bili_jct", Value: c.creds.CSRF})
	}
	if c.creds.SessData != "" {
		req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.creds.SessData})
	}
}

// View fetches title, author, and the canonical bvid for a video.
func (c *BiliClient) View(ctx context.Context, id VideoIdentity) (*ViewInfo, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("view: missing video identity")
	}
	params := url.Values{}
	switch id.Kind {
	case KindBvid:
		params.Set("bvid", id.Value)
	case KindAid:
		params.Set("aid", id.Value)
	default:
		return nil, fmt.Errorf("view: unknown identity kind %q", id.Kind)
	}
	data, err := c.get(ctx, "/x/web-interface/view", params)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Title string `json:"title"`
		Bvid  string `json:"bvid"`
		Owner struct {
			Name string `json:"name"`
		} `json:"owner"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode view payload: %w", err)
	}
	return &ViewInfo{Title: payload.Title, Author: payload.Owner.Name, Bvid: payload.Bvid}, nil
}

// Tags fetches the tag names for a canonical bvid.
func (c *BiliClient) Tags(ctx context.Context, bvid string) ([]string, error) {
	if bvid == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("bvid", bvid)
	data, err := c.get(ctx, "/x/tag/archive/tags", params)
	if err != nil {
		return nil, err
	}
	var payload []struct {
		TagName string `json:"tag_name"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode tags payload: %w", err)
	}
	tags := make([]string, 0, len(payload))
	for _, tag := range payload {
		name := strings.TrimSpace(tag.TagName)
		if name == "" {
			name = strings.TrimSpace(tag.Name)
		}
		if name != "" {
			tags = append(tags, name)
		}
	}
	return tags, nil
}

// Followings fetches one page of the authenticated user's follow list.
func (c *BiliClient) Followings(ctx context.Context, page, pageSize int) ([]FollowEntry, error) {
	if !c.creds.Complete() {
		return nil, fmt.Errorf("followings: missing credentials")
	}
	params := url.Values{}
	params.Set("vmid", c.creds.UserID)
	params.Set("ps", strconv.Itoa(pageSize))
	params.Set("pn", strconv.Itoa(page))
	params.Set("order", "desc")
	params.Set("order_type", "attention")
	params.Set("jsonp", "jsonp")
	params.Set("csrf", c.creds.CSRF)
	data, err := c.get(ctx, "/x/relation/followings", params)
	if err != nil {
		return nil, err
	}
	var payload struct {
		List []struct {
			Mid      int64  `json:"mid"`
			Uname    string `json:"uname"`
			Nickname string `json:"nickname"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode followings payload: %w", err)
	}
	entries := make([]FollowEntry, 0, len(payload.List))
	for _, item := range payload.List {
		name := strings.TrimSpace(item.Uname)
		if name == "" {
			name = strings.TrimSpace(item.Nickname)
		}
		if name == "" {
			continue
		}
		entry := FollowEntry{Name: name, NameLower: strings.ToLower(name)}
		if item.Mid > 0 {
			mid := item.Mid
			entry.UID = &mid
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
