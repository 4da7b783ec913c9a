package app

import (
	"fmt"
	"strconv"
)

// IdentityKind distinguishes the two Bilibili video id namespaces.
type IdentityKind string

const (
	KindBvid IdentityKind = "bvid"
	KindAid  IdentityKind = "aid"
)

// VideoIdentity is the platform-assigned id of a video. Two cards refer to
// the same video iff their identities produce the same Key.
type VideoIdentity struct {
	Kind  IdentityKind
	Value string
}

// Key returns the canonical cache key ("bvid:<v>" or "aid:<v>").
func (id VideoIdentity) Key() string {
	if id.Value == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", id.Kind, id.Value)
}

// IsZero reports whether the identity is missing.
func (id VideoIdentity) IsZero() bool {
	return id.Value == ""
}

// BvidIdentity builds a bvid identity.
func BvidIdentity(bvid string) VideoIdentity {
	return VideoIdentity{Kind: KindBvid, Value: bvid}
}

// AidIdentity builds an aid identity.
func AidIdentity(aid int64) VideoIdentity {
	return VideoIdentity{Kind: KindAid, Value: strconv.FormatInt(aid, 10)}
}

// CardSnapshot carries the signals extracted from one rendered video card.
// Any field may be missing; the rule engine works with what is available.
type CardSnapshot struct {
	Bvid            string   `json:"bvid,omitempty"`
	Aid             int64    `json:"aid,omitempty"`
	Href            string   `json:"href,omitempty"`
	Title           string   `json:"title,omitempty"`
	Author          string   `json:"author,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Duration        string   `json:"duration,omitempty"`
	DurationSeconds *int     `json:"durationSeconds,omitempty"`
}

// Identity resolves the card's video identity from its explicit ids or,
// failing that, from its link href.
func (c CardSnapshot) Identity() VideoIdentity {
	if IsValidBvid(c.Bvid) {
		return BvidIdentity(c.Bvid)
	}
	if c.Aid > 0 {
		return AidIdentity(c.Aid)
	}
	return ExtractVideoIdentity(c.Href)
}

// ClipRule is one user-defined keyword policy for clip-style uploads.
// Keywords and AllowedAuthors are stored lowercased and trimmed.
type ClipRule struct {
	Enabled            bool     `json:"enabled"`
	Keywords           []string `json:"keywords"`
	AllowedAuthors     []string `json:"allowedAuthors"`
	MaxDurationSeconds int      `json:"maxDurationSeconds"`
}

// ClipSettings holds the ordered clip rule list. Order is significant:
// the first qualifying rule wins.
type ClipSettings struct {
	Rules []ClipRule `json:"rules"`
}

// FollowEntry is one followed author from the synchronized whitelist.
type FollowEntry struct {
	Name      string `json:"name"`
	NameLower string `json:"nameLower"`
	UID       *int64 `json:"uid"`
}

// FollowSettings holds the follow-whitelist state. LastFetched is
// epoch-millis; zero means never synced.
type FollowSettings struct {
	Enabled     bool          `json:"enabled"`
	LastFetched int64         `json:"lastFetched"`
	Follows     []FollowEntry `json:"follows"`
}

// NameSet returns the set of lowercased follow names for membership tests.
func (s FollowSettings) NameSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Follows))
	for _, entry := range s.Follows {
		if entry.NameLower != "" {
			set[entry.NameLower] = struct{}{}
		}
	}
	return set
}

// Result is the terminal outcome of one evaluation.
type Result string

const (
	ResultBlock Result = "block"
	ResultAllow Result = "allow"
)

// Reason explains which check produced a verdict.
type Reason string

const (
	ReasonDuration        Reason = "duration"
	ReasonKeyword         Reason = "keyword"
	ReasonFollowWhitelist Reason = "follow_whitelist"
	ReasonRuleAuthor      Reason = "rule_author"
	ReasonNone            Reason = "none"
)

// Verdict is the ephemeral outcome of one evaluation pass.
type Verdict struct {
	Hide   bool
	Reason Reason
}

// DecisionRecord is one persisted entry of the decision log, deduplicated
// by (ID, Result) and capped at DecisionRecordLimit entries newest-first.
type DecisionRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	DurationSeconds *int   `json:"durationSeconds"`
	Result          Result `json:"result"`
	Reason          string `json:"reason"`
	Timestamp       int64  `json:"timestamp"`
}

// VideoMetadata is the session-cached remote lookup result for a video.
type VideoMetadata struct {
	Title  string
	Author string
	Tags   []string
}
