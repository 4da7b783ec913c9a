package app

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	durationPattern = regexp.MustCompile(`(\d{1,2}:)?\d{1,2}:\d{2}`)
	bvidPattern     = regexp.MustCompile(`^BV[0-9A-Za-z]{10}$`)
	hrefBvidPattern = regexp.MustCompile(`BV[0-9A-Za-z]{10}`)
	hrefAidPattern  = regexp.MustCompile(`(?i)av(\d+)`)
)

// IsValidBvid reports whether s looks like a Bilibili bvid.
func IsValidBvid(s string) bool {
	return bvidPattern.MatchString(s)
}

// ExtractVideoIdentity pulls a video identity out of a /video/ link href.
func ExtractVideoIdentity(href string) VideoIdentity {
	if href == "" || !strings.Contains(href, "/video/") {
		return VideoIdentity{}
	}
	if m := hrefBvidPattern.FindString(href); m != "" {
		return BvidIdentity(m)
	}
	if m := hrefAidPattern.FindStringSubmatch(href); m != nil {
		aid, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil && aid > 0 {
			return AidIdentity(aid)
		}
	}
	return VideoIdentity{}
}

// ParseDurationText converts a rendered duration like "12:34" or
// "1:02:03" to seconds. Returns nil when the text carries no duration.
func ParseDurationText(text string) *int {
	clean := durationPattern.FindString(strings.TrimSpace(text))
	if clean == "" {
		return nil
	}
	parts := strings.Split(clean, ":")
	seconds := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil
		}
		seconds = seconds*60 + n
	}
	return &seconds
}

// normalizeForMatch lowercases and trims text for case-insensitive matching.
func normalizeForMatch(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// matchesAny reports whether any needle is contained in text,
// case-insensitively. Needles are assumed already lowercased.
func matchesAny(text string, needles []string) bool {
	normalized := normalizeForMatch(text)
	if normalized == "" || len(needles) == 0 {
		return false
	}
	for _, needle := range needles {
		if needle != "" && strings.Contains(normalized, needle) {
			return true
		}
	}
	return false
}

// intPtr returns a pointer to v.
func intPtr(v int) *int {
	return &v
}
