package app

import (
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultThresholdSeconds hides anything shorter than a minute.
	DefaultThresholdSeconds = 60

	// defaultClipRuleDurationSeconds is applied when a stored rule carries
	// an invalid duration. The engine-side compile pass uses the larger
	// DefaultRuleDurationSeconds instead; both defaults are intentional.
	defaultClipRuleDurationSeconds = 60

	// DefaultRuleDurationSeconds caps clip rules at 20 minutes.
	DefaultRuleDurationSeconds = 20 * 60

	// DecisionRecordLimit caps the durable decision log.
	DecisionRecordLimit = 200

	// FollowRefreshInterval gates follow-whitelist refreshes.
	FollowRefreshInterval = 6 * time.Hour
)

// NormalizeThreshold coerces a raw stored threshold to a non-negative
// integer, defaulting on anything non-numeric or negative.
func NormalizeThreshold(raw any) int {
	n, ok := coerceInt(raw)
	if !ok || n < 0 {
		return DefaultThresholdSeconds
	}
	return n
}

// NormalizeClipSettings validates a raw clip settings value. Each rule is
// normalized independently; rules with no keywords left after
// normalization are dropped. Rule order is preserved.
func NormalizeClipSettings(raw any) ClipSettings {
	obj, ok := raw.(map[string]any)
	if !ok {
		return ClipSettings{Rules: []ClipRule{}}
	}
	rawRules, _ := obj["rules"].([]any)
	rules := make([]ClipRule, 0, len(rawRules))
	for _, rawRule := range rawRules {
		rule := normalizeClipRule(rawRule)
		if len(rule.Keywords) > 0 {
			rules = append(rules, rule)
		}
	}
	return ClipSettings{Rules: rules}
}

func normalizeClipRule(raw any) ClipRule {
	obj, ok := raw.(map[string]any)
	if !ok {
		return ClipRule{Enabled: true, Keywords: []string{}, AllowedAuthors: []string{}, MaxDurationSeconds: defaultClipRuleDurationSeconds}
	}
	duration, ok := coerceInt(obj["maxDurationSeconds"])
	if !ok || duration <= 0 {
		duration = defaultClipRuleDurationSeconds
	}
	enabled := true
	if b, isBool := obj["enabled"].(bool); isBool && !b {
		enabled = false
	}
	return ClipRule{
		Enabled:            enabled,
		Keywords:           normalizeTextList(obj["keywords"]),
		AllowedAuthors:     normalizeTextList(obj["allowedAuthors"]),
		MaxDurationSeconds: duration,
	}
}

// CompileClipSettings lowercases rule terms for matching and substitutes
// the 20-minute default for non-positive durations. The engine only ever
// sees compiled settings.
func CompileClipSettings(settings ClipSettings) ClipSettings {
	rules := make([]ClipRule, 0, len(settings.Rules))
	for _, rule := range settings.Rules {
		compiled := ClipRule{
			Enabled:            rule.Enabled,
			Keywords:           lowerTrimList(rule.Keywords),
			AllowedAuthors:     lowerTrimList(rule.AllowedAuthors),
			MaxDurationSeconds: rule.MaxDurationSeconds,
		}
		if compiled.MaxDurationSeconds <= 0 {
			compiled.MaxDurationSeconds = DefaultRuleDurationSeconds
		}
		if len(compiled.Keywords) > 0 {
			rules = append(rules, compiled)
		}
	}
	return ClipSettings{Rules: rules}
}

// NormalizeFollowSettings validates a raw follow-whitelist value. Entries
// without a usable name are dropped and nameLower is always derived.
func NormalizeFollowSettings(raw any) FollowSettings {
	obj, ok := raw.(map[string]any)
	if !ok {
		return FollowSettings{Follows: []FollowEntry{}}
	}
	enabled, _ := obj["enabled"].(bool)
	lastFetched, ok := coerceInt64(obj["lastFetched"])
	if !ok || lastFetched < 0 {
		lastFetched = 0
	}
	rawFollows, _ := obj["follows"].([]any)
	follows := make([]FollowEntry, 0, len(rawFollows))
	for _, rawEntry := range rawFollows {
		entry, ok := normalizeFollowEntry(rawEntry)
		if ok {
			follows = append(follows, entry)
		}
	}
	return FollowSettings{Enabled: enabled, LastFetched: lastFetched, Follows: follows}
}

func normalizeFollowEntry(raw any) (FollowEntry, bool) {
	switch v := raw.(type) {
	case string:
		name := strings.TrimSpace(v)
		if name == "" {
			return FollowEntry{}, false
		}
		return FollowEntry{Name: name, NameLower: strings.ToLower(name)}, true
	case map[string]any:
		name := strings.TrimSpace(coerceString(v["name"]))
		if name == "" {
			return FollowEntry{}, false
		}
		entry := FollowEntry{Name: name, NameLower: strings.ToLower(name)}
		if uid, ok := coerceInt64(v["uid"]); ok && uid != 0 {
			entry.UID = &uid
		}
		return entry, true
	default:
		return FollowEntry{}, false
	}
}

// NormalizeDecisionRecord validates a raw stored decision record. Records
// without an id are unusable.
func NormalizeDecisionRecord(raw any) (DecisionRecord, bool) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return DecisionRecord{}, false
	}
	id := strings.TrimSpace(coerceString(obj["id"]))
	if id == "" {
		return DecisionRecord{}, false
	}
	record := DecisionRecord{
		ID:     id,
		Title:  strings.TrimSpace(coerceString(obj["title"])),
		Author: strings.TrimSpace(coerceString(obj["author"])),
		Reason: strings.TrimSpace(coerceString(obj["reason"])),
		Result: ResultBlock,
	}
	if coerceString(obj["result"]) == string(ResultAllow) {
		record.Result = ResultAllow
	}
	if ts, ok := coerceInt64(obj["timestamp"]); ok {
		record.Timestamp = ts
	} else {
		record.Timestamp = time.Now().UnixMilli()
	}
	if duration, ok := coerceInt(obj["durationSeconds"]); ok {
		record.DurationSeconds = &duration
	}
	return record, true
}

// normalizeTextList flattens a raw keyword/author value (string, list, or
// anything else) into trimmed non-empty lines.
func normalizeTextList(raw any) []string {
	var values []string
	switch v := raw.(type) {
	case string:
		values = []string{v}
	case []any:
		for _, item := range v {
			values = append(values, coerceString(item))
		}
	}
	result := []string{}
	for _, value := range values {
		for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == '\n' || r == '\r' }) {
			part = strings.TrimSpace(part)
			if part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}

func lowerTrimList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			result = append(result, value)
		}
	}
	return result
}

func coerceString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func coerceInt(raw any) (int, bool) {
	n, ok := coerceInt64(raw)
	return int(n), ok
}

func coerceInt64(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}
