package llm

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quiz-studio/internal/domain"
)

// quotaHint is what a response says about the service's rate window.
type quotaHint struct {
	record     domain.QuotaRecord
	found      bool
	retryAfter time.Duration
	// exhausted is set by error payloads that name an exhausted quota.
	exhausted bool
	// usageKnown is set when both limit and remaining were reported.
	usageKnown bool
}

// resetHint reports whether the response told us when to come back.
func (h quotaHint) resetHint() bool {
	return h.retryAfter > 0 || h.record.ResetEpochSeconds != nil
}

// parseQuota reads x-ratelimit-* and retry-after headers, then the error
// payload, into a quota record.
func parseQuota(service string, header http.Header, body []byte, now time.Time) quotaHint {
	h := quotaHint{record: domain.QuotaRecord{Service: service, LastUpdatedMillis: now.UnixMilli()}}

	limit := firstInt(header, "x-ratelimit-limit-requests", "x-ratelimit-limit")
	remaining := firstInt(header, "x-ratelimit-remaining-requests", "x-ratelimit-remaining")
	if limit != nil {
		h.record.Limit = limit
		h.found = true
	}
	if remaining != nil {
		h.record.Remaining = remaining
		h.found = true
	}
	if limit != nil && remaining != nil && *limit > 0 {
		used := *limit - *remaining
		if used < 0 {
			used = 0
		}
		h.record.Used = &used
		h.record.UsageFraction = clamp01(float64(used) / float64(*limit))
		h.usageKnown = true
	}

	if reset, ok := parseReset(first(header, "x-ratelimit-reset-requests", "x-ratelimit-reset"), now); ok {
		epoch := reset.Unix()
		h.record.ResetEpochSeconds = &epoch
		h.found = true
	}
	if d, ok := parseRetryAfter(header.Get("retry-after"), now); ok {
		h.retryAfter = d
		h.found = true
	}

	var payload struct {
		Error struct {
			Type       string   `json:"type"`
			Code       string   `json:"code"`
			Message    string   `json:"message"`
			RetryAfter *float64 `json:"retry_after"`
		} `json:"error"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		if payload.Error.RetryAfter != nil && *payload.Error.RetryAfter > 0 && h.retryAfter == 0 {
			h.retryAfter = time.Duration(*payload.Error.RetryAfter * float64(time.Second))
			h.found = true
		}
		kind := strings.ToLower(payload.Error.Type + " " + payload.Error.Code)
		if strings.Contains(kind, "insufficient_quota") || strings.Contains(kind, "quota_exceeded") {
			h.exhausted = true
			h.found = true
		}
	}

	if h.retryAfter > 0 && h.record.ResetEpochSeconds == nil {
		epoch := now.Add(h.retryAfter).Unix()
		h.record.ResetEpochSeconds = &epoch
	}
	return h
}

// mergeQuota folds a record without usage figures into the previous one,
// keeping the known usage and filling in a missing reset time.
func mergeQuota(prev, next domain.QuotaRecord) domain.QuotaRecord {
	out := prev
	if out.ResetEpochSeconds == nil {
		out.ResetEpochSeconds = next.ResetEpochSeconds
	}
	out.LastUpdatedMillis = next.LastUpdatedMillis
	return out
}

func first(header http.Header, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(header.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func firstInt(header http.Header, names ...string) *int64 {
	raw := first(header, names...)
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// parseReset accepts epoch seconds, a delta in seconds, or a Go-style duration ("6m0s").
func parseReset(raw string, now time.Time) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil && n >= 0 {
		if n > 1e9 {
			return time.Unix(int64(n), 0), true
		}
		return now.Add(time.Duration(n * float64(time.Second))), true
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return now.Add(d), true
	}
	return time.Time{}, false
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil && n > 0 {
		return time.Duration(n * float64(time.Second)), true
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}
