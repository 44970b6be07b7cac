package llm

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuotaHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := http.Header{}
	h.Set("X-RateLimit-Limit-Requests", "100")
	h.Set("X-RateLimit-Remaining-Requests", "15")
	h.Set("X-RateLimit-Reset-Requests", "90")

	hint := parseQuota("deepseek", h, nil, now)
	require.True(t, hint.found)
	require.NotNil(t, hint.record.Used)
	assert.Equal(t, int64(85), *hint.record.Used)
	assert.InDelta(t, 0.85, hint.record.UsageFraction, 1e-9)
	require.NotNil(t, hint.record.ResetEpochSeconds)
	assert.Equal(t, now.Add(90*time.Second).Unix(), *hint.record.ResetEpochSeconds)
	assert.Zero(t, hint.retryAfter)
}

func TestParseQuotaResetForms(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := map[string]time.Time{
		"1700000600": time.Unix(1_700_000_600, 0),
		"30":         now.Add(30 * time.Second),
		"6m0s":       now.Add(6 * time.Minute),
	}
	for raw, want := range cases {
		got, ok := parseReset(raw, now)
		require.True(t, ok, raw)
		assert.Equal(t, want.Unix(), got.Unix(), raw)
	}
	_, ok := parseReset("soon", now)
	assert.False(t, ok)
}

func TestParseQuotaRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := http.Header{}
	h.Set("Retry-After", "60")

	hint := parseQuota("deepseek", h, nil, now)
	assert.Equal(t, time.Minute, hint.retryAfter)
	assert.True(t, hint.resetHint())
	require.NotNil(t, hint.record.ResetEpochSeconds)
	assert.Equal(t, now.Add(time.Minute).Unix(), *hint.record.ResetEpochSeconds)

	h.Set("Retry-After", now.Add(2*time.Minute).UTC().Format(http.TimeFormat))
	hint = parseQuota("deepseek", h, nil, now)
	assert.Equal(t, 2*time.Minute, hint.retryAfter)
}

func TestParseQuotaErrorPayload(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"error":{"type":"insufficient_quota","message":"out of credit","retry_after":12}}`)

	hint := parseQuota("deepseek", http.Header{}, body, now)
	assert.True(t, hint.exhausted)
	assert.Equal(t, 12*time.Second, hint.retryAfter)

	hint = parseQuota("deepseek", http.Header{}, []byte(`not json`), now)
	assert.False(t, hint.found)
	assert.False(t, hint.resetHint())
}
