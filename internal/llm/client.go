// Package llm wraps an external chat-completion service: a FIFO concurrency
// cap, retries with jittered exponential backoff, quota tracking and
// cancellation.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"quiz-studio/internal/domain"
)

// Settings tune a Client. Zero fields take the defaults below.
type Settings struct {
	Service       string
	MaxConcurrent int
	Timeout       time.Duration
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Service:       "llm",
		MaxConcurrent: 2,
		Timeout:       30 * time.Second,
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      8 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Service == "" {
		s.Service = d.Service
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = d.MaxConcurrent
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.BaseDelay <= 0 {
		s.BaseDelay = d.BaseDelay
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = d.MaxDelay
	}
	return s
}

// Reply is a successful completion.
type Reply struct {
	Text       string
	TokensUsed *int
	Quota      *domain.QuotaRecord
}

// Client is safe for concurrent use.
type Client struct {
	host     Host
	quota    *QuotaMonitor
	settings Settings
	sem      *semaphore.Weighted
	log      zerolog.Logger
	now      func() time.Time
}

func NewClient(host Host, quota *QuotaMonitor, settings Settings, log zerolog.Logger) *Client {
	settings = settings.withDefaults()
	return &Client{
		host:     host,
		quota:    quota,
		settings: settings,
		sem:      semaphore.NewWeighted(int64(settings.MaxConcurrent)),
		log:      log.With().Str("component", "llm_client").Str("service", settings.Service).Logger(),
		now:      time.Now,
	}
}

// Service names the quota bucket this client reports to.
func (c *Client) Service() string { return c.settings.Service }

// Request sends a prompt, waiting for a free slot in arrival order. Cancelling
// ctx rejects with domain.ErrCancelled whether the request is queued,
// in flight or backing off.
func (c *Client) Request(ctx context.Context, prompt string, ctl Control) (Reply, error) {
	if qe := c.exhausted(ctx); qe != nil {
		return Reply{}, qe
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Reply{}, cancelled(err)
	}
	defer c.sem.Release(1)

	var (
		reply   Reply
		attempt int
	)
	op := func() error {
		attempt++
		r, err := c.attempt(ctx, prompt, ctl)
		if err != nil {
			return err
		}
		reply = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.settings.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = c.settings.MaxDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.settings.MaxRetries)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("llm request failed, retrying")
	})
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, cancelled(ctx.Err())
		}
		return Reply{}, err
	}
	return reply, nil
}

func (c *Client) exhausted(ctx context.Context) *domain.QuotaExceededError {
	if c.quota == nil {
		return nil
	}
	return c.quota.Exhausted(ctx, c.settings.Service)
}

// attempt performs one call. Errors that must not be retried are wrapped in
// backoff.Permanent.
func (c *Client) attempt(ctx context.Context, prompt string, ctl Control) (Reply, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()

	started := c.now()
	resp, err := c.host.SendPrompt(attemptCtx, prompt, ctl)
	if ctx.Err() != nil {
		// the caller gave up; whatever came back is not accounted
		return Reply{}, backoff.Permanent(cancelled(ctx.Err()))
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Reply{}, domain.E(domain.KindNetwork, "llm.request", fmt.Sprintf("no response within %s", c.settings.Timeout), err)
		}
		return Reply{}, domain.E(domain.KindNetwork, "llm.request", "transport failure", err)
	}
	c.log.Debug().Int("status", resp.Status).Dur("took", c.now().Sub(started)).Msg("llm response")

	hint := parseQuota(c.settings.Service, resp.Header, resp.Body, c.now())
	if hint.found && c.quota != nil && resp.Status != http.StatusTooManyRequests {
		rec := hint.record
		if !hint.usageKnown {
			if prev, ok := c.quota.Record(ctx, c.settings.Service); ok {
				rec = mergeQuota(prev, rec)
			}
		}
		c.quota.Update(ctx, rec)
	}

	switch {
	case resp.Status == http.StatusTooManyRequests:
		if hint.resetHint() || hint.exhausted || hint.record.UsageFraction >= 1 {
			qe := &domain.QuotaExceededError{Service: c.settings.Service, RetryAfter: hint.retryAfter}
			if hint.record.ResetEpochSeconds != nil {
				qe.ResetAt = time.Unix(*hint.record.ResetEpochSeconds, 0)
			}
			if c.quota != nil {
				c.quota.HandleQuotaExceeded(ctx, c.settings.Service, hint.record.ResetEpochSeconds, hint.retryAfter)
			}
			return Reply{}, backoff.Permanent(qe)
		}
		return Reply{}, domain.E(domain.KindNetwork, "llm.request", "rate limited", nil)
	case resp.Status >= 500:
		return Reply{}, domain.E(domain.KindNetwork, "llm.request", fmt.Sprintf("server error %d", resp.Status), nil)
	case resp.Status >= 400:
		return Reply{}, backoff.Permanent(domain.E(domain.KindNetwork, "llm.request",
			fmt.Sprintf("request rejected with status %d: %s", resp.Status, errorMessage(resp.Body)), nil))
	}

	reply, err := decodeCompletion(resp.Body)
	if err != nil {
		return Reply{}, backoff.Permanent(err)
	}
	if hint.found {
		rec := hint.record
		reply.Quota = &rec
	}
	return reply, nil
}

type completion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func decodeCompletion(body []byte) (Reply, error) {
	var resp completion
	if err := json.Unmarshal(body, &resp); err != nil {
		return Reply{}, domain.E(domain.KindMalformedResponse, "llm.decode", "response is not a completion", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, domain.E(domain.KindMalformedResponse, "llm.decode", "no choices in response", nil)
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		text = resp.Choices[0].Text
	}
	reply := Reply{Text: text}
	if resp.Usage != nil {
		n := resp.Usage.TotalTokens
		reply.TokensUsed = &n
	}
	return reply, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

func cancelled(err error) error {
	return domain.E(domain.KindCancelled, "llm.request", "request cancelled", err)
}
