// Package offline tracks whether the external services are reachable.
package offline

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval   = 30 * time.Second
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 3
	DefaultCooldown   = 5 * time.Second
)

// Monitor derives connectivity from platform events and a periodic HEAD probe.
// It starts optimistic: online until a probe or event says otherwise.
type Monitor struct {
	probeURL   string
	client     *http.Client
	log        zerolog.Logger
	interval   time.Duration
	timeout    time.Duration
	maxRetries int
	cooldown   time.Duration

	mu      sync.Mutex
	online  bool
	since   time.Time
	subs    map[int]chan bool
	nextSub int
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(m *Monitor) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(m *Monitor) {
		if d >= 0 {
			m.cooldown = d
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// NewMonitor probes probeURL. An empty URL disables probing; only SetOnline
// changes the state then.
func NewMonitor(probeURL string, opts ...Option) *Monitor {
	m := &Monitor{
		probeURL:   probeURL,
		client:     http.DefaultClient,
		log:        zerolog.Nop(),
		interval:   DefaultInterval,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		cooldown:   DefaultCooldown,
		online:     true,
		since:      time.Now(),
		subs:       make(map[int]chan bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "offline_monitor").Logger()
	return m
}

// Online reports the current connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Since is when the current state began.
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.since
}

// SetOnline applies a platform connectivity event.
func (m *Monitor) SetOnline(online bool) {
	m.set(online, "platform")
}

// Subscribe returns a channel that receives every state change. Slow
// subscribers miss changes rather than block the monitor.
func (m *Monitor) Subscribe(buffer int) (<-chan bool, func()) {
	ch := make(chan bool, buffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

// Probe sends one HEAD request and records the outcome. Any HTTP response
// counts as online.
func (m *Monitor) Probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return m.Online()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.log.Error().Err(err).Str("url", m.probeURL).Msg("build probe request")
		return m.Online()
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return m.Online()
		}
		m.log.Debug().Err(err).Msg("probe failed")
		m.set(false, "probe")
		return false
	}
	resp.Body.Close()
	m.set(true, "probe")
	return true
}

// Retry probes up to the configured number of times, waiting the cool-down
// before each attempt, and stops at the first success.
func (m *Monitor) Retry(ctx context.Context) bool {
	attempts := m.maxRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return m.Online()
		case <-time.After(m.cooldown):
		}
		if m.Probe(ctx) {
			return true
		}
		m.log.Info().Int("attempt", i+1).Int("max", attempts).Msg("still offline")
	}
	return false
}

// Run probes on every interval until ctx is done. A failed probe is followed
// by the automatic retries.
func (m *Monitor) Run(ctx context.Context) error {
	if m.probeURL == "" {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if !m.Probe(ctx) {
		m.Retry(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !m.Probe(ctx) && ctx.Err() == nil {
				m.Retry(ctx)
			}
		}
	}
}

func (m *Monitor) set(online bool, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	m.since = time.Now()
	m.log.Info().Bool("online", online).Str("source", source).Msg("connectivity changed")
	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
		}
	}
}
