package llm

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-studio/internal/app"
	"quiz-studio/internal/config"
	"quiz-studio/internal/domain"
)

// QuotaEventKind labels quota notifications.
type QuotaEventKind string

const (
	QuotaWarning  QuotaEventKind = "warning"
	QuotaCritical QuotaEventKind = "critical"
	QuotaExceeded QuotaEventKind = "exceeded"
)

const staleQuotaAfter = 24 * time.Hour

// QuotaEvent is broadcast to subscribers. Exceeded events are persistent: the
// view keeps them on screen until the reset time.
type QuotaEvent struct {
	Kind          QuotaEventKind
	Service       string
	UsageFraction float64
	ResetAt       time.Time
	RetryAfter    time.Duration
	Persistent    bool
}

// QuotaMonitor tracks per-service usage and raises threshold events.
type QuotaMonitor struct {
	store    app.BlobStore
	log      zerolog.Logger
	now      func() time.Time
	warning  float64
	critical float64

	mu      sync.Mutex
	loaded  bool
	records map[string]domain.QuotaRecord
	emitted map[string]map[QuotaEventKind]bool
	subs    map[int]chan QuotaEvent
	nextSub int
}

type QuotaOption func(*QuotaMonitor)

// WithThresholds sets the warning and critical usage fractions, clamped to [0,1].
func WithThresholds(warning, critical float64) QuotaOption {
	return func(m *QuotaMonitor) {
		m.warning = clamp01(warning)
		m.critical = clamp01(critical)
	}
}

func WithQuotaClock(now func() time.Time) QuotaOption {
	return func(m *QuotaMonitor) { m.now = now }
}

func WithQuotaLogger(log zerolog.Logger) QuotaOption {
	return func(m *QuotaMonitor) { m.log = log }
}

func NewQuotaMonitor(store app.BlobStore, opts ...QuotaOption) *QuotaMonitor {
	m := &QuotaMonitor{
		store:    store,
		log:      zerolog.Nop(),
		now:      time.Now,
		warning:  0.80,
		critical: 0.95,
		records:  make(map[string]domain.QuotaRecord),
		emitted:  make(map[string]map[QuotaEventKind]bool),
		subs:     make(map[int]chan QuotaEvent),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "quota_monitor").Logger()
	return m
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Subscribe returns a buffered event channel. Slow subscribers miss events
// rather than block the monitor.
func (m *QuotaMonitor) Subscribe(buffer int) (<-chan QuotaEvent, func()) {
	ch := make(chan QuotaEvent, buffer)
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

// Update records a usage snapshot and emits threshold events not yet emitted
// since the service's last reset.
func (m *QuotaMonitor) Update(ctx context.Context, rec domain.QuotaRecord) {
	m.mu.Lock()
	m.loadLocked(ctx)
	m.purgeLocked()

	rec.UsageFraction = clamp01(rec.UsageFraction)
	if rec.LastUpdatedMillis == 0 {
		rec.LastUpdatedMillis = m.now().UnixMilli()
	}
	if prev, ok := m.records[rec.Service]; ok && isReset(prev, rec) {
		delete(m.emitted, rec.Service)
	}
	m.records[rec.Service] = rec

	var events []QuotaEvent
	for _, th := range []struct {
		kind  QuotaEventKind
		level float64
	}{{QuotaWarning, m.warning}, {QuotaCritical, m.critical}} {
		if rec.UsageFraction < th.level || m.emittedLocked(rec.Service, th.kind) {
			continue
		}
		m.markLocked(rec.Service, th.kind)
		events = append(events, QuotaEvent{
			Kind:          th.kind,
			Service:       rec.Service,
			UsageFraction: rec.UsageFraction,
			ResetAt:       resetTime(rec),
		})
	}
	m.persistLocked(ctx)
	for _, ev := range events {
		m.broadcastLocked(ev)
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.log.Warn().Str("service", ev.Service).Float64("usage", ev.UsageFraction).Str("level", string(ev.Kind)).Msg("quota threshold crossed")
	}
}

// HandleQuotaExceeded forces usage to 1.0 and emits a persistent exceeded event.
func (m *QuotaMonitor) HandleQuotaExceeded(ctx context.Context, service string, resetEpochSeconds *int64, retryAfter time.Duration) {
	now := m.now()
	m.mu.Lock()
	m.loadLocked(ctx)
	m.purgeLocked()

	rec := m.records[service]
	rec.Service = service
	rec.UsageFraction = 1
	rec.LastUpdatedMillis = now.UnixMilli()
	switch {
	case resetEpochSeconds != nil:
		v := *resetEpochSeconds
		rec.ResetEpochSeconds = &v
	case retryAfter > 0:
		v := now.Add(retryAfter).Unix()
		rec.ResetEpochSeconds = &v
	}
	if rec.Limit != nil {
		used := *rec.Limit
		zero := int64(0)
		rec.Used, rec.Remaining = &used, &zero
	}
	m.records[service] = rec
	m.markLocked(service, QuotaExceeded)
	m.persistLocked(ctx)
	ev := QuotaEvent{
		Kind:          QuotaExceeded,
		Service:       service,
		UsageFraction: 1,
		ResetAt:       resetTime(rec),
		RetryAfter:    retryAfter,
		Persistent:    true,
	}
	m.broadcastLocked(ev)
	m.mu.Unlock()

	m.log.Error().Str("service", service).Time("reset_at", ev.ResetAt).Msg("quota exceeded")
}

// Exhausted returns a QuotaExceededError while the service is known to be at
// its limit and its reset time has not passed.
func (m *QuotaMonitor) Exhausted(ctx context.Context, service string) *domain.QuotaExceededError {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked(ctx)
	m.purgeLocked()

	rec, ok := m.records[service]
	if !ok || rec.UsageFraction < 1 || rec.ResetEpochSeconds == nil {
		return nil
	}
	resetAt := time.Unix(*rec.ResetEpochSeconds, 0)
	wait := resetAt.Sub(m.now())
	if wait <= 0 {
		return nil
	}
	return &domain.QuotaExceededError{Service: service, ResetAt: resetAt, RetryAfter: wait.Round(time.Second)}
}

// Record returns the latest snapshot for a service.
func (m *QuotaMonitor) Record(ctx context.Context, service string) (domain.QuotaRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked(ctx)
	m.purgeLocked()
	rec, ok := m.records[service]
	return rec, ok
}

// Clear forgets a service's record and its emitted thresholds.
func (m *QuotaMonitor) Clear(ctx context.Context, service string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLocked(ctx)
	delete(m.records, service)
	delete(m.emitted, service)
	m.persistLocked(ctx)
}

// isReset reports a new quota window: usage dropped and the reset time moved
// forward, or one side carries no reset time to compare.
func isReset(prev, next domain.QuotaRecord) bool {
	if next.UsageFraction >= prev.UsageFraction {
		return false
	}
	if prev.ResetEpochSeconds == nil || next.ResetEpochSeconds == nil {
		return true
	}
	return *next.ResetEpochSeconds > *prev.ResetEpochSeconds
}

func resetTime(rec domain.QuotaRecord) time.Time {
	if rec.ResetEpochSeconds == nil {
		return time.Time{}
	}
	return time.Unix(*rec.ResetEpochSeconds, 0)
}

// purgeLocked drops records whose reset time has passed or that have not been
// updated for a day.
func (m *QuotaMonitor) purgeLocked() {
	now := m.now()
	for service, rec := range m.records {
		expired := rec.ResetEpochSeconds != nil && now.Unix() >= *rec.ResetEpochSeconds
		stale := now.Sub(time.UnixMilli(rec.LastUpdatedMillis)) > staleQuotaAfter
		if expired || stale {
			delete(m.records, service)
			delete(m.emitted, service)
		}
	}
}

func (m *QuotaMonitor) emittedLocked(service string, kind QuotaEventKind) bool {
	return m.emitted[service][kind]
}

func (m *QuotaMonitor) markLocked(service string, kind QuotaEventKind) {
	set, ok := m.emitted[service]
	if !ok {
		set = make(map[QuotaEventKind]bool)
		m.emitted[service] = set
	}
	set[kind] = true
}

func (m *QuotaMonitor) broadcastLocked(ev QuotaEvent) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

type quotaBlob struct {
	Records map[string]domain.QuotaRecord `json:"records"`
	Emitted map[string][]QuotaEventKind   `json:"emitted,omitempty"`
}

func (m *QuotaMonitor) loadLocked(ctx context.Context) {
	if m.loaded {
		return
	}
	m.loaded = true
	data, ok, err := m.store.GetBlob(ctx, config.QuotaKey)
	if err != nil {
		m.log.Error().Err(err).Msg("load quota")
		return
	}
	if !ok {
		return
	}
	var blob quotaBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		m.log.Warn().Err(err).Msg("discarding unreadable quota state")
		return
	}
	for service, rec := range blob.Records {
		m.records[service] = rec
	}
	for service, kinds := range blob.Emitted {
		for _, kind := range kinds {
			m.markLocked(service, kind)
		}
	}
}

func (m *QuotaMonitor) persistLocked(ctx context.Context) {
	blob := quotaBlob{Records: m.records, Emitted: make(map[string][]QuotaEventKind, len(m.emitted))}
	for service, set := range m.emitted {
		for _, kind := range []QuotaEventKind{QuotaWarning, QuotaCritical, QuotaExceeded} {
			if set[kind] {
				blob.Emitted[service] = append(blob.Emitted[service], kind)
			}
		}
	}
	data, err := json.Marshal(blob)
	if err != nil {
		m.log.Error().Err(err).Msg("encode quota")
		return
	}
	if err := m.store.PutBlob(ctx, config.QuotaKey, data); err != nil {
		m.log.Error().Err(err).Msg("save quota")
	}
}
