// Package throttle implements the per-host request-frequency gate. Every
// fetch acquires a token for its hostname before touching the network; a
// host over budget suspends the caller until capacity frees, it is never
// rejected. Operator-tuned host policies are persisted through the meta
// store so a restart does not reset them.
package throttle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pagewatch/pagewatch/internal/metrics"
	"github.com/pagewatch/pagewatch/internal/watch"
)

// metaKey is the metas-table key holding the persisted host policies.
const metaKey = "host_frequencies"

// Throttle manages per-host limiters.
type Throttle struct {
	mu            sync.Mutex
	limiters      map[string]*rate.Limiter
	policies      map[string]watch.HostFrequency
	defaultPolicy watch.HostFrequency
	metas         watch.MetaStore
	logger        *zap.Logger
}

// New creates a Throttle with the given system default policy. The metas
// store may be nil, in which case policies live only in memory.
func New(defaultPolicy watch.HostFrequency, metas watch.MetaStore, logger *zap.Logger) *Throttle {
	if defaultPolicy.N <= 0 {
		defaultPolicy.N = 1
	}
	if defaultPolicy.IntervalSeconds <= 0 {
		defaultPolicy.IntervalSeconds = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{
		limiters:      make(map[string]*rate.Limiter),
		policies:      make(map[string]watch.HostFrequency),
		defaultPolicy: defaultPolicy,
		metas:         metas,
		logger:        logger,
	}
}

// Load installs the host policies persisted in the meta store.
func (t *Throttle) Load(ctx context.Context) error {
	if t.metas == nil {
		return nil
	}
	raw, ok, err := t.metas.Get(ctx, metaKey)
	if err != nil {
		return fmt.Errorf("load host frequencies: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}
	var policies map[string]watch.HostFrequency
	if err := json.Unmarshal([]byte(raw), &policies); err != nil {
		return fmt.Errorf("decode host frequencies: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for host, freq := range policies {
		host = strings.ToLower(host)
		t.policies[host] = freq
		t.limiters[host] = newLimiter(freq)
	}
	t.logger.Info("host frequencies loaded", zap.Int("hosts", len(policies)))
	return nil
}

// SetPolicy installs a host policy at runtime and persists the full policy
// map. A non-positive N removes the host's tuning, reverting it to the
// system default.
func (t *Throttle) SetPolicy(ctx context.Context, host string, freq watch.HostFrequency) error {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return fmt.Errorf("host should not be empty")
	}
	t.mu.Lock()
	if freq.N <= 0 {
		delete(t.policies, host)
		delete(t.limiters, host)
	} else {
		if freq.IntervalSeconds <= 0 {
			freq.IntervalSeconds = 1
		}
		t.policies[host] = freq
		t.limiters[host] = newLimiter(freq)
	}
	snapshot := make(map[string]watch.HostFrequency, len(t.policies))
	for h, f := range t.policies {
		snapshot[h] = f
	}
	t.mu.Unlock()

	if t.metas == nil {
		return nil
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode host frequencies: %w", err)
	}
	if err := t.metas.Set(ctx, metaKey, string(raw)); err != nil {
		return fmt.Errorf("persist host frequencies: %w", err)
	}
	return nil
}

// Policy returns the tuned policy for host, if any.
func (t *Throttle) Policy(host string) (watch.HostFrequency, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	freq, ok := t.policies[strings.ToLower(host)]
	return freq, ok
}

// Wait blocks until the host extracted from rawURL has capacity, or the
// context finishes.
func (t *Throttle) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeHost(rawURL)

	t.mu.Lock()
	limiter, ok := t.limiters[host]
	if !ok {
		limiter = newLimiter(t.defaultPolicy)
		t.limiters[host] = limiter
	}
	t.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host throttle wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveThrottleDelay(host, waited)
	}
	return nil
}

func newLimiter(freq watch.HostFrequency) *rate.Limiter {
	interval := time.Duration(freq.IntervalSeconds) * time.Second
	return rate.NewLimiter(rate.Limit(float64(freq.N)/interval.Seconds()), freq.N)
}
