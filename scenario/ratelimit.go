package scenario

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/model"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 60 * time.Second

	// Waits shorter than this are not counted as throttling.
	throttleThreshold = 10 * time.Millisecond
)

// ErrRateLimited can be wrapped by agents to signal an HTTP 429 style rejection.
var ErrRateLimited = errors.New("rate limited")

var retryAfterPattern = regexp.MustCompile(`retry after (\d+) seconds?`)

type RateLimitConfig struct {
	// RPM caps agent requests per minute. 0 disables throttling.
	RPM              int    `yaml:"rpm,omitempty"`
	RetryOnRateLimit bool   `yaml:"retryOnRateLimit,omitempty"`
	MaxRetries       int    `yaml:"maxRetries,omitempty"`
	InitialBackoff   string `yaml:"initialBackoff,omitempty"`
}

// Enabled reports whether the agent needs wrapping at all.
func (c RateLimitConfig) Enabled() bool {
	return c.RPM > 0 || c.RetryOnRateLimit
}

// RateLimitStatsProvider is implemented by agents that track throttling.
type RateLimitStatsProvider interface {
	Stats() model.RateLimitStats
	ResetStats()
}

// RateLimitedAgent throttles an Agent to an RPM budget and optionally retries
// rate-limit errors with exponential backoff.
type RateLimitedAgent struct {
	wrapped        Agent
	limiter        *rate.Limiter
	retry          bool
	maxRetries     int
	initialBackoff time.Duration

	mu    sync.Mutex
	stats model.RateLimitStats
}

var (
	_ Agent                  = (*RateLimitedAgent)(nil)
	_ RateLimitStatsProvider = (*RateLimitedAgent)(nil)
)

func NewRateLimitedAgent(wrapped Agent, cfg RateLimitConfig) *RateLimitedAgent {
	rl := &RateLimitedAgent{
		wrapped:        wrapped,
		retry:          cfg.RetryOnRateLimit,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: model.ParseDuration(cfg.InitialBackoff, defaultInitialBackoff),
	}
	if rl.retry && rl.maxRetries <= 0 {
		rl.maxRetries = defaultMaxRetries
	}

	// Rate is requests per second, burst is the full minute's worth.
	if cfg.RPM > 0 {
		requestsPerSecond := float64(cfg.RPM) / 60.0
		rl.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), cfg.RPM)
		logger.Logger.Info("Rate limiter configured", "type", "RPM", "limit", cfg.RPM, "requests_per_second", requestsPerSecond)
	}
	if rl.retry {
		logger.Logger.Info("Rate limit retry handling enabled", "max_retries", rl.maxRetries)
	}
	return rl
}

func (rl *RateLimitedAgent) Chat(ctx context.Context, message string) (*AgentResponse, error) {
	if err := rl.throttle(ctx); err != nil {
		return nil, err
	}

	resp, err := rl.wrapped.Chat(ctx, message)
	if err == nil || !isRateLimitError(err) {
		return resp, err
	}
	rl.record(func(s *model.RateLimitStats) { s.RateLimitHits++ })
	if !rl.retry {
		return nil, err
	}

	backoff := rl.initialBackoff
	for attempt := 1; attempt <= rl.maxRetries; attempt++ {
		wait := backoff
		if retryAfter := extractRetryAfter(err); retryAfter > 0 {
			wait = retryAfter
		}
		if wait > defaultMaxBackoff {
			wait = defaultMaxBackoff
		}

		logger.Logger.Warn("Rate limit hit, retrying",
			"attempt", attempt,
			"max_retries", rl.maxRetries,
			"wait_seconds", wait.Seconds(),
			"error", err.Error())

		start := time.Now()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		waited := time.Since(start)
		rl.record(func(s *model.RateLimitStats) {
			s.RetryCount++
			s.RetryWaitTimeMs += waited.Milliseconds()
		})

		resp, err = rl.wrapped.Chat(ctx, message)
		if err == nil {
			logger.Logger.Info("Request succeeded after rate limit retry", "attempt", attempt)
			rl.record(func(s *model.RateLimitStats) { s.RetrySuccessCount++ })
			return resp, nil
		}
		if !isRateLimitError(err) {
			return nil, err
		}
		rl.record(func(s *model.RateLimitStats) { s.RateLimitHits++ })
		backoff *= 2
	}

	logger.Logger.Error("Rate limit retries exhausted", "max_retries", rl.maxRetries, "error", err.Error())
	return nil, err
}

func (rl *RateLimitedAgent) throttle(ctx context.Context) error {
	if rl.limiter == nil {
		return nil
	}
	start := time.Now()
	if err := rl.limiter.Wait(ctx); err != nil {
		return err
	}
	if waited := time.Since(start); waited > throttleThreshold {
		rl.record(func(s *model.RateLimitStats) {
			s.ThrottleCount++
			s.ThrottleWaitTimeMs += waited.Milliseconds()
		})
	}
	return nil
}

func (rl *RateLimitedAgent) record(update func(*model.RateLimitStats)) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	update(&rl.stats)
}

func (rl *RateLimitedAgent) Stats() model.RateLimitStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.stats
}

func (rl *RateLimitedAgent) ResetStats() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.stats = model.RateLimitStats{}
}

// Reset forwards to the wrapped agent when it supports it.
func (rl *RateLimitedAgent) Reset() {
	if r, ok := rl.wrapped.(interface{ Reset() }); ok {
		r.Reset()
	}
}

func isRateLimitError(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

// extractRetryAfter reads "retry after N seconds" from an error message.
func extractRetryAfter(err error) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(strings.ToLower(err.Error()))
	if len(m) < 2 {
		return 0
	}
	seconds, convErr := strconv.Atoi(m[1])
	if convErr != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
