package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SessionStartLimit is the session_start_limit object of GET /gateway/bot.
type SessionStartLimit struct {
	Total          int   `json:"total"`
	Remaining      int   `json:"remaining"`
	ResetAfter     int64 `json:"reset_after"`
	MaxConcurrency int   `json:"max_concurrency"`
}

const (
	identifyWindow   = 5 * time.Second
	quotaResetPeriod = 24 * time.Hour
)

// IdentifyLimiter gates IDENTIFY on the session start quota. Running out of
// quota makes Wait sleep until the reset; it is never an error. RESUME does
// not go through the limiter.
type IdentifyLimiter struct {
	logger *slog.Logger
	window time.Duration
	now    func() time.Time

	mu             sync.Mutex
	total          int
	remaining      int
	resetAt        time.Time
	maxConcurrency int
	buckets        map[int]*rate.Limiter
}

// NewIdentifyLimiter starts from a quota snapshot. window is how often one
// bucket may identify; zero means the documented five seconds.
func NewIdentifyLimiter(limit SessionStartLimit, window time.Duration, logger *slog.Logger) *IdentifyLimiter {
	if window <= 0 {
		window = identifyWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &IdentifyLimiter{
		logger:  logger.With("component", "identify_limiter"),
		window:  window,
		now:     time.Now,
		buckets: make(map[int]*rate.Limiter),
	}
	l.Update(limit)
	return l
}

// Update replaces the quota with a fresh snapshot from the REST API.
func (l *IdentifyLimiter) Update(limit SessionStartLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = limit.Total
	l.remaining = limit.Remaining
	l.resetAt = l.now().Add(time.Duration(limit.ResetAfter) * time.Millisecond)
	l.maxConcurrency = max(limit.MaxConcurrency, 1)
}

func (l *IdentifyLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}

// Wait blocks until shard may send IDENTIFY and takes one session start.
// The caller must call release if the IDENTIFY is never sent, which hands the
// session start back; calling it after a successful IDENTIFY is a mistake.
// release is safe to call more than once.
func (l *IdentifyLimiter) Wait(ctx context.Context, shard int) (release func(), err error) {
	for {
		wait, bucket, window := l.reserve(shard)
		if bucket != nil {
			release = l.releaser(window)
			if err := bucket.Wait(ctx); err != nil {
				release()
				return func() {}, err
			}
			return release, nil
		}

		l.logger.Info("session start quota exhausted, waiting for reset", "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return func() {}, ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes one session start if available and returns the shard's
// concurrency bucket along with the reset time the start was taken against;
// otherwise it returns how long until the quota resets.
func (l *IdentifyLimiter) reserve(shard int) (time.Duration, *rate.Limiter, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !now.Before(l.resetAt) {
		l.remaining = l.total
		l.resetAt = now.Add(quotaResetPeriod)
	}
	if l.remaining <= 0 {
		return l.resetAt.Sub(now), nil, time.Time{}
	}
	l.remaining--

	key := shard % l.maxConcurrency
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Every(l.window), 1)
		l.buckets[key] = bucket
	}
	return 0, bucket, l.resetAt
}

// releaser gives a session start back, unless the quota has been refilled or
// replaced since it was taken.
func (l *IdentifyLimiter) releaser(window time.Time) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.resetAt.Equal(window) && l.remaining < l.total {
				l.remaining++
			}
		})
	}
}
