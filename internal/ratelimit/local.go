package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultSubject = "default"

// LocalTokenBucket is the in-process quota used when redis is not configured. Each
// subject gets its own limiter with the same capacity and window.
type LocalTokenBucket struct {
	mu       sync.Mutex
	subjects map[string]*localQuota
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type localQuota struct {
	limiter      *rate.Limiter
	blockedUntil time.Time
}

func NewLocalTokenBucket(capacity int, window time.Duration) (*LocalTokenBucket, error) {
	if err := validate(capacity, window); err != nil {
		return nil, err
	}
	return &LocalTokenBucket{
		subjects: make(map[string]*localQuota),
		limit:    rate.Limit(float64(capacity) / window.Seconds()),
		burst:    capacity,
		now:      time.Now,
	}, nil
}

func (l *LocalTokenBucket) Allow(_ context.Context, subject string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.quota(subject)
	now := l.now()
	if now.Before(q.blockedUntil) {
		return Decision{RetryAfter: q.blockedUntil.Sub(now)}, nil
	}

	reservation := q.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{}, errors.New("token bucket cannot grant a single token")
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: int64(q.limiter.TokensAt(now)),
	}, nil
}

// Observe spends local tokens down to obs.Remaining and blocks the subject until
// obs.ResetAt when the remote quota is empty.
func (l *LocalTokenBucket) Observe(_ context.Context, subject string, obs Observation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.quota(subject)
	now := l.now()
	if excess := int(q.limiter.TokensAt(now)) - int(max(0, obs.Remaining)); excess > 0 {
		q.limiter.AllowN(now, excess)
	}
	if obs.Remaining <= 0 && obs.ResetAt.After(q.blockedUntil) {
		q.blockedUntil = obs.ResetAt
	}
	return nil
}

func (l *LocalTokenBucket) quota(subject string) *localQuota {
	subject = normalizeSubject(subject)
	q, ok := l.subjects[subject]
	if !ok {
		q = &localQuota{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.subjects[subject] = q
	}
	return q
}

func validate(capacity int, window time.Duration) error {
	if capacity <= 0 {
		return errors.New("capacity must be positive")
	}
	if window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}
