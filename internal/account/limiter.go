package account

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/devicefleet/mitmcore/internal/store"
)

// LoginLimiter enforces a per-IP sliding window on PTC login attempts and
// keeps the per-origin post counter used to spot devices that keep logging in.
type LoginLimiter struct {
	DB        *sql.DB
	Repo      *store.LoginTrackingRepo
	MaxLogins int
	Window    time.Duration

	mu  sync.Mutex
	now func() time.Time
}

// NewLoginLimiter creates a limiter allowing maxLogins per window per IP.
func NewLoginLimiter(db *sql.DB, maxLogins int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		DB:        db,
		Repo:      &store.LoginTrackingRepo{},
		MaxLogins: maxLogins,
		Window:    window,
		now:       time.Now,
	}
}

// HandleLoginRequest reports whether origin may log in from ip now.
// When increment is set and the login is allowed, the attempt is recorded.
func (l *LoginLimiter) HandleLoginRequest(ctx context.Context, ip, origin string, increment bool) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	since := now.Add(-l.Window).Unix()
	count, err := l.Repo.CountIPLoginsSince(ctx, l.DB, ip, since)
	if err != nil {
		return false, err
	}
	if count >= l.MaxLogins {
		return false, nil
	}
	if increment {
		if err := l.Repo.RecordIPLogin(ctx, l.DB, ip, origin, now.Unix()); err != nil {
			return false, err
		}
	}
	return true, nil
}

// IncrementTracking bumps the per-origin post counter.
func (l *LoginLimiter) IncrementTracking(ctx context.Context, origin string) error {
	return l.Repo.Increment(ctx, l.DB, origin, l.now().Unix())
}

// RemoveTracking clears the per-origin post counter.
func (l *LoginLimiter) RemoveTracking(ctx context.Context, origin string) error {
	return l.Repo.Remove(ctx, l.DB, origin)
}
