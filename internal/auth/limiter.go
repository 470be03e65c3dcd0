package auth

import (
	"sync"
	"time"
)

// LoginLimiter counts failed logins per username in fixed windows.
type LoginLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptWindow
	limit    int
	window   time.Duration
	now      func() time.Time
}

type attemptWindow struct {
	failures    int
	windowStart time.Time
}

// NewLoginLimiter allows `limit` failures per `window` for each username.
func NewLoginLimiter(limit int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		attempts: make(map[string]*attemptWindow),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow reports whether another attempt for username may proceed.
func (l *LoginLimiter) Allow(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.attempts[username]
	if !ok {
		return true
	}
	if l.now().Sub(w.windowStart) >= l.window {
		delete(l.attempts, username)
		return true
	}
	return w.failures < l.limit
}

// Fail records a failed attempt.
func (l *LoginLimiter) Fail(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.attempts[username]
	if !ok || now.Sub(w.windowStart) >= l.window {
		l.attempts[username] = &attemptWindow{failures: 1, windowStart: now}
		return
	}
	w.failures++
}

// Reset clears the counter after a successful login.
func (l *LoginLimiter) Reset(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, username)
}

// Cleanup drops windows older than five windows. Call periodically.
func (l *LoginLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for username, w := range l.attempts {
		if now.Sub(w.windowStart) > 5*l.window {
			delete(l.attempts, username)
		}
	}
}

// Len returns the number of tracked usernames.
func (l *LoginLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}
