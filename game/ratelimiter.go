package game

import (
	"fmt"
	"time"

	cache "github.com/go-pkgz/expirable-cache/v3"
	"golang.org/x/term"
)

const loginAttemptInterval = 10 * time.Second

// loginRateLimiter tracks failed login attempts per username. Entries expire
// on their own, so even an attacker spamming unique usernames keeps the
// cache bounded.
type loginRateLimiter struct {
	attempts cache.Cache[string, time.Time]
}

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{
		attempts: cache.NewCache[string, time.Time]().WithTTL(loginAttemptInterval),
	}
}

// waitIfNeeded blocks if a recent failed attempt exists for the username.
func (l *loginRateLimiter) waitIfNeeded(username string, term *term.Terminal) {
	last, found := l.attempts.Get(username)
	if !found {
		return
	}
	if wait := loginAttemptInterval - time.Since(last); wait > 0 {
		fmt.Fprintf(term, "Please wait %v before trying again.\n", wait.Round(time.Second))
		time.Sleep(wait)
	}
}

func (l *loginRateLimiter) recordFailure(username string) {
	l.attempts.Set(username, time.Now(), 0)
}

func (l *loginRateLimiter) clearFailure(username string) {
	l.attempts.Invalidate(username)
}
