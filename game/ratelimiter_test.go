package game

import (
	"sync"
	"testing"
	"time"
)

func TestLoginRateLimiterRecordClear(t *testing.T) {
	l := newLoginRateLimiter()

	if _, exists := l.attempts.Get("testuser"); exists {
		t.Error("testuser should not have an entry initially")
	}

	l.recordFailure("testuser")
	if _, exists := l.attempts.Get("testuser"); !exists {
		t.Error("testuser should have an entry after recordFailure")
	}

	l.clearFailure("testuser")
	if _, exists := l.attempts.Get("testuser"); exists {
		t.Error("testuser should not have an entry after clearFailure")
	}
}

func TestLoginRateLimiterMultipleUsers(t *testing.T) {
	l := newLoginRateLimiter()

	l.recordFailure("user1")
	l.recordFailure("user2")
	l.recordFailure("user3")

	if count := l.attempts.Len(); count != 3 {
		t.Errorf("expected 3 entries, got %d", count)
	}

	l.clearFailure("user2")

	if count := l.attempts.Len(); count != 2 {
		t.Errorf("expected 2 entries after clear, got %d", count)
	}
	if _, exists := l.attempts.Get("user1"); !exists {
		t.Error("user1 should still exist")
	}
	if _, exists := l.attempts.Get("user2"); exists {
		t.Error("user2 should not exist")
	}
	if _, exists := l.attempts.Get("user3"); !exists {
		t.Error("user3 should still exist")
	}
}

func TestLoginRateLimiterClearNonexistent(t *testing.T) {
	l := newLoginRateLimiter()

	// Clear nonexistent should not panic
	l.clearFailure("nonexistent")

	if count := l.attempts.Len(); count != 0 {
		t.Errorf("expected 0 entries, got %d", count)
	}
}

func TestLoginRateLimiterRecordUpdatesTime(t *testing.T) {
	l := newLoginRateLimiter()

	l.recordFailure("testuser")
	firstTime, _ := l.attempts.Get("testuser")

	time.Sleep(10 * time.Millisecond)

	l.recordFailure("testuser")
	secondTime, _ := l.attempts.Get("testuser")

	if !secondTime.After(firstTime) {
		t.Error("second recordFailure should update timestamp")
	}
}

func TestLoginRateLimiterConcurrentAccess(t *testing.T) {
	l := newLoginRateLimiter()

	var wg sync.WaitGroup
	const goroutines = 10
	const iterations = 100

	wg.Add(goroutines * 2)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.recordFailure("user")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.clearFailure("user")
			}
		}()
	}
	wg.Wait()
	// Test passes if no race conditions or panics occurred
}
