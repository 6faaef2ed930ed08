package service

import (
	"sync"
	"testing"
	"time"
)

func TestTypingExpiresLikeExplicitStop(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var expired [][2]string
	tc := NewTypingCoordinator(clock, 4*time.Second, func(sessionID, userID string) {
		mu.Lock()
		expired = append(expired, [2]string{sessionID, userID})
		mu.Unlock()
	})

	if !tc.Start("s1", "u1") {
		t.Fatal("first start must be fresh")
	}
	clock.Advance(4 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != [2]string{"s1", "u1"} {
		t.Fatalf("expected one expiry for (s1,u1), got %v", expired)
	}
	if len(tc.TypingIn("s1")) != 0 {
		t.Fatal("typing state must be cleared after expiry")
	}
}

func TestTypingRefreshResetsExpiry(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	expiries := 0
	tc := NewTypingCoordinator(clock, 4*time.Second, func(string, string) {
		mu.Lock()
		expiries++
		mu.Unlock()
	})

	tc.Start("s1", "u1")
	clock.Advance(3 * time.Second)
	if fresh := tc.Start("s1", "u1"); fresh {
		t.Fatal("refresh must not be a fresh start")
	}
	clock.Advance(3 * time.Second)

	mu.Lock()
	if expiries != 0 {
		mu.Unlock()
		t.Fatal("refreshed entry must not expire at the original deadline")
	}
	mu.Unlock()

	clock.Advance(1 * time.Second)
	mu.Lock()
	defer mu.Unlock()
	if expiries != 1 {
		t.Fatalf("expected one expiry after the refreshed window, got %d", expiries)
	}
}

func TestExplicitStopCancelsExpiry(t *testing.T) {
	clock := newFakeClock()
	expiries := 0
	tc := NewTypingCoordinator(clock, 4*time.Second, func(string, string) { expiries++ })

	tc.Start("s1", "u1")
	if !tc.Stop("s1", "u1") {
		t.Fatal("stop of an active entry must report true")
	}
	if tc.Stop("s1", "u1") {
		t.Fatal("duplicate stop must report false")
	}
	clock.Advance(10 * time.Second)
	if expiries != 0 {
		t.Fatal("stopped entry must not fire the expiry callback")
	}
}

func TestRemoveUserCancelsTyping(t *testing.T) {
	clock := newFakeClock()
	expiries := 0
	tc := NewTypingCoordinator(clock, 4*time.Second, func(string, string) { expiries++ })

	tc.Start("s1", "u1")
	tc.Start("s2", "u1")
	tc.Start("s1", "u2")

	sessions := tc.RemoveUser("u1")
	if len(sessions) != 2 {
		t.Fatalf("expected 2 affected sessions, got %v", sessions)
	}
	clock.Advance(10 * time.Second)
	if expiries != 1 {
		t.Fatalf("only u2's entry should expire, got %d expiries", expiries)
	}
}
