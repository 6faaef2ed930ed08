package service

import (
	"sync"
	"time"
)

type typingKey struct {
	sessionID string
	userID    string
}

type typingState struct {
	timer Timer
	since time.Time
}

// TypingCoordinator tracks who is signaling "typing" per session. Entries are
// time-bounded: a start with no refresh within the expiry window is treated
// as an implicit stop and produces the same downstream notification as an
// explicit one, which defends against dropped stop signals.
type TypingCoordinator struct {
	mu       sync.Mutex
	clock    Clock
	window   time.Duration
	typing   map[typingKey]*typingState
	onExpire func(sessionID, userID string)
}

// NewTypingCoordinator creates a coordinator. onExpire fires outside the
// coordinator's lock whenever an entry expires without an explicit stop.
func NewTypingCoordinator(clock Clock, window time.Duration, onExpire func(sessionID, userID string)) *TypingCoordinator {
	return &TypingCoordinator{
		clock:    clock,
		window:   window,
		typing:   make(map[typingKey]*typingState),
		onExpire: onExpire,
	}
}

// Start marks the identity as typing and (re)starts its expiry timer.
// Returns whether this is a fresh start (callers broadcast only on fresh
// starts; refreshes are silent).
func (c *TypingCoordinator) Start(sessionID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := typingKey{sessionID: sessionID, userID: userID}
	if st, ok := c.typing[key]; ok {
		st.timer.Reset(c.window)
		return false
	}
	st := &typingState{since: c.clock.Now()}
	st.timer = c.clock.AfterFunc(c.window, func() { c.expire(key) })
	c.typing[key] = st
	return true
}

// Stop clears the typing state. Returns whether the identity was typing, so
// a duplicate stop produces no duplicate broadcast.
func (c *TypingCoordinator) Stop(sessionID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := typingKey{sessionID: sessionID, userID: userID}
	st, ok := c.typing[key]
	if !ok {
		return false
	}
	st.timer.Stop()
	delete(c.typing, key)
	return true
}

func (c *TypingCoordinator) expire(key typingKey) {
	c.mu.Lock()
	_, ok := c.typing[key]
	if ok {
		delete(c.typing, key)
	}
	c.mu.Unlock()
	if ok && c.onExpire != nil {
		c.onExpire(key.sessionID, key.userID)
	}
}

// TypingIn returns the user ids currently typing in the session.
func (c *TypingCoordinator) TypingIn(sessionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for key := range c.typing {
		if key.sessionID == sessionID {
			out = append(out, key.userID)
		}
	}
	return out
}

// RemoveUser cancels every typing entry of the identity and returns the
// affected session ids, so disconnect cleanup can broadcast stopped-typing.
func (c *TypingCoordinator) RemoveUser(userID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for key, st := range c.typing {
		if key.userID == userID {
			st.timer.Stop()
			delete(c.typing, key)
			out = append(out, key.sessionID)
		}
	}
	return out
}
