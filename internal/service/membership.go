package service

import (
	"sync"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
)

type member struct {
	identity model.Identity
	stealth  bool // privileged observer, excluded from visible membership
}

// MembershipTracker maps a session to the set of identities currently joined
// to it. Multiple connections of the same identity count as one logical
// member. A session with zero members is removed from the index entirely.
type MembershipTracker struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*member // sessionID -> userID -> member
	byUser   map[string]map[string]struct{} // userID -> sessionIDs joined
}

// NewMembershipTracker creates an empty tracker.
func NewMembershipTracker() *MembershipTracker {
	return &MembershipTracker{
		sessions: make(map[string]map[string]*member),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// Join records the identity as a member. Idempotent: re-joining updates the
// stealth flag and reports wasMember=true so callers can skip re-broadcasting.
func (t *MembershipTracker) Join(sessionID string, identity model.Identity, stealth bool) (wasMember bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members := t.sessions[sessionID]
	if members == nil {
		members = make(map[string]*member)
		t.sessions[sessionID] = members
	}
	_, wasMember = members[identity.UserID]
	members[identity.UserID] = &member{identity: identity, stealth: stealth}
	if t.byUser[identity.UserID] == nil {
		t.byUser[identity.UserID] = make(map[string]struct{})
	}
	t.byUser[identity.UserID][sessionID] = struct{}{}
	return wasMember
}

// Leave removes the identity from the session. Tolerates double leave.
// Returns whether the identity actually was a member.
func (t *MembershipTracker) Leave(sessionID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(sessionID, userID)
}

func (t *MembershipTracker) leaveLocked(sessionID, userID string) bool {
	members, ok := t.sessions[sessionID]
	if !ok {
		return false
	}
	if _, ok := members[userID]; !ok {
		return false
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(t.sessions, sessionID)
	}
	if joined, ok := t.byUser[userID]; ok {
		delete(joined, sessionID)
		if len(joined) == 0 {
			delete(t.byUser, userID)
		}
	}
	return true
}

// SessionLeave describes one session an identity was removed from.
type SessionLeave struct {
	SessionID string
	Stealth   bool
}

// RemoveUser takes the identity out of every session it had joined and
// returns what was left. Called when the last connection closes.
func (t *MembershipTracker) RemoveUser(userID string) []SessionLeave {
	t.mu.Lock()
	defer t.mu.Unlock()
	joined := t.byUser[userID]
	out := make([]SessionLeave, 0, len(joined))
	for sessionID := range joined {
		stealth := false
		if m, ok := t.sessions[sessionID][userID]; ok {
			stealth = m.stealth
		}
		out = append(out, SessionLeave{SessionID: sessionID, Stealth: stealth})
	}
	for _, l := range out {
		t.leaveLocked(l.SessionID, userID)
	}
	return out
}

// IsMember reports whether the identity is currently joined (stealth or not).
func (t *MembershipTracker) IsMember(sessionID, userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[sessionID][userID]
	return ok
}

// Members returns every joined identity including stealth observers. This is
// the broadcast audience, never exposed to non-privileged participants.
func (t *MembershipTracker) Members(sessionID string) []model.Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := t.sessions[sessionID]
	out := make([]model.Identity, 0, len(members))
	for _, m := range members {
		out = append(out, m.identity)
	}
	return out
}

// VisibleMembers returns the joined identities excluding stealth observers,
// the membership view shown to clients and readers.
func (t *MembershipTracker) VisibleMembers(sessionID string) []model.Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members := t.sessions[sessionID]
	out := make([]model.Identity, 0, len(members))
	for _, m := range members {
		if !m.stealth {
			out = append(out, m.identity)
		}
	}
	return out
}

// ObserverCount returns the number of stealth members of a session.
func (t *MembershipTracker) ObserverCount(sessionID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, m := range t.sessions[sessionID] {
		if m.stealth {
			n++
		}
	}
	return n
}

// HasSession reports whether the session is present in the index.
func (t *MembershipTracker) HasSession(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[sessionID]
	return ok
}
