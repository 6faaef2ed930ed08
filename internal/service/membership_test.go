package service

import (
	"testing"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
)

func TestJoinThenLeaveRemovesMembership(t *testing.T) {
	tr := NewMembershipTracker()
	id := identity("u1", model.RoleClient)

	if was := tr.Join("s1", id, false); was {
		t.Fatal("first join must report wasMember=false")
	}
	if !tr.IsMember("s1", "u1") {
		t.Fatal("user should be a member after join")
	}

	if !tr.Leave("s1", "u1") {
		t.Fatal("leave of a member must report true")
	}
	if tr.IsMember("s1", "u1") {
		t.Fatal("user should not be a member after leave")
	}
	if tr.HasSession("s1") {
		t.Fatal("empty session must be removed from the index")
	}
}

func TestJoinIdempotent(t *testing.T) {
	tr := NewMembershipTracker()
	id := identity("u1", model.RoleClient)
	tr.Join("s1", id, false)

	if was := tr.Join("s1", id, false); !was {
		t.Fatal("re-join must report wasMember=true")
	}
	if got := len(tr.Members("s1")); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}
}

func TestDoubleLeaveTolerated(t *testing.T) {
	tr := NewMembershipTracker()
	tr.Join("s1", identity("u1", model.RoleClient), false)
	tr.Leave("s1", "u1")

	if tr.Leave("s1", "u1") {
		t.Fatal("second leave must report false")
	}
}

func TestStealthMemberHiddenFromVisibleView(t *testing.T) {
	tr := NewMembershipTracker()
	tr.Join("s1", identity("u1", model.RoleClient), false)
	tr.Join("s1", identity("mon", model.RoleMonitor), true)

	if got := len(tr.VisibleMembers("s1")); got != 1 {
		t.Fatalf("visible members = %d, want 1", got)
	}
	if got := len(tr.Members("s1")); got != 2 {
		t.Fatalf("broadcast audience = %d, want 2", got)
	}
	if got := tr.ObserverCount("s1"); got != 1 {
		t.Fatalf("observer count = %d, want 1", got)
	}
}

func TestRemoveUserClearsEverySession(t *testing.T) {
	tr := NewMembershipTracker()
	id := identity("u1", model.RoleMonitor)
	tr.Join("s1", id, false)
	tr.Join("s2", id, true)

	left := tr.RemoveUser("u1")
	if len(left) != 2 {
		t.Fatalf("expected 2 session leaves, got %d", len(left))
	}
	stealthBySession := map[string]bool{}
	for _, l := range left {
		stealthBySession[l.SessionID] = l.Stealth
	}
	if stealthBySession["s1"] || !stealthBySession["s2"] {
		t.Fatalf("stealth flags wrong: %v", stealthBySession)
	}
	if tr.HasSession("s1") || tr.HasSession("s2") {
		t.Fatal("both sessions should be gone from the index")
	}
	if got := tr.RemoveUser("u1"); len(got) != 0 {
		t.Fatalf("second remove must be empty, got %v", got)
	}
}
