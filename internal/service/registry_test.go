package service

import (
	"testing"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())
	id := identity("u1", model.RoleClient)

	first := connectPeer(reg, id, "c1")
	again := reg.Register(&Peer{ConnID: "c1", Identity: id, Send: make(chan []byte, 1)})

	if first != again {
		t.Fatal("re-registering the same (user, conn) pair must return the existing peer")
	}
	if got := len(reg.ConnectionsOf("u1")); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}
}

func TestDeregisterLastConnection(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())
	id := identity("u1", model.RoleClient)
	connectPeer(reg, id, "c1")
	connectPeer(reg, id, "c2")

	last, ok := reg.Deregister("u1", "c1")
	if !ok || last {
		t.Fatalf("first deregister: got last=%v ok=%v, want last=false ok=true", last, ok)
	}
	if !reg.IsOnline("u1") {
		t.Fatal("user should still be online with one connection left")
	}

	last, ok = reg.Deregister("u1", "c2")
	if !ok || !last {
		t.Fatalf("second deregister: got last=%v ok=%v, want last=true ok=true", last, ok)
	}
	if reg.IsOnline("u1") {
		t.Fatal("user should be offline after the last connection closed")
	}
}

func TestDeregisterDuplicateTolerated(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())
	connectPeer(reg, identity("u1", model.RoleClient), "c1")
	reg.Deregister("u1", "c1")

	last, ok := reg.Deregister("u1", "c1")
	if last || ok {
		t.Fatalf("duplicate deregister: got last=%v ok=%v, want both false", last, ok)
	}
}

func TestSendToUserReachesEveryConnection(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())
	id := identity("u1", model.RoleClient)
	p1 := connectPeer(reg, id, "c1")
	p2 := connectPeer(reg, id, "c2")

	reg.SendToUser("u1", []byte(`{"event":"ping"}`))

	if env := recvEvent(t, p1); env.Event != "ping" {
		t.Fatalf("p1 got %q", env.Event)
	}
	if env := recvEvent(t, p2); env.Event != "ping" {
		t.Fatalf("p2 got %q", env.Event)
	}
}

func TestSendToUserDropsWhenBufferFull(t *testing.T) {
	reg := NewConnectionRegistry(testLogger())
	p := &Peer{ConnID: "c1", Identity: identity("u1", model.RoleClient), Send: make(chan []byte, 1)}
	reg.Register(p)

	reg.SendToUser("u1", []byte(`{"event":"a"}`))
	reg.SendToUser("u1", []byte(`{"event":"b"}`)) // must not block

	if env := recvEvent(t, p); env.Event != "a" {
		t.Fatalf("got %q, want the first frame kept", env.Event)
	}
	if got := drain(p); len(got) != 0 {
		t.Fatalf("overflow frame should be dropped, got %v", got)
	}
}
