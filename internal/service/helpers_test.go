package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/errs"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
)

// fakeClock is a virtual clock: Advance moves time forward and fires due
// timers, so expiry rules are tested without sleeping.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock and fires, in order, every timer now due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.when.After(c.now) {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = false
	t.when = t.clock.now.Add(d)
	return was
}

// memStore is an in-memory Store fake.
type memStore struct {
	mu          sync.Mutex
	sessions    map[string]*model.ChatSession
	messages    []*model.ChatMessage
	calls       map[string]*model.CallSession
	consents    []*model.ConsentRecord
	recordings  map[string]*model.Recording
	escalations map[string]*model.Escalation
	samples     []*model.QualitySample

	failInsertMessage bool
	failUpdateRec     bool
}

func newMemStore() *memStore {
	return &memStore{
		sessions:    make(map[string]*model.ChatSession),
		calls:       make(map[string]*model.CallSession),
		recordings:  make(map[string]*model.Recording),
		escalations: make(map[string]*model.Escalation),
	}
}

func (s *memStore) addSession(id string, participants ...model.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &model.ChatSession{
		ID:           id,
		Status:       model.ChatSessionActive,
		Participants: participants,
	}
}

func (s *memStore) GetChatSession(_ context.Context, id string) (*model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	out := *sess
	return &out, nil
}

func (s *memStore) TouchChatSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActivityAt = at
	}
	return nil
}

func (s *memStore) InsertMessage(_ context.Context, m *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsertMessage {
		return errors.New("db down")
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *memStore) GetMessage(_ context.Context, sessionID, messageID string) (*model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID && m.SessionID == sessionID {
			out := *m
			return &out, nil
		}
	}
	return nil, errs.ErrMessageNotFound
}

func (s *memStore) MarkMessagesRead(_ context.Context, sessionID, readerID string, upTo *time.Time, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.SessionID != sessionID || m.SenderID == readerID || m.Read {
			continue
		}
		if upTo != nil && m.CreatedAt.After(*upTo) {
			continue
		}
		m.Read = true
		readAt := at
		m.ReadAt = &readAt
		n++
	}
	return n, nil
}

func (s *memStore) InsertCall(_ context.Context, c *model.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.calls[c.ID] = &cp
	return nil
}

func (s *memStore) UpdateCall(_ context.Context, c *model.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.calls[c.ID] = &cp
	return nil
}

func (s *memStore) InsertConsent(_ context.Context, c *model.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.consents = append(s.consents, &cp)
	return nil
}

func (s *memStore) InsertRecording(_ context.Context, r *model.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.recordings[r.ID] = &cp
	return nil
}

func (s *memStore) UpdateRecording(_ context.Context, r *model.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdateRec {
		return errors.New("db down")
	}
	cp := *r
	s.recordings[r.ID] = &cp
	return nil
}

func (s *memStore) InsertEscalation(_ context.Context, e *model.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.escalations[e.ID] = &cp
	return nil
}

func (s *memStore) UpdateEscalation(_ context.Context, e *model.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.escalations[e.ID] = &cp
	return nil
}

func (s *memStore) InsertQualitySample(_ context.Context, q *model.QualitySample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.samples = append(s.samples, &cp)
	return nil
}

func (s *memStore) consentCount(callID string, typ model.ConsentType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.consents {
		if c.CallID == callID && c.Type == typ {
			n++
		}
	}
	return n
}

// connectPeer registers a fake connection for the identity and returns it.
func connectPeer(reg *ConnectionRegistry, id model.Identity, connID string) *Peer {
	p := &Peer{
		ConnID:   connID,
		Identity: id,
		Send:     make(chan []byte, 64),
	}
	return reg.Register(p)
}

// recvEvent pops the next frame from a peer's buffer, failing if none is queued.
func recvEvent(t *testing.T, p *Peer) model.Envelope {
	t.Helper()
	select {
	case raw := <-p.Send:
		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return env
	default:
		t.Fatalf("no frame queued for %s", p.Identity.UserID)
		return model.Envelope{}
	}
}

// drain empties a peer's buffer and returns the event names seen.
func drain(p *Peer) []string {
	var out []string
	for {
		select {
		case raw := <-p.Send:
			var env model.Envelope
			_ = json.Unmarshal(raw, &env)
			out = append(out, env.Event)
		default:
			return out
		}
	}
}

func testLogger() *zap.Logger { return zap.NewNop() }

func identity(userID string, role model.Role) model.Identity {
	return model.Identity{UserID: userID, Role: role, DisplayName: userID}
}
