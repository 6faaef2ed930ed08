package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/errs"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/store"
)

// ChatService is the coordination core for chat sessions: membership,
// presence, typing and the message pipeline. One instance per process, owned
// by the application and injected into handlers; nothing mutates its indices
// from outside its contract.
type ChatService struct {
	registry     *ConnectionRegistry
	members      *MembershipTracker
	typing       *TypingCoordinator
	store        store.Store
	clock        Clock
	log          *zap.Logger
	maxObservers int

	pipeMu sync.Mutex
	pipes  map[string]*sync.Mutex // per-session linear pipeline
}

// NewChatService wires the chat coordination core. typingExpiry bounds how
// long a typing signal lives without a refresh.
func NewChatService(registry *ConnectionRegistry, st store.Store, clock Clock, typingExpiry time.Duration, maxObservers int, log *zap.Logger) *ChatService {
	s := &ChatService{
		registry:     registry,
		members:      NewMembershipTracker(),
		store:        st,
		clock:        clock,
		log:          log,
		maxObservers: maxObservers,
		pipes:        make(map[string]*sync.Mutex),
	}
	// Expiry without an explicit stop emits the same event as an explicit
	// stop, so downstream consumers cannot tell the two paths apart.
	s.typing = NewTypingCoordinator(clock, typingExpiry, func(sessionID, userID string) {
		s.broadcast(sessionID, userID, model.NewEnvelope(model.EventUserStoppedTyping, model.TypingEvent{
			SessionID: sessionID,
			UserID:    userID,
		}))
	})
	return s
}

// Members exposes the membership tracker to sibling services (call
// coordination reuses it for observer bookkeeping).
func (s *ChatService) Members() *MembershipTracker { return s.members }

// Join adds the identity to the session after an authorization check against
// the stored participant list. Unauthorized joins fail with AccessDenied and
// produce no side effects.
func (s *ChatService) Join(ctx context.Context, sessionID string, identity model.Identity) (*model.SessionJoinedEvent, error) {
	sess, err := s.store.GetChatSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.ChatSessionActive {
		return nil, errs.ErrSessionNotFound
	}
	if !authorized(sess, identity) {
		return nil, errs.ErrAccessDenied
	}

	wasMember := s.members.Join(sessionID, identity, false)
	if !wasMember {
		s.broadcast(sessionID, identity.UserID, model.NewEnvelope(model.EventUserJoined, model.UserJoinedEvent{
			SessionID: sessionID,
			UserID:    identity.UserID,
			Role:      identity.Role,
			Name:      identity.DisplayName,
			JoinedAt:  s.clock.Now(),
		}))
		s.log.Info("session joined",
			zap.String("session_id", sessionID),
			zap.String("user_id", identity.UserID))
	}

	return &model.SessionJoinedEvent{
		SessionID: sessionID,
		Members:   s.onlineFor(sessionID, identity),
	}, nil
}

// Leave removes the identity from the session and notifies the remaining
// members. Double leave is a tolerated no-op.
func (s *ChatService) Leave(sessionID string, identity model.Identity) {
	if s.typing.Stop(sessionID, identity.UserID) {
		s.broadcast(sessionID, identity.UserID, model.NewEnvelope(model.EventUserStoppedTyping, model.TypingEvent{
			SessionID: sessionID,
			UserID:    identity.UserID,
		}))
	}
	if !s.members.Leave(sessionID, identity.UserID) {
		return
	}
	s.dropPipeIfGone(sessionID)
	s.broadcast(sessionID, identity.UserID, model.NewEnvelope(model.EventUserLeft, model.UserLeftEvent{
		SessionID: sessionID,
		UserID:    identity.UserID,
	}))
	s.log.Info("session left",
		zap.String("session_id", sessionID),
		zap.String("user_id", identity.UserID))
}

// ObserverJoin inserts a privileged identity as a stealth member: it receives
// the full broadcast stream but never appears in visible membership, and its
// arrival is not announced.
func (s *ChatService) ObserverJoin(ctx context.Context, sessionID string, identity model.Identity) error {
	if !identity.Role.Privileged() {
		return errs.ErrAccessDenied
	}
	sess, err := s.store.GetChatSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != model.ChatSessionActive {
		return errs.ErrSessionNotFound
	}
	if !s.members.IsMember(sessionID, identity.UserID) &&
		s.maxObservers > 0 && s.members.ObserverCount(sessionID) >= s.maxObservers {
		return errs.ErrTooManyObservers
	}
	s.members.Join(sessionID, identity, true)
	s.log.Info("observer joined",
		zap.String("session_id", sessionID),
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)))
	return nil
}

// ObserverLeave removes a stealth member without any notification.
func (s *ChatService) ObserverLeave(sessionID string, identity model.Identity) {
	if s.members.Leave(sessionID, identity.UserID) {
		s.dropPipeIfGone(sessionID)
		s.log.Info("observer left",
			zap.String("session_id", sessionID),
			zap.String("user_id", identity.UserID))
	}
}

// Send validates, persists and fans out a chat message. The stored record is
// broadcast to every current member including the sender, so the sender's
// client reflects the authoritative copy rather than its optimistic one.
// When the durable write fails the broadcast still happens (at-least-once)
// and the error tells the caller to retry.
func (s *ChatService) Send(ctx context.Context, sessionID string, sender model.Identity, kind model.MessageKind, content, replyTo string) (*model.ChatMessage, error) {
	if !s.members.IsMember(sessionID, sender.UserID) {
		return nil, errs.ErrAccessDenied
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", errs.ErrValidationFailed, kind)
	}
	if kind == model.MessageText && strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty text message", errs.ErrValidationFailed)
	}

	pipe := s.pipe(sessionID)
	pipe.Lock()
	defer pipe.Unlock()

	now := s.clock.Now()
	msg := &model.ChatMessage{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		SenderID:    sender.UserID,
		SenderName:  sender.DisplayName,
		Kind:        kind,
		Content:     content,
		ReplyTo:     replyTo,
		Delivered:   true,
		DeliveredAt: &now,
		CreatedAt:   now,
	}

	persistErr := s.store.InsertMessage(ctx, msg)
	if persistErr != nil {
		s.log.Error("message persist failed",
			zap.String("session_id", sessionID),
			zap.String("message_id", msg.ID),
			zap.Error(persistErr))
	}

	s.broadcast(sessionID, "", model.NewEnvelope(model.EventNewMessage, msg))

	go func() {
		if err := s.store.TouchChatSession(context.Background(), sessionID, now); err != nil {
			s.log.Warn("last-activity update failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()

	if persistErr != nil {
		return msg, fmt.Errorf("%w: %v", errs.ErrUpstreamFailure, persistErr)
	}
	return msg, nil
}

// MarkRead marks messages authored by others, up to the given message's
// creation time (or all when unbounded), as read. Monotonic: a repeat call
// reports zero transitions and broadcasts nothing. The returned receipt is
// the same event the other members receive, timestamp included.
func (s *ChatService) MarkRead(ctx context.Context, sessionID string, reader model.Identity, upToMessageID string) (*model.MessagesReadEvent, error) {
	if !s.members.IsMember(sessionID, reader.UserID) {
		return nil, errs.ErrAccessDenied
	}
	var upTo *time.Time
	if upToMessageID != "" {
		bound, err := s.store.GetMessage(ctx, sessionID, upToMessageID)
		if err != nil {
			return nil, err
		}
		t := bound.CreatedAt
		upTo = &t
	}

	pipe := s.pipe(sessionID)
	pipe.Lock()
	defer pipe.Unlock()

	now := s.clock.Now()
	count, err := s.store.MarkMessagesRead(ctx, sessionID, reader.UserID, upTo, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstreamFailure, err)
	}
	receipt := &model.MessagesReadEvent{
		SessionID:     sessionID,
		ReaderID:      reader.UserID,
		ReadCount:     int(count),
		UpToMessageID: upToMessageID,
		ReadAt:        now,
	}
	if count > 0 {
		s.broadcast(sessionID, reader.UserID, model.NewEnvelope(model.EventMessagesRead, receipt))
	}
	return receipt, nil
}

// StartTyping signals typing; only a fresh start is broadcast, refreshes just
// re-arm the expiry timer.
func (s *ChatService) StartTyping(sessionID string, identity model.Identity) {
	if !s.members.IsMember(sessionID, identity.UserID) {
		return
	}
	if s.typing.Start(sessionID, identity.UserID) {
		s.broadcast(sessionID, identity.UserID, model.NewEnvelope(model.EventUserTyping, model.TypingEvent{
			SessionID: sessionID,
			UserID:    identity.UserID,
		}))
	}
}

// StopTyping clears the typing signal; a duplicate stop broadcasts nothing.
func (s *ChatService) StopTyping(sessionID string, identity model.Identity) {
	if s.typing.Stop(sessionID, identity.UserID) {
		s.broadcast(sessionID, identity.UserID, model.NewEnvelope(model.EventUserStoppedTyping, model.TypingEvent{
			SessionID: sessionID,
			UserID:    identity.UserID,
		}))
	}
}

// OnlineMembers returns the current presence snapshot. Stealth observers are
// visible only to privileged requesters.
func (s *ChatService) OnlineMembers(sessionID string, requester model.Identity) ([]model.Participant, error) {
	if !s.members.IsMember(sessionID, requester.UserID) {
		return nil, errs.ErrAccessDenied
	}
	return s.onlineFor(sessionID, requester), nil
}

// HandleDisconnect runs membership and typing cleanup after an identity's
// last connection closed. This is the only path by which "went offline" is
// detected.
func (s *ChatService) HandleDisconnect(identity model.Identity) {
	for _, sessionID := range s.typing.RemoveUser(identity.UserID) {
		s.broadcast(sessionID, identity.UserID, model.NewEnvelope(model.EventUserStoppedTyping, model.TypingEvent{
			SessionID: sessionID,
			UserID:    identity.UserID,
		}))
	}
	for _, left := range s.members.RemoveUser(identity.UserID) {
		s.dropPipeIfGone(left.SessionID)
		if left.Stealth {
			continue
		}
		s.broadcast(left.SessionID, identity.UserID, model.NewEnvelope(model.EventUserLeft, model.UserLeftEvent{
			SessionID: left.SessionID,
			UserID:    identity.UserID,
		}))
	}
	s.log.Info("disconnect cleanup done", zap.String("user_id", identity.UserID))
}

// broadcast fans a payload out to every member of a session, stealth
// observers included, skipping exclude (empty means nobody is skipped).
func (s *ChatService) broadcast(sessionID, exclude string, payload []byte) {
	for _, m := range s.members.Members(sessionID) {
		if m.UserID == exclude {
			continue
		}
		s.registry.SendToUser(m.UserID, payload)
	}
}

func (s *ChatService) onlineFor(sessionID string, requester model.Identity) []model.Participant {
	var ids []model.Identity
	if requester.Role.Privileged() {
		ids = s.members.Members(sessionID)
	} else {
		ids = s.members.VisibleMembers(sessionID)
	}
	out := make([]model.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Participant{UserID: id.UserID, Role: id.Role, DisplayName: id.DisplayName})
	}
	return out
}

func (s *ChatService) pipe(sessionID string) *sync.Mutex {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	m, ok := s.pipes[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.pipes[sessionID] = m
	}
	return m
}

func (s *ChatService) dropPipeIfGone(sessionID string) {
	if s.members.HasSession(sessionID) {
		return
	}
	s.pipeMu.Lock()
	delete(s.pipes, sessionID)
	s.pipeMu.Unlock()
}

func authorized(sess *model.ChatSession, identity model.Identity) bool {
	for _, p := range sess.Participants {
		if p.UserID == identity.UserID {
			return true
		}
	}
	return false
}
