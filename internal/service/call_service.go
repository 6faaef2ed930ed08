package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/errs"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/store"
)

// CallConfig holds the policy knobs of the call coordination core.
type CallConfig struct {
	LowTimeThreshold     time.Duration // extensions allowed only below this remaining time
	ExtensionMinInterval time.Duration
	MaxExtensionMinutes  int
	MaxObservers         int
}

type consentKey struct {
	userID string
	typ    model.ConsentType
}

// call is the in-memory state of one live call session. All fields are
// guarded by mu; the timer callback and handlers contend for it.
type call struct {
	mu sync.Mutex

	sess             model.CallSession
	mediaReady       map[string]bool // userID -> media exchange confirmed
	consents         map[consentKey]bool
	observers        map[string]model.Identity
	timer            Timer
	deadline         time.Time
	lastExtensionReq time.Time
	escalations      map[string]*model.Escalation
}

// CallService owns per-call lifecycle: the ringing/connecting/active/ended
// state machine, consent bookkeeping, observers, and the emergency extension
// workflow. Recording and quality monitoring attach through the hooks below.
type CallService struct {
	mu    sync.RWMutex
	calls map[string]*call

	store    store.Store
	registry *ConnectionRegistry
	clock    Clock
	cfg      CallConfig
	log      *zap.Logger

	// Lifecycle hooks, set during wiring before any call exists: onActive
	// attaches the quality monitor, onEnded stops recording and releases it.
	onActive []func(callID string, participantIDs ...string)
	onEnded  []func(callID string)
}

// NewCallService creates the call coordination core.
func NewCallService(st store.Store, registry *ConnectionRegistry, clock Clock, cfg CallConfig, log *zap.Logger) *CallService {
	return &CallService{
		calls:    make(map[string]*call),
		store:    st,
		registry: registry,
		clock:    clock,
		cfg:      cfg,
		log:      log,
	}
}

// OnActive registers a hook to run when any call goes Active.
func (s *CallService) OnActive(f func(callID string, participantIDs ...string)) {
	s.onActive = append(s.onActive, f)
}

// OnEnded registers a hook to run when any call ends.
func (s *CallService) OnEnded(f func(callID string)) {
	s.onEnded = append(s.onEnded, f)
}

// Create builds a call session and transitions it Initializing -> Connecting.
// Emergency calls are recording-enabled by policy; the client cannot override
// that flag for them. The reader implicitly consents to recording by
// accepting the session, so an implicit consent record is logged up front.
func (s *CallService) Create(ctx context.Context, req model.CreateCallRequest, createdBy model.Identity) (*model.CallSession, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown call kind %q", errs.ErrValidationFailed, req.Kind)
	}
	if req.ScheduledMinutes <= 0 {
		return nil, fmt.Errorf("%w: scheduled_minutes must be positive", errs.ErrValidationFailed)
	}
	if createdBy.Role != model.RoleAdmin &&
		createdBy.UserID != req.ClientID && createdBy.UserID != req.ReaderID {
		return nil, errs.ErrAccessDenied
	}

	recordingEnabled := req.RecordingEnabled
	if req.Emergency {
		recordingEnabled = true
	}

	now := s.clock.Now()
	sess := model.CallSession{
		ID:               uuid.New().String(),
		ChatSessionID:    req.ChatSessionID,
		ClientID:         req.ClientID,
		ReaderID:         req.ReaderID,
		Kind:             req.Kind,
		State:            model.CallInitializing,
		ScheduledSeconds: req.ScheduledMinutes * 60,
		Emergency:        req.Emergency,
		RecordingEnabled: recordingEnabled,
		CreatedAt:        now,
	}
	sess.RemainingSeconds = sess.ScheduledSeconds

	if err := s.store.InsertCall(ctx, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstreamFailure, err)
	}

	sess.State = model.CallConnecting
	c := &call{
		sess:        sess,
		mediaReady:  make(map[string]bool),
		consents:    make(map[consentKey]bool),
		observers:   make(map[string]model.Identity),
		escalations: make(map[string]*model.Escalation),
	}
	c.consents[consentKey{userID: req.ReaderID, typ: model.ConsentRecording}] = true

	s.mu.Lock()
	s.calls[sess.ID] = c
	s.mu.Unlock()

	s.persistCallAsync(&sess)
	s.persistConsentAsync(&model.ConsentRecord{
		ID:         uuid.New().String(),
		CallID:     sess.ID,
		UserID:     req.ReaderID,
		Type:       model.ConsentRecording,
		Granted:    true,
		RemoteAddr: "implicit",
		CreatedAt:  now,
	})

	s.log.Info("call created",
		zap.String("call_id", sess.ID),
		zap.String("kind", string(sess.Kind)),
		zap.Bool("emergency", sess.Emergency))

	out := sess
	return &out, nil
}

// Consent appends a consent record for the identity. The in-memory view keeps
// only the latest grant per (identity, type); the persisted log is append-only.
func (s *CallService) Consent(ctx context.Context, callID string, identity model.Identity, typ model.ConsentType, granted bool, remoteAddr string) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown consent type %q", errs.ErrValidationFailed, typ)
	}
	c, err := s.get(callID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.sess.State == model.CallEnded {
		c.mu.Unlock()
		return errs.ErrCallEnded
	}
	if identity.UserID != c.sess.ClientID && identity.UserID != c.sess.ReaderID {
		c.mu.Unlock()
		return errs.ErrAccessDenied
	}
	c.consents[consentKey{userID: identity.UserID, typ: typ}] = granted
	c.mu.Unlock()

	rec := &model.ConsentRecord{
		ID:         uuid.New().String(),
		CallID:     callID,
		UserID:     identity.UserID,
		Type:       typ,
		Granted:    granted,
		RemoteAddr: remoteAddr,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.store.InsertConsent(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUpstreamFailure, err)
	}
	return nil
}

// HasRecordingConsent reports whether every required participant has a
// granted recording consent. Emergency calls are pre-authorized by policy.
func (s *CallService) HasRecordingConsent(callID string) (bool, error) {
	c, err := s.get(callID)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.Emergency {
		return true, nil
	}
	client := c.consents[consentKey{userID: c.sess.ClientID, typ: model.ConsentRecording}]
	reader := c.consents[consentKey{userID: c.sess.ReaderID, typ: model.ConsentRecording}]
	return client && reader, nil
}

// MediaReady records a successful media exchange confirmation. The call goes
// Active on the first confirmation from both required participants; observers
// are non-blocking and their confirmations are ignored.
func (s *CallService) MediaReady(callID string, identity model.Identity) error {
	c, err := s.get(callID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	switch c.sess.State {
	case model.CallEnded:
		c.mu.Unlock()
		return errs.ErrCallEnded
	case model.CallActive:
		c.mu.Unlock()
		return nil
	}
	if identity.UserID != c.sess.ClientID && identity.UserID != c.sess.ReaderID {
		if _, ok := c.observers[identity.UserID]; ok || identity.Role.Privileged() {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		return errs.ErrAccessDenied
	}
	c.mediaReady[identity.UserID] = true
	bothReady := c.mediaReady[c.sess.ClientID] && c.mediaReady[c.sess.ReaderID]
	if !bothReady {
		c.mu.Unlock()
		return nil
	}

	now := s.clock.Now()
	c.sess.State = model.CallActive
	c.sess.StartedAt = &now
	c.deadline = now.Add(time.Duration(c.sess.ScheduledSeconds) * time.Second)
	c.sess.RemainingSeconds = c.sess.ScheduledSeconds
	callID = c.sess.ID
	c.timer = s.clock.AfterFunc(time.Duration(c.sess.ScheduledSeconds)*time.Second, func() {
		s.onDeadline(callID)
	})
	snapshot := c.sess
	c.mu.Unlock()

	s.persistCallAsync(&snapshot)
	s.broadcastCall(c, model.NewEnvelope(model.EventCallState, model.CallStateEvent{
		CallID:           snapshot.ID,
		State:            snapshot.State,
		RemainingSeconds: snapshot.RemainingSeconds,
	}))
	for _, hook := range s.onActive {
		hook(snapshot.ID, snapshot.ClientID, snapshot.ReaderID)
	}
	s.log.Info("call active", zap.String("call_id", snapshot.ID))
	return nil
}

// End transitions the call to Ended on behalf of an authorized participant.
// The client, the reader, or an admin may end a call; observers may not.
func (s *CallService) End(callID string, identity model.Identity) error {
	c, err := s.get(callID)
	if err != nil {
		return err
	}
	if identity.UserID != "" {
		c.mu.Lock()
		allowed := identity.UserID == c.sess.ClientID ||
			identity.UserID == c.sess.ReaderID ||
			identity.Role == model.RoleAdmin
		c.mu.Unlock()
		if !allowed {
			return errs.ErrAccessDenied
		}
	}
	return s.end(c, "ended by "+identity.UserID, false)
}

// onDeadline fires when the scheduled duration elapses with no extension
// having moved the deadline.
func (s *CallService) onDeadline(callID string) {
	c, err := s.get(callID)
	if err != nil {
		return
	}
	_ = s.end(c, "scheduled duration elapsed", true)
}

// end performs the Ended transition exactly once and runs the side effects:
// recording stop and quality release through the hooks, final duration to the
// storage collaborator, observer removal with no notification.
func (s *CallService) end(c *call, reason string, timerDriven bool) error {
	c.mu.Lock()
	if c.sess.State == model.CallEnded {
		c.mu.Unlock()
		return errs.ErrCallEnded
	}
	// A granted extension can move the deadline between the timer firing and
	// this transition; a stale firing must not end the call.
	if timerDriven && s.clock.Now().Before(c.deadline) {
		c.mu.Unlock()
		return nil
	}
	now := s.clock.Now()
	c.sess.State = model.CallEnded
	c.sess.EndedAt = &now
	if c.sess.StartedAt != nil {
		c.sess.ConsumedSeconds = int(now.Sub(*c.sess.StartedAt) / time.Second)
	}
	c.sess.RemainingSeconds = 0
	if c.timer != nil {
		c.timer.Stop()
	}
	c.observers = make(map[string]model.Identity)
	snapshot := c.sess
	c.mu.Unlock()

	payload := model.NewEnvelope(model.EventCallState, model.CallStateEvent{
		CallID: snapshot.ID,
		State:  model.CallEnded,
	})
	s.registry.SendToUser(snapshot.ClientID, payload)
	s.registry.SendToUser(snapshot.ReaderID, payload)

	for _, hook := range s.onEnded {
		hook(snapshot.ID)
	}
	s.persistCallAsync(&snapshot)

	s.mu.Lock()
	delete(s.calls, snapshot.ID)
	s.mu.Unlock()

	s.log.Info("call ended",
		zap.String("call_id", snapshot.ID),
		zap.String("reason", reason),
		zap.Int("consumed_seconds", snapshot.ConsumedSeconds))
	return nil
}

// RequestExtension starts the emergency time-extension workflow. Only the
// client may request, only while the call is Active, only when remaining time
// is below the low-time threshold, and not more often than the configured
// minimum interval. Each request is its own Escalation for audit.
func (s *CallService) RequestExtension(ctx context.Context, callID string, identity model.Identity, minutes int, reason string) (*model.Escalation, error) {
	if minutes <= 0 || (s.cfg.MaxExtensionMinutes > 0 && minutes > s.cfg.MaxExtensionMinutes) {
		return nil, fmt.Errorf("%w: additional_minutes out of range", errs.ErrValidationFailed)
	}
	c, err := s.get(callID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	c.mu.Lock()
	if c.sess.State == model.CallEnded {
		c.mu.Unlock()
		return nil, errs.ErrCallEnded
	}
	if identity.UserID != c.sess.ClientID || identity.Role != model.RoleClient {
		c.mu.Unlock()
		return nil, errs.ErrAccessDenied
	}
	if c.sess.State != model.CallActive {
		c.mu.Unlock()
		return nil, errs.ErrExtensionNotAllowed
	}
	remaining := c.deadline.Sub(now)
	if remaining >= s.cfg.LowTimeThreshold {
		c.mu.Unlock()
		return nil, errs.ErrExtensionNotAllowed
	}
	if !c.lastExtensionReq.IsZero() && now.Sub(c.lastExtensionReq) < s.cfg.ExtensionMinInterval {
		c.mu.Unlock()
		return nil, errs.ErrExtensionNotAllowed
	}
	c.lastExtensionReq = now
	esc := &model.Escalation{
		ID:                uuid.New().String(),
		CallID:            callID,
		RequestedBy:       identity.UserID,
		Reason:            reason,
		AdditionalMinutes: minutes,
		Status:            model.EscalationPending,
		CreatedAt:         now,
	}
	c.escalations[esc.ID] = esc
	c.mu.Unlock()

	if err := s.store.InsertEscalation(ctx, esc); err != nil {
		return esc, fmt.Errorf("%w: %v", errs.ErrUpstreamFailure, err)
	}
	s.broadcastCall(c, model.NewEnvelope(model.EventExtensionUpdate, model.ExtensionUpdateEvent{
		CallID:            callID,
		EscalationID:      esc.ID,
		Status:            esc.Status,
		AdditionalMinutes: esc.AdditionalMinutes,
		RemainingSeconds:  int(remaining / time.Second),
	}))
	s.log.Info("extension requested",
		zap.String("call_id", callID),
		zap.String("escalation_id", esc.ID),
		zap.Int("additional_minutes", minutes))
	return esc, nil
}

// ResolveExtension grants or denies a pending escalation. The reader of the
// call or an admin decides. Granting moves the deadline, re-arms the timer,
// and logs a participation consent record scoped to the extended period.
func (s *CallService) ResolveExtension(ctx context.Context, callID, escalationID string, resolver model.Identity, approve bool) (*model.Escalation, error) {
	c, err := s.get(callID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	c.mu.Lock()
	if c.sess.State == model.CallEnded {
		c.mu.Unlock()
		return nil, errs.ErrCallEnded
	}
	if resolver.UserID != c.sess.ReaderID && resolver.Role != model.RoleAdmin {
		c.mu.Unlock()
		return nil, errs.ErrAccessDenied
	}
	esc, ok := c.escalations[escalationID]
	if !ok {
		c.mu.Unlock()
		return nil, errs.ErrExtensionNotAllowed
	}
	if esc.Status != model.EscalationPending {
		c.mu.Unlock()
		return nil, errs.ErrExtensionNotAllowed
	}
	esc.ResolvedAt = &now
	var remaining time.Duration
	if approve {
		esc.Status = model.EscalationGranted
		extra := time.Duration(esc.AdditionalMinutes) * time.Minute
		c.deadline = c.deadline.Add(extra)
		c.sess.ScheduledSeconds += esc.AdditionalMinutes * 60
		remaining = c.deadline.Sub(now)
		c.sess.RemainingSeconds = int(remaining / time.Second)
		if c.timer != nil {
			c.timer.Reset(remaining)
		}
	} else {
		esc.Status = model.EscalationDenied
		remaining = c.deadline.Sub(now)
	}
	escOut := *esc
	clientID := c.sess.ClientID
	snapshot := c.sess
	c.mu.Unlock()

	if err := s.store.UpdateEscalation(ctx, &escOut); err != nil {
		s.log.Error("escalation persist failed", zap.String("escalation_id", escalationID), zap.Error(err))
	}
	if approve {
		s.persistCallAsync(&snapshot)
		// Extensions carry their own accountability trail distinct from the
		// original consent.
		s.persistConsentAsync(&model.ConsentRecord{
			ID:        uuid.New().String(),
			CallID:    callID,
			UserID:    clientID,
			Type:      model.ConsentParticipation,
			Granted:   true,
			CreatedAt: now,
		})
	}
	s.broadcastCall(c, model.NewEnvelope(model.EventExtensionUpdate, model.ExtensionUpdateEvent{
		CallID:            callID,
		EscalationID:      escOut.ID,
		Status:            escOut.Status,
		AdditionalMinutes: escOut.AdditionalMinutes,
		RemainingSeconds:  int(remaining / time.Second),
	}))
	s.log.Info("extension resolved",
		zap.String("call_id", callID),
		zap.String("escalation_id", escalationID),
		zap.String("status", string(escOut.Status)))
	return &escOut, nil
}

// ObserverJoin inserts a privileged identity as a silent call observer. It
// receives the same broadcast stream as participants but is invisible to them.
func (s *CallService) ObserverJoin(callID string, identity model.Identity) error {
	if !identity.Role.Privileged() {
		return errs.ErrAccessDenied
	}
	c, err := s.get(callID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.State == model.CallEnded {
		return errs.ErrCallEnded
	}
	if _, ok := c.observers[identity.UserID]; !ok &&
		s.cfg.MaxObservers > 0 && len(c.observers) >= s.cfg.MaxObservers {
		return errs.ErrTooManyObservers
	}
	c.observers[identity.UserID] = identity
	s.log.Info("call observer joined",
		zap.String("call_id", callID),
		zap.String("user_id", identity.UserID))
	return nil
}

// ObserverLeave removes a silent observer with no notification to anyone.
func (s *CallService) ObserverLeave(callID string, identity model.Identity) {
	c, err := s.get(callID)
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.observers, identity.UserID)
	c.mu.Unlock()
}

// Get returns a snapshot of the call for a participant, observer, or
// privileged identity.
func (s *CallService) Get(callID string, requester model.Identity) (*model.CallSession, error) {
	c, err := s.get(callID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, isObserver := c.observers[requester.UserID]
	if requester.UserID != c.sess.ClientID && requester.UserID != c.sess.ReaderID &&
		!isObserver && !requester.Role.Privileged() {
		return nil, errs.ErrAccessDenied
	}
	out := c.sess
	if out.State == model.CallActive {
		out.RemainingSeconds = int(c.deadline.Sub(s.clock.Now()) / time.Second)
		if out.RemainingSeconds < 0 {
			out.RemainingSeconds = 0
		}
	}
	return &out, nil
}

// Participants returns the required participants of a live call.
func (s *CallService) Participants(callID string) (clientID, readerID string, err error) {
	c, err := s.get(callID)
	if err != nil {
		return "", "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.ClientID, c.sess.ReaderID, nil
}

// IsParty reports whether the identity is a participant or observer of the call.
func (s *CallService) IsParty(callID, userID string) bool {
	c, err := s.get(callID)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if userID == c.sess.ClientID || userID == c.sess.ReaderID {
		return true
	}
	_, ok := c.observers[userID]
	return ok
}

// HandleDisconnect ends any active call whose required participants are both
// offline, and silently drops disconnected observers.
func (s *CallService) HandleDisconnect(identity model.Identity) {
	s.mu.RLock()
	active := make([]*call, 0, len(s.calls))
	for _, c := range s.calls {
		active = append(active, c)
	}
	s.mu.RUnlock()

	for _, c := range active {
		c.mu.Lock()
		_, isObserver := c.observers[identity.UserID]
		if isObserver {
			delete(c.observers, identity.UserID)
			c.mu.Unlock()
			continue
		}
		isParty := identity.UserID == c.sess.ClientID || identity.UserID == c.sess.ReaderID
		clientID, readerID := c.sess.ClientID, c.sess.ReaderID
		state := c.sess.State
		c.mu.Unlock()

		if !isParty || state == model.CallEnded {
			continue
		}
		if !s.registry.IsOnline(clientID) && !s.registry.IsOnline(readerID) {
			_ = s.end(c, "both participants disconnected", false)
		}
	}
}

// Broadcast sends a payload to every party of the call, observers included.
func (s *CallService) Broadcast(callID string, payload []byte) {
	c, err := s.get(callID)
	if err != nil {
		return
	}
	s.broadcastCall(c, payload)
}

func (s *CallService) broadcastCall(c *call, payload []byte) {
	c.mu.Lock()
	targets := []string{c.sess.ClientID, c.sess.ReaderID}
	for userID := range c.observers {
		targets = append(targets, userID)
	}
	c.mu.Unlock()
	for _, userID := range targets {
		s.registry.SendToUser(userID, payload)
	}
}

func (s *CallService) get(callID string) (*call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[callID]
	if !ok {
		return nil, errs.ErrCallNotFound
	}
	return c, nil
}

// persistCallAsync writes the call snapshot without blocking the pipeline;
// the broadcast side is acknowledged before the durable write completes.
func (s *CallService) persistCallAsync(sess *model.CallSession) {
	snapshot := *sess
	go func() {
		if err := s.store.UpdateCall(context.Background(), &snapshot); err != nil {
			s.log.Error("call persist failed", zap.String("call_id", snapshot.ID), zap.Error(err))
		}
	}()
}

func (s *CallService) persistConsentAsync(rec *model.ConsentRecord) {
	snapshot := *rec
	go func() {
		if err := s.store.InsertConsent(context.Background(), &snapshot); err != nil {
			s.log.Error("consent persist failed", zap.String("call_id", snapshot.CallID), zap.Error(err))
		}
	}()
}
