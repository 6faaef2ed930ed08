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
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/objectstore"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/store"
)

type recState struct {
	rec          model.Recording
	segmentStart time.Time // entry into the recording status; zero while paused

	// Required participants, captured at start: finalization can outlive the
	// call itself, so authorization cannot lean on the live call index.
	clientID string
	readerID string
}

// RecordingController gates recording start on collected consent and owns the
// recording lifecycle: recording <-> paused, stop -> uploading, and the
// handoff to the object-store collaborator. Captured duration accumulates
// only time spent in the recording status.
type RecordingController struct {
	mu   sync.Mutex
	recs map[string]*recState // callID -> live recording

	store    store.Store
	uploader objectstore.Uploader
	calls    *CallService
	clock    Clock
	log      *zap.Logger
}

// NewRecordingController wires the controller and registers the call-ended
// hook that moves an in-progress recording to processing instead of failed.
func NewRecordingController(st store.Store, uploader objectstore.Uploader, calls *CallService, clock Clock, log *zap.Logger) *RecordingController {
	rc := &RecordingController{
		recs:     make(map[string]*recState),
		store:    st,
		uploader: uploader,
		calls:    calls,
		clock:    clock,
		log:      log,
	}
	calls.OnEnded(rc.onCallEnded)
	return rc
}

// Start begins recording the call. Requires a granted recording consent from
// every required participant, except for emergency calls which are
// pre-authorized by policy.
func (rc *RecordingController) Start(ctx context.Context, callID string, requestedBy model.Identity) (*model.Recording, error) {
	call, err := rc.calls.Get(callID, requestedBy)
	if err != nil {
		return nil, err
	}
	if call.State != model.CallActive {
		return nil, errs.ErrCallEnded
	}
	if !call.RecordingEnabled {
		return nil, fmt.Errorf("%w: recording not enabled for this call", errs.ErrValidationFailed)
	}
	if requestedBy.Role == model.RoleMonitor {
		return nil, errs.ErrAccessDenied
	}
	ok, err := rc.calls.HasRecordingConsent(callID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrConsentMissing
	}

	rc.mu.Lock()
	if st, exists := rc.recs[callID]; exists &&
		(st.rec.Status == model.RecordingRecording || st.rec.Status == model.RecordingPaused) {
		rc.mu.Unlock()
		return nil, errs.ErrRecordingActive
	}
	now := rc.clock.Now()
	st := &recState{
		rec: model.Recording{
			ID:        uuid.New().String(),
			CallID:    callID,
			Status:    model.RecordingRecording,
			StartedAt: now,
		},
		segmentStart: now,
		clientID:     call.ClientID,
		readerID:     call.ReaderID,
	}
	rc.recs[callID] = st
	out := st.rec
	rc.mu.Unlock()

	if err := rc.store.InsertRecording(ctx, &out); err != nil {
		rc.mu.Lock()
		delete(rc.recs, callID)
		rc.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstreamFailure, err)
	}

	rc.broadcastStatus(&out)
	rc.log.Info("recording started",
		zap.String("call_id", callID),
		zap.String("recording_id", out.ID))
	return &out, nil
}

// Pause suspends capture; paused intervals do not count toward captured duration.
func (rc *RecordingController) Pause(callID string, requestedBy model.Identity) (*model.Recording, error) {
	return rc.toggle(callID, requestedBy, model.RecordingRecording, model.RecordingPaused)
}

// Resume restarts capture after a pause.
func (rc *RecordingController) Resume(callID string, requestedBy model.Identity) (*model.Recording, error) {
	return rc.toggle(callID, requestedBy, model.RecordingPaused, model.RecordingRecording)
}

func (rc *RecordingController) toggle(callID string, requestedBy model.Identity, from, to model.RecordingStatus) (*model.Recording, error) {
	if !rc.calls.IsParty(callID, requestedBy.UserID) && requestedBy.Role != model.RoleAdmin {
		return nil, errs.ErrAccessDenied
	}
	rc.mu.Lock()
	st, ok := rc.recs[callID]
	if !ok {
		rc.mu.Unlock()
		return nil, errs.ErrRecordingNotFound
	}
	if st.rec.Status != from {
		rc.mu.Unlock()
		return nil, fmt.Errorf("%w: recording is %s", errs.ErrValidationFailed, st.rec.Status)
	}
	now := rc.clock.Now()
	if from == model.RecordingRecording {
		st.rec.CapturedSeconds += int(now.Sub(st.segmentStart) / time.Second)
		st.segmentStart = time.Time{}
	} else {
		st.segmentStart = now
	}
	st.rec.Status = to
	out := st.rec
	rc.mu.Unlock()

	rc.persistAsync(&out)
	rc.broadcastStatus(&out)
	return &out, nil
}

// Stop finalizes capture and moves the recording to uploading. A failed
// durable write here downgrades the visible status to failed for all members,
// so nobody is left believing the recording succeeded.
func (rc *RecordingController) Stop(ctx context.Context, callID string, requestedBy model.Identity) (*model.Recording, error) {
	if !rc.calls.IsParty(callID, requestedBy.UserID) && requestedBy.Role != model.RoleAdmin {
		return nil, errs.ErrAccessDenied
	}
	rc.mu.Lock()
	st, ok := rc.recs[callID]
	if !ok {
		rc.mu.Unlock()
		return nil, errs.ErrRecordingNotFound
	}
	if st.rec.Status != model.RecordingRecording && st.rec.Status != model.RecordingPaused {
		rc.mu.Unlock()
		return nil, fmt.Errorf("%w: recording is %s", errs.ErrValidationFailed, st.rec.Status)
	}
	now := rc.clock.Now()
	if st.rec.Status == model.RecordingRecording {
		st.rec.CapturedSeconds += int(now.Sub(st.segmentStart) / time.Second)
		st.segmentStart = time.Time{}
	}
	st.rec.Status = model.RecordingUploading
	st.rec.StoppedAt = &now
	out := st.rec
	rc.mu.Unlock()

	if err := rc.store.UpdateRecording(ctx, &out); err != nil {
		rc.mu.Lock()
		st.rec.Status = model.RecordingFailed
		failed := st.rec
		rc.mu.Unlock()
		rc.broadcastStatus(&failed)
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstreamFailure, err)
	}

	rc.broadcastStatus(&out)
	rc.log.Info("recording stopped",
		zap.String("call_id", callID),
		zap.String("recording_id", out.ID),
		zap.Int("captured_seconds", out.CapturedSeconds))
	return &out, nil
}

// onCallEnded stops an in-progress recording when its call ends, moving it to
// processing rather than failed.
func (rc *RecordingController) onCallEnded(callID string) {
	rc.mu.Lock()
	st, ok := rc.recs[callID]
	if !ok || (st.rec.Status != model.RecordingRecording && st.rec.Status != model.RecordingPaused) {
		rc.mu.Unlock()
		return
	}
	now := rc.clock.Now()
	if st.rec.Status == model.RecordingRecording {
		st.rec.CapturedSeconds += int(now.Sub(st.segmentStart) / time.Second)
		st.segmentStart = time.Time{}
	}
	st.rec.Status = model.RecordingProcessing
	st.rec.StoppedAt = &now
	out := st.rec
	rc.mu.Unlock()

	rc.persistAsync(&out)
	rc.log.Info("recording moved to processing on call end",
		zap.String("call_id", callID),
		zap.String("recording_id", out.ID))
}

// HandleUploaded accepts the completed media blob reference and hands it to
// the object-store collaborator. Only a required participant of the call or an
// admin may finalize. Success is terminal ready; a handoff error is terminal
// failed with no automatic retry, surfaced to the caller.
func (rc *RecordingController) HandleUploaded(ctx context.Context, callID string, requestedBy model.Identity, blobRef string) (*model.Recording, error) {
	rc.mu.Lock()
	st, ok := rc.recs[callID]
	if !ok {
		rc.mu.Unlock()
		return nil, errs.ErrRecordingNotFound
	}
	if requestedBy.UserID != st.clientID && requestedBy.UserID != st.readerID &&
		requestedBy.Role != model.RoleAdmin {
		rc.mu.Unlock()
		return nil, errs.ErrAccessDenied
	}
	if st.rec.Status != model.RecordingUploading && st.rec.Status != model.RecordingProcessing {
		rc.mu.Unlock()
		return nil, fmt.Errorf("%w: recording is %s", errs.ErrValidationFailed, st.rec.Status)
	}
	recID := st.rec.ID
	rc.mu.Unlock()

	storageRef := blobRef
	var handoffErr error
	if rc.uploader != nil {
		storageRef, handoffErr = rc.uploader.Finalize(ctx, recID, blobRef)
	}

	rc.mu.Lock()
	if handoffErr != nil {
		st.rec.Status = model.RecordingFailed
	} else {
		st.rec.Status = model.RecordingReady
		st.rec.StorageRef = storageRef
	}
	out := st.rec
	delete(rc.recs, callID)
	rc.mu.Unlock()

	rc.persistAsync(&out)
	rc.broadcastStatus(&out)

	if handoffErr != nil {
		rc.log.Error("recording handoff failed",
			zap.String("call_id", callID),
			zap.String("recording_id", out.ID),
			zap.Error(handoffErr))
		return &out, fmt.Errorf("%w: %v", errs.ErrUpstreamFailure, handoffErr)
	}
	rc.log.Info("recording ready",
		zap.String("call_id", callID),
		zap.String("recording_id", out.ID),
		zap.String("storage_ref", storageRef))
	return &out, nil
}

// Get returns the live recording of a call, if any.
func (rc *RecordingController) Get(callID string) (*model.Recording, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	st, ok := rc.recs[callID]
	if !ok {
		return nil, errs.ErrRecordingNotFound
	}
	out := st.rec
	return &out, nil
}

func (rc *RecordingController) persistAsync(r *model.Recording) {
	snapshot := *r
	go func() {
		if err := rc.store.UpdateRecording(context.Background(), &snapshot); err != nil {
			rc.log.Error("recording persist failed",
				zap.String("recording_id", snapshot.ID), zap.Error(err))
		}
	}()
}

func (rc *RecordingController) broadcastStatus(r *model.Recording) {
	rc.calls.Broadcast(r.CallID, model.NewEnvelope(model.EventRecordingStatus, model.RecordingStatusEvent{
		CallID:      r.CallID,
		RecordingID: r.ID,
		Status:      r.Status,
	}))
}
