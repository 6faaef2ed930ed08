package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/errs"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
)

type fakeUploader struct {
	mu   sync.Mutex
	ref  string
	err  error
	seen []string
}

func (u *fakeUploader) Finalize(_ context.Context, recordingID, blobRef string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.seen = append(u.seen, recordingID+":"+blobRef)
	if u.err != nil {
		return "", u.err
	}
	if u.ref != "" {
		return u.ref, nil
	}
	return blobRef, nil
}

type recordingFixture struct {
	*callFixture
	rc       *RecordingController
	uploader *fakeUploader
}

func newRecordingFixture() *recordingFixture {
	cf := newCallFixture()
	up := &fakeUploader{}
	rc := NewRecordingController(cf.store, up, cf.svc, cf.clock, testLogger())
	return &recordingFixture{callFixture: cf, rc: rc, uploader: up}
}

func (f *recordingFixture) createRecordable(t *testing.T) *model.CallSession {
	t.Helper()
	sess, err := f.svc.Create(context.Background(), model.CreateCallRequest{
		ClientID:         "client",
		ReaderID:         "reader",
		Kind:             model.CallVideo,
		ScheduledMinutes: 30,
		RecordingEnabled: true,
	}, identity("client", model.RoleClient))
	if err != nil {
		t.Fatal(err)
	}
	return sess
}

func (f *recordingFixture) grantClientConsent(t *testing.T, callID string) {
	t.Helper()
	if err := f.svc.Consent(context.Background(), callID, identity("client", model.RoleClient), model.ConsentRecording, true, "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
}

func TestRecordingStartRequiresConsent(t *testing.T) {
	f := newRecordingFixture()
	sess := f.createRecordable(t)
	f.activate(t, sess.ID)

	_, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader))
	if !errors.Is(err, errs.ErrConsentMissing) {
		t.Fatalf("got %v, want ErrConsentMissing", err)
	}

	f.grantClientConsent(t, sess.ID)
	rec, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordingRecording {
		t.Fatalf("status = %s, want recording", rec.Status)
	}
	if env := recvEvent(t, f.client); env.Event != model.EventRecordingStatus {
		t.Fatalf("client got %q, want recording_status", env.Event)
	}
}

func TestRecordingStartGates(t *testing.T) {
	f := newRecordingFixture()
	sess := f.createRecordable(t)

	// Not active yet.
	_, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader))
	if !errors.Is(err, errs.ErrCallEnded) {
		t.Fatalf("before active: got %v, want ErrCallEnded", err)
	}

	f.activate(t, sess.ID)
	f.grantClientConsent(t, sess.ID)

	_, err = f.rc.Start(context.Background(), sess.ID, identity("mon", model.RoleMonitor))
	if !errors.Is(err, errs.ErrAccessDenied) {
		t.Fatalf("monitor start: got %v, want ErrAccessDenied", err)
	}

	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}
	_, err = f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader))
	if !errors.Is(err, errs.ErrRecordingActive) {
		t.Fatalf("double start: got %v, want ErrRecordingActive", err)
	}
}

func TestRecordingDisabledCall(t *testing.T) {
	f := newRecordingFixture()
	sess := f.create(t, 30, false) // recording not enabled
	f.activate(t, sess.ID)

	_, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader))
	if !errors.Is(err, errs.ErrValidationFailed) {
		t.Fatalf("got %v, want ErrValidationFailed", err)
	}
}

func TestEmergencyCallSkipsConsentCheck(t *testing.T) {
	f := newRecordingFixture()
	sess, err := f.svc.Create(context.Background(), model.CreateCallRequest{
		ClientID:         "client",
		ReaderID:         "reader",
		Kind:             model.CallAudio,
		ScheduledMinutes: 15,
		Emergency:        true,
	}, identity("client", model.RoleClient))
	if err != nil {
		t.Fatal(err)
	}
	f.activate(t, sess.ID)

	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatalf("emergency recording start: %v", err)
	}
}

func TestPausedTimeNotCaptured(t *testing.T) {
	f := newRecordingFixture()
	sess := f.createRecordable(t)
	f.activate(t, sess.ID)
	f.grantClientConsent(t, sess.ID)
	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(10 * time.Second)
	rec, err := f.rc.Pause(sess.ID, identity("reader", model.RoleReader))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordingPaused || rec.CapturedSeconds != 10 {
		t.Fatalf("after pause: status=%s captured=%d, want paused with 10s", rec.Status, rec.CapturedSeconds)
	}

	// Paused interval must not count.
	f.clock.Advance(30 * time.Second)
	rec, err = f.rc.Resume(sess.ID, identity("reader", model.RoleReader))
	if err != nil {
		t.Fatal(err)
	}
	if rec.CapturedSeconds != 10 {
		t.Fatalf("after resume: captured=%d, want still 10s", rec.CapturedSeconds)
	}

	f.clock.Advance(7 * time.Second)
	rec, err = f.rc.Stop(context.Background(), sess.ID, identity("reader", model.RoleReader))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordingUploading || rec.CapturedSeconds != 17 {
		t.Fatalf("after stop: status=%s captured=%d, want uploading with 17s", rec.Status, rec.CapturedSeconds)
	}
}

func TestPauseResumeStateGuards(t *testing.T) {
	f := newRecordingFixture()
	sess := f.createRecordable(t)
	f.activate(t, sess.ID)
	f.grantClientConsent(t, sess.ID)

	if _, err := f.rc.Pause(sess.ID, identity("reader", model.RoleReader)); !errors.Is(err, errs.ErrRecordingNotFound) {
		t.Fatalf("pause with no recording: got %v, want ErrRecordingNotFound", err)
	}

	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.rc.Resume(sess.ID, identity("reader", model.RoleReader)); !errors.Is(err, errs.ErrValidationFailed) {
		t.Fatalf("resume while recording: got %v, want ErrValidationFailed", err)
	}
	if _, err := f.rc.Pause(sess.ID, identity("stranger", model.RoleClient)); !errors.Is(err, errs.ErrAccessDenied) {
		t.Fatalf("outsider pause: got %v, want ErrAccessDenied", err)
	}
}

func TestStopPersistFailureVisibleAsFailed(t *testing.T) {
	f := newRecordingFixture()
	sess := f.createRecordable(t)
	f.activate(t, sess.ID)
	f.grantClientConsent(t, sess.ID)
	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}
	drain(f.client)

	f.store.failUpdateRec = true
	_, err := f.rc.Stop(context.Background(), sess.ID, identity("reader", model.RoleReader))
	if !errors.Is(err, errs.ErrUpstreamFailure) {
		t.Fatalf("got %v, want ErrUpstreamFailure", err)
	}
	env := recvEvent(t, f.client)
	if env.Event != model.EventRecordingStatus {
		t.Fatalf("client got %q, want recording_status", env.Event)
	}
	rec, err := f.rc.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordingFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
}

func TestCallEndMovesRecordingToProcessing(t *testing.T) {
	f := newRecordingFixture()
	sess := f.createRecordable(t)
	f.activate(t, sess.ID)
	f.grantClientConsent(t, sess.ID)
	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(20 * time.Second)
	if err := f.svc.End(sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}

	rec, err := f.rc.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordingProcessing {
		t.Fatalf("status = %s, want processing after call end", rec.Status)
	}
	if rec.CapturedSeconds != 20 {
		t.Fatalf("captured = %d, want 20", rec.CapturedSeconds)
	}
}

func TestUploadedRecordingBecomesReady(t *testing.T) {
	f := newRecordingFixture()
	f.uploader.ref = "s3://recordings/final.mp4"
	sess := f.createRecordable(t)
	f.activate(t, sess.ID)
	f.grantClientConsent(t, sess.ID)
	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}

	// Handoff before stop is out of order.
	_, err := f.rc.HandleUploaded(context.Background(), sess.ID, identity("reader", model.RoleReader), "tmp/blob")
	if !errors.Is(err, errs.ErrValidationFailed) {
		t.Fatalf("upload while recording: got %v, want ErrValidationFailed", err)
	}

	if _, err := f.rc.Stop(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}
	rec, err := f.rc.HandleUploaded(context.Background(), sess.ID, identity("reader", model.RoleReader), "tmp/blob")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordingReady {
		t.Fatalf("status = %s, want ready", rec.Status)
	}
	if rec.StorageRef != "s3://recordings/final.mp4" {
		t.Fatalf("storage ref = %q, want the finalized reference", rec.StorageRef)
	}

	// Terminal: the recording no longer lives in the controller.
	if _, err := f.rc.Get(sess.ID); !errors.Is(err, errs.ErrRecordingNotFound) {
		t.Fatalf("got %v, want ErrRecordingNotFound after terminal state", err)
	}
}

func TestUploadHandoffFailureIsTerminal(t *testing.T) {
	f := newRecordingFixture()
	f.uploader.err = errors.New("object store unreachable")
	sess := f.createRecordable(t)
	f.activate(t, sess.ID)
	f.grantClientConsent(t, sess.ID)
	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.rc.Stop(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}

	rec, err := f.rc.HandleUploaded(context.Background(), sess.ID, identity("reader", model.RoleReader), "tmp/blob")
	if !errors.Is(err, errs.ErrUpstreamFailure) {
		t.Fatalf("got %v, want ErrUpstreamFailure", err)
	}
	if rec == nil || rec.Status != model.RecordingFailed {
		t.Fatalf("recording = %+v, want terminal failed", rec)
	}
	if _, err := f.rc.Get(sess.ID); !errors.Is(err, errs.ErrRecordingNotFound) {
		t.Fatalf("failed handoff must still release the slot, got %v", err)
	}
}

func TestUploadAfterCallEndStillFinalizes(t *testing.T) {
	f := newRecordingFixture()
	sess := f.createRecordable(t)
	f.activate(t, sess.ID)
	f.grantClientConsent(t, sess.ID)
	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.End(sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}

	// The call is gone but the recording survives to finalization.
	rec, err := f.rc.HandleUploaded(context.Background(), sess.ID, identity("reader", model.RoleReader), "tmp/blob")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordingReady {
		t.Fatalf("status = %s, want ready", rec.Status)
	}
}

func TestUploadFinalizeRequiresParticipant(t *testing.T) {
	f := newRecordingFixture()
	sess := f.createRecordable(t)
	f.activate(t, sess.ID)
	f.grantClientConsent(t, sess.ID)
	if _, err := f.rc.Start(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.rc.Stop(context.Background(), sess.ID, identity("reader", model.RoleReader)); err != nil {
		t.Fatal(err)
	}

	// Neither an unrelated user nor an observer may finalize.
	for _, id := range []model.Identity{
		identity("stranger", model.RoleClient),
		identity("monitor", model.RoleMonitor),
	} {
		_, err := f.rc.HandleUploaded(context.Background(), sess.ID, id, "blob://fake")
		if !errors.Is(err, errs.ErrAccessDenied) {
			t.Fatalf("%s finalize: got %v, want ErrAccessDenied", id.UserID, err)
		}
	}
	rec, err := f.rc.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordingUploading || rec.StorageRef != "" {
		t.Fatalf("recording = %+v, want untouched uploading state", rec)
	}

	// Admins may finalize even after the call is gone.
	if err := f.svc.End(sess.ID, identity("client", model.RoleClient)); err != nil {
		t.Fatal(err)
	}
	rec, err = f.rc.HandleUploaded(context.Background(), sess.ID, identity("ops", model.RoleAdmin), "tmp/blob")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != model.RecordingReady {
		t.Fatalf("admin finalize status = %s, want ready", rec.Status)
	}
}
