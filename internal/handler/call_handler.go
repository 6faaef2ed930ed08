package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/auth"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/errs"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/service"
)

const identityKey = "identity"

// Authenticate is gin middleware enforcing a verified identity token on the
// request/response surface.
func Authenticate(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Verify(bearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func callerIdentity(c *gin.Context) model.Identity {
	v, _ := c.Get(identityKey)
	identity, _ := v.(model.Identity)
	return identity
}

// CallHandler handles the REST surface for call lifecycle, consent, recording
// and emergency extensions.
type CallHandler struct {
	calls     *service.CallService
	recording *service.RecordingController
	logger    *zap.Logger
}

// NewCallHandler creates the call REST handler.
func NewCallHandler(calls *service.CallService, recording *service.RecordingController, logger *zap.Logger) *CallHandler {
	return &CallHandler{calls: calls, recording: recording, logger: logger}
}

// CreateCall handles POST /calls.
func (h *CallHandler) CreateCall(c *gin.Context) {
	var req model.CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	sess, err := h.calls.Create(c.Request.Context(), req, callerIdentity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// GetCall handles GET /calls/:id.
func (h *CallHandler) GetCall(c *gin.Context) {
	sess, err := h.calls.Get(c.Param("id"), callerIdentity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Consent handles POST /calls/:id/consent.
func (h *CallHandler) Consent(c *gin.Context) {
	var req model.ConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	err := h.calls.Consent(c.Request.Context(), c.Param("id"), callerIdentity(c), req.Type, *req.Granted, c.ClientIP())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// MediaReady handles POST /calls/:id/media-ready.
func (h *CallHandler) MediaReady(c *gin.Context) {
	if err := h.calls.MediaReady(c.Param("id"), callerIdentity(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// EndCall handles POST /calls/:id/end.
func (h *CallHandler) EndCall(c *gin.Context) {
	if err := h.calls.End(c.Param("id"), callerIdentity(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ObserverJoin handles POST /calls/:id/observers.
func (h *CallHandler) ObserverJoin(c *gin.Context) {
	if err := h.calls.ObserverJoin(c.Param("id"), callerIdentity(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "observing"})
}

// ObserverLeave handles DELETE /calls/:id/observers.
func (h *CallHandler) ObserverLeave(c *gin.Context) {
	h.calls.ObserverLeave(c.Param("id"), callerIdentity(c))
	c.Status(http.StatusNoContent)
}

// StartRecording handles POST /calls/:id/recording/start.
func (h *CallHandler) StartRecording(c *gin.Context) {
	rec, err := h.recording.Start(c.Request.Context(), c.Param("id"), callerIdentity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// PauseRecording handles POST /calls/:id/recording/pause.
func (h *CallHandler) PauseRecording(c *gin.Context) {
	rec, err := h.recording.Pause(c.Param("id"), callerIdentity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ResumeRecording handles POST /calls/:id/recording/resume.
func (h *CallHandler) ResumeRecording(c *gin.Context) {
	rec, err := h.recording.Resume(c.Param("id"), callerIdentity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// StopRecording handles POST /calls/:id/recording/stop.
func (h *CallHandler) StopRecording(c *gin.Context) {
	rec, err := h.recording.Stop(c.Request.Context(), c.Param("id"), callerIdentity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RecordingUploaded handles POST /calls/:id/recording/uploaded: the completed
// media blob reference coming back from the client upload.
func (h *CallHandler) RecordingUploaded(c *gin.Context) {
	var req model.RecordingUploadedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	rec, err := h.recording.HandleUploaded(c.Request.Context(), c.Param("id"), callerIdentity(c), req.StorageRef)
	if err != nil {
		if rec != nil && errors.Is(err, errs.ErrUpstreamFailure) {
			// Handoff failed: terminal failed status, surfaced for a manual retry.
			c.JSON(http.StatusBadGateway, rec)
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RequestExtension handles POST /calls/:id/extensions.
func (h *CallHandler) RequestExtension(c *gin.Context) {
	var req model.ExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	esc, err := h.calls.RequestExtension(c.Request.Context(), c.Param("id"), callerIdentity(c), req.AdditionalMinutes, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, esc)
}

// ResolveExtension handles POST /calls/:id/extensions/:eid/resolve.
func (h *CallHandler) ResolveExtension(c *gin.Context) {
	var req model.ResolveExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	esc, err := h.calls.ResolveExtension(c.Request.Context(), c.Param("id"), c.Param("eid"), callerIdentity(c), *req.Approve)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, esc)
}

func (h *CallHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrAuthenticationRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, errs.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrValidationFailed):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrCallNotFound),
		errors.Is(err, errs.ErrSessionNotFound),
		errors.Is(err, errs.ErrMessageNotFound),
		errors.Is(err, errs.ErrRecordingNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrCallEnded):
		status = http.StatusGone
	case errors.Is(err, errs.ErrConsentMissing):
		status = http.StatusPreconditionFailed
	case errors.Is(err, errs.ErrExtensionNotAllowed),
		errors.Is(err, errs.ErrRecordingActive),
		errors.Is(err, errs.ErrTooManyObservers):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrUpstreamFailure):
		status = http.StatusBadGateway
	default:
		h.logger.Error("unhandled error", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": ErrorCode(err), "message": err.Error()})
}
