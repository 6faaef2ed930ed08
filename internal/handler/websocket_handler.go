package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/auth"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/errs"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/service"
)

// RealtimeWSHandler handles the bidirectional realtime channel at /ws.
// Every connection must present a verifiable identity token at connect time;
// connections without one are rejected before any event is processed.
type RealtimeWSHandler struct {
	upgrader   websocket.Upgrader
	verifier   *auth.Verifier
	registry   *service.ConnectionRegistry
	chat       *service.ChatService
	calls      *service.CallService
	quality    *service.QualityMonitor
	maxMsgSize int64
	logger     *zap.Logger
}

// NewRealtimeWSHandler creates the realtime channel handler.
func NewRealtimeWSHandler(verifier *auth.Verifier, registry *service.ConnectionRegistry, chat *service.ChatService, calls *service.CallService, quality *service.QualityMonitor, readBuf, writeBuf int, maxMsgSize int64, logger *zap.Logger) *RealtimeWSHandler {
	return &RealtimeWSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			// Allow all origins for dev; in prod set CheckOrigin.
		},
		verifier:   verifier,
		registry:   registry,
		chat:       chat,
		calls:      calls,
		quality:    quality,
		maxMsgSize: maxMsgSize,
		logger:     logger,
	}
}

// ServeWS authenticates, upgrades the request and runs the event loop.
func (h *RealtimeWSHandler) ServeWS(c *gin.Context) {
	identity, err := h.verifier.Verify(bearerToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if h.maxMsgSize > 0 {
		conn.SetReadLimit(h.maxMsgSize)
	}

	peer := &service.Peer{
		ConnID:      uuid.New().String(),
		Identity:    identity,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		ConnectedAt: time.Now(),
	}
	peer = h.registry.Register(peer)
	defer func() {
		last, ok := h.registry.Deregister(identity.UserID, peer.ConnID)
		if ok && last {
			h.chat.HandleDisconnect(identity)
			h.calls.HandleDisconnect(identity)
		}
	}()

	go h.writePump(peer)
	h.readPump(c.Request.Context(), peer)
}

func (h *RealtimeWSHandler) readPump(ctx context.Context, p *service.Peer) {
	defer func() {
		_ = p.Conn.Close()
	}()
	for {
		_, data, err := p.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("read error", zap.Error(err))
			}
			return
		}
		h.dispatch(ctx, p, data)
	}
}

func (h *RealtimeWSHandler) writePump(p *service.Peer) {
	defer func() {
		_ = p.Conn.Close()
	}()
	for data := range p.Send {
		if err := p.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// dispatch decodes one inbound frame and routes it through the closed event
// set. Failures are reported to the originating connection only.
func (h *RealtimeWSHandler) dispatch(ctx context.Context, p *service.Peer, data []byte) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.reply(p, errorFrame("", errs.ErrValidationFailed))
		return
	}

	switch env.Event {
	case model.EventJoinSession:
		var req model.JoinSessionRequest
		if !h.decode(p, env, &req) || !h.require(p, env.Event, req.SessionID) {
			return
		}
		// Privileged identities join as silent observers; their arrival is
		// not announced and they stay out of visible membership.
		if p.Identity.Role.Privileged() {
			if err := h.chat.ObserverJoin(ctx, req.SessionID, p.Identity); err != nil {
				h.reply(p, errorFrame(env.Event, err))
				return
			}
			h.reply(p, model.NewEnvelope(model.EventSessionJoined, model.SessionJoinedEvent{SessionID: req.SessionID}))
			return
		}
		joined, err := h.chat.Join(ctx, req.SessionID, p.Identity)
		if err != nil {
			h.reply(p, errorFrame(env.Event, err))
			return
		}
		h.reply(p, model.NewEnvelope(model.EventSessionJoined, joined))

	case model.EventLeaveSession:
		var req model.LeaveSessionRequest
		if !h.decode(p, env, &req) || !h.require(p, env.Event, req.SessionID) {
			return
		}
		if p.Identity.Role.Privileged() {
			h.chat.ObserverLeave(req.SessionID, p.Identity)
			return
		}
		h.chat.Leave(req.SessionID, p.Identity)

	case model.EventSendMessage:
		var req model.SendMessageRequest
		if !h.decode(p, env, &req) || !h.require(p, env.Event, req.SessionID) {
			return
		}
		if _, err := h.chat.Send(ctx, req.SessionID, p.Identity, req.Kind, req.Content, req.ReplyTo); err != nil {
			h.reply(p, errorFrame(env.Event, err))
		}

	case model.EventMarkRead:
		var req model.MarkReadRequest
		if !h.decode(p, env, &req) || !h.require(p, env.Event, req.SessionID) {
			return
		}
		receipt, err := h.chat.MarkRead(ctx, req.SessionID, p.Identity, req.UpToMessageID)
		if err != nil {
			h.reply(p, errorFrame(env.Event, err))
			return
		}
		h.reply(p, model.NewEnvelope(model.EventMessagesRead, receipt))

	case model.EventTypingStart:
		var req model.TypingRequest
		if !h.decode(p, env, &req) || !h.require(p, env.Event, req.SessionID) {
			return
		}
		h.chat.StartTyping(req.SessionID, p.Identity)

	case model.EventTypingStop:
		var req model.TypingRequest
		if !h.decode(p, env, &req) || !h.require(p, env.Event, req.SessionID) {
			return
		}
		h.chat.StopTyping(req.SessionID, p.Identity)

	case model.EventOnlineUsers:
		var req model.OnlineUsersRequest
		if !h.decode(p, env, &req) || !h.require(p, env.Event, req.SessionID) {
			return
		}
		users, err := h.chat.OnlineMembers(req.SessionID, p.Identity)
		if err != nil {
			h.reply(p, errorFrame(env.Event, err))
			return
		}
		h.reply(p, model.NewEnvelope(model.EventOnlineUsersReply, model.OnlineUsersEvent{
			SessionID: req.SessionID,
			Users:     users,
		}))

	case model.EventQualityReport:
		var req model.QualityReportRequest
		if !h.decode(p, env, &req) || !h.require(p, env.Event, req.CallID) {
			return
		}
		if err := h.quality.Report(req.CallID, p.Identity.UserID, req.PacketLoss); err != nil {
			h.reply(p, errorFrame(env.Event, err))
		}

	default:
		h.reply(p, errorFrame(env.Event, errs.ErrValidationFailed))
	}
}

func (h *RealtimeWSHandler) decode(p *service.Peer, env model.Envelope, out any) bool {
	if err := json.Unmarshal(env.Data, out); err != nil {
		h.reply(p, errorFrame(env.Event, errs.ErrValidationFailed))
		return false
	}
	return true
}

func (h *RealtimeWSHandler) require(p *service.Peer, event, id string) bool {
	if id == "" {
		h.reply(p, errorFrame(event, errs.ErrValidationFailed))
		return false
	}
	return true
}

// reply sends a frame to this connection only. Safe while the read loop is
// alive: deregistration (and channel close) happens only after it exits.
func (h *RealtimeWSHandler) reply(p *service.Peer, payload []byte) {
	select {
	case p.Send <- payload:
	default:
		h.logger.Warn("reply dropped, send buffer full",
			zap.String("user_id", p.Identity.UserID),
			zap.String("conn_id", p.ConnID))
	}
}

func errorFrame(event string, err error) []byte {
	return model.NewEnvelope(model.EventError, model.ErrorEvent{
		Code:    ErrorCode(err),
		Message: err.Error(),
		Event:   event,
	})
}

// ErrorCode maps a domain error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, errs.ErrAuthenticationRequired):
		return "authentication_required"
	case errors.Is(err, errs.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, errs.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, errs.ErrSessionNotFound),
		errors.Is(err, errs.ErrCallNotFound),
		errors.Is(err, errs.ErrMessageNotFound),
		errors.Is(err, errs.ErrRecordingNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrCallEnded):
		return "call_ended"
	case errors.Is(err, errs.ErrConsentMissing):
		return "consent_missing"
	case errors.Is(err, errs.ErrExtensionNotAllowed):
		return "extension_not_allowed"
	case errors.Is(err, errs.ErrRecordingActive), errors.Is(err, errs.ErrTooManyObservers):
		return "conflict"
	case errors.Is(err, errs.ErrUpstreamFailure):
		return "upstream_failure"
	default:
		return "internal"
	}
}

func bearerToken(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
