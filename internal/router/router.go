package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/auth"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/handler"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/pkg/constants"
)

// New builds the HTTP router.
func New(
	verifier *auth.Verifier,
	callHandler *handler.CallHandler,
	realtimeWS *handler.RealtimeWSHandler,
	health *handler.HealthHandler,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)

	// Realtime channel; the handler authenticates before upgrading.
	r.GET(constants.PathWS, realtimeWS.ServeWS)

	// REST surface for call lifecycle, consent, recording, extensions.
	calls := r.Group("/calls", handler.Authenticate(verifier))
	{
		calls.POST("", callHandler.CreateCall)
		calls.GET("/:id", callHandler.GetCall)
		calls.POST("/:id/consent", callHandler.Consent)
		calls.POST("/:id/media-ready", callHandler.MediaReady)
		calls.POST("/:id/end", callHandler.EndCall)
		calls.POST("/:id/observers", callHandler.ObserverJoin)
		calls.DELETE("/:id/observers", callHandler.ObserverLeave)
		calls.POST("/:id/recording/start", callHandler.StartRecording)
		calls.POST("/:id/recording/pause", callHandler.PauseRecording)
		calls.POST("/:id/recording/resume", callHandler.ResumeRecording)
		calls.POST("/:id/recording/stop", callHandler.StopRecording)
		calls.POST("/:id/recording/uploaded", callHandler.RecordingUploaded)
		calls.POST("/:id/extensions", callHandler.RequestExtension)
		calls.POST("/:id/extensions/:eid/resolve", callHandler.ResolveExtension)
	}

	return r
}
