package constants

// Service route paths shared between router and deploy manifests.
const (
	PathHealth = "/health"
	PathReady  = "/ready"
	PathWS     = "/ws"
)
