package protocol

// Stable API error codes returned by the HTTP surface. The gateway maps
// internal error kinds onto these; clients key retry behavior off the
// accompanying `retryable` flag, not the code.
const (
	APIInvalidRequest = "INVALID_REQUEST"
	APIRoutingFailed  = "ROUTING_FAILED"
	APIController     = "CONTROLLER_FAILED"
	APIUnauthorized   = "UNAUTHORIZED"
	APIForbidden      = "FORBIDDEN"
	APIConflict       = "CONFLICT"
	APIInternal       = "INTERNAL_ERROR"
)

// Idempotency scopes for /v1 POST endpoints.
const (
	IdempotencyScopeChat     = "chat"
	IdempotencyScopeResearch = "research"
)
