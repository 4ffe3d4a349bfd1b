// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them, while
// messages are for humans. Generic codes mirror HTTP status semantics;
// domain codes name the bridge operation that failed.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_configured",
//	  "message": "bot token is not configured"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeDeliveryFailed = "delivery_failed"
	ErrCodeLinkFailed     = "link_failed"
	ErrCodeDrainFailed    = "drain_failed"
	ErrCodeNotConfigured  = "not_configured"
	ErrCodeUpstream       = "upstream_error"
	ErrCodeStatsFailed    = "stats_failed"
)
