// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them. Generic
// codes mirror HTTP status semantics. The domain codes below carry what the
// status alone cannot: which side of the sync failed, or why an AI skill did
// not produce a result.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "remote_write_failed",
//	  "message": "write failed: sheets: append tasks: googleapi: Error 403"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Assistant chat.
	ErrCodeAnswerFailed = "answer_failed"
	ErrCodeCreateFailed = "create_failed"
	ErrCodeListFailed   = "list_failed"

	// Sync coordinator and record stores.
	ErrCodeConnectFailed     = "connect_failed"      // 502
	ErrCodeRemoteWriteFailed = "remote_write_failed" // 502
	ErrCodeReloadFailed      = "reload_failed"       // 502
	ErrCodeUnsupported       = "unsupported"         // 501

	// AI gateway.
	ErrCodeAIMalformed   = "ai_malformed_output" // 422
	ErrCodeAIUnavailable = "ai_unavailable"      // 503
	ErrCodeAIFailed      = "ai_failed"           // 502
)
