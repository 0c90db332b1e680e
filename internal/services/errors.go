// Package services holds the application logic behind the HTTP API: synced
// records (through the sync coordinator), partners, the knowledge base, the
// assistant chat with its feedback, and the dashboard summary.
//
// Service-level errors are declared here so handlers can map them to HTTP
// results consistently. Errors from the syncer and the AI gateway pass
// through unchanged and are matched with errors.Is by the handlers.
package services

import "errors"

// Assistant chat.
var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyPrompt     = errors.New("prompt is empty")
	ErrTooLong         = errors.New("prompt too long")

	// Feedback.
	ErrInvalidFeedback   = errors.New("feedback value must be -1 or 1")
	ErrForbiddenFeedback = errors.New("cannot leave feedback on this message")
	ErrDuplicateFeedback = errors.New("feedback already exists")
)

// Reference data.
var (
	ErrPartnerNotFound = errors.New("partner not found")
	ErrSOPNotFound     = errors.New("sop not found")
	ErrContactNotFound = errors.New("contact not found")

	// ErrInvalidInput wraps presence checks; the message names the field.
	ErrInvalidInput = errors.New("invalid input")
)

// ErrRecordNotFound means a synced record id is not in the coordinator's
// current snapshot.
var ErrRecordNotFound = errors.New("record not found")
