package consultapi

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to API callers and webhook dispatch.
var (
	// ErrInvalidTransition rejects an event that is not legal for the
	// session's current state. Nothing is mutated.
	ErrInvalidTransition = errors.New("invalid_transition")
	// ErrDuplicateEvent marks a legitimate no-op: the event already took
	// effect. Callers treat it as success, webhook endpoints answer 200.
	ErrDuplicateEvent = errors.New("duplicate_event")
	// ErrSignatureVerification rejects a webhook outright, before parsing.
	ErrSignatureVerification = errors.New("signature_verification_failed")
	// ErrPayoutAlreadyExecuted trips when a transfer has already been
	// recorded for a session. Never retried silently.
	ErrPayoutAlreadyExecuted = errors.New("payout_already_executed")
	// ErrFeedbackExists rejects a second feedback for the same session.
	ErrFeedbackExists = errors.New("feedback_already_exists")
)

// TransferFailedError reports a payout that failed part-way through its
// gateway transfers. Whatever succeeded stays recorded; the session is flagged
// for manual reconciliation instead of being retried inline.
type TransferFailedError struct {
	SessionId uint
	Stage     string // "payout" or "bonus_lvl_<n>"
	Err       error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer failed for session %d at %s: %v", e.SessionId, e.Stage, e.Err)
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}
