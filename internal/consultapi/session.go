package consultapi

import "time"

const (
	SessionRequested = "requested"
	SessionConfirmed = "confirmed"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

// Session is one paid booking between a candidate and a professional. Sessions
// are a financial record: they are never deleted, and rate_cents is fixed at
// creation.
type Session struct {
	Id             uint      `json:"id" gorm:"primarykey"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CandidateId    uint      `gorm:"index;not null" json:"candidate_id"`
	ProfessionalId uint      `gorm:"index;not null" json:"professional_id"`
	// ReferrerProId is the professional who referred the candidate to this
	// professional for this booking. Distinct from the professional's own
	// upline (User.ReferredBy).
	ReferrerProId  uint      `gorm:"index" json:"referrer_pro_id"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	RateCents      int64     `gorm:"not null" json:"rate_cents"`
	Status         string    `gorm:"index;not null;default:'requested'" json:"status"`
	RequestMessage string    `json:"request_message"`
	CancelReason   string    `json:"cancel_reason"`
	// MeetingId maps the meeting provider's id back to this session.
	MeetingId       string     `gorm:"index" json:"meeting_id"`
	PaymentIntentId string     `gorm:"index" json:"payment_intent_id"`
	PaidAt          *time.Time `json:"paid_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	// FeedbackSubmittedAt is set in the same transaction that records the
	// payout; its presence means payout computation has happened.
	FeedbackSubmittedAt *time.Time `json:"feedback_submitted_at"`
	PayoutTransferId    string     `json:"payout_transfer_id"`
	PlatformFeeCents    int64      `json:"platform_fee_cents"`
	PayoutCents         int64      `json:"payout_cents"`
	// NeedsReconciliation flags a partially executed payout for manual review.
	NeedsReconciliation bool `gorm:"index" json:"needs_reconciliation"`
	Version             uint `gorm:"not null;default:0" json:"version"`
}

// SessionTerminal reports whether a status admits no further transitions.
func SessionTerminal(status string) bool {
	return status == SessionCompleted || status == SessionCancelled
}
