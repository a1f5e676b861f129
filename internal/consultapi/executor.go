package consultapi

import (
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gateway is the slice of the payment processor the executor needs.
type Gateway interface {
	Transfer(destinationAccountId string, amountCents int64, metadata map[string]string) (string, error)
}

// PaymentGateway is the full adapter contract the engine consumes: up-front
// capture at booking, transfers at payout, signature checks at the webhook
// boundary.
type PaymentGateway interface {
	Gateway
	CapturePayment(sessionId uint, amountCents int64) (string, error)
	VerifyWebhookSignature(payload []byte, signature string) error
}

// lockForUpdate takes a row lock on postgres. SQLite has no FOR UPDATE; its
// single-writer lock already covers the transaction.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Executor moves the money for one session, exactly once. The feedback row,
// feedback_submitted_at, the transfer ids and the ReferralEdge rows are all
// written in one ledger transaction.
type Executor struct {
	Db       *gorm.DB
	Gw       Gateway
	Cfg      *AppConfig
	Notifier *Notifier
}

// Execute runs the payout for a completed session at the moment its feedback
// is accepted. Safe to re-invoke only while no transfer has been recorded;
// once any transfer id exists the call is rejected with
// ErrPayoutAlreadyExecuted.
//
// Failure semantics: if the professional payout transfer fails, nothing is
// recorded and the feedback submission may be retried. If a later bonus
// transfer fails, everything that succeeded is committed, the session is
// flagged needs_reconciliation and a TransferFailedError is returned — a
// delayed manual fix beats double-paying on an automatic retry.
func (e *Executor) Execute(sessionId uint, fb ProfessionalFeedback) error {
	tx := e.Db.Begin()
	defer func() {
		tx.Rollback()
	}()

	var s Session
	res := lockForUpdate(tx).
		Where("id = ?", sessionId).
		First(&s)
	if res.RowsAffected != 1 {
		return ErrSessionNotFound
	}
	if s.Status != SessionCompleted {
		return ErrInvalidTransition
	}
	// The transfer-recorded guard is independent of the state machine: two
	// concurrent feedback submissions can both see status == completed, only
	// one may pay.
	if s.FeedbackSubmittedAt != nil || s.PayoutTransferId != "" {
		return ErrPayoutAlreadyExecuted
	}
	var edgeCount int64
	tx.Model(&ReferralEdge{}).Where("session_id = ?", s.Id).Count(&edgeCount)
	if edgeCount > 0 {
		return ErrPayoutAlreadyExecuted
	}
	var existing ProfessionalFeedback
	res = tx.Where("session_id = ?", s.Id).First(&existing)
	if res.RowsAffected == 1 {
		return ErrFeedbackExists
	}

	var pro User
	res = tx.Where("id = ?", s.ProfessionalId).First(&pro)
	if res.RowsAffected != 1 {
		return fmt.Errorf("professional %d not found for session %d", s.ProfessionalId, s.Id)
	}

	chain, err := ResolveReferralChain(s.ReferrerProId, e.Cfg.Settings.Ref.MaxDepth, UplineLookup(tx))
	if err != nil {
		return err
	}
	plan, err := ComputePayout(s.RateCents, chain, e.Cfg)
	if err != nil {
		return err
	}

	now := time.Now()
	fb.SessionId = s.Id
	fb.ProfessionalId = s.ProfessionalId
	fb.CandidateId = s.CandidateId
	res = tx.Create(&fb)
	if res.Error != nil {
		return res.Error
	}

	// Professional payout first. No transfer recorded yet, so a failure here
	// rolls back cleanly and the submission stays retryable.
	transferId, err := e.Gw.Transfer(pro.PayoutAccountId, plan.ProfessionalPayoutCents, map[string]string{
		"session_id": fmt.Sprintf("%d", s.Id),
		"kind":       "session_payout",
	})
	if err != nil {
		e.alertTransferFailure(s, "payout", err)
		return &TransferFailedError{SessionId: s.Id, Stage: "payout", Err: err}
	}

	s.FeedbackSubmittedAt = &now
	s.PayoutTransferId = transferId
	s.PlatformFeeCents = plan.PlatformFeeCents
	s.PayoutCents = plan.ProfessionalPayoutCents
	res = tx.Save(&s)
	if res.Error != nil {
		return res.Error
	}

	for _, bonus := range plan.Bonuses {
		stage := fmt.Sprintf("bonus_lvl_%d", bonus.Level)
		var referrer User
		res = tx.Where("id = ?", bonus.ReferrerId).First(&referrer)
		if res.RowsAffected != 1 {
			// The bonus was already carved out of the professional's
			// remainder; a vanished referrer leaves those cents unowned.
			// Reportable, same as a failed transfer.
			s.NeedsReconciliation = true
			if saveRes := tx.Save(&s); saveRes.Error != nil {
				return saveRes.Error
			}
			tx.Commit()
			missErr := fmt.Errorf("referrer %d not found for session %d", bonus.ReferrerId, s.Id)
			e.alertTransferFailure(s, stage, missErr)
			return &TransferFailedError{SessionId: s.Id, Stage: stage, Err: missErr}
		}
		bonusTransferId, err := e.Gw.Transfer(referrer.PayoutAccountId, bonus.BonusCents, map[string]string{
			"session_id": fmt.Sprintf("%d", s.Id),
			"kind":       "referral_bonus",
			"lvl":        fmt.Sprintf("%d", bonus.Level),
		})
		if err != nil {
			// Keep what already moved; flag the rest for manual review.
			s.NeedsReconciliation = true
			if saveRes := tx.Save(&s); saveRes.Error != nil {
				return saveRes.Error
			}
			tx.Commit()
			e.alertTransferFailure(s, stage, err)
			return &TransferFailedError{SessionId: s.Id, Stage: stage, Err: err}
		}
		edge := ReferralEdge{
			SessionId:     s.Id,
			ReferrerProId: bonus.ReferrerId,
			Lvl:           uint(bonus.Level),
			BonusCents:    bonus.BonusCents,
			TransferId:    bonusTransferId,
			PaidAt:        &now,
		}
		res = tx.Create(&edge)
		if res.Error != nil {
			return res.Error
		}
	}

	res = tx.Commit()
	if res.Error != nil {
		return res.Error
	}

	s.Status = SessionCompleted
	e.Notifier.Emit(NotifyPayoutCompleted, s)
	cpUrl := os.Getenv("CP_URL")
	msg := fmt.Sprintf(
		`Payout executed [Session: %d](%s/sessions/%d)
Professional: %d
Rate: %s
Fee: %s
Payout: %s
Referral bonuses: %d`,
		s.Id,
		cpUrl,
		s.Id,
		s.ProfessionalId,
		EscapeMarkdownV2(FormatCents(s.RateCents)),
		EscapeMarkdownV2(FormatCents(s.PlatformFeeCents)),
		EscapeMarkdownV2(FormatCents(s.PayoutCents)),
		len(plan.Bonuses),
	)
	_ = SendTelegramMessage(msg, "finance")
	return nil
}

func (e *Executor) alertTransferFailure(s Session, stage string, err error) {
	cpUrl := os.Getenv("CP_URL")
	msg := fmt.Sprintf(
		`TRANSFER FAILED [Session: %d](%s/sessions/%d)
Stage: %s
Error: %s
Needs manual reconciliation`,
		s.Id,
		cpUrl,
		s.Id,
		EscapeMarkdownV2(stage),
		EscapeMarkdownV2(err.Error()),
	)
	_ = SendTelegramMessage(msg, "finance")
}
