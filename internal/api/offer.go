package api

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm/clause"

	"consult-backend/internal/consultapi"
)

type reportOfferParams struct {
	CandidateId    uint   `json:"candidate_id" binding:"required"`
	ProfessionalId uint   `json:"professional_id"`
	Firm           string `json:"firm" binding:"required" validate:"max=150"`
}

// ReportOffer records that a candidate received a job offer at a firm. The
// reporter defaults to being the first-contact professional; the bonus amount
// is frozen from configuration at report time.
func ReportOffer(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	var p reportOfferParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var candidate consultapi.User
	res := app.Db.Where("id = ? AND role = ?", p.CandidateId, consultapi.RoleCandidate).First(&candidate)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "candidate not found"})
		return
	}
	professionalId := p.ProfessionalId
	if professionalId == 0 {
		professionalId = user.Id
	}
	var double consultapi.Offer
	res = app.Db.Where("candidate_id = ? AND firm = ? AND status IN ?",
		p.CandidateId,
		p.Firm,
		[]string{consultapi.OfferPending, consultapi.OfferAccepted, consultapi.OfferBonusPaid},
	).First(&double)
	if res.RowsAffected == 1 {
		c.JSON(http.StatusConflict, gin.H{"error": "offer already reported"})
		return
	}

	offer := consultapi.Offer{
		CandidateId:    p.CandidateId,
		ProfessionalId: professionalId,
		Firm:           p.Firm,
		BonusCents:     app.Cfg.Settings.Fees.OfferBonusCents,
		Status:         consultapi.OfferPending,
		ReportedBy:     user.Id,
	}
	res = app.Db.Create(&offer)
	if res.Error != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

// AcceptOffer is the candidate confirming they took the job.
func AcceptOffer(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
	}
	var offer consultapi.Offer
	res := app.Db.Where("id = ?", id).First(&offer)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "offer not found"})
		return
	}
	if offer.CandidateId != user.Id {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your offer"})
		return
	}
	now := time.Now()
	values := map[string]interface{}{
		"status":      consultapi.OfferAccepted,
		"accepted_at": now,
	}
	res = app.Db.Model(&consultapi.Offer{}).
		Where("id = ? AND status = ?", offer.Id, consultapi.OfferPending).
		Updates(values)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
		return
	}
	offer.Status = consultapi.OfferAccepted
	offer.AcceptedAt = &now
	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

// DeclineOffer is the candidate turning the offer down. Terminal.
func DeclineOffer(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
	}
	var offer consultapi.Offer
	res := app.Db.Where("id = ?", id).First(&offer)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "offer not found"})
		return
	}
	if offer.CandidateId != user.Id {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your offer"})
		return
	}
	res = app.Db.Model(&consultapi.Offer{}).
		Where("id = ? AND status = ?", offer.Id, consultapi.OfferPending).
		Update("status", consultapi.OfferDeclined)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
		return
	}
	offer.Status = consultapi.OfferDeclined
	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

// ConfirmOffer pays the flat first-contact bonus. The confirmer must not be
// the reporter. The transfer-recorded guard makes a second confirmation a
// no-op even if both land on an accepted offer at the same time.
func ConfirmOffer(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
	}

	tx := app.Db.Begin()
	defer func() {
		tx.Rollback()
	}()

	var offer consultapi.Offer
	res := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&offer)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "offer not found"})
		return
	}
	if offer.ReportedBy == user.Id {
		c.JSON(http.StatusForbidden, gin.H{"error": "reporter cannot confirm"})
		return
	}
	if offer.Status != consultapi.OfferAccepted {
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
		return
	}
	if offer.TransferId != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "payout_already_executed"})
		return
	}
	var pro consultapi.User
	res = tx.Where("id = ?", offer.ProfessionalId).First(&pro)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "professional not found"})
		return
	}

	transferId, err := app.Gw.Transfer(pro.PayoutAccountId, offer.BonusCents, map[string]string{
		"offer_id": fmt.Sprintf("%d", offer.Id),
		"kind":     "offer_bonus",
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "transfer_failed"})
		return
	}

	now := time.Now()
	offer.Status = consultapi.OfferBonusPaid
	offer.ConfirmedBy = user.Id
	offer.TransferId = transferId
	offer.PaidAt = &now
	res = tx.Save(&offer)
	if res.Error != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Error})
		return
	}
	res = tx.Commit()
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error})
		return
	}

	cpUrl := os.Getenv("CP_URL")
	msg := fmt.Sprintf(
		`Offer bonus paid [Offer: %d](%s/offers/%d)
Professional: %d
Firm: %s
Bonus: %s`,
		offer.Id,
		cpUrl,
		offer.Id,
		offer.ProfessionalId,
		consultapi.EscapeMarkdownV2(offer.Firm),
		consultapi.EscapeMarkdownV2(consultapi.FormatCents(offer.BonusCents)),
	)
	_ = consultapi.SendTelegramMessage(msg, "finance")

	c.JSON(http.StatusOK, gin.H{"offer": offer})
}

// GetOffers lists offers the caller is party to.
func GetOffers(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	q := app.Db.Model(&consultapi.Offer{})
	if user.Role == consultapi.RoleProfessional {
		q = q.Where("professional_id = ? OR reported_by = ?", user.Id, user.Id)
	} else {
		q = q.Where("candidate_id = ?", user.Id)
	}
	var offers []consultapi.Offer
	q.Order("id desc").Limit(100).Find(&offers)
	c.JSON(http.StatusOK, gin.H{"offers": offers})
}
