package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"consult-backend/internal/consultapi"
)

type feedbackParams struct {
	TechnicalRating     int    `json:"technical_rating" binding:"required"`
	CommunicationRating int    `json:"communication_rating" binding:"required"`
	OverallRating       int    `json:"overall_rating" binding:"required"`
	Feedback            string `json:"feedback" binding:"required" validate:"max=5000"`
	InternalNotes       string `json:"internal_notes" validate:"max=5000"`
}

// SubmitFeedback accepts the professional's post-session feedback and triggers
// the payout. The state machine gates the event; the executor moves the money.
// Submitting twice answers 409, a transfer failure 502 with the session left
// retryable or flagged for reconciliation depending on the failed stage.
func SubmitFeedback(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
	}
	var p feedbackParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, r := range []int{p.TechnicalRating, p.CommunicationRating, p.OverallRating} {
		if !consultapi.ValidRating(r) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rating out of range"})
			return
		}
	}

	var s consultapi.Session
	res := app.Db.Where("id = ?", id).First(&s)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	if s.ProfessionalId != user.Id {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return
	}

	fb := consultapi.ProfessionalFeedback{
		TechnicalRating:     p.TechnicalRating,
		CommunicationRating: p.CommunicationRating,
		OverallRating:       p.OverallRating,
		Feedback:            p.Feedback,
		InternalNotes:       p.InternalNotes,
	}
	executor := &consultapi.Executor{
		Db:       app.Db,
		Gw:       app.Gw,
		Cfg:      app.Cfg,
		Notifier: notifier(app),
	}
	machine := sessionMachine(app)
	machine.RunPayout = func(cur consultapi.Session) error {
		return executor.Execute(cur.Id, fb)
	}

	cur, err := machine.Apply(consultapi.SessionEvent{
		Type:      consultapi.EventFeedbackSubmitted,
		SessionId: s.Id,
	})
	if err != nil {
		respondTransition(c, cur, err)
		return
	}

	payload, merr := json.Marshal(consultapi.FeedbackReviewTask{SessionId: cur.Id})
	if merr == nil && app.Aqc != nil {
		_, qerr := app.Aqc.Enqueue(asynq.NewTask(consultapi.TypeFeedbackReview, payload), asynq.Queue("review"))
		if qerr != nil {
			fmt.Println("feedback review enqueue failed:", qerr)
		}
	}
	c.JSON(http.StatusOK, gin.H{"session": cur})
}
