package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"consult-backend/internal/consultapi"
)

type createSessionParams struct {
	ProfessionalId uint   `json:"professional_id" binding:"required"`
	ScheduledAt    string `json:"scheduled_at" binding:"required"`
	Message        string `json:"message" validate:"max=2000"`
	// ReferrerSlug credits the professional whose invite link led the candidate
	// to this booking. The bonus chain is anchored here.
	ReferrerSlug string `json:"referrer_slug" validate:"max=8"`
}

type cancelParams struct {
	Reason string `json:"reason" validate:"max=500"`
}

type meetingParams struct {
	MeetingId string `json:"meeting_id" binding:"required" validate:"max=100"`
}

type PaginatedSessions struct {
	Items []consultapi.Session `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

func notifier(app *consultapi.App) *consultapi.Notifier {
	return &consultapi.Notifier{Aqc: app.Aqc, Rdb: app.Rdb}
}

func sessionMachine(app *consultapi.App) *consultapi.Machine {
	return &consultapi.Machine{
		Store:    consultapi.NewLedgerStore(app.Db),
		Notifier: notifier(app),
	}
}

// respondTransition maps machine outcomes onto stable response codes.
// Duplicates answer 200 on purpose: the caller's retry already succeeded.
func respondTransition(c *gin.Context, s consultapi.Session, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"session": s})
	case errors.Is(err, consultapi.ErrDuplicateEvent):
		c.JSON(http.StatusOK, gin.H{"session": s, "duplicate": true})
	case errors.Is(err, consultapi.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
	case errors.Is(err, consultapi.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
	case errors.Is(err, consultapi.ErrFeedbackExists):
		c.JSON(http.StatusConflict, gin.H{"error": "feedback_exists"})
	case errors.Is(err, consultapi.ErrPayoutAlreadyExecuted):
		c.JSON(http.StatusConflict, gin.H{"error": "payout_already_executed"})
	default:
		var tf *consultapi.TransferFailedError
		if errors.As(err, &tf) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "transfer_failed", "stage": tf.Stage})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func sessionIdParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return uint(id), true
}

// CreateSession books a session with a professional. The session starts in
// requested and a payment capture is issued immediately; confirmation arrives
// through the payment webhook, never from this handler.
func CreateSession(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	candidate, ok := currentUser(c, app)
	if !ok {
		return
	}
	var p createSessionParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, p.ScheduledAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scheduled_at"})
		return
	}
	if scheduledAt.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_at in the past"})
		return
	}

	var pro consultapi.User
	res := app.Db.Where("id = ? AND role = ?", p.ProfessionalId, consultapi.RoleProfessional).First(&pro)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "professional not found"})
		return
	}
	limits := app.Cfg.Settings.Limits
	if pro.RateCents < limits.RateMinCents || pro.RateCents > limits.RateMaxCents {
		c.JSON(http.StatusBadRequest, gin.H{"error": "professional rate out of bounds"})
		return
	}

	referrerProId := uint(0)
	if p.ReferrerSlug != "" {
		var referrer consultapi.User
		res = app.Db.Where("ref_slug = ? AND role = ?",
			p.ReferrerSlug,
			consultapi.RoleProfessional,
		).First(&referrer)
		if res.RowsAffected == 1 && referrer.Id != pro.Id {
			referrerProId = referrer.Id
		}
	}

	// The rate and the referral anchor are frozen at booking time. Later edits
	// to the professional's profile must not change what this session pays.
	session := consultapi.Session{
		CandidateId:    candidate.Id,
		ProfessionalId: pro.Id,
		ReferrerProId:  referrerProId,
		ScheduledAt:    scheduledAt,
		RateCents:      pro.RateCents,
		Status:         consultapi.SessionRequested,
		RequestMessage: p.Message,
	}
	res = app.Db.Create(&session)
	if res.Error != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Error})
		return
	}

	intentId, err := app.Gw.CapturePayment(session.Id, session.RateCents)
	if err != nil {
		// Booking stands; acceptance retries the capture.
		fmt.Println("payment capture failed for session", session.Id, err)
	} else {
		session.PaymentIntentId = intentId
		app.Db.Save(&session)
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

// AcceptSession is the professional taking the booking. Acceptance re-issues
// the payment capture if the one at booking time failed; the transition to
// confirmed still belongs to the payment webhook.
func AcceptSession(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
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
	if s.Status != consultapi.SessionRequested {
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
		return
	}
	if s.PaymentIntentId == "" {
		intentId, err := app.Gw.CapturePayment(s.Id, s.RateCents)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "capture_failed"})
			return
		}
		s.PaymentIntentId = intentId
		app.Db.Save(&s)
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

// DeclineSession cancels a booking from the professional's side.
func DeclineSession(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
	}
	var p cancelParams
	_ = c.ShouldBindJSON(&p)

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
	cur, err := sessionMachine(app).Apply(consultapi.SessionEvent{
		Type:      consultapi.EventProfessionalDeclined,
		SessionId: s.Id,
		Reason:    p.Reason,
	})
	respondTransition(c, cur, err)
}

// CancelSession cancels a booking from the candidate's side.
func CancelSession(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
	}
	var p cancelParams
	_ = c.ShouldBindJSON(&p)

	var s consultapi.Session
	res := app.Db.Where("id = ?", id).First(&s)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	if s.CandidateId != user.Id {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return
	}
	cur, err := sessionMachine(app).Apply(consultapi.SessionEvent{
		Type:      consultapi.EventCandidateCancelled,
		SessionId: s.Id,
		Reason:    p.Reason,
	})
	respondTransition(c, cur, err)
}

// CompleteSession is the professional's manual fallback for a meeting-ended
// webhook that never arrived. Same event, same machine, same idempotency.
func CompleteSession(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
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
	cur, err := sessionMachine(app).Apply(consultapi.SessionEvent{
		Type:      consultapi.EventMeetingEnded,
		SessionId: s.Id,
	})
	respondTransition(c, cur, err)
}

// SetMeeting attaches the meeting provider's room id to a session so the
// meeting-ended webhook can be routed back. Cached in redis; the ledger row is
// the fallback when the cache is cold.
func SetMeeting(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
	}
	var p meetingParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
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
	if consultapi.SessionTerminal(s.Status) {
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
		return
	}
	s.MeetingId = p.MeetingId
	res = app.Db.Save(&s)
	if res.Error != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Error})
		return
	}
	app.Rdb.Set(context.Background(), "meeting:"+p.MeetingId, s.Id, 72*time.Hour)
	c.JSON(http.StatusOK, gin.H{"session": s})
}

// GetSession returns one session to either of its parties.
func GetSession(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	id, ok := sessionIdParam(c)
	if !ok {
		return
	}
	var s consultapi.Session
	res := app.Db.Where("id = ?", id).First(&s)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	if s.CandidateId != user.Id && s.ProfessionalId != user.Id {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

// GetSessions lists the caller's sessions, newest first.
func GetSessions(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := app.Db.Model(&consultapi.Session{})
	if user.Role == consultapi.RoleProfessional {
		q = q.Where("professional_id = ?", user.Id)
	} else {
		q = q.Where("candidate_id = ?", user.Id)
	}
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	q.Count(&total)
	var items []consultapi.Session
	q.Order("id desc").Offset((page - 1) * limit).Limit(limit).Find(&items)

	c.JSON(http.StatusOK, PaginatedSessions{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}
