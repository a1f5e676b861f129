package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"consult-backend/internal/consultapi"
	"consult-backend/internal/gateway"
)

// PaymentWebhook ingests payment-processor events. Signature verification
// fails closed: a missing or wrong signature is rejected before the payload is
// parsed. Duplicates and out-of-order deliveries answer 200 so the processor
// stops retrying; only real processing failures answer 5xx.
func PaymentWebhook(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}
	signature := c.GetHeader("Webhook-Signature")
	if err := app.Gw.VerifyWebhookSignature(payload, signature); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "signature_verification_failed"})
		return
	}

	ev, err := gateway.ParseWebhook(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	var eventType consultapi.EventType
	switch ev.Type {
	case gateway.EventPaymentSucceeded:
		eventType = consultapi.EventPaymentSucceeded
	case gateway.EventPaymentFailed:
		eventType = consultapi.EventPaymentFailed
	default:
		// Not part of the closed event set. Acknowledged so the processor
		// does not retry; never an error.
		fmt.Println("payment webhook: ignoring event type", ev.Type)
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}

	session, found := resolvePaymentSession(app, ev)
	if !found {
		// The intent references nothing we know. Retrying cannot fix that;
		// acknowledge and leave the trace in the logs.
		fmt.Println("payment webhook: no session for intent", ev.Data.Object.Id)
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}

	cur, err := sessionMachine(app).Apply(consultapi.SessionEvent{
		Type:            eventType,
		SessionId:       session.Id,
		Reason:          ev.Data.Object.FailureMessage,
		PaymentIntentId: ev.Data.Object.Id,
	})
	if err != nil && !errors.Is(err, consultapi.ErrDuplicateEvent) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": cur.Id, "status": cur.Status})
}

func resolvePaymentSession(app *consultapi.App, ev gateway.WebhookEvent) (consultapi.Session, bool) {
	store := consultapi.NewLedgerStore(app.Db)
	if raw, ok := ev.Data.Object.Metadata["session_id"]; ok {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			if s, err := store.GetSession(uint(id)); err == nil {
				return s, true
			}
		}
	}
	if s, err := store.SessionByPaymentIntent(ev.Data.Object.Id); err == nil {
		return s, true
	}
	return consultapi.Session{}, false
}

// MeetingWebhook ingests meeting-provider events, keyed by the provider's
// meeting id. The redis cache written by SetMeeting resolves the session
// first; the ledger row is the fallback when the cache is cold.
func MeetingWebhook(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}
	signature := c.GetHeader("Webhook-Signature")
	if err := gateway.VerifySignature(os.Getenv("MEETING_WEBHOOK_SECRET"), payload, signature); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "signature_verification_failed"})
		return
	}

	ev, err := gateway.ParseMeetingWebhook(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	if ev.Type != gateway.EventMeetingEnded {
		fmt.Println("meeting webhook: ignoring event type", ev.Type)
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}

	session, found := resolveMeetingSession(app, ev.MeetingId)
	if !found {
		fmt.Println("meeting webhook: no session for meeting", ev.MeetingId)
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}

	cur, err := sessionMachine(app).Apply(consultapi.SessionEvent{
		Type:            consultapi.EventMeetingEnded,
		SessionId:       session.Id,
		DurationMinutes: ev.DurationMinutes,
	})
	if err != nil && !errors.Is(err, consultapi.ErrDuplicateEvent) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": cur.Id, "status": cur.Status})
}

func resolveMeetingSession(app *consultapi.App, meetingId string) (consultapi.Session, bool) {
	store := consultapi.NewLedgerStore(app.Db)
	cached, err := app.Rdb.Get(context.Background(), "meeting:"+meetingId).Result()
	if err == nil && cached != "" {
		if id, perr := strconv.ParseUint(cached, 10, 64); perr == nil {
			if s, gerr := store.GetSession(uint(id)); gerr == nil {
				return s, true
			}
		}
	}
	if s, err := store.SessionByMeetingId(meetingId); err == nil {
		return s, true
	}
	return consultapi.Session{}, false
}
