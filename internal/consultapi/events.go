package consultapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type EventType string

// Session events, the closed set webhook payloads and API calls are parsed
// into before they reach the state machine.
const (
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventPaymentFailed        EventType = "payment_failed"
	EventMeetingEnded         EventType = "meeting_ended"
	EventProfessionalDeclined EventType = "professional_declined"
	EventCandidateCancelled   EventType = "candidate_cancelled"
	EventFeedbackSubmitted    EventType = "feedback_submitted"
)

type SessionEvent struct {
	Type            EventType
	SessionId       uint
	Reason          string
	PaymentIntentId string
	DurationMinutes int
}

// Notification kinds emitted to the external notification system. Payload is
// session id plus new status; delivery and formatting live elsewhere.
const (
	NotifySessionConfirmed = "session.confirmed"
	NotifySessionCompleted = "session.completed"
	NotifySessionCancelled = "session.cancelled"
	NotifyPayoutCompleted  = "payout.completed"
)

const (
	TypeNotificationDeliver = "notification:deliver"
	TypeFeedbackReview      = "feedback:review"
)

type FeedbackReviewTask struct {
	SessionId uint `json:"session_id"`
}

type NotificationTask struct {
	Kind      string `json:"kind"`
	SessionId uint   `json:"session_id"`
	Status    string `json:"status"`
	UserIds   []uint `json:"user_ids"`
}

// Notifier hands transition notifications to the worker through asynq and
// mirrors them onto the per-user redis channels feeding /ws. Fire and forget:
// a failed enqueue is logged, never propagated into the transition.
type Notifier struct {
	Aqc *asynq.Client
	Rdb *redis.Client
}

func (n *Notifier) Emit(kind string, s Session) {
	if n == nil {
		return
	}
	payload, err := json.Marshal(NotificationTask{
		Kind:      kind,
		SessionId: s.Id,
		Status:    s.Status,
		UserIds:   []uint{s.CandidateId, s.ProfessionalId},
	})
	if err != nil {
		return
	}
	if n.Aqc != nil {
		_, err = n.Aqc.Enqueue(asynq.NewTask(TypeNotificationDeliver, payload), asynq.Queue("notify"))
		if err != nil {
			log.Println("notify enqueue failed:", err)
		}
	}
	if n.Rdb != nil {
		for _, userId := range []uint{s.CandidateId, s.ProfessionalId} {
			_ = n.Rdb.Publish(context.Background(), fmt.Sprintf("notification_ch@%d", userId), payload).Err()
		}
	}
}
