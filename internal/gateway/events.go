package gateway

import "encoding/json"

// Payment processor webhook event types the engine understands. Anything else
// is logged and dropped at the ingestion boundary.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

type WebhookEvent struct {
	Id   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Id             string            `json:"id"`
			AmountCents    int64             `json:"amount_cents"`
			Metadata       map[string]string `json:"metadata"`
			FailureMessage string            `json:"failure_message"`
		} `json:"object"`
	} `json:"data"`
}

func ParseWebhook(payload []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	err := json.Unmarshal(payload, &ev)
	return ev, err
}

// Meeting provider events.
const EventMeetingEnded = "meeting.ended"

type MeetingEvent struct {
	Type            string `json:"type"`
	MeetingId       string `json:"meeting_id"`
	DurationMinutes int    `json:"duration_minutes"`
}

func ParseMeetingWebhook(payload []byte) (MeetingEvent, error) {
	var ev MeetingEvent
	err := json.Unmarshal(payload, &ev)
	return ev, err
}
