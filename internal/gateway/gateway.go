package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Client talks to the payment processor's REST API: payment capture for
// bookings and transfers to connected payout accounts. Every write carries a
// fresh idempotence key so a retried HTTP call cannot move money twice on the
// processor side.
type Client struct {
	ApiKey        string
	WebhookSecret string
	Http          *resty.Client
}

func New() *Client {
	baseURL := os.Getenv("PAYMENT_API_URL")
	if baseURL == "" {
		baseURL = "https://api.paygrid.dev/v1"
	}
	return &Client{
		ApiKey:        os.Getenv("PAYMENT_API_KEY"),
		WebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		Http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15 * time.Second),
	}
}

type paymentIntentRequest struct {
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Capture     bool              `json:"capture"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type paymentIntentResponse struct {
	Id     string `json:"id"`
	Status string `json:"status"`
}

// CapturePayment charges the candidate for a session up front and returns the
// payment intent id. Confirmation arrives asynchronously via webhook.
func (c *Client) CapturePayment(sessionId uint, amountCents int64) (string, error) {
	var out paymentIntentResponse
	resp, err := c.Http.R().
		SetHeader("Idempotence-Key", uuid.New().String()).
		SetAuthToken(c.ApiKey).
		SetBody(paymentIntentRequest{
			AmountCents: amountCents,
			Currency:    "usd",
			Capture:     true,
			Metadata: map[string]string{
				"session_id": fmt.Sprintf("%d", sessionId),
			},
		}).
		SetResult(&out).
		Post("/payment_intents")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("capture failed: %s (status %d)", resp.String(), resp.StatusCode())
	}
	if out.Id == "" {
		return "", errors.New("capture response missing intent id")
	}
	return out.Id, nil
}

type transferRequest struct {
	Destination string            `json:"destination"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type transferResponse struct {
	Id string `json:"id"`
}

// Transfer moves amountCents to a connected payout account and returns the
// transfer id the ledger records.
func (c *Client) Transfer(destinationAccountId string, amountCents int64, metadata map[string]string) (string, error) {
	if destinationAccountId == "" {
		return "", errors.New("destination payout account is not set")
	}
	var out transferResponse
	resp, err := c.Http.R().
		SetHeader("Idempotence-Key", uuid.New().String()).
		SetAuthToken(c.ApiKey).
		SetBody(transferRequest{
			Destination: destinationAccountId,
			AmountCents: amountCents,
			Currency:    "usd",
			Metadata:    metadata,
		}).
		SetResult(&out).
		Post("/transfers")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("transfer failed: %s (status %d)", resp.String(), resp.StatusCode())
	}
	if out.Id == "" {
		return "", errors.New("transfer response missing id")
	}
	return out.Id, nil
}

var ErrBadSignature = errors.New("bad webhook signature")

// VerifySignature checks an HMAC-SHA256 hex signature over the raw payload.
// Constant-time compare; used for both the payment processor and the meeting
// provider (each with its own secret).
func VerifySignature(secret string, payload []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// VerifyWebhookSignature checks a payment-processor webhook against the
// configured secret.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) error {
	return VerifySignature(c.WebhookSecret, payload, signature)
}
