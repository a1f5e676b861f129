package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"consult-backend/internal/consultapi"
)

// Handler owns the background side of the engine: notification delivery,
// asynchronous feedback review and the reconciliation sweep.
type Handler struct {
	App  *consultapi.App
	Ai   *openai.Client
	pool *Pool
}

func NewHandler(app *consultapi.App) *Handler {
	var ai *openai.Client
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		ai = openai.NewClient(key)
	}
	return &Handler{
		App:  app,
		Ai:   ai,
		pool: NewPool(4, 256),
	}
}

// notifyJob delivers one notification payload to one user's channel. Fanned
// out through the pool so a slow redis round trip never blocks the asynq
// handler.
type notifyJob struct {
	Rdb     *redis.Client
	UserId  uint
	Payload []byte
}

func (j notifyJob) Execute() {
	err := j.Rdb.Publish(
		context.Background(),
		fmt.Sprintf("notification_ch@%d", j.UserId),
		j.Payload,
	).Err()
	if err != nil {
		log.Println("notify publish failed:", err)
	}
}

// HandleNotificationDeliver fans a transition notification out to every party
// of the session. Payout completions additionally go to the default operator
// channel.
func (h *Handler) HandleNotificationDeliver(ctx context.Context, t *asynq.Task) error {
	var task consultapi.NotificationTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("notification payload: %v: %w", err, asynq.SkipRetry)
	}
	for _, userId := range task.UserIds {
		h.pool.Exec(notifyJob{
			Rdb:     h.App.Rdb,
			UserId:  userId,
			Payload: t.Payload(),
		})
	}
	if task.Kind == consultapi.NotifyPayoutCompleted {
		msg := fmt.Sprintf(
			`Notification delivered: payout completed
Session: %d`,
			task.SessionId,
		)
		_ = consultapi.SendTelegramMessage(msg, "")
	}
	return nil
}

// HandleFeedbackReview asks the model for a short quality note on the
// professional's feedback and stores it on the record. Best effort: a failed
// review never blocks anything, asynq just retries later.
func (h *Handler) HandleFeedbackReview(ctx context.Context, t *asynq.Task) error {
	var task consultapi.FeedbackReviewTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("review payload: %v: %w", err, asynq.SkipRetry)
	}
	if h.Ai == nil {
		return nil
	}
	var fb consultapi.ProfessionalFeedback
	res := h.App.Db.Where("session_id = ?", task.SessionId).First(&fb)
	if res.RowsAffected != 1 {
		return fmt.Errorf("no feedback for session %d: %w", task.SessionId, asynq.SkipRetry)
	}
	if fb.ReviewNote != "" {
		return nil
	}

	prompt := fmt.Sprintf(
		"Review the quality of this post-session feedback a professional wrote for a candidate. "+
			"Reply with one concise note, up to 200 characters, on whether it is specific and actionable.\n\n"+
			"Ratings: technical %d/5, communication %d/5, overall %d/5\nFeedback: %s",
		fb.TechnicalRating,
		fb.CommunicationRating,
		fb.OverallRating,
		fb.Feedback,
	)
	resp, err := h.Ai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: openai.GPT3Dot5Turbo,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens: 120,
	})
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return nil
	}
	fb.ReviewNote = resp.Choices[0].Message.Content
	h.App.Db.Save(&fb)
	return nil
}

// ReconciliationSweep alerts finance about sessions whose payout committed
// partially. Runs until the process stops; the alert repeats every sweep until
// an operator clears the flag.
func (h *Handler) ReconciliationSweep() {
	for {
		var stuck []consultapi.Session
		h.App.Db.Where("needs_reconciliation = ?", true).Find(&stuck)
		for _, s := range stuck {
			msg := fmt.Sprintf(
				`Session %d still needs reconciliation
Payout transfer: %s
Paid to professional: %s`,
				s.Id,
				consultapi.EscapeMarkdownV2(s.PayoutTransferId),
				consultapi.EscapeMarkdownV2(consultapi.FormatCents(s.PayoutCents)),
			)
			_ = consultapi.SendTelegramMessage(msg, "finance")
		}
		time.Sleep(10 * time.Minute)
	}
}

// Run starts the task server. Blocks.
func Run() {
	app := consultapi.Init()
	h := NewHandler(app)

	go h.ReconciliationSweep()

	srv := consultapi.SetupAsynqServer(10)
	mux := asynq.NewServeMux()
	mux.HandleFunc(consultapi.TypeNotificationDeliver, h.HandleNotificationDeliver)
	mux.HandleFunc(consultapi.TypeFeedbackReview, h.HandleFeedbackReview)

	fmt.Println("[ Consult Worker is up ]")
	if err := srv.Run(mux); err != nil {
		log.Fatal("Failed to run Consult Worker: ", err)
	}
}
