package consultapi

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// memStore is the in-memory SessionStore used by machine tests. Same
// conditional-write contract as the gorm ledger.
type memStore struct {
	mu       sync.Mutex
	sessions map[uint]Session
}

func newMemStore(sessions ...Session) *memStore {
	m := &memStore{sessions: map[uint]Session{}}
	for _, s := range sessions {
		m.sessions[s.Id] = s
	}
	return m
}

func (m *memStore) GetSession(id uint) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) TransitionSession(id uint, from string, to string, set map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	for k, v := range set {
		switch k {
		case "paid_at":
			at := v.(time.Time)
			s.PaidAt = &at
		case "completed_at":
			at := v.(time.Time)
			s.CompletedAt = &at
		case "cancel_reason":
			s.CancelReason = v.(string)
		case "payment_intent_id":
			s.PaymentIntentId = v.(string)
		}
	}
	s.Version++
	m.sessions[id] = s
	return true, nil
}

func (m *memStore) markFeedback(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	now := time.Now()
	s.FeedbackSubmittedAt = &now
	m.sessions[id] = s
}

func TestMachineHappyPath(t *testing.T) {
	t.Parallel()
	store := newMemStore(Session{Id: 1, Status: SessionRequested})
	payouts := 0
	m := &Machine{
		Store: store,
		RunPayout: func(s Session) error {
			payouts++
			store.markFeedback(s.Id)
			return nil
		},
	}

	s, err := m.Apply(SessionEvent{Type: EventPaymentSucceeded, SessionId: 1, PaymentIntentId: "pi_1"})
	if err != nil {
		t.Fatalf("payment succeeded: %v", err)
	}
	if s.Status != SessionConfirmed {
		t.Fatalf("status = %q, want %q", s.Status, SessionConfirmed)
	}
	if s.PaidAt == nil || s.PaymentIntentId != "pi_1" {
		t.Errorf("payment not recorded: paid_at=%v intent=%q", s.PaidAt, s.PaymentIntentId)
	}

	s, err = m.Apply(SessionEvent{Type: EventMeetingEnded, SessionId: 1})
	if err != nil {
		t.Fatalf("meeting ended: %v", err)
	}
	if s.Status != SessionCompleted || s.CompletedAt == nil {
		t.Fatalf("status = %q completed_at = %v", s.Status, s.CompletedAt)
	}

	s, err = m.Apply(SessionEvent{Type: EventFeedbackSubmitted, SessionId: 1})
	if err != nil {
		t.Fatalf("feedback submitted: %v", err)
	}
	if payouts != 1 {
		t.Errorf("payouts = %d, want 1", payouts)
	}
	if s.FeedbackSubmittedAt == nil {
		t.Error("feedback_submitted_at not set")
	}
}

func TestMachinePaymentDuplicate(t *testing.T) {
	t.Parallel()
	store := newMemStore(Session{Id: 1, Status: SessionRequested})
	m := &Machine{Store: store}

	if _, err := m.Apply(SessionEvent{Type: EventPaymentSucceeded, SessionId: 1}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	for i := 0; i < 3; i++ {
		s, err := m.Apply(SessionEvent{Type: EventPaymentSucceeded, SessionId: 1})
		if !errors.Is(err, ErrDuplicateEvent) {
			t.Fatalf("redelivery %d: err = %v, want ErrDuplicateEvent", i, err)
		}
		if s.Status != SessionConfirmed {
			t.Fatalf("redelivery %d moved status to %q", i, s.Status)
		}
		if s.Version != 1 {
			t.Fatalf("redelivery %d bumped version to %d", i, s.Version)
		}
	}
}

func TestMachinePaymentFailedAfterConfirm(t *testing.T) {
	t.Parallel()
	store := newMemStore(Session{Id: 1, Status: SessionConfirmed})
	m := &Machine{Store: store}

	s, err := m.Apply(SessionEvent{Type: EventPaymentFailed, SessionId: 1, Reason: "card declined"})
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("err = %v, want ErrDuplicateEvent", err)
	}
	if s.Status != SessionConfirmed {
		t.Errorf("late failure cancelled a confirmed session: %q", s.Status)
	}
	if s.CancelReason != "" {
		t.Errorf("cancel reason recorded on no-op: %q", s.CancelReason)
	}
}

func TestMachineMeetingEndedBeforeConfirm(t *testing.T) {
	t.Parallel()
	store := newMemStore(Session{Id: 1, Status: SessionRequested})
	m := &Machine{Store: store}

	s, err := m.Apply(SessionEvent{Type: EventMeetingEnded, SessionId: 1})
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("err = %v, want ErrDuplicateEvent", err)
	}
	if s.Status != SessionRequested {
		t.Errorf("out-of-order delivery moved status to %q", s.Status)
	}
}

func TestMachineFeedbackBeforeCompleted(t *testing.T) {
	t.Parallel()
	store := newMemStore(Session{Id: 1, Status: SessionConfirmed})
	payouts := 0
	m := &Machine{
		Store: store,
		RunPayout: func(s Session) error {
			payouts++
			return nil
		},
	}

	_, err := m.Apply(SessionEvent{Type: EventFeedbackSubmitted, SessionId: 1})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if payouts != 0 {
		t.Errorf("payout ran %d times on a confirmed session", payouts)
	}
}

func TestMachineCancelTerminal(t *testing.T) {
	t.Parallel()
	store := newMemStore(
		Session{Id: 1, Status: SessionCompleted},
		Session{Id: 2, Status: SessionCancelled},
	)
	m := &Machine{Store: store}

	if _, err := m.Apply(SessionEvent{Type: EventCandidateCancelled, SessionId: 1}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel on completed: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.Apply(SessionEvent{Type: EventProfessionalDeclined, SessionId: 2}); !errors.Is(err, ErrDuplicateEvent) {
		t.Errorf("decline on cancelled: err = %v, want ErrDuplicateEvent", err)
	}
}

func TestMachinePayoutOnce(t *testing.T) {
	t.Parallel()
	store := newMemStore(Session{Id: 1, Status: SessionCompleted})
	payouts := 0
	m := &Machine{
		Store: store,
		RunPayout: func(s Session) error {
			payouts++
			store.markFeedback(s.Id)
			return nil
		},
	}

	if _, err := m.Apply(SessionEvent{Type: EventFeedbackSubmitted, SessionId: 1}); err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if _, err := m.Apply(SessionEvent{Type: EventFeedbackSubmitted, SessionId: 1}); !errors.Is(err, ErrFeedbackExists) {
		t.Fatalf("second submission: err = %v, want ErrFeedbackExists", err)
	}
	if payouts != 1 {
		t.Errorf("payouts = %d, want 1", payouts)
	}
}

func TestMachinePayoutFailureRetryable(t *testing.T) {
	t.Parallel()
	store := newMemStore(Session{Id: 1, Status: SessionCompleted})
	fail := true
	m := &Machine{
		Store: store,
		RunPayout: func(s Session) error {
			if fail {
				return &TransferFailedError{SessionId: s.Id, Stage: "payout", Err: errors.New("gateway down")}
			}
			store.markFeedback(s.Id)
			return nil
		},
	}

	_, err := m.Apply(SessionEvent{Type: EventFeedbackSubmitted, SessionId: 1})
	var tf *TransferFailedError
	if !errors.As(err, &tf) {
		t.Fatalf("err = %v, want TransferFailedError", err)
	}

	fail = false
	s, err := m.Apply(SessionEvent{Type: EventFeedbackSubmitted, SessionId: 1})
	if err != nil {
		t.Fatalf("retry after transfer failure: %v", err)
	}
	if s.FeedbackSubmittedAt == nil {
		t.Error("retry did not record feedback")
	}
}

func TestMachineConcurrentPayment(t *testing.T) {
	t.Parallel()
	store := newMemStore(Session{Id: 1, Status: SessionRequested})
	m := &Machine{Store: store}

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, duplicates := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Apply(SessionEvent{Type: EventPaymentSucceeded, SessionId: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrDuplicateEvent):
				duplicates++
			default:
				t.Errorf("unexpected err: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if duplicates != n-1 {
		t.Errorf("duplicates = %d, want %d", duplicates, n-1)
	}
	s, _ := store.GetSession(1)
	if s.Version != 1 {
		t.Errorf("version = %d, want 1", s.Version)
	}
}

func TestMachineUnknownEvent(t *testing.T) {
	t.Parallel()
	store := newMemStore(Session{Id: 1, Status: SessionRequested})
	m := &Machine{Store: store}
	if _, err := m.Apply(SessionEvent{Type: EventType("weird"), SessionId: 1}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestMachineSessionMissing(t *testing.T) {
	t.Parallel()
	m := &Machine{Store: newMemStore()}
	if _, err := m.Apply(SessionEvent{Type: EventPaymentSucceeded, SessionId: 99}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}
