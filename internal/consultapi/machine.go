package consultapi

import (
	"time"
)

// Machine owns the session lifecycle:
//
//	requested -> confirmed -> completed
//	requested|confirmed -> cancelled
//
// completed and cancelled are terminal. Every transition is a single
// conditional write keyed on the current status, so two concurrent events can
// never both win a transition that should happen once.
type Machine struct {
	Store    SessionStore
	Notifier *Notifier
	// RunPayout executes the payout for a session whose FeedbackSubmitted
	// event passed the gate. Wired to Executor.Execute in production.
	RunPayout func(s Session) error
}

// Apply dispatches one event. The duplicate guard sits here, at the top, so
// idempotency is a property of the dispatcher and not of each call site:
// webhook retries and reordered deliveries resolve to ErrDuplicateEvent, which
// callers treat as success.
func (m *Machine) Apply(ev SessionEvent) (Session, error) {
	s, err := m.Store.GetSession(ev.SessionId)
	if err != nil {
		return Session{}, err
	}

	now := time.Now()
	var target, kind string
	set := map[string]interface{}{}

	switch ev.Type {
	case EventPaymentSucceeded:
		// Primary defense against duplicate webhook delivery: anything past
		// requested means the payment already took effect (or the session is
		// gone and the money question belongs to reconciliation, not here).
		if s.Status != SessionRequested {
			return s, ErrDuplicateEvent
		}
		target, kind = SessionConfirmed, NotifySessionConfirmed
		set["paid_at"] = now
		if ev.PaymentIntentId != "" {
			set["payment_intent_id"] = ev.PaymentIntentId
		}

	case EventPaymentFailed:
		if s.Status != SessionRequested {
			return s, ErrDuplicateEvent
		}
		target, kind = SessionCancelled, NotifySessionCancelled
		set["cancel_reason"] = ev.Reason

	case EventMeetingEnded:
		if s.Status == SessionCompleted {
			return s, ErrDuplicateEvent
		}
		if s.Status != SessionConfirmed {
			// Out-of-order delivery; the provider's retry must not see an
			// error for this.
			return s, ErrDuplicateEvent
		}
		target, kind = SessionCompleted, NotifySessionCompleted
		set["completed_at"] = now

	case EventProfessionalDeclined, EventCandidateCancelled:
		if s.Status == SessionCancelled {
			return s, ErrDuplicateEvent
		}
		if s.Status == SessionCompleted {
			return s, ErrInvalidTransition
		}
		target, kind = SessionCancelled, NotifySessionCancelled
		set["cancel_reason"] = ev.Reason

	case EventFeedbackSubmitted:
		// Does not change status; gates the payout instead.
		if s.Status != SessionCompleted {
			return s, ErrInvalidTransition
		}
		if s.FeedbackSubmittedAt != nil {
			return s, ErrFeedbackExists
		}
		if m.RunPayout != nil {
			if err := m.RunPayout(s); err != nil {
				return s, err
			}
		}
		return m.Store.GetSession(s.Id)

	default:
		return s, ErrInvalidTransition
	}

	ok, err := m.Store.TransitionSession(s.Id, s.Status, target, set)
	if err != nil {
		return s, err
	}
	if !ok {
		// A concurrent event won the conditional write. The reloaded state
		// tells the caller what actually happened; for the external system
		// this is just another duplicate.
		cur, gerr := m.Store.GetSession(s.Id)
		if gerr != nil {
			return s, gerr
		}
		return cur, ErrDuplicateEvent
	}

	cur, err := m.Store.GetSession(s.Id)
	if err != nil {
		return s, err
	}
	m.Notifier.Emit(kind, cur)
	return cur, nil
}
