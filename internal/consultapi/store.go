package consultapi

import (
	"errors"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session_not_found")

// SessionStore is the slice of the ledger the state machine needs. The
// production implementation wraps gorm; tests substitute an in-memory one.
type SessionStore interface {
	GetSession(id uint) (Session, error)
	// TransitionSession moves a session from status `from` to `to` and applies
	// `set`, but only if the stored status still equals `from`. Returns false
	// when a concurrent writer won the transition. The version counter is
	// bumped on every successful write.
	TransitionSession(id uint, from string, to string, set map[string]interface{}) (bool, error)
}

// LedgerStore is the gorm-backed ledger. Per-row atomicity of the conditional
// UPDATE is the only synchronization primitive the engine relies on.
type LedgerStore struct {
	Db *gorm.DB
}

func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{Db: db}
}

func (l *LedgerStore) GetSession(id uint) (Session, error) {
	var s Session
	res := l.Db.Where("id = ?", id).First(&s)
	if res.RowsAffected != 1 {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (l *LedgerStore) TransitionSession(id uint, from string, to string, set map[string]interface{}) (bool, error) {
	values := map[string]interface{}{
		"status":  to,
		"version": gorm.Expr("version + 1"),
	}
	for k, v := range set {
		values[k] = v
	}
	res := l.Db.Model(&Session{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SessionByMeetingId resolves the meeting provider's id to a session.
func (l *LedgerStore) SessionByMeetingId(meetingId string) (Session, error) {
	var s Session
	res := l.Db.Where("meeting_id = ?", meetingId).First(&s)
	if res.RowsAffected != 1 {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

// SessionByPaymentIntent resolves the payment processor's intent id to a
// session, the fallback when a webhook carries no session metadata.
func (l *LedgerStore) SessionByPaymentIntent(intentId string) (Session, error) {
	var s Session
	res := l.Db.Where("payment_intent_id = ?", intentId).First(&s)
	if res.RowsAffected != 1 {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}
