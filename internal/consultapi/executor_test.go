package consultapi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestLedger(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// One connection, or each pooled connection gets its own empty :memory: db.
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(&User{}, &Session{}, &ReferralEdge{}, &ProfessionalFeedback{}, &Offer{})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeTransfer struct {
	Destination string
	AmountCents int64
	Metadata    map[string]string
}

// fakeGateway records transfers and can be told to reject by metadata kind or
// referral level.
type fakeGateway struct {
	transfers []fakeTransfer
	failKind  string
	failLvl   string
}

func (g *fakeGateway) Transfer(destinationAccountId string, amountCents int64, metadata map[string]string) (string, error) {
	if g.failKind != "" && metadata["kind"] == g.failKind {
		return "", errors.New("gateway rejected transfer")
	}
	if g.failLvl != "" && metadata["lvl"] == g.failLvl {
		return "", errors.New("gateway rejected transfer")
	}
	g.transfers = append(g.transfers, fakeTransfer{destinationAccountId, amountCents, metadata})
	return fmt.Sprintf("tr_%d", len(g.transfers)), nil
}

// seedPayoutFixture builds the Scenario B graph: host pro 10, referred to the
// candidate by pro 2, who was onboarded by pro 1. Session completed at 19000.
func seedPayoutFixture(t *testing.T, db *gorm.DB) Session {
	t.Helper()
	users := []User{
		{Id: 1, Email: "p1@firm.dev", Role: RoleProfessional, PayoutAccountId: "acct_p1"},
		{Id: 2, Email: "p2@firm.dev", Role: RoleProfessional, ReferredBy: 1, PayoutAccountId: "acct_p2"},
		{Id: 10, Email: "host@firm.dev", Role: RoleProfessional, PayoutAccountId: "acct_host"},
		{Id: 20, Email: "candidate@mail.dev", Role: RoleCandidate},
	}
	for i := range users {
		if err := db.Create(&users[i]).Error; err != nil {
			t.Fatalf("seed user %d: %v", users[i].Id, err)
		}
	}
	s := Session{
		CandidateId:    20,
		ProfessionalId: 10,
		ReferrerProId:  2,
		RateCents:      19000,
		Status:         SessionCompleted,
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

func testFeedback() ProfessionalFeedback {
	return ProfessionalFeedback{
		TechnicalRating:     5,
		CommunicationRating: 4,
		OverallRating:       5,
		Feedback:            "Strong on systems design, practice concise answers.",
	}
}

func loadEdges(t *testing.T, db *gorm.DB, sessionId uint) []ReferralEdge {
	t.Helper()
	var edges []ReferralEdge
	if err := db.Where("session_id = ?", sessionId).Order("lvl").Find(&edges).Error; err != nil {
		t.Fatalf("load edges: %v", err)
	}
	return edges
}

func TestExecutorPaysOnceAndRecordsEdges(t *testing.T) {
	t.Parallel()
	db := newTestLedger(t)
	s := seedPayoutFixture(t, db)
	gw := &fakeGateway{}
	e := &Executor{Db: db, Gw: gw, Cfg: DefaultConfig()}

	if err := e.Execute(s.Id, testFeedback()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var cur Session
	db.First(&cur, s.Id)
	if cur.PayoutTransferId == "" || cur.FeedbackSubmittedAt == nil {
		t.Fatalf("payout not recorded: transfer=%q feedback_at=%v", cur.PayoutTransferId, cur.FeedbackSubmittedAt)
	}
	if cur.PlatformFeeCents != 2850 || cur.PayoutCents != 14060 {
		t.Errorf("fee = %d payout = %d, want 2850 / 14060", cur.PlatformFeeCents, cur.PayoutCents)
	}
	if cur.NeedsReconciliation {
		t.Error("clean payout flagged for reconciliation")
	}

	edges := loadEdges(t, db, s.Id)
	if len(edges) != 2 {
		t.Fatalf("edges = %v, want 2", edges)
	}
	if edges[0].ReferrerProId != 2 || edges[0].BonusCents != 1900 || edges[0].TransferId == "" || edges[0].PaidAt == nil {
		t.Errorf("lvl 1 edge = %+v", edges[0])
	}
	if edges[1].ReferrerProId != 1 || edges[1].BonusCents != 190 {
		t.Errorf("lvl 2 edge = %+v", edges[1])
	}

	if len(gw.transfers) != 3 {
		t.Fatalf("transfers = %d, want 3", len(gw.transfers))
	}
	if gw.transfers[0].Destination != "acct_host" || gw.transfers[0].AmountCents != 14060 {
		t.Errorf("professional transfer = %+v", gw.transfers[0])
	}

	// Re-invocation must trip the transfer-recorded guard, not pay again.
	err := e.Execute(s.Id, testFeedback())
	if !errors.Is(err, ErrPayoutAlreadyExecuted) {
		t.Fatalf("re-invocation: err = %v, want ErrPayoutAlreadyExecuted", err)
	}
	if len(gw.transfers) != 3 {
		t.Errorf("re-invocation moved money: transfers = %d", len(gw.transfers))
	}
}

func TestExecutorRejectsUnlessCompleted(t *testing.T) {
	t.Parallel()
	db := newTestLedger(t)
	s := seedPayoutFixture(t, db)
	db.Model(&Session{}).Where("id = ?", s.Id).Update("status", SessionConfirmed)
	e := &Executor{Db: db, Gw: &fakeGateway{}, Cfg: DefaultConfig()}

	if err := e.Execute(s.Id, testFeedback()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("confirmed session: err = %v, want ErrInvalidTransition", err)
	}
	if err := e.Execute(9999, testFeedback()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing session: err = %v, want ErrSessionNotFound", err)
	}
}

func TestExecutorDuplicateFeedbackRejected(t *testing.T) {
	t.Parallel()
	db := newTestLedger(t)
	s := seedPayoutFixture(t, db)
	fb := testFeedback()
	fb.SessionId = s.Id
	fb.ProfessionalId = s.ProfessionalId
	fb.CandidateId = s.CandidateId
	if err := db.Create(&fb).Error; err != nil {
		t.Fatalf("seed feedback: %v", err)
	}
	e := &Executor{Db: db, Gw: &fakeGateway{}, Cfg: DefaultConfig()}

	if err := e.Execute(s.Id, testFeedback()); !errors.Is(err, ErrFeedbackExists) {
		t.Errorf("err = %v, want ErrFeedbackExists", err)
	}
}

func TestExecutorProfessionalFailureLeavesRetryable(t *testing.T) {
	t.Parallel()
	db := newTestLedger(t)
	s := seedPayoutFixture(t, db)
	gw := &fakeGateway{failKind: "session_payout"}
	e := &Executor{Db: db, Gw: gw, Cfg: DefaultConfig()}

	err := e.Execute(s.Id, testFeedback())
	var tf *TransferFailedError
	if !errors.As(err, &tf) || tf.Stage != "payout" {
		t.Fatalf("err = %v, want TransferFailedError at payout", err)
	}

	// Nothing recorded: the submission stays retryable.
	var cur Session
	db.First(&cur, s.Id)
	if cur.PayoutTransferId != "" || cur.FeedbackSubmittedAt != nil || cur.NeedsReconciliation {
		t.Fatalf("failed payout left residue: %+v", cur)
	}
	var fbCount int64
	db.Model(&ProfessionalFeedback{}).Where("session_id = ?", s.Id).Count(&fbCount)
	if fbCount != 0 {
		t.Fatalf("feedback rows = %d, want 0", fbCount)
	}
	if edges := loadEdges(t, db, s.Id); len(edges) != 0 {
		t.Fatalf("edges = %v, want none", edges)
	}

	gw.failKind = ""
	if err := e.Execute(s.Id, testFeedback()); err != nil {
		t.Fatalf("retry after gateway recovery: %v", err)
	}
	db.First(&cur, s.Id)
	if cur.PayoutTransferId == "" {
		t.Error("retry did not record the payout")
	}
}

func TestExecutorBonusFailureFlagsReconciliation(t *testing.T) {
	t.Parallel()
	db := newTestLedger(t)
	s := seedPayoutFixture(t, db)
	gw := &fakeGateway{failLvl: "2"}
	e := &Executor{Db: db, Gw: gw, Cfg: DefaultConfig()}

	err := e.Execute(s.Id, testFeedback())
	var tf *TransferFailedError
	if !errors.As(err, &tf) || tf.Stage != "bonus_lvl_2" {
		t.Fatalf("err = %v, want TransferFailedError at bonus_lvl_2", err)
	}

	// What succeeded stays committed; the session is flagged for manual review.
	var cur Session
	db.First(&cur, s.Id)
	if !cur.NeedsReconciliation {
		t.Error("partial payout not flagged")
	}
	if cur.PayoutTransferId == "" || cur.FeedbackSubmittedAt == nil {
		t.Errorf("professional payout lost: %+v", cur)
	}
	edges := loadEdges(t, db, s.Id)
	if len(edges) != 1 || edges[0].Lvl != 1 {
		t.Fatalf("edges = %v, want only lvl 1", edges)
	}

	// No automatic retry: once transfers are recorded, re-invocation is
	// rejected even with the gateway healthy again.
	gw.failLvl = ""
	if err := e.Execute(s.Id, testFeedback()); !errors.Is(err, ErrPayoutAlreadyExecuted) {
		t.Fatalf("re-invocation: err = %v, want ErrPayoutAlreadyExecuted", err)
	}
}

func TestExecutorMissingReferrerFlagsReconciliation(t *testing.T) {
	t.Parallel()
	db := newTestLedger(t)
	s := seedPayoutFixture(t, db)
	// Soft-delete the lvl 2 referrer after the chain was formed.
	if err := db.Delete(&User{Id: 1}).Error; err != nil {
		t.Fatalf("delete referrer: %v", err)
	}
	gw := &fakeGateway{}
	e := &Executor{Db: db, Gw: gw, Cfg: DefaultConfig()}

	err := e.Execute(s.Id, testFeedback())
	var tf *TransferFailedError
	if !errors.As(err, &tf) || tf.Stage != "bonus_lvl_2" {
		t.Fatalf("err = %v, want TransferFailedError at bonus_lvl_2", err)
	}

	var cur Session
	db.First(&cur, s.Id)
	if !cur.NeedsReconciliation {
		t.Error("unowned bonus cents not flagged for reconciliation")
	}
	if cur.PayoutTransferId == "" {
		t.Error("professional payout lost")
	}
	edges := loadEdges(t, db, s.Id)
	if len(edges) != 1 || edges[0].Lvl != 1 {
		t.Fatalf("edges = %v, want only lvl 1", edges)
	}
	// Host payout plus the lvl 1 bonus moved, nothing else.
	if len(gw.transfers) != 2 {
		t.Errorf("transfers = %d, want 2", len(gw.transfers))
	}
}
