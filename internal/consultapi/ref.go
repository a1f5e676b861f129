package consultapi

import "time"

// ReferralEdge is one computed-and-paid bonus record for one professional at
// one level of a session's referral chain. Rows are created atomically during
// payout execution and are immutable afterward: the chain is frozen at payout
// time and never recomputed.
type ReferralEdge struct {
	CreatedAt     time.Time  `json:"created_at"`
	SessionId     uint       `json:"session_id" gorm:"primaryKey;autoIncrement:false"`
	ReferrerProId uint       `json:"referrer_pro_id" gorm:"primaryKey;autoIncrement:false"`
	Lvl           uint       `json:"lvl" gorm:"primaryKey;autoIncrement:false"` // 1 = direct referrer
	BonusCents    int64      `json:"bonus_cents"`
	TransferId    string     `json:"transfer_id"`
	PaidAt        *time.Time `json:"paid_at"`
}

type RefData struct {
	TotalCounter    uint  `json:"total_counter"`
	LvlOneCounter   uint  `json:"lvl_one_counter"`
	LvlTwoCounter   uint  `json:"lvl_two_counter"`
	LvlDeepCounter  uint  `json:"lvl_deep_counter"`
	BonusTotalCents int64 `json:"bonus_total_cents"`
	BonusLvlOne     int64 `json:"bonus_lvl_one_cents"`
	BonusLvlTwo     int64 `json:"bonus_lvl_two_cents"`
	BonusLvlDeep    int64 `json:"bonus_lvl_deep_cents"`
	UnpaidCents     int64 `json:"unpaid_cents"`
}
