package consultapi

import "time"

const (
	OfferPending   = "pending"
	OfferAccepted  = "accepted"
	OfferBonusPaid = "bonus_paid"
	OfferDeclined  = "declined"
)

// Offer tracks a candidate's job offer at a firm. When the candidate accepts
// and the offer is confirmed, the flat bonus goes to the professional who
// first spoke with the candidate at that firm.
type Offer struct {
	Id             uint       `json:"id" gorm:"primarykey"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CandidateId    uint       `gorm:"index;not null" json:"candidate_id"`
	ProfessionalId uint       `gorm:"index;not null" json:"professional_id"` // first contact at the firm
	Firm           string     `json:"firm"`
	BonusCents     int64      `json:"bonus_cents"`
	Status         string     `gorm:"index;not null;default:'pending'" json:"status"`
	ReportedBy     uint       `json:"reported_by"`
	ConfirmedBy    uint       `json:"confirmed_by"`
	AcceptedAt     *time.Time `json:"accepted_at"`
	TransferId     string     `json:"transfer_id"`
	PaidAt         *time.Time `json:"paid_at"`
}
