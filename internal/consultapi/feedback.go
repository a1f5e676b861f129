package consultapi

import "time"

// ProfessionalFeedback gates the payout: a professional is paid for a session
// only after this record exists. One per session, enforced by the unique
// index.
type ProfessionalFeedback struct {
	Id             uint      `json:"id" gorm:"primarykey"`
	CreatedAt      time.Time `json:"created_at"`
	SessionId      uint      `gorm:"uniqueIndex;not null" json:"session_id"`
	ProfessionalId uint      `gorm:"index;not null" json:"professional_id"`
	CandidateId    uint      `gorm:"index;not null" json:"candidate_id"`
	// Ratings are 1-5.
	TechnicalRating     int    `json:"technical_rating"`
	CommunicationRating int    `json:"communication_rating"`
	OverallRating       int    `json:"overall_rating"`
	Feedback            string `json:"feedback"`       // shared with the candidate
	InternalNotes       string `json:"internal_notes"` // never shown to the candidate
	// ReviewNote is filled asynchronously by the worker's quality review task.
	ReviewNote string `json:"review_note"`
}

func ValidRating(r int) bool {
	return r >= 1 && r <= 5
}
