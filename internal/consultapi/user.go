package consultapi

import (
	"gorm.io/gorm"
	"time"
)

const (
	RoleCandidate    = "candidate"
	RoleProfessional = "professional"
)

type User struct {
	Id        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`
	Email     string         `gorm:"index;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"index;not null" json:"role"`
	Hash      string         `gorm:"index" json:"hash"`
	Firm      string         `json:"firm"`
	// ReferredBy is the professional who onboarded this professional, 0 when
	// none. Candidates never carry an upline.
	ReferredBy      uint   `gorm:"index" json:"referred_by"`
	RefSlug         string `gorm:"index" json:"ref_slug"`
	RefCounter      uint   `json:"ref_counter"`
	RateCents       int64  `json:"rate_cents"` // default price for one session
	PayoutAccountId string `json:"payout_account_id"`
	Utm             string `json:"utm"`
	Ip              string `json:"ip"`
	Referer         string `json:"referer"`
	Locale          string `json:"locale"`
}

type UserData struct {
	ID              uint   `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	Role            string `json:"role"`
	RefSlug         string `json:"ref_slug"`
	RateCents       int64  `json:"rate_cents"`
	PayoutAccountId string `json:"payout_account_id"`
}

func PublicUser(u User) UserData {
	return UserData{
		ID:              u.Id,
		Email:           u.Email,
		Name:            u.Name,
		Role:            u.Role,
		RefSlug:         u.RefSlug,
		RateCents:       u.RateCents,
		PayoutAccountId: u.PayoutAccountId,
	}
}
