package consultapi

import (
	"fmt"
	"math"
)

type ReferralBonus struct {
	ReferrerId uint  `json:"referrer_id"`
	Level      int   `json:"level"`
	BonusCents int64 `json:"bonus_cents"`
}

type PayoutPlan struct {
	RateCents               int64           `json:"rate_cents"`
	PlatformFeeCents        int64           `json:"platform_fee_cents"`
	Bonuses                 []ReferralBonus `json:"bonuses"`
	ProfessionalPayoutCents int64           `json:"professional_payout_cents"`
}

// RoundHalfUpShare computes share*amountCents in integer cents, rounding half
// up. The single rounding rule used for every line item.
func RoundHalfUpShare(amountCents int64, share float64) int64 {
	return int64(math.Floor(float64(amountCents)*share + 0.5))
}

// scheduleForLevel returns the bonus share for a referral level, 0 beyond the
// configured schedule.
func scheduleForLevel(schedule []float64, level int) float64 {
	if level < 1 || level > len(schedule) {
		return 0
	}
	return schedule[level-1]
}

// ComputePayout splits a session rate into platform fee, per-level referral
// bonuses and the hosting professional's net payout. Pure: no clock, no
// store.
//
// Fee and bonuses are rounded independently; the professional payout is the
// remainder, so the plan always sums back to the rate exactly and any rounding
// remainder lands on the professional rather than being minted or lost.
func ComputePayout(rateCents int64, chain []ChainEntry, cfg *AppConfig) (PayoutPlan, error) {
	if rateCents < 0 {
		return PayoutPlan{}, fmt.Errorf("negative session rate: %d", rateCents)
	}
	plan := PayoutPlan{
		RateCents:        rateCents,
		PlatformFeeCents: RoundHalfUpShare(rateCents, cfg.Settings.Fees.PlatformRate),
	}
	bonusTotal := int64(0)
	for _, entry := range chain {
		share := scheduleForLevel(cfg.Settings.Ref.Schedule, entry.Level)
		if share == 0 {
			continue
		}
		bonus := RoundHalfUpShare(rateCents, share)
		plan.Bonuses = append(plan.Bonuses, ReferralBonus{
			ReferrerId: entry.ReferrerId,
			Level:      entry.Level,
			BonusCents: bonus,
		})
		bonusTotal += bonus
	}
	plan.ProfessionalPayoutCents = rateCents - plan.PlatformFeeCents - bonusTotal
	if plan.ProfessionalPayoutCents < 0 {
		// Configuration error. Surfaced to operators, never written to the
		// ledger.
		return PayoutPlan{}, fmt.Errorf("payout plan for rate %d is negative: %d", rateCents, plan.ProfessionalPayoutCents)
	}
	return plan, nil
}
