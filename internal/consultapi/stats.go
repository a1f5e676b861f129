package consultapi

import (
	"gorm.io/gorm"
)

// GetRefStats aggregates a professional's referral earnings across every
// session edge that names them.
func GetRefStats(db *gorm.DB, user User) (refStats RefData) {
	var edges []ReferralEdge
	res := db.Where("referrer_pro_id = ?", user.Id).Find(&edges)
	if res.RowsAffected > 0 {
		for _, edge := range edges {
			refStats.TotalCounter++
			refStats.BonusTotalCents += edge.BonusCents
			switch edge.Lvl {
			case 1:
				refStats.LvlOneCounter++
				refStats.BonusLvlOne += edge.BonusCents
			case 2:
				refStats.LvlTwoCounter++
				refStats.BonusLvlTwo += edge.BonusCents
			default:
				refStats.LvlDeepCounter++
				refStats.BonusLvlDeep += edge.BonusCents
			}
			if edge.PaidAt == nil {
				refStats.UnpaidCents += edge.BonusCents
			}
		}
	}
	return refStats
}
