package consultapi

import (
	"errors"

	"gorm.io/gorm"
)

// ChainEntry is one professional in a session's referral chain. Level 1 is
// the professional who personally referred the candidate to the booking.
type ChainEntry struct {
	ReferrerId uint
	Level      int
}

// ReferredByFn returns the upline professional for the given id, 0 when there
// is none.
type ReferredByFn func(id uint) (uint, error)

// ResolveReferralChain walks referred-by links starting at referrerProId and
// returns the ordered (referrer, level) list, capped at maxDepth. Referral
// graphs are supposed to be acyclic, but the walk still keeps a seen set so
// malformed data cannot loop it forever: hitting a professional already in the
// chain ends the walk.
func ResolveReferralChain(referrerProId uint, maxDepth int, lookup ReferredByFn) ([]ChainEntry, error) {
	if referrerProId == 0 || maxDepth <= 0 {
		return nil, nil
	}
	chain := make([]ChainEntry, 0, maxDepth)
	seen := map[uint]bool{}
	current := referrerProId
	for level := 1; level <= maxDepth; level++ {
		if seen[current] {
			break
		}
		seen[current] = true
		chain = append(chain, ChainEntry{ReferrerId: current, Level: level})
		next, err := lookup(current)
		if err != nil {
			return nil, err
		}
		if next == 0 {
			break
		}
		current = next
	}
	return chain, nil
}

// UplineLookup reads referred-by links from the ledger. A dangling reference
// ends the walk; any other query failure fails the payout, because a truncated
// chain would permanently stiff the upstream referrers.
func UplineLookup(db *gorm.DB) ReferredByFn {
	return func(id uint) (uint, error) {
		var u User
		res := db.Select("referred_by").Where("id = ?", id).First(&u)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		if res.Error != nil {
			return 0, res.Error
		}
		return u.ReferredBy, nil
	}
}
