package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"consult-backend/internal/consultapi"
)

type PaginatedRef struct {
	Items []consultapi.ReferralEdge `json:"items"`
	Total int64                     `json:"total"`
	Page  int                       `json:"page"`
	Limit int                       `json:"limit"`
}

// GetReferrals lists the caller's earned referral-bonus edges, newest first.
func GetReferrals(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := app.Db.Model(&consultapi.ReferralEdge{}).Where("referrer_pro_id = ?", user.Id)
	if lvl := c.Query("lvl"); lvl != "" {
		q = q.Where("lvl = ?", lvl)
	}

	var total int64
	q.Count(&total)
	var items []consultapi.ReferralEdge
	q.Order("created_at desc").Offset((page - 1) * limit).Limit(limit).Find(&items)

	c.JSON(http.StatusOK, PaginatedRef{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetRefStats returns the caller's aggregate referral earnings and invite
// slug, the payload behind the referral dashboard.
func GetRefStats(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	user, ok := currentUser(c, app)
	if !ok {
		return
	}
	stats := consultapi.GetRefStats(app.Db, user)
	c.JSON(http.StatusOK, gin.H{
		"ref_slug":    user.RefSlug,
		"ref_counter": user.RefCounter,
		"stats":       stats,
	})
}
