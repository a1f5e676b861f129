package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/dchest/uniuri"
	"github.com/gin-gonic/gin"

	"consult-backend/internal/api/jwt"
	"consult-backend/internal/consultapi"
)

type signupParams struct {
	Email           string `json:"email" binding:"required" validate:"required,max=250"`
	Name            string `json:"name" validate:"max=150"`
	Role            string `json:"role" binding:"required"`
	Hash            string `json:"fingerprint" validate:"max=50"`
	InviteSlug      string `json:"invite_slug" validate:"max=8"`
	Firm            string `json:"firm" validate:"max=150"`
	RateCents       int64  `json:"rate_cents"`
	PayoutAccountId string `json:"payout_account_id" validate:"max=100"`
	Utm             string `json:"utm" validate:"max=500"`
	Ip              string `json:"ip" validate:"max=39"`
	Referer         string `json:"referer" validate:"max=150"`
	Locale          string `json:"locale" validate:"max=5"`
}

type signinParams struct {
	Email string `json:"email" binding:"required"`
	Hash  string `json:"fingerprint" validate:"max=50"`
}

// Signup creates an account. Signing up through a professional's invite slug
// records that professional as the newcomer's upline — the referred_by link
// the referral-bonus resolver walks at payout time.
func Signup(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	var p signupParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.Role != consultapi.RoleCandidate && p.Role != consultapi.RoleProfessional {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	var double consultapi.User
	res := app.Db.Where("email = ?", p.Email).First(&double)
	if res.RowsAffected == 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
		return
	}

	referredBy := uint(0)
	if p.Role == consultapi.RoleProfessional && len(p.InviteSlug) > 0 {
		var referrer consultapi.User
		res = app.Db.Where("ref_slug = ? AND role = ?",
			p.InviteSlug,
			consultapi.RoleProfessional,
		).First(&referrer)
		if res.RowsAffected == 1 {
			referredBy = referrer.Id
			referrer.RefCounter++
			_ = app.Db.Save(&referrer)
		}
	}

	refSlug := ""
	if p.Role == consultapi.RoleProfessional {
		for {
			refSlug = uniuri.NewLenChars(8, []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"))
			var slugDouble consultapi.User
			res = app.Db.Where("ref_slug = ?", refSlug).First(&slugDouble)
			if res.RowsAffected == 1 {
				continue
			}
			break
		}
	}

	if p.RateCents < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rate"})
		return
	}

	user := consultapi.User{
		Email:           p.Email,
		Name:            p.Name,
		Role:            p.Role,
		Hash:            p.Hash,
		Firm:            p.Firm,
		ReferredBy:      referredBy,
		RefSlug:         refSlug,
		RateCents:       p.RateCents,
		PayoutAccountId: p.PayoutAccountId,
		Utm:             p.Utm,
		Ip:              p.Ip,
		Referer:         p.Referer,
		Locale:          p.Locale,
	}
	res = app.Db.Create(&user)
	if res.Error != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Error})
		return
	}

	cpUrl := os.Getenv("CP_URL")
	msg := fmt.Sprintf(
		`New Signup [User: %d](%s/users/%d)
Role: %s
[%s](mailto:%s)
Locale: %s`,
		user.Id,
		cpUrl,
		user.Id,
		consultapi.EscapeMarkdownV2(user.Role),
		consultapi.EscapeMarkdownV2(user.Email),
		consultapi.EscapeMarkdownV2(user.Email),
		consultapi.EscapeMarkdownV2(user.Locale),
	)
	if user.ReferredBy > 0 {
		msg = fmt.Sprintf(
			`%s
Invited by [User: %d](%s/users/%d)`,
			msg,
			user.ReferredBy,
			cpUrl,
			user.ReferredBy,
		)
	}
	_ = consultapi.SendTelegramMessage(msg, "signup")

	token, err := jwt.GenerateJWT(user.Id, user.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":      user,
		"is_signup": true,
		"jwt":       token,
	})
}

// Signin exchanges an identity for a JWT. The upstream identity provider has
// already authenticated the caller; this endpoint only issues the engine's
// own token.
func Signin(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	var p signinParams
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var user consultapi.User
	res := app.Db.Where("email = ?", p.Email).First(&user)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user not found"})
		return
	}
	if user.Hash == "" && p.Hash != "" {
		user.Hash = p.Hash
		app.Db.Save(&user)
	}
	token, err := jwt.GenerateJWT(user.Id, user.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":      user,
		"is_signup": false,
		"jwt":       token,
	})
}
