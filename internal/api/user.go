package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"consult-backend/internal/consultapi"
)

func GetUser(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	userId := c.GetUint("user_id")

	var user consultapi.User
	res := app.Db.Where("id = ?", userId).First(&user)
	if res.RowsAffected == 1 {
		c.JSON(http.StatusOK, user)
	} else {
		c.JSON(http.StatusNotFound, nil)
	}
}

// GetProfessional exposes a professional's public profile, the data a
// candidate sees before booking.
func GetProfessional(c *gin.Context) {
	app := c.MustGet("app").(*consultapi.App)
	id, ok := sessionIdParam(c)
	if !ok {
		return
	}
	var pro consultapi.User
	res := app.Db.Where("id = ? AND role = ?", id, consultapi.RoleProfessional).First(&pro)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "professional not found"})
		return
	}
	c.JSON(http.StatusOK, consultapi.PublicUser(pro))
}

// currentUser loads the acting party from the validated token claims.
func currentUser(c *gin.Context, app *consultapi.App) (consultapi.User, bool) {
	userId := c.GetUint("user_id")
	var user consultapi.User
	res := app.Db.Where("id = ?", userId).First(&user)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid jwt"})
		return consultapi.User{}, false
	}
	return user, true
}
