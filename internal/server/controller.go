package server

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"consult-backend/internal/api"
	"consult-backend/internal/api/middleware"
	"consult-backend/internal/consultapi"
	"consult-backend/internal/gateway"
)

var App *consultapi.App

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.String(429, "Too many requests. Try again in "+time.Until(info.ResetTime).String())
}

func ApiInit() { // Run Api Server
	fileLog := os.Getenv("LOG_FILE")
	if fileLog == "" {
		fileLog = "consult-backend.log"
	}
	SetLogger(fileLog)
	App = consultapi.Init()
	App.Gw = gateway.New()
	router := gin.Default()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	// This makes it so each ip can only make 100 requests per second
	store := ratelimit.RedisStore(&ratelimit.RedisOptions{
		RedisClient: redis.NewClient(&redis.Options{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       1,
		}),
		Rate:  time.Second,
		Limit: 100,
	})
	mw := ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://0.0.0.0:3000",
			"http://localhost:3000",
		},
		AllowHeaders:  []string{"Origin", "Access-Control-Allow-Origin", "Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With"},
		ExposeHeaders: []string{"Content-Length"},
		AllowMethods:  []string{"GET, POST, OPTIONS, PUT, DELETE"},
		MaxAge:        24 * time.Hour,
	}))
	router.Use(func(c *gin.Context) {
		c.Set("app", App)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", mw, wsHandler)
	router.GET("/ws/", mw, wsHandler)
	auth := router.Group("/auth/")
	{
		auth.POST("/signup", mw, api.Signup)
		auth.POST("/signup/", mw, api.Signup)
		auth.POST("/signin", mw, api.Signin)
		auth.POST("/signin/", mw, api.Signin)
	}
	users := router.Group("/users/").Use(middleware.Auth())
	{
		users.GET("/me", mw, api.GetUser)
		users.GET("/me/", mw, api.GetUser)
		users.GET("/ref", mw, api.GetReferrals)
		users.GET("/ref/", mw, api.GetReferrals)
		users.GET("/ref/stats", mw, api.GetRefStats)
		users.GET("/ref/stats/", mw, api.GetRefStats)
		users.GET("/pro/:id", mw, api.GetProfessional)
		users.GET("/pro/:id/", mw, api.GetProfessional)
	}
	sessions := router.Group("/sessions").Use(middleware.Auth())
	{
		sessions.POST("", mw, middleware.RequireRole(consultapi.RoleCandidate), api.CreateSession)
		sessions.POST("/", mw, middleware.RequireRole(consultapi.RoleCandidate), api.CreateSession)
		sessions.GET("", mw, api.GetSessions)
		sessions.GET("/", mw, api.GetSessions)
		sessions.GET("/:id", mw, api.GetSession)
		sessions.GET("/:id/", mw, api.GetSession)
		sessions.POST("/:id/accept", mw, middleware.RequireRole(consultapi.RoleProfessional), api.AcceptSession)
		sessions.POST("/:id/accept/", mw, middleware.RequireRole(consultapi.RoleProfessional), api.AcceptSession)
		sessions.POST("/:id/decline", mw, middleware.RequireRole(consultapi.RoleProfessional), api.DeclineSession)
		sessions.POST("/:id/decline/", mw, middleware.RequireRole(consultapi.RoleProfessional), api.DeclineSession)
		sessions.POST("/:id/cancel", mw, middleware.RequireRole(consultapi.RoleCandidate), api.CancelSession)
		sessions.POST("/:id/cancel/", mw, middleware.RequireRole(consultapi.RoleCandidate), api.CancelSession)
		sessions.POST("/:id/complete", mw, middleware.RequireRole(consultapi.RoleProfessional), api.CompleteSession)
		sessions.POST("/:id/complete/", mw, middleware.RequireRole(consultapi.RoleProfessional), api.CompleteSession)
		sessions.POST("/:id/meeting", mw, middleware.RequireRole(consultapi.RoleProfessional), api.SetMeeting)
		sessions.POST("/:id/meeting/", mw, middleware.RequireRole(consultapi.RoleProfessional), api.SetMeeting)
		sessions.POST("/:id/feedback", mw, middleware.RequireRole(consultapi.RoleProfessional), api.SubmitFeedback)
		sessions.POST("/:id/feedback/", mw, middleware.RequireRole(consultapi.RoleProfessional), api.SubmitFeedback)
	}
	offers := router.Group("/offers").Use(middleware.Auth())
	{
		offers.POST("", mw, middleware.RequireRole(consultapi.RoleProfessional), api.ReportOffer)
		offers.POST("/", mw, middleware.RequireRole(consultapi.RoleProfessional), api.ReportOffer)
		offers.GET("", mw, api.GetOffers)
		offers.GET("/", mw, api.GetOffers)
		offers.POST("/:id/accept", mw, middleware.RequireRole(consultapi.RoleCandidate), api.AcceptOffer)
		offers.POST("/:id/accept/", mw, middleware.RequireRole(consultapi.RoleCandidate), api.AcceptOffer)
		offers.POST("/:id/decline", mw, middleware.RequireRole(consultapi.RoleCandidate), api.DeclineOffer)
		offers.POST("/:id/decline/", mw, middleware.RequireRole(consultapi.RoleCandidate), api.DeclineOffer)
		offers.POST("/:id/confirm", mw, middleware.RequireRole(consultapi.RoleProfessional), api.ConfirmOffer)
		offers.POST("/:id/confirm/", mw, middleware.RequireRole(consultapi.RoleProfessional), api.ConfirmOffer)
	}
	webhooks := router.Group("/webhooks/")
	{
		webhooks.POST("/payment", api.PaymentWebhook)
		webhooks.POST("/payment/", api.PaymentWebhook)
		webhooks.POST("/meeting", api.MeetingWebhook)
		webhooks.POST("/meeting/", api.MeetingWebhook)
	}
	fmt.Println("[ Consult Backend is up and listening to :8000 ]")
	Logger.Info("Api server listening on :8000")
	if err := router.Run(":8000"); err != nil {
		log.Fatal("Failed to run Consult Backend on :8000: ", err)
	}
}
