package router

import (
	"net/http"

	"flavorfleet/config"
	"flavorfleet/internal/handler"
	"flavorfleet/internal/metrics"
	"flavorfleet/internal/middleware"
	"flavorfleet/internal/service"
	"flavorfleet/internal/ws"
	"flavorfleet/pkg/cloudinary"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the long-lived components the HTTP layer serves. Cloud may be nil.
type Deps struct {
	Auth          *service.AuthService
	Notifications *service.NotificationService
	Orders        *service.OrderService
	Hub           *ws.Hub
	Cloud         cloudinary.Client
	Log           *zap.Logger
}

// Setup builds the engine. The returned func stops the rate limiters' cleanup loops.
func Setup(cfg *config.Config, d Deps) (*gin.Engine, func()) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	globalLimiter := middleware.NewInMemoryRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow)
	otpLimiter := middleware.NewInMemoryRateLimiter(cfg.OTP.RateLimit, cfg.OTP.RateWindow)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authHandler := handler.NewAuthHandler(d.Auth, d.Log)
	notificationHandler := handler.NewNotificationHandler(d.Notifications, d.Log)
	adminHandler := handler.NewAdminHandler(d.Notifications, d.Orders, d.Log)
	uploadHandler := handler.NewUploadHandler(d.Cloud, cfg.Cloudinary.Folder, d.Log)

	streamAuth := middleware.StreamAuthRequired(&cfg.JWT)
	r.GET("/ws/notifications", streamAuth, ws.UpgradeNotificationsWS(d.Hub, d.Log))

	api := r.Group("/api")
	api.GET("/notifications/sse", streamAuth, ws.ServeSSE(d.Hub, d.Log))
	api.Use(middleware.RateLimit(globalLimiter))
	{
		authGroup := api.Group("/auth")
		otpLimit := middleware.RouteRateLimit(otpLimiter)
		authGroup.POST("/register", otpLimit, authHandler.Register)
		authGroup.POST("/verify-signup-otp", otpLimit, authHandler.VerifySignupOTP)
		authGroup.POST("/forgot-password", otpLimit, authHandler.ForgotPassword)
		authGroup.POST("/reset-password", otpLimit, authHandler.ResetPassword)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
	}

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(&cfg.JWT))
	{
		protected.POST("/auth/change-password", authHandler.ChangePassword)

		n := protected.Group("/notifications")
		n.GET("", notificationHandler.List)
		n.PUT("/:id/read", notificationHandler.MarkRead)
		n.POST("/mark-all-read", notificationHandler.MarkAllRead)
		n.DELETE("/clear-all", notificationHandler.ClearAll)
		n.DELETE("/:id", notificationHandler.Delete)
		n.GET("/preferences", notificationHandler.GetPreferences)
		n.PUT("/preferences", notificationHandler.UpdatePreferences)
	}

	admin := protected.Group("/admin")
	admin.Use(middleware.AdminRequired())
	{
		admin.POST("/notifications", adminHandler.CreateCampaign)
		admin.GET("/notifications-history", adminHandler.History)
		admin.POST("/notifications/image", uploadHandler.UploadCampaignImage)
		admin.PUT("/orders/:id", adminHandler.UpdateOrderStatus)
	}

	return r, func() {
		globalLimiter.Close()
		otpLimiter.Close()
	}
}
