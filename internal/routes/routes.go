package routes

import (
	"time"

	handler "email-payment-gateway/internal/handlers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gopkg.in/inconshreveable/log15.v2"
)

type Handlers struct {
	Health         *handler.HealthHandler
	Payments       *handler.PaymentHandler
	Admin          *handler.AdminHandler
	Reconciliation *handler.ReconciliationHandler
	Cron           *handler.CronHandler
}

type Secrets struct {
	Admin        string
	Cron         string
	EmailWebhook string
}

// NewEngine returns a gin engine with recovery, access logging and CORS.
func NewEngine(log log15.Logger, origins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handler.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Admin-Secret", "X-Admin-Actor"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	return r
}

func RegisterRoutes(r *gin.Engine, h Handlers, s Secrets) {
	api := r.Group("/api")

	// Health check
	api.GET("/health", h.Health.Check)

	v1 := api.Group("/v1")

	// Payment requests
	payments := v1.Group("/payments")
	payments.POST("", h.Payments.Create)
	payments.GET("/:transactionId", h.Payments.Get)

	// Inbound mail relay
	email := v1.Group("/email", handler.RequireSecret(s.EmailWebhook, "", "X-Webhook-Secret"))
	email.POST("/inbound", h.Reconciliation.Inbound)

	// External scheduler
	cron := v1.Group("/cron", handler.RequireSecret(s.Cron, "secret", "X-Cron-Secret"))
	cron.GET("/process-webhooks", h.Cron.ProcessWebhooks)
	cron.POST("/process-webhooks", h.Cron.ProcessWebhooks)

	// Manual review
	admin := v1.Group("/admin", handler.RequireSecret(s.Admin, "", "X-Admin-Secret"))
	{
		admin.POST("/payments/:transactionId/approve", h.Admin.Approve)
		admin.POST("/payments/:transactionId/reject", h.Admin.Reject)
		admin.POST("/emails/upload", h.Reconciliation.Upload)
		admin.GET("/stats", h.Reconciliation.Stats)
	}
}
