package server

import (
  "github.com/gin-gonic/gin"
  "github.com/gin-contrib/cors"
  "github.com/tutoria-app/tutoria-backend/internal/handlers"
  "github.com/tutoria-app/tutoria-backend/internal/middleware"
)

type RouterConfig struct {
  AuthMiddleware  *middleware.AuthMiddleware
  ProfileHandler  *handlers.ProfileHandler
  RequestHandler  *handlers.RequestHandler
  TutorialHandler *handlers.TutorialHandler
  DeviceHandler   *handlers.DeviceHandler
  PaymentHandler  *handlers.PaymentHandler
  SSEHandler      *handlers.SSEHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  // Cors
  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:80",
      "http://localhost:3000",
      "http://localhost:5174",
    },
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

// ===============
// || Public    ||
// ===============
  router.GET("/healthcheck", handlers.HealthCheck)

// ===============
// || Protected ||
// ===============
  api := router.Group("/api")
  api.Use(cfg.AuthMiddleware.RequireAuth())
  // Profile
  api.GET("/me", cfg.ProfileHandler.GetMe)
  // Tutorial requests
  api.POST("/requests", cfg.RequestHandler.Submit)
  api.GET("/requests", cfg.RequestHandler.List)
  api.GET("/requests/:id", cfg.RequestHandler.Get)
  api.POST("/requests/:id/cancel", cfg.RequestHandler.Cancel)
  api.GET("/requests/:id/tutorial", cfg.TutorialHandler.GetByRequest)
  // Tutorials
  api.GET("/tutorials", cfg.TutorialHandler.List)
  api.GET("/tutorials/:id", cfg.TutorialHandler.Get)
  api.POST("/tutorials/:id/view", cfg.TutorialHandler.RecordView)
  api.POST("/tutorials/:id/feedback", cfg.TutorialHandler.SubmitFeedback)
  api.PATCH("/tutorials/:id/visibility", cfg.TutorialHandler.SetVisibility)
  // Devices
  api.GET("/devices", cfg.DeviceHandler.List)
  api.GET("/devices/:id", cfg.DeviceHandler.Get)
  // Payments
  api.POST("/payments/complete", cfg.PaymentHandler.Complete)
  // SSE
  api.GET("/events", cfg.SSEHandler.Stream)

  return router
}
