package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/queueflow/backend/internal/config"
	"github.com/queueflow/backend/internal/db"
	"github.com/queueflow/backend/internal/http/handlers"
	"github.com/queueflow/backend/internal/http/middleware"
	"github.com/queueflow/backend/internal/service"

	_ "github.com/queueflow/backend/docs"
)

func Router(cfg config.Config, store *db.Store, engine *service.Engine, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     store,
		Engine:    engine,
		Validator: validator.New(),
		Logger:    logger,
		AdminKey:  cfg.AdminKey,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/tickets", h.TicketsList)
		api.GET("/tickets/:id", h.TicketDetails)
		api.POST("/tickets", h.TicketCreate)
		api.GET("/staff", h.StaffList)
		api.GET("/next-to-serve", h.NextToServe)
		api.POST("/prioritize", h.Prioritize)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/tickets/:id/assign", h.Assign)
		admin.POST("/tickets/:id/confirm", h.Confirm)
		admin.POST("/tickets/:id/complete", h.Complete)
		admin.POST("/tickets/:id/cancel", h.Cancel)
		admin.POST("/tickets/:id/no-show", h.NoShow)
		admin.POST("/analytics/optimize", h.OptimizeFlow)
		admin.POST("/notifications/schedule", h.NotificationsSchedule)
		admin.POST("/notifications/bulk", h.NotificationsBulk)
		admin.POST("/notifications/deliver", h.NotificationsDeliver)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
