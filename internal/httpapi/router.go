package httpapi

import (
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	SessionHandler *SessionHandler
	// Release switches gin to release mode.
	Release bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	router.GET("/healthcheck", HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/sessions", cfg.SessionHandler.Create)
		api.GET("/sessions/:id", cfg.SessionHandler.Get)
		api.DELETE("/sessions/:id", cfg.SessionHandler.Reset)

		api.POST("/sessions/:id/stage1", cfg.SessionHandler.RunStage1)
		api.POST("/sessions/:id/stage2", cfg.SessionHandler.RunStage2)
		api.POST("/sessions/:id/stage3", cfg.SessionHandler.RunStage3)

		api.GET("/sessions/:id/fields", cfg.SessionHandler.GetFields)
		api.PATCH("/sessions/:id/fields", cfg.SessionHandler.UpdateFields)

		api.GET("/sessions/:id/runs", cfg.SessionHandler.Runs)

		api.GET("/sessions/:id/artifacts/documentation", cfg.SessionHandler.Documentation)
		api.GET("/sessions/:id/artifacts/notebook", cfg.SessionHandler.Notebook)
	}

	return router
}
