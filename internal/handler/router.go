package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/codelens/internal/middleware"
)

type RouterDeps struct {
	Auth            *AuthHandler
	Projects        *ProjectHandler
	Analysis        *AnalysisHandler
	JWTSecret       []byte
	AnalyzeInterval time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/auth/register", deps.Auth.Register)
	api.POST("/auth/login", deps.Auth.Login)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.POST("/codebase/upload", deps.Projects.Upload)
	authGroup.POST("/codebase/github", deps.Projects.Github)
	authGroup.GET("/codebase/projects", deps.Projects.List)
	authGroup.GET("/codebase/projects/:id", deps.Projects.Get)
	authGroup.POST("/codebase/projects/:id/reingest", deps.Projects.Reingest)
	authGroup.DELETE("/codebase/projects/:id", deps.Projects.Delete)
	authGroup.POST("/codebase/analyze",
		middleware.RateLimit(deps.AnalyzeInterval), deps.Analysis.Analyze)
}
