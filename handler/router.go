package handler

import (
	"net/http"

	"github.com/TIANLI0/SlideKit/middleware"
	"github.com/gin-gonic/gin"
)

// BuildInfo 版本信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	BuildID   string `json:"build_id"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
}

// NewRouter 创建路由
func NewRouter(h *AnalyzeHandler, info BuildInfo) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": info.Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	})

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/analyze", h.Analyze)
		api.POST("/change", h.Change)
		api.GET("/result/:key", h.GetByKey)
	}

	return r
}
