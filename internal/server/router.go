package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/bio-xyz/bio-data-analysis/internal/metrics"
)

// RouterConfig parameterizes the HTTP router.
type RouterConfig struct {
	APIKey         string
	AllowedOrigins []string
}

// NewRouter wires middleware and routes. m may be nil to omit /metrics.
func NewRouter(s *Server, cfg RouterConfig, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-API-Key")
	router.Use(cors.New(corsCfg))

	router.GET("/health", s.Health)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	authed := router.Group("/task", APIKeyAuth(cfg.APIKey))
	authed.POST("/run/sync", s.RunSync)
	authed.POST("/run/async", s.RunAsync)
	authed.GET("/:id", s.GetTask)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
	})
	return router
}
