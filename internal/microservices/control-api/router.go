package controlapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"twinbridge/internal/microservices/control-api/handler"
	"twinbridge/internal/microservices/control-api/middleware"
	"twinbridge/internal/microservices/control-api/service"
)

type RouterConfig struct {
	Service   service.PlaybackService
	JWTSecret string              // empty disables auth on mutating routes
	Gatherer  prometheus.Gatherer // nil disables /metrics
	Mode      string              // gin mode, defaults to release
}

// NewRouter wires the control API:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /api/v1/playback
//	POST /api/v1/playback/start | /api/v1/playback/stop
//	PUT  /api/v1/playback/speed | /api/v1/playback/loop
//	POST /api/v1/channels/:index
func NewRouter(cfg RouterConfig) *gin.Engine {
	mode := cfg.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	protected := api.Group("")
	if cfg.JWTSecret != "" {
		protected.Use(middleware.RequireBearer(cfg.JWTSecret))
	}

	h := handler.NewPlaybackHandler(cfg.Service)
	h.RegisterRoutes(api, protected)
	return r
}
