package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/core"
	"github.com/vovakirdan/wirechat-client/internal/metrics"
	"github.com/vovakirdan/wirechat-client/internal/retention"
	"github.com/vovakirdan/wirechat-client/internal/service/labels"
	"github.com/vovakirdan/wirechat-client/internal/service/members"
)

// Deps are the components exposed over the loopback API.
type Deps struct {
	Controller *core.Controller
	Labels     *labels.Service
	Members    *members.Service
	Cache      *cache.Handle
	// Retention may be nil; prune requests then fail with 503.
	Retention *retention.Manager
	Metrics   *metrics.Metrics
	// Limiter throttles mutating requests. Nil disables throttling.
	Limiter *rate.Limiter
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggerMiddleware(logger))

	view := NewViewHandlers(d.Controller, logger)
	lbl := NewLabelHandlers(d.Labels, logger)
	mem := NewMemberHandlers(d.Members, logger)
	cch := NewCacheHandlers(d.Cache, d.Controller, d.Retention, logger)
	throttle := RateLimitMiddleware(d.Limiter)

	r.GET("/health", healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{})))
	r.GET("/ws", gin.WrapH(NewWSHandler(d.Controller, logger)))

	api := r.Group("/api")
	{
		api.GET("/conversations", view.Conversations)
		api.PUT("/selection", view.Select)
		api.DELETE("/selection", view.Deselect)
		api.GET("/view", view.View)
		api.POST("/messages", throttle, view.Send)
		api.POST("/metadata/refresh", view.RefreshMetadata)

		api.GET("/labels", lbl.List)
		api.POST("/labels", throttle, lbl.Create)
		api.GET("/labels/palette", lbl.Palette)
		api.GET("/conversations/:id/labels", lbl.ForConversation)
		api.PUT("/conversations/:id/labels/:labelID", throttle, lbl.Attach)
		api.DELETE("/conversations/:id/labels/:labelID", throttle, lbl.Detach)

		api.GET("/conversations/:id/members", mem.Members)
		api.GET("/conversations/:id/candidates", mem.Candidates)
		api.PUT("/conversations/:id/members/:userID", throttle, mem.Add)
		api.DELETE("/conversations/:id/members/:userID", throttle, mem.Remove)

		api.GET("/cache/stats", cch.Stats)
		api.POST("/cache/prune", cch.Prune)
		api.DELETE("/cache", cch.Clear)
	}
	return r
}

// NewServer builds the HTTP server for the loopback API.
func NewServer(d Deps, cfg config.ServerConfig, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(d, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
