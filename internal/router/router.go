package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	promhandler "github.com/jwalitptl/caresync/internal/handler/prometheus"
	"github.com/jwalitptl/caresync/internal/middleware"
	"github.com/jwalitptl/caresync/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine   *gin.Engine
	health   Handler
	handlers []Handler
	config   RouterConfig
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        middleware.RateLimiterConfig
	CORSConfig       middleware.CORSConfig
	SizeLimit        middleware.SizeLimitConfig
	// MetricsPath is served from Gatherer when non-empty.
	MetricsPath string
	Gatherer    prometheus.Gatherer
	Metrics     *metrics.Metrics
}

func NewRouter(config RouterConfig, health Handler, handlers ...Handler) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	if config.Metrics == nil {
		config.Metrics = metrics.NewNop()
	}
	if config.SizeLimit.MaxBodySize <= 0 {
		config.SizeLimit = middleware.DefaultSizeLimitConfig()
	}

	r := &Router{
		engine:   engine,
		health:   health,
		handlers: handlers,
		config:   config,
	}

	// Recovery sits inside RequestID so panics are logged with the id.
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		middleware.Metrics(config.Metrics),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(config.RateLimit)
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	if r.config.MetricsPath != "" {
		r.engine.GET(r.config.MetricsPath, promhandler.New(r.config.Gatherer).Handler())
	}

	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	if r.health != nil {
		r.health.RegisterRoutes(api)
	}

	limited := api.Group("")
	limited.Use(middleware.SizeLimit(r.config.SizeLimit))
	for _, h := range r.handlers {
		h.RegisterRoutes(limited)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
