package api

import (
	"io"
	"log/slog"
	"net/http"

	_ "github.com/LukaK/simbiot/docs" // register Swagger spec

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router with the full middleware chain and all routes
// registered. Middleware order:
//  1. Recovery: panic → 500
//  2. RequestID: X-Request-ID in and out
//  3. Tracing: trace context per request
//  4. RequestLogger: structured request/response logging
func NewRouter(svc deploymentService, defaults Defaults, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(logger))
	engine.Use(RequestID())
	engine.Use(Tracing("simbiot"))
	engine.Use(RequestLogger(logger))

	h := &Handler{deployments: svc, defaults: defaults, logger: logger}

	v1 := engine.Group("/api/v1")
	v1.GET("/deployments", h.ListDeployments)
	v1.POST("/deployments", h.CreateDeployment)
	v1.GET("/deployments/:name", h.GetDeployment)
	v1.DELETE("/deployments/:name", h.DeleteDeployment)
	v1.POST("/deployments/:name/predict", h.Predict)

	engine.GET("/health", h.Health)
	engine.GET("/health/deep", h.DeepHealth)
	engine.GET("/ready", h.Ready)

	// API docs at /api-docs
	engine.GET("/api-docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/api-docs/index.html")
	})
	engine.GET("/api-docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
