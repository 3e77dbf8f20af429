package http

import (
	"context"
	"log/slog"

	"github.com/geocoder89/habithub/internal/config"
	"github.com/geocoder89/habithub/internal/gateway"
	"github.com/geocoder89/habithub/internal/http/handlers"
	"github.com/geocoder89/habithub/internal/http/middlewares"
	"github.com/geocoder89/habithub/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Deps struct {
	Gateway *gateway.Gateway
	Prom    *observability.Prom
	// Gatherer backs /metrics; nil skips the route.
	Gatherer prometheus.Gatherer
	// Extra readiness checks beyond the credential store (e.g. redis).
	Checks []handlers.Pinger
}

func NewRouter(log *slog.Logger, cfg config.Config, deps Deps) *gin.Engine {
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(middlewares.RequireJSON())

	// health
	checks := append([]handlers.Pinger{{
		Name: "store",
		Ping: func(ctx context.Context) error { return deps.Gateway.Ping(ctx) },
	}}, deps.Checks...)

	h := handlers.NewHealthHandler(checks...)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// auth
	authLimiter := middlewares.NewRateLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow)
	limit := authLimiter.RateLimiterMiddleware(middlewares.KeyByIP)

	authHandler := handlers.NewAuthHandler(deps.Gateway)
	r.POST("/register", limit, authHandler.Register)
	r.POST("/login", limit, authHandler.Login)

	// habits
	authMW := middlewares.NewAuthMiddleware(deps.Gateway)
	habitsHandler := handlers.NewHabitsHandler(deps.Gateway)

	habits := r.Group("/habits", authMW.RequireAuth())
	habits.GET("", habitsHandler.ListHabits)
	habits.POST("", habitsHandler.CreateHabits)
	habits.PUT("/:id", habitsHandler.UpdateProgress)
	habits.DELETE("/:id", habitsHandler.DeleteHabit)
	habits.GET("/:id/stats", habitsHandler.Stats)
	habits.POST("/:id/fill", habitsHandler.FillRandomDay)

	return r
}
