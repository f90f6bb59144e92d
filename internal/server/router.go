package server

import (
	"log/slog"
	"net/http"
	"time"

	"client-portal/internal/access"
	"client-portal/internal/auth"
	"client-portal/internal/changefeed"
	"client-portal/internal/handler"
	"client-portal/internal/middleware"
	"client-portal/internal/resource"
	"client-portal/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Store        *store.Store
	Auth         *auth.Service
	Broker       *changefeed.Broker
	Policy       access.Policy
	Logger       *slog.Logger
	Registry     *prometheus.Registry
	CookieSecure bool
}

func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := deps.Policy
	if policy == nil {
		policy = access.OwnerPolicy{}
	}
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.NewHTTPMetrics(reg).Handler())

	r.GET("/health", func(c *gin.Context) {
		if err := deps.Store.Ping(c.Request.Context()); err != nil {
			logger.WarnContext(c.Request.Context(), "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	otpLimiter := middleware.NewRateLimiter(5, time.Minute)
	authHandler := &handler.AuthHandler{Service: deps.Auth, CookieSecure: deps.CookieSecure, Logger: logger}
	requireSession := middleware.RequireSession(deps.Auth)

	authGroup := r.Group("/auth/v1")
	authGroup.POST("/signup", authHandler.SignUp)
	authGroup.POST("/token", authHandler.SignIn)
	authGroup.POST("/otp", middleware.RateLimit(otpLimiter), authHandler.RequestCode)
	authGroup.POST("/refresh", requireSession, authHandler.Refresh)
	authGroup.POST("/logout", requireSession, authHandler.SignOut)
	authGroup.GET("/user", requireSession, authHandler.CurrentUser)
	r.GET("/auth/callback", authHandler.Callback)

	api := r.Group("/api")
	api.Use(requireSession)
	for _, schema := range resource.All() {
		h := &handler.ResourceHandler{Schema: schema, Store: deps.Store, Policy: policy, Logger: logger}
		h.Register(api)
	}

	realtime := &handler.RealtimeHandler{Broker: deps.Broker, Sessions: deps.Auth, Policy: policy, Logger: logger}
	r.GET("/realtime/v1/websocket", realtime.Serve)

	return r
}
