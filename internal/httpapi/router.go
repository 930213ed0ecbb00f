package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendancesvc/internal/auth"
	"attendancesvc/internal/httpmiddleware"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options configures the router around a Handler.
type Options struct {
	SigningKey      string
	Issuer          string
	AuthDisabled    bool
	RateLimitPerMin int
	CORSOrigins     []string
	Metrics         http.Handler
	Checks          map[string]HealthCheck
	Logger          *zap.Logger
}

// NewRouter wires middleware, health, metrics and the /v1 routes.
func NewRouter(h *Handler, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(logger, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(opts.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	r.GET("/healthz", health(opts.Checks))

	limiter := httpmiddleware.NewTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin, nil)
	v1 := r.Group("/v1", limiter.Middleware())
	if !opts.AuthDisabled {
		v1.Use(auth.Bearer(opts.SigningKey, opts.Issuer))
	}
	h.Register(v1)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	cfg.ExposeHeaders = []string{"X-Request-ID"}
	cfg.MaxAge = 12 * time.Hour
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		body := gin.H{}
		status, state := http.StatusOK, "ok"
		for name, check := range checks {
			ok := check(ctx)
			body[name] = ok
			if !ok {
				status, state = http.StatusServiceUnavailable, "degraded"
			}
		}
		body["status"] = state
		c.JSON(status, body)
	}
}
