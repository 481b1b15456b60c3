// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Services are constructed by the caller (cmd/lockd) and passed in through
// Deps, so this package never dials the chain or the shared store itself.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/config"
	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/guard"
	"github.com/tbourn/go-lockd-backend/internal/http/handlers"
	"github.com/tbourn/go-lockd-backend/internal/http/middleware"
	"github.com/tbourn/go-lockd-backend/internal/repo"
)

// maxBodyBytes caps request bodies. Claims are a few hundred bytes.
const maxBodyBytes = 64 << 10

// Deps carries everything the router needs.
type Deps struct {
	DB        *gorm.DB
	Limiter   middleware.Limiter
	Locks     handlers.LockService
	Purchases handlers.PurchaseService
	Contents  handlers.ContentService
	Admin     handlers.AdminService

	// Ready, when set, backs /health with a dependency check.
	Ready func(ctx context.Context) error
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Identity: resolve the caller before anything logs it
//  4. RedactingLogger: structured logs with wallet identifiers scrubbed
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Compression, CORS and security headers
//
// On the API group, idempotency validation runs before the rate limiter so
// replays of completed mutations are not charged.
func RegisterRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", health(d.Ready))

	h := handlers.New(d.Locks, d.Purchases, d.Contents, d.Admin)
	lookup := completedLookup(d.DB)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		apiLimit := middleware.RateLimit(d.Limiter, guard.ActionAPI, middleware.KeyByUserOrIP())

		// Mutations
		api.POST("/locks",
			middleware.IdempotencyValidator(guard.ActionRecordLock, lookup), apiLimit,
			h.RecordLock)
		api.POST("/contents/:id/purchases",
			middleware.IdempotencyValidator(guard.ActionBuyContent, lookup), apiLimit,
			h.BuyContent)

		// Reads
		api.GET("/contents", apiLimit, h.ListContents)
		api.GET("/contents/:id", apiLimit, h.GetContent)
		api.GET("/contents/:id/locks", apiLimit, h.ListContentLocks)

		// Operator
		admin := api.Group("/admin", middleware.AdminToken(cfg.AdminToken), middleware.NoStore())
		admin.POST("/decay", h.RunDecay)
		admin.GET("/score-drift", h.ScoreDrift)
	}
}

// completedLookup reports whether (action, key) already has a completed
// result, so the API limiter can let the replay through.
func completedLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, action, key string) (bool, error) {
		if db == nil {
			return false, nil
		}
		rec, err := repo.GetIdempotency(ctx, db, action, key)
		if err != nil {
			return false, err
		}
		return rec.Status == domain.IdemCompleted, nil
	}
}

func health(ready func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("health check failed")
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// useCORS installs the CORS posture: allow all origins when none are
// configured, otherwise echo allow-listed origins.
func useCORS(r *gin.Engine, origins []string) {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey, middleware.HeaderAdminToken}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "Retry-After",
		"X-RateLimit-Remaining", middleware.HeaderReplayed}
	methods := []string{"GET", "POST", "OPTIONS"}

	if len(origins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     methods,
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    exposeHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
