// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, caller identity, logging/redaction, panic
// recovery, compression, metrics, CORS, security headers, idempotency and
// rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → Identity → logging → recovery)
//   - Deterministic router setup; stateful dependencies are injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/fieldops-backend/internal/ai"
	"github.com/tbourn/fieldops-backend/internal/config"
	_ "github.com/tbourn/fieldops-backend/internal/docs" // swagger spec registration
	"github.com/tbourn/fieldops-backend/internal/domain"
	"github.com/tbourn/fieldops-backend/internal/http/handlers"
	"github.com/tbourn/fieldops-backend/internal/http/middleware"
	"github.com/tbourn/fieldops-backend/internal/repo"
	"github.com/tbourn/fieldops-backend/internal/services"
	"github.com/tbourn/fieldops-backend/internal/store"
)

// Deps are the stateful components built at startup. Everything else is
// constructed here from DB.
type Deps struct {
	DB        *gorm.DB
	Records   *services.RecordService
	Knowledge *services.KnowledgeService
	AI        *ai.Gateway
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Identity: resolve X-User-ID before anything logs or keys on it
//  4. RedactingLogger: structured logs with PII scrubbing
//  5. Recovery: capture panics after logger
//  6. Gzip and body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. CORS and Security headers
//
// The rate limiter is not global: it guards the AI group and message posts,
// the two routes that call a model.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	db := deps.DB
	apiBase := cfg.APIBasePath // e.g. "/api/v1"

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2-3) Correlate requests and logs, then resolve the caller
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())

	// 4) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		MaskParams:  []string{"mongo_uri"},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Compression and global body size limit (1 MiB; SOP imports included)
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
			Scope:  idempotencyScope(apiBase),
		},
		idempotencyLookup(db),
	))

	// 9) CORS posture (safe defaults: allow all if none configured)
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))
	noStore := middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true})

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": deps.Records.State().Backend})
	})

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/index/gateway
	partnerSvc := &services.PartnerService{DB: db}
	fbSvc := &services.FeedbackService{DB: db}
	h := handlers.New(handlers.Services{
		DB:        db,
		Records:   deps.Records,
		Partners:  partnerSvc,
		Knowledge: deps.Knowledge,
		AI:        deps.AI,
		Chats:     services.NewChatService(db, deps.Records),
		Messages: &services.MessageService{
			DB:             db,
			Records:        deps.Records,
			Index:          deps.Knowledge,
			AI:             deps.AI,
			Threshold:      cfg.Threshold,
			MaxPromptRunes: 4000,
			MaxReplyRunes:  4000,
			TitleMaxLen:    60,
			TitleLocale:    language.Indonesian,
		},
		Feedback: fbSvc,
		Dashboard: &services.DashboardService{
			Records:  deps.Records,
			Partners: partnerSvc,
			Feedback: fbSvc,
		},
		MaxPromptRunes: 4000,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	connectDefaults := store.Credentials{
		APIKey:        cfg.Remote.GoogleAPIKey,
		SpreadsheetID: cfg.Remote.SpreadsheetID,
		MongoURI:      cfg.Remote.MongoURI,
		MongoDatabase: cfg.Remote.MongoDatabase,
	}

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Synced records
		for _, kind := range domain.Kinds {
			g := api.Group("/" + string(kind))
			g.GET("", h.ListRecords(kind))
			g.POST("", h.CreateRecord(kind))
			g.GET("/:id", h.GetRecord(kind))
			g.PUT("/:id", h.SaveRecord(kind))
			g.DELETE("/:id", h.DeleteRecord(kind))
		}
		api.GET("/issues/overdue", h.ListOverdueIssues)

		// Sync coordinator
		api.GET("/sync", h.SyncState)
		api.POST("/sync/connect", noStore, h.ConnectRemote(connectDefaults))
		api.POST("/sync/reload", h.ReloadRecords)

		// Dashboard
		api.GET("/dashboard", h.Dashboard)

		// Partners
		api.GET("/partners", h.ListPartners)
		api.POST("/partners", h.CreatePartner)
		api.GET("/partners/:id", h.GetPartner)
		api.PUT("/partners/:id", h.UpdatePartner)
		api.DELETE("/partners/:id", h.DeletePartner)

		// Knowledge base
		api.GET("/sops", h.ListSOPs)
		api.POST("/sops", h.CreateSOP)
		api.POST("/sops/import", h.ImportSOPs)
		api.GET("/sops/:id", h.GetSOP)
		api.PUT("/sops/:id", h.UpdateSOP)
		api.DELETE("/sops/:id", h.DeleteSOP)
		api.GET("/kb/search", h.SearchKnowledge)

		contacts := api.Group("/contacts", noStore)
		contacts.GET("", h.ListContacts)
		contacts.POST("", h.CreateContact)
		contacts.GET("/:id", h.GetContact)
		contacts.PUT("/:id", h.UpdateContact)
		contacts.DELETE("/:id", h.DeleteContact)

		// AI assist
		assist := api.Group("/ai", rl.Handler())
		assist.POST("/classify-issue", h.ClassifyIssue)
		assist.POST("/score-priority", h.ScorePriority)
		assist.POST("/extract-task", h.ExtractTask)
		assist.POST("/extract-issue", h.ExtractIssue)
		assist.POST("/summarize-visit", h.SummarizeVisit)
		assist.POST("/draft-message", h.DraftMessage)

		// Assistant chats
		api.POST("/chats", h.CreateChat)
		api.GET("/chats", h.ListChats)
		api.PUT("/chats/:id/title", h.UpdateChatTitle)
		api.GET("/chats/:id/messages", h.ListMessages)
		api.POST("/chats/:id/messages", rl.Handler(), h.PostMessage)
		api.POST("/messages/:id/feedback", h.LeaveFeedback)
	}
}

// idempotencyScope keys record writes by collection and message posts by
// chat, matching where the services store their idempotency records.
func idempotencyScope(apiBase string) func(c *gin.Context) string {
	base := strings.TrimSuffix(apiBase, "/")
	return func(c *gin.Context) string {
		p := strings.Trim(strings.TrimPrefix(c.FullPath(), base), "/")
		if strings.HasPrefix(p, "chats/:id/messages") {
			return c.Param("id")
		}
		seg, _, _ := strings.Cut(p, "/")
		return seg
	}
}

func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		_, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "ETag", middleware.HeaderIdempotencyReplayed, "Retry-After", "Content-Length"}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
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
