package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskboard/internal/domain/apperr"
	"taskboard/internal/domain/models"
	"taskboard/internal/logging"
	"taskboard/internal/ratelimit"
	"taskboard/internal/reqctx"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerTestID        = "X-Test-Id"

	contextKeyAuth = "auth_user"
)

// Correlation seeds the per-request context store before anything else
// runs and echoes the correlation id on every response.
func Correlation() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		correlationID := ctx.GetHeader(headerCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		store := &reqctx.Store{
			CorrelationID: correlationID,
			TestID:        ctx.GetHeader(headerTestID),
		}
		ctx.Request = ctx.Request.WithContext(reqctx.With(ctx.Request.Context(), store))
		ctx.Header(headerCorrelationID, correlationID)
		ctx.Next()
	}
}

// RequestLogger emits one JSON record per completed request.
func RequestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		startedAt := time.Now()
		ctx.Next()

		fields := map[string]interface{}{}
		for key, values := range ctx.Request.URL.Query() {
			if len(values) > 0 {
				fields[key] = values[0]
			}
		}

		logger := logging.Ctx(ctx.Request.Context())
		logger.Info().
			Str("method", ctx.Request.Method).
			Str("path", ctx.Request.URL.Path).
			Int("statusCode", ctx.Writer.Status()).
			Int64("durationMs", time.Since(startedAt).Milliseconds()).
			Interface("query", logging.Redact(fields)).
			Msg("http.request")
	}
}

// RequireAuth resolves the bearer credential and attaches the identity to
// both the gin context and the request context store.
func RequireAuth(auth TokenResolver) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			respondError(ctx, apperr.Unauthorized("missing bearer token"))
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		user, err := auth.ResolveToken(ctx.Request.Context(), token)
		if err != nil {
			respondError(ctx, err)
			return
		}

		ctx.Set(contextKeyAuth, user)
		reqctx.SetUserID(ctx.Request.Context(), user.UserID)
		ctx.Next()
	}
}

// RequireRole aborts with forbidden unless the resolved identity carries
// the required role. Must run after RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user := AuthFromContext(ctx)
		if user == nil {
			respondError(ctx, apperr.Unauthorized("authentication required"))
			return
		}
		if user.Role != role {
			respondError(ctx, apperr.Forbidden("insufficient role"))
			return
		}
		ctx.Next()
	}
}

// AuthFromContext returns the identity set by RequireAuth, or nil.
func AuthFromContext(ctx *gin.Context) *models.AuthUser {
	value, exists := ctx.Get(contextKeyAuth)
	if !exists {
		return nil
	}
	user, ok := value.(*models.AuthUser)
	if !ok {
		return nil
	}
	return user
}

// RateLimit caps per-caller request rates. Keys on the bearer token when
// present, the client address otherwise. Fails open when Redis is down so
// the limiter can never take the API with it.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key := ctx.ClientIP()
		if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			key = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}

		allowed, _, err := limiter.Allow(ctx.Request.Context(), key)
		if err != nil {
			logger := logging.Ctx(ctx.Request.Context())
			logger.Warn().Err(err).Msg("ratelimit.unavailable")
			ctx.Next()
			return
		}
		if !allowed {
			correlationID := reqctx.CorrelationID(ctx.Request.Context())
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": errorBody("rate_limited", "too many requests", correlationID),
			})
			return
		}
		ctx.Next()
	}
}
