package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/domain/models"
	"taskboard/internal/logging"
	"taskboard/internal/ratelimit"
	"taskboard/internal/reqctx"
)

func TestCorrelationSeedsStore(t *testing.T) {
	router := gin.New()
	router.Use(Correlation())

	var store *reqctx.Store
	router.GET("/probe", func(ctx *gin.Context) {
		store = reqctx.From(ctx.Request.Context())
		ctx.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Correlation-Id", "corr-9")
	req.Header.Set("X-Test-Id", "run_9")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.NotNil(t, store)
	assert.Equal(t, "corr-9", store.CorrelationID)
	assert.Equal(t, "run_9", store.TestID)
	assert.Equal(t, "corr-9", w.Header().Get("X-Correlation-Id"))
}

func TestCorrelationGeneratesID(t *testing.T) {
	router := gin.New()
	router.Use(Correlation())
	router.GET("/probe", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/probe", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/probe", nil))

	assert.NotEmpty(t, first.Header().Get("X-Correlation-Id"))
	assert.NotEqual(t, first.Header().Get("X-Correlation-Id"), second.Header().Get("X-Correlation-Id"))
}

func TestRequestLoggerRedactsQuery(t *testing.T) {
	var buf bytes.Buffer
	logging.Init("info")
	logging.SetOutput(&buf)
	defer logging.Init("error")

	router := gin.New()
	router.Use(Correlation(), RequestLogger())
	router.GET("/probe", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/probe?password=hunter2&status=done", nil)
	req.Header.Set("X-Correlation-Id", "corr-log")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "http.request", record["message"])
	assert.Equal(t, "GET", record["method"])
	assert.Equal(t, "/probe", record["path"])
	assert.Equal(t, float64(http.StatusOK), record["statusCode"])
	assert.Equal(t, "corr-log", record["correlationId"])

	query, ok := record["query"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", query["password"])
	assert.Equal(t, "done", query["status"])
}

func TestRequireRole(t *testing.T) {
	admin := &models.AuthUser{UserID: 1, Role: models.RoleAdmin, Token: "tok-a"}
	user := &models.AuthUser{UserID: 2, Role: models.RoleUser, Token: "tok-u"}

	newRouter := func(identity *models.AuthUser) *gin.Engine {
		router := gin.New()
		router.Use(Correlation(), func(ctx *gin.Context) {
			ctx.Set(contextKeyAuth, identity)
		}, RequireRole(models.RoleAdmin))
		router.GET("/probe", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })
		return router
	}

	w := httptest.NewRecorder()
	newRouter(admin).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	newRouter(user).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRoleWithoutIdentity(t *testing.T) {
	router := gin.New()
	router.Use(Correlation(), RequireRole(models.RoleAdmin))
	router.GET("/probe", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthFromContextMissing(t *testing.T) {
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, AuthFromContext(ctx))
}

// RateLimit must let requests through when Redis is unreachable.
func TestRateLimitFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	limiter := ratelimit.NewLimiter(client, "test:", 1, time.Minute)

	router := gin.New()
	router.Use(Correlation(), RateLimit(limiter))
	router.GET("/probe", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
