package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"taskboard/internal/domain/apperr"
	"taskboard/internal/domain/models"
	"taskboard/internal/logging"
	"taskboard/internal/ratelimit"
	"taskboard/internal/reqctx"
)

// TokenResolver is the credential resolver consumed by RequireAuth.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.AuthUser, error)
}

// Authenticator is the full authorization gate surface.
type Authenticator interface {
	TokenResolver
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthUser, error)
}

// TaskManager is the task resource surface the HTTP boundary exposes.
type TaskManager interface {
	List(ctx context.Context, scope models.Scope, params models.ListTasksParams) (*models.TaskList, error)
	Create(ctx context.Context, ownerID int64, req models.CreateTaskRequest) (*models.Task, error)
	Get(ctx context.Context, scope models.Scope, id int64) (*models.Task, error)
	Update(ctx context.Context, scope models.Scope, id int64, req models.UpdateTaskRequest) (*models.Task, error)
	Delete(ctx context.Context, scope models.Scope, id int64) error
	CleanupRun(ctx context.Context, runID string) (int64, error)
}

// Pinger reports storage liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type TaskAPI struct {
	httpSrv *http.Server
	auth    Authenticator
	tasks   TaskManager
	pinger  Pinger
	limiter *ratelimit.Limiter
}

func NewTaskAPI(auth Authenticator, tasks TaskManager, pinger Pinger, limiter *ratelimit.Limiter, cfg *Config) *TaskAPI {
	if auth == nil || tasks == nil || pinger == nil {
		return nil
	}
	if cfg == nil {
		cfg = &Config{}
	}

	addr := cfg.Addr
	if addr == "" && cfg.Port == 0 {
		addr = ":8080"
	} else {
		addr = fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	}

	api := TaskAPI{
		httpSrv: &http.Server{Addr: addr},
		auth:    auth,
		tasks:   tasks,
		pinger:  pinger,
		limiter: limiter,
	}

	api.configRoutes()

	return &api
}

func (api *TaskAPI) Start() error {
	if api.httpSrv == nil {
		return apperr.Internal("server not configured")
	}
	return api.httpSrv.ListenAndServe()
}

func (api *TaskAPI) Shutdown(ctx context.Context) error {
	if api.httpSrv == nil {
		return nil
	}
	return api.httpSrv.Shutdown(ctx)
}

func (api *TaskAPI) configRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), Correlation(), RequestLogger())
	if api.limiter != nil {
		router.Use(RateLimit(api.limiter))
	}

	router.GET("/health", api.health)
	router.POST("/auth/login", api.login)

	tasks := router.Group("/api/tasks", RequireAuth(api.auth))
	{
		tasks.GET("", api.listTasks)
		tasks.POST("", api.createTask)
		tasks.DELETE("/testing/run/:runID", RequireRole(models.RoleAdmin), api.cleanupRun)
		tasks.GET("/:taskID", api.getTask)
		tasks.PATCH("/:taskID", api.updateTask)
		tasks.DELETE("/:taskID", api.deleteTask)
	}

	api.httpSrv.Handler = router
}

func (api *TaskAPI) health(ctx *gin.Context) {
	if err := api.pinger.Ping(ctx.Request.Context()); err != nil {
		logger := logging.Ctx(ctx.Request.Context())
		logger.Warn().Err(err).Msg("health.db_unreachable")
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "db": false, "error": "database unavailable"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "db": true})
}

func (api *TaskAPI) login(ctx *gin.Context) {
	var req models.LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondError(ctx, apperr.BadRequest("invalid request body"))
		return
	}

	user, err := api.auth.Login(ctx.Request.Context(), req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, user)
}

func (api *TaskAPI) listTasks(ctx *gin.Context) {
	user := AuthFromContext(ctx)
	params := models.ListTasksParams{
		Page:   ctx.Query("page"),
		Limit:  ctx.Query("limit"),
		Status: ctx.Query("status"),
		Type:   ctx.Query("type"),
		Q:      ctx.Query("q"),
		Sort:   ctx.Query("sort"),
	}

	list, err := api.tasks.List(ctx.Request.Context(), models.NewScope(user.Role, user.UserID), params)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, list)
}

func (api *TaskAPI) createTask(ctx *gin.Context) {
	user := AuthFromContext(ctx)
	var req models.CreateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondError(ctx, apperr.BadRequest("invalid request body"))
		return
	}

	task, err := api.tasks.Create(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, task)
}

func (api *TaskAPI) getTask(ctx *gin.Context) {
	user := AuthFromContext(ctx)
	task, err := api.tasks.Get(ctx.Request.Context(), models.NewScope(user.Role, user.UserID), taskIDParam(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, task)
}

func (api *TaskAPI) updateTask(ctx *gin.Context) {
	user := AuthFromContext(ctx)
	var req models.UpdateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondError(ctx, apperr.BadRequest("invalid request body"))
		return
	}

	task, err := api.tasks.Update(ctx.Request.Context(), models.NewScope(user.Role, user.UserID), taskIDParam(ctx), req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, task)
}

func (api *TaskAPI) deleteTask(ctx *gin.Context) {
	user := AuthFromContext(ctx)
	if err := api.tasks.Delete(ctx.Request.Context(), models.NewScope(user.Role, user.UserID), taskIDParam(ctx)); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (api *TaskAPI) cleanupRun(ctx *gin.Context) {
	deleted, err := api.tasks.CleanupRun(ctx.Request.Context(), ctx.Param("runID"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// taskIDParam parses the :taskID segment. Unparseable ids come out as 0,
// which the service rejects with the same validation error as any other
// non-positive id.
func taskIDParam(ctx *gin.Context) int64 {
	id, err := strconv.ParseInt(ctx.Param("taskID"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// respondError translates any failure into the error envelope. Classified
// errors keep their status and code; everything else is logged in full and
// surfaced as a bare internal_server_error.
func respondError(ctx *gin.Context, err error) {
	correlationID := reqctx.CorrelationID(ctx.Request.Context())
	logger := logging.Ctx(ctx.Request.Context())

	if appErr := apperr.As(err); appErr != nil {
		logger.Warn().
			Int("status", appErr.Status).
			Str("code", appErr.Code).
			Str("message", appErr.Message).
			Msg("http.app_error")
		ctx.AbortWithStatusJSON(appErr.Status, gin.H{"error": errorBody(appErr.Code, appErr.Message, correlationID)})
		return
	}

	logger.Error().Err(err).Msg("http.unhandled_error")
	ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": errorBody(apperr.CodeInternal, "Unexpected internal error", correlationID),
	})
}

func errorBody(code, message, correlationID string) gin.H {
	body := gin.H{"code": code, "message": message}
	if correlationID != "" {
		body["correlationId"] = correlationID
	}
	return body
}
