package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator"

	"taskboard/internal/domain/apperr"
	"taskboard/internal/domain/models"
	"taskboard/internal/logging"
)

var (
	externalRefPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,40}$`)
	runIDPattern       = regexp.MustCompile(`^[A-Za-z0-9_-]{3,60}$`)
)

var allowedStatuses = map[string]bool{
	models.StatusTodo:       true,
	models.StatusInProgress: true,
	models.StatusDone:       true,
}

var allowedTypes = map[string]bool{
	models.TypeFeature: true,
	models.TypeBug:     true,
	models.TypeChore:   true,
}

// TaskRepository is the row-level storage contract the pipeline runs
// against. UpdateTask must be a conditional write keyed on (id, version).
type TaskRepository interface {
	ListTasks(ctx context.Context, q models.TaskQuery) ([]models.Task, int64, error)
	GetTask(ctx context.Context, scope models.Scope, id int64) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task, expectedVersion int64) error
	DeleteTask(ctx context.Context, scope models.Scope, id int64) error
	DeleteTasksByRunID(ctx context.Context, runID string) (int64, error)
}

type TaskService struct {
	repo  TaskRepository
	valid *validator.Validate
}

func NewTaskService(repo TaskRepository) *TaskService {
	return &TaskService{repo: repo, valid: validator.New()}
}

// ParseListParams validates raw query strings into an executable plan.
// Every failure is validation_failed; nothing reaches storage on failure.
func ParseListParams(scope models.Scope, params models.ListTasksParams) (models.TaskQuery, error) {
	q := models.TaskQuery{Scope: scope, Page: 1, Limit: 10, Sort: "desc"}

	if params.Page != "" {
		page, err := strconv.Atoi(params.Page)
		if err != nil || page < 1 {
			return q, apperr.ValidationFailed("page must be integer >= 1")
		}
		q.Page = page
	}

	if params.Limit != "" {
		limit, err := strconv.Atoi(params.Limit)
		if err != nil || limit < 1 || limit > 50 {
			return q, apperr.ValidationFailed("limit must be integer between 1 and 50")
		}
		q.Limit = limit
	}

	if params.Status != "" {
		if !allowedStatuses[params.Status] {
			return q, apperr.ValidationFailed("status must be todo|in_progress|done")
		}
		q.Status = params.Status
	}

	if params.Type != "" {
		if !allowedTypes[params.Type] {
			return q, apperr.ValidationFailed("type must be feature|bug|chore")
		}
		q.Type = params.Type
	}

	if params.Q != "" {
		trimmed := strings.TrimSpace(params.Q)
		if len(trimmed) < 1 || len(params.Q) > 80 {
			return q, apperr.ValidationFailed("q must be between 1 and 80 chars")
		}
		q.Q = trimmed
	}

	if params.Sort != "" {
		if params.Sort != "asc" && params.Sort != "desc" {
			return q, apperr.ValidationFailed("sort must be asc or desc")
		}
		q.Sort = params.Sort
	}

	return q, nil
}

func (s *TaskService) List(ctx context.Context, scope models.Scope, params models.ListTasksParams) (*models.TaskList, error) {
	q, err := ParseListParams(scope, params)
	if err != nil {
		return nil, err
	}

	items, total, err := s.repo.ListTasks(ctx, q)
	if err != nil {
		return nil, err
	}
	return &models.TaskList{Items: items, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

func (s *TaskService) Create(ctx context.Context, ownerID int64, req models.CreateTaskRequest) (*models.Task, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.valid.Struct(req); err != nil {
		return nil, taskValidationError(err)
	}

	externalRef := req.ExternalRef
	if externalRef == "" {
		externalRef = fmt.Sprintf("task_%d", time.Now().UnixMilli())
	}
	if !externalRefPattern.MatchString(externalRef) {
		return nil, apperr.ValidationFailed("externalRef must match [A-Za-z0-9_-]{3,40}")
	}

	runID := req.RunID
	if runID == "" {
		runID = "manual"
	}
	if !runIDPattern.MatchString(runID) {
		return nil, apperr.ValidationFailed("runId must match [A-Za-z0-9_-]{3,60}")
	}

	status := req.Status
	if status == "" {
		status = models.StatusTodo
	}
	taskType := req.Type
	if taskType == "" {
		taskType = models.TypeFeature
	}

	task := models.Task{
		Title:       req.Title,
		Description: req.Description,
		Status:      status,
		Type:        taskType,
		ExternalRef: externalRef,
		OwnerID:     ownerID,
		RunID:       runID,
	}
	if err := s.repo.CreateTask(ctx, &task); err != nil {
		return nil, err
	}

	logger := logging.Ctx(ctx)
	logger.Info().Int64("taskId", task.ID).Str("runId", task.RunID).Msg("task.created")
	return &task, nil
}

func (s *TaskService) Get(ctx context.Context, scope models.Scope, id int64) (*models.Task, error) {
	if id < 1 {
		return nil, apperr.ValidationFailed("task id must be integer >= 1")
	}
	return s.repo.GetTask(ctx, scope, id)
}

// Update runs the optimistic concurrency protocol: validate, read under the
// ownership scope, compare versions, apply the patch, commit conditionally.
// A row invisible to the caller is not_found, never forbidden, so foreign
// ids stay indistinguishable from missing ones.
func (s *TaskService) Update(ctx context.Context, scope models.Scope, id int64, req models.UpdateTaskRequest) (*models.Task, error) {
	if id < 1 {
		return nil, apperr.ValidationFailed("task id must be integer >= 1")
	}
	if req.Version == nil || *req.Version < 1 {
		return nil, apperr.ValidationFailed("version must be positive integer")
	}
	if req.Title == nil && !req.Description.Set && req.Status == nil && req.Type == nil {
		return nil, apperr.ValidationFailed("at least one mutable field is required")
	}
	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		if trimmed == "" {
			return nil, apperr.ValidationFailed("title cannot be empty")
		}
		if len(trimmed) > 120 {
			return nil, apperr.ValidationFailed("title max length is 120")
		}
		req.Title = &trimmed
	}
	if req.Description.Set && req.Description.Valid && len(req.Description.Value) > 400 {
		return nil, apperr.ValidationFailed("description max length is 400")
	}
	if req.Status != nil && !allowedStatuses[*req.Status] {
		return nil, apperr.ValidationFailed("status must be todo|in_progress|done")
	}
	if req.Type != nil && !allowedTypes[*req.Type] {
		return nil, apperr.ValidationFailed("type must be feature|bug|chore")
	}

	current, err := s.repo.GetTask(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if current.Version != *req.Version {
		return nil, apperr.Conflict("version conflict")
	}

	patched := *current
	if req.Title != nil {
		patched.Title = *req.Title
	}
	// Description distinguishes "omitted" (keep) from "explicit null"
	// (clear); both reach this point with different OptString states.
	if req.Description.Set {
		patched.Description = req.Description.Ptr()
	}
	if req.Status != nil {
		patched.Status = *req.Status
	}
	if req.Type != nil {
		patched.Type = *req.Type
	}

	if err := s.repo.UpdateTask(ctx, &patched, *req.Version); err != nil {
		return nil, err
	}

	logger := logging.Ctx(ctx)
	logger.Info().Int64("taskId", patched.ID).Int64("version", patched.Version).Msg("task.updated")
	return &patched, nil
}

func (s *TaskService) Delete(ctx context.Context, scope models.Scope, id int64) error {
	if id < 1 {
		return apperr.ValidationFailed("task id must be integer >= 1")
	}
	if err := s.repo.DeleteTask(ctx, scope, id); err != nil {
		return err
	}

	logger := logging.Ctx(ctx)
	logger.Info().Int64("taskId", id).Msg("task.deleted")
	return nil
}

// CleanupRun deletes every task tagged with runID regardless of owner. The
// caller must already be role-gated to admin.
func (s *TaskService) CleanupRun(ctx context.Context, runID string) (int64, error) {
	if !runIDPattern.MatchString(runID) {
		return 0, apperr.ValidationFailed("runId must match [A-Za-z0-9_-]{3,60}")
	}

	deleted, err := s.repo.DeleteTasksByRunID(ctx, runID)
	if err != nil {
		return 0, err
	}

	logger := logging.Ctx(ctx)
	logger.Info().Str("runId", runID).Int64("deleted", deleted).Msg("task.run_cleanup")
	return deleted, nil
}

// taskValidationError maps struct-tag failures onto the stable messages of
// the validation taxonomy.
func taskValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.ValidationFailed("invalid task payload")
	}
	for _, verr := range verrs {
		switch verr.Field() {
		case "Title":
			if verr.Tag() == "required" {
				return apperr.ValidationFailed("title is required")
			}
			return apperr.ValidationFailed("title max length is 120")
		case "Description":
			return apperr.ValidationFailed("description max length is 400")
		case "Status":
			return apperr.ValidationFailed("status must be todo|in_progress|done")
		case "Type":
			return apperr.ValidationFailed("type must be feature|bug|chore")
		}
	}
	return apperr.ValidationFailed("invalid task payload")
}
