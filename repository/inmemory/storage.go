package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"taskboard/internal/domain/apperr"
	"taskboard/internal/domain/models"
)

// Storage keeps the full row contract of repository/db in process memory.
// It backs the service when no database is reachable and the concurrency
// tests that need a real conditional-update primitive.
type Storage struct {
	mu         sync.Mutex
	tasks      map[int64]models.Task
	users      map[int64]models.User
	nextTaskID int64
	nextUserID int64
}

func NewStorage() *Storage {
	return &Storage{
		tasks:      make(map[int64]models.Task),
		users:      make(map[int64]models.User),
		nextTaskID: 1,
		nextUserID: 1,
	}
}

func (s *Storage) Ping(_ context.Context) error {
	return nil
}

func inScope(task models.Task, scope models.Scope) bool {
	return scope.Unrestricted || task.OwnerID == scope.OwnerID
}

func matches(task models.Task, q models.TaskQuery) bool {
	if !inScope(task, q.Scope) {
		return false
	}
	if q.Status != "" && task.Status != q.Status {
		return false
	}
	if q.Type != "" && task.Type != q.Type {
		return false
	}
	if q.Q != "" {
		needle := strings.ToLower(q.Q)
		desc := ""
		if task.Description != nil {
			desc = *task.Description
		}
		if !strings.Contains(strings.ToLower(task.Title), needle) &&
			!strings.Contains(strings.ToLower(desc), needle) {
			return false
		}
	}
	return true
}

func (s *Storage) ListTasks(_ context.Context, q models.TaskQuery) ([]models.Task, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := []models.Task{}
	for _, task := range s.tasks {
		if matches(task, q) {
			filtered = append(filtered, task)
		}
	}

	asc := q.Sort == "asc"
	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	total := int64(len(filtered))
	start := q.Offset()
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + q.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	page := make([]models.Task, end-start)
	copy(page, filtered[start:end])
	return page, total, nil
}

func (s *Storage) GetTask(_ context.Context, scope models.Scope, id int64) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists || !inScope(task, scope) {
		return nil, apperr.NotFound("task not found")
	}
	out := task
	return &out, nil
}

func (s *Storage) CreateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tasks {
		if existing.ExternalRef == task.ExternalRef {
			return apperr.Conflict("duplicate externalRef")
		}
	}

	now := time.Now().UTC()
	task.ID = s.nextTaskID
	s.nextTaskID++
	task.Version = 1
	task.CreatedAt = now
	task.UpdatedAt = now
	s.tasks[task.ID] = *task
	return nil
}

// UpdateTask is the conditional write: it commits only when the stored
// version still equals expectedVersion.
func (s *Storage) UpdateTask(_ context.Context, task *models.Task, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.tasks[task.ID]
	if !exists || current.Version != expectedVersion {
		return apperr.Conflict("version conflict")
	}

	current.Title = task.Title
	current.Description = task.Description
	current.Status = task.Status
	current.Type = task.Type
	current.Version++
	current.UpdatedAt = time.Now().UTC()
	s.tasks[task.ID] = current
	*task = current
	return nil
}

func (s *Storage) DeleteTask(_ context.Context, scope models.Scope, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists || !inScope(task, scope) {
		return apperr.NotFound("task not found")
	}
	delete(s.tasks, id)
	return nil
}

func (s *Storage) DeleteTasksByRunID(_ context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, task := range s.tasks {
		if task.RunID == runID {
			delete(s.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Storage) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Email == email {
			out := user
			return &out, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

func (s *Storage) GetUserByToken(_ context.Context, token string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.APIToken == token {
			out := user
			return &out, nil
		}
	}
	return nil, apperr.NotFound("user not found")
}

// SeedUser inserts a credential row, assigning its id.
func (s *Storage) SeedUser(user models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.ID = s.nextUserID
	s.nextUserID++
	s.users[user.ID] = user
	return user
}
