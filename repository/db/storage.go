package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskboard/internal/domain/apperr"
	"taskboard/internal/domain/models"
	"taskboard/internal/logging"
)

const taskColumns = `id, title, description, status, type, external_ref, owner_id, version, run_id, created_at, updated_at`

// Storage is the PostgreSQL row store. The pool is safe for concurrent use;
// every operation checks out a connection for exactly one statement.
type Storage struct {
	pool       *pgxpool.Pool
	queryDebug bool
}

func NewStorage(ctx context.Context, connStr string, queryDebug bool) (*Storage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Storage{pool: pool, queryDebug: queryDebug}, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// scopeCondition renders the ownership predicate as query text with the
// owner id appended to args. Only placeholder indexes reach the text.
func scopeCondition(scope models.Scope, args *[]interface{}) string {
	if scope.Unrestricted {
		return "TRUE"
	}
	*args = append(*args, scope.OwnerID)
	return fmt.Sprintf("owner_id = $%d", len(*args))
}

func (s *Storage) ListTasks(ctx context.Context, q models.TaskQuery) ([]models.Task, int64, error) {
	args := []interface{}{}
	conditions := []string{scopeCondition(q.Scope, &args)}

	if q.Status != "" {
		args = append(args, q.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.Type != "" {
		args = append(args, q.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if q.Q != "" {
		args = append(args, "%"+q.Q+"%")
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR COALESCE(description, '') ILIKE $%d)", len(args), len(args)))
	}

	where := strings.Join(conditions, " AND ")

	var total int64
	countQuery := `SELECT COUNT(*) FROM tasks WHERE ` + where
	if err := s.queryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// id tie-break keeps the order total even when rows share a creation
	// timestamp, so pages never overlap or skip rows.
	direction := "DESC"
	if q.Sort == "asc" {
		direction = "ASC"
	}
	args = append(args, q.Limit, q.Offset())
	listQuery := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY created_at %s, id %s LIMIT $%d OFFSET $%d`,
		taskColumns, where, direction, direction, len(args)-1, len(args))

	rows, err := s.query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		var task models.Task
		if err := scanTask(rows, &task); err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s *Storage) GetTask(ctx context.Context, scope models.Scope, id int64) (*models.Task, error) {
	args := []interface{}{id}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND ` + scopeCondition(scope, &args)

	var task models.Task
	if err := scanTask(s.queryRow(ctx, query, args...), &task); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("task not found")
		}
		return nil, err
	}
	return &task, nil
}

func (s *Storage) CreateTask(ctx context.Context, task *models.Task) error {
	query := `INSERT INTO tasks (title, description, status, type, external_ref, owner_id, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + taskColumns

	err := scanTask(s.queryRow(ctx, query,
		task.Title, task.Description, task.Status, task.Type,
		task.ExternalRef, task.OwnerID, task.RunID), task)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("duplicate externalRef")
		}
		return err
	}
	return nil
}

// UpdateTask commits the already-applied patch with the storage engine's
// conditional write. Zero rows means another writer committed first: the
// caller has already read the row under its scope, so this is always a
// version conflict, never a missing row.
func (s *Storage) UpdateTask(ctx context.Context, task *models.Task, expectedVersion int64) error {
	query := `UPDATE tasks
		SET title = $1, description = $2, status = $3, type = $4, version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING ` + taskColumns

	err := scanTask(s.queryRow(ctx, query,
		task.Title, task.Description, task.Status, task.Type,
		task.ID, expectedVersion), task)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Conflict("version conflict")
		}
		return err
	}
	return nil
}

func (s *Storage) DeleteTask(ctx context.Context, scope models.Scope, id int64) error {
	args := []interface{}{id}
	query := `DELETE FROM tasks WHERE id = $1 AND ` + scopeCondition(scope, &args)

	tag, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("task not found")
	}
	return nil
}

func (s *Storage) DeleteTasksByRunID(ctx context.Context, runID string) (int64, error) {
	tag, err := s.exec(ctx, `DELETE FROM tasks WHERE run_id = $1`, runID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const userColumns = `id, email, password, role, api_token`

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *Storage) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE api_token = $1`, token)
}

func (s *Storage) getUser(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var user models.User
	err := s.queryRow(ctx, query, arg).Scan(&user.ID, &user.Email, &user.Password, &user.Role, &user.APIToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, err
	}
	return &user, nil
}

func scanTask(row pgx.Row, task *models.Task) error {
	return row.Scan(&task.ID, &task.Title, &task.Description, &task.Status, &task.Type,
		&task.ExternalRef, &task.OwnerID, &task.Version, &task.RunID,
		&task.CreatedAt, &task.UpdatedAt)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Storage) queryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	s.debugLog(ctx, query, len(args))
	return s.pool.QueryRow(ctx, query, args...)
}

func (s *Storage) query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	s.debugLog(ctx, query, len(args))
	return s.pool.Query(ctx, query, args...)
}

func (s *Storage) exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	s.debugLog(ctx, query, len(args))
	return s.pool.Exec(ctx, query, args...)
}

func (s *Storage) debugLog(ctx context.Context, query string, paramCount int) {
	if !s.queryDebug {
		return
	}
	logger := logging.Ctx(ctx)
	logger.Debug().
		Str("statement", strings.Join(strings.Fields(query), " ")).
		Int("paramCount", paramCount).
		Msg("db.query")
}
