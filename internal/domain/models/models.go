package models

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"

	TypeFeature = "feature"
	TypeBug     = "bug"
	TypeChore   = "chore"

	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Task is the stored row shape. Description is nullable independently of
// "not provided" on input, hence the pointer.
type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	Type        string    `json:"type"`
	ExternalRef string    `json:"externalRef"`
	OwnerID     int64     `json:"ownerId"`
	Version     int64     `json:"version"`
	RunID       string    `json:"runId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TaskList is the list response envelope.
type TaskList struct {
	Items []Task `json:"items"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

// User is the credential row consulted by the auth service. Password holds
// a bcrypt hash; APIToken is the opaque bearer credential.
type User struct {
	ID       int64
	Email    string
	Password string
	Role     string
	APIToken string
}

// AuthUser is the resolved identity attached to a request.
type AuthUser struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Token  string `json:"token"`
}

// Scope is the ownership predicate: the single source of truth for which
// rows a caller may see or mutate. Unrestricted for admins, owner-equality
// for everyone else.
type Scope struct {
	Unrestricted bool
	OwnerID      int64
}

func NewScope(role string, userID int64) Scope {
	if role == RoleAdmin {
		return Scope{Unrestricted: true}
	}
	return Scope{OwnerID: userID}
}

// OptString is a tri-state JSON string: absent, explicit null, or a value.
// A partial update must not collapse "field omitted" and "field set to
// null" into one meaning.
type OptString struct {
	Set   bool
	Valid bool
	Value string
}

func (o *OptString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Valid = false
		o.Value = ""
		return nil
	}
	if err := json.Unmarshal(data, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

func (o OptString) MarshalJSON() ([]byte, error) {
	if !o.Set || !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Ptr returns the value as a nullable pointer, nil for absent or null.
func (o OptString) Ptr() *string {
	if !o.Set || !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title" validate:"required,max=120"`
	Description *string `json:"description" validate:"omitempty,max=400"`
	Status      string  `json:"status" validate:"omitempty,oneof=todo in_progress done"`
	Type        string  `json:"type" validate:"omitempty,oneof=feature bug chore"`
	ExternalRef string  `json:"externalRef"`
	RunID       string  `json:"runId"`
}

type UpdateTaskRequest struct {
	Version     *int64    `json:"version"`
	Title       *string   `json:"title"`
	Description OptString `json:"description"`
	Status      *string   `json:"status"`
	Type        *string   `json:"type"`
}

// ListTasksParams is the raw query-string input, validated by the service
// before any storage call.
type ListTasksParams struct {
	Page   string
	Limit  string
	Status string
	Type   string
	Q      string
	Sort   string
}

// TaskQuery is the compiled list plan: ownership scope plus validated
// filters. Filter values are always bound parameters downstream, never
// interpolated into query text.
type TaskQuery struct {
	Scope  Scope
	Page   int
	Limit  int
	Status string
	Type   string
	Q      string
	Sort   string
}

func (q TaskQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}
