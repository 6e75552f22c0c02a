package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/domain/apperr"
	"taskboard/internal/domain/models"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func testUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:       7,
		Email:    "user@example.com",
		Password: string(hash),
		Role:     models.RoleUser,
		APIToken: "tok-user-7",
	}
}

func TestLoginSuccess(t *testing.T) {
	mockRepo := &MockUserRepository{}
	svc := NewAuthService(mockRepo)

	mockRepo.On("GetUserByEmail", mock.Anything, "user@example.com").Return(testUser(t, "secret123"), nil)

	auth, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), auth.UserID)
	assert.Equal(t, "user@example.com", auth.Email)
	assert.Equal(t, models.RoleUser, auth.Role)
	assert.Equal(t, "tok-user-7", auth.Token)
}

func TestLoginWrongPassword(t *testing.T) {
	mockRepo := &MockUserRepository{}
	svc := NewAuthService(mockRepo)

	mockRepo.On("GetUserByEmail", mock.Anything, "user@example.com").Return(testUser(t, "secret123"), nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "wrong"})
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidCredentials))
}

func TestLoginUnknownEmail(t *testing.T) {
	mockRepo := &MockUserRepository{}
	svc := NewAuthService(mockRepo)

	mockRepo.On("GetUserByEmail", mock.Anything, "ghost@example.com").Return(nil, apperr.NotFound("user not found"))

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "secret123"})
	// unknown user and wrong password must be indistinguishable
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidCredentials))
}

func TestLoginValidation(t *testing.T) {
	tests := []struct {
		name    string
		request models.LoginRequest
	}{
		{name: "missing email", request: models.LoginRequest{Password: "secret123"}},
		{name: "missing password", request: models.LoginRequest{Email: "user@example.com"}},
		{name: "malformed email", request: models.LoginRequest{Email: "not-an-email", Password: "secret123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &MockUserRepository{}
			svc := NewAuthService(mockRepo)

			_, err := svc.Login(context.Background(), tt.request)
			assert.True(t, apperr.IsCode(err, apperr.CodeValidationFailed), "got %v", err)
			mockRepo.AssertNotCalled(t, "GetUserByEmail")
		})
	}
}

func TestResolveToken(t *testing.T) {
	mockRepo := &MockUserRepository{}
	svc := NewAuthService(mockRepo)

	mockRepo.On("GetUserByToken", mock.Anything, "tok-user-7").Return(testUser(t, "secret123"), nil)
	mockRepo.On("GetUserByToken", mock.Anything, "tok-stale").Return(nil, apperr.NotFound("user not found"))

	auth, err := svc.ResolveToken(context.Background(), "tok-user-7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), auth.UserID)

	_, err = svc.ResolveToken(context.Background(), "tok-stale")
	assert.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))

	_, err = svc.ResolveToken(context.Background(), "")
	assert.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	mockRepo.AssertNotCalled(t, "GetUserByToken", mock.Anything, "")
}
