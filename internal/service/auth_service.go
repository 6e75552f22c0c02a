package service

import (
	"context"

	"github.com/go-playground/validator"
	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/domain/apperr"
	"taskboard/internal/domain/models"
	"taskboard/internal/logging"
)

// UserRepository is the credential resolver contract: literal lookups only,
// no token parsing or signing.
type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByToken(ctx context.Context, token string) (*models.User, error)
}

type AuthService struct {
	repo  UserRepository
	valid *validator.Validate
}

func NewAuthService(repo UserRepository) *AuthService {
	return &AuthService{repo: repo, valid: validator.New()}
}

// Login verifies email+password and hands back the caller's API token. The
// stored password is a bcrypt hash; a missing user and a wrong password are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthUser, error) {
	if err := s.valid.Struct(req); err != nil {
		return nil, apperr.ValidationFailed("email and password are required")
	}

	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, apperr.InvalidCredentials("invalid credentials")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, apperr.InvalidCredentials("invalid credentials")
	}

	logger := logging.Ctx(ctx)
	logger.Info().Str("email", user.Email).Str("role", user.Role).Msg("auth.login.success")
	return authUser(user), nil
}

// ResolveToken maps a bearer credential to an identity, or unauthorized.
func (s *AuthService) ResolveToken(ctx context.Context, token string) (*models.AuthUser, error) {
	if token == "" {
		return nil, apperr.Unauthorized("missing bearer token")
	}

	user, err := s.repo.GetUserByToken(ctx, token)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, apperr.Unauthorized("invalid token")
		}
		return nil, err
	}
	return authUser(user), nil
}

func authUser(user *models.User) *models.AuthUser {
	return &models.AuthUser{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Token:  user.APIToken,
	}
}
