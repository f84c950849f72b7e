package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/config"
	"github.com/jonathan/resume-builder/internal/db"
	"github.com/jonathan/resume-builder/internal/types"
)

// UserStore is the account storage the user service needs
type UserStore interface {
	CreateUser(ctx context.Context, u *db.User) error
	GetUserByID(ctx context.Context, id string) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
}

// UserService provides business logic for user authentication operations
type UserService struct {
	store          UserStore
	passwordConfig *config.PasswordConfig
}

// NewUserService creates a new UserService with the given dependencies
func NewUserService(store UserStore, passwordConfig *config.PasswordConfig) *UserService {
	return &UserService{
		store:          store,
		passwordConfig: passwordConfig,
	}
}

// Signup creates a new account with an empty knowledge graph
func (s *UserService) Signup(ctx context.Context, req *types.SignupRequest) (*types.User, error) {
	email := db.NormalizeEmail(req.Email)

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}
	if existing != nil {
		return nil, &ErrEmailAlreadyExists{Email: email}
	}

	passwordHash, err := s.passwordConfig.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, config.ErrPasswordTooLong) {
			return nil, &ErrValidation{Field: "password", Message: "too long"}
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &db.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
		Socials:      req.Socials,
		PasswordHash: passwordHash,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		// Lost a race with a concurrent signup for the same address
		if errors.Is(err, db.ErrDuplicateEmail) {
			return nil, &ErrEmailAlreadyExists{Email: email}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().Str("user_id", u.ID.String()).Msg("user signed up")
	return u.Profile(), nil
}

// Login authenticates a user and returns user data
func (s *UserService) Login(ctx context.Context, req *types.LoginRequest) (*types.User, error) {
	u, err := s.store.GetUserByEmail(ctx, db.NormalizeEmail(req.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	// Security: Always return generic error if user not found or password wrong
	if u == nil || u.PasswordHash == "" {
		return nil, &ErrInvalidCredentials{}
	}
	if !s.passwordConfig.VerifyPassword(req.Password, u.PasswordHash) {
		return nil, &ErrInvalidCredentials{}
	}
	return u.Profile(), nil
}

// Me returns the profile of an authenticated user
func (s *UserService) Me(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	u, err := s.store.GetUserByID(ctx, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u == nil {
		// The token outlived the account
		return nil, &ErrUnauthenticated{Message: "user no longer exists"}
	}
	return u.Profile(), nil
}
