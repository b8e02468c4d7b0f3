package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatewarden/gatewarden/internal/accesscontrol"
	"github.com/gatewarden/gatewarden/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate validates email/password credentials. Every failure mode
// collapses into ErrInvalidCredentials so the response never reveals
// whether the account exists.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// CurrentUser builds the calling context the decision engine consumes:
// the user id plus its roles and direct group memberships. Resolved per
// request so role changes apply without re-login.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*accesscontrol.CurrentUser, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	roles, err := s.repo.RolesOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups, err := s.repo.GroupsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &accesscontrol.CurrentUser{ID: user.ID, Roles: roles, Groups: groups}, nil
}

// Register creates a new account with a freshly assigned id.
func (s *Service) Register(ctx context.Context, email, name, password string, roles []string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user, roles); err != nil {
		return nil, err
	}
	return &user, nil
}
