package service

import (
	"context"
	"errors"
	"strings"

	"campusbook/internal/database"
	"campusbook/internal/domain"
	"campusbook/internal/models"

	"github.com/rs/zerolog"
)

type UserService struct {
	repo   domain.UserRepository
	logger *zerolog.Logger
}

func NewUserService(repo domain.UserRepository, logger *zerolog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		logger: logger,
	}
}

// EnsureUser upserts the profile carried by a verified token. The email is the
// identity; id is only used when the account is created.
func (s *UserService) EnsureUser(ctx context.Context, id, email, name string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, domain.Validationf("token has no email claim")
	}
	user := &models.User{ID: strings.TrimSpace(id), Email: email, Name: strings.TrimSpace(name)}
	if user.ID == "" {
		user.ID = email
	}
	if err := s.repo.UpsertUser(ctx, user); err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("failed to upsert user")
		return nil, domain.Internal("failed to save user", err)
	}
	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	return user, userLookupError(err)
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	return user, userLookupError(err)
}

func userLookupError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return domain.ErrUserNotFound
	default:
		return domain.Internal("failed to load user", err)
	}
}
