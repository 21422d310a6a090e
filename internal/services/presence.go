package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-chat/internal/apperr"
	"campus-chat/internal/models"
	"campus-chat/internal/repositories"
)

// PresenceService persists user presence.
type PresenceService struct {
	users repositories.UserRepository
	now   func() time.Time
}

// NewPresenceService constructs a PresenceService.
func NewPresenceService(users repositories.UserRepository) *PresenceService {
	return &PresenceService{users: users, now: time.Now}
}

// SetStatus stores the user's presence status.
func (s *PresenceService) SetStatus(ctx context.Context, userID int, status string) error {
	if !models.ValidStatus(status) {
		return apperr.Validation("status must be one of online, away, busy, offline")
	}
	err := s.users.SetStatus(ctx, userID, status, s.now())
	if errors.Is(err, repositories.ErrUserNotFound) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// GetUser resolves a user, failing with an AuthError for unknown or deactivated accounts.
func (s *PresenceService) GetUser(ctx context.Context, userID int) (models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) || (err == nil && !user.IsActive) {
		return models.User{}, apperr.Auth("unknown or inactive user")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
