package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"domadoAPI/internal/errs"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/store"
	"domadoAPI/internal/user"

	"github.com/google/uuid"
)

type UserService struct {
	store  store.Store
	logger *slog.Logger
}

func NewUserService(s store.Store, logger *slog.Logger) *UserService {
	return &UserService{store: s, logger: logger}
}

func (s *UserService) CreateUser(ctx context.Context, req *user.CreateUserRequest) (*user.User, error) {
	now := time.Now()
	u := &user.User{
		ID:        uuid.New(),
		ClerkID:   req.ClerkID,
		Email:     req.Email,
		Username:  req.Username,
		Status:    user.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.InsertUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			existing, ferr := s.store.FindUserByClerkID(ctx, req.ClerkID)
			if ferr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user created", "user_id", u.ID, "clerk_id", u.ClerkID)
	return u, nil
}

// ResolveByClerkID maps an authenticated Clerk subject to the internal user.
func (s *UserService) ResolveByClerkID(ctx context.Context, clerkID string) (*user.User, error) {
	if clerkID == "" {
		return nil, errs.Unauthenticated
	}
	u, err := s.store.FindUserByClerkID(ctx, clerkID)
	if err != nil {
		return nil, notFound(err, errs.UserNotFound, "user")
	}
	return u, nil
}

// WithdrawByClerkID marks the account withdrawn. History is kept for billing.
func (s *UserService) WithdrawByClerkID(ctx context.Context, clerkID string) error {
	if err := s.store.UpdateUserStatusByClerkID(ctx, clerkID, user.StatusWithdrawn); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to withdraw user: %w", err)
	}
	s.logger.Info("user withdrawn", "clerk_id", clerkID)
	return nil
}

// RegisterDevice stores a push token for the user. Registering a known token
// only refreshes it.
func (s *UserService) RegisterDevice(ctx context.Context, userID uuid.UUID, req notification.RegisterDeviceRequest) error {
	t := notification.DeviceToken{Token: req.Token, Platform: req.Platform, LastUsed: time.Now()}
	if err := s.store.UpsertDeviceToken(ctx, userID, t); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	s.logger.Debug("device registered", "user_id", userID, "platform", req.Platform)
	return nil
}
