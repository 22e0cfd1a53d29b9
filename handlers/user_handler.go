package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"domadoAPI/internal/errs"
	"domadoAPI/internal/notification"
	"domadoAPI/middleware"
	"domadoAPI/services"
)

type UserHandler struct {
	userService *services.UserService
	logger      *slog.Logger
}

func NewUserHandler(userService *services.UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger,
	}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Get authenticated Clerk user ID from context
	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithServiceError(w, h.logger, r, errs.Unauthenticated)
		return
	}

	u, err := h.userService.ResolveByClerkID(ctx, clerkID)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, u)
}

// POST /api/v1/devices - Register device token for push notifications
func (h *UserHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	var req notification.RegisterDeviceRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	if err := h.userService.RegisterDevice(ctx, userID, req); err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Device registered successfully"})
}
