package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"domadoAPI/internal/rental"
	"domadoAPI/services"

	"github.com/google/uuid"
)

type HiBikeHandler struct {
	hiBikeService *services.HiBikeService
	userService   *services.UserService
	logger        *slog.Logger
}

func NewHiBikeHandler(hiBikeService *services.HiBikeService, userService *services.UserService, logger *slog.Logger) *HiBikeHandler {
	return &HiBikeHandler{
		hiBikeService: hiBikeService,
		userService:   userService,
		logger:        logger,
	}
}

// MakeHiBike offers the paused bike of the caller's rental to other riders.
func (h *HiBikeHandler) MakeHiBike(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, rentalID, ok := h.identify(ctx, w, r)
	if !ok {
		return
	}

	var req rental.LocationRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	view, err := h.hiBikeService.MakeHiBike(ctx, rentalID, userID, *req.Latitude, *req.Longitude)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

// CancelHiBike withdraws the offer. The body with the rider's position is optional.
func (h *HiBikeHandler) CancelHiBike(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, rentalID, ok := h.identify(ctx, w, r)
	if !ok {
		return
	}

	var req rental.OptionalLocationRequest
	if err := decodeOptional(w, r, &req); err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	view, err := h.hiBikeService.CancelHiBike(ctx, rentalID, userID, req.Latitude, req.Longitude)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *HiBikeHandler) identify(ctx context.Context, w http.ResponseWriter, r *http.Request) (userID, rentalID uuid.UUID, ok bool) {
	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return uuid.Nil, uuid.Nil, false
	}
	rentalID, err = pathUUID(r, "rentalId")
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, rentalID, true
}
