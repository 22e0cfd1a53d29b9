package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"domadoAPI/services"
)

type CouponHandler struct {
	couponService *services.CouponService
	userService   *services.UserService
	logger        *slog.Logger
}

func NewCouponHandler(couponService *services.CouponService, userService *services.UserService, logger *slog.Logger) *CouponHandler {
	return &CouponHandler{
		couponService: couponService,
		userService:   userService,
		logger:        logger,
	}
}

func (h *CouponHandler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	coupons, err := h.couponService.ListCoupons(ctx, userID)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, coupons)
}

func (h *CouponHandler) ListAvailableCoupons(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	coupons, err := h.couponService.ListAvailableCoupons(ctx, userID)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, coupons)
}

func (h *CouponHandler) ListStamps(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	summary, err := h.couponService.ListStamps(ctx, userID)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}
