package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"domadoAPI/services"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	userService    *services.UserService
	logger         *slog.Logger
}

func NewPaymentHandler(paymentService *services.PaymentService, userService *services.UserService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		userService:    userService,
		logger:         logger,
	}
}

func (h *PaymentHandler) GetRentalPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}
	rentalID, err := pathUUID(r, "rentalId")
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	view, err := h.paymentService.GetByRental(ctx, rentalID, userID)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	limit, offset := pagination(r)
	payments, err := h.paymentService.List(ctx, userID, limit, offset)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, payments)
}

// RetryPayment charges a FAILED or stale PENDING payment again.
func (h *PaymentHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}
	paymentID, err := pathUUID(r, "paymentId")
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	view, err := h.paymentService.Retry(ctx, paymentID, userID)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}
