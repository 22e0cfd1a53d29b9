package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"domadoAPI/internal/errs"
	"domadoAPI/internal/rental"
	"domadoAPI/services"

	"github.com/google/uuid"
)

type RentalHandler struct {
	rentalService *services.RentalService
	userService   *services.UserService
	logger        *slog.Logger
}

func NewRentalHandler(rentalService *services.RentalService, userService *services.UserService, logger *slog.Logger) *RentalHandler {
	return &RentalHandler{
		rentalService: rentalService,
		userService:   userService,
		logger:        logger,
	}
}

// paymentFailedResponse carries the committed return alongside the payment error.
type paymentFailedResponse struct {
	errorResponse
	Return *rental.ReturnView `json:"return"`
}

func (h *RentalHandler) Rent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	qrCode := r.URL.Query().Get("qrCode")
	if qrCode == "" {
		respondWithError(w, http.StatusBadRequest, errs.CodeInvalidInput, "Query parameter 'qrCode' is required")
		return
	}

	view, err := h.rentalService.Rent(ctx, userID, qrCode)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, view)
}

func (h *RentalHandler) ListRentals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	f := rental.ListFilter{}
	f.Limit, f.Offset = pagination(r)
	if s := r.URL.Query().Get("status"); s != "" {
		status := rental.Status(s)
		if !status.Valid() {
			respondWithError(w, http.StatusBadRequest, errs.CodeInvalidInput, "Unknown rental status")
			return
		}
		f.Status = &status
	}

	rentals, err := h.rentalService.ListRentals(ctx, userID, f)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, rentals)
}

func (h *RentalHandler) GetRental(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, rentalID, ok := h.rentalRequest(ctx, w, r)
	if !ok {
		return
	}

	rent, err := h.rentalService.GetRental(ctx, rentalID, userID)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, rent)
}

func (h *RentalHandler) Pause(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, rentalID, ok := h.rentalRequest(ctx, w, r)
	if !ok {
		return
	}

	var req rental.LocationRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	view, err := h.rentalService.Pause(ctx, rentalID, userID, *req.Latitude, *req.Longitude)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *RentalHandler) Resume(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, rentalID, ok := h.rentalRequest(ctx, w, r)
	if !ok {
		return
	}

	var req rental.LocationRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	view, err := h.rentalService.Resume(ctx, rentalID, userID, *req.Latitude, *req.Longitude)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

// Return ends the rental. When the rental is committed but the charge fails the
// response is 402 and still carries the return summary.
func (h *RentalHandler) Return(w http.ResponseWriter, r *http.Request) {
	// The gateway call runs inside this request.
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	userID, rentalID, ok := h.rentalRequest(ctx, w, r)
	if !ok {
		return
	}

	var req rental.ReturnRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	view, err := h.rentalService.Return(ctx, rentalID, userID, req)
	if err != nil {
		if view != nil && errors.Is(err, errs.PaymentFailed) {
			h.logger.Warn("rental returned with failed payment", "rental_id", rentalID, "error", err)
			respondWithJSON(w, http.StatusPaymentRequired, paymentFailedResponse{
				errorResponse: errorResponse{Error: errs.MessageOf(err), Code: errs.CodePaymentFailed},
				Return:        view,
			})
			return
		}
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

// rentalRequest resolves the caller and the rentalId path variable.
func (h *RentalHandler) rentalRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (userID, rentalID uuid.UUID, ok bool) {
	uid, err := currentUser(ctx, h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return userID, rentalID, false
	}
	rid, err := pathUUID(r, "rentalId")
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return userID, rentalID, false
	}
	return uid, rid, true
}
