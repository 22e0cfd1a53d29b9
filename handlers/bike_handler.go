package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"domadoAPI/services"

	"github.com/gorilla/mux"
)

type BikeHandler struct {
	bikeService *services.BikeService
	logger      *slog.Logger
}

func NewBikeHandler(bikeService *services.BikeService, logger *slog.Logger) *BikeHandler {
	return &BikeHandler{
		bikeService: bikeService,
		logger:      logger,
	}
}

func (h *BikeHandler) GetBike(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	view, err := h.bikeService.GetByQRCode(ctx, mux.Vars(r)["qrCode"])
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

// GetLabel renders the bike's QR code as a printable PNG.
func (h *BikeHandler) GetLabel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	png, err := h.bikeService.QRLabel(ctx, mux.Vars(r)["qrCode"])
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
