package handlers

import (
	"log/slog"
	"net/http"

	"domadoAPI/services"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type RentalFeedHandler struct {
	feed        *services.RentalFeed
	userService *services.UserService
	logger      *slog.Logger
}

func NewRentalFeedHandler(feed *services.RentalFeed, userService *services.UserService, logger *slog.Logger) *RentalFeedHandler {
	return &RentalFeedHandler{
		feed:        feed,
		userService: userService,
		logger:      logger,
	}
}

// Connect upgrades the request and streams the caller's rental events.
func (h *RentalFeedHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r.Context(), h.userService)
	if err != nil {
		respondWithServiceError(w, h.logger, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("could not upgrade connection", "user_id", userID, "error", err)
		return
	}

	h.feed.Attach(userID, conn)
}
