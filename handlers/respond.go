package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"domadoAPI/internal/errs"
	"domadoAPI/middleware"
	"domadoAPI/services"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

type errorResponse struct {
	Error string    `json:"error"`
	Code  errs.Code `json:"code"`
}

func respondWithError(w http.ResponseWriter, code int, errCode errs.Code, message string) {
	respondWithJSON(w, code, errorResponse{Error: message, Code: errCode})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	if errs.CodeOf(err) == errs.CodeInvalidReturnHub {
		return http.StatusUnprocessableEntity
	}
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindStateConflict:
		return http.StatusConflict
	case errs.KindAuthorization:
		if errs.CodeOf(err) == errs.CodeUnauthenticated {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errs.KindEligibility:
		return http.StatusUnprocessableEntity
	case errs.KindPaymentFailure:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}

// respondWithServiceError writes err using its code and client safe message.
// Internal and integrity failures are logged with their cause.
func respondWithServiceError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status := statusFor(err)
	code := errs.CodeOf(err)
	if code == "" {
		code = errs.CodeInternal
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	respondWithError(w, status, code, errs.MessageOf(err))
}

// currentUser resolves the authenticated Clerk subject to an internal user id.
func currentUser(ctx context.Context, users *services.UserService) (uuid.UUID, error) {
	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		return uuid.Nil, errs.Unauthenticated
	}
	u, err := users.ResolveByClerkID(ctx, clerkID)
	if err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, errs.WithMessage(errs.InvalidInput, "%s must be a valid UUID", name)
	}
	return id, nil
}

// pagination reads limit and offset query parameters. Bad values fall back to defaults.
func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
