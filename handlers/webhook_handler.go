package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"domadoAPI/internal/payment"
	"domadoAPI/internal/user"
	"domadoAPI/services"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	maxWebhookBytes = int64(65536)
	// Svix rejects deliveries whose timestamp is further than this from now.
	webhookTolerance = 5 * time.Minute
)

type WebhookSecrets struct {
	Clerk  string
	Stripe string
}

type WebhookHandler struct {
	userService    *services.UserService
	paymentService *services.PaymentService
	secrets        WebhookSecrets
	logger         *slog.Logger
	now            func() time.Time
}

func NewWebhookHandler(userService *services.UserService, paymentService *services.PaymentService, secrets WebhookSecrets, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		userService:    userService,
		paymentService: paymentService,
		secrets:        secrets,
		logger:         logger,
		now:            time.Now,
	}
}

func (h *WebhookHandler) HandleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("error reading clerk webhook body", "error", err)
		http.Error(w, "Error reading body", http.StatusBadRequest)
		return
	}

	if err := h.verifyClerkSignature(r.Header, body); err != nil {
		h.logger.Warn("invalid clerk webhook signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event user.ClerkWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Warn("error parsing clerk webhook", "error", err)
		http.Error(w, "Error parsing webhook", http.StatusBadRequest)
		return
	}

	h.logger.Info("received clerk webhook", "type", event.Type)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	switch event.Type {
	case "user.created", "user.updated":
		if err := h.handleUserUpsert(ctx, event.Data); err != nil {
			h.logger.Error("error handling clerk user event", "type", event.Type, "error", err)
			http.Error(w, "Error processing webhook", http.StatusInternalServerError)
			return
		}

	case "user.deleted":
		if err := h.handleUserDeleted(ctx, event.Data); err != nil {
			h.logger.Error("error handling user.deleted", "error", err)
			http.Error(w, "Error processing webhook", http.StatusInternalServerError)
			return
		}

	default:
		h.logger.Debug("unhandled clerk webhook event", "type", event.Type)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"success": true}`))
}

// handleUserUpsert makes sure a local account exists for the Clerk user.
func (h *WebhookHandler) handleUserUpsert(ctx context.Context, data json.RawMessage) error {
	var userData user.ClerkUserData
	if err := json.Unmarshal(data, &userData); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}

	req := user.NewCreateUserRequest(&userData)
	if err := validateStruct(req); err != nil {
		return fmt.Errorf("invalid clerk user %s: %w", userData.ID, err)
	}

	u, err := h.userService.CreateUser(ctx, req)
	if err != nil {
		return err
	}

	h.logger.Info("clerk user synced", "user_id", u.ID, "clerk_id", u.ClerkID)
	return nil
}

func (h *WebhookHandler) handleUserDeleted(ctx context.Context, data json.RawMessage) error {
	var userData struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &userData); err != nil {
		return fmt.Errorf("failed to unmarshal user data: %w", err)
	}
	if userData.ID == "" {
		return errors.New("user.deleted without id")
	}

	return h.userService.WithdrawByClerkID(ctx, userData.ID)
}

// verifyClerkSignature checks the Svix headers Clerk signs deliveries with.
// An empty secret disables the check.
func (h *WebhookHandler) verifyClerkSignature(header http.Header, body []byte) error {
	if h.secrets.Clerk == "" {
		h.logger.Warn("CLERK_WEBHOOK_SECRET not set, skipping signature verification")
		return nil
	}

	svixID := header.Get("svix-id")
	svixTimestamp := header.Get("svix-timestamp")
	svixSignature := header.Get("svix-signature")
	if svixID == "" || svixTimestamp == "" || svixSignature == "" {
		return errors.New("missing signature headers")
	}

	ts, err := strconv.ParseInt(svixTimestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp: %w", err)
	}
	if d := h.now().Sub(time.Unix(ts, 0)); d > webhookTolerance || d < -webhookTolerance {
		return errors.New("timestamp outside tolerance")
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(h.secrets.Clerk, "whsec_"))
	if err != nil {
		return fmt.Errorf("bad webhook secret: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(svixID + "." + svixTimestamp + "."))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// The header may hold several space separated "v1,<sig>" entries.
	for _, entry := range strings.Fields(svixSignature) {
		version, sig, ok := strings.Cut(entry, ",")
		if ok && version == "v1" && hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return errors.New("no matching signature")
}

// HandleStripeWebhook feeds asynchronous PaymentIntent outcomes into settlement.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("error reading stripe webhook body", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if h.secrets.Stripe == "" {
		h.logger.Error("STRIPE_WEBHOOK_SECRET is not set")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.secrets.Stripe)
	if err != nil {
		h.logger.Warn("error verifying stripe webhook signature", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			h.logger.Warn("error parsing stripe webhook JSON", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		ev, ok := gatewayEventFrom(&pi, event.Type == "payment_intent.succeeded")
		if !ok {
			h.logger.Warn("payment intent without payment_id metadata", "intent", pi.ID)
			break
		}
		if err := h.paymentService.HandleGatewayEvent(ctx, ev); err != nil {
			h.logger.Error("error handling stripe payment event", "type", event.Type, "payment_id", ev.PaymentID, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

	default:
		h.logger.Debug("unhandled stripe webhook event", "type", event.Type)
	}

	w.WriteHeader(http.StatusOK)
}

func gatewayEventFrom(pi *stripe.PaymentIntent, succeeded bool) (payment.GatewayEvent, bool) {
	id, err := uuid.Parse(pi.Metadata["payment_id"])
	if err != nil {
		return payment.GatewayEvent{}, false
	}
	ev := payment.GatewayEvent{
		PaymentID:     id,
		Succeeded:     succeeded,
		TransactionID: pi.ID,
	}
	if !succeeded {
		ev.Reason = "payment declined"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			ev.Reason = pi.LastPaymentError.Msg
		}
	}
	return ev, true
}
