package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"domadoAPI/handlers"
	"domadoAPI/internal/config"
	"domadoAPI/internal/device"
	"domadoAPI/internal/gateway"
	"domadoAPI/internal/notification"
	"domadoAPI/internal/store"
	"domadoAPI/internal/store/memory"
	"domadoAPI/internal/store/postgres"
	"domadoAPI/internal/workers"
	"domadoAPI/middleware"
	"domadoAPI/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("closing store")
		closeDB()
	}()

	if cfg.ClerkSecretKey != "" {
		clerk.SetKey(cfg.ClerkSecretKey)
		logger.Info("clerk initialized")
	} else if cfg.AuthDevSecret == "" {
		return errors.New("CLERK_SECRET_KEY or AUTH_DEV_SECRET must be set")
	}

	var gw gateway.Gateway = gateway.NoopGateway{}
	if cfg.StripeSecretKey != "" {
		gw = gateway.NewStripeGateway(cfg.StripeSecretKey, logger)
		logger.Info("stripe gateway enabled")
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, charges are approved locally")
	}

	var commander device.Commander = device.LogCommander{Logger: logger}
	if cfg.MQTTBrokerURL != "" {
		mqttCommander, err := device.NewMQTTCommander(cfg.MQTTBrokerURL, cfg.MQTTClientID, logger)
		if err != nil {
			return err
		}
		defer mqttCommander.Close()
		commander = mqttCommander
		logger.Info("mqtt commander connected", "broker", cfg.MQTTBrokerURL)
	}

	dispatcher := services.NewNotificationDispatcher(services.DispatcherConfig{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueue,
	}, commander, db, logger)
	defer dispatcher.Stop()

	fcmService, err := notification.NewFCMService(ctx, cfg.FCMServiceAccountJSON, cfg.FCMCredentialsFile, logger)
	if err != nil {
		logger.Warn("could not initialize FCM, push disabled", "error", err)
	} else {
		dispatcher.SetPushProvider(fcmService)
		logger.Info("FCM push provider initialized")
	}

	feed := services.NewRentalFeed(logger)
	go feed.Run(ctx)
	dispatcher.SetFeed(feed)

	clock := services.Clock(time.Now)
	ledger := services.NewLoyaltyLedger(logger)
	fees := services.NewFeeCalculator(services.DefaultTariff(), cfg.TariffLocation)
	paymentService := services.NewPaymentService(db, fees, ledger, gw, dispatcher, clock, cfg.PaymentGatewayTimeout, logger)
	hiBikeService := services.NewHiBikeService(db, paymentService, dispatcher, clock, logger)
	rentalService := services.NewRentalService(db, ledger, hiBikeService, paymentService, dispatcher, clock, logger)
	couponService := services.NewCouponService(db, ledger, clock)
	bikeService := services.NewBikeService(db)
	userService := services.NewUserService(db, logger)

	services.RegisterMetrics(prometheus.DefaultRegisterer)
	middleware.InitPrometheus(prometheus.DefaultRegisterer)

	runner := workers.NewRunner(logger,
		workers.CouponExpiry(couponService, clock),
		workers.StalePayments(paymentService, 10*time.Minute),
	)
	runner.Start(ctx)

	limiter := middleware.NewRateLimiter(20, 40)
	go limiter.CleanupVisitors(ctx)

	r := router(routes{
		health:   handlers.NewHealthHandler(db, logger),
		webhooks: handlers.NewWebhookHandler(userService, paymentService, handlers.WebhookSecrets{Clerk: cfg.ClerkWebhookSecret, Stripe: cfg.StripeWebhookSecret}, logger),
		rentals:  handlers.NewRentalHandler(rentalService, userService, logger),
		hiBikes:  handlers.NewHiBikeHandler(hiBikeService, userService, logger),
		payments: handlers.NewPaymentHandler(paymentService, userService, logger),
		coupons:  handlers.NewCouponHandler(couponService, userService, logger),
		bikes:    handlers.NewBikeHandler(bikeService, logger),
		feed:     handlers.NewRentalFeedHandler(feed, userService, logger),
		users:    handlers.NewUserHandler(userService, logger),
		auth:     middleware.NewAuthMiddleware(cfg.AuthDevSecret, logger),
		metrics:  middleware.BasicAuthMiddleware(cfg.MetricsUser, cfg.MetricsPass)(promhttp.Handler()),
		limiter:  limiter,
	})

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
	)

	server := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	hiBikeService.Wait()
	runner.Wait()

	logger.Info("server shutdown complete")
	return nil
}

// appStore is what the process needs from a backing store beyond store.Store.
type appStore interface {
	store.Store
	services.DeviceTokenSource
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (appStore, func(), error) {
	if cfg.Store == "memory" {
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := postgres.Open(openCtx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(openCtx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("connected to postgres")
	return db, db.Close, nil
}

type routes struct {
	health   *handlers.HealthHandler
	webhooks *handlers.WebhookHandler
	rentals  *handlers.RentalHandler
	hiBikes  *handlers.HiBikeHandler
	payments *handlers.PaymentHandler
	coupons  *handlers.CouponHandler
	bikes    *handlers.BikeHandler
	feed     *handlers.RentalFeedHandler
	users    *handlers.UserHandler
	auth     mux.MiddlewareFunc
	metrics  http.Handler
	limiter  *middleware.RateLimiter
}

func router(h routes) *mux.Router {
	r := mux.NewRouter()

	standardRouter := r.PathPrefix("/").Subrouter()
	standardRouter.Use(h.limiter.Middleware)
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", h.metrics)
	standardRouter.HandleFunc("/health", h.health.Health).Methods("GET")

	standardRouter.HandleFunc("/webhooks/clerk", h.webhooks.HandleClerkWebhook).Methods("POST")
	standardRouter.HandleFunc("/webhooks/stripe", h.webhooks.HandleStripeWebhook).Methods("POST")

	// -------------------------------------------------------------------------
	// PROTECTED ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	protected := standardRouter.PathPrefix("/api/v1").Subrouter()
	protected.Use(h.auth)

	// Registered before /rentals/{rentalId} so "ws" is not taken for an id.
	protected.HandleFunc("/rentals/ws", h.feed.Connect).Methods("GET")

	protected.HandleFunc("/rentals/rent", h.rentals.Rent).Methods("POST")
	protected.HandleFunc("/rentals", h.rentals.ListRentals).Methods("GET")
	protected.HandleFunc("/rentals/{rentalId}", h.rentals.GetRental).Methods("GET")
	protected.HandleFunc("/rentals/{rentalId}/pause", h.rentals.Pause).Methods("POST")
	protected.HandleFunc("/rentals/{rentalId}/resume", h.rentals.Resume).Methods("POST")
	protected.HandleFunc("/rentals/{rentalId}/return", h.rentals.Return).Methods("POST")

	protected.HandleFunc("/rentals/{rentalId}/hibike", h.hiBikes.MakeHiBike).Methods("POST")
	protected.HandleFunc("/rentals/{rentalId}/hibike", h.hiBikes.CancelHiBike).Methods("DELETE")

	protected.HandleFunc("/rentals/{rentalId}/payment", h.payments.GetRentalPayment).Methods("GET")
	protected.HandleFunc("/payments", h.payments.ListPayments).Methods("GET")
	protected.HandleFunc("/payments/{paymentId}/retry", h.payments.RetryPayment).Methods("POST")

	protected.HandleFunc("/coupons", h.coupons.ListCoupons).Methods("GET")
	protected.HandleFunc("/coupons/available", h.coupons.ListAvailableCoupons).Methods("GET")
	protected.HandleFunc("/stamps", h.coupons.ListStamps).Methods("GET")

	protected.HandleFunc("/bikes/{qrCode}", h.bikes.GetBike).Methods("GET")
	protected.HandleFunc("/bikes/{qrCode}/label.png", h.bikes.GetLabel).Methods("GET")

	protected.HandleFunc("/me", h.users.GetProfile).Methods("GET")
	protected.HandleFunc("/devices", h.users.RegisterDevice).Methods("POST")

	return r
}
