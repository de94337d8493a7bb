package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aquapure/api/internal/courier"
	"github.com/aquapure/api/internal/di"
	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/handlers"
	"github.com/aquapure/api/internal/notifications"
	"github.com/aquapure/api/internal/payments"
	"github.com/aquapure/api/internal/platform/auth"
	"github.com/aquapure/api/internal/platform/config"
	pfirestore "github.com/aquapure/api/internal/platform/firestore"
	"github.com/aquapure/api/internal/platform/idempotency"
	"github.com/aquapure/api/internal/platform/jobs"
	"github.com/aquapure/api/internal/platform/observability"
	"github.com/aquapure/api/internal/platform/secrets"
	firestoreRepo "github.com/aquapure/api/internal/repositories/firestore"
	"github.com/aquapure/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(secretProjectFromEnv()),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	paymentManager, err := buildPaymentManager(logger.Named("payments"), cfg)
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}

	courierProvider, err := buildCourierProvider(logger.Named("courier"), cfg)
	if err != nil {
		logger.Fatal("failed to initialise courier gateway", zap.Error(err))
	}

	notificationsLogger := logger.Named("notifications")
	hub := notifications.NewHub(notificationsLogger)
	sinks := []notifications.EventSink{hub}
	if emailSink := buildEmailSink(notificationsLogger, cfg, firestoreClient); emailSink != nil {
		sinks = append(sinks, emailSink)
	}
	dispatcher := notifications.NewDispatcher(notificationsLogger, sinks...)

	events, closeEvents, err := buildEventPublisher(ctx, logger, cfg, dispatcher)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	defer closeEvents()

	container, err := di.NewContainer(ctx, di.Deps{
		Config:   cfg,
		Registry: registry,
		Payments: paymentManager,
		Courier:  courierProvider,
		Events:   events,
		Logger:   logger,
		Build:    buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to wire services", zap.Error(err))
	}

	authenticator, err := auth.NewAuthenticator([]byte(cfg.Auth.JWTSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
	)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore,
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)
	stopCleanup := startIdempotencyCleanup(logger.Named("idempotency"), idempotencyStore)
	defer stopCleanup()

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	bookingHandlers := handlers.NewBookingHandlers(authenticator, container.Services.Bookings)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Orders)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		idempotencyMiddleware,
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithBookingRoutes(bookingHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithNotificationSocket(hub),
	}
	if hmacMiddleware := buildHMACMiddleware(logger.Named("auth"), cfg); hmacMiddleware != nil {
		opts = append(opts, handlers.WithWebhookMiddlewares(hmacMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("aquapure api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func secretProjectFromEnv() string {
	if project := strings.TrimSpace(os.Getenv("API_SECRET_PROJECT_ID")); project != "" {
		return project
	}
	return strings.TrimSpace(os.Getenv("API_FIRESTORE_PROJECT_ID"))
}

// buildPaymentManager registers every configured gateway. Without gateway
// credentials the simulated provider backs local development.
func buildPaymentManager(logger *zap.Logger, cfg config.Config) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)

	if cfg.Payments.RazorpayKeyID != "" && cfg.Payments.RazorpayKeySecret != "" {
		razorpay, err := payments.NewRazorpayProvider(payments.RazorpayConfig{
			KeyID:     cfg.Payments.RazorpayKeyID,
			KeySecret: cfg.Payments.RazorpayKeySecret,
			BaseURL:   cfg.Payments.RazorpayBaseURL,
			Logger:    zapVendorLogger(logger.Named("razorpay")),
			Clock:     time.Now,
		})
		if err != nil {
			return nil, err
		}
		providers["razorpay"] = razorpay
	}

	if cfg.Payments.StripeAPIKey != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: zapVendorLogger(logger.Named("stripe")),
			Clock:  time.Now,
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = stripe
	}

	if len(providers) == 0 {
		logger.Warn("no gateway credentials configured; using simulated payment provider")
		simulated, err := payments.NewSimulatedProvider(cfg.Auth.JWTSecret, time.Now)
		if err != nil {
			return nil, err
		}
		providers["simulated"] = simulated
	}

	var opts []payments.ManagerOption
	if _, ok := providers["razorpay"]; ok {
		opts = append(opts, payments.WithDefaultProvider("razorpay"))
	}
	return payments.NewManager(providers, opts...)
}

func buildCourierProvider(logger *zap.Logger, cfg config.Config) (courier.Provider, error) {
	if cfg.Courier.APIKey == "" || cfg.Courier.APISecret == "" {
		logger.Warn("no courier credentials configured; using simulated courier provider")
		return courier.NewSimulatedProvider(), nil
	}
	return courier.NewShipmozoProvider(courier.ShipmozoConfig{
		APIKey:     cfg.Courier.APIKey,
		APISecret:  cfg.Courier.APISecret,
		BaseURL:    cfg.Courier.BaseURL,
		Timeout:    cfg.Courier.Timeout,
		MaxRetries: cfg.Courier.MaxRetries,
		Logger:     courier.ShipmozoLogger(zapVendorLogger(logger.Named("shipmozo"))),
	})
}

func buildEmailSink(logger *zap.Logger, cfg config.Config, client *firestore.Client) *notifications.EmailSink {
	if cfg.Notifications.SendGridAPIKey == "" || cfg.Notifications.FromEmail == "" {
		logger.Info("email notifications disabled; sendgrid credentials absent")
		return nil
	}

	templates := make(map[domain.EventType]string, len(cfg.Notifications.TemplateIDs))
	for eventType, templateID := range cfg.Notifications.TemplateIDs {
		templates[domain.EventType(eventType)] = templateID
	}

	sink, err := notifications.NewEmailSink(notifications.EmailSinkConfig{
		APIKey:    cfg.Notifications.SendGridAPIKey,
		FromEmail: cfg.Notifications.FromEmail,
		FromName:  cfg.Notifications.FromName,
		Templates: templates,
		Resolver:  firestoreRecipientResolver(client),
	})
	if err != nil {
		logger.Warn("email sink disabled", zap.Error(err))
		return nil
	}
	return sink
}

// firestoreRecipientResolver looks recipient contact details up from the
// users collection maintained by the identity service.
func firestoreRecipientResolver(client *firestore.Client) notifications.RecipientResolver {
	return func(ctx context.Context, userID string) (string, string, error) {
		trimmed := strings.TrimSpace(userID)
		if trimmed == "" {
			return "", "", errors.New("recipient user id required")
		}
		snap, err := client.Collection("users").Doc(trimmed).Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return "", "", fmt.Errorf("user %s not found", trimmed)
			}
			return "", "", err
		}
		data := snap.Data()
		email, _ := data["email"].(string)
		if strings.TrimSpace(email) == "" {
			return "", "", fmt.Errorf("user %s has no email address", trimmed)
		}
		name, _ := data["name"].(string)
		return email, name, nil
	}
}

// lifecycleFanout publishes lifecycle events to the audit topic and then hands
// them to the in-process notification dispatcher. Notification delivery is
// best-effort; only the audit publish error propagates, and callers treat it
// as log-only.
type lifecycleFanout struct {
	audit      *jobs.PubSubEventPublisher
	dispatcher *notifications.Dispatcher
}

func (f *lifecycleFanout) PublishEvent(ctx context.Context, event domain.LifecycleEvent) (string, error) {
	var (
		id  string
		err error
	)
	if f.audit != nil {
		id, err = f.audit.PublishEvent(ctx, event)
	}
	if id == "" {
		id = ulid.Make().String()
	}
	if f.dispatcher != nil {
		f.dispatcher.Dispatch(ctx, event)
	}
	return id, err
}

func buildEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config, dispatcher *notifications.Dispatcher) (services.EventPublisher, func(), error) {
	fanout := &lifecycleFanout{dispatcher: dispatcher}
	closer := func() {}

	if cfg.PubSub.TopicID == "" {
		logger.Info("pubsub topic not configured; lifecycle events stay in-process")
		return fanout, closer, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	topic := client.Topic(cfg.PubSub.TopicID)
	audit, err := jobs.NewPubSubEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	fanout.audit = audit
	closer = func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return fanout, closer, nil
}

// buildHMACMiddleware guards webhook routes with signed-request validation.
// Courier callbacks sign with the secret registered under "courier", falling
// back to "default".
func buildHMACMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	hmacSecrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		hmacSecrets[strings.ToLower(key)] = value
	}
	if len(hmacSecrets) == 0 {
		logger.Warn("webhook signing secrets not configured; webhook routes are unauthenticated")
		return nil
	}

	secretName := "default"
	if _, ok := hmacSecrets["courier"]; ok {
		secretName = "courier"
	}

	validator := auth.NewHMACValidator(
		staticSecretProvider{secrets: hmacSecrets},
		auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireHMAC(secretName)
}

type staticSecretProvider struct {
	secrets map[string]string
}

func (p staticSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", errors.New("auth: secret name required")
	}
	if secret, ok := p.secrets[key]; ok && secret != "" {
		return secret, nil
	}
	return "", errors.New("auth: secret not found")
}

func startIdempotencyCleanup(logger *zap.Logger, store idempotency.Store) func() {
	const (
		interval  = time.Hour
		batchSize = 500
	)

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
				removed, err := store.PurgeExpired(runCtx, time.Now().UTC(), batchSize)
				cancel()
				if err != nil {
					logger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

func zapVendorLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("vendor log", zFields...)
	}
}
