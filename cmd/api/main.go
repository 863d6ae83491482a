package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/oakmarket/api/internal/di"
	"github.com/oakmarket/api/internal/handlers"
	"github.com/oakmarket/api/internal/payments"
	"github.com/oakmarket/api/internal/platform/config"
	pfirestore "github.com/oakmarket/api/internal/platform/firestore"
	"github.com/oakmarket/api/internal/platform/idempotency"
	"github.com/oakmarket/api/internal/platform/jobs"
	"github.com/oakmarket/api/internal/platform/observability"
	"github.com/oakmarket/api/internal/platform/secrets"
	"github.com/oakmarket/api/internal/repositories"
	fsrepo "github.com/oakmarket/api/internal/repositories/firestore"
	"github.com/oakmarket/api/internal/services"
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
		secrets.WithDefaultProject(os.Getenv("API_FIRESTORE_PROJECT_ID")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	build := services.BuildInfo{
		Version:     os.Getenv("API_VERSION"),
		CommitSHA:   os.Getenv("API_COMMIT_SHA"),
		Environment: cfg.Server.Environment,
		StartedAt:   startedAt,
	}

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

	serviceLogger := newServiceLogger(logger)

	gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
		APIKey:        cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Logger:        serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
	}

	productRepo, err := fsrepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	orderRepo, err := fsrepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}

	healthChecks := []repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				iter := firestoreClient.Collections(ctx)
				if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
					return err
				}
				return nil
			},
		},
	}

	var publisher services.OrderEventPublisher
	var pubsubClient *pubsub.Client
	var orderTopic *pubsub.Topic
	if cfg.PubSub.EnablePublisher {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		orderTopic = pubsubClient.Topic(cfg.PubSub.OrderTopic)
		pubsubPublisher, err := jobs.NewPubSubOrderPublisher(orderTopic)
		if err != nil {
			logger.Fatal("failed to initialise order publisher", zap.Error(err))
		}
		publisher = pubsubPublisher
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				exists, err := orderTopic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", cfg.PubSub.OrderTopic)
				}
				return nil
			},
		})
	}
	defer func() {
		if orderTopic != nil {
			orderTopic.Stop()
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	healthRepo, err := repositories.NewDependencyHealthRepository(healthChecks)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, di.Deps{
		Config: cfg,
		Repositories: di.Repositories{
			Products: productRepo,
			Orders:   orderRepo,
			Health:   healthRepo,
		},
		Gateway:   gateway,
		Publisher: publisher,
		Logger:    serviceLogger,
		Build:     build,
	})
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	checkoutOpts := []handlers.CheckoutOption(nil)
	if cfg.Checkout.RateLimit > 0 {
		checkoutOpts = append(checkoutOpts, handlers.WithCheckoutRateLimit(cfg.Checkout.RateLimit, cfg.Checkout.RateLimitWindow))
	}
	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Validator, container.Services.Checkout, checkoutOpts...)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Webhooks)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(container.Services.System),
		handlers.WithHealthBuildInfo(build),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithCheckoutMiddlewares(
			sessionIdempotency(idempotencyMiddleware, cfg.Idempotency.Header),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.Server.Environment),
		)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			_ = server.Close()
		}
	}

	cleanupCancel()
	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupWG.Wait()

	logger.Info("server stopped")
}

// sessionIdempotency scopes the idempotency middleware to session creation
// requests that carry the key header. The header stays optional: without it
// the checkout service still derives a gateway-level idempotency key from the
// cart contents. Cart validation and the webhook group are never guarded.
func sessionIdempotency(mw func(http.Handler) http.Handler, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/checkout/session" && r.Header.Get(header) != "" {
				guarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newServiceLogger(base *zap.Logger) func(context.Context, string, map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := observability.FromContext(ctx)
		if logger == nil {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
