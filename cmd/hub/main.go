// Command hub runs the document-collaboration-platform webhook integration
// hub: it serves ingress notifications, manages the platform subscriptions
// that feed them, and exposes the operator diagnostics surface.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bburrets/sp-webhook-integration-sub001/internal/changedetector"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/config"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/dedup"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/diagnostics"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/forwarder"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/httpclient"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/ingress"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/metrics"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/platformapi"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/queueclient"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/server"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/statestore"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/subscriptions"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/templates"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/tokencache"
	"github.com/bburrets/sp-webhook-integration-sub001/internal/tracking"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("hub exited with error", zap.Error(err))
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	logConfig := zap.NewProductionConfig()
	logConfig.OutputPaths = []string{"stdout"}
	logConfig.ErrorOutputPaths = []string{"stderr"}
	var zapLevel zap.AtomicLevel
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logConfig.Level = zapLevel
	return logConfig.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDB, err := sql.Open("pgx", cfg.Storage.StateStoreDSN)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer stateDB.Close()
	if err := statestore.Migrate(stateDB); err != nil {
		return fmt.Errorf("migrate state store: %w", err)
	}

	trackingDSN := cfg.Storage.TrackingListDSN
	if trackingDSN == "" {
		trackingDSN = cfg.Storage.StateStoreDSN
	}
	trackingDB := stateDB
	if trackingDSN != cfg.Storage.StateStoreDSN {
		trackingDB, err = sql.Open("pgx", trackingDSN)
		if err != nil {
			return fmt.Errorf("open tracking list: %w", err)
		}
		defer trackingDB.Close()
		if err := statestore.Migrate(trackingDB); err != nil {
			return fmt.Errorf("migrate tracking list: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		defer redisClient.Close()
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	breakers := httpclient.NewBreakerRegistry(httpclient.DefaultBreakerSettings)
	retryPolicy := httpclient.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay}

	platformClient := httpclient.NewClient(httpclient.PlatformClientConfig(cfg.Platform.RequestTimeout))
	platformTokens := tokencache.New()
	platformTokenFunc := func(ctx context.Context) (string, error) {
		return platformTokens.Get(ctx, "platform", cfg.Platform.TenantID, func(ctx context.Context, provider, tenant string) (string, time.Duration, error) {
			oauthCfg := clientcredentials.Config{
				ClientID:     cfg.Platform.ClientID,
				ClientSecret: cfg.Platform.ClientSecret,
				TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
				Scopes:       []string{cfg.Platform.BaseURL + "/.default"},
			}
			token, err := oauthCfg.Token(ctx)
			if err != nil {
				return "", 0, fmt.Errorf("acquire platform token: %w", err)
			}
			ttl := time.Until(token.Expiry)
			if ttl <= 0 {
				ttl = time.Hour
			}
			return token.AccessToken, ttl, nil
		})
	}

	platform := platformapi.New(platformClient, cfg.Platform.BaseURL, platformTokenFunc, retryPolicy)
	subscriptionsAPI := subscriptions.New(platformClient, cfg.Platform.BaseURL, platformTokenFunc, breakers, retryPolicy)
	trackingStore := tracking.New(trackingDB)
	manager := subscriptions.NewManager(subscriptionsAPI, trackingStore)

	alerter := diagnostics.NewSlackAlerter(cfg.Diagnostics.SlackWebhookURL, "")
	reconciler := subscriptions.NewReconciler(subscriptionsAPI, trackingStore, cfg.RenewalWindow, m, alerter)

	snapshotStore := statestore.New(stateDB)
	detector := changedetector.New(snapshotStore)

	forwardClient := httpclient.NewClient(httpclient.ForwardClientConfig(30 * time.Second))
	callbackHost := hostOf(cfg.Platform.CallbackBaseURL)
	fwd := forwarder.New(forwardClient, callbackHost, breakers, retryPolicy)

	rpaClient := httpclient.NewClient(httpclient.RPAClientConfig(cfg.RPA.RequestTimeout))
	rpaTokens := tokencache.New()
	queueClient := queueclient.New(rpaClient, rpaPresetResolver(cfg), rpaTokens, breakers, retryPolicy)

	registry := templates.NewRegistry()
	registry.Register(templates.NewDocumentProcessor())
	registry.Register(templates.NewStatusGatedProcessor())
	for _, pp := range cfg.PolicyProcessors {
		proc, err := templates.NewPolicyGatedProcessor(context.Background(), pp.Name, pp.RegoPackage, pp.RegoSource, pp.ContentFields)
		if err != nil {
			logger.Error("failed to compile policy processor, skipping", zap.String("name", pp.Name), zap.Error(err))
			continue
		}
		registry.Register(proc)
	}

	dispatcher := ingress.NewDispatcher(fwd, registry, queueClient, detector, logger, m, cfg.FanOutCap)

	var dedupCache *dedup.Cache
	if redisClient != nil {
		dedupCache = dedup.New(redisClient, cfg.DedupTTL)
	}

	ingressHandler := ingress.New(logger, dedupCache, cfg.DedupTTL, platform, detector, dispatcher, trackingStore, m, time.Now)

	healthChecker := diagnostics.NewHealthChecker(stateDB, trackingDB, redisClient, breakers, reconciler, 2*cfg.RenewalWindow)
	rpaTester := diagnostics.NewRPATester(queueClient)

	deps := server.Deps{
		Logger:        logger,
		FunctionKey:   cfg.Server.FunctionKey,
		Ingress:       ingressHandler,
		Subscriptions: server.NewSubscriptionsHandler(manager, reconciler, logger),
		StatesInit:    server.NewStatesInitHandler(snapshotStore),
		Health:        healthChecker,
	}
	if cfg.Features.EnableRPA {
		deps.RPATester = rpaTester
	}

	mux := http.NewServeMux()
	mux.Handle("/", server.New(deps))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go runReconcileLoop(ctx, reconciler, reconcileInterval(cfg.ReconcileCron), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hub listening", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// rpaPresetResolver adapts the configured RPA presets (keyed by tenant tag)
// into a queueclient.PresetResolver. A tag with no entry in cfg.RPA.Presets
// resolves to nothing.
func rpaPresetResolver(cfg *config.Config) queueclient.PresetResolver {
	return func(tenantTag string) (queueclient.Preset, bool) {
		if preset, ok := cfg.RPA.Presets[tenantTag]; ok {
			return queueclient.Preset{
				TokenEndpoint: preset.TokenEndpoint,
				TenantName:    preset.TenantName,
				ClientID:      preset.ClientID,
				ClientSecret:  preset.ClientSecret,
				BaseURL:       preset.BaseURL,
				FolderID:      preset.FolderID,
			}, true
		}
		return queueclient.Preset{}, false
	}
}

func hostOf(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

// reconcileInterval resolves the configured schedule to a polling period.
// Only "@hourly" and "@every <duration>" are recognized; anything else
// falls back to hourly.
func reconcileInterval(cron string) time.Duration {
	switch {
	case cron == "@hourly":
		return time.Hour
	case strings.HasPrefix(cron, "@every "):
		if d, err := time.ParseDuration(strings.TrimPrefix(cron, "@every ")); err == nil {
			return d
		}
	}
	return time.Hour
}

func runReconcileLoop(ctx context.Context, reconciler *subscriptions.Reconciler, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := reconciler.Run(ctx)
			if err != nil {
				logger.Error("subscription reconciliation failed", zap.Error(err))
				continue
			}
			logger.Info("subscription reconciliation complete",
				zap.Int("renewed", len(report.Renewed)),
				zap.Int("renewal_failed", len(report.RenewalFailed)),
				zap.Int("marked_deleted", len(report.MarkedDeleted)),
				zap.Int("adopted", len(report.Adopted)))
		}
	}
}
