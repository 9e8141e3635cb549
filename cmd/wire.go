package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"crosspost/config"
	"crosspost/internal/domain"
	"crosspost/internal/infrastructure/facebook"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/infrastructure/instagram"
	"crosspost/internal/infrastructure/media"
	"crosspost/internal/infrastructure/threads"
	"crosspost/internal/infrastructure/tiktok"
	"crosspost/internal/infrastructure/twitter"
	"crosspost/internal/infrastructure/youtube"
	"crosspost/internal/logger"
	"crosspost/internal/metrics"
	"crosspost/internal/ratelimit"
	sqliterepo "crosspost/internal/repository/sqlite"
	"crosspost/internal/usecase"
)

// app holds the wired components shared by the commands
type app struct {
	cfg          *config.Config
	db           *sql.DB
	metrics      *metrics.Collector
	accountRepo  domain.AccountRepository
	limiter      domain.RateLimiter
	store        *media.FileStore
	proxy        *media.Proxy
	credentials  *usecase.CredentialManager
	orchestrator *usecase.Orchestrator
	cleanup      *usecase.CleanupService
	accounts     *usecase.AccountManager
	posts        *usecase.PostManager
	monitor      *usecase.AccountMonitor

	closers []func() error
}

func wireApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	db, err := sqliterepo.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	accountRepo := sqliterepo.NewAccountRepository(db)
	postRepo := sqliterepo.NewPostRepository(db)
	cleanupRepo := sqliterepo.NewCleanupRepository(db)
	a.accountRepo = accountRepo

	limiter, closeLimiter, err := ratelimit.New(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	a.limiter = limiter
	a.closers = append(a.closers, closeLimiter)

	httpClient := httpclient.NewHTTPClient(cfg, httpclient.WithMetrics(a.metrics))

	store, err := media.NewFileStore(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.store = store
	a.proxy = media.NewProxy(cfg, httpClient)

	publishers, refreshers := wireAdapters(cfg, httpClient)

	a.credentials = usecase.NewCredentialManager(cfg, accountRepo, refreshers,
		usecase.WithCredentialMetrics(a.metrics))

	signer := usecase.NewCallbackSigner(signingSecret(cfg), 0)
	a.cleanup = usecase.NewCleanupService(cfg, cleanupRepo, postRepo, store, signer, httpClient, a.metrics)

	a.orchestrator = usecase.NewOrchestrator(cfg, usecase.OrchestratorDeps{
		PostRepo:    postRepo,
		AccountRepo: accountRepo,
		Publishers:  publishers,
		Credentials: a.credentials,
		Limiter:     limiter,
		Media:       media.NewPreparer(cfg, httpClient),
		Cleanup:     a.cleanup,
		Metrics:     a.metrics,
	})

	a.accounts = usecase.NewAccountManager(cfg, accountRepo)
	a.posts = usecase.NewPostManager(postRepo)
	a.monitor = usecase.NewAccountMonitor(accountRepo, a.credentials)

	if len(cfg.BootstrapAccounts) > 0 {
		applied, err := a.accounts.Bootstrap(ctx, cfg.BootstrapAccounts)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("bootstrap accounts: %w", err)
		}
		logger.WithFields(logger.Fields{"applied": applied}).Info("account bootstrap finished")
	}

	return a, nil
}

// wireAdapters builds the adapters of the enabled platforms and the refreshers of those
// whose tokens can be renewed
func wireAdapters(cfg *config.Config, httpClient *httpclient.HTTPClient) ([]domain.Publisher, map[domain.Platform]domain.TokenRefresher) {
	enabled := func(name domain.Platform) bool {
		pc, ok := cfg.Platform(string(name))
		return ok && pc.Enabled
	}

	var publishers []domain.Publisher
	refreshers := make(map[domain.Platform]domain.TokenRefresher)

	if enabled(domain.PlatformTwitter) {
		s := twitter.NewService(cfg, httpClient)
		publishers = append(publishers, s)
		refreshers[domain.PlatformTwitter] = s
	}
	if enabled(domain.PlatformFacebook) {
		// page tokens do not expire
		publishers = append(publishers, facebook.NewService(cfg, httpClient))
	}
	if enabled(domain.PlatformInstagram) {
		s := instagram.NewService(cfg, httpClient)
		publishers = append(publishers, s)
		refreshers[domain.PlatformInstagram] = s
	}
	if enabled(domain.PlatformThreads) {
		s := threads.NewService(cfg, httpClient)
		publishers = append(publishers, s)
		refreshers[domain.PlatformThreads] = s
	}
	if enabled(domain.PlatformTikTok) {
		s := tiktok.NewService(cfg, httpClient)
		publishers = append(publishers, s)
		refreshers[domain.PlatformTikTok] = s
	}
	if enabled(domain.PlatformYouTube) {
		s := youtube.NewService(cfg, httpClient)
		publishers = append(publishers, s)
		refreshers[domain.PlatformYouTube] = s
	}
	return publishers, refreshers
}

// signingSecret returns the configured callback secret, or a per-process random one
func signingSecret(cfg *config.Config) string {
	if cfg.CleanupSigningSecret != "" {
		return cfg.CleanupSigningSecret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random secret: %v", err))
	}
	logger.L().Warn("cleanup.signing_secret is not set; using a random secret valid for this process only")
	return hex.EncodeToString(buf)
}

// Close releases the database and the limiter backend
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
