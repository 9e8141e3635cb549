package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"crosspost/config"
	"crosspost/internal/domain"
	"crosspost/internal/infrastructure/protocol"
	"crosspost/internal/logger"
	"crosspost/internal/metrics"
)

// CredentialResolver yields a token that is usable now for an account
type CredentialResolver interface {
	Resolve(ctx context.Context, account *domain.Account) (domain.Token, error)
}

var publishableStatuses = []domain.PostStatus{domain.PostStatusPending, domain.PostStatusFailed}

// Orchestrator fans one post out to the platform adapters of its target accounts.
// Targets run concurrently; calls for the same (platform, account) pair are serialized.
type Orchestrator struct {
	postRepo    domain.PostRepository
	accountRepo domain.AccountRepository
	publishers  map[domain.Platform]domain.Publisher
	credentials CredentialResolver
	limiter     domain.RateLimiter
	media       domain.MediaPreparer
	cleanup     domain.CleanupScheduler
	metrics     *metrics.Collector
	clock       domain.Clock

	timeout       time.Duration
	maxConcurrent int

	pairMu    sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// OrchestratorDeps are the collaborators of an Orchestrator
type OrchestratorDeps struct {
	PostRepo    domain.PostRepository
	AccountRepo domain.AccountRepository
	Publishers  []domain.Publisher
	Credentials CredentialResolver
	Limiter     domain.RateLimiter
	Media       domain.MediaPreparer
	Cleanup     domain.CleanupScheduler
	Metrics     *metrics.Collector
	Clock       domain.Clock
}

// NewOrchestrator creates a new publish orchestrator
func NewOrchestrator(cfg *config.Config, deps OrchestratorDeps) *Orchestrator {
	publishers := make(map[domain.Platform]domain.Publisher, len(deps.Publishers))
	for _, p := range deps.Publishers {
		publishers[p.Platform()] = p
	}
	clock := deps.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}

	return &Orchestrator{
		postRepo:      deps.PostRepo,
		accountRepo:   deps.AccountRepo,
		publishers:    publishers,
		credentials:   deps.Credentials,
		limiter:       deps.Limiter,
		media:         deps.Media,
		cleanup:       deps.Cleanup,
		metrics:       deps.Metrics,
		clock:         clock,
		timeout:       cfg.PublishTimeout,
		maxConcurrent: cfg.MaxConcurrentPublishes,
		pairLocks:     make(map[string]*sync.Mutex),
	}
}

// Publisher returns the adapter registered for a platform
func (o *Orchestrator) Publisher(platform domain.Platform) (domain.Publisher, bool) {
	p, ok := o.publishers[platform]
	return p, ok
}

// PublishPost loads a post and publishes it with its target accounts
func (o *Orchestrator) PublishPost(ctx context.Context, postID string) (*domain.PostOutcome, error) {
	post, err := o.postRepo.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	if post == nil {
		return nil, domain.ErrPostNotFound
	}

	accounts, err := o.TargetAccounts(ctx, post)
	if err != nil {
		return nil, err
	}
	return o.Publish(ctx, post, accounts)
}

// TargetAccounts returns the pinned accounts of a post, or the author's active accounts
// on the post's platforms when none are pinned.
func (o *Orchestrator) TargetAccounts(ctx context.Context, post *domain.Post) ([]*domain.Account, error) {
	if len(post.AccountIDs) > 0 {
		accounts := make([]*domain.Account, 0, len(post.AccountIDs))
		for _, id := range post.AccountIDs {
			account, err := o.accountRepo.GetByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to get account %s: %w", id, err)
			}
			if account == nil {
				logger.WithFields(logger.Fields{"post_id": post.ID, "account_id": id}).Warn("pinned account not found")
				continue
			}
			accounts = append(accounts, account)
		}
		return accounts, nil
	}

	active, err := o.accountRepo.GetAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	var accounts []*domain.Account
	for _, account := range active {
		if post.UserID != "" && account.UserID != post.UserID {
			continue
		}
		if post.TargetsPlatform(account.Platform) {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

type target struct {
	platform domain.Platform
	account  *domain.Account
}

// plan orders targets by the post's platform list. Platforms without an account get a
// target with a nil account so they still produce a result.
func (o *Orchestrator) plan(post *domain.Post, accounts []*domain.Account) []target {
	byPlatform := make(map[domain.Platform][]*domain.Account)
	seenAccounts := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		if account == nil || seenAccounts[account.ID] {
			continue
		}
		seenAccounts[account.ID] = true
		if !post.TargetsPlatform(account.Platform) {
			logger.WithFields(logger.Fields{
				"post_id":    post.ID,
				"account_id": account.ID,
				"platform":   account.Platform,
			}).Warn("account platform is not a target of the post, skipping")
			continue
		}
		byPlatform[account.Platform] = append(byPlatform[account.Platform], account)
	}

	var targets []target
	seen := make(map[domain.Platform]bool)
	for _, platform := range post.Platforms {
		if seen[platform] {
			continue
		}
		seen[platform] = true

		platformAccounts := byPlatform[platform]
		if len(platformAccounts) > 1 {
			ids := make([]string, len(platformAccounts))
			for i, a := range platformAccounts {
				ids[i] = a.ID
			}
			logger.WithFields(logger.Fields{
				"post_id":     post.ID,
				"platform":    platform,
				"account_ids": ids,
			}).Warn("several accounts of one platform targeted by the same post")
		}
		if len(platformAccounts) == 0 {
			targets = append(targets, target{platform: platform})
			continue
		}
		for _, account := range platformAccounts {
			targets = append(targets, target{platform: platform, account: account})
		}
	}
	return targets
}

// Publish runs one publish attempt of post. Every target yields exactly one result, in
// plan order; adapter failures never surface as an error. An error is returned only when
// the post cannot start an attempt or the outcome cannot be stored.
func (o *Orchestrator) Publish(ctx context.Context, post *domain.Post, accounts []*domain.Account) (*domain.PostOutcome, error) {
	if post.Status == domain.PostStatusCancelled {
		return nil, fmt.Errorf("%w: post %s is cancelled", domain.ErrPostNotPublishable, post.ID)
	}
	if err := o.postRepo.TransitionStatus(ctx, post.ID, publishableStatuses, domain.PostStatusPosting); err != nil {
		return nil, fmt.Errorf("post %s: %w", post.ID, err)
	}
	post.Status = domain.PostStatusPosting

	outcome := &domain.PostOutcome{PostID: post.ID, StartedAt: o.clock.Now()}
	targets := o.plan(post, accounts)

	logger.WithFields(logger.Fields{
		"post_id": post.ID,
		"targets": len(targets),
	}).Info("publishing post")

	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	results := make([]domain.PlatformResult, len(targets))
	var g errgroup.Group
	if o.maxConcurrent > 0 {
		g.SetLimit(o.maxConcurrent)
	}
	for i, t := range targets {
		g.Go(func() error {
			results[i] = o.publishTarget(runCtx, post, t)
			return nil
		})
	}
	_ = g.Wait()

	outcome.Results = results
	outcome.Status = decideStatus(post, results)
	outcome.FinishedAt = o.clock.Now()
	post.Status = outcome.Status

	o.metrics.ObservePostOutcome(string(outcome.Status))
	logger.WithFields(logger.Fields{
		"post_id":   post.ID,
		"status":    outcome.Status,
		"succeeded": outcome.Succeeded(),
		"targets":   len(results),
	}).Info("post publish finished")

	// the attempt is stored even when the run deadline has passed
	storeCtx := context.WithoutCancel(ctx)
	if err := o.postRepo.CompleteAttempt(storeCtx, post.ID, outcome.Status, results); err != nil {
		logger.WithFields(logger.Fields{"post_id": post.ID}).WithError(err).Error("failed to store publish attempt")
		return outcome, fmt.Errorf("store attempt: %w", err)
	}

	o.scheduleCleanup(storeCtx, post, targets)
	return outcome, nil
}

func decideStatus(post *domain.Post, results []domain.PlatformResult) domain.PostStatus {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	switch {
	case succeeded == 0:
		return domain.PostStatusFailed
	case post.RequireAllPlatforms && succeeded < len(results):
		return domain.PostStatusFailed
	default:
		return domain.PostStatusPosted
	}
}

func (o *Orchestrator) scheduleCleanup(ctx context.Context, post *domain.Post, targets []target) {
	if o.cleanup == nil || len(post.Media) == 0 {
		return
	}
	async := false
	for _, t := range targets {
		if p, ok := o.publishers[t.platform]; ok && t.account != nil && p.Capabilities().AsyncMediaProcessing {
			async = true
			break
		}
	}
	if !async {
		return
	}
	if err := o.cleanup.ScheduleCleanup(ctx, post.ID, post.Media); err != nil {
		logger.WithFields(logger.Fields{"post_id": post.ID}).WithError(err).Error("failed to schedule media cleanup")
	}
}

func (o *Orchestrator) pairLock(platform domain.Platform, accountID string) *sync.Mutex {
	key := string(platform) + ":" + accountID
	o.pairMu.Lock()
	defer o.pairMu.Unlock()
	mu, ok := o.pairLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		o.pairLocks[key] = mu
	}
	return mu
}

// publishTarget runs the per-account pipeline: credential, admission, validation, media,
// adapter call and usage recording.
func (o *Orchestrator) publishTarget(ctx context.Context, post *domain.Post, t target) (result domain.PlatformResult) {
	accountID := ""
	if t.account != nil {
		accountID = t.account.ID
	}
	start := o.clock.Now()
	fail := func(err error) domain.PlatformResult {
		return domain.FailedResult(t.platform, accountID, err, o.clock.Now())
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logger.Fields{
				"post_id":    post.ID,
				"platform":   t.platform,
				"account_id": accountID,
				"panic":      r,
			}).Error("platform adapter panicked")
			result = fail(domain.NewPublishError(domain.ErrorKindUpstreamUnavailable, "", "adapter panic: %v", r))
		}
		o.metrics.ObservePublish(string(t.platform), result.Kind(), o.clock.Now().Sub(start))
		o.logResult(post.ID, result)
	}()

	publisher, ok := o.publishers[t.platform]
	if !ok {
		return fail(domain.NewPublishError(domain.ErrorKindValidation, "unsupported_platform", "platform %q is not supported", t.platform))
	}
	if t.account == nil {
		return fail(domain.NewPublishError(domain.ErrorKindValidation, "no_account", "no active %s account selected", t.platform))
	}
	if !t.account.IsActive {
		return fail(domain.NewPublishError(domain.ErrorKindValidation, "account_inactive", "account %s is inactive", t.account.ID))
	}

	unlock, err := o.lockPair(ctx, t.platform, t.account.ID)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	token, err := o.credentials.Resolve(ctx, t.account)
	if err != nil {
		return fail(err)
	}

	if !o.limiter.Admit(ctx, t.platform, t.account.ID) {
		o.metrics.RateLimitDenied(string(t.platform))
		return fail(domain.NewPublishError(domain.ErrorKindRateLimited, "",
			"rate limit reached, window resets at %s",
			o.limiter.ResetAt(ctx, t.platform, t.account.ID).UTC().Format(time.RFC3339)))
	}

	caps := publisher.Capabilities()
	content, thread := post.ContentFor(t.platform)
	if !caps.SupportsThread {
		thread = nil
	}
	if err := protocol.Validate(caps, content, thread, post.Media); err != nil {
		return fail(err)
	}

	media, err := o.media.Prepare(ctx, caps.MediaMode, post.Media)
	if err != nil {
		return fail(err)
	}

	req := domain.PublishRequest{
		Account: t.account,
		Token:   token,
		Content: content,
		Thread:  thread,
		Media:   media,
	}
	result, late := o.invoke(ctx, publisher, req)
	if late != nil {
		// the pair stays locked until the abandoned call returns
		go o.settleAbandoned(post.ID, t, late, unlock)
		unlock = nil
		return result
	}

	if result.Success || len(result.Items) > 0 {
		o.limiter.Record(ctx, t.platform, t.account.ID)
	}
	return result
}

// lockPair serializes one (platform, account) pair in this process and, when the limiter
// shares its counters with other processes, across all of them.
func (o *Orchestrator) lockPair(ctx context.Context, platform domain.Platform, accountID string) (func(), error) {
	mu := o.pairLock(platform, accountID)
	mu.Lock()

	locker, ok := o.limiter.(domain.PairLocker)
	if !ok {
		return mu.Unlock, nil
	}
	release, err := locker.LockPair(ctx, platform, accountID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	return func() {
		release()
		mu.Unlock()
	}, nil
}

type invocation struct {
	result domain.PlatformResult
	panic  any
}

// invoke calls the adapter and abandons it at the run deadline. An abandoned call is
// returned as a channel that yields once the adapter finally returns.
func (o *Orchestrator) invoke(ctx context.Context, publisher domain.Publisher, req domain.PublishRequest) (domain.PlatformResult, <-chan invocation) {
	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{panic: r}
			}
		}()
		done <- invocation{result: publisher.Publish(ctx, req)}
	}()

	select {
	case inv := <-done:
		if inv.panic != nil {
			panic(inv.panic)
		}
		return o.complete(publisher, req, inv.result), nil
	case <-ctx.Done():
		return domain.FailedResult(publisher.Platform(), req.Account.ID, ctx.Err(), o.clock.Now()), done
	}
}

func (o *Orchestrator) complete(publisher domain.Publisher, req domain.PublishRequest, result domain.PlatformResult) domain.PlatformResult {
	if result.Platform == "" {
		result.Platform = publisher.Platform()
	}
	if result.AccountID == "" {
		result.AccountID = req.Account.ID
	}
	if result.AttemptedAt.IsZero() {
		result.AttemptedAt = o.clock.Now()
	}
	return result
}

// settleAbandoned waits for a call that outlived the run deadline, counts it against the
// window when it reached the platform, then releases the pair.
func (o *Orchestrator) settleAbandoned(postID string, t target, late <-chan invocation, unlock func()) {
	defer unlock()

	inv := <-late
	fields := logger.Fields{
		"post_id":    postID,
		"platform":   t.platform,
		"account_id": t.account.ID,
	}
	if inv.panic != nil {
		fields["panic"] = inv.panic
		logger.WithFields(fields).Error("abandoned platform call panicked")
		return
	}
	if inv.result.Success || len(inv.result.Items) > 0 {
		o.limiter.Record(context.Background(), t.platform, t.account.ID)
		fields["external_id"] = inv.result.ExternalID
		logger.WithFields(fields).Warn("abandoned platform call published after the deadline")
		return
	}
	logger.WithFields(fields).Debug("abandoned platform call finished")
}

func (o *Orchestrator) logResult(postID string, result domain.PlatformResult) {
	fields := logger.Fields{
		"post_id":    postID,
		"platform":   result.Platform,
		"account_id": result.AccountID,
		"kind":       result.Kind(),
	}
	if result.Success {
		fields["external_id"] = result.ExternalID
		logger.WithFields(fields).Info("platform publish succeeded")
		return
	}
	if result.Error != nil {
		fields["code"] = result.Error.Code
		fields["error"] = result.Error.Message
	}
	logger.WithFields(fields).Warn("platform publish failed")
}
