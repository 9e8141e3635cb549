package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"crosspost/config"
	"crosspost/internal/domain"
	"crosspost/internal/infrastructure/media"
	"crosspost/internal/logger"
	"crosspost/internal/metrics"
	"crosspost/internal/ratelimit"
	"crosspost/internal/usecase"
)

// PostPublisher runs a publish attempt for a stored post
type PostPublisher interface {
	PublishPost(ctx context.Context, postID string) (*domain.PostOutcome, error)
}

// CallbackHandler consumes verified cleanup callbacks
type CallbackHandler interface {
	HandleCallback(ctx context.Context, token string) error
}

// MediaSource opens allow-listed remote media for the proxy endpoint
type MediaSource interface {
	Open(ctx context.Context, src string) (*http.Response, error)
}

// MediaUploader stores uploaded media and serves it from Dir
type MediaUploader interface {
	Save(r io.Reader, ext string, kind domain.MediaKind, contentType string) (domain.MediaRef, error)
	Dir() string
}

// Deps are the collaborators of the HTTP API
type Deps struct {
	Posts     *usecase.PostManager
	Publisher PostPublisher
	Accounts  *usecase.AccountManager
	Monitor   *usecase.AccountMonitor
	Limiter   domain.RateLimiter
	Cleanup   CallbackHandler
	Proxy     MediaSource
	Store     MediaUploader
	Metrics   *metrics.Collector
}

// Server exposes the REST API for posts, accounts, media and cleanup callbacks.
type Server struct {
	cfg    *config.Config
	deps   Deps
	engine *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), loggingMiddleware())
	if deps.Metrics != nil {
		engine.Use(deps.Metrics.Middleware())
	}

	s := &Server{cfg: cfg, deps: deps, engine: engine}
	s.routes()

	s.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/api/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.GET("/metrics", s.deps.Metrics.Handler())
	}

	posts := r.Group("/api/posts")
	posts.POST("", s.createPost)
	posts.GET("/:id", s.getPost)
	posts.POST("/:id/publish", s.publishPost)
	posts.POST("/:id/cancel", s.cancelPost)

	accounts := r.Group("/api/accounts")
	accounts.GET("", s.listAccounts)
	accounts.POST("", s.createAccount)
	accounts.GET("/status", s.accountStatus)
	accounts.DELETE("/:id", s.deleteAccount)
	accounts.POST("/:id/activate", s.activateAccount)
	accounts.POST("/:id/deactivate", s.deactivateAccount)
	accounts.PUT("/:id/tokens", s.updateTokens)

	r.GET("/api/ratelimits/:platform/:account", s.rateLimitStatus)
	r.POST("/api/cleanup", s.handleCleanup)

	r.GET("/media/proxy", s.proxyMedia)
	if s.deps.Store != nil {
		r.POST("/api/media", s.uploadMedia)
		r.Static("/media/files", s.deps.Store.Dir())
	}
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving HTTP requests in a separate goroutine.
func (s *Server) Start() error {
	if s.cfg.ServerPort == "" {
		return fmt.Errorf("server port is not configured")
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http api server stopped with error")
		}
	}()
	logger.Infof("HTTP API server listening on %s", s.server.Addr)
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createPost(c *gin.Context) {
	var input usecase.PostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	post, err := s.deps.Posts.CreatePost(c.Request.Context(), input)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, toPostResponse(post))
}

func (s *Server) getPost(c *gin.Context) {
	post, err := s.deps.Posts.GetPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPostResponse(post))
}

func (s *Server) publishPost(c *gin.Context) {
	outcome, err := s.deps.Publisher.PublishPost(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) cancelPost(c *gin.Context) {
	if err := s.deps.Posts.CancelPost(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": domain.PostStatusCancelled})
}

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.deps.Accounts.GetAllAccounts(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]*accountResponse, 0, len(accounts))
	for _, account := range accounts {
		resp = append(resp, toAccountResponse(account))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createAccount(c *gin.Context) {
	var input usecase.AccountInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := s.deps.Accounts.CreateAccount(c.Request.Context(), input)
	if err != nil {
		if errors.Is(err, usecase.ErrAccountExists) {
			respondError(c, http.StatusConflict, err.Error())
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, toAccountResponse(account))
}

func (s *Server) deleteAccount(c *gin.Context) {
	if err := s.deps.Accounts.DeleteAccount(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) activateAccount(c *gin.Context) {
	if err := s.deps.Accounts.ActivateAccount(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "activated"})
}

func (s *Server) deactivateAccount(c *gin.Context) {
	if err := s.deps.Accounts.DeactivateAccount(c.Request.Context(), c.Param("id")); err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func (s *Server) updateTokens(c *gin.Context) {
	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    *int   `json:"expires_in"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.AccessToken == "" {
		respondError(c, http.StatusBadRequest, "access_token is required")
		return
	}

	account, err := s.deps.Accounts.UpdateAccountTokens(
		c.Request.Context(),
		c.Param("id"),
		payload.AccessToken,
		payload.RefreshToken,
		payload.ExpiresIn,
	)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if payload.RefreshToken == "" && account.Credential.RefreshToken == "" {
		logger.WithFields(logger.Fields{"account_id": account.ID}).
			Warn("no refresh token stored, the account will need manual re-authorization when the token expires")
	}
	c.JSON(http.StatusOK, toAccountResponse(account))
}

func (s *Server) accountStatus(c *gin.Context) {
	if s.deps.Monitor == nil {
		respondError(c, http.StatusServiceUnavailable, "account monitor is not configured")
		return
	}
	statuses, err := s.deps.Monitor.Statuses(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	report, lastRun := s.deps.Monitor.LastSweep()

	resp := gin.H{
		"accounts":              statuses,
		"needs_reauthorization": s.deps.Monitor.NeedsReauthorization(),
		"last_sweep":            report,
	}
	if !lastRun.IsZero() {
		resp["last_sweep_at"] = lastRun
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) rateLimitStatus(c *gin.Context) {
	platform := domain.ParsePlatform(c.Param("platform"))
	if _, ok := s.cfg.Platform(string(platform)); !ok {
		respondError(c, http.StatusNotFound, fmt.Sprintf("unknown platform %q", c.Param("platform")))
		return
	}
	accountID := c.Param("account")
	ctx := c.Request.Context()

	resp := gin.H{
		"platform":   platform,
		"account_id": accountID,
	}
	remaining := s.deps.Limiter.Remaining(ctx, platform, accountID)
	if remaining == ratelimit.Unlimited {
		resp["unlimited"] = true
	} else {
		resp["remaining"] = remaining
		if resetAt := s.deps.Limiter.ResetAt(ctx, platform, accountID); !resetAt.IsZero() {
			resp["reset_at"] = resetAt.UTC()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCleanup(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		respondError(c, http.StatusUnauthorized, "missing callback token")
		return
	}

	err := s.deps.Cleanup.HandleCallback(c.Request.Context(), token)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "cleaned"})
	case errors.Is(err, domain.ErrInvalidCallback):
		logger.WithFields(logger.Fields{"remote": c.ClientIP()}).WithError(err).Warn("rejected cleanup callback")
		respondError(c, http.StatusUnauthorized, "invalid callback token")
	default:
		respondDomainError(c, err)
	}
}

func (s *Server) proxyMedia(c *gin.Context) {
	if s.deps.Proxy == nil {
		respondError(c, http.StatusNotFound, "media proxy is disabled")
		return
	}
	src := c.Query("src")
	if src == "" {
		respondError(c, http.StatusBadRequest, "src is required")
		return
	}

	resp, err := s.deps.Proxy.Open(c.Request.Context(), src)
	if err != nil {
		if errors.Is(err, media.ErrHostNotAllowed) {
			respondError(c, http.StatusForbidden, err.Error())
			return
		}
		logger.WithFields(logger.Fields{"src": src}).WithError(err).Warn("media proxy fetch failed")
		respondError(c, http.StatusBadGateway, "failed to fetch media")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respondError(c, http.StatusBadGateway, fmt.Sprintf("media source returned status %d", resp.StatusCode))
		return
	}
	c.DataFromReader(http.StatusOK, resp.ContentLength, resp.Header.Get("Content-Type"), resp.Body, nil)
}

func (s *Server) uploadMedia(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "file is required")
		return
	}
	kind := domain.MediaKind(c.DefaultPostForm("kind", ""))
	contentType := file.Header.Get("Content-Type")
	if kind == "" {
		kind = domain.MediaKindImage
		if strings.HasPrefix(contentType, "video/") {
			kind = domain.MediaKindVideo
		}
	}
	if kind != domain.MediaKindImage && kind != domain.MediaKindVideo {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown media kind %q", kind))
		return
	}

	src, err := file.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	defer src.Close()

	ref, err := s.deps.Store.Save(src, filepath.Ext(file.Filename), kind, contentType)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to store media")
		return
	}
	c.JSON(http.StatusCreated, ref)
}

// respondDomainError maps the domain sentinel errors to HTTP statuses
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPostNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrCleanupJobNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPostNotPublishable), errors.Is(err, domain.ErrPostNotTerminal):
		respondError(c, http.StatusConflict, err.Error())
	default:
		logger.WithFields(logger.Fields{"path": c.FullPath()}).WithError(err).Error("request failed")
		respondError(c, http.StatusInternalServerError, err.Error())
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("http request")
	}
}

type accountResponse struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id,omitempty"`
	Platform        domain.Platform `json:"platform"`
	ExternalID      string          `json:"external_id"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	HasRefreshToken bool            `json:"has_refresh_token"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// toAccountResponse never exposes token material
func toAccountResponse(account *domain.Account) *accountResponse {
	return &accountResponse{
		ID:              account.ID,
		UserID:          account.UserID,
		Platform:        account.Platform,
		ExternalID:      account.ExternalID,
		ExpiresAt:       account.Credential.ExpiresAt,
		HasRefreshToken: account.Credential.RefreshToken != "",
		IsActive:        account.IsActive,
		CreatedAt:       account.CreatedAt,
		UpdatedAt:       account.UpdatedAt,
	}
}

type postResponse struct {
	ID                  string                                     `json:"id"`
	UserID              string                                     `json:"user_id,omitempty"`
	Content             string                                     `json:"content"`
	Thread              []string                                   `json:"thread,omitempty"`
	Overrides           map[domain.Platform]domain.PlatformOverride `json:"overrides,omitempty"`
	Platforms           []domain.Platform                          `json:"platforms"`
	AccountIDs          []string                                   `json:"account_ids,omitempty"`
	Media               []domain.MediaRef                          `json:"media,omitempty"`
	PublishAt           *time.Time                                 `json:"publish_at,omitempty"`
	RequireAllPlatforms bool                                       `json:"require_all_platforms"`
	Status              domain.PostStatus                          `json:"status"`
	Results             []domain.PlatformResult                    `json:"results"`
	CreatedAt           time.Time                                  `json:"created_at"`
	UpdatedAt           time.Time                                  `json:"updated_at"`
}

func toPostResponse(post *domain.Post) *postResponse {
	results := post.Results
	if results == nil {
		results = []domain.PlatformResult{}
	}
	return &postResponse{
		ID:                  post.ID,
		UserID:              post.UserID,
		Content:             post.Content,
		Thread:              post.Thread,
		Overrides:           post.Overrides,
		Platforms:           post.Platforms,
		AccountIDs:          post.AccountIDs,
		Media:               post.Media,
		PublishAt:           post.PublishAt,
		RequireAllPlatforms: post.RequireAllPlatforms,
		Status:              post.Status,
		Results:             results,
		CreatedAt:           post.CreatedAt,
		UpdatedAt:           post.UpdatedAt,
	}
}
