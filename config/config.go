package config

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerPort    string `yaml:"server.port"`
	PublicBaseURL string `yaml:"server.public_base_url"` // Base URL under which this service is reachable

	// Storage configuration
	DatabaseURL string `yaml:"database.url"`
	RedisURL    string `yaml:"redis.url"` // Empty keeps rate-limit windows in process memory

	// Logging configuration
	LogDirectory  string `yaml:"logging.dir"`
	LogOutputFile string `yaml:"logging.output_file"`
	LogErrorFile  string `yaml:"logging.error_file"`
	LogLevel      string `yaml:"logging.level"`
	LogFormat     string `yaml:"logging.format"`

	// Publish configuration
	PublishTimeout         time.Duration `yaml:"-"`
	InterPublishDelay      time.Duration `yaml:"-"`
	ContainerPollInterval  time.Duration `yaml:"-"`
	ContainerMaxPolls      int           `yaml:"publish.max_polls"`
	MaxMediaBytes          int64         `yaml:"publish.max_media_bytes"`
	UploadChunkSize        int64         `yaml:"publish.chunk_size"`
	MaxConcurrentPublishes int           `yaml:"publish.max_concurrent"`

	// Credential lifecycle configuration
	RefreshThreshold time.Duration `yaml:"-"`
	RefreshSchedule  string        `yaml:"credentials.refresh_schedule"`

	// Deferred cleanup configuration
	CleanupDelay         time.Duration `yaml:"-"`
	CleanupSchedule      string        `yaml:"cleanup.schedule"`
	CleanupCallbackURL   string        `yaml:"cleanup.callback_url"`
	CleanupSigningSecret string        `yaml:"cleanup.signing_secret"`
	CleanupMaxAttempts   int           `yaml:"cleanup.max_attempts"`
	CleanupBatchSize     int           `yaml:"cleanup.batch_size"`

	// Media configuration
	MediaStorageBaseURL    string   `yaml:"media.storage_base_url"`
	MediaStorageDir        string   `yaml:"media.storage_dir"`
	MediaProxyAllowedHosts []string `yaml:"media.proxy_allowed_hosts"`

	// Performance tuning
	WorkerPoolSize          int           `yaml:"performance.worker_pool_size"`
	HTTPClientTimeout       time.Duration `yaml:"-"`
	MaxIdleConns            int           `yaml:"performance.max_idle_conns"`
	MaxConnsPerHost         int           `yaml:"performance.max_conns_per_host"`
	BreakerFailureThreshold int           `yaml:"performance.breaker_failure_threshold"`
	BreakerDelay            time.Duration `yaml:"-"`

	// Per-platform configuration keyed by platform name
	Platforms map[string]PlatformConfig `yaml:"platforms"`

	// Bootstrap account mappings
	BootstrapAccounts []AccountBootstrap `yaml:"accounts"`
}

// PlatformConfig holds the settings of one platform adapter
type PlatformConfig struct {
	Enabled          bool
	BaseURL          string
	AuthBaseURL      string // Token endpoint host, when it differs from BaseURL
	ClientID         string
	ClientSecret     string
	RateLimitMax     int
	RateLimitWindow  time.Duration
	RefreshThreshold time.Duration
}

// AccountBootstrap defines an account loaded from config
type AccountBootstrap struct {
	Platform     string `yaml:"platform"`
	ExternalID   string `yaml:"external_id"`
	UserID       string `yaml:"user_id"`
	AccessToken  string `yaml:"access_token"`
	Secret       string `yaml:"secret,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
	ExpiresAt    string `yaml:"expires_at,omitempty"` // RFC3339
	IsActive     *bool  `yaml:"is_active,omitempty"`
}

// configFile represents the YAML structure
type configFile struct {
	Server struct {
		Port          string `yaml:"port"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Logging struct {
		Directory  string `yaml:"dir"`
		OutputFile string `yaml:"output_file"`
		ErrorFile  string `yaml:"error_file"`
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
	} `yaml:"logging"`
	Publish struct {
		Timeout           string `yaml:"timeout"`
		InterPublishDelay string `yaml:"inter_publish_delay"`
		PollInterval      string `yaml:"poll_interval"`
		MaxPolls          int    `yaml:"max_polls"`
		MaxMediaBytes     int64  `yaml:"max_media_bytes"`
		ChunkSize         int64  `yaml:"chunk_size"`
		MaxConcurrent     int    `yaml:"max_concurrent"`
	} `yaml:"publish"`
	Credentials struct {
		RefreshThreshold string `yaml:"refresh_threshold"`
		RefreshSchedule  string `yaml:"refresh_schedule"`
	} `yaml:"credentials"`
	Cleanup struct {
		Delay         string `yaml:"delay"`
		Schedule      string `yaml:"schedule"`
		CallbackURL   string `yaml:"callback_url"`
		SigningSecret string `yaml:"signing_secret,omitempty"`
		MaxAttempts   int    `yaml:"max_attempts"`
		BatchSize     int    `yaml:"batch_size"`
	} `yaml:"cleanup"`
	Media struct {
		StorageBaseURL    string   `yaml:"storage_base_url"`
		StorageDir        string   `yaml:"storage_dir"`
		ProxyAllowedHosts []string `yaml:"proxy_allowed_hosts"`
	} `yaml:"media"`
	Performance struct {
		WorkerPoolSize          int    `yaml:"worker_pool_size"`
		HTTPClientTimeout       string `yaml:"http_client_timeout"`
		MaxIdleConns            int    `yaml:"max_idle_conns"`
		MaxConnsPerHost         int    `yaml:"max_conns_per_host"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerDelay            string `yaml:"breaker_delay"`
	} `yaml:"performance"`
	Platforms map[string]platformSection `yaml:"platforms"`
	Accounts  []AccountBootstrap         `yaml:"accounts"`
}

type platformSection struct {
	Enabled          *bool  `yaml:"enabled,omitempty"`
	BaseURL          string `yaml:"base_url,omitempty"`
	AuthBaseURL      string `yaml:"auth_base_url,omitempty"`
	ClientID         string `yaml:"client_id,omitempty"`
	ClientSecret     string `yaml:"client_secret,omitempty"`
	RefreshThreshold string `yaml:"refresh_threshold,omitempty"`
	RateLimit        struct {
		MaxRequests int    `yaml:"max_requests,omitempty"`
		Window      string `yaml:"window,omitempty"`
	} `yaml:"rate_limit,omitempty"`
}

// platformDefaults holds the endpoints and documented publishing quotas of each platform
var platformDefaults = map[string]PlatformConfig{
	"twitter": {
		BaseURL:          "https://api.twitter.com",
		RateLimitMax:     200,
		RateLimitWindow:  15 * time.Minute,
		RefreshThreshold: 30 * time.Minute,
	},
	"facebook": {
		BaseURL:         "https://graph.facebook.com/v19.0",
		RateLimitMax:    200,
		RateLimitWindow: time.Hour,
	},
	"instagram": {
		BaseURL:         "https://graph.facebook.com/v19.0",
		AuthBaseURL:     "https://graph.instagram.com",
		RateLimitMax:    25,
		RateLimitWindow: 24 * time.Hour,
	},
	"threads": {
		BaseURL:         "https://graph.threads.net/v1.0",
		AuthBaseURL:     "https://graph.threads.net",
		RateLimitMax:    250,
		RateLimitWindow: 24 * time.Hour,
	},
	"tiktok": {
		BaseURL:         "https://open.tiktokapis.com",
		RateLimitMax:    15,
		RateLimitWindow: 24 * time.Hour,
	},
	"youtube": {
		BaseURL:          "https://www.googleapis.com",
		AuthBaseURL:      "https://oauth2.googleapis.com",
		RateLimitMax:     6,
		RateLimitWindow:  24 * time.Hour,
		RefreshThreshold: 10 * time.Minute,
	},
}

// KnownPlatforms returns the names of the platforms with built-in defaults, sorted
func KnownPlatforms() []string {
	names := make([]string, 0, len(platformDefaults))
	for name := range platformDefaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Manager handles configuration loading and saving
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
}

// NewManager creates a new configuration manager
func NewManager(configPath string) *Manager {
	if configPath == "" {
		configPath = "config.yaml"
	}
	return &Manager{
		configPath: configPath,
	}
}

// Load reads configuration from YAML file and applies environment overrides
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		// If file doesn't exist, create default config
		if os.IsNotExist(err) {
			return m.createDefaultConfig()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	m.config = cfg
	return cfg, nil
}

// Parse converts YAML bytes into a Config with defaults and environment overrides applied
func Parse(data []byte) (*Config, error) {
	var cfgFile configFile
	if err := yaml.Unmarshal(data, &cfgFile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := &Config{
		ServerPort:              cfgFile.Server.Port,
		PublicBaseURL:           cfgFile.Server.PublicBaseURL,
		DatabaseURL:             cfgFile.Database.URL,
		RedisURL:                cfgFile.Redis.URL,
		LogDirectory:            cfgFile.Logging.Directory,
		LogOutputFile:           cfgFile.Logging.OutputFile,
		LogErrorFile:            cfgFile.Logging.ErrorFile,
		LogLevel:                cfgFile.Logging.Level,
		LogFormat:               cfgFile.Logging.Format,
		PublishTimeout:          parseDuration(cfgFile.Publish.Timeout, 0),
		InterPublishDelay:       parseDuration(cfgFile.Publish.InterPublishDelay, -1),
		ContainerPollInterval:   parseDuration(cfgFile.Publish.PollInterval, 0),
		ContainerMaxPolls:       cfgFile.Publish.MaxPolls,
		MaxMediaBytes:           cfgFile.Publish.MaxMediaBytes,
		UploadChunkSize:         cfgFile.Publish.ChunkSize,
		MaxConcurrentPublishes:  cfgFile.Publish.MaxConcurrent,
		RefreshThreshold:        parseDuration(cfgFile.Credentials.RefreshThreshold, 0),
		RefreshSchedule:         cfgFile.Credentials.RefreshSchedule,
		CleanupDelay:            parseDuration(cfgFile.Cleanup.Delay, 0),
		CleanupSchedule:         cfgFile.Cleanup.Schedule,
		CleanupCallbackURL:      cfgFile.Cleanup.CallbackURL,
		CleanupSigningSecret:    cfgFile.Cleanup.SigningSecret,
		CleanupMaxAttempts:      cfgFile.Cleanup.MaxAttempts,
		CleanupBatchSize:        cfgFile.Cleanup.BatchSize,
		MediaStorageBaseURL:     cfgFile.Media.StorageBaseURL,
		MediaStorageDir:         cfgFile.Media.StorageDir,
		MediaProxyAllowedHosts:  cfgFile.Media.ProxyAllowedHosts,
		WorkerPoolSize:          cfgFile.Performance.WorkerPoolSize,
		HTTPClientTimeout:       parseDuration(cfgFile.Performance.HTTPClientTimeout, 0),
		MaxIdleConns:            cfgFile.Performance.MaxIdleConns,
		MaxConnsPerHost:         cfgFile.Performance.MaxConnsPerHost,
		BreakerFailureThreshold: cfgFile.Performance.BreakerFailureThreshold,
		BreakerDelay:            parseDuration(cfgFile.Performance.BreakerDelay, 0),
		BootstrapAccounts:       cfgFile.Accounts,
	}

	cfg.Platforms = make(map[string]PlatformConfig, len(platformDefaults))
	for name, section := range cfgFile.Platforms {
		name = strings.ToLower(strings.TrimSpace(name))
		pc := PlatformConfig{
			Enabled:          section.Enabled == nil || *section.Enabled,
			BaseURL:          section.BaseURL,
			AuthBaseURL:      section.AuthBaseURL,
			ClientID:         section.ClientID,
			ClientSecret:     section.ClientSecret,
			RateLimitMax:     section.RateLimit.MaxRequests,
			RateLimitWindow:  parseDuration(section.RateLimit.Window, 0),
			RefreshThreshold: parseDuration(section.RefreshThreshold, 0),
		}
		cfg.Platforms[name] = pc
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// parseDuration parses a duration string, returning def when empty or invalid
func parseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// applyDefaults fills in every setting left empty
func applyDefaults(cfg *Config) {
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("http://localhost:%s", cfg.ServerPort)
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "sqlite3:./data.db"
	}
	if cfg.LogDirectory == "" {
		cfg.LogDirectory = "./logs"
	}
	if cfg.LogOutputFile == "" {
		cfg.LogOutputFile = "app.log"
	}
	if cfg.LogErrorFile == "" {
		cfg.LogErrorFile = "app.error.log"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}

	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Minute
	}
	if cfg.InterPublishDelay < 0 {
		cfg.InterPublishDelay = 2 * time.Second
	}
	if cfg.ContainerPollInterval <= 0 {
		cfg.ContainerPollInterval = 5 * time.Second
	}
	if cfg.ContainerMaxPolls <= 0 {
		cfg.ContainerMaxPolls = 12
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = 512 * 1024 * 1024 // 512MB
	}
	if cfg.UploadChunkSize <= 0 {
		cfg.UploadChunkSize = 10 * 1024 * 1024 // 10MB
	}
	if cfg.MaxConcurrentPublishes <= 0 {
		cfg.MaxConcurrentPublishes = 6
	}

	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = 7 * 24 * time.Hour
	}
	if cfg.RefreshSchedule == "" {
		cfg.RefreshSchedule = "0 */30 * * * *"
	}

	if cfg.CleanupDelay <= 0 {
		cfg.CleanupDelay = 2 * time.Hour
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "0 * * * * *"
	}
	if cfg.CleanupCallbackURL == "" {
		cfg.CleanupCallbackURL = cfg.PublicBaseURL + "/api/cleanup"
	}
	if cfg.CleanupMaxAttempts <= 0 {
		cfg.CleanupMaxAttempts = 5
	}
	if cfg.CleanupBatchSize <= 0 {
		cfg.CleanupBatchSize = 20
	}

	if cfg.MediaStorageDir == "" {
		cfg.MediaStorageDir = "./media"
	}
	if cfg.MediaStorageBaseURL == "" {
		cfg.MediaStorageBaseURL = cfg.PublicBaseURL + "/media/files"
	}
	cfg.MediaStorageBaseURL = strings.TrimRight(cfg.MediaStorageBaseURL, "/")

	// Auto-calculate worker pool size if 0
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = runtime.NumCPU() * 4
		if cfg.WorkerPoolSize < 10 {
			cfg.WorkerPoolSize = 10
		}
		if cfg.WorkerPoolSize > 100 {
			cfg.WorkerPoolSize = 100
		}
	}
	if cfg.HTTPClientTimeout <= 0 {
		cfg.HTTPClientTimeout = 60 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 300
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 100
	}
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 30 * time.Second
	}

	if cfg.Platforms == nil {
		cfg.Platforms = make(map[string]PlatformConfig, len(platformDefaults))
	}
	for name, def := range platformDefaults {
		pc, configured := cfg.Platforms[name]
		if !configured {
			pc = PlatformConfig{Enabled: true}
		}
		if pc.BaseURL == "" {
			pc.BaseURL = def.BaseURL
		}
		if pc.AuthBaseURL == "" {
			pc.AuthBaseURL = def.AuthBaseURL
		}
		if pc.AuthBaseURL == "" {
			pc.AuthBaseURL = pc.BaseURL
		}
		if pc.RateLimitMax == 0 {
			pc.RateLimitMax = def.RateLimitMax
		}
		if pc.RateLimitWindow == 0 {
			pc.RateLimitWindow = def.RateLimitWindow
		}
		if pc.RefreshThreshold == 0 {
			pc.RefreshThreshold = def.RefreshThreshold
		}
		if pc.RefreshThreshold == 0 {
			pc.RefreshThreshold = cfg.RefreshThreshold
		}
		cfg.Platforms[name] = pc
	}
}

// Platform returns the configuration of a platform and whether it is known
func (c *Config) Platform(name string) (PlatformConfig, bool) {
	pc, ok := c.Platforms[strings.ToLower(name)]
	return pc, ok
}

// Save writes configuration to YAML file
func (m *Manager) Save(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saveUnlocked(cfg)
}

// saveUnlocked persists config assuming caller already holds the write lock.
// Secrets loaded from the environment are not written back.
func (m *Manager) saveUnlocked(cfg *Config) error {
	var cfgFile configFile
	cfgFile.Server.Port = cfg.ServerPort
	cfgFile.Server.PublicBaseURL = cfg.PublicBaseURL
	cfgFile.Database.URL = cfg.DatabaseURL
	cfgFile.Redis.URL = cfg.RedisURL
	cfgFile.Logging.Directory = cfg.LogDirectory
	cfgFile.Logging.OutputFile = cfg.LogOutputFile
	cfgFile.Logging.ErrorFile = cfg.LogErrorFile
	cfgFile.Logging.Level = cfg.LogLevel
	cfgFile.Logging.Format = cfg.LogFormat
	cfgFile.Publish.Timeout = cfg.PublishTimeout.String()
	cfgFile.Publish.InterPublishDelay = cfg.InterPublishDelay.String()
	cfgFile.Publish.PollInterval = cfg.ContainerPollInterval.String()
	cfgFile.Publish.MaxPolls = cfg.ContainerMaxPolls
	cfgFile.Publish.MaxMediaBytes = cfg.MaxMediaBytes
	cfgFile.Publish.ChunkSize = cfg.UploadChunkSize
	cfgFile.Publish.MaxConcurrent = cfg.MaxConcurrentPublishes
	cfgFile.Credentials.RefreshThreshold = cfg.RefreshThreshold.String()
	cfgFile.Credentials.RefreshSchedule = cfg.RefreshSchedule
	cfgFile.Cleanup.Delay = cfg.CleanupDelay.String()
	cfgFile.Cleanup.Schedule = cfg.CleanupSchedule
	cfgFile.Cleanup.CallbackURL = cfg.CleanupCallbackURL
	cfgFile.Cleanup.MaxAttempts = cfg.CleanupMaxAttempts
	cfgFile.Cleanup.BatchSize = cfg.CleanupBatchSize
	cfgFile.Media.StorageBaseURL = cfg.MediaStorageBaseURL
	cfgFile.Media.StorageDir = cfg.MediaStorageDir
	cfgFile.Media.ProxyAllowedHosts = cfg.MediaProxyAllowedHosts
	cfgFile.Performance.WorkerPoolSize = cfg.WorkerPoolSize
	cfgFile.Performance.HTTPClientTimeout = cfg.HTTPClientTimeout.String()
	cfgFile.Performance.MaxIdleConns = cfg.MaxIdleConns
	cfgFile.Performance.MaxConnsPerHost = cfg.MaxConnsPerHost
	cfgFile.Performance.BreakerFailureThreshold = cfg.BreakerFailureThreshold
	cfgFile.Performance.BreakerDelay = cfg.BreakerDelay.String()
	cfgFile.Accounts = cfg.BootstrapAccounts

	if len(cfg.Platforms) > 0 {
		cfgFile.Platforms = make(map[string]platformSection, len(cfg.Platforms))
		for name, pc := range cfg.Platforms {
			enabled := pc.Enabled
			section := platformSection{
				Enabled:     &enabled,
				BaseURL:     pc.BaseURL,
				AuthBaseURL: pc.AuthBaseURL,
				ClientID:    pc.ClientID,
			}
			if pc.RefreshThreshold > 0 {
				section.RefreshThreshold = pc.RefreshThreshold.String()
			}
			section.RateLimit.MaxRequests = pc.RateLimitMax
			if pc.RateLimitWindow > 0 {
				section.RateLimit.Window = pc.RateLimitWindow.String()
			}
			cfgFile.Platforms[name] = section
		}
	}

	data, err := yaml.Marshal(&cfgFile)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	m.config = cfg
	return nil
}

// Get returns the current configuration (thread-safe)
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Update updates specific configuration fields and saves to file
func (m *Manager) Update(updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return fmt.Errorf("config not loaded, call Load() first")
	}

	for key, value := range updates {
		switch key {
		case "server.port":
			if v, ok := value.(string); ok {
				m.config.ServerPort = v
			}
		case "redis.url":
			if v, ok := value.(string); ok {
				m.config.RedisURL = v
			}
		case "logging.level":
			if v, ok := value.(string); ok {
				m.config.LogLevel = v
			}
		case "publish.timeout":
			if v, ok := value.(string); ok {
				if d, err := time.ParseDuration(v); err == nil {
					m.config.PublishTimeout = d
				}
			}
		case "publish.inter_publish_delay":
			if v, ok := value.(string); ok {
				if d, err := time.ParseDuration(v); err == nil {
					m.config.InterPublishDelay = d
				}
			}
		case "publish.max_concurrent":
			if v, ok := value.(int); ok {
				m.config.MaxConcurrentPublishes = v
			}
		case "credentials.refresh_schedule":
			if v, ok := value.(string); ok {
				m.config.RefreshSchedule = v
			}
		case "cleanup.schedule":
			if v, ok := value.(string); ok {
				m.config.CleanupSchedule = v
			}
		case "cleanup.delay":
			if v, ok := value.(string); ok {
				if d, err := time.ParseDuration(v); err == nil {
					m.config.CleanupDelay = d
				}
			}
		case "media.proxy_allowed_hosts":
			if v, ok := value.([]string); ok {
				m.config.MediaProxyAllowedHosts = v
			}
		case "accounts":
			if accounts, ok := value.([]AccountBootstrap); ok {
				m.config.BootstrapAccounts = accounts
			}
		default:
			return fmt.Errorf("unsupported config key %q", key)
		}
	}

	return m.saveUnlocked(m.config)
}

// Reload reloads configuration from file
func (m *Manager) Reload() (*Config, error) {
	return m.Load()
}

// createDefaultConfig creates a default configuration file
func (m *Manager) createDefaultConfig() (*Config, error) {
	cfg := &Config{InterPublishDelay: -1}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := m.saveUnlocked(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Global config manager instance
var globalManager *Manager

// Load loads configuration from YAML file
func Load() (*Config, error) {
	return GetManager().Load()
}

// GetManager returns the global config manager
func GetManager() *Manager {
	if globalManager == nil {
		configPath := "config.yaml"
		// Check if config/config.yaml exists, if so use it as default
		if _, err := os.Stat("config/config.yaml"); err == nil {
			configPath = "config/config.yaml"
		}
		globalManager = NewManager(configPath)
	}
	return globalManager
}

// SetConfigPath replaces the global config manager with one reading path
func SetConfigPath(path string) {
	globalManager = NewManager(path)
}
