package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CROSSPOST_"

// LoadEnv loads environment variables from local .env files.
// Values in the files override the process environment.
func LoadEnv(log logrus.FieldLogger, files ...string) []string {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if log != nil {
				log.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if log != nil {
		if len(loaded) == 0 {
			log.Debug("No local env files loaded; relying on process environment")
		} else {
			log.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
		}
	}
	return loaded
}

// GetEnv gets an environment variable with a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an integer environment variable with a default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// applyEnvOverrides replaces secrets and endpoints with values from the environment
func applyEnvOverrides(cfg *Config) {
	cfg.ServerPort = GetEnv(EnvPrefix+"SERVER_PORT", cfg.ServerPort)
	cfg.PublicBaseURL = GetEnv(EnvPrefix+"PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.DatabaseURL = GetEnv(EnvPrefix+"DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = GetEnv(EnvPrefix+"REDIS_URL", cfg.RedisURL)
	cfg.LogLevel = GetEnv(EnvPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.CleanupSigningSecret = GetEnv(EnvPrefix+"CLEANUP_SIGNING_SECRET", cfg.CleanupSigningSecret)
	cfg.MaxConcurrentPublishes = GetEnvInt(EnvPrefix+"PUBLISH_MAX_CONCURRENT", cfg.MaxConcurrentPublishes)

	if cfg.Platforms == nil {
		cfg.Platforms = make(map[string]PlatformConfig)
	}
	for _, name := range KnownPlatforms() {
		prefix := EnvPrefix + strings.ToUpper(name) + "_"
		id := os.Getenv(prefix + "CLIENT_ID")
		secret := os.Getenv(prefix + "CLIENT_SECRET")
		if id == "" && secret == "" {
			continue
		}
		pc, ok := cfg.Platforms[name]
		if !ok {
			pc = PlatformConfig{Enabled: true}
		}
		if id != "" {
			pc.ClientID = id
		}
		if secret != "" {
			pc.ClientSecret = secret
		}
		cfg.Platforms[name] = pc
	}
}
