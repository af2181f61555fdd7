// Package config loads the service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved service configuration.
type Config struct {
	// HTTPPort the API server listens on.
	HTTPPort int

	// OpenAIAPIKey authenticates both reasoning and embedding calls.
	OpenAIAPIKey string

	// OpenAIBaseURL overrides the API endpoint (proxies, compatible servers).
	OpenAIBaseURL string

	// Model is the reasoning model name.
	Model string

	// EmbedModel is the embeddings model name.
	EmbedModel string

	// DefaultScope is applied when a negotiation request omits its scope.
	DefaultScope string

	// CookieDomain for session propagation on the HTTP surface.
	CookieDomain string

	// VectorsFile is an optional precomputed agent-vector archive.
	VectorsFile string

	// Negotiation tunables.
	OfferTimeout         time.Duration
	ConfirmTimeout       time.Duration
	MaxCoordinatorRounds int
	KStar                int
	MinScore             float64

	// Retention for completed sessions held in memory.
	SessionRetention time.Duration
	CleanupInterval  time.Duration

	// ArchiveEnabled turns on the Postgres archive sink. Driven by
	// ARCHIVE_DB_HOST being set.
	ArchiveEnabled  bool
	ArchiveHost     string
	ArchivePort     int
	ArchiveUser     string
	ArchivePassword string
	ArchiveDatabase string
	ArchiveSSLMode  string
}

// LoadConfigFromEnv loads configuration from environment variables.
func LoadConfigFromEnv() (Config, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return Config{}, &ValidationError{Var: "OPENAI_API_KEY", Err: ErrMissingRequiredVar}
	}

	httpPort, err := strconv.Atoi(getEnvOrDefault("HTTP_PORT", "8080"))
	if err != nil {
		return Config{}, &ValidationError{Var: "HTTP_PORT", Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
	}

	offerTimeout, err := parseDuration("CONCORD_OFFER_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	confirmTimeout, err := parseDuration("CONCORD_CONFIRM_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}

	maxRounds, err := parseInt("CONCORD_MAX_ROUNDS", 1)
	if err != nil {
		return Config{}, err
	}
	kStar, err := parseInt("CONCORD_K_STAR", 10)
	if err != nil {
		return Config{}, err
	}
	minScore, err := parseFloat("CONCORD_MIN_SCORE", 0.3)
	if err != nil {
		return Config{}, err
	}
	sessionRetention, err := parseDuration("CONCORD_SESSION_RETENTION", time.Hour)
	if err != nil {
		return Config{}, err
	}
	cleanupInterval, err := parseDuration("CONCORD_CLEANUP_INTERVAL", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPPort:             httpPort,
		OpenAIAPIKey:         apiKey,
		OpenAIBaseURL:        os.Getenv("OPENAI_BASE_URL"),
		Model:                getEnvOrDefault("CONCORD_MODEL", "gpt-4o"),
		EmbedModel:           getEnvOrDefault("CONCORD_EMBED_MODEL", "text-embedding-3-small"),
		DefaultScope:         getEnvOrDefault("CONCORD_DEFAULT_SCOPE", "all"),
		CookieDomain:         os.Getenv("CONCORD_COOKIE_DOMAIN"),
		VectorsFile:          os.Getenv("CONCORD_VECTORS_FILE"),
		OfferTimeout:         offerTimeout,
		ConfirmTimeout:       confirmTimeout,
		MaxCoordinatorRounds: maxRounds,
		KStar:                kStar,
		MinScore:             minScore,
		SessionRetention:     sessionRetention,
		CleanupInterval:      cleanupInterval,
	}

	if host := os.Getenv("ARCHIVE_DB_HOST"); host != "" {
		archivePort, err := strconv.Atoi(getEnvOrDefault("ARCHIVE_DB_PORT", "5432"))
		if err != nil {
			return Config{}, &ValidationError{Var: "ARCHIVE_DB_PORT", Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
		}
		cfg.ArchiveEnabled = true
		cfg.ArchiveHost = host
		cfg.ArchivePort = archivePort
		cfg.ArchiveUser = getEnvOrDefault("ARCHIVE_DB_USER", "concord")
		cfg.ArchivePassword = os.Getenv("ARCHIVE_DB_PASSWORD")
		cfg.ArchiveDatabase = getEnvOrDefault("ARCHIVE_DB_NAME", "concord")
		cfg.ArchiveSSLMode = getEnvOrDefault("ARCHIVE_DB_SSLMODE", "disable")
	}

	return cfg, nil
}

func parseDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ValidationError{Var: key, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
	}
	return d, nil
}

func parseInt(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Var: key, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
	}
	return n, nil
}

func parseFloat(key string, defaultVal float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &ValidationError{Var: key, Err: fmt.Errorf("%w: %v", ErrInvalidValue, err)}
	}
	return f, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
