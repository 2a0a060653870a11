package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	Environment   string
	LogLevel      string
	LogFormat     string

	MongoURI          string
	MongoDatabase     string
	MongoTransactions bool
	DatabaseURL       string

	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	StatsCacheTTLSeconds int
	AuthSecret           string
	SessionTTLMinutes    int
	CookieSecure         bool
	LedgerTimezone       string
	SeedAdminEmail       string
	SeedAdminPassword    string
}

// LoadDotEnv reads KEY=value pairs from the given files (default ".env")
// into the process environment. Variables already set win, and missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL, err := strconv.Atoi(getEnv("STATS_CACHE_TTL_SECONDS", "30"))
	if err != nil || cacheTTL < 1 {
		cacheTTL = 30
	}
	sessionTTL, err := strconv.Atoi(getEnv("SESSION_TTL_MINUTES", "720"))
	if err != nil || sessionTTL < 1 {
		sessionTTL = 720
	}
	environment := strings.ToLower(getEnv("ENVIRONMENT", "development"))

	cfg := Config{
		Port:                 getEnv("PORT", "8080"),
		AllowedOrigin:        getEnv("ALLOWED_ORIGIN", "http://localhost:3000"),
		Environment:          environment,
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		MongoURI:             strings.TrimSpace(os.Getenv("MONGODB_URI")),
		MongoDatabase:        getEnv("MONGODB_DATABASE", "fueldesk"),
		MongoTransactions:    getBool("MONGODB_TRANSACTIONS", false),
		DatabaseURL:          strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              redisDB,
		StatsCacheTTLSeconds: cacheTTL,
		AuthSecret:           strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		SessionTTLMinutes:    sessionTTL,
		CookieSecure:         getBool("COOKIE_SECURE", environment == "production"),
		LedgerTimezone:       getEnv("LEDGER_TIMEZONE", "UTC"),
		SeedAdminEmail:       strings.TrimSpace(os.Getenv("SEED_ADMIN_EMAIL")),
		SeedAdminPassword:    os.Getenv("SEED_ADMIN_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Backend names the storage engine selected by the configured URLs.
func (c Config) Backend() string {
	switch {
	case c.MongoURI != "":
		return "mongodb"
	case c.DatabaseURL != "":
		return "postgres"
	default:
		return "memory"
	}
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.LedgerTimezone)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_TIMEZONE %q: %w", c.LedgerTimezone, err)
	}
	return loc, nil
}

func (c Config) StatsCacheTTL() time.Duration {
	return time.Duration(c.StatsCacheTTLSeconds) * time.Second
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}
