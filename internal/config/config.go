package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/habithub/internal/domain/habit"
	"github.com/joho/godotenv"
)

const minSecretLen = 16

// Store drivers accepted in STORE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

var ErrMissingSecret = errors.New("JWT_SECRET must be set (at least 16 bytes)")

type Config struct {
	Env  string
	Port int

	StoreDriver string
	DBURL       string
	SQLitePath  string

	JWTSecret  string
	AccessTTL  time.Duration
	BcryptCost int

	GridRows int
	GridCols int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	OTLPEndpoint string
	ServiceName  string

	CORSOrigins    []string
	AuthRateLimit  int
	AuthRateWindow time.Duration
	MaxBodyBytes   int64
}

// Load reads .env (when present) and the process environment. It is called once
// at startup; the resulting Config is passed explicitly to whoever needs it.
func Load() (Config, error) {
	// a missing .env file is fine, real deployments use the environment
	_ = godotenv.Load()

	l := &loader{}

	cfg := Config{
		Env:  l.getStr("APP_ENV", "dev"),
		Port: l.getInt("PORT", 8080),

		StoreDriver: strings.ToLower(l.getStr("STORE_DRIVER", DriverPostgres)),
		DBURL:       l.getStr("DATABASE_URL", buildDBURL()),
		SQLitePath:  l.getStr("SQLITE_PATH", "habits.db"),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		AccessTTL:  l.getDuration("JWT_ACCESS_TTL", time.Hour),
		BcryptCost: l.getInt("BCRYPT_COST", 10),

		GridRows: l.getInt("GRID_ROWS", 7),
		GridCols: l.getInt("GRID_COLS", 30),

		RedisAddr:     l.getStr("REDIS_ADDR", ""),
		RedisPassword: l.getStr("REDIS_PASSWORD", ""),
		RedisDB:       l.getInt("REDIS_DB", 0),
		CacheTTL:      l.getDuration("CACHE_TTL", 30*time.Second),

		OTLPEndpoint: l.getStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  l.getStr("OTEL_SERVICE_NAME", "habithub"),

		CORSOrigins:    splitList(l.getStr("CORS_ALLOWED_ORIGINS", "*")),
		AuthRateLimit:  l.getInt("AUTH_RATE_LIMIT", 20),
		AuthRateWindow: l.getDuration("AUTH_RATE_WINDOW", time.Minute),
		MaxBodyBytes:   int64(l.getInt("MAX_BODY_BYTES", 1<<20)),
	}

	if l.err != nil {
		return Config{}, l.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.JWTSecret) < minSecretLen {
		return ErrMissingSecret
	}

	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.AccessTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL must be positive")
	}

	if c.GridRows <= 0 || c.GridCols <= 0 {
		return errors.New("GRID_ROWS and GRID_COLS must be positive")
	}

	// a new habit must stay replaceable at its own length
	if c.GridSize() > habit.MaxProgressLen {
		return fmt.Errorf("GRID_ROWS*GRID_COLS must be at most %d, got %d", habit.MaxProgressLen, c.GridSize())
	}

	if c.AuthRateLimit <= 0 || c.AuthRateWindow <= 0 {
		return errors.New("AUTH_RATE_LIMIT and AUTH_RATE_WINDOW must be positive")
	}

	if c.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be positive")
	}

	return nil
}

// GridSize is the number of days a new habit tracks.
func (c Config) GridSize() int {
	return c.GridRows * c.GridCols
}

func (c Config) IsDev() bool {
	return c.Env == "dev"
}

func WithTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, duration)
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "habithub")
	pass := getEnv("DB_PASSWORD", "habithub")
	name := getEnv("DB_NAME", "habithub")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loader keeps the first parse error so Load can report it once.
type loader struct {
	err error
}

func (l *loader) getStr(key, fallback string) string {
	return getEnv(key, fallback)
}

func (l *loader) getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	num, err := strconv.Atoi(v)
	if err != nil {
		l.fail(fmt.Errorf("%s: %w", key, err))
		return fallback
	}

	return num
}

func (l *loader) getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(fmt.Errorf("%s: %w", key, err))
		return fallback
	}

	return d
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}
