package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Dosada05/pong-arena/utils"
	"github.com/joho/godotenv"
)

const (
	defaultServerPort      = 8080
	defaultTickRateHz      = 60
	defaultMaxRoomPlayers  = 8
	defaultRoomIdleTimeout = 30 * time.Minute
	defaultResultsSubject  = "pong.tournaments.finished"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	JWTSecretKey string
	ServerPort   int
	LogLevel     slog.Level

	// Пустые значения включают in-memory реализации.
	DatabaseURL string
	RedisURL    string

	NATSURL            string
	NATSResultsSubject string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string

	RulesFile          string
	TickRateHz         int
	MaxRoomPlayers     int
	RoomIdleTimeout    time.Duration
	CORSAllowedOrigins []string
}

// R2Enabled сообщает, заданы ли все параметры Cloudflare R2.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != ""
}

// Load загружает конфигурацию из переменных окружения.
// Опционально подгружает .env файл (полезно для локальной разработки).
func Load() (*Config, error) {
	// Загружаем .env файл, если он есть. Ошибку не считаем фатальной.
	_ = godotenv.Load()

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	port, err := intFromEnv("SERVER_PORT", defaultServerPort)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	level, err := parseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return nil, err
	}

	tickRate, err := intFromEnv("TICK_RATE_HZ", defaultTickRateHz)
	if err != nil {
		return nil, err
	}
	if tickRate <= 0 || tickRate > 1000 {
		return nil, fmt.Errorf("TICK_RATE_HZ must be between 1 and 1000, got %d", tickRate)
	}

	maxPlayers, err := intFromEnv("MAX_ROOM_PLAYERS", defaultMaxRoomPlayers)
	if err != nil {
		return nil, err
	}
	if maxPlayers < 2 {
		return nil, fmt.Errorf("MAX_ROOM_PLAYERS must be at least 2, got %d", maxPlayers)
	}

	idleTimeout := defaultRoomIdleTimeout
	if raw := os.Getenv("ROOM_IDLE_TIMEOUT"); raw != "" {
		idleTimeout, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ROOM_IDLE_TIMEOUT environment variable: %w", err)
		}
		if idleTimeout <= 0 {
			return nil, fmt.Errorf("ROOM_IDLE_TIMEOUT must be positive, got %s", idleTimeout)
		}
	}

	origins := utils.SplitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	subject := os.Getenv("NATS_RESULTS_SUBJECT")
	if subject == "" {
		subject = defaultResultsSubject
	}

	cfg := &Config{
		JWTSecretKey:       jwtKey,
		ServerPort:         port,
		LogLevel:           level,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		NATSURL:            os.Getenv("NATS_URL"),
		NATSResultsSubject: subject,
		R2AccountID:        os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:      os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey:  os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:       os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:    os.Getenv("R2_PUBLIC_BASE_URL"),
		RulesFile:          os.Getenv("RULES_FILE"),
		TickRateHz:         tickRate,
		MaxRoomPlayers:     maxPlayers,
		RoomIdleTimeout:    idleTimeout,
		CORSAllowedOrigins: origins,
	}

	if err := cfg.validateR2(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateR2: параметры R2 задаются либо все, либо ни одного.
func (c *Config) validateR2() error {
	values := map[string]string{
		"R2_ACCOUNT_ID":        c.R2AccountID,
		"R2_ACCESS_KEY_ID":     c.R2AccessKeyID,
		"R2_SECRET_ACCESS_KEY": c.R2SecretAccessKey,
		"R2_BUCKET_NAME":       c.R2BucketName,
		"R2_PUBLIC_BASE_URL":   c.R2PublicBaseURL,
	}
	var missing []string
	for name, value := range values {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 || len(missing) == len(values) {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("incomplete Cloudflare R2 configuration, missing: %s", strings.Join(missing, ", "))
}

func intFromEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return v, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL %q: expected debug, info, warn or error", raw)
}
