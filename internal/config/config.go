package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DbHost    string
	DbPort    string
	DbUser    string
	DbPass    string
	DbName    string
	DbSSLMode string

	JWTSecret string

	Log      string
	LogLevel string
	Env      string // dev|prod

	RedisURL     string
	TreeCacheTTL time.Duration

	// TxTimeout ограничивает одну транзакцию упорядочивания; по истечении — откат.
	TxTimeout time.Duration

	// DefaultSectionName — имя секции по умолчанию, если у сервера оно не задано.
	DefaultSectionName string

	Migrations bool
}

// LoadConfig загружает .env, читает переменные окружения и выставляет дефолты.
// Ничего не логирует — чтобы не создавать зависимость от logger.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	def := func(v, d string) string {
		v = strings.TrimSpace(v)
		if v == "" {
			return d
		}
		return v
	}

	treeTTL, err := time.ParseDuration(def(os.Getenv("TREE_CACHE_TTL"), "5m"))
	if err != nil {
		return nil, fmt.Errorf("TREE_CACHE_TTL: %w", err)
	}
	txTimeout, err := time.ParseDuration(def(os.Getenv("TX_TIMEOUT"), "5s"))
	if err != nil {
		return nil, fmt.Errorf("TX_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Port:      def(os.Getenv("PORT"), "8080"),
		DbHost:    os.Getenv("DB_HOST"),
		DbPort:    def(os.Getenv("DB_PORT"), "5432"),
		DbUser:    os.Getenv("DB_USER"),
		DbPass:    os.Getenv("DB_PASSWORD"),
		DbName:    os.Getenv("DB_NAME"),
		DbSSLMode: def(os.Getenv("DB_SSLMODE"), "disable"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		Log:      os.Getenv("LOG"),
		LogLevel: strings.ToLower(def(os.Getenv("LOGLEVEL"), "info")),
		Env:      strings.ToLower(def(os.Getenv("ENV"), "prod")),

		RedisURL:     os.Getenv("REDIS_URL"),
		TreeCacheTTL: treeTTL,
		TxTimeout:    txTimeout,

		DefaultSectionName: def(os.Getenv("DEFAULT_SECTION_NAME"), "general"),
		Migrations:         strings.ToLower(def(os.Getenv("MIGRATIONS"), "on")) != "off",
	}

	return cfg, nil
}

// Validate возвращает предупреждения и фатальную ошибку (если критично).
func (c *Config) Validate() (warnings []string, err error) {
	// Критичные: БД
	if c.DbHost == "" || c.DbUser == "" || c.DbName == "" {
		return nil, fmt.Errorf("incomplete DB config (DB_HOST/DB_USER/DB_NAME)")
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		if c.Env == "prod" {
			return nil, fmt.Errorf("JWT_SECRET is required in prod")
		}
		warnings = append(warnings, "JWT_SECRET is empty")
	}

	// без Redis дерево читается прямо из БД
	if c.RedisURL == "" {
		warnings = append(warnings, "REDIS_URL is not set, tree cache disabled")
	}

	if c.TxTimeout <= 0 {
		warnings = append(warnings, "TX_TIMEOUT is not positive, transactions are unbounded")
	}

	if c.Port == "" {
		warnings = append(warnings, "PORT is empty, using default 8080")
	}

	return warnings, nil
}

// GetDSN — полная DSN (с паролем)
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DbUser, c.DbPass, c.DbHost, c.DbPort, c.DbName, c.DbSSLMode,
	)
}

// GetDSNSafe — DSN без пароля (для логов)
func (c *Config) GetDSNSafe() string {
	return fmt.Sprintf(
		"postgres://%s:***@%s:%s/%s?sslmode=%s",
		c.DbUser, c.DbHost, c.DbPort, c.DbName, c.DbSSLMode,
	)
}
