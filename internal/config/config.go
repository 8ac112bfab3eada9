package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию сервиса пула
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Crank    CrankConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
//
// EncryptionKey используется для шифрования API ключей площадок в БД.
// *TokenHash - bcrypt хеши токенов привилегированных ролей; сами токены
// нигде не хранятся.
type SecurityConfig struct {
	EncryptionKey    string
	LeaderTokenHash  string
	AdminTokenHash   string
	FactoryTokenHash string

	// Учетные данные API площадок; secret хранится зашифрованным EncryptionKey
	VenueAPIKey    string
	VenueAPISecret string
}

// CrankConfig - настройки crank-цикла и внешних вызовов
type CrankConfig struct {
	// CrankInterval - период фонового вызова crank'а
	CrankInterval time.Duration

	// RegistryRefreshInterval - минимальный интервал между опросами реестра
	RegistryRefreshInterval time.Duration

	// Таймауты внешних вызовов
	VenueQueryTimeout   time.Duration // статусные запросы к площадкам
	VenueExecuteTimeout time.Duration // отложенные исполняющие вызовы

	// Retry только для статусных запросов (исполняющие вызовы не повторяются)
	QueryMaxRetries   int
	QueryRetryBackoff time.Duration

	// Rate limit исходящих запросов к одной площадке
	VenueRateLimit float64
	VenueRateBurst float64

	// QueuePageLimit - максимум записей на страницу статусных запросов
	QueuePageLimit int

	// MaxPositionsPerMarket - порог, после которого планируется
	// принудительное закрытие лишней позиции
	MaxPositionsPerMarket int

	// RegistryURL - адрес реестра торговых площадок
	RegistryURL string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "fundpool"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),
			LeaderTokenHash:  getEnv("LEADER_TOKEN_HASH", ""),
			AdminTokenHash:   getEnv("ADMIN_TOKEN_HASH", ""),
			FactoryTokenHash: getEnv("FACTORY_TOKEN_HASH", ""),

			VenueAPIKey:    getEnv("VENUE_API_KEY", ""),
			VenueAPISecret: getEnv("VENUE_API_SECRET", ""),
		},
		Crank: CrankConfig{
			CrankInterval:           getEnvAsDuration("CRANK_INTERVAL", 1*time.Second),
			RegistryRefreshInterval: getEnvAsDuration("REGISTRY_REFRESH_INTERVAL", 5*time.Minute),

			VenueQueryTimeout:   getEnvAsDuration("VENUE_QUERY_TIMEOUT", 5*time.Second),
			VenueExecuteTimeout: getEnvAsDuration("VENUE_EXECUTE_TIMEOUT", 15*time.Second),

			QueryMaxRetries:   getEnvAsInt("QUERY_MAX_RETRIES", 4),
			QueryRetryBackoff: getEnvAsDuration("QUERY_RETRY_BACKOFF", 200*time.Millisecond),

			VenueRateLimit: getEnvAsFloat("VENUE_RATE_LIMIT", 10),
			VenueRateBurst: getEnvAsFloat("VENUE_RATE_BURST", 20),

			QueuePageLimit: getEnvAsInt("QUEUE_PAGE_LIMIT", 50),

			MaxPositionsPerMarket: getEnvAsInt("MAX_POSITIONS_PER_MARKET", 10),

			RegistryURL: getEnv("REGISTRY_URL", "http://localhost:9100"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования API ключей площадок
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting venue API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	// Без хеша токена лидера торговые действия невозможно авторизовать
	if c.Security.LeaderTokenHash == "" {
		return fmt.Errorf("LEADER_TOKEN_HASH is required for leader authorization")
	}

	if c.Security.AdminTokenHash == "" {
		return fmt.Errorf("ADMIN_TOKEN_HASH is required for admin authorization")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Crank.CrankInterval <= 0 {
		return fmt.Errorf("CRANK_INTERVAL must be positive, got %v", c.Crank.CrankInterval)
	}

	if c.Crank.RegistryRefreshInterval <= 0 {
		return fmt.Errorf("REGISTRY_REFRESH_INTERVAL must be positive, got %v", c.Crank.RegistryRefreshInterval)
	}

	if c.Crank.VenueQueryTimeout <= 0 {
		return fmt.Errorf("VENUE_QUERY_TIMEOUT must be positive, got %v", c.Crank.VenueQueryTimeout)
	}

	if c.Crank.VenueExecuteTimeout <= 0 {
		return fmt.Errorf("VENUE_EXECUTE_TIMEOUT must be positive, got %v", c.Crank.VenueExecuteTimeout)
	}

	if c.Crank.QueryMaxRetries < 0 {
		return fmt.Errorf("QUERY_MAX_RETRIES cannot be negative, got %d", c.Crank.QueryMaxRetries)
	}

	if c.Crank.QueryMaxRetries > 10 {
		return fmt.Errorf("QUERY_MAX_RETRIES should not exceed 10, got %d", c.Crank.QueryMaxRetries)
	}

	if c.Crank.QueuePageLimit < 1 || c.Crank.QueuePageLimit > 500 {
		return fmt.Errorf("QUEUE_PAGE_LIMIT must be between 1 and 500, got %d", c.Crank.QueuePageLimit)
	}

	if c.Crank.MaxPositionsPerMarket < 1 || c.Crank.MaxPositionsPerMarket > 100 {
		return fmt.Errorf("MAX_POSITIONS_PER_MARKET must be between 1 and 100, got %d", c.Crank.MaxPositionsPerMarket)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
