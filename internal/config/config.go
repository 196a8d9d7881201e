package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config содержит всю конфигурацию приложения
//
// Порядок загрузки:
// 1. Значения по умолчанию
// 2. YAML файл из CONFIG_FILE (если задан)
// 3. Переменные окружения (перекрывают файл)
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Security SecurityConfig `yaml:"security"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Sync     SyncConfig     `yaml:"sync"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	UseHTTPS        bool          `yaml:"use_https"`
	CertFile        string        `yaml:"cert_file"`
	KeyFile         string        `yaml:"key_file"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // CORS и WebSocket
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	SSLMode     string `yaml:"ssl_mode"`
	MaxOpenConn int    `yaml:"max_open_conns"`
	MaxIdleConn int    `yaml:"max_idle_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // мастер-ключ шифрования секретов бирж
}

// ExchangeConfig - клиент биржи и защитный слой
type ExchangeConfig struct {
	Name             string        `yaml:"name"`
	BaseURL          string        `yaml:"base_url"`
	RecvWindow       int64         `yaml:"recv_window"` // мс
	WeightCeiling    int           `yaml:"weight_ceiling"`
	BudgetWindow     time.Duration `yaml:"budget_window"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	MaxClockSkew     time.Duration `yaml:"max_clock_skew"` // 0 = recv window
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	TotalTimeout     time.Duration `yaml:"total_timeout"`
}

// SyncConfig - сверка портфеля и загрузка сделок
type SyncConfig struct {
	MergeWorkers     int           `yaml:"merge_workers"`
	MergeQueue       int           `yaml:"merge_queue"`
	MergeTimeout     time.Duration `yaml:"merge_timeout"`
	SymbolDelay      time.Duration `yaml:"symbol_delay"`
	ProfitLookback   time.Duration `yaml:"profit_lookback"`
	DefaultSymbols   []string      `yaml:"default_symbols"`
	FailureThreshold int           `yaml:"credential_failure_threshold"`
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Output      string `yaml:"output"`
	Development bool   `yaml:"development"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second, // SyncNow и загрузка сделок дольше обычного запроса
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			Name:        "cryptofolio",
			User:        "user",
			Password:    "password",
			SSLMode:     "disable",
			MaxOpenConn: 20,
			MaxIdleConn: 5,
			AutoMigrate: true,
		},
		Exchange: ExchangeConfig{
			Name:             "binance",
			BaseURL:          "https://api.binance.com",
			RecvWindow:       5000,
			WeightCeiling:    1200,
			BudgetWindow:     time.Minute,
			BreakerThreshold: 5,
			BreakerCooldown:  time.Minute,
			ConnectTimeout:   5 * time.Second,
			ReadTimeout:      10 * time.Second,
			TotalTimeout:     30 * time.Second,
		},
		Sync: SyncConfig{
			MergeWorkers:     4,
			MergeQueue:       64,
			MergeTimeout:     30 * time.Second,
			SymbolDelay:      time.Second,
			ProfitLookback:   365 * 24 * time.Hour,
			DefaultSymbols:   []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"},
			FailureThreshold: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load загружает конфигурацию: defaults -> CONFIG_FILE -> env
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile накладывает YAML файл поверх текущих значений
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv перекрывает значения переменными окружения
func (c *Config) applyEnv() {
	c.Server.Port = getEnvAsInt("SERVER_PORT", c.Server.Port)
	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.UseHTTPS = getEnvAsBool("USE_HTTPS", c.Server.UseHTTPS)
	c.Server.CertFile = getEnv("CERT_FILE", c.Server.CertFile)
	c.Server.KeyFile = getEnv("KEY_FILE", c.Server.KeyFile)
	c.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxOpenConn = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConn)
	c.Database.MaxIdleConn = getEnvAsInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConn)
	c.Database.AutoMigrate = getEnvAsBool("DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Security.EncryptionKey = getEnv("ENCRYPTION_KEY", c.Security.EncryptionKey)

	c.Exchange.Name = getEnv("EXCHANGE_NAME", c.Exchange.Name)
	c.Exchange.BaseURL = getEnv("EXCHANGE_BASE_URL", c.Exchange.BaseURL)
	c.Exchange.RecvWindow = int64(getEnvAsInt("EXCHANGE_RECV_WINDOW", int(c.Exchange.RecvWindow)))
	c.Exchange.WeightCeiling = getEnvAsInt("EXCHANGE_WEIGHT_CEILING", c.Exchange.WeightCeiling)
	c.Exchange.BudgetWindow = getEnvAsDuration("EXCHANGE_BUDGET_WINDOW", c.Exchange.BudgetWindow)
	c.Exchange.BreakerThreshold = getEnvAsInt("BREAKER_THRESHOLD", c.Exchange.BreakerThreshold)
	c.Exchange.BreakerCooldown = getEnvAsDuration("BREAKER_COOLDOWN", c.Exchange.BreakerCooldown)
	c.Exchange.MaxClockSkew = getEnvAsDuration("EXCHANGE_MAX_CLOCK_SKEW", c.Exchange.MaxClockSkew)
	c.Exchange.ConnectTimeout = getEnvAsDuration("EXCHANGE_CONNECT_TIMEOUT", c.Exchange.ConnectTimeout)
	c.Exchange.ReadTimeout = getEnvAsDuration("EXCHANGE_READ_TIMEOUT", c.Exchange.ReadTimeout)
	c.Exchange.TotalTimeout = getEnvAsDuration("EXCHANGE_TOTAL_TIMEOUT", c.Exchange.TotalTimeout)

	c.Sync.MergeWorkers = getEnvAsInt("MERGE_WORKERS", c.Sync.MergeWorkers)
	c.Sync.MergeQueue = getEnvAsInt("MERGE_QUEUE_SIZE", c.Sync.MergeQueue)
	c.Sync.MergeTimeout = getEnvAsDuration("MERGE_TIMEOUT", c.Sync.MergeTimeout)
	c.Sync.SymbolDelay = getEnvAsDuration("SYNC_SYMBOL_DELAY", c.Sync.SymbolDelay)
	c.Sync.ProfitLookback = getEnvAsDuration("PROFIT_LOOKBACK", c.Sync.ProfitLookback)
	c.Sync.DefaultSymbols = getEnvAsList("SYNC_DEFAULT_SYMBOLS", c.Sync.DefaultSymbols)
	c.Sync.FailureThreshold = getEnvAsInt("CREDENTIAL_FAILURE_THRESHOLD", c.Sync.FailureThreshold)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("LOG_OUTPUT", c.Logging.Output)
	c.Logging.Development = getEnvAsBool("LOG_DEVELOPMENT", c.Logging.Development)
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования секретов API ключей
	if c.Security.EncryptionKey == "" {
		return errors.New("ENCRYPTION_KEY is required for encrypting API secrets")
	}
	if len(c.Security.EncryptionKey) < 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be at least 32 bytes, got %d", len(c.Security.EncryptionKey))
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return errors.New("CERT_FILE and KEY_FILE are required when USE_HTTPS is enabled")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	// recvWindow Binance: не больше 60000 мс
	if c.Exchange.RecvWindow <= 0 || c.Exchange.RecvWindow > 60000 {
		return fmt.Errorf("EXCHANGE_RECV_WINDOW must be between 1 and 60000 ms, got %d", c.Exchange.RecvWindow)
	}
	if c.Exchange.WeightCeiling <= 0 {
		return fmt.Errorf("EXCHANGE_WEIGHT_CEILING must be positive, got %d", c.Exchange.WeightCeiling)
	}
	if c.Exchange.BudgetWindow <= 0 {
		return fmt.Errorf("EXCHANGE_BUDGET_WINDOW must be positive, got %v", c.Exchange.BudgetWindow)
	}
	if c.Exchange.BreakerThreshold < 1 {
		return fmt.Errorf("BREAKER_THRESHOLD must be at least 1, got %d", c.Exchange.BreakerThreshold)
	}
	if c.Exchange.BreakerCooldown <= 0 {
		return fmt.Errorf("BREAKER_COOLDOWN must be positive, got %v", c.Exchange.BreakerCooldown)
	}
	if c.Exchange.MaxClockSkew < 0 {
		return fmt.Errorf("EXCHANGE_MAX_CLOCK_SKEW cannot be negative, got %v", c.Exchange.MaxClockSkew)
	}

	if c.Sync.MergeWorkers < 1 {
		return fmt.Errorf("MERGE_WORKERS must be at least 1, got %d", c.Sync.MergeWorkers)
	}
	if c.Sync.MergeQueue < 1 {
		return fmt.Errorf("MERGE_QUEUE_SIZE must be at least 1, got %d", c.Sync.MergeQueue)
	}
	if c.Sync.MergeTimeout <= 0 {
		return fmt.Errorf("MERGE_TIMEOUT must be positive, got %v", c.Sync.MergeTimeout)
	}
	// 0 = без паузы между символами
	if c.Sync.SymbolDelay < 0 {
		return fmt.Errorf("SYNC_SYMBOL_DELAY cannot be negative, got %v", c.Sync.SymbolDelay)
	}
	if c.Sync.ProfitLookback <= 0 {
		return fmt.Errorf("PROFIT_LOOKBACK must be positive, got %v", c.Sync.ProfitLookback)
	}
	if c.Sync.FailureThreshold < 1 {
		return fmt.Errorf("CREDENTIAL_FAILURE_THRESHOLD must be at least 1, got %d", c.Sync.FailureThreshold)
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

// Address возвращает адрес HTTP сервера
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
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

// getEnvAsList читает список через запятую; пустые элементы отбрасываются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
