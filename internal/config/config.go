// Пакет config — загрузка и валидация конфигурации docview
// из переменных окружения (и опционального .env файла).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые бэкенды OTP-журнала.
const (
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Config содержит все параметры конфигурации docview.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Разрешённые CORS origins (пусто — CORS выключен)
	CORSOrigins []string
	// TrustedProxies — сети прокси, чьим X-Forwarded-For/X-Real-IP можно верить
	TrustedProxies []netip.Prefix

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Пул соединений
	DBMaxConns          int32
	DBMinConns          int32
	DBMaxConnLifetime   time.Duration
	DBHealthCheckPeriod time.Duration

	// --- OTP ---

	// AdminEmail — адрес, получающий роль admin при верификации
	AdminEmail string
	// OTPTTL — время жизни одноразового кода
	OTPTTL time.Duration
	// OTPResendInterval — минимальный интервал между выпусками кода на один email
	OTPResendInterval time.Duration
	// OTPLedger — хранилище ожидающих кодов (postgres, redis)
	OTPLedger string
	// OTPGCInterval — интервал очистки просроченных кодов в PostgreSQL
	OTPGCInterval time.Duration
	// VerifyRateLimit — допустимое число попыток verify-otp с одного IP в минуту
	VerifyRateLimit int
	// OTPMaxAttempts — число попыток ввода одного кода, после которого он удаляется
	OTPMaxAttempts int

	// --- Redis ---

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// --- Сессии ---

	// JWTPrivateKeyPath — PEM-файл RSA-ключа подписи (пусто — эфемерный ключ)
	JWTPrivateKeyPath string
	JWTIssuer         string
	SessionTTL        time.Duration
	JWTLeeway         time.Duration

	// --- Объектное хранилище ---

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool
	// DeleteObjects — удалять объект из хранилища при удалении документа
	DeleteObjects bool
	// UploadMaxBytes — максимальный размер загружаемого файла
	UploadMaxBytes int64

	// --- Почта ---

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// --- Кэш метаданных ---

	CacheMaxSize int
	CacheTTL     time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Если в рабочем каталоге есть .env, он подгружается первым;
// уже заданные переменные окружения имеют приоритет.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("ошибка чтения .env: %w", err)
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("DV_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DV_PORT: %w", err)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DV_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DV_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.CORSOrigins = parseCSV(os.Getenv("DV_CORS_ORIGINS"))
	if cfg.TrustedProxies, err = parsePrefixes(os.Getenv("DV_TRUSTED_PROXIES")); err != nil {
		return nil, fmt.Errorf("DV_TRUSTED_PROXIES: %w", err)
	}

	// --- HTTP Server Timeouts ---

	if cfg.HTTPReadTimeout, err = getEnvDuration("DV_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("DV_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("DV_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("DV_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("DV_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("DV_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("DV_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("DV_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DV_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("DV_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("DV_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DV_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DV_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DV_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DV_DB_SSL_MODE", "disable")

	maxConns, err := getEnvInt("DV_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DV_DB_MAX_CONNS: %w", err)
	}
	minConns, err := getEnvInt("DV_DB_MIN_CONNS", 0)
	if err != nil {
		return nil, fmt.Errorf("DV_DB_MIN_CONNS: %w", err)
	}
	if maxConns < 1 || minConns < 0 || minConns > maxConns {
		return nil, fmt.Errorf("DV_DB_MIN_CONNS/DV_DB_MAX_CONNS: нужно 0 <= min <= max и max >= 1, получено %d/%d",
			minConns, maxConns)
	}
	cfg.DBMaxConns, cfg.DBMinConns = int32(maxConns), int32(minConns)
	if cfg.DBMaxConnLifetime, err = getEnvPositiveDuration("DV_DB_MAX_CONN_LIFETIME", time.Hour); err != nil {
		return nil, fmt.Errorf("DV_DB_MAX_CONN_LIFETIME: %w", err)
	}
	if cfg.DBHealthCheckPeriod, err = getEnvPositiveDuration("DV_DB_HEALTH_CHECK_PERIOD", 30*time.Second); err != nil {
		return nil, fmt.Errorf("DV_DB_HEALTH_CHECK_PERIOD: %w", err)
	}

	// --- OTP ---

	adminEmail, err := getEnvRequired("DV_ADMIN_EMAIL")
	if err != nil {
		return nil, err
	}
	cfg.AdminEmail = strings.ToLower(strings.TrimSpace(adminEmail))

	if cfg.OTPTTL, err = getEnvPositiveDuration("DV_OTP_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("DV_OTP_TTL: %w", err)
	}
	if cfg.OTPResendInterval, err = getEnvPositiveDuration("DV_OTP_RESEND_INTERVAL", 60*time.Second); err != nil {
		return nil, fmt.Errorf("DV_OTP_RESEND_INTERVAL: %w", err)
	}
	if cfg.OTPResendInterval > cfg.OTPTTL {
		return nil, fmt.Errorf("DV_OTP_RESEND_INTERVAL: интервал %s больше времени жизни кода %s",
			cfg.OTPResendInterval, cfg.OTPTTL)
	}

	cfg.OTPLedger = strings.ToLower(getEnvDefault("DV_OTP_LEDGER", LedgerPostgres))
	if cfg.OTPLedger != LedgerPostgres && cfg.OTPLedger != LedgerRedis {
		return nil, fmt.Errorf("DV_OTP_LEDGER: недопустимое значение %q, допустимые: postgres, redis", cfg.OTPLedger)
	}
	if cfg.OTPGCInterval, err = getEnvPositiveDuration("DV_OTP_GC_INTERVAL", time.Minute); err != nil {
		return nil, fmt.Errorf("DV_OTP_GC_INTERVAL: %w", err)
	}
	if cfg.VerifyRateLimit, err = getEnvInt("DV_VERIFY_RATE_LIMIT", 10); err != nil {
		return nil, fmt.Errorf("DV_VERIFY_RATE_LIMIT: %w", err)
	}
	if cfg.VerifyRateLimit < 1 {
		return nil, fmt.Errorf("DV_VERIFY_RATE_LIMIT: значение должно быть >= 1")
	}
	if cfg.OTPMaxAttempts, err = getEnvInt("DV_OTP_MAX_ATTEMPTS", 5); err != nil {
		return nil, fmt.Errorf("DV_OTP_MAX_ATTEMPTS: %w", err)
	}
	if cfg.OTPMaxAttempts < 1 {
		return nil, fmt.Errorf("DV_OTP_MAX_ATTEMPTS: значение должно быть >= 1")
	}

	// --- Redis ---

	cfg.RedisAddr = os.Getenv("DV_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("DV_REDIS_PASSWORD")
	if cfg.RedisDB, err = getEnvInt("DV_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("DV_REDIS_DB: %w", err)
	}
	if cfg.OTPLedger == LedgerRedis && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("DV_REDIS_ADDR: обязательна при DV_OTP_LEDGER=redis")
	}

	// --- Сессии ---

	cfg.JWTPrivateKeyPath = os.Getenv("DV_JWT_PRIVATE_KEY_PATH")
	cfg.JWTIssuer = getEnvDefault("DV_JWT_ISSUER", "docview")
	if cfg.SessionTTL, err = getEnvPositiveDuration("DV_SESSION_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("DV_SESSION_TTL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("DV_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("DV_JWT_LEEWAY: %w", err)
	}

	// --- Объектное хранилище ---

	if cfg.S3Endpoint, err = getEnvRequired("DV_S3_ENDPOINT"); err != nil {
		return nil, err
	}
	cfg.S3AccessKey = os.Getenv("DV_S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("DV_S3_SECRET_KEY")
	if cfg.S3Bucket, err = getEnvRequired("DV_S3_BUCKET"); err != nil {
		return nil, err
	}
	cfg.S3Region = os.Getenv("DV_S3_REGION")
	if cfg.S3UseSSL, err = getEnvBool("DV_S3_USE_SSL", false); err != nil {
		return nil, fmt.Errorf("DV_S3_USE_SSL: %w", err)
	}
	if cfg.DeleteObjects, err = getEnvBool("DV_DELETE_OBJECTS", false); err != nil {
		return nil, fmt.Errorf("DV_DELETE_OBJECTS: %w", err)
	}
	maxBytes, err := getEnvInt("DV_UPLOAD_MAX_BYTES", 50<<20)
	if err != nil {
		return nil, fmt.Errorf("DV_UPLOAD_MAX_BYTES: %w", err)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("DV_UPLOAD_MAX_BYTES: значение должно быть > 0")
	}
	cfg.UploadMaxBytes = int64(maxBytes)

	// --- Почта ---

	cfg.SMTPHost = os.Getenv("DV_SMTP_HOST")
	if cfg.SMTPPort, err = getEnvInt("DV_SMTP_PORT", 587); err != nil {
		return nil, fmt.Errorf("DV_SMTP_PORT: %w", err)
	}
	cfg.SMTPUsername = os.Getenv("DV_SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("DV_SMTP_PASSWORD")
	cfg.SMTPFrom = getEnvDefault("DV_SMTP_FROM", cfg.SMTPUsername)
	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		return nil, fmt.Errorf("DV_SMTP_FROM: обязательна при заданном DV_SMTP_HOST")
	}

	// --- Кэш ---

	if cfg.CacheMaxSize, err = getEnvInt("DV_CACHE_MAX_SIZE", 1000); err != nil {
		return nil, fmt.Errorf("DV_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheTTL, err = getEnvPositiveDuration("DV_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("DV_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DV_DEPHEALTH_GROUP", "docview")
	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("DV_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("DV_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения pgx.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без учётных данных (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// ObjectStoreURL возвращает HTTP(S) URL объектного хранилища.
func (c *Config) ObjectStoreURL() string {
	scheme := "http"
	if c.S3UseSSL {
		scheme = "https"
	}
	return scheme + "://" + c.S3Endpoint
}

// SMTPEnabled сообщает, настроена ли отправка почты.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parsePrefixes разбирает список CIDR через запятую. Одиночный адрес
// трактуется как сеть из одного хоста.
func parsePrefixes(s string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range parseCSV(s) {
		if !strings.Contains(item, "/") {
			addr, err := netip.ParseAddr(item)
			if err != nil {
				return nil, fmt.Errorf("некорректный адрес %q", item)
			}
			out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(item)
		if err != nil {
			return nil, fmt.Errorf("некорректная сеть %q", item)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// parseCSV разбирает строку через запятую, отбрасывая пустые элементы.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
