package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"DV_DB_HOST":     "localhost",
		"DV_DB_NAME":     "docview",
		"DV_DB_USER":     "docview",
		"DV_DB_PASSWORD": "secret",
		"DV_ADMIN_EMAIL": " Admin@Example.com ",
		"DV_S3_ENDPOINT": "minio:9000",
		"DV_S3_BUCKET":   "documents",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.AdminEmail != "admin@example.com" {
		t.Errorf("AdminEmail = %q, ожидается нормализованный admin@example.com", cfg.AdminEmail)
	}
	if cfg.OTPTTL != 5*time.Minute {
		t.Errorf("OTPTTL = %v, ожидается 5m", cfg.OTPTTL)
	}
	if cfg.OTPResendInterval != time.Minute {
		t.Errorf("OTPResendInterval = %v, ожидается 1m", cfg.OTPResendInterval)
	}
	if cfg.OTPLedger != LedgerPostgres {
		t.Errorf("OTPLedger = %q, ожидается postgres", cfg.OTPLedger)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, ожидается 24h", cfg.SessionTTL)
	}
	if cfg.UploadMaxBytes != 50<<20 {
		t.Errorf("UploadMaxBytes = %d, ожидается 50 MiB", cfg.UploadMaxBytes)
	}
	if cfg.SMTPEnabled() {
		t.Error("SMTPEnabled() = true без DV_SMTP_HOST")
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
	if cfg.OTPMaxAttempts != 5 {
		t.Errorf("OTPMaxAttempts = %d, ожидается 5", cfg.OTPMaxAttempts)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Errorf("TrustedProxies = %v, по умолчанию заголовкам прокси не доверяем", cfg.TrustedProxies)
	}
	if cfg.DBMaxConns != 10 || cfg.DBMinConns != 0 {
		t.Errorf("DBMaxConns/DBMinConns = %d/%d, ожидается 10/0", cfg.DBMaxConns, cfg.DBMinConns)
	}
	if cfg.DBHealthCheckPeriod != 30*time.Second || cfg.DBMaxConnLifetime != time.Hour {
		t.Errorf("DBHealthCheckPeriod/DBMaxConnLifetime = %v/%v", cfg.DBHealthCheckPeriod, cfg.DBMaxConnLifetime)
	}
}

func TestLoad_TrustedProxiesAndPool(t *testing.T) {
	envs := minimalEnvs()
	envs["DV_TRUSTED_PROXIES"] = "10.0.0.0/8, 192.168.1.7 ,fd00::/8"
	envs["DV_DB_MAX_CONNS"] = "25"
	envs["DV_DB_MIN_CONNS"] = "2"
	envs["DV_DB_HEALTH_CHECK_PERIOD"] = "10s"
	envs["DV_OTP_MAX_ATTEMPTS"] = "3"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	want := []string{"10.0.0.0/8", "192.168.1.7/32", "fd00::/8"}
	if len(cfg.TrustedProxies) != len(want) {
		t.Fatalf("TrustedProxies = %v, ожидается %v", cfg.TrustedProxies, want)
	}
	for i, p := range cfg.TrustedProxies {
		if p.String() != want[i] {
			t.Errorf("TrustedProxies[%d] = %s, ожидается %s", i, p, want[i])
		}
	}
	if cfg.DBMaxConns != 25 || cfg.DBMinConns != 2 {
		t.Errorf("DBMaxConns/DBMinConns = %d/%d", cfg.DBMaxConns, cfg.DBMinConns)
	}
	if cfg.DBHealthCheckPeriod != 10*time.Second {
		t.Errorf("DBHealthCheckPeriod = %v", cfg.DBHealthCheckPeriod)
	}
	if cfg.OTPMaxAttempts != 3 {
		t.Errorf("OTPMaxAttempts = %d", cfg.OTPMaxAttempts)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	required := []string{"DV_DB_HOST", "DV_DB_NAME", "DV_DB_USER", "DV_DB_PASSWORD", "DV_ADMIN_EMAIL", "DV_S3_ENDPOINT", "DV_S3_BUCKET"}

	for _, key := range required {
		t.Run(key, func(t *testing.T) {
			envs := minimalEnvs()
			envs[key] = ""
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка при отсутствии %s", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка должна содержать имя переменной %s: %v", key, err)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"некорректный порт", "DV_PORT", "abc"},
		{"некорректный уровень", "DV_LOG_LEVEL", "verbose"},
		{"некорректный формат", "DV_LOG_FORMAT", "xml"},
		{"неизвестный ledger", "DV_OTP_LEDGER", "mongo"},
		{"нулевой TTL", "DV_OTP_TTL", "0s"},
		{"некорректная длительность", "DV_SESSION_TTL", "сутки"},
		{"нулевой лимит verify", "DV_VERIFY_RATE_LIMIT", "0"},
		{"отрицательный размер загрузки", "DV_UPLOAD_MAX_BYTES", "-1"},
		{"некорректный bool", "DV_S3_USE_SSL", "maybe"},
		{"нулевой лимит попыток", "DV_OTP_MAX_ATTEMPTS", "0"},
		{"некорректная сеть прокси", "DV_TRUSTED_PROXIES", "10.0.0.0/33"},
		{"некорректный адрес прокси", "DV_TRUSTED_PROXIES", "proxy.local"},
		{"нулевой пул", "DV_DB_MAX_CONNS", "0"},
		{"min больше max", "DV_DB_MIN_CONNS", "50"},
		{"нулевой период проверки", "DV_DB_HEALTH_CHECK_PERIOD", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs[tt.key] = tt.val
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("%s=%q: ожидалась ошибка", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_ResendIntervalLongerThanTTL(t *testing.T) {
	envs := minimalEnvs()
	envs["DV_OTP_TTL"] = "30s"
	envs["DV_OTP_RESEND_INTERVAL"] = "1m"
	setEnvs(t, envs)

	if _, err := Load(); err == nil {
		t.Error("ожидалась ошибка: интервал повторной отправки больше TTL")
	}
}

func TestLoad_RedisLedgerRequiresAddr(t *testing.T) {
	envs := minimalEnvs()
	envs["DV_OTP_LEDGER"] = "redis"
	setEnvs(t, envs)

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка: redis ledger без DV_REDIS_ADDR")
	}

	t.Setenv("DV_REDIS_ADDR", "localhost:6379")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.OTPLedger != LedgerRedis {
		t.Errorf("OTPLedger = %q, ожидается redis", cfg.OTPLedger)
	}
}

func TestLoad_SMTPFromDefaultsToUsername(t *testing.T) {
	envs := minimalEnvs()
	envs["DV_SMTP_HOST"] = "smtp.example.com"
	envs["DV_SMTP_USERNAME"] = "robot@example.com"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if !cfg.SMTPEnabled() {
		t.Error("SMTPEnabled() = false при заданном DV_SMTP_HOST")
	}
	if cfg.SMTPFrom != "robot@example.com" {
		t.Errorf("SMTPFrom = %q, ожидается robot@example.com", cfg.SMTPFrom)
	}
}

func TestConfig_URLs(t *testing.T) {
	cfg := &Config{
		DBHost: "db", DBPort: 5432, DBName: "docview", DBUser: "u", DBPassword: "p@ss", DBSSLMode: "disable",
		S3Endpoint: "minio:9000",
	}

	if got := cfg.DatabaseDSN(); got != "postgres://u:p%40ss@db:5432/docview?sslmode=disable" {
		t.Errorf("DatabaseDSN() = %q", got)
	}
	if got := cfg.MigrateURL(); !strings.HasPrefix(got, "pgx5://") {
		t.Errorf("MigrateURL() = %q, ожидается схема pgx5", got)
	}
	if got := cfg.DatabaseURL(); strings.Contains(got, "p%40ss") {
		t.Errorf("DatabaseURL() не должен содержать пароль: %q", got)
	}
	if got := cfg.ObjectStoreURL(); got != "http://minio:9000" {
		t.Errorf("ObjectStoreURL() = %q", got)
	}
	cfg.S3UseSSL = true
	if got := cfg.ObjectStoreURL(); got != "https://minio:9000" {
		t.Errorf("ObjectStoreURL() с SSL = %q", got)
	}
}

func TestParseCSV(t *testing.T) {
	got := parseCSV(" http://a.test, ,http://b.test ")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("parseCSV() = %v", got)
	}
	if parseCSV("") != nil {
		t.Error("parseCSV(\"\") должен вернуть nil")
	}
}
