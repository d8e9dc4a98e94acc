// Пакет redisledger — журнал ожидающих OTP-кодов в Redis.
// Одна запись на email под ключом otp:pending:<email> с TTL, равным
// времени жизни кода; счётчик попыток ввода лежит в otp:attempts:<email>.
// Условная запись, учёт попыток и погашение выполняются Lua-скриптами,
// поэтому каждая операция атомарна на стороне Redis.
package redisledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/docview/internal/domain/model"
	"github.com/bigkaa/docview/internal/repository"
)

const (
	keyPrefix      = "otp:pending:"
	attemptsPrefix = "otp:attempts:"
)

// keys — ключ записи и ключ счётчика попыток для email.
func keys(email string) []string {
	return []string{keyPrefix + email, attemptsPrefix + email}
}

// putScript заменяет запись, если её нет, она выдана не позже cutoff
// или уже истекла к моменту новой выдачи.
// KEYS[1] — ключ; ARGV: значение, issued_at (мкс), cutoff (мкс), TTL (мс).
var putScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local obj = cjson.decode(cur)
  if tonumber(obj.issued_at) > tonumber(ARGV[3]) and tonumber(obj.expires_at) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
redis.call('DEL', KEYS[2])
return 1
`)

// consumeScript удаляет запись, только если её issued_at совпадает.
// KEYS[1] — ключ; ARGV[1] — issued_at (мкс).
var consumeScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
local obj = cjson.decode(cur)
if tonumber(obj.issued_at) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('DEL', KEYS[1], KEYS[2])
return 1
`)

// attemptScript увеличивает счётчик попыток записи с совпадающим issued_at,
// пока он меньше лимита. Счётчик живёт в отдельном ключе с TTL записи.
// KEYS[1] — ключ записи, KEYS[2] — ключ счётчика; ARGV: issued_at (мкс), лимит.
var attemptScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
local obj = cjson.decode(cur)
if tonumber(obj.issued_at) ~= tonumber(ARGV[1]) then
  return 0
end
local n = tonumber(redis.call('GET', KEYS[2]) or '0')
if n >= tonumber(ARGV[2]) then
  return 0
end
n = redis.call('INCR', KEYS[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return n
`)

// entry — сериализованное значение ключа.
type entry struct {
	CodeHash  string  `json:"code_hash"`
	Name      *string `json:"name,omitempty"`
	IssuedAt  int64   `json:"issued_at"`
	ExpiresAt int64   `json:"expires_at"`
}

// Config — параметры подключения к Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Ledger — Redis-реализация журнала кодов.
type Ledger struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New создаёт журнал и проверяет соединение.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Ledger, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	l := &Ledger{
		rdb:    rdb,
		logger: logger.With(slog.String("component", "redis_ledger")),
	}
	if err := l.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis %s: %w", cfg.Addr, err)
	}
	l.logger.Info("Подключение к Redis установлено", slog.String("addr", cfg.Addr))
	return l, nil
}

// Ping проверяет доступность Redis.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close закрывает соединения.
func (l *Ledger) Close() {
	if err := l.rdb.Close(); err != nil {
		l.logger.Warn("Ошибка закрытия Redis", slog.String("error", err.Error()))
	}
}

// Put записывает код. Возвращает false, если действующая запись
// выдана позже reissueCutoff.
func (l *Ledger) Put(ctx context.Context, otp *model.PendingOTP, reissueCutoff time.Time) (bool, error) {
	ttl := otp.ExpiresAt.Sub(otp.IssuedAt)
	if ttl <= 0 {
		return false, fmt.Errorf("некорректное время жизни кода: %s", ttl)
	}

	raw, err := json.Marshal(entry{
		CodeHash:  otp.CodeHash,
		Name:      otp.Name,
		IssuedAt:  otp.IssuedAt.UnixMicro(),
		ExpiresAt: otp.ExpiresAt.UnixMicro(),
	})
	if err != nil {
		return false, fmt.Errorf("ошибка сериализации кода: %w", err)
	}

	n, err := putScript.Run(ctx, l.rdb, keys(otp.Email),
		string(raw), otp.IssuedAt.UnixMicro(), reissueCutoff.UnixMicro(), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ошибка записи кода в Redis: %w", err)
	}
	return n == 1, nil
}

// Get возвращает ожидающий код или repository.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, email string) (*model.PendingOTP, error) {
	vals, err := l.rdb.MGet(ctx, keys(email)...).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения кода из Redis: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, repository.ErrNotFound
	}
	attempts := 0
	if v, ok := vals[1].(string); ok {
		if attempts, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("повреждённый счётчик попыток: %w", err)
		}
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("повреждённая запись кода: %w", err)
	}
	return &model.PendingOTP{
		Email:     email,
		CodeHash:  e.CodeHash,
		Name:      e.Name,
		IssuedAt:  time.UnixMicro(e.IssuedAt).UTC(),
		ExpiresAt: time.UnixMicro(e.ExpiresAt).UTC(),
		Attempts:  attempts,
	}, nil
}

// RecordAttempt учитывает попытку ввода кода, выданного в issuedAt.
// Возвращает номер попытки; 0, если лимит исчерпан или запись заменена.
func (l *Ledger) RecordAttempt(ctx context.Context, email string, issuedAt time.Time, maxAttempts int) (int, error) {
	n, err := attemptScript.Run(ctx, l.rdb, keys(email), issuedAt.UnixMicro(), maxAttempts).Int()
	if err != nil {
		return 0, fmt.Errorf("ошибка учёта попытки в Redis: %w", err)
	}
	return n, nil
}

// Consume удаляет запись, выданную в issuedAt.
func (l *Ledger) Consume(ctx context.Context, email string, issuedAt time.Time) (bool, error) {
	n, err := consumeScript.Run(ctx, l.rdb, keys(email), issuedAt.UnixMicro()).Int()
	if err != nil {
		return false, fmt.Errorf("ошибка погашения кода в Redis: %w", err)
	}
	return n == 1, nil
}
