// auth.go — жизненный цикл OTP-аутентификации.
//
// IssueOtp: проверка throttle → проверка существования пользователя →
// атомарная запись кода в журнал → отправка письма.
// VerifyOtp: поиск кода по email → учёт попытки → сравнение хэша →
// атомарное погашение → upsert пользователя → выпуск сессионного токена.
// После MaxAttempts неверных попыток код удаляется.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docview/internal/domain/model"
	"github.com/bigkaa/docview/internal/domain/role"
	"github.com/bigkaa/docview/internal/repository"
)

// Prometheus-метрики аутентификации.
var (
	otpIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_otp_issued_total",
		Help: "Общее количество запросов на выдачу OTP (по результату).",
	}, []string{"result"})

	otpVerifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_otp_verified_total",
		Help: "Общее количество попыток верификации OTP (по результату).",
	}, []string{"result"})
)

const (
	// codeDigits — длина одноразового кода.
	codeDigits = 6
	// maxEmailLength — ограничение длины адреса (RFC 5321).
	maxEmailLength = 254
	// maxNameLength — ограничение длины отображаемого имени.
	maxNameLength = 200
	// DefaultMaxAttempts — попыток ввода на один выданный код.
	DefaultMaxAttempts = 5
)

// codeHashParams — параметры argon2id для короткоживущих кодов.
// Облегчены относительно паролей: код живёт минуты, попытки ограничены.
var codeHashParams = &argon2id.Params{
	Memory:      16 * 1024,
	Iterations:  1,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// OTPLedger — журнал ожидающих кодов (PostgreSQL или Redis).
type OTPLedger interface {
	// Put записывает код, если действующая запись выдана не позже reissueCutoff.
	Put(ctx context.Context, otp *model.PendingOTP, reissueCutoff time.Time) (bool, error)
	// Get возвращает запись или repository.ErrNotFound.
	Get(ctx context.Context, email string) (*model.PendingOTP, error)
	// Consume атомарно удаляет запись с данным issuedAt.
	Consume(ctx context.Context, email string, issuedAt time.Time) (bool, error)
	// RecordAttempt атомарно увеличивает счётчик попыток записи с данным issuedAt,
	// если он меньше maxAttempts. Возвращает номер попытки; 0 — попытки исчерпаны
	// или запись заменена.
	RecordAttempt(ctx context.Context, email string, issuedAt time.Time, maxAttempts int) (int, error)
}

// Mailer — отправка кода пользователю.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

// TokenIssuer — выпуск сессионного токена.
type TokenIssuer interface {
	Issue(identity *model.Identity) (string, error)
}

// AuthConfig — параметры жизненного цикла кодов.
type AuthConfig struct {
	// AdminEmail — адрес администратора (нормализованный)
	AdminEmail string
	// CodeTTL — время жизни кода
	CodeTTL time.Duration
	// ResendInterval — минимальный интервал между выдачами
	ResendInterval time.Duration
	// MaxAttempts — попыток ввода на один код (по умолчанию DefaultMaxAttempts)
	MaxAttempts int
}

// IssueOtpRequest — параметры запроса кода.
type IssueOtpRequest struct {
	Email          string
	Name           *string
	IsRegistration bool
}

// VerifyResult — результат успешной верификации.
type VerifyResult struct {
	Token    string
	Identity *model.Identity
}

// AuthService — контроллер OTP-аутентификации.
type AuthService struct {
	identities repository.IdentityRepository
	ledger     OTPLedger
	mailer     Mailer
	tokens     TokenIssuer
	cfg        AuthConfig
	logger     *slog.Logger

	// now и generateCode подменяются в тестах.
	now          func() time.Time
	generateCode func() (string, error)
}

// NewAuthService создаёт контроллер аутентификации.
func NewAuthService(
	identities repository.IdentityRepository,
	ledger OTPLedger,
	mailer Mailer,
	tokens TokenIssuer,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &AuthService{
		identities:   identities,
		ledger:       ledger,
		mailer:       mailer,
		tokens:       tokens,
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "auth_service")),
		now:          time.Now,
		generateCode: generateNumericCode,
	}
}

// IssueOtp выдаёт новый код и отправляет его на email.
func (s *AuthService) IssueOtp(ctx context.Context, req IssueOtpRequest) error {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		otpIssuedTotal.WithLabelValues("invalid").Inc()
		return err
	}
	name, err := normalizeName(req.Name)
	if err != nil {
		otpIssuedTotal.WithLabelValues("invalid").Inc()
		return err
	}

	now := s.clock()
	cutoff := now.Add(-s.cfg.ResendInterval)

	// 1. Throttle по действующей записи
	current, err := s.ledger.Get(ctx, email)
	switch {
	case err == nil:
		if !current.Expired(now) && current.IssuedAt.After(cutoff) {
			otpIssuedTotal.WithLabelValues("rate_limited").Inc()
			return &RetryAfterError{RetryAfter: current.IssuedAt.Sub(cutoff)}
		}
	case !errors.Is(err, repository.ErrNotFound):
		otpIssuedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("чтение журнала кодов: %w", err)
	}

	// 2. Состояние пользователя
	exists, err := s.identities.Exists(ctx, email)
	if err != nil {
		otpIssuedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("проверка пользователя: %w", err)
	}
	if req.IsRegistration && exists {
		otpIssuedTotal.WithLabelValues("already_exists").Inc()
		return ErrAlreadyExists
	}
	if !req.IsRegistration && !exists {
		otpIssuedTotal.WithLabelValues("not_registered").Inc()
		return ErrNotRegistered
	}

	// 3. Генерация и атомарная запись кода
	code, err := s.generateCode()
	if err != nil {
		otpIssuedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("генерация кода: %w", err)
	}
	hash, err := argon2id.CreateHash(code, codeHashParams)
	if err != nil {
		otpIssuedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("хэширование кода: %w", err)
	}

	otp := &model.PendingOTP{
		Email:     email,
		CodeHash:  hash,
		Name:      name,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.CodeTTL),
	}
	written, err := s.ledger.Put(ctx, otp, cutoff)
	if err != nil {
		otpIssuedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("запись кода: %w", err)
	}
	if !written {
		// Конкурирующий запрос успел записать код первым
		otpIssuedTotal.WithLabelValues("rate_limited").Inc()
		return &RetryAfterError{RetryAfter: s.cfg.ResendInterval}
	}

	// 4. Отправка письма; при ошибке запись откатывается
	if err := s.mailer.SendOTP(ctx, email, code, s.cfg.CodeTTL); err != nil {
		s.rollbackIssued(ctx, otp)
		otpIssuedTotal.WithLabelValues("delivery_failed").Inc()
		s.logger.Error("Не удалось отправить код",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	otpIssuedTotal.WithLabelValues("success").Inc()
	s.logger.Info("Код выдан",
		slog.String("email", email),
		slog.Bool("registration", req.IsRegistration),
	)
	s.logger.Debug("Выданный код", slog.String("email", email), slog.String("code", code))
	return nil
}

// rollbackIssued удаляет только что записанный код.
// Выполняется даже если контекст запроса уже отменён.
func (s *AuthService) rollbackIssued(ctx context.Context, otp *model.PendingOTP) {
	ok, err := s.ledger.Consume(context.WithoutCancel(ctx), otp.Email, otp.IssuedAt)
	if err != nil {
		s.logger.Error("Ошибка отката кода после неудачной отправки",
			slog.String("email", otp.Email),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		s.logger.Warn("Откат кода не выполнен: запись уже заменена",
			slog.String("email", otp.Email),
		)
	}
}

// VerifyOtp проверяет код и выпускает сессионный токен.
// Неверный код, неизвестный email, истёкший код и проигранная гонка
// погашения возвращают одну и ту же ошибку ErrInvalidOrExpired.
func (s *AuthService) VerifyOtp(ctx context.Context, emailRaw, code string) (*VerifyResult, error) {
	email, err := normalizeEmail(emailRaw)
	if err != nil {
		otpVerifiedTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		otpVerifiedTotal.WithLabelValues("invalid").Inc()
		return nil, validationError("код обязателен")
	}

	now := s.clock()

	// 1. Поиск ожидающего кода
	pending, err := s.ledger.Get(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			otpVerifiedTotal.WithLabelValues("rejected").Inc()
			return nil, ErrInvalidOrExpired
		}
		otpVerifiedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("чтение журнала кодов: %w", err)
	}
	if pending.Expired(now) {
		otpVerifiedTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidOrExpired
	}

	// 2. Учёт попытки до сравнения: параллельные запросы не обходят лимит
	attempt, err := s.ledger.RecordAttempt(ctx, email, pending.IssuedAt, s.cfg.MaxAttempts)
	if err != nil {
		otpVerifiedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("учёт попытки: %w", err)
	}
	if attempt == 0 {
		otpVerifiedTotal.WithLabelValues("exhausted").Inc()
		return nil, ErrInvalidOrExpired
	}

	// 3. Сравнение с хэшем
	match, err := argon2id.ComparePasswordAndHash(code, pending.CodeHash)
	if err != nil {
		otpVerifiedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("сравнение кода: %w", err)
	}
	if !match {
		otpVerifiedTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("Неверный код",
			slog.String("email", email),
			slog.Int("attempt", attempt),
		)
		if attempt >= s.cfg.MaxAttempts {
			s.revokeExhausted(ctx, pending)
		}
		return nil, ErrInvalidOrExpired
	}

	// 4. Погашение: выигрывает ровно один конкурирующий запрос
	consumed, err := s.ledger.Consume(ctx, email, pending.IssuedAt)
	if err != nil {
		otpVerifiedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("погашение кода: %w", err)
	}
	if !consumed {
		otpVerifiedTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidOrExpired
	}

	// 5. Создание или обновление пользователя
	r := role.Derive(email, s.cfg.AdminEmail, "")
	identity, err := s.identities.UpsertVerified(ctx, repository.IdentityUpsert{
		Email:     email,
		Name:      pending.Name,
		Role:      r,
		ForceRole: r == role.Admin,
	})
	if err != nil {
		otpVerifiedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("сохранение пользователя: %w", err)
	}

	// 6. Сессионный токен
	token, err := s.tokens.Issue(identity)
	if err != nil {
		otpVerifiedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("выпуск токена: %w", err)
	}

	otpVerifiedTotal.WithLabelValues("success").Inc()
	s.logger.Info("Пользователь аутентифицирован",
		slog.String("email", email),
		slog.String("role", identity.Role),
	)
	return &VerifyResult{Token: token, Identity: identity}, nil
}

// revokeExhausted удаляет код после последней неверной попытки.
func (s *AuthService) revokeExhausted(ctx context.Context, pending *model.PendingOTP) {
	if _, err := s.ledger.Consume(context.WithoutCancel(ctx), pending.Email, pending.IssuedAt); err != nil {
		s.logger.Error("Ошибка удаления кода после исчерпания попыток",
			slog.String("email", pending.Email),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Warn("Код удалён: исчерпаны попытки ввода",
		slog.String("email", pending.Email),
		slog.Int("max_attempts", s.cfg.MaxAttempts),
	)
}

// GetCurrentIdentity возвращает пользователя по email из токена.
func (s *AuthService) GetCurrentIdentity(ctx context.Context, email string) (*model.Identity, error) {
	identity, err := s.identities.GetByEmail(ctx, role.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return identity, nil
}

// clock возвращает текущее время в UTC с точностью до микросекунд
// (точность timestamptz в PostgreSQL).
func (s *AuthService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// normalizeEmail приводит адрес к каноническому виду и проверяет формат.
func normalizeEmail(raw string) (string, error) {
	email := role.NormalizeEmail(raw)
	if email == "" {
		return "", validationError("email обязателен")
	}
	if len(email) > maxEmailLength {
		return "", validationError("email длиннее %d символов", maxEmailLength)
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return "", validationError("некорректный email")
	}
	return email, nil
}

// normalizeName обрезает пробелы; пустое имя трактуется как отсутствующее.
func normalizeName(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	name := strings.TrimSpace(*raw)
	if name == "" {
		return nil, nil
	}
	if len([]rune(name)) > maxNameLength {
		return nil, validationError("имя длиннее %d символов", maxNameLength)
	}
	return &name, nil
}

// generateNumericCode возвращает равномерно случайный 6-значный код.
func generateNumericCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
