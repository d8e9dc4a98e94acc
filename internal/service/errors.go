// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrRateLimited — повторный запрос слишком рано.
	ErrRateLimited = errors.New("слишком частые запросы")
	// ErrAlreadyExists — пользователь уже зарегистрирован.
	ErrAlreadyExists = errors.New("пользователь уже существует, используйте вход")
	// ErrNotRegistered — вход для незарегистрированного адреса.
	ErrNotRegistered = errors.New("пользователь не зарегистрирован")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrInvalidOrExpired — код неверен или истёк. Причины намеренно не различаются.
	ErrInvalidOrExpired = errors.New("неверный или просроченный код")
	// ErrUpstreamUnavailable — объектное хранилище недоступно.
	ErrUpstreamUnavailable = errors.New("объектное хранилище недоступно")
	// ErrPayloadTooLarge — файл больше допустимого размера.
	ErrPayloadTooLarge = errors.New("файл превышает допустимый размер")
	// ErrDeliveryFailed — не удалось отправить письмо с кодом.
	ErrDeliveryFailed = errors.New("не удалось отправить код")
)

// RetryAfterError — ErrRateLimited с рекомендованной паузой.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%s, повторите через %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

// Unwrap позволяет errors.Is(err, ErrRateLimited).
func (e *RetryAfterError) Unwrap() error {
	return ErrRateLimited
}

// validationError оборачивает ErrValidation с описанием поля.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
