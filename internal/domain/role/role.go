// Пакет role — роли пользователей docview и правило их вычисления.
// Роль admin назначается только адресу администратора из конфигурации,
// остальные пользователи сохраняют текущую роль или получают user.
package role

import "strings"

const (
	// User — роль по умолчанию.
	User = "user"
	// Admin — управление реестром документов.
	Admin = "admin"
)

// IsValid проверяет, является ли строка допустимой ролью.
func IsValid(r string) bool {
	return r == User || r == Admin
}

// Derive вычисляет роль при успешной верификации.
// email и adminEmail сравниваются без учёта регистра и пробелов.
// current — текущая роль существующего пользователя (пусто для нового).
func Derive(email, adminEmail, current string) string {
	if adminEmail != "" && NormalizeEmail(email) == NormalizeEmail(adminEmail) {
		return Admin
	}
	if IsValid(current) {
		return current
	}
	return User
}

// NormalizeEmail приводит адрес к каноническому виду (trim + lower-case).
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
