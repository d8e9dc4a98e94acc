// Пакет model — доменные модели docview.
package model

import "time"

// Identity — пользователь, подтвердивший владение email через OTP.
// Хранится в таблице identities, ключ — email.
type Identity struct {
	// Email — нормализованный адрес (lower-case), первичный ключ
	Email string `json:"email"`
	// Name — отображаемое имя (опционально)
	Name *string `json:"name,omitempty"`
	// Role — роль: user или admin
	Role string `json:"role"`
	// IsVerified — подтверждён ли email
	IsVerified bool `json:"isVerified"`
	// CreatedAt — время первой успешной верификации
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt — время последней верификации
	UpdatedAt time.Time `json:"updatedAt"`
}

// PendingOTP — ожидающий подтверждения одноразовый код.
// Не более одной записи на email; новая выдача заменяет предыдущую.
type PendingOTP struct {
	// Email — адрес, на который выдан код
	Email string
	// CodeHash — argon2id-хэш кода (сам код не хранится)
	CodeHash string
	// Name — имя, переданное при регистрации (опционально)
	Name *string
	// IssuedAt — момент выдачи, используется для throttle повторной отправки
	IssuedAt time.Time
	// ExpiresAt — момент, после которого код недействителен
	ExpiresAt time.Time
	// Attempts — число уже сделанных попыток ввода
	Attempts int
}

// Expired сообщает, истёк ли код на момент now.
func (p *PendingOTP) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
