package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docview/internal/domain/model"
)

// PendingOTPRepository — журнал ожидающих кодов в таблице pending_otps.
// Каждая операция — один SQL-оператор, атомарность обеспечивает PostgreSQL.
type PendingOTPRepository interface {
	// Put записывает код, заменяя предыдущий, если тот выдан не позже
	// reissueCutoff или уже истёк. Возвращает false, если запись не заменена.
	Put(ctx context.Context, otp *model.PendingOTP, reissueCutoff time.Time) (bool, error)
	// Get возвращает ожидающий код для email или ErrNotFound.
	Get(ctx context.Context, email string) (*model.PendingOTP, error)
	// Consume удаляет запись, только если она выдана в issuedAt.
	// Возвращает true ровно одному из конкурирующих вызовов.
	Consume(ctx context.Context, email string, issuedAt time.Time) (bool, error)
	// RecordAttempt увеличивает счётчик попыток записи, выданной в issuedAt,
	// пока он меньше maxAttempts. Возвращает новый номер попытки или 0.
	RecordAttempt(ctx context.Context, email string, issuedAt time.Time, maxAttempts int) (int, error)
	// DeleteExpired удаляет истёкшие записи, возвращает их количество.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type pendingOTPRepo struct {
	db DBTX
}

// NewPendingOTPRepository создаёт PostgreSQL-журнал кодов.
func NewPendingOTPRepository(db DBTX) PendingOTPRepository {
	return &pendingOTPRepo{db: db}
}

func (r *pendingOTPRepo) Put(ctx context.Context, otp *model.PendingOTP, reissueCutoff time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO pending_otps (email, code_hash, name, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			code_hash  = EXCLUDED.code_hash,
			name       = EXCLUDED.name,
			issued_at  = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at,
			attempts   = 0
		WHERE pending_otps.issued_at <= $6
		   OR pending_otps.expires_at <= EXCLUDED.issued_at`,
		otp.Email, otp.CodeHash, otp.Name, otp.IssuedAt, otp.ExpiresAt, reissueCutoff,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка записи кода: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pendingOTPRepo) Get(ctx context.Context, email string) (*model.PendingOTP, error) {
	p := &model.PendingOTP{}
	err := r.db.QueryRow(ctx, `
		SELECT email, code_hash, name, issued_at, expires_at, attempts
		FROM pending_otps WHERE email = $1`, email,
	).Scan(&p.Email, &p.CodeHash, &p.Name, &p.IssuedAt, &p.ExpiresAt, &p.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения кода: %w", err)
	}
	return p, nil
}

func (r *pendingOTPRepo) Consume(ctx context.Context, email string, issuedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM pending_otps WHERE email = $1 AND issued_at = $2`,
		email, issuedAt,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка погашения кода: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pendingOTPRepo) RecordAttempt(ctx context.Context, email string, issuedAt time.Time, maxAttempts int) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		UPDATE pending_otps SET attempts = attempts + 1
		WHERE email = $1 AND issued_at = $2 AND attempts < $3
		RETURNING attempts`,
		email, issuedAt, maxAttempts,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("ошибка учёта попытки: %w", err)
	}
	return attempts, nil
}

func (r *pendingOTPRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM pending_otps WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки просроченных кодов: %w", err)
	}
	return tag.RowsAffected(), nil
}
