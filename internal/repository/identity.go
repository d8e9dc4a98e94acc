package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docview/internal/domain/model"
)

const identityColumns = `email, name, role, is_verified, created_at, updated_at`

// IdentityUpsert — параметры записи пользователя после успешной верификации.
type IdentityUpsert struct {
	// Email — нормализованный адрес
	Email string
	// Name — новое имя; nil оставляет текущее
	Name *string
	// Role — роль для нового пользователя
	Role string
	// ForceRole — перезаписать роль существующего пользователя значением Role
	ForceRole bool
}

// IdentityRepository — интерфейс доступа к таблице identities.
type IdentityRepository interface {
	// GetByEmail возвращает пользователя или ErrNotFound.
	GetByEmail(ctx context.Context, email string) (*model.Identity, error)
	// Exists проверяет наличие пользователя.
	Exists(ctx context.Context, email string) (bool, error)
	// UpsertVerified атомарно создаёт или обновляет пользователя,
	// помечая его как подтверждённого.
	UpsertVerified(ctx context.Context, params IdentityUpsert) (*model.Identity, error)
}

type identityRepo struct {
	db DBTX
}

// NewIdentityRepository создаёт репозиторий пользователей.
func NewIdentityRepository(db DBTX) IdentityRepository {
	return &identityRepo{db: db}
}

func (r *identityRepo) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	query := fmt.Sprintf(`SELECT %s FROM identities WHERE email = $1`, identityColumns)

	id, err := scanIdentity(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return id, nil
}

func (r *identityRepo) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM identities WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки пользователя: %w", err)
	}
	return exists, nil
}

// UpsertVerified — INSERT ... ON CONFLICT DO UPDATE.
// Имя перезаписывается только если передано; роль — только при ForceRole.
func (r *identityRepo) UpsertVerified(ctx context.Context, params IdentityUpsert) (*model.Identity, error) {
	query := fmt.Sprintf(`
		INSERT INTO identities (email, name, role, is_verified)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (email) DO UPDATE SET
			name        = COALESCE(EXCLUDED.name, identities.name),
			role        = CASE WHEN $4 THEN EXCLUDED.role ELSE identities.role END,
			is_verified = TRUE,
			updated_at  = now()
		RETURNING %s`, identityColumns)

	id, err := scanIdentity(r.db.QueryRow(ctx, query,
		params.Email, params.Name, params.Role, params.ForceRole,
	))
	if err != nil {
		return nil, fmt.Errorf("ошибка сохранения пользователя: %w", err)
	}
	return id, nil
}

func scanIdentity(row pgx.Row) (*model.Identity, error) {
	id := &model.Identity{}
	if err := row.Scan(&id.Email, &id.Name, &id.Role, &id.IsVerified, &id.CreatedAt, &id.UpdatedAt); err != nil {
		return nil, err
	}
	return id, nil
}
