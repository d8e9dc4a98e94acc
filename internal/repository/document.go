package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docview/internal/domain/model"
)

// documentColumns — столбцы таблицы documents для SELECT/RETURNING.
var documentColumns = []string{
	"id", "title", "description", "category", "storage_key",
	"content_type", "size", "uploaded_by", "created_at",
}

// ListFilter — фильтры списка документов. Пустые поля не применяются.
type ListFilter struct {
	// Category — точное совпадение категории
	Category string
	// Query — подстрока заголовка (без учёта регистра)
	Query string
}

// DocumentRepository — интерфейс доступа к реестру документов.
type DocumentRepository interface {
	// Create сохраняет запись; заполняет CreatedAt.
	Create(ctx context.Context, doc *model.Document) error
	// GetByID возвращает документ или ErrNotFound (в том числе для не-UUID).
	GetByID(ctx context.Context, id string) (*model.Document, error)
	// List возвращает документы, новые первыми.
	List(ctx context.Context, filter ListFilter) ([]*model.Document, error)
	// Delete удаляет запись и возвращает её, либо ErrNotFound.
	Delete(ctx context.Context, id string) (*model.Document, error)
}

type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

func (r *documentRepo) Create(ctx context.Context, doc *model.Document) error {
	query, args, err := psql.Insert("documents").
		Columns("id", "title", "description", "category", "storage_key", "content_type", "size", "uploaded_by").
		Values(doc.ID, doc.Title, doc.Description, doc.Category, doc.StorageKey, doc.ContentType, doc.Size, doc.UploadedBy).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("ошибка построения запроса: %w", err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&doc.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	query, args, err := psql.Select(documentColumns...).
		From("documents").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса: %w", err)
	}

	doc, err := scanDocument(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return doc, nil
}

func (r *documentRepo) List(ctx context.Context, filter ListFilter) ([]*model.Document, error) {
	builder := psql.Select(documentColumns...).
		From("documents").
		OrderBy("created_at DESC", "id DESC")

	if filter.Category != "" {
		builder = builder.Where(sq.Eq{"category": filter.Category})
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		builder = builder.Where(sq.ILike{"title": "%" + escapeLike(q) + "%"})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

func (r *documentRepo) Delete(ctx context.Context, id string) (*model.Document, error) {
	query, args, err := psql.Delete("documents").
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(documentColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ошибка построения запроса: %w", err)
	}

	doc, err := scanDocument(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка удаления документа: %w", err)
	}
	return doc, nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	d := &model.Document{}
	err := row.Scan(
		&d.ID, &d.Title, &d.Description, &d.Category, &d.StorageKey,
		&d.ContentType, &d.Size, &d.UploadedBy, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
