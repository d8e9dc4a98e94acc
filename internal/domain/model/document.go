package model

import "time"

// DefaultCategory — категория документа, если она не указана при загрузке.
const DefaultCategory = "General"

// Document — запись реестра PDF-документов (таблица documents).
type Document struct {
	// ID — UUID документа
	ID string
	// Title — заголовок, используется как имя файла при просмотре
	Title string
	// Description — описание (опционально)
	Description *string
	// Category — категория (по умолчанию General)
	Category string
	// StorageKey — ключ объекта в хранилище; наружу не отдаётся
	StorageKey string
	// ContentType — MIME-тип, зафиксированный при загрузке
	ContentType string
	// Size — размер в байтах
	Size int64
	// UploadedBy — email администратора, загрузившего документ
	UploadedBy string
	// CreatedAt — время создания записи
	CreatedAt time.Time
}

// DocumentSummary — публичная проекция документа для списка.
// Не содержит ключа хранилища.
type DocumentSummary struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summary возвращает публичную проекцию документа.
func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Category:    d.Category,
		CreatedAt:   d.CreatedAt,
	}
}
