// api.go — операции docview API: вход по OTP, документы, администрирование.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/bigkaa/docview/internal/viewer"
)

// SendOTPRequest — запрос одноразового кода.
type SendOTPRequest struct {
	Email          string  `json:"email"`
	Name           *string `json:"name,omitempty"`
	IsRegistration bool    `json:"isRegistration"`
}

// DocumentSummary — элемент списка документов.
type DocumentSummary struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Document — документ, созданный загрузкой.
type Document struct {
	DocumentSummary
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	UploadedBy  string `json:"uploadedBy"`
}

// ListOptions — фильтры списка документов.
type ListOptions struct {
	Category string
	Query    string
}

// UploadRequest — загрузка PDF администратором.
type UploadRequest struct {
	Title       string
	Description *string
	Category    string
	FileName    string
	File        io.Reader
}

type ackResponse struct {
	Msg string `json:"msg"`
}

// SendOTP запрашивает код на email. Возвращает сообщение сервера.
func (c *Client) SendOTP(ctx context.Context, req SendOTPRequest) (string, error) {
	var ack ackResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/send-otp", req, &ack); err != nil {
		return "", err
	}
	return ack.Msg, nil
}

// VerifyOTP проверяет код и при успехе входит в сессию.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*User, error) {
	in := struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}{Email: email, OTP: code}

	var out struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/verify-otp", in, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New("пустой токен в ответе verify-otp")
	}

	if err := c.session.Login(out.Token, out.User); err != nil {
		return nil, err
	}
	c.logger.Info("Вход выполнен",
		slog.String("email", out.User.Email),
		slog.String("role", out.User.Role),
	)
	return &out.User, nil
}

// Me возвращает пользователя текущего токена.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Resolve разрешает сессию при запуске клиента:
// нет токена — anonymous; токен подтверждён /api/auth/me — authenticated;
// любая ошибка проверки — anonymous с удалением токена.
func (c *Client) Resolve(ctx context.Context) Snapshot {
	if c.session.State() != StateUnresolved {
		return c.session.Snapshot()
	}

	ok, err := c.session.Restore()
	if err != nil {
		c.logger.Warn("Сохранённый токен не прочитан", slog.String("error", err.Error()))
	}
	if !ok {
		c.session.Discard()
		return c.session.Snapshot()
	}

	user, err := c.Me(ctx)
	if err != nil {
		c.logger.Warn("Сохранённая сессия недействительна", slog.String("error", err.Error()))
		c.session.Discard()
		return c.session.Snapshot()
	}

	c.session.setUser(*user)
	return c.session.Snapshot()
}

// Logout завершает сессию на клиенте. Токены сервера не отзываются.
func (c *Client) Logout() {
	c.session.Discard()
}

// ListDocuments возвращает список документов, новые первыми.
func (c *Client) ListDocuments(ctx context.Context, opts ListOptions) ([]DocumentSummary, error) {
	q := url.Values{}
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	path := "/api/pdfs/all"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	docs := make([]DocumentSummary, 0)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// FetchDocument открывает поток PDF. Вызывающий код закрывает поток.
// Отказ сервера возвращается как *viewer.FetchError с его сообщением.
func (c *Client) FetchDocument(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/pdfs/"+url.PathEscape(id), http.NoBody, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr := parseAPIError(resp)
		return nil, &viewer.FetchError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return resp.Body, nil
}

// UploadDocument отправляет PDF multipart-запросом. Файл не буферизуется целиком.
func (c *Client) UploadDocument(ctx context.Context, req UploadRequest) (*Document, error) {
	if req.File == nil {
		return nil, errors.New("файл обязателен")
	}
	fileName := req.FileName
	if fileName == "" {
		fileName = "document.pdf"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, req, fileName))
	}()

	resp, err := c.do(ctx, http.MethodPost, "/api/admin/upload", pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}

	var doc Document
	if err := decodeResponse(resp, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func writeUploadForm(mw *multipart.Writer, req UploadRequest, fileName string) error {
	fields := [][2]string{{"title", req.Title}, {"category", req.Category}}
	if req.Description != nil {
		fields = append(fields, [2]string{"description", *req.Description})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("поле %s: %w", f[0], err)
		}
	}

	part, err := mw.CreateFormFile("pdf", fileName)
	if err != nil {
		return fmt.Errorf("создание части файла: %w", err)
	}
	if _, err := io.Copy(part, req.File); err != nil {
		return fmt.Errorf("копирование файла: %w", err)
	}
	return mw.Close()
}

// DeleteDocument удаляет документ.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/admin/pdf/"+url.PathEscape(id), nil, nil)
}
