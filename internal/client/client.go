// Пакет client — HTTP-клиент docview API с клиентской сессией.
// Все ответы проходят через единую точку interceptUnauthorized:
// 401 от любого запроса сбрасывает сессию.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// defaultTimeout — таймаут HTTP-запросов, если он не задан в Options.
const defaultTimeout = 30 * time.Second

// maxErrorBody — предел чтения тела ответа с ошибкой.
const maxErrorBody = 64 << 10

// APIError — ответ API с кодом не из 2xx.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// RetryAfter — пауза из заголовка Retry-After (для 429)
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API вернул статус %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API вернул статус %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsUnauthorized сообщает, что err — ответ 401.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// Options — параметры клиента.
type Options struct {
	// HTTPClient — транспорт; по умолчанию http.Client с Timeout
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client — клиент docview API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	session    *Session
	logger     *slog.Logger
}

// New создаёт клиент для baseURL (например, http://localhost:8080).
func New(baseURL string, session *Session, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if session == nil {
		session = NewSession(nil)
	}

	return &Client{
		httpClient: opts.HTTPClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    session,
		logger:     opts.Logger.With(slog.String("component", "api_client")),
	}
}

// Session возвращает сессию клиента.
func (c *Client) Session() *Session {
	return c.session
}

// do выполняет запрос с токеном сессии. Вызывающий код закрывает resp.Body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	c.interceptUnauthorized(resp)
	return resp, nil
}

// interceptUnauthorized — единственное место реакции на 401.
func (c *Client) interceptUnauthorized(resp *http.Response) {
	if resp.StatusCode != http.StatusUnauthorized {
		return
	}
	if c.session.State() != StateAnonymous {
		c.logger.Info("Сессия отклонена сервером, выполняется выход",
			slog.String("path", resp.Request.URL.Path),
		)
	}
	c.session.Discard()
}

// doJSON выполняет запрос с JSON-телом in и декодирует 2xx-ответ в out.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var (
		body        io.Reader
		contentType string
	)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("кодирование тела запроса: %w", err)
		}
		body = strings.NewReader(string(data))
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// decodeResponse закрывает тело; не-2xx превращает в *APIError.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("декодирование ответа: %w", err)
	}
	return nil
}

// parseAPIError разбирает тело {"error":{"code","message"}} или {"msg"}.
func parseAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		switch {
		case body.Error != nil:
			apiErr.Code = body.Error.Code
			apiErr.Message = body.Error.Message
		case body.Msg != "":
			apiErr.Message = body.Msg
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
