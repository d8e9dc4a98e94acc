// Пакет viewer — конечный автомат сеанса просмотра документа.
//
// Состояния: loading → {error | active | locked}; active ⇄ locked;
// closed — конечное состояние из любого другого.
//
// Сеанс один раз загружает документ через DocumentFetcher, держит байты
// в Buffer и переводит просмотр в locked при потере фокуса, скрытии окна
// или нажатии клавиш захвата экрана, печати, сохранения и просмотра исходника.
// Возврат в active происходит автоматически, когда окно снова в фокусе,
// видимо и истёк cool-down после клавиш захвата.
//
// Ограничение: это механизм обнаружения и сдерживания. Байты документа
// уже находятся в памяти клиента, и технически подготовленный пользователь
// может их извлечь. Блокировка скрывает содержимое и показывает, чья
// личность зафиксирована, но не является механизмом контроля доступа.
//
// Потокобезопасен: сигналы могут приходить из любых горутин.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"
)

// State — состояние сеанса просмотра.
type State string

const (
	// StateLoading — документ загружается
	StateLoading State = "loading"
	// StateError — загрузка не удалась
	StateError State = "error"
	// StateActive — документ отображается
	StateActive State = "active"
	// StateLocked — содержимое скрыто
	StateLocked State = "locked"
	// StateClosed — сеанс завершён, ресурсы освобождены
	StateClosed State = "closed"
)

// Reason — причина перехода.
type Reason string

const (
	ReasonFetched    Reason = "fetched"
	ReasonFetchError Reason = "fetch_error"
	ReasonInvalidPDF Reason = "invalid_document"
	ReasonBlur       Reason = "blur"
	ReasonHidden     Reason = "hidden"
	ReasonCaptureKey Reason = "capture_key"
	ReasonRestored   Reason = "restored"
	ReasonCooldown   Reason = "cooldown_elapsed"
	ReasonClose      Reason = "close"
)

// DefaultErrorMessage — сообщение, если сервер не прислал своего.
const DefaultErrorMessage = "Secure link expired or access denied"

// DefaultCaptureCooldown — минимальная пауза после клавиш захвата.
const DefaultCaptureCooldown = 2 * time.Second

// Границы и шаг масштаба.
const (
	MinZoom  = 0.5
	MaxZoom  = 3.0
	ZoomStep = 0.2
)

// ZoomPresets — фиксированные уровни масштаба.
var ZoomPresets = []float64{1.0, 1.5, 2.0}

// ErrClosed — операция над закрытым сеансом.
var ErrClosed = errors.New("сеанс просмотра закрыт")

// ErrInvalidPage — номер страницы вне диапазона.
var ErrInvalidPage = errors.New("номер страницы вне диапазона")

// validTransitions — матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateLoading: {StateError: true, StateActive: true, StateLocked: true, StateClosed: true},
	StateActive:  {StateLocked: true, StateClosed: true},
	StateLocked:  {StateActive: true, StateClosed: true},
	StateError:   {StateClosed: true},
	StateClosed:  {},
}

// DocumentFetcher — однократная аутентифицированная загрузка документа.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, id string) (io.ReadCloser, error)
}

// FetchError — отказ сервера с сообщением для пользователя.
type FetchError struct {
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("загрузка документа: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("загрузка документа: HTTP %d: %s", e.StatusCode, e.Message)
}

// TransitionRecord — запись о переходе.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    Reason    `json:"reason"`
	Viewer    string    `json:"viewer"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer получает переходы и попытки захвата (журнал подозрительной активности).
type Observer interface {
	OnTransition(rec TransitionRecord)
	OnCaptureAttempt(documentID, viewer string, key KeyEvent)
}

// Options — параметры сеанса.
type Options struct {
	// Viewer — email текущего пользователя; показывается в locked
	Viewer string
	// CaptureCooldown — пауза перед разблокировкой после клавиш захвата
	CaptureCooldown time.Duration
	Clock           Clock
	Observer        Observer
	// OnRelease вызывается при освобождении буфера документа
	OnRelease func()
	Logger    *slog.Logger
}

// Controller — сеанс просмотра одного документа.
type Controller struct {
	mu sync.Mutex

	docID   string
	fetcher DocumentFetcher
	viewer  string

	state  State
	errMsg string
	buf    *Buffer
	opened bool

	focused       bool
	visible       bool
	cooldownUntil time.Time
	cooldownTimer Timer

	zoom      float64
	page      int
	pageCount int

	history   []TransitionRecord
	observer  Observer
	clock     Clock
	cooldown  time.Duration
	closeOnce sync.Once
	onRelease func()
	logger    *slog.Logger

	// pending — события для наблюдателя, отправляются после снятия mu
	pending []func(Observer)
}

// New создаёт сеанс в состоянии loading. Окно считается видимым и в фокусе.
func New(documentID string, fetcher DocumentFetcher, opts Options) *Controller {
	if opts.CaptureCooldown <= 0 {
		opts.CaptureCooldown = DefaultCaptureCooldown
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Controller{
		docID:     documentID,
		fetcher:   fetcher,
		viewer:    opts.Viewer,
		state:     StateLoading,
		focused:   true,
		visible:   true,
		zoom:      1.0,
		page:      1,
		history:   make([]TransitionRecord, 0),
		observer:  opts.Observer,
		clock:     opts.Clock,
		cooldown:  opts.CaptureCooldown,
		onRelease: opts.OnRelease,
		logger: opts.Logger.With(
			slog.String("component", "view_session"),
			slog.String("document_id", documentID),
		),
	}
}

// Open выполняет единственную загрузку документа и считает его страницы.
// Успех — active (или locked, если окно уже не в фокусе); ошибка загрузки
// или неразбираемый PDF — error.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.opened {
		c.mu.Unlock()
		return errors.New("документ уже загружен")
	}
	c.opened = true
	c.mu.Unlock()

	data, fetchErr := c.fetch(ctx)
	var pages int
	var parseErr error
	if fetchErr == nil {
		pages, parseErr = CountPages(data)
	}

	c.mu.Lock()
	defer c.dispatch()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		// Сеанс закрыт во время загрузки: буфер не нужен
		if fetchErr == nil {
			NewBuffer(data, c.onRelease).Release()
		}
		return ErrClosed
	}

	if fetchErr != nil {
		c.errMsg = userMessage(fetchErr)
		c.transitionLocked(StateError, ReasonFetchError)
		c.logger.Warn("Документ не загружен", slog.String("error", fetchErr.Error()))
		return fetchErr
	}

	if parseErr != nil {
		NewBuffer(data, c.onRelease).Release()
		c.errMsg = InvalidDocumentMessage
		c.transitionLocked(StateError, ReasonInvalidPDF)
		c.logger.Warn("Документ не разобран", slog.String("error", parseErr.Error()))
		return parseErr
	}

	c.buf = NewBuffer(data, c.onRelease)
	c.pageCount = pages
	if c.shouldLockLocked() {
		c.transitionLocked(StateLocked, c.lockReasonLocked())
	} else {
		c.transitionLocked(StateActive, ReasonFetched)
	}
	return nil
}

func (c *Controller) fetch(ctx context.Context) ([]byte, error) {
	rc, err := c.fetcher.FetchDocument(ctx, c.docID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("чтение документа: %w", err)
	}
	return data, nil
}

// userMessage извлекает сообщение сервера или возвращает стандартное.
func userMessage(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) && strings.TrimSpace(fe.Message) != "" {
		return fe.Message
	}
	return DefaultErrorMessage
}

// --- Сигналы окружения ---

// Blur — окно потеряло фокус.
func (c *Controller) Blur() { c.signal(func() { c.focused = false }, ReasonBlur) }

// Focus — окно получило фокус.
func (c *Controller) Focus() { c.signal(func() { c.focused = true }, ReasonRestored) }

// Hidden — документ скрыт (вкладка переключена, окно свёрнуто).
func (c *Controller) Hidden() { c.signal(func() { c.visible = false }, ReasonHidden) }

// Visible — документ снова виден.
func (c *Controller) Visible() { c.signal(func() { c.visible = true }, ReasonRestored) }

// Key обрабатывает нажатие клавиши. Возвращает true, если комбинацию
// следует подавить (клавиши захвата, печати, сохранения, исходника).
func (c *Controller) Key(ev KeyEvent) bool {
	if !ev.IsCapture() {
		return false
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return true
	}

	c.logger.Warn("Попытка захвата содержимого",
		slog.String("viewer", c.viewer),
		slog.String("key", ev.String()),
	)
	docID, viewer := c.docID, c.viewer
	c.pending = append(c.pending, func(o Observer) { o.OnCaptureAttempt(docID, viewer, ev) })

	// Повторное нажатие продлевает паузу
	c.cooldownUntil = c.clock.Now().Add(c.cooldown)
	if c.cooldownTimer != nil {
		c.cooldownTimer.Stop()
	}
	c.cooldownTimer = c.clock.AfterFunc(c.cooldown, c.onCooldownElapsed)

	if c.state == StateActive {
		c.transitionLocked(StateLocked, ReasonCaptureKey)
	}
	c.mu.Unlock()
	c.dispatch()
	return true
}

func (c *Controller) onCooldownElapsed() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.cooldownTimer = nil
	if c.state == StateLocked && !c.shouldLockLocked() {
		c.transitionLocked(StateActive, ReasonCooldown)
	}
	c.mu.Unlock()
	c.dispatch()
}

// signal меняет флаг окружения и пересчитывает состояние.
// Повторные одинаковые сигналы ничего не меняют.
func (c *Controller) signal(apply func(), reason Reason) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	apply()

	switch {
	case c.state == StateActive && c.shouldLockLocked():
		c.transitionLocked(StateLocked, reason)
	case c.state == StateLocked && !c.shouldLockLocked():
		c.transitionLocked(StateActive, ReasonRestored)
	}
	c.mu.Unlock()
	c.dispatch()
}

// shouldLockLocked — содержимое должно быть скрыто. Вызывается под mu.
func (c *Controller) shouldLockLocked() bool {
	return !c.focused || !c.visible || c.clock.Now().Before(c.cooldownUntil)
}

func (c *Controller) lockReasonLocked() Reason {
	switch {
	case !c.visible:
		return ReasonHidden
	case !c.focused:
		return ReasonBlur
	default:
		return ReasonCaptureKey
	}
}

// transitionLocked выполняет переход по матрице. Вызывается под mu.
func (c *Controller) transitionLocked(target State, reason Reason) bool {
	if !validTransitions[c.state][target] {
		return false
	}

	rec := TransitionRecord{
		From:      c.state,
		To:        target,
		Reason:    reason,
		Viewer:    c.viewer,
		Timestamp: c.clock.Now().UTC(),
	}
	c.state = target
	c.history = append(c.history, rec)
	c.pending = append(c.pending, func(o Observer) { o.OnTransition(rec) })

	c.logger.Debug("Переход сеанса просмотра",
		slog.String("from", string(rec.From)),
		slog.String("to", string(rec.To)),
		slog.String("reason", string(reason)),
	)
	return true
}

// dispatch отправляет накопленные события наблюдателю вне mu.
func (c *Controller) dispatch() {
	c.mu.Lock()
	events := c.pending
	c.pending = nil
	obs := c.observer
	c.mu.Unlock()

	if obs == nil {
		return
	}
	for _, ev := range events {
		ev(obs)
	}
}

// --- Закрытие ---

// Close завершает сеанс из любого состояния. Буфер освобождается ровно один раз,
// таймер cool-down останавливается, наблюдатель отключается после события close.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.transitionLocked(StateClosed, ReasonClose)
		if c.cooldownTimer != nil {
			c.cooldownTimer.Stop()
			c.cooldownTimer = nil
		}
		if c.buf != nil {
			c.buf.Release()
			c.buf = nil
		}
		events := c.pending
		c.pending = nil
		obs := c.observer
		c.observer = nil
		c.mu.Unlock()

		if obs != nil {
			for _, ev := range events {
				ev(obs)
			}
		}
	})
}

// --- Чтение состояния ---

// State возвращает текущее состояние.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ErrorMessage — сообщение для пользователя в состоянии error.
func (c *Controller) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

// Content возвращает байты документа только в состоянии active.
func (c *Controller) Content() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.buf == nil {
		return nil, false
	}
	return c.buf.Bytes(), true
}

// LockNotice — текст поверх скрытого содержимого; пусто вне locked.
func (c *Controller) LockNotice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLocked {
		return ""
	}
	return "Capture prevention triggered. Return focus to resume viewing. Identity logged: " + c.viewer
}

// History возвращает историю переходов (копия).
func (c *Controller) History() []TransitionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]TransitionRecord, len(c.history))
	copy(result, c.history)
	return result
}

// --- Масштаб ---

// Zoom возвращает текущий масштаб.
func (c *Controller) Zoom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom
}

// ZoomIn увеличивает масштаб на шаг, не выше MaxZoom.
func (c *Controller) ZoomIn() float64 { return c.SetZoom(c.Zoom() + ZoomStep) }

// ZoomOut уменьшает масштаб на шаг, не ниже MinZoom.
func (c *Controller) ZoomOut() float64 { return c.SetZoom(c.Zoom() - ZoomStep) }

// SetZoom устанавливает масштаб с ограничением диапазоном.
func (c *Controller) SetZoom(z float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return c.zoom
	}
	c.zoom = clampZoom(z)
	return c.zoom
}

// clampZoom ограничивает масштаб и округляет до сотых (без накопления погрешности шага).
func clampZoom(z float64) float64 {
	z = math.Round(z*100) / 100
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

// --- Страницы ---

// Page возвращает текущую страницу (с 1) и общее число страниц
// (0, пока документ не загружен).
func (c *Controller) Page() (current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page, c.pageCount
}

// GoToPage переходит на страницу n.
func (c *Controller) GoToPage(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	if c.pageCount == 0 || n < 1 || n > c.pageCount {
		return ErrInvalidPage
	}
	c.page = n
	return nil
}

// NextPage переходит на следующую страницу.
func (c *Controller) NextPage() error {
	cur, _ := c.Page()
	return c.GoToPage(cur + 1)
}

// PrevPage переходит на предыдущую страницу.
func (c *Controller) PrevPage() error {
	cur, _ := c.Page()
	return c.GoToPage(cur - 1)
}
