// Пакет mailer — доставка одноразовых кодов входа.
// SMTPSender отправляет письма через go-mail; LogSender используется,
// когда SMTP не настроен, и код в почту не уходит.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wneessen/go-mail"
)

// sendTimeout — таймаут соединения и диалога с SMTP-сервером.
const sendTimeout = 15 * time.Second

var mailSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dv_mail_sent_total",
	Help: "Общее количество попыток отправки писем с кодом (по результату).",
}, []string{"result"})

// Config — параметры SMTP.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender — отправка кодов через SMTP.
type SMTPSender struct {
	cfg    Config
	logger *slog.Logger
}

// NewSMTPSender создаёт отправителя. Адрес From проверяется сразу.
func NewSMTPSender(cfg Config, logger *slog.Logger) (*SMTPSender, error) {
	if err := mail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("некорректный адрес отправителя %q: %w", cfg.From, err)
	}
	return &SMTPSender{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "smtp_mailer")),
	}, nil
}

// SendOTP отправляет письмо с кодом на адрес to.
func (s *SMTPSender) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	msg, err := buildMessage(s.cfg.From, to, code, ttl)
	if err != nil {
		mailSentTotal.WithLabelValues("invalid").Inc()
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(sendTimeout),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		mailSentTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("создание SMTP-клиента: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		mailSentTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка отправки письма",
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("отправка письма: %w", err)
	}

	mailSentTotal.WithLabelValues("success").Inc()
	s.logger.Info("Письмо с кодом отправлено", slog.String("to", to))
	return nil
}

// buildMessage собирает письмо с кодом.
func buildMessage(from, to, code string, ttl time.Duration) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("адрес отправителя: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("адрес получателя: %w", err)
	}
	msg.Subject("Your login code")
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Your one-time code is %s.\nIt expires in %d minutes. If you did not request it, ignore this email.\n",
		code, int(ttl.Round(time.Minute).Minutes()),
	))
	return msg, nil
}

// LogSender — заглушка доставки для окружений без SMTP.
// Код пишется в лог только на уровне DEBUG.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender создаёт LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "log_mailer"))}
}

// SendOTP не отправляет письмо, а фиксирует событие в логе.
func (s *LogSender) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	mailSentTotal.WithLabelValues("logged").Inc()
	s.logger.WarnContext(ctx, "SMTP не настроен, код не доставлен", slog.String("to", to))
	s.logger.DebugContext(ctx, "Одноразовый код",
		slog.String("to", to),
		slog.String("code", code),
		slog.Duration("ttl", ttl),
	)
	return nil
}
