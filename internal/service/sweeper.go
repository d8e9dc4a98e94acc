// sweeper.go — фоновая очистка просроченных OTP-кодов в PostgreSQL.
// Просроченная запись и так недействительна при верификации;
// очистка лишь освобождает место. Redis удаляет ключи по TTL сам.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweeperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_otp_sweeper_runs_total",
		Help: "Общее количество запусков очистки OTP-кодов",
	})

	sweeperDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_otp_sweeper_deleted_total",
		Help: "Общее количество удалённых просроченных OTP-кодов",
	})
)

// ExpiredOTPDeleter — хранилище, умеющее удалять просроченные коды.
type ExpiredOTPDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OTPSweeper — периодическая очистка журнала кодов.
type OTPSweeper struct {
	store    ExpiredOTPDeleter
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOTPSweeper создаёт сервис очистки.
func NewOTPSweeper(store ExpiredOTPDeleter, interval time.Duration, logger *slog.Logger) *OTPSweeper {
	return &OTPSweeper{
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "otp_sweeper")),
		now:      time.Now,
	}
}

// Start запускает фоновую горутину с тикером.
func (s *OTPSweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Очистка OTP-кодов запущена",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает очистку и дожидается завершения горутины.
func (s *OTPSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Очистка OTP-кодов остановлена")
}

func (s *OTPSweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход очистки и возвращает число удалённых записей.
func (s *OTPSweeper) RunOnce(ctx context.Context) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	sweeperRunsTotal.Inc()

	n, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("Ошибка очистки просроченных кодов",
			slog.String("error", err.Error()),
		)
		return 0
	}
	if n > 0 {
		sweeperDeletedTotal.Add(float64(n))
		s.logger.Debug("Удалены просроченные коды", slog.Int64("count", n))
	}
	return n
}
