package viewer

import (
	"context"
	"log/slog"
)

// LogObserver пишет переходы и попытки захвата в журнал аудита.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With(slog.String("component", "view_audit"))}
}

func (o *LogObserver) OnTransition(rec TransitionRecord) {
	level := slog.LevelInfo
	if rec.To == StateLocked || rec.To == StateError {
		level = slog.LevelWarn
	}
	o.logger.Log(context.Background(), level, "Переход сеанса просмотра",
		slog.String("from", string(rec.From)),
		slog.String("to", string(rec.To)),
		slog.String("reason", string(rec.Reason)),
		slog.String("viewer", rec.Viewer),
		slog.Time("at", rec.Timestamp),
	)
}

func (o *LogObserver) OnCaptureAttempt(documentID, viewer string, key KeyEvent) {
	o.logger.Warn("Попытка захвата содержимого",
		slog.String("document_id", documentID),
		slog.String("viewer", viewer),
		slog.String("key", key.String()),
	)
}
