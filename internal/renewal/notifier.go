package renewal

import (
	"context"

	"go.uber.org/zap"
)

const (
	TextRenewed    = "Подписка продлена. Ваш баланс обновлён."
	TextDowngraded = "Срок подписки истёк, вы переведены на бесплатный тариф."
)

// Notifier pushes messages to a user outside of a request, such as the
// result of a renewal charge that finished after the interaction returned.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// NewLogNotifier is the fallback when no transport delivers notifications.
func NewLogNotifier(log *zap.Logger) Notifier {
	return logNotifier{log: log}
}

type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) Notify(_ context.Context, userID int64, text string) error {
	n.log.Info("user notification", zap.Int64("user_id", userID), zap.String("text", text))
	return nil
}
