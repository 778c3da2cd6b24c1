package mailer

import (
	"context"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender logs messages instead of sending them. Links are logged in full so
// local flows can be completed from the console.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("mailer")}
}

func (s *LogSender) Send(_ context.Context, to string, msg goIdentity.Message) (string, error) {
	id := uuid.NewString()
	s.logger.Info("email not sent (log transport)",
		zap.String("message_id", id),
		zap.String("to", to),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return id, nil
}
