package events

import (
	"context"

	"go.uber.org/zap"
)

// LogBus only logs. Used for local runs without a broker.
type LogBus struct{}

var _ Bus = LogBus{}

func (LogBus) Send(_ context.Context, msg Message) error {
	zap.L().Info("events.publish",
		zap.String("topic", msg.Topic),
		zap.String("key", msg.Key),
		zap.ByteString("value", msg.Value),
		zap.Any("headers", msg.Headers),
	)
	return nil
}
