package nats_client

import (
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Connect dials NATS and keeps reconnecting forever in the background.
func Connect(url, user, pass, instanceID string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("roomchat-" + instanceID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("nats.disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("nats.reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if user != "" {
		opts = append(opts, nats.UserInfo(user, pass))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		zap.L().Error("nats_connect", zap.Error(err))
		return nil, err
	}
	return nc, nil
}
