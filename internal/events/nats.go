package events

import (
	"context"

	"github.com/nats-io/nats.go"
)

// NatsBus publishes on a subject named after the topic. The message key is
// carried in the Nats-Msg-Id header so JetStream can de-duplicate.
type NatsBus struct {
	nc *nats.Conn
}

var _ Bus = (*NatsBus)(nil)

func NewNatsBus(nc *nats.Conn) *NatsBus { return &NatsBus{nc: nc} }

func (b *NatsBus) Send(ctx context.Context, msg Message) error {
	m := nats.NewMsg(msg.Topic)
	m.Data = msg.Value
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}
	m.Header.Set(nats.MsgIdHdr, msg.Key)

	if err := b.nc.PublishMsg(m); err != nil {
		return err
	}
	// Bound by the publisher's deadline.
	return b.nc.FlushWithContext(ctx)
}
