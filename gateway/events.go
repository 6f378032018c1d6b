package gateway

import (
	"context"

	"github.com/edupath/authsync/eventbus"
	"github.com/edupath/authsync/logging"
	"github.com/edupath/authsync/session"
)

// subscribeEvents counts session lifecycle events and writes an audit line
// for each.
func (g *Gateway) subscribeEvents() {
	for _, topic := range []string{
		session.EventSignedIn,
		session.EventSignedOut,
		session.EventTokenRefreshed,
		session.EventSyncFailed,
	} {
		g.bus.Subscribe(topic, g.audit)
	}
}

func (g *Gateway) audit(ctx context.Context, msg *eventbus.Message) error {
	g.events.WithLabelValues(msg.Topic).Inc()

	ev, ok := msg.Data.(session.Event)
	if !ok {
		logging.Warnw(ctx, "gateway: unexpected event payload", "topic", msg.Topic)
		return nil
	}
	fields := []any{
		"session.id", ev.SessionID,
		"uid", ev.UID,
		"role", string(ev.Role),
		"at", ev.At,
	}
	if ev.Error != nil {
		fields = append(fields, "error", ev.Error)
		logging.Warnw(ctx, "session event", fields...)
		return nil
	}
	logging.Infow(ctx, "session event", fields...)
	return nil
}
