package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/foxford/dispatchd/internal/apperr"
)

var topicAudienceRe = regexp.MustCompile(`^audiences\.([^.]+)\.events$`)

// Bus wraps a NATS connection, publishing outbound lifecycle events and
// subscribing to inbound room/task events from the three collaborators.
type Bus struct {
	conn      *nats.Conn
	serviceID string
	logger    *zap.Logger
}

// Connect dials NATS at url and returns a ready-to-use Bus.
func Connect(url, serviceID string, logger *zap.Logger) (*Bus, error) {
	conn, err := nats.Connect(url, nats.Name(serviceID))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("NATS connection established", zap.String("url", url))
	return &Bus{conn: conn, serviceID: serviceID, logger: logger}, nil
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	_ = b.conn.Drain()
}

// Publish broadcasts label with payload on the audience's outbound topic:
// apps/<service-id>/api/v1/audiences/<audience>/events.
func (b *Bus) Publish(ctx context.Context, audience string, label Label, payload interface{}) error {
	buf, err := json.Marshal(struct {
		Label Label       `json:"label"`
		Data  interface{} `json:"data"`
	}{Label: label, Data: payload})
	if err != nil {
		return apperr.New(apperr.KindSerializationFailed, err)
	}
	subject := fmt.Sprintf("apps.%s.api.v1.audiences.%s.events", b.serviceID, audience)
	if err := b.conn.Publish(subject, buf); err != nil {
		return apperr.New(apperr.KindNatsPublishFailed, err)
	}
	return nil
}

// PublishScope broadcasts label on a scope-rooted topic:
// apps/<service-id>/api/v1/scopes/<scope>/events. Used for
// scope.frontend.rollback.
func (b *Bus) PublishScope(ctx context.Context, scope string, label Label, payload interface{}) error {
	buf, err := json.Marshal(struct {
		Label Label       `json:"label"`
		Data  interface{} `json:"data"`
	}{Label: label, Data: payload})
	if err != nil {
		return apperr.New(apperr.KindSerializationFailed, err)
	}
	subject := fmt.Sprintf("apps.%s.api.v1.scopes.%s.events", b.serviceID, scope)
	if err := b.conn.Publish(subject, buf); err != nil {
		return apperr.New(apperr.KindNatsPublishFailed, err)
	}
	return nil
}

// Subscribe listens for inbound messages on "audiences/*/events" and feeds
// demultiplexed Message values to the returned channel until ctx is
// cancelled. Mirrors the subscribe-then-loop-on-channel
// bridge pattern used for WebSocket fan-out elsewhere in this stack.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Message, error) {
	raw := make(chan *nats.Msg, 256)
	sub, err := b.conn.ChanSubscribe("audiences.*.events", raw)
	if err != nil {
		return nil, apperr.New(apperr.KindNatsClientNotFound, err)
	}

	out := make(chan Message, 256)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				m, err := b.decode(msg)
				if err != nil {
					b.logger.Warn("dropping undecodable broker message", zap.Error(err), zap.String("subject", msg.Subject))
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) decode(msg *nats.Msg) (Message, error) {
	matches := topicAudienceRe.FindStringSubmatch(msg.Subject)
	if matches == nil {
		return Message{}, fmt.Errorf("subject %q does not match audiences/<audience>/events", msg.Subject)
	}
	var envelope struct {
		Label   Label           `json:"label"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		return Message{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return Message{Label: envelope.Label, Audience: matches[1], Payload: envelope.Payload}, nil
}
