package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	subjectPrefix   = "parkbeat.projects."
	subjectSuffix   = ".changed"
	subjectWildcard = subjectPrefix + "*" + subjectSuffix
)

// Subject is the NATS subject carrying changes for a project.
func Subject(projectID uuid.UUID) string {
	return subjectPrefix + projectID.String() + subjectSuffix
}

type envelope struct {
	Origin    string          `json:"origin"`
	ProjectID string          `json:"project_id"`
	Frame     json.RawMessage `json:"frame"`
}

// Broadcaster delivers events to the local hub and, when NATS is configured,
// relays them to every other instance. Delivery is at-least-once and unordered.
type Broadcaster struct {
	hub    *Hub
	nc     *nats.Conn
	sub    *nats.Subscription
	origin string
	logger *zap.Logger
}

// NewBroadcaster subscribes to the project wildcard subject when nc is non-nil.
func NewBroadcaster(hub *Hub, nc *nats.Conn, logger *zap.Logger) (*Broadcaster, error) {
	b := &Broadcaster{
		hub:    hub,
		nc:     nc,
		origin: uuid.NewString(),
		logger: logger.Named("broadcaster"),
	}

	if nc == nil {
		b.logger.Info("NATS not configured, notifications stay on this instance")
		return b, nil
	}

	sub, err := nc.Subscribe(subjectWildcard, b.handleRemote)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subjectWildcard, err)
	}
	b.sub = sub
	return b, nil
}

func (b *Broadcaster) handleRemote(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("dropping malformed relay message", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}

	projectID := env.ProjectID
	if projectID == "" {
		projectID = strings.TrimSuffix(strings.TrimPrefix(msg.Subject, subjectPrefix), subjectSuffix)
	}
	id, err := uuid.Parse(projectID)
	if err != nil {
		b.logger.Warn("dropping relay message with bad project id", zap.String("subject", msg.Subject))
		return
	}
	b.hub.Broadcast(Room(id), env.Frame)
}

// Publish sends ev to the project room. Relay failures are logged, never returned
// to the caller beyond the error value.
func (b *Broadcaster) Publish(ctx context.Context, projectID uuid.UUID, ev Event) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	b.hub.Broadcast(Room(projectID), frame)

	if b.nc == nil {
		return nil
	}

	data, err := json.Marshal(envelope{
		Origin:    b.origin,
		ProjectID: projectID.String(),
		Frame:     frame,
	})
	if err != nil {
		return fmt.Errorf("failed to encode relay envelope: %w", err)
	}
	if err := b.nc.Publish(Subject(projectID), data); err != nil {
		return fmt.Errorf("failed to relay event: %w", err)
	}
	return nil
}

// Send writes ev to a single subscriber, used for direct replies on a socket.
func Send(s Subscriber, ev Event) bool {
	frame, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return s.Send(frame)
}

func (b *Broadcaster) Hub() *Hub {
	return b.hub
}

func (b *Broadcaster) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
}
