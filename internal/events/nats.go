package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/hackgods/project-vector/internal/domain"
)

const DefaultSubjectPrefix = "vector.events"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each event as JSON on
// <prefix>.<lowercased event type>.
type NATSPublisher struct {
	conn   Conn
	prefix string
}

func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + strings.ToLower(eventType)
}

func (p *NATSPublisher) Publish(_ context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", ev.Type, err)
	}
	return nil
}

// ConnectNATS dials url with a client name and unlimited reconnects.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}
