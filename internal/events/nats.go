// Package events publishes BOM change notifications on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends JSON encoded events to core NATS subjects.
type Publisher struct {
	conn   conn
	prefix string
}

// Options configures the NATS connection.
type Options struct {
	URL           string
	Name          string
	SubjectPrefix string
}

// Connect dials NATS and returns a publisher with its connection. The caller
// drains the connection on shutdown.
func Connect(opts Options, logger *slog.Logger) (*Publisher, *nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("events: connect nats: %w", err)
	}
	return NewPublisher(nc, opts.SubjectPrefix), nc, nil
}

// NewPublisher wraps an established connection.
func NewPublisher(c conn, prefix string) *Publisher {
	return &Publisher{conn: c, prefix: strings.TrimSuffix(prefix, ".")}
}

// Publish marshals payload and publishes it on the prefixed subject.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(p.Subject(subject), data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

// Subject returns the fully qualified subject.
func (p *Publisher) Subject(subject string) string {
	if p.prefix == "" {
		return subject
	}
	return p.prefix + "." + subject
}

// Nop discards events. It is used when NATS is not configured.
type Nop struct{}

// Publish implements the publisher contract.
func (Nop) Publish(context.Context, string, any) error { return nil }
