package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

// Publisher fans lifecycle events out on "<subject>.<kind>".
type Publisher struct {
	conn    *nats.Conn
	subject string
}

var _ ports.EventPublisher = (*Publisher)(nil)

func Connect(url string, subject string) (*Publisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	subject = strings.Trim(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = "janitor.events"
	}

	conn, err := nats.Connect(url,
		nats.Name("code-janitor"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errs.Wrap(err, "connect to nats")
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

func (p *Publisher) Subject(event ports.LifecycleEvent) string {
	return p.subject + "." + strings.ToLower(string(event.Kind))
}

func (p *Publisher) Publish(ctx context.Context, event ports.LifecycleEvent) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(err, "marshal lifecycle event")
	}
	if err := p.conn.Publish(p.Subject(event), payload); err != nil {
		return errs.Wrap(err, "publish lifecycle event")
	}
	return nil
}

// Close flushes pending messages before closing the connection.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

type Noop struct{}

func (Noop) Publish(context.Context, ports.LifecycleEvent) error { return nil }
