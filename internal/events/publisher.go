package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/models"
)

var _ TriggerSink = (*Publisher)(nil)

// Publisher hands triggers to whichever worker process is subscribed.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, subject: TriggerSubject, logger: logger}
}

func (p *Publisher) Dispatch(ctx context.Context, t models.Trigger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeTrigger(t)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish trigger %s: %w", t.DocumentID, err)
	}
	p.logger.Debug("trigger published", zap.String("document_id", t.DocumentID), zap.String("subject", p.subject))
	return nil
}
