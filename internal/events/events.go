// Package events carries ingestion triggers over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/markdave123-py/Lumina/internal/core"
	"github.com/markdave123-py/Lumina/internal/models"
)

const (
	// TriggerSubject is where upload events are published.
	TriggerSubject = "lumina.ingest.trigger"
	// WorkerQueue is the queue group shared by every ingestion worker process.
	WorkerQueue = "lumina-ingestors"
)

// TriggerSink accepts ingestion triggers for processing.
type TriggerSink interface {
	Dispatch(ctx context.Context, t models.Trigger) error
}

// Connect dials NATS with reconnect handling.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("lumina"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", zap.String("url", url))
	return nc, nil
}

// EncodeTrigger validates t and renders it as the wire JSON.
func EncodeTrigger(t models.Trigger) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

// DecodeTrigger parses and validates a trigger message.
func DecodeTrigger(data []byte) (models.Trigger, error) {
	var t models.Trigger
	if err := json.Unmarshal(data, &t); err != nil {
		return models.Trigger{}, fmt.Errorf("decode trigger: %w: %w", core.ErrInvalidInput, err)
	}
	if err := validate(t); err != nil {
		return models.Trigger{}, err
	}
	return t, nil
}

func validate(t models.Trigger) error {
	if strings.TrimSpace(t.DocumentID) == "" {
		return fmt.Errorf("trigger: documentId required: %w", core.ErrInvalidInput)
	}
	if strings.TrimSpace(t.SourceURI) == "" {
		return fmt.Errorf("trigger %s: sourceUri required: %w", t.DocumentID, core.ErrInvalidInput)
	}
	return nil
}
