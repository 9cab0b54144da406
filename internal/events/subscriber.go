package events

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subscribe feeds every trigger on TriggerSubject into sink. Workers share the
// WorkerQueue group so each trigger reaches one process. Malformed messages
// are logged and dropped.
func Subscribe(ctx context.Context, nc *nats.Conn, sink TriggerSink, logger *zap.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return nc.QueueSubscribe(TriggerSubject, WorkerQueue, func(msg *nats.Msg) {
		t, err := DecodeTrigger(msg.Data)
		if err != nil {
			logger.Warn("dropping malformed trigger", zap.Error(err))
			return
		}
		if err := sink.Dispatch(ctx, t); err != nil {
			logger.Error("trigger not dispatched", zap.String("document_id", t.DocumentID), zap.Error(err))
		}
	})
}
