package events

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

// StdoutWriter logs events instead of shipping them to a broker. It is the
// default sink when no external audit destination is configured.
type StdoutWriter struct{}

var _ Writer = (*StdoutWriter)(nil)

func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{}
}

func (w *StdoutWriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	zap.S().Named("event_writer").Infow("event", "topic", topic, "id", e.ID(), "type", e.Type(), "data", string(e.Data()))
	return nil
}

func (w *StdoutWriter) Close(_ context.Context) error {
	return nil
}
