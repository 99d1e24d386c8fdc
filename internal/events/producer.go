package events

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ProgressMessageKind string = "reviewlens.events.progress"
	defaultTopic        string = "reviewlens.events"
	eventSource         string = "reviewlens.analyzer"
)

// Writer is the interface to be implemented by the underlying audit sink.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// Producer mirrors progress events to a Writer. Events are buffered so the
// bus never waits on a slow sink.
type Producer struct {
	mu      sync.Mutex
	pending []ProgressEvent
	wakeCh  chan struct{}
	doneCh  chan struct{}
	writer  Writer
	topic   string
}

type ProducerOption func(p *Producer)

func WithOutputTopic(topic string) ProducerOption {
	return func(p *Producer) {
		p.topic = topic
	}
}

func NewProducer(w Writer, opts ...ProducerOption) *Producer {
	p := &Producer{
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
		writer: w,
		topic:  defaultTopic,
	}

	for _, o := range opts {
		o(p)
	}

	go p.run()
	return p
}

func (p *Producer) Write(event ProgressEvent) {
	p.mu.Lock()
	p.pending = append(p.pending, event)
	p.mu.Unlock()

	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

func (p *Producer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		close(p.doneCh)
		return p.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		zap.S().Named("event_producer").Errorf("event producer closed with error: %s", err)
		return err
	}

	zap.S().Named("event_producer").Info("event producer closed")
	return nil
}

func (p *Producer) run() {
	for {
		select {
		case <-p.doneCh:
			return
		case <-p.wakeCh:
		}

		for {
			p.mu.Lock()
			if len(p.pending) == 0 {
				p.mu.Unlock()
				break
			}
			event := p.pending[0]
			p.pending = p.pending[1:]
			p.mu.Unlock()

			e := cloudevents.NewEvent()
			e.SetID(uuid.NewString())
			e.SetSource(eventSource)
			e.SetType(ProgressMessageKind)
			if err := e.SetData(*cloudevents.StringOfApplicationJSON(), event); err != nil {
				zap.S().Named("event_producer").Errorw("failed to encode event", "error", err)
				continue
			}

			if err := p.writer.Write(context.TODO(), p.topic, e); err != nil {
				zap.S().Named("event_producer").Errorw("failed to write event", "error", err, "event", e)
			}
		}
	}
}
