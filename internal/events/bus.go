package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/pkg/metrics"
)

// Bus is the in-process progress event fan-out. Publishing never blocks: a
// subscriber that cannot keep up with its bounded buffer is disconnected
// rather than allowed to stall the worker. Streams retain their events for
// late subscribers until a retention window after the job went terminal.
type Bus struct {
	mu         sync.Mutex
	bufferSize int
	retention  time.Duration
	streams    map[uuid.UUID]*stream
	mirror     *Producer
	subCount   int
}

type stream struct {
	nextSeq  int64
	retained []ProgressEvent
	subs     map[int64]*Subscription
	nextSub  int64
	terminal bool
	idleAt   time.Time
}

// Subscription is one attached consumer of a job's progress stream. The
// channel is closed after a terminal event is delivered, or when the consumer
// falls behind its buffer (backpressure disconnect).
type Subscription struct {
	id    int64
	jobID uuid.UUID
	ch    chan ProgressEvent
	bus   *Bus
}

func (s *Subscription) Events() <-chan ProgressEvent {
	return s.ch
}

// Close detaches the subscription. Purely a local resource release: the
// publisher and other subscriptions are unaffected. Safe after disconnect.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.jobID, s.id)
}

type BusOption func(b *Bus)

// WithMirror mirrors every published event to an audit producer.
func WithMirror(p *Producer) BusOption {
	return func(b *Bus) {
		b.mirror = p
	}
}

func NewBus(bufferSize int, retention time.Duration, opts ...BusOption) *Bus {
	b := &Bus{
		bufferSize: bufferSize,
		retention:  retention,
		streams:    make(map[uuid.UUID]*stream),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish appends an event with the job's next sequence number and fans it
// out to every attached subscriber. Returns the event as sequenced.
func (b *Bus) Publish(jobID uuid.UUID, stage string, message string, data map[string]any) ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stream(jobID)
	st.nextSeq++
	event := ProgressEvent{
		JobID:     jobID,
		Sequence:  st.nextSeq,
		Stage:     stage,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
	st.retained = append(st.retained, event)

	for id, sub := range st.subs {
		select {
		case sub.ch <- event:
		default:
			// slow consumer: disconnect instead of blocking the publisher
			zap.S().Named("events").Warnw("subscriber disconnected on backpressure",
				"job_id", jobID, "subscription", id)
			delete(st.subs, id)
			close(sub.ch)
			b.subCount--
		}
	}

	if IsTerminalStage(stage) {
		st.terminal = true
		for id, sub := range st.subs {
			delete(st.subs, id)
			close(sub.ch)
			b.subCount--
		}
	}
	if st.terminal && len(st.subs) == 0 {
		st.idleAt = time.Now()
	}
	metrics.SetProgressSubscribers(b.subCount)

	if b.mirror != nil {
		b.mirror.Write(event)
	}

	return event
}

// Subscribe attaches to a job's stream. Retained events with sequence >=
// fromSeq are replayed first, then live events follow. If the stream is
// already terminal the channel is closed right after the replay.
func (b *Bus) Subscribe(jobID uuid.UUID, fromSeq int64) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stream(jobID)

	var replay []ProgressEvent
	for _, event := range st.retained {
		if event.Sequence >= fromSeq {
			replay = append(replay, event)
		}
	}

	st.nextSub++
	sub := &Subscription{
		id:    st.nextSub,
		jobID: jobID,
		ch:    make(chan ProgressEvent, len(replay)+b.bufferSize),
		bus:   b,
	}
	for _, event := range replay {
		sub.ch <- event
	}

	if st.terminal {
		close(sub.ch)
		return sub
	}

	st.subs[sub.id] = sub
	b.subCount++
	metrics.SetProgressSubscribers(b.subCount)
	return sub
}

// Terminal reports whether the bus already delivered a terminal event for the
// job. False for jobs the bus has never seen, e.g. after a purge or when the
// job ran in another process; callers fall back to the job record then.
func (b *Bus) Terminal(jobID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[jobID]
	return ok && st.terminal
}

// Purge drops buffers of streams that went terminal and have had no
// subscribers for the retention window. Durability of the outcome lives in
// the job record, not here.
func (b *Bus) Purge(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for jobID, st := range b.streams {
		if st.terminal && len(st.subs) == 0 && now.Sub(st.idleAt) >= b.retention {
			delete(b.streams, jobID)
			dropped++
		}
	}
	return dropped
}

func (b *Bus) stream(jobID uuid.UUID) *stream {
	st, ok := b.streams[jobID]
	if !ok {
		st = &stream{subs: make(map[int64]*Subscription)}
		b.streams[jobID] = st
	}
	return st
}

func (b *Bus) unsubscribe(jobID uuid.UUID, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[jobID]
	if !ok {
		return
	}
	sub, ok := st.subs[id]
	if !ok {
		return
	}
	delete(st.subs, id)
	close(sub.ch)
	b.subCount--
	switch {
	case st.terminal && len(st.subs) == 0:
		st.idleAt = time.Now()
	case len(st.subs) == 0 && st.nextSeq == 0:
		// Subscribe lazily created this stream and no event ever landed on
		// it; without this, repeat subscriptions to unknown or purged job
		// ids would grow the map with entries Purge never collects.
		delete(b.streams, jobID)
	}
	metrics.SetProgressSubscribers(b.subCount)
}
