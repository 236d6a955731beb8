package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSQueue is the durable queue backed by a JetStream work-queue stream.
// The consumer's AckWait is the visibility lease: an unacked message is
// redelivered by the server once the lease expires, and NumDelivered is
// the dequeue count.
type NATSQueue struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	stream   string
	subject  string
	consumer jetstream.Consumer
	lease    time.Duration

	mu       sync.Mutex
	inFlight map[string]*natsLease
}

type natsLease struct {
	msg         jetstream.Msg
	leasedUntil time.Time
}

// NATSOptions configure the JetStream queue.
type NATSOptions struct {
	URL     string
	Stream  string
	Subject string
	Lease   time.Duration
}

// NewNATSQueue connects to NATS and binds or creates the stream and its
// durable pull consumer.
func NewNATSQueue(ctx context.Context, opts NATSOptions) (*NATSQueue, error) {
	if opts.Stream == "" {
		opts.Stream = "REVIEWD_ANALYSIS"
	}
	if opts.Subject == "" {
		opts.Subject = "reviewd.analysis"
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}

	conn, err := nats.Connect(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      opts.Stream,
		Subjects:  []string{opts.Subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    consumerName(opts.Stream),
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    opts.Lease,
		MaxDeliver: -1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	slog.Info("Connected analysis queue",
		slog.String("url", opts.URL),
		slog.String("stream", opts.Stream),
		slog.String("subject", opts.Subject))

	return &NATSQueue{
		conn:     conn,
		js:       js,
		stream:   opts.Stream,
		subject:  opts.Subject,
		consumer: consumer,
		lease:    opts.Lease,
		inFlight: make(map[string]*natsLease),
	}, nil
}

func consumerName(stream string) string {
	return strings.ToLower(stream) + "-workers"
}

// notBeforeHeader carries the visibility delay across the wire; consumers
// nak a message back to the server until its time arrives.
const notBeforeHeader = "Reviewd-Not-Before"

func (q *NATSQueue) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	out := &nats.Msg{Subject: q.subject, Data: payload}
	if delay > 0 {
		out.Header = nats.Header{
			notBeforeHeader: []string{time.Now().Add(delay).Format(time.RFC3339Nano)},
		}
	}
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

func (q *NATSQueue) Dequeue(ctx context.Context, wait time.Duration) (*Delivery, error) {
	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	for m := range batch.Messages() {
		msg, err := Decode(m.Data())
		if err != nil {
			// poison payload, drop it rather than redeliver forever
			slog.Warn("Dropping undecodable queue message", slog.String("error", err.Error()))
			_ = m.Term()
			continue
		}

		// a delayed message goes back to the server until its time arrives
		if notBefore, ok := parseNotBefore(m.Headers()); ok {
			if remaining := time.Until(notBefore); remaining > 0 {
				_ = m.NakWithDelay(remaining)
				continue
			}
		}

		count := 1
		leasedUntil := time.Now().Add(q.lease)
		if meta, metaErr := m.Metadata(); metaErr == nil {
			count = int(meta.NumDelivered)
		}

		receipt := uuid.NewString()
		q.mu.Lock()
		q.inFlight[receipt] = &natsLease{msg: m, leasedUntil: leasedUntil}
		q.mu.Unlock()

		return &Delivery{
			Message:      msg,
			Receipt:      receipt,
			DequeueCount: count,
			LeasedUntil:  leasedUntil,
		}, nil
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	_ = ctx
	return nil, nil
}

func parseNotBefore(h nats.Header) (time.Time, bool) {
	if h == nil {
		return time.Time{}, false
	}
	raw := h.Get(notBeforeHeader)
	if raw == "" {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// Peek reads the oldest stored message without consuming it. A message
// currently leased by a worker is still reported; the stream retains it
// until the ack lands.
func (q *NATSQueue) Peek(ctx context.Context) (*Message, error) {
	stream, err := q.js.Stream(ctx, q.stream)
	if err != nil {
		return nil, fmt.Errorf("failed to look up stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream info: %w", err)
	}
	if info.State.Msgs == 0 {
		return nil, nil
	}
	raw, err := stream.GetMsg(ctx, info.State.FirstSeq)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queued message: %w", err)
	}
	msg, err := Decode(raw.Data)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (q *NATSQueue) Delete(_ context.Context, receipt string) error {
	q.mu.Lock()
	lease, ok := q.inFlight[receipt]
	delete(q.inFlight, receipt)
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown receipt")
	}
	if time.Now().After(lease.leasedUntil) {
		// the server already redelivered; acking now would delete a
		// message someone else may be processing
		return fmt.Errorf("receipt expired")
	}
	if err := lease.msg.DoubleAck(context.Background()); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

func (q *NATSQueue) Depth(ctx context.Context) (int, error) {
	stream, err := q.js.Stream(ctx, q.stream)
	if err != nil {
		return 0, fmt.Errorf("failed to look up stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read stream info: %w", err)
	}
	return int(info.State.Msgs), nil
}

// Clear purges the stream. Receipts held for purged messages become
// useless, so the in-flight table is dropped with them.
func (q *NATSQueue) Clear(ctx context.Context) (int, error) {
	stream, err := q.js.Stream(ctx, q.stream)
	if err != nil {
		return 0, fmt.Errorf("failed to look up stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read stream info: %w", err)
	}
	if err := stream.Purge(ctx); err != nil {
		return 0, fmt.Errorf("failed to purge stream: %w", err)
	}
	q.mu.Lock()
	q.inFlight = make(map[string]*natsLease)
	q.mu.Unlock()
	return int(info.State.Msgs), nil
}

func (q *NATSQueue) Close() error {
	if q.conn != nil {
		q.conn.Close()
	}
	return nil
}
