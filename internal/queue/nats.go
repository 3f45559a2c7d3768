package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamSpec describes a JetStream stream this process depends on.
type StreamSpec struct {
	Name     string
	Subjects []string
}

// NatsClient owns the underlying NATS connection and JetStream context. A
// single NatsClient is shared by the Publisher and any number of Consumers
// a process constructs from it.
type NatsClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Connect dials url and wraps the connection in a JetStream context.
func Connect(url string) (*NatsClient, error) {
	conn, err := nats.Connect(url, nats.Name("writeway"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &NatsClient{conn: conn, js: js}, nil
}

// EnsureStream creates the stream if it does not already exist, or updates
// its subject list if it does. Streams are cheap to declare idempotently
// this way at process startup.
func (c *NatsClient) EnsureStream(ctx context.Context, spec StreamSpec) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     spec.Name,
		Subjects: spec.Subjects,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", spec.Name, err)
	}
	return nil
}

// Close drains and closes the underlying NATS connection.
func (c *NatsClient) Close() error {
	return c.conn.Drain()
}

// DeleteStream removes a stream and all its messages, used by tests to
// tear down the uniquely-named streams they declare per run.
func (c *NatsClient) DeleteStream(ctx context.Context, name string) error {
	if err := c.js.DeleteStream(ctx, name); err != nil {
		return fmt.Errorf("delete stream %s: %w", name, err)
	}
	return nil
}

// natsPublisher publishes to a single stream with JetStream publish-side
// deduplication via the Nats-Msg-Id header.
type natsPublisher struct {
	js jetstream.JetStream
}

// NewPublisher returns a Publisher that publishes through js. Deduplication
// is keyed by the dedupID passed to Publish on each call, honored by
// JetStream's configured DuplicateWindow on the target stream.
func NewPublisher(client *NatsClient) Publisher {
	return &natsPublisher{js: client.js}
}

func (p *natsPublisher) Publish(ctx context.Context, subject string, data []byte, dedupID string) error {
	_, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(dedupID))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (p *natsPublisher) Close() error {
	return nil
}

// natsMessage adapts a jetstream.Msg to the queue.Message interface.
type natsMessage struct {
	msg jetstream.Msg
}

func (m *natsMessage) Subject() string { return m.msg.Subject() }
func (m *natsMessage) Data() []byte    { return m.msg.Data() }

func (m *natsMessage) DeliveryAttempt() int {
	meta, err := m.msg.Metadata()
	if err != nil {
		return 1
	}
	return int(meta.NumDelivered)
}

func (m *natsMessage) Ack() error {
	return m.msg.Ack()
}

func (m *natsMessage) Nak(delay time.Duration) error {
	return m.msg.NakWithDelay(delay)
}

func (m *natsMessage) Term() error {
	return m.msg.Term()
}

// natsConsumer drives a single durable JetStream consumer, filtered to one
// or more subjects, via the push-style Consume API with built-in flow control and
// idle-heartbeat.
type natsConsumer struct {
	consumer jetstream.Consumer
	cc       jetstream.ConsumeContext
}

// ConsumerSpec describes a durable consumer this process should create or
// attach to on an existing stream.
type ConsumerSpec struct {
	Stream        string
	Durable       string
	FilterSubject string
	AckWait       time.Duration
	MaxDeliver    int
}

// MultiConsumerSpec describes a durable consumer filtered to several
// subjects at once, used by the CDC consumer which fans in multiple tables.
type MultiConsumerSpec struct {
	Stream         string
	Durable        string
	FilterSubjects []string
	AckWait        time.Duration
	MaxDeliver     int
}

// NewConsumer creates or attaches to the durable consumer described by
// spec and returns a Consumer bound to a single filtered subject.
func NewConsumer(ctx context.Context, client *NatsClient, spec ConsumerSpec) (Consumer, error) {
	stream, err := client.js.Stream(ctx, spec.Stream)
	if err != nil {
		return nil, fmt.Errorf("look up stream %s: %w", spec.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       spec.Durable,
		FilterSubject: spec.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       spec.AckWait,
		MaxDeliver:    spec.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", spec.Durable, err)
	}

	return &natsConsumer{consumer: consumer}, nil
}

// NewMultiSubjectConsumer creates or attaches to a durable consumer
// filtered to several subjects, used by the CDC consumer.
func NewMultiSubjectConsumer(ctx context.Context, client *NatsClient, spec MultiConsumerSpec) (Consumer, error) {
	stream, err := client.js.Stream(ctx, spec.Stream)
	if err != nil {
		return nil, fmt.Errorf("look up stream %s: %w", spec.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        spec.Durable,
		FilterSubjects: spec.FilterSubjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        spec.AckWait,
		MaxDeliver:     spec.MaxDeliver,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", spec.Durable, err)
	}

	return &natsConsumer{consumer: consumer}, nil
}

func (c *natsConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	cc, err := c.consumer.Consume(func(msg jetstream.Msg) {
		handler(ctx, &natsMessage{msg: msg})
	})
	if err != nil {
		return fmt.Errorf("start consume loop: %w", err)
	}
	c.cc = cc

	<-ctx.Done()
	cc.Stop()
	return nil
}

func (c *natsConsumer) Stop() error {
	if c.cc != nil {
		c.cc.Stop()
	}
	return nil
}

// DLQMessage is a raw message read directly off a stream by sequence
// number, for operator tooling (cmd/admin-requeue) rather than the
// ack/nak delivery path Consumer uses.
type DLQMessage struct {
	Sequence uint64
	Subject  string
	Data     []byte
}

// ListDLQMessages reads every message currently stored on streamName, in
// sequence order. It is a point-in-time operator read, not a subscription:
// messages deleted between listing and a later Get are simply absent.
func (c *NatsClient) ListDLQMessages(ctx context.Context, streamName string) ([]DLQMessage, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("look up stream %s: %w", streamName, err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stream info for %s: %w", streamName, err)
	}

	var out []DLQMessage
	for seq := info.State.FirstSeq; seq <= info.State.LastSeq; seq++ {
		raw, err := stream.GetMsg(ctx, seq)
		if err != nil {
			// Sequence gaps are normal: deleted/expired messages leave holes.
			continue
		}
		out = append(out, DLQMessage{Sequence: raw.Sequence, Subject: raw.Subject, Data: raw.Data})
	}
	return out, nil
}

// GetDLQMessage reads a single message by sequence number from streamName.
func (c *NatsClient) GetDLQMessage(ctx context.Context, streamName string, seq uint64) (*DLQMessage, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("look up stream %s: %w", streamName, err)
	}

	raw, err := stream.GetMsg(ctx, seq)
	if err != nil {
		return nil, fmt.Errorf("get message %d from %s: %w", seq, streamName, err)
	}
	return &DLQMessage{Sequence: raw.Sequence, Subject: raw.Subject, Data: raw.Data}, nil
}

// DeleteDLQMessage removes a message from streamName by sequence number,
// used after a successful requeue so the DLQ doesn't accumulate replayed
// entries indefinitely.
func (c *NatsClient) DeleteDLQMessage(ctx context.Context, streamName string, seq uint64) error {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("look up stream %s: %w", streamName, err)
	}
	if err := stream.DeleteMsg(ctx, seq); err != nil {
		return fmt.Errorf("delete message %d from %s: %w", seq, streamName, err)
	}
	return nil
}
