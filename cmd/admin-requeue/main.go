// Command admin-requeue is an operator tool for inspecting and replaying
// messages the write processor routed to the dead-letter stream after
// exhausting retries (spec.md §8 scenario 5: "operator replays from DLQ").
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/forgo/writeway/internal/config"
	"github.com/forgo/writeway/internal/queue"
)

// dlqEnvelope mirrors internal/processor's dead-letter payload shape.
type dlqEnvelope struct {
	OriginalSubject string `json:"original_subject"`
	Payload         []byte `json:"payload"`
	Error           string `json:"error"`
	DeliveryCount   int    `json:"delivery_count"`
}

func main() {
	listCmd := flag.Bool("list", false, "list messages currently on the dlq stream")
	requeueSeq := flag.Uint64("requeue", 0, "stream sequence number of a dlq message to republish")
	dlqStream := flag.String("dlq-stream", "", "dlq stream name (defaults to config's QUEUE_DLQ_STREAM)")
	natsURL := flag.String("nats-url", "", "nats url (defaults to config's QUEUE_URL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	streamName := cfg.Queue.DLQStream
	if *dlqStream != "" {
		streamName = *dlqStream
	}
	url := cfg.Queue.URL
	if *natsURL != "" {
		url = *natsURL
	}

	client, err := queue.Connect(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error connecting to nats: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case *listCmd:
		runList(ctx, client, streamName)
	case *requeueSeq != 0:
		runRequeue(ctx, client, streamName, *requeueSeq)
	default:
		fmt.Fprintln(os.Stderr, "usage: admin-requeue -list | -requeue <sequence>")
		os.Exit(1)
	}
}

func runList(ctx context.Context, client *queue.NatsClient, streamName string) {
	messages, err := client.ListDLQMessages(ctx, streamName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error listing dlq messages: %v\n", err)
		os.Exit(1)
	}

	if len(messages) == 0 {
		fmt.Println("dlq is empty")
		return
	}

	for _, m := range messages {
		var env dlqEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			fmt.Printf("seq=%d subject=%s (undecodable envelope: %v)\n", m.Sequence, m.Subject, err)
			continue
		}
		fmt.Printf("seq=%d subject=%s original=%s deliveries=%d error=%q\n",
			m.Sequence, m.Subject, env.OriginalSubject, env.DeliveryCount, env.Error)
	}
}

func runRequeue(ctx context.Context, client *queue.NatsClient, streamName string, seq uint64) {
	msg, err := client.GetDLQMessage(ctx, streamName, seq)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading dlq message %d: %v\n", seq, err)
		os.Exit(1)
	}

	var env dlqEnvelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding dlq envelope: %v\n", err)
		os.Exit(1)
	}

	publisher := queue.NewPublisher(client)
	defer publisher.Close()

	// A fresh dedup id: the original operation_id already lived out its
	// publish-side dedup window once, and the ledger's own unique
	// operation_id constraint is what actually prevents a double effect.
	if err := publisher.Publish(ctx, env.OriginalSubject, env.Payload, uuid.New().String()); err != nil {
		fmt.Fprintf(os.Stderr, "error republishing message: %v\n", err)
		os.Exit(1)
	}

	if err := client.DeleteDLQMessage(ctx, streamName, seq); err != nil {
		fmt.Fprintf(os.Stderr, "republished but failed to remove dlq entry %d: %v\n", seq, err)
		os.Exit(1)
	}

	fmt.Printf("requeued seq=%d to subject=%s\n", seq, env.OriginalSubject)
}
