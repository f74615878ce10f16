package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/config"
	"github.com/juan-silveira/clube-navi-sub004/internal/metrics"
	"github.com/juan-silveira/clube-navi-sub004/internal/models"

	"github.com/nats-io/nats.go"
)

// MatchQueue is the transport for match jobs. Delivery is at-least-once, so
// the consuming handler must be idempotent.
type MatchQueue interface {
	Publish(ctx context.Context, job *models.MatchJob) error
	// Consume registers the handler. A handler error triggers redelivery; a
	// nil return acknowledges the job.
	Consume(handler func(ctx context.Context, job *models.MatchJob) error) error
	Close()
}

// NATSMatchQueue implements MatchQueue on a JetStream work queue. Jobs are
// published per contract (exchange.match.<contract>) and consumed one at a
// time (MaxAckPending 1) so match execution stays serialized.
type NATSMatchQueue struct {
	conn         *nats.Conn
	js           nats.JetStreamContext
	streamName   string
	consumerName string
	sub          *nats.Subscription
}

const matchSubjectPrefix = "exchange.match."

// NewNATSMatchQueue connects to NATS and ensures the match job stream exists
func NewNATSMatchQueue(cfg *config.NATSConfig) (*NATSMatchQueue, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(time.Duration(cfg.Timeout)*time.Second),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait)*time.Second),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ [Queue] NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ [Queue] NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q := &NATSMatchQueue{
		conn:         conn,
		js:           js,
		streamName:   cfg.StreamName,
		consumerName: cfg.ConsumerName,
	}
	if err := q.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

// ensureStream creates the work queue stream when it does not exist yet
func (q *NATSMatchQueue) ensureStream() error {
	_, err := q.js.StreamInfo(q.streamName)
	if err == nil {
		log.Printf("✅ [Queue] Stream %s already exists", q.streamName)
		return nil
	}

	streamConfig := &nats.StreamConfig{
		Name:      q.streamName,
		Subjects:  []string{matchSubjectPrefix + ">"},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}
	if _, err := q.js.AddStream(streamConfig); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", q.streamName, err)
	}
	log.Printf("✅ [Queue] Stream %s created", q.streamName)
	return nil
}

// Publish enqueues a match job for its contract subject
func (q *NATSMatchQueue) Publish(ctx context.Context, job *models.MatchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal match job: %w", err)
	}

	subject := matchSubjectPrefix + job.ContractAddress
	if _, err := q.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish match job %s: %w", job.JobID, err)
	}

	metrics.MatchJobsEnqueued.Inc()
	log.Printf("✅ [Queue] Match job enqueued: JobID=%s, Contract=%s, Buys=%d, Sells=%d",
		job.JobID, job.ContractAddress, len(job.BuyOrders), len(job.SellOrders))
	return nil
}

// Consume starts the durable consumer. MaxAckPending(1) keeps execution
// serialized: one match job in flight across the deployment at a time.
func (q *NATSMatchQueue) Consume(handler func(ctx context.Context, job *models.MatchJob) error) error {
	sub, err := q.js.Subscribe(matchSubjectPrefix+">", func(msg *nats.Msg) {
		var job models.MatchJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Printf("❌ [Queue] Failed to unmarshal match job, dropping: %v", err)
			// malformed payload: redelivery cannot help
			_ = msg.Term()
			return
		}

		if err := handler(context.Background(), &job); err != nil {
			log.Printf("⚠️ [Queue] Match job %s failed, requesting redelivery: %v", job.JobID, err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(q.consumerName),
		nats.ManualAck(),
		nats.MaxAckPending(1),
		nats.AckWait(10*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to match jobs: %w", err)
	}
	q.sub = sub
	log.Printf("✅ [Queue] Match job consumer started: durable=%s", q.consumerName)
	return nil
}

// Close drains the subscription and closes the connection
func (q *NATSMatchQueue) Close() {
	if q.sub != nil {
		_ = q.sub.Drain()
	}
	q.conn.Close()
}

// Conn exposes the underlying connection so the broadcaster can reuse it
// instead of opening a second one.
func (q *NATSMatchQueue) Conn() *nats.Conn {
	return q.conn
}
