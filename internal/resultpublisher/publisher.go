// Package resultpublisher serializes outcomes and publishes status updates,
// final results (durable), and the learning-feed projection (spec §4.6, C6).
//
// Grounded on crypto-wallet/pkg/kafka/producer.go's Producer interface and
// KafkaProducer/MockProducer split. The NATS subjects named in spec §6.2 are
// mapped 1:1 to Kafka topics (see SPEC_FULL.md §4.8 and DESIGN.md Open
// Question 3) with durability modeled through RequiredAcks rather than
// JetStream.
package resultpublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
)

// Writer is the subset of *kafka.Writer this package needs, narrowed to an
// interface so tests can substitute a fake (mirroring the teacher's
// Producer/MockProducer split).
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Topics names the four outbound lanes (spec §6.2), already resolved from
// config (chain-suffixed topics are formatted per-publish).
type Topics struct {
	ResultPrefix    string // "flashloan.result." + chain
	StatusTopic     string // "flashloan.status", keyed by opportunity id
	MevResultPrefix string // "mev.bundle.result." + provider
	LearningTopic   string // "mloptimizer.training.flashloan"
}

// Publisher owns one durable writer (RequireAll) and one best-effort writer
// (RequireNone), matching the two ack modes spec §4.6 distinguishes.
type Publisher struct {
	durable    Writer
	bestEffort Writer
	topics     Topics
	log        *zap.Logger
}

// New constructs a Publisher. durable and bestEffort may be the same
// underlying broker connection configured with different RequiredAcks.
func New(durable, bestEffort Writer, topics Topics, log *zap.Logger) *Publisher {
	return &Publisher{durable: durable, bestEffort: bestEffort, topics: topics, log: log}
}

// publish writes one message, converting a write failure into a logged
// DeliveryDegraded per spec §7.6 — the core makes no outbound-durability
// guarantee when the bus connection is down, so the error is swallowed here
// after being recorded.
func (p *Publisher) publish(ctx context.Context, w Writer, topic, key string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal publish payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	msg := kafka.Message{Topic: topic, Value: body}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		degraded := &executor.DeliveryDegraded{Subject: topic, Err: err}
		p.log.Warn("publish dropped, bus not connected", zap.Error(degraded))
	}
}

// PublishStatus publishes a StatusUpdate on the shared, best-effort status
// topic, keyed by opportunity id (spec §4.6 lane 2).
func (p *Publisher) PublishStatus(ctx context.Context, update executor.StatusUpdate) {
	p.publish(ctx, p.bestEffort, p.topics.StatusTopic, update.OpportunityID, update)
}

// PublishResult publishes the durable final Result on a per-chain topic
// (spec §4.6 lane 1), then — if the run went through MEV — publishes the
// bundle-outcome record on the per-provider durable topic (spec §6.2), and
// finally the best-effort learning-feed projection (spec §4.6 lane 3). The
// three publishes are issued sequentially and this package spawns no
// goroutine for them. Whether a write waits for delivery depends on the
// Writer: the durable writer wired in cmd/executor blocks until acked, while
// the best-effort writer there is Async, so its WriteMessages returns before
// delivery and its delivery failures are not reported back to publish.
func (p *Publisher) PublishResult(ctx context.Context, r executor.Result) {
	resultTopic := p.topics.ResultPrefix + strings.ToLower(r.ChainName)
	p.publish(ctx, p.durable, resultTopic, r.OpportunityID, r)

	if r.UsedMev && r.MevProvider != "" {
		mevTopic := fmt.Sprintf("%s%s", p.topics.MevResultPrefix, r.MevProvider)
		p.publish(ctx, p.durable, mevTopic, r.OpportunityID, r)
	}

	p.publish(ctx, p.bestEffort, p.topics.LearningTopic, r.OpportunityID, executor.ProjectForLearning(r))
}

// Close releases both writers.
func (p *Publisher) Close() error {
	if err := p.durable.Close(); err != nil {
		return err
	}
	return p.bestEffort.Close()
}
