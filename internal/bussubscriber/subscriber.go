// Package bussubscriber implements the inbound Bus Subscriber (spec §4.8,
// C8): subscribes to the opportunity topic, deserializes case-insensitively,
// demuxes into a fresh PipelineRun per message, bounded by a worker pool.
//
// Grounded on crypto-wallet/pkg/kafka/producer.go's writer-construction
// idiom, mirrored here for a kafka.Reader consumer.
package bussubscriber

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
)

// Runner is the subset of internal/pipeline.Pipeline the subscriber needs.
type Runner interface {
	Run(ctx context.Context, o executor.Opportunity)
}

// Reader is the subset of *kafka.Reader this package needs, narrowed to an
// interface so tests can substitute a fake (mirroring resultpublisher.Writer).
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dedup is an optional idempotency check for at-least-once redelivery,
// grounded on the teacher's pervasive Redis caching pattern (DESIGN.md:
// "teacher dependency wired beyond strict necessity"). A nil Dedup disables
// the check — every message is processed.
type Dedup interface {
	// SeenBefore records id and reports whether it had already been seen
	// within the configured TTL.
	SeenBefore(ctx context.Context, id string) (bool, error)
}

// Subscriber reads opportunities from Kafka and fans them out to the
// pipeline with bounded concurrency (spec §5 backpressure: "implementation-
// chosen cap... additional messages block or are dropped with a log entry").
type Subscriber struct {
	reader         Reader
	pipeline       Runner
	dedup          Dedup
	maxConcurrency int
	log            *zap.Logger
}

// New builds a Subscriber over the configured opportunity topic.
func New(reader Reader, pipeline Runner, dedup Dedup, maxConcurrency int, log *zap.Logger) *Subscriber {
	if maxConcurrency <= 0 {
		maxConcurrency = 32
	}
	return &Subscriber{reader: reader, pipeline: pipeline, dedup: dedup, maxConcurrency: maxConcurrency, log: log}
}

// Run consumes until ctx is cancelled. Each accepted message spawns one
// goroutine that runs the opportunity through the pipeline to completion;
// the semaphore bounds how many such goroutines exist at once.
func (s *Subscriber) Run(ctx context.Context) error {
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("failed to fetch opportunity message", zap.Error(err))
			continue
		}

		var o executor.Opportunity
		if err := executor.DecodeLoose(msg.Value, &o); err != nil {
			s.log.Warn("dropping malformed opportunity message", zap.Error(err), zap.String("topic", msg.Topic))
			s.commit(ctx, msg)
			continue
		}

		if s.dedup != nil {
			seen, err := s.dedup.SeenBefore(ctx, o.ID)
			if err != nil {
				s.log.Warn("dedup check failed, processing anyway", zap.Error(err), zap.String("opportunity", o.ID))
			} else if seen {
				s.log.Info("dropping redelivered opportunity", zap.String("opportunity", o.ID))
				s.commit(ctx, msg)
				continue
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		default:
			s.log.Warn("concurrency cap reached, dropping opportunity", zap.String("opportunity", o.ID), zap.Int("cap", s.maxConcurrency))
			s.commit(ctx, msg)
			continue
		}

		wg.Add(1)
		go func(o executor.Opportunity, msg kafka.Message) {
			defer wg.Done()
			defer func() { <-sem }()
			s.pipeline.Run(ctx, o)
			s.commit(ctx, msg)
		}(o, msg)
	}
}

func (s *Subscriber) commit(ctx context.Context, msg kafka.Message) {
	commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.reader.CommitMessages(commitCtx, msg); err != nil {
		s.log.Warn("failed to commit offset", zap.Error(err))
	}
}

// Close shuts down the underlying reader.
func (s *Subscriber) Close() error {
	return s.reader.Close()
}
