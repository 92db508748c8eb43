package bussubscriber

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flashloan-executor/executor/internal/executor"
)

// fakeReader serves a fixed queue of messages, then blocks until ctx is
// cancelled — mirroring kafka.Reader.FetchMessage's behaviour of blocking
// for more input once the backlog is drained.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) committedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

type fakeRunner struct {
	mu  sync.Mutex
	ran []executor.Opportunity
}

func (r *fakeRunner) Run(ctx context.Context, o executor.Opportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, o)
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func mustOpportunityMessage(t *testing.T, id string) kafka.Message {
	t.Helper()
	body, err := json.Marshal(map[string]string{"id": id, "chainName": "ethereum"})
	require.NoError(t, err)
	return kafka.Message{Value: body}
}

func runSubscriberBriefly(t *testing.T, sub *Subscriber) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := sub.Run(ctx)
	require.NoError(t, err)
}

func TestSubscriber_RunsAndCommitsEachMessage(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{mustOpportunityMessage(t, "opp-1"), mustOpportunityMessage(t, "opp-2")}}
	runner := &fakeRunner{}
	sub := New(reader, runner, nil, 4, zap.NewNop())

	runSubscriberBriefly(t, sub)

	assert.Equal(t, 2, runner.count())
	assert.Equal(t, 2, reader.committedCount())
}

func TestSubscriber_MalformedMessageIsSkippedAndCommitted(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Value: []byte("not json")}}}
	runner := &fakeRunner{}
	sub := New(reader, runner, nil, 4, zap.NewNop())

	runSubscriberBriefly(t, sub)

	assert.Equal(t, 0, runner.count())
	assert.Equal(t, 1, reader.committedCount())
}

type fakeDedup struct {
	seen map[string]bool
}

func (f *fakeDedup) SeenBefore(ctx context.Context, id string) (bool, error) {
	if f.seen[id] {
		return true, nil
	}
	f.seen[id] = true
	return false, nil
}

func TestSubscriber_DedupSkipsRedeliveredOpportunity(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{mustOpportunityMessage(t, "opp-1"), mustOpportunityMessage(t, "opp-1")}}
	runner := &fakeRunner{}
	sub := New(reader, runner, &fakeDedup{seen: map[string]bool{}}, 4, zap.NewNop())

	runSubscriberBriefly(t, sub)

	assert.Equal(t, 1, runner.count(), "the redelivered duplicate must not reach the pipeline")
	assert.Equal(t, 2, reader.committedCount(), "both messages are still committed")
}

func TestSubscriber_FetchErrorDoesNotStopTheLoop(t *testing.T) {
	reader := &erroringThenQueuedReader{failures: 1, queue: []kafka.Message{mustOpportunityMessage(t, "opp-1")}}
	runner := &fakeRunner{}
	sub := New(reader, runner, nil, 4, zap.NewNop())

	runSubscriberBriefly(t, sub)

	assert.Equal(t, 1, runner.count())
}

type erroringThenQueuedReader struct {
	mu       sync.Mutex
	failures int
	queue    []kafka.Message
}

func (f *erroringThenQueuedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return kafka.Message{}, errors.New("transient fetch error")
	}
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *erroringThenQueuedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	return nil
}

func (f *erroringThenQueuedReader) Close() error { return nil }
