// Package worker consumes task.enqueued events and runs each task through
// the supervisor, archiving the result and announcing completion.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/taskwright/taskwright/internal/queue"
	"github.com/taskwright/taskwright/internal/supervisor"
	"github.com/taskwright/taskwright/internal/telemetry"
)

// StoreAPI captures the archive methods the worker needs.
type StoreAPI interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
	MarkTaskRunning(ctx context.Context, id string) error
	SaveResult(ctx context.Context, res *supervisor.Result) error
}

// Runner executes one task. In production this is the supervisor.
type Runner interface {
	Run(ctx context.Context, task supervisor.Task) (*supervisor.Result, error)
}

// Indexer adds finished tasks to the search index.
type Indexer interface {
	IndexResult(res *supervisor.Result) error
}

// Source reads task events. In production this is a queue.Consumer.
type Source interface {
	Read(ctx context.Context, stream string, opts ...queue.ConsumerOption) ([]queue.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
}

// Notifier publishes task lifecycle events.
type Notifier interface {
	PublishPayload(ctx context.Context, stream, eventType string, payload interface{}, opts ...queue.PublishOption) (string, error)
}

// Processor ties the queue, the supervisor, and the archive together.
type Processor struct {
	logger    *log.Logger
	store     StoreAPI
	runner    Runner
	consumer  Source
	publisher Notifier
	index     Indexer
	stream    string
}

// NewProcessor constructs a processor. index and publisher may be nil when
// search or completion events are not wired.
func NewProcessor(st StoreAPI, runner Runner, consumer Source, publisher Notifier, index Indexer, stream string) *Processor {
	if stream == "" {
		stream = queue.StreamTaskEnqueued
	}
	return &Processor{
		logger:    telemetry.NewLogger("WORKER"),
		store:     st,
		runner:    runner,
		consumer:  consumer,
		publisher: publisher,
		index:     index,
		stream:    stream,
	}
}

// Start blocks, consuming task.enqueued events until the context ends.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("consuming stream %s", p.stream)
	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, p.stream, queue.WithBlock(5*time.Second), queue.WithCount(16))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range msgs {
			if err := p.Handle(ctx, msg); err != nil {
				p.logger.Printf("error handling message %s: %v", msg.ID, err)
			}
			if err := p.consumer.Ack(ctx, p.stream, msg.ID); err != nil {
				p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

// Handle processes one consumed message. Replayed events are skipped via
// the idempotency table so a redelivered message never runs a task twice.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	claimed, err := p.store.ClaimIdempotency(ctx, msg.Envelope.EventType, msg.Envelope.EventID)
	if err != nil {
		return fmt.Errorf("claim idempotency: %w", err)
	}
	if !claimed {
		p.logger.Printf("skip event %s: already processed", msg.Envelope.EventID)
		return nil
	}

	var payload queue.TaskEnqueuedPayload
	if err := json.Unmarshal(msg.Envelope.Data, &payload); err != nil {
		return fmt.Errorf("unmarshal task payload: %w", err)
	}
	if payload.TaskID == "" || payload.Goal == "" {
		return fmt.Errorf("event %s has incomplete task payload", msg.Envelope.EventID)
	}

	if err := p.store.MarkTaskRunning(ctx, payload.TaskID); err != nil {
		p.logger.Printf("warn: mark task %s running: %v", payload.TaskID, err)
	}

	res, err := p.runner.Run(ctx, supervisor.Task{ID: payload.TaskID, Goal: payload.Goal})
	if err != nil {
		return fmt.Errorf("run task %s: %w", payload.TaskID, err)
	}

	if err := p.store.SaveResult(ctx, res); err != nil {
		return fmt.Errorf("archive task %s: %w", payload.TaskID, err)
	}
	if p.index != nil {
		if err := p.index.IndexResult(res); err != nil {
			p.logger.Printf("warn: index task %s: %v", payload.TaskID, err)
		}
	}
	if p.publisher != nil {
		finished := queue.TaskFinishedPayload{TaskID: res.TaskID, Outcome: res.Outcome, Reason: res.Reason}
		if _, err := p.publisher.PublishPayload(ctx, queue.StreamTaskFinished, queue.EventTaskFinished, finished); err != nil {
			p.logger.Printf("warn: publish task.finished for %s: %v", payload.TaskID, err)
		}
	}
	p.logger.Printf("task %s finished %s", res.TaskID, res.Outcome)
	return nil
}
