package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ChangeHandler is satisfied by *timeoff.Engine.
type ChangeHandler interface {
	RequestChanged(ctx context.Context, change timeoff.RequestChange) (timeoff.ChangeResult, error)
	DropChange(ctx context.Context, change timeoff.RequestChange) (timeoff.ChangeResult, error)
}

const (
	DefaultMaxAttempts  = 5
	DefaultRetryBackoff = 500 * time.Millisecond

	maxRetryBackoff = 30 * time.Second
)

type Consumer struct {
	// MaxAttempts is how often a change is applied before the consumer
	// falls back to dropping the affected snapshots.
	MaxAttempts int
	// RetryBackoff is the first wait between attempts. It doubles up to 30s.
	RetryBackoff time.Duration

	reader  Reader
	handler ChangeHandler
	logger  *zap.Logger
	done    chan struct{}
}

// NewKafkaReader builds a group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	if topic == "" {
		topic = RequestChangedTopic
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})
}

func NewConsumer(reader Reader, handler ChangeHandler, logger ...*zap.Logger) *Consumer {
	l := zap.L().Named("events.consumer")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("events.consumer")
	}
	return &Consumer{
		MaxAttempts:  DefaultMaxAttempts,
		RetryBackoff: DefaultRetryBackoff,
		reader:       reader,
		handler:      handler,
		logger:       l,
		done:         make(chan struct{}),
	}
}

// Start runs the consume loop in a goroutine until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		c.Run(ctx)
	}()
}

// Done is closed when a loop started with Start returns.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Run consumes messages until ctx is cancelled.
//
// Undecodable and invalid events are committed and skipped. A committed
// offset moves the group past every earlier message, so a change that fails
// is never left behind: it is retried with backoff, and once MaxAttempts is
// used up the snapshots it affects are dropped so the next read recomputes
// them. The next message is not fetched until one of the two succeeds.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("request change consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("request change consumer stopped")
				return
			}
			c.logger.Error("fetch request change failed", zap.Error(err))
			continue
		}

		var event RequestChangedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Error("decode request change failed",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			c.commit(ctx, msg)
			continue
		}

		result, err := c.apply(ctx, event)
		if err != nil {
			if generic.IsClientError(err) {
				c.logger.Warn("invalid request change, skipping",
					zap.String("event_id", event.EventID),
					zap.String("worker_id", event.WorkerID),
					zap.Error(err),
				)
				c.commit(ctx, msg)
				continue
			}
			// Only a cancelled ctx gets here. The offset stays uncommitted
			// and the group resumes from this message.
			c.logger.Info("request change consumer stopped before applying change",
				zap.Int64("offset", msg.Offset),
				zap.String("event_id", event.EventID),
			)
			return
		}

		if !c.commit(ctx, msg) {
			continue
		}
		c.logger.Debug("request change applied",
			zap.String("event_id", event.EventID),
			zap.String("worker_id", event.WorkerID),
			zap.Int("recomputed", len(result.Recomputed)),
			zap.Int("invalidated", len(result.Invalidated)),
		)
	}
}

// apply hands the change to the engine until it succeeds, fails as a client
// error, or ctx is done.
func (c *Consumer) apply(ctx context.Context, event RequestChangedEvent) (timeoff.ChangeResult, error) {
	change := event.Change()
	backoff := c.RetryBackoff
	for attempt := 1; ; attempt++ {
		dropping := attempt > c.MaxAttempts

		var (
			res timeoff.ChangeResult
			err error
		)
		if dropping {
			res, err = c.handler.DropChange(ctx, change)
		} else {
			res, err = c.handler.RequestChanged(ctx, change)
		}
		if err == nil && dropping {
			c.logger.Warn("request change not applied, affected snapshots dropped",
				zap.String("event_id", event.EventID),
				zap.String("worker_id", event.WorkerID),
				zap.Int("invalidated", len(res.Invalidated)),
			)
		}
		if err == nil || generic.IsClientError(err) {
			return res, err
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		c.logger.Error("apply request change failed, retrying",
			zap.String("event_id", event.EventID),
			zap.String("worker_id", event.WorkerID),
			zap.Int("attempt", attempt),
			zap.Bool("dropping", dropping),
			zap.Bool("store_unavailable", generic.IsRetryable(err)),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) bool {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("commit request change failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		return false
	}
	return true
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
