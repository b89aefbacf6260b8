package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"postpilot/pkg/logger"

	"go.uber.org/zap"
)

// Handler processes one task. A returned error triggers the retry policy.
type Handler func(ctx context.Context, task Task) error

type ConsumerOptions struct {
	PollInterval time.Duration
	// OnFailed runs after a task exhausted its attempts.
	OnFailed func(ctx context.Context, task Task, err error)
	// After delays the first claim until the channel closes, so a consumer
	// never overlaps with its predecessor on the same queue.
	After <-chan struct{}
}

// Consumer drains one queue with concurrency fixed at one.
type Consumer struct {
	broker  *RedisBroker
	key     string
	handler Handler
	opts    ConsumerOptions

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Subscribe starts consuming key in a new goroutine.
func (b *RedisBroker) Subscribe(key string, handler Handler, opts ConsumerOptions) *Consumer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		broker:  b,
		key:     key,
		handler: handler,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Consumer) Key() string { return c.key }

// Shutdown stops claiming new tasks. It does not wait.
func (c *Consumer) Shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once the consumer loop has exited.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the in-flight task (if any) finished. When ctx expires
// first the in-flight handler's context is cancelled.
func (c *Consumer) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

func (c *Consumer) Close(ctx context.Context) error {
	c.Shutdown()
	return c.Wait(ctx)
}

func (c *Consumer) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Consumer) run() {
	defer close(c.done)
	defer c.cancel()

	if c.opts.After != nil {
		select {
		case <-c.opts.After:
		case <-c.stop:
			return
		}
	}

	logger.Debug("consumer started", zap.String("queue", c.key))
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		c.drain()
		select {
		case <-c.stop:
			logger.Debug("consumer stopped", zap.String("queue", c.key))
			return
		case <-ticker.C:
		}
	}
}

func (c *Consumer) drain() {
	for !c.stopping() {
		task, err := c.broker.Claim(c.ctx, c.key)
		if errors.Is(err, ErrEmpty) {
			return
		}
		if err != nil {
			logger.Warn("failed to claim task", zap.String("queue", c.key), zap.Error(err))
			return
		}
		c.process(*task)
	}
}

func (c *Consumer) process(task Task) {
	err := c.invoke(task)

	// Bookkeeping must land even when the handler context was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err == nil {
		if ackErr := c.broker.Ack(ctx, c.key, task); ackErr != nil {
			logger.Error("failed to ack task", zap.String("queue", c.key), zap.String("task_id", task.ID), zap.Error(ackErr))
		}
		return
	}

	if !task.Final() {
		delay := task.Backoff()
		logger.Warn("task failed, retrying",
			zap.String("queue", c.key),
			zap.String("task_id", task.ID),
			zap.Int("attempt", task.Attempt),
			zap.Int("max_attempts", task.MaxAttempts),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if retryErr := c.broker.Retry(ctx, c.key, task, delay); retryErr != nil {
			logger.Error("failed to reschedule task", zap.String("queue", c.key), zap.String("task_id", task.ID), zap.Error(retryErr))
		}
		return
	}

	logger.Error("task failed after all attempts",
		zap.String("queue", c.key),
		zap.String("task_id", task.ID),
		zap.Int("attempts", task.Attempt),
		zap.Error(err))
	if failErr := c.broker.Fail(ctx, c.key, task, err.Error()); failErr != nil {
		logger.Error("failed to record exhausted task", zap.String("queue", c.key), zap.String("task_id", task.ID), zap.Error(failErr))
	}
	if c.opts.OnFailed != nil {
		c.opts.OnFailed(ctx, task, err)
	}
}

func (c *Consumer) invoke(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task handler panicked", zap.String("queue", c.key), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(c.ctx, task)
}
