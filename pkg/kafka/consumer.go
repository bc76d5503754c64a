package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrStreamDropped is returned by Consumer.Start when the broker connection is
// lost for MaxFetchFailures consecutive fetches or idle broker pings. Callers should
// resubscribe.
var ErrStreamDropped = errors.New("kafka: stream dropped")

const (
	defaultMaxHandlerRetries = 3
	defaultMaxFetchFailures  = 5
	defaultFetchBackoff      = 200 * time.Millisecond
	defaultHandlerBackoff    = 100 * time.Millisecond
	defaultIdleCheck         = 30 * time.Second
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, event *Event) error

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int

	// StartOffset applies when the group has no committed offset.
	// Defaults to kafka.LastOffset so a fresh subscriber sees new events only.
	StartOffset int64

	MaxHandlerRetries int
	MaxFetchFailures  int
	FetchBackoff      time.Duration
	HandlerBackoff    time.Duration

	// DLQ, when set, receives messages that could not be decoded or handled.
	DLQ *DLQProducer

	// kafka-go's reader retries broker errors internally, so a dead cluster
	// usually shows up as a fetch that never returns. After IdleCheck without
	// a message the consumer runs Ping; a failed ping counts as a fetch
	// failure. Ping defaults to PingBrokers over Brokers, and is disabled
	// when neither is set.
	IdleCheck time.Duration
	Ping      func(ctx context.Context) error
}

func (cfg *ConsumerConfig) applyDefaults() {
	if cfg.MaxHandlerRetries <= 0 {
		cfg.MaxHandlerRetries = defaultMaxHandlerRetries
	}
	if cfg.MaxFetchFailures <= 0 {
		cfg.MaxFetchFailures = defaultMaxFetchFailures
	}
	if cfg.FetchBackoff <= 0 {
		cfg.FetchBackoff = defaultFetchBackoff
	}
	if cfg.HandlerBackoff <= 0 {
		cfg.HandlerBackoff = defaultHandlerBackoff
	}
	if cfg.StartOffset == 0 {
		cfg.StartOffset = kafka.LastOffset
	}
	if cfg.IdleCheck <= 0 {
		cfg.IdleCheck = defaultIdleCheck
	}
	if cfg.Ping == nil && len(cfg.Brokers) > 0 {
		brokers := cfg.Brokers
		cfg.Ping = func(ctx context.Context) error { return PingBrokers(ctx, brokers) }
	}
}

// Consumer reads events from one topic and hands them to a Handler with
// bounded retries. Consumers are single use: after Start returns they are closed.
type Consumer struct {
	cfg       ConsumerConfig
	reader    MessageReader
	handler   Handler
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewConsumer creates a consumer backed by a kafka-go reader.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	cfg.applyDefaults()
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		StartOffset: cfg.StartOffset,
	})
	return NewConsumerWithReader(cfg, r, handler, logger)
}

// NewConsumerWithReader creates a consumer over an existing reader.
func NewConsumerWithReader(cfg ConsumerConfig, r MessageReader, handler Handler, logger *slog.Logger) *Consumer {
	cfg.applyDefaults()
	return &Consumer{cfg: cfg, reader: r, handler: handler, logger: logger}
}

// Start consumes until ctx is cancelled (returns nil) or the stream drops
// (returns an error wrapping ErrStreamDropped). The reader is closed either way.
func (c *Consumer) Start(ctx context.Context) error {
	defer func() { _ = c.Close() }()

	c.logger.InfoContext(ctx, "consumer started",
		slog.String("topic", c.cfg.Topic),
		slog.String("group", c.cfg.GroupID),
	)

	failures := 0
	for {
		msg, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfoContext(ctx, "consumer stopping", slog.String("topic", c.cfg.Topic))
				return nil
			}
			failures++
			ConsumerFetchErrors.WithLabelValues(c.cfg.Topic, c.cfg.GroupID).Inc()
			if failures >= c.cfg.MaxFetchFailures {
				return fmt.Errorf("%w: %d consecutive fetch failures on %s: %v",
					ErrStreamDropped, failures, c.cfg.Topic, err)
			}
			c.logger.WarnContext(ctx, "fetch failed",
				slog.String("topic", c.cfg.Topic),
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			if !sleep(ctx, c.cfg.FetchBackoff*time.Duration(failures)) {
				return nil
			}
			continue
		}
		if msg == nil {
			// Idle and the brokers answered.
			failures = 0
			continue
		}
		failures = 0

		if !c.process(ctx, *msg) {
			return nil
		}
	}
}

// fetch waits for the next message. It returns (nil, nil) when no message
// arrived within IdleCheck and the brokers answered a ping.
func (c *Consumer) fetch(ctx context.Context) (*kafka.Message, error) {
	if c.cfg.Ping == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return nil, err
		}
		return &msg, nil
	}

	fctx, cancel := context.WithTimeout(ctx, c.cfg.IdleCheck)
	msg, err := c.reader.FetchMessage(fctx)
	cancel()
	switch {
	case err == nil:
		return &msg, nil
	case ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded):
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.IdleCheck)
	defer cancel()
	if err := c.cfg.Ping(pctx); err != nil {
		return nil, fmt.Errorf("idle broker ping: %w", err)
	}
	return nil, nil
}

// process handles one message. It returns false when ctx was cancelled mid-way;
// in that case the message is left uncommitted for redelivery.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	labels := []string{c.cfg.Topic, c.cfg.GroupID}
	ConsumerMessagesReceived.WithLabelValues(labels...).Inc()

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.ErrorContext(ctx, "undecodable message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		c.deadLetter(ctx, msg, err)
		c.commit(ctx, msg)
		return true
	}

	hctx := extractTrace(ctx, msg.Headers)
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxHandlerRetries; attempt++ {
		if lastErr = c.handler(hctx, event); lastErr == nil {
			break
		}
		c.logger.WarnContext(hctx, "handler failed",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		if attempt < c.cfg.MaxHandlerRetries && !sleep(ctx, c.cfg.HandlerBackoff*time.Duration(attempt)) {
			return false
		}
	}
	ConsumerProcessingDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

	if lastErr != nil {
		ConsumerMessagesFailed.WithLabelValues(labels...).Inc()
		c.logger.ErrorContext(hctx, "handler failed after all retries, skipping message",
			slog.String("event_id", event.EventID),
			slog.String("event_type", event.EventType),
			slog.Int("retries", c.cfg.MaxHandlerRetries),
			slog.String("error", lastErr.Error()),
		)
		c.deadLetter(ctx, msg, lastErr)
	} else {
		ConsumerMessagesProcessed.WithLabelValues(labels...).Inc()
	}

	c.commit(ctx, msg)
	return true
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.cfg.DLQ == nil {
		return
	}
	if err := c.cfg.DLQ.Publish(ctx, msg, cause, c.cfg.GroupID); err != nil {
		c.logger.ErrorContext(ctx, "dead-letter publish failed", slog.String("error", err.Error()))
		return
	}
	ConsumerDLQPublished.WithLabelValues(c.cfg.Topic, c.cfg.GroupID).Inc()
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.logger.ErrorContext(ctx, "commit failed",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the underlying reader. It is safe to call multiple times.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.reader.Close()
	})
	return c.closeErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
