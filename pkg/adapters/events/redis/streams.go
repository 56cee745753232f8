package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/aescanero/jobrelay/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultMaxLen = 10000
	readCount     = 10
	readBlock     = time.Second

	// defaultClaimMinIdle is how long an entry must sit unacknowledged
	// before another consumer takes it over
	defaultClaimMinIdle = 5 * time.Minute
)

// StreamsEventBus implements EventBus using Redis Streams.
//
// Work topics are shared by every relay instance through a consumer group,
// so each entry reaches one subscriber. All other topics fan out: every
// subscriber reads every entry published after it subscribed.
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
	maxLen        int64
	claimMinIdle  time.Duration
	workTopics    map[string]bool

	mu      sync.Mutex
	readers map[string][]context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
}

// NewStreamsEventBus creates a Redis Streams event bus. The messages topic
// is consumed through consumerGroup as consumerName.
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) (*StreamsEventBus, error) {
	if consumerGroup == "" || consumerName == "" {
		return nil, fmt.Errorf("consumer group and consumer name are required")
	}
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		maxLen:        defaultMaxLen,
		claimMinIdle:  defaultClaimMinIdle,
		workTopics:    map[string]bool{domain.TopicMessages: true},
		readers:       make(map[string][]context.CancelFunc),
	}, nil
}

// Publish appends event to the topic's stream, trimming old entries
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: e.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("topic", topic),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe starts delivering the topic's entries to handler until ctx is
// canceled, the topic is unsubscribed or the bus is closed
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)
	shared := e.workTopics[topic]

	var (
		read    func(ctx context.Context) ([]redis.XStream, error)
		ackable bool
	)

	if shared {
		err := e.client.XGroupCreateMkStream(ctx, streamKey, e.consumerGroup, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		read = func(ctx context.Context) ([]redis.XStream, error) {
			return e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    e.consumerGroup,
				Consumer: e.consumerName,
				Streams:  []string{streamKey, ">"},
				Count:    readCount,
				Block:    readBlock,
			}).Result()
		}
		ackable = true
	} else {
		// Start after the newest entry present now, so nothing published
		// after Subscribe returns is missed
		lastID, err := e.lastEntryID(ctx, streamKey)
		if err != nil {
			return err
		}
		read = func(ctx context.Context) ([]redis.XStream, error) {
			streams, err := e.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{streamKey, lastID},
				Count:   readCount,
				Block:   readBlock,
			}).Result()
			for _, s := range streams {
				if n := len(s.Messages); n > 0 {
					lastID = s.Messages[n-1].ID
				}
			}
			return streams, err
		}
	}

	readCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("event bus is closed")
	}
	e.readers[topic] = append(e.readers[topic], cancel)
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.Bool("shared", shared),
		zap.String("consumer", e.consumerName))

	go func() {
		defer e.wg.Done()
		if shared {
			e.reclaim(readCtx, streamKey, handler)
		}
		e.readStream(readCtx, streamKey, read, ackable, handler)
	}()

	return nil
}

// reclaim takes over the group's entries left unacknowledged by consumers
// that stopped before handling them, and delivers them to handler
func (e *StreamsEventBus) reclaim(ctx context.Context, streamKey string, handler ports.EventHandler) {
	start := "0-0"
	for ctx.Err() == nil {
		messages, next, err := e.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   streamKey,
			Group:    e.consumerGroup,
			Consumer: e.consumerName,
			MinIdle:  e.claimMinIdle,
			Start:    start,
			Count:    readCount,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Error("failed to reclaim pending entries",
					zap.String("stream", streamKey),
					zap.Error(err))
			}
			return
		}

		if len(messages) > 0 {
			e.logger.Info("reclaimed pending entries",
				zap.String("stream", streamKey),
				zap.String("consumer", e.consumerName),
				zap.Int("count", len(messages)))
		}
		for _, message := range messages {
			e.deliver(ctx, streamKey, message, true, handler)
		}

		if next == "" || next == "0-0" || next == start {
			return
		}
		start = next
	}
}

func (e *StreamsEventBus) lastEntryID(ctx context.Context, streamKey string) (string, error) {
	entries, err := e.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("failed to read stream head: %w", err)
	}
	if len(entries) == 0 {
		return "0-0", nil
	}
	return entries[0].ID, nil
}

func (e *StreamsEventBus) readStream(
	ctx context.Context,
	streamKey string,
	read func(ctx context.Context) ([]redis.XStream, error),
	ackable bool,
	handler ports.EventHandler,
) {
	for ctx.Err() == nil {
		streams, err := read(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				e.deliver(ctx, streamKey, message, ackable, handler)
			}
		}
	}
}

func (e *StreamsEventBus) deliver(ctx context.Context, streamKey string, message redis.XMessage, ackable bool, handler ports.EventHandler) {
	event, err := decodeMessage(message)
	if err != nil {
		e.logger.Error("invalid stream entry",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		// Undecodable entries are never redelivered
		if ackable {
			e.ack(ctx, streamKey, message.ID)
		}
		return
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if ackable {
		e.ack(ctx, streamKey, message.ID)
	}
}

func (e *StreamsEventBus) ack(ctx context.Context, streamKey, messageID string) {
	if err := e.client.XAck(context.WithoutCancel(ctx), streamKey, e.consumerGroup, messageID).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", messageID),
			zap.Error(err))
	}
}

// decodeMessage accepts either an encoded domain.Event under "data" or a
// bare trigger message under "message", as written by external producers
func decodeMessage(message redis.XMessage) (domain.Event, error) {
	if data, ok := message.Values["data"].(string); ok {
		var event domain.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return domain.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		if event.ID == "" {
			event.ID = message.ID
		}
		return event, nil
	}

	if raw, ok := message.Values["message"].(string); ok {
		return domain.MessageEvent(message.ID, domain.ParseMessage([]byte(raw)), time.Now().UTC()), nil
	}

	return domain.Event{}, fmt.Errorf("entry has neither data nor message field")
}

// Unsubscribe stops every reader this bus started for topic
func (e *StreamsEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	cancels := e.readers[topic]
	delete(e.readers, topic)
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// Close stops all readers and waits for them to return. The Redis client
// is closed by its owner.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	e.closed = true
	for topic, cancels := range e.readers {
		for _, cancel := range cancels {
			cancel()
		}
		delete(e.readers, topic)
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return "jobrelay:events:" + topic
}
