package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"casedesk/internal/util"
	"casedesk/pkg/domain"
)

// RedisStreamNotifier pushes events onto a Redis stream. A separate worker
// process consumes the stream and delivers to the outbound channel, so the
// case service never talks to the delivery transport directly.
type RedisStreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

type RedisStreamConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

func NewRedisStreamNotifier(cfg RedisStreamConfig) (*RedisStreamNotifier, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("notify stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisStreamNotifier{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// NewRedisStreamNotifierWithClient reuses an existing client. Tests use this
// to point the notifier at miniredis.
func NewRedisStreamNotifierWithClient(client *redis.Client, stream string, maxLen int64) *RedisStreamNotifier {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisStreamNotifier{client: client, stream: stream, maxLen: maxLen}
}

func (n *RedisStreamNotifier) Emit(ctx context.Context, ev Event) error {
	if ev.CaseID == "" || ev.Kind == "" {
		return errors.New("event requires case id and kind")
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"case_id":        ev.CaseID,
			"kind":           string(ev.Kind),
			"recipient_role": string(ev.RecipientRole),
			"at":             at.Format(time.RFC3339Nano),
		},
	}).Err()
}

// StreamConsumer reads events off the notification stream with a consumer
// group. Delivery is at-least-once: unacked messages are reclaimed after
// claimIdle, and handler failures requeue until maxRetries, after which the
// event is dropped.
type StreamConsumer struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type StreamConsumerConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewStreamConsumer(cfg StreamConsumerConfig) (*StreamConsumer, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	c := newStreamConsumer(redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}), cfg)
	if c.stream == "" {
		return nil, errors.New("notify stream required")
	}
	return c, nil
}

// NewStreamConsumerWithClient reuses an existing client, for tests.
func NewStreamConsumerWithClient(client *redis.Client, cfg StreamConsumerConfig) *StreamConsumer {
	return newStreamConsumer(client, cfg)
}

func newStreamConsumer(client *redis.Client, cfg StreamConsumerConfig) *StreamConsumer {
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "notifier"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	return &StreamConsumer{
		client:       client,
		stream:       strings.TrimSpace(cfg.Stream),
		group:        group,
		consumerBase: consumer,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}
}

// Run supervises the consumer loops until ctx is canceled. Each loop first
// reclaims messages a dead consumer left pending, then blocks on new
// entries.
func (c *StreamConsumer) Run(ctx context.Context, concurrency int, handler func(context.Context, Event) error) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	c.ensureGroup(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", c.consumerBase, i)
		g.Go(func() error {
			c.consumeLoop(gctx, consumer, handler)
			return nil
		})
	}
	return g.Wait()
}

func (c *StreamConsumer) ensureGroup(ctx context.Context) {
	c.once.Do(func() {
		// BUSYGROUP means the group already exists; anything else will
		// surface on the first consume.
		_ = c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	})
}

func (c *StreamConsumer) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, Event) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := c.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				c.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: consumer,
			Streams:  []string{c.stream, ">"},
			Count:    c.readCount,
			Block:    c.block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (c *StreamConsumer) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: consumer,
		MinIdle:  c.claimIdle,
		Start:    "0-0",
		Count:    c.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *StreamConsumer) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, Event) error) {
	ev, attempts, ok := decodeEvent(msg.Values)
	if !ok {
		c.ackAndDel(ctx, msg.ID)
		return
	}
	if err := handler(ctx, ev); err == nil {
		c.ackAndDel(ctx, msg.ID)
		return
	}
	if attempts+1 >= c.maxRetries {
		c.ackAndDel(ctx, msg.ID)
		return
	}
	if c.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryDelay):
		}
	}
	_ = c.requeueAndAck(ctx, msg.ID, ev, attempts+1)
}

func (c *StreamConsumer) ackAndDel(ctx context.Context, msgID string) {
	_, _ = c.client.XAck(ctx, c.stream, c.group, msgID).Result()
	_, _ = c.client.XDel(ctx, c.stream, msgID).Result()
}

func (c *StreamConsumer) requeueAndAck(ctx context.Context, msgID string, ev Event, attempts int) error {
	pipe := c.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		MaxLen: c.maxLen,
		Approx: true,
		Values: map[string]any{
			"case_id":        ev.CaseID,
			"kind":           string(ev.Kind),
			"recipient_role": string(ev.RecipientRole),
			"at":             ev.At.Format(time.RFC3339Nano),
			"attempts":       strconv.Itoa(attempts),
		},
	})
	pipe.XAck(ctx, c.stream, c.group, msgID)
	pipe.XDel(ctx, c.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func decodeEvent(values map[string]any) (Event, int, bool) {
	caseID, _ := values["case_id"].(string)
	kind, _ := values["kind"].(string)
	if caseID == "" || kind == "" {
		return Event{}, 0, false
	}
	ev := Event{CaseID: caseID, Kind: EventKind(kind)}
	if role, _ := values["recipient_role"].(string); role != "" {
		ev.RecipientRole = domain.Role(role)
	}
	if raw, _ := values["at"].(string); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ev.At = t
		}
	}
	attempts := 0
	if raw, _ := values["attempts"].(string); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			attempts = n
		}
	}
	return ev, attempts, true
}
