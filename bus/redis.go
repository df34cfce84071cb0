package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/FahadPatwary/seriousserver/domain"
)

const (
	publishQueue   = 1024
	publishTimeout = 2 * time.Second
)

var ErrPublishQueueFull = errors.New("bus: publish queue full")

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisBus relays accepted syncMedia updates between relay instances over
// redis pub/sub. Each instance ignores its own messages.
type RedisBus struct {
	rdb      *redis.Client
	prefix   string
	instance string
	queue    chan domain.RemoteSync
}

// NewRedisBus connects to redis and verifies connectivity.
func NewRedisBus(ctx context.Context, opts Options) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return newBus(rdb, opts.Prefix, publishQueue), nil
}

func newBus(rdb *redis.Client, prefix string, queueSize int) *RedisBus {
	if prefix == "" {
		prefix = "mediasync"
	}
	return &RedisBus{
		rdb:      rdb,
		prefix:   prefix,
		instance: uuid.NewString(),
		queue:    make(chan domain.RemoteSync, queueSize),
	}
}

func (b *RedisBus) Instance() string { return b.instance }

// Publish queues ev for Run without blocking. Updates are dropped while the
// queue is full.
func (b *RedisBus) Publish(ev domain.RemoteSync) error {
	ev.Instance = b.instance
	select {
	case b.queue <- ev:
		return nil
	default:
		return ErrPublishQueueFull
	}
}

// Run sends queued updates to redis in order until ctx is done.
func (b *RedisBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			if err := b.send(ctx, ev); err != nil {
				slog.Warn("bus: publish failed", "room", ev.RoomCode, "error", err)
			}
		}
	}
}

func (b *RedisBus) send(ctx context.Context, ev domain.RemoteSync) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel(ev.RoomCode), raw).Err()
}

// Subscribe blocks until ctx is done, invoking fn for every update published
// by another instance.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(domain.RemoteSync)) {
	pubsub := b.rdb.PSubscribe(ctx, b.channel("*"))
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, keep := b.decode(msg.Channel, msg.Payload)
			if keep {
				fn(ev)
			}
		}
	}
}

func (b *RedisBus) decode(channel, payload string) (domain.RemoteSync, bool) {
	var ev domain.RemoteSync
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		slog.Warn("bus: invalid message", "channel", channel, "error", err)
		return ev, false
	}
	if ev.Instance == b.instance || ev.RoomCode == "" {
		return ev, false
	}
	if room := strings.TrimPrefix(channel, b.prefix+":room:"); room != ev.RoomCode {
		slog.Warn("bus: channel and room disagree", "channel", channel, "room", ev.RoomCode)
		return ev, false
	}
	return ev, true
}

func (b *RedisBus) Close() error { return b.rdb.Close() }

func (b *RedisBus) channel(room string) string { return b.prefix + ":room:" + room }
