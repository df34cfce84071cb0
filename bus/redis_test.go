package bus

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FahadPatwary/seriousserver/domain"
)

func TestRedisBus_Decode(t *testing.T) {
	b := newBus(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "", 1)
	t.Cleanup(func() { _ = b.Close() })

	ev := domain.RemoteSync{
		Instance:   "someone-else",
		RoomCode:   "AB12CD",
		SenderID:   "A",
		SyncType:   "MANUAL",
		Timestamp:  1700000000000,
		MediaState: json.RawMessage(`{"currentTime":1,"isPlaying":true}`),
	}
	encode := func(ev domain.RemoteSync) string {
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		return string(raw)
	}

	own := ev
	own.Instance = b.Instance()
	noRoom := ev
	noRoom.RoomCode = ""

	tests := []struct {
		name     string
		channel  string
		payload  string
		wantKeep bool
	}{
		{name: "remote update", channel: "mediasync:room:AB12CD", payload: encode(ev), wantKeep: true},
		{name: "own update", channel: "mediasync:room:AB12CD", payload: encode(own)},
		{name: "missing room", channel: "mediasync:room:AB12CD", payload: encode(noRoom)},
		{name: "channel mismatch", channel: "mediasync:room:ZZZZZZ", payload: encode(ev)},
		{name: "garbage", channel: "mediasync:room:AB12CD", payload: "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, keep := b.decode(tt.channel, tt.payload)
			assert.Equal(t, tt.wantKeep, keep)
			if tt.wantKeep {
				assert.Equal(t, ev.SenderID, got.SenderID)
				assert.JSONEq(t, string(ev.MediaState), string(got.MediaState))
			}
		})
	}
}

func TestRedisBus_Channel(t *testing.T) {
	b := newBus(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "party", 1)
	t.Cleanup(func() { _ = b.Close() })

	assert.Equal(t, "party:room:AB12CD", b.channel("AB12CD"))
	assert.NotEmpty(t, b.Instance())
}

func TestRedisBus_PublishDoesNotBlock(t *testing.T) {
	b := newBus(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "", 1)
	t.Cleanup(func() { _ = b.Close() })

	ev := domain.RemoteSync{RoomCode: "AB12CD", SenderID: "A"}
	require.NoError(t, b.Publish(ev))
	assert.ErrorIs(t, b.Publish(ev), ErrPublishQueueFull)

	queued := <-b.queue
	assert.Equal(t, b.Instance(), queued.Instance, "queued updates carry the instance id")
}

func TestRedisBus_RunStopsWithContext(t *testing.T) {
	b := newBus(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "", 1)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestRedisBus_RoundTrip needs a reachable redis; set REDIS_TEST_ADDR to run it.
func TestRedisBus_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := Options{Addr: addr, Prefix: "mediasync-test"}
	pub, err := NewRedisBus(ctx, opts)
	require.NoError(t, err)
	defer pub.Close()
	sub, err := NewRedisBus(ctx, opts)
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan domain.RemoteSync, 1)
	go sub.Subscribe(ctx, func(ev domain.RemoteSync) { received <- ev })
	go pub.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	ev := domain.RemoteSync{RoomCode: "AB12CD", SenderID: "A", MediaState: json.RawMessage(`{"currentTime":1,"isPlaying":true}`)}
	require.NoError(t, pub.Publish(ev))

	select {
	case got := <-received:
		assert.Equal(t, pub.Instance(), got.Instance)
		assert.Equal(t, "AB12CD", got.RoomCode)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}
