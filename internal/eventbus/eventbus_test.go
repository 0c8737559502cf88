package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/friendsincode/audioservice/internal/control"
	"github.com/friendsincode/audioservice/internal/events"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSink_PublishesEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	sink, err := NewRedisSink(ctx, cfg, "node-a", zerolog.Nop())
	require.NoError(t, err)
	defer sink.Close()

	reader := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer reader.Close()
	sub := reader.Subscribe(ctx, cfg.Channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(ctx, control.Playing(1)))

	select {
	case raw := <-sub.Channel():
		env, err := unmarshalMessage([]byte(raw.Payload))
		require.NoError(t, err)
		assert.Equal(t, events.EventSessionPlaying, env.Type)
		assert.Equal(t, 1, env.Session)
		assert.Equal(t, "Playing", env.Kind)
		assert.Equal(t, "1: Playing", env.Line)
		assert.Equal(t, "node-a", env.NodeID)
		assert.NotEmpty(t, env.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestRedisSink_CircuitOpensAfterFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	cfg.MaxFailures = 2
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.WriteTimeout = 100 * time.Millisecond

	sink, err := NewRedisSink(context.Background(), cfg, "node-a", zerolog.Nop())
	require.NoError(t, err)
	defer sink.Close()

	mr.Close()

	for i := 0; i < cfg.MaxFailures; i++ {
		err := sink.Deliver(context.Background(), control.EOS(0))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	require.ErrorIs(t, sink.Deliver(context.Background(), control.EOS(0)), ErrCircuitOpen)
}

func TestNewRedisSink_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := DefaultRedisConfig()
	cfg.Addr = addr
	cfg.DialTimeout = 100 * time.Millisecond
	_, err := NewRedisSink(context.Background(), cfg, "node-a", zerolog.Nop())
	require.Error(t, err)
}

func TestNewNATSSink_Unreachable(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond

	_, err := NewNATSSink(cfg, "node-a", zerolog.Nop())
	require.Error(t, err)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "audioservice.control.playing", subjectFor("audioservice.control", control.KindPlaying))
	assert.Equal(t, "audioservice.control.eos", subjectFor("audioservice.control", control.KindEOS))
}

func TestNodeID_Unique(t *testing.T) {
	a, b := NodeID(), NodeID()
	assert.NotEqual(t, a, b)
}
