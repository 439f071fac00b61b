package redisstreams

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revaudit/errors"
	"revaudit/logging"
	"revaudit/messaging"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	m := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestTransport_PublishWritesStreamPerType(t *testing.T) {
	ctx := context.Background()
	rc := newRedis(t)
	tpt, err := NewTransport(Config{Client: rc, Logger: logging.NewNoopLogger()})
	require.NoError(t, err)

	msg := messaging.NewMessage("audit.entity_changed", map[string]any{"entity": "Person"})
	require.NoError(t, tpt.Publish(ctx, msg))
	require.NoError(t, tpt.PublishAll(ctx, []messaging.IMessage{
		messaging.NewMessage("audit.revision_created", map[string]any{"revision": 1}),
		messaging.NewMessage("audit.revision_created", map[string]any{"revision": 2}),
	}))

	entries, err := rc.XRange(ctx, "audit:audit.entity_changed", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	decoded, err := messaging.DecodeFields(entries[0].Values, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, "Person", decoded.Payload.(map[string]any)["entity"])

	n, err := rc.XLen(ctx, "audit:audit.revision_created").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestTransport_ConsumerGroupDelivery(t *testing.T) {
	rc := newRedis(t)
	tpt, err := NewTransport(Config{
		Client:       rc,
		GroupName:    "auditors",
		BlockTimeout: 20 * time.Millisecond,
		Logger:       logging.NewNoopLogger(),
	})
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []string
	)
	handler := messaging.NamedHandler("collect", func(_ context.Context, m messaging.IMessage) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m.GetID())
		return nil
	})
	require.NoError(t, tpt.Subscribe("audit.entity_changed", handler))
	require.NoError(t, tpt.Start(context.Background()))
	defer tpt.Close()
	assert.True(t, errors.IsErrorCode(tpt.Start(context.Background()), errors.ErrCodeConflict))

	msg := messaging.NewMessage("audit.entity_changed", nil)
	require.NoError(t, tpt.Publish(context.Background(), msg))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == msg.ID
	}, 2*time.Second, 10*time.Millisecond)

	stats := tpt.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, 1, stats.HandlerCount)
}

func TestTransport_Defaults(t *testing.T) {
	tpt, err := NewTransport(Config{Client: newRedis(t)})
	require.NoError(t, err)
	assert.Equal(t, "audit:", tpt.cfg.StreamPrefix)
	assert.Equal(t, "revaudit", tpt.cfg.GroupName)
	assert.Regexp(t, `^consumer-[0-9a-f-]{36}$`, tpt.cfg.ConsumerName)
	assert.Equal(t, "audit:x", tpt.StreamName("x"))
	require.NoError(t, tpt.Close())

	_, err = NewTransport(Config{})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeInvalidInput))
}

func revisionMessage(msgType string, rev int64, entity string) *messaging.Message {
	msg := messaging.NewMessage(msgType, map[string]any{"revision": rev}).
		SetMetadata(messaging.MetadataRevision, rev)
	if entity != "" {
		msg.SetMetadata(messaging.MetadataEntity, entity)
	}
	return msg
}

func TestTransport_EntriesCarryRevisionAndEntity(t *testing.T) {
	ctx := context.Background()
	rc := newRedis(t)
	tpt, err := NewTransport(Config{Client: rc, Logger: logging.NewNoopLogger()})
	require.NoError(t, err)

	require.NoError(t, tpt.Publish(ctx, revisionMessage("audit.entity_changed", 3, "Person")))
	entries, err := rc.XRange(ctx, "audit:audit.entity_changed", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3", entries[0].Values["revision"])
	assert.Equal(t, "Person", entries[0].Values["entity"])
}

func TestTransport_ReplayAfterRevision(t *testing.T) {
	ctx := context.Background()
	tpt, err := NewTransport(Config{Client: newRedis(t), Logger: logging.NewNoopLogger()})
	require.NoError(t, err)

	require.NoError(t, tpt.PublishAll(ctx, []messaging.IMessage{
		revisionMessage("audit.revision_created", 1, ""),
		revisionMessage("audit.revision_created", 2, ""),
		messaging.NewMessage("audit.revision_created", nil),
		revisionMessage("audit.revision_created", 3, ""),
	}))

	got, err := tpt.Replay(ctx, "audit.revision_created", 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(2), got[0].Payload.(map[string]any)["revision"])
	assert.Equal(t, float64(3), got[1].Payload.(map[string]any)["revision"])

	none, err := tpt.Replay(ctx, "audit.entity_changed", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTransport_WildcardReadsAuditStreams(t *testing.T) {
	tpt, err := NewTransport(Config{
		Client:       newRedis(t),
		BlockTimeout: 20 * time.Millisecond,
		Logger:       logging.NewNoopLogger(),
	})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		types []string
	)
	require.NoError(t, tpt.Subscribe(messaging.WildcardType, messaging.NamedHandler("all",
		func(_ context.Context, m messaging.IMessage) error {
			mu.Lock()
			defer mu.Unlock()
			types = append(types, m.GetType())
			return nil
		})))
	require.NoError(t, tpt.Start(context.Background()))
	defer tpt.Close()

	require.NoError(t, tpt.PublishAll(context.Background(), []messaging.IMessage{
		revisionMessage("audit.revision_created", 1, ""),
		revisionMessage("audit.collection_changed", 1, "Person"),
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 2
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []string{"audit.revision_created", "audit.collection_changed"}, types)
	mu.Unlock()
}
