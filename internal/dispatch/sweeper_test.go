package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/storage/memory"
)

// flakyRelay 按目标地址决定投递成败
type flakyRelay struct {
	mu      sync.Mutex
	sends   []string
	failFor map[string]bool
}

func (r *flakyRelay) Send(_ context.Context, _, to, _ string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[to] {
		return errors.New("relay rejected recipient")
	}
	r.sends = append(r.sends, to)
	return nil
}

func (r *flakyRelay) Forward(_ context.Context, _, to string, _ []byte) error {
	return errors.New("sweeper must compose headers, not forward raw")
}

func scheduledAt(id, to string, due time.Time) *domain.ScheduledSend {
	return &domain.ScheduledSend{
		ID:        id,
		AccountID: "acct-1",
		From:      "pat@mailsage.io",
		To:        to,
		Subject:   "later",
		Body:      "see you",
		DueAt:     due,
		Status:    domain.ScheduledStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("到期条目投递并标记sent", func(t *testing.T) {
		store := memory.NewStore()
		rly := &flakyRelay{}
		sweeper := NewSweeper(store, rly, nil, zap.NewNop(), time.Minute)

		require.NoError(t, store.CreateScheduledSend(ctx, scheduledAt("s1", "x@y.z", now.Add(-time.Minute))))
		require.NoError(t, store.CreateScheduledSend(ctx, scheduledAt("s2", "a@b.c", now.Add(time.Hour))))

		sweeper.Sweep(ctx, now)

		assert.Equal(t, []string{"x@y.z"}, rly.sends)

		// 未到期的条目保持 pending
		due, err := store.ListDueScheduledSends(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "s2", due[0].ID)
	})

	t.Run("投递失败标记failed且是终态", func(t *testing.T) {
		store := memory.NewStore()
		rly := &flakyRelay{failFor: map[string]bool{"x@y.z": true}}
		sweeper := NewSweeper(store, rly, nil, zap.NewNop(), time.Minute)

		require.NoError(t, store.CreateScheduledSend(ctx, scheduledAt("s1", "x@y.z", now.Add(-time.Minute))))

		sweeper.Sweep(ctx, now)

		// 失败条目不会出现在后续扫描中
		due, err := store.ListDueScheduledSends(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, due)

		// 中继恢复后也不会重投
		rly.failFor = nil
		sweeper.Sweep(ctx, now.Add(time.Hour))
		assert.Empty(t, rly.sends)
	})

	t.Run("单条失败不影响同批其余条目", func(t *testing.T) {
		store := memory.NewStore()
		rly := &flakyRelay{failFor: map[string]bool{"bad@y.z": true}}
		sweeper := NewSweeper(store, rly, nil, zap.NewNop(), time.Minute)

		require.NoError(t, store.CreateScheduledSend(ctx, scheduledAt("s1", "bad@y.z", now.Add(-time.Minute))))
		require.NoError(t, store.CreateScheduledSend(ctx, scheduledAt("s2", "ok@y.z", now.Add(-time.Minute))))

		sweeper.Sweep(ctx, now)

		assert.Equal(t, []string{"ok@y.z"}, rly.sends)
	})

	t.Run("空扫描无副作用", func(t *testing.T) {
		store := memory.NewStore()
		rly := &flakyRelay{}
		sweeper := NewSweeper(store, rly, nil, zap.NewNop(), time.Minute)

		sweeper.Sweep(ctx, now)

		assert.Empty(t, rly.sends)
	})
}
