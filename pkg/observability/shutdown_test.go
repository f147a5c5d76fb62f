package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsHooks(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var calls int32
	sm.Register("repository", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	sm.Register("cache", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	sm.Register("redis", func(ctx context.Context) error {
		return errors.New("already closed")
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: already closed")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), 20*time.Millisecond)
	sm.Register("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestShutdownManager_WaitForSignalContext(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, sm.WaitForSignal(ctx))
}
