package link

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestListen(t *testing.T) {
	ln, err := Listen(context.Background(), DefaultConfig("127.0.0.1:0"), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer ln.Close()
	assert.NotEmpty(t, ln.Addr().String())
}

func TestListenGivesUpAfterMaxAttempts(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := Config{Addr: busy.Addr().String(), MaxAttempts: 3, Interval: time.Millisecond}
	_, err = Listen(context.Background(), cfg, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestListenRetriesUntilFree(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := busy.Addr().String()
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = busy.Close()
	}()

	cfg := Config{Addr: addr, MaxAttempts: 100, Interval: 10 * time.Millisecond}
	ln, err := Listen(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, addr, ln.Addr().String())
}

func TestListenStopsOnCancel(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{Addr: busy.Addr().String(), MaxAttempts: 30, Interval: time.Second}
	_, err = Listen(ctx, cfg, zap.NewNop().Sugar())
	assert.Error(t, err)
}
