package cmdqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSingleWorkerProcessesInSubmitOrder(t *testing.T) {
	var mu sync.Mutex
	var order []uint16

	handler := func(ctx context.Context, cmd Command) {
		mu.Lock()
		order = append(order, cmd.ClientSlot)
		mu.Unlock()
	}

	q := New(zerolog.Nop(), 16, 1, handler)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Run(ctx)
	}()

	for i := uint16(1); i <= 5; i++ {
		require.NoError(t, q.Submit(ctx, Command{Kind: ProxyPDU, ClientSlot: i}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, time.Second, time.Millisecond)

	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uint16{1, 2, 3, 4, 5}, order)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	q := New(zerolog.Nop(), 4, 2, func(ctx context.Context, cmd Command) {})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
