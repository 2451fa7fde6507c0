package sleeplock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestMutex_HolderTracking(t *testing.T) {
	t.Parallel()

	m := New()
	require.False(t, m.Locked())

	m.Lock(7)
	require.True(t, m.Holding(7))
	require.False(t, m.Holding(8))
	require.False(t, m.Holding(0))
	require.True(t, m.Locked())

	require.False(t, m.Unlock(8), "foreign token must not unlock")
	require.True(t, m.Holding(7))

	require.True(t, m.Unlock(7))
	require.False(t, m.Locked())
	require.False(t, m.Unlock(7), "double unlock")

	m.Lock(9)
	require.True(t, m.Holding(9))
	require.True(t, m.Unlock(9))
}

func TestMutex_ZeroTokenPanics(t *testing.T) {
	t.Parallel()

	m := New()
	require.Panics(t, func() { m.Lock(0) })
}

// A second locker parks until the first unlocks.
func TestMutex_Blocks(t *testing.T) {
	t.Parallel()

	m := New()
	m.Lock(1)

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Lock(2)
		acquired.Store(true)
		m.Unlock(2)
	}()

	time.Sleep(20 * time.Millisecond)
	require.False(t, acquired.Load(), "second locker must wait")

	require.True(t, m.Unlock(1))
	<-done
	require.True(t, acquired.Load())
}

// Mutual exclusion under contention: the guarded counter never sees two holders.
func TestMutex_Exclusion(t *testing.T) {
	m := New()
	var inside atomic.Int32
	var next atomic.Uint64

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 500; i++ {
				tok := next.Add(1)
				m.Lock(tok)
				if n := inside.Add(1); n != 1 {
					t.Errorf("%d holders inside", n)
				}
				inside.Add(-1)
				m.Unlock(tok)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}
