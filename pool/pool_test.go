package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	p, err := New(4, 0)
	require.NoError(t, err)
	p.Start()

	var count atomic.Int64
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(func() { count.Add(1) }))
	}

	require.Eventually(t, func() bool { return count.Load() == 100 }, time.Second, time.Millisecond)

	p.Close()
	p.Join()
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	p, err := New(2, 0)
	require.NoError(t, err)
	p.Start()

	var ran atomic.Bool
	require.NoError(t, p.Submit(func() { panic("boom") }))
	require.NoError(t, p.Submit(func() { ran.Store(true) }))

	require.Eventually(t, func() bool { return ran.Load() }, time.Second, time.Millisecond)

	p.Close()
	p.Join()
}

func TestWorkerPool_CloseDrainsQueuedTasks(t *testing.T) {
	p, err := New(1, 0)
	require.NoError(t, err)
	p.Start()

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() { count.Add(1) }))
	}
	p.Close()
	p.Join()

	require.EqualValues(t, 10, count.Load())
}
