package dedup_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/opsdesk/internal/dedup"
)

func TestDo_ConcurrentSameKeyRunsOnce(t *testing.T) {
	g := dedup.New[string]("test")
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})

	fn := func() (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, _ = g.Do("k", fn)
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _, _ = g.Do("k", fn)
	}()

	// Give the second caller time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"value", "value"}, results)
}

func TestDo_FailureIsNotCached(t *testing.T) {
	g := dedup.New[int]("test")
	boom := errors.New("boom")

	_, _, err := g.Do("k", func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	v, shared, err := g.Do("k", func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, shared)
}

func TestDo_SuccessIsNotRetainedAfterCompletion(t *testing.T) {
	g := dedup.New[int]("test")
	var calls int32
	fn := func() (int, error) { return int(atomic.AddInt32(&calls, 1)), nil }

	first, _, _ := g.Do("k", fn)
	second, _, _ := g.Do("k", fn)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestDo_DifferentKeysIndependent(t *testing.T) {
	g := dedup.New[string]("test")
	a, _, _ := g.Do("a", func() (string, error) { return "A", nil })
	b, _, _ := g.Do("b", func() (string, error) { return "B", nil })
	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
}

func TestDoContext_CallerCancels(t *testing.T) {
	g := dedup.New[string]("test")
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := g.DoContext(ctx, "slow", func() (string, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
