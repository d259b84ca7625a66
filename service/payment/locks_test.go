package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountLocks_Exclusive(t *testing.T) {
	l := NewAccountLocks()

	release, err := l.Acquire(context.Background(), []string{"b", "a"})
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), []string{"a", "c"})
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("overlapping lock set acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock set not acquired after release")
	}
}

func TestAccountLocks_Disjoint(t *testing.T) {
	l := NewAccountLocks()

	r1, err := l.Acquire(context.Background(), []string{"a"})
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background(), []string{"b"})
	require.NoError(t, err)
	r1()
	r2()
	assert.Equal(t, 0, l.Held())
}

func TestAccountLocks_DuplicateIDs(t *testing.T) {
	l := NewAccountLocks()

	release, err := l.Acquire(context.Background(), []string{"a", "a", "b"})
	require.NoError(t, err)
	release()
	assert.Equal(t, 0, l.Held())
}

func TestAccountLocks_ContextCancelled(t *testing.T) {
	l := NewAccountLocks()

	release, err := l.Acquire(context.Background(), []string{"b"})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// "a" must have been released on the way out
	r, err := l.Acquire(context.Background(), []string{"a"})
	require.NoError(t, err)
	r()
}

func TestAccountLocks_NoDeadlock(t *testing.T) {
	l := NewAccountLocks()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []string{"a", "b", "c"}
			if i%2 == 0 {
				ids = []string{"c", "b", "a"}
			}
			release, err := l.Acquire(context.Background(), ids)
			if err != nil {
				return
			}
			release()
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock")
	}
	assert.Equal(t, 0, l.Held())
}
