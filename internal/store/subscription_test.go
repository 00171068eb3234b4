package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubscription_PushAndFinish(t *testing.T) {
	sub := NewSubscription[int](nil)

	go func() {
		sub.Push(1)
		sub.Push(2)
		sub.Finish()
	}()

	var got []int
	for v := range sub.C {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
	assert.NoError(t, sub.Err())
}

func TestSubscription_Fail(t *testing.T) {
	sub := NewSubscription[int](nil)
	boom := errors.New("listener cancelled")

	go func() {
		sub.Push(1)
		sub.Fail(boom)
	}()

	v, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = <-sub.C
	require.False(t, ok)
	assert.ErrorIs(t, sub.Err(), boom)
}

func TestSubscription_CloseUnblocksProducer(t *testing.T) {
	sub := NewSubscription[int](nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Channel capacity is 1: the first two pushes fill the buffer and
		// then block until Close releases the producer.
		i := 0
		for sub.Push(i) {
			i++
		}
		sub.Finish()
	}()

	v, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, 0, v)

	sub.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after Close")
	}
}

func TestSubscription_CloseCallsDetachOnce(t *testing.T) {
	var calls int
	var mu sync.Mutex
	sub := NewSubscription[int](func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	sub.Close()
	sub.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestSubscription_PushAfterCloseReportsFalse(t *testing.T) {
	sub := NewSubscription[int](nil)
	sub.Close()
	assert.False(t, sub.Push(42))
}

func TestSubscription_DoneClosesOnClose(t *testing.T) {
	sub := NewSubscription[int](nil)

	select {
	case <-sub.Done():
		t.Fatal("done closed before Close")
	default:
	}

	sub.Close()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after Close")
	}
}
