package exchange

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 10; i++ {
		q.push(i)
	}
	for i := 0; i < 10; i++ {
		v, ok := q.pop(nil)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Zero(t, q.len())
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newQueue[string]()

	done := make(chan string)
	go func() {
		v, _ := q.pop(nil)
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.push("wake up")
	assert.Equal(t, "wake up", <-done)
}

func TestQueuePopDeadline(t *testing.T) {
	q := newQueue[int]()

	deadline := time.Now().Add(50 * time.Millisecond)
	start := time.Now()
	_, ok := q.pop(&deadline)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	// An item beats the deadline.
	q.push(7)
	deadline = time.Now().Add(time.Second)
	v, ok := q.pop(&deadline)
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := newQueue[int]()

	const producers, perProducer = 8, 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.push(i)
			}
		}()
	}
	wg.Wait()

	seen := 0
	for {
		_, ok := q.tryPop()
		if !ok {
			break
		}
		seen++
	}
	assert.Equal(t, producers*perProducer, seen)
}
