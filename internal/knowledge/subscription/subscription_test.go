package subscription

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndPublishDelivers(t *testing.T) {
	e := New[int](16)

	var mu sync.Mutex
	var got []int
	e.Subscribe(nil, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		e.Publish(i)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, 10*time.Millisecond)
}

func TestFilterExcludesNonMatching(t *testing.T) {
	e := New[int](16)

	var mu sync.Mutex
	var got []int
	e.Subscribe(FilterFunc[int](func(v int) bool { return v%2 == 0 }), func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := 0; i < 6; i++ {
		e.Publish(i)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, v := range got {
		assert.Equal(t, 0, v%2)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	e := New[int](16)
	id := e.Subscribe(nil, func(int) {})
	assert.True(t, e.Unsubscribe(id))
	assert.False(t, e.Unsubscribe(id))
}

func TestUnsubscribeUnknownID(t *testing.T) {
	e := New[int](16)
	assert.False(t, e.Unsubscribe("does-not-exist"))
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	e := New[int](2)

	release := make(chan struct{})
	var mu sync.Mutex
	var got []int
	id := e.Subscribe(nil, func(v int) {
		<-release
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		e.Publish(i)
	}
	// At most one event is held by the blocked handler and two by the queue.
	assert.GreaterOrEqual(t, e.DropCount(id), 7)
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, time.Second, 10*time.Millisecond)

	// The oldest pending events were dropped, so the newest one is delivered last.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1] == 9
	}, time.Second, 10*time.Millisecond)
}

func TestCount(t *testing.T) {
	e := New[int](16)
	assert.Equal(t, 0, e.Count())
	id1 := e.Subscribe(nil, func(int) {})
	id2 := e.Subscribe(nil, func(int) {})
	assert.Equal(t, 2, e.Count())
	e.Unsubscribe(id1)
	e.Unsubscribe(id2)
	assert.Equal(t, 0, e.Count())
}

func TestHandlerPanicDoesNotKillDispatcher(t *testing.T) {
	e := New[int](16)

	var mu sync.Mutex
	count := 0
	e.Subscribe(nil, func(v int) {
		mu.Lock()
		count++
		mu.Unlock()
		if v == 0 {
			panic("boom")
		}
	})

	for i := 0; i < 3; i++ {
		e.Publish(i)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 3
	}, time.Second, 10*time.Millisecond)
}

func TestDefaultQueueSizeAppliedWhenNonPositive(t *testing.T) {
	e := New[int](0)
	require.NotNil(t, e)
	assert.Equal(t, DefaultQueueSize, e.queueSize)
}
