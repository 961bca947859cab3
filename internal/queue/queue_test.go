package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue_PushAndDrain(t *testing.T) {
	q := New[int]()
	q.Push(1, 2)
	q.Push(3)

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []int{1, 2, 3}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DrainEmpty(t *testing.T) {
	q := New[string]()
	assert.Empty(t, q.Drain())
}

func TestQueue_Clear(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)
	q.Clear()
	assert.Equal(t, 0, q.Len())
}

func TestQueue_BoundDropsOldest(t *testing.T) {
	q := NewBounded[int](3)
	q.Push(1, 2, 3)
	q.Push(4)

	assert.Equal(t, []int{2, 3, 4}, q.Drain())
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(j)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())
}
