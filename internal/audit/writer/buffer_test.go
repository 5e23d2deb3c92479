package writer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditcore/internal/audit"
)

func bufEvent(id int) audit.Event {
	return audit.Event{
		TenantID: "t-1",
		Entity:   audit.Entity{Type: "document", ID: fmt.Sprintf("doc-%d", id)},
	}
}

func TestRingBuffer_FIFO(t *testing.T) {
	b := NewRingBuffer(10)
	for i := 0; i < 5; i++ {
		assert.False(t, b.Enqueue(bufEvent(i)))
	}
	assert.Equal(t, 5, b.Len())

	batch := b.DequeueBatch(3)
	require.Len(t, batch, 3)
	for i, ev := range batch {
		assert.Equal(t, fmt.Sprintf("doc-%d", i), ev.Entity.ID)
	}
	assert.Equal(t, 2, b.Len())

	rest := b.DequeueBatch(100)
	require.Len(t, rest, 2)
	assert.Equal(t, "doc-3", rest[0].Entity.ID)
	assert.Equal(t, "doc-4", rest[1].Entity.ID)
	assert.Zero(t, b.Len())
}

func TestRingBuffer_DropOldestWhenFull(t *testing.T) {
	b := NewRingBuffer(3)
	for i := 0; i < 3; i++ {
		assert.False(t, b.Enqueue(bufEvent(i)))
	}

	assert.True(t, b.Enqueue(bufEvent(3)), "fourth enqueue evicts")
	assert.True(t, b.Enqueue(bufEvent(4)))

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, int64(2), b.Dropped())

	batch := b.DequeueBatch(3)
	require.Len(t, batch, 3)
	assert.Equal(t, "doc-2", batch[0].Entity.ID, "oldest surviving event first")
	assert.Equal(t, "doc-3", batch[1].Entity.ID)
	assert.Equal(t, "doc-4", batch[2].Entity.ID)
}

func TestRingBuffer_DequeueEmpty(t *testing.T) {
	b := NewRingBuffer(4)
	assert.Nil(t, b.DequeueBatch(10))
	assert.Nil(t, b.DequeueBatch(0))
}

func TestRingBuffer_WrapAround(t *testing.T) {
	b := NewRingBuffer(2)
	for round := 0; round < 5; round++ {
		b.Enqueue(bufEvent(round * 2))
		b.Enqueue(bufEvent(round*2 + 1))
		batch := b.DequeueBatch(2)
		require.Len(t, batch, 2)
		assert.Equal(t, fmt.Sprintf("doc-%d", round*2), batch[0].Entity.ID)
		assert.Equal(t, fmt.Sprintf("doc-%d", round*2+1), batch[1].Entity.ID)
	}
	assert.Zero(t, b.Dropped())
}

func TestRingBuffer_DefaultCapacity(t *testing.T) {
	b := NewRingBuffer(0)
	assert.Equal(t, 10000, b.capacity)
}

func TestRingBuffer_ConcurrentAccess(t *testing.T) {
	b := NewRingBuffer(64)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Enqueue(bufEvent(g*100 + i))
				if i%3 == 0 {
					b.DequeueBatch(2)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, b.Len(), 64)
}
