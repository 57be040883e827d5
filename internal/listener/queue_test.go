package listener

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wardsync/internal/remote"
)

func TestBatchQueue_FIFO(t *testing.T) {
	q := newBatchQueue()
	for i := int64(1); i <= 3; i++ {
		require.True(t, q.Enqueue(item{batch: &remote.Batch{ReadTime: i}}))
	}
	require.True(t, q.Enqueue(item{err: errors.New("boom")}))
	assert.Equal(t, 4, q.Len())

	for i := int64(1); i <= 3; i++ {
		it, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, it.batch.ReadTime)
	}
	it, ok := q.TryDequeue()
	require.True(t, ok)
	assert.EqualError(t, it.err, "boom")

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestBatchQueue_SignalCoalesces(t *testing.T) {
	q := newBatchQueue()
	q.Enqueue(item{})
	q.Enqueue(item{})

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce")
	default:
	}
}

func TestBatchQueue_Close(t *testing.T) {
	q := newBatchQueue()
	q.Enqueue(item{})
	<-q.Wait()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(item{}), "closed queue rejects items")
	_, ok := q.TryDequeue()
	assert.True(t, ok, "queued items survive close")

	_, open := <-q.Wait()
	assert.False(t, open, "close wakes the consumer")
}
