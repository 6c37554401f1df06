package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchTracker_CountsUpToLimit(t *testing.T) {
	clock := newFakeClock()
	b, err := NewBatchTracker(BatchConfig{MaxFiles: 3, TTL: 10 * time.Minute, Now: clock.Now})
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		n, err := b.RecordUpload("batch-1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := b.RecordUpload("batch-1")
	assert.ErrorIs(t, err, ErrBatchFull)
	assert.Equal(t, 3, n, "count never exceeds the limit")

	n, err = b.RecordUpload("batch-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatchTracker_ExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	b, err := NewBatchTracker(BatchConfig{MaxFiles: 1, TTL: 10 * time.Minute, Now: clock.Now})
	require.NoError(t, err)

	_, err = b.RecordUpload("b")
	require.NoError(t, err)
	_, err = b.RecordUpload("b")
	require.ErrorIs(t, err, ErrBatchFull)

	clock.Advance(10 * time.Minute)
	n, err := b.RecordUpload("b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatchTracker_TTLRefreshedOnUpload(t *testing.T) {
	clock := newFakeClock()
	b, err := NewBatchTracker(BatchConfig{MaxFiles: 5, TTL: 10 * time.Minute, Now: clock.Now})
	require.NoError(t, err)

	_, _ = b.RecordUpload("b")
	clock.Advance(8 * time.Minute)
	_, _ = b.RecordUpload("b")
	clock.Advance(8 * time.Minute)

	n, err := b.RecordUpload("b")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBatchTracker_Defaults(t *testing.T) {
	b, err := NewBatchTracker(BatchConfig{})
	require.NoError(t, err)
	assert.Equal(t, 8, b.max)
	assert.Equal(t, 10*time.Minute, b.ttl)
}
