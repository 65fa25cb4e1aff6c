package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := NewRecorder(true, filepath.Join(t.TempDir(), "telemetry.db"), nil)
	require.NoError(t, err)
	require.NotNil(t, r)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRecorder_DisabledIsNil(t *testing.T) {
	r, err := NewRecorder(false, "", nil)
	require.NoError(t, err)
	assert.Nil(t, r)

	// The nil recorder must be safe to use.
	r.RecordSearch(context.Background(), SearchEvent{Query: "x"})
	stats, err := r.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalSearches)
	assert.NoError(t, r.Close())
}

func TestRecorder_RecordAndStats(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.RecordSearch(ctx, SearchEvent{Query: "anxiety", Variant: "dense", Hits: 3, Latency: 7 * time.Millisecond})
	r.RecordSearch(ctx, SearchEvent{Query: "zzz", Variant: "keyword", Hits: 0, Latency: 3 * time.Millisecond})
	r.RecordSearch(ctx, SearchEvent{Query: "calm", Variant: "dense", Tags: []string{"calm"}, Hits: 1, Latency: 40 * time.Millisecond})

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalSearches)
	assert.Equal(t, int64(1), stats.ZeroResults)
	assert.Greater(t, stats.AvgLatencyMS, 0.0)

	require.Len(t, stats.RecentZero, 1)
	assert.Equal(t, "zzz", stats.RecentZero[0].Query)

	var counted int64
	for _, b := range stats.LatencyBuckets {
		counted += b.Count
	}
	assert.Equal(t, int64(3), counted)
}

func TestRecorder_ZeroRingBounded(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < zeroRingSize+10; i++ {
		r.RecordSearch(ctx, SearchEvent{Query: "nothing", Hits: 0, Latency: time.Millisecond})
	}

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Len(t, stats.RecentZero, zeroRingSize)
	assert.Equal(t, int64(zeroRingSize+10), stats.ZeroResults)
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, 0, bucketFor(time.Millisecond))
	assert.Equal(t, len(latencyBounds), bucketFor(2*time.Second))
}
