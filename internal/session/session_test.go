package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-andrews-coulter/essay-search-engine/internal/config"
	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
	"github.com/james-andrews-coulter/essay-search-engine/internal/rank"
)

type fakeOrigin struct {
	srv   *httptest.Server
	files map[string][]byte
}

func newFakeOrigin(t *testing.T) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{files: make(map[string][]byte)}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := o.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOrigin) deploy(t *testing.T, timestamp int64, chunks []manifest.Chunk, embeddings [][]float32) manifest.Version {
	t.Helper()

	manifestJSON, err := json.Marshal(manifest.Manifest{Chunks: chunks, TotalChunks: len(chunks)})
	require.NoError(t, err)

	dims := 0
	if len(embeddings) > 0 {
		dims = len(embeddings[0])
	}
	vectorsJSON, err := json.Marshal(manifest.VectorAsset{Model: "stub", Dimensions: dims, Embeddings: embeddings})
	require.NoError(t, err)

	sum := md5.Sum(vectorsJSON)
	v := manifest.Version{Timestamp: timestamp, Checksum: hex.EncodeToString(sum[:]), EmbeddingsSize: int64(len(vectorsJSON))}
	versionJSON, err := json.Marshal(v)
	require.NoError(t, err)

	o.files["/data/metadata.json"] = manifestJSON
	o.files["/data/embeddings.json"] = vectorsJSON
	o.files["/data/version.json"] = versionJSON
	return v
}

func defaultChunks() []manifest.Chunk {
	return []manifest.Chunk{
		{ID: 0, BookTitle: "How to Travel", ChapterTitle: "On Going for a Walk", Tags: "travel", Content: "walking"},
		{ID: 1, BookTitle: "A Calmer Life", ChapterTitle: "Introduction", Tags: "anxiety", Content: "worry"},
	}
}

func sessionConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Dataset.BaseURL = baseURL
	cfg.Dataset.TagsPath = ""
	cfg.Cache.RootDir = t.TempDir()
	cfg.Embeddings.Provider = "static"
	return cfg
}

func TestSession_ConcurrentNoticesKeepNewestWithoutBlocking(t *testing.T) {
	cfg := sessionConfig(t, "http://origin.test")
	s := New(cfg, nil)
	defer func() { _ = s.Close() }()

	// No reader draining the channel; concurrent publishers must never
	// block each other even when every one of them hits the full buffer.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			s.publishUpdate(UpdateNotice{Version: manifest.Version{Timestamp: ts}})
		}(int64(i))
	}
	wg.Wait()

	final := UpdateNotice{Version: manifest.Version{Timestamp: 99}}
	s.publishUpdate(final)

	// Exactly one notice pending, and it is the newest one.
	select {
	case got := <-s.Updates():
		assert.Equal(t, int64(99), got.Version.Timestamp)
	default:
		t.Fatal("expected a pending notice")
	}
	select {
	case got := <-s.Updates():
		t.Fatalf("unexpected second notice: %+v", got)
	default:
	}
}

func TestSession_SearchBeforeLoadIsNotReady(t *testing.T) {
	cfg := sessionConfig(t, "http://origin.test")
	s := New(cfg, nil)
	defer func() { _ = s.Close() }()

	_, err := s.Search(context.Background(), rank.Query{Text: "anything"})
	require.Error(t, err)
	assert.True(t, errors.IsNotReady(err))

	_, _, err = s.CheckForUpdate(context.Background())
	assert.True(t, errors.IsNotReady(err))
}

func TestSession_LoadThenSearch(t *testing.T) {
	origin := newFakeOrigin(t)
	origin.deploy(t, 100, defaultChunks(), [][]float32{{1, 0}, {0, 1}})
	cfg := sessionConfig(t, origin.srv.URL)

	s := New(cfg, nil)
	defer func() { _ = s.Close() }()

	require.NoError(t, s.Load(context.Background(), nil))

	st := s.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, 2, st.ChunkCount)
	assert.Equal(t, rank.VariantDense, st.Variant)
	assert.NotEmpty(t, st.ID)

	res, err := s.Search(context.Background(), rank.Query{Text: "anxiety"})
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestSession_UpdateStagedAndAppliedOnReload(t *testing.T) {
	origin := newFakeOrigin(t)
	v1 := origin.deploy(t, 100, defaultChunks(), [][]float32{{1, 0}, {0, 1}})
	cfg := sessionConfig(t, origin.srv.URL)

	s := New(cfg, nil)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Load(context.Background(), nil))
	idBefore := s.ID()

	// No update yet.
	updated, _, err := s.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)

	// Redeploy with an extra chunk.
	chunks := append(defaultChunks(), manifest.Chunk{
		ID: 2, BookTitle: "A Calmer Life", ChapterTitle: "Conclusion", Tags: "calm", Content: "peace",
	})
	v2 := origin.deploy(t, 200, chunks, [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}})
	require.NotEqual(t, v1.Checksum, v2.Checksum)

	updated, remote, err := s.CheckForUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, v2.Checksum, remote.Checksum)

	// Notice delivered, old dataset still serving.
	select {
	case notice := <-s.Updates():
		assert.Equal(t, v2.Checksum, notice.Version.Checksum)
	default:
		t.Fatal("expected an update notice")
	}
	assert.Equal(t, 2, s.Status().ChunkCount)
	assert.True(t, s.Status().UpdatePending)

	// Reload swaps in the staged store and rotates the session ID.
	applied, err := s.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NotEqual(t, idBefore, s.ID())
	assert.Equal(t, 3, s.Status().ChunkCount)
	assert.Equal(t, v2.Checksum, s.Status().Version.Checksum)
	assert.False(t, s.Status().UpdatePending)

	// Reload with nothing staged is a no-op.
	applied, err = s.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSession_ChunkLookup(t *testing.T) {
	origin := newFakeOrigin(t)
	origin.deploy(t, 100, defaultChunks(), [][]float32{{1, 0}, {0, 1}})
	cfg := sessionConfig(t, origin.srv.URL)

	s := New(cfg, nil)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Load(context.Background(), nil))

	c, ok, err := s.Chunk(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A Calmer Life", c.BookTitle)

	_, ok, err = s.Chunk(99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_SearchAfterClose(t *testing.T) {
	origin := newFakeOrigin(t)
	origin.deploy(t, 100, defaultChunks(), [][]float32{{1, 0}, {0, 1}})
	cfg := sessionConfig(t, origin.srv.URL)

	s := New(cfg, nil)
	require.NoError(t, s.Load(context.Background(), nil))
	require.NoError(t, s.Close())

	_, err := s.Search(context.Background(), rank.Query{Text: "anything"})
	require.Error(t, err)
	assert.False(t, errors.IsNotReady(err))
}
