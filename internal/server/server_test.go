package server

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-andrews-coulter/essay-search-engine/internal/config"
	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
	"github.com/james-andrews-coulter/essay-search-engine/internal/session"
	"github.com/james-andrews-coulter/essay-search-engine/internal/telemetry"
)

type fixture struct {
	router  http.Handler
	sess    *session.Session
	origin  *httptest.Server
	files   map[string][]byte
}

func newFixture(t *testing.T, loaded bool) *fixture {
	t.Helper()

	f := &fixture{files: make(map[string][]byte)}
	f.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := f.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(f.origin.Close)
	f.deploy(t, 100)

	cfg := config.Default()
	cfg.Dataset.BaseURL = f.origin.URL
	cfg.Dataset.TagsPath = ""
	cfg.Cache.RootDir = t.TempDir()
	cfg.Embeddings.Provider = "static"

	f.sess = session.New(cfg, nil)
	t.Cleanup(func() { _ = f.sess.Close() })
	if loaded {
		require.NoError(t, f.sess.Load(context.Background(), nil))
	}

	recorder, err := telemetry.NewRecorder(true, filepath.Join(t.TempDir(), "telemetry.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = recorder.Close() })

	f.router = NewRouter(f.sess, recorder, nil)
	return f
}

func (f *fixture) deploy(t *testing.T, timestamp int64) {
	t.Helper()

	m := manifest.Manifest{
		Chunks: []manifest.Chunk{
			{ID: 0, BookTitle: "How to Travel", ChapterTitle: "On Going for a Walk", Tags: "travel", Content: "# Walking\n\nThe pleasures of a short walk."},
			{ID: 1, BookTitle: "A Calmer Life", ChapterTitle: "Introduction", Tags: "anxiety", Content: "Anxiety is not weakness."},
			{ID: 2, BookTitle: "A Calmer Life", ChapterTitle: "Conclusion", Tags: "anxiety, calm", Content: "Calm is an achievement."},
		},
		TotalChunks: 3,
	}
	manifestJSON, err := json.Marshal(m)
	require.NoError(t, err)

	vectorsJSON, err := json.Marshal(manifest.VectorAsset{
		Model:      "stub",
		Dimensions: 2,
		Embeddings: [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}},
	})
	require.NoError(t, err)
	// Vary the vector bytes per timestamp so redeploys change the checksum.
	vectorsJSON = append(vectorsJSON, []byte("\n")...)
	vectorsJSON = strconv.AppendInt(vectorsJSON, timestamp, 10)

	sum := md5.Sum(vectorsJSON)
	v := manifest.Version{Timestamp: timestamp, Checksum: hex.EncodeToString(sum[:])}
	versionJSON, err := json.Marshal(v)
	require.NoError(t, err)

	f.files["/data/metadata.json"] = manifestJSON
	f.files["/data/embeddings.json"] = vectorsJSON
	f.files["/data/version.json"] = versionJSON
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) post(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestServer_SearchBeforeLoadIsUnavailable(t *testing.T) {
	f := newFixture(t, false)

	rec := f.get(t, "/api/search?q=anxiety")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["error"]["code"])
}

func TestServer_Search(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/api/search?q=anxiety&tags=anxiety")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Variant)
	assert.Equal(t, 1, resp.Page)
	for _, hit := range resp.Hits {
		assert.Contains(t, hit.Chunk.Tags, "anxiety")
	}

	// Filter casing must not matter.
	mixed := f.get(t, "/api/search?q=anxiety&tags=Anxiety")
	require.Equal(t, http.StatusOK, mixed.Code)
	var mixedResp searchResponse
	require.NoError(t, json.Unmarshal(mixed.Body.Bytes(), &mixedResp))
	assert.Equal(t, len(resp.Hits), len(mixedResp.Hits))
}

func TestServer_SearchRejectsBadPage(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/api/search?q=calm&page=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Tags(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/api/tags")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tagsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	counts := make(map[string]int)
	for _, tc := range resp.Tags {
		counts[tc.Tag] = tc.Count
	}
	assert.Equal(t, 2, counts["anxiety"])
	assert.Equal(t, 1, counts["calm"])
	assert.Equal(t, 1, counts["travel"])
}

func TestServer_ChunkWithHTML(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/api/chunks/0?format=html")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chunkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "How to Travel", resp.Chunk.BookTitle)
	assert.Contains(t, resp.HTML, "<h1")
}

func TestServer_ChunkNotFound(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/api/chunks/99")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get(t, "/api/chunks/notanumber")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Related(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/api/chunks/1/related?k=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]searchHit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["related"])
}

func TestServer_StatusAndStats(t *testing.T) {
	f := newFixture(t, true)

	rec := f.get(t, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st session.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Ready)
	assert.Equal(t, 3, st.ChunkCount)

	// A search shows up in the stats.
	f.get(t, "/api/search?q=calm")
	rec = f.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats telemetry.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.GreaterOrEqual(t, stats.TotalSearches, int64(1))
}

func TestServer_UpdateCheckAndApply(t *testing.T) {
	f := newFixture(t, true)

	rec := f.post(t, "/api/update/check")
	require.Equal(t, http.StatusOK, rec.Code)
	var check updateCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.False(t, check.UpdateAvailable)

	f.deploy(t, 205)

	rec = f.post(t, "/api/update/check")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.True(t, check.UpdateAvailable)

	rec = f.post(t, "/api/update/apply")
	require.Equal(t, http.StatusOK, rec.Code)

	var apply struct {
		Applied bool           `json:"applied"`
		Status  session.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apply))
	assert.True(t, apply.Applied)
	assert.True(t, apply.Status.Ready)
}

func TestServer_Healthz(t *testing.T) {
	f := newFixture(t, false)

	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}
