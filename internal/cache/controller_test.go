package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-andrews-coulter/essay-search-engine/internal/config"
	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
)

// fakeOrigin serves a dataset the way the app origin would.
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

// setDataset installs a consistent manifest/vectors/version triple.
func (o *fakeOrigin) setDataset(t *testing.T, timestamp int64) manifest.Version {
	t.Helper()

	m := manifest.Manifest{
		Chunks: []manifest.Chunk{
			{ID: 0, BookTitle: "How to Travel", ChapterTitle: "On Going for a Walk", Tags: "travel", Content: "walking"},
			{ID: 1, BookTitle: "A Calmer Life", ChapterTitle: "Introduction", Tags: "anxiety", Content: "worry"},
		},
		TotalChunks: 2,
	}
	manifestJSON, err := json.Marshal(m)
	require.NoError(t, err)

	vectors := manifest.VectorAsset{
		Model:      "stub",
		Dimensions: 2,
		Embeddings: [][]float32{{1, 0}, {0, 1}},
	}
	vectorsJSON, err := json.Marshal(vectors)
	require.NoError(t, err)

	sum := md5.Sum(vectorsJSON)
	v := manifest.Version{
		Timestamp:      timestamp,
		Checksum:       hex.EncodeToString(sum[:]),
		EmbeddingsSize: int64(len(vectorsJSON)),
	}
	versionJSON, err := json.Marshal(v)
	require.NoError(t, err)

	o.files["/data/metadata.json"] = manifestJSON
	o.files["/data/embeddings.json"] = vectorsJSON
	o.files["/data/version.json"] = versionJSON
	return v
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Dataset.BaseURL = baseURL
	cfg.Dataset.TagsPath = ""
	cfg.Cache.RootDir = t.TempDir()
	return cfg
}

func TestPlanAssets_SameOriginKeepsPaths(t *testing.T) {
	cfg := testConfig(t, "http://origin.test")
	assets, err := PlanAssets(cfg.Dataset)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	assert.Equal(t, "data/metadata.json", assets[0].Local)
	assert.True(t, assets[0].Required)
	assert.Equal(t, "data/embeddings.json", assets[1].Local)
	assert.False(t, assets[1].Required)
}

func TestPlanAssets_CrossOriginKeyedByURLHash(t *testing.T) {
	cfg := testConfig(t, "http://origin.test")
	cfg.Dataset.ExtraAssets = []string{"https://cdn.test/fonts/serif.woff2?v=3"}

	assets, err := PlanAssets(cfg.Dataset)
	require.NoError(t, err)

	extra := assets[len(assets)-1]
	assert.True(t, strings.HasPrefix(extra.Local, "ext/"))
	assert.Len(t, strings.TrimPrefix(extra.Local, "ext/"), 64)

	// A different query string must key a different cache entry.
	cfg.Dataset.ExtraAssets = []string{"https://cdn.test/fonts/serif.woff2?v=4"}
	assets2, err := PlanAssets(cfg.Dataset)
	require.NoError(t, err)
	assert.NotEqual(t, extra.Local, assets2[len(assets2)-1].Local)
}

func TestController_InstallAndActivate(t *testing.T) {
	origin := newFakeOrigin(t)
	v := origin.setDataset(t, 100)
	cfg := testConfig(t, origin.srv.URL)
	c := NewController(cfg, nil)

	tag, err := c.Install(context.Background(), v, nil)
	require.NoError(t, err)
	assert.Equal(t, TagFor(v), tag)
	assert.True(t, c.Store().Complete(tag))

	require.NoError(t, c.Activate(tag))
	assert.Equal(t, StateServing, c.State())

	current, err := c.Store().Current()
	require.NoError(t, err)
	assert.Equal(t, tag, current)

	ds, err := c.OpenDataset(context.Background(), tag)
	require.NoError(t, err)
	assert.Equal(t, 2, len(ds.Manifest.Chunks))
	assert.True(t, ds.Dense())
}

func TestController_MissingRequiredAssetAbortsInstall(t *testing.T) {
	origin := newFakeOrigin(t)
	v := origin.setDataset(t, 100)
	delete(origin.files, "/data/metadata.json")

	cfg := testConfig(t, origin.srv.URL)
	cfg.Cache.FetchTimeout = 0 // default
	c := NewController(cfg, nil)

	_, err := c.Install(context.Background(), v, nil)
	require.Error(t, err)

	// The aborted store must not survive as a servable snapshot.
	tags, err := c.Store().ListStores()
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestController_MissingVectorsDegradesInstall(t *testing.T) {
	origin := newFakeOrigin(t)
	v := origin.setDataset(t, 100)
	delete(origin.files, "/data/embeddings.json")

	cfg := testConfig(t, origin.srv.URL)
	c := NewController(cfg, nil)

	tag, err := c.Install(context.Background(), v, nil)
	require.NoError(t, err)
	assert.True(t, c.Store().Complete(tag))

	ds, err := c.OpenDataset(context.Background(), tag)
	require.NoError(t, err)
	assert.False(t, ds.Dense())
}

func TestController_OpenDatasetRecoversMissingVectors(t *testing.T) {
	origin := newFakeOrigin(t)
	v := origin.setDataset(t, 100)
	goodVectors := origin.files["/data/embeddings.json"]
	delete(origin.files, "/data/embeddings.json")

	cfg := testConfig(t, origin.srv.URL)
	c := NewController(cfg, nil)

	// Vectors unreachable at install time: keyword-only store.
	tag, err := c.Install(context.Background(), v, nil)
	require.NoError(t, err)
	require.NoError(t, c.Activate(tag))

	ds, err := c.OpenDataset(context.Background(), tag)
	require.NoError(t, err)
	require.False(t, ds.Dense())

	// Origin serves the asset again: the next open fetches it through the
	// cache and dense ranking comes back for this same version.
	origin.files["/data/embeddings.json"] = goodVectors
	ds, err = c.OpenDataset(context.Background(), tag)
	require.NoError(t, err)
	assert.True(t, ds.Dense())

	local, err := localPathFor(cfg.Dataset, cfg.Dataset.VectorsPath)
	require.NoError(t, err)
	assert.True(t, c.Store().HasAsset(tag, local))
}

func TestController_OpenDatasetRejectsDriftedLateVectors(t *testing.T) {
	origin := newFakeOrigin(t)
	v := origin.setDataset(t, 100)
	delete(origin.files, "/data/embeddings.json")

	cfg := testConfig(t, origin.srv.URL)
	c := NewController(cfg, nil)

	tag, err := c.Install(context.Background(), v, nil)
	require.NoError(t, err)
	require.NoError(t, c.Activate(tag))

	// The origin redeployed since this store was installed; the late fetch
	// must not smuggle mismatched vectors into the old store.
	origin.files["/data/embeddings.json"] = []byte(`{"model":"stub","dimensions":2,"embeddings":[[0.7,0.7],[1,0]]}`)
	ds, err := c.OpenDataset(context.Background(), tag)
	require.NoError(t, err)
	assert.False(t, ds.Dense())

	local, err := localPathFor(cfg.Dataset, cfg.Dataset.VectorsPath)
	require.NoError(t, err)
	assert.False(t, c.Store().HasAsset(tag, local))
}

func TestController_ChecksumDriftRejectsInstall(t *testing.T) {
	origin := newFakeOrigin(t)
	v := origin.setDataset(t, 100)
	// Remote redeployed between the version fetch and the asset fetch.
	origin.files["/data/embeddings.json"] = []byte(`{"model":"stub","dimensions":2,"embeddings":[[1,0],[0,1],[0.7,0.7]]}`)

	cfg := testConfig(t, origin.srv.URL)
	c := NewController(cfg, nil)

	_, err := c.Install(context.Background(), v, nil)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))

	tags, listErr := c.Store().ListStores()
	require.NoError(t, listErr)
	assert.Empty(t, tags)
}

func TestController_ActivateRefusesIncompleteStore(t *testing.T) {
	cfg := testConfig(t, "http://origin.test")
	c := NewController(cfg, nil)

	// A store directory with assets but no version descriptor simulates a
	// crash between the last asset write and the completion marker.
	_, err := c.Store().WriteAsset("half", "data/metadata.json", strings.NewReader("{}"))
	require.NoError(t, err)

	err = c.Activate("half")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSwapIncomplete, errors.GetCode(err))
	assert.NotEqual(t, StateServing, c.State())
}

func TestController_EnsureServesCachedStoreOffline(t *testing.T) {
	origin := newFakeOrigin(t)
	v := origin.setDataset(t, 100)
	cfg := testConfig(t, origin.srv.URL)
	c := NewController(cfg, nil)

	tag, err := c.Install(context.Background(), v, nil)
	require.NoError(t, err)
	require.NoError(t, c.Activate(tag))

	// Origin goes away; a fresh controller over the same cache root must
	// still come up serving.
	origin.srv.Close()
	c2 := NewController(cfg, nil)
	got, err := c2.Ensure(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, tag, got)
	assert.Equal(t, StateServing, c2.State())
}

func TestController_CheckForUpdateStagesWithoutSwapping(t *testing.T) {
	origin := newFakeOrigin(t)
	v1 := origin.setDataset(t, 100)
	cfg := testConfig(t, origin.srv.URL)
	c := NewController(cfg, nil)

	tag1, err := c.Ensure(context.Background(), nil)
	require.NoError(t, err)

	// Same version: nothing to do.
	updated, _, err := c.CheckForUpdate(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, updated)

	// New deploy with different embeddings.
	v2 := overwriteDataset(t, origin, 200)
	require.NotEqual(t, v1.Checksum, v2.Checksum)

	updated, remote, err := c.CheckForUpdate(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, v2.Checksum, remote.Checksum)

	// Still serving the old store until reload.
	current, err := c.Store().Current()
	require.NoError(t, err)
	assert.Equal(t, tag1, current)
	pending, staged := c.UpdatePending()
	assert.True(t, pending)
	assert.Equal(t, v2.Checksum, staged.Checksum)

	// Reload applies the staged store and prunes the old one.
	tag2, applied, err := c.ApplyStaged()
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, TagFor(v2), tag2)

	current, err = c.Store().Current()
	require.NoError(t, err)
	assert.Equal(t, tag2, current)

	tags, err := c.Store().ListStores()
	require.NoError(t, err)
	assert.Equal(t, []string{tag2}, tags)
}

// overwriteDataset redeploys the origin with different vector contents.
func overwriteDataset(t *testing.T, o *fakeOrigin, timestamp int64) manifest.Version {
	t.Helper()

	vectorsJSON := []byte(`{"model":"stub","dimensions":2,"embeddings":[[0,1],[1,0]]}`)
	sum := md5.Sum(vectorsJSON)
	v := manifest.Version{
		Timestamp:      timestamp,
		Checksum:       hex.EncodeToString(sum[:]),
		EmbeddingsSize: int64(len(vectorsJSON)),
	}
	versionJSON, err := json.Marshal(v)
	require.NoError(t, err)

	o.files["/data/embeddings.json"] = vectorsJSON
	o.files["/data/version.json"] = versionJSON
	return v
}

func TestController_VerifyDetectsCorruption(t *testing.T) {
	origin := newFakeOrigin(t)
	v := origin.setDataset(t, 100)
	cfg := testConfig(t, origin.srv.URL)
	c := NewController(cfg, nil)

	tag, err := c.Install(context.Background(), v, nil)
	require.NoError(t, err)
	require.NoError(t, c.Verify(tag))

	// Flip bytes on disk behind the store's back.
	local, err := localPathFor(cfg.Dataset, cfg.Dataset.VectorsPath)
	require.NoError(t, err)
	_, err = c.Store().WriteAsset(tag, local, strings.NewReader("corrupted"))
	require.NoError(t, err)

	err = c.Verify(tag)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeStoreCorrupt, errors.GetCode(err))
}

func TestController_FetchRemoteVersionBustsCaches(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Query().Get("t"))
		_, _ = w.Write([]byte(`{"timestamp":100,"checksum":"abc"}`))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	c := NewController(cfg, nil)

	_, err := c.FetchRemoteVersion(context.Background())
	require.NoError(t, err)
	_, err = c.FetchRemoteVersion(context.Background())
	require.NoError(t, err)

	// Every check carries a fresh buster so intermediaries cannot pin the
	// descriptor.
	require.Len(t, seen, 2)
	assert.NotEmpty(t, seen[0])
	assert.NotEqual(t, seen[0], seen[1])
}

func TestTagFor(t *testing.T) {
	assert.Equal(t, "abcdefabcdef", TagFor(manifest.Version{Checksum: "abcdefabcdefabcdef"}))
	assert.Equal(t, "1700000000", TagFor(manifest.Version{Timestamp: 1700000000}))
	assert.Equal(t, "unversioned", TagFor(manifest.Version{}))
}

func TestResolveAsset_RelativeBase(t *testing.T) {
	base, err := url.Parse("http://origin.test/app/")
	require.NoError(t, err)

	_, local, err := resolveAsset(base, "data/metadata.json")
	require.NoError(t, err)
	assert.Equal(t, "app/data/metadata.json", local)
}
