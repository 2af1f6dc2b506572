package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperregistry/internal/api"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func makeEntry(t *testing.T, namespace, name, version string) *api.Entry {
	t.Helper()
	e, err := api.NewEntry(namespace, name, version, api.CategoryPlugins)
	require.NoError(t, err)
	return e
}

func withFacets(t *testing.T, e *api.Entry, facets map[string]interface{}) *api.Entry {
	t.Helper()
	e.Config = map[string]interface{}{"facets": facets}
	require.NoError(t, e.RefreshChecksum())
	return e
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	e := makeEntry(t, "nx.plugins", "vision", "1.0.0")
	e.Data = map[string]interface{}{"model": "clip"}
	require.NoError(t, e.RefreshChecksum())
	require.NoError(t, b.Save(ctx, e))

	got, err := b.Load(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Namespace, got.Namespace)
	assert.Equal(t, "clip", got.Data["model"])
	assert.Equal(t, e.Checksum, got.Checksum)
}

func TestLoadMissingEntry(t *testing.T) {
	b := newBackend(t)
	_, err := b.Load(context.Background(), "ghost")
	assert.True(t, api.IsNotFound(err))
}

func TestDuplicateTripleConflicts(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	first := makeEntry(t, "a", "b", "1.0.0")
	require.NoError(t, b.Save(ctx, first))

	second := makeEntry(t, "a", "b", "1.0.0")
	err := b.Save(ctx, second)
	assert.True(t, api.IsConflict(err))

	// Store unchanged: only the first entry exists.
	n, err := b.Count(ctx, api.SearchFilters{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = b.Load(ctx, second.ID)
	assert.True(t, api.IsNotFound(err))
}

func TestUpsertSameIDUpdates(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	e := makeEntry(t, "a", "b", "1.0.0")
	require.NoError(t, b.Save(ctx, e))

	e.Status = api.StatusActive
	require.NoError(t, b.Save(ctx, e))

	got, err := b.Load(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusActive, got.Status)

	n, err := b.Count(ctx, api.SearchFilters{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSearchByFacets(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	e1 := withFacets(t, makeEntry(t, "nx.plugins", "vision", "1.0.0"), map[string]interface{}{
		"domain": []interface{}{"vision", "ml"},
		"stage":  []interface{}{"beta"},
	})
	require.NoError(t, b.Save(ctx, e1))

	e2 := withFacets(t, makeEntry(t, "nx.plugins", "audio", "1.0.0"), map[string]interface{}{
		"domain": []interface{}{"audio"},
	})
	require.NoError(t, b.Save(ctx, e2))

	hits, err := b.Search(ctx, api.SearchFilters{Facets: map[string][]string{"domain": {"vision"}}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, e1.ID, hits[0].ID)

	hits, err = b.Search(ctx, api.SearchFilters{Facets: map[string][]string{"domain": {"speech"}}})
	require.NoError(t, err)
	assert.Empty(t, hits)

	// AND across keys, OR within a key.
	hits, err = b.Search(ctx, api.SearchFilters{
		Namespace: "nx.plugins",
		Facets:    map[string][]string{"domain": {"ml"}, "stage": {"beta"}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, e1.ID, hits[0].ID)

	hits, err = b.Search(ctx, api.SearchFilters{
		Facets: map[string][]string{"domain": {"speech", "audio"}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, e2.ID, hits[0].ID)
}

func TestSearchEqualityFilters(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	e1 := makeEntry(t, "ns.one", "a", "1.0.0")
	e1.Status = api.StatusActive
	require.NoError(t, b.Save(ctx, e1))
	require.NoError(t, b.Save(ctx, makeEntry(t, "ns.two", "b", "1.0.0")))

	hits, err := b.Search(ctx, api.SearchFilters{Namespace: "ns.one"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = b.Search(ctx, api.SearchFilters{Status: api.StatusActive})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, e1.ID, hits[0].ID)
}

func TestSearchInsertionOrder(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"zeta", "alpha", "mid"} {
		e := makeEntry(t, "ns", name, "1.0.0")
		require.NoError(t, b.Save(ctx, e))
		ids = append(ids, e.ID)
	}

	hits, err := b.Search(ctx, api.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i, hit := range hits {
		assert.Equal(t, ids[i], hit.ID)
	}
}

func TestCountMatchesSearch(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	for i, name := range []string{"a", "b", "c"} {
		e := makeEntry(t, "ns", name, "1.0.0")
		if i < 2 {
			e = withFacets(t, e, map[string]interface{}{"stage": []interface{}{"beta"}})
		}
		require.NoError(t, b.Save(ctx, e))
	}

	filters := api.SearchFilters{Facets: map[string][]string{"stage": {"beta"}}}
	hits, err := b.Search(ctx, filters)
	require.NoError(t, err)
	n, err := b.Count(ctx, filters)
	require.NoError(t, err)
	assert.Equal(t, len(hits), n)
	assert.Equal(t, 2, n)
}

func TestDeleteCascadesFacets(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	e := withFacets(t, makeEntry(t, "ns", "a", "1.0.0"), map[string]interface{}{
		"domain": []interface{}{"vision"},
	})
	require.NoError(t, b.Save(ctx, e))
	require.NoError(t, b.Delete(ctx, e.ID))

	_, err := b.Load(ctx, e.ID)
	assert.True(t, api.IsNotFound(err))

	hits, err := b.Search(ctx, api.SearchFilters{Facets: map[string][]string{"domain": {"vision"}}})
	require.NoError(t, err)
	assert.Empty(t, hits)

	assert.True(t, api.IsNotFound(b.Delete(ctx, e.ID)))
}

func TestSaveRewritesFacetRows(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	e := withFacets(t, makeEntry(t, "ns", "a", "1.0.0"), map[string]interface{}{
		"domain": []interface{}{"vision"},
	})
	require.NoError(t, b.Save(ctx, e))

	e = withFacets(t, e, map[string]interface{}{"domain": []interface{}{"audio"}})
	require.NoError(t, b.Save(ctx, e))

	hits, err := b.Search(ctx, api.SearchFilters{Facets: map[string][]string{"domain": {"vision"}}})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = b.Search(ctx, api.SearchFilters{Facets: map[string][]string{"domain": {"audio"}}})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestCountByCategory(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, makeEntry(t, "ns", "a", "1.0.0")))
	require.NoError(t, b.Save(ctx, makeEntry(t, "ns", "b", "1.0.0")))

	svc, err := api.NewEntry("ns", "c", "1.0.0", api.CategoryServices)
	require.NoError(t, err)
	require.NoError(t, b.Save(ctx, svc))

	counts, err := b.CountByCategory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["plugins"])
	assert.Equal(t, 1, counts["services"])
}

func TestExportJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	b, err := Open(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	e := withFacets(t, makeEntry(t, "ns", "a", "1.0.0"), map[string]interface{}{
		"domain": []interface{}{"vision"},
	})
	require.NoError(t, b.Save(ctx, e))

	out := filepath.Join(dir, "snapshot.json")
	require.NoError(t, b.ExportJSON(ctx, out))

	// No tmp file left behind.
	_, statErr := os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(statErr))

	blob, err := os.ReadFile(out)
	require.NoError(t, err)

	var snap struct {
		Version int                            `json:"version"`
		Entries map[string]*api.Entry          `json:"entries"`
		Facets  map[string]map[string][]string `json:"facets"`
	}
	require.NoError(t, json.Unmarshal(blob, &snap))
	assert.Equal(t, 1, snap.Version)
	require.Contains(t, snap.Entries, e.ID)
	assert.Equal(t, []string{"vision"}, snap.Facets[e.ID]["domain"])
}

func TestRelationshipIndexTracksEdges(t *testing.T) {
	b := newBackend(t)

	tgt := makeEntry(t, "nx.plugins", "session", "1.0.0")
	require.NoError(t, b.Save(context.Background(), tgt))

	src := makeEntry(t, "nx.plugins", "auth", "1.0.0")
	src.Relationships = []api.Relationship{{TargetID: tgt.ID, Kind: "extends"}}
	require.NoError(t, b.Save(context.Background(), src))

	inbound, err := b.RelatedTo(context.Background(), tgt.ID)
	require.NoError(t, err)
	require.Len(t, inbound, 1)
	assert.Equal(t, src.ID, inbound[0].SourceID)
	assert.Equal(t, "extends", inbound[0].Kind)

	// Re-saving without the edge clears the index row.
	src.Relationships = nil
	require.NoError(t, b.Save(context.Background(), src))
	inbound, err = b.RelatedTo(context.Background(), tgt.ID)
	require.NoError(t, err)
	assert.Empty(t, inbound)
}
