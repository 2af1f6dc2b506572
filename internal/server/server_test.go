package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperregistry/internal/api"
	"hyperregistry/internal/bridge"
	"hyperregistry/internal/bus"
	"hyperregistry/internal/config"
	"hyperregistry/internal/crypto"
	"hyperregistry/internal/hotswap"
	"hyperregistry/internal/propagation"
	"hyperregistry/internal/registry"
	"hyperregistry/internal/resilience"
	"hyperregistry/internal/storage"
	"hyperregistry/internal/stream"
)

// bootstrap wires the full stack behind the api locator and returns a
// test server fronting the router.
func bootstrap(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	t.Cleanup(api.ResetHandlers)

	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := bus.New(0)
	exec := resilience.New(resilience.DefaultPolicy())
	reg, err := registry.New(store, b, exec, registry.Options{})
	require.NoError(t, err)
	reg.RegisterWithAPI()
	b.RegisterWithAPI()

	cm, err := crypto.NewManager(filepath.Join(t.TempDir(), "test.key"), 3)
	require.NoError(t, err)

	stream.New(reg, cm, stream.Options{}).RegisterWithAPI()
	propagation.New(reg, b, exec, propagation.Options{}).RegisterWithAPI()
	hotswap.New(reg, b, hotswap.Options{DrainTimeout: time.Millisecond}).RegisterWithAPI()
	bridge.New(reg, bridge.Options{}).RegisterWithAPI()

	srv := New(config.ServerConfig{Host: "localhost", Port: 0, RateLimitPerSecond: 10000, RateLimitBurst: 10000}, store)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, reg
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(blob)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func testEntry(t *testing.T, namespace, name, version string) *api.Entry {
	t.Helper()
	e, err := api.NewEntry(namespace, name, version, api.CategoryPlugins)
	require.NoError(t, err)
	return e
}

func TestCreateAndGetEntry(t *testing.T) {
	ts, _ := bootstrap(t)

	e := testEntry(t, "nx.plugins", "vision", "1.0.0")
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/registry/entries", e)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var created map[string]string
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created["id"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/registry/entries/"+created["id"], nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got api.Entry
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "vision", got.Name)
	assert.Equal(t, "nx.plugins", got.Namespace)
}

func TestGetMissingEntry(t *testing.T) {
	ts, _ := bootstrap(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/registry/entries/ghost", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, "not_found", eb.Code)
	assert.Equal(t, resp.Header.Get("X-Request-ID"), eb.RequestID)
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	ts, _ := bootstrap(t)

	first := testEntry(t, "a", "b", "1.0.0")
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/registry/entries", first)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	second := testEntry(t, "a", "b", "1.0.0")
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/registry/entries", second)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, "conflict", eb.Code)
}

func TestCreateEntryValidation(t *testing.T) {
	ts, _ := bootstrap(t)

	bad := testEntry(t, "nx.plugins", "vision", "1.0.0")
	bad.Version = "not-semver"
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/registry/entries", bad)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, "validation_error", eb.Code)
}

func TestListEntriesByFacet(t *testing.T) {
	ts, reg := bootstrap(t)

	e := testEntry(t, "nx.plugins", "vision", "1.0.0")
	e.Config = map[string]interface{}{"facets": map[string]interface{}{
		"domain": []interface{}{"vision", "ml"},
		"stage":  []interface{}{"beta"},
	}}
	require.NoError(t, e.RefreshChecksum())
	require.NoError(t, reg.Register(context.Background(), e))

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/registry/entries?facet.domain=vision", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hits []*api.Entry
	require.NoError(t, json.Unmarshal(body, &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, e.ID, hits[0].ID)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/registry/entries?facet.domain=audio", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &hits))
	assert.Empty(t, hits)

	resp, body = doJSON(t, http.MethodGet,
		ts.URL+"/v1/registry/entries?namespace=nx.plugins&facet.domain=ml&facet.stage=beta", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &hits))
	require.Len(t, hits, 1)
}

func TestSearchQueryAndLimit(t *testing.T) {
	ts, reg := bootstrap(t)

	for i := 0; i < 3; i++ {
		e := testEntry(t, "nx.plugins", fmt.Sprintf("vision-%d", i), "1.0.0")
		require.NoError(t, reg.Register(context.Background(), e))
	}
	other := testEntry(t, "nx.plugins", "audio", "1.0.0")
	require.NoError(t, reg.Register(context.Background(), other))

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/registry/search",
		api.SearchRequest{Query: "vision", Limit: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sr api.SearchResponse
	require.NoError(t, json.Unmarshal(body, &sr))
	assert.Equal(t, 3, sr.Total)
	assert.Len(t, sr.Hits, 2)
}

func TestPatchMergesFields(t *testing.T) {
	ts, reg := bootstrap(t)

	e := testEntry(t, "nx.plugins", "vision", "1.0.0")
	e.Data = map[string]interface{}{"model": "clip"}
	require.NoError(t, e.RefreshChecksum())
	require.NoError(t, reg.Register(context.Background(), e))

	resp, body := doJSON(t, http.MethodPatch, ts.URL+"/v1/registry/entries/"+e.ID,
		map[string]interface{}{"tags": []string{"ml"}, "status": "active"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got api.Entry
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, []string{"ml"}, got.Tags)
	assert.Equal(t, api.StatusActive, got.Status)
	assert.Equal(t, "clip", got.Data["model"], "unpatched fields survive")

	resp, body = doJSON(t, http.MethodPatch, ts.URL+"/v1/registry/entries/"+e.ID,
		map[string]interface{}{"id": "forged"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
}

func TestDeleteWithDependents(t *testing.T) {
	ts, reg := bootstrap(t)

	base := testEntry(t, "nx.plugins", "base", "1.0.0")
	require.NoError(t, reg.Register(context.Background(), base))
	dep := testEntry(t, "nx.plugins", "dependent", "1.0.0")
	dep.Dependencies = []string{base.ID}
	require.NoError(t, reg.Register(context.Background(), dep))

	resp, body := doJSON(t, http.MethodDelete, ts.URL+"/v1/registry/entries/"+base.ID, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var eb errorBody
	require.NoError(t, json.Unmarshal(body, &eb))
	assert.Equal(t, "dependents_exist", eb.Code)

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/v1/registry/entries/"+base.ID+"?force=true", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRelationshipRoutes(t *testing.T) {
	ts, reg := bootstrap(t)

	src := testEntry(t, "nx.plugins", "auth", "1.0.0")
	require.NoError(t, reg.Register(context.Background(), src))
	tgt := testEntry(t, "nx.plugins", "session", "1.0.0")
	require.NoError(t, reg.Register(context.Background(), tgt))

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/registry/relationships",
		api.RelationshipRequest{Source: src.ID, Target: tgt.ID, Kind: "extends"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/registry/entries/"+tgt.ID+"/relationships", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rels struct {
		Outbound []api.Relationship            `json:"outbound"`
		Inbound  []storage.InboundRelationship `json:"inbound"`
	}
	require.NoError(t, json.Unmarshal(body, &rels))
	assert.Empty(t, rels.Outbound)
	require.Len(t, rels.Inbound, 1)
	assert.Equal(t, src.ID, rels.Inbound[0].SourceID)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v1/registry/relationships",
		api.RelationshipRequest{Source: src.ID})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
}

func TestPropagateRoute(t *testing.T) {
	ts, reg := bootstrap(t)

	target := testEntry(t, "nx.plugins", "target", "1.0.0")
	require.NoError(t, reg.Register(context.Background(), target))
	source := testEntry(t, "nx.plugins", "source", "1.0.0")
	source.PropagationTargets = []string{target.ID}
	require.NoError(t, reg.Register(context.Background(), source))

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/registry/propagate", api.PropagateRequest{
		EntryID: source.ID,
		Update:  map[string]interface{}{"setting": "on"},
		Mode:    api.PropagationImmediate,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out["session_id"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/registry/propagate/"+out["session_id"], nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session api.PropagationSession
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, api.SessionDone, session.Status)

	got, err := reg.Get(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, "on", got.Data["setting"])
}

func TestHotSwapRoute(t *testing.T) {
	ts, reg := bootstrap(t)

	old := testEntry(t, "nx.services", "billing", "1.0.0")
	old.Status = api.StatusActive
	require.NoError(t, reg.Register(context.Background(), old))

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/registry/hotswap", api.HotSwapRequest{
		EntryID:  old.ID,
		NewEntry: testEntry(t, "nx.services", "billing", "1.1.0"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out["transition_id"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/registry/hotswap/"+out["transition_id"], nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr api.HotSwapTransition
	require.NoError(t, json.Unmarshal(body, &tr))
	assert.Equal(t, api.PhaseDone, tr.Phase)
}

func TestHealthAndStats(t *testing.T) {
	ts, reg := bootstrap(t)
	require.NoError(t, reg.Register(context.Background(), testEntry(t, "nx.plugins", "one", "1.0.0")))

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/registry/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health api.HealthStatus
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Components["registry"].Status)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/registry/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats api.RegistryStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, int64(1), stats.TotalRegistered)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := bootstrap(t)

	// Generate one observed request first.
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/registry/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "hyperreg_http_requests_total")
	assert.Contains(t, string(body), "hyperreg_entries_registered_total")
}

func TestRateLimiting(t *testing.T) {
	t.Cleanup(api.ResetHandlers)

	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	b := bus.New(0)
	reg, err := registry.New(store, b, resilience.New(resilience.DefaultPolicy()), registry.Options{})
	require.NoError(t, err)
	reg.RegisterWithAPI()
	b.RegisterWithAPI()

	srv := New(config.ServerConfig{RateLimitPerSecond: 1, RateLimitBurst: 2}, store)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	limited := false
	for i := 0; i < 5; i++ {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/registry/stats", nil)
		if resp.StatusCode == http.StatusTooManyRequests {
			var eb errorBody
			require.NoError(t, json.Unmarshal(body, &eb))
			assert.Equal(t, "rate_limited", eb.Code)
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst of 5 against burst limit 2 must trip the limiter")
}

func TestWebSocketChangeFeed(t *testing.T) {
	ts, reg := bootstrap(t)

	e := testEntry(t, "nx.plugins", "vision", "1.0.0")
	require.NoError(t, reg.Register(context.Background(), e))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream/" + e.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	e.Tags = []string{"updated"}
	require.NoError(t, reg.Update(context.Background(), e, api.UpdateOptions{}))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame changeFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "CHANGE", frame.Type)
	assert.Equal(t, api.ChangeUpdated, frame.Event.Kind)
	assert.Equal(t, e.ID, frame.Event.EntryID)
}

func TestWebSocketUnknownEntry(t *testing.T) {
	ts, _ := bootstrap(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream/ghost"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
