package propagation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperregistry/internal/api"
	"hyperregistry/internal/bus"
	"hyperregistry/internal/registry"
	"hyperregistry/internal/resilience"
	"hyperregistry/internal/storage"
)

func testExecutor() *resilience.Executor {
	p := resilience.DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.MaxRetries = 1
	p.Timeout = 2 * time.Second
	return resilience.New(p)
}

func newFixture(t *testing.T) (*registry.Registry, *Engine) {
	t.Helper()
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := registry.New(store, bus.New(64), testExecutor(), registry.Options{CacheSize: 128})
	require.NoError(t, err)

	engine := New(reg, bus.New(64), testExecutor(), Options{})
	return reg, engine
}

func addEntry(t *testing.T, reg *registry.Registry, id string, targets []string, config map[string]interface{}) *api.Entry {
	t.Helper()
	e, err := api.NewEntry("nx.mesh", id, "1.0.0", api.CategoryComponents)
	require.NoError(t, err)
	e.ID = id
	e.PropagationTargets = targets
	e.Config = config
	e.Data = map[string]interface{}{}
	require.NoError(t, e.RefreshChecksum())
	require.NoError(t, reg.Register(context.Background(), e))
	return e
}

func TestImmediateDeliversToAllTargets(t *testing.T) {
	reg, engine := newFixture(t)
	ctx := context.Background()

	addEntry(t, reg, "t1", nil, nil)
	addEntry(t, reg, "t2", nil, nil)
	addEntry(t, reg, "src", []string{"t1", "t2"}, nil)

	sessionID, err := engine.Propagate(ctx, api.PropagateRequest{
		EntryID: "src",
		Update:  map[string]interface{}{"color": "green"},
		Mode:    api.PropagationImmediate,
	})
	require.NoError(t, err)

	for _, id := range []string{"t1", "t2"} {
		got, err := reg.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "green", got.Data["color"])
	}

	session, err := engine.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, api.SessionDone, session.Status)
	assert.Equal(t, 1.0, session.Progress)
}

func TestImmediateFailureBubbles(t *testing.T) {
	reg, engine := newFixture(t)

	addEntry(t, reg, "src", []string{"ghost"}, nil)

	sessionID, err := engine.Propagate(context.Background(), api.PropagateRequest{
		EntryID: "src",
		Update:  map[string]interface{}{"k": "v"},
		Mode:    api.PropagationImmediate,
	})
	require.Error(t, err)

	session, gerr := engine.GetSession(sessionID)
	require.NoError(t, gerr)
	assert.Equal(t, api.SessionFailed, session.Status)
}

func TestEventualReturnsImmediatelyAndDelivers(t *testing.T) {
	reg, engine := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Start(ctx)

	addEntry(t, reg, "t1", nil, nil)
	addEntry(t, reg, "src", []string{"t1"}, nil)

	sessionID, err := engine.Propagate(ctx, api.PropagateRequest{
		EntryID: "src",
		Update:  map[string]interface{}{"k": "v"},
		Mode:    api.PropagationEventual,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, err := engine.GetSession(sessionID)
		return err == nil && session.Status == api.SessionDone
	}, 2*time.Second, 10*time.Millisecond)

	got, err := reg.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Data["k"])
}

func TestCascadeRuleFiltersSubtree(t *testing.T) {
	reg, engine := newFixture(t)
	ctx := context.Background()

	dropRule := map[string]interface{}{
		"propagation_rules": []interface{}{
			map[string]interface{}{
				"when": map[string]interface{}{"field": "severity", "op": "lt", "value": float64(5)},
				"drop": true,
			},
		},
	}

	addEntry(t, reg, "t3", nil, nil)
	addEntry(t, reg, "t1", []string{"t3"}, dropRule)
	addEntry(t, reg, "t2", nil, nil)
	addEntry(t, reg, "s", []string{"t1", "t2"}, nil)

	// Low severity: the rule at t1 stops the cascade below it.
	sessionID, err := engine.Propagate(ctx, api.PropagateRequest{
		EntryID: "s",
		Update:  map[string]interface{}{"severity": float64(3)},
		Mode:    api.PropagationCascade,
	})
	require.NoError(t, err)

	session, err := engine.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, api.SessionDone, session.Status)
	assert.ElementsMatch(t, []string{"s", "t1", "t2"}, session.Path)

	t3, err := reg.Get(ctx, "t3")
	require.NoError(t, err)
	assert.NotContains(t, t3.Data, "severity")

	// High severity: all four hops, each exactly once.
	sessionID, err = engine.Propagate(ctx, api.PropagateRequest{
		EntryID: "s",
		Update:  map[string]interface{}{"severity": float64(9)},
		Mode:    api.PropagationCascade,
	})
	require.NoError(t, err)

	session, err = engine.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, api.SessionDone, session.Status)
	assert.ElementsMatch(t, []string{"s", "t1", "t2", "t3"}, session.Path)

	t3, err = reg.Get(ctx, "t3")
	require.NoError(t, err)
	assert.Equal(t, float64(9), t3.Data["severity"])
}

func TestCascadeCycleGuard(t *testing.T) {
	reg, engine := newFixture(t)
	ctx := context.Background()

	// a -> b -> a: each hop visited once, no infinite recursion.
	addEntry(t, reg, "a", []string{"b"}, nil)
	addEntry(t, reg, "b", []string{"a"}, nil)

	sessionID, err := engine.Propagate(ctx, api.PropagateRequest{
		EntryID: "a",
		Update:  map[string]interface{}{"k": "v"},
		Mode:    api.PropagationCascade,
	})
	require.NoError(t, err)

	session, err := engine.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, session.Path)
}

func TestCascadeTransformRewritesPayload(t *testing.T) {
	reg, engine := newFixture(t)
	ctx := context.Background()

	transformRule := map[string]interface{}{
		"propagation_rules": []interface{}{
			map[string]interface{}{
				"transform": map[string]interface{}{
					"severity": "{{ severity }}",
					"via":      "{{ entry.id }}",
				},
			},
		},
	}

	addEntry(t, reg, "leaf", nil, nil)
	addEntry(t, reg, "mid", []string{"leaf"}, transformRule)
	addEntry(t, reg, "root", []string{"mid"}, nil)

	_, err := engine.Propagate(ctx, api.PropagateRequest{
		EntryID: "root",
		Update:  map[string]interface{}{"severity": float64(8)},
		Mode:    api.PropagationCascade,
	})
	require.NoError(t, err)

	leaf, err := reg.Get(ctx, "leaf")
	require.NoError(t, err)
	assert.Equal(t, "mid", leaf.Data["via"])
	assert.Equal(t, float64(8), leaf.Data["severity"])

	mid, err := reg.Get(ctx, "mid")
	require.NoError(t, err)
	assert.NotContains(t, mid.Data, "via", "transform applies downstream of the hop, not to it")
}

func TestConsensusQuorumValidation(t *testing.T) {
	reg, engine := newFixture(t)

	addEntry(t, reg, "t1", nil, nil)
	addEntry(t, reg, "src", []string{"t1"}, nil)

	for _, quorum := range []int{0, 2} {
		_, err := engine.Propagate(context.Background(), api.PropagateRequest{
			EntryID: "src",
			Update:  map[string]interface{}{"k": "v"},
			Mode:    api.PropagationConsensus,
			Quorum:  quorum,
		})
		assert.True(t, api.IsValidation(err), "quorum %d", quorum)
	}
}

func TestConsensusCommitsOnQuorum(t *testing.T) {
	reg, engine := newFixture(t)
	ctx := context.Background()

	addEntry(t, reg, "t1", nil, nil)
	addEntry(t, reg, "t2", nil, nil)
	addEntry(t, reg, "src", []string{"t1", "t2"}, nil)

	sessionID, err := engine.Propagate(ctx, api.PropagateRequest{
		EntryID: "src",
		Update:  map[string]interface{}{"agreed": true},
		Mode:    api.PropagationConsensus,
		Quorum:  2,
	})
	require.NoError(t, err)

	session, err := engine.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, api.SessionDone, session.Status)

	for _, id := range []string{"t1", "t2"} {
		got, err := reg.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, true, got.Data["agreed"])
	}
}

// flakyRegistry fails updates for one entry id, for consensus rollback tests.
type flakyRegistry struct {
	api.RegistryHandler
	failID string
}

func (f *flakyRegistry) Update(ctx context.Context, entry *api.Entry, opts api.UpdateOptions) error {
	if entry.ID == f.failID {
		return api.NewValidationError("entry", []string{"injected failure"})
	}
	return f.RegistryHandler.Update(ctx, entry, opts)
}

func TestConsensusRollsBackBelowQuorum(t *testing.T) {
	reg, _ := newFixture(t)
	ctx := context.Background()

	addEntry(t, reg, "t1", nil, nil)
	addEntry(t, reg, "t2", nil, nil)
	addEntry(t, reg, "src", []string{"t1", "t2"}, nil)

	flaky := &flakyRegistry{RegistryHandler: reg, failID: "t2"}
	engine := New(flaky, bus.New(64), testExecutor(), Options{})

	sessionID, err := engine.Propagate(ctx, api.PropagateRequest{
		EntryID: "src",
		Update:  map[string]interface{}{"agreed": true},
		Mode:    api.PropagationConsensus,
		Quorum:  2,
		Timeout: 2 * time.Second,
	})
	require.Error(t, err)
	// All votes settled before the deadline, so the failure is a
	// definitive rejection rather than a retryable timeout.
	assert.True(t, api.IsConsensusRejected(err))
	assert.False(t, api.IsTimeout(err))
	assert.False(t, api.IsRetryable(err))

	session, gerr := engine.GetSession(sessionID)
	require.NoError(t, gerr)
	assert.Equal(t, api.SessionRolledBack, session.Status)

	// t1 acknowledged and was rolled back to its prior payload.
	t1, err := reg.Get(ctx, "t1")
	require.NoError(t, err)
	assert.NotContains(t, t1.Data, "agreed")
}

// conflictingRegistry returns ConflictError for the first N updates.
type conflictingRegistry struct {
	api.RegistryHandler
	remaining int
}

func (c *conflictingRegistry) Update(ctx context.Context, entry *api.Entry, opts api.UpdateOptions) error {
	if c.remaining > 0 {
		c.remaining--
		return api.NewConflictError(entry.ID, "entry was modified concurrently")
	}
	return c.RegistryHandler.Update(ctx, entry, opts)
}

func TestConflictPolicies(t *testing.T) {
	t.Run("manual surfaces conflict", func(t *testing.T) {
		reg, _ := newFixture(t)
		addEntry(t, reg, "t1", nil, nil)
		addEntry(t, reg, "src", []string{"t1"}, nil)

		engine := New(&conflictingRegistry{RegistryHandler: reg, remaining: 1},
			bus.New(64), testExecutor(), Options{Policy: PolicyManual})

		_, err := engine.Propagate(context.Background(), api.PropagateRequest{
			EntryID: "src",
			Update:  map[string]interface{}{"k": "v"},
			Mode:    api.PropagationImmediate,
		})
		assert.True(t, api.IsConflict(err))
	})

	t.Run("last writer wins retries without token", func(t *testing.T) {
		reg, _ := newFixture(t)
		addEntry(t, reg, "t1", nil, nil)
		addEntry(t, reg, "src", []string{"t1"}, nil)

		engine := New(&conflictingRegistry{RegistryHandler: reg, remaining: 1},
			bus.New(64), testExecutor(), Options{Policy: PolicyLastWriterWins})

		_, err := engine.Propagate(context.Background(), api.PropagateRequest{
			EntryID: "src",
			Update:  map[string]interface{}{"k": "v"},
			Mode:    api.PropagationImmediate,
		})
		require.NoError(t, err)

		got, err := reg.Get(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, "v", got.Data["k"])
	})

	t.Run("merge by field reloads and merges", func(t *testing.T) {
		reg, _ := newFixture(t)
		addEntry(t, reg, "t1", nil, nil)
		addEntry(t, reg, "src", []string{"t1"}, nil)

		engine := New(&conflictingRegistry{RegistryHandler: reg, remaining: 1},
			bus.New(64), testExecutor(), Options{Policy: PolicyMergeByField})

		_, err := engine.Propagate(context.Background(), api.PropagateRequest{
			EntryID: "src",
			Update:  map[string]interface{}{"k": "v"},
			Mode:    api.PropagationImmediate,
		})
		require.NoError(t, err)

		got, err := reg.Get(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, "v", got.Data["k"])
	})
}

func TestPropagateUnknownMode(t *testing.T) {
	_, engine := newFixture(t)
	_, err := engine.Propagate(context.Background(), api.PropagateRequest{
		EntryID: "x",
		Mode:    api.PropagationMode("telepathy"),
	})
	assert.True(t, api.IsValidation(err))
}

func TestGetSessionUnknown(t *testing.T) {
	_, engine := newFixture(t)
	_, err := engine.GetSession("ghost")
	assert.True(t, api.IsNotFound(err))
}
