package hotswap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hyperregistry/internal/api"
	"hyperregistry/pkg/logging"
)

const subsystem = "HotSwap"

// DefaultDrainTimeout bounds the draining phase.
const DefaultDrainTimeout = 5 * time.Second

// DefaultVerifyDeadline bounds the verification phase when the request
// carries none.
const DefaultVerifyDeadline = 30 * time.Second

// Verifier decides whether the switched-in entry is healthy. A non-nil
// error rolls the swap back.
type Verifier func(ctx context.Context, candidate *api.Entry) error

// Options configures the manager.
type Options struct {
	DrainTimeout   time.Duration
	VerifyDeadline time.Duration

	// Verify overrides the default verification, which re-reads the
	// candidate and requires it to be active.
	Verify Verifier
}

// Manager implements api.HotSwapHandler.
type Manager struct {
	reg  api.RegistryHandler
	bus  api.BusHandler
	opts Options

	mu          sync.RWMutex
	aliases     map[string]string // name@namespace -> entry id
	transitions map[string]*api.HotSwapTransition
	inflight    map[string]chan struct{} // per entry id swap lock
}

// New builds the manager.
func New(reg api.RegistryHandler, b api.BusHandler, opts Options) *Manager {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.VerifyDeadline <= 0 {
		opts.VerifyDeadline = DefaultVerifyDeadline
	}
	m := &Manager{
		reg:         reg,
		bus:         b,
		opts:        opts,
		aliases:     make(map[string]string),
		transitions: make(map[string]*api.HotSwapTransition),
		inflight:    make(map[string]chan struct{}),
	}
	if m.opts.Verify == nil {
		m.opts.Verify = m.defaultVerify
	}
	return m
}

// RegisterWithAPI registers the manager as the api.HotSwapHandler.
func (m *Manager) RegisterWithAPI() {
	api.RegisterHotSwap(m)
}

func aliasKey(namespace, name string) string {
	return name + "@" + namespace
}

// ResolveAlias returns the entry id the name@namespace alias points at.
func (m *Manager) ResolveAlias(namespace, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.aliases[aliasKey(namespace, name)]
	if !ok {
		return "", api.NewNotFoundError("alias", aliasKey(namespace, name))
	}
	return id, nil
}

// GetTransition returns a copy of the transition record.
func (m *Manager) GetTransition(id string) (*api.HotSwapTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.transitions[id]
	if !ok {
		return nil, api.NewNotFoundError("transition", id)
	}
	cp := *tr
	return &cp, nil
}

// entryLock serializes swaps per entry id. Waiters queue on the channel.
func (m *Manager) entryLock(id string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.inflight[id]
	if !ok {
		lock = make(chan struct{}, 1)
		m.inflight[id] = lock
	}
	return lock
}

// Swap runs the full transition and returns the transition id. The
// returned error is a HotSwapAbortedError when the swap rolled back.
func (m *Manager) Swap(ctx context.Context, req api.HotSwapRequest) (string, error) {
	if req.NewEntry == nil {
		return "", api.NewValidationError("hotswap", []string{"new_entry is required"})
	}

	lock := m.entryLock(req.EntryID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-lock }()

	old, err := m.reg.Get(ctx, req.EntryID)
	if err != nil {
		return "", err
	}

	candidate := req.NewEntry.Clone()
	if candidate.Namespace != old.Namespace || candidate.Name != old.Name {
		return "", api.NewValidationError("hotswap", []string{"new entry must keep the old namespace and name"})
	}
	if candidate.Version == old.Version {
		return "", api.NewValidationError("hotswap", []string{fmt.Sprintf("new entry repeats version %s", old.Version)})
	}

	tr := &api.HotSwapTransition{
		TransitionID:    uuid.NewString(),
		EntryID:         old.ID,
		FromVersion:     old.Version,
		ToVersion:       candidate.Version,
		Phase:           api.PhaseStaging,
		StartedAt:       time.Now().UTC(),
		RollbackVersion: old.Version,
	}
	m.mu.Lock()
	m.transitions[tr.TransitionID] = tr
	if _, ok := m.aliases[aliasKey(old.Namespace, old.Name)]; !ok {
		m.aliases[aliasKey(old.Namespace, old.Name)] = old.ID
	}
	m.mu.Unlock()

	logging.Info(subsystem, "Swap %s: %s %s -> %s", tr.TransitionID, old.ID, tr.FromVersion, tr.ToVersion)

	if err := m.stage(ctx, tr, old, candidate); err != nil {
		return tr.TransitionID, m.abort(ctx, tr, old, candidate, err)
	}
	if err := m.drain(ctx, tr, old); err != nil {
		return tr.TransitionID, m.abort(ctx, tr, old, candidate, err)
	}
	m.switchAlias(tr, old, candidate)
	if err := m.verify(ctx, tr, candidate); err != nil {
		return tr.TransitionID, m.abort(ctx, tr, old, candidate, err)
	}

	m.setPhase(tr, api.PhaseDone)
	if err := m.reg.SetStatus(ctx, old.ID, api.StatusDeprecated); err != nil {
		logging.Warn(subsystem, "Swap %s: deprecating %s failed: %v", tr.TransitionID, old.ID, err)
	}
	m.reg.RecordHotSwap(false)
	logging.Info(subsystem, "Swap %s done: alias %s now %s", tr.TransitionID, aliasKey(old.Namespace, old.Name), candidate.ID)
	return tr.TransitionID, nil
}

func (m *Manager) setPhase(tr *api.HotSwapTransition, phase api.HotSwapPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr.Phase = phase
	if phase == api.PhaseDone || phase == api.PhaseRolledBack {
		tr.CompletedAt = time.Now().UTC()
	}
}

// stage registers the candidate as a sibling entry and checks that its
// dependencies resolve.
func (m *Manager) stage(ctx context.Context, tr *api.HotSwapTransition, old, candidate *api.Entry) error {
	m.setPhase(tr, api.PhaseStaging)

	candidate.Status = api.StatusRegistered
	if err := m.reg.Register(ctx, candidate); err != nil {
		return err
	}
	for _, dep := range candidate.Dependencies {
		if _, err := m.reg.Get(ctx, dep); err != nil {
			return fmt.Errorf("dependency %s: %w", dep, err)
		}
	}
	return nil
}

// drain marks the old version draining, announces it, and waits out the
// drain window.
func (m *Manager) drain(ctx context.Context, tr *api.HotSwapTransition, old *api.Entry) error {
	m.setPhase(tr, api.PhaseDraining)

	if err := m.reg.SetStatus(ctx, old.ID, api.StatusDraining); err != nil {
		return err
	}
	m.bus.Publish(api.ChangeEvent{
		Kind:      api.ChangeDrain,
		EntryID:   old.ID,
		Namespace: old.Namespace,
		Category:  old.Category,
		Timestamp: time.Now().UTC(),
	})

	select {
	case <-time.After(m.opts.DrainTimeout):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// switchAlias flips the alias to the candidate and activates it. The flip
// itself is a single map write under the lock.
func (m *Manager) switchAlias(tr *api.HotSwapTransition, old, candidate *api.Entry) {
	m.setPhase(tr, api.PhaseSwitching)

	m.mu.Lock()
	m.aliases[aliasKey(old.Namespace, old.Name)] = candidate.ID
	m.mu.Unlock()
}

func (m *Manager) verify(ctx context.Context, tr *api.HotSwapTransition, candidate *api.Entry) error {
	m.setPhase(tr, api.PhaseVerifying)

	deadline := m.opts.VerifyDeadline
	vctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := m.reg.SetStatus(vctx, candidate.ID, api.StatusActive); err != nil {
		return err
	}
	return m.opts.Verify(vctx, candidate)
}

func (m *Manager) defaultVerify(ctx context.Context, candidate *api.Entry) error {
	cur, err := m.reg.Get(ctx, candidate.ID)
	if err != nil {
		return err
	}
	if cur.Status != api.StatusActive {
		return fmt.Errorf("candidate %s is %s, want %s", cur.ID, cur.Status, api.StatusActive)
	}
	return nil
}

// abort unwinds a failed swap: the alias reverts, the candidate is marked
// failed, the old version is reactivated, and a rollback event goes out.
func (m *Manager) abort(ctx context.Context, tr *api.HotSwapTransition, old, candidate *api.Entry, cause error) error {
	logging.Warn(subsystem, "Swap %s rolling back: %v", tr.TransitionID, cause)

	m.mu.Lock()
	m.aliases[aliasKey(old.Namespace, old.Name)] = old.ID
	m.mu.Unlock()

	// Unwind on a fresh context so a cancelled swap still recovers.
	rctx, cancel := context.WithTimeout(context.Background(), DefaultDrainTimeout)
	defer cancel()

	if candidate.ID != "" {
		if err := m.reg.SetStatus(rctx, candidate.ID, api.StatusFailed); err != nil && !api.IsNotFound(err) {
			logging.Error(subsystem, err, "Swap %s: marking candidate %s failed", tr.TransitionID, candidate.ID)
		}
	}
	if err := m.reg.SetStatus(rctx, old.ID, api.StatusActive); err != nil {
		logging.Error(subsystem, err, "Swap %s: reactivating %s", tr.TransitionID, old.ID)
	}

	m.bus.Publish(api.ChangeEvent{
		Kind:      api.ChangeHotSwapRollback,
		EntryID:   old.ID,
		Namespace: old.Namespace,
		Category:  old.Category,
		Diff:      map[string]interface{}{"from_version": tr.FromVersion, "to_version": tr.ToVersion},
		Timestamp: time.Now().UTC(),
	})

	m.setPhase(tr, api.PhaseRolledBack)
	m.reg.RecordHotSwap(true)
	return api.NewHotSwapAbortedError(old.ID, tr.FromVersion, tr.ToVersion, cause.Error())
}
