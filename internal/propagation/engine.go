package propagation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hyperregistry/internal/api"
	"hyperregistry/internal/resilience"
	"hyperregistry/internal/template"
	"hyperregistry/pkg/logging"
)

const subsystem = "Propagation"

// ConflictPolicy selects how concurrent-update collisions resolve.
type ConflictPolicy string

const (
	PolicyManual         ConflictPolicy = "manual"
	PolicyLastWriterWins ConflictPolicy = "last_writer_wins"
	PolicyMergeByField   ConflictPolicy = "merge_by_field"
)

// DefaultMaxSessions bounds concurrently tracked sessions.
const DefaultMaxSessions = 1000

// DefaultTimeout bounds consensus acknowledgment waits.
const DefaultTimeout = 30 * time.Second

// Options configures the engine.
type Options struct {
	// Policy resolves concurrent-update conflicts. Empty means manual.
	Policy ConflictPolicy

	// MaxSessions bounds in-flight sessions; <= 0 selects the default.
	MaxSessions int

	// QueueSize bounds the eventual-mode queue; <= 0 selects 256.
	QueueSize int
}

type eventualJob struct {
	sessionID string
	sourceID  string
	update    map[string]interface{}
}

// Engine executes propagation plans.
type Engine struct {
	reg    api.RegistryHandler
	bus    api.BusHandler
	exec   *resilience.Executor
	tmpl   *template.Engine
	policy ConflictPolicy

	maxSessions int
	queue       chan eventualJob

	mu       sync.Mutex
	sessions map[string]*api.PropagationSession
}

// New builds the engine. Start must be called before eventual-mode
// requests are accepted.
func New(reg api.RegistryHandler, b api.BusHandler, exec *resilience.Executor, opts Options) *Engine {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyManual
	}
	maxSessions := opts.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Engine{
		reg:         reg,
		bus:         b,
		exec:        exec,
		tmpl:        template.New(),
		policy:      policy,
		maxSessions: maxSessions,
		queue:       make(chan eventualJob, queueSize),
		sessions:    make(map[string]*api.PropagationSession),
	}
}

// RegisterWithAPI registers the engine as the api.PropagationHandler.
func (e *Engine) RegisterWithAPI() {
	api.RegisterPropagation(e)
}

// Start launches the eventual-mode worker. It returns after ctx is
// cancelled and the worker has drained.
func (e *Engine) Start(ctx context.Context) {
	logging.Info(subsystem, "Propagation worker started")
	for {
		select {
		case <-ctx.Done():
			logging.Info(subsystem, "Propagation worker stopped")
			return
		case job := <-e.queue:
			e.runEventual(ctx, job)
		}
	}
}

// Propagate validates the request, creates a session, and dispatches on
// mode. Immediate and consensus complete before returning; eventual and
// cascade-bookkeeping errors after enqueue are recorded on the session.
func (e *Engine) Propagate(ctx context.Context, req api.PropagateRequest) (string, error) {
	if !req.Mode.IsValid() {
		return "", api.NewValidationError("propagate", []string{fmt.Sprintf("mode %q is not a known mode", req.Mode)})
	}
	source, err := e.reg.Get(ctx, req.EntryID)
	if err != nil {
		return "", err
	}
	if req.Mode == api.PropagationConsensus {
		if req.Quorum < 1 || req.Quorum > len(source.PropagationTargets) {
			return "", api.NewValidationError("propagate", []string{fmt.Sprintf(
				"quorum %d outside [1, %d]", req.Quorum, len(source.PropagationTargets))})
		}
	}

	session, err := e.newSession(source.ID, req.Mode)
	if err != nil {
		return "", err
	}

	switch req.Mode {
	case api.PropagationImmediate:
		err = e.runImmediate(ctx, session.SessionID, source, req.Update)
	case api.PropagationEventual:
		err = e.enqueueEventual(session.SessionID, source.ID, req.Update)
	case api.PropagationCascade:
		err = e.runCascade(ctx, session.SessionID, source, req.Update)
	case api.PropagationConsensus:
		err = e.runConsensus(ctx, session.SessionID, source, req.Update, req.Quorum, req.Timeout)
	}
	if err != nil {
		return session.SessionID, err
	}
	return session.SessionID, nil
}

// GetSession returns a copy of the tracked session.
func (e *Engine) GetSession(id string) (*api.PropagationSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	session, ok := e.sessions[id]
	if !ok {
		return nil, api.NewNotFoundError("session", id)
	}
	cp := *session
	cp.Path = append([]string(nil), session.Path...)
	return &cp, nil
}

func (e *Engine) newSession(sourceID string, mode api.PropagationMode) (*api.PropagationSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := 0
	for _, s := range e.sessions {
		if s.Status == api.SessionActive {
			active++
		}
	}
	if active >= e.maxSessions {
		return nil, api.MarkRetryable(fmt.Errorf("session limit %d reached", e.maxSessions))
	}

	session := &api.PropagationSession{
		SessionID:     uuid.NewString(),
		SourceEntryID: sourceID,
		Mode:          mode,
		Status:        api.SessionActive,
		CreatedAt:     time.Now().UTC(),
	}
	e.sessions[session.SessionID] = session
	return session, nil
}

func (e *Engine) updateSession(id string, fn func(*api.PropagationSession)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if session, ok := e.sessions[id]; ok {
		fn(session)
	}
}

func (e *Engine) finishSession(id string, status api.SessionStatus, errMsg string) {
	e.updateSession(id, func(s *api.PropagationSession) {
		s.Status = status
		s.Error = errMsg
		if status == api.SessionDone {
			s.Progress = 1
		}
	})
}

// --- immediate ---

func (e *Engine) runImmediate(ctx context.Context, sessionID string, source *api.Entry, update map[string]interface{}) error {
	targets := source.PropagationTargets
	for i, targetID := range targets {
		if err := e.deliver(ctx, targetID, update); err != nil {
			e.finishSession(sessionID, api.SessionFailed, err.Error())
			return err
		}
		progress := float64(i+1) / float64(len(targets))
		e.updateSession(sessionID, func(s *api.PropagationSession) {
			s.Progress = progress
			s.Path = append(s.Path, targetID)
		})
	}
	e.finishSession(sessionID, api.SessionDone, "")
	return nil
}

// --- eventual ---

func (e *Engine) enqueueEventual(sessionID, sourceID string, update map[string]interface{}) error {
	select {
	case e.queue <- eventualJob{sessionID: sessionID, sourceID: sourceID, update: update}:
		return nil
	default:
		e.finishSession(sessionID, api.SessionFailed, "eventual queue full")
		return api.MarkRetryable(fmt.Errorf("eventual queue full"))
	}
}

func (e *Engine) runEventual(ctx context.Context, job eventualJob) {
	source, err := e.reg.Get(ctx, job.sourceID)
	if err != nil {
		e.finishSession(job.sessionID, api.SessionFailed, err.Error())
		return
	}
	// Best effort: failures are logged per target, never surfaced.
	for _, targetID := range source.PropagationTargets {
		if err := e.deliver(ctx, targetID, job.update); err != nil {
			logging.Warn(subsystem, "Eventual delivery to %s failed: %v", targetID, err)
			continue
		}
		e.updateSession(job.sessionID, func(s *api.PropagationSession) {
			s.Path = append(s.Path, targetID)
		})
	}
	e.finishSession(job.sessionID, api.SessionDone, "")
}

// --- cascade ---

func (e *Engine) runCascade(ctx context.Context, sessionID string, source *api.Entry, update map[string]interface{}) error {
	visited := map[string]bool{}
	if err := e.cascadeHop(ctx, sessionID, source, update, visited); err != nil {
		e.finishSession(sessionID, api.SessionFailed, err.Error())
		return err
	}
	e.finishSession(sessionID, api.SessionDone, "")
	return nil
}

// cascadeHop visits one hop: records it, applies the update (the source
// hop originated it and is recorded only), evaluates its rules, and
// recurses into its targets. Each hop is visited at most once per session.
func (e *Engine) cascadeHop(ctx context.Context, sessionID string, hop *api.Entry, payload map[string]interface{}, visited map[string]bool) error {
	if visited[hop.ID] {
		return nil
	}
	visited[hop.ID] = true
	e.updateSession(sessionID, func(s *api.PropagationSession) {
		s.Path = append(s.Path, hop.ID)
		s.Progress = float64(len(visited)) / float64(len(visited)+len(hop.PropagationTargets))
	})

	if hop.ID != e.sessionSource(sessionID) {
		if err := e.deliver(ctx, hop.ID, payload); err != nil {
			return err
		}
	}

	rules, err := ParseRules(hop)
	if err != nil {
		return err
	}
	downstream, filter, drop, err := applyRules(e.tmpl, rules, payload, hop)
	if err != nil {
		return err
	}
	if drop {
		logging.Debug(subsystem, "Cascade stopped at %s by rule", hop.ID)
		return nil
	}

	for _, targetID := range hop.PropagationTargets {
		if visited[targetID] {
			continue
		}
		target, err := e.reg.Get(ctx, targetID)
		if err != nil {
			return err
		}
		if filter != nil && !matchesFilter(target, filter) {
			continue
		}
		if err := e.cascadeHop(ctx, sessionID, target, downstream, visited); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) sessionSource(sessionID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[sessionID]; ok {
		return s.SourceEntryID
	}
	return ""
}

func matchesFilter(entry *api.Entry, filter *api.SearchFilters) bool {
	if filter.Namespace != "" && entry.Namespace != filter.Namespace {
		return false
	}
	if filter.Category != "" && entry.Category != filter.Category {
		return false
	}
	if filter.Status != "" && entry.Status != filter.Status {
		return false
	}
	if len(filter.Facets) > 0 {
		facets := entry.Facets()
		for key, wanted := range filter.Facets {
			have, ok := facets[key]
			if !ok {
				return false
			}
			matched := false
			for _, h := range have {
				for _, w := range wanted {
					if h == w {
						matched = true
					}
				}
			}
			if !matched {
				return false
			}
		}
	}
	return true
}

// --- consensus ---

func (e *Engine) runConsensus(ctx context.Context, sessionID string, source *api.Entry, update map[string]interface{}, quorum int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	targets := source.PropagationTargets

	// Snapshot every target before mutating anything so rollback can
	// restore the exact prior payloads.
	snapshots := make(map[string]*api.Entry, len(targets))
	for _, targetID := range targets {
		prior, err := e.reg.Get(ctx, targetID)
		if err != nil {
			e.finishSession(sessionID, api.SessionFailed, err.Error())
			return err
		}
		snapshots[targetID] = prior
	}

	acks := 0
	var applied []string
	for _, targetID := range targets {
		if err := e.deliver(ctx, targetID, update); err != nil {
			logging.Warn(subsystem, "Consensus delivery to %s failed: %v", targetID, err)
			continue
		}
		acks++
		applied = append(applied, targetID)
		e.updateSession(sessionID, func(s *api.PropagationSession) {
			s.Path = append(s.Path, targetID)
			s.Progress = float64(acks) / float64(len(targets))
		})
	}

	if acks >= quorum && ctx.Err() == nil {
		e.finishSession(sessionID, api.SessionDone, "")
		return nil
	}

	e.rollback(applied, snapshots)
	if ctx.Err() != nil {
		e.finishSession(sessionID, api.SessionRolledBack,
			fmt.Sprintf("consensus cancelled before quorum: %d/%d acknowledgments", acks, len(targets)))
		return api.NewTimeoutError("consensus", timeout)
	}
	// Every vote is in; this is a definitive rejection, not a timeout.
	rejected := api.NewConsensusRejectedError(source.ID, acks, quorum)
	e.finishSession(sessionID, api.SessionRolledBack, rejected.Error())
	return rejected
}

// rollback restores the snapshots of every target that acknowledged and
// publishes the inverse events. Runs outside the consensus deadline so a
// timed-out session still unwinds.
func (e *Engine) rollback(applied []string, snapshots map[string]*api.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	for _, targetID := range applied {
		prior := snapshots[targetID]
		if prior == nil {
			continue
		}
		if err := e.reg.Update(ctx, prior.Clone(), api.UpdateOptions{AllowDowngrade: true}); err != nil {
			logging.Error(subsystem, err, "Rollback of %s failed", targetID)
		}
	}
}

// --- delivery ---

// deliver applies the update payload to one target's data through the
// resilience layer, resolving concurrent-update conflicts per policy.
func (e *Engine) deliver(ctx context.Context, targetID string, update map[string]interface{}) error {
	return e.exec.Execute(ctx, "propagation", func(ctx context.Context) error {
		target, err := e.reg.Get(ctx, targetID)
		if err != nil {
			return err
		}
		next := target.Clone()
		next.Data = MergeByField(next.Data, update)

		err = e.reg.Update(ctx, next, api.UpdateOptions{ConcurrencyToken: target.UpdatedAt})
		if err == nil || !api.IsConflict(err) {
			return err
		}

		switch e.policy {
		case PolicyLastWriterWins:
			return e.reg.Update(ctx, next, api.UpdateOptions{})
		case PolicyMergeByField:
			current, getErr := e.reg.Get(ctx, targetID)
			if getErr != nil {
				return getErr
			}
			merged := current.Clone()
			merged.Data = MergeByField(current.Data, update)
			return e.reg.Update(ctx, merged, api.UpdateOptions{ConcurrencyToken: current.UpdatedAt})
		default: // manual
			return err
		}
	})
}
