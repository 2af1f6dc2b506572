package registry

import (
	"context"
	"sync"

	"hyperregistry/internal/api"
	"hyperregistry/pkg/logging"
)

// HookPoint names a place in a mutation where hooks run.
type HookPoint string

const (
	BeforeRegister HookPoint = "before_register"
	AfterRegister  HookPoint = "after_register"
	BeforeUpdate   HookPoint = "before_update"
	AfterUpdate    HookPoint = "after_update"
	BeforeDelete   HookPoint = "before_delete"
	AfterDelete    HookPoint = "after_delete"
)

// Hook is a function invoked at a hook point with the entry being
// mutated. An error from a before_* hook aborts the operation; errors
// from after_* hooks are logged and swallowed.
type Hook func(ctx context.Context, entry *api.Entry) error

type hookSet struct {
	mu    sync.RWMutex
	hooks map[HookPoint][]Hook
}

func newHookSet() *hookSet {
	return &hookSet{hooks: make(map[HookPoint][]Hook)}
}

func (h *hookSet) add(point HookPoint, hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[point] = append(h.hooks[point], hook)
}

// runBefore executes hooks in registration order, stopping at the first error.
func (h *hookSet) runBefore(ctx context.Context, point HookPoint, entry *api.Entry) error {
	h.mu.RLock()
	hooks := append([]Hook(nil), h.hooks[point]...)
	h.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// runAfter executes hooks in registration order; failures are logged,
// never surfaced.
func (h *hookSet) runAfter(ctx context.Context, point HookPoint, entry *api.Entry) {
	h.mu.RLock()
	hooks := append([]Hook(nil), h.hooks[point]...)
	h.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, entry); err != nil {
			logging.Error(subsystem, err, "Hook at %s failed for entry %s", point, entry.ID)
		}
	}
}
