package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hyperregistry/internal/api"
	"hyperregistry/internal/crypto"
	"hyperregistry/pkg/logging"
)

const subsystem = "Streaming"

// DefaultHeartbeatInterval is the heartbeat cadence; a stream with no
// activity for three intervals is marked stale.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultMaxStreams bounds concurrently open streams.
const DefaultMaxStreams = 10000

// DefaultDrainTimeout bounds how long CloseStream waits for queued
// messages to be consumed.
const DefaultDrainTimeout = 5 * time.Second

const staleIntervals = 3

// Options configures the engine.
type Options struct {
	HeartbeatInterval time.Duration
	MaxStreams        int
	DrainTimeout      time.Duration

	// EncryptPayloads seals every queued payload with the crypto layer.
	EncryptPayloads bool
}

type envelope struct {
	plain  map[string]interface{}
	cipher string
}

type streamState struct {
	mu      sync.Mutex
	record  api.Stream
	forward chan envelope
	reverse chan envelope // nil unless bidirectional
}

// Engine owns all stream records and their queues.
type Engine struct {
	reg    api.RegistryHandler
	crypto *crypto.Manager
	opts   Options

	mu      sync.RWMutex
	streams map[string]*streamState
}

// New builds the engine. The crypto manager may be nil only when
// EncryptPayloads is false.
func New(reg api.RegistryHandler, cm *crypto.Manager, opts Options) *Engine {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.MaxStreams <= 0 {
		opts.MaxStreams = DefaultMaxStreams
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	return &Engine{
		reg:     reg,
		crypto:  cm,
		opts:    opts,
		streams: make(map[string]*streamState),
	}
}

// RegisterWithAPI registers the engine as the api.StreamingHandler.
func (e *Engine) RegisterWithAPI() {
	api.RegisterStreaming(e)
}

// CreateStream validates both endpoints, allocates the stream and its
// queues, and transitions it to connected.
func (e *Engine) CreateStream(ctx context.Context, sourceID, targetID, protocol string, direction api.StreamDirection) (*api.Stream, error) {
	if !direction.IsValid() {
		return nil, api.NewValidationError("stream", []string{fmt.Sprintf("direction %q is not a known direction", direction)})
	}
	if _, err := e.reg.Get(ctx, sourceID); err != nil {
		return nil, err
	}
	if _, err := e.reg.Get(ctx, targetID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.streams) >= e.opts.MaxStreams {
		return nil, api.MarkRetryable(fmt.Errorf("stream limit %d reached", e.opts.MaxStreams))
	}

	now := time.Now().UTC()
	record := api.Stream{
		StreamID:     uuid.NewString(),
		SourceID:     sourceID,
		TargetID:     targetID,
		Protocol:     protocol,
		Direction:    direction,
		Status:       api.StreamConnected,
		CreatedAt:    now,
		LastActivity: now,
	}
	if e.crypto != nil {
		record.EncryptionKeyRef = e.crypto.ActiveKeyRef()
	}

	st := &streamState{
		record:  record,
		forward: make(chan envelope, 256),
	}
	if direction == api.DirectionBidirectional {
		st.reverse = make(chan envelope, 256)
	}
	e.streams[record.StreamID] = st

	logging.Info(subsystem, "Stream %s created %s -> %s (%s)", record.StreamID, sourceID, targetID, direction)
	cp := record
	return &cp, nil
}

// GetStream returns a copy of the stream record.
func (e *Engine) GetStream(id string) (*api.Stream, error) {
	st, err := e.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := st.record
	return &cp, nil
}

// ListStreams returns copies of all stream records.
func (e *Engine) ListStreams() []*api.Stream {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*api.Stream, 0, len(e.streams))
	for _, st := range e.streams {
		st.mu.Lock()
		cp := st.record
		st.mu.Unlock()
		out = append(out, &cp)
	}
	return out
}

func (e *Engine) state(id string) (*streamState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.streams[id]
	if !ok {
		return nil, api.NewNotFoundError("stream", id)
	}
	return st, nil
}

// Send queues a payload in the source-to-target direction.
func (e *Engine) Send(ctx context.Context, streamID string, payload map[string]interface{}) error {
	return e.send(ctx, streamID, payload, false)
}

// SendReverse queues a payload in the target-to-source direction;
// only bidirectional streams accept it.
func (e *Engine) SendReverse(ctx context.Context, streamID string, payload map[string]interface{}) error {
	return e.send(ctx, streamID, payload, true)
}

func (e *Engine) send(ctx context.Context, streamID string, payload map[string]interface{}, reverse bool) error {
	st, err := e.state(streamID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.record.Status == api.StreamClosed {
		st.mu.Unlock()
		return api.NewValidationError("stream", []string{"stream is closed"})
	}
	queue := st.forward
	if reverse {
		queue = st.reverse
	}
	st.mu.Unlock()

	if queue == nil {
		return api.NewValidationError("stream", []string{"stream is not bidirectional"})
	}

	env := envelope{plain: payload}
	if e.opts.EncryptPayloads {
		cipher, err := e.crypto.EncryptMap(payload)
		if err != nil {
			return err
		}
		env = envelope{cipher: cipher}
	}

	select {
	case queue <- env:
	case <-ctx.Done():
		return ctx.Err()
	}

	st.mu.Lock()
	st.record.Metrics.MessagesSent++
	st.record.LastActivity = time.Now().UTC()
	if st.record.Status == api.StreamStale {
		st.record.Status = api.StreamConnected
	}
	st.mu.Unlock()
	return nil
}

// Receive returns the next payload queued in the given direction,
// blocking until one arrives or ctx is done. Encrypted payloads are
// opened transparently.
func (e *Engine) Receive(ctx context.Context, streamID string, reverse bool) (map[string]interface{}, error) {
	st, err := e.state(streamID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	queue := st.forward
	if reverse {
		queue = st.reverse
	}
	st.mu.Unlock()

	if queue == nil {
		return nil, api.NewValidationError("stream", []string{"stream is not bidirectional"})
	}

	select {
	case env, ok := <-queue:
		if !ok {
			return nil, api.NewNotFoundError("stream", streamID)
		}
		st.mu.Lock()
		st.record.Metrics.MessagesReceived++
		st.record.LastActivity = time.Now().UTC()
		st.mu.Unlock()

		if env.cipher != "" {
			return e.crypto.DecryptMap(env.cipher)
		}
		return env.plain, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Heartbeat records liveness for a stream.
func (e *Engine) Heartbeat(streamID string) error {
	st, err := e.state(streamID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.record.LastActivity = time.Now().UTC()
	if st.record.Status == api.StreamStale {
		st.record.Status = api.StreamConnected
	}
	return nil
}

// Run supervises heartbeats until ctx is cancelled: streams silent for
// three intervals go stale and a reconnect is attempted on the next tick.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.HeartbeatInterval)
	defer ticker.Stop()

	logging.Info(subsystem, "Heartbeat supervisor started (interval %s)", e.opts.HeartbeatInterval)
	for {
		select {
		case <-ctx.Done():
			logging.Info(subsystem, "Heartbeat supervisor stopped")
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) sweep() {
	cutoff := time.Now().Add(-staleIntervals * e.opts.HeartbeatInterval)

	e.mu.RLock()
	states := make([]*streamState, 0, len(e.streams))
	for _, st := range e.streams {
		states = append(states, st)
	}
	e.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		switch st.record.Status {
		case api.StreamConnected:
			if st.record.LastActivity.Before(cutoff) {
				st.record.Status = api.StreamStale
				logging.Warn(subsystem, "Stream %s went stale, queueing reconnect", st.record.StreamID)
			}
		case api.StreamStale:
			// Reconnect attempt: queues are intact, so recovery is a
			// status flip plus a fresh activity mark.
			st.record.Status = api.StreamConnected
			st.record.LastActivity = time.Now().UTC()
			logging.Info(subsystem, "Stream %s reconnected", st.record.StreamID)
		}
		st.mu.Unlock()
	}
}

// CloseStream drains outstanding messages up to the drain deadline, then
// marks the stream closed and releases its key reference.
func (e *Engine) CloseStream(ctx context.Context, streamID string) error {
	st, err := e.state(streamID)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(e.opts.DrainTimeout)
	for time.Now().Before(deadline) {
		st.mu.Lock()
		outstanding := len(st.forward)
		if st.reverse != nil {
			outstanding += len(st.reverse)
		}
		st.mu.Unlock()
		if outstanding == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	st.mu.Lock()
	st.record.Status = api.StreamClosed
	st.record.EncryptionKeyRef = ""
	st.mu.Unlock()

	// Closed streams leave the table so they stop counting against the
	// stream limit.
	e.mu.Lock()
	delete(e.streams, streamID)
	e.mu.Unlock()

	logging.Info(subsystem, "Stream %s closed", streamID)
	return nil
}

// CloseForEntry closes every stream with the entry as an endpoint.
// Called when the entry leaves the registry. Returns how many streams
// were closed.
func (e *Engine) CloseForEntry(ctx context.Context, entryID string) int {
	e.mu.RLock()
	var ids []string
	for id, st := range e.streams {
		st.mu.Lock()
		if st.record.SourceID == entryID || st.record.TargetID == entryID {
			ids = append(ids, id)
		}
		st.mu.Unlock()
	}
	e.mu.RUnlock()

	closed := 0
	for _, id := range ids {
		if err := e.CloseStream(ctx, id); err != nil {
			logging.Error(subsystem, err, "Closing stream %s for deleted entry %s", id, entryID)
			continue
		}
		closed++
	}
	return closed
}
