package debug

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/rundebug/logging"
)

// Engine is the entry point collaborators use. It maps session ids to
// sessions and adapter-type keys to adapters, enforces state
// preconditions, and delegates the actual work to the session's
// adapter. The engine never touches the transport.
type Engine struct {
	logger logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	adapters map[string]Adapter
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Sessions inherit it.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine with no adapters registered.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   logging.NewNop(),
		sessions: make(map[string]*Session),
		adapters: make(map[string]Adapter),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterAdapter registers adapter under typeKey, replacing any
// previous registration.
func (e *Engine) RegisterAdapter(typeKey string, adapter Adapter) {
	e.mu.Lock()
	e.adapters[typeKey] = adapter
	e.mu.Unlock()
	e.logger.Info("debug adapter registered", "type", typeKey)
}

// AdapterTypes returns the registered adapter-type keys.
func (e *Engine) AdapterTypes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	keys := make([]string, 0, len(e.adapters))
	for k := range e.adapters {
		keys = append(keys, k)
	}
	return keys
}

// CreateSession allocates a session for config, resolves its adapter by
// config.Type, and runs the adapter's Initialize. The new session is in
// the Idle state.
func (e *Engine) CreateSession(ctx context.Context, config LaunchConfiguration) (*Session, error) {
	e.mu.RLock()
	adapter, ok := e.adapters[config.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, config.Type)
	}

	session := NewSession(uuid.New().String(), config, e.logger)

	if err := adapter.Initialize(ctx, session); err != nil {
		return nil, fmt.Errorf("initialize adapter for %q: %w", config.Name, err)
	}

	e.mu.Lock()
	e.sessions[session.ID()] = session
	e.mu.Unlock()

	e.logger.Info("debug session created", "session", session.ID(), "name", config.Name, "type", config.Type)
	return session, nil
}

// StartSession drives an Idle session through Initializing into Running
// by delegating to the adapter's Launch or Attach. On failure the
// session moves to Error.
func (e *Engine) StartSession(ctx context.Context, id string) error {
	session, adapter, err := e.resolve(id)
	if err != nil {
		return err
	}

	if state := session.State(); state != StateIdle {
		return &StateError{Op: "start", State: state, Required: StateIdle}
	}

	session.markInitializing()

	start := adapter.Launch
	if session.Config().Request == RequestAttach {
		start = adapter.Attach
	}

	if err := start(ctx, session); err != nil {
		session.Fail(err)
		e.logger.Error("debug session start failed", "session", id, "error", err)
		return err
	}

	e.logger.Info("debug session started", "session", id, "state", session.State())
	return nil
}

// Pause suspends a Running session.
func (e *Engine) Pause(ctx context.Context, id string) error {
	session, adapter, err := e.resolve(id)
	if err != nil {
		return err
	}
	if state := session.State(); state != StateRunning {
		return &StateError{Op: "pause", State: state, Required: StateRunning}
	}
	return adapter.Pause(ctx, session)
}

// Continue resumes a Paused session.
func (e *Engine) Continue(ctx context.Context, id string) error {
	return e.pausedOp(ctx, id, "continue", Adapter.Continue)
}

// StepOver executes the current line of a Paused session.
func (e *Engine) StepOver(ctx context.Context, id string) error {
	return e.pausedOp(ctx, id, "stepOver", Adapter.StepOver)
}

// StepInto enters the call on the current line of a Paused session.
func (e *Engine) StepInto(ctx context.Context, id string) error {
	return e.pausedOp(ctx, id, "stepInto", Adapter.StepInto)
}

// StepOut runs a Paused session until the current frame returns.
func (e *Engine) StepOut(ctx context.Context, id string) error {
	return e.pausedOp(ctx, id, "stepOut", Adapter.StepOut)
}

// pausedOp gates op on the Paused state, then delegates. The gate runs
// before any transport I/O, so a rejected call has no side effects.
func (e *Engine) pausedOp(ctx context.Context, id, op string, fn func(Adapter, context.Context, *Session) error) error {
	session, adapter, err := e.resolve(id)
	if err != nil {
		return err
	}
	if state := session.State(); state != StatePaused {
		return &StateError{Op: op, State: state, Required: StatePaused}
	}
	return fn(adapter, ctx, session)
}

// EvaluateExpression evaluates expression in the context of a Paused
// session's top frame.
func (e *Engine) EvaluateExpression(ctx context.Context, id, expression string) (*Variable, error) {
	session, adapter, err := e.resolve(id)
	if err != nil {
		return nil, err
	}
	if state := session.State(); state != StatePaused {
		return nil, &StateError{Op: "evaluate", State: state, Required: StatePaused}
	}
	return adapter.Evaluate(ctx, session, expression)
}

// StackTrace fetches a fresh call stack for a Paused session and
// installs it as the session snapshot.
func (e *Engine) StackTrace(ctx context.Context, id string) ([]StackFrame, error) {
	session, adapter, err := e.resolve(id)
	if err != nil {
		return nil, err
	}
	if state := session.State(); state != StatePaused {
		return nil, &StateError{Op: "stackTrace", State: state, Required: StatePaused}
	}

	frames, err := adapter.StackTrace(ctx, session)
	if err != nil {
		return nil, err
	}
	session.replaceSnapshot(frames)
	return frames, nil
}

// Variables fetches the variables of scope for a Paused session.
func (e *Engine) Variables(ctx context.Context, id, scope string) ([]Variable, error) {
	session, adapter, err := e.resolve(id)
	if err != nil {
		return nil, err
	}
	if state := session.State(); state != StatePaused {
		return nil, &StateError{Op: "variables", State: state, Required: StatePaused}
	}
	return adapter.Variables(ctx, session, scope)
}

// AddBreakpoint adds a line breakpoint to a session. Allowed in any
// state; the breakpoint reaches the live target at the next
// registration.
func (e *Engine) AddBreakpoint(id, file string, line int) (Breakpoint, error) {
	session, _, err := e.resolve(id)
	if err != nil {
		return Breakpoint{}, err
	}
	return session.AddBreakpoint(file, line), nil
}

// AddConditionalBreakpoint adds a conditional breakpoint to a session.
func (e *Engine) AddConditionalBreakpoint(id, file string, line int, condition string) (Breakpoint, error) {
	session, _, err := e.resolve(id)
	if err != nil {
		return Breakpoint{}, err
	}
	return session.AddConditionalBreakpoint(file, line, condition), nil
}

// AddLogPoint adds a log point to a session.
func (e *Engine) AddLogPoint(id, file string, line int, message string) (Breakpoint, error) {
	session, _, err := e.resolve(id)
	if err != nil {
		return Breakpoint{}, err
	}
	return session.AddLogPoint(file, line, message), nil
}

// RemoveBreakpoint deletes a breakpoint from a session.
func (e *Engine) RemoveBreakpoint(id string, breakpointID int) error {
	session, _, err := e.resolve(id)
	if err != nil {
		return err
	}
	return session.RemoveBreakpoint(breakpointID)
}

// SyncBreakpoints pushes a session's complete current breakpoint set to
// the live target, one request per file. It is a no-op for adapters
// that do not support live re-registration.
func (e *Engine) SyncBreakpoints(ctx context.Context, id string) error {
	session, adapter, err := e.resolve(id)
	if err != nil {
		return err
	}
	syncer, ok := adapter.(BreakpointSyncer)
	if !ok {
		return nil
	}
	return syncer.SyncBreakpoints(ctx, session)
}

// StopSession terminates a session and releases its resources. It is
// idempotent: stopping a Stopped session returns nil without touching
// the target again, and sessions left in Error still clean up.
func (e *Engine) StopSession(ctx context.Context, id string) error {
	session, adapter, err := e.resolve(id)
	if err != nil {
		return err
	}

	if err := adapter.Terminate(ctx, session); err != nil {
		session.SetStopped()
		return err
	}

	session.SetStopped()
	e.logger.Info("debug session stopped", "session", id)
	return nil
}

// Session returns a session by id.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Sessions returns all sessions.
func (e *Engine) Sessions() []*Session {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		result = append(result, s)
	}
	return result
}

// Shutdown stops every session, bounding each stop by stopTimeout.
func (e *Engine) Shutdown(stopTimeout time.Duration) {
	for _, session := range e.Sessions() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := e.StopSession(ctx, session.ID()); err != nil {
			e.logger.Warn("session stop during shutdown failed", "session", session.ID(), "error", err)
		}
		cancel()
	}
}

// resolve looks up a session and its adapter.
func (e *Engine) resolve(id string) (*Session, Adapter, error) {
	e.mu.RLock()
	session, ok := e.sessions[id]
	var adapter Adapter
	if ok {
		adapter = e.adapters[session.Config().Type]
	}
	e.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if adapter == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, session.Config().Type)
	}
	return session, adapter, nil
}
