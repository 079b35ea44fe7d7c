package debug

import (
	"sort"
	"sync"

	"github.com/dshills/rundebug/logging"
)

// State is the lifecycle state of a debug session.
type State int

const (
	// StateIdle is the state of a freshly created session.
	StateIdle State = iota
	// StateInitializing is set while the adapter launch sequence runs.
	StateInitializing
	// StateRunning indicates the debuggee is executing.
	StateRunning
	// StatePaused indicates the debuggee is suspended with a snapshot.
	StatePaused
	// StateStopped is the terminal state after shutdown.
	StateStopped
	// StateFailed is entered on unrecoverable failure.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "error"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are allowed.
func (s State) terminal() bool {
	return s == StateStopped
}

// Event names emitted by a session.
const (
	EventStateChanged      = "state"
	EventStopped           = "stopped"
	EventContinued         = "continued"
	EventTerminated        = "terminated"
	EventOutput            = "output"
	EventBreakpointAdded   = "breakpoint_added"
	EventBreakpointRemoved = "breakpoint_removed"
)

// Event is a session notification delivered to subscribers.
type Event struct {
	// Type is one of the Event* names.
	Type string

	// Body is the event payload; its concrete type depends on Type.
	Body any
}

// StateChange is the body of an EventStateChanged event.
type StateChange struct {
	Old State
	New State
}

// Output is the body of an EventOutput event.
type Output struct {
	// Category is the output channel: console, stdout, or stderr.
	Category string

	// Text is the raw output.
	Text string
}

// EventHandler receives session events. Handlers run on the adapter's
// event goroutine; panics are contained and logged and never reach the
// protocol machinery.
type EventHandler func(Event)

// Session is one debugging session: a launch configuration, a state
// machine, a breakpoint set, and the most recent stack-frame snapshot.
// It is safe for concurrent use.
//
// Sessions are created by the engine; adapters drive state transitions
// through the Set* methods as protocol events arrive.
type Session struct {
	id     string
	config LaunchConfiguration
	logger logging.Logger

	mu          sync.RWMutex
	state       State
	breakpoints map[int]*Breakpoint
	nextBPID    int
	frames      []StackFrame
	exitCode    int
	failure     error

	handlerMu sync.RWMutex
	handlers  map[string][]EventHandler
}

// NewSession creates a session in the Idle state.
func NewSession(id string, config LaunchConfiguration, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Session{
		id:          id,
		config:      config,
		logger:      logger.With("session", id),
		state:       StateIdle,
		breakpoints: make(map[int]*Breakpoint),
		exitCode:    -1,
		handlers:    make(map[string][]EventHandler),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Config returns the session's launch configuration.
func (s *Session) Config() LaunchConfiguration { return s.config }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Failure returns the error that moved the session to Error, if any.
func (s *Session) Failure() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// ExitCode returns the debuggee exit code, or -1 if it has not exited.
func (s *Session) ExitCode() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCode
}

// transition moves the session to next under the lock, maintaining the
// snapshot invariant: frames survive only in Paused.
func (s *Session) transition(next State) (State, bool) {
	s.mu.Lock()
	old := s.state
	if old.terminal() && next != old {
		s.mu.Unlock()
		return old, false
	}
	s.state = next
	if next != StatePaused {
		s.frames = nil
	}
	s.mu.Unlock()

	if old != next {
		s.emit(Event{Type: EventStateChanged, Body: StateChange{Old: old, New: next}})
	}
	return old, true
}

// markInitializing is used by the engine when the launch sequence
// starts.
func (s *Session) markInitializing() {
	s.transition(StateInitializing)
}

// SetRunning moves the session to Running and clears the snapshot.
// Adapters call it on a continued event and after successful
// continue/step requests.
func (s *Session) SetRunning() {
	s.transition(StateRunning)
}

// SetPaused moves the session to Paused and installs frames as the new
// snapshot. The list is replaced atomically, never patched.
func (s *Session) SetPaused(frames []StackFrame) {
	snapshot := append([]StackFrame(nil), frames...)

	s.mu.Lock()
	old := s.state
	if old.terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StatePaused
	s.frames = snapshot
	s.mu.Unlock()

	if old != StatePaused {
		s.emit(Event{Type: EventStateChanged, Body: StateChange{Old: old, New: StatePaused}})
	}
}

// SetStopped moves the session to its terminal Stopped state.
func (s *Session) SetStopped() {
	s.transition(StateStopped)
}

// Fail records err and moves the session to Error. Stopped sessions are
// left alone.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.failure = err
	s.mu.Unlock()
	s.transition(StateFailed)
}

// RecordExit stores the debuggee's exit code.
func (s *Session) RecordExit(code int) {
	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()
}

// Frames returns a copy of the current snapshot. The snapshot is empty
// unless the session is Paused.
func (s *Session) Frames() []StackFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StackFrame(nil), s.frames...)
}

// replaceSnapshot installs a fresh snapshot while Paused. Used when a
// caller re-queries the stack of an already-paused session.
func (s *Session) replaceSnapshot(frames []StackFrame) {
	snapshot := append([]StackFrame(nil), frames...)
	s.mu.Lock()
	if s.state == StatePaused {
		s.frames = snapshot
	}
	s.mu.Unlock()
}

// AddBreakpoint adds a line breakpoint and returns a copy of it. Ids
// are strictly increasing within the session and never reused, even
// after removal.
func (s *Session) AddBreakpoint(file string, line int) Breakpoint {
	return s.addBreakpoint(&Breakpoint{
		File:    file,
		Line:    line,
		Kind:    BreakpointLine,
		Enabled: true,
	})
}

// AddConditionalBreakpoint adds a breakpoint guarded by condition.
func (s *Session) AddConditionalBreakpoint(file string, line int, condition string) Breakpoint {
	return s.addBreakpoint(&Breakpoint{
		File:      file,
		Line:      line,
		Kind:      BreakpointConditional,
		Condition: condition,
		Enabled:   true,
	})
}

// AddLogPoint adds a log point that prints message without stopping.
func (s *Session) AddLogPoint(file string, line int, message string) Breakpoint {
	return s.addBreakpoint(&Breakpoint{
		File:       file,
		Line:       line,
		Kind:       BreakpointLogPoint,
		LogMessage: message,
		Enabled:    true,
	})
}

func (s *Session) addBreakpoint(bp *Breakpoint) Breakpoint {
	s.mu.Lock()
	s.nextBPID++
	bp.ID = s.nextBPID
	s.breakpoints[bp.ID] = bp
	copied := *bp
	s.mu.Unlock()

	s.logger.Debug("breakpoint added", "id", copied.ID, "file", copied.File, "line", copied.Line)
	s.emit(Event{Type: EventBreakpointAdded, Body: copied})
	return copied
}

// RemoveBreakpoint deletes a breakpoint. Removal is the only destructive
// breakpoint operation; the id is retired permanently.
func (s *Session) RemoveBreakpoint(id int) error {
	s.mu.Lock()
	bp, ok := s.breakpoints[id]
	if ok {
		delete(s.breakpoints, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrBreakpointNotFound
	}

	s.logger.Debug("breakpoint removed", "id", id, "file", bp.File, "line", bp.Line)
	s.emit(Event{Type: EventBreakpointRemoved, Body: *bp})
	return nil
}

// SetBreakpointEnabled flips a breakpoint's enabled flag. Disabled
// breakpoints keep their id but are omitted from registration.
func (s *Session) SetBreakpointEnabled(id int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bp, ok := s.breakpoints[id]
	if !ok {
		return ErrBreakpointNotFound
	}
	bp.Enabled = enabled
	return nil
}

// Breakpoint returns a copy of one breakpoint.
func (s *Session) Breakpoint(id int) (Breakpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bp, ok := s.breakpoints[id]
	if !ok {
		return Breakpoint{}, false
	}
	return *bp, true
}

// Breakpoints returns copies of all breakpoints, ordered by id.
func (s *Session) Breakpoints() []Breakpoint {
	s.mu.RLock()
	result := make([]Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		result = append(result, *bp)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// FileBreakpoints returns copies of the breakpoints in one file, ordered
// by id.
func (s *Session) FileBreakpoints(file string) []Breakpoint {
	s.mu.RLock()
	var result []Breakpoint
	for _, bp := range s.breakpoints {
		if bp.File == file {
			result = append(result, *bp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// BreakpointFiles returns the distinct files that have breakpoints,
// sorted. Registration sends one request per file carrying that file's
// complete current list.
func (s *Session) BreakpointFiles() []string {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for _, bp := range s.breakpoints {
		seen[bp.File] = struct{}{}
	}
	s.mu.RUnlock()

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// MarkBreakpointVerified records the adapter's confirmation for a
// breakpoint.
func (s *Session) MarkBreakpointVerified(id int, verified bool, message string) {
	s.mu.Lock()
	if bp, ok := s.breakpoints[id]; ok {
		bp.Verified = verified
		bp.Message = message
	}
	s.mu.Unlock()
}

// RecordBreakpointHit increments the hit count of the enabled breakpoint
// at file:line, if one exists.
func (s *Session) RecordBreakpointHit(file string, line int) {
	s.mu.Lock()
	for _, bp := range s.breakpoints {
		if bp.Enabled && bp.File == file && bp.Line == line {
			bp.HitCount++
		}
	}
	s.mu.Unlock()
}

// On subscribes a handler to one event type. Subscribers are best
// effort: a panicking handler is logged and cannot disturb the session
// or the adapter's receive loop.
func (s *Session) On(eventType string, handler EventHandler) {
	s.handlerMu.Lock()
	s.handlers[eventType] = append(s.handlers[eventType], handler)
	s.handlerMu.Unlock()
}

// EmitStopped notifies subscribers that the debuggee stopped.
func (s *Session) EmitStopped(reason string) {
	s.emit(Event{Type: EventStopped, Body: reason})
}

// EmitContinued notifies subscribers that the debuggee resumed.
func (s *Session) EmitContinued() {
	s.emit(Event{Type: EventContinued, Body: nil})
}

// EmitTerminated notifies subscribers that the debuggee terminated.
func (s *Session) EmitTerminated() {
	s.emit(Event{Type: EventTerminated, Body: nil})
}

// EmitOutput forwards debuggee output to subscribers.
func (s *Session) EmitOutput(category, text string) {
	s.emit(Event{Type: EventOutput, Body: Output{Category: category, Text: text}})
}

// emit delivers event to every subscriber of its type, containing
// panics.
func (s *Session) emit(event Event) {
	s.handlerMu.RLock()
	handlers := append([]EventHandler(nil), s.handlers[event.Type]...)
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("session event handler panicked", "event", event.Type, "panic", r)
				}
			}()
			handler(event)
		}()
	}
}
