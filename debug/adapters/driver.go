package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dshills/rundebug/debug"
	"github.com/dshills/rundebug/debug/dap"
	"github.com/dshills/rundebug/logging"
	"github.com/dshills/rundebug/process"
)

// Runtime supplies the target-runtime specifics a Driver needs: how to
// spawn the adapter process and what the launch/attach request bodies
// look like. Runtimes hold no per-session state.
type Runtime interface {
	// Type returns the adapter-type key this runtime serves.
	Type() string

	// Command builds the command that starts the adapter (and, for
	// runtimes like debugpy, the debuggee itself) listening on addr.
	Command(cfg debug.LaunchConfiguration, addr string) (*exec.Cmd, error)

	// LaunchArguments returns the body of the launch request, or nil
	// when the runtime starts the debuggee from the command line and no
	// launch request is needed.
	LaunchArguments(cfg debug.LaunchConfiguration) map[string]any

	// AttachArguments returns the body of the attach request.
	AttachArguments(cfg debug.LaunchConfiguration) map[string]any
}

// ErrNotConnected indicates the session has no live adapter connection.
var ErrNotConnected = errors.New("session has no active adapter connection")

// Defaults for connection and teardown behavior. Dial retries are spaced
// by a fixed backoff because the adapter process needs time to start
// listening.
const (
	defaultDialRetries = 10
	defaultDialBackoff = 500 * time.Millisecond
	defaultStopGrace   = 5 * time.Second
	eventQueueSize     = 64
)

// Dialer opens a transport to the adapter at addr.
type Dialer func(ctx context.Context, addr string) (dap.Transport, error)

// Driver implements debug.Adapter for one target runtime over the Debug
// Adapter Protocol. A single Driver serves many sessions; each session
// gets its own process, transport, and client (never shared).
type Driver struct {
	runtime    Runtime
	supervisor *process.Supervisor
	logger     logging.Logger

	dialRetries    int
	dialBackoff    time.Duration
	requestTimeout time.Duration
	stopGrace      time.Duration
	dial           Dialer

	mu    sync.Mutex
	links map[string]*link
}

// link is the per-session connection state: exactly one process handle
// and one transport per session.
type link struct {
	session *debug.Session
	client  *dap.Client
	proc    *process.Process

	// syncMu serializes breakpoint registration; registered tracks files
	// whose breakpoints have been pushed, so a re-registration can clear
	// files that no longer have any.
	syncMu     sync.Mutex
	registered map[string]bool

	// bpIDs maps adapter-assigned breakpoint ids to session breakpoint
	// ids, rebuilt on every registration.
	bpMu  sync.Mutex
	bpIDs map[int]int

	// threadID is the thread reported by the last stopped event.
	threadMu sync.Mutex
	threadID int

	// events serializes protocol events onto one worker, keeping the
	// receive loop free to deliver responses while an event handler
	// issues follow-up requests.
	events chan func()
	quit   chan struct{}
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithSupervisor sets the process supervisor used to spawn targets.
func WithSupervisor(s *process.Supervisor) DriverOption {
	return func(d *Driver) { d.supervisor = s }
}

// WithDriverLogger sets the driver logger.
func WithDriverLogger(logger logging.Logger) DriverOption {
	return func(d *Driver) { d.logger = logger }
}

// WithDialRetries sets the number of connection retries.
func WithDialRetries(n int) DriverOption {
	return func(d *Driver) { d.dialRetries = n }
}

// WithDialBackoff sets the fixed delay between connection attempts.
func WithDialBackoff(backoff time.Duration) DriverOption {
	return func(d *Driver) { d.dialBackoff = backoff }
}

// WithRequestTimeout bounds the wait for each protocol response.
func WithRequestTimeout(timeout time.Duration) DriverOption {
	return func(d *Driver) { d.requestTimeout = timeout }
}

// WithStopGrace sets how long Terminate waits before escalating to
// SIGKILL.
func WithStopGrace(grace time.Duration) DriverOption {
	return func(d *Driver) { d.stopGrace = grace }
}

// WithDialer replaces the transport dialer. Tests use this to connect
// the driver to an in-memory adapter.
func WithDialer(dial Dialer) DriverOption {
	return func(d *Driver) { d.dial = dial }
}

// NewDriver creates a driver for runtime.
func NewDriver(runtime Runtime, opts ...DriverOption) *Driver {
	d := &Driver{
		runtime:        runtime,
		logger:         logging.NewNop(),
		dialRetries:    defaultDialRetries,
		dialBackoff:    defaultDialBackoff,
		requestTimeout: dap.DefaultRequestTimeout,
		stopGrace:      defaultStopGrace,
		links:          make(map[string]*link),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.supervisor == nil {
		d.supervisor = process.NewSupervisor()
	}
	if d.dial == nil {
		d.dial = func(ctx context.Context, addr string) (dap.Transport, error) {
			return dap.Dial(ctx, addr, d.dialRetries, d.dialBackoff)
		}
	}
	return d
}

// Initialize validates the configuration for this runtime. No target
// I/O happens here.
func (d *Driver) Initialize(_ context.Context, s *debug.Session) error {
	cfg := s.Config()
	switch cfg.Request {
	case debug.RequestLaunch, "":
		if cfg.Program == "" {
			return fmt.Errorf("launch configuration %q: program is required", cfg.Name)
		}
	case debug.RequestAttach:
		if optionInt(cfg, "port", 0) == 0 {
			return fmt.Errorf("attach configuration %q: options.port is required", cfg.Name)
		}
	default:
		return fmt.Errorf("configuration %q: invalid request %q", cfg.Name, cfg.Request)
	}

	d.logger.Debug("adapter initialized", "session", s.ID(), "type", d.runtime.Type())
	return nil
}

// Launch spawns the target, connects, and runs the configuration
// handshake, leaving the session Running (or Paused on entry when
// configured).
func (d *Driver) Launch(ctx context.Context, s *debug.Session) error {
	cfg := s.Config()

	port := optionInt(cfg, "port", 0)
	if port == 0 {
		p, err := freePort()
		if err != nil {
			return fmt.Errorf("allocate adapter port: %w", err)
		}
		port = p
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	cmd, err := d.runtime.Command(cfg, addr)
	if err != nil {
		return err
	}

	proc, err := d.supervisor.Start(cfg.Name, cmd)
	if err != nil {
		return fmt.Errorf("%w: %v", debug.ErrProcessFailed, err)
	}

	transport, err := d.dial(ctx, addr)
	if err != nil {
		_ = proc.Stop(d.stopGrace)
		return fmt.Errorf("%w: %v", debug.ErrConnectionFailed, err)
	}

	l := d.connect(s, transport, proc)

	if err := d.handshake(ctx, l, d.runtime.LaunchArguments(cfg), false); err != nil {
		d.teardown(ctx, s.ID())
		return err
	}

	markRunning(s)

	d.logger.Info("target launched", "session", s.ID(), "addr", addr, "pid", proc.PID())
	return nil
}

// markRunning finishes a successful start. A stop-on-entry target pauses
// itself before configurationDone returns, and a target that died during
// the handshake has already faulted; neither transition may be stomped.
func markRunning(s *debug.Session) {
	switch s.State() {
	case debug.StatePaused, debug.StateFailed, debug.StateStopped:
	default:
		s.SetRunning()
	}
}

// Attach connects to an adapter that is already listening; no process
// is spawned and none is owned.
func (d *Driver) Attach(ctx context.Context, s *debug.Session) error {
	cfg := s.Config()
	host := optionString(cfg, "host", "127.0.0.1")
	port := optionInt(cfg, "port", 0)
	addr := fmt.Sprintf("%s:%d", host, port)

	transport, err := d.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("%w: %v", debug.ErrConnectionFailed, err)
	}

	l := d.connect(s, transport, nil)

	if err := d.handshake(ctx, l, d.runtime.AttachArguments(cfg), true); err != nil {
		d.teardown(ctx, s.ID())
		return err
	}

	markRunning(s)

	d.logger.Info("attached to target", "session", s.ID(), "addr", addr)
	return nil
}

// connect builds the per-session link and wires protocol events.
func (d *Driver) connect(s *debug.Session, transport dap.Transport, proc *process.Process) *link {
	l := &link{
		session:    s,
		proc:       proc,
		registered: make(map[string]bool),
		bpIDs:      make(map[int]int),
		threadID:   1,
		events:     make(chan func(), eventQueueSize),
		quit:       make(chan struct{}),
	}
	l.client = dap.NewClient(transport,
		dap.WithTimeout(d.requestTimeout),
		dap.WithLogger(d.logger.With("session", s.ID())),
	)

	l.client.OnStopped(func(body dap.StoppedEventBody) {
		l.enqueue(func() { d.onStopped(l, body) })
	})
	l.client.OnContinued(func(dap.ContinuedEventBody) {
		l.enqueue(func() {
			s.SetRunning()
			s.EmitContinued()
		})
	})
	l.client.OnTerminated(func(dap.TerminatedEventBody) {
		l.enqueue(func() {
			s.SetStopped()
			s.EmitTerminated()
		})
	})
	l.client.OnExited(func(body dap.ExitedEventBody) {
		l.enqueue(func() { s.RecordExit(body.ExitCode) })
	})
	l.client.OnOutput(func(body dap.OutputEventBody) {
		l.enqueue(func() { s.EmitOutput(body.Category, body.Output) })
	})
	l.client.OnTransportError(func(err error) {
		l.enqueue(func() { d.fault(s, fmt.Errorf("%w: %v", debug.ErrConnectionFailed, err)) })
	})

	go l.run()
	if proc != nil {
		go d.watch(l, proc)
	}

	d.mu.Lock()
	d.links[s.ID()] = l
	d.mu.Unlock()
	return l
}

// watch faults the session if the target dies while its link is still
// live. Teardown removes the link from the map before stopping the
// process, so an orderly shutdown never faults.
func (d *Driver) watch(l *link, proc *process.Process) {
	select {
	case <-proc.Done():
	case <-l.quit:
		return
	}

	d.mu.Lock()
	_, live := d.links[l.session.ID()]
	d.mu.Unlock()
	if !live {
		return
	}

	d.fault(l.session, fmt.Errorf("%w: exited with code %d", debug.ErrProcessFailed, proc.ExitCode()))
}

// fault moves a session to its failed state unless it already shut down.
func (d *Driver) fault(s *debug.Session, err error) {
	if s.State() == debug.StateStopped {
		return
	}
	d.logger.Error("debug target lost", "session", s.ID(), "error", err)
	s.Fail(err)
	s.EmitTerminated()
}

// handshake runs initialize, the optional launch/attach request,
// breakpoint registration, and configurationDone.
func (d *Driver) handshake(ctx context.Context, l *link, args map[string]any, attach bool) error {
	cfg := l.session.Config()

	caps, err := l.client.Initialize(ctx, dap.InitializeArguments{
		ClientID:        "rundebug",
		ClientName:      "rundebug engine",
		AdapterID:       d.runtime.Type(),
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
		PathFormat:      "path",

		SupportsVariableType: true,
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	if args != nil {
		body, err := mergeOptions(args, cfg)
		if err != nil {
			return err
		}
		if attach {
			if err := l.client.Attach(ctx, body); err != nil {
				return fmt.Errorf("attach: %w", err)
			}
		} else {
			if err := l.client.Launch(ctx, body); err != nil {
				return fmt.Errorf("launch: %w", err)
			}
		}
	}

	if err := d.syncBreakpoints(ctx, l); err != nil {
		return err
	}

	if caps.SupportsConfigurationDoneRequest {
		if err := l.client.ConfigurationDone(ctx); err != nil {
			return fmt.Errorf("configurationDone: %w", err)
		}
	}
	return nil
}

// onStopped applies a stopped event: refresh the snapshot, move the
// session to Paused, account breakpoint hits.
func (d *Driver) onStopped(l *link, body dap.StoppedEventBody) {
	ctx, cancel := context.WithTimeout(context.Background(), d.requestTimeout)
	defer cancel()

	if body.ThreadID != 0 {
		l.setThread(body.ThreadID)
	} else if threads, err := l.client.Threads(ctx); err == nil && len(threads) > 0 {
		// Some adapters omit threadId on all-thread stops.
		l.setThread(threads[0].ID)
	}

	frames, err := d.fetchFrames(ctx, l)
	if err != nil {
		d.logger.Warn("stack refresh after stop failed", "session", l.session.ID(), "error", err)
	}
	l.session.SetPaused(frames)

	if body.Reason == "breakpoint" {
		d.recordHits(l, body, frames)
	}
	l.session.EmitStopped(body.Reason)
}

// recordHits accounts breakpoint hits for a stop. The event's
// hitBreakpointIds are authoritative when present; the top frame's
// location is the fallback for adapters that omit them.
func (d *Driver) recordHits(l *link, body dap.StoppedEventBody, frames []debug.StackFrame) {
	if len(body.HitBreakpointIDs) > 0 {
		l.bpMu.Lock()
		ids := make([]int, 0, len(body.HitBreakpointIDs))
		for _, adapterID := range body.HitBreakpointIDs {
			if sessionID, ok := l.bpIDs[adapterID]; ok {
				ids = append(ids, sessionID)
			}
		}
		l.bpMu.Unlock()

		for _, id := range ids {
			if bp, ok := l.session.Breakpoint(id); ok {
				l.session.RecordBreakpointHit(bp.File, bp.Line)
			}
		}
		if len(ids) > 0 {
			return
		}
	}
	if len(frames) > 0 {
		l.session.RecordBreakpointHit(frames[0].File, frames[0].Line)
	}
}

// Pause asks the adapter to suspend the current thread. The session
// moves to Paused when the stopped event arrives.
func (d *Driver) Pause(ctx context.Context, s *debug.Session) error {
	l, err := d.link(s)
	if err != nil {
		return err
	}
	return l.client.Pause(ctx, l.thread())
}

// Continue resumes execution and moves the session to Running.
func (d *Driver) Continue(ctx context.Context, s *debug.Session) error {
	l, err := d.link(s)
	if err != nil {
		return err
	}
	if err := l.client.Continue(ctx, l.thread()); err != nil {
		return err
	}
	s.SetRunning()
	return nil
}

// StepOver executes the current line and moves the session to Running
// until the step completes.
func (d *Driver) StepOver(ctx context.Context, s *debug.Session) error {
	l, err := d.link(s)
	if err != nil {
		return err
	}
	if err := l.client.Next(ctx, l.thread()); err != nil {
		return err
	}
	s.SetRunning()
	return nil
}

// StepInto enters the call on the current line.
func (d *Driver) StepInto(ctx context.Context, s *debug.Session) error {
	l, err := d.link(s)
	if err != nil {
		return err
	}
	if err := l.client.StepIn(ctx, l.thread()); err != nil {
		return err
	}
	s.SetRunning()
	return nil
}

// StepOut runs until the current frame returns.
func (d *Driver) StepOut(ctx context.Context, s *debug.Session) error {
	l, err := d.link(s)
	if err != nil {
		return err
	}
	if err := l.client.StepOut(ctx, l.thread()); err != nil {
		return err
	}
	s.SetRunning()
	return nil
}

// Evaluate evaluates expression against the top frame of the current
// snapshot.
func (d *Driver) Evaluate(ctx context.Context, s *debug.Session, expression string) (*debug.Variable, error) {
	l, err := d.link(s)
	if err != nil {
		return nil, err
	}

	frames := s.Frames()
	if len(frames) == 0 {
		return nil, debug.ErrNoSnapshot
	}

	result, err := l.client.Evaluate(ctx, dap.EvaluateArguments{
		Expression: expression,
		FrameID:    frames[0].ID,
		Context:    "repl",
	})
	if err != nil {
		return nil, err
	}

	v := &debug.Variable{
		Name:        expression,
		Value:       result.Result,
		Type:        result.Type,
		Evaluatable: true,
	}

	// One level of structure for composite results.
	if result.VariablesReference > 0 {
		children, err := l.client.Variables(ctx, result.VariablesReference)
		if err == nil {
			v.Children = toVariables(children)
		}
	}
	return v, nil
}

// StackTrace fetches a fresh call stack for the current thread.
func (d *Driver) StackTrace(ctx context.Context, s *debug.Session) ([]debug.StackFrame, error) {
	l, err := d.link(s)
	if err != nil {
		return nil, err
	}
	return d.fetchFrames(ctx, l)
}

// Variables fetches the variables of the named scope for the top frame.
// Scope matching is by substring against the adapter's scope names, so
// "local" matches "Locals"; "all" selects everything.
func (d *Driver) Variables(ctx context.Context, s *debug.Session, scope string) ([]debug.Variable, error) {
	l, err := d.link(s)
	if err != nil {
		return nil, err
	}

	frames := s.Frames()
	if len(frames) == 0 {
		return nil, debug.ErrNoSnapshot
	}

	scopes, err := l.client.Scopes(ctx, frames[0].ID)
	if err != nil {
		return nil, err
	}

	var result []debug.Variable
	for _, sc := range scopes {
		if !scopeMatches(scope, sc.Name) {
			continue
		}
		vars, err := l.client.Variables(ctx, sc.VariablesReference)
		if err != nil {
			return nil, err
		}
		result = append(result, toVariables(vars)...)
	}
	return result, nil
}

// SyncBreakpoints pushes the session's complete breakpoint set to the
// live target. Files whose last breakpoint was removed are cleared with
// an empty list.
func (d *Driver) SyncBreakpoints(ctx context.Context, s *debug.Session) error {
	l, err := d.link(s)
	if err != nil {
		return err
	}
	return d.syncBreakpoints(ctx, l)
}

func (d *Driver) syncBreakpoints(ctx context.Context, l *link) error {
	l.syncMu.Lock()
	defer l.syncMu.Unlock()

	files := l.session.BreakpointFiles()
	pending := make(map[string]struct{}, len(files))
	for _, f := range files {
		pending[f] = struct{}{}
	}
	for f := range l.registered {
		pending[f] = struct{}{}
	}

	for f := range pending {
		if err := d.registerFile(ctx, l, f); err != nil {
			return fmt.Errorf("register breakpoints for %s: %w", f, err)
		}
	}
	return nil
}

// registerFile sends one setBreakpoints request carrying the file's
// entire current enabled set, then records the adapter's verification.
func (d *Driver) registerFile(ctx context.Context, l *link, file string) error {
	bps := l.session.FileBreakpoints(file)

	enabled := make([]debug.Breakpoint, 0, len(bps))
	source := make([]dap.SourceBreakpoint, 0, len(bps))
	for _, bp := range bps {
		if !bp.Enabled {
			continue
		}
		enabled = append(enabled, bp)
		source = append(source, dap.SourceBreakpoint{
			Line:       bp.Line,
			Condition:  bp.Condition,
			LogMessage: bp.LogMessage,
		})
	}

	result, err := l.client.SetBreakpoints(ctx, dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: file},
		Breakpoints: source,
	})
	if err != nil {
		return err
	}

	for i, bp := range enabled {
		if i >= len(result) {
			break
		}
		l.session.MarkBreakpointVerified(bp.ID, result[i].Verified, result[i].Message)
		if result[i].ID != 0 {
			l.bpMu.Lock()
			l.bpIDs[result[i].ID] = bp.ID
			l.bpMu.Unlock()
		}
	}

	if len(source) > 0 {
		l.registered[file] = true
	} else {
		delete(l.registered, file)
	}
	return nil
}

// Terminate tears down the session's connection and target. Safe to call
// repeatedly; only the first call does any work.
func (d *Driver) Terminate(ctx context.Context, s *debug.Session) error {
	return d.teardown(ctx, s.ID())
}

func (d *Driver) teardown(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	l, ok := d.links[sessionID]
	if ok {
		delete(d.links, sessionID)
	}
	d.mu.Unlock()

	if !ok {
		return nil
	}

	// Best effort: the debuggee may already be gone.
	dctx, cancel := context.WithTimeout(ctx, d.stopGrace)
	if err := l.client.Disconnect(dctx, dap.DisconnectArguments{TerminateDebuggee: true}); err != nil {
		d.logger.Debug("disconnect during teardown failed", "session", sessionID, "error", err)
	}
	cancel()

	if l.proc != nil {
		if err := l.proc.Stop(d.stopGrace); err != nil {
			d.logger.Warn("target stop failed", "session", sessionID, "error", err)
		}
	}

	err := l.client.Close()
	close(l.quit)

	d.logger.Info("session torn down", "session", sessionID)
	return err
}

// fetchFrames requests a stack trace and maps it into domain frames.
func (d *Driver) fetchFrames(ctx context.Context, l *link) ([]debug.StackFrame, error) {
	body, err := l.client.StackTrace(ctx, dap.StackTraceArguments{ThreadID: l.thread()})
	if err != nil {
		return nil, err
	}

	frames := make([]debug.StackFrame, 0, len(body.StackFrames))
	for _, f := range body.StackFrames {
		frame := debug.StackFrame{
			ID:     f.ID,
			Name:   f.Name,
			Line:   f.Line,
			Column: f.Column,
		}
		if f.Source != nil {
			frame.File = f.Source.Path
			frame.Source = f.Source.Name
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// link returns the live connection for s.
func (d *Driver) link(s *debug.Session) (*link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.links[s.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, s.ID())
	}
	return l, nil
}

// enqueue hands fn to the link's event worker, preserving arrival
// order.
func (l *link) enqueue(fn func()) {
	select {
	case l.events <- fn:
	case <-l.quit:
	}
}

// run processes protocol events in order until teardown.
func (l *link) run() {
	for {
		select {
		case fn := <-l.events:
			fn()
		case <-l.quit:
			return
		}
	}
}

func (l *link) thread() int {
	l.threadMu.Lock()
	defer l.threadMu.Unlock()
	return l.threadID
}

func (l *link) setThread(id int) {
	l.threadMu.Lock()
	l.threadID = id
	l.threadMu.Unlock()
}

// toVariables maps protocol variables into domain variables.
func toVariables(vars []dap.Variable) []debug.Variable {
	result := make([]debug.Variable, 0, len(vars))
	for _, v := range vars {
		result = append(result, debug.Variable{
			Name:        v.Name,
			Value:       v.Value,
			Type:        v.Type,
			Evaluatable: v.EvaluateName != "",
		})
	}
	return result
}

// scopeMatches reports whether an adapter scope name satisfies the
// requested scope.
func scopeMatches(requested, scopeName string) bool {
	if requested == "" || requested == "all" {
		return true
	}
	return strings.Contains(strings.ToLower(scopeName), strings.ToLower(requested))
}

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
