package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/dshills/rundebug/debug"
	"github.com/dshills/rundebug/debug/dap"
)

// fakeServer is a scripted in-memory debug adapter implementing
// dap.Transport. It answers every request with a success response and
// can emit events on demand.
type fakeServer struct {
	mu       sync.Mutex
	requests []dap.Request
	recv     chan *dap.Message
	closed   bool
	seq      int

	frames       []dap.StackFrame
	scopes       []dap.Scope
	variables    map[int][]dap.Variable
	threads      []dap.Thread
	evalResult   dap.EvaluateResponseBody
	stopOnConfig *dap.StoppedEventBody
	noConfigDone bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		recv: make(chan *dap.Message, 64),
		scopes: []dap.Scope{
			{Name: "Locals", VariablesReference: 100},
		},
		variables: map[int][]dap.Variable{},
	}
}

func (f *fakeServer) Send(msg *dap.Message) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return io.ErrClosedPipe
	}
	var req dap.Request
	if err := json.Unmarshal(msg.Content, &req); err != nil {
		f.mu.Unlock()
		return err
	}
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	f.handle(req)
	return nil
}

func (f *fakeServer) Receive() (*dap.Message, error) {
	msg, ok := <-f.recv
	if !ok {
		return nil, io.EOF
	}
	return msg, nil
}

func (f *fakeServer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.recv)
	}
	return nil
}

func (f *fakeServer) handle(req dap.Request) {
	switch req.Command {
	case "initialize":
		f.respond(req, dap.Capabilities{SupportsConfigurationDoneRequest: !f.noConfigDone})
		f.emit("initialized", nil)
	case "threads":
		f.respond(req, dap.ThreadsResponseBody{Threads: f.threads})
	case "setBreakpoints":
		var args dap.SetBreakpointsArguments
		json.Unmarshal(req.Arguments, &args)
		body := dap.SetBreakpointsResponseBody{}
		for i, bp := range args.Breakpoints {
			body.Breakpoints = append(body.Breakpoints, dap.Breakpoint{
				ID: i + 1, Verified: true, Line: bp.Line,
			})
		}
		f.respond(req, body)
	case "stackTrace":
		f.mu.Lock()
		frames := append([]dap.StackFrame(nil), f.frames...)
		f.mu.Unlock()
		f.respond(req, dap.StackTraceResponseBody{StackFrames: frames, TotalFrames: len(frames)})
	case "scopes":
		f.respond(req, dap.ScopesResponseBody{Scopes: f.scopes})
	case "variables":
		var args dap.VariablesArguments
		json.Unmarshal(req.Arguments, &args)
		f.mu.Lock()
		vars := f.variables[args.VariablesReference]
		f.mu.Unlock()
		f.respond(req, dap.VariablesResponseBody{Variables: vars})
	case "evaluate":
		f.respond(req, f.evalResult)
	case "configurationDone":
		f.respond(req, struct{}{})
		if f.stopOnConfig != nil {
			f.emit("stopped", f.stopOnConfig)
		}
	default:
		f.respond(req, struct{}{})
	}
}

func (f *fakeServer) respond(req dap.Request, body any) {
	raw, _ := json.Marshal(body)
	f.mu.Lock()
	f.seq++
	resp := dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: f.seq, Type: "response"},
		RequestSeq:      req.Seq,
		Success:         true,
		Command:         req.Command,
		Body:            raw,
	}
	f.mu.Unlock()
	f.deliver(resp)
}

func (f *fakeServer) emit(event string, body any) {
	var raw json.RawMessage
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	f.mu.Lock()
	f.seq++
	evt := dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: f.seq, Type: "event"},
		Event:           event,
		Body:            raw,
	}
	f.mu.Unlock()
	f.deliver(evt)
}

func (f *fakeServer) deliver(v any) {
	content, _ := json.Marshal(v)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.recv <- &dap.Message{Content: content}
}

// commands returns the commands sent so far, in order.
func (f *fakeServer) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmds := make([]string, 0, len(f.requests))
	for _, req := range f.requests {
		cmds = append(cmds, req.Command)
	}
	return cmds
}

// requestArgs returns the arguments of the nth request with command.
func (f *fakeServer) requestArgs(command string, n int) json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := 0
	for _, req := range f.requests {
		if req.Command == command {
			if seen == n {
				return req.Arguments
			}
			seen++
		}
	}
	return nil
}

// stubRuntime spawns a harmless process and returns scripted bodies.
type stubRuntime struct {
	launchArgs map[string]any
	command    func() *exec.Cmd
}

func (r *stubRuntime) Type() string { return "stub" }

func (r *stubRuntime) Command(debug.LaunchConfiguration, string) (*exec.Cmd, error) {
	if r.command != nil {
		return r.command(), nil
	}
	return exec.Command("sleep", "30"), nil
}

func (r *stubRuntime) LaunchArguments(debug.LaunchConfiguration) map[string]any {
	return r.launchArgs
}

func (r *stubRuntime) AttachArguments(debug.LaunchConfiguration) map[string]any {
	return map[string]any{"mode": "attach"}
}

func testDriver(t *testing.T, server *fakeServer, runtime Runtime) *Driver {
	t.Helper()
	return NewDriver(runtime,
		WithDialer(func(context.Context, string) (dap.Transport, error) {
			return server, nil
		}),
		WithRequestTimeout(2*time.Second),
		WithStopGrace(time.Second),
	)
}

func launchConfig() debug.LaunchConfiguration {
	return debug.LaunchConfiguration{
		Name:    "demo",
		Type:    "stub",
		Request: debug.RequestLaunch,
		Program: "/src/main.py",
	}
}

func waitForState(t *testing.T, s *debug.Session, want debug.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for s.State() != want {
		select {
		case <-deadline:
			t.Fatalf("state = %v, want %v", s.State(), want)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestDriverLaunchHandshake(t *testing.T) {
	server := newFakeServer()
	runtime := &stubRuntime{launchArgs: map[string]any{"mode": "debug"}}
	d := testDriver(t, server, runtime)

	s := debug.NewSession("s1", launchConfig(), nil)
	bp := s.AddBreakpoint("/src/main.py", 10)

	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	want := []string{"initialize", "launch", "setBreakpoints", "configurationDone"}
	got := server.commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commands = %v, want %v", got, want)
		}
	}

	if s.State() != debug.StateRunning {
		t.Errorf("state = %v, want running", s.State())
	}

	var args dap.SetBreakpointsArguments
	json.Unmarshal(server.requestArgs("setBreakpoints", 0), &args)
	if args.Source.Path != "/src/main.py" {
		t.Errorf("source path = %q", args.Source.Path)
	}
	if len(args.Breakpoints) != 1 || args.Breakpoints[0].Line != 10 {
		t.Errorf("breakpoints = %+v", args.Breakpoints)
	}

	got2, _ := s.Breakpoint(bp.ID)
	if !got2.Verified {
		t.Error("breakpoint not marked verified")
	}
}

func TestDriverLaunchWithoutLaunchRequest(t *testing.T) {
	server := newFakeServer()
	d := testDriver(t, server, &stubRuntime{launchArgs: nil})

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	for _, cmd := range server.commands() {
		if cmd == "launch" {
			t.Error("launch request sent for a runtime that starts the debuggee itself")
		}
	}
}

func TestDriverLaunchMergesOptions(t *testing.T) {
	server := newFakeServer()
	runtime := &stubRuntime{launchArgs: map[string]any{"mode": "debug", "stopOnEntry": false}}
	d := testDriver(t, server, runtime)

	cfg := launchConfig()
	cfg.Options = map[string]any{"stopOnEntry": true, "subProcess": true}
	s := debug.NewSession("s1", cfg, nil)

	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	var args map[string]any
	json.Unmarshal(server.requestArgs("launch", 0), &args)
	if args["mode"] != "debug" {
		t.Errorf("mode = %v", args["mode"])
	}
	// The option bag wins over computed defaults.
	if args["stopOnEntry"] != true {
		t.Errorf("stopOnEntry = %v, want true", args["stopOnEntry"])
	}
	if args["subProcess"] != true {
		t.Errorf("subProcess = %v, want true", args["subProcess"])
	}
}

func TestDriverStoppedEvent(t *testing.T) {
	server := newFakeServer()
	server.frames = []dap.StackFrame{
		{ID: 1, Name: "main", Line: 10, Source: &dap.Source{Path: "/src/main.py"}},
	}
	server.stopOnConfig = &dap.StoppedEventBody{Reason: "breakpoint", ThreadID: 7}

	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	bp := s.AddBreakpoint("/src/main.py", 10)

	stopped := make(chan debug.Event, 1)
	s.On(debug.EventStopped, func(e debug.Event) { stopped <- e })

	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	select {
	case e := <-stopped:
		if e.Body != "breakpoint" {
			t.Errorf("stop reason = %v", e.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stopped event not delivered")
	}

	waitForState(t, s, debug.StatePaused)

	frames := s.Frames()
	if len(frames) != 1 || frames[0].File != "/src/main.py" || frames[0].Line != 10 {
		t.Errorf("snapshot = %+v", frames)
	}

	got, _ := s.Breakpoint(bp.ID)
	if got.HitCount != 1 {
		t.Errorf("hit count = %d, want 1", got.HitCount)
	}
}

func TestDriverStoppedEventHitBreakpointIDs(t *testing.T) {
	server := newFakeServer()
	server.frames = []dap.StackFrame{
		{ID: 1, Name: "main", Line: 20, Source: &dap.Source{Path: "/src/main.py"}},
	}
	// The adapter names the second registered breakpoint as hit.
	server.stopOnConfig = &dap.StoppedEventBody{
		Reason:           "breakpoint",
		ThreadID:         1,
		HitBreakpointIDs: []int{2},
	}

	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	first := s.AddBreakpoint("/src/main.py", 10)
	second := s.AddBreakpoint("/src/main.py", 20)

	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	waitForState(t, s, debug.StatePaused)

	got, _ := s.Breakpoint(second.ID)
	if got.HitCount != 1 {
		t.Errorf("hit breakpoint count = %d, want 1", got.HitCount)
	}
	got, _ = s.Breakpoint(first.ID)
	if got.HitCount != 0 {
		t.Errorf("unhit breakpoint count = %d, want 0", got.HitCount)
	}
}

func TestDriverStoppedEventThreadsFallback(t *testing.T) {
	server := newFakeServer()
	server.threads = []dap.Thread{{ID: 5, Name: "MainThread"}}
	// No threadId on the event: the driver must ask the adapter.
	server.stopOnConfig = &dap.StoppedEventBody{Reason: "pause", AllThreadsStopped: true}

	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	waitForState(t, s, debug.StatePaused)

	queried := false
	for _, c := range server.commands() {
		if c == "threads" {
			queried = true
		}
	}
	if !queried {
		t.Fatal("threads request not sent for event without threadId")
	}

	var args dap.StackTraceArguments
	json.Unmarshal(server.requestArgs("stackTrace", 0), &args)
	if args.ThreadID != 5 {
		t.Errorf("stackTrace threadId = %d, want 5", args.ThreadID)
	}
}

func TestDriverSkipsConfigurationDoneWhenUnsupported(t *testing.T) {
	server := newFakeServer()
	server.noConfigDone = true
	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	for _, c := range server.commands() {
		if c == "configurationDone" {
			t.Error("configurationDone sent to an adapter that does not support it")
		}
	}
	if s.State() != debug.StateRunning {
		t.Errorf("state = %v, want running", s.State())
	}
}

func TestDriverProcessExitFaultsSession(t *testing.T) {
	server := newFakeServer()
	runtime := &stubRuntime{command: func() *exec.Cmd { return exec.Command("true") }}
	d := testDriver(t, server, runtime)

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	waitForState(t, s, debug.StateFailed)

	if err := s.Failure(); !errors.Is(err, debug.ErrProcessFailed) {
		t.Errorf("failure = %v, want ErrProcessFailed", err)
	}
}

func TestDriverTransportFailureFaultsSession(t *testing.T) {
	server := newFakeServer()
	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	server.Close()

	waitForState(t, s, debug.StateFailed)

	if err := s.Failure(); !errors.Is(err, debug.ErrConnectionFailed) {
		t.Errorf("failure = %v, want ErrConnectionFailed", err)
	}
}

func TestDriverSyncBreakpointsConcurrent(t *testing.T) {
	server := newFakeServer()
	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	s.AddBreakpoint("/src/a.py", 10)
	s.AddBreakpoint("/src/b.py", 5)

	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := d.SyncBreakpoints(ctx, s); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("sync: %v", err)
	}
}

func TestDriverSyncBreakpointsClearsRemovedFile(t *testing.T) {
	server := newFakeServer()
	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	a := s.AddBreakpoint("/src/a.py", 10)
	s.AddBreakpoint("/src/b.py", 5)

	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	if err := s.RemoveBreakpoint(a.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := d.SyncBreakpoints(ctx, s); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// The sync must include a request for a.py with an empty list so the
	// target forgets the removed breakpoint.
	f := server
	f.mu.Lock()
	var cleared bool
	count := 0
	for _, req := range f.requests {
		if req.Command != "setBreakpoints" {
			continue
		}
		count++
		var args dap.SetBreakpointsArguments
		json.Unmarshal(req.Arguments, &args)
		if args.Source.Path == "/src/a.py" && count > 2 && len(args.Breakpoints) == 0 {
			cleared = true
		}
	}
	f.mu.Unlock()
	if !cleared {
		t.Error("file with no remaining breakpoints was not cleared")
	}
}

func TestDriverExecutionControl(t *testing.T) {
	server := newFakeServer()
	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	s.SetPaused(nil)
	if err := d.Continue(ctx, s); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if s.State() != debug.StateRunning {
		t.Errorf("state after continue = %v", s.State())
	}

	s.SetPaused(nil)
	if err := d.StepOver(ctx, s); err != nil {
		t.Fatalf("stepOver: %v", err)
	}
	if err := d.Pause(ctx, s); err != nil {
		t.Fatalf("pause: %v", err)
	}

	cmds := server.commands()
	var found []string
	for _, c := range cmds {
		switch c {
		case "continue", "next", "pause":
			found = append(found, c)
		}
	}
	if len(found) != 3 {
		t.Errorf("execution commands = %v", found)
	}
}

func TestDriverEvaluateRequiresSnapshot(t *testing.T) {
	server := newFakeServer()
	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	_, err := d.Evaluate(ctx, s, "x")
	if !errors.Is(err, debug.ErrNoSnapshot) {
		t.Errorf("error = %v, want ErrNoSnapshot", err)
	}
}

func TestDriverEvaluate(t *testing.T) {
	server := newFakeServer()
	server.evalResult = dap.EvaluateResponseBody{Result: "42", Type: "int"}
	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	s.SetPaused([]debug.StackFrame{{ID: 1, Name: "main"}})

	v, err := d.Evaluate(ctx, s, "total")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if v.Name != "total" || v.Value != "42" || v.Type != "int" {
		t.Errorf("variable = %+v", v)
	}
}

func TestDriverVariables(t *testing.T) {
	server := newFakeServer()
	server.variables[100] = []dap.Variable{
		{Name: "total", Value: "42", Type: "int", EvaluateName: "total"},
		{Name: "items", Value: "[1, 2]", Type: "list"},
	}
	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}
	defer d.Terminate(ctx, s)

	s.SetPaused([]debug.StackFrame{{ID: 1, Name: "main"}})

	vars, err := d.Variables(ctx, s, "local")
	if err != nil {
		t.Fatalf("variables: %v", err)
	}
	if len(vars) != 2 {
		t.Fatalf("got %d variables, want 2", len(vars))
	}
	if !vars[0].Evaluatable || vars[1].Evaluatable {
		t.Errorf("evaluatable flags = %v, %v", vars[0].Evaluatable, vars[1].Evaluatable)
	}

	// An unmatched scope yields nothing.
	vars, err = d.Variables(ctx, s, "registers")
	if err != nil {
		t.Fatalf("variables: %v", err)
	}
	if len(vars) != 0 {
		t.Errorf("registers scope returned %d variables", len(vars))
	}
}

func TestDriverTerminateIdempotent(t *testing.T) {
	server := newFakeServer()
	d := testDriver(t, server, &stubRuntime{})

	s := debug.NewSession("s1", launchConfig(), nil)
	ctx := context.Background()
	if err := d.Launch(ctx, s); err != nil {
		t.Fatalf("launch: %v", err)
	}

	if err := d.Terminate(ctx, s); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := d.Terminate(ctx, s); err != nil {
		t.Errorf("second terminate: %v", err)
	}

	disconnects := 0
	for _, c := range server.commands() {
		if c == "disconnect" {
			disconnects++
		}
	}
	if disconnects != 1 {
		t.Errorf("disconnect sent %d times, want 1", disconnects)
	}

	// Operations after teardown report the missing connection.
	if err := d.Continue(ctx, s); !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestDriverInitializeValidation(t *testing.T) {
	d := NewDriver(&stubRuntime{})
	ctx := context.Background()

	cfg := launchConfig()
	cfg.Program = ""
	if err := d.Initialize(ctx, debug.NewSession("s1", cfg, nil)); err == nil {
		t.Error("launch without program accepted")
	}

	cfg = launchConfig()
	cfg.Request = debug.RequestAttach
	if err := d.Initialize(ctx, debug.NewSession("s2", cfg, nil)); err == nil {
		t.Error("attach without port accepted")
	}

	cfg.Options = map[string]any{"port": 5678}
	if err := d.Initialize(ctx, debug.NewSession("s3", cfg, nil)); err != nil {
		t.Errorf("valid attach config rejected: %v", err)
	}
}
