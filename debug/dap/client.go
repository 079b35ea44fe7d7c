package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/rundebug/logging"
)

// DefaultRequestTimeout bounds how long a caller waits for a correlated
// response.
const DefaultRequestTimeout = 10 * time.Second

// Sentinel errors.
var (
	// ErrTimeout indicates no response arrived within the request timeout.
	// The pending slot is purged; the session is not torn down.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed indicates the client was closed or the transport failed;
	// every outstanding request is rejected with it.
	ErrClosed = errors.New("session terminated")
)

// ProtocolError is a response with success=false, carrying the
// adapter-supplied message.
type ProtocolError struct {
	Command string
	Message string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s request failed", e.Command)
	}
	return fmt.Sprintf("%s request failed: %s", e.Command, e.Message)
}

// pendingRequest is a single-assignment slot resolved exactly once by the
// receive loop, a timeout, or client teardown.
type pendingRequest struct {
	done    chan struct{}
	once    sync.Once
	command string
	body    json.RawMessage
	err     error
}

func (p *pendingRequest) resolve(body json.RawMessage, err error) {
	p.once.Do(func() {
		p.body = body
		p.err = err
		close(p.done)
	})
}

// eventHandlers holds the registered event callbacks.
type eventHandlers struct {
	onInitialized func()
	onStopped     func(StoppedEventBody)
	onContinued   func(ContinuedEventBody)
	onExited      func(ExitedEventBody)
	onTerminated  func(TerminatedEventBody)
	onOutput      func(OutputEventBody)
	onAny         func(Event)

	// onTransportError fires when the receive loop dies on a transport
	// failure, as opposed to an orderly Close.
	onTransportError func(error)
}

// Client correlates requests with responses over one transport and
// dispatches adapter events.
//
// Exactly one background goroutine reads the transport for the lifetime
// of the client; callers never read it directly. Any number of callers
// may issue requests concurrently.
type Client struct {
	transport Transport
	timeout   time.Duration
	logger    logging.Logger

	seq int64

	pendingMu sync.Mutex
	pending   map[int]*pendingRequest

	handlerMu sync.RWMutex
	handlers  eventHandlers

	done      chan struct{}
	closeOnce sync.Once

	errMu sync.RWMutex
	err   error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout overrides the per-request response timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger used for receive-loop diagnostics.
func WithLogger(logger logging.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client over transport and starts its receive loop.
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		timeout:   DefaultRequestTimeout,
		logger:    logging.NewNop(),
		pending:   make(map[int]*pendingRequest),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.receiveLoop()
	return c
}

// Close shuts down the client, closes the transport, and rejects every
// outstanding request with ErrClosed. It is safe to call repeatedly.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.transport.Close()
		c.failPending(ErrClosed)
	})
	return err
}

// Err returns the transport error that ended the receive loop, if any.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// failPending rejects and removes every pending request.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int]*pendingRequest)
	c.pendingMu.Unlock()

	for _, req := range pending {
		req.resolve(nil, err)
	}
}

// receiveLoop is the only reader of the transport. It resolves responses
// by request_seq and dispatches events in arrival order.
func (c *Client) receiveLoop() {
	for {
		msg, err := c.transport.Receive()
		if err != nil {
			var notify func(error)
			select {
			case <-c.done:
			default:
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
				c.logger.Warn("dap receive loop ended", "error", err)
				c.handlerMu.RLock()
				notify = c.handlers.onTransportError
				c.handlerMu.RUnlock()
			}
			c.failPending(ErrClosed)
			if notify != nil {
				c.dispatch(func() { notify(err) })
			}
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		switch gjson.GetBytes(msg.Content, "type").String() {
		case "response":
			c.handleResponse(msg.Content)
		case "event":
			c.handleEvent(msg.Content)
		}
	}
}

// handleResponse resolves the pending slot matching request_seq. Matching
// is strictly by sequence number, never by arrival order.
func (c *Client) handleResponse(content []byte) {
	var resp Response
	if err := json.Unmarshal(content, &resp); err != nil {
		c.logger.Warn("dap response unmarshal failed", "error", err)
		return
	}

	c.pendingMu.Lock()
	req, ok := c.pending[resp.RequestSeq]
	if ok {
		delete(c.pending, resp.RequestSeq)
	}
	c.pendingMu.Unlock()

	if !ok {
		// Response for a purged or unknown request.
		c.logger.Debug("dap response without pending request", "request_seq", resp.RequestSeq, "command", resp.Command)
		return
	}

	if !resp.Success {
		req.resolve(nil, &ProtocolError{Command: resp.Command, Message: resp.Message})
		return
	}
	req.resolve(resp.Body, nil)
}

// handleEvent dispatches one event. Handler panics are recovered and
// logged; a crashed receive loop would strand every future request.
func (c *Client) handleEvent(content []byte) {
	var evt Event
	if err := json.Unmarshal(content, &evt); err != nil {
		c.logger.Warn("dap event unmarshal failed", "error", err)
		return
	}

	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()

	c.dispatch(func() {
		switch evt.Event {
		case "initialized":
			if handlers.onInitialized != nil {
				handlers.onInitialized()
			}
		case "stopped":
			if handlers.onStopped != nil {
				var body StoppedEventBody
				if err := json.Unmarshal(evt.Body, &body); err == nil {
					handlers.onStopped(body)
				}
			}
		case "continued":
			if handlers.onContinued != nil {
				var body ContinuedEventBody
				if err := json.Unmarshal(evt.Body, &body); err == nil {
					handlers.onContinued(body)
				}
			}
		case "exited":
			if handlers.onExited != nil {
				var body ExitedEventBody
				if err := json.Unmarshal(evt.Body, &body); err == nil {
					handlers.onExited(body)
				}
			}
		case "terminated":
			if handlers.onTerminated != nil {
				var body TerminatedEventBody
				if err := json.Unmarshal(evt.Body, &body); err == nil {
					handlers.onTerminated(body)
				}
			}
		case "output":
			if handlers.onOutput != nil {
				var body OutputEventBody
				if err := json.Unmarshal(evt.Body, &body); err == nil {
					handlers.onOutput(body)
				}
			}
		}

		if handlers.onAny != nil {
			handlers.onAny(evt)
		}
	})
}

// dispatch runs fn, containing any panic.
func (c *Client) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("dap event handler panicked", "panic", r)
		}
	}()
	fn()
}

// Call sends a request and waits for its correlated response body. The
// wait is bounded by the client timeout; on expiry the pending slot is
// purged and ErrTimeout is returned.
func (c *Client) Call(ctx context.Context, command string, args any) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	var argsJSON json.RawMessage
	if args != nil {
		var err error
		argsJSON, err = json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal %s arguments: %w", command, err)
		}
	}

	seq := int(atomic.AddInt64(&c.seq, 1))
	req := Request{
		ProtocolMessage: ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
		Arguments:       argsJSON,
	}

	content, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}

	pending := &pendingRequest{
		done:    make(chan struct{}),
		command: command,
	}

	// The slot must exist before the frame is flushed, or a fast response
	// could race the insert and be dropped.
	c.pendingMu.Lock()
	c.pending[seq] = pending
	c.pendingMu.Unlock()

	if err := c.transport.Send(&Message{Content: content}); err != nil {
		c.removePending(seq)
		return nil, fmt.Errorf("send %s request: %w", command, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-pending.done:
		return pending.body, pending.err
	case <-ctx.Done():
		c.removePending(seq)
		return nil, ctx.Err()
	case <-timer.C:
		c.removePending(seq)
		return nil, fmt.Errorf("%s: %w", command, ErrTimeout)
	}
}

// removePending drops one pending slot, if still present.
func (c *Client) removePending(seq int) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// PendingCount returns the number of requests awaiting a response.
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Event handler registration. Handlers run on the receive goroutine, in
// transport arrival order; they should hand off long work.

// OnInitialized registers the initialized event handler.
func (c *Client) OnInitialized(fn func()) {
	c.handlerMu.Lock()
	c.handlers.onInitialized = fn
	c.handlerMu.Unlock()
}

// OnStopped registers the stopped event handler.
func (c *Client) OnStopped(fn func(StoppedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onStopped = fn
	c.handlerMu.Unlock()
}

// OnContinued registers the continued event handler.
func (c *Client) OnContinued(fn func(ContinuedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onContinued = fn
	c.handlerMu.Unlock()
}

// OnExited registers the exited event handler.
func (c *Client) OnExited(fn func(ExitedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onExited = fn
	c.handlerMu.Unlock()
}

// OnTerminated registers the terminated event handler.
func (c *Client) OnTerminated(fn func(TerminatedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onTerminated = fn
	c.handlerMu.Unlock()
}

// OnOutput registers the output event handler.
func (c *Client) OnOutput(fn func(OutputEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onOutput = fn
	c.handlerMu.Unlock()
}

// OnAnyEvent registers a handler invoked for every event.
func (c *Client) OnAnyEvent(fn func(Event)) {
	c.handlerMu.Lock()
	c.handlers.onAny = fn
	c.handlerMu.Unlock()
}

// OnTransportError registers a handler invoked when the connection drops
// out from under the client. It does not fire on an orderly Close.
func (c *Client) OnTransportError(fn func(error)) {
	c.handlerMu.Lock()
	c.handlers.onTransportError = fn
	c.handlerMu.Unlock()
}

// Typed request helpers.

// Initialize performs the initialize handshake.
func (c *Client) Initialize(ctx context.Context, args InitializeArguments) (*Capabilities, error) {
	body, err := c.Call(ctx, "initialize", args)
	if err != nil {
		return nil, err
	}
	var caps Capabilities
	if len(body) > 0 {
		if err := json.Unmarshal(body, &caps); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	return &caps, nil
}

// Launch sends the launch request with adapter-specific arguments.
func (c *Client) Launch(ctx context.Context, args json.RawMessage) error {
	_, err := c.Call(ctx, "launch", args)
	return err
}

// Attach sends the attach request with adapter-specific arguments.
func (c *Client) Attach(ctx context.Context, args json.RawMessage) error {
	_, err := c.Call(ctx, "attach", args)
	return err
}

// ConfigurationDone signals the end of the configuration sequence.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.Call(ctx, "configurationDone", nil)
	return err
}

// Disconnect asks the adapter to disconnect, optionally terminating the
// debuggee.
func (c *Client) Disconnect(ctx context.Context, args DisconnectArguments) error {
	_, err := c.Call(ctx, "disconnect", args)
	return err
}

// SetBreakpoints replaces the complete breakpoint set for one source.
func (c *Client) SetBreakpoints(ctx context.Context, args SetBreakpointsArguments) ([]Breakpoint, error) {
	body, err := c.Call(ctx, "setBreakpoints", args)
	if err != nil {
		return nil, err
	}
	var result SetBreakpointsResponseBody
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal setBreakpoints response: %w", err)
	}
	return result.Breakpoints, nil
}

// Continue resumes execution of a thread.
func (c *Client) Continue(ctx context.Context, threadID int) error {
	_, err := c.Call(ctx, "continue", ThreadArguments{ThreadID: threadID})
	return err
}

// Next steps over the current line.
func (c *Client) Next(ctx context.Context, threadID int) error {
	_, err := c.Call(ctx, "next", ThreadArguments{ThreadID: threadID})
	return err
}

// StepIn steps into the current call.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := c.Call(ctx, "stepIn", ThreadArguments{ThreadID: threadID})
	return err
}

// StepOut steps out of the current frame.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := c.Call(ctx, "stepOut", ThreadArguments{ThreadID: threadID})
	return err
}

// Pause asks the adapter to suspend a thread.
func (c *Client) Pause(ctx context.Context, threadID int) error {
	_, err := c.Call(ctx, "pause", ThreadArguments{ThreadID: threadID})
	return err
}

// Threads lists the debuggee threads.
func (c *Client) Threads(ctx context.Context) ([]Thread, error) {
	body, err := c.Call(ctx, "threads", nil)
	if err != nil {
		return nil, err
	}
	var result ThreadsResponseBody
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal threads response: %w", err)
	}
	return result.Threads, nil
}

// StackTrace retrieves the call stack of a thread.
func (c *Client) StackTrace(ctx context.Context, args StackTraceArguments) (*StackTraceResponseBody, error) {
	body, err := c.Call(ctx, "stackTrace", args)
	if err != nil {
		return nil, err
	}
	var result StackTraceResponseBody
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal stackTrace response: %w", err)
	}
	return &result, nil
}

// Scopes retrieves the variable scopes of a frame.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]Scope, error) {
	body, err := c.Call(ctx, "scopes", ScopesArguments{FrameID: frameID})
	if err != nil {
		return nil, err
	}
	var result ScopesResponseBody
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal scopes response: %w", err)
	}
	return result.Scopes, nil
}

// Variables retrieves the variables behind a reference.
func (c *Client) Variables(ctx context.Context, reference int) ([]Variable, error) {
	body, err := c.Call(ctx, "variables", VariablesArguments{VariablesReference: reference})
	if err != nil {
		return nil, err
	}
	var result VariablesResponseBody
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal variables response: %w", err)
	}
	return result.Variables, nil
}

// Evaluate evaluates an expression in the context of a frame.
func (c *Client) Evaluate(ctx context.Context, args EvaluateArguments) (*EvaluateResponseBody, error) {
	body, err := c.Call(ctx, "evaluate", args)
	if err != nil {
		return nil, err
	}
	var result EvaluateResponseBody
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal evaluate response: %w", err)
	}
	return &result, nil
}
