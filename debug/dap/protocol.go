package dap

import "encoding/json"

// ProtocolMessage is the base of every DAP message.
type ProtocolMessage struct {
	// Seq is the sequence number of the message.
	Seq int `json:"seq"`

	// Type discriminates "request", "response", and "event".
	Type string `json:"type"`
}

// Request is a client-to-adapter request.
type Request struct {
	ProtocolMessage

	// Command is the request command name.
	Command string `json:"command"`

	// Arguments are the command arguments.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response is the adapter's answer to a request, correlated by RequestSeq.
type Response struct {
	ProtocolMessage

	// RequestSeq is the Seq of the request this responds to.
	RequestSeq int `json:"request_seq"`

	// Success indicates whether the request succeeded.
	Success bool `json:"success"`

	// Command echoes the request command.
	Command string `json:"command"`

	// Message holds the error message when Success is false.
	Message string `json:"message,omitempty"`

	// Body is the command-specific response body.
	Body json.RawMessage `json:"body,omitempty"`
}

// Event is an unsolicited adapter-to-client notification.
type Event struct {
	ProtocolMessage

	// Event is the event name.
	Event string `json:"event"`

	// Body is the event-specific payload.
	Body json.RawMessage `json:"body,omitempty"`
}

// InitializeArguments are the arguments for the initialize request.
type InitializeArguments struct {
	ClientID        string `json:"clientID,omitempty"`
	ClientName      string `json:"clientName,omitempty"`
	AdapterID       string `json:"adapterID"`
	Locale          string `json:"locale,omitempty"`
	LinesStartAt1   bool   `json:"linesStartAt1"`
	ColumnsStartAt1 bool   `json:"columnsStartAt1"`
	PathFormat      string `json:"pathFormat,omitempty"`

	SupportsVariableType         bool `json:"supportsVariableType,omitempty"`
	SupportsVariablePaging       bool `json:"supportsVariablePaging,omitempty"`
	SupportsRunInTerminalRequest bool `json:"supportsRunInTerminalRequest,omitempty"`
}

// Capabilities describes what the debug adapter supports. Only the
// capabilities the engine consults are modeled.
type Capabilities struct {
	SupportsConfigurationDoneRequest  bool `json:"supportsConfigurationDoneRequest,omitempty"`
	SupportsConditionalBreakpoints    bool `json:"supportsConditionalBreakpoints,omitempty"`
	SupportsHitConditionalBreakpoints bool `json:"supportsHitConditionalBreakpoints,omitempty"`
	SupportsLogPoints                 bool `json:"supportsLogPoints,omitempty"`
	SupportsEvaluateForHovers         bool `json:"supportsEvaluateForHovers,omitempty"`
	SupportsSetVariable               bool `json:"supportsSetVariable,omitempty"`
	SupportsTerminateRequest          bool `json:"supportsTerminateRequest,omitempty"`
}

// Source identifies a source file.
type Source struct {
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

// SourceBreakpoint is one breakpoint in a setBreakpoints request.
type SourceBreakpoint struct {
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
	LogMessage   string `json:"logMessage,omitempty"`
}

// SetBreakpointsArguments are the arguments for setBreakpoints. The
// breakpoint list is always the complete set for the source, never a
// delta.
type SetBreakpointsArguments struct {
	Source      Source             `json:"source"`
	Breakpoints []SourceBreakpoint `json:"breakpoints"`
}

// Breakpoint is the adapter's view of a breakpoint.
type Breakpoint struct {
	ID       int    `json:"id,omitempty"`
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// SetBreakpointsResponseBody is the body of a setBreakpoints response.
type SetBreakpointsResponseBody struct {
	Breakpoints []Breakpoint `json:"breakpoints"`
}

// DisconnectArguments are the arguments for disconnect.
type DisconnectArguments struct {
	TerminateDebuggee bool `json:"terminateDebuggee,omitempty"`
	Restart           bool `json:"restart,omitempty"`
}

// ThreadArguments carry a thread id for pause, continue, and step
// requests.
type ThreadArguments struct {
	ThreadID int `json:"threadId"`
}

// Thread describes one debuggee thread.
type Thread struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ThreadsResponseBody is the body of a threads response.
type ThreadsResponseBody struct {
	Threads []Thread `json:"threads"`
}

// StackTraceArguments are the arguments for stackTrace.
type StackTraceArguments struct {
	ThreadID   int `json:"threadId"`
	StartFrame int `json:"startFrame,omitempty"`
	Levels     int `json:"levels,omitempty"`
}

// StackFrame is one frame in a stackTrace response.
type StackFrame struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Source *Source `json:"source,omitempty"`
	Line   int     `json:"line"`
	Column int     `json:"column"`
}

// StackTraceResponseBody is the body of a stackTrace response.
type StackTraceResponseBody struct {
	StackFrames []StackFrame `json:"stackFrames"`
	TotalFrames int          `json:"totalFrames,omitempty"`
}

// ScopesArguments are the arguments for scopes.
type ScopesArguments struct {
	FrameID int `json:"frameId"`
}

// Scope is one variable scope of a stack frame.
type Scope struct {
	Name               string `json:"name"`
	VariablesReference int    `json:"variablesReference"`
	NamedVariables     int    `json:"namedVariables,omitempty"`
	IndexedVariables   int    `json:"indexedVariables,omitempty"`
	Expensive          bool   `json:"expensive,omitempty"`
}

// ScopesResponseBody is the body of a scopes response.
type ScopesResponseBody struct {
	Scopes []Scope `json:"scopes"`
}

// VariablesArguments are the arguments for variables.
type VariablesArguments struct {
	VariablesReference int `json:"variablesReference"`
}

// Variable is one variable in a variables response.
type Variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	EvaluateName       string `json:"evaluateName,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// VariablesResponseBody is the body of a variables response.
type VariablesResponseBody struct {
	Variables []Variable `json:"variables"`
}

// EvaluateArguments are the arguments for evaluate.
type EvaluateArguments struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frameId,omitempty"`
	Context    string `json:"context,omitempty"`
}

// EvaluateResponseBody is the body of an evaluate response.
type EvaluateResponseBody struct {
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// StoppedEventBody is the body of a stopped event.
type StoppedEventBody struct {
	Reason            string `json:"reason"`
	Description       string `json:"description,omitempty"`
	ThreadID          int    `json:"threadId,omitempty"`
	AllThreadsStopped bool   `json:"allThreadsStopped,omitempty"`
	HitBreakpointIDs  []int  `json:"hitBreakpointIds,omitempty"`
	Text              string `json:"text,omitempty"`
}

// ContinuedEventBody is the body of a continued event.
type ContinuedEventBody struct {
	ThreadID            int  `json:"threadId"`
	AllThreadsContinued bool `json:"allThreadsContinued,omitempty"`
}

// ExitedEventBody is the body of an exited event.
type ExitedEventBody struct {
	ExitCode int `json:"exitCode"`
}

// TerminatedEventBody is the body of a terminated event.
type TerminatedEventBody struct {
	Restart bool `json:"restart,omitempty"`
}

// OutputEventBody is the body of an output event.
type OutputEventBody struct {
	Category string `json:"category,omitempty"`
	Output   string `json:"output"`
}
