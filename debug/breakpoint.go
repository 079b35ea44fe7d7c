package debug

// BreakpointKind classifies a breakpoint.
type BreakpointKind int

const (
	// BreakpointLine is a plain line breakpoint.
	BreakpointLine BreakpointKind = iota
	// BreakpointConditional pauses only when its condition holds.
	BreakpointConditional
	// BreakpointLogPoint logs a message without stopping.
	BreakpointLogPoint
	// BreakpointException pauses on raised exceptions.
	BreakpointException
	// BreakpointData pauses on data access.
	BreakpointData
)

// String returns the kind name.
func (k BreakpointKind) String() string {
	switch k {
	case BreakpointLine:
		return "line"
	case BreakpointConditional:
		return "conditional"
	case BreakpointLogPoint:
		return "logpoint"
	case BreakpointException:
		return "exception"
	case BreakpointData:
		return "data"
	default:
		return "unknown"
	}
}

// Breakpoint is a user-defined breakpoint. Ids are assigned per session,
// monotonically, and never reused. Only the owning session mutates a
// breakpoint; callers receive copies.
type Breakpoint struct {
	// ID uniquely identifies the breakpoint within its session.
	ID int `json:"id"`

	// File is the source file path.
	File string `json:"file"`

	// Line is the 1-based source line.
	Line int `json:"line"`

	// Kind is the breakpoint kind.
	Kind BreakpointKind `json:"kind"`

	// Condition is the condition expression, for conditional breakpoints.
	Condition string `json:"condition,omitempty"`

	// LogMessage is the message to log, for log points.
	LogMessage string `json:"logMessage,omitempty"`

	// Enabled controls whether the breakpoint is registered with the
	// adapter.
	Enabled bool `json:"enabled"`

	// HitCount is how many times the breakpoint has been hit. It never
	// decreases.
	HitCount int `json:"hitCount"`

	// Verified is set once the adapter confirms the breakpoint.
	Verified bool `json:"verified"`

	// Message carries any adapter feedback about the breakpoint.
	Message string `json:"message,omitempty"`
}
