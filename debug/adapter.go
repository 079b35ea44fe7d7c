package debug

import "context"

// Adapter is the capability contract a target-runtime implementation
// must satisfy. Concrete adapters are registered on the engine under a
// type key and selected purely by LaunchConfiguration.Type; the engine
// and session logic stay runtime-agnostic.
//
// All methods that reach the target take a context; state preconditions
// are enforced by the engine before any adapter call.
type Adapter interface {
	// Initialize prepares adapter state for a new session. No target
	// I/O happens here.
	Initialize(ctx context.Context, s *Session) error

	// Launch spawns the target, connects the transport, performs the
	// protocol handshake, registers breakpoints, and leaves the session
	// Running (or Paused, when the configuration stops on entry).
	Launch(ctx context.Context, s *Session) error

	// Attach connects to an already-running target instead of spawning
	// one.
	Attach(ctx context.Context, s *Session) error

	// Pause suspends the target.
	Pause(ctx context.Context, s *Session) error

	// Continue resumes the target.
	Continue(ctx context.Context, s *Session) error

	// StepOver executes the current line without entering calls.
	StepOver(ctx context.Context, s *Session) error

	// StepInto enters the call on the current line.
	StepInto(ctx context.Context, s *Session) error

	// StepOut runs until the current frame returns.
	StepOut(ctx context.Context, s *Session) error

	// Evaluate evaluates an expression against the current top frame.
	Evaluate(ctx context.Context, s *Session, expression string) (*Variable, error)

	// StackTrace fetches a fresh call stack for the paused target.
	StackTrace(ctx context.Context, s *Session) ([]StackFrame, error)

	// Variables fetches the variables of the named scope for the
	// current top frame. The scope "all" selects every scope.
	Variables(ctx context.Context, s *Session, scope string) ([]Variable, error)

	// Terminate tears the session down: best-effort disconnect, target
	// shutdown with kill escalation, transport close. It is idempotent.
	Terminate(ctx context.Context, s *Session) error
}

// BreakpointSyncer is implemented by adapters that can push a session's
// current breakpoint set to a live target. Registration always carries
// each file's complete list, never a delta.
type BreakpointSyncer interface {
	SyncBreakpoints(ctx context.Context, s *Session) error
}
