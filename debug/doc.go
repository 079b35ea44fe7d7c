// Package debug provides the run/debug orchestration engine.
//
// The engine manages debugging sessions against externally spawned
// target processes. Each session owns a launch configuration, a
// breakpoint set, a stack-frame snapshot, and a state machine:
//
//	Idle -> Initializing -> Running <-> Paused -> Stopped
//
// with Error reachable from any non-terminal state. Operations are
// gated on session state before any transport I/O is attempted.
//
// Target runtimes plug in behind the Adapter interface, registered on
// the engine by a type key and selected by LaunchConfiguration.Type.
// The engine itself never touches the wire protocol; the concrete
// adapters in debug/adapters speak the Debug Adapter Protocol through
// debug/dap.
package debug
