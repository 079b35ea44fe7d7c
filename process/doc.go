// Package process manages debuggee and debug-adapter child processes.
//
// A Process wraps an exec.Cmd with state tracking, exit observation, and
// a stop sequence that escalates from SIGTERM to SIGKILL after a grace
// period. The Supervisor tracks every spawned process so that shutting
// down the engine can never leave a debuggee behind.
package process
