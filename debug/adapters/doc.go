// Package adapters implements the debug.Adapter contract over the Debug
// Adapter Protocol.
//
// One Driver serves one target runtime. It spawns the adapter process,
// dials its socket with bounded retries, runs the initialize /
// setBreakpoints / configurationDone handshake, and translates protocol
// bodies into the engine's domain types. Runtime specifics (the command
// line to spawn, launch and attach argument shapes) live behind the
// Runtime interface; python (debugpy), go (delve), and node profiles
// are provided.
package adapters
