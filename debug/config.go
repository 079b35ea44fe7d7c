package debug

// Request kinds for a launch configuration.
const (
	// RequestLaunch spawns a new target process under the debugger.
	RequestLaunch = "launch"

	// RequestAttach connects to an already-running target.
	RequestAttach = "attach"
)

// LaunchConfiguration describes how to start or attach to a debuggee.
// It is treated as immutable once passed to the engine.
type LaunchConfiguration struct {
	// Name is a human-readable configuration name.
	Name string `json:"name"`

	// Type is the adapter-type key used to resolve the adapter.
	Type string `json:"type"`

	// Request is "launch" or "attach".
	Request string `json:"request"`

	// Program is the target program path.
	Program string `json:"program,omitempty"`

	// Args are the target's command-line arguments.
	Args []string `json:"args,omitempty"`

	// Cwd is the target's working directory.
	Cwd string `json:"cwd,omitempty"`

	// Env are additional environment variables for the target.
	Env map[string]string `json:"env,omitempty"`

	// Console selects where target I/O goes.
	Console string `json:"console,omitempty"`

	// StopOnEntry pauses the target at its entry point.
	StopOnEntry bool `json:"stopOnEntry,omitempty"`

	// JustMyCode steps only through user code where the runtime
	// supports the filter.
	JustMyCode bool `json:"justMyCode,omitempty"`

	// Options is the open adapter-specific option bag. Its entries are
	// merged verbatim into the adapter's launch or attach arguments.
	Options map[string]any `json:"options,omitempty"`
}
