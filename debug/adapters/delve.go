package adapters

import (
	"os/exec"

	"github.com/dshills/rundebug/debug"
)

// DelveRuntime debugs Go programs through dlv dap. Delve compiles and
// starts the debuggee in response to the launch request.
type DelveRuntime struct {
	// Path overrides the dlv executable. Defaults to dlv.
	Path string
}

// Type returns "go".
func (r *DelveRuntime) Type() string { return "go" }

// Command starts a dlv dap server listening on addr.
func (r *DelveRuntime) Command(cfg debug.LaunchConfiguration, addr string) (*exec.Cmd, error) {
	path := r.Path
	if path == "" {
		path = optionString(cfg, "dlv", "dlv")
	}

	cmd := exec.Command(path, "dap", "--listen", addr)
	cmd.Dir = cfg.Cwd
	cmd.Env = buildEnv(cfg)
	return cmd, nil
}

// LaunchArguments returns the dlv launch body. Mode "debug" builds and
// runs the package at Program.
func (r *DelveRuntime) LaunchArguments(cfg debug.LaunchConfiguration) map[string]any {
	args := map[string]any{
		"mode":    optionString(cfg, "mode", "debug"),
		"program": cfg.Program,
	}
	if len(cfg.Args) > 0 {
		args["args"] = cfg.Args
	}
	if cfg.Cwd != "" {
		args["cwd"] = cfg.Cwd
	}
	if len(cfg.Env) > 0 {
		args["env"] = cfg.Env
	}
	if cfg.StopOnEntry {
		args["stopOnEntry"] = true
	}
	return args
}

// AttachArguments returns the dlv attach body for a running process.
func (r *DelveRuntime) AttachArguments(cfg debug.LaunchConfiguration) map[string]any {
	return map[string]any{
		"mode":      "local",
		"processId": optionInt(cfg, "processId", 0),
	}
}

// NewDelve creates a driver for Go programs via dlv dap.
func NewDelve(opts ...DriverOption) *Driver {
	return NewDriver(&DelveRuntime{}, opts...)
}
