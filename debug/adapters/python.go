package adapters

import (
	"os/exec"

	"github.com/dshills/rundebug/debug"
)

// PythonRuntime debugs Python programs through debugpy. The debuggee is
// started by debugpy itself, so launch needs no launch request; the
// target waits for the client before running.
type PythonRuntime struct {
	// Interpreter overrides the python executable. Defaults to python3.
	Interpreter string
}

// Type returns "python".
func (r *PythonRuntime) Type() string { return "python" }

// Command builds the debugpy invocation listening on addr.
func (r *PythonRuntime) Command(cfg debug.LaunchConfiguration, addr string) (*exec.Cmd, error) {
	interpreter := r.Interpreter
	if interpreter == "" {
		interpreter = optionString(cfg, "python", "python3")
	}

	args := []string{"-m", "debugpy", "--listen", addr, "--wait-for-client", cfg.Program}
	args = append(args, cfg.Args...)

	cmd := exec.Command(interpreter, args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = buildEnv(cfg)
	return cmd, nil
}

// LaunchArguments returns nil: debugpy runs the program given on its
// command line and accepts configuration without a launch request.
func (r *PythonRuntime) LaunchArguments(debug.LaunchConfiguration) map[string]any {
	return nil
}

// AttachArguments returns the attach request body for a listening
// debugpy instance.
func (r *PythonRuntime) AttachArguments(cfg debug.LaunchConfiguration) map[string]any {
	return map[string]any{
		"justMyCode": optionBool(cfg, "justMyCode", cfg.JustMyCode),
	}
}

// NewPython creates a driver for Python programs via debugpy.
func NewPython(opts ...DriverOption) *Driver {
	return NewDriver(&PythonRuntime{}, opts...)
}
