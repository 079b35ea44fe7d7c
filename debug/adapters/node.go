package adapters

import (
	"fmt"
	"net"
	"os/exec"

	"github.com/dshills/rundebug/debug"
)

// NodeRuntime debugs JavaScript and TypeScript programs through the
// vscode-js-debug DAP server. The server's entry script comes from the
// configuration's "adapterPath" option.
type NodeRuntime struct {
	// Node overrides the node executable. Defaults to node.
	Node string
}

// Type returns "node".
func (r *NodeRuntime) Type() string { return "node" }

// Command starts the js-debug DAP server on addr's port.
func (r *NodeRuntime) Command(cfg debug.LaunchConfiguration, addr string) (*exec.Cmd, error) {
	adapterPath := optionString(cfg, "adapterPath", "")
	if adapterPath == "" {
		return nil, fmt.Errorf("configuration %q: options.adapterPath is required for node", cfg.Name)
	}

	node := r.Node
	if node == "" {
		node = optionString(cfg, "node", "node")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(node, adapterPath, port)
	cmd.Dir = cfg.Cwd
	cmd.Env = buildEnv(cfg)
	return cmd, nil
}

// LaunchArguments returns the js-debug launch body.
func (r *NodeRuntime) LaunchArguments(cfg debug.LaunchConfiguration) map[string]any {
	args := map[string]any{
		"type":    "pwa-node",
		"request": "launch",
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
	if cfg.Console != "" {
		args["console"] = cfg.Console
	}
	if cfg.StopOnEntry {
		args["stopOnEntry"] = true
	}
	return args
}

// AttachArguments returns the js-debug attach body for a node process
// started with --inspect.
func (r *NodeRuntime) AttachArguments(cfg debug.LaunchConfiguration) map[string]any {
	return map[string]any{
		"type":    "pwa-node",
		"request": "attach",
		"port":    optionInt(cfg, "inspectPort", 9229),
	}
}

// NewNode creates a driver for Node.js programs via vscode-js-debug.
func NewNode(opts ...DriverOption) *Driver {
	return NewDriver(&NodeRuntime{}, opts...)
}
