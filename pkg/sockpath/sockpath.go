// Package sockpath provides the default Unix socket path of the sdrd daemon.
// sdrd, sdrctl and sdr-mcp all use it to agree on where the control API lives.
package sockpath

import (
	"os"
	"path/filepath"
)

// DefaultSocketPath returns $XDG_RUNTIME_DIR/sdr/sdrd.sock when the runtime
// dir is set, otherwise ~/.config/sdr/sdrd.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sdr", "sdrd.sock")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sdr", "sdrd.sock")
}
