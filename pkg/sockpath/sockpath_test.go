package sockpath

import (
	"path/filepath"
	"testing"
)

func TestDefaultSocketPath_RuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got, want := DefaultSocketPath(), "/run/user/1000/sdr/sdrd.sock"; got != want {
		t.Errorf("DefaultSocketPath() = %q, want %q", got, want)
	}
}

func TestDefaultSocketPath_Home(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("HOME", home)
	if got, want := DefaultSocketPath(), filepath.Join(home, ".config", "sdr", "sdrd.sock"); got != want {
		t.Errorf("DefaultSocketPath() = %q, want %q", got, want)
	}
}
