package script

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sha256Hex(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	content := "# generated\n\n" + sha256Hex("a") + "  a.lua\n" + strings.ToUpper(sha256Hex("b")) + "  b.lua\n"
	os.WriteFile(filepath.Join(dir, ManifestFilename), []byte(content), 0644)

	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m == nil || m.Count() != 2 {
		t.Fatalf("expected 2 entries, got %v", m)
	}
}

func TestLoadManifest_NotExist(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil manifest for nonexistent file")
	}
}

func TestLoadManifest_Invalid(t *testing.T) {
	for name, line := range map[string]string{
		"format": "not a valid line",
		"hex":    strings.Repeat("z", 64) + "  s.lua",
		"length": "abcd  s.lua",
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			os.WriteFile(filepath.Join(dir, ManifestFilename), []byte(line+"\n"), 0644)
			if _, err := LoadManifest(dir); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestManifestVerify(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "s.lua", "return 1")

	m := &Manifest{entries: map[string]string{"s.lua": sha256Hex("return 1")}}
	if err := m.Verify("s.lua", path); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := m.Verify("other.lua", path); err == nil {
		t.Error("expected error for file not in manifest")
	}

	writeScript(t, dir, "s.lua", "return 2")
	if err := m.Verify("s.lua", path); err == nil {
		t.Error("expected hash mismatch")
	}
}

func TestGenerateManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "b.lua", "b")
	writeScript(t, dir, "a.lua", "a")
	writeScript(t, dir, "notes.txt", "ignored")

	m, err := GenerateManifest(dir)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	want := sha256Hex("a") + "  a.lua\n" + sha256Hex("b") + "  b.lua\n"
	if buf.String() != want {
		t.Errorf("manifest =\n%s\nwant\n%s", buf.String(), want)
	}

	if err := m.WriteFile(dir); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Count() != 2 {
		t.Errorf("loaded %d entries, want 2", loaded.Count())
	}
}
