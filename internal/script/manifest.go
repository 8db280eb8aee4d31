package script

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestFilename is the sha256sum-format manifest checked when
// integrity verification is enabled.
const ManifestFilename = "scripts.sha256"

// Manifest maps script file names to their SHA256 digests.
type Manifest struct {
	entries map[string]string
}

// LoadManifest reads dir/scripts.sha256. It returns nil, nil when the file
// does not exist.
func LoadManifest(dir string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(dir, ManifestFilename))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	m := &Manifest{entries: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		digest, file, ok := strings.Cut(text, "  ")
		if !ok || len(digest) != sha256.Size*2 {
			return nil, fmt.Errorf("manifest line %d: invalid format", line)
		}
		digest = strings.ToLower(digest)
		if _, err := hex.DecodeString(digest); err != nil {
			return nil, fmt.Errorf("manifest line %d: invalid hex: %w", line, err)
		}
		m.entries[strings.TrimSpace(file)] = digest
	}
	return m, scanner.Err()
}

// Verify checks that filePath matches the digest recorded for filename.
func (m *Manifest) Verify(filename, filePath string) error {
	expected, ok := m.entries[filename]
	if !ok {
		return fmt.Errorf("file %q not in manifest", filename)
	}
	actual, err := HashFile(filePath)
	if err != nil {
		return fmt.Errorf("hash %s: %w", filename, err)
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s", filename, expected, actual)
	}
	return nil
}

// Count returns the number of manifest entries.
func (m *Manifest) Count() int { return len(m.entries) }

// HashFile returns the lowercase hex SHA256 of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// GenerateManifest hashes every .lua file in dir.
func GenerateManifest(dir string) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	m := &Manifest{entries: make(map[string]string)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		digest, err := HashFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", entry.Name(), err)
		}
		m.entries[entry.Name()] = digest
	}
	return m, nil
}

// WriteTo writes the manifest sorted by file name in sha256sum format.
func (m *Manifest) WriteTo(w io.Writer) (int64, error) {
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var total int64
	for _, name := range names {
		n, err := fmt.Fprintf(w, "%s  %s\n", m.entries[name], name)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteFile writes the manifest into dir.
func (m *Manifest) WriteFile(dir string) error {
	f, err := os.Create(filepath.Join(dir, ManifestFilename))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = m.WriteTo(f)
	return err
}

func verifyAgainstManifest(dir, filePath string) error {
	m, err := LoadManifest(dir)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	if m == nil {
		return fmt.Errorf("integrity verification enabled but %s not found in %s", ManifestFilename, dir)
	}
	if err := m.Verify(filepath.Base(filePath), filePath); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	return nil
}
