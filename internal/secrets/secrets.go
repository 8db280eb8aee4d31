// Package secrets keeps credentials in sdr.toml encrypted with age.
//
// A protected value is written as ENC[<base64 age ciphertext>], for example
//
//	[mqtt]
//	password = "ENC[YWdlLWVuY3J5cHRpb24ub3JnL3Yx...]"
//
// sdrd, sdrctl and sdr-mcp call Apply on their viper instance after reading
// the file, so the rest of the program only ever sees plaintext.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/spf13/viper"
)

const (
	encPrefix = "ENC["
	encSuffix = "]"

	// DefaultKeyFilename is the identity file name under ~/.config/sdr.
	DefaultKeyFilename = "age.key"

	// EnvAgeKey holds a raw AGE-SECRET-KEY-1... string.
	EnvAgeKey = "SDR_AGE_KEY"

	// EnvAgeKeyFile holds the path of an identity file.
	EnvAgeKeyFile = "SDR_AGE_KEY_FILE"

	identityConfigKey = "secrets.identity"
)

// ErrNoIdentity is returned by Apply when sdr.toml holds ENC[...] values
// but none of the identity sources is set.
var ErrNoIdentity = errors.New("secrets: sdr config has ENC[...] values but no age identity (set " +
	EnvAgeKey + ", " + EnvAgeKeyFile + ", secrets.identity or create ~/.config/sdr/" + DefaultKeyFilename + ")")

// IsEncrypted reports whether value is wrapped in ENC[...] with a non-empty body.
func IsEncrypted(value string) bool {
	_, ok := unwrap(value)
	return ok
}

func unwrap(value string) (string, bool) {
	body, ok := strings.CutPrefix(value, encPrefix)
	if !ok {
		return "", false
	}
	body, ok = strings.CutSuffix(body, encSuffix)
	return body, ok && body != ""
}

// Encrypt seals plaintext for recipients and wraps it in ENC[...].
func Encrypt(plaintext string, recipients ...age.Recipient) (string, error) {
	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, recipients...)
	if err != nil {
		return "", fmt.Errorf("secrets: encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("secrets: encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("secrets: encrypt: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(sealed.Bytes()) + encSuffix, nil
}

// Decrypt opens an ENC[...] value with any of identities.
func Decrypt(value string, identities ...age.Identity) (string, error) {
	body, ok := unwrap(value)
	if !ok {
		return "", errors.New("secrets: value has no ENC[...] wrapper")
	}
	sealed, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("secrets: ciphertext is not base64: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(sealed), identities...)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plain), nil
}

// GenerateKeyPair returns a new X25519 identity for sdrctl secrets keygen.
func GenerateKeyPair() (*age.X25519Identity, error) {
	return age.GenerateX25519Identity()
}

// LoadIdentity parses every identity in an age key file.
func LoadIdentity(keyPath string) ([]age.Identity, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: key file: %w", err)
	}
	defer f.Close()
	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("secrets: key file %s: %w", keyPath, err)
	}
	return ids, nil
}

// IdentityFromString parses a raw AGE-SECRET-KEY-1... string.
func IdentityFromString(key string) (*age.X25519Identity, error) {
	return age.ParseX25519Identity(strings.TrimSpace(key))
}

// DefaultKeyPath returns ~/.config/sdr/age.key, or "" without a home directory.
func DefaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sdr", DefaultKeyFilename)
}

// identitySource is one place an identity may come from. lookup returns
// false when the source is not set.
type identitySource struct {
	name   string
	lookup func(v *viper.Viper) ([]age.Identity, bool, error)
}

var identitySources = []identitySource{
	{EnvAgeKey, func(*viper.Viper) ([]age.Identity, bool, error) {
		raw := os.Getenv(EnvAgeKey)
		if raw == "" {
			return nil, false, nil
		}
		id, err := IdentityFromString(raw)
		if err != nil {
			return nil, true, err
		}
		return []age.Identity{id}, true, nil
	}},
	{EnvAgeKeyFile, func(*viper.Viper) ([]age.Identity, bool, error) {
		path := os.Getenv(EnvAgeKeyFile)
		if path == "" {
			return nil, false, nil
		}
		ids, err := LoadIdentity(path)
		return ids, true, err
	}},
	{identityConfigKey, func(v *viper.Viper) ([]age.Identity, bool, error) {
		path := v.GetString(identityConfigKey)
		if path == "" {
			return nil, false, nil
		}
		ids, err := LoadIdentity(ExpandHome(path))
		return ids, true, err
	}},
	{"default key file", func(*viper.Viper) ([]age.Identity, bool, error) {
		path := DefaultKeyPath()
		if path == "" {
			return nil, false, nil
		}
		if _, err := os.Stat(path); err != nil {
			return nil, false, nil
		}
		ids, err := LoadIdentity(path)
		return ids, true, err
	}},
}

// ResolveIdentity returns the identities of the first source that is set:
// SDR_AGE_KEY, SDR_AGE_KEY_FILE, secrets.identity, then ~/.config/sdr/age.key.
// A set source that fails to parse is an error; it does not fall through.
// With no source set it returns nil, nil.
func ResolveIdentity(v *viper.Viper) ([]age.Identity, error) {
	for _, src := range identitySources {
		ids, ok, err := src.lookup(v)
		if !ok {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("age identity from %s: %w", src.name, err)
		}
		return ids, nil
	}
	return nil, nil
}

// encryptedKeys lists the config keys whose string value is ENC[...].
// Non-string values never match.
func encryptedKeys(v *viper.Viper) []string {
	var keys []string
	for _, key := range v.AllKeys() {
		if IsEncrypted(v.GetString(key)) {
			keys = append(keys, key)
		}
	}
	return keys
}

// HasEncryptedValues reports whether any value in v is ENC[...].
func HasEncryptedValues(v *viper.Viper) bool {
	return len(encryptedKeys(v)) > 0
}

// DecryptViperConfig replaces every ENC[...] value in v with its plaintext.
// Every key is attempted; the error names each one that failed.
func DecryptViperConfig(v *viper.Viper, identities []age.Identity) error {
	return decryptKeys(v, encryptedKeys(v), identities)
}

func decryptKeys(v *viper.Viper, keys []string, identities []age.Identity) error {
	var errs []error
	for _, key := range keys {
		plain, err := Decrypt(v.GetString(key), identities...)
		if err != nil {
			errs = append(errs, fmt.Errorf("sdr config %s: %w", key, err))
			continue
		}
		v.Set(key, plain)
	}
	return errors.Join(errs...)
}

// Apply decrypts v in place. A config without ENC[...] values needs no
// identity and is left untouched.
func Apply(v *viper.Viper) error {
	keys := encryptedKeys(v)
	if len(keys) == 0 {
		return nil
	}
	ids, err := ResolveIdentity(v)
	if err != nil {
		return err
	}
	if ids == nil {
		return ErrNoIdentity
	}
	return decryptKeys(v, keys, ids)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
