// Package vault provides the at-rest encryption capability used for the
// device credential.
package vault

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/hkdf"

	"github.com/soloras/hub-agent/internal/util"
)

var ErrUnavailable = errors.New("credential vault unavailable")

const hkdfInfo = "soloras/device-credential/v1"

// DefaultMachineIDPaths are probed in order for a stable host identifier.
var DefaultMachineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

type Vault interface {
	Available() bool
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

type Options struct {
	// SecretHex, when set, replaces the key file as the install secret.
	SecretHex      string
	KeyPath        string
	MachineIDPaths []string
}

// KeyFileVault encrypts with AES-256-GCM under a key derived from an install
// secret and the host machine id.
type KeyFileVault struct {
	key []byte
}

func NewKeyFileVault(opts Options) *KeyFileVault {
	secret, err := loadSecret(opts)
	if err != nil {
		log.Warn().Err(err).Str("keyPath", opts.KeyPath).Msg("vault key material unavailable")
		return &KeyFileVault{}
	}

	paths := opts.MachineIDPaths
	if paths == nil {
		paths = DefaultMachineIDPaths
	}
	salt := readMachineID(paths)
	if salt == nil {
		log.Debug().Msg("no machine id found, vault key is not host-bound")
	}

	key := make([]byte, util.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo)), key); err != nil {
		log.Warn().Err(err).Msg("vault key derivation failed")
		return &KeyFileVault{}
	}

	return &KeyFileVault{key: key}
}

func (v *KeyFileVault) Available() bool {
	return v.key != nil
}

func (v *KeyFileVault) Seal(plaintext []byte) ([]byte, error) {
	if !v.Available() {
		return nil, ErrUnavailable
	}
	return util.SealGCM(v.key, plaintext)
}

func (v *KeyFileVault) Open(sealed []byte) ([]byte, error) {
	if !v.Available() {
		return nil, ErrUnavailable
	}
	return util.OpenGCM(v.key, sealed)
}

func loadSecret(opts Options) ([]byte, error) {
	if opts.SecretHex != "" {
		secret, err := hex.DecodeString(opts.SecretHex)
		if err != nil {
			return nil, fmt.Errorf("decode vault secret: %w", err)
		}
		if len(secret) != util.KeySize {
			return nil, fmt.Errorf("vault secret must be %d bytes", util.KeySize)
		}
		return secret, nil
	}

	if opts.KeyPath == "" {
		return nil, errors.New("no vault secret or key path configured")
	}

	secret, err := os.ReadFile(opts.KeyPath)
	if err == nil {
		if len(secret) != util.KeySize {
			return nil, fmt.Errorf("key file %s has %d bytes, want %d", opts.KeyPath, len(secret), util.KeySize)
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	return createKeyFile(opts.KeyPath)
}

func createKeyFile(path string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}

	secret := make([]byte, util.KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		// Lost a race with another creator; use theirs.
		return os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(secret); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync key file: %w", err)
	}

	log.Info().Str("path", path).Msg("created vault key file")
	return secret, nil
}

func readMachineID(paths []string) []byte {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if id := bytes.TrimSpace(data); len(id) > 0 {
			return id
		}
	}
	return nil
}

// Unavailable is a vault that never encrypts. Used when encryption is
// disabled by configuration.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Seal([]byte) ([]byte, error) { return nil, ErrUnavailable }

func (Unavailable) Open([]byte) ([]byte, error) { return nil, ErrUnavailable }
