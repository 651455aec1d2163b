// Package credstore persists the device bearer credential.
package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/vault"
)

// Format tags prefixed to the stored payload.
const (
	tagPlaintext byte = 0x00
	tagSealed    byte = 0x01
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// Store holds at most one credential per installation. Writers are
// serialized; readers observe either the old or the new file, never a
// partial one.
type Store struct {
	path  string
	vault vault.Vault

	mu sync.Mutex
}

func New(path string, v vault.Vault) *Store {
	if v == nil {
		v = vault.Unavailable{}
	}
	return &Store{path: path, vault: v}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Put(token string) error {
	if token == "" {
		return apperrors.InvalidInput("token", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	payload, err := s.encode([]byte(token))
	if err != nil {
		return err
	}

	return writeAtomic(s.path, payload)
}

func (s *Store) encode(token []byte) ([]byte, error) {
	if s.vault.Available() {
		sealed, err := s.vault.Seal(token)
		if err == nil {
			return append([]byte{tagSealed}, sealed...), nil
		}
		log.Warn().Err(err).Msg("vault seal failed, falling back to plaintext")
	}

	log.Warn().
		Str("path", s.path).
		Msg("credential vault unavailable: storing device credential in plaintext")
	return append([]byte{tagPlaintext}, token...), nil
}

// Get returns the stored credential, or "" when none is usable. Missing
// files, undecryptable payloads and empty values all read as not paired.
func (s *Store) Get() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", s.path).Msg("read credential failed")
		}
		return ""
	}
	if len(data) == 0 {
		return ""
	}

	tag, payload := data[0], data[1:]
	switch tag {
	case tagPlaintext:
		return string(payload)
	case tagSealed:
		plain, err := s.vault.Open(payload)
		if err != nil {
			log.Warn().Err(err).Str("path", s.path).Msg("credential could not be decrypted, device must re-pair")
			return ""
		}
		return string(plain)
	default:
		log.Warn().Uint8("tag", tag).Str("path", s.path).Msg("unknown credential format")
		return ""
	}
}

func (s *Store) IsPaired() bool {
	return s.Get() != ""
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

// Token satisfies hubapi.TokenSource.
func (s *Store) Token() string {
	return s.Get()
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp credential: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp credential: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credential: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credential: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace credential: %w", err)
	}
	committed = true
	return nil
}
