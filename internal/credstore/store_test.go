package credstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/soloras/hub-agent/internal/errors"
	"github.com/soloras/hub-agent/internal/vault"
)

func newVault(secretByte string) vault.Vault {
	return vault.NewKeyFileVault(vault.Options{
		SecretHex:      strings.Repeat(secretByte, 32),
		MachineIDPaths: []string{},
	})
}

func tokenPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "soloras", "device-token.bin")
}

func TestPutGet(t *testing.T) {
	t.Run("round trips when vault is available", func(t *testing.T) {
		path := tokenPath(t)
		s := New(path, newVault("11"))

		for _, token := range []string{"a", "device-token-123", strings.Repeat("z", 4096), "ünïcode ✓"} {
			require.NoError(t, s.Put(token))
			assert.Equal(t, token, s.Get())
		}

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, tagSealed, raw[0])
		assert.NotContains(t, string(raw), "ünïcode")
	})

	t.Run("round trips in plaintext when vault is unavailable", func(t *testing.T) {
		path := tokenPath(t)
		s := New(path, vault.Unavailable{})

		require.NoError(t, s.Put("plain-token"))
		assert.Equal(t, "plain-token", s.Get())

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, tagPlaintext, raw[0])
		assert.Equal(t, "plain-token", string(raw[1:]))
	})

	t.Run("rejects empty token", func(t *testing.T) {
		s := New(tokenPath(t), newVault("11"))
		err := s.Put("")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
		assert.False(t, s.IsPaired())
	})

	t.Run("creates owner-only dir and file", func(t *testing.T) {
		path := tokenPath(t)
		s := New(path, newVault("11"))
		require.NoError(t, s.Put("tok"))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		dirInfo, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
	})

	t.Run("overwrite replaces prior value and leaves no temp files", func(t *testing.T) {
		path := tokenPath(t)
		s := New(path, newVault("11"))
		require.NoError(t, s.Put("first"))
		require.NoError(t, s.Put("second"))
		assert.Equal(t, "second", s.Get())

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("plaintext file remains readable after vault becomes available", func(t *testing.T) {
		path := tokenPath(t)
		require.NoError(t, New(path, vault.Unavailable{}).Put("legacy"))

		assert.Equal(t, "legacy", New(path, newVault("11")).Get())
	})
}

func TestGetAbsent(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		s := New(tokenPath(t), newVault("11"))
		assert.Equal(t, "", s.Get())
		assert.False(t, s.IsPaired())
	})

	t.Run("rotated key material", func(t *testing.T) {
		path := tokenPath(t)
		require.NoError(t, New(path, newVault("11")).Put("secret"))

		rotated := New(path, newVault("22"))
		assert.Equal(t, "", rotated.Get())
		assert.False(t, rotated.IsPaired())
	})

	t.Run("sealed file with vault now unavailable", func(t *testing.T) {
		path := tokenPath(t)
		require.NoError(t, New(path, newVault("11")).Put("secret"))

		assert.Equal(t, "", New(path, vault.Unavailable{}).Get())
	})

	t.Run("empty and tag-only files", func(t *testing.T) {
		path := tokenPath(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		s := New(path, vault.Unavailable{})

		require.NoError(t, os.WriteFile(path, nil, 0o600))
		assert.Equal(t, "", s.Get())

		require.NoError(t, os.WriteFile(path, []byte{tagPlaintext}, 0o600))
		assert.Equal(t, "", s.Get())
	})

	t.Run("unknown format tag", func(t *testing.T) {
		path := tokenPath(t)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte{0x7f, 'x'}, 0o600))

		assert.Equal(t, "", New(path, vault.Unavailable{}).Get())
	})
}

func TestClear(t *testing.T) {
	t.Run("clears stored credential", func(t *testing.T) {
		s := New(tokenPath(t), newVault("11"))
		require.NoError(t, s.Put("tok"))
		require.NoError(t, s.Clear())
		assert.False(t, s.IsPaired())
	})

	t.Run("is idempotent", func(t *testing.T) {
		s := New(tokenPath(t), newVault("11"))
		require.NoError(t, s.Put("tok"))
		assert.NoError(t, s.Clear())
		assert.NoError(t, s.Clear())
	})

	t.Run("succeeds on never-written store", func(t *testing.T) {
		s := New(tokenPath(t), newVault("11"))
		assert.NoError(t, s.Clear())
	})
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	s := New(tokenPath(t), newVault("11"))
	require.NoError(t, s.Put("token-a"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	bad := make(chan string, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if got := s.Get(); got != "token-a" && got != "token-b" {
				select {
				case bad <- got:
				default:
				}
			}
		}
	}()

	for i := 0; i < 50; i++ {
		tok := "token-a"
		if i%2 == 0 {
			tok = "token-b"
		}
		require.NoError(t, s.Put(tok))
	}
	close(stop)
	wg.Wait()

	select {
	case got := <-bad:
		t.Fatalf("observed partial credential %q", got)
	default:
	}
}
