package ssh

import (
	"encoding/base64"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/portcullis/internal/testutil"
)

func TestNewHostKeyCallback(t *testing.T) {
	t.Parallel()

	addr1 := &net.TCPAddr{IP: net.ParseIP("192.0.2.1"), Port: 22}
	addr2 := &net.TCPAddr{IP: net.ParseIP("192.0.2.2"), Port: 22}

	t.Run("empty path accepts any key", func(t *testing.T) {
		t.Parallel()

		cb, err := NewHostKeyCallback("", nil)
		require.NoError(t, err)

		key := testutil.NewSSHSigner(t)
		assert.NoError(t, cb("example.com:22", addr1, key.PublicKey()))
	})

	t.Run("creates directory and file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "subdir", "known_hosts")
		cb, err := NewHostKeyCallback(path, nil)
		require.NoError(t, err)
		require.NotNil(t, cb)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("trusts unknown host on first use", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "known_hosts")
		cb, err := NewHostKeyCallback(path, nil)
		require.NoError(t, err)

		key := testutil.NewSSHSigner(t)
		require.NoError(t, cb("192.0.2.1:22", addr1, key.PublicKey()))

		data, err := os.ReadFile(path) //nolint:gosec // Test path from t.TempDir().
		require.NoError(t, err)
		assert.Contains(t, string(data), "192.0.2.1")

		reloaded, err := NewHostKeyCallback(path, nil)
		require.NoError(t, err)
		assert.NoError(t, reloaded("192.0.2.1:22", addr1, key.PublicKey()))
	})

	t.Run("rejects changed key", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "known_hosts")
		cb, err := NewHostKeyCallback(path, nil)
		require.NoError(t, err)

		key1 := testutil.NewSSHSigner(t)
		key2 := testutil.NewSSHSigner(t)
		require.NoError(t, cb("192.0.2.1:22", addr1, key1.PublicKey()))

		reloaded, err := NewHostKeyCallback(path, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, reloaded("192.0.2.1:22", addr1, key2.PublicKey()), ErrHostKeyMismatch)
	})

	t.Run("hosts keep separate keys", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "known_hosts")
		cb, err := NewHostKeyCallback(path, nil)
		require.NoError(t, err)

		key1 := testutil.NewSSHSigner(t)
		key2 := testutil.NewSSHSigner(t)
		require.NoError(t, cb("192.0.2.1:22", addr1, key1.PublicKey()))
		require.NoError(t, cb("192.0.2.2:22", addr2, key2.PublicKey()))

		reloaded, err := NewHostKeyCallback(path, nil)
		require.NoError(t, err)
		assert.NoError(t, reloaded("192.0.2.1:22", addr1, key1.PublicKey()))
		assert.NoError(t, reloaded("192.0.2.2:22", addr2, key2.PublicKey()))
	})

	t.Run("reads existing file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "known_hosts")
		key := testutil.NewSSHSigner(t).PublicKey()
		line := "192.0.2.1 " + key.Type() + " " + base64.StdEncoding.EncodeToString(key.Marshal()) + "\n"
		require.NoError(t, os.WriteFile(path, []byte(line), 0o600))

		cb, err := NewHostKeyCallback(path, nil)
		require.NoError(t, err)
		assert.NoError(t, cb("192.0.2.1:22", addr1, key))
	})
}
