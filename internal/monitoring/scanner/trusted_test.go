package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTrustedDevicesCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "Trust_Devices.txt")

	trusted, err := LoadTrustedDevices(path)
	require.NoError(t, err)
	assert.Equal(t, 0, trusted.Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Exemplo: aa:bb:cc:dd:ee:ff")
}

func TestLoadTrustedDevicesParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Trust_Devices.txt")
	content := "# comentário\nAA:BB:CC:DD:EE:01\n\n  aa:bb:cc:dd:ee:02  \nnot-a-mac\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	trusted, err := LoadTrustedDevices(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"}, trusted.List())
	assert.True(t, trusted.Contains("AA:BB:CC:DD:EE:02"))
	assert.False(t, trusted.Contains("aa:bb:cc:dd:ee:03"))
	assert.False(t, trusted.Contains("# comentário"))
}

func TestTrustedDevicesWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Trust_Devices.txt")
	require.NoError(t, os.WriteFile(path, []byte("aa:bb:cc:dd:ee:01\n"), 0644))

	trusted, err := LoadTrustedDevices(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, trusted.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("aa:bb:cc:dd:ee:01\naa:bb:cc:dd:ee:02\n"), 0644))

	assert.Eventually(t, func() bool {
		return trusted.Contains("aa:bb:cc:dd:ee:02")
	}, 3*time.Second, 20*time.Millisecond)

	// Substituição via rename (comportamento comum de editores)
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("aa:bb:cc:dd:ee:09\n"), 0644))
	require.NoError(t, os.Rename(tmp, path))

	assert.Eventually(t, func() bool {
		return trusted.Contains("aa:bb:cc:dd:ee:09") && !trusted.Contains("aa:bb:cc:dd:ee:01")
	}, 3*time.Second, 20*time.Millisecond)
}
