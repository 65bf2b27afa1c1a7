package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFreePort(t *testing.T) {
	port, err := GetFreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		network string
		address string
	}{
		{"unix:///tmp/rpcxbench.sock", "unix", "/tmp/rpcxbench.sock"},
		{"tcp://127.0.0.1:8087", "tcp", "127.0.0.1:8087"},
		{"unix@/tmp/a.sock", "unix", "/tmp/a.sock"},
		{"tcp@127.0.0.1:0", "tcp", "127.0.0.1:0"},
		{"reuseport://127.0.0.1:9000", "reuseport", "127.0.0.1:9000"},
	}
	for _, tt := range tests {
		network, address, err := ParseAddress(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.network, network, tt.in)
		assert.Equal(t, tt.address, address, tt.in)
	}

	for _, bad := range []string{"", "/tmp/a.sock", "tcp://", "tcp://127.0.0.1", "kcp://127.0.0.1:1"} {
		_, _, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestRemoveSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	require.NoError(t, RemoveSocket(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// removing twice is fine
	assert.NoError(t, RemoveSocket(path))
}
