package ssh

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.5:22", Config{Host: "10.0.0.5"}.addr(), "port defaults to 22")
	assert.Equal(t, "leader:2222", Config{Host: "leader", Port: 2222}.addr())
	assert.Equal(t, "[fe80::1]:22", Config{Host: "fe80::1"}.addr(), "IPv6 hosts are bracketed")
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransportError{Op: "dial", Err: cause, Temporary: true}

	assert.Equal(t, "dial: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestDialMissingKey(t *testing.T) {
	_, err := Dial(context.Background(), Config{
		Host:           "10.0.0.5",
		User:           "hadoop",
		PrivateKeyPath: filepath.Join(t.TempDir(), "missing_key"),
	})

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "dial", terr.Op)
	assert.False(t, terr.Temporary, "a missing key will not clear on reconnect")
}

func TestDialBadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad_key")
	require.NoError(t, os.WriteFile(path, []byte("not a private key"), 0600))

	_, err := Dial(context.Background(), Config{
		Host:           "10.0.0.5",
		User:           "hadoop",
		PrivateKeyPath: path,
		DialTimeout:    time.Second,
	})

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.False(t, terr.Temporary)
}
