package gdtconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse("gdtd", []string{"-i", "node1", "-h", "127.0.0.1", "-p", "9100"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "node1", cfg.DaemonID)
	assert.Equal(t, DefaultStreams, cfg.Streams)
	assert.Equal(t, DefaultStreamTimeo, cfg.StreamTimeo)
	assert.Equal(t, DefaultSMsgPool, cfg.SMsgPoolSize)
	assert.Equal(t, DefaultSParamPool, cfg.SParamPool)
	assert.Empty(t, cfg.Peers)
}

func TestParse_RepeatedPeers(t *testing.T) {
	cfg, err := Parse("gdtd", []string{
		"-i", "node1", "-h", "127.0.0.1", "-p", "9100",
		"-c", "10.0.0.1:9100", "-c", "10.0.0.2:9100",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:9100", "10.0.0.2:9100"}, cfg.Peers)
}

func TestParse_MissingDaemonID(t *testing.T) {
	_, err := Parse("gdtd", []string{"-h", "127.0.0.1", "-p", "9100"}, nil)
	assert.Error(t, err)
}

func TestParse_DaemonIDTooLong(t *testing.T) {
	_, err := Parse("gdtd", []string{"-i", "this-id-is-way-too-long", "-h", "127.0.0.1", "-p", "9100"}, nil)
	assert.Error(t, err)
}

func TestParse_InvalidHost(t *testing.T) {
	_, err := Parse("gdtd", []string{"-i", "node1", "-h", "not-an-ip", "-p", "9100"}, nil)
	assert.Error(t, err)
}

func TestParse_InvalidPort(t *testing.T) {
	_, err := Parse("gdtd", []string{"-i", "node1", "-h", "127.0.0.1", "-p", "0"}, nil)
	assert.Error(t, err)
}

func TestParse_BadPeerAddress(t *testing.T) {
	_, err := Parse("gdtd", []string{"-i", "node1", "-h", "127.0.0.1", "-p", "9100", "-c", "not-a-peer"}, nil)
	assert.Error(t, err)
}

func TestParse_ZeroPoolSizeRejected(t *testing.T) {
	_, err := Parse("gdtd", []string{
		"-i", "node1", "-h", "127.0.0.1", "-p", "9100", "--gdt-smsg-pool", "0",
	}, nil)
	assert.Error(t, err)
}
