package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMultihomed_Valid(t *testing.T) {
	addr, err := resolveMultihomed([]string{"127.0.0.1", "127.0.0.2"}, 9100)
	require.NoError(t, err)
	assert.Len(t, addr.IPAddrs, 2)
	assert.Equal(t, 9100, addr.Port)
}

func TestResolveMultihomed_InvalidIP(t *testing.T) {
	_, err := resolveMultihomed([]string{"not-an-ip"}, 9100)
	assert.Error(t, err)
}

func TestDefaultConfig_StreamCount(t *testing.T) {
	assert.Equal(t, 16, DefaultConfig().Streams)
}
