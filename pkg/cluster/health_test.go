package cluster

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerCheckerHealthyAgainstOpenPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	checker := NewPeerChecker(l.Addr().String())
	result := checker.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, CheckTypeTCP, checker.Type())
}

func TestPeerCheckerUnhealthyAgainstClosedPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	checker := &PeerChecker{Address: addr, Timeout: 200 * time.Millisecond}
	result := checker.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.NotEmpty(t, result.Message)
}
