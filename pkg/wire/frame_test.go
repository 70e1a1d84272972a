package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello lattice")
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxPayloadBytes+1))
	require.Error(t, err)
	e, ok := latticeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, latticeerr.CodeInvalidRequest, e.Code)
}

func TestReadFrameRejectsOversizedLengthBeforeAllocating(t *testing.T) {
	// A declared length above the cap must fail without waiting for (or
	// allocating) the payload itself.
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(buf)
	require.Error(t, err)
	e, ok := latticeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, latticeerr.CodeInvalidRequest, e.Code)
}

func TestHandshakeAccepted(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	srvDone := make(chan error, 1)
	go func() {
		h, err := AcceptHandshake(server, "node-1", 3, []string{"cdc"})
		if err == nil && h.ClientID != "client-a" {
			err = assert.AnError
		}
		srvDone <- err
	}()

	resp, err := PerformHandshake(client, "client-a", []string{"totally-unknown-capability"})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, uint32(ProtocolVersion), resp.ProtocolVersion)
	assert.Equal(t, uint64(3), resp.SchemaVersion)
	assert.Equal(t, "node-1", resp.ServerID)
	require.NoError(t, <-srvDone)
}

func TestHandshakeRejectsVersionMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	srvDone := make(chan error, 1)
	go func() {
		_, err := AcceptHandshake(server, "node-1", 1, nil)
		srvDone <- err
	}()

	payload, err := encodeHandshake(Handshake{ProtocolVersion: ProtocolVersion + 1, ClientID: "old-client"})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(client, payload))

	frame, err := ReadFrame(client)
	require.NoError(t, err)
	resp, err := decodeHandshakeResponse(frame)
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, uint32(ProtocolVersion), resp.ProtocolVersion, "rejection names the server's own version")
	assert.Error(t, <-srvDone)
}
