// Package wire implements the client<->server protocol: a
// length-prefixed binary frame carrying a self-describing, versioned
// envelope (Request/Response/Operation), the connection handshake, and a
// Server/Client pair that dispatch decoded operations into the catalog,
// planner, plan cache, executor, and cluster router. The surface query
// language, HTTP/JSON gateway, and web studio are collaborators that only
// ever speak this wire format; this package never sees source text.
package wire

import (
	"encoding/binary"
	"io"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
)

// FrameHeaderLen is the fixed 4-byte big-endian length prefix every frame
// carries ahead of its payload.
const FrameHeaderLen = 4

// MaxPayloadBytes is the hard cap on one frame's payload.
const MaxPayloadBytes = 4 << 20 // 4 MiB

// WriteFrame writes one length-prefixed frame to w: a 4-byte big-endian
// payload length followed by payload itself.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadBytes {
		return latticeerr.New(latticeerr.CodeInvalidRequest, "frame payload %d bytes exceeds max %d", len(payload), MaxPayloadBytes)
	}
	var hdr [FrameHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return latticeerr.Wrap(latticeerr.CodeStorageIO, err, "write frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return latticeerr.Wrap(latticeerr.CodeStorageIO, err, "write frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, rejecting a declared
// length above MaxPayloadBytes before allocating a buffer for it.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxPayloadBytes {
		return nil, latticeerr.New(latticeerr.CodeInvalidRequest, "frame length %d exceeds max %d", n, MaxPayloadBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "read frame payload")
	}
	return buf, nil
}
