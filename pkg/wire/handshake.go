package wire

import (
	"io"

	msgpack "github.com/hashicorp/go-msgpack/v2/codec"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
)

// Handshake is the first message on every connection.
type Handshake struct {
	ProtocolVersion uint32
	ClientID        string
	Capabilities    []string
}

// HandshakeResponse is the server's reply. Error is non-empty iff
// Accepted is false.
type HandshakeResponse struct {
	Accepted        bool
	ProtocolVersion uint32
	SchemaVersion   uint64
	ServerID        string
	Capabilities    []string
	Error           string
}

func encodeHandshake(h Handshake) ([]byte, error) {
	var buf []byte
	enc := msgpack.NewEncoderBytes(&buf, mpHandle)
	if err := enc.Encode(h); err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "encode handshake")
	}
	return buf, nil
}

func decodeHandshake(data []byte) (Handshake, error) {
	var h Handshake
	dec := msgpack.NewDecoderBytes(data, mpHandle)
	if err := dec.Decode(&h); err != nil {
		return Handshake{}, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "decode handshake")
	}
	return h, nil
}

func encodeHandshakeResponse(h HandshakeResponse) ([]byte, error) {
	var buf []byte
	enc := msgpack.NewEncoderBytes(&buf, mpHandle)
	if err := enc.Encode(h); err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "encode handshake response")
	}
	return buf, nil
}

func decodeHandshakeResponse(data []byte) (HandshakeResponse, error) {
	var h HandshakeResponse
	dec := msgpack.NewDecoderBytes(data, mpHandle)
	if err := dec.Decode(&h); err != nil {
		return HandshakeResponse{}, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "decode handshake response")
	}
	return h, nil
}

// PerformHandshake is the client side: send a Handshake frame, read the
// server's HandshakeResponse frame, and fail locally if the server did
// not accept.
func PerformHandshake(rw io.ReadWriter, clientID string, capabilities []string) (HandshakeResponse, error) {
	payload, err := encodeHandshake(Handshake{
		ProtocolVersion: ProtocolVersion,
		ClientID:        clientID,
		Capabilities:    capabilities,
	})
	if err != nil {
		return HandshakeResponse{}, err
	}
	if err := WriteFrame(rw, payload); err != nil {
		return HandshakeResponse{}, err
	}

	frame, err := ReadFrame(rw)
	if err != nil {
		return HandshakeResponse{}, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "read handshake response")
	}
	resp, err := decodeHandshakeResponse(frame)
	if err != nil {
		return HandshakeResponse{}, err
	}
	if !resp.Accepted {
		return resp, latticeerr.New(latticeerr.CodeInvalidRequest, "handshake rejected: %s", resp.Error)
	}
	return resp, nil
}

// AcceptHandshake is the server side: read one Handshake frame and reply.
// Version negotiation is exact-match in v1: any mismatch is rejected
// with the server's own version named in the response, and unknown
// capabilities are accepted and ignored rather than rejected.
func AcceptHandshake(rw io.ReadWriter, serverID string, schemaVersion uint64, serverCapabilities []string) (Handshake, error) {
	frame, err := ReadFrame(rw)
	if err != nil {
		return Handshake{}, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "read handshake")
	}
	h, err := decodeHandshake(frame)
	if err != nil {
		return Handshake{}, err
	}

	resp := HandshakeResponse{
		ProtocolVersion: ProtocolVersion,
		SchemaVersion:   schemaVersion,
		ServerID:        serverID,
		Capabilities:    serverCapabilities,
	}
	if h.ProtocolVersion != ProtocolVersion {
		resp.Accepted = false
		resp.Error = "protocol version mismatch"
	} else {
		resp.Accepted = true
	}

	payload, err := encodeHandshakeResponse(resp)
	if err != nil {
		return Handshake{}, err
	}
	if err := WriteFrame(rw, payload); err != nil {
		return Handshake{}, err
	}
	if !resp.Accepted {
		return h, latticeerr.New(latticeerr.CodeInvalidRequest, "rejected client %s: %s", h.ClientID, resp.Error)
	}
	return h, nil
}
