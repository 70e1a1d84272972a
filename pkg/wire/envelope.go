package wire

import (
	msgpack "github.com/hashicorp/go-msgpack/v2/codec"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

var mpHandle = &msgpack.MsgpackHandle{}

// ProtocolVersion is this build's wire protocol version. Negotiation is
// exact-match in v1: a client whose ProtocolVersion does not equal the
// server's is rejected at handshake, before any Request is read.
const ProtocolVersion = 1

// OperationKind discriminates the payload a Request's Operation carries.
type OperationKind uint8

const (
	OpQuery OperationKind = iota
	OpMutate
	OpMutateBatch
	OpGetSchema
	OpPing
	// OpAddVoter and OpAddLearner are cluster-membership admin operations:
	// the join workflow needs some way to ask a running leader to admit a
	// new node, and the wire protocol is the only channel between CLI and
	// server this repository has. They are gated by the same capability
	// check as OpMutate (CapWrite) rather than a new capability, since
	// membership changes are no less sensitive than a data write.
	OpAddVoter
	OpAddLearner
	OpClusterInfo
	// OpStreamChanges is the change-log stream consumer call: a batched
	// pull from a persisted LSN cursor, not a push subscription. The
	// consumer stores NextLSN and calls again.
	OpStreamChanges
)

// StreamChangesRequest is the payload for OpStreamChanges.
type StreamChangesRequest struct {
	FromLSN uint64
	Limit   int
	// EntityFilter restricts the stream to the named entity types; empty
	// means every type.
	EntityFilter []string
}

// AddServerRequest is the payload for OpAddVoter/OpAddLearner.
type AddServerRequest struct {
	NodeID  string
	Address string
}

// ClusterInfo is the payload returned for OpClusterInfo.
type ClusterInfo struct {
	LeaderID   string
	LeaderAddr string
	Servers    []ClusterServer
}

type ClusterServer struct {
	ID      string
	Address string
	Voter   bool
}

// Operation is a self-describing union: exactly one field is meaningful
// for a given Kind, decoded without a prior compile step against
// surface-language source (the core never sees source text).
type Operation struct {
	Kind OperationKind

	Query         *types.GraphQuery     // OpQuery
	Mutation      *types.Mutation       // OpMutate
	Mutations     []types.Mutation      // OpMutateBatch
	AddServer     *AddServerRequest     // OpAddVoter, OpAddLearner
	StreamChanges *StreamChangesRequest // OpStreamChanges
}

// Request is one client request frame. Token is an opaque capability
// token; empty means anonymous/full access.
type Request struct {
	ID            uint64
	SchemaVersion uint64
	Token         string
	Operation     Operation
}

// Response is one server response frame. Status carries the numeric
// error registry; CodeInternal is the Code zero value, so a successful
// Response also carries Status CodeInternal, and callers must check OK
// rather than Status or ErrorMessage != "".
type Response struct {
	ID     uint64
	Status latticeerr.Code
	OK     bool

	QueryResult *types.QueryResult  // OpQuery success
	Schema      *types.SchemaBundle // OpGetSchema success
	LSNs        []uint64            // OpMutate/OpMutateBatch success
	Cluster     *ClusterInfo        // OpClusterInfo success

	// OpStreamChanges success: the batch, the cursor to resume from, and
	// whether more entries already exist past it.
	Changes []types.ChangeLogEntry
	NextLSN uint64
	HasMore bool

	// ServerSchemaVersion is always populated, success or failure, so a
	// client whose cached schema_version has drifted (CodeSchemaMismatch)
	// learns the current version in the same round trip.
	ServerSchemaVersion uint64

	ErrorMessage string
	LeaderID     string
	LeaderAddr   string
}

// EncodeRequest/DecodeRequest and EncodeResponse/DecodeResponse use the
// same hashicorp/go-msgpack codec pkg/storage, pkg/changelog, pkg/catalog
// and pkg/raft already share for every other on-disk and cross-node
// binary encoding in this repository.
func EncodeRequest(req Request) ([]byte, error) {
	var buf []byte
	enc := msgpack.NewEncoderBytes(&buf, mpHandle)
	if err := enc.Encode(req); err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "encode wire request")
	}
	return buf, nil
}

func DecodeRequest(data []byte) (Request, error) {
	var req Request
	dec := msgpack.NewDecoderBytes(data, mpHandle)
	if err := dec.Decode(&req); err != nil {
		return Request{}, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "decode wire request")
	}
	return req, nil
}

func EncodeResponse(resp Response) ([]byte, error) {
	var buf []byte
	enc := msgpack.NewEncoderBytes(&buf, mpHandle)
	if err := enc.Encode(resp); err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "encode wire response")
	}
	return buf, nil
}

func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	dec := msgpack.NewDecoderBytes(data, mpHandle)
	if err := dec.Decode(&resp); err != nil {
		return Response{}, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "decode wire response")
	}
	return resp, nil
}

// ErrorResponse builds a Response carrying err's code and message,
// translating *latticeerr.Error without ever serializing a bare Go error
// or a storage/bbolt error type onto the wire.
func ErrorResponse(id uint64, err error) Response {
	if e, ok := latticeerr.As(err); ok {
		return Response{
			ID:           id,
			Status:       e.Code,
			ErrorMessage: e.Message,
			LeaderID:     e.LeaderID,
			LeaderAddr:   e.LeaderAddr,
		}
	}
	return Response{ID: id, Status: latticeerr.CodeInternal, ErrorMessage: err.Error()}
}
