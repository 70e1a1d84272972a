// Package raft adapts the storage engine and change log into a
// hashicorp/raft-driven replicated write path: the log/stable stores
// (wired directly from raft-boltdb), the deterministic state machine, and
// snapshot build/restore.
package raft

import (
	msgpack "github.com/hashicorp/go-msgpack/v2/codec"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

var mpHandle = &msgpack.MsgpackHandle{}

// CommandKind distinguishes the two log-entry payload shapes: a batch of
// mutations, or a leadership-confirmation no-op.
type CommandKind uint8

const (
	CommandMutate CommandKind = iota
	CommandNoop
)

// Command is the payload every raft.Log.Data carries. A single Mutate
// command can hold one mutation or a whole MutateBatch; the state machine
// does not distinguish the two once decoded, since both must commit
// atomically as a single storage transaction either way.
type Command struct {
	Kind      CommandKind
	Mutations []types.Mutation
}

func EncodeCommand(cmd Command) ([]byte, error) {
	var buf []byte
	enc := msgpack.NewEncoderBytes(&buf, mpHandle)
	if err := enc.Encode(cmd); err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "encode raft command")
	}
	return buf, nil
}

func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	dec := msgpack.NewDecoderBytes(data, mpHandle)
	if err := dec.Decode(&cmd); err != nil {
		return Command{}, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "decode raft command")
	}
	return cmd, nil
}
