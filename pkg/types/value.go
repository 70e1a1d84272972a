package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ValueTag is the discriminant of a Value's tagged union.
type ValueTag uint8

const (
	TagNull ValueTag = iota
	TagBool
	TagInt32
	TagInt64
	TagFloat32
	TagFloat64
	TagString
	TagBytes
	TagTimestamp
	TagID
	// array tags mirror the scalar tags they hold; arrays of arrays and
	// heterogeneous arrays are rejected by validation, never represented.
	TagBoolArray
	TagInt32Array
	TagInt64Array
	TagFloat32Array
	TagFloat64Array
	TagStringArray
	TagBytesArray
	TagTimestampArray
	TagIDArray
)

func (t ValueTag) IsArray() bool { return t >= TagBoolArray }

// Value is a tagged union over the scalar and homogeneous-array types a
// Record's fields may hold. Only one of the typed fields below is
// meaningful for a given Tag; Value is intentionally a flat struct rather
// than an interface so the codec (pkg/storage) can encode/decode it
// without a type switch on an interface value.
type Value struct {
	Tag ValueTag

	B  bool
	I3 int32
	I6 int64
	F3 float32
	F6 float64
	S  string
	Bs []byte
	Ts int64 // microseconds since Unix epoch
	Id EntityID

	BArr  []bool
	I3Arr []int32
	I6Arr []int64
	F3Arr []float32
	F6Arr []float64
	SArr  []string
	BsArr [][]byte
	TsArr []int64
	IdArr []EntityID
}

func NullValue() Value             { return Value{Tag: TagNull} }
func BoolValue(v bool) Value       { return Value{Tag: TagBool, B: v} }
func Int32Value(v int32) Value     { return Value{Tag: TagInt32, I3: v} }
func Int64Value(v int64) Value     { return Value{Tag: TagInt64, I6: v} }
func Float32Value(v float32) Value { return Value{Tag: TagFloat32, F3: v} }
func Float64Value(v float64) Value { return Value{Tag: TagFloat64, F6: v} }
func StringValue(v string) Value   { return Value{Tag: TagString, S: v} }
func BytesValue(v []byte) Value    { return Value{Tag: TagBytes, Bs: v} }
func TimestampValue(v int64) Value { return Value{Tag: TagTimestamp, Ts: v} }
func IDValue(v EntityID) Value     { return Value{Tag: TagID, Id: v} }

func (v Value) IsNull() bool { return v.Tag == TagNull }

// AsInt64 widens any integer scalar tag to int64 for numeric
// comparisons. It returns false for non-numeric tags.
func (v Value) AsInt64() (int64, bool) {
	switch v.Tag {
	case TagInt32:
		return int64(v.I3), true
	case TagInt64:
		return v.I6, true
	default:
		return 0, false
	}
}

// AsFloat64 widens any numeric scalar tag to float64.
func (v Value) AsFloat64() (float64, bool) {
	switch v.Tag {
	case TagInt32:
		return float64(v.I3), true
	case TagInt64:
		return float64(v.I6), true
	case TagFloat32:
		return float64(v.F3), true
	case TagFloat64:
		return v.F6, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Tag {
	case TagNull:
		return "null"
	case TagBool:
		return fmt.Sprintf("%v", v.B)
	case TagInt32:
		return fmt.Sprintf("%d", v.I3)
	case TagInt64:
		return fmt.Sprintf("%d", v.I6)
	case TagFloat32:
		return fmt.Sprintf("%v", v.F3)
	case TagFloat64:
		return fmt.Sprintf("%v", v.F6)
	case TagString:
		return v.S
	case TagBytes:
		return fmt.Sprintf("%x", v.Bs)
	case TagTimestamp:
		return fmt.Sprintf("%d", v.Ts)
	case TagID:
		return v.Id.String()
	default:
		return fmt.Sprintf("<array tag=%d>", v.Tag)
	}
}

// EntityID is a 16-byte opaque identifier, stable across versions of one
// logical record. It is time-ordered when produced by NewEntityID so that
// ids allocated by the same process sort densely in the data tree.
type EntityID [16]byte

var NilEntityID = EntityID{}

// NewEntityID allocates a time-ordered id. UUIDv7 embeds a 48-bit
// millisecond timestamp in its top bits, keeping ids allocated by one
// process monotone and dense in the key order.
func NewEntityID() EntityID {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return EntityID(u)
}

// EntityIDFromSeed derives a deterministic id from a byte seed, used to
// keep id allocation reproducible across raft replicas.
func EntityIDFromSeed(seed []byte) EntityID {
	return EntityID(uuid.NewSHA1(uuid.NameSpaceOID, seed))
}

func (id EntityID) String() string {
	return uuid.UUID(id).String()
}

func (id EntityID) IsNil() bool { return id == NilEntityID }

func ParseEntityID(s string) (EntityID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilEntityID, fmt.Errorf("parse entity id %q: %w", s, err)
	}
	return EntityID(u), nil
}
