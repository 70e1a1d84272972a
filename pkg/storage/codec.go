package storage

import (
	"fmt"

	msgpack "github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/cuemby/latticedb/pkg/types"
)

// mpHandle decodes msgpack raw strings into a nil interface{} as Go
// strings, and decodes every wireValue.V into a fresh value rather than
// into the concrete type an earlier map entry left in the reused element.
var mpHandle = func() *msgpack.MsgpackHandle {
	h := &msgpack.MsgpackHandle{}
	h.RawToString = true
	h.InterfaceReset = true
	return h
}()

// wireValue is the on-disk shape of a types.Value: a numeric tag plus one
// interface{} payload, which keeps the msgpack encoding compact without
// needing a field per scalar type the way types.Value does in memory.
type wireValue struct {
	Tag uint8
	V   any
}

// wireRecord is the on-disk shape of a types.Record.
type wireRecord struct {
	Data      map[string]wireValue
	CreatedAt uint64
	Deleted   bool
}

func toWire(v types.Value) wireValue {
	switch v.Tag {
	case types.TagNull:
		return wireValue{Tag: uint8(v.Tag)}
	case types.TagBool:
		return wireValue{Tag: uint8(v.Tag), V: v.B}
	case types.TagInt32:
		return wireValue{Tag: uint8(v.Tag), V: v.I3}
	case types.TagInt64:
		return wireValue{Tag: uint8(v.Tag), V: v.I6}
	case types.TagFloat32:
		return wireValue{Tag: uint8(v.Tag), V: v.F3}
	case types.TagFloat64:
		return wireValue{Tag: uint8(v.Tag), V: v.F6}
	case types.TagString:
		return wireValue{Tag: uint8(v.Tag), V: v.S}
	case types.TagBytes:
		return wireValue{Tag: uint8(v.Tag), V: v.Bs}
	case types.TagTimestamp:
		return wireValue{Tag: uint8(v.Tag), V: v.Ts}
	case types.TagID:
		return wireValue{Tag: uint8(v.Tag), V: v.Id[:]}
	case types.TagBoolArray:
		return wireValue{Tag: uint8(v.Tag), V: v.BArr}
	case types.TagInt32Array:
		return wireValue{Tag: uint8(v.Tag), V: v.I3Arr}
	case types.TagInt64Array:
		return wireValue{Tag: uint8(v.Tag), V: v.I6Arr}
	case types.TagFloat32Array:
		return wireValue{Tag: uint8(v.Tag), V: v.F3Arr}
	case types.TagFloat64Array:
		return wireValue{Tag: uint8(v.Tag), V: v.F6Arr}
	case types.TagStringArray:
		return wireValue{Tag: uint8(v.Tag), V: v.SArr}
	case types.TagBytesArray:
		return wireValue{Tag: uint8(v.Tag), V: v.BsArr}
	case types.TagTimestampArray:
		return wireValue{Tag: uint8(v.Tag), V: v.TsArr}
	case types.TagIDArray:
		ids := make([][]byte, len(v.IdArr))
		for i, id := range v.IdArr {
			ids[i] = append([]byte(nil), id[:]...)
		}
		return wireValue{Tag: uint8(v.Tag), V: ids}
	default:
		return wireValue{Tag: uint8(types.TagNull)}
	}
}

func fromWire(w wireValue) (types.Value, error) {
	tag := types.ValueTag(w.Tag)
	switch tag {
	case types.TagNull:
		return types.NullValue(), nil
	case types.TagBool:
		return types.BoolValue(w.V.(bool)), nil
	case types.TagInt32:
		return types.Int32Value(toInt32(w.V)), nil
	case types.TagInt64:
		return types.Int64Value(toInt64(w.V)), nil
	case types.TagFloat32:
		return types.Float32Value(toFloat32(w.V)), nil
	case types.TagFloat64:
		return types.Float64Value(toFloat64(w.V)), nil
	case types.TagString:
		return types.StringValue(w.V.(string)), nil
	case types.TagBytes:
		return types.BytesValue(toBytes(w.V)), nil
	case types.TagTimestamp:
		return types.TimestampValue(toInt64(w.V)), nil
	case types.TagID:
		var id types.EntityID
		copy(id[:], toBytes(w.V))
		return types.IDValue(id), nil
	case types.TagBoolArray:
		return types.Value{Tag: tag, BArr: toBoolSlice(w.V)}, nil
	case types.TagInt32Array:
		return types.Value{Tag: tag, I3Arr: toInt32Slice(w.V)}, nil
	case types.TagInt64Array:
		return types.Value{Tag: tag, I6Arr: toInt64Slice(w.V)}, nil
	case types.TagFloat32Array:
		return types.Value{Tag: tag, F3Arr: toFloat32Slice(w.V)}, nil
	case types.TagFloat64Array:
		return types.Value{Tag: tag, F6Arr: toFloat64Slice(w.V)}, nil
	case types.TagStringArray:
		return types.Value{Tag: tag, SArr: toStringSlice(w.V)}, nil
	case types.TagBytesArray:
		return types.Value{Tag: tag, BsArr: toBytesSlice(w.V)}, nil
	case types.TagTimestampArray:
		return types.Value{Tag: tag, TsArr: toInt64Slice(w.V)}, nil
	case types.TagIDArray:
		raw := toBytesSlice(w.V)
		ids := make([]types.EntityID, len(raw))
		for i, b := range raw {
			copy(ids[i][:], b)
		}
		return types.Value{Tag: tag, IdArr: ids}, nil
	default:
		return types.Value{}, fmt.Errorf("unsupported value tag %d on decode", w.Tag)
	}
}

// toInt32/toInt64/toFloat32/toFloat64/toBytes normalize the concrete Go
// type msgpack hands back for a decoded interface{}, which varies with the
// handle's RawToString/decode-by-reflection settings.
func toInt32(v any) int32 {
	switch n := v.(type) {
	case int32:
		return n
	case int64:
		return int32(n)
	case int:
		return int32(n)
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat32(v any) float32 {
	switch n := v.(type) {
	case float32:
		return n
	case float64:
		return float32(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

func toBoolSlice(v any) []bool {
	items, _ := v.([]any)
	out := make([]bool, len(items))
	for i, it := range items {
		out[i], _ = it.(bool)
	}
	return out
}

func toInt32Slice(v any) []int32 {
	items, _ := v.([]any)
	out := make([]int32, len(items))
	for i, it := range items {
		out[i] = toInt32(it)
	}
	return out
}

func toInt64Slice(v any) []int64 {
	items, _ := v.([]any)
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = toInt64(it)
	}
	return out
}

func toFloat32Slice(v any) []float32 {
	items, _ := v.([]any)
	out := make([]float32, len(items))
	for i, it := range items {
		out[i] = toFloat32(it)
	}
	return out
}

func toFloat64Slice(v any) []float64 {
	items, _ := v.([]any)
	out := make([]float64, len(items))
	for i, it := range items {
		out[i] = toFloat64(it)
	}
	return out
}

func toStringSlice(v any) []string {
	items, _ := v.([]any)
	out := make([]string, len(items))
	for i, it := range items {
		out[i], _ = it.(string)
	}
	return out
}

func toBytesSlice(v any) [][]byte {
	items, _ := v.([]any)
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = toBytes(it)
	}
	return out
}

func toBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return nil
	}
}

// EncodeRecord serializes a Record to its on-disk msgpack form.
func EncodeRecord(r types.Record) ([]byte, error) {
	wr := wireRecord{CreatedAt: r.CreatedAt, Deleted: r.Deleted}
	if !r.Deleted {
		wr.Data = make(map[string]wireValue, len(r.Data))
		for k, v := range r.Data {
			wr.Data[k] = toWire(v)
		}
	}
	var buf []byte
	enc := msgpack.NewEncoderBytes(&buf, mpHandle)
	if err := enc.Encode(wr); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf, nil
}

// DecodeRecord deserializes a Record from its on-disk msgpack form.
func DecodeRecord(buf []byte) (types.Record, error) {
	var wr wireRecord
	dec := msgpack.NewDecoderBytes(buf, mpHandle)
	if err := dec.Decode(&wr); err != nil {
		return types.Record{}, fmt.Errorf("decode record: %w", err)
	}
	r := types.Record{CreatedAt: wr.CreatedAt, Deleted: wr.Deleted}
	if !wr.Deleted {
		r.Data = make(map[string]types.Value, len(wr.Data))
		for k, wv := range wr.Data {
			v, err := fromWire(wv)
			if err != nil {
				return types.Record{}, fmt.Errorf("decode record field %q: %w", k, err)
			}
			r.Data[k] = v
		}
	}
	return r, nil
}
