package types

import "encoding/binary"

// VersionedKeyLen is the fixed wire length of an encoded VersionedKey:
// 16 bytes of entity id followed by an 8-byte big-endian version
// timestamp.
const VersionedKeyLen = 16 + 8

// VersionedKey pairs an entity id with the microsecond timestamp of one
// version of that entity. Its Encode output is lexicographically ordered
// by (EntityID asc, VersionTS asc), which is what lets a prefix scan over
// the first 16 bytes return one entity's versions in chronological order.
type VersionedKey struct {
	EntityID  EntityID
	VersionTS uint64
}

// Encode returns the 24-byte wire form of the key.
func (k VersionedKey) Encode() [VersionedKeyLen]byte {
	var out [VersionedKeyLen]byte
	copy(out[:16], k.EntityID[:])
	binary.BigEndian.PutUint64(out[16:], k.VersionTS)
	return out
}

// DecodeVersionedKey parses the 24-byte wire form produced by Encode. It
// returns false if buf is not exactly VersionedKeyLen bytes.
func DecodeVersionedKey(buf []byte) (VersionedKey, bool) {
	if len(buf) != VersionedKeyLen {
		return VersionedKey{}, false
	}
	var k VersionedKey
	copy(k.EntityID[:], buf[:16])
	k.VersionTS = binary.BigEndian.Uint64(buf[16:])
	return k, true
}

// EntityPrefix returns the 16-byte prefix that a range scan uses to fetch
// every version of one entity.
func EntityPrefix(id EntityID) []byte {
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}
