package bigendian

import "unsafe"

//=============================================================================

// These provide byte swapping from BigEndian to LittleEndian.
// Much much faster than binary.BigEndian.UintNN.
// NOTE: If this code is used on a BigEndian machine, it should cause unit tests to fail.

// BE16 is a 16-bit big-endian value.
type BE16 [2]byte

// Uint16 returns the 16-bit value in LitteEndian.
func (b BE16) Uint16() uint16 {
	swap := [2]byte{b[1], b[0]}
	return *(*uint16)(unsafe.Pointer(&swap))
}

// BE32 is a 32-bit big-endian value.
type BE32 [4]byte

// Uint32 returns the 32-bit value in LitteEndian.
func (b BE32) Uint32() uint32 {
	swap := [4]byte{b[3], b[2], b[1], b[0]}
	return *(*uint32)(unsafe.Pointer(&swap))
}

// BE64 is a 64-bit big-endian value, used by the uplink wire codec for the
// anomaly report's emission timestamp field.
type BE64 [8]byte

// Uint64 returns the 64-bit value in LittleEndian.
func (b BE64) Uint64() uint64 {
	swap := [8]byte{b[7], b[6], b[5], b[4], b[3], b[2], b[1], b[0]}
	return *(*uint64)(unsafe.Pointer(&swap))
}

// PutBE16/PutBE32/PutBE64 encode a host value into its big-endian byte
// representation, the write-side counterpart to BE16/BE32/BE64's decode.
func PutBE16(v uint16) BE16 { return BE16{byte(v >> 8), byte(v)} }
func PutBE32(v uint32) BE32 {
	return BE32{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
func PutBE64(v uint64) BE64 {
	return BE64{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}
