package bigendian_test

import (
	"testing"

	"github.com/m-lab/statetrans/internal/bigendian"
)

func TestPutBE16RoundTrip(t *testing.T) {
	be := bigendian.PutBE16(0x1234)
	if be[0] != 0x12 || be[1] != 0x34 {
		t.Fatalf("PutBE16(0x1234) = %v, want [0x12 0x34]", be)
	}
	if got := be.Uint16(); got != 0x1234 {
		t.Fatalf("Uint16() = %#x, want 0x1234", got)
	}
}

func TestPutBE32RoundTrip(t *testing.T) {
	be := bigendian.PutBE32(0x01020304)
	want := [4]byte{0x01, 0x02, 0x03, 0x04}
	if be != bigendian.BE32(want) {
		t.Fatalf("PutBE32(0x01020304) = %v, want %v", be, want)
	}
	if got := be.Uint32(); got != 0x01020304 {
		t.Fatalf("Uint32() = %#x, want 0x01020304", got)
	}
}

func TestPutBE64RoundTrip(t *testing.T) {
	be := bigendian.PutBE64(0x0102030405060708)
	want := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if be != bigendian.BE64(want) {
		t.Fatalf("PutBE64(...) = %v, want %v", be, want)
	}
	if got := be.Uint64(); got != 0x0102030405060708 {
		t.Fatalf("Uint64() = %#x, want 0x0102030405060708", got)
	}
}
