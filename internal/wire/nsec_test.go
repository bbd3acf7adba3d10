package wire

import (
	"bytes"
	"sort"
	"testing"

	"github.com/nodegrove/mdns/internal/protocol"
)

func TestNSEC_RoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	types := []protocol.RecordType{protocol.RecordTypeA, protocol.RecordTypeTXT, protocol.RecordTypeSRV}

	if err := WriteNSECData(buf, "host.local", types); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	nextName, got, err := DecodeNSECData(buf.Bytes(), 0, buf.Len())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nextName != "host.local" {
		t.Errorf("next name = %q", nextName)
	}

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	if len(got) != len(types) {
		t.Fatalf("got %v, want %v", got, types)
	}
	for i := range types {
		if got[i] != types[i] {
			t.Errorf("type %d = %v, want %v", i, got[i], types[i])
		}
	}
}

func TestNSEC_MultipleWindows(t *testing.T) {
	buf := &bytes.Buffer{}
	// Type 257 falls in window 1, type A in window 0.
	types := []protocol.RecordType{protocol.RecordTypeA, protocol.RecordType(257)}

	if err := WriteNSECData(buf, "host.local", types); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, got, err := DecodeNSECData(buf.Bytes(), 0, buf.Len())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestNSEC_BitmapTruncatedToHighestBit(t *testing.T) {
	windows := buildBitmapWindows([]protocol.RecordType{protocol.RecordTypeA})
	if len(windows) != 1 {
		t.Fatalf("expected one window, got %d", len(windows))
	}
	// Type A = 1, bit 1 of byte 0: bitmap should be exactly 1 byte.
	if len(windows[0].bitmap) != 1 {
		t.Errorf("bitmap length = %d, want 1", len(windows[0].bitmap))
	}
}
