package txmsg

import (
	"bytes"
	"testing"

	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/wire"
)

func TestBuilder_ProbeFlags(t *testing.T) {
	b := New(MulticastProbe, protocol.MaxMessageSize)

	q := wire.Question{Name: "host.local", Type: protocol.RecordTypeANY, Class: protocol.ClassINet, QU: true}
	if err := b.AppendQuestion(q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := b.AppendRecord(SectionAuthority, "host.local", protocol.RecordTypeAAAA, protocol.ClassINet, true, 120, func(buf *bytes.Buffer, off uint16) error {
		buf.Write(wire.EncodeAAAA([16]byte{0x20, 0x01}))
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := b.Finalize()
	h, err := wire.DecodeHeader(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.QR {
		t.Error("probe must have QR=0")
	}
	if h.QDCount != 1 || h.NSCount != 1 {
		t.Errorf("counts = %+v", h)
	}
}

func TestBuilder_ResponseFlags(t *testing.T) {
	b := New(MulticastResponse, protocol.MaxMessageSize)

	if err := b.AppendRecord(SectionAnswer, "host.local", protocol.RecordTypeAAAA, protocol.ClassINet, true, 120, func(buf *bytes.Buffer, off uint16) error {
		buf.Write(wire.EncodeAAAA([16]byte{0x20, 0x01}))
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := b.Finalize()
	h, err := wire.DecodeHeader(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.QR || !h.AA {
		t.Error("response must have QR=1, AA=1")
	}
	if h.QDCount != 0 {
		t.Error("response question section must be empty per RFC 6762 §6")
	}
	if h.ANCount != 1 {
		t.Errorf("ANCount = %d, want 1", h.ANCount)
	}
}

func TestBuilder_SaveRestore(t *testing.T) {
	b := New(MulticastResponse, protocol.MaxMessageSize)

	if err := b.AppendRecord(SectionAnswer, "host.local", protocol.RecordTypeAAAA, protocol.ClassINet, true, 120, func(buf *bytes.Buffer, off uint16) error {
		buf.Write(wire.EncodeAAAA([16]byte{0x20, 0x01}))
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved := b.SaveCurrentState()
	sizeBeforeSpeculative := b.EstimatedSize()

	if err := b.AppendRecord(SectionAnswer, "other.local", protocol.RecordTypeAAAA, protocol.ClassINet, true, 120, func(buf *bytes.Buffer, off uint16) error {
		buf.Write(wire.EncodeAAAA([16]byte{0x20, 0x02}))
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.EstimatedSize() == sizeBeforeSpeculative {
		t.Fatal("expected size to grow after speculative append")
	}

	b.Restore(saved)

	if b.EstimatedSize() != sizeBeforeSpeculative {
		t.Errorf("size after restore = %d, want %d", b.EstimatedSize(), sizeBeforeSpeculative)
	}
	if b.counts[SectionAnswer] != 1 {
		t.Errorf("count after restore = %d, want 1", b.counts[SectionAnswer])
	}
}

func TestBuilder_ExceedsLimit(t *testing.T) {
	b := New(MulticastResponse, 40)

	if err := b.AppendRecord(SectionAnswer, "host.local", protocol.RecordTypeAAAA, protocol.ClassINet, true, 120, func(buf *bytes.Buffer, off uint16) error {
		buf.Write(wire.EncodeAAAA([16]byte{0x20, 0x01}))
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !b.ExceedsLimit() {
		t.Error("expected message to exceed the 40-byte test limit")
	}
}

func TestBuilder_CompressionAcrossSections(t *testing.T) {
	b := New(MulticastResponse, protocol.MaxMessageSize)

	writeName := func(buf *bytes.Buffer, off uint16) error {
		return wire.WriteName(buf, off, "host.local", b.Cache())
	}

	if err := b.AppendRecord(SectionAnswer, "printer._http._tcp.local", protocol.RecordTypeSRV, protocol.ClassINet, true, 120, func(buf *bytes.Buffer, off uint16) error {
		buf.Write([]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x50})
		return writeName(buf, off+6)
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := b.EstimatedSize()
	if err := b.AppendRecord(SectionAdditional, "host.local", protocol.RecordTypeAAAA, protocol.ClassINet, true, 120, func(buf *bytes.Buffer, off uint16) error {
		buf.Write(wire.EncodeAAAA([16]byte{0x20, 0x01}))
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	grown := b.EstimatedSize() - before

	// "host.local" as an owner name in the additional section should
	// compress against the SRV target written earlier in the answer
	// section: type(2)+class(2)+ttl(4)+rdlength(2)+2-byte pointer+rdata(16)
	// is much less than re-encoding "host.local" literally would cost.
	if grown > 2+2+4+2+2+16 {
		t.Errorf("expected owner name to compress against earlier SRV target, grew by %d bytes", grown)
	}
}

func TestBuilder_IsEmpty(t *testing.T) {
	b := New(MulticastProbe, protocol.MaxMessageSize)
	if !b.IsEmpty() {
		t.Error("new builder should be empty")
	}

	if err := b.AppendQuestion(wire.Question{Name: "host.local", Type: protocol.RecordTypeANY, Class: protocol.ClassINet}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.IsEmpty() {
		t.Error("builder with a question should not be empty")
	}
}
