package rx

import (
	"bytes"
	"net"
	"testing"

	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/txmsg"
	"github.com/nodegrove/mdns/internal/wire"
)

func buildProbe(t *testing.T, name string, addr [16]byte) []byte {
	t.Helper()
	b := txmsg.New(txmsg.MulticastProbe, 1200)
	if err := b.AppendQuestion(wire.Question{Name: name, Type: protocol.RecordTypeANY, Class: protocol.ClassINet, QU: true}); err != nil {
		t.Fatalf("AppendQuestion: %v", err)
	}
	if err := b.AppendRecord(txmsg.SectionAuthority, name, protocol.RecordTypeAAAA, protocol.ClassINet, false, 120, func(buf *bytes.Buffer, off uint16) error {
		buf.Write(wire.EncodeAAAA(addr))
		return nil
	}); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	return b.Finalize()
}

func buildResponseWithPTR(t *testing.T, serviceType, instance string) []byte {
	t.Helper()
	b := txmsg.New(txmsg.MulticastResponse, 1200)
	if err := b.AppendRecord(txmsg.SectionAnswer, serviceType, protocol.RecordTypePTR, protocol.ClassINet, false, 120, func(buf *bytes.Buffer, off uint16) error {
		return wire.WritePTRData(buf, off, instance, b.Cache())
	}); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	return b.Finalize()
}

func TestParse_ProbeRoundtrip(t *testing.T) {
	raw := buildProbe(t, "host.local", [16]byte{0x20, 0x01})
	sender := &net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 5353}

	m, err := Parse(raw, false, sender)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !m.IsQuery() {
		t.Fatal("expected a query")
	}
	if len(m.Questions) != 1 || m.Questions[0].Name != "host.local" {
		t.Fatalf("questions = %+v", m.Questions)
	}
	if !m.IsProbeFor("host.local") {
		t.Fatal("expected IsProbeFor to detect the authority record")
	}
	if m.IsProbeFor("other.local") {
		t.Fatal("expected IsProbeFor to be false for an unrelated name")
	}
}

func TestParse_ProposedRecordsFor(t *testing.T) {
	raw := buildProbe(t, "host.local", [16]byte{0x20, 0x01, 0x0d, 0xb8})
	m, err := Parse(raw, false, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	proposed := m.ProposedRecordsFor("host.local")
	if len(proposed) != 1 {
		t.Fatalf("len(proposed) = %d, want 1", len(proposed))
	}
	if proposed[0].Type != protocol.RecordTypeAAAA {
		t.Fatalf("Type = %v, want AAAA", proposed[0].Type)
	}
}

func TestParse_PTRTargetResolved(t *testing.T) {
	raw := buildResponseWithPTR(t, "_http._tcp.local", "printer._http._tcp.local")
	m, err := Parse(raw, false, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !m.IsResponse() {
		t.Fatal("expected a response")
	}
	answers := m.AnswersFor("_http._tcp.local")
	if len(answers) != 1 {
		t.Fatalf("len(answers) = %d, want 1", len(answers))
	}
	if answers[0].PTRTarget != "printer._http._tcp.local" {
		t.Fatalf("PTRTarget = %q, want %q", answers[0].PTRTarget, "printer._http._tcp.local")
	}
}

func TestParse_RejectsNonZeroOpcode(t *testing.T) {
	raw := buildProbe(t, "host.local", [16]byte{0x20, 0x01})
	raw[2] |= 0x08 // set a non-zero opcode bit

	if _, err := Parse(raw, false, nil); err == nil {
		t.Fatal("expected an error for a non-zero opcode")
	}
}
