// Package rx parses inbound mDNS datagrams and computes the scheduling
// decisions spec §4.6 requires: answer-time randomization, known-answer
// suppression, probe detection, and QU/multicast direction. It has no
// knowledge of the locally registered entries — the caller (the top-level
// scheduler) matches parsed questions against its own entry tables and
// calls back into this package's pure decision helpers.
package rx

import (
	"encoding/binary"
	"net"

	"github.com/nodegrove/mdns/internal/errors"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/wire"
)

// Record is one decoded resource record, with compressed rdata targets
// (PTR, SRV) resolved to strings at parse time since their compression
// offsets are only meaningful within the original datagram.
type Record struct {
	wire.ResourceRecord
	PTRTarget string
	SRV       *wire.SRVData
}

// Message is a fully parsed inbound mDNS datagram, per spec §4.6.
type Message struct {
	Header     wire.Header
	Questions  []wire.Question
	Answers    []Record
	Authority  []Record
	Additional []Record

	Sender  *net.UDPAddr
	Unicast bool
	Raw     []byte
}

// Parse decodes data into a Message. Malformed input is returned as an
// error; per RFC 6762 §18 the caller should drop it silently rather than
// respond with an error packet.
func Parse(data []byte, unicast bool, sender *net.UDPAddr) (*Message, error) {
	h, err := wire.DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Opcode != 0 {
		return nil, &errors.WireFormatError{Operation: "rx.Parse", Details: "non-zero opcode"}
	}
	if h.RCode != 0 {
		return nil, &errors.WireFormatError{Operation: "rx.Parse", Details: "non-zero rcode"}
	}

	pos := wire.HeaderSize
	m := &Message{Header: h, Sender: sender, Unicast: unicast, Raw: data}

	for i := uint16(0); i < h.QDCount; i++ {
		q, next, err := wire.DecodeQuestion(data, pos)
		if err != nil {
			return nil, err
		}
		m.Questions = append(m.Questions, q)
		pos = next
	}

	decodeSection := func(count uint16) ([]Record, error) {
		out := make([]Record, 0, count)
		for i := uint16(0); i < count; i++ {
			rec, next, err := decodeRecord(data, pos)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
			pos = next
		}
		return out, nil
	}

	if m.Answers, err = decodeSection(h.ANCount); err != nil {
		return nil, err
	}
	if m.Authority, err = decodeSection(h.NSCount); err != nil {
		return nil, err
	}
	if m.Additional, err = decodeSection(h.ARCount); err != nil {
		return nil, err
	}

	return m, nil
}

// decodeRecord mirrors wire.DecodeRecord but additionally resolves PTR and
// SRV target names, which wire.DecodeRecord leaves as opaque rdata bytes
// (their compression pointers are only valid relative to this datagram).
func decodeRecord(data []byte, offset int) (Record, int, error) {
	name, pos, err := wire.ParseName(data, offset)
	if err != nil {
		return Record{}, 0, err
	}
	if pos+10 > len(data) {
		return Record{}, 0, &errors.WireFormatError{Operation: "rx.decodeRecord", Details: "truncated record preamble"}
	}

	rtype := protocol.RecordType(binary.BigEndian.Uint16(data[pos : pos+2]))
	classField := binary.BigEndian.Uint16(data[pos+2 : pos+4])
	ttl := binary.BigEndian.Uint32(data[pos+4 : pos+8])
	rdlength := int(binary.BigEndian.Uint16(data[pos+8 : pos+10]))
	rdataOffset := pos + 10

	if rdataOffset+rdlength > len(data) {
		return Record{}, 0, &errors.WireFormatError{Operation: "rx.decodeRecord", Details: "truncated rdata"}
	}

	rdata := make([]byte, rdlength)
	copy(rdata, data[rdataOffset:rdataOffset+rdlength])

	rec := Record{
		ResourceRecord: wire.ResourceRecord{
			Name:       name,
			Type:       rtype,
			Class:      classField & protocol.ClassMask,
			CacheFlush: classField&protocol.CacheFlushBit != 0,
			TTL:        ttl,
			RData:      rdata,
		},
	}

	switch rtype {
	case protocol.RecordTypePTR:
		if target, err := wire.DecodePTRData(data, rdataOffset); err == nil {
			rec.PTRTarget = target
		}
	case protocol.RecordTypeSRV:
		if srv, err := wire.DecodeSRVData(data, rdataOffset, rdlength); err == nil {
			rec.SRV = &srv
		}
	}

	return rec, rdataOffset + rdlength, nil
}

// IsQuery reports whether this message is a query (QR=0).
func (m *Message) IsQuery() bool { return !m.Header.QR }

// IsResponse reports whether this message is a response (QR=1).
func (m *Message) IsResponse() bool { return m.Header.QR }

// AuthorityRecordsFor returns the authority-section records owned by name,
// case-insensitively. A non-empty result for a query identifies it as a
// probe for that name, per RFC 6762 §8.1.
func (m *Message) AuthorityRecordsFor(name string) []Record {
	return recordsForName(m.Authority, name)
}

// AnswersFor returns the answer-section (known-answer) records owned by
// name, case-insensitively.
func (m *Message) AnswersFor(name string) []Record {
	return recordsForName(m.Answers, name)
}

// IsProbeFor reports whether this query is probing for name: a query whose
// authority section carries records owned by that name.
func (m *Message) IsProbeFor(name string) bool {
	return m.IsQuery() && len(m.AuthorityRecordsFor(name)) > 0
}

// ProposedTriple is the (class, type, rdata) reduction of an authority
// record used for the probe tiebreak, per spec §4.4. It mirrors
// entry.ProposedRecord's fields so the scheduler can convert directly.
type ProposedTriple struct {
	Class uint16
	Type  protocol.RecordType
	RData []byte
}

// ProposedRecordsFor reduces the authority records owned by name to their
// tiebreak-comparable form.
func (m *Message) ProposedRecordsFor(name string) []ProposedTriple {
	recs := m.AuthorityRecordsFor(name)
	out := make([]ProposedTriple, len(recs))
	for i, r := range recs {
		out[i] = ProposedTriple{Class: r.Class, Type: r.Type, RData: r.RData}
	}
	return out
}

func recordsForName(records []Record, name string) []Record {
	target := wire.CanonicalizeLabels(name)
	var out []Record
	for _, r := range records {
		if labelsEqual(wire.CanonicalizeLabels(r.Name), target) {
			out = append(out, r)
		}
	}
	return out
}

func labelsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
