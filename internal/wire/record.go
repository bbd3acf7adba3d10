package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/nodegrove/mdns/internal/errors"
	"github.com/nodegrove/mdns/internal/protocol"
)

// ResourceRecord is a decoded RR as read off the wire: Type/Class/TTL plus
// the raw RDATA bytes. Higher layers (internal/rx) interpret RDATA
// according to Type using the Decode* helpers below.
type ResourceRecord struct {
	Name       string
	Type       protocol.RecordType
	Class      uint16
	CacheFlush bool
	TTL        uint32
	RData      []byte
}

// WriteRecordHeader appends a resource record's owner name, type, class
// (with the cache-flush bit per RFC 6762 §10.2 folded into the high bit),
// and TTL to buf, followed by a 2-byte RDLENGTH placeholder. It returns the
// buffer offset of that placeholder so the caller can write RDATA and then
// call PatchRDLength once the final length is known.
func WriteRecordHeader(buf *bytes.Buffer, baseOffset uint16, name string, rtype protocol.RecordType, class uint16, cacheFlush bool, ttl uint32, cache *OffsetCache) (int, error) {
	if err := WriteName(buf, baseOffset, name, cache); err != nil {
		return 0, err
	}

	var typeClass [8]byte
	binary.BigEndian.PutUint16(typeClass[0:2], uint16(rtype))
	classField := class & protocol.ClassMask
	if cacheFlush {
		classField |= protocol.CacheFlushBit
	}
	binary.BigEndian.PutUint16(typeClass[2:4], classField)
	binary.BigEndian.PutUint32(typeClass[4:8], ttl)
	buf.Write(typeClass[:])

	rdlengthPos := buf.Len()
	buf.Write([]byte{0x00, 0x00})
	return rdlengthPos, nil
}

// PatchRDLength overwrites the 2-byte placeholder at rdlengthPos with the
// number of RDATA bytes written after it. It re-reads buf.Bytes() fresh
// rather than relying on any slice captured before the RDATA write, since
// bytes.Buffer may have reallocated its backing array as it grew.
func PatchRDLength(buf *bytes.Buffer, rdlengthPos int) error {
	data := buf.Bytes()
	if rdlengthPos+2 > len(data) {
		return &errors.WireFormatError{Operation: "PatchRDLength", Details: "placeholder out of range"}
	}
	rdlength := len(data) - rdlengthPos - 2
	if rdlength > 0xFFFF {
		return &errors.WireFormatError{Operation: "PatchRDLength", Details: "rdata exceeds 65535 bytes"}
	}
	binary.BigEndian.PutUint16(data[rdlengthPos:rdlengthPos+2], uint16(rdlength))
	return nil
}

// DecodeRecord parses one resource record starting at offset within data,
// returning the record and the offset immediately following it.
func DecodeRecord(data []byte, offset int) (ResourceRecord, int, error) {
	name, pos, err := ParseName(data, offset)
	if err != nil {
		return ResourceRecord{}, 0, err
	}

	if pos+10 > len(data) {
		return ResourceRecord{}, 0, &errors.WireFormatError{Operation: "DecodeRecord", Details: "truncated record preamble"}
	}

	rtype := protocol.RecordType(binary.BigEndian.Uint16(data[pos : pos+2]))
	classField := binary.BigEndian.Uint16(data[pos+2 : pos+4])
	ttl := binary.BigEndian.Uint32(data[pos+4 : pos+8])
	rdlength := int(binary.BigEndian.Uint16(data[pos+8 : pos+10]))
	pos += 10

	if pos+rdlength > len(data) {
		return ResourceRecord{}, 0, &errors.WireFormatError{Operation: "DecodeRecord", Details: "truncated rdata"}
	}

	rdata := make([]byte, rdlength)
	copy(rdata, data[pos:pos+rdlength])
	pos += rdlength

	return ResourceRecord{
		Name:       name,
		Type:       rtype,
		Class:      classField & protocol.ClassMask,
		CacheFlush: classField&protocol.CacheFlushBit != 0,
		TTL:        ttl,
		RData:      rdata,
	}, pos, nil
}

// EncodeA returns the 4-byte RDATA for an A record.
func EncodeA(addr [4]byte) []byte {
	out := make([]byte, 4)
	copy(out, addr[:])
	return out
}

// DecodeA parses a 4-byte A record RDATA.
func DecodeA(rdata []byte) ([4]byte, error) {
	var out [4]byte
	if len(rdata) != 4 {
		return out, &errors.WireFormatError{Operation: "DecodeA", Details: "rdata must be 4 bytes"}
	}
	copy(out[:], rdata)
	return out, nil
}

// EncodeAAAA returns the 16-byte RDATA for an AAAA record.
func EncodeAAAA(addr [16]byte) []byte {
	out := make([]byte, 16)
	copy(out, addr[:])
	return out
}

// DecodeAAAA parses a 16-byte AAAA record RDATA.
func DecodeAAAA(rdata []byte) ([16]byte, error) {
	var out [16]byte
	if len(rdata) != 16 {
		return out, &errors.WireFormatError{Operation: "DecodeAAAA", Details: "rdata must be 16 bytes"}
	}
	copy(out[:], rdata)
	return out, nil
}

// EncodeTXT concatenates entries as RFC 1035 §3.3.14 character-strings
// (each prefixed with its own length byte, max 255 bytes per entry). An
// empty entries slice yields a single zero-length string, per RFC 6763
// §6.1 ("at least one string").
func EncodeTXT(entries []string) ([]byte, error) {
	if len(entries) == 0 {
		return []byte{0x00}, nil
	}

	var out []byte
	for _, s := range entries {
		if len(s) > 255 {
			return nil, &errors.ValidationError{Field: "txt", Value: s, Details: "exceeds maximum 255 bytes per character-string"}
		}
		out = append(out, byte(len(s)))
		out = append(out, s...)
	}
	return out, nil
}

// DecodeTXT splits RDATA back into its character-strings.
func DecodeTXT(rdata []byte) ([]string, error) {
	var out []string
	for i := 0; i < len(rdata); {
		length := int(rdata[i])
		i++
		if i+length > len(rdata) {
			return nil, &errors.WireFormatError{Operation: "DecodeTXT", Details: "truncated character-string"}
		}
		out = append(out, string(rdata[i:i+length]))
		i += length
	}
	return out, nil
}

// EncodeKey returns KEY RDATA as opaque bytes, per spec §4.3 ("KeyData is
// carried opaquely; the responder does not interpret RFC 2535 key
// material"). The caller supplies bytes already in wire format.
func EncodeKey(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
