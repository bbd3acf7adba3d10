package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/nodegrove/mdns/internal/errors"
)

// WritePTRData appends compressed-name PTR RDATA (the target domain name,
// RFC 1035 §3.3.12) to buf at rdataOffset (the absolute message offset
// corresponding to the current end of buf).
func WritePTRData(buf *bytes.Buffer, rdataOffset uint16, target string, cache *OffsetCache) error {
	return WriteName(buf, rdataOffset, target, cache)
}

// DecodePTRData parses PTR RDATA. Unlike DecodeRecord's generic preamble
// parsing, RDATA-embedded names may still use compression pointers that
// reference offsets elsewhere in the full datagram, so the caller must
// pass the full message and the RDATA's absolute offset within it.
func DecodePTRData(data []byte, rdataOffset int) (string, error) {
	name, _, err := ParseName(data, rdataOffset)
	return name, err
}

// SRVData is the decoded form of an SRV record's RDATA, RFC 2782.
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// WriteSRVData appends SRV RDATA (priority, weight, port, then a
// compressed target name) to buf.
func WriteSRVData(buf *bytes.Buffer, rdataOffset uint16, priority, weight, port uint16, target string, cache *OffsetCache) error {
	var fixed [6]byte
	binary.BigEndian.PutUint16(fixed[0:2], priority)
	binary.BigEndian.PutUint16(fixed[2:4], weight)
	binary.BigEndian.PutUint16(fixed[4:6], port)
	buf.Write(fixed[:])

	return WriteName(buf, rdataOffset+6, target, cache)
}

// DecodeSRVData parses SRV RDATA starting at rdataOffset within the full
// message data.
func DecodeSRVData(data []byte, rdataOffset, rdlength int) (SRVData, error) {
	if rdataOffset+6 > len(data) {
		return SRVData{}, &errors.WireFormatError{Operation: "DecodeSRVData", Details: "truncated SRV rdata"}
	}

	target, _, err := ParseName(data, rdataOffset+6)
	if err != nil {
		return SRVData{}, err
	}

	return SRVData{
		Priority: binary.BigEndian.Uint16(data[rdataOffset : rdataOffset+2]),
		Weight:   binary.BigEndian.Uint16(data[rdataOffset+2 : rdataOffset+4]),
		Port:     binary.BigEndian.Uint16(data[rdataOffset+4 : rdataOffset+6]),
		Target:   target,
	}, nil
}
