package wire

import (
	"bytes"
	"sort"

	"github.com/nodegrove/mdns/internal/errors"
	"github.com/nodegrove/mdns/internal/protocol"
)

// WriteNSECData appends NSEC RDATA (RFC 4034 §4.1, as used for negative
// answers per RFC 6762 §6.1) to buf: the "next domain name" — which for
// mDNS's synthetic use is always the record's own owner name, encoded
// uncompressed per RFC 4034 §4.1.1 — followed by one or more type-bitmap
// windows covering present, recordTypes.
func WriteNSECData(buf *bytes.Buffer, ownerName string, recordTypes []protocol.RecordType) error {
	nameBytes, err := EncodeName(ownerName)
	if err != nil {
		return err
	}
	buf.Write(nameBytes)

	for _, window := range buildBitmapWindows(recordTypes) {
		buf.WriteByte(window.number)
		buf.WriteByte(byte(len(window.bitmap)))
		buf.Write(window.bitmap)
	}
	return nil
}

type bitmapWindow struct {
	number byte
	bitmap []byte
}

// buildBitmapWindows groups recordTypes into RFC 4034 §4.1.2 windows: each
// window covers 256 type codes (window N covers types N*256..N*256+255),
// with its bitmap truncated to the highest set bit.
func buildBitmapWindows(recordTypes []protocol.RecordType) []bitmapWindow {
	byWindow := map[byte]map[byte]bool{}
	for _, rt := range recordTypes {
		window := byte(rt >> 8)
		bit := byte(rt & 0xFF)
		if byWindow[window] == nil {
			byWindow[window] = map[byte]bool{}
		}
		byWindow[window][bit] = true
	}

	var windowNumbers []byte
	for w := range byWindow {
		windowNumbers = append(windowNumbers, w)
	}
	sort.Slice(windowNumbers, func(i, j int) bool { return windowNumbers[i] < windowNumbers[j] })

	var out []bitmapWindow
	for _, w := range windowNumbers {
		bits := byWindow[w]
		maxByte := 0
		for bit := range bits {
			if idx := int(bit) / 8; idx > maxByte {
				maxByte = idx
			}
		}
		bitmap := make([]byte, maxByte+1)
		for bit := range bits {
			bitmap[bit/8] |= 1 << (7 - bit%8)
		}
		out = append(out, bitmapWindow{number: w, bitmap: bitmap})
	}
	return out
}

// DecodeNSECData parses NSEC RDATA starting at rdataOffset within the full
// message data, returning the next-domain-name and the set of record
// types present in the bitmap.
func DecodeNSECData(data []byte, rdataOffset, rdlength int) (string, []protocol.RecordType, error) {
	nextName, namePos, err := ParseName(data, rdataOffset)
	if err != nil {
		return "", nil, err
	}

	end := rdataOffset + rdlength
	if end > len(data) {
		return "", nil, &errors.WireFormatError{Operation: "DecodeNSECData", Details: "truncated nsec rdata"}
	}

	var types []protocol.RecordType
	pos := namePos
	for pos < end {
		if pos+2 > end {
			return "", nil, &errors.WireFormatError{Operation: "DecodeNSECData", Details: "truncated bitmap window header"}
		}
		window := data[pos]
		length := int(data[pos+1])
		pos += 2
		if pos+length > end {
			return "", nil, &errors.WireFormatError{Operation: "DecodeNSECData", Details: "truncated bitmap window"}
		}

		for i := 0; i < length; i++ {
			b := data[pos+i]
			for bit := 0; bit < 8; bit++ {
				if b&(1<<(7-bit)) != 0 {
					types = append(types, protocol.RecordType(int(window)<<8|i*8+bit))
				}
			}
		}
		pos += length
	}

	return nextName, types, nil
}
