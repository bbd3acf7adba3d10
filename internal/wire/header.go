package wire

import (
	"encoding/binary"

	"github.com/nodegrove/mdns/internal/errors"
)

// Header is the 12-byte DNS message header, RFC 1035 §4.1.1. mDNS messages
// only use a subset of these fields (per RFC 6762 §18): QR, Opcode, AA
// and TC are meaningful; RD/RA/Z/rcode are fixed at zero on send. The
// header carries no RA or Z field.
type Header struct {
	ID      uint16
	QR      bool
	Opcode  uint8
	AA      bool
	TC      bool
	RD      bool
	RCode   uint8
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

const HeaderSize = 12

// EncodeHeader returns the 12-byte wire encoding of h.
func EncodeHeader(h Header) []byte {
	var flags uint16
	if h.QR {
		flags |= 1 << 15
	}
	flags |= uint16(h.Opcode&0x0F) << 11
	if h.AA {
		flags |= 1 << 10
	}
	if h.TC {
		flags |= 1 << 9
	}
	if h.RD {
		flags |= 1 << 8
	}
	flags |= uint16(h.RCode & 0x0F)

	out := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(out[0:2], h.ID)
	binary.BigEndian.PutUint16(out[2:4], flags)
	binary.BigEndian.PutUint16(out[4:6], h.QDCount)
	binary.BigEndian.PutUint16(out[6:8], h.ANCount)
	binary.BigEndian.PutUint16(out[8:10], h.NSCount)
	binary.BigEndian.PutUint16(out[10:12], h.ARCount)
	return out
}

// DecodeHeader parses the leading 12 bytes of data.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, &errors.WireFormatError{Operation: "DecodeHeader", Details: "message shorter than header"}
	}

	flags := binary.BigEndian.Uint16(data[2:4])
	return Header{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		QR:      flags&(1<<15) != 0,
		Opcode:  uint8(flags >> 11 & 0x0F),
		AA:      flags&(1<<10) != 0,
		TC:      flags&(1<<9) != 0,
		RD:      flags&(1<<8) != 0,
		RCode:   uint8(flags & 0x0F),
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}, nil
}
