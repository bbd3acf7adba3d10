package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/nodegrove/mdns/internal/errors"
	"github.com/nodegrove/mdns/internal/protocol"
)

// Question is a decoded entry of the Question section, RFC 1035 §4.1.2.
// The QU bit (RFC 6762 §5.4) requests a unicast rather than multicast
// response and is folded into the high bit of the class field on the
// wire, same position as the cache-flush bit on answers.
type Question struct {
	Name  string
	Type  protocol.RecordType
	Class uint16
	QU    bool
}

// WriteQuestion appends a question to buf.
func WriteQuestion(buf *bytes.Buffer, baseOffset uint16, q Question, cache *OffsetCache) error {
	if err := WriteName(buf, baseOffset, q.Name, cache); err != nil {
		return err
	}

	var fixed [4]byte
	binary.BigEndian.PutUint16(fixed[0:2], uint16(q.Type))
	classField := q.Class & protocol.ClassMask
	if q.QU {
		classField |= protocol.QUBit
	}
	binary.BigEndian.PutUint16(fixed[2:4], classField)
	buf.Write(fixed[:])
	return nil
}

// DecodeQuestion parses one question starting at offset, returning it and
// the offset immediately following.
func DecodeQuestion(data []byte, offset int) (Question, int, error) {
	name, pos, err := ParseName(data, offset)
	if err != nil {
		return Question{}, 0, err
	}

	if pos+4 > len(data) {
		return Question{}, 0, &errors.WireFormatError{Operation: "DecodeQuestion", Details: "truncated question"}
	}

	rtype := protocol.RecordType(binary.BigEndian.Uint16(data[pos : pos+2]))
	classField := binary.BigEndian.Uint16(data[pos+2 : pos+4])
	pos += 4

	return Question{
		Name:  name,
		Type:  rtype,
		Class: classField & protocol.ClassMask,
		QU:    classField&protocol.QUBit != 0,
	}, pos, nil
}
