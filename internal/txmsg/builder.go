// Package txmsg assembles outbound mDNS messages: probes, known-answer
// queries, and multicast/unicast responses, per spec §4.2. A Builder holds
// the four physical sections (question, answer, authority, additional)
// behind a shared compression-offset cache, and supports save/restore so a
// per-entry append can be attempted and rolled back atomically if it would
// overflow the message size limit.
package txmsg

import (
	"bytes"
	"net"

	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/wire"
)

// Type identifies the kind of message being assembled, which determines
// the header flags at Finalize time.
type Type int

const (
	MulticastProbe Type = iota
	MulticastQuery
	MulticastResponse
	UnicastResponse
)

// Section identifies one of the four physical message sections, in their
// final wire order.
type Section int

const (
	SectionQuestion Section = iota
	SectionAnswer
	SectionAuthority
	SectionAdditional
	numSections
)

// Builder assembles one physical DNS message. It is not safe for
// concurrent use; the scheduler owns one Builder per in-flight message at
// a time (see spec §4.8).
type Builder struct {
	msgType   Type
	maxSize   int
	sections  [numSections]*bytes.Buffer
	counts    [numSections]uint16
	cache     *wire.OffsetCache
	truncated bool
	dest      *net.UDPAddr
}

// New returns an empty Builder of the given type and size limit.
func New(msgType Type, maxSize int) *Builder {
	b := &Builder{
		msgType: msgType,
		maxSize: maxSize,
		cache:   wire.NewOffsetCache(),
	}
	for i := range b.sections {
		b.sections[i] = &bytes.Buffer{}
	}
	return b
}

// Type reports the message's type.
func (b *Builder) Type() Type { return b.msgType }

// SetDest sets the unicast destination for a UnicastResponse builder.
func (b *Builder) SetDest(addr *net.UDPAddr) { b.dest = addr }

// Dest returns the unicast destination, or nil for multicast messages.
func (b *Builder) Dest() *net.UDPAddr { return b.dest }

// Cache returns the shared compression-offset cache, for callers that need
// to write names directly via the wire package.
func (b *Builder) Cache() *wire.OffsetCache { return b.cache }

// Buffer returns the physical buffer backing section, so callers can
// append to it directly (spec §4.2, SelectMessageFor).
func (b *Builder) Buffer(section Section) *bytes.Buffer { return b.sections[section] }

// BaseOffset returns the absolute message offset — counting the 12-byte
// header and every section written so far in final wire order
// (question, answer, authority, additional) — corresponding to the
// current end of section. This is valid as a compression-pointer base
// only because sections are always appended to in that order without
// revisiting an earlier one after a later one has grown.
func (b *Builder) BaseOffset(section Section) uint16 {
	off := uint16(wire.HeaderSize)
	for s := Section(0); s < section; s++ {
		off += uint16(b.sections[s].Len())
	}
	off += uint16(b.sections[section].Len())
	return off
}

// AppendQuestion writes q into the question section and increments QDCOUNT.
func (b *Builder) AppendQuestion(q wire.Question) error {
	if err := wire.WriteQuestion(b.sections[SectionQuestion], b.BaseOffset(SectionQuestion), q, b.cache); err != nil {
		return err
	}
	b.counts[SectionQuestion]++
	return nil
}

// AppendRecord writes a resource record's preamble into section, invokes
// writeRData to append the type-specific RDATA, backpatches RDLENGTH, and
// increments the section's record count. writeRData receives the buffer
// and the absolute offset at which RDATA begins, needed by RDATA that
// itself contains compressible names (PTR, SRV).
func (b *Builder) AppendRecord(section Section, name string, rtype protocol.RecordType, class uint16, cacheFlush bool, ttl uint32, writeRData func(buf *bytes.Buffer, rdataOffset uint16) error) error {
	buf := b.sections[section]

	pos, err := wire.WriteRecordHeader(buf, b.BaseOffset(section), name, rtype, class, cacheFlush, ttl, b.cache)
	if err != nil {
		return err
	}

	if writeRData != nil {
		rdataOffset := uint16(wire.HeaderSize)
		for s := Section(0); s < section; s++ {
			rdataOffset += uint16(b.sections[s].Len())
		}
		rdataOffset += uint16(buf.Len())

		if err := writeRData(buf, rdataOffset); err != nil {
			return err
		}
	}

	if err := wire.PatchRDLength(buf, pos); err != nil {
		return err
	}

	b.counts[section]++
	return nil
}

// SetTruncated marks the message as truncated (probes only, per spec
// §4.2): a peer seeing TC=1 knows to wait for a follow-on message before
// tiebreaking against an incomplete authority section.
func (b *Builder) SetTruncated(v bool) { b.truncated = v }

// Truncated reports whether the message is marked truncated.
func (b *Builder) Truncated() bool { return b.truncated }

// EstimatedSize returns the size in bytes the message would serialize to
// if finalized right now.
func (b *Builder) EstimatedSize() int {
	size := wire.HeaderSize
	for _, s := range b.sections {
		size += s.Len()
	}
	return size
}

// ExceedsLimit reports whether EstimatedSize exceeds the configured
// maximum.
func (b *Builder) ExceedsLimit() bool {
	return b.EstimatedSize() > b.maxSize
}

// IsEmpty reports whether nothing has been appended to any section.
func (b *Builder) IsEmpty() bool {
	for _, c := range b.counts {
		if c != 0 {
			return false
		}
	}
	return true
}

// SavedState is a snapshot taken by SaveCurrentState and consumed by
// Restore, enabling all-or-nothing per-entry appending (spec §4.2).
type SavedState struct {
	lengths [numSections]int
	counts  [numSections]uint16
	cache   map[string]uint16
}

// SaveCurrentState records the builder's current size so a subsequent
// append attempt can be rolled back if it overflows the size limit.
func (b *Builder) SaveCurrentState() SavedState {
	var s SavedState
	for i, buf := range b.sections {
		s.lengths[i] = buf.Len()
	}
	s.counts = b.counts
	s.cache = b.cache.Snapshot()
	return s
}

// Restore reverts the builder to a previously saved state, discarding any
// bytes and counts appended since.
func (b *Builder) Restore(s SavedState) {
	for i, n := range s.lengths {
		b.sections[i].Truncate(n)
	}
	b.counts = s.counts
	b.cache.Restore(s.cache)
}

// Finalize serializes the header and four sections into a complete
// physical DNS message, per spec §4.2:
//   - MulticastProbe: qr=0, aa=0, tc set if Truncated.
//   - MulticastQuery: qr=0 (used for multi-packet known-answer queries).
//   - MulticastResponse / UnicastResponse: qr=1, aa=1.
//
// The message ID is always zero, per RFC 6762 §18.1.
func (b *Builder) Finalize() []byte {
	h := wire.Header{TC: b.truncated}

	switch b.msgType {
	case MulticastResponse, UnicastResponse:
		h.QR = true
		h.AA = true
	}

	h.QDCount = b.counts[SectionQuestion]
	h.ANCount = b.counts[SectionAnswer]
	h.NSCount = b.counts[SectionAuthority]
	h.ARCount = b.counts[SectionAdditional]

	out := make([]byte, 0, b.EstimatedSize())
	out = append(out, wire.EncodeHeader(h)...)
	for _, s := range b.sections {
		out = append(out, s.Bytes()...)
	}
	return out
}
