package wire

import (
	"bytes"
	"strings"
)

// OffsetCache tracks the absolute message offset at which each previously
// written name (and name suffix) first appeared, so WriteName can emit a
// compression pointer (RFC 1035 §4.1.4) instead of repeating labels.
//
// Per spec §4.1, the cache only needs to track a handful of well-known
// suffixes that recur constantly in mDNS traffic — the "local." domain, the
// "_udp.local."/"_tcp.local." protocol suffixes, and the DNS-SD meta-query
// name — plus whatever full names get written during the current message.
// A plain map is sufficient: the mDNS hot path writes a small, bounded
// number of names per message.
type OffsetCache struct {
	offsets map[string]uint16
}

// NewOffsetCache returns an empty cache.
func NewOffsetCache() *OffsetCache {
	return &OffsetCache{offsets: make(map[string]uint16)}
}

// Snapshot returns a copy of the cache's current contents, for later
// Restore. Used by txmsg.Builder's save/restore around a speculative
// per-entry append.
func (c *OffsetCache) Snapshot() map[string]uint16 {
	cp := make(map[string]uint16, len(c.offsets))
	for k, v := range c.offsets {
		cp[k] = v
	}
	return cp
}

// Restore replaces the cache's contents with a previously taken Snapshot.
func (c *OffsetCache) Restore(snapshot map[string]uint16) {
	c.offsets = make(map[string]uint16, len(snapshot))
	for k, v := range snapshot {
		c.offsets[k] = v
	}
}

func canonicalKey(labels []string) string {
	return strings.ToLower(strings.Join(labels, "."))
}

// lookup returns the longest suffix of labels already present in the
// cache, the offset it was recorded at, and the number of leading labels
// that must still be written literally before the pointer.
func (c *OffsetCache) lookup(labels []string) (offset uint16, unmatched int, found bool) {
	for i := 0; i < len(labels); i++ {
		key := canonicalKey(labels[i:])
		if off, ok := c.offsets[key]; ok {
			return off, i, true
		}
	}
	return 0, len(labels), false
}

// record stores the offset at which each suffix labels[i:], for i < count
// (the labels written literally), begins — but only for offsets
// representable in a 14-bit compression pointer (RFC 1035 §4.1.4 limits
// pointers to offset < 0x4000).
func (c *OffsetCache) record(labels []string, count int, baseOffset uint16) {
	offset := uint32(baseOffset)
	for i := 0; i < count; i++ {
		if offset >= 0x4000 {
			return
		}
		key := canonicalKey(labels[i:])
		if _, exists := c.offsets[key]; !exists {
			c.offsets[key] = uint16(offset)
		}
		offset += uint32(len(labels[i])) + 1
	}
}

// WriteName appends name to buf, using a compression pointer for the
// longest already-seen suffix in cache and recording the offsets of any
// newly written labels for future reuse. baseOffset is the absolute
// message offset corresponding to the current end of buf (see
// txmsg.Builder for how that offset is maintained across the four
// section buffers).
func WriteName(buf *bytes.Buffer, baseOffset uint16, name string, cache *OffsetCache) error {
	labels := CanonicalizeLabels(name)
	if len(labels) == 0 {
		buf.WriteByte(0x00)
		return nil
	}

	offset, unmatched, found := cache.lookup(labels)

	literal := labels[:unmatched]
	cache.record(labels, unmatched, baseOffset)

	originalLabels := splitRaw(name)
	for i := 0; i < len(literal); i++ {
		label := originalLabels[i]
		buf.WriteByte(byte(len(label)))
		buf.WriteString(label)
	}

	if found {
		buf.WriteByte(byte(0xC0 | (offset >> 8)))
		buf.WriteByte(byte(offset & 0xFF))
	} else {
		buf.WriteByte(0x00)
	}

	return nil
}

// splitRaw splits name into labels preserving original case (WriteName
// writes the labels as supplied by the caller; only the compression cache
// key is lowercased, per RFC 1035 §4.1.4 — the pointer mechanism matches
// on case-insensitive suffix, not on byte-identical labels).
func splitRaw(name string) []string {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil
	}
	return strings.Split(name, ".")
}
