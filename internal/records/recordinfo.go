package records

import (
	"net"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/protocol"
)

// AppendState tracks whether a record has already been written into the
// message currently under construction, reset to NotAppended at the start
// of every tx build sweep (spec §3).
type AppendState int

const (
	NotAppended AppendState = iota
	ToAppendInAdditional
	AppendedInMulticastMsg
	AppendedInUnicastMsg
)

// RecordInfo is the per-record transmission state shared by every record
// kind an entry owns (AAAA, PTR, SRV, TXT, KEY), per spec §3 and §4.3.
type RecordInfo struct {
	Type protocol.RecordType

	Present bool
	TTL     uint32

	AnnounceCounter int

	AppendState AppendState

	MulticastPending    bool
	MulticastAnswerTime clock.Millis

	UnicastPending    bool
	UnicastAnswerTime clock.Millis
	UnicastDest       *net.UDPAddr

	lastMulticastTime  clock.Millis
	lastMulticastValid bool
}

// New returns a RecordInfo for recordType, not yet present.
func New(recordType protocol.RecordType) *RecordInfo {
	return &RecordInfo{Type: recordType}
}

// SetPresent marks the record present with ttl (0 substitutes the
// type-appropriate default, spec §3).
func (r *RecordInfo) SetPresent(ttl uint32) {
	r.Present = true
	if ttl == 0 {
		ttl = GetTTLForRecordType(r.Type)
	}
	r.TTL = ttl
}

// Clear marks the record absent and resets scheduling state, used when an
// update drops a record or an entry is fully removed.
func (r *RecordInfo) Clear() {
	*r = RecordInfo{Type: r.Type}
}

// ResetAppendState is called once per tx build sweep, per spec §3.
func (r *RecordInfo) ResetAppendState() {
	r.AppendState = NotAppended
}

// AdvanceAnnounce increments the announce counter and reports whether
// another announcement should still be sent afterward (spec §4.4:
// NumAnnounces total announcements per registration).
func (r *RecordInfo) AdvanceAnnounce() bool {
	r.AnnounceCounter++
	return r.AnnounceCounter < protocol.NumAnnounces
}

// AnnounceDone reports whether the announce sequence has completed.
func (r *RecordInfo) AnnounceDone() bool {
	return r.AnnounceCounter >= protocol.NumAnnounces
}

// LastMulticastKnown returns the last time this record was multicast, and
// true, provided that timestamp is still within the 10-hour validity
// window (spec §9 Open Questions: preserved as-is from the source; beyond
// the window the record is treated as never multicast).
func (r *RecordInfo) LastMulticastKnown(now clock.Millis) (clock.Millis, bool) {
	if !r.lastMulticastValid {
		return 0, false
	}
	if clock.Diff(now, r.lastMulticastTime) > protocol.LastMulticastValidity {
		return 0, false
	}
	return r.lastMulticastTime, true
}
