package entry

import (
	"bytes"
	"net"
	"time"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/records"
	"github.com/nodegrove/mdns/internal/txmsg"
	"github.com/nodegrove/mdns/internal/wire"
)

// HostEntry owns a registered hostname's AAAA record set, per spec §3.
// All of a host's addresses share one RecordInfo: they probe, announce,
// answer, and retire together as a single unit.
type HostEntry struct {
	name      string
	addresses [][16]byte
	ttl       uint32

	state      State
	probeCount int
	fireTime   clock.Millis

	addressRecord *records.RecordInfo
	key           *KeyState
	nsec          *records.RecordInfo

	onRegister Callback
	onConflict func()
}

// NewHostEntry constructs a HostEntry in the Probing state. Call
// StartProbing to schedule its first probe.
func NewHostEntry(name string, addresses [][16]byte, ttl uint32, onRegister Callback, onConflict func()) *HostEntry {
	h := &HostEntry{
		name:       name,
		addresses:  addresses,
		ttl:        ttl,
		state:      StateProbing,
		onRegister: onRegister,
		onConflict: onConflict,
	}
	h.addressRecord = records.New(protocol.RecordTypeAAAA)
	h.addressRecord.SetPresent(ttl)
	h.nsec = records.New(protocol.RecordTypeNSEC)
	h.nsec.SetPresent(protocol.TTLMeta)
	return h
}

// OwnedTypes returns every record type currently present at this host's
// name, for NSEC bitmap construction (spec §4.5).
func (h *HostEntry) OwnedTypes() []protocol.RecordType {
	types := []protocol.RecordType{protocol.RecordTypeAAAA}
	if h.key != nil {
		types = append(types, protocol.RecordTypeKEY)
	}
	return types
}

// HasKey reports whether this host currently carries a KEY record.
func (h *HostEntry) HasKey() bool { return h.key != nil }

// KeyTTL returns the KEY record's configured TTL, or 0 if none is set.
func (h *HostEntry) KeyTTL() uint32 {
	if h.key == nil {
		return 0
	}
	return h.key.Record.TTL
}

// KeyLastMulticast reports when the KEY record was last multicast.
func (h *HostEntry) KeyLastMulticast(now clock.Millis) (clock.Millis, bool) {
	if h.key == nil {
		return 0, false
	}
	return h.key.Record.LastMulticastKnown(now)
}

// NSECTTL returns the NSEC record's configured TTL.
func (h *HostEntry) NSECTTL() uint32 { return h.nsec.TTL }

// NSECLastMulticast reports when the NSEC record was last multicast.
func (h *HostEntry) NSECLastMulticast(now clock.Millis) (clock.Millis, bool) {
	return h.nsec.LastMulticastKnown(now)
}

func (h *HostEntry) Name() string       { return h.name }
func (h *HostEntry) State() State       { return h.state }
func (h *HostEntry) FireTime() clock.Millis { return h.fireTime }

// SetKey attaches or replaces this host's KEY record (SUPPLEMENTED
// FEATURES: dual-targeting KEY records).
func (h *HostEntry) SetKey(data []byte, ttl uint32) {
	h.key = newKeyState(data, ttl)
}

// ClearKey removes this host's KEY record, if any.
func (h *HostEntry) ClearKey() { h.key = nil }

// StartProbing schedules the entry's first probe at now+jitter, per RFC
// 6762 §8.1 (jitter is chosen by the caller, uniformly in
// [0, ProbeInitialDelayMax)).
func (h *HostEntry) StartProbing(now clock.Millis, jitter time.Duration) {
	h.state = StateProbing
	h.probeCount = 0
	h.fireTime = clock.Add(now, jitter)
}

// AdvanceProbe is invoked by the scheduler when a probe's fire time has
// arrived. It returns true exactly once, when the third probe's wait
// elapses with no conflict and the entry transitions to Registered.
func (h *HostEntry) AdvanceProbe(now clock.Millis) bool {
	h.probeCount++
	if h.probeCount >= protocol.NumProbes {
		h.state = StateRegistered
		h.addressRecord.AnnounceCounter = 0
		h.fireTime = now
		return true
	}
	h.fireTime = clock.Add(now, protocol.ProbeWaitTime)
	return false
}

// ProposedRecords returns the records this host would defend in a probe's
// authority section, for the tiebreak comparison (spec §4.4).
func (h *HostEntry) ProposedRecords() []ProposedRecord {
	out := make([]ProposedRecord, 0, len(h.addresses))
	for _, addr := range h.addresses {
		rdata := make([]byte, 16)
		copy(rdata, addr[:])
		out = append(out, ProposedRecord{
			Class: protocol.ClassINet,
			Type:  protocol.RecordTypeAAAA,
			RData: rdata,
		})
	}
	return out
}

// HandleProbeTiebreak runs the spec §4.4 tiebreak against a peer probing
// for the same name. If the peer wins, this entry restarts probing after
// a 1-second hold and the method returns true.
func (h *HostEntry) HandleProbeTiebreak(now clock.Millis, peer []ProposedRecord) bool {
	if !PeerWinsTiebreak(h.ProposedRecords(), peer) {
		return false
	}
	h.state = StateProbing
	h.probeCount = 0
	h.fireTime = clock.Add(now, protocol.ProbeConflictHold)
	return true
}

// HandleConflictingAnswer transitions the entry to the terminal Conflict
// state on discovering another responder already holds this name with
// different records (spec §4.4).
func (h *HostEntry) HandleConflictingAnswer() {
	h.state = StateConflict
	if h.onConflict != nil {
		h.onConflict()
	}
}

// NotifyRegistered invokes the registration callback, if any is pending.
// The caller (scheduler's deferred task) ensures this fires outside the
// original Register call's stack, per spec §4.8.
func (h *HostEntry) NotifyRegistered(err error) {
	if h.onRegister != nil {
		cb := h.onRegister
		h.onRegister = nil
		cb(err)
	}
}

// BeginRemoving transitions to Removing: a single goodbye (TTL=0) is sent
// for every present record before the entry is discarded (spec §3, §4.4).
func (h *HostEntry) BeginRemoving(now clock.Millis) {
	h.state = StateRemoving
	h.fireTime = now
}

// AnnounceDone reports whether the post-probe announce sequence has
// completed.
func (h *HostEntry) AnnounceDone() bool {
	return h.addressRecord.AnnounceDone()
}

// AdvanceAnnounce schedules the next announcement (or reports the
// sequence is complete), per spec §3: intervals double, 1s then 2s.
func (h *HostEntry) AdvanceAnnounce(now clock.Millis) {
	more := h.addressRecord.AdvanceAnnounce()
	if !more {
		return
	}
	gap := protocol.AnnounceInterval << uint(h.addressRecord.AnnounceCounter-1)
	h.fireTime = clock.Add(now, gap)
}

// ScheduleAnswer records a pending answer for this host's address record,
// per spec §4.3. The KEY record is scheduled separately, by
// ScheduleKeyAnswer.
func (h *HostEntry) ScheduleAnswer(now clock.Millis, req records.AnswerRequest) {
	h.addressRecord.ScheduleAnswer(now, req)
	h.recomputeFireTime()
}

// ScheduleKeyAnswer records a pending answer for this host's KEY record.
func (h *HostEntry) ScheduleKeyAnswer(now clock.Millis, req records.AnswerRequest) {
	if h.key == nil {
		return
	}
	h.key.Record.ScheduleAnswer(now, req)
	h.recomputeFireTime()
}

// ScheduleNSECAnswer records a pending negative answer for a query type
// this host does not own, per spec §4.5.
func (h *HostEntry) ScheduleNSECAnswer(now clock.Millis, req records.AnswerRequest) {
	h.nsec.ScheduleAnswer(now, req)
	h.recomputeFireTime()
}

func (h *HostEntry) recomputeFireTime() {
	if h.addressRecord.MulticastPending && clock.Before(h.addressRecord.MulticastAnswerTime, h.fireTime) {
		h.fireTime = h.addressRecord.MulticastAnswerTime
	}
	if h.addressRecord.UnicastPending && clock.Before(h.addressRecord.UnicastAnswerTime, h.fireTime) {
		h.fireTime = h.addressRecord.UnicastAnswerTime
	}
	if h.key != nil {
		if h.key.Record.MulticastPending && clock.Before(h.key.Record.MulticastAnswerTime, h.fireTime) {
			h.fireTime = h.key.Record.MulticastAnswerTime
		}
		if h.key.Record.UnicastPending && clock.Before(h.key.Record.UnicastAnswerTime, h.fireTime) {
			h.fireTime = h.key.Record.UnicastAnswerTime
		}
	}
	if h.nsec.MulticastPending && clock.Before(h.nsec.MulticastAnswerTime, h.fireTime) {
		h.fireTime = h.nsec.MulticastAnswerTime
	}
	if h.nsec.UnicastPending && clock.Before(h.nsec.UnicastAnswerTime, h.fireTime) {
		h.fireTime = h.nsec.UnicastAnswerTime
	}
}

func (h *HostEntry) effectiveTTL() uint32 {
	if h.state == StateRemoving {
		return 0
	}
	return h.addressRecord.TTL
}

// PrepareProbe writes this host's probe question (QTYPE=ANY, QU set on the
// first probe when the responder allows QU) and its proposed AAAA records
// into b's authority section, per spec §4.2.
func (h *HostEntry) PrepareProbe(b *txmsg.Builder, allowQU bool) error {
	qu := allowQU && h.probeCount == 0
	if err := b.AppendQuestion(wire.Question{Name: h.name, Type: protocol.RecordTypeANY, Class: protocol.ClassINet, QU: qu}); err != nil {
		return err
	}
	for _, addr := range h.addresses {
		addr := addr
		if err := b.AppendRecord(txmsg.SectionAuthority, h.name, protocol.RecordTypeAAAA, protocol.ClassINet, false, h.addressRecord.TTL, func(buf *bytes.Buffer, off uint16) error {
			buf.Write(wire.EncodeAAAA(addr))
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// PrepareResponse writes this host's records into b's answer section when
// announcing, answering a scheduled query, or sending a goodbye, per spec
// §3-§4.4. It reports whether anything was written.
func (h *HostEntry) PrepareResponse(b *txmsg.Builder, now clock.Millis, multicast bool) (bool, error) {
	goodbye := h.state == StateRemoving
	announcing := h.state == StateRegistered && multicast && !h.addressRecord.AnnounceDone()
	answering := h.addressRecord.ShouldAppendTo(multicast, now)
	nsecDue := !goodbye && h.nsec.ShouldAppendTo(multicast, now)

	if !goodbye && !announcing && !answering && !nsecDue {
		return false, nil
	}

	wrote := false

	if goodbye || announcing || answering {
		ttl := h.effectiveTTL()
		for _, addr := range h.addresses {
			addr := addr
			if err := b.AppendRecord(txmsg.SectionAnswer, h.name, protocol.RecordTypeAAAA, protocol.ClassINet, true, ttl, func(buf *bytes.Buffer, off uint16) error {
				buf.Write(wire.EncodeAAAA(addr))
				return nil
			}); err != nil {
				return false, err
			}
		}

		if announcing {
			h.AdvanceAnnounce(now)
		}
		if answering {
			h.addressRecord.UpdateStateAfterAnswer(multicast, now)
		}
		if multicast {
			h.addressRecord.AppendState = records.AppendedInMulticastMsg
		} else {
			h.addressRecord.AppendState = records.AppendedInUnicastMsg
		}
		wrote = true
	}

	if h.key != nil && (goodbye || h.key.Record.ShouldAppendTo(multicast, now)) {
		keyTTL := h.key.Record.TTL
		if goodbye {
			keyTTL = 0
		}
		if err := b.AppendRecord(txmsg.SectionAnswer, h.name, protocol.RecordTypeKEY, protocol.ClassINet, true, keyTTL, func(buf *bytes.Buffer, off uint16) error {
			buf.Write(wire.EncodeKey(h.key.Data))
			return nil
		}); err != nil {
			return false, err
		}
		if h.key.Record.ShouldAppendTo(multicast, now) {
			h.key.Record.UpdateStateAfterAnswer(multicast, now)
		}
		wrote = true
	}

	if nsecDue {
		// NSEC rides in the additional section when this message already
		// answers something else for the name, per spec §4.5; otherwise it
		// is the standalone answer.
		section := txmsg.SectionAnswer
		if wrote {
			section = txmsg.SectionAdditional
		}
		if err := b.AppendRecord(section, h.name, protocol.RecordTypeNSEC, protocol.ClassINet, true, h.nsec.TTL, func(buf *bytes.Buffer, off uint16) error {
			return wire.WriteNSECData(buf, h.name, h.OwnedTypes())
		}); err != nil {
			return false, err
		}
		if section == txmsg.SectionAdditional {
			h.nsec.AppendState = records.ToAppendInAdditional
		} else if multicast {
			h.nsec.AppendState = records.AppendedInMulticastMsg
		} else {
			h.nsec.AppendState = records.AppendedInUnicastMsg
		}
		h.nsec.UpdateStateAfterAnswer(multicast, now)
		wrote = true
	}

	return wrote, nil
}

// ResetAppendState clears the per-sweep append tracking on this host's
// records, per spec §3.
func (h *HostEntry) ResetAppendState() {
	h.addressRecord.ResetAppendState()
	if h.key != nil {
		h.key.Record.ResetAppendState()
	}
	h.nsec.ResetAppendState()
}

// TTL returns the address record's configured TTL.
func (h *HostEntry) TTL() uint32 { return h.addressRecord.TTL }

// LastMulticast reports when this host's address record was last
// multicast, per the 10-hour validity window records.RecordInfo enforces.
func (h *HostEntry) LastMulticast(now clock.Millis) (clock.Millis, bool) {
	return h.addressRecord.LastMulticastKnown(now)
}

// PendingUnicastDest returns the destination of a still-pending unicast
// answer on this host's records, or nil if none is pending.
func (h *HostEntry) PendingUnicastDest() *net.UDPAddr {
	if h.addressRecord.UnicastPending {
		return h.addressRecord.UnicastDest
	}
	if h.key != nil && h.key.Record.UnicastPending {
		return h.key.Record.UnicastDest
	}
	if h.nsec.UnicastPending {
		return h.nsec.UnicastDest
	}
	return nil
}

// MatchesAddress reports whether addr is currently one of this host's
// registered addresses.
func (h *HostEntry) MatchesAddress(addr [16]byte) bool {
	for _, a := range h.addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// Update replaces this host's address set and TTL in place (SUPPLEMENTED
// FEATURES item 1: re-registration merges without re-probing when the
// name is unchanged). Addresses no longer present are not individually
// tracked for goodbye — per spec §3 the whole address RecordInfo is one
// unit, so a changed address set is announced as a fresh record set at
// the next announce rather than goodbye'd address-by-address.
func (h *HostEntry) Update(addresses [][16]byte, ttl uint32) {
	h.addresses = addresses
	h.ttl = ttl
	h.addressRecord.SetPresent(ttl)
	h.addressRecord.AnnounceCounter = 0
}
