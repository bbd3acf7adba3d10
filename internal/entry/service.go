package entry

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/records"
	"github.com/nodegrove/mdns/internal/txmsg"
	"github.com/nodegrove/mdns/internal/wire"
)

// SubType is one additional PTR advertised for a service instance under
// "_subtype._sub._type._tcp.local", per RFC 6763 §7.1. Its RecordInfo is
// tracked independently so removing a single sub-type from an update
// goodbyes only that PTR, not the whole ServiceEntry (SUPPLEMENTED
// FEATURES item 5).
type SubType struct {
	Label    string
	PTR      *records.RecordInfo
	removing bool
}

// ServiceEntry owns one DNS-SD service instance's PTR, SRV, TXT, optional
// KEY, and sub-type PTRs, per spec §3.
type ServiceEntry struct {
	instance    string
	serviceType string
	hostName    string

	port, weight, priority uint16
	txt                    []string

	state      State
	probeCount int
	fireTime   clock.Millis

	ptrRecord *records.RecordInfo
	srvRecord *records.RecordInfo
	txtRecord *records.RecordInfo
	key       *KeyState
	nsec      *records.RecordInfo

	subTypes []*SubType

	onRegister Callback
	onConflict func()
}

// NewServiceEntry constructs a ServiceEntry in the Probing state (probing
// covers the instance name only: SRV/TXT are unique-owner records, per
// RFC 6762 §10.1, while the PTR from the service type is shared and never
// probed).
func NewServiceEntry(instance, serviceType, hostName string, port, weight, priority uint16, txt []string, ttl uint32, onRegister Callback, onConflict func()) *ServiceEntry {
	s := &ServiceEntry{
		instance:    instance,
		serviceType: serviceType,
		hostName:    hostName,
		port:        port,
		weight:      weight,
		priority:    priority,
		txt:         txt,
		state:       StateProbing,
		onRegister:  onRegister,
		onConflict:  onConflict,
	}
	s.ptrRecord = records.New(protocol.RecordTypePTR)
	s.ptrRecord.SetPresent(ttl)
	s.srvRecord = records.New(protocol.RecordTypeSRV)
	s.srvRecord.SetPresent(ttl)
	s.txtRecord = records.New(protocol.RecordTypeTXT)
	s.txtRecord.SetPresent(ttl)
	s.nsec = records.New(protocol.RecordTypeNSEC)
	s.nsec.SetPresent(protocol.TTLMeta)
	return s
}

// OwnedTypes returns every record type currently present at this
// instance's name — PTR is owned by the service type name, not the
// instance name, so it is excluded — for NSEC bitmap construction (spec
// §4.5).
func (s *ServiceEntry) OwnedTypes() []protocol.RecordType {
	types := []protocol.RecordType{protocol.RecordTypeSRV, protocol.RecordTypeTXT}
	if s.key != nil {
		types = append(types, protocol.RecordTypeKEY)
	}
	return types
}

// HasKey reports whether this instance currently carries a KEY record.
func (s *ServiceEntry) HasKey() bool { return s.key != nil }

// KeyTTL returns the KEY record's configured TTL, or 0 if none is set.
func (s *ServiceEntry) KeyTTL() uint32 {
	if s.key == nil {
		return 0
	}
	return s.key.Record.TTL
}

// KeyLastMulticast reports when the KEY record was last multicast.
func (s *ServiceEntry) KeyLastMulticast(now clock.Millis) (clock.Millis, bool) {
	if s.key == nil {
		return 0, false
	}
	return s.key.Record.LastMulticastKnown(now)
}

// NSECTTL returns the NSEC record's configured TTL.
func (s *ServiceEntry) NSECTTL() uint32 { return s.nsec.TTL }

// NSECLastMulticast reports when the NSEC record was last multicast.
func (s *ServiceEntry) NSECLastMulticast(now clock.Millis) (clock.Millis, bool) {
	return s.nsec.LastMulticastKnown(now)
}

// InstanceFullName returns the FQDN of the service instance, e.g.
// "printer._http._tcp.local".
func (s *ServiceEntry) InstanceFullName() string {
	return fmt.Sprintf("%s.%s", s.instance, s.serviceType)
}

func (s *ServiceEntry) Name() string         { return s.InstanceFullName() }
func (s *ServiceEntry) State() State         { return s.state }
func (s *ServiceEntry) FireTime() clock.Millis { return s.fireTime }
func (s *ServiceEntry) ServiceType() string  { return s.serviceType }
func (s *ServiceEntry) HostName() string     { return s.hostName }

// SetKey attaches or replaces this service instance's KEY record.
func (s *ServiceEntry) SetKey(data []byte, ttl uint32) {
	s.key = newKeyState(data, ttl)
}

// ClearKey removes this service instance's KEY record, if any.
func (s *ServiceEntry) ClearKey() { s.key = nil }

// AddSubType adds a sub-type PTR, reviving one still mid-goodbye if it
// matches, no-op if already active.
func (s *ServiceEntry) AddSubType(label string, ttl uint32) {
	for _, st := range s.subTypes {
		if st.Label != label {
			continue
		}
		if st.removing {
			st.removing = false
			st.PTR.SetPresent(ttl)
		}
		return
	}
	ptr := records.New(protocol.RecordTypePTR)
	ptr.SetPresent(ttl)
	s.subTypes = append(s.subTypes, &SubType{Label: label, PTR: ptr})
}

// RemoveSubType goodbyes the named sub-type: its PTR's TTL drops to 0 and a
// single answer is scheduled, so the next PrepareResponse transmits the
// goodbye before the sub-type is actually dropped from s.subTypes.
func (s *ServiceEntry) RemoveSubType(now clock.Millis, label string) {
	for _, st := range s.subTypes {
		if st.Label == label && !st.removing {
			st.removing = true
			st.PTR.TTL = 0
			st.PTR.ScheduleAnswer(now, records.AnswerRequest{AnswerTime: now})
			s.recomputeFireTime()
			return
		}
	}
}

// dropSubTypes removes sub-types whose goodbye has already been sent.
func (s *ServiceEntry) dropSubTypes(labels []string) {
	drop := make(map[string]bool, len(labels))
	for _, l := range labels {
		drop[l] = true
	}
	kept := s.subTypes[:0]
	for _, st := range s.subTypes {
		if !drop[st.Label] {
			kept = append(kept, st)
		}
	}
	s.subTypes = kept
}

func (s *ServiceEntry) subTypeName(label string) string {
	return fmt.Sprintf("%s._sub.%s", label, s.serviceType)
}

// StartProbing schedules the entry's first probe at now+jitter.
func (s *ServiceEntry) StartProbing(now clock.Millis, jitter time.Duration) {
	s.state = StateProbing
	s.probeCount = 0
	s.fireTime = clock.Add(now, jitter)
}

// AdvanceProbe advances the probe sequence, returning true when it
// completes and the entry transitions to Registered.
func (s *ServiceEntry) AdvanceProbe(now clock.Millis) bool {
	s.probeCount++
	if s.probeCount >= protocol.NumProbes {
		s.state = StateRegistered
		s.srvRecord.AnnounceCounter = 0
		s.fireTime = now
		return true
	}
	s.fireTime = clock.Add(now, protocol.ProbeWaitTime)
	return false
}

// ProposedRecords returns the records defended in a probe's authority
// section: the SRV record naming this instance (the PTR and TXT records
// are not unique-owner-defended per RFC 6762 §10.1, but SRV is).
func (s *ServiceEntry) ProposedRecords() []ProposedRecord {
	rdata := new(bytes.Buffer)
	rdata.Write([]byte{byte(s.priority >> 8), byte(s.priority)})
	rdata.Write([]byte{byte(s.weight >> 8), byte(s.weight)})
	rdata.Write([]byte{byte(s.port >> 8), byte(s.port)})
	rdata.WriteString(s.hostName)
	return []ProposedRecord{{Class: protocol.ClassINet, Type: protocol.RecordTypeSRV, RData: rdata.Bytes()}}
}

// HandleProbeTiebreak runs the tiebreak against a peer probing for the
// same instance name.
func (s *ServiceEntry) HandleProbeTiebreak(now clock.Millis, peer []ProposedRecord) bool {
	if !PeerWinsTiebreak(s.ProposedRecords(), peer) {
		return false
	}
	s.state = StateProbing
	s.probeCount = 0
	s.fireTime = clock.Add(now, protocol.ProbeConflictHold)
	return true
}

// HandleConflictingAnswer transitions to the terminal Conflict state.
func (s *ServiceEntry) HandleConflictingAnswer() {
	s.state = StateConflict
	if s.onConflict != nil {
		s.onConflict()
	}
}

// NotifyRegistered invokes the pending registration callback once.
func (s *ServiceEntry) NotifyRegistered(err error) {
	if s.onRegister != nil {
		cb := s.onRegister
		s.onRegister = nil
		cb(err)
	}
}

// BeginRemoving transitions to Removing, sending goodbyes for PTR, SRV,
// TXT, KEY, and every sub-type PTR (spec §8 scenario 6).
func (s *ServiceEntry) BeginRemoving(now clock.Millis) {
	s.state = StateRemoving
	s.fireTime = now
}

// AnnounceDone reports whether the SRV record's announce sequence (used
// as the pace-setter for the whole entry) has completed.
func (s *ServiceEntry) AnnounceDone() bool {
	return s.srvRecord.AnnounceDone()
}

// AdvanceAnnounce schedules the next announce for every unique record this
// entry owns, kept in lockstep off the SRV record's counter.
func (s *ServiceEntry) AdvanceAnnounce(now clock.Millis) {
	more := s.srvRecord.AdvanceAnnounce()
	s.ptrRecord.AdvanceAnnounce()
	s.txtRecord.AdvanceAnnounce()
	for _, st := range s.subTypes {
		st.PTR.AdvanceAnnounce()
	}
	if !more {
		return
	}
	gap := protocol.AnnounceInterval << uint(s.srvRecord.AnnounceCounter-1)
	s.fireTime = clock.Add(now, gap)
}

// ScheduleAnswer records a pending answer against the record kind matching
// qtype (PTR, SRV, TXT, or ANY for all).
func (s *ServiceEntry) ScheduleAnswer(now clock.Millis, qtype protocol.RecordType, req records.AnswerRequest) {
	switch qtype {
	case protocol.RecordTypePTR:
		s.ptrRecord.ScheduleAnswer(now, req)
	case protocol.RecordTypeSRV:
		s.srvRecord.ScheduleAnswer(now, req)
	case protocol.RecordTypeTXT:
		s.txtRecord.ScheduleAnswer(now, req)
	default:
		s.ptrRecord.ScheduleAnswer(now, req)
		s.srvRecord.ScheduleAnswer(now, req)
		s.txtRecord.ScheduleAnswer(now, req)
	}
	s.recomputeFireTime()
}

// ScheduleKeyAnswer records a pending answer for this instance's KEY
// record.
func (s *ServiceEntry) ScheduleKeyAnswer(now clock.Millis, req records.AnswerRequest) {
	if s.key == nil {
		return
	}
	s.key.Record.ScheduleAnswer(now, req)
	s.recomputeFireTime()
}

// ScheduleNSECAnswer records a pending negative answer for a query type
// this instance does not own, per spec §4.5.
func (s *ServiceEntry) ScheduleNSECAnswer(now clock.Millis, req records.AnswerRequest) {
	s.nsec.ScheduleAnswer(now, req)
	s.recomputeFireTime()
}

// SubTypeLabels returns the currently registered sub-type labels.
func (s *ServiceEntry) SubTypeLabels() []string {
	out := make([]string, len(s.subTypes))
	for i, st := range s.subTypes {
		out[i] = st.Label
	}
	return out
}

// ScheduleSubTypeAnswer records a pending answer for one sub-type's PTR.
func (s *ServiceEntry) ScheduleSubTypeAnswer(now clock.Millis, label string, req records.AnswerRequest) {
	for _, st := range s.subTypes {
		if st.Label == label {
			st.PTR.ScheduleAnswer(now, req)
			s.recomputeFireTime()
			return
		}
	}
}

func (s *ServiceEntry) recomputeFireTime() {
	pull := func(r *records.RecordInfo) {
		if r.MulticastPending && clock.Before(r.MulticastAnswerTime, s.fireTime) {
			s.fireTime = r.MulticastAnswerTime
		}
		if r.UnicastPending && clock.Before(r.UnicastAnswerTime, s.fireTime) {
			s.fireTime = r.UnicastAnswerTime
		}
	}
	pull(s.ptrRecord)
	pull(s.srvRecord)
	pull(s.txtRecord)
	for _, st := range s.subTypes {
		pull(st.PTR)
	}
	if s.key != nil {
		pull(s.key.Record)
	}
	pull(s.nsec)
}

func (s *ServiceEntry) effectiveTTL(r *records.RecordInfo) uint32 {
	if s.state == StateRemoving {
		return 0
	}
	return r.TTL
}

// PrepareProbe writes the SRV probe question and authority record into b.
func (s *ServiceEntry) PrepareProbe(b *txmsg.Builder, allowQU bool) error {
	name := s.InstanceFullName()
	qu := allowQU && s.probeCount == 0
	if err := b.AppendQuestion(wire.Question{Name: name, Type: protocol.RecordTypeANY, Class: protocol.ClassINet, QU: qu}); err != nil {
		return err
	}
	return b.AppendRecord(txmsg.SectionAuthority, name, protocol.RecordTypeSRV, protocol.ClassINet, false, s.srvRecord.TTL, func(buf *bytes.Buffer, off uint16) error {
		return wire.WriteSRVData(buf, off, s.priority, s.weight, s.port, s.hostName, b.Cache())
	})
}

// PrepareResponse writes this instance's PTR, SRV, TXT, KEY, and sub-type
// PTR records into b when announcing, answering, or sending a goodbye.
func (s *ServiceEntry) PrepareResponse(b *txmsg.Builder, now clock.Millis, multicast bool) (bool, error) {
	name := s.InstanceFullName()
	goodbye := s.state == StateRemoving
	announcing := s.state == StateRegistered && multicast && !s.AnnounceDone()

	wrote := false

	writePTR := func(owner, target string, r *records.RecordInfo) error {
		if !goodbye && !announcing && !r.ShouldAppendTo(multicast, now) {
			return nil
		}
		ttl := s.effectiveTTL(r)
		if err := b.AppendRecord(txmsg.SectionAnswer, owner, protocol.RecordTypePTR, protocol.ClassINet, false, ttl, func(buf *bytes.Buffer, off uint16) error {
			return wire.WritePTRData(buf, off, target, b.Cache())
		}); err != nil {
			return err
		}
		if r.ShouldAppendTo(multicast, now) {
			r.UpdateStateAfterAnswer(multicast, now)
		}
		wrote = true
		return nil
	}

	if err := writePTR(s.serviceType, name, s.ptrRecord); err != nil {
		return false, err
	}
	var dropped []string
	for _, st := range s.subTypes {
		wasPending := st.PTR.MulticastPending || st.PTR.UnicastPending
		if err := writePTR(s.subTypeName(st.Label), name, st.PTR); err != nil {
			return false, err
		}
		if st.removing && wasPending && !st.PTR.MulticastPending && !st.PTR.UnicastPending {
			dropped = append(dropped, st.Label)
		}
	}
	if len(dropped) > 0 {
		s.dropSubTypes(dropped)
	}

	if goodbye || announcing || s.srvRecord.ShouldAppendTo(multicast, now) {
		ttl := s.effectiveTTL(s.srvRecord)
		if err := b.AppendRecord(txmsg.SectionAnswer, name, protocol.RecordTypeSRV, protocol.ClassINet, true, ttl, func(buf *bytes.Buffer, off uint16) error {
			return wire.WriteSRVData(buf, off, s.priority, s.weight, s.port, s.hostName, b.Cache())
		}); err != nil {
			return false, err
		}
		if s.srvRecord.ShouldAppendTo(multicast, now) {
			s.srvRecord.UpdateStateAfterAnswer(multicast, now)
		}
		wrote = true
	}

	if goodbye || announcing || s.txtRecord.ShouldAppendTo(multicast, now) {
		ttl := s.effectiveTTL(s.txtRecord)
		rdata, err := wire.EncodeTXT(s.txt)
		if err != nil {
			return false, err
		}
		if err := b.AppendRecord(txmsg.SectionAnswer, name, protocol.RecordTypeTXT, protocol.ClassINet, true, ttl, func(buf *bytes.Buffer, off uint16) error {
			buf.Write(rdata)
			return nil
		}); err != nil {
			return false, err
		}
		if s.txtRecord.ShouldAppendTo(multicast, now) {
			s.txtRecord.UpdateStateAfterAnswer(multicast, now)
		}
		wrote = true
	}

	if s.key != nil && (goodbye || s.key.Record.ShouldAppendTo(multicast, now)) {
		ttl := s.effectiveTTL(s.key.Record)
		if err := b.AppendRecord(txmsg.SectionAnswer, name, protocol.RecordTypeKEY, protocol.ClassINet, true, ttl, func(buf *bytes.Buffer, off uint16) error {
			buf.Write(wire.EncodeKey(s.key.Data))
			return nil
		}); err != nil {
			return false, err
		}
		if s.key.Record.ShouldAppendTo(multicast, now) {
			s.key.Record.UpdateStateAfterAnswer(multicast, now)
		}
		wrote = true
	}

	if !goodbye && s.nsec.ShouldAppendTo(multicast, now) {
		section := txmsg.SectionAnswer
		if wrote {
			section = txmsg.SectionAdditional
		}
		if err := b.AppendRecord(section, name, protocol.RecordTypeNSEC, protocol.ClassINet, true, s.nsec.TTL, func(buf *bytes.Buffer, off uint16) error {
			return wire.WriteNSECData(buf, name, s.OwnedTypes())
		}); err != nil {
			return false, err
		}
		if section == txmsg.SectionAdditional {
			s.nsec.AppendState = records.ToAppendInAdditional
		} else if multicast {
			s.nsec.AppendState = records.AppendedInMulticastMsg
		} else {
			s.nsec.AppendState = records.AppendedInUnicastMsg
		}
		s.nsec.UpdateStateAfterAnswer(multicast, now)
		wrote = true
	}

	if announcing {
		s.AdvanceAnnounce(now)
	}

	return wrote, nil
}

// ResetAppendState clears per-sweep append tracking on every record this
// entry owns.
func (s *ServiceEntry) ResetAppendState() {
	s.ptrRecord.ResetAppendState()
	s.srvRecord.ResetAppendState()
	s.txtRecord.ResetAppendState()
	for _, st := range s.subTypes {
		st.PTR.ResetAppendState()
	}
	if s.key != nil {
		s.key.Record.ResetAppendState()
	}
	s.nsec.ResetAppendState()
}

// TTLFor returns the configured TTL of the record matching qtype (PTR,
// SRV, or TXT); ANY returns the SRV record's TTL.
func (s *ServiceEntry) TTLFor(qtype protocol.RecordType) uint32 {
	switch qtype {
	case protocol.RecordTypePTR:
		return s.ptrRecord.TTL
	case protocol.RecordTypeTXT:
		return s.txtRecord.TTL
	default:
		return s.srvRecord.TTL
	}
}

// LastMulticast reports when the record matching qtype was last
// multicast.
func (s *ServiceEntry) LastMulticast(now clock.Millis, qtype protocol.RecordType) (clock.Millis, bool) {
	switch qtype {
	case protocol.RecordTypePTR:
		return s.ptrRecord.LastMulticastKnown(now)
	case protocol.RecordTypeTXT:
		return s.txtRecord.LastMulticastKnown(now)
	default:
		return s.srvRecord.LastMulticastKnown(now)
	}
}

// SubTypeTTL returns the TTL of the named sub-type's PTR, or 0 if absent.
func (s *ServiceEntry) SubTypeTTL(label string) uint32 {
	for _, st := range s.subTypes {
		if st.Label == label {
			return st.PTR.TTL
		}
	}
	return 0
}

// SubTypeLastMulticast reports when the named sub-type's PTR was last
// multicast.
func (s *ServiceEntry) SubTypeLastMulticast(now clock.Millis, label string) (clock.Millis, bool) {
	for _, st := range s.subTypes {
		if st.Label == label {
			return st.PTR.LastMulticastKnown(now)
		}
	}
	return 0, false
}

// HasSubType reports whether label is currently registered.
func (s *ServiceEntry) HasSubType(label string) bool {
	for _, st := range s.subTypes {
		if st.Label == label && !st.removing {
			return true
		}
	}
	return false
}

// SRVFields returns the priority/weight/port/target this instance
// currently advertises, for known-answer suppression comparison.
func (s *ServiceEntry) SRVFields() (priority, weight, port uint16, target string) {
	return s.priority, s.weight, s.port, s.hostName
}

// PendingUnicastDest returns the destination of a still-pending unicast
// answer on this instance's records, or nil if none is pending.
func (s *ServiceEntry) PendingUnicastDest() *net.UDPAddr {
	for _, r := range []*records.RecordInfo{s.ptrRecord, s.srvRecord, s.txtRecord} {
		if r.UnicastPending {
			return r.UnicastDest
		}
	}
	for _, st := range s.subTypes {
		if st.PTR.UnicastPending {
			return st.PTR.UnicastDest
		}
	}
	if s.key != nil && s.key.Record.UnicastPending {
		return s.key.Record.UnicastDest
	}
	if s.nsec.UnicastPending {
		return s.nsec.UnicastDest
	}
	return nil
}

// Update replaces this instance's port/weight/priority and TXT data in
// place, re-announcing without re-probing (SUPPLEMENTED FEATURES item 1).
func (s *ServiceEntry) Update(port, weight, priority uint16, txt []string, ttl uint32) {
	s.port, s.weight, s.priority, s.txt = port, weight, priority, txt
	s.ptrRecord.SetPresent(ttl)
	s.srvRecord.SetPresent(ttl)
	s.txtRecord.SetPresent(ttl)
	s.srvRecord.AnnounceCounter = 0
	s.ptrRecord.AnnounceCounter = 0
	s.txtRecord.AnnounceCounter = 0
}
