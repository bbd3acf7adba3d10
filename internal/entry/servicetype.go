package entry

import (
	"bytes"
	"net"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/records"
	"github.com/nodegrove/mdns/internal/txmsg"
	"github.com/nodegrove/mdns/internal/wire"
)

// dnsSDMetaName is the well-known DNS-SD meta-query owner name, per RFC
// 6763 §9.
const dnsSDMetaName = "_services._dns-sd._udp.local"

// ServiceType is a shared, reference-counted record answering the DNS-SD
// meta-query for one service type (spec §3): a PTR from the meta-name to
// the service type's own name (e.g. "_http._tcp.local"). It is created
// when the first ServiceEntry declares the type and freed when the last
// one referencing it is removed.
//
// Unlike HostEntry and ServiceEntry, a ServiceType's PTR is a shared
// (non-unique) record per RFC 6763 §9: it carries no cache-flush bit and
// is never probed, only announced and answered.
type ServiceType struct {
	typeName string
	refCount int

	state    State
	fireTime clock.Millis

	ptr  *records.RecordInfo
	nsec *records.RecordInfo
}

// NewServiceType returns a ServiceType with a zero refcount; call Retain
// to bring it into use.
func NewServiceType(typeName string) *ServiceType {
	return &ServiceType{
		typeName: typeName,
		ptr:      records.New(protocol.RecordTypePTR),
		nsec:     records.New(protocol.RecordTypeNSEC),
	}
}

// OwnedTypes returns every record type owned by the meta-name: only PTR,
// for NSEC bitmap construction (spec §4.5).
func (s *ServiceType) OwnedTypes() []protocol.RecordType {
	return []protocol.RecordType{protocol.RecordTypePTR}
}

// NSECTTL returns the NSEC record's configured TTL.
func (s *ServiceType) NSECTTL() uint32 { return s.nsec.TTL }

// NSECLastMulticast reports when the NSEC record was last multicast.
func (s *ServiceType) NSECLastMulticast(now clock.Millis) (clock.Millis, bool) {
	return s.nsec.LastMulticastKnown(now)
}

func (s *ServiceType) Name() string         { return dnsSDMetaName }
func (s *ServiceType) TypeName() string     { return s.typeName }
func (s *ServiceType) FireTime() clock.Millis { return s.fireTime }
func (s *ServiceType) State() State         { return s.state }
func (s *ServiceType) RefCount() int        { return s.refCount }

// Retain adds one reference. On the first reference it brings the meta-PTR
// into existence and schedules its initial announce.
func (s *ServiceType) Retain(now clock.Millis) {
	s.refCount++
	if s.refCount > 1 {
		return
	}
	s.ptr.SetPresent(protocol.TTLMeta)
	s.ptr.AnnounceCounter = 0
	s.nsec.SetPresent(protocol.TTLMeta)
	s.state = StateRegistered
	s.fireTime = now
}

// Release drops one reference, reporting true exactly when the last
// reference is gone and a goodbye should be sent before deletion.
func (s *ServiceType) Release(now clock.Millis) bool {
	if s.refCount == 0 {
		return false
	}
	s.refCount--
	if s.refCount > 0 {
		return false
	}
	s.state = StateRemoving
	s.fireTime = now
	return true
}

// ForceRemove transitions straight to Removing regardless of refcount,
// used only when the whole responder is shutting down and every entry
// must goodbye together.
func (s *ServiceType) ForceRemove(now clock.Millis) {
	s.state = StateRemoving
	s.fireTime = now
}

func (s *ServiceType) effectiveTTL() uint32 {
	if s.state == StateRemoving {
		return 0
	}
	return s.ptr.TTL
}

// AdvanceAnnounce schedules the type's next announce, per spec §3.
func (s *ServiceType) AdvanceAnnounce(now clock.Millis) {
	more := s.ptr.AdvanceAnnounce()
	if !more {
		return
	}
	gap := protocol.AnnounceInterval << uint(s.ptr.AnnounceCounter-1)
	s.fireTime = clock.Add(now, gap)
}

// ScheduleAnswer records a pending answer for the meta-PTR, per spec §4.3.
func (s *ServiceType) ScheduleAnswer(now clock.Millis, req records.AnswerRequest) {
	s.ptr.ScheduleAnswer(now, req)
	s.pullFireTime()
}

// ScheduleNSECAnswer records a pending negative answer for a query type
// this meta-name does not own, per spec §4.5.
func (s *ServiceType) ScheduleNSECAnswer(now clock.Millis, req records.AnswerRequest) {
	s.nsec.ScheduleAnswer(now, req)
	s.pullFireTime()
}

func (s *ServiceType) pullFireTime() {
	pull := func(r *records.RecordInfo) {
		if r.MulticastPending && clock.Before(r.MulticastAnswerTime, s.fireTime) {
			s.fireTime = r.MulticastAnswerTime
		}
		if r.UnicastPending && clock.Before(r.UnicastAnswerTime, s.fireTime) {
			s.fireTime = r.UnicastAnswerTime
		}
	}
	pull(s.ptr)
	pull(s.nsec)
}

// ResetAppendState clears the per-sweep append tracking on the meta-PTR and
// NSEC records.
func (s *ServiceType) ResetAppendState() {
	s.ptr.ResetAppendState()
	s.nsec.ResetAppendState()
}

// TTL returns the meta-PTR's configured TTL.
func (s *ServiceType) TTL() uint32 { return s.ptr.TTL }

// LastMulticast reports when the meta-PTR was last multicast.
func (s *ServiceType) LastMulticast(now clock.Millis) (clock.Millis, bool) {
	return s.ptr.LastMulticastKnown(now)
}

// PendingUnicastDest returns the destination of a still-pending unicast
// answer on the meta-PTR, or nil if none is pending.
func (s *ServiceType) PendingUnicastDest() *net.UDPAddr {
	if s.ptr.UnicastPending {
		return s.ptr.UnicastDest
	}
	if s.nsec.UnicastPending {
		return s.nsec.UnicastDest
	}
	return nil
}

// PrepareResponse writes the meta-PTR into b's answer section when
// announcing, answering, or sending a final goodbye, per spec §3, §8
// scenario 6.
func (s *ServiceType) PrepareResponse(b *txmsg.Builder, now clock.Millis, multicast bool) (bool, error) {
	goodbye := s.state == StateRemoving
	announcing := s.state == StateRegistered && multicast && !s.ptr.AnnounceDone()
	answering := s.ptr.ShouldAppendTo(multicast, now)
	nsecDue := !goodbye && s.nsec.ShouldAppendTo(multicast, now)

	if !goodbye && !announcing && !answering && !nsecDue {
		return false, nil
	}

	wrote := false

	if goodbye || announcing || answering {
		ttl := s.effectiveTTL()
		target := s.typeName
		if err := b.AppendRecord(txmsg.SectionAnswer, dnsSDMetaName, protocol.RecordTypePTR, protocol.ClassINet, false, ttl, func(buf *bytes.Buffer, off uint16) error {
			return wire.WritePTRData(buf, off, target, b.Cache())
		}); err != nil {
			return false, err
		}

		if announcing {
			s.AdvanceAnnounce(now)
		}
		if answering {
			s.ptr.UpdateStateAfterAnswer(multicast, now)
		}
		wrote = true
	}

	if nsecDue {
		section := txmsg.SectionAnswer
		if wrote {
			section = txmsg.SectionAdditional
		}
		if err := b.AppendRecord(section, dnsSDMetaName, protocol.RecordTypeNSEC, protocol.ClassINet, true, s.nsec.TTL, func(buf *bytes.Buffer, off uint16) error {
			return wire.WriteNSECData(buf, dnsSDMetaName, s.OwnedTypes())
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

	return wrote, nil
}
