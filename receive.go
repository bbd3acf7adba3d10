package mdns

import (
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/entry"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/records"
	"github.com/nodegrove/mdns/internal/rx"
	"github.com/nodegrove/mdns/internal/wire"
)

// handleReceive is the transport.ReceiveFunc callback: it runs on the
// socket's own read goroutine and does nothing but hand the datagram off
// to the event loop, per spec §5.
func (c *Core) handleReceive(packet []byte, unicast bool, sender *net.UDPAddr, ifIndex int) {
	if !c.enabled.Load() {
		return
	}
	select {
	case c.cmds <- func(s *state) { s.onReceive(packet, unicast, sender) }:
	case <-c.stopCh:
	}
}

func senderKey(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

func (s *state) onReceive(data []byte, unicast bool, sender *net.UDPAddr) {
	if s.history.Contains(data) {
		return
	}
	msg, err := rx.Parse(data, unicast, sender)
	if err != nil {
		s.core.logger.Debug("dropping malformed datagram", zap.Error(err))
		return
	}

	now := s.core.clock.Now()

	if msg.Header.TC && msg.IsQuery() {
		s.reasm.Enqueue(msg)
		key := senderKey(msg.Sender)
		if _, ok := s.reasmDeadlines[key]; !ok {
			s.reasmDeadlines[key] = reasmDeadline{addr: msg.Sender, at: clock.Add(now, rx.ProcessDelay())}
		}
		s.reschedule()
		return
	}

	s.processMessage(msg, nil, now)
	s.reschedule()
}

// processReassemblyDeadlines consolidates and processes every sender's
// buffered multi-packet query whose process delay has elapsed, per spec
// §4.6.
func (s *state) processReassemblyDeadlines(now clock.Millis) {
	for key, d := range s.reasmDeadlines {
		if clock.Before(now, d.at) {
			continue
		}
		delete(s.reasmDeadlines, key)
		msgs := s.reasm.Drain(d.addr)
		if len(msgs) == 0 {
			continue
		}
		known := rx.MergedKnownAnswers(msgs)
		for _, m := range msgs {
			s.processMessage(m, known, now)
		}
	}
}

// processMessage dispatches one parsed datagram: a response is checked
// for conflicts against our own Probing/Registered entries, a query's
// questions are matched against our entry tables. extraKnown carries known
// answers merged in from a multi-packet query's earlier fragments.
func (s *state) processMessage(msg *rx.Message, extraKnown []rx.Record, now clock.Millis) {
	if msg.IsResponse() {
		s.handleResponse(msg, now)
		return
	}
	if !msg.IsQuery() {
		return
	}
	for _, q := range msg.Questions {
		s.handleQuestion(msg, q, extraKnown, now)
	}
}

// handleResponse looks for another responder asserting different data for
// a name we are Probing or already hold Registered, per RFC 6762 §9.
func (s *state) handleResponse(msg *rx.Message, now clock.Millis) {
	for _, rec := range msg.Answers {
		key := canonicalKey(rec.Name)

		if h, ok := s.hosts[key]; ok && active(h.State()) && rec.Type == protocol.RecordTypeAAAA && len(rec.RData) == 16 {
			var addr [16]byte
			copy(addr[:], rec.RData)
			if !h.MatchesAddress(addr) {
				h.HandleConflictingAnswer()
			}
		}

		if sv, ok := s.services[key]; ok && active(sv.State()) && rec.Type == protocol.RecordTypeSRV && rec.SRV != nil {
			priority, weight, port, target := sv.SRVFields()
			if priority != rec.SRV.Priority || weight != rec.SRV.Weight || port != rec.SRV.Port || !strings.EqualFold(target, rec.SRV.Target) {
				sv.HandleConflictingAnswer()
			}
		}
	}
}

func active(st entry.State) bool {
	return st == entry.StateProbing || st == entry.StateRegistered
}

// handleQuestion matches one question against every table it could name:
// exact host names, service instance names, service type PTRs, and
// sub-type PTRs. A probe (msg carries authority records for the name)
// triggers the probe tiebreak instead of an answer.
func (s *state) handleQuestion(msg *rx.Message, q wire.Question, extraKnown []rx.Record, now clock.Millis) {
	key := canonicalKey(q.Name)

	if h, ok := s.hosts[key]; ok {
		s.matchHost(msg, q, h, extraKnown, now)
	}
	if sv, ok := s.services[key]; ok {
		s.matchService(msg, q, sv, extraKnown, now)
	}
	if st, ok := s.types[key]; ok {
		s.matchServiceType(msg, q, st, now)
	}
	for _, sv := range s.services {
		for _, label := range sv.SubTypeLabels() {
			if canonicalKey(label+"._sub."+sv.ServiceType()) == key {
				s.matchSubType(msg, q, sv, label, extraKnown, now)
			}
		}
	}
}

func questionMatchesType(q wire.Question, t protocol.RecordType) bool {
	return q.Type == protocol.RecordTypeANY || q.Type == t
}

func (s *state) matchHost(msg *rx.Message, q wire.Question, h *entry.HostEntry, extraKnown []rx.Record, now clock.Millis) {
	if msg.IsProbeFor(h.Name()) {
		if !questionMatchesType(q, protocol.RecordTypeAAAA) {
			return
		}
		switch h.State() {
		case entry.StateProbing:
			peer := toProposed(msg.ProposedRecordsFor(h.Name()))
			h.HandleProbeTiebreak(now, peer)
		case entry.StateRegistered:
			// Defend: a peer is probing for a name we already hold, so
			// answer immediately rather than waiting for the random
			// answer delay, per RFC 6762 §8.1.
			h.ScheduleAnswer(now, records.AnswerRequest{AnswerTime: rx.AnswerTime(now, rx.ProbeAnswerDelay())})
		}
		return
	}

	if h.State() != entry.StateRegistered {
		return
	}

	switch {
	case questionMatchesType(q, protocol.RecordTypeAAAA):
		known := append(append([]rx.Record{}, msg.AnswersFor(h.Name())...), filterByName(extraKnown, h.Name())...)
		if suppressesAnyAddress(h, known) {
			return
		}
		req := s.answerRequest(q, now, msg.Sender, false, h.LastMulticast, h.TTL())
		h.ScheduleAnswer(now, req)
	case q.Type == protocol.RecordTypeKEY && h.HasKey():
		req := s.answerRequest(q, now, msg.Sender, false, h.KeyLastMulticast, h.KeyTTL())
		h.ScheduleKeyAnswer(now, req)
	default:
		req := s.answerRequest(q, now, msg.Sender, false, h.NSECLastMulticast, h.NSECTTL())
		h.ScheduleNSECAnswer(now, req)
	}
}

func suppressesAnyAddress(h *entry.HostEntry, known []rx.Record) bool {
	for _, k := range known {
		if k.Type != protocol.RecordTypeAAAA || len(k.RData) != 16 {
			continue
		}
		var addr [16]byte
		copy(addr[:], k.RData)
		if h.MatchesAddress(addr) && rx.SuppressesRaw(h.TTL(), k.RData, k.TTL, k.RData) {
			return true
		}
	}
	return false
}

func (s *state) matchService(msg *rx.Message, q wire.Question, sv *entry.ServiceEntry, extraKnown []rx.Record, now clock.Millis) {
	name := sv.Name()

	if msg.IsProbeFor(name) {
		switch sv.State() {
		case entry.StateProbing:
			peer := toProposed(msg.ProposedRecordsFor(name))
			sv.HandleProbeTiebreak(now, peer)
		case entry.StateRegistered:
			sv.ScheduleAnswer(now, protocol.RecordTypeANY, records.AnswerRequest{AnswerTime: rx.AnswerTime(now, rx.ProbeAnswerDelay())})
		}
		return
	}

	if sv.State() != entry.StateRegistered {
		return
	}

	known := append(append([]rx.Record{}, msg.AnswersFor(name)...), filterByName(extraKnown, name)...)

	typeOwned := false

	if questionMatchesType(q, protocol.RecordTypeSRV) {
		typeOwned = true
		if !suppressesSRV(sv, known) {
			req := s.answerRequest(q, now, msg.Sender, false, func(n clock.Millis) (clock.Millis, bool) { return sv.LastMulticast(n, protocol.RecordTypeSRV) }, sv.TTLFor(protocol.RecordTypeSRV))
			sv.ScheduleAnswer(now, protocol.RecordTypeSRV, req)
		}
	}
	if questionMatchesType(q, protocol.RecordTypeTXT) {
		typeOwned = true
		if !suppressesRawText(sv, known) {
			req := s.answerRequest(q, now, msg.Sender, false, func(n clock.Millis) (clock.Millis, bool) { return sv.LastMulticast(n, protocol.RecordTypeTXT) }, sv.TTLFor(protocol.RecordTypeTXT))
			sv.ScheduleAnswer(now, protocol.RecordTypeTXT, req)
		}
	}
	if questionMatchesType(q, protocol.RecordTypePTR) {
		typeOwned = true
		if !suppressesInstancePTR(sv, known) {
			req := s.answerRequest(q, now, msg.Sender, true, func(n clock.Millis) (clock.Millis, bool) { return sv.LastMulticast(n, protocol.RecordTypePTR) }, sv.TTLFor(protocol.RecordTypePTR))
			sv.ScheduleAnswer(now, protocol.RecordTypePTR, req)
		}
	}
	if q.Type == protocol.RecordTypeKEY && sv.HasKey() {
		typeOwned = true
		req := s.answerRequest(q, now, msg.Sender, false, sv.KeyLastMulticast, sv.KeyTTL())
		sv.ScheduleKeyAnswer(now, req)
	}

	if !typeOwned {
		req := s.answerRequest(q, now, msg.Sender, false, sv.NSECLastMulticast, sv.NSECTTL())
		sv.ScheduleNSECAnswer(now, req)
	}
}

func suppressesSRV(sv *entry.ServiceEntry, known []rx.Record) bool {
	priority, weight, port, target := sv.SRVFields()
	local := rx.SRVFields{Priority: priority, Weight: weight, Port: port, Target: target}
	for _, k := range known {
		if k.Type != protocol.RecordTypeSRV || k.SRV == nil {
			continue
		}
		peer := rx.SRVFields{Priority: k.SRV.Priority, Weight: k.SRV.Weight, Port: k.SRV.Port, Target: k.SRV.Target}
		if rx.SuppressesSRV(sv.TTLFor(protocol.RecordTypeSRV), local, k.TTL, peer) {
			return true
		}
	}
	return false
}

// suppressesRawText never suppresses: TXT known-answer suppression would
// require re-encoding our current TXT set to byte-compare against the
// peer's raw rdata, which is not worth the extra encode on every matched
// query. Skipping suppression only costs an occasional redundant TXT
// multicast, not correctness.
func suppressesRawText(sv *entry.ServiceEntry, known []rx.Record) bool {
	return false
}

func suppressesInstancePTR(sv *entry.ServiceEntry, known []rx.Record) bool {
	name := sv.Name()
	for _, k := range known {
		if k.Type != protocol.RecordTypePTR {
			continue
		}
		if rx.SuppressesPTR(sv.TTLFor(protocol.RecordTypePTR), name, k.TTL, k.PTRTarget) {
			return true
		}
	}
	return false
}

func (s *state) matchServiceType(msg *rx.Message, q wire.Question, st *entry.ServiceType, now clock.Millis) {
	if st.State() != entry.StateRegistered {
		return
	}
	if !questionMatchesType(q, protocol.RecordTypePTR) {
		req := s.answerRequest(q, now, msg.Sender, false, st.NSECLastMulticast, st.NSECTTL())
		st.ScheduleNSECAnswer(now, req)
		return
	}
	known := msg.AnswersFor(st.Name())
	for _, k := range known {
		if k.Type == protocol.RecordTypePTR && rx.SuppressesPTR(st.TTL(), st.TypeName(), k.TTL, k.PTRTarget) {
			return
		}
	}
	req := s.answerRequest(q, now, msg.Sender, true, st.LastMulticast, st.TTL())
	st.ScheduleAnswer(now, req)
}

func (s *state) matchSubType(msg *rx.Message, q wire.Question, sv *entry.ServiceEntry, label string, extraKnown []rx.Record, now clock.Millis) {
	if !questionMatchesType(q, protocol.RecordTypePTR) || sv.State() != entry.StateRegistered {
		return
	}
	subName := label + "._sub." + sv.ServiceType()
	known := append(append([]rx.Record{}, msg.AnswersFor(subName)...), filterByName(extraKnown, subName)...)
	for _, k := range known {
		if k.Type == protocol.RecordTypePTR && rx.SuppressesPTR(sv.SubTypeTTL(label), sv.Name(), k.TTL, k.PTRTarget) {
			return
		}
	}
	req := s.answerRequest(q, now, msg.Sender, true, func(n clock.Millis) (clock.Millis, bool) { return sv.SubTypeLastMulticast(n, label) }, sv.SubTypeTTL(label))
	sv.ScheduleSubTypeAnswer(now, label, req)
}

// answerRequest computes the randomized delay and QU/multicast decision
// for one matched question, per spec §4.6.
func (s *state) answerRequest(q wire.Question, now clock.Millis, sender *net.UDPAddr, shared bool, lastMulticast func(clock.Millis) (clock.Millis, bool), ttl uint32) records.AnswerRequest {
	last, valid := lastMulticast(now)
	unicast := rx.QUDecision(q.QU, s.core.quAllowed.Load(), now, last, valid, ttl)

	var delay time.Duration
	switch {
	case shared:
		delay = rx.SharedAnswerDelay()
	default:
		delay = rx.UniqueAnswerDelay()
	}

	req := records.AnswerRequest{AnswerTime: rx.AnswerTime(now, delay), Unicast: unicast}
	if unicast {
		req.Dest = sender
	}
	return req
}

func toProposed(triples []rx.ProposedTriple) []entry.ProposedRecord {
	out := make([]entry.ProposedRecord, len(triples))
	for i, t := range triples {
		out[i] = entry.ProposedRecord{Class: t.Class, Type: t.Type, RData: t.RData}
	}
	return out
}

func filterByName(recs []rx.Record, name string) []rx.Record {
	if len(recs) == 0 {
		return nil
	}
	target := canonicalKey(name)
	var out []rx.Record
	for _, r := range recs {
		if canonicalKey(r.Name) == target {
			out = append(out, r)
		}
	}
	return out
}
