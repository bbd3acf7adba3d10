package mdns

import (
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/entry"
	"github.com/nodegrove/mdns/internal/errors"
	"github.com/nodegrove/mdns/internal/history"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/records"
	"github.com/nodegrove/mdns/internal/rx"
	"github.com/nodegrove/mdns/internal/txmsg"
	"github.com/nodegrove/mdns/internal/wire"
)

// reasmDeadline is when a sender's buffered multi-packet query should be
// consolidated and processed, per spec §4.6.
type reasmDeadline struct {
	addr *net.UDPAddr
	at   clock.Millis
}

// state holds every piece of mutable responder data, owned exclusively by
// Core's event-loop goroutine (spec §5): no field here is ever touched
// from any other goroutine.
type state struct {
	core *Core

	hosts    map[string]*entry.HostEntry
	services map[string]*entry.ServiceEntry
	types    map[string]*entry.ServiceType

	history        *history.History
	historyTTL     time.Duration
	reasm          *rx.Reassembler
	reasmDeadlines map[string]reasmDeadline

	conflictCB ConflictCallback
	maxMsgSize int

	timer *clock.Timer

	// pendingCallbacks holds registration callbacks deferred off the
	// current exec() call, flushed at the start of the next sweep so they
	// always fire after Register* has returned to its caller.
	pendingCallbacks []func()
}

func newState(c *Core, historyTTL time.Duration) *state {
	return &state{
		core:           c,
		hosts:          make(map[string]*entry.HostEntry),
		services:       make(map[string]*entry.ServiceEntry),
		types:          make(map[string]*entry.ServiceType),
		history:        history.New(historyTTL),
		historyTTL:     historyTTL,
		reasm:          rx.NewReassembler(),
		reasmDeadlines: make(map[string]reasmDeadline),
		maxMsgSize:     c.maxMsgSize,
	}
}

// cancelAll implements the responder-wide Cancellation described in spec
// §5: every entry is dropped without invoking its pending registration
// callback and without a goodbye packet, every timer is cancelled, and
// the dedup history and multi-packet reassembly buffers are cleared.
// Unlike teardown, which retires entries gracefully on Close, this is a
// hard reset used when the responder is disabled.
func (s *state) cancelAll() {
	s.hosts = make(map[string]*entry.HostEntry)
	s.services = make(map[string]*entry.ServiceEntry)
	s.types = make(map[string]*entry.ServiceType)
	s.pendingCallbacks = nil

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.history = history.New(s.historyTTL)
	s.reasm = rx.NewReassembler()
	s.reasmDeadlines = make(map[string]reasmDeadline)
}

// deferCallback queues fn to run at the start of the next sweep, instead of
// invoking it inline on the event-loop goroutine that is still inside the
// exec() closure that scheduled it.
func (s *state) deferCallback(fn func()) {
	s.pendingCallbacks = append(s.pendingCallbacks, fn)
	s.reschedule()
}

func (s *state) flushPendingCallbacks() {
	if len(s.pendingCallbacks) == 0 {
		return
	}
	pending := s.pendingCallbacks
	s.pendingCallbacks = nil
	for _, fn := range pending {
		fn()
	}
}

// canonicalKey reduces name to its case-insensitive map key, per spec §4.6.
func canonicalKey(name string) string {
	labels := wire.CanonicalizeLabels(name)
	if len(labels) == 0 {
		return ""
	}
	out := labels[0]
	for _, l := range labels[1:] {
		out += "." + l
	}
	return out
}

// -- registration -----------------------------------------------------

func (s *state) registerHost(info HostInfo, id string, cb RegisterCallback) {
	now := s.core.clock.Now()
	key := canonicalKey(info.Name)

	if h, ok := s.hosts[key]; ok && h.State() != entry.StateConflict {
		h.Update(info.Addresses, info.TTL)
		if cb != nil {
			s.deferCallback(func() { cb(id, nil) })
		}
		s.reschedule()
		return
	}

	onRegister := func(err error) {
		if cb != nil {
			cb(id, err)
		}
	}
	onConflict := func() {
		if s.conflictCB != nil {
			s.conflictCB(info.Name, "")
		}
	}
	h := entry.NewHostEntry(info.Name, info.Addresses, info.TTL, onRegister, onConflict)
	h.StartProbing(now, probeJitter())
	s.hosts[key] = h
	s.reschedule()
}

// unregisterHost drops a registered host. A host that has already
// announced (Registered) is retired through the goodbye-sending Removing
// path; one still Probing or in Conflict has never claimed its records on
// the network, so it is dropped immediately without a multicast, per spec
// §5.
func (s *state) unregisterHost(name string) {
	key := canonicalKey(name)
	h, ok := s.hosts[key]
	if !ok {
		return
	}
	if h.State() == entry.StateRegistered {
		h.BeginRemoving(s.core.clock.Now())
	} else {
		delete(s.hosts, key)
	}
	s.reschedule()
}

func (s *state) registerService(info ServiceInfo, id string, cb RegisterCallback) {
	now := s.core.clock.Now()
	fullName := info.Instance + "." + info.Type
	key := canonicalKey(fullName)

	if sv, ok := s.services[key]; ok && sv.State() != entry.StateConflict {
		sv.Update(info.Port, info.Weight, info.Priority, info.TXT, info.TTL)
		s.syncSubTypes(sv, info.SubTypes, info.TTL, now)
		if cb != nil {
			s.deferCallback(func() { cb(id, nil) })
		}
		s.reschedule()
		return
	}

	onRegister := func(err error) {
		if cb != nil {
			cb(id, err)
		}
	}
	onConflict := func() {
		if s.conflictCB != nil {
			s.conflictCB(fullName, info.Type)
		}
	}
	sv := entry.NewServiceEntry(info.Instance, info.Type, info.Host, info.Port, info.Weight, info.Priority, info.TXT, info.TTL, onRegister, onConflict)
	for _, label := range info.SubTypes {
		sv.AddSubType(label, info.TTL)
	}
	sv.StartProbing(now, probeJitter())
	s.services[key] = sv
	s.retainServiceType(info.Type, now)
	s.reschedule()
}

func (s *state) syncSubTypes(sv *entry.ServiceEntry, labels []string, ttl uint32, now clock.Millis) {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	for _, existing := range sv.SubTypeLabels() {
		if !want[existing] {
			sv.RemoveSubType(now, existing)
		}
	}
	for _, l := range labels {
		if !sv.HasSubType(l) {
			sv.AddSubType(l, ttl)
		}
	}
}

// unregisterService drops a registered service instance, mirroring
// unregisterHost's Registered-vs-Probing/Conflict split. The service
// type's refcount is released either way, since it was retained
// unconditionally at registration time.
func (s *state) unregisterService(instance, serviceType string) {
	key := canonicalKey(instance + "." + serviceType)
	sv, ok := s.services[key]
	if !ok {
		return
	}
	now := s.core.clock.Now()
	if sv.State() == entry.StateRegistered {
		sv.BeginRemoving(now)
	} else {
		delete(s.services, key)
	}
	s.releaseServiceType(serviceType, now)
	s.reschedule()
}

// keyAnswerScheduler is implemented identically by *entry.HostEntry and
// *entry.ServiceEntry, letting registerKey's immediate-announce step avoid
// a per-type switch.
type keyAnswerScheduler interface {
	ScheduleKeyAnswer(now clock.Millis, req records.AnswerRequest)
}

func (s *state) registerKey(info KeyInfo, id string, cb RegisterCallback) {
	key := canonicalKey(info.Name)
	now := s.core.clock.Now()

	if h, ok := s.hosts[key]; ok {
		h.SetKey(info.Data, info.TTL)
		s.scheduleImmediateKeyAnswer(h, now)
		if cb != nil {
			s.deferCallback(func() { cb(id, nil) })
		}
		s.reschedule()
		return
	}
	for _, sv := range s.services {
		if canonicalKey(sv.Name()) == key {
			sv.SetKey(info.Data, info.TTL)
			s.scheduleImmediateKeyAnswer(sv, now)
			if cb != nil {
				s.deferCallback(func() { cb(id, nil) })
			}
			s.reschedule()
			return
		}
	}
	if cb != nil {
		err := &errors.ValidationError{Field: "name", Value: info.Name, Details: "not a registered host or service instance"}
		s.deferCallback(func() { cb(id, err) })
	}
}

func (s *state) scheduleImmediateKeyAnswer(e keyAnswerScheduler, now clock.Millis) {
	e.ScheduleKeyAnswer(now, records.AnswerRequest{AnswerTime: now, Unicast: false})
}

// unregisterKey drops name's KEY record. It does not send a goodbye for
// the KEY record first — an accepted simplification given how rarely KEY
// records are removed independently of their owning host or instance.
func (s *state) unregisterKey(name string) {
	key := canonicalKey(name)
	if h, ok := s.hosts[key]; ok {
		h.ClearKey()
		return
	}
	for _, sv := range s.services {
		if canonicalKey(sv.Name()) == key {
			sv.ClearKey()
			return
		}
	}
}

func (s *state) retainServiceType(typeName string, now clock.Millis) {
	key := canonicalKey(typeName)
	st, ok := s.types[key]
	if !ok {
		st = entry.NewServiceType(typeName)
		s.types[key] = st
	}
	st.Retain(now)
}

func (s *state) releaseServiceType(typeName string, now clock.Millis) {
	if st, ok := s.types[canonicalKey(typeName)]; ok {
		st.Release(now)
	}
}

func probeJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(protocol.ProbeInitialDelayMax)))
}

// -- scheduling ---------------------------------------------------------

// scheduleSweep arms the timer to run a sweep at fireAt, forwarding the
// fire through the command channel per clock.Clock.AfterFunc's contract
// (its callback must not mutate state directly).
func (s *state) scheduleSweep(fireAt clock.Millis) {
	now := s.core.clock.Now()
	d := clock.Diff(fireAt, now)
	if d < 0 {
		d = 0
	}
	core := s.core
	s.timer = core.clock.AfterFunc(d, func() {
		select {
		case core.cmds <- func(st *state) { st.runSweep() }:
		case <-core.stopCh:
		}
	})
}

func (s *state) reschedule() {
	if s.timer != nil {
		s.timer.Stop()
	}
	fireAt, ok := s.nextFireTime()
	if !ok {
		return
	}
	s.scheduleSweep(fireAt)
}

func (s *state) nextFireTime() (clock.Millis, bool) {
	var best clock.Millis
	found := false
	consider := func(t clock.Millis) {
		if !found || clock.Before(t, best) {
			best = t
			found = true
		}
	}
	if len(s.pendingCallbacks) > 0 {
		consider(s.core.clock.Now())
	}
	for _, h := range s.hosts {
		consider(h.FireTime())
	}
	for _, sv := range s.services {
		consider(sv.FireTime())
	}
	for _, st := range s.types {
		consider(st.FireTime())
	}
	for _, d := range s.reasmDeadlines {
		consider(d.at)
	}
	return best, found
}

func (s *state) runSweep() {
	s.flushPendingCallbacks()
	if !s.core.enabled.Load() {
		s.reschedule()
		return
	}
	s.sweep(s.core.clock.Now())
	s.reschedule()
}

// sweep is the periodic tick driving every entry's probe/announce/answer
// state machine one step forward, per spec §4.8.
func (s *state) sweep(now clock.Millis) {
	s.processReassemblyDeadlines(now)

	for _, h := range s.hosts {
		h.ResetAppendState()
	}
	for _, sv := range s.services {
		sv.ResetAppendState()
	}
	for _, st := range s.types {
		st.ResetAppendState()
	}

	var probeMsgs, respMsgs []*txmsg.Builder

	for key, h := range s.hosts {
		if s.stepHost(h, now, &probeMsgs, &respMsgs) {
			delete(s.hosts, key)
		}
	}
	for key, sv := range s.services {
		if s.stepService(sv, now, &probeMsgs, &respMsgs) {
			delete(s.services, key)
		}
	}
	for key, st := range s.types {
		if s.stepServiceType(st, now, &respMsgs) {
			delete(s.types, key)
		}
	}

	if len(probeMsgs) > 1 {
		for _, b := range probeMsgs[:len(probeMsgs)-1] {
			b.SetTruncated(true)
		}
	}
	for _, b := range probeMsgs {
		s.send(b)
	}
	for _, b := range respMsgs {
		s.send(b)
	}

	s.handleUnicast(now)
}

func (s *state) stepHost(h *entry.HostEntry, now clock.Millis, probeMsgs, respMsgs *[]*txmsg.Builder) (remove bool) {
	for i := 0; i < 2 && !clock.Before(now, h.FireTime()); i++ {
		switch h.State() {
		case entry.StateProbing:
			s.appendWithSplit(probeMsgs, txmsg.MulticastProbe, func(b *txmsg.Builder) (bool, error) {
				err := h.PrepareProbe(b, s.core.quAllowed.Load())
				return err == nil, err
			})
			if h.AdvanceProbe(now) {
				h.NotifyRegistered(nil)
			}
		case entry.StateRegistered:
			s.appendWithSplit(respMsgs, txmsg.MulticastResponse, func(b *txmsg.Builder) (bool, error) {
				return h.PrepareResponse(b, now, true)
			})
			return false
		case entry.StateRemoving:
			s.appendWithSplit(respMsgs, txmsg.MulticastResponse, func(b *txmsg.Builder) (bool, error) {
				return h.PrepareResponse(b, now, true)
			})
			return true
		case entry.StateConflict:
			return true
		}
	}
	return false
}

func (s *state) stepService(sv *entry.ServiceEntry, now clock.Millis, probeMsgs, respMsgs *[]*txmsg.Builder) (remove bool) {
	for i := 0; i < 2 && !clock.Before(now, sv.FireTime()); i++ {
		switch sv.State() {
		case entry.StateProbing:
			s.appendWithSplit(probeMsgs, txmsg.MulticastProbe, func(b *txmsg.Builder) (bool, error) {
				err := sv.PrepareProbe(b, s.core.quAllowed.Load())
				return err == nil, err
			})
			if sv.AdvanceProbe(now) {
				sv.NotifyRegistered(nil)
			}
		case entry.StateRegistered:
			s.appendWithSplit(respMsgs, txmsg.MulticastResponse, func(b *txmsg.Builder) (bool, error) {
				return sv.PrepareResponse(b, now, true)
			})
			return false
		case entry.StateRemoving:
			s.appendWithSplit(respMsgs, txmsg.MulticastResponse, func(b *txmsg.Builder) (bool, error) {
				return sv.PrepareResponse(b, now, true)
			})
			return true
		case entry.StateConflict:
			return true
		}
	}
	return false
}

func (s *state) stepServiceType(st *entry.ServiceType, now clock.Millis, respMsgs *[]*txmsg.Builder) (remove bool) {
	if clock.Before(now, st.FireTime()) {
		return false
	}
	switch st.State() {
	case entry.StateRegistered:
		s.appendWithSplit(respMsgs, txmsg.MulticastResponse, func(b *txmsg.Builder) (bool, error) {
			return st.PrepareResponse(b, now, true)
		})
		return false
	case entry.StateRemoving:
		s.appendWithSplit(respMsgs, txmsg.MulticastResponse, func(b *txmsg.Builder) (bool, error) {
			return st.PrepareResponse(b, now, true)
		})
		return true
	}
	return false
}

// appendWithSplit attempts write against the current (or a freshly
// started) message in msgs, rolling back and starting a new physical
// message if the append would exceed the size limit, per spec §4.2.
func (s *state) appendWithSplit(msgs *[]*txmsg.Builder, msgType txmsg.Type, write func(b *txmsg.Builder) (bool, error)) {
	if len(*msgs) == 0 {
		*msgs = append(*msgs, txmsg.New(msgType, s.maxMsgSize))
	}
	cur := (*msgs)[len(*msgs)-1]
	wasEmpty := cur.IsEmpty()
	saved := cur.SaveCurrentState()

	wrote, err := write(cur)
	if err != nil {
		s.core.logger.Warn("failed to build outbound record", zap.Error(err))
		return
	}
	if wrote && cur.ExceedsLimit() && !wasEmpty {
		cur.Restore(saved)
		next := txmsg.New(msgType, s.maxMsgSize)
		*msgs = append(*msgs, next)
		if _, err := write(next); err != nil {
			s.core.logger.Warn("failed to build outbound record", zap.Error(err))
		}
	}
}

// handleUnicast sends any per-entry pending unicast answers accumulated
// during this sweep's ScheduleAnswer calls, per spec §4.3.
func (s *state) handleUnicast(now clock.Millis) {
	for _, h := range s.hosts {
		s.sendUnicastIfPending(h.PendingUnicastDest(), now, h.PrepareResponse)
	}
	for _, sv := range s.services {
		s.sendUnicastIfPending(sv.PendingUnicastDest(), now, sv.PrepareResponse)
	}
	for _, st := range s.types {
		s.sendUnicastIfPending(st.PendingUnicastDest(), now, st.PrepareResponse)
	}
}

func (s *state) sendUnicastIfPending(dest *net.UDPAddr, now clock.Millis, prepare func(b *txmsg.Builder, now clock.Millis, multicast bool) (bool, error)) {
	if dest == nil {
		return
	}
	b := txmsg.New(txmsg.UnicastResponse, s.maxMsgSize)
	b.SetDest(dest)
	wrote, err := prepare(b, now, false)
	if err != nil {
		s.core.logger.Warn("failed to build unicast response", zap.Error(err))
		return
	}
	if wrote {
		s.send(b)
	}
}

func (s *state) send(b *txmsg.Builder) {
	if b.IsEmpty() {
		return
	}
	data := b.Finalize()
	var err error
	if dest := b.Dest(); dest != nil {
		err = s.core.sock.SendUnicast(data, dest)
	} else {
		err = s.core.sock.SendMulticast(data)
	}
	if err != nil {
		s.core.logger.Warn("send failed", zap.Error(err))
		return
	}
	s.history.Record(data)
}

// teardown sends a final goodbye for every entry still registered before
// Close returns.
func (s *state) teardown() {
	now := s.core.clock.Now()
	for _, h := range s.hosts {
		if h.State() != entry.StateRemoving {
			h.BeginRemoving(now)
		}
	}
	for _, sv := range s.services {
		if sv.State() != entry.StateRemoving {
			sv.BeginRemoving(now)
		}
	}
	for _, st := range s.types {
		st.ForceRemove(now)
	}
	s.sweep(now)
	if s.timer != nil {
		s.timer.Stop()
	}
}
