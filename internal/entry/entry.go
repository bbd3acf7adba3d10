// Package entry implements the per-name lifecycle state machines —
// HostEntry, ServiceEntry, and ServiceType — that own a registered name's
// records and drive it through Probing, Registered, Conflict, and
// Removing, per spec §3 and §4.4.
//
// Rather than the source's inheritance-based Entry/HostEntry/ServiceEntry
// hierarchy (spec §9, "Polymorphic entry dispatch"), HostEntry and
// ServiceEntry are two independent types sharing no base struct; the
// scheduler (top-level package) dispatches to each through the small
// capability set below instead of a common supertype.
package entry

import (
	"github.com/nodegrove/mdns/internal/clock"
	"github.com/nodegrove/mdns/internal/protocol"
	"github.com/nodegrove/mdns/internal/records"
)

// State is a registered name's lifecycle stage, per spec §3.
type State int

const (
	StateProbing State = iota
	StateRegistered
	StateConflict
	StateRemoving
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "Probing"
	case StateRegistered:
		return "Registered"
	case StateConflict:
		return "Conflict"
	case StateRemoving:
		return "Removing"
	default:
		return "Unknown"
	}
}

// Callback reports the outcome of a registration: nil on success, or
// *errors.DuplicateError if a conflicting name was claimed by a peer
// during probing (spec §7).
type Callback func(err error)

// KeyState is the optional KEY record an entry (host or service instance)
// may carry, per spec §3 ("optional KEY record") and the source's
// otMdnsKey, which can target either a host or a service instance by name
// (SUPPLEMENTED FEATURES: dual-targeting KEY records).
type KeyState struct {
	Record *records.RecordInfo
	Data   []byte
}

// newKeyState returns a present KEY RecordInfo carrying data.
func newKeyState(data []byte, ttl uint32) *KeyState {
	r := records.New(protocol.RecordTypeKEY)
	r.SetPresent(ttl)
	return &KeyState{Record: r, Data: data}
}

// Capability is the small trait the scheduler drives every owned entry
// through each sweep, in place of virtual dispatch (spec §9).
type Capability interface {
	// Name returns the entry's fully-qualified owner name, used for
	// matching inbound questions and for logging.
	Name() string

	// FireTime returns the entry's next scheduled action.
	FireTime() clock.Millis

	// State returns the entry's current lifecycle stage.
	State() State
}
