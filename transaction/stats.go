package transaction

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/ghettovoice/siptx/sip"
)

// Stats receives transaction layer events for accounting.
// Implementations must be safe for concurrent use and must not block.
type Stats interface {
	TransactionCreated(role Role, method sip.Method)
	TransactionTerminated(role Role, method sip.Method, reason Reason)
	StateChanged(role Role, from, to State)
	MessageRetransmitted(role Role, method sip.Method)
	MessageIgnored(role Role, method sip.Method)
}

type noopStats struct{}

func (noopStats) TransactionCreated(Role, sip.Method) {}
func (noopStats) TransactionTerminated(Role, sip.Method, Reason) {}
func (noopStats) StateChanged(Role, State, State) {}
func (noopStats) MessageRetransmitted(Role, sip.Method) {}
func (noopStats) MessageIgnored(Role, sip.Method) {}

// StatsRecorder is an in-memory [Stats] implementation.
// The zero value is ready to use.
type StatsRecorder struct {
	clientInvite, clientGeneral atomic.Int64
	serverInvite, serverGeneral atomic.Int64
	created, terminated         atomic.Uint64
	retransmits, ignored        atomic.Uint64
	reasons                     sync.Map // Reason -> *atomic.Uint64
}

func (s *StatsRecorder) live(role Role, method sip.Method) *atomic.Int64 {
	switch {
	case role == RoleUAC && method == sip.MethodInvite:
		return &s.clientInvite
	case role == RoleUAC:
		return &s.clientGeneral
	case method == sip.MethodInvite:
		return &s.serverInvite
	default:
		return &s.serverGeneral
	}
}

func (s *StatsRecorder) TransactionCreated(role Role, method sip.Method) {
	s.created.Add(1)
	s.live(role, method).Add(1)
}

func (s *StatsRecorder) TransactionTerminated(role Role, method sip.Method, reason Reason) {
	s.terminated.Add(1)
	s.live(role, method).Add(-1)
	v, _ := s.reasons.LoadOrStore(reason, new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1) //nolint:forcetypeassert
}

func (*StatsRecorder) StateChanged(Role, State, State) {}

func (s *StatsRecorder) MessageRetransmitted(Role, sip.Method) { s.retransmits.Add(1) }

func (s *StatsRecorder) MessageIgnored(Role, sip.Method) { s.ignored.Add(1) }

// StatsReport is a point-in-time snapshot of a [StatsRecorder].
type StatsReport struct {
	LiveClientInvite  int64             `json:"live_client_invite"`
	LiveClientGeneral int64             `json:"live_client_general"`
	LiveServerInvite  int64             `json:"live_server_invite"`
	LiveServerGeneral int64             `json:"live_server_general"`
	Created           uint64            `json:"created"`
	Terminated        uint64            `json:"terminated"`
	Retransmits       uint64            `json:"retransmits"`
	Ignored           uint64            `json:"ignored"`
	TerminatedBy      map[Reason]uint64 `json:"terminated_by,omitempty"`
}

// Live returns the number of live transactions.
func (r StatsReport) Live() int64 {
	return r.LiveClientInvite + r.LiveClientGeneral + r.LiveServerInvite + r.LiveServerGeneral
}

func (r StatsReport) MarshalIndent() ([]byte, error) {
	return errtrace.Wrap2(json.MarshalIndent(r, "", "  "))
}

// Report returns a snapshot of the counters.
func (s *StatsRecorder) Report() StatsReport {
	r := StatsReport{
		LiveClientInvite:  s.clientInvite.Load(),
		LiveClientGeneral: s.clientGeneral.Load(),
		LiveServerInvite:  s.serverInvite.Load(),
		LiveServerGeneral: s.serverGeneral.Load(),
		Created:           s.created.Load(),
		Terminated:        s.terminated.Load(),
		Retransmits:       s.retransmits.Load(),
		Ignored:           s.ignored.Load(),
	}
	s.reasons.Range(func(k, v any) bool {
		if r.TerminatedBy == nil {
			r.TerminatedBy = make(map[Reason]uint64)
		}
		r.TerminatedBy[k.(Reason)] = v.(*atomic.Uint64).Load() //nolint:forcetypeassert
		return true
	})
	return r
}

// MultiStats fans events out to several sinks.
type MultiStats []Stats

func (m MultiStats) TransactionCreated(role Role, method sip.Method) {
	for _, s := range m {
		s.TransactionCreated(role, method)
	}
}

func (m MultiStats) TransactionTerminated(role Role, method sip.Method, reason Reason) {
	for _, s := range m {
		s.TransactionTerminated(role, method, reason)
	}
}

func (m MultiStats) StateChanged(role Role, from, to State) {
	for _, s := range m {
		s.StateChanged(role, from, to)
	}
}

func (m MultiStats) MessageRetransmitted(role Role, method sip.Method) {
	for _, s := range m {
		s.MessageRetransmitted(role, method)
	}
}

func (m MultiStats) MessageIgnored(role Role, method sip.Method) {
	for _, s := range m {
		s.MessageIgnored(role, method)
	}
}
