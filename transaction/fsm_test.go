package transaction

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ghettovoice/siptx/sip"
)

var fsmTestEnv = Env{
	Timings:           sip.NewTimings(100*time.Millisecond, 400*time.Millisecond, 500*time.Millisecond, time.Second),
	ProceedingTimeout: time.Minute,
}

var allTimers = []TimerKind{
	TimerRetransmit, TimerTimeout, TimerLinger, TimerProvisional, TimerReliableRetransmit, TimerPrack,
}

// stateMethods returns the methods a transaction in the state can have.
func stateMethods(st State) []sip.Method {
	name := string(st)
	switch {
	case st == StateIdle || st == StateTerminated:
		return []sip.Method{sip.MethodInvite, sip.MethodCancel, sip.MethodPrack, sip.MethodOptions}
	case strings.HasPrefix(name, "Invite"):
		return []sip.Method{sip.MethodInvite}
	case strings.HasPrefix(name, "Cancel"):
		return []sip.Method{sip.MethodCancel}
	case strings.HasPrefix(name, "Prack"):
		return []sip.Method{sip.MethodPrack}
	default:
		return []sip.Method{sip.MethodOptions, sip.MethodPrack}
	}
}

func isProxyState(st State) bool {
	return st == StateInviteProxy2xxRcvd || st == StateInviteProxy2xxResponseSent
}

func uacEvents(st State) []Event {
	var evs []Event
	for _, m := range stateMethods(st) {
		for _, proxy := range []bool{false, true} {
			if isProxyState(st) && !proxy {
				continue
			}
			add := func(ev Event) {
				ev.Method, ev.Proxy = m, proxy
				evs = append(evs, ev)
			}
			add(Event{Kind: EventTerminate})
			add(Event{Kind: EventSendRequest})
			add(Event{Kind: EventSendAck})
			add(Event{Kind: EventSendCancel})
			add(Event{Kind: EventRecvProvisional, Code: 180})
			for _, code := range []int{200, 486} {
				add(Event{Kind: EventRecvFinal, Code: code})
				add(Event{Kind: EventRecvFinal, Code: code, AckSent: true})
			}
			for _, k := range allTimers {
				add(Event{Kind: EventTimer, Timer: k, Interval: time.Second})
			}
		}
	}
	return evs
}

func uasEvents(st State) []Event {
	var evs []Event
	for _, m := range stateMethods(st) {
		for _, proxy := range []bool{false, true} {
			if isProxyState(st) && !proxy {
				continue
			}
			add := func(ev Event) {
				ev.Proxy = proxy
				if ev.Method == "" {
					ev.Method = m
				}
				evs = append(evs, ev)
			}
			add(Event{Kind: EventTerminate})
			for _, rm := range []sip.Method{sip.MethodInvite, sip.MethodAck, sip.MethodCancel, sip.MethodPrack, sip.MethodOptions} {
				add(Event{Kind: EventRecvRequest, Method: rm})
				add(Event{Kind: EventRecvRequest, Method: rm, Reliable: true})
			}
			add(Event{Kind: EventRecvAck})
			for _, code := range []int{100, 180, 200, 486} {
				add(Event{Kind: EventSendResponse, Code: code})
				add(Event{Kind: EventSendResponse, Code: code, Reliable: true})
			}
			add(Event{Kind: EventRecvPrack})
			add(Event{Kind: EventPrackAnswered})
			for _, k := range allTimers {
				add(Event{Kind: EventTimer, Timer: k, Interval: time.Second})
			}
		}
	}
	return evs
}

func permittedMove(role Role, from, to State) bool {
	if to == StateTerminated {
		return from != StateTerminated
	}
	return slices.Contains(movesOf(role)[from], to)
}

func TestMoves_CoverTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		role    Role
		states  []State
		events  func(State) []Event
		transit func(State, Event, Env) (Transition, error)
	}{
		{RoleUAC, UACStates, uacEvents, TransitUAC},
		{RoleUAS, UASStates, uasEvents, TransitUAS},
	}
	for _, c := range cases {
		t.Run(string(c.role), func(t *testing.T) {
			t.Parallel()

			for _, st := range c.states {
				for _, ev := range c.events(st) {
					tr, err := c.transit(st, ev, fsmTestEnv)
					if err != nil || !tr.Changed() {
						continue
					}
					if !permittedMove(c.role, tr.From, tr.To) {
						t.Errorf("%s move %q -> %q on %+v is not permitted", c.role, tr.From, tr.To, ev)
					}
				}
			}
		})
	}
}

func TestInitFSM_RejectsUndeclaredMoves(t *testing.T) {
	t.Parallel()

	cases := []struct {
		role     Role
		from, to State
		want     bool
	}{
		{RoleUAC, StateIdle, StateInviteCalling, true},
		{RoleUAC, StateInviteProceeding, StateTerminated, true},
		{RoleUAC, StateInviteProxy2xxRcvd, StateInviteProxy2xxRcvd, true},
		{RoleUAC, StateInviteAckSent, StateInviteCalling, false},
		{RoleUAC, StateGenRequestSent, StateInviteProceeding, false},
		{RoleUAC, StateInviteProceeding, StateInviteProceeding, false},
		{RoleUAS, StateInviteRelProvResponseSent, StateInvitePrackCompleted, true},
		{RoleUAS, StateInviteFinalResponseSent, StateInviteRelProvResponseSent, false},
		{RoleUAS, StateGenRequestRcvd, StateInviteFinalResponseSent, false},
	}
	for _, c := range cases {
		t.Run(string(c.from)+"->"+string(c.to), func(t *testing.T) {
			t.Parallel()

			tx := &Transaction{role: c.role}
			tx.state.Store(c.from)
			tx.initFSM()
			got, err := tx.fsm.CanFireCtx(t.Context(), c.to, Transition{From: c.from, To: c.to})
			if err != nil {
				t.Fatalf("tx.fsm.CanFireCtx() error = %v, want nil", err)
			}
			if got != c.want {
				t.Fatalf("tx.fsm.CanFireCtx(%q -> %q) = %v, want %v", c.from, c.to, got, c.want)
			}
		})
	}
}
