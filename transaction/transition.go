package transaction

import (
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/siptx/sip"
)

// TimerKind identifies a transaction timer.
// Arming a kind replaces the running timer of the same kind.
type TimerKind string

const (
	// TimerRetransmit drives request retransmits on the client (A, E)
	// and INVITE final response retransmits on the server (G).
	TimerRetransmit TimerKind = "retransmit"
	// TimerTimeout bounds the wait for a response or an ACK (B, F, H).
	TimerTimeout TimerKind = "timeout"
	// TimerLinger keeps a completed transaction around to absorb retransmits (D, I, J, K, L, M).
	TimerLinger TimerKind = "linger"
	// TimerProvisional bounds the time spent in InviteProceeding.
	TimerProvisional TimerKind = "provisional"
	// TimerReliableRetransmit drives reliable provisional response retransmits.
	TimerReliableRetransmit TimerKind = "reliable_retransmit"
	// TimerPrack bounds the wait for PRACK.
	TimerPrack TimerKind = "prack"
)

// EventKind identifies an input of the transition functions.
type EventKind string

const (
	EventSendRequest     EventKind = "send_request"
	EventSendAck         EventKind = "send_ack"
	EventSendCancel      EventKind = "send_cancel"
	EventSendResponse    EventKind = "send_response"
	EventRecvRequest     EventKind = "recv_request"
	EventRecvAck         EventKind = "recv_ack"
	EventRecvProvisional EventKind = "recv_provisional"
	EventRecvFinal       EventKind = "recv_final"
	// EventRecvPrack is delivered to the INVITE server transaction a PRACK acknowledges.
	EventRecvPrack EventKind = "recv_prack"
	// EventPrackAnswered is delivered to the INVITE server transaction
	// once its PRACK transaction sent a 2xx.
	EventPrackAnswered EventKind = "prack_answered"
	EventTimer         EventKind = "timer"
	EventTerminate     EventKind = "terminate"
)

// Event is the input of [TransitUAC] and [TransitUAS].
type Event struct {
	Kind EventKind
	// Method is the transaction method, or the method of a received request.
	Method sip.Method
	Code   int
	// Reliable marks a reliable provisional response on send,
	// and PRACK handling on receive when 100rel is configured.
	Reliable bool
	Proxy    bool
	// AckSent reports that the client already sent an ACK for the final response.
	AckSent bool
	Timer   TimerKind
	// Interval is the last interval of a fired retransmit timer.
	Interval time.Duration
	// Reason overrides the default reason of user driven changes and termination.
	Reason Reason
	// LastState is the state preceding Terminated.
	LastState State
}

// Env describes the environment a transaction runs in.
type Env struct {
	Reliable          bool
	Timings           sip.TimingConfig
	ProceedingTimeout time.Duration
}

// EffectKind identifies a side effect produced by a transition.
type EffectKind string

const (
	EffectSendBuffer         EffectKind = "send_buffer"
	EffectArmTimer           EffectKind = "arm_timer"
	EffectReleaseTimers      EffectKind = "release_timers"
	EffectEmitCallback       EffectKind = "emit_callback"
	EffectRemoveFromRegistry EffectKind = "remove_from_registry"
)

// NotifyKind identifies an application notification.
type NotifyKind string

const (
	NotifyStateChanged NotifyKind = "state_changed"
	NotifyAckReceived  NotifyKind = "ack_received"
)

// Effect is a side effect the driver performs after a transition.
type Effect struct {
	Kind     EffectKind
	Timer    TimerKind
	Duration time.Duration
	Notify   NotifyKind
}

// Transition is the result of a transition function.
// An unchanged state without effects means the event is ignored.
type Transition struct {
	From, To State
	Reason   Reason
	// Reentry marks a same-state transition that must be reported as a state change.
	Reentry bool
	Effects []Effect
}

// Changed reports whether the transition moves the machine.
func (t Transition) Changed() bool { return t.From != t.To || t.Reentry }

// Ignored reports whether the event had no consequence.
func (t Transition) Ignored() bool { return !t.Changed() && len(t.Effects) == 0 }

func sendBuffer() Effect { return Effect{Kind: EffectSendBuffer} }

func armTimer(k TimerKind, d time.Duration) Effect {
	return Effect{Kind: EffectArmTimer, Timer: k, Duration: d}
}

func releaseTimers() Effect { return Effect{Kind: EffectReleaseTimers} }

func emit(n NotifyKind) Effect { return Effect{Kind: EffectEmitCallback, Notify: n} }

func removeFromRegistry() Effect { return Effect{Kind: EffectRemoveFromRegistry} }

func lingerFor(env Env, d time.Duration) time.Duration {
	if env.Reliable {
		return 0
	}
	return d
}

func illegal(st State, ev Event) error {
	return errtrace.Wrap(NewIllegalActionError("event %q with method %q in state %q", ev.Kind, ev.Method, st))
}

func move(st, to State, reason Reason, effects ...Effect) Transition {
	return Transition{From: st, To: to, Reason: reason, Effects: effects}
}

func stay(st State, effects ...Effect) Transition {
	return Transition{From: st, To: st, Effects: effects}
}

func terminate(st State, reason Reason) Transition {
	if st == StateTerminated {
		return stay(st)
	}
	if reason == "" {
		reason = ReasonUserCommand
	}
	return move(st, StateTerminated, reason, removeFromRegistry(), releaseTimers(), emit(NotifyStateChanged))
}

// NextUacState returns the state a client transaction enters when it sends a request of the method.
// For INVITE it also covers the ACK step out of InviteFinalResponseRcvd.
func NextUacState(method sip.Method, st State) State {
	switch method {
	case sip.MethodInvite:
		if st == StateInviteFinalResponseRcvd {
			return StateInviteAckSent
		}
		return StateInviteCalling
	case sip.MethodCancel:
		return StateCancelSent
	default:
		return StateGenRequestSent
	}
}

// NextSrvState returns the state a server transaction enters when it sends a response.
func NextSrvState(method sip.Method, st State, code int, proxy, reliable bool) State {
	provisional := code >= 100 && code < 200
	switch method {
	case sip.MethodInvite:
		switch {
		case provisional && reliable:
			return StateInviteRelProvResponseSent
		case provisional:
			return st
		case proxy && code >= 200 && code < 300:
			return StateInviteProxy2xxResponseSent
		default:
			return StateInviteFinalResponseSent
		}
	case sip.MethodCancel:
		if provisional {
			return st
		}
		return StateCancelFinalResponseSent
	default:
		if provisional {
			return st
		}
		return StateGenFinalResponseSent
	}
}

// TransitUAC computes the client transaction transition for the event.
// It performs no I/O; effects describe what the caller has to do.
func TransitUAC(st State, ev Event, env Env) (Transition, error) {
	switch ev.Kind {
	case EventTerminate:
		return terminate(st, ev.Reason), nil
	case EventSendRequest:
		return uacSendRequest(st, ev, env)
	case EventSendAck:
		if st != StateInviteFinalResponseRcvd {
			return Transition{}, illegal(st, ev)
		}
		return move(st, NextUacState(sip.MethodInvite, st), ReasonUserCommand,
			releaseTimers(),
			armTimer(TimerLinger, lingerFor(env, env.Timings.TimeD())),
			emit(NotifyStateChanged),
		), nil
	case EventSendCancel:
		switch st {
		case StateInviteCalling, StateInviteProceeding, StateInviteProceedingTimeout:
			return move(st, StateInviteCancelling, ReasonUserCommand,
				releaseTimers(),
				armTimer(TimerTimeout, env.Timings.TimeB()),
				emit(NotifyStateChanged),
			), nil
		case StateGenRequestSent, StateGenProceeding:
			return move(st, StateGenCancelling, ReasonUserCommand, emit(NotifyStateChanged)), nil
		default:
			return Transition{}, illegal(st, ev)
		}
	case EventRecvProvisional:
		return uacRecvProvisional(st, ev, env)
	case EventRecvFinal:
		return uacRecvFinal(st, ev, env)
	case EventTimer:
		return uacTimer(st, ev, env), nil
	default:
		return Transition{}, illegal(st, ev)
	}
}

func uacSendRequest(st State, ev Event, env Env) (Transition, error) {
	if st != StateIdle {
		return Transition{}, illegal(st, ev)
	}
	reason := ev.Reason
	if reason == "" {
		reason = ReasonUserCommand
	}
	tr := move(st, NextUacState(ev.Method, st), reason)
	retransmit, timeout := env.Timings.TimeE(), env.Timings.TimeF()
	if ev.Method == sip.MethodInvite {
		retransmit, timeout = env.Timings.TimeA(), env.Timings.TimeB()
	}
	if !env.Reliable {
		tr.Effects = append(tr.Effects, armTimer(TimerRetransmit, retransmit))
	}
	tr.Effects = append(tr.Effects, armTimer(TimerTimeout, timeout), emit(NotifyStateChanged))
	return tr, nil
}

func uacRecvProvisional(st State, ev Event, env Env) (Transition, error) {
	switch st {
	case StateInviteCalling:
		tr := move(st, StateInviteProceeding, ReasonProvisionalReceived, releaseTimers())
		if env.ProceedingTimeout > 0 {
			tr.Effects = append(tr.Effects, armTimer(TimerProvisional, env.ProceedingTimeout))
		}
		tr.Effects = append(tr.Effects, emit(NotifyStateChanged))
		return tr, nil
	case StateGenRequestSent:
		return move(st, StateGenProceeding, ReasonProvisionalReceived, emit(NotifyStateChanged)), nil
	case StateCancelSent:
		return move(st, StateCancelProceeding, ReasonProvisionalReceived, emit(NotifyStateChanged)), nil
	case StateInviteProceeding, StateInviteProceedingTimeout, StateInviteCancelling,
		StateGenProceeding, StateGenCancelling, StateCancelProceeding:
		return stay(st), nil
	case StateIdle, StateTerminated:
		return Transition{}, illegal(st, ev)
	default:
		// late provisional after a final response
		return stay(st), nil
	}
}

func uacRecvFinal(st State, ev Event, env Env) (Transition, error) {
	reason := FinalResponseReason(ev.Code)
	success := ev.Code >= 200 && ev.Code < 300
	switch st {
	case StateInviteCalling, StateInviteProceeding, StateInviteProceedingTimeout, StateInviteCancelling:
		if ev.Proxy && success {
			return move(st, StateInviteProxy2xxRcvd, reason,
				releaseTimers(),
				armTimer(TimerLinger, env.Timings.TimeM()),
				emit(NotifyStateChanged),
			), nil
		}
		tr := move(st, StateInviteFinalResponseRcvd, reason, releaseTimers())
		if success {
			tr.Effects = append(tr.Effects, removeFromRegistry())
		}
		tr.Effects = append(tr.Effects, armTimer(TimerTimeout, env.Timings.TimeB()), emit(NotifyStateChanged))
		return tr, nil
	case StateInviteProxy2xxRcvd:
		if !success {
			return stay(st), nil
		}
		tr := move(st, st, reason, releaseTimers(), armTimer(TimerLinger, env.Timings.TimeM()), emit(NotifyStateChanged))
		tr.Reentry = true
		return tr, nil
	case StateInviteAckSent:
		if ev.AckSent && !success {
			return stay(st, sendBuffer()), nil
		}
		return stay(st), nil
	case StateGenRequestSent, StateGenProceeding, StateGenCancelling:
		return move(st, StateGenFinalResponseRcvd, reason,
			releaseTimers(),
			armTimer(TimerLinger, lingerFor(env, env.Timings.TimeK())),
			emit(NotifyStateChanged),
		), nil
	case StateCancelSent, StateCancelProceeding:
		return move(st, StateCancelFinalResponseRcvd, reason,
			releaseTimers(),
			armTimer(TimerLinger, lingerFor(env, env.Timings.TimeK())),
			emit(NotifyStateChanged),
		), nil
	case StateIdle, StateTerminated:
		return Transition{}, illegal(st, ev)
	default:
		// retransmitted final response
		return stay(st), nil
	}
}

func uacTimer(st State, ev Event, env Env) Transition {
	switch ev.Timer {
	case TimerRetransmit:
		switch st {
		case StateInviteCalling:
			return stay(st, sendBuffer(), armTimer(TimerRetransmit, 2*ev.Interval))
		case StateGenRequestSent, StateCancelSent:
			return stay(st, sendBuffer(), armTimer(TimerRetransmit, min(2*ev.Interval, env.Timings.T2())))
		case StateGenProceeding, StateGenCancelling, StateCancelProceeding:
			return stay(st, sendBuffer(), armTimer(TimerRetransmit, env.Timings.T2()))
		}
	case TimerTimeout:
		switch st {
		case StateInviteCalling, StateInviteProceeding, StateInviteProceedingTimeout, StateInviteCancelling,
			StateInviteFinalResponseRcvd,
			StateGenRequestSent, StateGenProceeding, StateGenCancelling,
			StateCancelSent, StateCancelProceeding:
			return terminate(st, ReasonTimeout)
		}
	case TimerProvisional:
		if st == StateInviteProceeding {
			return move(st, StateInviteProceedingTimeout, ReasonTimeout, emit(NotifyStateChanged))
		}
	case TimerLinger:
		switch st {
		case StateInviteAckSent, StateInviteProxy2xxRcvd, StateGenFinalResponseRcvd, StateCancelFinalResponseRcvd:
			return terminate(st, ReasonNormal)
		}
	}
	return stay(st)
}

// TransitUAS computes the server transaction transition for the event.
// It performs no I/O; effects describe what the caller has to do.
func TransitUAS(st State, ev Event, env Env) (Transition, error) {
	switch ev.Kind {
	case EventTerminate:
		return terminate(st, ev.Reason), nil
	case EventRecvRequest:
		return uasRecvRequest(st, ev)
	case EventRecvAck:
		switch st {
		case StateIdle:
			return Transition{}, errtrace.Wrap(NewBadParameterError("ACK does not create a server transaction"))
		case StateInviteFinalResponseSent:
			return stay(st,
				releaseTimers(),
				emit(NotifyAckReceived),
				armTimer(TimerLinger, lingerFor(env, env.Timings.TimeI())),
			), nil
		default:
			return stay(st), nil
		}
	case EventSendResponse:
		return uasSendResponse(st, ev, env)
	case EventRecvPrack:
		if st == StateInviteRelProvResponseSent {
			return stay(st, releaseTimers()), nil
		}
		return stay(st), nil
	case EventPrackAnswered:
		if st == StateInviteRelProvResponseSent {
			return move(st, StateInvitePrackCompleted, ReasonTransactionCommand, releaseTimers(), emit(NotifyStateChanged)), nil
		}
		return stay(st), nil
	case EventTimer:
		return uasTimer(st, ev, env), nil
	default:
		return Transition{}, illegal(st, ev)
	}
}

func uasRecvRequest(st State, ev Event) (Transition, error) {
	switch st {
	case StateIdle:
		switch ev.Method {
		case sip.MethodInvite:
			return move(st, StateInviteRequestRcvd, ReasonRequestReceived, emit(NotifyStateChanged)), nil
		case sip.MethodAck:
			return Transition{}, errtrace.Wrap(NewBadParameterError("ACK does not create a server transaction"))
		case sip.MethodCancel:
			return move(st, StateCancelRequestRcvd, ReasonRequestReceived, releaseTimers(), emit(NotifyStateChanged)), nil
		case sip.MethodPrack:
			if ev.Reliable {
				return move(st, StatePrackRequestRcvd, ReasonRequestReceived, emit(NotifyStateChanged)), nil
			}
		}
		return move(st, StateGenRequestRcvd, ReasonRequestReceived, emit(NotifyStateChanged)), nil
	case StateInviteFinalResponseSent:
		if ev.Method == sip.MethodInvite {
			return stay(st, sendBuffer()), nil
		}
		return stay(st), nil
	case StateInviteRequestRcvd, StateInviteRelProvResponseSent, StateInvitePrackCompleted,
		StateGenRequestRcvd, StateCancelRequestRcvd, StatePrackRequestRcvd,
		StateGenFinalResponseSent, StateCancelFinalResponseSent:
		if ev.Method == sip.MethodAck {
			return stay(st), nil
		}
		return stay(st, sendBuffer()), nil
	case StateInviteProxy2xxResponseSent:
		if ev.Method == sip.MethodInvite {
			return stay(st), nil
		}
		return Transition{}, illegal(st, ev)
	case StateTerminated:
		if ev.LastState == StateInviteProxy2xxResponseSent && ev.Method != sip.MethodInvite {
			return Transition{}, illegal(st, ev)
		}
		return stay(st), nil
	default:
		return Transition{}, illegal(st, ev)
	}
}

func uasSendResponse(st State, ev Event, env Env) (Transition, error) {
	switch st {
	case StateInviteRequestRcvd, StateInviteRelProvResponseSent, StateInvitePrackCompleted:
		if ev.Method != sip.MethodInvite {
			return Transition{}, illegal(st, ev)
		}
	case StateInviteProxy2xxResponseSent:
		if ev.Code < 200 || ev.Code >= 300 {
			return Transition{}, illegal(st, ev)
		}
	case StateGenRequestRcvd, StateCancelRequestRcvd, StatePrackRequestRcvd:
	default:
		return Transition{}, illegal(st, ev)
	}

	reason := ev.Reason
	if reason == "" {
		reason = ReasonUserCommand
	}
	reliable := ev.Reliable && ev.Code > 100 && ev.Code < 200
	to := NextSrvState(ev.Method, st, ev.Code, ev.Proxy, reliable)
	if !reliable && to == st {
		// unreliable provisional keeps reliable timers as they are
		return stay(st), nil
	}
	tr := move(st, to, reason)
	switch to {
	case StateInviteRelProvResponseSent:
		tr.Effects = append(tr.Effects,
			releaseTimers(),
			armTimer(TimerReliableRetransmit, env.Timings.TimeRel()),
			armTimer(TimerPrack, env.Timings.TimePrack()),
		)
		if to == st {
			// another reliable provisional re-arms timers silently
			return tr, nil
		}
	case StateInviteFinalResponseSent:
		tr.Effects = append(tr.Effects, releaseTimers())
		if !env.Reliable {
			tr.Effects = append(tr.Effects, armTimer(TimerRetransmit, env.Timings.TimeG()))
		}
		tr.Effects = append(tr.Effects, armTimer(TimerTimeout, env.Timings.TimeH()))
	case StateInviteProxy2xxResponseSent:
		tr.Effects = append(tr.Effects, releaseTimers(), armTimer(TimerLinger, lingerFor(env, env.Timings.TimeL())))
		tr.Reentry = to == st
	case StateGenFinalResponseSent, StateCancelFinalResponseSent:
		tr.Effects = append(tr.Effects, releaseTimers(), armTimer(TimerLinger, lingerFor(env, env.Timings.TimeJ())))
	default:
		// unreliable provisional
		return stay(st), nil
	}
	tr.Effects = append(tr.Effects, emit(NotifyStateChanged))
	return tr, nil
}

func uasTimer(st State, ev Event, env Env) Transition {
	switch ev.Timer {
	case TimerRetransmit:
		if st == StateInviteFinalResponseSent {
			return stay(st, sendBuffer(), armTimer(TimerRetransmit, min(2*ev.Interval, env.Timings.T2())))
		}
	case TimerReliableRetransmit:
		if st == StateInviteRelProvResponseSent {
			return stay(st, sendBuffer(), armTimer(TimerReliableRetransmit, 2*ev.Interval))
		}
	case TimerTimeout:
		if st == StateInviteFinalResponseSent {
			return terminate(st, ReasonTimeout)
		}
	case TimerPrack:
		if st == StateInviteRelProvResponseSent {
			return terminate(st, ReasonTimeout)
		}
	case TimerLinger:
		switch st {
		case StateInviteFinalResponseSent, StateInviteProxy2xxResponseSent,
			StateGenFinalResponseSent, StateCancelFinalResponseSent:
			return terminate(st, ReasonNormal)
		}
	}
	return stay(st)
}
