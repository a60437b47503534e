package transaction

import (
	"log/slog"
	"slices"
	"sync/atomic"
)

// Role tells whether the transaction sends (UAC) or receives (UAS) the initial request.
type Role string

const (
	RoleUAC Role = "UAC"
	RoleUAS Role = "UAS"
)

// State is a transaction state.
type State string

const (
	StateIdle State = "Idle"

	StateInviteCalling           State = "InviteCalling"
	StateInviteProceeding        State = "InviteProceeding"
	StateInviteProceedingTimeout State = "InviteProceedingTimeout"
	StateInviteCancelling        State = "InviteCancelling"
	StateInviteFinalResponseRcvd State = "InviteFinalResponseRcvd"
	StateInviteAckSent           State = "InviteAckSent"
	StateInviteProxy2xxRcvd      State = "InviteProxy2xxRcvd"
	StateGenRequestSent          State = "GenRequestSent"
	StateGenProceeding           State = "GenProceeding"
	StateGenCancelling           State = "GenCancelling"
	StateGenFinalResponseRcvd    State = "GenFinalResponseRcvd"
	StateCancelSent              State = "CancelSent"
	StateCancelProceeding        State = "CancelProceeding"
	StateCancelFinalResponseRcvd State = "CancelFinalResponseRcvd"

	StateInviteRequestRcvd          State = "InviteRequestRcvd"
	StateInviteRelProvResponseSent  State = "InviteRelProvResponseSent"
	StateInvitePrackCompleted       State = "InvitePrackCompleted"
	StateInviteFinalResponseSent    State = "InviteFinalResponseSent"
	StateInviteProxy2xxResponseSent State = "InviteProxy2xxResponseSent"
	StateGenRequestRcvd             State = "GenRequestRcvd"
	StateGenFinalResponseSent       State = "GenFinalResponseSent"
	StateCancelRequestRcvd          State = "CancelRequestRcvd"
	StateCancelFinalResponseSent    State = "CancelFinalResponseSent"
	StatePrackRequestRcvd           State = "PrackRequestRcvd"

	StateTerminated State = "Terminated"
)

// UACStates lists the client family states, Idle and Terminated included.
var UACStates = []State{
	StateIdle,
	StateInviteCalling,
	StateInviteProceeding,
	StateInviteProceedingTimeout,
	StateInviteCancelling,
	StateInviteFinalResponseRcvd,
	StateInviteAckSent,
	StateInviteProxy2xxRcvd,
	StateGenRequestSent,
	StateGenProceeding,
	StateGenCancelling,
	StateGenFinalResponseRcvd,
	StateCancelSent,
	StateCancelProceeding,
	StateCancelFinalResponseRcvd,
	StateTerminated,
}

// UASStates lists the server family states, Idle and Terminated included.
var UASStates = []State{
	StateIdle,
	StateInviteRequestRcvd,
	StateInviteRelProvResponseSent,
	StateInvitePrackCompleted,
	StateInviteFinalResponseSent,
	StateInviteProxy2xxResponseSent,
	StateGenRequestRcvd,
	StateGenFinalResponseSent,
	StateCancelRequestRcvd,
	StateCancelFinalResponseSent,
	StatePrackRequestRcvd,
	StateTerminated,
}

func (s State) String() string { return string(s) }

// IsFinalResponseSent reports whether a server transaction has already answered with a final response.
func (s State) IsFinalResponseSent() bool {
	switch s {
	case StateInviteFinalResponseSent, StateGenFinalResponseSent, StateCancelFinalResponseSent:
		return true
	default:
		return false
	}
}

// IsRequestRcvd reports whether the state belongs to the *RequestRcvd group.
func (s State) IsRequestRcvd() bool {
	return slices.Contains([]State{
		StateInviteRequestRcvd,
		StateGenRequestRcvd,
		StateCancelRequestRcvd,
		StatePrackRequestRcvd,
	}, s)
}

// IsCancellable reports whether a server transaction in the state still waits for a final response
// and thus reacts on CANCEL.
func (s State) IsCancellable() bool {
	switch s {
	case StateGenRequestRcvd, StateInviteRequestRcvd, StateInviteRelProvResponseSent, StateInvitePrackCompleted:
		return true
	default:
		return false
	}
}

type atomicState struct{ v atomic.Value }

func (s *atomicState) Load() State {
	if v, ok := s.v.Load().(State); ok {
		return v
	}
	return StateIdle
}

func (s *atomicState) Store(st State) { s.v.Store(st) }

// Reason explains why a state change happened.
type Reason string

const (
	ReasonUndefined           Reason = "Undefined"
	ReasonUserCommand         Reason = "UserCommand"
	ReasonRequestReceived     Reason = "RequestReceived"
	ReasonProvisionalReceived Reason = "ProvisionalResponseReceived"
	ReasonResponseSuccessful  Reason = "ResponseSuccessfulReceived"
	ReasonResponseRedirection Reason = "ResponseRedirectionReceived"
	ReasonResponseRequestFail Reason = "ResponseRequestFailureReceived"
	ReasonResponseServerFail  Reason = "ResponseServerFailureReceived"
	ReasonResponseGlobalFail  Reason = "ResponseGlobalFailureReceived"
	ReasonAckReceived         Reason = "AckReceived"
	ReasonTimeout             Reason = "Timeout"
	ReasonError               Reason = "Error"
	ReasonNetworkError        Reason = "NetworkError"
	ReasonTransactionCanceled Reason = "TransactionCanceled"
	ReasonTransactionCommand  Reason = "TransactionCommand"
	ReasonNormal              Reason = "Normal"
	ReasonOutOfResources      Reason = "OutOfResources"
)

func (r Reason) String() string { return string(r) }

func (r Reason) LogValue() slog.Value { return slog.StringValue(string(r)) }

// FinalResponseReason maps a received final status code to its state change reason.
func FinalResponseReason(code int) Reason {
	switch {
	case code >= 200 && code < 300:
		return ReasonResponseSuccessful
	case code >= 300 && code < 400:
		return ReasonResponseRedirection
	case code >= 400 && code < 500:
		return ReasonResponseRequestFail
	case code >= 500 && code < 600:
		return ReasonResponseServerFail
	case code >= 600 && code < 700:
		return ReasonResponseGlobalFail
	default:
		return ReasonUndefined
	}
}
