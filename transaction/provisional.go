package transaction

import (
	"context"
	"sync"

	"github.com/ghettovoice/siptx/sip"
)

// DialogID identifies an early dialog created by a provisional response.
type DialogID struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

// ReliableResponsePolicy decides whether a reliable provisional response is a retransmit
// or out of order and must be ignored.
type ReliableResponsePolicy interface {
	ShouldIgnore(ctx context.Context, dialog DialogID, rseq uint32) bool
}

// ReliableResponsePolicyFunc adapts a function to [ReliableResponsePolicy].
type ReliableResponsePolicyFunc func(ctx context.Context, dialog DialogID, rseq uint32) bool

func (f ReliableResponsePolicyFunc) ShouldIgnore(ctx context.Context, dialog DialogID, rseq uint32) bool {
	return f(ctx, dialog, rseq)
}

// RSeqTracker accepts a reliable provisional response only if its RSeq
// is greater than the last accepted one of the same early dialog.
type RSeqTracker struct {
	mu   sync.Mutex
	last map[DialogID]uint32
}

func NewRSeqTracker() *RSeqTracker {
	return &RSeqTracker{last: make(map[DialogID]uint32)}
}

func (t *RSeqTracker) ShouldIgnore(_ context.Context, dialog DialogID, rseq uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[dialog]; ok && rseq <= last {
		return true
	}
	t.last[dialog] = rseq
	return false
}

// Forget drops every early dialog of the call and local tag.
func (t *RSeqTracker) Forget(callID, localTag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for d := range t.last {
		if d.CallID == callID && d.LocalTag == localTag {
			delete(t.last, d)
		}
	}
}

type dialogForgetter interface {
	Forget(callID, localTag string)
}

// ProvisionalCheck is the input of [IgnoreProvisionalResponse].
type ProvisionalCheck struct {
	State    State
	Method   sip.Method
	Proxy    bool
	Rel100   Rel100Support
	Response *sip.Response
	// ShouldIgnore consults the reliable response policy, nil accepts everything.
	ShouldIgnore func(rseq uint32) bool
}

// IgnoreProvisionalResponse decides whether a client transaction drops a provisional response.
// Reliable reports that an accepted response is a reliable provisional response
// the application has to acknowledge with PRACK.
func IgnoreProvisionalResponse(c ProvisionalCheck) (ignore, reliable bool) {
	switch c.State {
	case StateInviteFinalResponseRcvd, StateInviteAckSent, StateInviteProxy2xxRcvd,
		StateGenFinalResponseRcvd, StateCancelFinalResponseRcvd, StateTerminated:
		return true, false
	}
	res := c.Response
	if c.Proxy || c.Method != sip.MethodInvite || res.Status == sip.StatusTrying || c.Rel100 == Rel100Undefined {
		return false, false
	}
	if !res.Requires(sip.Ext100rel) {
		return false, false
	}
	if res.RSeq == 0 {
		return true, false
	}
	if c.ShouldIgnore != nil && c.ShouldIgnore(res.RSeq) {
		return true, false
	}
	return false, true
}
