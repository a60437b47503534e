package transaction_test

import (
	"context"
	"testing"

	"github.com/ghettovoice/siptx/sip"
	"github.com/ghettovoice/siptx/transaction"
)

func reliable183(rseq uint32) *sip.Response {
	return &sip.Response{
		Status: 183,
		Headers: sip.Headers{
			Require: []string{sip.Ext100rel},
			RSeq:    rseq,
		},
	}
}

func TestIgnoreProvisionalResponse(t *testing.T) {
	t.Parallel()

	accept := func(uint32) bool { return false }
	reject := func(uint32) bool { return true }
	cases := []struct {
		name         string
		check        transaction.ProvisionalCheck
		wantIgnore   bool
		wantReliable bool
	}{
		{
			name: "final state",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteFinalResponseRcvd, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: reliable183(1), ShouldIgnore: accept,
			},
			wantIgnore: true,
		},
		{
			name: "proxy",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteCalling, Method: sip.MethodInvite, Proxy: true,
				Rel100: transaction.Rel100Supported, Response: reliable183(0), ShouldIgnore: reject,
			},
		},
		{
			name: "non-INVITE",
			check: transaction.ProvisionalCheck{
				State: transaction.StateGenRequestSent, Method: sip.MethodOptions,
				Rel100: transaction.Rel100Supported, Response: reliable183(0), ShouldIgnore: reject,
			},
		},
		{
			name: "100 Trying",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteCalling, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: &sip.Response{Status: 100}, ShouldIgnore: reject,
			},
		},
		{
			name: "100rel not configured",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteCalling, Method: sip.MethodInvite,
				Response: reliable183(0), ShouldIgnore: reject,
			},
		},
		{
			name: "cancelling rejected by policy",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteCancelling, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: reliable183(1), ShouldIgnore: reject,
			},
			wantIgnore: true,
		},
		{
			name: "cancelling missing RSeq",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteCancelling, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: reliable183(0), ShouldIgnore: accept,
			},
			wantIgnore: true,
		},
		{
			name: "cancelling accepted",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteCancelling, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: reliable183(1), ShouldIgnore: accept,
			},
			wantReliable: true,
		},
		{
			name: "proceeding timeout missing RSeq",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteProceedingTimeout, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: reliable183(0), ShouldIgnore: accept,
			},
			wantIgnore: true,
		},
		{
			name: "proceeding timeout accepted",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteProceedingTimeout, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: reliable183(3), ShouldIgnore: accept,
			},
			wantReliable: true,
		},
		{
			name: "unreliable",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteProceeding, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: &sip.Response{Status: 180}, ShouldIgnore: reject,
			},
		},
		{
			name: "missing RSeq",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteCalling, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Required, Response: reliable183(0), ShouldIgnore: accept,
			},
			wantIgnore: true,
		},
		{
			name: "rejected by policy",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteProceeding, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: reliable183(2), ShouldIgnore: reject,
			},
			wantIgnore: true,
		},
		{
			name: "accepted",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteCalling, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: reliable183(1), ShouldIgnore: accept,
			},
			wantReliable: true,
		},
		{
			name: "accepted without policy",
			check: transaction.ProvisionalCheck{
				State: transaction.StateInviteCalling, Method: sip.MethodInvite,
				Rel100: transaction.Rel100Supported, Response: reliable183(1),
			},
			wantReliable: true,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			ignore, reliable := transaction.IgnoreProvisionalResponse(c.check)
			if ignore != c.wantIgnore || reliable != c.wantReliable {
				t.Fatalf("transaction.IgnoreProvisionalResponse() = (%v, %v), want (%v, %v)",
					ignore, reliable, c.wantIgnore, c.wantReliable,
				)
			}
		})
	}
}

func TestRSeqTracker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := transaction.NewRSeqTracker()
	d1 := transaction.DialogID{CallID: "c", LocalTag: "l", RemoteTag: "r1"}
	d2 := transaction.DialogID{CallID: "c", LocalTag: "l", RemoteTag: "r2"}

	steps := []struct {
		dialog transaction.DialogID
		rseq   uint32
		want   bool
	}{
		{d1, 5, false},
		{d1, 5, true},
		{d1, 4, true},
		{d1, 6, false},
		{d2, 1, false},
		{d2, 1, true},
	}
	for _, s := range steps {
		if got := tr.ShouldIgnore(ctx, s.dialog, s.rseq); got != s.want {
			t.Fatalf("tr.ShouldIgnore(%v, %d) = %v, want %v", s.dialog, s.rseq, got, s.want)
		}
	}

	tr.Forget("c", "l")
	if tr.ShouldIgnore(ctx, d1, 1) {
		t.Fatal("tr.ShouldIgnore() after forget = true, want false")
	}
}
