package transport_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ghettovoice/siptx/sip"
	"github.com/ghettovoice/siptx/transport"
)

func TestRequestTarget(t *testing.T) {
	t.Parallel()

	cases := []struct {
		uri     string
		want    transport.Target
		wantErr error
	}{
		{"sip:bob@example.com", transport.Target{Host: "example.com"}, nil},
		{"sip:bob@10.0.0.1:5070;transport=udp", transport.Target{Host: "10.0.0.1", Port: 5070}, nil},
		{"sip:[2001:db8::1]:5062", transport.Target{Host: "2001:db8::1", Port: 5062}, nil},
		{"SIP:alice:secret@host.com;lr;maddr=10.1.1.1?subject=x", transport.Target{Host: "10.1.1.1"}, nil},
		{"sip:host.com?x=@y", transport.Target{Host: "host.com"}, nil},
		{"tel:+15551234", transport.Target{}, transport.ErrInvalidDestination},
		{"sip:bob@host:99999", transport.Target{}, transport.ErrInvalidDestination},
		{"sip:bob@host:0", transport.Target{}, transport.ErrInvalidDestination},
		{"sip:bob@", transport.Target{}, transport.ErrInvalidDestination},
		{"sip:[::1", transport.Target{}, transport.ErrInvalidDestination},
	}
	for _, c := range cases {
		t.Run(c.uri, func(t *testing.T) {
			t.Parallel()

			got, err := transport.RequestTarget(c.uri)
			if diff := cmp.Diff(err, c.wantErr, cmpopts.EquateErrors()); diff != "" {
				t.Fatalf("transport.RequestTarget(%q) error = %v, want %v", c.uri, err, c.wantErr)
			}
			if got != c.want {
				t.Fatalf("transport.RequestTarget(%q) = %+v, want %+v", c.uri, got, c.want)
			}
		})
	}
}

func TestResponseTarget(t *testing.T) {
	t.Parallel()

	newRes := func(vias ...sip.Via) *sip.Response {
		return &sip.Response{Status: 200, Headers: sip.Headers{Via: vias}}
	}
	cases := []struct {
		name    string
		res     *sip.Response
		want    transport.Target
		wantErr error
	}{
		{
			"sent-by",
			newRes(sip.Via{Transport: "UDP", Host: "pc33.example.com", Port: 5066}),
			transport.Target{Host: "pc33.example.com", Port: 5066},
			nil,
		},
		{
			"received and rport",
			newRes(sip.Via{
				Transport: "UDP",
				Host:      "pc33.example.com",
				Params:    sip.Params{{Name: "received", Value: "192.0.2.4"}, {Name: "rport", Value: "6000"}},
			}),
			transport.Target{Host: "192.0.2.4", Port: 6000},
			nil,
		},
		{
			"empty rport",
			newRes(sip.Via{Transport: "UDP", Host: "[2001:db8::9]", Params: sip.Params{{Name: "rport"}}}),
			transport.Target{Host: "2001:db8::9"},
			nil,
		},
		{
			"bad rport",
			newRes(sip.Via{Transport: "UDP", Host: "h", Params: sip.Params{{Name: "rport", Value: "x"}}}),
			transport.Target{},
			transport.ErrInvalidDestination,
		},
		{"no Via", newRes(), transport.Target{}, transport.ErrInvalidDestination},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			got, err := transport.ResponseTarget(c.res)
			if diff := cmp.Diff(err, c.wantErr, cmpopts.EquateErrors()); diff != "" {
				t.Fatalf("transport.ResponseTarget() error = %v, want %v", err, c.wantErr)
			}
			if got != c.want {
				t.Fatalf("transport.ResponseTarget() = %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestTarget_String(t *testing.T) {
	t.Parallel()

	for tg, want := range map[transport.Target]string{
		{Host: "example.com"}:          "example.com",
		{Host: "10.0.0.1", Port: 5060}: "10.0.0.1:5060",
		{Host: "::1", Port: 5060}:      "[::1]:5060",
	} {
		if got := tg.String(); got != want {
			t.Errorf("%#v.String() = %q, want %q", tg, got, want)
		}
	}
}
