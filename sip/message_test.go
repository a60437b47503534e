package sip_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/siptx/sip"
)

func newInvite() *sip.Request {
	return &sip.Request{
		Method: sip.MethodInvite,
		URI:    "sip:bob@biloxi.example.com",
		Headers: sip.Headers{
			Via: []sip.Via{{
				Transport: "udp",
				Host:      "pc33.atlanta.example.com",
				Port:      5060,
				Params:    sip.Params{{Name: "branch", Value: sip.MagicCookie + ".776asdhds"}},
			}},
			From:        sip.NameAddr{DisplayName: "Alice", URI: "sip:alice@atlanta.example.com", Params: sip.Params{{Name: "tag", Value: "1928301774"}}},
			To:          sip.NameAddr{DisplayName: "Bob", URI: "sip:bob@biloxi.example.com"},
			CallID:      "a84b4c76e66710@pc33.atlanta.example.com",
			CSeq:        sip.CSeq{Seq: 314159, Method: sip.MethodInvite},
			MaxForwards: 70,
			Supported:   []string{sip.Ext100rel},
			Timestamp:   "54",
		},
	}
}

func TestNameAddr_Tag(t *testing.T) {
	t.Parallel()

	a := sip.NameAddr{URI: "sip:bob@example.com", Params: sip.Params{{Name: "foo", Value: "bar"}}}
	b := a.WithTag("abc")

	if got := a.Tag(); got != "" {
		t.Fatalf("a.Tag() = %q, want empty (WithTag must not mutate the receiver)", got)
	}
	if got, want := b.Tag(), "abc"; got != want {
		t.Fatalf("b.Tag() = %q, want %q", got, want)
	}
	if !a.EqualIgnoreTag(b) {
		t.Fatal("a.EqualIgnoreTag(b) = false, want true")
	}
	if a.Equal(b) {
		t.Fatal("a.Equal(b) = true, want false")
	}
	if got := b.WithTag("").Tag(); got != "" {
		t.Fatalf("b.WithTag(\"\").Tag() = %q, want empty", got)
	}

	c := b.WithTag("abc")
	c.Params = c.Params.Set("foo", "baz")
	if b.EqualIgnoreTag(c) {
		t.Fatal("b.EqualIgnoreTag(c) = true, want false for different params")
	}
	if got, _ := b.Params.Get("foo"); got != "bar" {
		t.Fatalf("b.Params foo = %q, want %q", got, "bar")
	}
}

func TestRequest_Clone(t *testing.T) {
	t.Parallel()

	req := newInvite()
	clone := req.Clone()
	if diff := cmp.Diff(clone, req); diff != "" {
		t.Fatalf("req.Clone() mismatch (-got +want):\n%v", diff)
	}

	clone.Via[0].Params = clone.Via[0].Params.Set("branch", "changed")
	clone.To = clone.To.WithTag("xyz")
	clone.Supported[0] = "timer"

	if got := req.Branch(); got != sip.MagicCookie+".776asdhds" {
		t.Fatalf("req.Branch() = %q after clone mutation", got)
	}
	if got := req.To.Tag(); got != "" {
		t.Fatalf("req.To.Tag() = %q after clone mutation", got)
	}
	if got := req.Supported[0]; got != sip.Ext100rel {
		t.Fatalf("req.Supported[0] = %q after clone mutation", got)
	}
}

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(r *sip.Request)
		wantErr error
	}{
		{"valid", func(*sip.Request) {}, nil},
		{"lower case method", func(r *sip.Request) { r.Method = "invite" }, sip.ErrInvalidMessage},
		{"no uri", func(r *sip.Request) { r.URI = "" }, sip.ErrInvalidMessage},
		{"no call-id", func(r *sip.Request) { r.CallID = "" }, sip.ErrInvalidMessage},
		{"zero cseq", func(r *sip.Request) { r.CSeq.Seq = 0 }, sip.ErrInvalidMessage},
		{"cseq method mismatch", func(r *sip.Request) { r.CSeq.Method = sip.MethodBye }, sip.ErrInvalidMessage},
		{"no to", func(r *sip.Request) { r.To = sip.NameAddr{} }, sip.ErrInvalidMessage},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			req := newInvite()
			c.mutate(req)
			err := req.Validate()
			if c.wantErr == nil && err != nil {
				t.Fatalf("req.Validate() = %v, want nil", err)
			}
			if c.wantErr != nil && !errors.Is(err, c.wantErr) {
				t.Fatalf("req.Validate() = %v, want %v", err, c.wantErr)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	t.Parallel()

	req := newInvite()
	res := sip.NewResponse(req, sip.StatusRinging, "")

	if got, want := res.Reason, "Ringing"; got != want {
		t.Errorf("res.Reason = %q, want %q", got, want)
	}
	if got, want := res.Timestamp, "54"; got != want {
		t.Errorf("res.Timestamp = %q, want %q", got, want)
	}
	if diff := cmp.Diff(res.Via, req.Via); diff != "" {
		t.Errorf("res.Via mismatch (-got +want):\n%v", diff)
	}
	if err := res.Validate(); err != nil {
		t.Errorf("res.Validate() = %v, want nil", err)
	}

	res.Via[0].Host = "changed"
	if req.Via[0].Host == "changed" {
		t.Error("response Via shares memory with request")
	}

	if err := (&sip.Response{Status: 99}).Validate(); !errors.Is(err, sip.ErrInvalidMessage) {
		t.Errorf("Response{99}.Validate() = %v, want %v", err, sip.ErrInvalidMessage)
	}
}

func TestRequest_String(t *testing.T) {
	t.Parallel()

	req := newInvite()
	req.RAck = sip.RAck{RSeq: 1, CSeq: 314159, Method: sip.MethodInvite}
	req.Body = []byte("v=0")

	got := req.String()
	for _, want := range []string{
		"INVITE sip:bob@biloxi.example.com SIP/2.0\r\n",
		"Via: SIP/2.0/UDP pc33.atlanta.example.com:5060;branch=z9hG4bK.776asdhds\r\n",
		"Max-Forwards: 70\r\n",
		"From: \"Alice\" <sip:alice@atlanta.example.com>;tag=1928301774\r\n",
		"To: \"Bob\" <sip:bob@biloxi.example.com>\r\n",
		"CSeq: 314159 INVITE\r\n",
		"Supported: 100rel\r\n",
		"RAck: 1 314159 INVITE\r\n",
		"Content-Length: 3\r\n\r\nv=0",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("req.String() = %q, missing %q", got, want)
		}
	}

	res := sip.NewResponse(req, sip.StatusSessionProgress, "")
	res.RSeq = 7
	res.Require = []string{sip.Ext100rel}
	if got := res.String(); !strings.HasPrefix(got, "SIP/2.0 183 Session Progress\r\n") ||
		!strings.Contains(got, "RSeq: 7\r\n") || !strings.Contains(got, "Require: 100rel\r\n") {
		t.Errorf("res.String() = %q", got)
	}
}

func TestHeaders_Via(t *testing.T) {
	t.Parallel()

	var h sip.Headers
	if _, ok := h.PopVia(); ok {
		t.Fatal("h.PopVia() on empty headers ok = true, want false")
	}

	h.PushVia(sip.Via{Host: "b"})
	h.PushVia(sip.Via{Host: "a", Params: sip.Params{{Name: "branch", Value: sip.GenerateBranch()}}})
	if v, _ := h.TopVia(); v.Host != "a" || !v.IsRFC3261() {
		t.Fatalf("h.TopVia() = %v, want host a with RFC 3261 branch", v)
	}
	if v, _ := h.PopVia(); v.Host != "a" {
		t.Fatalf("h.PopVia() = %v, want host a", v)
	}
	if got, want := len(h.Via), 1; got != want {
		t.Fatalf("len(h.Via) = %d, want %d", got, want)
	}
	if got, want := (sip.Via{Host: "Example.COM", Port: 5061}).SentBy(), "example.com:5061"; got != want {
		t.Fatalf("SentBy() = %q, want %q", got, want)
	}
}

func TestReasonPhrase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want string
	}{
		{sip.StatusRequestTerminated, "Request Terminated"},
		{199, "Session Progress"},
		{299, "OK"},
		{399, "Redirection"},
		{499, "Request Failure"},
		{599, "Server Failure"},
		{699, "Global Failure"},
		{700, "Unknown"},
	}
	for _, c := range cases {
		if got := sip.ReasonPhrase(c.code); got != c.want {
			t.Errorf("sip.ReasonPhrase(%d) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestTimingConfig(t *testing.T) {
	t.Parallel()

	var zero sip.TimingConfig
	if got, want := zero.TimeB(), 64*sip.T1; got != want {
		t.Errorf("zero.TimeB() = %v, want %v", got, want)
	}
	if got, want := zero.TimeD(), sip.TimeD; got != want {
		t.Errorf("zero.TimeD() = %v, want %v", got, want)
	}

	cfg := sip.NewTimings(100*time.Millisecond, 0, time.Second, 0)
	if got, want := cfg.TimePrack(), 6400*time.Millisecond; got != want {
		t.Errorf("cfg.TimePrack() = %v, want %v", got, want)
	}
	if got, want := cfg.T2(), sip.T2; got != want {
		t.Errorf("cfg.T2() = %v, want %v", got, want)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("json.Marshal(cfg) error = %v, want nil", err)
	}
	var restored sip.TimingConfig
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("json.Unmarshal(data) error = %v, want nil", err)
	}
	if restored != cfg {
		t.Errorf("restored = %+v, want %+v", restored, cfg)
	}
	if !zero.IsZero() || cfg.IsZero() {
		t.Error("IsZero() mismatch")
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	if a, b := sip.GenerateTag(), sip.GenerateTag(); a == b || a == "" {
		t.Errorf("sip.GenerateTag() returned %q and %q, want distinct non-empty", a, b)
	}
	if id := sip.GenerateCallID(); len(id) != 36 {
		t.Errorf("sip.GenerateCallID() = %q, want UUID", id)
	}
	if v := sip.GenerateCSeq(); v == 0 {
		t.Error("sip.GenerateCSeq() = 0, want non-zero")
	}
	if !sip.MethodPrack.IsKnown() || sip.Method("FOO").IsKnown() {
		t.Error("Method.IsKnown() mismatch")
	}
}
