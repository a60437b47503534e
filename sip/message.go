package sip

//go:generate errtrace -w .

import (
	"slices"
	"strconv"

	"braces.dev/errtrace"

	"github.com/ghettovoice/siptx/internal/errorutil"
	"github.com/ghettovoice/siptx/internal/util"
)

// ErrInvalidMessage is returned when a message lacks mandatory fields.
const ErrInvalidMessage errorutil.Error = "invalid message"

// Option tag of the reliable provisional responses extension (RFC 3262).
const Ext100rel = "100rel"

// Headers holds the headers the transaction layer reads and writes.
// Everything else travels in Extra untouched.
type Headers struct {
	Via         []Via
	From        NameAddr
	To          NameAddr
	CallID      string
	CSeq        CSeq
	MaxForwards int
	Require     []string
	Supported   []string
	Unsupported []string
	// RSeq is zero when the header is absent or invalid.
	RSeq      uint32
	RAck      RAck
	Timestamp string
	Extra     []Header
	Body      []byte
}

// TopVia returns the first Via header.
func (h *Headers) TopVia() (Via, bool) {
	if len(h.Via) == 0 {
		return Via{}, false
	}
	return h.Via[0], true
}

// Branch returns the branch of the top Via header.
func (h *Headers) Branch() string {
	v, _ := h.TopVia()
	return v.Branch()
}

// PushVia inserts v as the top Via header.
func (h *Headers) PushVia(v Via) {
	h.Via = slices.Insert(h.Via, 0, v)
}

// PopVia removes the top Via header.
func (h *Headers) PopVia() (Via, bool) {
	v, ok := h.TopVia()
	if ok {
		h.Via = slices.Delete(h.Via, 0, 1)
	}
	return v, ok
}

// Requires reports whether the Require header lists the option tag.
func (h *Headers) Requires(opt string) bool { return util.ContainsFold(h.Require, opt) }

// Supports reports whether Supported or Require lists the option tag.
func (h *Headers) Supports(opt string) bool {
	return util.ContainsFold(h.Supported, opt) || h.Requires(opt)
}

// Clone returns a deep copy.
func (h Headers) Clone() Headers {
	h.Via = slices.Clone(h.Via)
	for i := range h.Via {
		h.Via[i] = h.Via[i].Clone()
	}
	h.From = h.From.Clone()
	h.To = h.To.Clone()
	h.Require = slices.Clone(h.Require)
	h.Supported = slices.Clone(h.Supported)
	h.Unsupported = slices.Clone(h.Unsupported)
	h.Extra = slices.Clone(h.Extra)
	h.Body = slices.Clone(h.Body)
	return h
}

func (h *Headers) validate() error {
	if h.CallID == "" {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidMessage, "missing Call-ID"))
	}
	if h.CSeq.Seq == 0 || h.CSeq.Method == "" {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidMessage, "invalid CSeq %q", h.CSeq))
	}
	if h.From.URI == "" || h.To.URI == "" {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidMessage, "missing From or To"))
	}
	return nil
}

// Message is a SIP request or response.
type Message interface {
	// Head returns the mutable headers of the message.
	Head() *Headers
	CloneMessage() Message
	AppendTo(b []byte) []byte
	String() string
}

// Request is a SIP request.
type Request struct {
	Method Method
	URI    string
	Headers
}

func (r *Request) Head() *Headers { return &r.Headers }

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	return &c
}

func (r *Request) CloneMessage() Message { return r.Clone() }

// Validate checks that the request carries the fields a transaction needs.
func (r *Request) Validate() error {
	if !r.Method.IsValid() {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidMessage, "invalid method %q", r.Method))
	}
	if r.URI == "" {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidMessage, "missing Request-URI"))
	}
	if err := r.validate(); err != nil {
		return errtrace.Wrap(err)
	}
	if r.CSeq.Method != r.Method {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidMessage,
			"CSeq method %q does not match request method %q", r.CSeq.Method, r.Method))
	}
	return nil
}

// Response is a SIP response.
type Response struct {
	Status int
	Reason string
	Headers
}

func (r *Response) Head() *Headers { return &r.Headers }

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	return &c
}

func (r *Response) CloneMessage() Message { return r.Clone() }

// Validate checks that the response carries the fields a transaction needs.
func (r *Response) Validate() error {
	if !IsValidStatus(r.Status) {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrInvalidMessage, "invalid status %d", r.Status))
	}
	return errtrace.Wrap(r.validate())
}

// NewResponse builds a response to req echoing Via, From, To, Call-ID, CSeq and Timestamp.
// An empty reason is replaced with the default phrase of the code.
func NewResponse(req *Request, code int, reason string) *Response {
	if reason == "" {
		reason = ReasonPhrase(code)
	}
	res := &Response{
		Status: code,
		Reason: reason,
		Headers: Headers{
			From:      req.From.Clone(),
			To:        req.To.Clone(),
			CallID:    req.CallID,
			CSeq:      req.CSeq,
			Timestamp: req.Timestamp,
		},
	}
	res.Via = make([]Via, len(req.Via))
	for i := range req.Via {
		res.Via[i] = req.Via[i].Clone()
	}
	return res
}

func appendHeader(b []byte, name, value string) []byte {
	b = append(b, name...)
	b = append(b, ": "...)
	b = append(b, value...)
	return append(b, "\r\n"...)
}

func (h *Headers) appendTo(b []byte) []byte {
	for _, v := range h.Via {
		b = append(b, "Via: "...)
		b = v.appendTo(b)
		b = append(b, "\r\n"...)
	}
	if h.MaxForwards > 0 {
		b = appendHeader(b, "Max-Forwards", strconv.Itoa(h.MaxForwards))
	}
	b = append(b, "From: "...)
	b = h.From.appendTo(b)
	b = append(b, "\r\nTo: "...)
	b = h.To.appendTo(b)
	b = append(b, "\r\n"...)
	b = appendHeader(b, "Call-ID", h.CallID)
	b = appendHeader(b, "CSeq", h.CSeq.String())
	for _, opts := range []struct {
		name string
		list []string
	}{
		{"Require", h.Require},
		{"Supported", h.Supported},
		{"Unsupported", h.Unsupported},
	} {
		if len(opts.list) > 0 {
			b = appendHeader(b, opts.name, joinTokens(opts.list))
		}
	}
	if h.RSeq > 0 {
		b = appendHeader(b, "RSeq", strconv.FormatUint(uint64(h.RSeq), 10))
	}
	if !h.RAck.IsZero() {
		b = appendHeader(b, "RAck", h.RAck.String())
	}
	if h.Timestamp != "" {
		b = appendHeader(b, "Timestamp", h.Timestamp)
	}
	for _, x := range h.Extra {
		b = appendHeader(b, x.Name, x.Value)
	}
	b = appendHeader(b, "Content-Length", strconv.Itoa(len(h.Body)))
	b = append(b, "\r\n"...)
	return append(b, h.Body...)
}

func joinTokens(list []string) string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	for i, s := range list {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// AppendTo appends the wire representation of the request to b.
func (r *Request) AppendTo(b []byte) []byte {
	b = append(b, r.Method...)
	b = append(b, ' ')
	b = append(b, r.URI...)
	b = append(b, " SIP/2.0\r\n"...)
	return r.Headers.appendTo(b)
}

func (r *Request) String() string { return string(r.AppendTo(nil)) }

// AppendTo appends the wire representation of the response to b.
func (r *Response) AppendTo(b []byte) []byte {
	b = append(b, "SIP/2.0 "...)
	b = strconv.AppendInt(b, int64(r.Status), 10)
	b = append(b, ' ')
	b = append(b, r.Reason...)
	b = append(b, "\r\n"...)
	return r.Headers.appendTo(b)
}

func (r *Response) String() string { return string(r.AppendTo(nil)) }
