package sip

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ghettovoice/siptx/internal/util"
)

// Param is a single header parameter, Value is empty for flag parameters.
type Param struct {
	Name  string
	Value string
}

// Params is an ordered list of header parameters.
// Parameter names are compared case-insensitively.
type Params []Param

func (ps Params) Get(name string) (string, bool) {
	for _, p := range ps {
		if util.EqFold(p.Name, name) {
			return p.Value, true
		}
	}
	return "", false
}

func (ps Params) Has(name string) bool {
	_, ok := ps.Get(name)
	return ok
}

// Set returns the params with name set to value, replacing an existing parameter in place.
func (ps Params) Set(name, value string) Params {
	for i, p := range ps {
		if util.EqFold(p.Name, name) {
			ps[i].Value = value
			return ps
		}
	}
	return append(ps, Param{name, value})
}

// Del returns the params without name.
func (ps Params) Del(name string) Params {
	return slices.DeleteFunc(ps, func(p Param) bool { return util.EqFold(p.Name, name) })
}

func (ps Params) Clone() Params { return slices.Clone(ps) }

// Equal reports whether both lists hold the same parameters regardless of order.
func (ps Params) Equal(other Params) bool {
	if len(ps) != len(other) {
		return false
	}
	for _, p := range ps {
		v, ok := other.Get(p.Name)
		if !ok || v != p.Value {
			return false
		}
	}
	return true
}

func (ps Params) appendTo(b []byte) []byte {
	for _, p := range ps {
		b = append(b, ';')
		b = append(b, p.Name...)
		if p.Value != "" {
			b = append(b, '=')
			b = append(b, p.Value...)
		}
	}
	return b
}

// NameAddr is an address header value such as To or From.
type NameAddr struct {
	DisplayName string
	URI         string
	Params      Params
}

// Tag returns the tag parameter.
func (a NameAddr) Tag() string {
	v, _ := a.Params.Get("tag")
	return v
}

// WithTag returns a copy of the address with the tag set.
// An empty tag removes the parameter.
func (a NameAddr) WithTag(tag string) NameAddr {
	a = a.Clone()
	if tag == "" {
		a.Params = a.Params.Del("tag")
	} else {
		a.Params = a.Params.Set("tag", tag)
	}
	return a
}

// Clone returns a deep copy that shares no memory with a.
func (a NameAddr) Clone() NameAddr {
	a.Params = a.Params.Clone()
	return a
}

func (a NameAddr) IsZero() bool {
	return a.DisplayName == "" && a.URI == "" && len(a.Params) == 0
}

// Equal compares URI and all parameters including the tag.
func (a NameAddr) Equal(b NameAddr) bool {
	return a.URI == b.URI && a.Params.Equal(b.Params)
}

// EqualIgnoreTag compares URI and parameters except the tag.
func (a NameAddr) EqualIgnoreTag(b NameAddr) bool {
	return a.URI == b.URI && a.Params.Clone().Del("tag").Equal(b.Params.Clone().Del("tag"))
}

func (a NameAddr) appendTo(b []byte) []byte {
	if a.DisplayName != "" {
		b = append(b, strconv.Quote(a.DisplayName)...)
		b = append(b, ' ')
	}
	b = append(b, '<')
	b = append(b, a.URI...)
	b = append(b, '>')
	return a.Params.appendTo(b)
}

func (a NameAddr) String() string { return string(a.appendTo(nil)) }

// MagicCookie prefixes branches of RFC 3261 compliant Via headers.
const MagicCookie = "z9hG4bK"

// Via is a single Via header value.
type Via struct {
	Transport string
	Host      string
	Port      uint16
	Params    Params
}

func (v Via) Branch() string {
	b, _ := v.Params.Get("branch")
	return b
}

// SentBy returns host[:port] of the hop.
func (v Via) SentBy() string {
	host := util.LCase(v.Host)
	if v.Port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(int(v.Port))
}

// IsRFC3261 reports whether the branch starts with [MagicCookie].
func (v Via) IsRFC3261() bool { return strings.HasPrefix(v.Branch(), MagicCookie) }

func (v Via) Clone() Via {
	v.Params = v.Params.Clone()
	return v
}

func (v Via) appendTo(b []byte) []byte {
	b = append(b, "SIP/2.0/"...)
	b = append(b, util.UCase(v.Transport)...)
	b = append(b, ' ')
	b = append(b, v.SentBy()...)
	return v.Params.appendTo(b)
}

func (v Via) String() string { return string(v.appendTo(nil)) }

// CSeq is the CSeq header value.
type CSeq struct {
	Seq    uint32
	Method Method
}

func (c CSeq) String() string { return strconv.FormatUint(uint64(c.Seq), 10) + " " + string(c.Method) }

// RAck is the RAck header value of a PRACK request (RFC 3262).
type RAck struct {
	RSeq   uint32
	CSeq   uint32
	Method Method
}

func (r RAck) IsZero() bool { return r.RSeq == 0 && r.CSeq == 0 && r.Method == "" }

func (r RAck) String() string { return fmt.Sprintf("%d %d %s", r.RSeq, r.CSeq, r.Method) }

// Header is an opaque header passed through untouched.
type Header struct {
	Name  string
	Value string
}
