package transport

import (
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/siptx/sip"
)

// Target is a destination host with an optional port.
type Target struct {
	// Host is an IP literal without brackets or a domain name.
	Host string
	// Port is zero when not specified.
	Port uint16
}

func (tg Target) String() string {
	host := tg.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if tg.Port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(int(tg.Port))
}

// RequestTarget extracts the destination of a request from its SIP Request-URI.
// The maddr parameter overrides the host.
func RequestTarget(uri string) (Target, error) {
	rest, ok := cutPrefixFold(uri, "sip:")
	if !ok {
		return Target{}, errtrace.Wrap(NewInvalidDestinationError("unsupported Request-URI %q", uri))
	}
	rest, _, _ = strings.Cut(rest, "?")
	hostport, params, _ := strings.Cut(rest, ";")
	if i := strings.LastIndexByte(hostport, '@'); i >= 0 {
		hostport = hostport[i+1:]
	}

	tg, err := parseHostPort(hostport)
	if err != nil {
		return Target{}, errtrace.Wrap(err)
	}
	for p := range strings.SplitSeq(params, ";") {
		name, val, _ := strings.Cut(p, "=")
		if strings.EqualFold(strings.TrimSpace(name), "maddr") && val != "" {
			tg.Host = strings.Trim(strings.TrimSpace(val), "[]")
		}
	}
	return tg, nil
}

// ResponseTarget returns the destination of a response from its top Via (RFC 3261 section 18.2.2).
// The received parameter overrides the sent-by host, rport with a value overrides the port.
func ResponseTarget(res *sip.Response) (Target, error) {
	via, ok := res.TopVia()
	if !ok {
		return Target{}, errtrace.Wrap(NewInvalidDestinationError("response has no Via"))
	}

	tg := Target{Host: strings.Trim(via.Host, "[]"), Port: via.Port}
	if v, ok := via.Params.Get("received"); ok && v != "" {
		tg.Host = strings.Trim(v, "[]")
	}
	if v, ok := via.Params.Get("rport"); ok && v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return Target{}, errtrace.Wrap(NewInvalidDestinationError("bad rport %q", v))
		}
		tg.Port = uint16(port)
	}
	if tg.Host == "" {
		return Target{}, errtrace.Wrap(NewInvalidDestinationError("empty Via host"))
	}
	return tg, nil
}

func parseHostPort(s string) (Target, error) {
	var tg Target
	host, port := s, ""
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return tg, errtrace.Wrap(NewInvalidDestinationError("bad host %q", s))
		}
		host = s[1:end]
		if rest := s[end+1:]; rest != "" {
			if rest[0] != ':' {
				return tg, errtrace.Wrap(NewInvalidDestinationError("bad host %q", s))
			}
			port = rest[1:]
		}
	} else if i := strings.LastIndexByte(s, ':'); i >= 0 {
		host, port = s[:i], s[i+1:]
	}

	if host == "" {
		return tg, errtrace.Wrap(NewInvalidDestinationError("empty host"))
	}
	tg.Host = host
	if port != "" {
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil || p == 0 {
			return tg, errtrace.Wrap(NewInvalidDestinationError("bad port %q", port))
		}
		tg.Port = uint16(p)
	}
	return tg, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}
