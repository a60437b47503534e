package transport

import (
	"cmp"
	"context"
	"net"
	"net/netip"
	"slices"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/miekg/dns"
)

// DNSResolver looks up the records used to locate a destination (RFC 3263).
type DNSResolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupSRV(ctx context.Context, service, proto, host string) ([]*net.SRV, error)
	LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error)
}

// Resolver is the default [DNSResolver].
// A and SRV lookups go through [net.Resolver], NAPTR queries are sent directly to the name server.
type Resolver struct {
	net.Resolver

	// NameServer is the "host[:port]" of the server NAPTR queries are sent to.
	// If empty, the first server from /etc/resolv.conf is used.
	NameServer string
	// Timeout of a NAPTR query, 5 seconds if zero.
	Timeout time.Duration
}

func (r *Resolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	ips, err := r.Resolver.LookupIP(ctx, network, host)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	for i, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			ips[i] = ip4
		}
	}
	return ips, nil
}

func (r *Resolver) LookupSRV(ctx context.Context, service, proto, host string) ([]*net.SRV, error) {
	_, srvs, err := r.Resolver.LookupSRV(ctx, service, proto, host)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return srvs, nil
}

// NAPTR is a naming authority pointer record (RFC 3403).
type NAPTR struct {
	Order      uint16
	Preference uint16
	// Flags is "s" when Replacement names an SRV record.
	Flags string
	// Service is "SIP+D2U" for SIP over UDP.
	Service     string
	Regexp      string
	Replacement string
}

// LookupNAPTR returns the NAPTR records of host ordered by Order and Preference.
func (r *Resolver) LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeNAPTR)
	m.RecursionDesired = true

	ns, err := r.nameserver()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	client := &dns.Client{Timeout: r.timeout()}
	resp, _, err := client.ExchangeContext(ctx, m, ns)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, errtrace.Wrap(&net.DNSError{
			Err:        dns.RcodeToString[resp.Rcode],
			Name:       host,
			IsNotFound: resp.Rcode == dns.RcodeNameError,
		})
	}

	recs := make([]*NAPTR, 0, len(resp.Answer))
	for _, ans := range resp.Answer {
		if rr, ok := ans.(*dns.NAPTR); ok {
			recs = append(recs, &NAPTR{
				Order:       rr.Order,
				Preference:  rr.Preference,
				Flags:       rr.Flags,
				Service:     rr.Service,
				Regexp:      rr.Regexp,
				Replacement: rr.Replacement,
			})
		}
	}
	slices.SortFunc(recs, func(a, b *NAPTR) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Preference, b.Preference)
	})
	return recs, nil
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 5 * time.Second
}

func (r *Resolver) nameserver() (string, error) {
	if r.NameServer != "" {
		if _, _, err := net.SplitHostPort(r.NameServer); err != nil {
			return net.JoinHostPort(r.NameServer, "53"), nil //nolint:nilerr
		}
		return r.NameServer, nil
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", errtrace.Wrap(err)
	}
	if len(conf.Servers) == 0 {
		return "", errtrace.Wrap(&net.DNSError{Err: "no DNS servers configured", Name: "resolv.conf"})
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

var defResolver = new(Resolver)

func DefaultResolver() *Resolver { return defResolver }

const naptrServiceUDP = "SIP+D2U"

// resolveTarget returns the addresses of the target in the order they should be tried.
// Numeric hosts are used as is. A domain with an explicit port is looked up with A/AAAA,
// otherwise NAPTR and SRV records are consulted before falling back to A/AAAA with defPort.
func resolveTarget(ctx context.Context, rslv DNSResolver, tg Target, defPort uint16) ([]netip.AddrPort, error) {
	port := tg.Port
	if port == 0 {
		port = defPort
	}
	if ip, err := netip.ParseAddr(tg.Host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(ip.Unmap(), port)}, nil
	}

	if _, ok := dns.IsDomainName(tg.Host); !ok {
		return nil, errtrace.Wrap(NewInvalidDestinationError("bad host %q", tg.Host))
	}
	name := dns.CanonicalName(tg.Host)
	if tg.Port != 0 {
		return errtrace.Wrap2(lookupAddrs(ctx, rslv, name, port))
	}

	var srvs []*net.SRV
	if recs, err := rslv.LookupNAPTR(ctx, name); err == nil {
		for _, rec := range recs {
			if !strings.EqualFold(rec.Flags, "s") || !strings.EqualFold(rec.Service, naptrServiceUDP) {
				continue
			}
			if srvs, err = rslv.LookupSRV(ctx, "", "", rec.Replacement); err == nil && len(srvs) > 0 {
				break
			}
		}
	}
	if len(srvs) == 0 {
		srvs, _ = rslv.LookupSRV(ctx, "sip", "udp", name)
	}

	var addrs []netip.AddrPort
	for _, srv := range srvs {
		found, err := lookupAddrs(ctx, rslv, srv.Target, srv.Port)
		if err != nil {
			continue
		}
		addrs = append(addrs, found...)
	}
	if len(addrs) > 0 {
		return addrs, nil
	}
	return errtrace.Wrap2(lookupAddrs(ctx, rslv, name, port))
}

func lookupAddrs(ctx context.Context, rslv DNSResolver, host string, port uint16) ([]netip.AddrPort, error) {
	ips, err := rslv.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	addrs := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, netip.AddrPortFrom(a.Unmap(), port))
		}
	}
	if len(addrs) == 0 {
		return nil, errtrace.Wrap(&net.DNSError{Err: "no addresses found", Name: host, IsNotFound: true})
	}
	return addrs, nil
}
