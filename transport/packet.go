package transport

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/siptx/internal/log"
	"github.com/ghettovoice/siptx/internal/syncutil"
	"github.com/ghettovoice/siptx/sip"
	"github.com/ghettovoice/siptx/transaction"
)

// PacketTransportOptions configures a [PacketTransport].
type PacketTransportOptions struct {
	// DefaultPort is used when the destination has no port and no SRV record.
	// Default is 5060.
	DefaultPort uint16
	// Resolver locates destinations given by domain names.
	// If nil, [DefaultResolver] is used.
	Resolver DNSResolver
	Log      *slog.Logger
}

func (o *PacketTransportOptions) defPort() uint16 {
	if o == nil || o.DefaultPort == 0 {
		return 5060
	}
	return o.DefaultPort
}

func (o *PacketTransportOptions) resolver() DNSResolver {
	if o == nil || o.Resolver == nil {
		return DefaultResolver()
	}
	return o.Resolver
}

func (o *PacketTransportOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// PacketTransport is an unreliable [transaction.Transport] over a [net.PacketConn].
type PacketTransport struct {
	conn    net.PacketConn
	rslv    DNSResolver
	defPort uint16
	log     *slog.Logger
	closed  atomic.Bool
	dests   syncutil.Map[transaction.ID, *destination]
}

// destination is what the transport remembers about a transaction.
type destination struct {
	mu    sync.Mutex
	buf   []byte
	addrs []netip.AddrPort
	cur   int
}

func (d *destination) addr() (netip.AddrPort, bool) {
	if d.cur >= len(d.addrs) {
		return netip.AddrPort{}, false
	}
	return d.addrs[d.cur], true
}

// NewPacketTransport creates a transport writing to conn.
func NewPacketTransport(conn net.PacketConn, opts *PacketTransportOptions) (*PacketTransport, error) {
	if conn == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid connection"))
	}
	return &PacketTransport{
		conn:    conn,
		rslv:    opts.resolver(),
		defPort: opts.defPort(),
		log:     opts.log(),
	}, nil
}

func (*PacketTransport) Reliable() bool { return false }

func (tp *PacketTransport) LocalAddr() net.Addr { return tp.conn.LocalAddr() }

// Send renders the message and writes it to the destination chosen by the resolve policy.
// A CANCEL reuses the address of its peer INVITE when it has none yet.
func (tp *PacketTransport) Send(ctx context.Context, msg *transaction.OutboundMessage) error {
	if tp.closed.Load() {
		return errtrace.Wrap(ErrTransportClosed)
	}
	if msg == nil || msg.Message == nil {
		return errtrace.Wrap(NewInvalidArgumentError("empty message"))
	}

	var buf []byte
	switch m := msg.Message.(type) {
	case *sip.Request:
		buf = m.AppendTo(nil)
	case *sip.Response:
		buf = m.AppendTo(nil)
	default:
		return errtrace.Wrap(NewInvalidArgumentError("unexpected message type %T", msg.Message))
	}

	var peer []netip.AddrPort
	if msg.Peer != 0 {
		if pd, ok := tp.dests.Load(msg.Peer); ok {
			pd.mu.Lock()
			if a, ok := pd.addr(); ok {
				peer = []netip.AddrPort{a}
			}
			pd.mu.Unlock()
		}
	}

	d := tp.dests.LoadOrCreate(msg.TxID, func() *destination { return new(destination) })
	d.mu.Lock()
	defer d.mu.Unlock()

	switch msg.Resolve {
	case transaction.ResolveFresh:
		d.addrs, d.cur = nil, 0
	case transaction.ResolveRetry:
		if len(d.addrs) > 0 {
			d.cur++
			if d.cur >= len(d.addrs) {
				d.addrs, d.cur = nil, 0
				return errtrace.Wrap(ErrNoDestination)
			}
		}
	}
	if len(d.addrs) == 0 {
		if len(peer) > 0 {
			d.addrs = peer
		} else {
			addrs, err := tp.locate(ctx, msg.Message)
			if err != nil {
				return errtrace.Wrap(err)
			}
			d.addrs = addrs
		}
	}

	addr, _ := d.addr()
	if err := tp.writeTo(ctx, buf, addr); err != nil {
		return errtrace.Wrap(err)
	}
	d.buf = buf
	tp.log.LogAttrs(ctx, slog.LevelDebug, "message sent",
		slog.Any("transaction", msg.TxID),
		slog.Any("message", msg.Message),
		slog.Any("address", net.UDPAddrFromAddrPort(addr)),
	)
	return nil
}

func (tp *PacketTransport) locate(ctx context.Context, msg sip.Message) ([]netip.AddrPort, error) {
	var (
		tg  Target
		err error
	)
	switch m := msg.(type) {
	case *sip.Request:
		tg, err = RequestTarget(m.URI)
	case *sip.Response:
		tg, err = ResponseTarget(m)
	}
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return errtrace.Wrap2(resolveTarget(ctx, tp.rslv, tg, tp.defPort))
}

func (tp *PacketTransport) writeTo(ctx context.Context, buf []byte, addr netip.AddrPort) error {
	if d, ok := ctx.Deadline(); ok {
		if err := tp.conn.SetWriteDeadline(d); err != nil {
			return errtrace.Wrap(err)
		}
		defer tp.conn.SetWriteDeadline(time.Time{}) //nolint:errcheck
	}
	_, err := tp.conn.WriteTo(buf, net.UDPAddrFromAddrPort(addr))
	return errtrace.Wrap(err)
}

// RetransmitLast writes the last sent buffer of the transaction to the same address.
func (tp *PacketTransport) RetransmitLast(ctx context.Context, id transaction.ID) error {
	if tp.closed.Load() {
		return errtrace.Wrap(ErrTransportClosed)
	}
	d, ok := tp.dests.Load(id)
	if !ok {
		return errtrace.Wrap(ErrNothingToRetransmit)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	addr, ok := d.addr()
	if !ok || d.buf == nil {
		return errtrace.Wrap(ErrNothingToRetransmit)
	}
	if err := tp.writeTo(ctx, d.buf, addr); err != nil {
		return errtrace.Wrap(err)
	}
	tp.log.LogAttrs(ctx, slog.LevelDebug, "message retransmitted",
		slog.Any("transaction", id),
		slog.Any("address", net.UDPAddrFromAddrPort(addr)),
	)
	return nil
}

// ResetAddressCache forgets the resolved address; the buffer is kept.
func (tp *PacketTransport) ResetAddressCache(id transaction.ID) {
	if d, ok := tp.dests.Load(id); ok {
		d.mu.Lock()
		d.addrs, d.cur = nil, 0
		d.mu.Unlock()
	}
}

func (tp *PacketTransport) Release(id transaction.ID) {
	tp.dests.LoadAndDelete(id)
}

// Tracked returns the number of transactions the transport keeps state for.
func (tp *PacketTransport) Tracked() int { return tp.dests.Len() }

// Close closes the connection and drops every kept buffer.
func (tp *PacketTransport) Close() error {
	if !tp.closed.CompareAndSwap(false, true) {
		return errtrace.Wrap(ErrTransportClosed)
	}
	tp.dests.Clear()
	return errtrace.Wrap(tp.conn.Close())
}
