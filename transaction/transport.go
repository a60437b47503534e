package transaction

//go:generate mockgen -destination=../internal/testutil/txmock/transport.go -package=txmock . Transport,Timers

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ghettovoice/siptx/sip"
)

// ID is a registry slot handle of a transaction.
// IDs are never reused within a layer.
type ID uint64

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

func (id ID) LogValue() slog.Value { return slog.Uint64Value(uint64(id)) }

// ResolvePolicy tells the transport how to pick the destination address.
type ResolvePolicy string

const (
	// ResolveCached reuses the address already resolved for the transaction or its peer.
	ResolveCached ResolvePolicy = "cached"
	// ResolveFresh resolves the destination again, ACK for 2xx uses it.
	ResolveFresh ResolvePolicy = "fresh"
	// ResolveRetry resolves the next candidate address after a failure.
	// The transaction stays registered when the send fails.
	ResolveRetry ResolvePolicy = "retry"
)

// OutboundMessage is a message handed to the [Transport].
type OutboundMessage struct {
	TxID ID
	// Peer is the transaction whose resolved address may be reused, zero when none.
	Peer    ID
	Message sip.Message
	Resolve ResolvePolicy
}

// Transport sends messages on behalf of transactions.
// It keeps the last sent buffer and the resolved address per transaction.
type Transport interface {
	Send(ctx context.Context, msg *OutboundMessage) error
	// RetransmitLast sends the last buffer of the transaction again.
	RetransmitLast(ctx context.Context, id ID) error
	// ResetAddressCache drops the resolved address of the transaction.
	ResetAddressCache(id ID)
	// Release frees everything kept for the transaction.
	Release(id ID)
	// Reliable reports whether the transport is reliable (TCP, TLS, SCTP).
	Reliable() bool
}

// Timers arms transaction timers.
// Callbacks run on their own goroutine; a callback of a released timer must not run.
type Timers interface {
	Arm(id ID, kind TimerKind, d time.Duration, fn func())
	ReleaseAll(id ID)
}
