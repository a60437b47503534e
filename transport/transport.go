// Package transport implements [transaction.Transport] over datagram connections.
//
// [PacketTransport] renders messages, locates their destination (RFC 3263 for requests,
// RFC 3261 section 18.2.2 for responses) and keeps the last sent buffer and the resolved
// address of every transaction so timers can retransmit without rendering again.
package transport

//go:generate errtrace -w .
//go:generate mockgen -destination=../internal/testutil/netmock/packet_conn.go -package=netmock net PacketConn

import (
	"github.com/ghettovoice/siptx/internal/errorutil"
)

// Error is a sentinel error of the transport.
type Error = errorutil.Error

const (
	ErrTransportClosed     Error = "transport closed"
	ErrInvalidArgument     Error = "invalid argument"
	ErrInvalidDestination  Error = "invalid destination"
	ErrNoDestination       Error = "no more destinations"
	ErrNothingToRetransmit Error = "nothing to retransmit"
)

// NewInvalidArgumentError wraps args with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewWrapperError(ErrInvalidArgument, args...) //errtrace:skip
}

// NewInvalidDestinationError wraps args with [ErrInvalidDestination].
func NewInvalidDestinationError(args ...any) error {
	return errorutil.NewWrapperError(ErrInvalidDestination, args...) //errtrace:skip
}
