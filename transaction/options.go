package transaction

import (
	"log/slog"
	"time"

	"github.com/ghettovoice/siptx/internal/log"
	"github.com/ghettovoice/siptx/sip"
)

// Rel100Support is the layer level support of reliable provisional responses (RFC 3262).
type Rel100Support int

const (
	Rel100Undefined Rel100Support = iota
	Rel100Supported
	Rel100Required
)

func (s Rel100Support) String() string {
	switch s {
	case Rel100Supported:
		return "supported"
	case Rel100Required:
		return "required"
	default:
		return "undefined"
	}
}

// LayerOptions configures a [Layer]. The zero value is usable.
type LayerOptions struct {
	// Capacity limits the number of live transactions.
	// Zero means [DefaultCapacity].
	Capacity int
	Timings  sip.TimingConfig
	Rel100   Rel100Support
	// Supported lists extension option tags the layer accepts in Require headers
	// besides 100rel.
	Supported []string
	// Proxy makes new transactions act as proxy transactions.
	Proxy bool
	// ManualCancelResponse disables the automatic response to CANCEL.
	ManualCancelResponse bool
	// ManualPrackResponse disables the automatic response to PRACK.
	ManualPrackResponse bool
	// ProceedingTimeout bounds the time an INVITE client transaction waits in InviteProceeding.
	// Zero disables the timer.
	ProceedingTimeout time.Duration
	// Via is the template of the top Via header added to outgoing requests.
	Via sip.Via
	// Timers drives transaction timers, defaults to a [TimerService].
	Timers Timers
	// Stats receives accounting events, defaults to a noop sink.
	Stats Stats
	// ReliableResponsePolicy decides about reliable provisional responses,
	// defaults to an [RSeqTracker].
	ReliableResponsePolicy ReliableResponsePolicy
	Log                    *slog.Logger
}

func (o *LayerOptions) capacity() int {
	if o == nil || o.Capacity <= 0 {
		return DefaultCapacity
	}
	return o.Capacity
}

func (o *LayerOptions) timings() sip.TimingConfig {
	if o == nil {
		return sip.TimingConfig{}
	}
	return o.Timings
}

func (o *LayerOptions) rel100() Rel100Support {
	if o == nil {
		return Rel100Undefined
	}
	return o.Rel100
}

func (o *LayerOptions) supported() []string {
	if o == nil {
		return nil
	}
	return o.Supported
}

func (o *LayerOptions) proxy() bool { return o != nil && o.Proxy }

func (o *LayerOptions) manualCancel() bool { return o != nil && o.ManualCancelResponse }

func (o *LayerOptions) manualPrack() bool { return o != nil && o.ManualPrackResponse }

func (o *LayerOptions) proceedingTimeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.ProceedingTimeout
}

func (o *LayerOptions) via() sip.Via {
	if o == nil || o.Via.Host == "" {
		return sip.Via{Transport: "UDP", Host: "localhost"}
	}
	return o.Via.Clone()
}

func (o *LayerOptions) timers() Timers {
	if o == nil || o.Timers == nil {
		return NewTimerService()
	}
	return o.Timers
}

func (o *LayerOptions) stats() Stats {
	if o == nil || o.Stats == nil {
		return noopStats{}
	}
	return o.Stats
}

func (o *LayerOptions) reliablePolicy() ReliableResponsePolicy {
	if o == nil || o.ReliableResponsePolicy == nil {
		return NewRSeqTracker()
	}
	return o.ReliableResponsePolicy
}

func (o *LayerOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// TransactionOptions overrides layer options for a single client transaction.
type TransactionOptions struct {
	Proxy bool
	// Request is a template of the outgoing request.
	// The transaction takes ownership of it.
	Request *sip.Request
	Log     *slog.Logger
}

func (o *TransactionOptions) proxy() bool { return o != nil && o.Proxy }

func (o *TransactionOptions) request() *sip.Request {
	if o == nil {
		return nil
	}
	return o.Request
}

func (o *TransactionOptions) log() *slog.Logger {
	if o == nil {
		return nil
	}
	return o.Log
}
