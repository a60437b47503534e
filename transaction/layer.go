package transaction

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/siptx/internal/types"
	"github.com/ghettovoice/siptx/internal/util"
	"github.com/ghettovoice/siptx/sip"
)

// NewTransactionFunc is called for every server transaction created by an inbound request,
// after the transaction processed the request.
type NewTransactionFunc = func(ctx context.Context, tx *Transaction) error

// Layer is the transaction layer. It owns all transactions
// and routes inbound messages to them.
type Layer struct {
	tp       Transport
	reg      *Registry
	timers   Timers
	stats    Stats
	policy   ReliableResponsePolicy
	log      *slog.Logger
	timings  sip.TimingConfig
	via      sip.Via
	rel100   Rel100Support
	support  []string
	proxy    bool
	manCncl  bool
	manPrack bool
	procTout time.Duration

	closed  atomic.Bool
	onNewTx types.CallbackManager[NewTransactionFunc]
}

// NewLayer creates a transaction layer sending messages through tp.
// Options may be nil.
func NewLayer(tp Transport, opts *LayerOptions) (*Layer, error) {
	if tp == nil {
		return nil, errtrace.Wrap(NewBadParameterError("transport is nil"))
	}
	l := &Layer{
		tp:       tp,
		reg:      NewRegistry(opts.capacity()),
		timers:   opts.timers(),
		stats:    opts.stats(),
		policy:   opts.reliablePolicy(),
		log:      opts.log(),
		timings:  opts.timings(),
		via:      opts.via(),
		rel100:   opts.rel100(),
		support:  slices.Clone(opts.supported()),
		proxy:    opts.proxy(),
		manCncl:  opts.manualCancel(),
		manPrack: opts.manualPrack(),
		procTout: opts.proceedingTimeout(),
	}
	return l, nil
}

func (l *Layer) env() Env {
	return Env{
		Reliable:          l.tp.Reliable(),
		Timings:           l.timings,
		ProceedingTimeout: l.procTout,
	}
}

// NewTransaction creates a client transaction in Idle state.
// The key supplies Call-ID, From, To and CSeq of the request; an empty Call-ID is generated.
// The transaction is matched against responses once a request is sent.
func (l *Layer) NewTransaction(method sip.Method, key Key, opts *TransactionOptions) (*Transaction, error) {
	if l.closed.Load() {
		return nil, errtrace.Wrap(ErrLayerClosed)
	}
	if !method.IsValid() || method == sip.MethodAck {
		return nil, errtrace.Wrap(NewBadParameterError("invalid transaction method %q", method))
	}

	tx, err := newTransaction(l, RoleUAC, method, l.proxy || opts.proxy(), opts.log())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.key = key.Clone()
	if tx.key.CallID == "" {
		tx.key.CallID = sip.GenerateCallID()
	}
	tx.outbound = opts.request()

	tx.log.LogAttrs(context.Background(), slog.LevelDebug, "client transaction created", slog.Any("transaction", tx))
	return tx, nil
}

func (l *Layer) newServerTransaction(ctx context.Context, req *sip.Request, key Key) (*Transaction, error) {
	tx, err := newTransaction(l, RoleUAS, req.Method, l.proxy, nil)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	tx.key = key
	if err := l.reg.Insert(tx.id, RoleUAS, req.Method, key); err != nil {
		tx.mu.Lock()
		tx.terminateLocked(ctx, new(outbox), ReasonError)
		tx.mu.Unlock()
		return nil, errtrace.Wrap(err)
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "server transaction created", slog.Any("transaction", tx))
	return tx, nil
}

// retire releases everything the layer keeps for a terminated transaction.
func (l *Layer) retire(tx *Transaction, reason Reason) {
	l.reg.release(tx.id)
	l.tp.Release(tx.id)
	if tx.role == RoleUAC && tx.method == sip.MethodInvite {
		if f, ok := l.policy.(dialogForgetter); ok {
			f.Forget(tx.key.CallID, tx.key.From.Tag())
		}
	}
	l.stats.TransactionTerminated(tx.role, tx.method, reason)
}

// unsupported returns the option tags of require the layer does not support.
func (l *Layer) unsupported(require []string) []string {
	var opts []string
	for _, opt := range require {
		if util.EqFold(opt, sip.Ext100rel) && l.rel100 != Rel100Undefined {
			continue
		}
		if util.ContainsFold(l.support, opt) {
			continue
		}
		opts = append(opts, opt)
	}
	return opts
}

// OnNewTransaction registers a callback for new server transactions.
func (l *Layer) OnNewTransaction(fn NewTransactionFunc) (remove func()) {
	return l.onNewTx.Add(fn)
}

// Lookup returns a live transaction by its handle.
func (l *Layer) Lookup(id ID) *Transaction { return l.reg.Lookup(id) }

// Len returns the number of live transactions.
func (l *Layer) Len() int { return l.reg.Len() }

// Timings returns the timer configuration of the layer.
func (l *Layer) Timings() sip.TimingConfig { return l.timings }

// Close terminates every live transaction. New transactions and messages are rejected afterwards.
func (l *Layer) Close(ctx context.Context) error {
	if !l.closed.CompareAndSwap(false, true) {
		return errtrace.Wrap(ErrLayerClosed)
	}
	txs := l.reg.all()
	for _, tx := range txs {
		tx.Terminate(ctx, ReasonNormal)
	}
	l.log.LogAttrs(ctx, slog.LevelDebug, "transaction layer closed", slog.Int("terminated", len(txs)))
	return nil
}

type notifyType int

const (
	notifyState notifyType = iota
	notifyMessage
	notifyReliable
	notifyCancelled
	notifyAck
	notifyAction
)

type notification struct {
	tx     *Transaction
	kind   notifyType
	state  State
	reason Reason
	msg    sip.Message
	rseq   uint32
	peer   *Transaction
	action func(ctx context.Context)
}

// outbox collects notifications produced under transaction locks.
type outbox struct {
	types.Queue[notification]
}

func (ob *outbox) message(tx *Transaction, msg sip.Message) {
	ob.Push(notification{tx: tx, kind: notifyMessage, msg: msg})
}

// flush delivers queued notifications. It must be called without holding transaction locks.
// A failed callback terminates its transaction with [ReasonError].
func (l *Layer) flush(ctx context.Context, ob *outbox) {
	for {
		n, ok := ob.Pop()
		if !ok {
			return
		}
		if err := n.tx.deliver(ctx, n); err != nil {
			n.tx.log.LogAttrs(ctx, slog.LevelWarn, "transaction callback failed",
				slog.Any("transaction", n.tx),
				slog.Any("error", err),
			)
			n.tx.mu.Lock()
			n.tx.terminateLocked(ctx, ob, ReasonError)
			n.tx.mu.Unlock()
		}
	}
}

func (tx *Transaction) deliver(ctx context.Context, n notification) error {
	ctx = context.WithValue(ctx, txCtxKey, tx)

	switch n.kind {
	case notifyState:
		for cb := range tx.onState.All() {
			if err := cb(ctx, tx, n.state, n.reason); err != nil {
				return errtrace.Wrap(err)
			}
		}
	case notifyMessage:
		for cb := range tx.onMsg.All() {
			if err := cb(ctx, tx, n.msg); err != nil {
				return errtrace.Wrap(err)
			}
		}
	case notifyReliable:
		if tx.State() == StateTerminated {
			return nil
		}
		res := n.msg.(*sip.Response) //nolint:forcetypeassert
		for cb := range tx.onReliable.All() {
			if err := cb(ctx, tx, res, n.rseq); err != nil {
				return errtrace.Wrap(err)
			}
		}
	case notifyCancelled:
		for cb := range tx.onCancelled.All() {
			if err := cb(ctx, tx, n.peer); err != nil {
				return errtrace.Wrap(err)
			}
		}
	case notifyAck:
		ack, _ := n.msg.(*sip.Request)
		for cb := range tx.onAckReceived.All() {
			if err := cb(ctx, tx, ack); err != nil {
				return errtrace.Wrap(err)
			}
		}
	case notifyAction:
		n.action(ctx)
	}
	return nil
}
