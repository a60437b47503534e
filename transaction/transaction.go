// Package transaction implements the SIP transaction layer of RFC 3261 with the
// reliable provisional responses extension of RFC 3262.
//
// A [Layer] owns the transactions, matches inbound messages to them and creates
// server transactions for new requests. Client transactions are created with
// [Layer.NewTransaction] and driven with the Send* methods of [Transaction].
//
// State machines are expressed as pure transition functions ([TransitUAC], [TransitUAS])
// returning effects that the transaction executes under its lock. Application callbacks
// always run after the lock is released.
package transaction

//go:generate errtrace -w .

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/siptx/internal/errorutil"
	"github.com/ghettovoice/siptx/internal/types"
	"github.com/ghettovoice/siptx/sip"
)

const txCtxKey types.ContextKey = "transaction"

// FromContext returns the transaction a callback or timer runs for.
func FromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(txCtxKey).(*Transaction)
	return tx, ok
}

type (
	// StateChangedFunc is called after every state change.
	StateChangedFunc = func(ctx context.Context, tx *Transaction, state State, reason Reason) error
	// MessageReceivedFunc is called for every accepted inbound message.
	MessageReceivedFunc = func(ctx context.Context, tx *Transaction, msg sip.Message) error
	// ReliableProvisionalFunc is called for an accepted reliable provisional response
	// that has to be acknowledged with PRACK.
	ReliableProvisionalFunc = func(ctx context.Context, tx *Transaction, res *sip.Response, rseq uint32) error
	// CancelledFunc is called on a server transaction targeted by a CANCEL request.
	CancelledFunc = func(ctx context.Context, tx *Transaction, cancel *Transaction) error
	// AckReceivedFunc is called when an INVITE server transaction receives ACK for its non-2xx response.
	AckReceivedFunc = func(ctx context.Context, tx *Transaction, ack *sip.Request) error
)

// Transaction is a SIP client or server transaction.
// All methods are safe for concurrent use.
type Transaction struct {
	layer  *Layer
	id     ID
	role   Role
	method sip.Method
	proxy  bool
	log    *slog.Logger
	ctx    context.Context

	state atomicState

	mu             sync.Mutex
	fsm            *stateless.StateMachine
	lastState      State
	termReason     Reason
	key            Key
	reqURI         string
	request        *sip.Request
	outbound       *sip.Request
	lastAck        *sip.Request
	savedTo        sip.NameAddr
	savedFrom      sip.NameAddr
	origTo         sip.NameAddr
	non2xxTo       sip.NameAddr
	hasNon2xxTo    bool
	tagInTo        bool
	initialRequest bool
	ackSent        bool
	resCode        int
	timestamp      string
	rseq           uint32
	unsupported    []string
	retransmits    int
	timerGen       uint64

	cancelPair  atomic.Uint64
	prackParent atomic.Uint64

	onState       types.CallbackManager[StateChangedFunc]
	onMsg         types.CallbackManager[MessageReceivedFunc]
	onReliable    types.CallbackManager[ReliableProvisionalFunc]
	onCancelled   types.CallbackManager[CancelledFunc]
	onAckReceived types.CallbackManager[AckReceivedFunc]
}

func newTransaction(l *Layer, role Role, method sip.Method, proxy bool, logger *slog.Logger) (*Transaction, error) {
	if logger == nil {
		logger = l.log
	}
	tx := &Transaction{
		layer:  l,
		role:   role,
		method: method,
		proxy:  proxy,
		log:    logger,
	}
	id, err := l.reg.allocate(tx)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to allocate transaction",
			slog.String("role", string(role)),
			slog.String("method", string(method)),
			slog.Any("error", err),
		)
		return nil, errtrace.Wrap(err)
	}
	tx.id = id
	tx.ctx = context.WithValue(context.Background(), txCtxKey, tx)
	tx.state.Store(StateIdle)
	tx.initFSM()
	l.stats.TransactionCreated(role, method)
	return tx, nil
}

// uacMoves and uasMoves list the states each state may move to.
// A state listed among its own destinations may be re-entered.
var uacMoves = map[State][]State{
	StateIdle:                    {StateInviteCalling, StateGenRequestSent, StateCancelSent},
	StateInviteCalling:           {StateInviteProceeding, StateInviteCancelling, StateInviteFinalResponseRcvd, StateInviteProxy2xxRcvd},
	StateInviteProceeding:        {StateInviteProceedingTimeout, StateInviteCancelling, StateInviteFinalResponseRcvd, StateInviteProxy2xxRcvd},
	StateInviteProceedingTimeout: {StateInviteCancelling, StateInviteFinalResponseRcvd, StateInviteProxy2xxRcvd},
	StateInviteCancelling:        {StateInviteFinalResponseRcvd, StateInviteProxy2xxRcvd},
	StateInviteFinalResponseRcvd: {StateInviteAckSent},
	StateInviteAckSent:           nil,
	StateInviteProxy2xxRcvd:      {StateInviteProxy2xxRcvd},
	StateGenRequestSent:          {StateGenProceeding, StateGenCancelling, StateGenFinalResponseRcvd},
	StateGenProceeding:           {StateGenCancelling, StateGenFinalResponseRcvd},
	StateGenCancelling:           {StateGenFinalResponseRcvd},
	StateGenFinalResponseRcvd:    nil,
	StateCancelSent:              {StateCancelProceeding, StateCancelFinalResponseRcvd},
	StateCancelProceeding:        {StateCancelFinalResponseRcvd},
	StateCancelFinalResponseRcvd: nil,
}

var uasMoves = map[State][]State{
	StateIdle:                       {StateInviteRequestRcvd, StateGenRequestRcvd, StateCancelRequestRcvd, StatePrackRequestRcvd},
	StateInviteRequestRcvd:          {StateInviteRelProvResponseSent, StateInviteFinalResponseSent, StateInviteProxy2xxResponseSent},
	StateInviteRelProvResponseSent:  {StateInvitePrackCompleted, StateInviteFinalResponseSent, StateInviteProxy2xxResponseSent},
	StateInvitePrackCompleted:       {StateInviteRelProvResponseSent, StateInviteFinalResponseSent, StateInviteProxy2xxResponseSent},
	StateInviteFinalResponseSent:    nil,
	StateInviteProxy2xxResponseSent: {StateInviteProxy2xxResponseSent},
	StateGenRequestRcvd:             {StateGenFinalResponseSent},
	StateGenFinalResponseSent:       nil,
	StateCancelRequestRcvd:          {StateCancelFinalResponseSent},
	StateCancelFinalResponseSent:    nil,
	StatePrackRequestRcvd:           {StateGenFinalResponseSent},
}

func movesOf(role Role) map[State][]State {
	if role == RoleUAS {
		return uasMoves
	}
	return uacMoves
}

// initFSM declares every permitted move. The trigger of a move is its destination state,
// so firing a move the tables above do not list fails.
func (tx *Transaction) initFSM() {
	tx.fsm = stateless.NewStateMachineWithExternalStorage(
		func(context.Context) (stateless.State, error) {
			return tx.state.Load(), nil
		},
		func(_ context.Context, st stateless.State) error {
			tx.lastState = tx.state.Load()
			tx.state.Store(st.(State)) //nolint:forcetypeassert
			return nil
		},
		stateless.FiringImmediate,
	)

	states := UACStates
	if tx.role == RoleUAS {
		states = UASStates
	}
	for _, st := range states {
		tx.fsm.SetTriggerParameters(st, reflect.TypeOf(Transition{}))
	}
	for from, tos := range movesOf(tx.role) {
		cfg := tx.fsm.Configure(from).Permit(StateTerminated, StateTerminated)
		for _, to := range tos {
			if to == from {
				cfg.PermitReentry(to)
			} else {
				cfg.Permit(to, to)
			}
		}
	}
	tx.fsm.Configure(StateTerminated).OnEntry(tx.actTerminated)
	tx.fsm.OnTransitioned(tx.onTransitioned)
}

func (tx *Transaction) onTransitioned(ctx context.Context, t stateless.Transition) {
	from, to := t.Source.(State), t.Destination.(State) //nolint:forcetypeassert
	tx.layer.stats.StateChanged(tx.role, from, to)
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction state changed",
		slog.Any("transaction", tx),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (tx *Transaction) actTerminated(ctx context.Context, args ...any) error {
	tr := args[0].(Transition) //nolint:forcetypeassert
	tx.termReason = tr.Reason
	tx.outbound = nil
	tx.layer.retire(tx, tr.Reason)
	tx.cancelPair.Store(0)
	tx.prackParent.Store(0)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction terminated",
		slog.Any("transaction", tx),
		slog.Any("reason", tr.Reason),
	)
	return nil
}

func (tx *Transaction) env() Env { return tx.layer.env() }

func (tx *Transaction) transit(ev Event) (Transition, error) {
	if ev.Method == "" {
		ev.Method = tx.method
	}
	ev.Proxy = ev.Proxy || tx.proxy
	if tx.role == RoleUAC {
		return errtrace.Wrap2(TransitUAC(tx.state.Load(), ev, tx.env()))
	}
	return errtrace.Wrap2(TransitUAS(tx.state.Load(), ev, tx.env()))
}

// apply runs the transition and its effects. The caller holds the lock.
func (tx *Transaction) apply(ctx context.Context, ob *outbox, tr Transition) error {
	if tr.Ignored() {
		return nil
	}

	for _, eff := range tr.Effects {
		if eff.Kind == EffectRemoveFromRegistry {
			tx.layer.reg.Remove(tx.id)
		}
	}
	if tr.Changed() {
		if err := tx.fsm.FireCtx(ctx, tr.To, tr); err != nil {
			panic(fmt.Errorf("move from %q to %q: %w", tr.From, tr.To, err))
		}
	}

	var errs []error
	for _, eff := range tr.Effects {
		switch eff.Kind {
		case EffectSendBuffer:
			if err := tx.retransmit(ctx); err != nil {
				errs = append(errs, err)
			}
		case EffectArmTimer:
			tx.armTimer(ctx, eff.Timer, eff.Duration)
		case EffectReleaseTimers:
			tx.releaseTimers(ctx)
		case EffectEmitCallback:
			switch eff.Notify {
			case NotifyStateChanged:
				ob.Push(notification{tx: tx, kind: notifyState, state: tr.To, reason: tr.Reason})
			case NotifyAckReceived:
				ob.Push(notification{tx: tx, kind: notifyAck, msg: tx.lastAck})
			}
		}
	}
	return errtrace.Wrap(errorutil.Join(errs...))
}

func (tx *Transaction) retransmit(ctx context.Context) error {
	if err := tx.layer.tp.RetransmitLast(ctx, tx.id); err != nil {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "failed to retransmit message",
			slog.Any("transaction", tx),
			slog.Any("error", err),
		)
		return errtrace.Wrap(NewTransportFailureError(err))
	}
	tx.retransmits++
	tx.layer.stats.MessageRetransmitted(tx.role, tx.method)
	tx.log.LogAttrs(ctx, slog.LevelDebug, "message retransmitted",
		slog.Any("transaction", tx),
		slog.Int("count", tx.retransmits),
	)
	return nil
}

func (tx *Transaction) armTimer(ctx context.Context, kind TimerKind, d time.Duration) {
	gen := tx.timerGen
	tx.layer.timers.Arm(tx.id, kind, d, func() { tx.fireTimer(gen, kind, d) })
	tx.log.LogAttrs(ctx, slog.LevelDebug, "timer started",
		slog.Any("transaction", tx),
		slog.String("timer", string(kind)),
		slog.Time("expires_at", time.Now().Add(d)),
	)
}

func (tx *Transaction) releaseTimers(ctx context.Context) {
	tx.timerGen++
	tx.layer.timers.ReleaseAll(tx.id)
	tx.log.LogAttrs(ctx, slog.LevelDebug, "timers released", slog.Any("transaction", tx))
}

func (tx *Transaction) fireTimer(gen uint64, kind TimerKind, d time.Duration) {
	ctx := tx.ctx
	ob := new(outbox)

	tx.mu.Lock()
	if gen != tx.timerGen || tx.state.Load() == StateTerminated {
		tx.mu.Unlock()
		return
	}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "timer expired",
		slog.Any("transaction", tx),
		slog.String("timer", string(kind)),
	)

	tr, err := tx.transit(Event{Kind: EventTimer, Timer: kind, Interval: d})
	if err == nil {
		err = tx.apply(ctx, ob, tr)
	}
	if err != nil {
		tx.log.LogAttrs(ctx, slog.LevelWarn, "transaction timer failed",
			slog.Any("transaction", tx),
			slog.String("timer", string(kind)),
			slog.Any("error", err),
		)
		tx.terminateLocked(ctx, ob, ReasonNetworkError)
	}
	tx.mu.Unlock()

	tx.layer.flush(ctx, ob)
}

func (tx *Transaction) terminateLocked(ctx context.Context, ob *outbox, reason Reason) {
	tr, err := tx.transit(Event{Kind: EventTerminate, Reason: reason})
	if err != nil {
		panic(fmt.Errorf("terminate in state %q: %w", tx.state.Load(), err))
	}
	tx.apply(ctx, ob, tr) //nolint:errcheck
}

// Terminate moves the transaction to Terminated and releases it.
// Terminating an already terminated transaction is a no-op.
func (tx *Transaction) Terminate(ctx context.Context, reason Reason) {
	ob := new(outbox)
	tx.mu.Lock()
	tx.terminateLocked(ctx, ob, reason)
	tx.mu.Unlock()
	tx.layer.flush(ctx, ob)
}

// lockTxs locks transactions in ID order and returns the unlock function.
// Nil entries are skipped.
func lockTxs(txs ...*Transaction) (unlock func()) {
	txs = slices.DeleteFunc(slices.Clone(txs), func(tx *Transaction) bool { return tx == nil })
	slices.SortFunc(txs, func(a, b *Transaction) int { return cmp.Compare(a.id, b.id) })
	txs = slices.Compact(txs)
	for _, tx := range txs {
		tx.mu.Lock()
	}
	return func() {
		for i := len(txs) - 1; i >= 0; i-- {
			txs[i].mu.Unlock()
		}
	}
}

func (tx *Transaction) lockWithParent() (parent *Transaction, unlock func()) {
	parent = tx.layer.reg.Lookup(ID(tx.prackParent.Load()))
	return parent, lockTxs(tx, parent)
}

func (tx *Transaction) ignore(ctx context.Context, msg sip.Message, what string) {
	tx.layer.stats.MessageIgnored(tx.role, tx.method)
	tx.log.LogAttrs(ctx, slog.LevelDebug, what,
		slog.Any("transaction", tx),
		slog.Any("message", msg),
	)
}

// ID returns the registry handle of the transaction.
func (tx *Transaction) ID() ID { return tx.id }

func (tx *Transaction) Role() Role { return tx.role }

func (tx *Transaction) Method() sip.Method { return tx.method }

// IsProxy reports whether the transaction follows proxy INVITE 2xx handling.
func (tx *Transaction) IsProxy() bool { return tx.proxy }

func (tx *Transaction) State() State { return tx.state.Load() }

// LastState returns the state preceding the current one.
func (tx *Transaction) LastState() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.lastState
}

// TerminationReason returns the reason the transaction terminated with.
func (tx *Transaction) TerminationReason() Reason {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.termReason
}

// Key returns a copy of the correlation key.
func (tx *Transaction) Key() Key {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.key.Clone()
}

// ResponseCode returns the last status code received or sent, zero if none.
func (tx *Transaction) ResponseCode() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.resCode
}

// Request returns a copy of the request the transaction was created for.
func (tx *Transaction) Request() *sip.Request {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.request.Clone()
}

// Timestamp returns the last Timestamp header value seen by the transaction.
func (tx *Transaction) Timestamp() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.timestamp
}

// TagInTo reports whether the original request carried a To tag.
func (tx *Transaction) TagInTo() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.tagInTo
}

// InitialRequest reports whether the request was sent without a To tag.
func (tx *Transaction) InitialRequest() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.initialRequest
}

// AckSent reports whether an ACK was sent for a final response.
func (tx *Transaction) AckSent() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.ackSent
}

// Unsupported returns extensions the request requires but the layer does not support.
func (tx *Transaction) Unsupported() []string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return slices.Clone(tx.unsupported)
}

// Retransmits returns the number of retransmitted buffers.
func (tx *Transaction) Retransmits() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.retransmits
}

// CancelPair returns the linked CANCEL or cancelled transaction, nil if none is alive.
func (tx *Transaction) CancelPair() *Transaction {
	return tx.layer.reg.Lookup(ID(tx.cancelPair.Load()))
}

// PrackParent returns the INVITE transaction a PRACK transaction acknowledges.
func (tx *Transaction) PrackParent() *Transaction {
	return tx.layer.reg.Lookup(ID(tx.prackParent.Load()))
}

// Layer returns the layer owning the transaction.
func (tx *Transaction) Layer() *Layer { return tx.layer }

// SetOutboundMessage sets the template of the next request sent by a client transaction.
// The transaction takes ownership of req.
func (tx *Transaction) SetOutboundMessage(req *sip.Request) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.outbound = req
}

// OnStateChanged registers a callback for state changes.
func (tx *Transaction) OnStateChanged(fn StateChangedFunc) (remove func()) {
	return tx.onState.Add(fn)
}

// OnMessageReceived registers a callback for accepted inbound messages.
func (tx *Transaction) OnMessageReceived(fn MessageReceivedFunc) (remove func()) {
	return tx.onMsg.Add(fn)
}

// OnReliableProvisional registers a callback for accepted reliable provisional responses.
func (tx *Transaction) OnReliableProvisional(fn ReliableProvisionalFunc) (remove func()) {
	return tx.onReliable.Add(fn)
}

// OnCancelled registers a callback invoked when a CANCEL targets the server transaction.
func (tx *Transaction) OnCancelled(fn CancelledFunc) (remove func()) {
	return tx.onCancelled.Add(fn)
}

// OnAckReceived registers a callback for ACK of a non-2xx final response.
func (tx *Transaction) OnAckReceived(fn AckReceivedFunc) (remove func()) {
	return tx.onAckReceived.Add(fn)
}

// LogValue implements [slog.LogValuer].
func (tx *Transaction) LogValue() slog.Value {
	if tx == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("id", tx.id),
		slog.String("role", string(tx.role)),
		slog.String("method", string(tx.method)),
		slog.String("state", string(tx.state.Load())),
	)
}

func (tx *Transaction) String() string {
	if tx == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s transaction %d", tx.method, tx.role, tx.id)
}
