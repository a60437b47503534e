package transaction

import (
	"context"
	"log/slog"
	"slices"

	"braces.dev/errtrace"

	"github.com/ghettovoice/siptx/sip"
)

// HandleMessage routes a message received from the transport.
// Responses go to the matching client transaction, requests to the matching
// server transaction or to a new one. ACK and responses without a match
// are rejected with [ErrTransactionNotFound] and left to the caller.
func (l *Layer) HandleMessage(ctx context.Context, msg sip.Message) error {
	if l.closed.Load() {
		return errtrace.Wrap(ErrLayerClosed)
	}

	switch m := msg.(type) {
	case *sip.Request:
		return errtrace.Wrap(l.handleRequest(ctx, m))
	case *sip.Response:
		return errtrace.Wrap(l.handleResponse(ctx, m))
	default:
		return errtrace.Wrap(NewBadParameterError("unexpected message type %T", msg))
	}
}

func (l *Layer) handleResponse(ctx context.Context, res *sip.Response) error {
	if err := res.Validate(); err != nil {
		return errtrace.Wrap(NewBadParameterError(err))
	}

	tx := l.reg.Find(RoleUAC, res.CSeq.Method, KeyFromMessage(res))
	if tx == nil {
		l.log.LogAttrs(ctx, slog.LevelDebug, "no transaction matches the response", slog.Any("message", res))
		return errtrace.Wrap(ErrTransactionNotFound)
	}

	ob := new(outbox)
	tx.mu.Lock()
	var err error
	if tx.state.Load() == StateTerminated {
		err = ErrTransactionNotFound
	} else if err = tx.recvResponse(ctx, ob, res); err != nil {
		tx.terminateLocked(ctx, ob, ReasonError)
	}
	tx.mu.Unlock()
	l.flush(ctx, ob)
	return errtrace.Wrap(err)
}

func (l *Layer) handleRequest(ctx context.Context, req *sip.Request) error {
	if err := req.Validate(); err != nil {
		return errtrace.Wrap(NewBadParameterError(err))
	}

	key := KeyFromMessage(req)
	tx := l.reg.Find(RoleUAS, req.Method, key)
	created := false
	if tx == nil {
		if req.Method == sip.MethodAck {
			l.log.LogAttrs(ctx, slog.LevelDebug, "no transaction matches the ACK", slog.Any("message", req))
			return errtrace.Wrap(ErrTransactionNotFound)
		}
		var err error
		if tx, err = l.newServerTransaction(ctx, req, key); err != nil {
			return errtrace.Wrap(err)
		}
		created = true
	}

	var related *Transaction
	if created {
		switch {
		case req.Method == sip.MethodCancel:
			related = l.reg.FindCancelTarget(key)
		case req.Method == sip.MethodPrack && l.rel100 != Rel100Undefined:
			related = l.reg.FindPrackParent(key.CallID, key.From.Tag(), req.RAck)
		}
	}

	ob := new(outbox)
	unlock := lockTxs(tx, related)
	err := tx.recvRequest(ctx, ob, req, related)
	if err != nil && !tx.state.Load().IsFinalResponseSent() {
		tx.terminateLocked(ctx, ob, ReasonError)
	}
	unlock()

	if created && tx.State() != StateTerminated {
		for cb := range l.onNewTx.All() {
			if herr := cb(ctx, tx); herr != nil {
				tx.log.LogAttrs(ctx, slog.LevelWarn, "new transaction callback failed",
					slog.Any("transaction", tx),
					slog.Any("error", herr),
				)
				tx.mu.Lock()
				tx.terminateLocked(ctx, ob, ReasonError)
				tx.mu.Unlock()
				break
			}
		}
	}
	l.flush(ctx, ob)
	return errtrace.Wrap(err)
}

func (tx *Transaction) recvRequest(ctx context.Context, ob *outbox, req *sip.Request, related *Transaction) error {
	if req.Method == sip.MethodAck {
		return errtrace.Wrap(tx.recvAck(ctx, ob, req))
	}

	if st := tx.state.Load(); st != StateIdle {
		tr, err := tx.transit(Event{Kind: EventRecvRequest, Method: req.Method, LastState: tx.lastState})
		if err != nil {
			return errtrace.Wrap(err)
		}
		if tx.resCode == 0 {
			// nothing sent yet to answer the retransmission with
			tr.Effects = slices.DeleteFunc(tr.Effects, func(e Effect) bool { return e.Kind == EffectSendBuffer })
		}
		if tr.Ignored() {
			tx.ignore(ctx, req, "request retransmission ignored")
			return nil
		}
		tx.log.LogAttrs(ctx, slog.LevelDebug, "request retransmission absorbed", slog.Any("transaction", tx))
		return errtrace.Wrap(tx.apply(ctx, ob, tr))
	}

	tx.request = req.Clone()
	tx.reqURI = req.URI
	tx.savedTo, tx.savedFrom = req.To.Clone(), req.From.Clone()
	tx.origTo = req.To.Clone()
	tx.tagInTo = req.To.Tag() != ""
	tx.initialRequest = !tx.tagInTo
	tx.timestamp = req.Timestamp
	tx.unsupported = tx.layer.unsupported(req.Require)

	switch req.Method {
	case sip.MethodCancel:
		return errtrace.Wrap(tx.recvCancel(ctx, ob, req, related))
	case sip.MethodPrack:
		if tx.layer.rel100 != Rel100Undefined {
			return errtrace.Wrap(tx.recvPrack(ctx, ob, req, related))
		}
	}

	tr, err := tx.transit(Event{Kind: EventRecvRequest, Method: req.Method})
	if err != nil {
		return errtrace.Wrap(err)
	}
	ob.message(tx, req)
	return errtrace.Wrap(tx.apply(ctx, ob, tr))
}

func (tx *Transaction) recvAck(ctx context.Context, ob *outbox, ack *sip.Request) error {
	tr, err := tx.transit(Event{Kind: EventRecvAck, Method: sip.MethodAck})
	if err != nil {
		return errtrace.Wrap(err)
	}
	if tr.Ignored() {
		tx.ignore(ctx, ack, "ACK ignored")
		return nil
	}
	tx.lastAck = ack
	ob.message(tx, ack)
	return errtrace.Wrap(tx.apply(ctx, ob, tr))
}

func (tx *Transaction) recvCancel(ctx context.Context, ob *outbox, req *sip.Request, target *Transaction) error {
	tr, err := tx.transit(Event{Kind: EventRecvRequest, Method: sip.MethodCancel})
	if err != nil {
		return errtrace.Wrap(err)
	}
	ob.message(tx, req)
	if err := tx.apply(ctx, ob, tr); err != nil {
		return errtrace.Wrap(err)
	}

	if target != nil {
		tx.cancelPair.Store(uint64(target.id))
		target.cancelPair.CompareAndSwap(0, uint64(tx.id))
	}
	notify := target != nil && target.method != sip.MethodPrack && target.state.Load().IsCancellable()
	manual := tx.proxy || tx.layer.manCncl

	if !manual {
		code, reason := sip.StatusOK, ReasonTransactionCanceled
		switch {
		case target == nil:
			code, reason = sip.StatusCallTransactionDoesNotExist, ReasonUserCommand
		case target.method == sip.MethodPrack:
			code, reason = sip.StatusMethodNotAllowed, ReasonUserCommand
		}
		if err := tx.sendResponse(ctx, ob, code, "", &ResponseOptions{Reason: reason}, nil); err != nil {
			return errtrace.Wrap(err)
		}
	}
	if notify {
		ob.Push(notification{tx: target, kind: notifyCancelled, peer: tx})
		if !manual {
			ob.Push(notification{tx: target, kind: notifyAction, action: target.respondCancelled})
		}
	}
	return nil
}

// respondCancelled sends 487 if the transaction is still waiting for a final response.
func (tx *Transaction) respondCancelled(ctx context.Context) {
	ob := new(outbox)
	tx.mu.Lock()
	var err error
	if tx.state.Load().IsCancellable() {
		err = tx.sendResponse(ctx, ob, sip.StatusRequestTerminated, "", &ResponseOptions{Reason: ReasonTransactionCanceled}, nil)
	}
	tx.mu.Unlock()
	if err != nil {
		tx.log.LogAttrs(ctx, slog.LevelWarn, "failed to respond to cancelled request",
			slog.Any("transaction", tx),
			slog.Any("error", err),
		)
	}
	tx.layer.flush(ctx, ob)
}

func (tx *Transaction) recvPrack(ctx context.Context, ob *outbox, req *sip.Request, parent *Transaction) error {
	if parent != nil && !parent.acceptsPrack(req) {
		parent = nil
	}
	tr, err := tx.transit(Event{Kind: EventRecvRequest, Method: sip.MethodPrack, Reliable: true})
	if err != nil {
		return errtrace.Wrap(err)
	}
	ob.message(tx, req)
	if err := tx.apply(ctx, ob, tr); err != nil {
		return errtrace.Wrap(err)
	}

	if parent != nil {
		tx.prackParent.Store(uint64(parent.id))
		ptr, err := parent.transit(Event{Kind: EventRecvPrack})
		if err != nil {
			return errtrace.Wrap(err)
		}
		if err := parent.apply(ctx, ob, ptr); err != nil {
			return errtrace.Wrap(err)
		}
	}
	if tx.proxy || tx.layer.manPrack {
		return nil
	}

	code := sip.StatusOK
	switch {
	case len(tx.unsupported) > 0:
		code = sip.StatusBadExtension
	case parent == nil:
		code = sip.StatusCallTransactionDoesNotExist
	}
	return errtrace.Wrap(tx.sendResponse(ctx, ob, code, "", nil, parent))
}

// acceptsPrack reports whether the PRACK acknowledges the last reliable provisional response.
// The caller holds the lock.
func (tx *Transaction) acceptsPrack(req *sip.Request) bool {
	return tx.role == RoleUAS &&
		tx.method == sip.MethodInvite &&
		tx.state.Load() == StateInviteRelProvResponseSent &&
		tx.rseq == req.RAck.RSeq &&
		tx.key.CSeq == req.RAck.CSeq
}

func (tx *Transaction) recvResponse(ctx context.Context, ob *outbox, res *sip.Response) error {
	if res.Status < 200 {
		return errtrace.Wrap(tx.recvProvisional(ctx, ob, res))
	}
	return errtrace.Wrap(tx.recvFinal(ctx, ob, res))
}

func (tx *Transaction) recvProvisional(ctx context.Context, ob *outbox, res *sip.Response) error {
	l := tx.layer
	ignore, reliable := IgnoreProvisionalResponse(ProvisionalCheck{
		State:    tx.state.Load(),
		Method:   tx.method,
		Proxy:    tx.proxy,
		Rel100:   l.rel100,
		Response: res,
		ShouldIgnore: func(rseq uint32) bool {
			return l.policy.ShouldIgnore(ctx, DialogID{
				CallID:    tx.key.CallID,
				LocalTag:  tx.key.From.Tag(),
				RemoteTag: res.To.Tag(),
			}, rseq)
		},
	})
	if ignore {
		tx.ignore(ctx, res, "provisional response ignored")
		return nil
	}

	tr, err := tx.transit(Event{Kind: EventRecvProvisional, Code: res.Status})
	if err != nil {
		return errtrace.Wrap(err)
	}
	tx.resCode = res.Status
	if res.Timestamp != "" {
		tx.timestamp = res.Timestamp
	}
	if tag := res.To.Tag(); res.Status > 100 && tag != "" && !tx.proxy {
		tx.key.To = tx.key.To.WithTag(tag)
	}
	ob.message(tx, res)
	if err := tx.apply(ctx, ob, tr); err != nil {
		return errtrace.Wrap(err)
	}
	if reliable {
		ob.Push(notification{tx: tx, kind: notifyReliable, msg: res, rseq: res.RSeq})
	}
	return nil
}

func (tx *Transaction) recvFinal(ctx context.Context, ob *outbox, res *sip.Response) error {
	tr, err := tx.transit(Event{Kind: EventRecvFinal, Code: res.Status, AckSent: tx.ackSent})
	if err != nil {
		return errtrace.Wrap(err)
	}
	if tr.Ignored() {
		tx.ignore(ctx, res, "final response ignored")
		return nil
	}
	if !tr.Changed() {
		// retransmitted final response answered from the buffer
		return errtrace.Wrap(tx.apply(ctx, ob, tr))
	}

	tx.reconcileFinal(ctx, tr.From, res)
	tx.resCode = res.Status
	if res.Timestamp != "" {
		tx.timestamp = res.Timestamp
	}
	ob.message(tx, res)
	return errtrace.Wrap(tx.apply(ctx, ob, tr))
}

// reconcileFinal updates the To of the transaction from a final response.
func (tx *Transaction) reconcileFinal(ctx context.Context, from State, res *sip.Response) {
	success := res.Status >= 200 && res.Status < 300
	tag := res.To.Tag()
	switch from {
	case StateInviteCalling, StateInviteProceeding, StateInviteProceedingTimeout, StateInviteCancelling:
		switch {
		case tx.proxy:
			if success && tx.key.To.Tag() == "" {
				tx.key.To = tx.key.To.WithTag(tag)
			}
		case success:
			tx.key.To = tx.key.To.WithTag(tag)
			tx.layer.tp.ResetAddressCache(tx.id)
			tx.log.LogAttrs(ctx, slog.LevelDebug, "address cache reset for ACK", slog.Any("transaction", tx))
		default:
			tx.key.To = tx.key.To.WithTag(tag)
			tx.non2xxTo, tx.hasNon2xxTo = res.To.Clone(), true
		}
	case StateGenRequestSent, StateGenProceeding, StateGenCancelling:
		if success && (tx.method == sip.MethodSubscribe || tx.method == sip.MethodRefer) && !tx.proxy {
			tx.key.To = tx.key.To.WithTag(tag)
		}
	}
}
