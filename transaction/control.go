package transaction

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"

	"github.com/ghettovoice/siptx/sip"
)

const defaultMaxForwards = 70

// SendRequest builds the request of a client transaction and sends it.
// The request starts from the outbound template if one was set, the key supplies
// Call-ID, From, To and CSeq. A missing From tag and CSeq are generated.
func (tx *Transaction) SendRequest(ctx context.Context, requestURI string, policy ResolvePolicy) error {
	if requestURI == "" {
		return errtrace.Wrap(NewBadParameterError("empty Request-URI"))
	}

	ob := new(outbox)
	tx.mu.Lock()
	err := tx.sendRequest(ctx, ob, requestURI, policy)
	tx.mu.Unlock()
	tx.layer.flush(ctx, ob)
	return errtrace.Wrap(err)
}

func (tx *Transaction) sendRequest(ctx context.Context, ob *outbox, requestURI string, policy ResolvePolicy) error {
	if err := tx.checkIdleClient(); err != nil {
		return errtrace.Wrap(err)
	}

	req := tx.outbound
	if req == nil {
		req = new(sip.Request)
	}
	if tx.key.From.Tag() == "" && !tx.proxy {
		tx.key.From = tx.key.From.WithTag(sip.GenerateTag())
	}
	if tx.key.CSeq == 0 {
		tx.key.CSeq = sip.GenerateCSeq()
	}
	req.Method = tx.method
	req.URI = requestURI
	req.From = tx.key.From.Clone()
	req.To = tx.key.To.Clone()
	req.CallID = tx.key.CallID
	req.CSeq = sip.CSeq{Seq: tx.key.CSeq, Method: tx.method}
	if req.MaxForwards == 0 {
		req.MaxForwards = defaultMaxForwards
	}
	if tx.method == sip.MethodInvite {
		switch tx.layer.rel100 {
		case Rel100Supported:
			if !req.Supports(sip.Ext100rel) {
				req.Supported = append(req.Supported, sip.Ext100rel)
			}
		case Rel100Required:
			if !req.Requires(sip.Ext100rel) {
				req.Require = append(req.Require, sip.Ext100rel)
			}
		}
	}
	return errtrace.Wrap(tx.sendRequestMsg(ctx, ob, req, true, policy, 0))
}

// SendRequestMsg sends a request built by the caller. The transaction takes ownership of req.
// With addTopVia a new top Via with a fresh branch is pushed, otherwise the top Via must carry a branch.
func (tx *Transaction) SendRequestMsg(ctx context.Context, req *sip.Request, addTopVia bool, policy ResolvePolicy) error {
	if req == nil {
		return errtrace.Wrap(NewBadParameterError("request is nil"))
	}

	ob := new(outbox)
	tx.mu.Lock()
	err := tx.checkIdleClient()
	if err == nil {
		err = tx.sendRequestMsg(ctx, ob, req, addTopVia, policy, 0)
	}
	tx.mu.Unlock()
	tx.layer.flush(ctx, ob)
	return errtrace.Wrap(err)
}

func (tx *Transaction) checkIdleClient() error {
	if tx.role != RoleUAC {
		return errtrace.Wrap(NewIllegalActionError("server transaction can not send requests"))
	}
	if st := tx.state.Load(); st != StateIdle {
		return errtrace.Wrap(NewIllegalActionError("request already sent, state %q", st))
	}
	return nil
}

func (tx *Transaction) sendRequestMsg(
	ctx context.Context,
	ob *outbox,
	req *sip.Request,
	addTopVia bool,
	policy ResolvePolicy,
	peer ID,
) (err error) {
	if req.Method != tx.method {
		return errtrace.Wrap(NewBadParameterError("request method %q does not match transaction method %q", req.Method, tx.method))
	}
	if addTopVia {
		v := tx.layer.via.Clone()
		v.Params = v.Params.Set("branch", sip.GenerateBranch())
		req.PushVia(v)
		defer func() {
			// the template may be sent again
			if err != nil {
				req.PopVia()
			}
		}()
	}
	if err := req.Validate(); err != nil {
		return errtrace.Wrap(NewBadParameterError(err))
	}
	if req.Branch() == "" {
		return errtrace.Wrap(NewBadParameterError("missing Via branch"))
	}

	key := KeyFromMessage(req)
	if tx.layer.reg.FindDuplicate(RoleUAC, tx.method, key, tx.id) {
		return errtrace.Wrap(ErrAlreadyExists)
	}
	tr, err := tx.transit(Event{Kind: EventSendRequest})
	if err != nil {
		return errtrace.Wrap(err)
	}
	if err := tx.layer.reg.Insert(tx.id, RoleUAC, tx.method, key); err != nil {
		return errtrace.Wrap(err)
	}

	tx.key = key
	tx.reqURI = req.URI
	tx.savedTo, tx.savedFrom = req.To.Clone(), req.From.Clone()
	tx.origTo = req.To.Clone()
	tx.tagInTo = req.To.Tag() != ""
	tx.initialRequest = !tx.tagInTo
	tx.timestamp = req.Timestamp
	if err := tx.send(ctx, req, policy, peer); err != nil {
		if policy != ResolveRetry {
			tx.layer.reg.Remove(tx.id)
		}
		return errtrace.Wrap(err)
	}
	tx.outbound = nil
	tx.request = req.Clone()
	return errtrace.Wrap(tx.apply(ctx, ob, tr))
}

func (tx *Transaction) send(ctx context.Context, msg sip.Message, policy ResolvePolicy, peer ID) error {
	if policy == "" {
		policy = ResolveCached
	}
	err := tx.layer.tp.Send(ctx, &OutboundMessage{
		TxID:    tx.id,
		Peer:    peer,
		Message: msg,
		Resolve: policy,
	})
	if err != nil {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "failed to send message",
			slog.Any("transaction", tx),
			slog.Any("message", msg),
			slog.Any("error", err),
		)
		return errtrace.Wrap(NewTransportFailureError(err))
	}
	tx.log.LogAttrs(ctx, slog.LevelDebug, "message sent",
		slog.Any("transaction", tx),
		slog.Any("message", msg),
	)
	return nil
}

// SendAck sends ACK for the final response received by an INVITE client transaction.
// An empty requestURI reuses the Request-URI of the INVITE.
// ACK for a 2xx gets a new branch and a freshly resolved destination.
func (tx *Transaction) SendAck(ctx context.Context, requestURI string) error {
	ob := new(outbox)
	tx.mu.Lock()
	err := tx.sendAck(ctx, ob, requestURI)
	tx.mu.Unlock()
	tx.layer.flush(ctx, ob)
	return errtrace.Wrap(err)
}

func (tx *Transaction) sendAck(ctx context.Context, ob *outbox, requestURI string) error {
	if tx.role != RoleUAC || tx.method != sip.MethodInvite {
		return errtrace.Wrap(NewIllegalActionError("ACK is sent only by INVITE client transactions"))
	}
	tr, err := tx.transit(Event{Kind: EventSendAck})
	if err != nil {
		return errtrace.Wrap(err)
	}

	if requestURI == "" {
		requestURI = tx.reqURI
	}
	ack := &sip.Request{
		Method: sip.MethodAck,
		URI:    requestURI,
		Headers: sip.Headers{
			From:        tx.key.From.Clone(),
			To:          tx.key.To.Clone(),
			CallID:      tx.key.CallID,
			CSeq:        sip.CSeq{Seq: tx.key.CSeq, Method: sip.MethodAck},
			MaxForwards: defaultMaxForwards,
		},
	}
	policy := ResolveCached
	if tx.resCode >= 200 && tx.resCode < 300 {
		v := tx.layer.via.Clone()
		v.Params = v.Params.Set("branch", sip.GenerateBranch())
		ack.Via = []sip.Via{v}
		policy = ResolveFresh
	} else if v, ok := tx.request.TopVia(); ok {
		ack.Via = []sip.Via{v.Clone()}
	}
	tx.verifyAckMsgToHeader(ack)

	if err := tx.send(ctx, ack, policy, 0); err != nil {
		tx.terminateLocked(ctx, ob, ReasonNetworkError)
		return errtrace.Wrap(err)
	}
	tx.ackSent = true
	if tx.resCode >= 300 && !tx.tagInTo {
		tx.key.To = tx.key.To.WithTag("")
	}
	return errtrace.Wrap(tx.apply(ctx, ob, tr))
}

// SendCancel creates a CANCEL client transaction for the pending request and sends it.
// The CANCEL reuses the branch and CSeq number of the request and its resolved destination.
func (tx *Transaction) SendCancel(ctx context.Context) (*Transaction, error) {
	ob := new(outbox)
	tx.mu.Lock()
	cancel, err := tx.sendCancel(ctx, ob)
	tx.mu.Unlock()
	tx.layer.flush(ctx, ob)
	return cancel, errtrace.Wrap(err)
}

func (tx *Transaction) sendCancel(ctx context.Context, ob *outbox) (*Transaction, error) {
	if tx.role != RoleUAC || tx.method == sip.MethodCancel {
		return nil, errtrace.Wrap(NewIllegalActionError("%s %s transaction can not be cancelled", tx.method, tx.role))
	}
	if tx.cancelPair.Load() != 0 {
		return nil, errtrace.Wrap(NewIllegalActionError("transaction is already cancelled"))
	}
	tr, err := tx.transit(Event{Kind: EventSendCancel})
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	cancel, err := newTransaction(tx.layer, RoleUAC, sip.MethodCancel, tx.proxy, tx.log)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	// a new transaction always has a greater ID, so the lock order holds
	cancel.mu.Lock()
	defer cancel.mu.Unlock()

	tx.cancelPair.Store(uint64(cancel.id))
	cancel.cancelPair.Store(uint64(tx.id))

	req := tx.outbound
	tx.outbound = nil
	if req == nil {
		req = new(sip.Request)
	}
	req.Method = sip.MethodCancel
	req.URI = tx.reqURI
	req.Via = nil
	if v, ok := tx.request.TopVia(); ok {
		req.Via = []sip.Via{v.Clone()}
	}
	req.From = tx.key.From.Clone()
	req.To = tx.origTo.Clone()
	req.CallID = tx.key.CallID
	req.CSeq = sip.CSeq{Seq: tx.key.CSeq, Method: sip.MethodCancel}
	if req.MaxForwards == 0 {
		req.MaxForwards = defaultMaxForwards
	}
	cancel.key = tx.key.Clone()
	cancel.key.To = tx.origTo.Clone()

	if err := cancel.sendRequestMsg(ctx, ob, req, false, ResolveCached, tx.id); err != nil {
		tx.cancelPair.Store(0)
		cancel.cancelPair.Store(0)
		cancel.terminateLocked(ctx, ob, ReasonError)
		return nil, errtrace.Wrap(err)
	}
	return cancel, errtrace.Wrap(tx.apply(ctx, ob, tr))
}

// ResponseOptions tunes a response sent by a server transaction.
type ResponseOptions struct {
	// Reason is reported with the state change, [ReasonUserCommand] by default.
	Reason Reason
	// Reliable sends a provisional response reliably (RFC 3262).
	Reliable bool
	Headers  []sip.Header
	Body     []byte
}

func (o *ResponseOptions) reason() Reason {
	if o == nil || o.Reason == "" {
		return ReasonUserCommand
	}
	return o.Reason
}

func (o *ResponseOptions) reliable() bool { return o != nil && o.Reliable }

// SendResponse builds a response to the request of a server transaction and sends it.
// A To tag is generated for responses above 100 unless the request carried one.
func (tx *Transaction) SendResponse(ctx context.Context, code int, phrase string, opts *ResponseOptions) error {
	if !sip.IsValidStatus(code) {
		return errtrace.Wrap(NewBadParameterError("invalid status code %d", code))
	}

	ob := new(outbox)
	parent, unlock := tx.lockWithParent()
	err := tx.sendResponse(ctx, ob, code, phrase, opts, parent)
	unlock()
	tx.layer.flush(ctx, ob)
	return errtrace.Wrap(err)
}

func (tx *Transaction) sendResponse(
	ctx context.Context,
	ob *outbox,
	code int,
	phrase string,
	opts *ResponseOptions,
	parent *Transaction,
) error {
	if tx.role != RoleUAS {
		return errtrace.Wrap(NewIllegalActionError("client transaction can not send responses"))
	}
	if st := tx.state.Load(); st == StateIdle || st == StateTerminated {
		return errtrace.Wrap(NewIllegalActionError("can not respond in state %q", st))
	}
	reliable := opts.reliable()
	if reliable {
		if err := tx.checkReliable(code); err != nil {
			return errtrace.Wrap(err)
		}
	}

	res := sip.NewResponse(tx.request, code, phrase)
	if opts != nil {
		res.Extra = append(res.Extra, opts.Headers...)
		res.Body = opts.Body
	}
	if code > 100 && tx.key.To.Tag() == "" && !tx.tagInTo && !tx.proxy {
		tx.key.To = tx.key.To.WithTag(sip.GenerateTag())
	}
	res.To = tx.key.To.Clone()
	if code == sip.StatusBadExtension && len(tx.unsupported) > 0 {
		res.Unsupported = append(res.Unsupported, tx.unsupported...)
	}
	if reliable {
		res.Require = append(res.Require, sip.Ext100rel)
		res.RSeq = tx.rseq + 1
	}
	return errtrace.Wrap(tx.sendResponseMsg(ctx, ob, res, opts.reason(), reliable, parent))
}

func (tx *Transaction) checkReliable(code int) error {
	if code <= 100 || code >= 200 || tx.method != sip.MethodInvite {
		return errtrace.Wrap(NewBadParameterError("only 101-199 responses to INVITE are sent reliably"))
	}
	if tx.layer.rel100 == Rel100Undefined || !tx.request.Supports(sip.Ext100rel) {
		return errtrace.Wrap(NewIllegalActionError("reliable provisional responses are not negotiated"))
	}
	return nil
}

// SendResponseMsg sends a response built by the caller. The transaction takes ownership of res.
// With removeTopVia the top Via is popped first, which proxies do when forwarding a response.
func (tx *Transaction) SendResponseMsg(ctx context.Context, res *sip.Response, removeTopVia bool, opts *ResponseOptions) error {
	if res == nil {
		return errtrace.Wrap(NewBadParameterError("response is nil"))
	}

	ob := new(outbox)
	parent, unlock := tx.lockWithParent()
	err := func() error {
		if tx.role != RoleUAS {
			return errtrace.Wrap(NewIllegalActionError("client transaction can not send responses"))
		}
		reliable := opts.reliable()
		if reliable {
			if err := tx.checkReliable(res.Status); err != nil {
				return errtrace.Wrap(err)
			}
			if res.RSeq == 0 {
				res.RSeq = tx.rseq + 1
			}
			if !res.Requires(sip.Ext100rel) {
				res.Require = append(res.Require, sip.Ext100rel)
			}
		}
		if removeTopVia {
			res.PopVia()
		}
		return errtrace.Wrap(tx.sendResponseMsg(ctx, ob, res, opts.reason(), reliable, parent))
	}()
	unlock()
	tx.layer.flush(ctx, ob)
	return errtrace.Wrap(err)
}

func (tx *Transaction) sendResponseMsg(
	ctx context.Context,
	ob *outbox,
	res *sip.Response,
	reason Reason,
	reliable bool,
	parent *Transaction,
) error {
	if err := res.Validate(); err != nil {
		return errtrace.Wrap(NewBadParameterError(err))
	}
	if err := tx.verifyMsgToFromHeaders(ctx, res); err != nil {
		return errtrace.Wrap(err)
	}
	tr, err := tx.transit(Event{Kind: EventSendResponse, Code: res.Status, Reliable: reliable, Reason: reason})
	if err != nil {
		return errtrace.Wrap(err)
	}
	if err := tx.send(ctx, res, ResolveCached, 0); err != nil {
		return errtrace.Wrap(err)
	}
	tx.resCode = res.Status
	if reliable {
		tx.rseq = res.RSeq
	}
	if err := tx.apply(ctx, ob, tr); err != nil {
		return errtrace.Wrap(err)
	}

	if parent != nil && tx.method == sip.MethodPrack && res.Status >= 200 && res.Status < 300 {
		ptr, err := parent.transit(Event{Kind: EventPrackAnswered})
		if err != nil {
			return errtrace.Wrap(err)
		}
		return errtrace.Wrap(parent.apply(ctx, ob, ptr))
	}
	return nil
}

// verifyMsgToFromHeaders makes an outgoing response echo the From and To of the request
// and keeps the To tag in sync with the transaction.
func (tx *Transaction) verifyMsgToFromHeaders(ctx context.Context, res *sip.Response) error {
	if !res.To.EqualIgnoreTag(tx.savedTo) {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "response To header repaired", slog.Any("transaction", tx))
		res.To = tx.savedTo.WithTag(res.To.Tag())
	}
	if !res.From.Equal(tx.savedFrom) {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "response From header repaired", slog.Any("transaction", tx))
		res.From = tx.savedFrom.Clone()
	}
	if tx.proxy {
		return nil
	}

	txTag, msgTag := tx.key.To.Tag(), res.To.Tag()
	switch {
	case msgTag == "" && txTag != "":
		res.To = res.To.WithTag(txTag)
	case msgTag != "" && txTag == "":
		tx.key.To = tx.key.To.WithTag(msgTag)
	case msgTag != txTag:
		return errtrace.Wrap(NewUnknownError("response To tag %q conflicts with transaction tag %q", msgTag, txTag))
	}
	return nil
}

// verifyAckMsgToHeader makes ACK for a non-2xx response carry the To of that response.
func (tx *Transaction) verifyAckMsgToHeader(ack *sip.Request) {
	if tx.hasNon2xxTo {
		ack.To = tx.non2xxTo.Clone()
	}
}
