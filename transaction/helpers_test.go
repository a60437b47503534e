package transaction_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ghettovoice/siptx/internal/log"
	"github.com/ghettovoice/siptx/sip"
	"github.com/ghettovoice/siptx/transaction"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubTransport struct {
	reliable bool

	mu          sync.Mutex
	sent        []*transaction.OutboundMessage
	retransmits map[transaction.ID]int
	resets      map[transaction.ID]int
	released    map[transaction.ID]bool
	sendErr     error
}

func newStubTransport(reliable bool) *stubTransport {
	return &stubTransport{
		reliable:    reliable,
		retransmits: make(map[transaction.ID]int),
		resets:      make(map[transaction.ID]int),
		released:    make(map[transaction.ID]bool),
	}
}

func (tp *stubTransport) Send(_ context.Context, msg *transaction.OutboundMessage) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.sendErr != nil {
		return tp.sendErr
	}
	tp.sent = append(tp.sent, msg)
	return nil
}

func (tp *stubTransport) RetransmitLast(_ context.Context, id transaction.ID) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.sendErr != nil {
		return tp.sendErr
	}
	tp.retransmits[id]++
	return nil
}

func (tp *stubTransport) ResetAddressCache(id transaction.ID) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.resets[id]++
}

func (tp *stubTransport) Release(id transaction.ID) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.released[id] = true
}

func (tp *stubTransport) Reliable() bool { return tp.reliable }

func (tp *stubTransport) setSendErr(err error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.sendErr = err
}

func (tp *stubTransport) sentCount() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.sent)
}

func (tp *stubTransport) last(t *testing.T) *transaction.OutboundMessage {
	t.Helper()

	tp.mu.Lock()
	defer tp.mu.Unlock()
	if len(tp.sent) == 0 {
		t.Fatal("transport sent nothing")
	}
	return tp.sent[len(tp.sent)-1]
}

func (tp *stubTransport) lastRequest(t *testing.T) *sip.Request {
	t.Helper()

	req, ok := tp.last(t).Message.(*sip.Request)
	if !ok {
		t.Fatalf("last sent message is %T, want *sip.Request", tp.last(t).Message)
	}
	return req
}

func (tp *stubTransport) lastResponse(t *testing.T) *sip.Response {
	t.Helper()

	res, ok := tp.last(t).Message.(*sip.Response)
	if !ok {
		t.Fatalf("last sent message is %T, want *sip.Response", tp.last(t).Message)
	}
	return res
}

func (tp *stubTransport) responses() []*sip.Response {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	var out []*sip.Response
	for _, m := range tp.sent {
		if res, ok := m.Message.(*sip.Response); ok {
			out = append(out, res)
		}
	}
	return out
}

func (tp *stubTransport) retransmitCount(id transaction.ID) int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.retransmits[id]
}

func (tp *stubTransport) resetCount(id transaction.ID) int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.resets[id]
}

func (tp *stubTransport) isReleased(id transaction.ID) bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.released[id]
}

// manualTimers keeps armed timers until the test fires them.
type manualTimers struct {
	mu    sync.Mutex
	armed map[transaction.ID]map[transaction.TimerKind]armedTimer
}

type armedTimer struct {
	d  time.Duration
	fn func()
}

func newManualTimers() *manualTimers {
	return &manualTimers{armed: make(map[transaction.ID]map[transaction.TimerKind]armedTimer)}
}

func (m *manualTimers) Arm(id transaction.ID, kind transaction.TimerKind, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.armed[id] == nil {
		m.armed[id] = make(map[transaction.TimerKind]armedTimer)
	}
	m.armed[id][kind] = armedTimer{d, fn}
}

func (m *manualTimers) ReleaseAll(id transaction.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.armed, id)
}

func (m *manualTimers) duration(id transaction.ID, kind transaction.TimerKind) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	at, ok := m.armed[id][kind]
	return at.d, ok
}

func (m *manualTimers) kinds(id transaction.ID) []transaction.TimerKind {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []transaction.TimerKind
	for k := range m.armed[id] {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (m *manualTimers) fire(t *testing.T, id transaction.ID, kind transaction.TimerKind) {
	t.Helper()

	m.mu.Lock()
	at, ok := m.armed[id][kind]
	if ok {
		delete(m.armed[id], kind)
	}
	m.mu.Unlock()

	if !ok {
		t.Fatalf("timer %q of transaction %v is not armed", kind, id)
	}
	at.fn()
}

type testEnv struct {
	tp     *stubTransport
	timers *manualTimers
	stats  *transaction.StatsRecorder
	layer  *transaction.Layer
}

func newTestEnv(t *testing.T, reliable bool, opts *transaction.LayerOptions) *testEnv {
	t.Helper()

	if opts == nil {
		opts = new(transaction.LayerOptions)
	}
	env := &testEnv{
		tp:     newStubTransport(reliable),
		timers: newManualTimers(),
		stats:  new(transaction.StatsRecorder),
	}
	opts.Timers = env.timers
	opts.Stats = env.stats
	opts.Via = sip.Via{Transport: "UDP", Host: "10.0.0.2", Port: 5060}
	if opts.Log == nil {
		opts.Log = log.Noop
	}

	l, err := transaction.NewLayer(env.tp, opts)
	if err != nil {
		t.Fatalf("transaction.NewLayer() error = %v, want nil", err)
	}
	env.layer = l
	return env
}

func testKey() transaction.Key {
	return transaction.Key{
		CallID: "call-1@example.com",
		From:   sip.NameAddr{URI: "sip:alice@example.com"},
		To:     sip.NameAddr{URI: "sip:bob@example.com"},
		CSeq:   1,
	}
}

func newRequest(method sip.Method, branch string, cseq uint32) *sip.Request {
	return &sip.Request{
		Method: method,
		URI:    "sip:bob@example.com",
		Headers: sip.Headers{
			Via: []sip.Via{{
				Transport: "UDP",
				Host:      "10.0.0.1",
				Port:      5060,
				Params:    sip.Params{{Name: "branch", Value: branch}},
			}},
			From:        sip.NameAddr{URI: "sip:alice@example.com", Params: sip.Params{{Name: "tag", Value: "a1"}}},
			To:          sip.NameAddr{URI: "sip:bob@example.com"},
			CallID:      "call-2@example.com",
			CSeq:        sip.CSeq{Seq: cseq, Method: method},
			MaxForwards: 70,
		},
	}
}

func withToTag(res *sip.Response, tag string) *sip.Response {
	res.To = res.To.WithTag(tag)
	return res
}

// stateRecorder collects state changes of a transaction.
type stateRecorder struct {
	mu      sync.Mutex
	states  []transaction.State
	reasons []transaction.Reason
}

func (r *stateRecorder) record(_ context.Context, _ *transaction.Transaction, st transaction.State, reason transaction.Reason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *stateRecorder) get() ([]transaction.State, []transaction.Reason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states), slices.Clone(r.reasons)
}

func wantState(t *testing.T, tx *transaction.Transaction, want transaction.State) {
	t.Helper()

	if got := tx.State(); got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
}
