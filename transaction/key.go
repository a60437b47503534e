package transaction

import (
	"log/slog"
	"strings"

	"github.com/ghettovoice/siptx/sip"
)

// Key holds the identifying headers of a transaction.
// It is a value snapshot and never shares memory with a message.
type Key struct {
	CallID string
	From   sip.NameAddr
	To     sip.NameAddr
	CSeq   uint32
	// Branch and SentBy come from the top Via header.
	Branch string
	SentBy string
}

// KeyFromMessage takes the key of a request or response.
func KeyFromMessage(msg sip.Message) Key {
	h := msg.Head()
	v, _ := h.TopVia()
	return Key{
		CallID: h.CallID,
		From:   h.From.Clone(),
		To:     h.To.Clone(),
		CSeq:   h.CSeq.Seq,
		Branch: v.Branch(),
		SentBy: v.SentBy(),
	}
}

func (k Key) IsValid() bool {
	return k.CallID != "" && k.From.URI != "" && k.To.URI != "" && k.CSeq != 0
}

// IsRFC3261 reports whether the branch carries the magic cookie.
func (k Key) IsRFC3261() bool { return strings.HasPrefix(k.Branch, sip.MagicCookie) }

// Clone returns a deep copy.
func (k Key) Clone() Key {
	k.From = k.From.Clone()
	k.To = k.To.Clone()
	return k
}

func (k Key) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("call_id", k.CallID),
		slog.String("from_tag", k.From.Tag()),
		slog.String("to_tag", k.To.Tag()),
		slog.Uint64("cseq", uint64(k.CSeq)),
		slog.String("branch", k.Branch),
	)
}

// indexKey is the hash key of the registry.
// Server transactions with RFC 3261 branches are matched by branch and sent-by,
// everything else by Call-ID, From tag and CSeq.
type indexKey struct {
	role    Role
	method  sip.Method
	branch  string
	sentBy  string
	callID  string
	fromTag string
	cseq    uint32
}

func makeIndexKey(role Role, method sip.Method, k Key) indexKey {
	if method == sip.MethodAck {
		method = sip.MethodInvite
	}
	ik := indexKey{role: role, method: method}
	if role == RoleUAS && k.IsRFC3261() {
		ik.branch, ik.sentBy = k.Branch, k.SentBy
		return ik
	}
	ik.callID, ik.fromTag, ik.cseq = k.CallID, k.From.Tag(), k.CSeq
	return ik
}
