package transaction

import (
	"cmp"
	"slices"
	"sync"

	"braces.dev/errtrace"

	"github.com/ghettovoice/siptx/sip"
)

// DefaultCapacity is the registry capacity used when none is configured.
const DefaultCapacity = 4096

type regEntry struct {
	tx      *Transaction
	role    Role
	method  sip.Method
	key     Key
	indexed bool
	ik      indexKey
}

// Registry owns the transaction slots and the lookup index of a layer.
// A slot is allocated on creation and released on termination,
// the index holds transactions that can match incoming messages.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	lastID   ID
	slots    map[ID]*regEntry
	index    map[indexKey]ID
	byCallID map[string][]ID
}

// NewRegistry creates a registry holding at most capacity transactions.
// Non-positive capacity falls back to [DefaultCapacity].
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		slots:    make(map[ID]*regEntry),
		index:    make(map[indexKey]ID),
		byCallID: make(map[string][]ID),
	}
}

func (r *Registry) allocate(tx *Transaction) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.slots) >= r.capacity {
		return 0, errtrace.Wrap(ErrOutOfResources)
	}
	r.lastID++
	r.slots[r.lastID] = &regEntry{tx: tx}
	return r.lastID, nil
}

// Insert indexes the transaction under the key.
// It fails with [ErrAlreadyExists] when another transaction holds the same key.
// Re-inserting a transaction replaces its previous index entry.
func (r *Registry) Insert(id ID, role Role, method sip.Method, key Key) error {
	if !key.IsValid() {
		return errtrace.Wrap(NewBadParameterError("invalid transaction key"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.slots[id]
	if !ok {
		return errtrace.Wrap(ErrTransactionNotFound)
	}
	ik := makeIndexKey(role, method, key)
	if other, ok := r.index[ik]; ok && other != id {
		return errtrace.Wrap(ErrAlreadyExists)
	}
	r.unindex(id, e)
	e.role, e.method, e.key, e.ik, e.indexed = role, method, key.Clone(), ik, true
	r.index[ik] = id
	r.byCallID[key.CallID] = append(r.byCallID[key.CallID], id)
	return nil
}

func (r *Registry) unindex(id ID, e *regEntry) {
	if !e.indexed {
		return
	}
	if cur, ok := r.index[e.ik]; ok && cur == id {
		delete(r.index, e.ik)
	}
	ids := slices.DeleteFunc(r.byCallID[e.key.CallID], func(v ID) bool { return v == id })
	if len(ids) == 0 {
		delete(r.byCallID, e.key.CallID)
	} else {
		r.byCallID[e.key.CallID] = ids
	}
	e.indexed = false
}

// Remove takes the transaction out of the index. The slot stays allocated.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.slots[id]; ok {
		r.unindex(id, e)
	}
}

func (r *Registry) release(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.slots[id]; ok {
		r.unindex(id, e)
		delete(r.slots, id)
	}
}

// Lookup resolves a transaction handle. It returns nil for released slots.
func (r *Registry) Lookup(id ID) *Transaction {
	if id == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.slots[id]; ok {
		return e.tx
	}
	return nil
}

// FindDuplicate reports whether a transaction other than self is indexed under the key.
func (r *Registry) FindDuplicate(role Role, method sip.Method, key Key, self ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.index[makeIndexKey(role, method, key)]
	return ok && id != self
}

// Find returns the transaction indexed under the key.
// Client transactions additionally have to match the branch.
func (r *Registry) Find(role Role, method sip.Method, key Key) *Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.index[makeIndexKey(role, method, key)]
	if !ok {
		return nil
	}
	e := r.slots[id]
	if e == nil {
		return nil
	}
	if role == RoleUAC && e.key.Branch != key.Branch {
		return nil
	}
	if role == RoleUAS && !key.IsRFC3261() && e.key.Branch != key.Branch {
		return nil
	}
	return e.tx
}

// FindCancelTarget returns the server transaction a CANCEL with the key refers to.
func (r *Registry) FindCancelTarget(key Key) *Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.byCallID[key.CallID] {
		e := r.slots[id]
		if e == nil || e.role != RoleUAS || e.method == sip.MethodCancel || e.method == sip.MethodAck {
			continue
		}
		if e.key.CSeq != key.CSeq || e.key.From.Tag() != key.From.Tag() {
			continue
		}
		if key.IsRFC3261() && (e.key.Branch != key.Branch || e.key.SentBy != key.SentBy) {
			continue
		}
		return e.tx
	}
	return nil
}

// FindPrackParent returns the INVITE server transaction a PRACK acknowledges.
// The caller validates the transaction state after locking it.
func (r *Registry) FindPrackParent(callID, fromTag string, rack sip.RAck) *Transaction {
	if rack.Method != sip.MethodInvite {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.byCallID[callID] {
		e := r.slots[id]
		if e == nil || e.role != RoleUAS || e.method != sip.MethodInvite {
			continue
		}
		if e.key.CSeq == rack.CSeq && e.key.From.Tag() == fromTag {
			return e.tx
		}
	}
	return nil
}

// Len returns the number of allocated slots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}

// Indexed returns the number of indexed transactions.
func (r *Registry) Indexed() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

func (r *Registry) all() []*Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	txs := make([]*Transaction, 0, len(r.slots))
	for _, e := range r.slots {
		txs = append(txs, e.tx)
	}
	slices.SortFunc(txs, func(a, b *Transaction) int { return cmp.Compare(a.id, b.id) })
	return txs
}
