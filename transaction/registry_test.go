package transaction

import (
	"errors"
	"testing"

	"github.com/ghettovoice/siptx/sip"
)

func regKey(branch string, cseq uint32) Key {
	return Key{
		CallID: "reg-call",
		From:   sip.NameAddr{URI: "sip:alice@example.com", Params: sip.Params{{Name: "tag", Value: "f1"}}},
		To:     sip.NameAddr{URI: "sip:bob@example.com"},
		CSeq:   cseq,
		Branch: branch,
		SentBy: "10.0.0.1:5060",
	}
}

func mustAllocate(t *testing.T, r *Registry) (*Transaction, ID) {
	t.Helper()

	tx := new(Transaction)
	id, err := r.allocate(tx)
	if err != nil {
		t.Fatalf("r.allocate() error = %v, want nil", err)
	}
	tx.id = id
	return tx, id
}

func TestRegistry_Capacity(t *testing.T) {
	t.Parallel()

	r := NewRegistry(2)
	_, id1 := mustAllocate(t, r)
	mustAllocate(t, r)
	if _, err := r.allocate(new(Transaction)); !errors.Is(err, ErrOutOfResources) {
		t.Fatalf("r.allocate() error = %v, want %v", err, ErrOutOfResources)
	}

	r.release(id1)
	if _, id := mustAllocate(t, r); id == id1 {
		t.Fatalf("released id %v was reused", id1)
	}
	if got := r.Len(); got != 2 {
		t.Fatalf("r.Len() = %d, want 2", got)
	}
}

func TestRegistry_ServerMatching(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	tx, id := mustAllocate(t, r)
	key := regKey(sip.MagicCookie+".abc", 10)
	if err := r.Insert(id, RoleUAS, sip.MethodInvite, key); err != nil {
		t.Fatalf("r.Insert() error = %v, want nil", err)
	}

	if got := r.Find(RoleUAS, sip.MethodInvite, key); got != tx {
		t.Fatalf("r.Find(INVITE) = %v, want %v", got, tx)
	}
	if got := r.Find(RoleUAS, sip.MethodAck, key); got != tx {
		t.Fatalf("r.Find(ACK) = %v, want %v", got, tx)
	}
	other := key
	other.SentBy = "10.0.0.9:5060"
	if got := r.Find(RoleUAS, sip.MethodInvite, other); got != nil {
		t.Fatalf("r.Find() with other sent-by = %v, want nil", got)
	}
	if got := r.Find(RoleUAC, sip.MethodInvite, key); got != nil {
		t.Fatalf("r.Find(UAC) = %v, want nil", got)
	}

	_, id2 := mustAllocate(t, r)
	if err := r.Insert(id2, RoleUAS, sip.MethodInvite, key); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("r.Insert() duplicate error = %v, want %v", err, ErrAlreadyExists)
	}
	if !r.FindDuplicate(RoleUAS, sip.MethodInvite, key, id2) {
		t.Fatal("r.FindDuplicate() = false, want true")
	}
	if r.FindDuplicate(RoleUAS, sip.MethodInvite, key, id) {
		t.Fatal("r.FindDuplicate() for itself = true, want false")
	}

	r.Remove(id)
	if got := r.Find(RoleUAS, sip.MethodInvite, key); got != nil {
		t.Fatalf("r.Find() after remove = %v, want nil", got)
	}
	if got := r.Lookup(id); got != tx {
		t.Fatalf("r.Lookup() after remove = %v, want %v", got, tx)
	}
}

func TestRegistry_LegacyServerMatching(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	tx, id := mustAllocate(t, r)
	key := regKey("old-branch", 7)
	if err := r.Insert(id, RoleUAS, sip.MethodOptions, key); err != nil {
		t.Fatalf("r.Insert() error = %v, want nil", err)
	}
	if got := r.Find(RoleUAS, sip.MethodOptions, key); got != tx {
		t.Fatalf("r.Find() = %v, want %v", got, tx)
	}
	other := key
	other.Branch = "another"
	if got := r.Find(RoleUAS, sip.MethodOptions, other); got != nil {
		t.Fatalf("r.Find() with other branch = %v, want nil", got)
	}
}

func TestRegistry_ClientMatching(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	tx, id := mustAllocate(t, r)
	key := regKey(sip.MagicCookie+".cl", 3)
	if err := r.Insert(id, RoleUAC, sip.MethodInvite, key); err != nil {
		t.Fatalf("r.Insert() error = %v, want nil", err)
	}
	if got := r.Find(RoleUAC, sip.MethodInvite, key); got != tx {
		t.Fatalf("r.Find() = %v, want %v", got, tx)
	}

	other := key
	other.Branch = sip.MagicCookie + ".other"
	if got := r.Find(RoleUAC, sip.MethodInvite, other); got != nil {
		t.Fatalf("r.Find() with other branch = %v, want nil", got)
	}

	// re-insert under a new branch replaces the entry
	if err := r.Insert(id, RoleUAC, sip.MethodInvite, other); err != nil {
		t.Fatalf("r.Insert() again error = %v, want nil", err)
	}
	if got := r.Find(RoleUAC, sip.MethodInvite, other); got != tx {
		t.Fatalf("r.Find() after re-insert = %v, want %v", got, tx)
	}
	if got := r.Indexed(); got != 1 {
		t.Fatalf("r.Indexed() = %d, want 1", got)
	}
}

func TestRegistry_InvalidKey(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	_, id := mustAllocate(t, r)
	if err := r.Insert(id, RoleUAC, sip.MethodInvite, Key{}); !errors.Is(err, ErrBadParameter) {
		t.Fatalf("r.Insert() error = %v, want %v", err, ErrBadParameter)
	}
	if err := r.Insert(ID(999), RoleUAC, sip.MethodInvite, regKey("b", 1)); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("r.Insert() unknown id error = %v, want %v", err, ErrTransactionNotFound)
	}
}

func TestRegistry_RelatedLookups(t *testing.T) {
	t.Parallel()

	r := NewRegistry(0)
	invite, inviteID := mustAllocate(t, r)
	key := regKey(sip.MagicCookie+".inv", 5)
	if err := r.Insert(inviteID, RoleUAS, sip.MethodInvite, key); err != nil {
		t.Fatalf("r.Insert() error = %v, want nil", err)
	}

	if got := r.FindCancelTarget(key); got != invite {
		t.Fatalf("r.FindCancelTarget() = %v, want %v", got, invite)
	}
	other := key
	other.Branch = sip.MagicCookie + ".zzz"
	if got := r.FindCancelTarget(other); got != nil {
		t.Fatalf("r.FindCancelTarget() with other branch = %v, want nil", got)
	}

	rack := sip.RAck{RSeq: 1, CSeq: 5, Method: sip.MethodInvite}
	if got := r.FindPrackParent(key.CallID, "f1", rack); got != invite {
		t.Fatalf("r.FindPrackParent() = %v, want %v", got, invite)
	}
	rack.CSeq = 6
	if got := r.FindPrackParent(key.CallID, "f1", rack); got != nil {
		t.Fatalf("r.FindPrackParent() with other CSeq = %v, want nil", got)
	}
	rack = sip.RAck{RSeq: 1, CSeq: 5, Method: sip.MethodOptions}
	if got := r.FindPrackParent(key.CallID, "f1", rack); got != nil {
		t.Fatalf("r.FindPrackParent() for OPTIONS = %v, want nil", got)
	}
}
