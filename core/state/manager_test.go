package state

import (
	"errors"
	"testing"

	"raffleanchor/storage"
)

type failingDB struct {
	*storage.MemDB
}

func (failingDB) Write(*storage.Batch) error { return errors.New("disk full") }

func TestManagerStagesUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("k"), uint64(7)); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got uint64
	ok, err := mgr.KVGet([]byte("k"), &got)
	if err != nil || !ok || got != 7 {
		t.Fatalf("staged read: ok=%v got=%d err=%v", ok, got, err)
	}
	if has, _ := db.Has([]byte("k")); has {
		t.Fatalf("write reached the database before commit")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if has, _ := db.Has([]byte("k")); !has {
		t.Fatalf("commit did not persist key")
	}
	if mgr.Dirty() {
		t.Fatalf("journal should be empty after commit")
	}
}

func TestManagerDiscardDropsWritesAndDeletes(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("keep"), "v"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := mgr.KVDelete([]byte("keep")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mgr.KVPut([]byte("new"), "x"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("keep"), nil); ok {
		t.Fatalf("staged delete should hide key")
	}
	mgr.Discard()

	var value string
	if ok, err := mgr.KVGet([]byte("keep"), &value); err != nil || !ok || value != "v" {
		t.Fatalf("discard should restore committed value, got %q ok=%v err=%v", value, ok, err)
	}
	if ok, _ := mgr.KVGet([]byte("new"), nil); ok {
		t.Fatalf("discarded write visible")
	}
}

func TestManagerIterateMergesJournal(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	for _, k := range []string{"p/1", "p/2", "p/3"} {
		if err := mgr.KVPut([]byte(k), k); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mgr.KVDelete([]byte("p/2")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mgr.KVPut([]byte("p/0"), "p/0"); err != nil {
		t.Fatalf("put: %v", err)
	}

	var keys []string
	err := mgr.KVIterate([]byte("p/"), func(key, _ []byte) (bool, error) {
		keys = append(keys, string(key))
		return true, nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	want := []string{"p/0", "p/1", "p/3"}
	if len(keys) != len(want) {
		t.Fatalf("unexpected keys %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("unexpected keys %v", keys)
		}
	}
}

func TestManagerCommitFailureKeepsJournal(t *testing.T) {
	mgr := NewManager(failingDB{storage.NewMemDB()})
	if err := mgr.KVPut([]byte("k"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.Commit(); err == nil {
		t.Fatalf("expected commit failure")
	}
	if !mgr.Dirty() {
		t.Fatalf("failed commit should leave the journal for the caller to discard")
	}
}

func TestManagerRoles(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	addr := []byte{0xaa, 0xbb}
	if err := mgr.SetRole("ORACLE_DATA_MANAGER", addr); err != nil {
		t.Fatalf("set role: %v", err)
	}
	ok, err := mgr.HasRole("ORACLE_DATA_MANAGER", addr)
	if err != nil || !ok {
		t.Fatalf("expected role membership, ok=%v err=%v", ok, err)
	}
	members, err := mgr.RoleMembers("ORACLE_DATA_MANAGER")
	if err != nil || len(members) != 1 || string(members[0]) != string(addr) {
		t.Fatalf("unexpected members %x err=%v", members, err)
	}
	if err := mgr.RemoveRole("ORACLE_DATA_MANAGER", addr); err != nil {
		t.Fatalf("remove role: %v", err)
	}
	if ok, _ := mgr.HasRole("ORACLE_DATA_MANAGER", addr); ok {
		t.Fatalf("role should be revoked")
	}
	if err := mgr.SetRole(" ", addr); err == nil {
		t.Fatalf("expected empty role error")
	}
}
