package storage

import (
	"fmt"
	"os"
	"testing"
)

// newTestStore opens a store on a temporary database.
// Each test gets a unique database path to avoid Pebble lock conflicts.
func newTestStore(t *testing.T) *Store {
	dbPath := fmt.Sprintf("./tmp_test_store_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() {
		os.RemoveAll(dbPath)
	})

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestStoreSetGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	val, found, err := s.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !found {
		t.Fatal("expected key to exist")
	}
	if string(val) != "v1" {
		t.Errorf("value = %q, want v1", val)
	}

	_, found, err = s.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if found {
		t.Error("expected missing key to not be found")
	}
}

func TestStoreDelete(t *testing.T) {
	s := newTestStore(t)

	s.Set([]byte("k1"), []byte("v1"))
	if err := s.Delete([]byte("k1")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	_, found, _ := s.Get([]byte("k1"))
	if found {
		t.Error("expected deleted key to be gone")
	}
}

func TestStoreIterPrefix(t *testing.T) {
	s := newTestStore(t)

	s.Set([]byte("ord:a"), []byte("1"))
	s.Set([]byte("ord:b"), []byte("2"))
	s.Set([]byte("nonce:a"), []byte("3"))

	var keys []string
	err := s.Iter([]byte("ord:"), func(key, val []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("iter failed: %v", err)
	}

	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}
	if keys[0] != "ord:a" || keys[1] != "ord:b" {
		t.Errorf("unexpected key order: %v", keys)
	}
}

// A batch that is closed without committing must leave no trace.
func TestBatchDiscard(t *testing.T) {
	s := newTestStore(t)

	b := s.NewBatch()
	b.Set([]byte("staged"), []byte("x"))
	b.Close()

	_, found, _ := s.Get([]byte("staged"))
	if found {
		t.Error("discarded batch write leaked into the store")
	}
}

func TestBatchCommitAtomic(t *testing.T) {
	s := newTestStore(t)

	b := s.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	if err := b.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	for _, k := range []string{"a", "b"} {
		_, found, _ := s.Get([]byte(k))
		if !found {
			t.Errorf("key %q missing after commit", k)
		}
	}
}

func TestJournalAppendAndReplay(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		b := s.NewBatch()
		seq, err := s.AppendEvent(b, "Deposit", int64(1000+i), []byte(fmt.Sprintf(`{"n":%d}`, i)))
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if seq != uint64(i) {
			t.Errorf("seq = %d, want %d", seq, i)
		}
		if err := b.Commit(); err != nil {
			t.Fatalf("commit failed: %v", err)
		}
		b.Close()
	}

	var got []Envelope
	err := s.Events(0, func(env Envelope) error {
		got = append(got, env)
		return nil
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, env := range got {
		if env.Seq != uint64(i) {
			t.Errorf("event %d: seq = %d", i, env.Seq)
		}
		if env.Type != "Deposit" {
			t.Errorf("event %d: type = %q", i, env.Type)
		}
	}

	// Replay from a cursor skips earlier entries.
	got = got[:0]
	s.Events(2, func(env Envelope) error {
		got = append(got, env)
		return nil
	})
	if len(got) != 1 || got[0].Seq != 2 {
		t.Errorf("cursor replay returned %v", got)
	}
}

// The sequence counter must survive a close/reopen cycle so replayed
// consumers never see the counter reset.
func TestJournalSeqPersists(t *testing.T) {
	dbPath := fmt.Sprintf("./tmp_test_store_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() {
		os.RemoveAll(dbPath)
	})

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	b := s.NewBatch()
	s.AppendEvent(b, "Deposit", 1, []byte(`{}`))
	if err := b.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	b.Close()
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	b2 := s2.NewBatch()
	seq, err := s2.AppendEvent(b2, "Settled", 2, []byte(`{}`))
	if err != nil {
		t.Fatalf("append after reopen failed: %v", err)
	}
	b2.Commit()
	b2.Close()

	if seq != 1 {
		t.Errorf("seq after reopen = %d, want 1", seq)
	}
}
