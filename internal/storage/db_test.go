package storage

import (
	"bytes"
	"errors"
	"testing"
)

func TestDB_Conformance(t *testing.T) {
	dbs := backends(t)
	disk, err := NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	t.Cleanup(func() { disk.Close() })
	dbs["badger-disk"] = disk

	for name, db := range dbs {
		t.Run(name, func(t *testing.T) {
			binary := make([]byte, 256)
			for i := range binary {
				binary[i] = byte(i)
			}
			writes := []struct {
				key, value []byte
			}{
				{[]byte("k"), []byte("first")},
				{[]byte("k"), []byte("second")},
				{[]byte("empty"), []byte{}},
				{[]byte{0x00, 0x01, 0xff}, binary},
			}
			for _, w := range writes {
				if err := db.Put(w.key, w.value); err != nil {
					t.Fatalf("Put(%x) error: %v", w.key, err)
				}
			}

			reads := []struct {
				key  []byte
				want []byte
			}{
				{[]byte("k"), []byte("second")},
				{[]byte("empty"), []byte{}},
				{[]byte{0x00, 0x01, 0xff}, binary},
			}
			for _, r := range reads {
				got, err := db.Get(r.key)
				if err != nil || !bytes.Equal(got, r.want) {
					t.Errorf("Get(%x) = %x, %v", r.key, got, err)
				}
				if ok, _ := db.Has(r.key); !ok {
					t.Errorf("Has(%x) = false", r.key)
				}
			}

			if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}
			if err := db.Delete([]byte("never-existed")); err != nil {
				t.Errorf("Delete() missing key error: %v", err)
			}
			if err := db.Delete([]byte("k")); err != nil {
				t.Fatalf("Delete() error: %v", err)
			}
			if ok, _ := db.Has([]byte("k")); ok {
				t.Error("key present after Delete()")
			}
		})
	}
}

func TestDB_ValuesAreCopied(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			val := []byte("abc")
			db.Put([]byte("c"), val)
			val[0] = 'x'

			got, _ := db.Get([]byte("c"))
			if string(got) != "abc" {
				t.Fatalf("stored value aliased caller buffer: %q", got)
			}
			got[0] = 'y'
			again, _ := db.Get([]byte("c"))
			if string(again) != "abc" {
				t.Errorf("returned value aliased stored value: %q", again)
			}

			var kept [][]byte
			db.ForEach([]byte("c"), func(key, value []byte) error {
				kept = append(kept, value)
				return nil
			})
			if len(kept) != 1 || string(kept[0]) != "abc" {
				t.Errorf("ForEach values = %q", kept)
			}
		})
	}
}

func TestDB_ForEachPrefixOrder(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"ord/03", "ord/01", "other/x", "ord/02", "or"} {
				db.Put([]byte(k), []byte(k))
			}
			var got []string
			err := db.ForEach([]byte("ord/"), func(key, _ []byte) error {
				got = append(got, string(key))
				return nil
			})
			if err != nil {
				t.Fatalf("ForEach() error: %v", err)
			}
			want := []string{"ord/01", "ord/02", "ord/03"}
			if len(got) != len(want) {
				t.Fatalf("ForEach(ord/) = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("ForEach(ord/) = %v, want %v", got, want)
				}
			}

			n := 0
			db.ForEach([]byte("none/"), func(_, _ []byte) error { n++; return nil })
			if n != 0 {
				t.Errorf("ForEach(none/) visited %d keys", n)
			}
		})
	}
}

func TestDB_BatchCommit(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			db.Put([]byte("batch/gone"), []byte("x"))

			b := NewBatch(db)
			b.Put([]byte("batch/a"), []byte("1"))
			b.Put([]byte("batch/a"), []byte("2"))
			b.Delete([]byte("batch/gone"))

			if ok, _ := db.Has([]byte("batch/a")); ok {
				t.Fatal("batch write visible before Commit()")
			}
			if err := b.Commit(); err != nil {
				t.Fatalf("Commit() error: %v", err)
			}
			if got, _ := db.Get([]byte("batch/a")); string(got) != "2" {
				t.Errorf("batch/a = %q, want last write", got)
			}
			if ok, _ := db.Has([]byte("batch/gone")); ok {
				t.Error("batch/gone should be deleted after Commit()")
			}
		})
	}
}

// replayOnly hides the Batcher implementation of the wrapped DB.
type replayOnly struct{ DB }

func TestNewBatch_ReplayFallback(t *testing.T) {
	inner := NewMemory()
	b := NewBatch(replayOnly{inner})
	if _, ok := b.(*replayBatch); !ok {
		t.Fatalf("NewBatch = %T, want *replayBatch", b)
	}
	b.Put([]byte("a"), []byte("1"))
	b.Delete([]byte("a"))
	b.Put([]byte("b"), []byte("2"))
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if ok, _ := inner.Has([]byte("a")); ok {
		t.Error("replayed delete lost")
	}
	if got, _ := inner.Get([]byte("b")); string(got) != "2" {
		t.Errorf("b = %q", got)
	}
}

func TestBadgerDB_Persistence(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	b := db1.NewBatch()
	b.Put([]byte("persist"), []byte("data"))
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	db1.Close()

	db2, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() reopen error: %v", err)
	}
	defer db2.Close()

	val, err := db2.Get([]byte("persist"))
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if !bytes.Equal(val, []byte("data")) {
		t.Errorf("persisted value = %q, want %q", val, "data")
	}
}
