package state

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"sharemarket/storage"
)

// ErrConflict is returned by Txn.Commit when another transaction committed a
// change to a key this transaction read. Callers re-run the whole operation
// against fresh state.
var ErrConflict = errors.New("state: transaction conflict")

// Manager provides RLP-coded typed access to the key-value store. Records are
// written either directly or through a Txn overlay that commits as a single
// batch.
type Manager struct {
	db storage.Database

	// commitMu serializes Txn commits so read validation and the batch write
	// are atomic with respect to every other committer.
	commitMu sync.Mutex
}

// NewManager constructs a manager bound to the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errors.New("state: manager not initialised")
	}
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut encodes the value and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not initialised")
	}
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, raw)
}

// KVDelete removes the key if present.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not initialised")
	}
	return m.db.Delete(key)
}

// Txn is an overlay transaction: reads see staged writes first, and Commit
// flushes every staged mutation to the database in one atomic batch. Every
// read-through to the database is snapshotted; Commit validates the snapshot
// against the live database and fails with ErrConflict when a concurrent
// commit changed a key this transaction depends on, so trades on distinct
// subjects can run in parallel without losing updates to the shared
// settlement accounts.
type Txn struct {
	mgr       *Manager
	reads     map[string][]byte
	writes    map[string][]byte
	deletes   map[string]struct{}
	committed bool
}

// Begin opens a new overlay transaction.
func (m *Manager) Begin() *Txn {
	return &Txn{
		mgr:     m,
		reads:   make(map[string][]byte),
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// KVGet reads through the overlay: staged writes shadow the snapshot, which
// shadows the database. Repeated reads of the same key return the snapshotted
// value even if the database has moved on; the divergence is caught at Commit.
// RLP encodings are never empty, so a nil snapshot entry marks a key that was
// absent when first read.
func (t *Txn) KVGet(key []byte, out interface{}) (bool, error) {
	if t == nil || t.mgr == nil {
		return false, errors.New("state: txn not initialised")
	}
	if _, ok := t.deletes[string(key)]; ok {
		return false, nil
	}
	if raw, ok := t.writes[string(key)]; ok {
		if err := rlp.DecodeBytes(raw, out); err != nil {
			return false, err
		}
		return true, nil
	}
	if raw, ok := t.reads[string(key)]; ok {
		if raw == nil {
			return false, nil
		}
		if err := rlp.DecodeBytes(raw, out); err != nil {
			return false, err
		}
		return true, nil
	}
	raw, err := t.mgr.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			t.reads[string(key)] = nil
			return false, nil
		}
		return false, err
	}
	t.reads[string(key)] = append([]byte(nil), raw...)
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut stages an encoded write.
func (t *Txn) KVPut(key []byte, value interface{}) error {
	if t == nil || t.mgr == nil {
		return errors.New("state: txn not initialised")
	}
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	delete(t.deletes, string(key))
	t.writes[string(key)] = raw
	return nil
}

// KVDelete stages a deletion.
func (t *Txn) KVDelete(key []byte) error {
	if t == nil || t.mgr == nil {
		return errors.New("state: txn not initialised")
	}
	delete(t.writes, string(key))
	t.deletes[string(key)] = struct{}{}
	return nil
}

// Commit validates every snapshotted read against the live database and then
// writes all staged mutations as one batch. A snapshot mismatch aborts with
// ErrConflict and leaves the database untouched. Keys are ordered to keep
// batch contents deterministic.
func (t *Txn) Commit() error {
	if t == nil || t.mgr == nil {
		return errors.New("state: txn not initialised")
	}
	if t.committed {
		return nil
	}
	t.mgr.commitMu.Lock()
	defer t.mgr.commitMu.Unlock()
	for key, snapshot := range t.reads {
		current, err := t.mgr.db.Get([]byte(key))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				if snapshot != nil {
					return ErrConflict
				}
				continue
			}
			return err
		}
		if snapshot == nil || !bytes.Equal(snapshot, current) {
			return ErrConflict
		}
	}
	batch := t.mgr.db.NewBatch()
	keys := make([]string, 0, len(t.writes))
	for key := range t.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		batch.Put([]byte(key), t.writes[key])
	}
	deleted := make([]string, 0, len(t.deletes))
	for key := range t.deletes {
		deleted = append(deleted, key)
	}
	sort.Strings(deleted)
	for _, key := range deleted {
		batch.Delete([]byte(key))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	t.committed = true
	t.reads = nil
	t.writes = nil
	t.deletes = nil
	return nil
}

// Discard drops every staged mutation and the read snapshot. Calling it after
// Commit is a no-op, so it is safe to defer alongside a conditional Commit.
func (t *Txn) Discard() {
	if t == nil || t.committed {
		return
	}
	t.reads = make(map[string][]byte)
	t.writes = make(map[string][]byte)
	t.deletes = make(map[string]struct{})
}
