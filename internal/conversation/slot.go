package conversation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Slot is a durable single-value key-value slot holding the serialized
// store. Load returns nil data when nothing has been saved yet.
type Slot interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// ── Memory ───────────────────────────────────────────────────

// MemorySlot keeps the snapshot in process memory.
type MemorySlot struct {
	mu   sync.Mutex
	data []byte
}

func (m *MemorySlot) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *MemorySlot) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data[:0:0], data...)
	return nil
}

// ── File ─────────────────────────────────────────────────────

// FileSlot writes the snapshot to a JSON file via tmp file and rename.
type FileSlot struct {
	Path string
	mu   sync.Mutex
}

// NewFileSlot creates the parent directory if needed.
func NewFileSlot(path string) (*FileSlot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	return &FileSlot{Path: path}, nil
}

func (f *FileSlot) Load() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (f *FileSlot) Save(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// ── Badger ───────────────────────────────────────────────────

// DefaultStorageKey is the badger key the store is saved under.
const DefaultStorageKey = "opsdesk:conversations"

// BadgerSlot stores the snapshot under one key of a badger database.
type BadgerSlot struct {
	db     *badger.DB
	key    []byte
	ownsDB bool
}

// NewBadgerSlot uses an already open database. The caller keeps ownership.
func NewBadgerSlot(db *badger.DB, key string) *BadgerSlot {
	if key == "" {
		key = DefaultStorageKey
	}
	return &BadgerSlot{db: db, key: []byte(key)}
}

// OpenBadgerSlot opens a database at dir and owns it until Close.
func OpenBadgerSlot(dir string) (*BadgerSlot, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	s := NewBadgerSlot(db, DefaultStorageKey)
	s.ownsDB = true
	return s, nil
}

func (b *BadgerSlot) Load() ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger load: %w", err)
	}
	return out, nil
}

func (b *BadgerSlot) Save(data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, data)
	})
	if err != nil {
		return fmt.Errorf("badger save: %w", err)
	}
	return nil
}

// Close closes the database if the slot opened it.
func (b *BadgerSlot) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}
