package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"raffleanchor/storage"
)

// Manager provides typed, RLP-encoded access to the key-value store. Writes are
// staged in an in-memory journal and only reach the database when Commit is
// called, so a caller can apply many changes and then keep or drop all of them.
type Manager struct {
	db      storage.Database
	journal map[string]journalEntry
}

type journalEntry struct {
	value   []byte
	deleted bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, journal: make(map[string]journalEntry)}
}

func (m *Manager) getRaw(key []byte) ([]byte, bool, error) {
	if entry, ok := m.journal[string(key)]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.journal[string(key)] = journalEntry{value: encoded}
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.getRaw(key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// KVDelete removes key. Deleting a missing key is not an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.journal[string(key)] = journalEntry{deleted: true}
	return nil
}

// KVIterate visits every live key under prefix in ascending order, merging
// staged writes over the committed contents. Returning false from fn stops the
// walk.
func (m *Manager) KVIterate(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	merged := make(map[string][]byte)
	if err := m.db.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = value
		return true
	}); err != nil {
		return err
	}
	for key, entry := range m.journal {
		if !bytes.HasPrefix([]byte(key), prefix) {
			continue
		}
		if entry.deleted {
			delete(merged, key)
			continue
		}
		merged[key] = entry.value
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		more, err := fn([]byte(key), merged[key])
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// Dirty reports whether there are staged writes.
func (m *Manager) Dirty() bool { return len(m.journal) > 0 }

// Commit flushes every staged write in one atomic batch.
func (m *Manager) Commit() error {
	if len(m.journal) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.journal))
	for key := range m.journal {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, key := range keys {
		entry := m.journal[key]
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.journal = make(map[string]journalEntry)
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	if len(m.journal) == 0 {
		return
	}
	m.journal = make(map[string]journalEntry)
}

// SetRole associates addr with role.
func (m *Manager) SetRole(role string, addr []byte) error {
	key, err := roleMemberKey(role, addr)
	if err != nil {
		return err
	}
	return m.KVPut(key, true)
}

// RemoveRole revokes role from addr.
func (m *Manager) RemoveRole(role string, addr []byte) error {
	key, err := roleMemberKey(role, addr)
	if err != nil {
		return err
	}
	return m.KVDelete(key)
}

// HasRole reports whether the provided address is associated with the
// specified role.
func (m *Manager) HasRole(role string, addr []byte) (bool, error) {
	key, err := roleMemberKey(role, addr)
	if err != nil {
		return false, nil
	}
	return m.KVGet(key, nil)
}

// RoleMembers lists every address holding role, ordered by address bytes.
func (m *Manager) RoleMembers(role string) ([][]byte, error) {
	prefix := RolePrefix(strings.TrimSpace(role))
	members := make([][]byte, 0)
	err := m.KVIterate(prefix, func(key, _ []byte) (bool, error) {
		members = append(members, append([]byte(nil), key[len(prefix):]...))
		return true, nil
	})
	return members, err
}

func roleMemberKey(role string, addr []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return nil, fmt.Errorf("role must not be empty")
	}
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	return append(RolePrefix(trimmed), addr...), nil
}
