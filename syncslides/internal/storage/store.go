// Package storage is the replicated key-value store the node projects from.
//
// A store holds tables of key/value rows. Every write is appended to a change log, and a
// Snapshot returns the rows of some tables together with the Cursor of the last change it
// includes, so that Watch(from: snapshot.Cursor) continues exactly where the snapshot ends.
package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrCursorExpired = errors.New("storage: cursor expired")
	ErrClosed        = errors.New("storage: closed")
)

// Cursor is an opaque position in the change log. The zero Cursor is the log start.
type Cursor string

type ChangeType uint8

const (
	ChangePut ChangeType = iota + 1
	ChangeDelete
)

func (t ChangeType) String() string {
	switch t {
	case ChangePut:
		return "put"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

type Change struct {
	Table  string     `json:"table"`
	Key    string     `json:"key"`
	Type   ChangeType `json:"type"`
	Value  []byte     `json:"value,omitempty"`
	Cursor Cursor     `json:"-"`
}

func (c Change) match(table, prefix string) bool {
	return c.Table == table && strings.HasPrefix(c.Key, prefix)
}

type Row struct {
	Key   string
	Value []byte
}

type Store interface {
	// Snapshot reads all rows of tables and the cursor of the last change they reflect.
	Snapshot(ctx context.Context, tables ...string) (*Snapshot, error)

	// Watch calls fn for every change of table with a key starting with prefix made after from,
	// in log order. It blocks until ctx is done, fn fails or the log cannot be followed.
	// ErrCursorExpired is returned when changes after from were already dropped from the log.
	Watch(ctx context.Context, table, prefix string, from Cursor, fn func(Change) error) error

	Get(ctx context.Context, table, key string) ([]byte, error)
	Put(ctx context.Context, table, key string, value []byte) error
	Delete(ctx context.Context, table, key string) error
	Close() error
}

type Snapshot struct {
	Cursor Cursor
	tables map[string][]Row
}

func newSnapshot() *Snapshot {
	return &Snapshot{tables: map[string][]Row{}}
}

func (s *Snapshot) add(table, key string, value []byte) {
	s.tables[table] = append(s.tables[table], Row{key, value})
}

// seal sorts rows by key, every table gets an entry even when empty.
func (s *Snapshot) seal(tables []string) *Snapshot {
	for _, table := range tables {
		rows := s.tables[table]
		slices.SortFunc(rows, func(a, b Row) int { return strings.Compare(a.Key, b.Key) })
		s.tables[table] = rows
	}
	return s
}

// Scan returns the rows of table with keys starting with prefix, ordered by key.
func (s *Snapshot) Scan(table, prefix string) []Row {
	rows := s.tables[table]
	i, _ := slices.BinarySearchFunc(rows, prefix, func(row Row, prefix string) int {
		return strings.Compare(row.Key, prefix)
	})
	j := i
	for j < len(rows) && strings.HasPrefix(rows[j].Key, prefix) {
		j++
	}
	return rows[i:j]
}

func (s *Snapshot) Get(table, key string) ([]byte, bool) {
	rows := s.tables[table]
	i, found := slices.BinarySearchFunc(rows, key, func(row Row, key string) int {
		return strings.Compare(row.Key, key)
	})
	if !found {
		return nil, false
	}
	return rows[i].Value, true
}

// Key joins key segments with "/".
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// KeyParts splits key into its "/"-separated segments.
func KeyParts(key string) []string {
	return strings.Split(key, "/")
}
