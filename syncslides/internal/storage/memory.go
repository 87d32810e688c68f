package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/mikhailv/syncslides/internal/stream"
)

const watchBatchSize = 256

var _ Store = (*Memory)(nil)

// Memory is an in-process store. Its change log keeps the last changelogSize changes.
type Memory struct {
	mu      sync.RWMutex
	tables  map[string]map[string][]byte
	changes *stream.Buffered[Change]
	closed  chan struct{}
	once    sync.Once
}

func NewMemory(changelogSize int) *Memory {
	return &Memory{
		tables:  map[string]map[string][]byte{},
		changes: stream.NewBufferedStream[Change](max(1, changelogSize)),
		closed:  make(chan struct{}),
	}
}

func (c *Change) SetCursor(cursor stream.Cursor) {
	c.Cursor = Cursor(cursor.String())
}

func (m *Memory) Snapshot(ctx context.Context, tables ...string) (*Snapshot, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := newSnapshot()
	snap.Cursor = Cursor(m.changes.Last().String())
	for _, table := range tables {
		for key, value := range m.tables[table] {
			snap.add(table, key, value)
		}
	}
	return snap.seal(tables), nil
}

func (m *Memory) Get(ctx context.Context, table, key string) ([]byte, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.tables[table][key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (m *Memory) Put(ctx context.Context, table, key string, value []byte) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	if rows == nil {
		rows = map[string][]byte{}
		m.tables[table] = rows
	}
	rows[key] = value
	m.changes.Append(Change{Table: table, Key: key, Type: ChangePut, Value: value})
	return nil
}

func (m *Memory) Delete(ctx context.Context, table, key string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table][key]; !ok {
		return nil
	}
	delete(m.tables[table], key)
	m.changes.Append(Change{Table: table, Key: key, Type: ChangeDelete})
	return nil
}

func (m *Memory) Watch(ctx context.Context, table, prefix string, from Cursor, fn func(Change) error) error {
	cursor, err := parseMemoryCursor(from)
	if err != nil {
		return err
	}

	notify := make(chan struct{}, 1)
	stop := m.changes.Listen(func(stream.Cursor, Change) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer stop()

	for {
		res := m.changes.Query(cursor, watchBatchSize, nil)
		if !m.changes.Retained(cursor) {
			return fmt.Errorf("%w: %s", ErrCursorExpired, from)
		}
		for _, change := range res.Items {
			if !change.match(table, prefix) {
				continue
			}
			if err = fn(change); err != nil {
				return err
			}
		}
		cursor = res.LastCursor
		if res.HasMore {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return ErrClosed
		case <-notify:
		}
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func (m *Memory) check(ctx context.Context) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
		return ctx.Err()
	}
}

func parseMemoryCursor(c Cursor) (stream.Cursor, error) {
	if c == "" {
		return 0, nil
	}
	cursor, err := stream.ParseCursor(string(c))
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q: %w", c, err)
	}
	return cursor, nil
}
