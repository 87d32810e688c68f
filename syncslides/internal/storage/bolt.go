package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/syncslides/internal/config"
)

var (
	changesBucket = []byte("_changes")
	metaBucket    = []byte("_meta")
	trimmedKey    = []byte("trimmed")
)

var _ Store = (*Bolt)(nil)

// Bolt is a store in a single bbolt file. Tables are buckets, the change log is the
// _changes bucket keyed by a big-endian sequence number.
type Bolt struct {
	db            *bbolt.DB
	logger        *slog.Logger
	pollInterval  time.Duration
	changelogSize uint64

	mu      sync.Mutex
	written chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func OpenBolt(cfg config.BoltStorage, logger *slog.Logger) (*Bolt, error) {
	if strings.TrimSpace(cfg.File) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := bbolt.Open(filepath.Clean(cfg.File), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	s := &Bolt{
		db:            db,
		logger:        log.WithPrefix(logger, "bolt"),
		pollInterval:  cfg.PollInterval,
		changelogSize: uint64(max(1, cfg.ChangelogSize)),
		written:       make(chan struct{}),
		closed:        make(chan struct{}),
	}
	if s.pollInterval <= 0 {
		s.pollInterval = time.Second
	}
	if err = s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Bolt) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{changesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Bolt) Snapshot(ctx context.Context, tables ...string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := newSnapshot()
	err := s.db.View(func(tx *bbolt.Tx) error {
		snap.Cursor = seqCursor(tx.Bucket(changesBucket).Sequence())
		for _, table := range tables {
			bucket := tx.Bucket([]byte(table))
			if bucket == nil {
				continue
			}
			err := bucket.ForEach(func(k, v []byte) error {
				snap.add(table, string(k), bytes.Clone(v))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return snap.seal(tables), nil
}

func (s *Bolt) Get(ctx context.Context, table, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return ErrNotFound
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		value = bytes.Clone(v)
		return nil
	})
	return value, err
}

func (s *Bolt) Put(ctx context.Context, table, key string, value []byte) error {
	return s.write(ctx, Change{Table: table, Key: key, Type: ChangePut, Value: value})
}

func (s *Bolt) Delete(ctx context.Context, table, key string) error {
	return s.write(ctx, Change{Table: table, Key: key, Type: ChangeDelete})
}

func (s *Bolt) write(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(change.Table))
		if err != nil {
			return fmt.Errorf("create %s bucket: %w", change.Table, err)
		}
		if change.Type == ChangeDelete {
			if bucket.Get([]byte(change.Key)) == nil {
				return nil
			}
			err = bucket.Delete([]byte(change.Key))
		} else {
			err = bucket.Put([]byte(change.Key), change.Value)
		}
		if err != nil {
			return err
		}
		return s.appendChange(tx, payload)
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", change.Table, change.Key, err)
	}
	s.broadcast()
	return nil
}

func (s *Bolt) appendChange(tx *bbolt.Tx, payload []byte) error {
	changes := tx.Bucket(changesBucket)
	seq, err := changes.NextSequence()
	if err != nil {
		return err
	}
	if err = changes.Put(seqKey(seq), payload); err != nil {
		return err
	}
	if seq <= s.changelogSize {
		return nil
	}
	// trim the log to changelogSize entries and remember the last dropped sequence
	trimTo := seq - s.changelogSize
	var stale [][]byte
	c := changes.Cursor()
	for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= trimTo; k, _ = c.Next() {
		stale = append(stale, bytes.Clone(k))
	}
	for _, k := range stale {
		if err = changes.Delete(k); err != nil {
			return err
		}
	}
	return tx.Bucket(metaBucket).Put(trimmedKey, seqKey(trimTo))
}

func (s *Bolt) Watch(ctx context.Context, table, prefix string, from Cursor, fn func(Change) error) error {
	seq, err := parseSeqCursor(from)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		written := s.writeNotification()
		changes, last, more, err := s.readChanges(seq, table, prefix)
		if err != nil {
			return err
		}
		for _, change := range changes {
			if err = fn(change); err != nil {
				return err
			}
		}
		seq = last
		if more {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return ErrClosed
		case <-written:
		case <-ticker.C:
		}
	}
}

// readChanges returns the matching changes among the next watchBatchSize log entries after seq
// and the sequence of the last entry read. more reports a full batch.
func (s *Bolt) readChanges(seq uint64, table, prefix string) (changes []Change, last uint64, more bool, err error) {
	last = seq
	err = s.db.View(func(tx *bbolt.Tx) error {
		if trimmed := tx.Bucket(metaBucket).Get(trimmedKey); trimmed != nil && binary.BigEndian.Uint64(trimmed) > seq {
			return fmt.Errorf("%w: %d", ErrCursorExpired, seq)
		}
		c := tx.Bucket(changesBucket).Cursor()
		n := 0
		for k, v := c.Seek(seqKey(seq + 1)); k != nil && n < watchBatchSize; k, v = c.Next() {
			n++
			last = binary.BigEndian.Uint64(k)
			var change Change
			if err := json.Unmarshal(v, &change); err != nil {
				s.logger.Warn("skip malformed change", "seq", last, "err", err)
				continue
			}
			if change.match(table, prefix) {
				change.Cursor = seqCursor(last)
				changes = append(changes, change)
			}
		}
		more = n == watchBatchSize
		return nil
	})
	return changes, last, more, err
}

func (s *Bolt) writeNotification() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *Bolt) broadcast() {
	s.mu.Lock()
	close(s.written)
	s.written = make(chan struct{})
	s.mu.Unlock()
}

func (s *Bolt) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.db.Close()
	})
	return err
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func seqCursor(seq uint64) Cursor {
	return Cursor(strconv.FormatUint(seq, 10))
}

func parseSeqCursor(c Cursor) (uint64, error) {
	if c == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(string(c), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q: %w", c, err)
	}
	return seq, nil
}
