package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/syncslides/internal/config"
)

const redisStreamStart = "0-0"

var _ Store = (*Redis)(nil)

// Redis keeps every table in a hash and the change log in a stream capped at changelogSize
// entries. Writes update the hash and the stream in one MULTI/EXEC.
type Redis struct {
	client        *redis.Client
	logger        *slog.Logger
	prefix        string
	blockTimeout  time.Duration
	changelogSize int64
}

func NewRedis(cfg config.RedisStorage, logger *slog.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedis(client, cfg, logger)
}

func newRedis(client *redis.Client, cfg config.RedisStorage, logger *slog.Logger) *Redis {
	s := &Redis{
		client:        client,
		logger:        log.WithPrefix(logger, "redis"),
		prefix:        cfg.Prefix,
		blockTimeout:  cfg.BlockTimeout,
		changelogSize: max(1, cfg.ChangelogSize),
	}
	if s.blockTimeout <= 0 {
		s.blockTimeout = 2 * time.Second
	}
	return s
}

func (s *Redis) tableKey(table string) string {
	return s.prefix + "table:" + table
}

func (s *Redis) changesKey() string {
	return s.prefix + "changes"
}

func (s *Redis) Snapshot(ctx context.Context, tables ...string) (*Snapshot, error) {
	var (
		rows = make([]*redis.MapStringStringCmd, len(tables))
		last *redis.XMessageSliceCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, table := range tables {
			rows[i] = pipe.HGetAll(ctx, s.tableKey(table))
		}
		last = pipe.XRevRangeN(ctx, s.changesKey(), "+", "-", 1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap := newSnapshot()
	snap.Cursor = redisStreamStart
	if msgs := last.Val(); len(msgs) > 0 {
		snap.Cursor = Cursor(msgs[0].ID)
	}
	for i, table := range tables {
		for key, value := range rows[i].Val() {
			snap.add(table, key, []byte(value))
		}
	}
	return snap.seal(tables), nil
}

func (s *Redis) Get(ctx context.Context, table, key string) ([]byte, error) {
	value, err := s.client.HGet(ctx, s.tableKey(table), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, key, err)
	}
	return value, nil
}

func (s *Redis) Put(ctx context.Context, table, key string, value []byte) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.tableKey(table), key, value)
		s.appendChange(ctx, pipe, Change{Table: table, Key: key, Type: ChangePut, Value: value})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, table, key string) error {
	// WATCH keeps a concurrent put of the same row from slipping between the check and the delete
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, s.tableKey(table), key).Result()
		if err != nil || !exists {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, s.tableKey(table), key)
			s.appendChange(ctx, pipe, Change{Table: table, Key: key, Type: ChangeDelete})
			return nil
		})
		return err
	}, s.tableKey(table))
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *Redis) appendChange(ctx context.Context, pipe redis.Pipeliner, change Change) {
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.changesKey(),
		MaxLen: s.changelogSize,
		Approx: true,
		Values: map[string]any{
			"table": change.Table,
			"key":   change.Key,
			"type":  int(change.Type),
			"value": change.Value,
		},
	})
}

func (s *Redis) Watch(ctx context.Context, table, prefix string, from Cursor, fn func(Change) error) error {
	cursor := string(from)
	if cursor == "" {
		cursor = redisStreamStart
	}
	for {
		if err := s.checkRetained(ctx, cursor); err != nil {
			return err
		}
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.changesKey(), cursor},
			Count:   watchBatchSize,
			Block:   s.blockTimeout,
		}).Result()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read changes: %w", err)
		}
		for _, st := range streams {
			for _, msg := range st.Messages {
				cursor = msg.ID
				change, err := parseRedisChange(msg)
				if err != nil {
					s.logger.Warn("skip malformed change", "id", msg.ID, "err", err)
					continue
				}
				if !change.match(table, prefix) {
					continue
				}
				if err = fn(change); err != nil {
					return err
				}
			}
		}
	}
}

// checkRetained fails with ErrCursorExpired when entries after cursor were trimmed from the stream.
func (s *Redis) checkRetained(ctx context.Context, cursor string) error {
	info, err := s.client.XInfoStream(ctx, s.changesKey()).Result()
	if err != nil {
		if strings.Contains(err.Error(), "no such key") {
			return nil
		}
		return fmt.Errorf("read changes info: %w", err)
	}
	if compareStreamIDs(info.MaxDeletedEntryID, cursor) > 0 {
		return fmt.Errorf("%w: %s", ErrCursorExpired, cursor)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}

func parseRedisChange(msg redis.XMessage) (Change, error) {
	str := func(name string) string {
		v, _ := msg.Values[name].(string)
		return v
	}
	typ, err := strconv.Atoi(str("type"))
	if err != nil {
		return Change{}, fmt.Errorf("invalid change type: %w", err)
	}
	change := Change{
		Table:  str("table"),
		Key:    str("key"),
		Type:   ChangeType(typ),
		Cursor: Cursor(msg.ID),
	}
	if change.Type != ChangePut && change.Type != ChangeDelete {
		return Change{}, fmt.Errorf("unknown change type %d", typ)
	}
	if change.Type == ChangePut {
		change.Value = []byte(str("value"))
	}
	return change, nil
}

// compareStreamIDs orders "<ms>-<seq>" stream entry ids, an empty id sorts first.
func compareStreamIDs(a, b string) int {
	am, as := splitStreamID(a)
	bm, bs := splitStreamID(b)
	if c := cmp.Compare(am, bm); c != 0 {
		return c
	}
	return cmp.Compare(as, bs)
}

func splitStreamID(id string) (ms, seq uint64) {
	msPart, seqPart, _ := strings.Cut(id, "-")
	ms, _ = strconv.ParseUint(msPart, 10, 64)
	seq, _ = strconv.ParseUint(seqPart, 10, 64)
	return ms, seq
}
