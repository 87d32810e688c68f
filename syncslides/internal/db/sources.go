package db

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/syncslides/internal/feed"
	"github.com/mikhailv/syncslides/syncslides/internal/metrics"
	"github.com/mikhailv/syncslides/syncslides/internal/storage"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

var (
	_ feed.Source[types.Deck]  = (*DeckSource)(nil)
	_ feed.Source[types.Slide] = (*SlideSource)(nil)
	_ feed.Source[int]         = (*keySource[int])(nil)
)

// DeckSource feeds the decks stored on the node, ordered by id.
type DeckSource struct {
	store  storage.Store
	logger *slog.Logger
}

func NewDeckSource(store storage.Store, logger *slog.Logger) *DeckSource {
	return &DeckSource{store, log.WithPrefix(logger, "decks")}
}

func (s *DeckSource) Compare(a, b types.Deck) int {
	return types.CompareByID(a, b)
}

func (s *DeckSource) Watch(ctx context.Context, emit func(feed.Event[types.Deck])) error {
	snap, err := readSnapshot(ctx, s.store, s.logger, tableDecks)
	if err != nil {
		return err
	}
	for _, row := range snap.Scan(tableDecks, "") {
		if !isDeckKey(row.Key) {
			continue
		}
		if deck, ok := s.decode(row.Key, row.Value); ok {
			emit(feed.PutEvent(deck))
		}
	}

	return s.store.Watch(ctx, tableDecks, "", snap.Cursor, func(change storage.Change) error {
		if !isDeckKey(change.Key) {
			return nil
		}
		if change.Type == storage.ChangeDelete {
			emit(feed.DeleteEvent(types.Deck{ID: change.Key}))
		} else if deck, ok := s.decode(change.Key, change.Value); ok {
			emit(feed.PutEvent(deck))
		}
		return nil
	})
}

func (s *DeckSource) decode(key string, data []byte) (types.Deck, bool) {
	deck, err := decode[types.Deck](data)
	if err != nil {
		s.logger.Warn("skip malformed deck", "key", key, "err", err)
		return deck, false
	}
	deck.ID = key
	return deck, true
}

// SlideSource feeds the slides of one deck with their notes, ordered by slide key.
// Notes live in their own table, a change of either row re-emits the whole slide.
type SlideSource struct {
	store  storage.Store
	logger *slog.Logger
	deckID string
}

func NewSlideSource(store storage.Store, deckID string, logger *slog.Logger) *SlideSource {
	return &SlideSource{store, log.WithPrefix(logger, "slides"), deckID}
}

func (s *SlideSource) Compare(a, b types.Slide) int {
	return types.CompareByID(a, b)
}

func (s *SlideSource) Watch(ctx context.Context, emit func(feed.Event[types.Slide])) error {
	prefix := slidesPrefix(s.deckID)
	snap, err := readSnapshot(ctx, s.store, s.logger, tableDecks, tableNotes)
	if err != nil {
		return err
	}
	for _, row := range snap.Scan(tableDecks, prefix) {
		notes, _ := snap.Get(tableNotes, row.Key)
		if slide, ok := s.decode(row.Key, row.Value, notes); ok {
			emit(feed.PutEvent(slide))
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.Watch(ctx, tableDecks, prefix, snap.Cursor, func(change storage.Change) error {
			if change.Type == storage.ChangeDelete {
				emit(feed.DeleteEvent(types.Slide{ID: change.Key}))
				return nil
			}
			notes, err := s.store.Get(ctx, tableNotes, change.Key)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("read notes %s: %w", change.Key, err)
			}
			if slide, ok := s.decode(change.Key, change.Value, notes); ok {
				emit(feed.PutEvent(slide))
			}
			return nil
		})
	})
	g.Go(func() error {
		return s.store.Watch(ctx, tableNotes, prefix, snap.Cursor, func(change storage.Change) error {
			row, err := s.store.Get(ctx, tableDecks, change.Key)
			if errors.Is(err, storage.ErrNotFound) {
				return nil // slide row not written yet or already gone
			}
			if err != nil {
				return fmt.Errorf("read slide %s: %w", change.Key, err)
			}
			if slide, ok := s.decode(change.Key, row, change.Value); ok {
				emit(feed.PutEvent(slide))
			}
			return nil
		})
	})
	return g.Wait()
}

func (s *SlideSource) decode(key string, data, notes []byte) (types.Slide, bool) {
	slide, err := decode[types.Slide](data)
	if err != nil {
		s.logger.Warn("skip malformed slide", "key", key, "err", err)
		return slide, false
	}
	slide.ID = key
	slide.Notes = ""
	if len(notes) > 0 {
		note, err := decode[types.Note](notes)
		if err != nil {
			s.logger.Warn("ignore malformed notes", "key", key, "err", err)
		} else {
			slide.Notes = note.Text
		}
	}
	return slide, true
}

// keySource feeds the value of a single row: a Put per write, a Delete when the row is removed.
type keySource[T any] struct {
	store   storage.Store
	logger  *slog.Logger
	table   string
	key     string
	decode  func([]byte) (T, error)
	compare func(a, b T) int
}

// NewSessionSlideSource feeds the local slide number of a session.
func NewSessionSlideSource(store storage.Store, sessionID string, logger *slog.Logger) feed.Source[int] {
	return &keySource[int]{
		store:  store,
		logger: log.WithPrefix(logger, "session_slide"),
		table:  tableUI,
		key:    sessionKey(sessionID),
		decode: func(data []byte) (int, error) {
			session, err := decode[types.Session](data)
			return session.LocalSlide, err
		},
		compare: cmp.Compare[int],
	}
}

// NewCurrentSlideSource feeds the slide number set by the driver of a presentation.
func NewCurrentSlideSource(store storage.Store, deckID, presentationID string, logger *slog.Logger) feed.Source[int] {
	return &keySource[int]{
		store:  store,
		logger: log.WithPrefix(logger, "current_slide"),
		table:  tablePresentations,
		key:    currentSlideKey(deckID, presentationID),
		decode: func(data []byte) (int, error) {
			current, err := decode[types.CurrentSlide](data)
			return current.SlideNum, err
		},
		compare: cmp.Compare[int],
	}
}

func (s *keySource[T]) Compare(a, b T) int {
	return s.compare(a, b)
}

func (s *keySource[T]) Watch(ctx context.Context, emit func(feed.Event[T])) error {
	snap, err := readSnapshot(ctx, s.store, s.logger, s.table)
	if err != nil {
		return err
	}
	if data, ok := snap.Get(s.table, s.key); ok {
		s.emitPut(emit, data)
	}
	return s.store.Watch(ctx, s.table, s.key, snap.Cursor, func(change storage.Change) error {
		if change.Key != s.key {
			return nil
		}
		if change.Type == storage.ChangeDelete {
			var zero T
			emit(feed.DeleteEvent(zero))
		} else {
			s.emitPut(emit, change.Value)
		}
		return nil
	})
}

func (s *keySource[T]) emitPut(emit func(feed.Event[T]), data []byte) {
	value, err := s.decode(data)
	if err != nil {
		s.logger.Warn("skip malformed row", "key", s.key, "err", err)
		return
	}
	emit(feed.PutEvent(value))
}

func readSnapshot(ctx context.Context, store storage.Store, logger *slog.Logger, tables ...string) (*storage.Snapshot, error) {
	defer metrics.TrackNamedDuration("snapshot", tables[0])()
	defer log.Profile(logger, "read snapshot", "tables", tables)()
	snap, err := store.Snapshot(ctx, tables...)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return snap, nil
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
