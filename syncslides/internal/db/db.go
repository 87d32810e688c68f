// Package db maps the node's domain onto the store: deck and slide feeds, sessions and
// live presentations.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/syncslides/internal/feed"
	"github.com/mikhailv/syncslides/syncslides/internal/projection"
	"github.com/mikhailv/syncslides/syncslides/internal/storage"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

var (
	ErrNoPresentation = errors.New("session has no live presentation")
	ErrInvalidID      = errors.New("invalid id")
)

type DB struct {
	store              storage.Store
	loop               *projection.Loop
	logger             *slog.Logger
	sessionReadTimeout time.Duration
	decks              *projection.List[types.Deck]
}

func New(store storage.Store, loop *projection.Loop, sessionReadTimeout time.Duration, logger *slog.Logger) *DB {
	logger = log.WithPrefix(logger, "db")
	return &DB{
		store:              store,
		loop:               loop,
		logger:             logger,
		sessionReadTimeout: sessionReadTimeout,
		decks: projection.New[types.Deck](loop, NewDeckSource(store, logger),
			projection.WithName("decks"), projection.WithLogger(logger)),
	}
}

// Decks returns the list of all decks, shared by every caller.
func (db *DB) Decks() *projection.List[types.Deck] {
	return db.decks
}

// Slides returns a new list of the slides of deckID.
func (db *DB) Slides(deckID string) *projection.List[types.Slide] {
	return projection.New[types.Slide](db.loop, NewSlideSource(db.store, deckID, db.logger),
		projection.WithName("slides"), projection.WithLogger(db.logger))
}

// SlideNumber returns the slide the session shows: its own slide when set, otherwise the slide
// of the presentation it follows.
func (db *DB) SlideNumber(session types.Session) *projection.Merger[int] {
	var driver feed.Source[int]
	if session.Live() {
		driver = NewCurrentSlideSource(db.store, session.DeckID, session.PresentationID, db.logger)
	}
	return projection.NewMerger(db.loop, NewSessionSlideSource(db.store, session.ID, db.logger), driver,
		types.UnsetSlideNum, projection.WithName("slide_number"), projection.WithLogger(db.logger))
}

func (db *DB) Deck(ctx context.Context, deckID string) (types.Deck, error) {
	data, err := db.store.Get(ctx, tableDecks, deckKey(deckID))
	if err != nil {
		return types.Deck{}, fmt.Errorf("failed to read deck %s: %w", deckID, err)
	}
	deck, err := decode[types.Deck](data)
	if err != nil {
		return types.Deck{}, fmt.Errorf("failed to decode deck %s: %w", deckID, err)
	}
	deck.ID = deckID
	return deck, nil
}

func (db *DB) SaveDeck(ctx context.Context, deck types.Deck) error {
	if !validID(deck.ID) {
		return fmt.Errorf("%w: deck %q", ErrInvalidID, deck.ID)
	}
	return db.put(ctx, tableDecks, deckKey(deck.ID), deck)
}

func (db *DB) SaveSlide(ctx context.Context, deckID string, slide types.Slide) error {
	if !validID(deckID) || !validID(slide.ID) {
		return fmt.Errorf("%w: slide %q of deck %q", ErrInvalidID, slide.ID, deckID)
	}
	if _, err := db.store.Get(ctx, tableDecks, deckKey(deckID)); err != nil {
		return fmt.Errorf("failed to read deck %s: %w", deckID, err)
	}
	key := slideKey(deckID, slide.ID)
	slide.ID = key
	slide.Notes = ""
	return db.put(ctx, tableDecks, key, slide)
}

func (db *DB) SaveNotes(ctx context.Context, deckID, slideID, text string) error {
	if !validID(deckID) || !validID(slideID) {
		return fmt.Errorf("%w: slide %q of deck %q", ErrInvalidID, slideID, deckID)
	}
	return db.put(ctx, tableNotes, slideKey(deckID, slideID), types.Note{Text: text})
}

// DeleteDeck removes the deck with its slides and notes.
func (db *DB) DeleteDeck(ctx context.Context, deckID string) error {
	snap, err := db.store.Snapshot(ctx, tableDecks, tableNotes)
	if err != nil {
		return fmt.Errorf("failed to read deck %s: %w", deckID, err)
	}
	if _, ok := snap.Get(tableDecks, deckKey(deckID)); !ok {
		return fmt.Errorf("deck %s: %w", deckID, storage.ErrNotFound)
	}
	prefix := slidesPrefix(deckID)
	// slides go first so that note deletions never resurrect them
	for _, row := range snap.Scan(tableDecks, prefix) {
		if err = db.store.Delete(ctx, tableDecks, row.Key); err != nil {
			return err
		}
	}
	for _, row := range snap.Scan(tableNotes, prefix) {
		if err = db.store.Delete(ctx, tableNotes, row.Key); err != nil {
			return err
		}
	}
	if err = db.store.Delete(ctx, tableDecks, deckKey(deckID)); err != nil {
		return err
	}
	db.logger.Info("deck deleted", "deck", deckID)
	return nil
}

func (db *DB) CreateSession(ctx context.Context, deckID string) (types.Session, error) {
	if _, err := db.store.Get(ctx, tableDecks, deckKey(deckID)); err != nil {
		return types.Session{}, fmt.Errorf("failed to read deck %s: %w", deckID, err)
	}
	session := types.Session{ID: uuid.NewString(), DeckID: deckID}
	if err := db.put(ctx, tableUI, sessionKey(session.ID), session); err != nil {
		return types.Session{}, err
	}
	db.logger.Info("session created", "session", session)
	return session, nil
}

// Session reads a session, giving up after the session read timeout.
func (db *DB) Session(ctx context.Context, sessionID string) (types.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, db.sessionReadTimeout)
	defer cancel()
	data, err := db.store.Get(ctx, tableUI, sessionKey(sessionID))
	if err != nil {
		return types.Session{}, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	session, err := decode[types.Session](data)
	if err != nil {
		return types.Session{}, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return session, nil
}

// SetLocalSlideNum sets the slide the session shows on its own, UnsetSlideNum follows the presentation.
func (db *DB) SetLocalSlideNum(ctx context.Context, sessionID string, slideNum int) (types.Session, error) {
	return db.updateSession(ctx, sessionID, func(session *types.Session) error {
		session.LocalSlide = slideNum
		return nil
	})
}

// StartPresentation makes the session the driver of a new live presentation starting at slide 0.
func (db *DB) StartPresentation(ctx context.Context, sessionID string) (types.Session, error) {
	return db.updateSession(ctx, sessionID, func(session *types.Session) error {
		presentationID := ulid.Make().String()
		if err := db.put(ctx, tablePresentations, currentSlideKey(session.DeckID, presentationID), types.CurrentSlide{}); err != nil {
			return err
		}
		session.PresentationID = presentationID
		session.LocalSlide = types.UnsetSlideNum
		db.logger.Info("presentation started", "session", session.ID, "presentation", presentationID)
		return nil
	})
}

// StopPresentation ends the session's presentation, the session keeps showing the last slide.
func (db *DB) StopPresentation(ctx context.Context, sessionID string) (types.Session, error) {
	return db.updateSession(ctx, sessionID, func(session *types.Session) error {
		if !session.Live() {
			return ErrNoPresentation
		}
		key := currentSlideKey(session.DeckID, session.PresentationID)
		slideNum := 0
		if data, err := db.store.Get(ctx, tablePresentations, key); err == nil {
			if current, err := decode[types.CurrentSlide](data); err == nil {
				slideNum = current.SlideNum
			}
		}
		if err := db.store.Delete(ctx, tablePresentations, key); err != nil {
			return err
		}
		db.logger.Info("presentation stopped", "session", session.ID, "presentation", session.PresentationID)
		session.PresentationID = ""
		if session.LocalSlide == types.UnsetSlideNum {
			session.LocalSlide = slideNum
		}
		return nil
	})
}

// JoinPresentation creates a session following the advertised presentation.
func (db *DB) JoinPresentation(ctx context.Context, ad types.PresentationAd) (types.Session, error) {
	deckID, presentationID, ok := types.ParseJoinAddr(ad.JoinAddr)
	if !ok {
		return types.Session{}, fmt.Errorf("%w: join address %q", ErrInvalidID, ad.JoinAddr)
	}
	session := types.Session{
		ID:             uuid.NewString(),
		DeckID:         deckID,
		PresentationID: presentationID,
		LocalSlide:     types.UnsetSlideNum,
	}
	if err := db.put(ctx, tableUI, sessionKey(session.ID), session); err != nil {
		return types.Session{}, err
	}
	db.logger.Info("presentation joined", "session", session, "ad", ad)
	return session, nil
}

func (db *DB) SetCurrentSlide(ctx context.Context, deckID, presentationID string, slideNum int) error {
	return db.put(ctx, tablePresentations, currentSlideKey(deckID, presentationID), types.CurrentSlide{SlideNum: slideNum})
}

// SetSessionCurrentSlide drives the presentation of the session.
func (db *DB) SetSessionCurrentSlide(ctx context.Context, sessionID string, slideNum int) error {
	session, err := db.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.Live() {
		return ErrNoPresentation
	}
	return db.SetCurrentSlide(ctx, session.DeckID, session.PresentationID, slideNum)
}

func (db *DB) updateSession(ctx context.Context, sessionID string, update func(*types.Session) error) (types.Session, error) {
	session, err := db.Session(ctx, sessionID)
	if err != nil {
		return types.Session{}, err
	}
	if err = update(&session); err != nil {
		return types.Session{}, err
	}
	if err = db.put(ctx, tableUI, sessionKey(session.ID), session); err != nil {
		return types.Session{}, err
	}
	return session, nil
}

func (db *DB) put(ctx context.Context, table, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, key, err)
	}
	if err = db.store.Put(ctx, table, key, data); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", table, key, err)
	}
	return nil
}
