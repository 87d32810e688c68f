package db

import (
	"strings"

	"github.com/mikhailv/syncslides/syncslides/internal/storage"
)

const (
	tableDecks         = "decks"
	tableNotes         = "notes"
	tablePresentations = "presentations"
	tableUI            = "ui"
)

func deckKey(deckID string) string {
	return deckID
}

// isDeckKey tells deck rows from slide rows, both live in the decks table.
func isDeckKey(key string) bool {
	return !strings.Contains(key, "/")
}

func slideKey(deckID, slideID string) string {
	return storage.Key(deckID, "slides", slideID)
}

func slidesPrefix(deckID string) string {
	return storage.Key(deckID, "slides", "")
}

func currentSlideKey(deckID, presentationID string) string {
	return storage.Key(deckID, presentationID, "current_slide")
}

func sessionKey(sessionID string) string {
	return sessionID
}

func validID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}
