package types

import (
	"log/slog"
	"strings"
)

// UnsetSlideNum marks a session that follows the live presentation instead of its own slide.
const UnsetSlideNum = -1

type Deck struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Thumbnail []byte `json:"thumbnail,omitempty"`
}

func (d Deck) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", d.ID),
		slog.String("title", d.Title),
	)
}

// Slide is identified by its store key, <deckID>/slides/<slideID>, so slides sort in deck order.
// Image holds the full-size slide as stored, the node never decodes it.
type Slide struct {
	ID        string `json:"id"`
	Thumbnail []byte `json:"thumbnail,omitempty"`
	Image     []byte `json:"image,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (s Slide) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.ID),
		slog.Int("image_len", len(s.Image)),
		slog.Int("notes_len", len(s.Notes)),
	)
}

type Note struct {
	Text string `json:"text"`
}

type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p Person) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", p.ID),
		slog.String("name", p.Name),
	)
}

func CompareByID[T interface{ GetID() string }](a, b T) int {
	return strings.Compare(a.GetID(), b.GetID())
}

func (d Deck) GetID() string { return d.ID }

func (s Slide) GetID() string { return s.ID }
