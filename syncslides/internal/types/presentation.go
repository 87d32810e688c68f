package types

import (
	"log/slog"
	"strings"
)

// PresentationAd is a live presentation found on the network.
// ID is the advertisement instance id; JoinAddr identifies the presentation to follow.
type PresentationAd struct {
	ID        string `json:"id"`
	Presenter Person `json:"presenter"`
	Deck      Deck   `json:"deck"`
	JoinAddr  string `json:"join_addr"`
}

func (a PresentationAd) GetID() string { return a.ID }

func (a PresentationAd) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", a.ID),
		slog.String("presenter", a.Presenter.Name),
		slog.String("deck", a.Deck.ID),
		slog.String("join_addr", a.JoinAddr),
	)
}

// PresentationInfo is returned by the advertiser's detail responder.
type PresentationInfo struct {
	Presenter Person `json:"presenter"`
	DeckID    string `json:"deck_id"`
	Deck      Deck   `json:"deck"`
	JoinAddr  string `json:"join_addr"`
}

func JoinAddr(deckID, presentationID string) string {
	return deckID + "/" + presentationID
}

// ParseJoinAddr splits a join address back into deck and presentation ids.
func ParseJoinAddr(addr string) (deckID, presentationID string, ok bool) {
	i := strings.LastIndexByte(addr, '/')
	if i <= 0 || i == len(addr)-1 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}
