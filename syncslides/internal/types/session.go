package types

import "log/slog"

// Session is the viewing state of one deck on this node. PresentationID is set when the
// session presents or follows a live presentation.
type Session struct {
	ID             string `json:"id"`
	DeckID         string `json:"deck_id"`
	PresentationID string `json:"presentation_id,omitempty"`
	LocalSlide     int    `json:"local_slide"`
}

func (s Session) Live() bool {
	return s.PresentationID != ""
}

func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.ID),
		slog.String("deck", s.DeckID),
		slog.String("presentation", s.PresentationID),
		slog.Int("local_slide", s.LocalSlide),
	)
}

// CurrentSlide is the slide chosen by the driver of a live presentation.
type CurrentSlide struct {
	SlideNum int `json:"slide_num"`
}
