package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mikhailv/syncslides/syncslides/internal/storage"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

type deckRequest struct {
	Title     string `json:"title"`
	Thumbnail []byte `json:"thumbnail"`
}

type slideRequest struct {
	Thumbnail []byte `json:"thumbnail"`
	Image     []byte `json:"image"`
}

type notesRequest struct {
	Text string `json:"text"`
}

type sessionRequest struct {
	DeckID string `json:"deck_id"`
}

type slideNumRequest struct {
	SlideNum int `json:"slide_num"`
}

func (s *HTTPServer) handlePutDeck(w http.ResponseWriter, req *http.Request) (int, error) {
	var body deckRequest
	if code, err := readJSON(req, &body); err != nil {
		return code, err
	}
	deck := types.Deck{ID: req.PathValue("deck"), Title: body.Title, Thumbnail: body.Thumbnail}
	if err := s.db.SaveDeck(req.Context(), deck); err != nil {
		return errorStatus(err), err
	}
	return writeJSON(w, http.StatusOK, deck)
}

func (s *HTTPServer) handleDeleteDeck(w http.ResponseWriter, req *http.Request) (int, error) {
	if err := s.db.DeleteDeck(req.Context(), req.PathValue("deck")); err != nil {
		return errorStatus(err), err
	}
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent, nil
}

func (s *HTTPServer) handlePutSlide(w http.ResponseWriter, req *http.Request) (int, error) {
	var body slideRequest
	if code, err := readJSON(req, &body); err != nil {
		return code, err
	}
	slide := types.Slide{ID: req.PathValue("slide"), Thumbnail: body.Thumbnail, Image: body.Image}
	if err := s.db.SaveSlide(req.Context(), req.PathValue("deck"), slide); err != nil {
		return errorStatus(err), err
	}
	return writeJSON(w, http.StatusOK, slide)
}

func (s *HTTPServer) handlePutNotes(w http.ResponseWriter, req *http.Request) (int, error) {
	var body notesRequest
	if code, err := readJSON(req, &body); err != nil {
		return code, err
	}
	if err := s.db.SaveNotes(req.Context(), req.PathValue("deck"), req.PathValue("slide"), body.Text); err != nil {
		return errorStatus(err), err
	}
	return writeJSON(w, http.StatusOK, types.Note{Text: body.Text})
}

func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, req *http.Request) (int, error) {
	var body sessionRequest
	if code, err := readJSON(req, &body); err != nil {
		return code, err
	}
	session, err := s.db.CreateSession(req.Context(), body.DeckID)
	if err != nil {
		return errorStatus(err), err
	}
	return writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handleGetSession(w http.ResponseWriter, req *http.Request) (int, error) {
	session, err := s.db.Session(req.Context(), req.PathValue("session"))
	if err != nil {
		return errorStatus(err), err
	}
	return writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleSetLocalSlide(w http.ResponseWriter, req *http.Request) (int, error) {
	var body slideNumRequest
	if code, err := readJSON(req, &body); err != nil {
		return code, err
	}
	if body.SlideNum < types.UnsetSlideNum {
		return http.StatusBadRequest, fmt.Errorf("invalid slide number %d", body.SlideNum)
	}
	session, err := s.db.SetLocalSlideNum(req.Context(), req.PathValue("session"), body.SlideNum)
	if err != nil {
		return errorStatus(err), err
	}
	return writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleSetCurrentSlide(w http.ResponseWriter, req *http.Request) (int, error) {
	var body slideNumRequest
	if code, err := readJSON(req, &body); err != nil {
		return code, err
	}
	if body.SlideNum < 0 {
		return http.StatusBadRequest, fmt.Errorf("invalid slide number %d", body.SlideNum)
	}
	if err := s.db.SetSessionCurrentSlide(req.Context(), req.PathValue("session"), body.SlideNum); err != nil {
		return errorStatus(err), err
	}
	return writeJSON(w, http.StatusOK, types.CurrentSlide{SlideNum: body.SlideNum})
}

// handleStartPresentation makes the session live and advertises it until the presentation is stopped
// or the server shuts down.
func (s *HTTPServer) handleStartPresentation(w http.ResponseWriter, req *http.Request) (int, error) {
	sessionID := req.PathValue("session")
	session, err := s.db.Session(req.Context(), sessionID)
	if err != nil {
		return errorStatus(err), err
	}
	if session.Live() {
		return http.StatusConflict, fmt.Errorf("session %s is already live", sessionID)
	}
	deck, err := s.db.Deck(req.Context(), session.DeckID)
	if err != nil {
		return errorStatus(err), err
	}
	session, err = s.db.StartPresentation(req.Context(), sessionID)
	if err != nil {
		return errorStatus(err), err
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	ad := types.PresentationAd{
		Presenter: s.presenter,
		Deck:      deck,
		JoinAddr:  types.JoinAddr(session.DeckID, session.PresentationID),
	}
	if err = s.advertiser.Start(ctx, ad); err != nil {
		cancel()
		if _, stopErr := s.db.StopPresentation(context.WithoutCancel(req.Context()), sessionID); stopErr != nil {
			err = errors.Join(err, stopErr)
		}
		return http.StatusInternalServerError, err
	}

	s.presenting.Lock()
	s.presenting.cancel[sessionID] = cancel
	s.presenting.Unlock()
	return writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleStopPresentation(w http.ResponseWriter, req *http.Request) (int, error) {
	sessionID := req.PathValue("session")
	s.presenting.Lock()
	if cancel, ok := s.presenting.cancel[sessionID]; ok {
		cancel()
		delete(s.presenting.cancel, sessionID)
	}
	s.presenting.Unlock()

	session, err := s.db.StopPresentation(req.Context(), sessionID)
	if err != nil {
		return errorStatus(err), err
	}
	return writeJSON(w, http.StatusOK, session)
}

// handleJoinPresentation follows a presentation currently listed on /api/presentations/ws.
func (s *HTTPServer) handleJoinPresentation(w http.ResponseWriter, req *http.Request) (int, error) {
	adID := req.PathValue("ad")
	var (
		ad    types.PresentationAd
		found bool
	)
	err := s.loop.Do(req.Context(), func() {
		for _, item := range s.presentations.Items() {
			if item.ID == adID {
				ad, found = item, true
				return
			}
		}
	})
	if err != nil {
		return http.StatusServiceUnavailable, err
	}
	if !found {
		return http.StatusNotFound, fmt.Errorf("presentation %s: %w", adID, storage.ErrNotFound)
	}

	session, err := s.db.JoinPresentation(req.Context(), ad)
	if err != nil {
		return errorStatus(err), err
	}
	return writeJSON(w, http.StatusCreated, session)
}

