package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mikhailv/syncslides/syncslides/internal/projection"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

const sendBufferSize = 256

type wsMessage struct {
	Op    string `json:"op"`
	Index *int   `json:"index,omitempty"`
	Item  any    `json:"item,omitempty"`
	Items any    `json:"items,omitempty"`
	Value *int   `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

func itemMessage(op string, index int, item any) wsMessage {
	return wsMessage{Op: op, Index: &index, Item: item}
}

// wsSender queues messages for one websocket. A client that falls sendBufferSize messages
// behind is disconnected. send must only be called from a single producer, the loop for
// projection streams.
type wsSender struct {
	out        chan wsMessage
	overflow   chan struct{}
	overflowed bool // producer only
}

func newWSSender() *wsSender {
	return &wsSender{
		out:      make(chan wsMessage, sendBufferSize),
		overflow: make(chan struct{}),
	}
}

func (s *wsSender) send(msg wsMessage) {
	if s.overflowed {
		return
	}
	select {
	case s.out <- msg:
	default:
		s.overflowed = true
		close(s.overflow)
	}
}

// run writes queued messages until the client goes away. A feed error is the last message.
func (s *wsSender) run(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug("websocket connection closed", "err", ctx.Err())
			return
		case <-s.overflow:
			logger.Warn("websocket client too slow, disconnecting")
			_ = conn.Close(websocket.StatusTryAgainLater, "client too slow")
			return
		case msg := <-s.out:
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				logger.Error("failed to send data", "err", err, "op", msg.Op)
				return
			}
			if msg.Op == "error" {
				_ = conn.Close(websocket.StatusInternalError, "feed failed")
				return
			}
		}
	}
}

func acceptWebsocket(w http.ResponseWriter, req *http.Request, logger *slog.Logger) (*websocket.Conn, context.Context, bool) {
	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		logger.Error("failed to accept websocket connection", "err", err)
		return nil, nil, false
	}
	logger.Debug("accept websocket connection", "client", req.RemoteAddr, "path", req.URL.Path)
	return conn, conn.CloseRead(req.Context()), true
}

// detach runs fn on the loop after the request context is gone.
func detach(loop *projection.Loop, fn func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = loop.Do(ctx, fn)
}

// serveList mirrors list to the websocket for the lifetime of the connection.
func serveList[E any](w http.ResponseWriter, req *http.Request, loop *projection.Loop, list *projection.List[E], logger *slog.Logger) {
	conn, ctx, ok := acceptWebsocket(w, req, logger)
	if !ok {
		return
	}
	defer func() { _ = conn.CloseNow() }()

	sender := newWSSender()
	listener := &projection.ListenerFuncs{
		Reset: func() {
			sender.send(wsMessage{Op: "reset", Items: list.Items()})
		},
		Inserted: func(i int) {
			sender.send(itemMessage("insert", i, list.Get(i)))
		},
		Changed: func(i int) {
			sender.send(itemMessage("change", i, list.Get(i)))
		},
		Removed: func(i int) {
			sender.send(wsMessage{Op: "remove", Index: &i})
		},
		Error: func(err error) {
			sender.send(wsMessage{Op: "error", Error: err.Error()})
		},
	}
	err := loop.Do(ctx, func() { list.AddListener(listener) })
	// queued after the add even when Do gave up waiting for it
	defer detach(loop, func() { list.RemoveListener(listener) })
	if err != nil {
		return
	}

	sender.run(ctx, conn, logger)
}

func serveScalar(w http.ResponseWriter, req *http.Request, loop *projection.Loop, merger *projection.Merger[int], logger *slog.Logger) {
	conn, ctx, ok := acceptWebsocket(w, req, logger)
	if !ok {
		return
	}
	defer func() { _ = conn.CloseNow() }()

	sender := newWSSender()
	listener := &projection.ScalarListenerFuncs[int]{
		Change: func(value int) {
			sender.send(wsMessage{Op: "slide", Value: &value})
		},
		Error: func(err error) {
			sender.send(wsMessage{Op: "error", Error: err.Error()})
		},
	}
	err := loop.Do(ctx, func() { merger.AddListener(listener) })
	// queued after the add even when Do gave up waiting for it
	defer detach(loop, func() { merger.RemoveListener(listener) })
	if err != nil {
		return
	}

	sender.run(ctx, conn, logger)
}

func (s *HTTPServer) handleDecksStream(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		serveList(w, req, s.loop, s.db.Decks(), logger)
	})
}

func (s *HTTPServer) handleSlidesStream(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		serveList(w, req, s.loop, s.db.Slides(req.PathValue("deck")), logger)
	})
}

func (s *HTTPServer) handlePresentationsStream(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		serveList[types.PresentationAd](w, req, s.loop, s.presentations, logger)
	})
}

func (s *HTTPServer) handleSlideNumberStream(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		session, err := s.db.Session(req.Context(), req.PathValue("session"))
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		serveScalar(w, req, s.loop, s.db.SlideNumber(session), logger)
	})
}
