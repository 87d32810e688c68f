package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-playground/assert/v2"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/internal/stream"
	"github.com/mikhailv/syncslides/syncslides/internal/config"
	"github.com/mikhailv/syncslides/syncslides/internal/db"
	"github.com/mikhailv/syncslides/syncslides/internal/discovery"
	"github.com/mikhailv/syncslides/syncslides/internal/projection"
	"github.com/mikhailv/syncslides/syncslides/internal/storage"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

type testMessage struct {
	Op    string          `json:"op"`
	Index *int            `json:"index"`
	Item  json.RawMessage `json:"item"`
	Items json.RawMessage `json:"items"`
	Value *int            `json:"value"`
	Error string          `json:"error"`
}

// newTestNode starts a node on store and network, both shared between nodes of one test.
func newTestNode(t *testing.T, store storage.Store, network *discovery.LocalNetwork, deviceID string) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	recorder := log.NewRecorder(log.NewPrefixHandler(slog.NewTextHandler(io.Discard, nil)), 100)
	logger := slog.New(recorder)

	loop := projection.NewLoop(64)
	go loop.Run(ctx)

	cfg := config.Discovery{ResponderAddr: "127.0.0.1:0", FetchTimeout: time.Second}
	scanner := discovery.NewScanner(network, discovery.NewInfoClient(time.Second, nil), cfg, deviceID, logger)
	presentations := projection.New[types.PresentationAd](loop, scanner, projection.WithArrivalOrder())

	s := NewHTTPServer("", logger, loop,
		db.New(store, loop, time.Second, logger),
		presentations,
		discovery.NewAdvertiser(network, cfg, deviceID, logger),
		types.Person{ID: deviceID, Name: "presenter " + deviceID},
		recorder.Stream(),
	)
	s.baseCtx = ctx

	srv := httptest.NewServer(s.createHandler())
	t.Cleanup(srv.Close)
	return srv
}

func newSingleNode(t *testing.T) *httptest.Server {
	store := storage.NewMemory(1000)
	t.Cleanup(func() { _ = store.Close() })
	return newTestNode(t, store, discovery.NewLocalNetwork(), "device")
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		assert.Equal(t, err, nil)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	assert.Equal(t, err, nil)
	resp, err := srv.Client().Do(req)
	assert.Equal(t, err, nil)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		assert.Equal(t, json.NewDecoder(resp.Body).Decode(out), nil)
	}
	return resp.StatusCode
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	assert.Equal(t, err, nil)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) testMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg testMessage
	assert.Equal(t, wsjson.Read(ctx, conn, &msg), nil)
	return msg
}

// readUntil skips messages until one with op arrives.
func readUntil(t *testing.T, conn *websocket.Conn, op string) testMessage {
	t.Helper()
	for {
		if msg := read(t, conn); msg.Op == op {
			return msg
		}
	}
}

func waitSlide(t *testing.T, conn *websocket.Conn, want int) {
	t.Helper()
	for {
		msg := readUntil(t, conn, "slide")
		if *msg.Value == want {
			return
		}
	}
}

func decodeItem[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var v T
	assert.Equal(t, json.Unmarshal(data, &v), nil)
	return v
}

func TestDecksStream(t *testing.T) {
	srv := newSingleNode(t)

	conn := dial(t, srv, "/api/decks/ws")
	msg := read(t, conn)
	assert.Equal(t, "reset", msg.Op)
	assert.Equal(t, 0, len(decodeItem[[]types.Deck](t, msg.Items)))

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/decks/d2", deckRequest{Title: "Two"}, nil))
	msg = read(t, conn)
	assert.Equal(t, "insert", msg.Op)
	assert.Equal(t, 0, *msg.Index)
	assert.Equal(t, "Two", decodeItem[types.Deck](t, msg.Item).Title)

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/decks/d1", deckRequest{Title: "One"}, nil))
	msg = read(t, conn)
	assert.Equal(t, "insert", msg.Op)
	assert.Equal(t, 0, *msg.Index)

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/decks/d2", deckRequest{Title: "Two v2"}, nil))
	msg = read(t, conn)
	assert.Equal(t, "change", msg.Op)
	assert.Equal(t, 1, *msg.Index)

	assert.Equal(t, http.StatusNoContent, call(t, srv, http.MethodDelete, "/api/decks/d1", nil, nil))
	msg = read(t, conn)
	assert.Equal(t, "remove", msg.Op)
	assert.Equal(t, 0, *msg.Index)

	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodDelete, "/api/decks/d1", nil, nil))
}

func TestSlidesStream(t *testing.T) {
	srv := newSingleNode(t)
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPut, "/api/decks/d1/slides/001", slideRequest{}, nil))

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/decks/d1", deckRequest{Title: "One"}, nil))
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/decks/d1/slides/001", slideRequest{}, nil))
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/decks/d1/slides/001/notes", notesRequest{Text: "hi"}, nil))

	conn := dial(t, srv, "/api/decks/d1/slides/ws")
	assert.Equal(t, "reset", read(t, conn).Op)
	msg := read(t, conn)
	assert.Equal(t, "insert", msg.Op)
	slide := decodeItem[types.Slide](t, msg.Item)
	assert.Equal(t, "d1/slides/001", slide.ID)
	assert.Equal(t, "hi", slide.Notes)

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/decks/d1/slides/001/notes", notesRequest{Text: "bye"}, nil))
	msg = readUntil(t, conn, "change")
	assert.Equal(t, "bye", decodeItem[types.Slide](t, msg.Item).Notes)
}

func TestSessions(t *testing.T) {
	srv := newSingleNode(t)
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/decks/d1", deckRequest{Title: "One"}, nil))

	var session types.Session
	assert.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/api/sessions", sessionRequest{DeckID: "d1"}, &session))
	assert.NotEqual(t, "", session.ID)
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodPost, "/api/sessions", sessionRequest{DeckID: "nope"}, nil))

	var got types.Session
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/sessions/"+session.ID, nil, &got))
	assert.Equal(t, session, got)
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/sessions/missing", nil, nil))

	conn := dial(t, srv, "/api/sessions/"+session.ID+"/slide/ws")
	waitSlide(t, conn, 0)

	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodPut, "/api/sessions/"+session.ID+"/slide", slideNumRequest{SlideNum: 2}, nil))
	waitSlide(t, conn, 2)

	assert.Equal(t, http.StatusConflict, call(t, srv, http.MethodPut, "/api/sessions/"+session.ID+"/current-slide", slideNumRequest{SlideNum: 1}, nil))
	assert.Equal(t, http.StatusConflict, call(t, srv, http.MethodDelete, "/api/sessions/"+session.ID+"/present", nil, nil))

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/sessions/"+session.ID+"/slide", strings.NewReader("{"))
	assert.Equal(t, err, nil)
	resp, err := srv.Client().Do(req)
	assert.Equal(t, err, nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLivePresentationAcrossNodes(t *testing.T) {
	store := storage.NewMemory(1000)
	t.Cleanup(func() { _ = store.Close() })
	network := discovery.NewLocalNetwork()
	presenterNode := newTestNode(t, store, network, "device-a")
	viewerNode := newTestNode(t, store, network, "device-b")

	roster := dial(t, viewerNode, "/api/presentations/ws")
	assert.Equal(t, "reset", read(t, roster).Op)

	// the presenter does not see its own presentation
	ownRoster := dial(t, presenterNode, "/api/presentations/ws")
	assert.Equal(t, "reset", read(t, ownRoster).Op)

	assert.Equal(t, http.StatusOK, call(t, presenterNode, http.MethodPut, "/api/decks/d1", deckRequest{Title: "Intro", Thumbnail: []byte{1, 2, 3}}, nil))
	var presenter types.Session
	assert.Equal(t, http.StatusCreated, call(t, presenterNode, http.MethodPost, "/api/sessions", sessionRequest{DeckID: "d1"}, &presenter))
	assert.Equal(t, http.StatusOK, call(t, presenterNode, http.MethodPost, "/api/sessions/"+presenter.ID+"/present", nil, &presenter))
	assert.Equal(t, true, presenter.Live())

	msg := read(t, roster)
	assert.Equal(t, "insert", msg.Op)
	ad := decodeItem[types.PresentationAd](t, msg.Item)
	assert.Equal(t, "Intro", ad.Deck.Title)
	assert.Equal(t, []byte{1, 2, 3}, ad.Deck.Thumbnail)
	assert.Equal(t, "presenter device-a", ad.Presenter.Name)
	assert.Equal(t, types.JoinAddr("d1", presenter.PresentationID), ad.JoinAddr)

	var viewer types.Session
	assert.Equal(t, http.StatusCreated, call(t, viewerNode, http.MethodPost, "/api/presentations/"+ad.ID+"/join", nil, &viewer))
	assert.Equal(t, presenter.PresentationID, viewer.PresentationID)
	assert.Equal(t, http.StatusNotFound, call(t, viewerNode, http.MethodPost, "/api/presentations/unknown/join", nil, nil))

	slide := dial(t, viewerNode, "/api/sessions/"+viewer.ID+"/slide/ws")
	waitSlide(t, slide, 0)
	assert.Equal(t, http.StatusOK, call(t, presenterNode, http.MethodPut, "/api/sessions/"+presenter.ID+"/current-slide", slideNumRequest{SlideNum: 3}, nil))
	waitSlide(t, slide, 3)

	assert.Equal(t, http.StatusOK, call(t, presenterNode, http.MethodDelete, "/api/sessions/"+presenter.ID+"/present", nil, &presenter))
	assert.Equal(t, 3, presenter.LocalSlide)
	msg = readUntil(t, roster, "remove")
	assert.Equal(t, 0, *msg.Index)
	waitSlide(t, slide, types.UnsetSlideNum)
}

func TestLogs(t *testing.T) {
	srv := newSingleNode(t)
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/sessions/missing", nil, nil))

	var res struct {
		Items []log.Entry `json:"items"`
	}
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/logs?backward&level=ERROR", nil, &res))
	assert.NotEqual(t, 0, len(res.Items))
	assert.Equal(t, "ERROR", res.Items[0].Level)
}

func TestLogsStream(t *testing.T) {
	srv := newSingleNode(t)
	conn := dial(t, srv, "/api/logs/ws?level=ERROR")

	// entries recorded before the connection are not replayed
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/sessions/missing", nil, nil))

	msg := read(t, conn)
	assert.Equal(t, "append", msg.Op)
	items := decodeItem[[]log.Entry](t, msg.Items)
	assert.NotEqual(t, 0, len(items))
	for _, entry := range items {
		assert.Equal(t, "ERROR", entry.Level)
	}
}

func TestLogsPaging(t *testing.T) {
	srv := newSingleNode(t)
	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodGet, "/api/logs?after=zz", nil, nil))
	assert.Equal(t, http.StatusBadRequest, call(t, srv, http.MethodGet, "/api/logs?count=x", nil, nil))
}

func TestLogPageRead(t *testing.T) {
	st := stream.NewBufferedStream[log.Entry](10)
	var cursors []stream.Cursor
	for _, msg := range []string{"a", "b", "c", "d"} {
		cursors = append(cursors, st.Append(log.Entry{Level: "INFO", Msg: msg}))
	}
	msgs := func(res stream.QueryResult[log.Entry]) []string {
		var out []string
		for _, entry := range res.Items {
			out = append(out, entry.Msg)
		}
		return out
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"oldest first", "count=2", []string{"a", "b"}},
		{"newest first", "backward&count=2", []string{"d", "c"}},
		{"after", "after=" + cursors[1].String(), []string{"c", "d"}},
		{"before", "before=" + cursors[2].String(), []string{"a", "b"}},
		{"backward after", "backward&after=" + cursors[2].String(), []string{"b", "a"}},
		{"backward before", "backward&before=" + cursors[1].String(), []string{"d", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := url.ParseQuery(tt.query)
			assert.Equal(t, err, nil)
			page, err := parseLogPage(query)
			assert.Equal(t, err, nil)
			assert.Equal(t, tt.want, msgs(page.read(st, nil)))
		})
	}
}
