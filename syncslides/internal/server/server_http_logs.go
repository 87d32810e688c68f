package server

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/internal/stream"
)

const (
	defaultLogPageSize = 50
	logStreamBatchSize = 1000
)

// logPage selects a page of the log history: entries after or before a cursor, oldest first
// unless backward is set. A backward page without a cursor starts from the newest entry.
type logPage struct {
	cursor   stream.Cursor
	before   bool
	backward bool
	count    int
}

func parseLogPage(query url.Values) (logPage, error) {
	page := logPage{backward: queryParamSet(query, "backward"), count: defaultLogPageSize}
	var err error
	switch {
	case query.Has("after"):
		page.cursor, err = stream.ParseCursor(query.Get("after"))
	case query.Has("before"):
		page.cursor, err = stream.ParseCursor(query.Get("before"))
		page.before = true
	case page.backward:
		page.cursor = math.MaxUint64
	}
	if err != nil {
		return page, fmt.Errorf("invalid cursor: %w", err)
	}
	if query.Has("count") {
		if page.count, err = strconv.Atoi(query.Get("count")); err != nil {
			return page, fmt.Errorf("invalid count: %w", err)
		}
		page.count = max(1, page.count)
	}
	return page, nil
}

func (p logPage) read(st *stream.Buffered[log.Entry], filter FilterFunc[log.Entry]) stream.QueryResult[log.Entry] {
	var res stream.QueryResult[log.Entry]
	// a before-page is read against its display order and reversed afterwards
	if p.backward != p.before {
		res = st.QueryBackward(p.cursor, p.count, filter)
	} else {
		res = st.Query(p.cursor, p.count, filter)
	}
	if p.before {
		res.Reverse()
	}
	if res.Items == nil {
		res.Items = []log.Entry{}
	}
	return res
}

type logPageResponse struct {
	stream.QueryResult[log.Entry]
	PrevPageURL string `json:"prevPageURL"`
	NextPageURL string `json:"nextPageURL"`
}

func (s *HTTPServer) handleLogs(w http.ResponseWriter, req *http.Request) (int, error) {
	query := req.URL.Query()
	page, err := parseLogPage(query)
	if err != nil {
		return http.StatusBadRequest, err
	}
	res := page.read(s.logStream, s.filterLogs(query))
	return writeJSON(w, http.StatusOK, logPageResponse{
		QueryResult: res,
		PrevPageURL: updateURLQuery(*req.URL, map[string]string{"after": "\x00", "before": res.FirstCursor.String()}),
		NextPageURL: updateURLQuery(*req.URL, map[string]string{"after": res.LastCursor.String(), "before": "\x00"}),
	})
}

// handleLogsStream sends log entries recorded after the connection opened as
// {"op":"append","items":[...]} batches, debounced by debounceUpdateChannel.
func (s *HTTPServer) handleLogsStream(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		filter := s.filterLogs(req.URL.Query())

		// subscribe before the handshake completes so nothing recorded after it is missed
		cursor := s.logStream.Last()
		updates := make(chan struct{}, 1)
		stopListen := s.logStream.Listen(func(stream.Cursor, log.Entry) {
			select {
			case updates <- struct{}{}:
			default:
			}
		})
		defer stopListen()

		conn, ctx, ok := acceptWebsocket(w, req, logger)
		if !ok {
			return
		}
		defer func() { _ = conn.CloseNow() }()

		sender := newWSSender()
		debounced := debounceUpdateChannel(ctx, time.Second/2, 2*time.Second, updates)
		go pumpLogs(ctx, s.logStream, cursor, filter, debounced, sender)
		sender.run(ctx, conn, logger)
	})
}

// pumpLogs is the only producer of sender.
func pumpLogs(ctx context.Context, st *stream.Buffered[log.Entry], cursor stream.Cursor, filter FilterFunc[log.Entry], updates <-chan struct{}, sender *wsSender) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			for {
				res := st.Query(cursor, logStreamBatchSize, filter)
				cursor = res.LastCursor
				if len(res.Items) > 0 {
					sender.send(wsMessage{Op: "append", Items: res.Items})
				}
				if !res.HasMore {
					break
				}
			}
		}
	}
}

// filterLogs narrows the log history by level (?level=INFO,ERROR) and prefix (?prefix=db).
func (s *HTTPServer) filterLogs(query url.Values) FilterFunc[log.Entry] {
	levels := slices.DeleteFunc(strings.Split(query.Get("level"), ","), func(s string) bool { return s == "" })
	prefix := strings.TrimSpace(query.Get("prefix"))
	if len(levels) == 0 && prefix == "" {
		return nil
	}
	levelSet := map[string]bool{}
	for _, level := range levels {
		levelSet[strings.ToUpper(level)] = true
	}
	return func(val log.Entry) bool {
		if len(levelSet) > 0 && !levelSet[val.Level] {
			return false
		}
		return prefix == "" || strings.HasPrefix(val.Prefix, prefix)
	}
}
