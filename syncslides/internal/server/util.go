package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mikhailv/syncslides/syncslides/internal/db"
	"github.com/mikhailv/syncslides/syncslides/internal/storage"
)

func debounceUpdateChannel(ctx context.Context, minInterval, maxInterval time.Duration, ch <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		var minTimer, maxTimer <-chan time.Time
		sendUpdate := func() {
			minTimer = nil
			maxTimer = nil
			select {
			case <-ctx.Done():
			case out <- struct{}{}:
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				minTimer = time.After(minInterval)
				if maxTimer == nil {
					maxTimer = time.After(maxInterval)
				}
			case <-minTimer:
				sendUpdate()
			case <-maxTimer:
				sendUpdate()
			}
		}
	}()
	return out
}

func queryParamSet(q url.Values, name string) bool {
	if q.Has(name) {
		v := q.Get(name)
		return v == "" || v == "1" || strings.ToLower(v) == "true"
	}
	return false
}

func updateURLQuery(u url.URL, values map[string]string) string {
	q := u.Query()
	for k, v := range values {
		if v == "\x00" {
			q.Del(k)
		} else {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func readJSON(req *http.Request, v any) (statusCode int, err error) {
	if err = json.NewDecoder(http.MaxBytesReader(nil, req.Body, 1<<20)).Decode(v); err != nil {
		return http.StatusBadRequest, fmt.Errorf("failed to decode request: %w", err)
	}
	return http.StatusOK, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) (int, error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v) //nolint:errchkjson // response already started
	return statusCode, nil
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNoPresentation):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
