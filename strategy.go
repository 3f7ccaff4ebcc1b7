package offlinecache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// Source tells where a response came from.
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceFallback    Source = "fallback"
	SourceOffline     Source = "offline"
	SourceFailed      Source = "failed"
	SourcePassThrough Source = "pass_through"
)

// OfflineBody is the payload of the synthesized API error.
type OfflineBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Offline bool   `json:"offline"`
}

// CacheFirst serves from any partition and only goes to the network on a
// miss, storing 200 responses in the partition picked by partition. When
// the network fails, documents are answered with the page picked by
// fallback.
func CacheFirst(partition, fallback func(Scope) string) Strategy {
	return func(ctx context.Context, w *Worker, r *http.Request) (*http.Response, Source, error) {
		if cached, ok := w.store.Match(ctx, r); ok {
			return cached, SourceCache, nil
		}

		resp, err := w.Wrapped.RoundTrip(r)
		if err != nil {
			if fallback != nil && isDocument(r) {
				if doc, ok := w.matchScopePath(ctx, fallback(w.scope)); ok {
					doc.Request = r
					return doc, SourceFallback, nil
				}
			}
			return nil, SourceFailed, errors.Join(ErrNotCached, err)
		}

		if resp.StatusCode == http.StatusOK {
			w.store.Put(ctx, partition(w.scope), r, resp)
		}
		return resp, SourceNetwork, nil
	}
}

// NetworkFirst always asks the network and keeps the last 200 response in
// the partition picked by partition. When the network is down or answers
// with a server error, the cached copy is served; without one the request
// gets a 503 with an OfflineBody.
func NetworkFirst(partition func(Scope) string) Strategy {
	return func(ctx context.Context, w *Worker, r *http.Request) (*http.Response, Source, error) {
		resp, err := w.Wrapped.RoundTrip(r)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			if resp.StatusCode == http.StatusOK {
				w.store.Put(ctx, partition(w.scope), r, resp)
			}
			return resp, SourceNetwork, nil
		}

		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			w.logger.DebugContext(ctx, "server error, falling back to cache", "url", r.URL.String(), "status", resp.StatusCode)
		} else {
			w.logger.DebugContext(ctx, "network unavailable, falling back to cache", "url", r.URL.String(), "error", err)
		}

		if cached, ok := w.store.Match(ctx, r); ok {
			return cached, SourceCache, nil
		}
		return offlineResponse(r, w.scope.offlineMessage), SourceOffline, nil
	}
}

func (w *Worker) matchScopePath(ctx context.Context, path string) (*http.Response, bool) {
	if path == "" {
		return nil, false
	}
	req, err := w.scopeRequest(ctx, path)
	if err != nil {
		return nil, false
	}
	return w.store.Match(ctx, req)
}

func offlineResponse(r *http.Request, message string) *http.Response {
	body, _ := json.Marshal(OfflineBody{
		Success: false,
		Message: message,
		Offline: true,
	})

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
