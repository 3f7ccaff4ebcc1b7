package offlinecache

import (
	"context"
	"errors"
	"net/http"
)

// RoundTrip implements http.RoundTripper. Requests the worker intercepts are
// answered by the strategy of their route; everything else, including all
// traffic before activation, goes straight to Wrapped.
func (w *Worker) RoundTrip(r *http.Request) (*http.Response, error) {
	out, err := w.Dispatch(r.Context(), FetchEvent{Request: r})
	if errors.Is(err, ErrRedundant) {
		return w.Wrapped.RoundTrip(r)
	}
	if err != nil {
		return nil, err
	}
	if !out.Handled {
		return w.Wrapped.RoundTrip(r)
	}
	return out.Response, nil
}

func (w *Worker) fetch(ctx context.Context, r *http.Request) (Outcome, error) {
	if w.scope.Development || w.State() != StateActive {
		return Outcome{}, nil
	}

	route := w.Route(r)
	if route.Strategy == nil {
		w.logger.DebugContext(ctx, "request ignored", "route", route.Name, "method", r.Method, "url", r.URL.String())
		w.metrics.fetch(route.Name, SourcePassThrough)
		return Outcome{Route: route.Name}, nil
	}

	resp, source, err := route.Strategy(ctx, w, r)
	w.metrics.fetch(route.Name, source)
	if err != nil {
		w.logger.DebugContext(ctx, "request failed", "route", route.Name, "url", r.URL.String(), "error", err)
		return Outcome{Route: route.Name, Source: source, Handled: true}, err
	}

	w.logger.DebugContext(ctx, "request served", "route", route.Name, "source", string(source), "url", r.URL.String(), "status", resp.StatusCode)
	return Outcome{Response: resp, Source: source, Route: route.Name, Handled: true}, nil
}
