package offlinecache

import (
	"context"
	"fmt"
	"net/http"
)

// State is the position of a worker in its install/activate lifecycle.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateWaiting
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventType keys Dispatch.
type EventType int

const (
	EventInstall EventType = iota
	EventActivate
	EventFetch
	EventMessage
	EventPush
	EventNotificationClick
)

func (t EventType) String() string {
	switch t {
	case EventInstall:
		return "install"
	case EventActivate:
		return "activate"
	case EventFetch:
		return "fetch"
	case EventMessage:
		return "message"
	case EventPush:
		return "push"
	case EventNotificationClick:
		return "notificationclick"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is anything a host can deliver to a worker.
type Event interface {
	Type() EventType
}

// InstallEvent starts installation of a parsed worker.
type InstallEvent struct{}

// ActivateEvent activates a waiting worker.
type ActivateEvent struct{}

// FetchEvent asks the worker to answer Request.
type FetchEvent struct {
	Request *http.Request
}

type MessageEvent struct {
	Message Message
	Port    *ReplyPort
}

type PushEvent struct {
	Data []byte
}

type NotificationClickEvent struct {
	Action       string
	Notification Notification
}

func (InstallEvent) Type() EventType           { return EventInstall }
func (ActivateEvent) Type() EventType          { return EventActivate }
func (FetchEvent) Type() EventType             { return EventFetch }
func (MessageEvent) Type() EventType           { return EventMessage }
func (PushEvent) Type() EventType              { return EventPush }
func (NotificationClickEvent) Type() EventType { return EventNotificationClick }

// Outcome is the result of a dispatched event. Only fetch events produce a
// response; Handled is false when the worker let the request through.
type Outcome struct {
	Response *http.Response
	Source   Source
	Route    string
	Handled  bool
}

// Dispatch runs the handler registered for ev and enforces the lifecycle
// ordering: install, then activate, then fetches.
func (w *Worker) Dispatch(ctx context.Context, ev Event) (Outcome, error) {
	if w.State() == StateRedundant {
		return Outcome{}, ErrRedundant
	}

	switch e := ev.(type) {
	case InstallEvent:
		return Outcome{}, w.install(ctx)
	case ActivateEvent:
		return Outcome{}, w.activate(ctx)
	case FetchEvent:
		return w.fetch(ctx, e.Request)
	case MessageEvent:
		w.handleMessage(ctx, e.Message, e.Port)
		return Outcome{}, nil
	case PushEvent:
		return Outcome{}, w.push(ctx, e.Data)
	case NotificationClickEvent:
		return Outcome{}, w.notificationClick(ctx, e.Action, e.Notification)
	default:
		return Outcome{}, fmt.Errorf("unsupported event %T", ev)
	}
}

func (w *Worker) install(ctx context.Context) error {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return err
	}
	w.metrics.lifecycle(EventInstall)

	if w.scope.Development {
		w.logger.InfoContext(ctx, "development origin, unregistering worker", "origin", w.scope.Origin.String())
		if err := w.host().Unregister(ctx); err != nil {
			w.logger.WarnContext(ctx, "error unregistering worker", "error", err)
		}
		w.skipWaiting(ctx)
		return w.transition(StateInstalling, StateWaiting)
	}

	reqs := make([]*http.Request, 0, len(w.scope.manifestPaths))
	for _, p := range w.scope.manifestPaths {
		r, err := w.scopeRequest(ctx, p)
		if err != nil {
			w.logger.ErrorContext(ctx, "invalid static manifest entry", "path", p, "error", err)
			continue
		}
		reqs = append(reqs, r)
	}

	// A failed pre-cache does not block the new version, later fetches
	// fill the partitions lazily.
	if err := w.store.AddAll(ctx, w.scope.StaticPartition, w.Wrapped, reqs); err != nil {
		w.metrics.precacheFailed()
		w.logger.ErrorContext(ctx, "static pre-cache failed", "partition", w.scope.StaticPartition, "error", err)
	} else {
		w.logger.InfoContext(ctx, "static assets cached", "partition", w.scope.StaticPartition, "count", len(reqs))
	}

	w.skipWaiting(ctx)
	return w.transition(StateInstalling, StateWaiting)
}

func (w *Worker) activate(ctx context.Context) error {
	if err := w.transition(StateWaiting, StateActivating); err != nil {
		return err
	}
	w.metrics.lifecycle(EventActivate)

	if !w.scope.Development {
		deleted, err := w.store.DeleteStale(ctx, w.scope.Partitions())
		if err != nil {
			w.logger.WarnContext(ctx, "error deleting stale partitions", "error", err)
		}
		w.metrics.evicted(len(deleted))

		for _, p := range w.scope.Partitions() {
			_ = w.store.Open(ctx, p)
		}
	}

	if err := w.host().ClaimClients(ctx, w); err != nil {
		w.logger.WarnContext(ctx, "error claiming clients", "error", err)
	}

	return w.transition(StateActivating, StateActive)
}

// transition moves the worker from one state to the next and notifies
// the state listeners. It fails when the worker is not in from.
func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	if w.state != from {
		current := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s while %s", ErrInvalidTransition, from, to, current)
	}
	w.state = to
	listeners := append([]func(State){}, w.listeners...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(to)
	}
	return nil
}

// markRedundant retires the worker. It is idempotent.
func (w *Worker) markRedundant() {
	w.mu.Lock()
	if w.state == StateRedundant {
		w.mu.Unlock()
		return
	}
	w.state = StateRedundant
	listeners := append([]func(State){}, w.listeners...)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(StateRedundant)
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// OnStateChange registers fn to be called after every state change.
func (w *Worker) OnStateChange(fn func(State)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// SkipWaitingRequested reports whether the worker asked to bypass the waiting state.
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaitingFlag
}

func (w *Worker) skipWaiting(ctx context.Context) {
	w.mu.Lock()
	w.skipWaitingFlag = true
	w.mu.Unlock()

	if err := w.host().SkipWaiting(ctx, w); err != nil {
		w.logger.WarnContext(ctx, "error skipping waiting", "error", err)
	}
}
