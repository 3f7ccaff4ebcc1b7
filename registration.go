package offlinecache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WindowOpener opens a page at url, eg. in a browser tab.
type WindowOpener interface {
	OpenWindow(ctx context.Context, url string) error
}

// Client is a page controlled, or not yet controlled, by a registration.
type Client struct {
	ID  string
	URL string

	reg *Registration
}

// Controller returns the worker intercepting this page's requests.
func (c *Client) Controller() *Worker {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if _, ok := c.reg.clients[c.ID]; !ok {
		return nil
	}
	return c.reg.controller
}

// Registration hosts the workers of one script URL. It holds the
// installing, waiting and active versions and drives them through their
// lifecycle, the way a browser does for a service worker registration.
type Registration struct {
	ScriptURL string

	logger *slog.Logger
	opener WindowOpener

	mu           sync.Mutex
	installing   *Worker
	waiting      *Worker
	active       *Worker
	controller   *Worker
	clients      map[string]*Client
	unregistered bool
	updateFound  []func(*Worker)
	opened       []string
}

// NewRegistration creates an empty registration. opener may be nil, in
// which case opened windows are only recorded.
func NewRegistration(scriptURL string, opener WindowOpener, logger *slog.Logger) *Registration {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registration{
		ScriptURL: scriptURL,
		logger:    logger,
		opener:    opener,
		clients:   make(map[string]*Client),
	}
}

// AddClient records a newly loaded page. Pages loaded while a worker is
// active are controlled by it right away.
func (reg *Registration) AddClient(url string) *Client {
	c := &Client{ID: uuid.NewString(), URL: url, reg: reg}
	reg.mu.Lock()
	reg.clients[c.ID] = c
	reg.mu.Unlock()
	return c
}

// RemoveClient forgets a closed page.
func (reg *Registration) RemoveClient(c *Client) {
	reg.mu.Lock()
	delete(reg.clients, c.ID)
	reg.mu.Unlock()
}

// OnUpdateFound registers fn to be called whenever a new worker starts installing.
func (reg *Registration) OnUpdateFound(fn func(*Worker)) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.updateFound = append(reg.updateFound, fn)
}

func (reg *Registration) Installing() *Worker {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.installing
}

func (reg *Registration) Waiting() *Worker {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.waiting
}

func (reg *Registration) Active() *Worker {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.active
}

// Controller returns the worker controlling the registration's pages.
func (reg *Registration) Controller() *Worker {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.controller
}

// Unregistered reports whether the registration has been removed.
func (reg *Registration) Unregistered() bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.unregistered
}

// OpenedWindows lists every URL passed to OpenWindow.
func (reg *Registration) OpenedWindows() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return append([]string(nil), reg.opened...)
}

// Register installs w and activates it when it asked to skip waiting or
// when no other version is active. A previously waiting version is
// replaced.
func (reg *Registration) Register(ctx context.Context, w *Worker) error {
	reg.mu.Lock()
	reg.unregistered = false
	superseded := reg.installing
	reg.installing = w
	listeners := append([]func(*Worker){}, reg.updateFound...)
	reg.mu.Unlock()

	if superseded != nil {
		superseded.markRedundant()
	}

	w.attach(reg)
	reg.logger.InfoContext(ctx, "update found", "script", reg.ScriptURL, "worker", w.ID(), "version", w.Scope().Version)
	for _, fn := range listeners {
		fn(w)
	}

	if _, err := w.Dispatch(ctx, InstallEvent{}); err != nil {
		reg.mu.Lock()
		if reg.installing == w {
			reg.installing = nil
		}
		reg.mu.Unlock()
		w.markRedundant()
		return err
	}

	reg.mu.Lock()
	if reg.installing != w {
		// superseded while installing
		reg.mu.Unlock()
		w.markRedundant()
		return ErrRedundant
	}
	reg.installing = nil
	replaced := reg.waiting
	reg.waiting = w
	activate := w.SkipWaitingRequested() || reg.active == nil
	reg.mu.Unlock()

	if replaced != nil {
		replaced.markRedundant()
	}

	if !activate {
		return nil
	}
	return reg.activate(ctx, w)
}

func (reg *Registration) activate(ctx context.Context, w *Worker) error {
	reg.mu.Lock()
	if reg.waiting != w {
		reg.mu.Unlock()
		return nil
	}
	previous := reg.active
	reg.waiting = nil
	reg.active = w
	reg.mu.Unlock()

	if previous != nil {
		previous.markRedundant()
	}

	if _, err := w.Dispatch(ctx, ActivateEvent{}); err != nil {
		return err
	}

	reg.mu.Lock()
	unregistered := reg.unregistered
	reg.mu.Unlock()
	if unregistered {
		reg.teardown()
	}
	return nil
}

// teardown finishes an unregistration once the active worker has claimed
// its pages.
func (reg *Registration) teardown() {
	reg.mu.Lock()
	workers := []*Worker{reg.installing, reg.waiting, reg.active}
	reg.installing, reg.waiting, reg.active, reg.controller = nil, nil, nil, nil
	reg.mu.Unlock()

	for _, w := range workers {
		if w != nil {
			w.markRedundant()
		}
	}
}

// SkipWaiting activates w if it is the waiting worker. Called during
// install it only takes effect once install completes.
func (reg *Registration) SkipWaiting(ctx context.Context, w *Worker) error {
	reg.mu.Lock()
	waiting := reg.waiting == w
	reg.mu.Unlock()
	if !waiting {
		return nil
	}
	return reg.activate(ctx, w)
}

// ClaimClients makes w the controller of every page of the registration.
func (reg *Registration) ClaimClients(ctx context.Context, w *Worker) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.active != w {
		return ErrRedundant
	}
	reg.controller = w
	reg.logger.DebugContext(ctx, "clients claimed", "worker", w.ID(), "clients", len(reg.clients))
	return nil
}

// Unregister removes the registration. Workers keep running until the
// current activation completes.
func (reg *Registration) Unregister(ctx context.Context) error {
	reg.mu.Lock()
	reg.unregistered = true
	hasActive := reg.active != nil && reg.active.State() == StateActive
	reg.mu.Unlock()

	reg.logger.InfoContext(ctx, "registration unregistered", "script", reg.ScriptURL)
	if hasActive {
		reg.teardown()
	}
	return nil
}

// OpenWindow opens url through the registration's opener.
func (reg *Registration) OpenWindow(ctx context.Context, url string) error {
	reg.mu.Lock()
	reg.opened = append(reg.opened, url)
	opener := reg.opener
	reg.mu.Unlock()

	if opener == nil {
		return nil
	}
	return opener.OpenWindow(ctx, url)
}

// WatchForUpdates wires the page side of an update: once a new version is
// installed while another controls the page, confirm decides whether to
// switch. On confirmation the new worker is told to skip waiting and
// reload is called.
func WatchForUpdates(reg *Registration, confirm func(*Worker) bool, reload func()) {
	reg.OnUpdateFound(func(w *Worker) {
		w.OnStateChange(func(s State) {
			if s != StateWaiting {
				return
			}
			controller := reg.Controller()
			if controller == nil || controller == w {
				return
			}
			if confirm != nil && !confirm(w) {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := w.PostMessage(ctx, Message{Type: MessageSkipWaiting}, nil); err != nil {
				reg.logger.WarnContext(ctx, "error posting skip waiting", "error", err)
				return
			}
			if reload != nil {
				reload()
			}
		})
	})
}
