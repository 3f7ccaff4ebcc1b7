package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// MessageType is the command of a page to worker message.
type MessageType string

const (
	MessageSkipWaiting MessageType = "SKIP_WAITING"
	MessageGetVersion  MessageType = "GET_VERSION"
	MessageClearCache  MessageType = "CLEAR_CACHE"
)

// DefaultMessageTimeout is how long a page waits for a reply.
const DefaultMessageTimeout = 5 * time.Second

var errPortClosed = errors.New("reply port already used")

// Message is a command posted by a page to the worker.
type Message struct {
	Type MessageType `json:"type"`
}

// VersionReply answers GET_VERSION. Timestamp is in Unix milliseconds.
type VersionReply struct {
	CacheName string `json:"cacheName"`
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// ClearCacheReply answers CLEAR_CACHE.
type ClearCacheReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ReplyPort carries a single JSON encoded reply from the worker back to
// the page that sent the command.
type ReplyPort struct {
	ch chan json.RawMessage
}

// NewReplyPort returns an empty port.
func NewReplyPort() *ReplyPort {
	return &ReplyPort{ch: make(chan json.RawMessage, 1)}
}

// PostMessage encodes v and hands it to the waiting page. A port accepts
// one reply.
func (p *ReplyPort) PostMessage(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case p.ch <- b:
		return nil
	default:
		return errPortClosed
	}
}

// Receive waits for the reply or for ctx to end.
func (p *ReplyPort) Receive(ctx context.Context) (json.RawMessage, error) {
	select {
	case b := <-p.ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MessageTarget is anything a page can post commands to.
type MessageTarget interface {
	PostMessage(ctx context.Context, msg Message, port *ReplyPort) error
}

// PostMessage delivers msg to the worker on its own goroutine, the way a
// browser queues a message event. port may be nil for commands without a
// reply.
func (w *Worker) PostMessage(ctx context.Context, msg Message, port *ReplyPort) error {
	if w.State() == StateRedundant {
		return ErrRedundant
	}

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		if _, err := w.Dispatch(context.WithoutCancel(ctx), MessageEvent{Message: msg, Port: port}); err != nil {
			w.logger.WarnContext(ctx, "error handling message", "type", string(msg.Type), "error", err)
		}
	}()
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg Message, port *ReplyPort) {
	w.logger.DebugContext(ctx, "message received", "type", string(msg.Type))

	switch msg.Type {
	case MessageSkipWaiting:
		w.skipWaiting(ctx)

	case MessageGetVersion:
		w.reply(ctx, msg, port, VersionReply{
			CacheName: w.scope.CacheName(),
			Version:   w.scope.Version,
			Timestamp: w.now().UnixMilli(),
		})

	case MessageClearCache:
		reply := ClearCacheReply{Success: true}
		if err := w.store.Clear(ctx); err != nil {
			w.logger.WarnContext(ctx, "error clearing partitions", "error", err)
			reply = ClearCacheReply{Success: false, Error: err.Error()}
		} else {
			w.logger.InfoContext(ctx, "all partitions cleared")
		}
		w.reply(ctx, msg, port, reply)

	default:
		w.logger.DebugContext(ctx, "unknown message ignored", "type", string(msg.Type))
	}
}

func (w *Worker) reply(ctx context.Context, msg Message, port *ReplyPort, v any) {
	if port == nil {
		w.logger.WarnContext(ctx, "message expects a reply port", "type", string(msg.Type))
		return
	}
	if err := port.PostMessage(v); err != nil {
		w.logger.WarnContext(ctx, "error replying", "type", string(msg.Type), "error", err)
	}
}

// SendMessage posts msg to target and waits for the reply. When timeout
// elapses first it returns ErrMessageTimeout, which callers treat as a
// worker that is not there. A zero timeout uses DefaultMessageTimeout.
func SendMessage(ctx context.Context, target MessageTarget, msg Message, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultMessageTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	port := NewReplyPort()
	if err := target.PostMessage(ctx, msg, port); err != nil {
		return nil, err
	}

	b, err := port.Receive(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrMessageTimeout
	}
	return b, err
}

// GetVersion asks target for its version.
func GetVersion(ctx context.Context, target MessageTarget, timeout time.Duration) (VersionReply, error) {
	var reply VersionReply
	b, err := SendMessage(ctx, target, Message{Type: MessageGetVersion}, timeout)
	if err != nil {
		return reply, err
	}
	return reply, json.Unmarshal(b, &reply)
}

// ClearCache asks target to delete every partition.
func ClearCache(ctx context.Context, target MessageTarget, timeout time.Duration) (ClearCacheReply, error) {
	var reply ClearCacheReply
	b, err := SendMessage(ctx, target, Message{Type: MessageClearCache}, timeout)
	if err != nil {
		return reply, err
	}
	return reply, json.Unmarshal(b, &reply)
}
