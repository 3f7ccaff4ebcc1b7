package offlinecache

import (
	"context"
	"encoding/json"
	"fmt"
)

// Notification actions offered with every push notification.
const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// Notifier shows a notification to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	Data    json.RawMessage      `json:"data,omitempty"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

// URL returns data.url when the notification carries one.
func (n Notification) URL() string {
	if len(n.Data) == 0 {
		return ""
	}
	var data struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(n.Data, &data); err != nil {
		return ""
	}
	return data.URL
}

type pushPayload struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Data  json.RawMessage `json:"data"`
}

func (w *Worker) push(ctx context.Context, data []byte) error {
	var payload pushPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("decode push payload: %w", err)
		}
	}
	if payload.Title == "" {
		payload.Title = w.scope.AppName
	}

	n := Notification{
		Title: payload.Title,
		Body:  payload.Body,
		Icon:  "/logo192.png",
		Badge: "/favicon.ico",
		Data:  payload.Data,
		Actions: []NotificationAction{
			{Action: ActionOpen, Title: "Ouvrir"},
			{Action: ActionClose, Title: "Fermer"},
		},
	}

	if w.notifier == nil {
		w.logger.DebugContext(ctx, "push received without notifier", "title", n.Title)
		return nil
	}
	if err := w.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	return nil
}

func (w *Worker) notificationClick(ctx context.Context, action string, n Notification) error {
	switch action {
	case ActionOpen, "":
		target := n.URL()
		if target == "" {
			target = "/"
		}
		target = w.scope.resolve(target)
		w.logger.DebugContext(ctx, "opening window", "url", target)
		return w.host().OpenWindow(ctx, target)
	default:
		return nil
	}
}
