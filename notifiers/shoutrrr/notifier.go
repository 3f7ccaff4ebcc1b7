// Package shoutrrr delivers push notifications through shoutrrr service
// URLs (ntfy, gotify, telegram, ...).
package shoutrrr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	offlinecache "github.com/dgduncan/go-offline-cache"
)

// Sender is satisfied by the shoutrrr service router.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// Notifier implements offlinecache.Notifier.
type Notifier struct {
	sender Sender
}

// New creates a notifier sending to every url.
func New(urls ...string) (*Notifier, error) {
	if len(urls) == 0 {
		return nil, errors.New("no notification url")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create sender: %w", err)
	}
	return &Notifier{sender: sender}, nil
}

// NewWithSender wraps an existing sender.
func NewWithSender(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) Notify(ctx context.Context, note offlinecache.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := types.Params{}
	params.SetTitle(note.Title)

	message := note.Body
	if u := note.URL(); u != "" {
		message = strings.TrimSpace(message + "\n" + u)
	}
	if message == "" {
		message = note.Title
	}

	return errors.Join(n.sender.Send(message, &params)...)
}

var _ offlinecache.Notifier = (*Notifier)(nil)
