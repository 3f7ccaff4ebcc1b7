package shoutrrr

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/dgduncan/go-offline-cache"
)

type fakeSender struct {
	messages []string
	titles   []string
	errs     []error
}

func (f *fakeSender) Send(message string, params *types.Params) []error {
	f.messages = append(f.messages, message)
	if params != nil {
		f.titles = append(f.titles, (*params)["title"])
	}
	return f.errs
}

func TestNotify(t *testing.T) {
	tests := []struct {
		name        string
		note        offlinecache.Notification
		wantMessage string
		wantTitle   string
	}{
		{
			name: "body and url",
			note: offlinecache.Notification{
				Title: "Nouveau courrier",
				Body:  "Un courrier vous a été assigné",
				Data:  json.RawMessage(`{"url":"https://courrier.test/courriers/12"}`),
			},
			wantMessage: "Un courrier vous a été assigné\nhttps://courrier.test/courriers/12",
			wantTitle:   "Nouveau courrier",
		},
		{
			name:        "title only",
			note:        offlinecache.Notification{Title: "courrier"},
			wantMessage: "courrier",
			wantTitle:   "courrier",
		},
		{
			name: "url only",
			note: offlinecache.Notification{
				Title: "courrier",
				Data:  json.RawMessage(`{"url":"/courriers"}`),
			},
			wantMessage: "/courriers",
			wantTitle:   "courrier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			n := NewWithSender(sender)

			require.NoError(t, n.Notify(context.Background(), tt.note))
			assert.Equal(t, []string{tt.wantMessage}, sender.messages)
			assert.Equal(t, []string{tt.wantTitle}, sender.titles)
		})
	}
}

func TestNotifyErrors(t *testing.T) {
	t.Run("sender errors are joined", func(t *testing.T) {
		first, second := errors.New("ntfy down"), errors.New("gotify down")
		n := NewWithSender(&fakeSender{errs: []error{first, nil, second}})

		err := n.Notify(context.Background(), offlinecache.Notification{Title: "x"})
		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, second)
	})

	t.Run("cancelled context", func(t *testing.T) {
		sender := &fakeSender{}
		n := NewWithSender(sender)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, n.Notify(ctx, offlinecache.Notification{Title: "x"}), context.Canceled)
		assert.Empty(t, sender.messages)
	})
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New()
	assert.Error(t, err)

	_, err = New("not a service url")
	assert.Error(t, err)
}
