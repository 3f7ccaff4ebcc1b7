//go:build !integration

package caches

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		want   string
	}{
		{name: "plain", method: http.MethodGet, url: "https://courrier.test/index.html", want: "GET#https://courrier.test/index.html"},
		{name: "query kept", method: http.MethodGet, url: "https://courrier.test/api/courriers?page=2", want: "GET#https://courrier.test/api/courriers?page=2"},
		{name: "fragment dropped", method: http.MethodGet, url: "https://courrier.test/static/js/main.js#v2", want: "GET#https://courrier.test/static/js/main.js"},
		{name: "escaped fragment dropped", method: http.MethodGet, url: "https://courrier.test/courriers?id=4#section%202", want: "GET#https://courrier.test/courriers?id=4"},
		{name: "method kept", method: http.MethodHead, url: "https://courrier.test/index.html#top", want: "HEAD#https://courrier.test/index.html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := http.NewRequest(tt.method, tt.url, nil)
			require.NoError(t, err)

			before := r.URL.String()
			assert.Equal(t, tt.want, Key(r))
			assert.Equal(t, before, r.URL.String(), "request is left untouched")
		})
	}
}
