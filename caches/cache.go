package caches

import (
	"net/http"
	"time"
)

var (
	// DefaultOpTimeout bounds a single storage round trip for remote backends.
	DefaultOpTimeout = 5 * time.Second

	// DefaultTableName is used by the SQL and DynamoDB backends when none is configured.
	DefaultTableName = "offline_cache"
)

// Key returns the identity of a request inside a partition. Headers and
// the URL fragment are ignored, only the method and the URL take part.
func Key(r *http.Request) string {
	u := *r.URL
	u.Fragment, u.RawFragment = "", ""
	return r.Method + "#" + u.String()
}
