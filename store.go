package offlinecache

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgduncan/go-offline-cache/caches"
)

// maxPrecacheConcurrency caps the number of manifest fetches in flight during install.
const maxPrecacheConcurrency = 6

// Store is the cache store manager. It owns every partition of a worker
// and is the only component that talks to the Storage port.
type Store struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore wraps storage. A nil logger discards output and a nil now uses time.Now.
func NewStore(storage Storage, logger *slog.Logger, now func() time.Time) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if now == nil {
		now = time.Now
	}
	return &Store{storage: storage, logger: logger, now: now}
}

// Open creates the partition if needed. Opening an existing partition is a no-op.
func (s *Store) Open(ctx context.Context, partition string) error {
	if err := s.storage.Open(ctx, partition); err != nil {
		s.logger.WarnContext(ctx, "error opening partition", "partition", partition, "error", err)
		return fmt.Errorf("open %s: %w", partition, err)
	}
	return nil
}

// Match searches every partition, oldest first, and returns the first
// stored response for r. The boolean is false on a miss.
func (s *Store) Match(ctx context.Context, r *http.Request) (*http.Response, bool) {
	names, err := s.storage.Keys(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "error listing partitions", "error", err)
		return nil, false
	}
	for _, name := range names {
		if resp, ok := s.MatchIn(ctx, name, r); ok {
			return resp, true
		}
	}
	return nil, false
}

// MatchIn looks r up in a single partition.
func (s *Store) MatchIn(ctx context.Context, partition string, r *http.Request) (*http.Response, bool) {
	item, err := s.storage.Match(ctx, partition, caches.Key(r))
	if err != nil {
		if !errors.Is(err, caches.ErrNoCacheItem) && !errors.Is(err, caches.ErrNoPartition) {
			s.logger.WarnContext(ctx, "error reading cache", "partition", partition, "url", r.URL.String(), "error", err)
		}
		return nil, false
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(item.Response)), r)
	if err != nil {
		s.logger.WarnContext(ctx, "corrupt cache item", "partition", partition, "key", item.Key, "error", err)
		return nil, false
	}
	return resp, true
}

// Put stores a copy of resp under r in partition. resp stays readable by
// the caller. Failures are logged and swallowed since the write is never
// on the path of the response.
func (s *Store) Put(ctx context.Context, partition string, r *http.Request, resp *http.Response) {
	if err := s.put(ctx, partition, r, resp); err != nil {
		s.logger.WarnContext(ctx, "error caching response", "partition", partition, "url", r.URL.String(), "error", err)
	}
}

func (s *Store) put(ctx context.Context, partition string, r *http.Request, resp *http.Response) error {
	dump, err := cloneResponse(resp)
	if err != nil {
		return err
	}
	return s.storage.Put(ctx, partition, &CacheItem{
		Key:      caches.Key(r),
		Response: dump,
		StoredAt: s.now().UTC(),
	})
}

// AddAll fetches every request through rt and stores the results in
// partition. Nothing is written unless every fetch returns 200. When a
// write fails, a partition created by this call is deleted again; entries
// already written to a pre-existing partition stay.
func (s *Store) AddAll(ctx context.Context, partition string, rt http.RoundTripper, reqs []*http.Request) error {
	existing, err := s.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	created := !slices.Contains(existing, partition)

	if err := s.Open(ctx, partition); err != nil {
		return err
	}

	dumps := make([][]byte, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxPrecacheConcurrency)
	for i, r := range reqs {
		g.Go(func() error {
			resp, err := rt.RoundTrip(r.WithContext(gctx))
			if err != nil {
				return fmt.Errorf("fetch %s: %w", r.URL, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("fetch %s: unexpected status %d", r.URL, resp.StatusCode)
			}
			dump, err := cloneResponse(resp)
			if err != nil {
				return fmt.Errorf("read %s: %w", r.URL, err)
			}
			dumps[i] = dump
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Join(ErrPrecacheFailed, err)
	}

	storedAt := s.now().UTC()
	for i, r := range reqs {
		if err := s.storage.Put(ctx, partition, &CacheItem{
			Key:      caches.Key(r),
			Response: dumps[i],
			StoredAt: storedAt,
		}); err != nil {
			if created {
				if _, derr := s.storage.Delete(ctx, partition); derr != nil {
					err = errors.Join(err, fmt.Errorf("roll back %s: %w", partition, derr))
				}
			}
			return errors.Join(ErrPrecacheFailed, err)
		}
	}
	return nil
}

// Keys lists every partition in storage.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	return s.storage.Keys(ctx)
}

// DeleteStale removes every partition whose name is not in keep and
// returns the names it deleted.
func (s *Store) DeleteStale(ctx context.Context, keep []string) ([]string, error) {
	names, err := s.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var deleted []string
	var errs []error
	for _, name := range names {
		if slices.Contains(keep, name) {
			continue
		}
		s.logger.InfoContext(ctx, "deleting stale partition", "partition", name)
		if _, err := s.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}

// Clear deletes every partition, current ones included.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.DeleteStale(ctx, nil)
	return err
}

// cloneResponse returns the wire form of resp and rewinds resp.Body so the
// caller can still read it.
func cloneResponse(resp *http.Response) ([]byte, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			// the caller still gets what was read, then the read error
			resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{err}))
			return nil, err
		}
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	stored := *resp
	stored.Body = io.NopCloser(bytes.NewReader(body))
	stored.ContentLength = int64(len(body))
	stored.TransferEncoding = nil
	stored.Header = resp.Header.Clone()
	if stored.Header == nil {
		stored.Header = http.Header{}
	}
	if stored.ProtoMajor == 0 {
		stored.Proto, stored.ProtoMajor, stored.ProtoMinor = "HTTP/1.1", 1, 1
	}
	if stored.Status == "" {
		stored.Status = fmt.Sprintf("%d %s", stored.StatusCode, http.StatusText(stored.StatusCode))
	}
	// Dumped with the request nil so the method cannot suppress the body.
	stored.Request = nil

	return httputil.DumpResponse(&stored, true)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
