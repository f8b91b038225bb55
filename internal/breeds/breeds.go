// Package breeds validates cat breeds against an external catalog.
package breeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"spycats/internal/metrics"
)

// Catalog supplies the set of valid breeds.
type Catalog interface {
	ValidBreeds(ctx context.Context) (Set, error)
}

// Set holds normalized breed names.
type Set map[string]struct{}

func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		if n = Normalize(n); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Contains matches case-insensitively.
func (s Set) Contains(breed string) bool {
	_, ok := s[Normalize(breed)]
	return ok
}

// Names returns the set sorted.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Static is a fixed catalog.
type Static struct {
	set Set
}

func NewStatic(names ...string) Static {
	return Static{set: NewSet(names...)}
}

func (s Static) ValidBreeds(context.Context) (Set, error) {
	return s.set, nil
}

// LookupError means the catalog could not be consulted. It is distinct from a
// breed being absent from the catalog.
type LookupError struct {
	URL     string
	Err     error
	timeout bool
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("breed catalog %s unavailable: %v", e.URL, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Timeout reports whether the lookup ran out of time.
func (e *LookupError) Timeout() bool { return e.timeout }

// HTTPCatalog fetches breeds from a TheCatAPI-compatible endpoint: a JSON
// array of objects carrying a "name". Every call performs a fresh lookup;
// concurrent calls share one request.
type HTTPCatalog struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	group singleflight.Group
}

const defaultTimeout = 5 * time.Second

type breedEntry struct {
	Name string `json:"name"`
}

func (c *HTTPCatalog) ValidBreeds(ctx context.Context) (Set, error) {
	ch := c.group.DoChan("breeds", func() (any, error) {
		// The shared fetch must not die with whichever caller started it.
		return c.fetch(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Set), nil
	case <-ctx.Done():
		return nil, &LookupError{URL: c.URL, Err: ctx.Err(), timeout: errors.Is(ctx.Err(), context.DeadlineExceeded)}
	}
}

func (c *HTTPCatalog) fetch(ctx context.Context) (Set, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	set, err := c.get(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if err.timeout {
			outcome = "timeout"
		}
		c.logger().Warn("breed catalog lookup failed",
			zap.String("url", c.URL),
			zap.Bool("timeout", err.timeout),
			zap.Error(err.Err))
		c.Metrics.BreedLookup(outcome, time.Since(start))
		return nil, err
	}
	c.Metrics.BreedLookup(outcome, time.Since(start))
	c.logger().Debug("breed catalog loaded", zap.Int("breeds", len(set)), zap.Duration("took", time.Since(start)))
	return set, nil
}

func (c *HTTPCatalog) get(ctx context.Context) (Set, *LookupError) {
	fail := func(err error) *LookupError {
		return &LookupError{URL: c.URL, Err: err, timeout: errors.Is(err, context.DeadlineExceeded) || isTimeout(err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fail(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	var entries []breedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fail(fmt.Errorf("decode breeds: %w", err))
	}
	set := make(Set, len(entries))
	for _, e := range entries {
		if n := Normalize(e.Name); n != "" {
			set[n] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, fail(errors.New("catalog returned no breeds"))
	}
	return set, nil
}

func (c *HTTPCatalog) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
