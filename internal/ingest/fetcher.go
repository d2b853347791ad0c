// Package ingest retrieves raw source payloads ahead of the pipeline.
// All blocking I/O in the system lives here; the reconciliation stages
// downstream are pure transforms.
package ingest

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"
)

var ErrUnknownSource = errors.New("ingest: unknown source")

// DefaultTimeout bounds each individual fetch.
const DefaultTimeout = 30 * time.Second

// Fetcher retrieves one source's raw payload.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID string) ([]byte, error)
}

// FileFetcher reads payloads from configured file paths.
type FileFetcher struct {
	paths map[string]string
}

// NewFileFetcher constructs a fetcher over sourceID -> path.
func NewFileFetcher(paths map[string]string) *FileFetcher {
	copied := make(map[string]string, len(paths))
	for id, path := range paths {
		copied[id] = path
	}
	return &FileFetcher{paths: copied}
}

// Fetch reads the payload for a source.
func (f *FileFetcher) Fetch(ctx context.Context, sourceID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, ok := f.paths[sourceID]
	if !ok {
		return nil, ErrUnknownSource
	}
	return os.ReadFile(path)
}

// Status is the fetch outcome for one source.
type Status struct {
	Available   bool
	Err         string
	RetrievedAt time.Time
}

// Result is the fan-in of all fetches: whichever payloads arrived, plus a
// per-source availability map. One unavailable source never fails the run.
type Result struct {
	Payloads     map[string][]byte
	Availability map[string]Status
}

// FetchAll retrieves every source concurrently. Each fetch gets its own
// timeout and fails independently without blocking the others.
func FetchAll(ctx context.Context, fetcher Fetcher, sourceIDs []string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	type outcome struct {
		sourceID string
		data     []byte
		err      error
		at       time.Time
	}

	outcomes := make(chan outcome, len(sourceIDs))
	var wg sync.WaitGroup
	for _, id := range sourceIDs {
		wg.Add(1)
		go func(sourceID string) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			data, err := fetcher.Fetch(fetchCtx, sourceID)
			outcomes <- outcome{sourceID: sourceID, data: data, err: err, at: time.Now()}
		}(id)
	}
	wg.Wait()
	close(outcomes)

	res := Result{
		Payloads:     make(map[string][]byte),
		Availability: make(map[string]Status),
	}
	for o := range outcomes {
		if o.err != nil {
			res.Availability[o.sourceID] = Status{Err: o.err.Error(), RetrievedAt: o.at}
			continue
		}
		res.Payloads[o.sourceID] = o.data
		res.Availability[o.sourceID] = Status{Available: true, RetrievedAt: o.at}
	}
	return res
}
