package brandscan

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docutag/brandscan/llm"
)

// fakeModel is a scripted llm.Client
type fakeModel struct {
	reply string
	err   error
	delay time.Duration

	mu       sync.Mutex
	requests []llm.Request

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeModel) lastRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return llm.Request{}
	}
	return f.requests[len(f.requests)-1]
}

func testPipeline(model llm.Client, mutate func(*Config)) *Pipeline {
	cfg := DefaultConfig()
	cfg.HTTPTimeout = 5 * time.Second
	cfg.ImageTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg, model, nil)
	if err != nil {
		panic(err)
	}
	return p
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", raw, err)
	}
	return u
}
