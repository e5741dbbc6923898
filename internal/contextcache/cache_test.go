package contextcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lotas/vidchat/internal/metrics"
	"github.com/lotas/vidchat/internal/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFetcher counts calls per id. When gated, each fetch blocks until the
// test sends on the id's gate channel.
type fakeFetcher struct {
	mu     sync.Mutex
	calls  map[types.VideoID]int
	gates  map[types.VideoID]chan error
	fail   map[types.VideoID]error
	gated  bool
	called chan types.VideoID
}

func newFakeFetcher(gated bool) *fakeFetcher {
	return &fakeFetcher{
		calls:  make(map[types.VideoID]int),
		gates:  make(map[types.VideoID]chan error),
		fail:   make(map[types.VideoID]error),
		gated:  gated,
		called: make(chan types.VideoID, 16),
	}
}

func (f *fakeFetcher) gate(id types.VideoID) chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[id]
	if !ok {
		g = make(chan error, 4)
		f.gates[id] = g
	}
	return g
}

func (f *fakeFetcher) FetchTranscript(ctx context.Context, id types.VideoID) ([]types.Segment, error) {
	f.mu.Lock()
	f.calls[id]++
	err := f.fail[id]
	f.mu.Unlock()
	f.called <- id

	if f.gated {
		if gerr := <-f.gate(id); gerr != nil {
			return nil, gerr
		}
	}
	if err != nil {
		return nil, err
	}
	return []types.Segment{{Start: 0, Text: "segment for " + string(id)}}, nil
}

func (f *fakeFetcher) count(id types.VideoID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeMeta struct{}

func (fakeMeta) Metadata(id types.VideoID) types.Metadata {
	return types.Metadata{Title: "Title " + string(id), Description: "desc", VideoID: "wrong"}
}

func waitCalled(t *testing.T, f *fakeFetcher, want types.VideoID) {
	t.Helper()
	select {
	case id := <-f.called:
		if id != want {
			t.Fatalf("fetch started for %q, want %q", id, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fetch of %q", want)
	}
}

func TestEnsureLoadedCachesPayload(t *testing.T) {
	f := newFakeFetcher(false)
	c := New(f, fakeMeta{})
	ctx := context.Background()

	p1, err := c.EnsureLoaded(ctx, "abc")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.EnsureLoaded(ctx, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("second call returned a different payload")
	}
	if n := f.count("abc"); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}

	snap := c.Snapshot()
	if snap.State != types.CacheReady || snap.VideoID != "abc" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Payload.Metadata.VideoID != "abc" {
		t.Errorf("payload video id = %q, want abc", snap.Payload.Metadata.VideoID)
	}
	if snap.Payload.Metadata.Title != "Title abc" {
		t.Errorf("payload title = %q", snap.Payload.Metadata.Title)
	}
}

func TestEnsureLoadedDeduplicatesConcurrentCalls(t *testing.T) {
	f := newFakeFetcher(true)
	c := New(f, nil)
	ctx := context.Background()

	const callers = 8
	results := make(chan *types.ContextPayload, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p, _ := c.EnsureLoaded(ctx, "abc")
		results <- p
	}()
	waitCalled(t, f, "abc")

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _ := c.EnsureLoaded(ctx, "abc")
			results <- p
		}()
	}
	// Give joiners time to reach the pending load before it resolves.
	time.Sleep(50 * time.Millisecond)
	f.gate("abc") <- nil
	wg.Wait()
	close(results)

	var first *types.ContextPayload
	for p := range results {
		if p == nil {
			t.Fatal("caller got nil payload")
		}
		if first == nil {
			first = p
		} else if p != first {
			t.Error("callers received different payloads")
		}
	}
	if n := f.count("abc"); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}
}

func TestEnsureLoadedFailure(t *testing.T) {
	f := newFakeFetcher(false)
	boom := errors.New("HTTP 500")
	f.fail["abc"] = boom
	c := New(f, nil)

	_, err := c.EnsureLoaded(context.Background(), "abc")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	snap := c.Snapshot()
	if snap.State != types.CacheFailed || snap.Payload != nil {
		t.Errorf("snapshot = %+v, want Failed with no payload", snap)
	}

	// A failed entry is not a hit: the next call retries.
	delete(f.fail, "abc")
	if _, err := c.EnsureLoaded(context.Background(), "abc"); err != nil {
		t.Fatal(err)
	}
	if n := f.count("abc"); n != 2 {
		t.Errorf("fetched %d times, want 2", n)
	}
}

func TestInvalidateThenReloadFetchesFresh(t *testing.T) {
	f := newFakeFetcher(true)
	c := New(f, nil)
	ctx := context.Background()

	oldDone := make(chan error, 1)
	go func() {
		_, err := c.EnsureLoaded(ctx, "abc")
		oldDone <- err
	}()
	waitCalled(t, f, "abc")

	c.Invalidate()
	if s := c.Snapshot(); s.State != types.CacheEmpty {
		t.Fatalf("state after Invalidate = %v", s.State)
	}

	newDone := make(chan error, 1)
	go func() {
		_, err := c.EnsureLoaded(ctx, "xyz")
		newDone <- err
	}()
	waitCalled(t, f, "xyz")

	f.gate("xyz") <- nil
	if err := <-newDone; err != nil {
		t.Fatal(err)
	}

	// The stale load resolves late and must not overwrite the new entry.
	f.gate("abc") <- nil
	if err := <-oldDone; !errors.Is(err, ErrInvalidated) {
		t.Errorf("stale waiter err = %v, want ErrInvalidated", err)
	}
	snap := c.Snapshot()
	if snap.State != types.CacheReady || snap.VideoID != "xyz" {
		t.Errorf("snapshot = %+v, want Ready xyz", snap)
	}
	if snap.Payload.Metadata.VideoID != "xyz" {
		t.Errorf("payload belongs to %q", snap.Payload.Metadata.VideoID)
	}
}

func TestInvalidateSameIDStartsNewFetch(t *testing.T) {
	f := newFakeFetcher(true)
	c := New(f, nil)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := c.EnsureLoaded(ctx, "abc")
		first <- err
	}()
	waitCalled(t, f, "abc")
	c.Invalidate()

	second := make(chan error, 1)
	go func() {
		_, err := c.EnsureLoaded(ctx, "abc")
		second <- err
	}()
	waitCalled(t, f, "abc")

	f.gate("abc") <- nil
	f.gate("abc") <- nil
	errs := []error{<-first, <-second}

	if n := f.count("abc"); n != 2 {
		t.Errorf("fetched %d times, want 2", n)
	}
	var ok, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidated):
			stale++
		}
	}
	if ok != 1 || stale != 1 {
		t.Errorf("got errs %v, want one success and one ErrInvalidated", errs)
	}
	if s := c.Snapshot(); s.State != types.CacheReady {
		t.Errorf("state = %v, want ready", s.State)
	}
}

func TestEnsureLoadedCallerCancel(t *testing.T) {
	f := newFakeFetcher(true)
	c := New(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.EnsureLoaded(ctx, "abc")
		done <- err
	}()
	waitCalled(t, f, "abc")
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The shared fetch keeps going and still commits.
	f.gate("abc") <- nil
	if _, err := c.EnsureLoaded(context.Background(), "abc"); err != nil {
		t.Fatal(err)
	}
	if n := f.count("abc"); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}
}

func TestEnsureLoadedSwitchWithoutInvalidate(t *testing.T) {
	f := newFakeFetcher(false)
	c := New(f, nil)
	ctx := context.Background()

	if _, err := c.EnsureLoaded(ctx, "abc"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.EnsureLoaded(ctx, "xyz"); err != nil {
		t.Fatal(err)
	}
	if s := c.Snapshot(); s.VideoID != "xyz" || s.State != types.CacheReady {
		t.Errorf("snapshot = %+v", s)
	}
	if f.count("abc") != 1 || f.count("xyz") != 1 {
		t.Errorf("unexpected fetch counts abc=%d xyz=%d", f.count("abc"), f.count("xyz"))
	}
}

func TestLookupMetrics(t *testing.T) {
	f := newFakeFetcher(false)
	c := New(f, nil)
	ctx := context.Background()

	hits := testutil.ToFloat64(metrics.CacheLookupsTotal.WithLabelValues("hit"))
	c.EnsureLoaded(ctx, "metrics")
	c.EnsureLoaded(ctx, "metrics")
	if got := testutil.ToFloat64(metrics.CacheLookupsTotal.WithLabelValues("hit")) - hits; got != 1 {
		t.Errorf("hit counter grew by %v, want 1", got)
	}
}

// Repeated lookups of the same id never fetch more than once.
func TestRepeatedLookupProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFakeFetcher(false)
		c := New(f, nil)
		n := rapid.IntRange(1, 20).Draw(t, "lookups")
		for i := 0; i < n; i++ {
			if _, err := c.EnsureLoaded(context.Background(), "abc"); err != nil {
				t.Fatal(err)
			}
		}
		if got := f.count("abc"); got != 1 {
			t.Fatalf("fetched %d times after %d lookups", got, n)
		}
	})
}

func TestLateJoinerAfterInvalidateDoesNotFetch(t *testing.T) {
	f := newFakeFetcher(true)
	c := New(f, nil)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := c.EnsureLoaded(ctx, "abc")
		first <- err
	}()
	waitCalled(t, f, "abc")

	// The key a joiner would have read while the load was pending.
	c.mu.Lock()
	staleKey, staleGen := c.key, c.gen
	c.mu.Unlock()

	f.gate("abc") <- nil
	if err := <-first; err != nil {
		t.Fatal(err)
	}

	c.Invalidate()
	second := make(chan error, 1)
	go func() {
		_, err := c.EnsureLoaded(ctx, "abc")
		second <- err
	}()
	waitCalled(t, f, "abc")

	// The joiner reaches DoChan only now, after its flight finished.
	res := <-c.group.DoChan(staleKey, func() (any, error) {
		return c.load(ctx, "abc", staleGen)
	})
	if !errors.Is(res.Err, ErrInvalidated) {
		t.Errorf("late joiner err = %v, want ErrInvalidated", res.Err)
	}
	if n := f.count("abc"); n != 2 {
		t.Errorf("abc fetched %d times, want 2", n)
	}

	f.gate("abc") <- nil
	if err := <-second; err != nil {
		t.Fatal(err)
	}
	if s := c.Snapshot(); s.State != types.CacheReady || s.VideoID != "abc" {
		t.Errorf("entry = %+v", s)
	}
}
