package core_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/placard/pkg/adapters/memory"
	"github.com/aretw0/placard/pkg/core"
)

// call is one notification seen by a recorder.
type call struct {
	Callback string
	Snapshot core.Snapshot
	Changed  core.FieldSet
}

// recorder is an Observer that logs every callback it receives.
type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) WillUpdate(previous core.Snapshot) {
	r.add(call{Callback: core.CallbackWillUpdate, Snapshot: previous})
}

func (r *recorder) WasUpdated(current core.Snapshot, changed core.FieldSet) {
	r.add(call{Callback: core.CallbackWasUpdated, Snapshot: current, Changed: changed})
}

func (r *recorder) WasDeleted(last core.Snapshot) {
	r.add(call{Callback: core.CallbackWasDeleted, Snapshot: last})
}

func (r *recorder) add(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recorder) Count(callback string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Callback == callback {
			n++
		}
	}
	return n
}

// probeStore wraps a memory store and measures write concurrency.
type probeStore struct {
	*memory.Store
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
	writes atomic.Int32
}

func newProbeStore(delay time.Duration) *probeStore {
	return &probeStore{Store: memory.NewStore(), delay: delay}
}

func (p *probeStore) Write(ctx context.Context, key string, fn core.MutationFunc) (core.Snapshot, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.writes.Add(1)
	time.Sleep(p.delay)
	return p.Store.Write(ctx, key, fn)
}

// newPlace returns a controller whose place exists with the given values.
func newPlace(t *testing.T, store core.Store, p core.Place, opts ...core.ControllerOption) *core.Controller {
	t.Helper()
	ctx := context.Background()
	ctrl := core.NewController(store, "place", opts...)
	_, err := ctrl.EnsureCreated(ctx, func(d *core.Draft) {
		d.SetCoordinate(p.Latitude, p.Longitude)
		d.SetTitle(p.Title)
		d.SetSubtitle(p.Subtitle)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close(context.Background()) })
	return ctrl
}

type result struct {
	Snapshot core.Snapshot
	Err      error
}

// completion returns a CommitAsync callback and the channel it reports on.
func completion() (func(core.Snapshot, error), <-chan result) {
	ch := make(chan result, 1)
	return func(s core.Snapshot, err error) { ch <- result{s, err} }, ch
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for commit")
	}
	return result{}
}

func title(i int) string {
	return fmt.Sprintf("title-%03d", i)
}
