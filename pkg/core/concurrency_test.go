package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/placard/pkg/adapters/memory"
	"github.com/aretw0/placard/pkg/core"
)

func TestController_AtMostOneWriter(t *testing.T) {
	ctx := context.Background()
	store := newProbeStore(time.Millisecond)
	ctrl := newPlace(t, store, core.Place{})

	const n = 40
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		mode := core.ModeAsynchronous
		if i%2 == 0 {
			mode = core.ModeDetached
		}
		go func() {
			defer wg.Done()
			tx, err := ctrl.Begin(ctx, mode)
			if !assert.NoError(t, err) {
				return
			}
			draft, err := tx.Edit(ctx)
			if !assert.NoError(t, err) {
				return
			}
			draft.SetTitle(title(i))
			done, ch := completion()
			if !assert.NoError(t, tx.CommitAsync(done)) {
				return
			}
			assert.NoError(t, await(t, ch).Err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.peak.Load(), "commits must never overlap")
	// One write for creation plus one per commit.
	assert.Equal(t, int32(n+1), store.writes.Load())
	assert.Equal(t, uint64(n+1), ctrl.CurrentSnapshot().Version)
}

func TestController_CommitsRunInSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	ctrl := newPlace(t, newProbeStore(100*time.Microsecond), core.Place{})

	var (
		mu   sync.Mutex
		seen []string
	)
	ctrl.Attach(core.ObserverFuncs{
		OnWasUpdated: func(current core.Snapshot, changed core.FieldSet) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, current.Place.Title)
		},
	})

	const n = 25
	var last <-chan result
	var want []string
	for i := range n {
		tx, err := ctrl.BeginAsynchronous(ctx)
		require.NoError(t, err)
		draft, err := tx.Edit(ctx)
		require.NoError(t, err)
		draft.SetTitle(title(i))
		want = append(want, title(i))

		done, ch := completion()
		require.NoError(t, tx.CommitAsync(done))
		last = ch
	}
	await(t, last)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestController_NoLostUpdate(t *testing.T) {
	ctx := context.Background()
	ctrl := newPlace(t, newProbeStore(time.Millisecond), core.Place{Latitude: 1, Longitude: 1})

	// Both transactions stage their edits from the same snapshot before either commits.
	first, err := ctrl.BeginAsynchronous(ctx)
	require.NoError(t, err)
	second, err := ctrl.BeginDetached(ctx)
	require.NoError(t, err)

	d1, err := first.Edit(ctx)
	require.NoError(t, err)
	d2, err := second.Edit(ctx)
	require.NoError(t, err)
	d1.SetCoordinate(10, 20)
	d2.SetTitle("Lisbon")
	d2.SetSubtitle("Portugal")

	done1, ch1 := completion()
	done2, ch2 := completion()
	require.NoError(t, first.CommitAsync(done1))
	require.NoError(t, second.CommitAsync(done2))
	require.NoError(t, await(t, ch1).Err)
	r2 := await(t, ch2)
	require.NoError(t, r2.Err)

	want := core.Place{Latitude: 10, Longitude: 20, Title: "Lisbon", Subtitle: "Portugal"}
	assert.Equal(t, want, r2.Snapshot.Place)
	assert.Equal(t, want, ctrl.CurrentSnapshot().Place)
}

func TestController_ConcurrentSynchronousCommits(t *testing.T) {
	ctx := context.Background()
	store := newProbeStore(200 * time.Microsecond)
	ctrl := newPlace(t, store, core.Place{})
	rec := &recorder{}
	ctrl.Attach(rec)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := ctrl.BeginSynchronous(ctx)
			if !assert.NoError(t, err) {
				return
			}
			draft, err := tx.Edit(ctx)
			if !assert.NoError(t, err) {
				return
			}
			draft.SetLatitude(float64(i + 1))
			_, err = tx.Commit(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.peak.Load())
	assert.Equal(t, n, rec.Count(core.CallbackWillUpdate))
	assert.Equal(t, n, rec.Count(core.CallbackWasUpdated))

	// Callbacks of different commits never interleave.
	calls := rec.Calls()
	for i := 0; i < len(calls); i += 2 {
		assert.Equal(t, core.CallbackWillUpdate, calls[i].Callback)
		assert.Equal(t, core.CallbackWasUpdated, calls[i+1].Callback)
		if i > 0 {
			assert.Equal(t, calls[i-1].Snapshot.Version, calls[i].Snapshot.Version)
		}
	}
}

func TestController_DetachedSurvivesCreator(t *testing.T) {
	store := memory.NewStore()
	ctrl := newPlace(t, store, core.Place{})
	rec := &recorder{}
	ctrl.Attach(rec)

	creator, cancel := context.WithCancel(context.Background())
	tx, err := ctrl.BeginDetached(creator)
	require.NoError(t, err)
	draft, err := tx.Edit(creator)
	require.NoError(t, err)
	draft.SetTitle("Reykjavik")

	// The owner goes away before the commit is even submitted.
	cancel()

	done, ch := completion()
	require.NoError(t, tx.CommitAsync(done))
	r := await(t, ch)
	require.NoError(t, r.Err)
	assert.Equal(t, "Reykjavik", r.Snapshot.Place.Title)

	stored, err := store.Read(context.Background(), "place")
	require.NoError(t, err)
	assert.Equal(t, "Reykjavik", stored.Place.Title)
	assert.Equal(t, 1, rec.Count(core.CallbackWasUpdated))
}

func TestController_AsynchronousBoundToCreator(t *testing.T) {
	ctrl := newPlace(t, memory.NewStore(), core.Place{Title: "kept"})
	rec := &recorder{}
	ctrl.Attach(rec)

	creator, cancel := context.WithCancel(context.Background())
	tx, err := ctrl.BeginAsynchronous(creator)
	require.NoError(t, err)
	draft, err := tx.Edit(creator)
	require.NoError(t, err)
	draft.SetTitle("dropped")
	cancel()

	done, ch := completion()
	require.NoError(t, tx.CommitAsync(done))
	r := await(t, ch)
	assert.ErrorIs(t, r.Err, context.Canceled)
	assert.Empty(t, rec.Calls())
	assert.Equal(t, "kept", ctrl.CurrentSnapshot().Place.Title)
}

func TestController_CloseWaitsForDetachedCommits(t *testing.T) {
	ctx := context.Background()
	store := newProbeStore(20 * time.Millisecond)
	ctrl := core.NewController(store, "place")

	tx, err := ctrl.BeginDetached(ctx)
	require.NoError(t, err)
	draft, err := tx.Create()
	require.NoError(t, err)
	draft.SetTitle("durable")
	require.NoError(t, tx.CommitAsync(nil))

	require.NoError(t, ctrl.Close(ctx))
	stored, err := store.Read(ctx, "place")
	require.NoError(t, err)
	assert.Equal(t, "durable", stored.Place.Title)

	late, err := ctrl.BeginDetached(ctx)
	assert.ErrorIs(t, err, core.ErrControllerClosed)
	assert.Nil(t, late)
}

func TestController_CommitFromCallbacks(t *testing.T) {
	ctx := context.Background()
	ctrl := newPlace(t, memory.NewStore(), core.Place{})

	followUp := make(chan result, 1)
	// Observers may chain asynchronous commits, as a geocoder does.
	ctrl.Attach(core.ObserverFuncs{
		OnWasUpdated: func(current core.Snapshot, changed core.FieldSet) {
			if !changed.ContainsAny(core.FieldLatitude, core.FieldLongitude) {
				return
			}
			tx, err := ctrl.BeginDetached(ctx)
			if err != nil {
				followUp <- result{Err: err}
				return
			}
			draft, err := tx.Edit(ctx)
			if err != nil {
				followUp <- result{Err: err}
				return
			}
			draft.SetTitle("resolved")
			_ = tx.CommitAsync(func(s core.Snapshot, err error) { followUp <- result{s, err} })
		},
	})

	tx, err := ctrl.BeginAsynchronous(ctx)
	require.NoError(t, err)
	draft, err := tx.Edit(ctx)
	require.NoError(t, err)
	draft.SetCoordinate(10, 20)

	// A completion callback may also commit again.
	chained := make(chan result, 1)
	require.NoError(t, tx.CommitAsync(func(core.Snapshot, error) {
		next, err := ctrl.BeginSynchronous(ctx)
		if err != nil {
			chained <- result{Err: err}
			return
		}
		d, _ := next.Edit(ctx)
		d.SetSubtitle("chained")
		s, err := next.Commit(ctx)
		chained <- result{s, err}
	}))

	require.NoError(t, await(t, followUp).Err)
	require.NoError(t, await(t, chained).Err)

	require.Eventually(t, func() bool {
		p := ctrl.CurrentSnapshot().Place
		return p.Title == "resolved" && p.Subtitle == "chained" && p.Latitude == 10
	}, 2*time.Second, 5*time.Millisecond)
}
