package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/placard/pkg/adapters/memory"
	"github.com/aretw0/placard/pkg/core"
)

func TestController_EditCoordinate(t *testing.T) {
	ctx := context.Background()
	ctrl := newPlace(t, memory.NewStore(), core.Place{Latitude: 1, Longitude: 2, Title: "Somewhere"})

	rec := &recorder{}
	ctrl.Attach(rec)

	tx, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	draft, err := tx.Edit(ctx)
	require.NoError(t, err)
	draft.SetLatitude(10)
	draft.SetLongitude(20)

	// Staged values are private until commit.
	assert.Equal(t, 1.0, ctrl.CurrentSnapshot().Place.Latitude)

	snap, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.Place.Latitude)
	assert.Equal(t, 20.0, snap.Place.Longitude)
	assert.Equal(t, "Somewhere", snap.Place.Title)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, core.CallbackWillUpdate, calls[0].Callback)
	assert.Equal(t, 1.0, calls[0].Snapshot.Place.Latitude)
	assert.Equal(t, core.CallbackWasUpdated, calls[1].Callback)
	assert.Equal(t, core.NewFieldSet(core.FieldLatitude, core.FieldLongitude), calls[1].Changed)
	assert.Equal(t, snap, calls[1].Snapshot)

	current := ctrl.CurrentSnapshot()
	assert.Equal(t, 10.0, current.Place.Latitude)
	assert.Equal(t, 20.0, current.Place.Longitude)
	assert.Equal(t, "committed", tx.State())
}

func TestController_EditMissingPlace(t *testing.T) {
	ctx := context.Background()
	ctrl := core.NewController(memory.NewStore(), "nowhere")
	require.NoError(t, ctrl.Load(ctx))

	tx, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	_, err = tx.Edit(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Create is the fallback.
	draft, err := tx.Create()
	require.NoError(t, err)
	draft.SetTitle("new")
	snap, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Exists())
	assert.Equal(t, "new", snap.Place.Title)
}

func TestController_CreateReportsAllSetFields(t *testing.T) {
	ctx := context.Background()
	ctrl := core.NewController(memory.NewStore(), "k")
	rec := &recorder{}
	ctrl.Attach(rec)

	tx, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	draft, err := tx.Create()
	require.NoError(t, err)
	draft.SetCoordinate(10, 20)
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.False(t, calls[0].Snapshot.Exists())
	assert.Equal(t, core.NewFieldSet(core.FieldLatitude, core.FieldLongitude), calls[1].Changed)
}

func TestController_StoreWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ctrl := newPlace(t, store, core.Place{Title: "before"})
	before := ctrl.CurrentSnapshot()

	rec := &recorder{}
	ctrl.Attach(rec)
	store.FailWrites(errors.New("disk full"))

	tx, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	draft, err := tx.Edit(ctx)
	require.NoError(t, err)
	draft.SetTitle("after")

	_, err = tx.Commit(ctx)
	assert.ErrorIs(t, err, core.ErrStoreWriteFailed)
	assert.Empty(t, rec.Calls(), "failed commits must not notify")
	assert.Equal(t, before, ctrl.CurrentSnapshot())
	assert.Equal(t, "discarded", tx.State())
}

func TestController_WrapsUnknownStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(memory.WithReadOnly(true))
	ctrl := core.NewController(store, "k")

	tx, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	_, err = tx.Create()
	require.NoError(t, err)
	_, err = tx.Commit(ctx)
	assert.ErrorIs(t, err, core.ErrStoreWriteFailed)
	assert.ErrorIs(t, err, core.ErrReadOnly)
}

func TestController_PlaceDeletedBetweenEditAndCommit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ctrl := newPlace(t, store, core.Place{})

	tx, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	draft, err := tx.Edit(ctx)
	require.NoError(t, err)
	draft.SetTitle("late")

	del, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	require.NoError(t, del.Delete())
	_, err = del.Commit(ctx)
	require.NoError(t, err)

	_, err = tx.Commit(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, ctrl.CurrentSnapshot().Exists())
}

func TestController_Delete(t *testing.T) {
	ctx := context.Background()
	ctrl := newPlace(t, memory.NewStore(), core.Place{Title: "gone soon"})
	rec := &recorder{}
	ctrl.Attach(rec)

	tx, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Delete())
	snap, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Deleted)

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, core.CallbackWasDeleted, calls[0].Callback)
	assert.Equal(t, "gone soon", calls[0].Snapshot.Place.Title)
	assert.False(t, ctrl.CurrentSnapshot().Exists())

	again, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	_, err = again.Edit(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)

	again.Discard()
	deleteMissing, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	require.NoError(t, deleteMissing.Delete())
	_, err = deleteMissing.Commit(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTransaction_Lifecycle(t *testing.T) {
	ctx := context.Background()
	ctrl := newPlace(t, memory.NewStore(), core.Place{})

	t.Run("ModeMismatch", func(t *testing.T) {
		sync, err := ctrl.BeginSynchronous(ctx)
		require.NoError(t, err)
		assert.ErrorIs(t, sync.CommitAsync(nil), core.ErrModeMismatch)

		async, err := ctrl.BeginAsynchronous(ctx)
		require.NoError(t, err)
		_, err = async.Commit(ctx)
		assert.ErrorIs(t, err, core.ErrModeMismatch)
	})

	t.Run("SingleUse", func(t *testing.T) {
		tx, err := ctrl.BeginSynchronous(ctx)
		require.NoError(t, err)
		_, err = tx.Commit(ctx)
		require.NoError(t, err)

		_, err = tx.Commit(ctx)
		assert.ErrorIs(t, err, core.ErrTransactionClosed)
		_, err = tx.Edit(ctx)
		assert.ErrorIs(t, err, core.ErrTransactionClosed)
	})

	t.Run("Discard", func(t *testing.T) {
		rec := &recorder{}
		sub := ctrl.Attach(rec)
		defer sub.Detach()

		tx, err := ctrl.BeginSynchronous(ctx)
		require.NoError(t, err)
		draft, err := tx.Edit(ctx)
		require.NoError(t, err)
		draft.SetTitle("never")
		tx.Discard()

		_, err = tx.Commit(ctx)
		assert.ErrorIs(t, err, core.ErrTransactionClosed)
		assert.Empty(t, rec.Calls())
		assert.NotEqual(t, "never", ctrl.CurrentSnapshot().Place.Title)
	})

	t.Run("NothingStaged", func(t *testing.T) {
		rec := &recorder{}
		sub := ctrl.Attach(rec)
		defer sub.Detach()
		before := ctrl.CurrentSnapshot()

		tx, err := ctrl.BeginSynchronous(ctx)
		require.NoError(t, err)
		_, err = tx.Edit(ctx)
		require.NoError(t, err)
		snap, err := tx.Commit(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, snap)
		assert.Empty(t, rec.Calls())
	})

	t.Run("SealedDraftIgnoresLateSets", func(t *testing.T) {
		tx, err := ctrl.BeginSynchronous(ctx)
		require.NoError(t, err)
		draft, err := tx.Edit(ctx)
		require.NoError(t, err)
		draft.SetTitle("committed")
		_, err = tx.Commit(ctx)
		require.NoError(t, err)

		draft.SetTitle("late")
		assert.Equal(t, "committed", ctrl.CurrentSnapshot().Place.Title)
		assert.Equal(t, "committed", draft.Place().Title)
	})
}

func TestController_Closed(t *testing.T) {
	ctx := context.Background()
	ctrl := core.NewController(memory.NewStore(), "k")
	require.NoError(t, ctrl.Close(ctx))
	require.NoError(t, ctrl.Close(ctx))

	_, err := ctrl.BeginSynchronous(ctx)
	assert.ErrorIs(t, err, core.ErrControllerClosed)
	_, err = ctrl.Watch(ctx)
	assert.ErrorIs(t, err, core.ErrControllerClosed)
}

func TestController_Refresh(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ctrl := newPlace(t, store, core.Place{Title: "mine"})
	rec := &recorder{}
	ctrl.Attach(rec)

	changed, err := ctrl.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	// Another writer changes the record behind the controller's back.
	_, err = store.Write(ctx, "place", func(current core.Snapshot) (core.Place, error) {
		p := current.Place
		p.Title = "theirs"
		return p, nil
	})
	require.NoError(t, err)

	changed, err = ctrl.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "theirs", ctrl.CurrentSnapshot().Place.Title)
	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, core.NewFieldSet(core.FieldTitle), calls[1].Changed)

	_, err = store.Delete(ctx, "place")
	require.NoError(t, err)
	changed, err = ctrl.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, rec.Count(core.CallbackWasDeleted))
	assert.False(t, ctrl.CurrentSnapshot().Exists())
}

func TestController_EnsureCreatedKeepsExisting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ctrl := newPlace(t, store, core.Place{Title: "first"})

	other := core.NewController(store, "place")
	snap, err := other.EnsureCreated(ctx, func(d *core.Draft) { d.SetTitle("second") })
	require.NoError(t, err)
	assert.Equal(t, "first", snap.Place.Title)
	assert.Equal(t, ctrl.CurrentSnapshot().Version, snap.Version)
}

func TestController_State(t *testing.T) {
	ctrl := newPlace(t, memory.NewStore(), core.Place{})
	ctrl.Attach(&recorder{})

	state, ok := ctrl.State().(core.ControllerState)
	require.True(t, ok)
	assert.Equal(t, "place", state.Key)
	assert.True(t, state.Exists)
	assert.Equal(t, 1, state.Observers)
	assert.Equal(t, "memory-store", state.StoreType)
	assert.Equal(t, "controller", ctrl.ComponentType())
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]core.Mode{
		"sync":         core.ModeSynchronous,
		"asynchronous": core.ModeAsynchronous,
		"detached":     core.ModeDetached,
	} {
		got, err := core.ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := core.ParseMode("eventually")
	assert.Error(t, err)
}

func TestController_UnloadedControllerDiffsAgainstStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.Write(ctx, "place", func(core.Snapshot) (core.Place, error) {
		return core.Place{Latitude: 10, Longitude: 20, Title: "A"}, nil
	})
	require.NoError(t, err)

	// No Load: Edit falls back to the store.
	ctrl := core.NewController(store, "place")
	defer ctrl.Close(ctx)
	rec := &recorder{}
	ctrl.Attach(rec)

	tx, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	draft, err := tx.Edit(ctx)
	require.NoError(t, err)
	draft.SetSubtitle("B")
	snap, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, core.CallbackWillUpdate, calls[0].Callback)
	assert.Equal(t, uint64(1), calls[0].Snapshot.Version)
	assert.Equal(t, "A", calls[0].Snapshot.Place.Title)
	assert.Equal(t, core.NewFieldSet(core.FieldSubtitle), calls[1].Changed)
}

func TestController_StaleCacheDiffsAgainstStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	a := newPlace(t, store, core.Place{Latitude: 1, Longitude: 2, Title: "old"})

	b := core.NewController(store, "place")
	require.NoError(t, b.Load(ctx))
	defer b.Close(ctx)

	tx, err := b.BeginSynchronous(ctx)
	require.NoError(t, err)
	draft, err := tx.Edit(ctx)
	require.NoError(t, err)
	draft.SetTitle("from b")
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	// a has not seen b's write.
	assert.Equal(t, "old", a.CurrentSnapshot().Place.Title)
	rec := &recorder{}
	a.Attach(rec)

	tx, err = a.BeginSynchronous(ctx)
	require.NoError(t, err)
	draft, err = tx.Edit(ctx)
	require.NoError(t, err)
	draft.SetSubtitle("from a")
	snap, err := tx.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from b", snap.Place.Title)
	assert.Equal(t, "from a", snap.Place.Subtitle)

	calls := rec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "from b", calls[0].Snapshot.Place.Title)
	assert.Equal(t, uint64(2), calls[0].Snapshot.Version)
	assert.Equal(t, core.NewFieldSet(core.FieldSubtitle), calls[1].Changed)
	assert.Equal(t, snap, a.CurrentSnapshot())
}
