package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/placard/pkg/adapters/lifecycle"
	"github.com/aretw0/placard/pkg/adapters/memory"
	"github.com/aretw0/placard/pkg/core"
)

func commit(t *testing.T, ctrl *core.Controller, edit func(d *core.Draft)) {
	t.Helper()
	tx, err := ctrl.BeginSynchronous(context.Background())
	require.NoError(t, err)
	d, err := tx.Edit(context.Background())
	require.NoError(t, err)
	edit(d)
	_, err = tx.Commit(context.Background())
	require.NoError(t, err)
}

func TestSource_FiltersByField(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctrl := core.NewController(memory.NewStore(), "place")
	defer ctrl.Close(context.Background())
	_, err := ctrl.EnsureCreated(ctx, nil)
	require.NoError(t, err)

	src := lifecycle.NewSource(ctrl, core.FieldTitle)
	require.NoError(t, src.Start(ctx))

	commit(t, ctrl, func(d *core.Draft) { d.SetSubtitle("skipped") })
	commit(t, ctrl, func(d *core.Draft) { d.SetTitle("kept") })

	select {
	case e := <-src.Events():
		event, ok := e.(core.Event)
		require.True(t, ok)
		assert.Equal(t, core.EventModify, event.Type)
		assert.Equal(t, uint64(3), event.Version)
		assert.Equal(t, "MODIFY place@3 {title}", e.String())
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestSource_ClosesWithContext(t *testing.T) {
	ctrl := core.NewController(memory.NewStore(), "place")
	defer ctrl.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	src := lifecycle.NewSource(ctrl)
	require.NoError(t, src.Start(ctx))
	cancel()

	select {
	case _, ok := <-src.Events():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("source did not close")
	}
}

func TestSource_ClosedController(t *testing.T) {
	ctrl := core.NewController(memory.NewStore(), "place")
	require.NoError(t, ctrl.Close(context.Background()))

	src := lifecycle.NewSource(ctrl)
	assert.ErrorIs(t, src.Start(context.Background()), core.ErrControllerClosed)
}
