package metrics_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/placard/pkg/adapters/memory"
	"github.com/aretw0/placard/pkg/core"
	"github.com/aretw0/placard/pkg/metrics"
)

func TestRecorder_CountsControllerActivity(t *testing.T) {
	ctx := context.Background()
	rec := metrics.NewRecorder()
	store := memory.NewStore()
	ctrl := core.NewController(store, "place", core.WithMetrics(rec))
	defer ctrl.Close(ctx)

	ctrl.Attach(core.ObserverFuncs{})
	_, err := ctrl.EnsureCreated(ctx, nil)
	require.NoError(t, err)

	store.FailWrites(assert.AnError)
	tx, err := ctrl.BeginSynchronous(ctx)
	require.NoError(t, err)
	d, err := tx.Edit(ctx)
	require.NoError(t, err)
	d.SetTitle("x")
	_, err = tx.Commit(ctx)
	require.Error(t, err)

	count, err := testutil.GatherAndCount(rec.Registry(), "placard_commits_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per mode/outcome pair")

	count, err = testutil.GatherAndCount(rec.Registry(), "placard_notifications_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "will_update and was_updated for the create")

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `placard_commits_total{mode="synchronous",outcome="committed"} 1`)
	assert.Contains(t, string(body), `placard_commits_total{mode="synchronous",outcome="failed"} 1`)
	assert.Contains(t, string(body), `placard_notifications_total{callback="was_updated",panicked="false"} 1`)
}

func TestRecorder_PanickedNotification(t *testing.T) {
	rec := metrics.NewRecorder()
	rec.ObserveNotification(core.CallbackWasDeleted, true)
	rec.ObserveCommit(core.ModeDetached, core.OutcomeCancelled, 0)

	expected := `
# HELP placard_notifications_total Observer callbacks delivered, by callback and whether the observer panicked.
# TYPE placard_notifications_total counter
placard_notifications_total{callback="was_deleted",panicked="true"} 1
`
	require.NoError(t, testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "placard_notifications_total"))

	count, err := testutil.GatherAndCount(rec.Registry(), "placard_commit_duration_seconds")
	require.NoError(t, err)
	assert.Zero(t, count, "only committed outcomes are timed")
}
