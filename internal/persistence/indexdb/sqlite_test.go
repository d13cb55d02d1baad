package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"slotkeeper.ai/internal/sim/audit"
	"slotkeeper.ai/internal/sim/policy"
)

func TestSQLiteIndex_AuditsSurviveReopen(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "index", "slotkeeper.sqlite")
	idx, err := OpenSQLite(path)
	require.NoError(t, err)

	require.NoError(t, idx.Write(audit.Entry{Tick: 10, Actor: "a-1", Name: "alice", Action: audit.ActionRestore, PolicyID: "menu", Slot: 8}))
	require.NoError(t, idx.Write(audit.Entry{Tick: 12, Actor: "a-1", Name: "alice", Action: audit.ActionVeto, PolicyID: "menu", Slot: 8, Op: "drop", Reason: "remove"}))
	require.NoError(t, idx.Write(audit.Entry{Tick: 13, Actor: "b-2", Name: "bob", Action: audit.ActionTrigger, PolicyID: "menu", Slot: 8}))
	require.NoError(t, idx.Close())
	assert.Equal(t, uint64(3), idx.Stats().WrittenTotal)

	// Writes after Close are ignored.
	require.NoError(t, idx.Write(audit.Entry{Tick: 99}))

	idx, err = OpenSQLite(path)
	require.NoError(t, err)
	defer idx.Close()

	got, err := idx.RecentAudits(context.Background(), "a-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, audit.ActionVeto, got[0].Action)
	assert.Equal(t, "drop", got[0].Op)
	assert.Equal(t, uint64(10), got[1].Tick)

	all, err := idx.RecentAudits(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteIndex_UpsertPoliciesReplaces(t *testing.T) {
	defer goleak.VerifyNone(t)

	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "idx.sqlite"))
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	menu := policy.Defaults("menu")
	warp := policy.Defaults("warp")
	warp.Slot = 7
	warp.Appearance.Material = "ENDER_EYE"
	set, err := policy.NewSet([]policy.SlotPolicy{menu, warp}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.UpsertPolicies(ctx, set))

	rows, err := idx.Policies(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "warp", rows[0].ID)
	assert.Equal(t, "ENDER_EYE", rows[0].Material)
	assert.Len(t, rows[1].Digest, 64)

	only, err := policy.NewSet([]policy.SlotPolicy{menu}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.UpsertPolicies(ctx, only))
	rows, err = idx.Policies(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "menu", rows[0].ID)
}

func TestSQLiteIndex_DropsWhenQueueFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan audit.Entry, 1)}
	require.NoError(t, s.Write(audit.Entry{Tick: 1}))
	require.NoError(t, s.Write(audit.Entry{Tick: 2}))

	st := s.Stats()
	assert.Equal(t, uint64(1), st.DroppedTotal)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.QueueCapacity)
}
