package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ctecache/catalog"
)

type fakeMaterialization struct {
	dataTable  string
	sources    []string
	createTime int64
}

func (f *fakeMaterialization) DataTable() string      { return f.dataTable }
func (f *fakeMaterialization) SourceTables() []string { return f.sources }
func (f *fakeMaterialization) CreateTime() int64      { return f.createTime }

func TestVersioned_ValidUntilWrite(t *testing.T) {
	ctx := context.Background()
	session := catalog.Session{User: "test"}
	v := NewVersioned()

	m := &fakeMaterialization{
		dataTable:  "cache.cte_a",
		sources:    []string{"tpch.orders", "tpch.lineitem"},
		createTime: 1,
	}

	require.NoError(t, v.Monitor(ctx, session, m))
	assert.Equal(t, 1, v.Registered())

	valid, err := v.IsValid(ctx, session, m)
	require.NoError(t, err)
	assert.True(t, valid)

	v.RecordWrite("tpch.lineitem")

	valid, err = v.IsValid(ctx, session, m)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVersioned_UnknownIsInvalid(t *testing.T) {
	ctx := context.Background()
	session := catalog.Session{User: "test"}
	v := NewVersioned()

	valid, err := v.IsValid(ctx, session, &fakeMaterialization{dataTable: "cache.cte_x", createTime: 7})
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVersioned_Unmonitor(t *testing.T) {
	ctx := context.Background()
	session := catalog.Session{User: "test"}
	v := NewVersioned()

	m := &fakeMaterialization{dataTable: "cache.cte_a", sources: []string{"t1"}, createTime: 1}
	require.NoError(t, v.Monitor(ctx, session, m))
	require.NoError(t, v.Unmonitor(ctx, session, m))
	assert.Equal(t, 0, v.Registered())

	valid, err := v.IsValid(ctx, session, m)
	require.NoError(t, err)
	assert.False(t, valid)

	// Unknown deregistrations are a no-op.
	require.NoError(t, v.Unmonitor(ctx, session, m))
}

func TestVersioned_GenerationsTrackIndependently(t *testing.T) {
	ctx := context.Background()
	session := catalog.Session{User: "test"}
	v := NewVersioned()

	gen1 := &fakeMaterialization{dataTable: "cache.cte_a", sources: []string{"t1"}, createTime: 1}
	require.NoError(t, v.Monitor(ctx, session, gen1))

	v.RecordWrite("t1")

	// A second generation registered after the write sees the new version.
	gen2 := &fakeMaterialization{dataTable: "cache.cte_a", sources: []string{"t1"}, createTime: 2}
	require.NoError(t, v.Monitor(ctx, session, gen2))

	valid, err := v.IsValid(ctx, session, gen1)
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = v.IsValid(ctx, session, gen2)
	require.NoError(t, err)
	assert.True(t, valid)
}
