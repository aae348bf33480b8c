package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vacerrors "github.com/Aman-CERP/esvacuum/internal/errors"
	"github.com/Aman-CERP/esvacuum/internal/index"
)

func TestReindexCmd_IndexesContainer(t *testing.T) {
	e := newTestEnv(t)
	c := e.create(nil, "Container", "guillotina")
	owner := e.create(c, "UniqueIndexContent", "unique")
	e.create(owner, "Item", "inside")

	// When: reindexing the container
	out, err := e.run("reindex", "guillotina")
	require.NoError(t, err)

	// Then: both objects were indexed
	assert.Contains(t, out, "Indexed 2 objects in 1 containers")
	_, err = e.getDoc(c, owner.OID)
	assert.NoError(t, err)

	// And: the sub-index shows up as healthy
	out, err = e.run("indexes")
	require.NoError(t, err)
	assert.Contains(t, out, "CONTAINER")
	assert.Contains(t, out, "main")
	assert.Contains(t, out, "ok")
	assert.NotContains(t, out, "orphaned")

	out, err = e.run("clean-indexes")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 orphaned sub-indexes")
}

func TestReindexCmd_UnknownContainer(t *testing.T) {
	e := newTestEnv(t)
	e.create(nil, "Container", "guillotina")

	_, err := e.run("reindex", "nope")

	require.Error(t, err)
	assert.Equal(t, vacerrors.ErrCodeObjectNotFound, vacerrors.GetCode(err))
}

func TestIndexesCmd_NoContainers(t *testing.T) {
	e := newTestEnv(t)

	out, err := e.run("indexes")

	require.NoError(t, err)
	assert.Contains(t, out, "No containers found")
}

func TestSubIndexRows(t *testing.T) {
	installed := []index.SubIndex{
		{Alias: "main__a-1", Index: "1_main__a-1"},
		{Alias: "main__a-2", Index: "1_main__a-2"},
	}
	owned := []index.ContentSubIndex{
		{Index: "main__a-1", OID: "1"},
		{Index: "main__a-3", OID: "3"},
	}

	rows := subIndexRows("c", installed, owned)

	assert.Equal(t, [][]string{
		{"c", "main__a-1", "sub", "ok"},
		{"c", "main__a-2", "sub", "orphaned"},
		{"c", "main__a-3", "sub", "missing"},
	}, rows)
}
