package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseColumns() []Column {
	return []Column{
		{Name: "id", Type: TypeInt},
		{Name: "name", Type: TypeString, Nullable: true},
	}
}

func TestCreateTable_AndExists(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateTable("users", baseColumns(), ModeHybrid, "c1"))
	err := c.CreateTable("users", baseColumns(), ModeHybrid, "c1")
	assert.ErrorIs(t, err, ErrExists)

	meta, err := c.Table("users")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.CurrentSchema().Version)
	assert.Len(t, meta.CurrentSchema().ActiveColumns(), 2)
}

func TestTable_NotFound(t *testing.T) {
	c := New()
	_, err := c.Table("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddColumn_BumpsVersionAndIsNullable(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateTable("t", baseColumns(), ModeHybrid, "c1"))

	v, err := c.AddColumn("t", Column{Name: "email", Type: TypeString})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	meta, _ := c.Table("t")
	col, ok := meta.CurrentSchema().Column("email")
	require.True(t, ok)
	assert.True(t, col.Nullable)
}

func TestAddColumn_DuplicateIsBreaking(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateTable("t", baseColumns(), ModeHybrid, "c1"))
	_, err := c.AddColumn("t", Column{Name: "id", Type: TypeInt})
	assert.ErrorIs(t, err, ErrBreakingChange)
}

func TestDropColumn_IsAdditiveOnly(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateTable("t", baseColumns(), ModeHybrid, "c1"))
	v, err := c.DropColumn("t", "name")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	meta, _ := c.Table("t")
	assert.Len(t, meta.CurrentSchema().ActiveColumns(), 1)
	// Historical schema version 1 still carries the column.
	old, err := meta.SchemaAt(1)
	require.NoError(t, err)
	_, ok := old.Column("name")
	assert.True(t, ok)
}

func TestAddThenDropColumn_IncrementsVersionTwiceWithHistory(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateTable("t", baseColumns(), ModeHybrid, "c1"))
	startVersion := 1

	v1, err := c.AddColumn("t", Column{Name: "tmp", Type: TypeString})
	require.NoError(t, err)
	v2, err := c.DropColumn("t", "tmp")
	require.NoError(t, err)

	assert.Equal(t, startVersion+2, v2)
	assert.Equal(t, v1+1, v2)

	meta, _ := c.Table("t")
	assert.Len(t, meta.Schemas, 3)
}

func TestWidenColumn_IntToFloatAllowed(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateTable("t", baseColumns(), ModeHybrid, "c1"))
	_, err := c.WidenColumn("t", "id", TypeFloat)
	assert.NoError(t, err)
}

func TestWidenColumn_NarrowingRejected(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateTable("t", baseColumns(), ModeHybrid, "c1"))
	_, err := c.WidenColumn("t", "id", TypeFloat)
	require.NoError(t, err)
	_, err = c.WidenColumn("t", "id", TypeInt)
	assert.ErrorIs(t, err, ErrBreakingChange)
}

func TestMarshalUnmarshal_RoundTrips(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateTable("t", baseColumns(), ModeHybrid, "c1"))
	_, err := c.AddColumn("t", Column{Name: "email", Type: TypeString})
	require.NoError(t, err)

	data, err := c.MarshalJSON()
	require.NoError(t, err)

	c2 := New()
	require.NoError(t, c2.UnmarshalFrom(data))
	meta, err := c2.Table("t")
	require.NoError(t, err)
	assert.Equal(t, 2, meta.CurrentSchema().Version)
}

func TestDropTable(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateTable("t", baseColumns(), ModeHybrid, "c1"))
	require.NoError(t, c.DropTable("t"))
	_, err := c.Table("t")
	assert.ErrorIs(t, err, ErrNotFound)
}
