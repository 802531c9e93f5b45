package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersSchema() TableSchema {
	return TableSchema{
		Name: "users",
		Columns: []ColumnMetadata{
			{Name: "id", Type: TypeInteger},
			{Name: "name", Type: TypeText},
			{Name: "email", Type: TypeText, Nullable: true},
			{Name: "active", Type: TypeBoolean, Default: &Value{Kind: TypeBoolean, Bool: true}},
		},
		PrimaryKey: []string{"id"},
	}
}

func TestCreateAndReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, c.CreateTable(usersSchema()))

	err = c.CreateTable(usersSchema())
	assert.ErrorIs(t, err, ErrTableExists)

	// A fresh Open must see the persisted schema.
	c2, err := Open(dir)
	require.NoError(t, err)
	s, err := c2.Table("users")
	require.NoError(t, err)
	assert.Len(t, s.Columns, 4)
	assert.Equal(t, []string{"id"}, s.PrimaryKey)

	_, err = c2.Table("orders")
	assert.ErrorIs(t, err, ErrTableNotFound)

	require.NoError(t, c2.DropTable("users"))
	assert.ErrorIs(t, c2.DropTable("users"), ErrTableNotFound)
}

func TestSchemaValidation(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)

	err = c.CreateTable(TableSchema{Name: "t"})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	err = c.CreateTable(TableSchema{
		Name:    "t",
		Columns: []ColumnMetadata{{Name: "a", Type: "varchar"}},
	})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	err = c.CreateTable(TableSchema{
		Name: "t",
		Columns: []ColumnMetadata{
			{Name: "a", Type: TypeInteger},
			{Name: "a", Type: TypeText},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	err = c.CreateTable(TableSchema{
		Name:       "t",
		Columns:    []ColumnMetadata{{Name: "a", Type: TypeInteger}},
		PrimaryKey: []string{"b"},
	})
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestValidateRow(t *testing.T) {
	s := usersSchema()

	row, err := s.ValidateRow(Row{"id": NewInt(1), "name": NewText("ada")})
	require.NoError(t, err)
	assert.True(t, row["active"].Bool, "default must be applied")
	_, hasEmail := row["email"]
	assert.False(t, hasEmail, "nullable columns stay absent")

	_, err = s.ValidateRow(Row{"id": NewInt(1), "name": NewText("ada"), "age": NewInt(30)})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = s.ValidateRow(Row{"id": NewText("one"), "name": NewText("ada")})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = s.ValidateRow(Row{"id": NewInt(1)})
	assert.ErrorIs(t, err, ErrNullViolation, "name has no default")

	_, err = s.ValidateRow(Row{"id": NewInt(1), "name": Value{}})
	assert.ErrorIs(t, err, ErrNullViolation, "explicit null on NOT NULL column")

	row, err = s.ValidateRow(Row{"id": NewInt(2), "name": NewText("bob"), "email": Value{}})
	require.NoError(t, err)
	assert.True(t, row["email"].Null())
}

func TestPrimaryKeyOf(t *testing.T) {
	s := usersSchema()

	key, err := s.PrimaryKeyOf(Row{"id": NewInt(42), "name": NewText("x")})
	require.NoError(t, err)
	assert.Equal(t, "00000000000000000042", key)

	_, err = s.PrimaryKeyOf(Row{"name": NewText("x")})
	assert.ErrorIs(t, err, ErrNullViolation)

	// Composite keys join fragments; numeric padding keeps ordering.
	comp := TableSchema{
		Name: "events",
		Columns: []ColumnMetadata{
			{Name: "stream", Type: TypeText},
			{Name: "seq", Type: TypeBigInt},
		},
		PrimaryKey: []string{"stream", "seq"},
	}
	k1, err := comp.PrimaryKeyOf(Row{"stream": NewText("s"), "seq": NewBigInt(9)})
	require.NoError(t, err)
	k2, err := comp.PrimaryKeyOf(Row{"stream": NewText("s"), "seq": NewBigInt(10)})
	require.NoError(t, err)
	assert.Less(t, k1, k2)
}

func TestPrimaryKeyFallback(t *testing.T) {
	// No declared key: the "id" column serves as the key.
	nopk := TableSchema{
		Name: "nopk",
		Columns: []ColumnMetadata{
			{Name: "name", Type: TypeText},
			{Name: "id", Type: TypeInteger},
		},
	}
	key, err := nopk.PrimaryKeyOf(Row{"id": NewInt(1), "name": NewText("x")})
	require.NoError(t, err)
	assert.Equal(t, "00000000000000000001", key)

	// No declared key and no "id" column: the first column serves.
	first := TableSchema{
		Name: "first",
		Columns: []ColumnMetadata{
			{Name: "code", Type: TypeText},
			{Name: "label", Type: TypeText},
		},
	}
	key, err = first.PrimaryKeyOf(Row{"code": NewText("abc"), "label": NewText("x")})
	require.NoError(t, err)
	assert.Equal(t, "abc", key)

	// The fallback column is still required to be present and non-null.
	_, err = nopk.PrimaryKeyOf(Row{"name": NewText("x")})
	assert.ErrorIs(t, err, ErrNullViolation)
}

func TestValueKeyOrdering(t *testing.T) {
	assert.Less(t, NewInt(9).Key(), NewInt(10).Key())
	assert.Less(t, NewInt(0).Key(), NewInt(1).Key())
	assert.Less(t, NewInt(-5).Key(), NewInt(3).Key())
}
