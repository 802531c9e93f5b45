package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	ErrTableExists   = errors.New("catalog: table already exists")
	ErrTableNotFound = errors.New("catalog: table not found")
	ErrUnknownColumn = errors.New("catalog: unknown column")
	ErrTypeMismatch  = errors.New("catalog: type mismatch")
	ErrNullViolation = errors.New("catalog: column cannot be null")
	ErrInvalidSchema = errors.New("catalog: invalid schema")
)

// ColumnMetadata describes one column of a table.
type ColumnMetadata struct {
	Name     string   `json:"name"`
	Type     DataType `json:"type"`
	Nullable bool     `json:"nullable"`
	Default  *Value   `json:"default,omitempty"`
}

// TableSchema describes one table: its columns, the columns forming the
// primary key, and per-table storage settings. Strategy and Codec are
// opaque identifiers interpreted by the storage layer.
type TableSchema struct {
	Name       string           `json:"name"`
	Columns    []ColumnMetadata `json:"columns"`
	PrimaryKey []string         `json:"primary_key"`
	Strategy   string           `json:"strategy,omitempty"`
	Codec      string           `json:"codec,omitempty"`
}

// Column returns the column definition for name.
func (s *TableSchema) Column(name string) (ColumnMetadata, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnMetadata{}, false
}

func (s *TableSchema) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidSchema)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: table %q has no columns", ErrInvalidSchema, s.Name)
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("%w: table %q has an unnamed column", ErrInvalidSchema, s.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: table %q declares column %q twice", ErrInvalidSchema, s.Name, c.Name)
		}
		seen[c.Name] = true
		if !c.Type.valid() {
			return fmt.Errorf("%w: column %q has unknown type %q", ErrInvalidSchema, c.Name, c.Type)
		}
	}
	for _, pk := range s.PrimaryKey {
		if !seen[pk] {
			return fmt.Errorf("%w: primary key column %q not declared", ErrInvalidSchema, pk)
		}
	}
	return nil
}

// ValidateRow checks row against the schema and returns a copy with
// defaultable NOT NULL columns filled in. The input row is not modified.
func (s *TableSchema) ValidateRow(row Row) (Row, error) {
	out := make(Row, len(s.Columns))

	for name, v := range row {
		col, ok := s.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q in table %q", ErrUnknownColumn, name, s.Name)
		}
		if v.Null() {
			if !col.Nullable {
				return nil, fmt.Errorf("%w: %q", ErrNullViolation, name)
			}
			out[name] = v
			continue
		}
		if v.Kind != col.Type {
			return nil, fmt.Errorf("%w: column %q expects %s, got %s", ErrTypeMismatch, name, col.Type, v.Kind)
		}
		out[name] = v
	}

	for _, col := range s.Columns {
		if col.Nullable {
			continue
		}
		if _, present := out[col.Name]; present {
			continue
		}
		if col.Default != nil {
			if col.Default.Null() {
				out[col.Name] = zeroFor(col.Type)
			} else {
				out[col.Name] = *col.Default
			}
			continue
		}
		return nil, fmt.Errorf("%w: %q", ErrNullViolation, col.Name)
	}
	return out, nil
}

// primaryKeyColumns returns the columns forming the effective primary key:
// the declared key, else the "id" column when the table has one, else the
// first declared column.
func (s *TableSchema) primaryKeyColumns() []string {
	if len(s.PrimaryKey) > 0 {
		return s.PrimaryKey
	}
	if _, ok := s.Column("id"); ok {
		return []string{"id"}
	}
	if len(s.Columns) > 0 {
		return []string{s.Columns[0].Name}
	}
	return nil
}

// PrimaryKeyOf renders the row's primary key as a single sortable string.
// Tables without a declared key fall back to the "id" column, else the
// first declared column. Composite keys join the per-column fragments with
// a unit separator.
func (s *TableSchema) PrimaryKeyOf(row Row) (string, error) {
	cols := s.primaryKeyColumns()
	if len(cols) == 0 {
		return "", fmt.Errorf("%w: table %q has no columns", ErrInvalidSchema, s.Name)
	}
	key := ""
	for i, col := range cols {
		v, ok := row[col]
		if !ok || v.Null() {
			return "", fmt.Errorf("%w: primary key column %q", ErrNullViolation, col)
		}
		if i > 0 {
			key += "\x1f"
		}
		key += v.Key()
	}
	return key, nil
}

// --------------------------------------------------------------------------
// Catalog
// --------------------------------------------------------------------------

const catalogFile = "catalog.json"

// Catalog is the persistent registry of table schemas.
type Catalog struct {
	dir string

	mu     sync.RWMutex
	tables map[string]TableSchema
}

// Open loads the catalog from dir, creating an empty one when no catalog
// file exists yet.
func Open(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: create dir: %w", err)
	}
	c := &Catalog{dir: dir, tables: make(map[string]TableSchema)}

	data, err := os.ReadFile(filepath.Join(dir, catalogFile))
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read: %w", err)
	}
	var schemas []TableSchema
	if err := json.Unmarshal(data, &schemas); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	for _, s := range schemas {
		c.tables[s.Name] = s
	}
	return c, nil
}

// CreateTable registers a new table schema and persists the catalog.
func (c *Catalog) CreateTable(schema TableSchema) error {
	if err := schema.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[schema.Name]; ok {
		return fmt.Errorf("%w: %q", ErrTableExists, schema.Name)
	}
	c.tables[schema.Name] = schema
	return c.persistLocked()
}

// DropTable removes a table schema and persists the catalog.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; !ok {
		return fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	delete(c.tables, name)
	return c.persistLocked()
}

// Table returns the schema for name.
func (c *Catalog) Table(name string) (TableSchema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.tables[name]
	if !ok {
		return TableSchema{}, fmt.Errorf("%w: %q", ErrTableNotFound, name)
	}
	return s, nil
}

// Tables returns all registered schemas sorted by table name.
func (c *Catalog) Tables() []TableSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TableSchema, 0, len(c.tables))
	for _, s := range c.tables {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// persistLocked writes the catalog file via a temp file and rename so a
// crash mid-write never corrupts the previous catalog.
func (c *Catalog) persistLocked() error {
	schemas := make([]TableSchema, 0, len(c.tables))
	for _, s := range c.tables {
		schemas = append(schemas, s)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })

	data, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode: %w", err)
	}
	tmp := filepath.Join(c.dir, catalogFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("catalog: write: %w", err)
	}
	return os.Rename(tmp, filepath.Join(c.dir, catalogFile))
}
