package catalog

import (
	"fmt"
	"strconv"
)

// DataType enumerates the column types a table may declare.
type DataType string

const (
	TypeInteger DataType = "integer"
	TypeBigInt  DataType = "bigint"
	TypeFloat   DataType = "float"
	TypeDouble  DataType = "double"
	TypeText    DataType = "text"
	TypeBoolean DataType = "boolean"
	TypeBlob    DataType = "blob"
)

func (t DataType) valid() bool {
	switch t {
	case TypeInteger, TypeBigInt, TypeFloat, TypeDouble, TypeText, TypeBoolean, TypeBlob:
		return true
	}
	return false
}

// Value is one typed cell. A zero Value is the SQL NULL.
type Value struct {
	Kind  DataType `json:"kind,omitempty"`
	Int   int64    `json:"int,omitempty"`
	Float float64  `json:"float,omitempty"`
	Text  string   `json:"text,omitempty"`
	Bool  bool     `json:"bool,omitempty"`
	Blob  []byte   `json:"blob,omitempty"`
}

// Null reports whether the value carries no type, i.e. is NULL.
func (v Value) Null() bool { return v.Kind == "" }

func NewInt(i int64) Value      { return Value{Kind: TypeInteger, Int: i} }
func NewBigInt(i int64) Value   { return Value{Kind: TypeBigInt, Int: i} }
func NewFloat(f float64) Value  { return Value{Kind: TypeFloat, Float: f} }
func NewDouble(f float64) Value { return Value{Kind: TypeDouble, Float: f} }
func NewText(s string) Value    { return Value{Kind: TypeText, Text: s} }
func NewBool(b bool) Value      { return Value{Kind: TypeBoolean, Bool: b} }
func NewBlob(b []byte) Value    { return Value{Kind: TypeBlob, Blob: b} }

// Key renders the value as a sortable string fragment for index keys.
// Integers are zero-padded so lexicographic order matches numeric order for
// non-negative values.
func (v Value) Key() string {
	switch v.Kind {
	case TypeInteger, TypeBigInt:
		if v.Int < 0 {
			return fmt.Sprintf("-%019d", -v.Int)
		}
		return fmt.Sprintf("%020d", v.Int)
	case TypeFloat, TypeDouble:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case TypeText:
		return v.Text
	case TypeBoolean:
		if v.Bool {
			return "1"
		}
		return "0"
	case TypeBlob:
		return string(v.Blob)
	}
	return ""
}

// String renders the value for logs and error messages.
func (v Value) String() string {
	switch v.Kind {
	case TypeInteger, TypeBigInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat, TypeDouble:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case TypeText:
		return v.Text
	case TypeBoolean:
		return strconv.FormatBool(v.Bool)
	case TypeBlob:
		return fmt.Sprintf("blob[%d]", len(v.Blob))
	}
	return "null"
}

// zeroFor returns the typed zero used when filling a defaultable NOT NULL
// column that the row omitted.
func zeroFor(t DataType) Value {
	switch t {
	case TypeInteger:
		return NewInt(0)
	case TypeBigInt:
		return NewBigInt(0)
	case TypeFloat:
		return NewFloat(0)
	case TypeDouble:
		return NewDouble(0)
	case TypeText:
		return NewText("")
	case TypeBoolean:
		return NewBool(false)
	case TypeBlob:
		return NewBlob(nil)
	}
	return Value{}
}

// Row is one table row keyed by column name.
type Row map[string]Value
