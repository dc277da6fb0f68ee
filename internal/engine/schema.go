package engine

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// SQL storage classes used for engine tables
const (
	TypeText    = "TEXT"
	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
)

// Column is one column of an engine table
type Column struct {
	Name string
	Type string
}

// Schema is the explicit column layout of an input record type. It is
// derived from the struct's exported fields and their json tags; pointer
// fields are nullable.
type Schema struct {
	Columns []Column
	fields  []int
}

var schemaCache sync.Map // reflect.Type -> *Schema

// SchemaOf returns the schema of record type T
func SchemaOf[T any]() (*Schema, error) {
	return schemaFor(reflect.TypeOf((*T)(nil)).Elem())
}

func schemaFor(t reflect.Type) (*Schema, error) {
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(*Schema), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("record type %s is not a struct", t)
	}

	s := &Schema{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}

		sqlType, err := sqlTypeOf(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", t.Name(), f.Name, err)
		}
		s.Columns = append(s.Columns, Column{Name: name, Type: sqlType})
		s.fields = append(s.fields, i)
	}
	if len(s.Columns) == 0 {
		return nil, fmt.Errorf("record type %s has no columns", t)
	}

	schemaCache.Store(t, s)
	return s, nil
}

func sqlTypeOf(t reflect.Type) (string, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return TypeText, nil
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return TypeInteger, nil
	case reflect.Float32, reflect.Float64:
		return TypeReal, nil
	default:
		return "", fmt.Errorf("unsupported column type %s", t)
	}
}

// CreateTableSQL renders the DDL of a scratch table with this schema
func (s *Schema) CreateTableSQL(table string) string {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = quoteIdent(c.Name) + " " + c.Type
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
}

// InsertSQL renders a parameterized insert into table
func (s *Schema) InsertSQL(table string) string {
	cols := make([]string, len(s.Columns))
	marks := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// Values extracts the column values of rec in schema order. Nil pointers
// become SQL NULL.
func (s *Schema) Values(rec any) []any {
	v := reflect.ValueOf(rec)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	out := make([]any, len(s.fields))
	for i, idx := range s.fields {
		f := v.Field(idx)
		if f.Kind() == reflect.Pointer {
			if f.IsNil() {
				out[i] = nil
				continue
			}
			f = f.Elem()
		}
		out[i] = f.Interface()
	}
	return out
}

// scanTargets returns pointers to the exported fields of dst, in order, for
// use with sql.Rows.Scan.
func scanTargets(dst reflect.Value) []any {
	t := dst.Type()
	targets := make([]any, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if !t.Field(i).IsExported() {
			continue
		}
		targets = append(targets, dst.Field(i).Addr().Interface())
	}
	return targets
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
