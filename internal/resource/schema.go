// Package resource describes the portal's CRUD entities and translates
// between their external (camelCase JSON) and internal (snake_case column)
// representations.
package resource

import (
	"net/url"
	"sort"

	"client-portal/internal/model"
)

type Kind int

const (
	String Kind = iota
	Enum
	Date
	Timestamp
	Number
	Ref
)

// Field is one user-writable attribute of a resource.
type Field struct {
	Name     string
	Column   string
	Kind     Kind
	Required bool
	Values   []string
	Default  any
	RefTable string
	Min, Max *float64
}

// Dependent is a child collection loaded alongside a primary row.
type Dependent struct {
	Key    string
	Schema *Schema
	Column string
}

type Schema struct {
	Table      string
	Singular   string
	Fields     []Field
	Filters    []string
	Dependents []Dependent
}

// System columns, maintained by the store and never accepted from clients.
const (
	ColID        = "id"
	ColOwner     = "user_id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
)

var systemFields = []struct{ name, column string }{
	{"id", ColID},
	{"userId", ColOwner},
	{"createdAt", ColCreatedAt},
	{"updatedAt", ColUpdatedAt},
}

// Plural is the JSON key used for collections, which matches the table name.
func (s *Schema) Plural() string { return s.Table }

func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s *Schema) fieldByColumn(column string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Column == column {
			return f, true
		}
	}
	return Field{}, false
}

// Columns lists every column of the table, system columns first.
func (s *Schema) Columns() []string {
	cols := make([]string, 0, len(systemFields)+len(s.Fields))
	for _, sf := range systemFields {
		cols = append(cols, sf.column)
	}
	for _, f := range s.Fields {
		cols = append(cols, f.Column)
	}
	return cols
}

// Refs returns the reference fields whose value is set in values.
func (s *Schema) Refs(values Values) []Field {
	var refs []Field
	for _, f := range s.Fields {
		if f.Kind != Ref {
			continue
		}
		if v, ok := values[f.Column]; ok && v != nil {
			refs = append(refs, f)
		}
	}
	return refs
}

// Condition is an equality predicate on one column.
type Condition struct {
	Column string
	Value  any
}

// ParseFilters turns list query parameters into equality conditions. Only
// fields in the schema's filter list are honoured; the rest are ignored.
// Conditions come back sorted by column so generated SQL is stable.
func (s *Schema) ParseFilters(query url.Values) []Condition {
	var conds []Condition
	for _, name := range s.Filters {
		raw, ok := query[name]
		if !ok || len(raw) == 0 {
			continue
		}
		f, ok := s.Field(name)
		if !ok {
			continue
		}
		conds = append(conds, Condition{Column: f.Column, Value: raw[0]})
	}
	sort.Slice(conds, func(i, j int) bool { return conds[i].Column < conds[j].Column })
	return conds
}

// ToRow converts a column-keyed record read from storage to its external
// shape. Unknown columns are dropped.
func (s *Schema) ToRow(columns map[string]any) model.Row {
	row := make(model.Row, len(columns))
	for _, sf := range systemFields {
		if v, ok := columns[sf.column]; ok {
			row[sf.name] = normalizeText(v)
		}
	}
	for _, f := range s.Fields {
		v, ok := columns[f.Column]
		if !ok {
			continue
		}
		row[f.Name] = f.fromStorage(v)
	}
	return row
}

func (f Field) fromStorage(v any) any {
	v = normalizeText(v)
	if f.Kind == Number {
		switch n := v.(type) {
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
	}
	return v
}

func normalizeText(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
