package resource

import (
	"errors"
	"fmt"
	"strings"

	"client-portal/internal/model"
)

func bound(v float64) *float64 { return &v }

var Comments = &Schema{
	Table:    "comments",
	Singular: "comment",
	Fields: []Field{
		{Name: "content", Column: "content", Kind: String, Required: true},
		{Name: "taskId", Column: "task_id", Kind: Ref, Required: true, RefTable: "tasks"},
	},
	Filters: []string{"taskId"},
}

var Tasks = &Schema{
	Table:    "tasks",
	Singular: "task",
	Fields: []Field{
		{Name: "title", Column: "title", Kind: String, Required: true},
		{Name: "description", Column: "description", Kind: String},
		{Name: "status", Column: "status", Kind: Enum, Values: []string{"To Do", "In Progress", "Review", "Done"}, Default: "To Do"},
		{Name: "priority", Column: "priority", Kind: Enum, Values: []string{"Low", "Medium", "High", "Urgent"}, Default: "Medium"},
		{Name: "dueDate", Column: "due_date", Kind: Date},
		{Name: "estimatedHours", Column: "estimated_hours", Kind: Number, Min: bound(0)},
		{Name: "assignee", Column: "assignee", Kind: String},
		{Name: "projectId", Column: "project_id", Kind: Ref, RefTable: "projects"},
	},
	Filters:    []string{"status", "priority", "projectId", "assignee"},
	Dependents: []Dependent{{Key: "comments", Schema: Comments, Column: "task_id"}},
}

var Meetings = &Schema{
	Table:    "meetings",
	Singular: "meeting",
	Fields: []Field{
		{Name: "title", Column: "title", Kind: String, Required: true},
		{Name: "description", Column: "description", Kind: String},
		{Name: "startTime", Column: "start_time", Kind: Timestamp},
		{Name: "endTime", Column: "end_time", Kind: Timestamp},
		{Name: "location", Column: "location", Kind: String},
		{Name: "meetingUrl", Column: "meeting_url", Kind: String},
		{Name: "status", Column: "status", Kind: Enum, Values: []string{"Scheduled", "Completed", "Cancelled"}, Default: "Scheduled"},
		{Name: "projectId", Column: "project_id", Kind: Ref, RefTable: "projects"},
	},
	Filters: []string{"status", "projectId"},
}

var Documents = &Schema{
	Table:    "documents",
	Singular: "document",
	Fields: []Field{
		{Name: "name", Column: "name", Kind: String, Required: true},
		{Name: "description", Column: "description", Kind: String},
		{Name: "fileUrl", Column: "file_url", Kind: String},
		{Name: "fileType", Column: "file_type", Kind: String},
		{Name: "fileSize", Column: "file_size", Kind: Number, Min: bound(0)},
		{Name: "category", Column: "category", Kind: String},
		{Name: "projectId", Column: "project_id", Kind: Ref, RefTable: "projects"},
	},
	Filters: []string{"projectId", "category", "fileType"},
}

var Projects = &Schema{
	Table:    "projects",
	Singular: "project",
	Fields: []Field{
		{Name: "name", Column: "name", Kind: String, Required: true},
		{Name: "description", Column: "description", Kind: String},
		{Name: "status", Column: "status", Kind: Enum, Values: []string{"Planning", "In Progress", "On Hold", "Completed", "Cancelled"}, Default: "Planning"},
		{Name: "startDate", Column: "start_date", Kind: Date},
		{Name: "endDate", Column: "end_date", Kind: Date},
		{Name: "progress", Column: "progress", Kind: Number, Min: bound(0), Max: bound(100), Default: float64(0)},
		{Name: "budget", Column: "budget", Kind: Number, Min: bound(0)},
	},
	Filters: []string{"status"},
	Dependents: []Dependent{
		{Key: "tasks", Schema: Tasks, Column: "project_id"},
		{Key: "meetings", Schema: Meetings, Column: "project_id"},
		{Key: "documents", Schema: Documents, Column: "project_id"},
	},
}

// All lists every schema in registration order.
func All() []*Schema {
	return []*Schema{Projects, Tasks, Meetings, Documents, Comments}
}

func Lookup(table string) (*Schema, bool) {
	for _, s := range All() {
		if s.Table == table {
			return s, true
		}
	}
	return nil, false
}

var ErrInvalidFilter = errors.New("invalid filter")

// RowFilter is a channel-level equality filter on one external field.
type RowFilter struct {
	Field string
	Value string
}

// ParseRowFilter parses a realtime filter of the form "column=eq.value".
// The column may be given by its storage or external name. An empty
// expression yields a nil filter.
func (s *Schema) ParseRowFilter(expr string) (*RowFilter, error) {
	if expr == "" {
		return nil, nil
	}
	column, rest, ok := strings.Cut(expr, "=")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, expr)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return nil, fmt.Errorf("%w: only eq is supported", ErrInvalidFilter)
	}

	for _, sf := range systemFields {
		if column == sf.column || column == sf.name {
			return &RowFilter{Field: sf.name, Value: value}, nil
		}
	}
	if f, ok := s.fieldByColumn(column); ok {
		return &RowFilter{Field: f.Name, Value: value}, nil
	}
	if f, ok := s.Field(column); ok {
		return &RowFilter{Field: f.Name, Value: value}, nil
	}
	return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidFilter, column)
}

// Matches reports whether row satisfies the filter. A nil filter matches
// everything.
func (f *RowFilter) Matches(row model.Row) bool {
	if f == nil {
		return true
	}
	v, ok := row[f.Field]
	if !ok || v == nil {
		return f.Value == "null"
	}
	return fmt.Sprint(v) == f.Value
}
