package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"client-portal/internal/model"
	"client-portal/internal/resource"
	"github.com/google/uuid"
)

// List returns the owner's rows matching every condition, newest first.
func (s *Store) List(ctx context.Context, schema *resource.Schema, owner string, conds []resource.Condition) ([]model.Row, error) {
	cols := schema.Columns()
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE %s = ?", strings.Join(cols, ", "), schema.Table, resource.ColOwner)
	args := []any{owner}
	for _, c := range conds {
		fmt.Fprintf(&b, " AND %s = ?", c.Column)
		args = append(args, c.Value)
	}
	b.WriteString(" ORDER BY created_at DESC, rowid DESC")

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", schema.Table, err)
	}
	result, err := scanRows(rows, schema, cols)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", schema.Table, err)
	}
	return result, nil
}

// Get returns one of the owner's rows by id.
func (s *Store) Get(ctx context.Context, schema *resource.Schema, owner, id string) (model.Row, error) {
	cols := schema.Columns()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? AND %s = ?", strings.Join(cols, ", "), schema.Table, resource.ColOwner)

	rows, err := s.db.QueryContext(ctx, query, id, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", schema.Singular, err)
	}
	return firstRow(rows, schema, cols)
}

// Exists reports whether table holds a row with id owned by owner.
func (s *Store) Exists(ctx context.Context, table, owner, id string) (bool, error) {
	if _, ok := resource.Lookup(table); !ok {
		return false, fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE id = ? AND %s = ?", table, resource.ColOwner)
	var one int
	err := s.db.QueryRowContext(ctx, query, id, owner).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", table, err)
	}
	return true, nil
}

// Create inserts a row for owner. The id and both timestamps are assigned here.
func (s *Store) Create(ctx context.Context, schema *resource.Schema, owner string, values resource.Values) (model.Row, error) {
	now := formatTime(s.clock.next())
	insertCols := []string{resource.ColID, resource.ColOwner, resource.ColCreatedAt, resource.ColUpdatedAt}
	args := []any{uuid.NewString(), owner, now, now}
	for _, f := range schema.Fields {
		v, ok := values[f.Column]
		if !ok {
			continue
		}
		insertCols = append(insertCols, f.Column)
		args = append(args, v)
	}

	cols := schema.Columns()
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		schema.Table,
		strings.Join(insertCols, ", "),
		placeholders(len(insertCols)),
		strings.Join(cols, ", "),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", schema.Singular, err)
	}
	row, err := firstRow(rows, schema, cols)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", schema.Singular, err)
	}

	s.publish(model.ChangeEvent{
		Type:            model.EventInsert,
		Table:           schema.Table,
		New:             row,
		CommitTimestamp: now,
		Owner:           owner,
	})
	return row, nil
}

// Update overwrites the supplied columns and refreshes updated_at. There is
// no version check: the last write wins.
func (s *Store) Update(ctx context.Context, schema *resource.Schema, owner, id string, values resource.Values) (model.Row, error) {
	now := formatTime(s.clock.next())
	sets := []string{resource.ColUpdatedAt + " = ?"}
	args := []any{now}
	for _, f := range schema.Fields {
		v, ok := values[f.Column]
		if !ok {
			continue
		}
		sets = append(sets, f.Column+" = ?")
		args = append(args, v)
	}
	args = append(args, id, owner)

	cols := schema.Columns()
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND %s = ? RETURNING %s",
		schema.Table,
		strings.Join(sets, ", "),
		resource.ColOwner,
		strings.Join(cols, ", "),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", schema.Singular, err)
	}
	row, err := firstRow(rows, schema, cols)
	if err != nil {
		return nil, err
	}

	s.publish(model.ChangeEvent{
		Type:            model.EventUpdate,
		Table:           schema.Table,
		New:             row,
		Old:             model.Row{"id": id},
		CommitTimestamp: now,
		Owner:           owner,
	})
	return row, nil
}

// Delete hard-deletes a row and reports whether one was removed.
func (s *Store) Delete(ctx context.Context, schema *resource.Schema, owner, id string) (bool, error) {
	cols := schema.Columns()
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND %s = ? RETURNING %s",
		schema.Table,
		resource.ColOwner,
		strings.Join(cols, ", "),
	)
	rows, err := s.db.QueryContext(ctx, query, id, owner)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", schema.Singular, err)
	}
	old, err := firstRow(rows, schema, cols)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", schema.Singular, err)
	}

	s.publish(model.ChangeEvent{
		Type:            model.EventDelete,
		Table:           schema.Table,
		Old:             old,
		CommitTimestamp: formatTime(s.clock.next()),
		Owner:           owner,
	})
	return true, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanRows(rows *sql.Rows, schema *resource.Schema, cols []string) ([]model.Row, error) {
	defer rows.Close()

	result := make([]model.Row, 0)
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			record[col] = dest[i]
		}
		result = append(result, schema.ToRow(record))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func firstRow(rows *sql.Rows, schema *resource.Schema, cols []string) (model.Row, error) {
	result, err := scanRows(rows, schema, cols)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result[0], nil
}
