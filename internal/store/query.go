package store

import (
	"context"
	"fmt"
	"strings"
)

var readOnlyPrefixes = []string{"SELECT", "WITH", "EXPLAIN"}

// Query runs a read-only diagnostic statement against the judgment table and
// returns each row as a column->value map. The statement runs inside a
// transaction that is always rolled back.
func (s *SQLiteStore) Query(ctx context.Context, stmt string, args ...interface{}) ([]map[string]interface{}, error) {
	head := strings.ToUpper(strings.TrimSpace(stmt))
	allowed := false
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(head, p) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("only read-only statements are allowed (%s)", strings.Join(readOnlyPrefixes, ", "))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]interface{}{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
