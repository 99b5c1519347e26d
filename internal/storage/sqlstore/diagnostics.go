package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/kurihiro0119/runghost/internal/errors"
	"github.com/kurihiro0119/runghost/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// ListTables returns every user table with its row count and columns
func (s *Store) ListTables(ctx context.Context) ([]storage.TableInfo, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	tables := make([]storage.TableInfo, 0, len(names))
	for _, name := range names {
		if !storage.ValidIdentifier(name) {
			continue
		}
		columns, err := s.columns(ctx, name)
		if err != nil {
			return nil, err
		}
		count, err := s.count(ctx, "SELECT COUNT(*) FROM "+name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, storage.TableInfo{Name: name, Count: count, Columns: columns})
	}
	return tables, nil
}

func (s *Store) tableNames(ctx context.Context) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	if s.driver == driverPostgres {
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name`
	}

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.NewStoreError("failed to list tables", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// columns describes a table; name must already be a valid identifier
func (s *Store) columns(ctx context.Context, name string) ([]storage.ColumnInfo, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if s.driver == driverPostgres {
		rows, err = db.QueryContext(ctx, `
			SELECT c.column_name, c.data_type, c.is_nullable = 'NO',
				EXISTS (
					SELECT 1 FROM information_schema.table_constraints tc
					JOIN information_schema.key_column_usage k
						ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
					WHERE tc.constraint_type = 'PRIMARY KEY'
						AND tc.table_name = c.table_name AND k.column_name = c.column_name
				)
			FROM information_schema.columns c
			WHERE c.table_schema = current_schema() AND c.table_name = $1
			ORDER BY c.ordinal_position`, name)
	} else {
		rows, err = db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", name))
	}
	if err != nil {
		return nil, apperrors.NewStoreError("failed to describe table", err)
	}
	defer rows.Close()

	columns := make([]storage.ColumnInfo, 0)
	for rows.Next() {
		var col storage.ColumnInfo
		if s.driver == driverPostgres {
			err = rows.Scan(&col.Name, &col.Type, &col.NotNull, &col.PK)
		} else {
			var (
				cid, notNull, pk int
				dflt             sql.NullString
			)
			err = rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk)
			col.NotNull = notNull != 0
			col.PK = pk != 0
		}
		if err != nil {
			return nil, apperrors.NewStoreError("failed to describe table", err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// ReadTable returns one page of raw records from a catalog table
func (s *Store) ReadTable(ctx context.Context, name string, page, pageSize int) (*storage.TablePage, error) {
	if err := storage.ValidateTableName(name); err != nil {
		return nil, err
	}
	if page == 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if page < 1 || pageSize < 1 || pageSize > maxPageSize {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Invalid page %d or limit %d", page, pageSize))
	}

	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("Table %s", name))
	}

	columns, err := s.columns(ctx, name)
	if err != nil {
		return nil, err
	}
	total, err := s.count(ctx, "SELECT COUNT(*) FROM "+name)
	if err != nil {
		return nil, err
	}

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, s.bind("SELECT * FROM "+name+" ORDER BY 1 LIMIT ? OFFSET ?"),
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to read table", err)
	}
	defer rows.Close()

	_, records, err := rowsToMaps(rows)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to read table", err)
	}

	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &storage.TablePage{
		Table:   name,
		Columns: columns,
		Records: records,
		Pagination: storage.Pagination{
			Page:    page,
			Limit:   pageSize,
			Total:   total,
			Pages:   pages,
			HasNext: page < pages,
			HasPrev: page > 1,
		},
	}, nil
}

// ExecuteQuery runs a single read-only SELECT
func (s *Store) ExecuteQuery(ctx context.Context, query string) (*storage.QueryResult, error) {
	return s.ExecuteQueryWithParams(ctx, query, nil)
}

// ExecuteQueryWithParams runs a single read-only SELECT with bound arguments
func (s *Store) ExecuteQueryWithParams(ctx context.Context, query string, args []any) (*storage.QueryResult, error) {
	if err := storage.ValidateSelect(query); err != nil {
		return nil, err
	}

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("Query failed: %v", err))
	}
	defer rows.Close()

	columns, records, err := rowsToMaps(rows)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to read query result", err)
	}
	return &storage.QueryResult{
		Columns:       columns,
		Rows:          records,
		RowCount:      len(records),
		ExecutionTime: time.Since(start).Milliseconds(),
	}, nil
}

// rowsToMaps materializes rows as column-keyed maps; byte slices become strings
func rowsToMaps(rows *sql.Rows) ([]string, []map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	records := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		record := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		records = append(records, record)
	}
	return columns, records, rows.Err()
}
