package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows ---

// eventMockRows yields one scanFn call per row.
type eventMockRows struct {
	rows   []func(dest ...any) error
	idx    int
	closed bool
	errVal error
}

func (r *eventMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.rows)
}

func (r *eventMockRows) Scan(dest ...any) error {
	if r.idx >= 0 && r.idx < len(r.rows) {
		return r.rows[r.idx](dest...)
	}
	return errors.New("no current row")
}

func (r *eventMockRows) Close()                                       { r.closed = true }
func (r *eventMockRows) Err() error                                   { return r.errVal }
func (r *eventMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *eventMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *eventMockRows) RawValues() [][]byte                          { return nil }
func (r *eventMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *eventMockRows) Conn() *pgx.Conn                              { return nil }
