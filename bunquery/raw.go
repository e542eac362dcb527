// Package bunquery adapts raw bun queries to querycache.Builder.
//
// The statement is kept as written, with its ? placeholders, so its text and
// bindings are what the cache keys are derived from. Terminal operations wrap
// it as a subquery:
//
//	find      SELECT * FROM (<statement>) AS q WHERE q.<key column> = ? LIMIT 1
//	first     SELECT * FROM (<statement>) AS q LIMIT 1
//	count     SELECT count(*) FROM (<statement>) AS q
//	paginate  SELECT * FROM (<statement>) AS q LIMIT ? OFFSET ?
package bunquery

import (
	"context"
	"strings"

	"github.com/goliatone/go-query-cache/querycache"
	"github.com/uptrace/bun"
)

// DefaultKeyColumn is the column Find matches ids against.
const DefaultKeyColumn = "id"

// Raw is a bun raw query over rows of T.
type Raw[T any] struct {
	db        bun.IDB
	statement string
	args      []any
	keyColumn string
}

var _ querycache.Builder[struct{}] = (*Raw[struct{}])(nil)

// NewRaw returns a builder for statement with positional args. db may be a
// *bun.DB, bun.Tx or bun.Conn.
//
// Only bare positional ? placeholders are supported. Key derivation counts
// every ? in the statement, so bun's indexed (?0) and named (?name)
// placeholders fail cached operations with cache.ErrMismatchedParameterCount
// unless a key prefix is set.
func NewRaw[T any](db bun.IDB, statement string, args ...any) *Raw[T] {
	return &Raw[T]{
		db:        db,
		statement: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(statement), ";")),
		args:      append([]any(nil), args...),
		keyColumn: DefaultKeyColumn,
	}
}

// WithKeyColumn returns a copy of the builder whose Find matches column.
func (r *Raw[T]) WithKeyColumn(column string) *Raw[T] {
	clone := *r
	if column != "" {
		clone.keyColumn = column
	}
	return &clone
}

// Statement returns the statement with its placeholders.
func (r *Raw[T]) Statement() string { return r.statement }

// Bindings returns the positional arguments.
func (r *Raw[T]) Bindings() []any { return append([]any(nil), r.args...) }

// Get scans every row.
func (r *Raw[T]) Get(ctx context.Context) ([]T, error) {
	var rows []T
	if err := r.db.NewRaw(r.statement, r.args...).Scan(ctx, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}

// Find scans the row whose key column equals id. It returns sql.ErrNoRows
// when there is none.
func (r *Raw[T]) Find(ctx context.Context, id any) (T, error) {
	var row T
	err := r.db.NewRaw(r.wrap("SELECT * FROM", "WHERE q.? = ? LIMIT 1"), r.with(bun.Ident(r.keyColumn), id)...).
		Scan(ctx, &row)
	return row, err
}

// First scans the first row. It returns sql.ErrNoRows when there is none.
func (r *Raw[T]) First(ctx context.Context) (T, error) {
	var row T
	err := r.db.NewRaw(r.wrap("SELECT * FROM", "LIMIT 1"), r.args...).Scan(ctx, &row)
	return row, err
}

// Count returns the number of rows the statement yields.
func (r *Raw[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.NewRaw(r.wrap("SELECT count(*) FROM", ""), r.args...).Scan(ctx, &n)
	return n, err
}

// Paginate returns page of perPage rows together with the total count.
func (r *Raw[T]) Paginate(ctx context.Context, perPage, page int) (querycache.Page[T], error) {
	if perPage <= 0 {
		perPage = querycache.DefaultPerPage
	}
	if page < 1 {
		page = 1
	}

	total, err := r.Count(ctx)
	if err != nil {
		return querycache.Page[T]{}, err
	}

	rows := []T{}
	offset := (page - 1) * perPage
	if int64(offset) < total {
		err = r.db.NewRaw(r.wrap("SELECT * FROM", "LIMIT ? OFFSET ?"), r.with(perPage, offset)...).
			Scan(ctx, &rows)
		if err != nil {
			return querycache.Page[T]{}, err
		}
	}

	return querycache.NewPage(rows, total, perPage, page), nil
}

func (r *Raw[T]) wrap(head, tail string) string {
	var b strings.Builder
	b.Grow(len(head) + len(r.statement) + len(tail) + 16)
	b.WriteString(head)
	b.WriteString(" (")
	b.WriteString(r.statement)
	b.WriteString(") AS q")
	if tail != "" {
		b.WriteByte(' ')
		b.WriteString(tail)
	}
	return b.String()
}

func (r *Raw[T]) with(extra ...any) []any {
	args := make([]any, 0, len(r.args)+len(extra))
	args = append(args, r.args...)
	return append(args, extra...)
}
