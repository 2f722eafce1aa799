// Package sqltest provides scripted pgx rows and executors for repository tests.
package sqltest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"brandgen/internal/infra"
)

type SimpleRow struct {
	scan func(dest ...any) error
}

func NewSimpleRow(scanner func(dest ...any) error) SimpleRow {
	return SimpleRow{scan: scanner}
}

// ValuesRow scans the given values in order.
func ValuesRow(values ...any) SimpleRow {
	return NewSimpleRow(func(dest ...any) error { return Assign(dest, values...) })
}

// ErrRow fails every scan with err.
func ErrRow(err error) SimpleRow {
	return NewSimpleRow(func(dest ...any) error { return err })
}

func (r SimpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type TestRowsBase struct{}

func (TestRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (TestRowsBase) Conn() *pgx.Conn { return nil }

func (TestRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (TestRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (TestRowsBase) RawValues() [][]byte { return nil }

// Rows iterates over fixed value tuples.
type Rows struct {
	TestRowsBase
	data [][]any
	idx  int
}

func NewRows(data ...[]any) *Rows {
	return &Rows{data: data, idx: -1}
}

func (r *Rows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *Rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return fmt.Errorf("scan out of range")
	}
	return Assign(dest, r.data[r.idx]...)
}

func (r *Rows) Err() error { return nil }

func (r *Rows) Close() {}

// Assign copies values into scan destinations. A nil value zeroes the target.
func Assign(dest []any, values ...any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if values[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().AssignableTo(elem.Type()) {
			return fmt.Errorf("scan: value %d of type %s not assignable to %s", i, v.Type(), elem.Type())
		}
		elem.Set(v)
	}
	return nil
}

// Call records one statement sent to the Executor.
type Call struct {
	Query string
	Args  []any
}

// Executor is a scripted infra.TxRunner. Unset hooks return no rows and an
// empty command tag.
type Executor struct {
	mu         sync.Mutex
	Calls      []Call
	Txs        int
	OnExec     func(query string, args []any) (pgconn.CommandTag, error)
	OnQueryRow func(query string, args []any) pgx.Row
	OnQuery    func(query string, args []any) (pgx.Rows, error)
}

func (e *Executor) record(query string, args []any) {
	e.mu.Lock()
	e.Calls = append(e.Calls, Call{Query: query, Args: args})
	e.mu.Unlock()
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	e.record(query, args)
	if e.OnExec == nil {
		return pgconn.CommandTag{}, nil
	}
	return e.OnExec(query, args)
}

func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	e.record(query, args)
	if e.OnQueryRow == nil {
		return SimpleRow{}
	}
	return e.OnQueryRow(query, args)
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	e.record(query, args)
	if e.OnQuery == nil {
		return NewRows(), nil
	}
	return e.OnQuery(query, args)
}

func (e *Executor) InTx(ctx context.Context, fn func(tx infra.SQLExecutor) error) error {
	e.mu.Lock()
	e.Txs++
	e.mu.Unlock()
	return fn(e)
}

// Count returns how many recorded statements equal query.
func (e *Executor) Count(query string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.Calls {
		if c.Query == query {
			n++
		}
	}
	return n
}

// Tag builds a command tag reporting n affected rows.
func Tag(n int) pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", n))
}

var _ infra.TxRunner = (*Executor)(nil)
