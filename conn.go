package cassblob

import (
	"context"
	"fmt"
	"sync"
)

type Consistency int

const (
	Any Consistency = iota
	One
	Two
	Three
	Quorum
	All
	LocalQuorum
	EachQuorum
	LocalOne
)

func (me Consistency) String() string {
	switch me {
	case Any:
		return "ANY"
	case One:
		return "ONE"
	case Two:
		return "TWO"
	case Three:
		return "THREE"
	case Quorum:
		return "QUORUM"
	case All:
		return "ALL"
	case LocalQuorum:
		return "LOCAL_QUORUM"
	case EachQuorum:
		return "EACH_QUORUM"
	case LocalOne:
		return "LOCAL_ONE"
	}
	return fmt.Sprintf("Consistency(%d)", int(me))
}

// A single CQL statement with positional binds.
type Statement struct {
	Cql  string
	Args []any
}

func Stmt(cql string, args ...any) Statement {
	return Statement{
		Cql:  cql,
		Args: args,
	}
}

// Conn is the shared handle to a cluster. It's used by many tasks at once, so implementations must
// be safe for concurrent submission.
type Conn interface {
	// Starts executing the statements and returns without waiting on I/O. More than one statement
	// is submitted as a single batch. Cancelling ctx abandons the submission.
	Submit(ctx context.Context, cons Consistency, stmts ...Statement) *Future
}

type Row interface {
	Int32(col int) int32
	Int64(col int) int64
	Bytes(col int) []byte
}

type Result struct {
	Rows []Row
}

// Future is completed exactly once by a Conn implementation.
type Future struct {
	done chan struct{}
	once sync.Once
	res  Result
	err  error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Returns an already completed Future.
func CompletedFuture(res Result, err error) *Future {
	f := NewFuture()
	f.Complete(res, err)
	return f
}

// Completes the Future. Only the first call has any effect.
func (f *Future) Complete(res Result, err error) {
	f.once.Do(func() {
		f.res = res
		f.err = err
		close(f.done)
	})
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Must only be called after Done is closed.
func (f *Future) Result() (Result, error) {
	select {
	case <-f.done:
	default:
		panic("result of incomplete future")
	}
	return f.res, f.err
}

// A Row over already decoded Go values, as most drivers produce them.
type ValuesRow []any

func (r ValuesRow) Int64(col int) int64 {
	switch v := r[col].(type) {
	case nil:
		return 0
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	default:
		panic(fmt.Sprintf("column %v has type %T, expected integer", col, v))
	}
}

func (r ValuesRow) Int32(col int) int32 {
	return int32(r.Int64(col))
}

func (r ValuesRow) Bytes(col int) []byte {
	switch v := r[col].(type) {
	case nil:
		return nil
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		panic(fmt.Sprintf("column %v has type %T, expected bytes", col, v))
	}
}
