package cassblob

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Readiness int

const (
	NotReady Readiness = iota
	ReadyWithData
	ReadyNoData
	// The statement failed transiently or timed out. It may be reissued.
	FailedRetryable
	FailedFatal
)

func (me Readiness) String() string {
	switch me {
	case NotReady:
		return "not ready"
	case ReadyWithData:
		return "ready with data"
	case ReadyNoData:
		return "ready no data"
	case FailedRetryable:
		return "failed retryable"
	case FailedFatal:
		return "failed fatal"
	}
	return fmt.Sprintf("Readiness(%d)", int(me))
}

func (me Readiness) Ready() bool {
	return me == ReadyWithData || me == ReadyNoData
}

type queryState int

const (
	queryIdle queryState = iota
	queryActive
	queryDone
	queryFailed
)

var errQueryNotExecuted = errors.New("query not executed")

// Query is a handle to one statement, or a batch of them, and its outcome. It's reusable: Close
// returns it to idle.
type Query struct {
	conn    Conn
	timeout time.Duration
	stmts   []Statement
	cons    Consistency
	async   bool

	state   queryState
	future  *Future
	cancel  context.CancelFunc
	started time.Time
	result  Result
	err     error
}

// A timeout <= 0 means statements are never timed out by the handle.
func NewQuery(conn Conn, timeout time.Duration) *Query {
	return &Query{
		conn:    conn,
		timeout: timeout,
	}
}

// Sets the statements for the next Execute. More than one statement is executed as a batch.
func (q *Query) Set(stmts ...Statement) {
	if q.state == queryActive {
		panic("setting statements on active query")
	}
	q.stmts = append(q.stmts[:0], stmts...)
	q.state = queryIdle
	q.result = Result{}
	q.err = nil
}

// Submits the statements. In synchronous mode this waits for completion, or the timeout, before
// returning.
func (q *Query) Execute(cons Consistency, async bool) {
	if len(q.stmts) == 0 {
		panic("executing query with no statements")
	}
	q.cons = cons
	q.async = async
	q.submit()
}

// Reissues the last executed statements.
func (q *Query) Restart() {
	if q.state == queryIdle {
		panic("restarting idle query")
	}
	q.abort()
	q.submit()
}

func (q *Query) submit() {
	var ctx context.Context
	ctx, q.cancel = context.WithCancel(context.Background())
	q.result = Result{}
	q.err = nil
	q.started = time.Now()
	q.state = queryActive
	q.future = q.conn.Submit(ctx, q.cons, q.stmts...)
	if !q.async {
		q.wait()
	}
}

func (q *Query) wait() {
	if q.timeout <= 0 {
		<-q.future.Done()
		q.collect()
		return
	}
	t := time.NewTimer(q.timeout - time.Since(q.started))
	defer t.Stop()
	select {
	case <-q.future.Done():
		q.collect()
	case <-t.C:
		q.expire()
	}
}

// Checks for completion without blocking.
func (q *Query) Poll() Readiness {
	switch q.state {
	case queryIdle:
		q.err = errQueryNotExecuted
		return FailedFatal
	case queryActive:
		select {
		case <-q.future.Done():
			q.collect()
		default:
			if q.timeout <= 0 || time.Since(q.started) < q.timeout {
				return NotReady
			}
			q.expire()
		}
	}
	return q.readiness()
}

func (q *Query) readiness() Readiness {
	switch q.state {
	case queryDone:
		if len(q.result.Rows) != 0 {
			return ReadyWithData
		}
		return ReadyNoData
	case queryFailed:
		if IsRetryable(q.err) {
			return FailedRetryable
		}
		return FailedFatal
	}
	panic(q.state)
}

func (q *Query) collect() {
	q.result, q.err = q.future.Result()
	q.cancel()
	if q.err != nil {
		q.state = queryFailed
	} else {
		q.state = queryDone
	}
}

func (q *Query) expire() {
	q.cancel()
	q.err = fmt.Errorf("no response after %v: %w", q.timeout, ErrQueryTimeout)
	q.state = queryFailed
}

func (q *Query) abort() {
	if q.state == queryActive {
		q.cancel()
	}
}

// Abandons any outstanding execution and returns the handle to idle.
func (q *Query) Close() {
	q.abort()
	q.stmts = q.stmts[:0]
	q.state = queryIdle
	q.future = nil
	q.cancel = nil
	q.result = Result{}
	q.err = nil
}

// Whether the handle has been executed since it was last closed.
func (q *Query) Active() bool {
	return q.state != queryIdle
}

func (q *Query) Rows() []Row {
	return q.result.Rows
}

func (q *Query) Err() error {
	return q.err
}
