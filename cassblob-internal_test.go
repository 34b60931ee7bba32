package cassblob

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/anacrolix/log"
	qt "github.com/frankban/quicktest"
)

// Hands out futures the test completes by hand.
type manualConn struct {
	futures []*Future
}

func (me *manualConn) Submit(ctx context.Context, cons Consistency, stmts ...Statement) *Future {
	f := NewFuture()
	me.futures = append(me.futures, f)
	return f
}

func (me *manualConn) last() *Future {
	return me.futures[len(me.futures)-1]
}

func TestQueryReadiness(t *testing.T) {
	c := qt.New(t)
	conn := &manualConn{}
	q := NewQuery(conn, time.Minute)
	c.Check(q.Poll(), qt.Equals, FailedFatal)
	c.Check(q.Err(), qt.ErrorIs, errQueryNotExecuted)
	q.Set(Stmt("SELECT 1"))
	q.Execute(LocalQuorum, true)
	c.Check(q.Active(), qt.IsTrue)
	c.Check(q.Poll(), qt.Equals, NotReady)
	conn.last().Complete(Result{Rows: []Row{ValuesRow{int64(1)}}}, nil)
	c.Check(q.Poll(), qt.Equals, ReadyWithData)
	c.Check(q.Rows()[0].Int64(0), qt.Equals, int64(1))
	// Readiness is stable once complete.
	c.Check(q.Poll(), qt.Equals, ReadyWithData)
	q.Close()
	c.Check(q.Active(), qt.IsFalse)
	q.Set(Stmt("UPDATE x"))
	q.Execute(LocalQuorum, true)
	conn.last().Complete(Result{}, nil)
	c.Check(q.Poll(), qt.Equals, ReadyNoData)
}

func TestQueryFailures(t *testing.T) {
	c := qt.New(t)
	conn := &manualConn{}
	q := NewQuery(conn, time.Minute)
	q.Set(Stmt("SELECT 1"))
	q.Execute(One, true)
	conn.last().Complete(Result{}, Retryable(errors.New("overloaded")))
	c.Check(q.Poll(), qt.Equals, FailedRetryable)
	q.Restart()
	c.Check(conn.futures, qt.HasLen, 2)
	c.Check(q.Poll(), qt.Equals, NotReady)
	conn.last().Complete(Result{}, errors.New("syntax error"))
	c.Check(q.Poll(), qt.Equals, FailedFatal)
	c.Check(q.Err(), qt.ErrorMatches, "syntax error")
}

func TestQueryTimeout(t *testing.T) {
	c := qt.New(t)
	conn := &manualConn{}
	q := NewQuery(conn, time.Millisecond)
	q.Set(Stmt("SELECT 1"))
	q.Execute(One, true)
	time.Sleep(5 * time.Millisecond)
	c.Check(q.Poll(), qt.Equals, FailedRetryable)
	c.Check(q.Err(), qt.ErrorIs, ErrQueryTimeout)
	// A late response is ignored.
	conn.last().Complete(Result{}, nil)
	c.Check(q.Poll(), qt.Equals, FailedRetryable)
}

func TestQuerySyncExecute(t *testing.T) {
	c := qt.New(t)
	conn := &manualConn{}
	q := NewQuery(conn, 10*time.Millisecond)
	q.Set(Stmt("SELECT 1"))
	// Nothing completes the future, so the wait ends with the timeout.
	started := time.Now()
	q.Execute(One, false)
	c.Check(time.Since(started) >= 10*time.Millisecond, qt.IsTrue)
	c.Check(q.Poll(), qt.Equals, FailedRetryable)
}

func TestQueryMisuse(t *testing.T) {
	c := qt.New(t)
	q := NewQuery(&manualConn{}, time.Minute)
	c.Check(func() { q.Execute(One, true) }, qt.PanicMatches, "executing query with no statements")
	c.Check(func() { q.Restart() }, qt.PanicMatches, "restarting idle query")
	q.Set(Stmt("SELECT 1"))
	q.Execute(One, true)
	c.Check(func() { q.Set(Stmt("SELECT 2")) }, qt.PanicMatches, "setting statements on active query")
}

func TestUnexpectedState(t *testing.T) {
	c := qt.New(t)
	var calls []log.Level
	var messages []string
	task, err := NewInsertTask(TaskOpts{
		Conn:     &manualConn{},
		Keyspace: "blobs",
		OnError: func(status int, code ErrorCode, severity log.Level, message string) {
			c.Check(status, qt.Equals, http.StatusBadGateway)
			c.Check(code, qt.Equals, ErrorCodeQueryFailed)
			calls = append(calls, severity)
			messages = append(messages, message)
		},
	}, 7, SplitBlob([]byte("x"), 1, 0, 0), IsNewUnknown)
	c.Assert(err, qt.IsNil)
	task.state = TaskState(99)
	task.DriveStep()
	task.DriveStep()
	c.Check(task.State(), qt.Equals, StateError)
	c.Assert(calls, qt.HasLen, 1)
	c.Check(calls[0], qt.Equals, log.Critical)
	c.Check(messages, qt.DeepEquals, []string{"failed to insert blob (key=blobs.7): unexpected state (99)"})
	c.Check(task.Err(), qt.ErrorIs, ErrQueryFailed)
}

func TestCheckReadyMissingSlot(t *testing.T) {
	c := qt.New(t)
	task, err := NewDeleteTask(TaskOpts{Conn: &manualConn{}, Keyspace: "blobs"}, 1)
	c.Assert(err, qt.IsNil)
	c.Check(task.checkReady(3), qt.Equals, FailedFatal)
	c.Check(task.State(), qt.Equals, StateError)
	c.Check(task.err.Severity, qt.Equals, log.Critical)
}

func TestCloseAllCancels(t *testing.T) {
	c := qt.New(t)
	var ctxs []context.Context
	conn := connFunc(func(ctx context.Context, cons Consistency, stmts ...Statement) *Future {
		ctxs = append(ctxs, ctx)
		return NewFuture()
	})
	task, err := NewInsertTask(TaskOpts{Conn: conn, Keyspace: "blobs", LargeThreshold: 1},
		1, SplitBlob([]byte("abc"), 1, 0, 0), IsNewTrue)
	c.Assert(err, qt.IsNil)
	task.DriveStep()
	c.Check(task.State(), qt.Equals, StateWaitingInserted)
	c.Assert(ctxs, qt.HasLen, 4)
	task.CloseAll()
	for _, ctx := range ctxs {
		c.Check(ctx.Err(), qt.ErrorIs, context.Canceled)
	}
}

type connFunc func(ctx context.Context, cons Consistency, stmts ...Statement) *Future

func (f connFunc) Submit(ctx context.Context, cons Consistency, stmts ...Statement) *Future {
	return f(ctx, cons, stmts...)
}

func TestValuesRow(t *testing.T) {
	c := qt.New(t)
	r := ValuesRow{int32(3), int64(1 << 40), []byte("hi"), nil, "str"}
	c.Check(r.Int32(0), qt.Equals, int32(3))
	c.Check(r.Int64(0), qt.Equals, int64(3))
	c.Check(r.Int64(1), qt.Equals, int64(1<<40))
	c.Check(r.Bytes(2), qt.DeepEquals, []byte("hi"))
	c.Check(r.Bytes(3), qt.HasLen, 0)
	c.Check(r.Int64(3), qt.Equals, int64(0))
	c.Check(r.Bytes(4), qt.DeepEquals, []byte("str"))
	c.Check(func() { r.Int64(2) }, qt.PanicMatches, `column 2 has type \[\]uint8, expected integer`)
}

func TestInlineData(t *testing.T) {
	c := qt.New(t)
	c.Check(SplitBlob([]byte("hello"), 2, 0, 0).inlineData(), qt.DeepEquals, []byte("hello"))
	empty := SplitBlob(nil, 2, 0, 0).inlineData()
	c.Check(empty, qt.IsNotNil)
	c.Check(empty, qt.HasLen, 0)
}

func TestFuture(t *testing.T) {
	c := qt.New(t)
	f := NewFuture()
	c.Check(func() { f.Result() }, qt.PanicMatches, "result of incomplete future")
	f.Complete(Result{}, errors.New("first"))
	f.Complete(Result{}, nil)
	_, err := f.Result()
	c.Check(err, qt.ErrorMatches, "first")
}

func TestIsRetryable(t *testing.T) {
	c := qt.New(t)
	c.Check(IsRetryable(Retryable(errors.New("x"))), qt.IsTrue)
	c.Check(IsRetryable(ErrQueryTimeout), qt.IsTrue)
	c.Check(IsRetryable(context.DeadlineExceeded), qt.IsTrue)
	c.Check(IsRetryable(errors.New("x")), qt.IsFalse)
	c.Check(IsRetryable(context.Canceled), qt.IsFalse)
	c.Check(Retryable(nil), qt.IsNil)
}
