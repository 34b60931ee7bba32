// Package sqliteconn implements cassblob.Conn on a single SQLite connection. Keyspaces are attached
// databases, and batches run in a transaction. It's for development, tools, and tests: there's no
// replication, and consistency levels are ignored.
package sqliteconn

import (
	"context"
	"errors"
	"strings"

	"github.com/anacrolix/log"
	"github.com/anacrolix/sync"
	sqlite "github.com/go-llsqlite/adapter"
	"github.com/go-llsqlite/adapter/sqlitex"

	"github.com/anacrolix/cassblob"
)

var ErrClosed = errors.New("conn closed")

type Conn struct {
	l      sync.Mutex
	conn   conn
	opts   NewConnOpts
	closed bool
	logger log.Logger
}

var _ cassblob.Conn = (*Conn)(nil)

func NewConn(opts NewConnOpts) (_ *Conn, err error) {
	conn, err := newConn(opts)
	if err != nil {
		return
	}
	err = initDatabase(conn, opts)
	if err != nil {
		conn.Close()
		return
	}
	err = initConn(conn, opts.InitConnOpts, opts.PageSize, opts.Keyspaces)
	if err != nil {
		conn.Close()
		return
	}
	return &Conn{
		conn:   conn,
		opts:   opts,
		logger: log.Default.WithNames("cassblob", "sqliteconn"),
	}, nil
}

func (c *Conn) getConnErr() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Conn) Close() (err error) {
	c.l.Lock()
	defer c.l.Unlock()
	if !c.closed {
		c.closed = true
		err = c.conn.Close()
		c.conn = nil
	}
	return
}

// Executes each submission on its own goroutine. They're serialized on the connection.
func (c *Conn) Submit(ctx context.Context, cons cassblob.Consistency, stmts ...cassblob.Statement) *cassblob.Future {
	f := cassblob.NewFuture()
	go func() {
		f.Complete(c.Exec(ctx, stmts...))
	}()
	return f
}

// Executes synchronously. More than one statement runs in a single transaction.
func (c *Conn) Exec(ctx context.Context, stmts ...cassblob.Statement) (res cassblob.Result, err error) {
	c.l.Lock()
	defer c.l.Unlock()
	err = ctx.Err()
	if err != nil {
		return
	}
	err = c.getConnErr()
	if err != nil {
		return
	}
	if len(stmts) == 1 {
		return c.execStmt(stmts[0])
	}
	err = c.runTx(func() error {
		for _, s := range stmts {
			_, err := c.execStmt(s)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return
}

func (c *Conn) runTx(f func() error) (err error) {
	err = sqlitex.Exec(c.conn, "begin immediate", nil)
	if err != nil {
		return classify(err)
	}
	err = f()
	if err == nil {
		err = classify(sqlitex.Exec(c.conn, "commit", nil))
	}
	if err != nil {
		err = errors.Join(err, sqlitex.Exec(c.conn, "rollback", nil))
	}
	return
}

func (c *Conn) execStmt(s cassblob.Statement) (res cassblob.Result, err error) {
	query := translateCql(s.Cql)
	c.logger.Levelf(log.Debug, "executing %q with %v args", query, len(s.Args))
	err = sqlitex.Exec(c.conn, query, func(stmt *sqlite.Stmt) error {
		res.Rows = append(res.Rows, readRow(stmt))
		return nil
	}, s.Args...)
	err = classify(err)
	return
}

// CQL writes are upserts.
func translateCql(cql string) string {
	const insert = "INSERT INTO "
	if strings.HasPrefix(cql, insert) {
		return "INSERT OR REPLACE INTO " + cql[len(insert):]
	}
	return cql
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if sqlite.IsResultCode(err, sqlite.ResultCodeBusy) {
		return cassblob.Retryable(err)
	}
	return err
}

type value struct {
	i     int64
	bytes []byte
}

type row []value

// Columns are copied out as both integer and bytes, since the statement is reset before the row is
// consumed and the callers know which they want.
func readRow(stmt *sqlite.Stmt) row {
	ret := make(row, stmt.ColumnCount())
	for i := range ret {
		if n := stmt.ColumnLen(i); n != 0 {
			ret[i].bytes = make([]byte, n)
			stmt.ColumnBytes(i, ret[i].bytes)
		}
		ret[i].i = stmt.ColumnInt64(i)
	}
	return ret
}

func (r row) Int64(col int) int64 {
	return r[col].i
}

func (r row) Int32(col int) int32 {
	return int32(r[col].i)
}

func (r row) Bytes(col int) []byte {
	return r[col].bytes
}
