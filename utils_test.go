package cassblob_test

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	qt "github.com/frankban/quicktest"

	"github.com/anacrolix/cassblob"
	cassblobTesting "github.com/anacrolix/cassblob/internal/testing"
	"github.com/anacrolix/cassblob/sqliteconn"
)

const testKeyspace = sqliteconn.TestingKeyspace

// Returns the SQLite backend, and a recording wrapper of it for tasks to use.
func newConns(c *qt.C) (*sqliteconn.Conn, *cassblobTesting.Conn) {
	inner := sqliteconn.TestingNewConn(c, sqliteconn.TestingDefaultConnOpts(c))
	return inner, &cassblobTesting.Conn{Inner: inner}
}

func testTaskOpts(conn cassblob.Conn) cassblob.TaskOpts {
	return cassblob.TaskOpts{
		Conn:           conn,
		Keyspace:       testKeyspace,
		LargeThreshold: 1024,
	}
}

func randBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func driveAll(c *qt.C, tasks ...cassblob.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cassblob.Drive(ctx, time.Millisecond, tasks...)
	c.Assert(ctx.Err(), qt.IsNil, qt.Commentf("tasks didn't finish"))
	return err
}

func insert(c *qt.C, opts cassblob.TaskOpts, key cassblob.BlobKey, blob *cassblob.BlobRecord, isNew cassblob.IsNewHint) *cassblob.InsertTask {
	t, err := cassblob.NewInsertTask(opts, key, blob, isNew)
	c.Assert(err, qt.IsNil)
	c.Assert(driveAll(c, t), qt.IsNil)
	c.Assert(t.State(), qt.Equals, cassblob.StateDone)
	return t
}

type controlRow struct {
	modified   int64
	size       int64
	flags      cassblob.Flags
	largeParts int32
	data       []byte
}

func readControlRow(c *qt.C, conn *sqliteconn.Conn, key cassblob.BlobKey) (ret g.Option[controlRow]) {
	res, err := conn.Exec(context.Background(), cassblob.Stmt(
		fmt.Sprintf("SELECT modified, size, flags, large_parts, data FROM %s.entity WHERE ent = ?", testKeyspace),
		int32(key)))
	c.Assert(err, qt.IsNil)
	c.Assert(len(res.Rows) <= 1, qt.IsTrue)
	if len(res.Rows) == 0 {
		return
	}
	row := res.Rows[0]
	ret.Set(controlRow{
		modified:   row.Int64(0),
		size:       row.Int64(1),
		flags:      cassblob.Flags(row.Int64(2)),
		largeParts: row.Int32(3),
		data:       row.Bytes(4),
	})
	return
}

func readChunks(c *qt.C, conn *sqliteconn.Conn, key cassblob.BlobKey) map[int32][]byte {
	res, err := conn.Exec(context.Background(), cassblob.Stmt(
		fmt.Sprintf("SELECT local_id, data FROM %s.largeentity WHERE ent = ?", testKeyspace),
		int32(key)))
	c.Assert(err, qt.IsNil)
	ret := make(map[int32][]byte, len(res.Rows))
	for _, row := range res.Rows {
		ret[row.Int32(0)] = row.Bytes(1)
	}
	return ret
}

// Reassembles a blob the way a reader would, failing unless the control row is complete.
func loadBlob(c *qt.C, conn *sqliteconn.Conn, key cassblob.BlobKey) []byte {
	row := readControlRow(c, conn, key)
	c.Assert(row.Ok, qt.IsTrue)
	c.Assert(row.Value.flags.Has(cassblob.FlagComplete), qt.IsTrue)
	if row.Value.largeParts == 0 {
		return row.Value.data
	}
	chunks := readChunks(c, conn, key)
	var buf bytes.Buffer
	for i := int32(0); i < row.Value.largeParts; i++ {
		b, ok := chunks[i]
		c.Assert(ok, qt.IsTrue, qt.Commentf("missing chunk %v", i))
		buf.Write(b)
	}
	return buf.Bytes()
}

// A complete control row must never refer to chunks that aren't there.
func checkConsistent(c *qt.C, conn *sqliteconn.Conn, key cassblob.BlobKey) {
	row := readControlRow(c, conn, key)
	if !row.Ok || !row.Value.flags.Has(cassblob.FlagComplete) {
		return
	}
	chunks := readChunks(c, conn, key)
	for i := int32(0); i < row.Value.largeParts; i++ {
		_, ok := chunks[i]
		c.Check(ok, qt.IsTrue, qt.Commentf("complete control row with large_parts=%v missing chunk %v", row.Value.largeParts, i))
	}
}

// Steps a task with submissions held back, so the database can be inspected between each round of
// statements.
func stepHeld(c *qt.C, conn *cassblobTesting.Conn, t cassblob.Task, between func()) {
	deadline := time.Now().Add(10 * time.Second)
	conn.Hold()
	defer conn.Release()
	for !t.IsFinished() {
		if time.Now().After(deadline) {
			c.Fatalf("task stuck in state %v", t.State())
		}
		t.DriveStep()
		between()
		conn.Release()
		time.Sleep(time.Millisecond)
		conn.Hold()
	}
}

type errorCall struct {
	status   int
	code     cassblob.ErrorCode
	severity log.Level
	message  string
}

// Records calls to a task's error callback.
type errorCalls []errorCall

func (me *errorCalls) onError() cassblob.ErrorFunc {
	return func(status int, code cassblob.ErrorCode, severity log.Level, message string) {
		*me = append(*me, errorCall{
			status:   status,
			code:     code,
			severity: severity,
			message:  message,
		})
	}
}

func benchmarkOpts(b *testing.B) (*sqliteconn.Conn, cassblob.TaskOpts) {
	c := qt.New(b)
	conn := sqliteconn.TestingNewConn(c, sqliteconn.TestingDefaultConnOpts(b))
	return conn, testTaskOpts(conn)
}
