package sqliteconn

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

const TestingKeyspace = "blobs"

func TestingNewConn(c *qt.C, opts NewConnOpts) *Conn {
	if opts.SetJournalMode == "wal" && (opts.Memory || opts.Path == "") {
		c.Skip("can't use WAL with anonymous or memory database")
	}
	if opts.Memory && opts.SetLockingMode != "exclusive" {
		c.Skip("in-memory databases are always exclusive")
	}
	conn, err := NewConn(opts)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() {
		err := conn.Close()
		c.Check(err, qt.IsNil)
	})
	return conn
}

func TestingTempPath(c testing.TB) string {
	if cleanupDatabases {
		// Put the database in the test temp dir, so it gets removed automatically.
		return filepath.Join(c.TempDir(), "cassblob.db")
	}
	// Create a temporary file in the OS temp dir, so we can inspect it after the tests.
	f, err := os.CreateTemp("", "cassblob.db")
	if err != nil {
		c.Fatalf("creating temp db path: %v", err)
	}
	path := f.Name()
	c.Logf("db path: %v", path)
	f.Close()
	return path
}

// Whether to remove databases after tests run, or leave them behind and log where they are for
// inspection.
const cleanupDatabases = true

func TestingDefaultConnOpts(tb testing.TB) (ret NewConnOpts) {
	ret.Path = TestingTempPath(tb)
	ret.Keyspaces = []string{TestingKeyspace}
	return
}
