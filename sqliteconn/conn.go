package sqliteconn

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"text/template"

	g "github.com/anacrolix/generics"
	sqlite "github.com/go-llsqlite/adapter"
	"github.com/go-llsqlite/adapter/sqlitex"
)

type conn = *sqlite.Conn

type ErrUnexpectedJournalMode struct {
	JournalMode string
}

func (me ErrUnexpectedJournalMode) Error() string {
	return fmt.Sprintf("unexpected journal mode: %q", me.JournalMode)
}

func setSynchronous(conn conn, syncInt int) (err error) {
	err = sqlitex.ExecTransient(conn, fmt.Sprintf(`pragma synchronous=%v`, syncInt), nil)
	if err != nil {
		return err
	}
	var actual setOnce[int]
	err = sqlitex.ExecTransient(conn, `pragma synchronous`, func(stmt *sqlite.Stmt) error {
		actual.Set(stmt.ColumnInt(0))
		return nil
	})
	if err != nil {
		return
	}
	if !actual.Ok() {
		return errors.New("synchronous setting query didn't return anything")
	}
	if actual.Value() != syncInt {
		return fmt.Errorf("set synchronous %v, got %v", syncInt, actual.Value())
	}
	return nil
}

func setAndVerifyPragma(conn conn, name string, value any) (err error) {
	valueStr := fmt.Sprint(value)
	setPragmaQuery := fmt.Sprintf("pragma %s=%s", name, valueStr)
	text, err := execTransientReturningText(conn, setPragmaQuery)
	if err != nil {
		return
	}
	if !text.Ok {
		text, err = execTransientReturningText(conn, fmt.Sprintf("pragma %s", name))
		if err != nil {
			return
		}
	}
	if !text.Ok {
		err = errors.New("pragma did not return value")
		return
	}
	if text.Value != valueStr {
		err = fmt.Errorf("%q returned %q", setPragmaQuery, text.Value)
	}
	return
}

func execTransientReturningText(conn conn, query string) (s g.Option[string], err error) {
	var once setOnce[string]
	err = sqlitex.ExecTransient(conn, query, func(stmt *sqlite.Stmt) error {
		once.Set(stmt.ColumnText(0))
		return nil
	})
	if once.Ok() {
		s.Set(once.Value())
	}
	return
}

func initConn(conn conn, opts InitConnOpts, pageSize int, keyspaces []string) (err error) {
	err = setSynchronous(conn, opts.SetSynchronous)
	if err != nil {
		return
	}
	// For some reason it's faster to set page size after synchronous. We need to set it before
	// setting journal mode in case it's WAL.
	err = setPageSize(conn, pageSize)
	if err != nil {
		err = fmt.Errorf("setting page size: %w", err)
		return
	}
	if opts.SetJournalMode != "" {
		// Each attached keyspace has its own journal.
		for _, schema := range append([]string{"main"}, keyspaces...) {
			err = setJournalMode(conn, schema, opts.SetJournalMode)
			if err != nil {
				return fmt.Errorf("setting journal mode on %q: %w", schema, err)
			}
		}
	}
	if opts.SetLockingMode != "" {
		mode, err := execTransientReturningText(conn, "pragma locking_mode="+opts.SetLockingMode)
		if err != nil {
			return err
		}
		if mode.Value != opts.SetLockingMode {
			return fmt.Errorf("error setting locking_mode, got %q", mode.Value)
		}
	}
	if !opts.MmapSizeOk {
		opts.MmapSize = -1
	}
	if opts.MmapSize >= 0 {
		err = setAndVerifyPragma(conn, "mmap_size", opts.MmapSize)
		if err != nil {
			return err
		}
	}
	return
}

func setJournalMode(conn conn, schema, mode string) error {
	journalMode, err := execTransientReturningText(conn, fmt.Sprintf(`pragma %s.journal_mode=%s`, schema, mode))
	if err != nil {
		return err
	}
	if journalMode.Value != mode {
		return ErrUnexpectedJournalMode{journalMode.Value}
	}
	return nil
}

func setPageSize(conn conn, pageSize int) error {
	if pageSize == 0 {
		return nil
	}
	var retSize int64
	err := sqlitex.ExecTransient(conn, fmt.Sprintf(`pragma page_size=%d`, pageSize), nil)
	if err != nil {
		return err
	}
	err = sqlitex.ExecTransient(conn, "pragma page_size", func(stmt *sqlite.Stmt) error {
		retSize = stmt.ColumnInt64(0)
		return nil
	})
	if err != nil {
		return err
	}
	if retSize != int64(pageSize) {
		return fmt.Errorf("requested page size %v but got %v", pageSize, retSize)
	}
	return nil
}

var (
	//go:embed init.sql
	initScript   string
	initTemplate = template.Must(template.New("init").Parse(initScript))
)

var keyspaceRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Creates the blob tables in the attached keyspace database.
func InitSchema(conn conn, keyspace string) error {
	if !keyspaceRegexp.MatchString(keyspace) {
		return fmt.Errorf("invalid keyspace %q", keyspace)
	}
	var sb strings.Builder
	err := initTemplate.Execute(&sb, keyspace)
	if err != nil {
		return err
	}
	return sqlitex.ExecScript(conn, sb.String())
}

func keyspaceDbPath(opts NewConnOpts, keyspace string) string {
	if opts.Memory {
		return ":memory:"
	}
	if opts.Path == "" {
		return ""
	}
	return opts.Path + "." + keyspace
}

func attachKeyspace(conn conn, opts NewConnOpts, keyspace string) error {
	if !keyspaceRegexp.MatchString(keyspace) {
		return fmt.Errorf("invalid keyspace %q", keyspace)
	}
	return sqlitex.ExecTransient(
		conn,
		fmt.Sprintf("attach database ? as %s", keyspace),
		nil,
		keyspaceDbPath(opts, keyspace),
	)
}

func initDatabase(conn conn, opts NewConnOpts) (err error) {
	for _, ks := range opts.Keyspaces {
		err = attachKeyspace(conn, opts, ks)
		if err != nil {
			return fmt.Errorf("attaching keyspace %q: %w", ks, err)
		}
		if opts.DontInitSchema {
			continue
		}
		err = InitSchema(conn, ks)
		if err != nil {
			return fmt.Errorf("initing schema in keyspace %q: %w", ks, err)
		}
	}
	return
}

func newOpenUri(opts NewConnOpts) string {
	path := url.PathEscape(opts.Path)
	if opts.Memory {
		path = ":memory:"
	}
	values := make(url.Values)
	if opts.Memory {
		values.Add("cache", "shared")
	}
	// This still seems to use temporary databases as expected when there's just ?, so no need to
	// special case empty paths and empty queries.
	return fmt.Sprintf("file:%s?%s", path, values.Encode())
}

const openConnFlags = 0 |
	sqlite.OpenReadWrite |
	sqlite.OpenCreate |
	sqlite.OpenURI |
	sqlite.OpenNoMutex

func newConn(opts NewConnOpts) (conn, error) {
	return sqlite.OpenConn(newOpenUri(opts), openConnFlags)
}
