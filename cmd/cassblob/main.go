package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/anacrolix/cassblob"
	"github.com/anacrolix/cassblob/gocqlconn"
	"github.com/anacrolix/cassblob/sqliteconn"
)

const defaultChunkSize = 64 << 10

type globalArgs struct {
	Config         string        `help:"YAML config file"`
	Sqlite         string        `help:"use a local SQLite database at this path instead of a cluster"`
	SqliteJournal  string        `arg:"--sqlite-journal-mode" help:"SQLite journal mode, for example wal"`
	SqliteMmapSize *int64        `arg:"--sqlite-mmap-size" help:"SQLite mmap_size in bytes"`
	Hosts          []string      `help:"cluster contact points"`
	Port           int           `help:"native protocol port"`
	LocalDC        string        `arg:"--local-dc" help:"prefer hosts in this datacenter"`
	Username       string        `help:"cluster user"`
	Password       string        `arg:"env:CASSBLOB_PASSWORD" help:"cluster password"`
	Keyspace       string        `help:"keyspace holding the blob tables"`
	Timeout        time.Duration `help:"per statement timeout"`
	MaxRetries     *int          `help:"times a failed statement is reissued"`
	LargeThreshold int64         `help:"blobs at least this large are stored in chunk rows"`
	ChunkSize      int64         `help:"chunk size for blobs read from files"`
	Breaker        bool          `help:"put cluster requests behind a circuit breaker"`
	MetricsAddr    string        `help:"serve prometheus metrics on this address"`
}

type SchemaCommand struct{}

type InitCommand struct{}

type PutCommand struct {
	New   bool     `help:"the keys have never been written"`
	Blobs []string `arg:"positional,required" help:"KEY=FILE pairs"`
}

type DeleteCommand struct {
	Keys []int32 `arg:"positional,required"`
}

func main() {
	defer envpprof.Stop()
	err := mainErr()
	if err != nil {
		log.Default.Levelf(log.Error, "error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	var args struct {
		globalArgs
		Schema *SchemaCommand `arg:"subcommand"`
		Init   *InitCommand   `arg:"subcommand"`
		Put    *PutCommand    `arg:"subcommand"`
		Delete *DeleteCommand `arg:"subcommand"`
	}
	p := arg.MustParse(&args)
	if args.Config != "" {
		fc, err := loadFileConfig(args.Config)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		args.merge(fc)
	}
	if args.Keyspace == "" {
		p.Fail("keyspace required")
	}
	if args.Schema != nil {
		stmts, err := cassblob.SchemaCQL(args.Keyspace)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			fmt.Printf("%s;\n\n", s)
		}
		return nil
	}
	if args.MetricsAddr != "" {
		go func() {
			err := http.ListenAndServe(args.MetricsAddr, promhttp.Handler())
			log.Default.Levelf(log.Error, "serving metrics: %v", err)
		}()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	b, err := openBackend(&args.globalArgs)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer b.close()
	switch {
	case args.Init != nil:
		return b.initSchema(ctx)
	case args.Put != nil:
		return put(ctx, &args.globalArgs, args.Put, b.taskOpts(&args.globalArgs))
	case args.Delete != nil:
		return del(ctx, args.Delete, b.taskOpts(&args.globalArgs))
	default:
		p.Fail("expected subcommand")
		panic("unreachable")
	}
}

type backend struct {
	conn       cassblob.Conn
	close      func() error
	initSchema func(ctx context.Context) error
}

func sqliteOpts(args *globalArgs) (opts sqliteconn.NewConnOpts) {
	opts.Path = args.Sqlite
	opts.Keyspaces = []string{args.Keyspace}
	opts.SetJournalMode = args.SqliteJournal
	if args.SqliteMmapSize != nil {
		opts.MmapSizeOk = true
		opts.MmapSize = *args.SqliteMmapSize
	}
	return
}

func openBackend(args *globalArgs) (ret backend, err error) {
	if args.Sqlite != "" {
		conn, err := sqliteconn.NewConn(sqliteOpts(args))
		if err != nil {
			return ret, err
		}
		ret.conn = conn
		ret.close = conn.Close
		// Opening the connection creates the tables.
		ret.initSchema = func(context.Context) error { return nil }
		return ret, nil
	}
	session, err := gocqlconn.NewSession(gocqlconn.ClusterOpts{
		Hosts:    args.Hosts,
		Port:     args.Port,
		LocalDC:  args.LocalDC,
		Timeout:  args.Timeout,
		Username: args.Username,
		Password: args.Password,
	})
	if err != nil {
		return
	}
	var connOpts gocqlconn.ConnOpts
	if args.Breaker {
		connOpts.Breaker = &gobreaker.Settings{
			Name:    "cassandra",
			Timeout: 10 * time.Second,
		}
	}
	ret.conn = gocqlconn.New(session, connOpts)
	ret.close = func() error {
		session.Close()
		return nil
	}
	ret.initSchema = func(ctx context.Context) error {
		return gocqlconn.InitSchema(ctx, session, args.Keyspace)
	}
	return
}

func (b backend) taskOpts(args *globalArgs) cassblob.TaskOpts {
	opts := cassblob.TaskOpts{
		Conn:           b.conn,
		Keyspace:       args.Keyspace,
		Timeout:        args.Timeout,
		LargeThreshold: args.LargeThreshold,
		Logger:         log.Default.WithNames("cassblob"),
	}
	if args.MaxRetries != nil {
		opts.MaxRetries = g.Some(*args.MaxRetries)
	}
	return opts
}

func parseKey(s string) (cassblob.BlobKey, error) {
	i, err := strconv.ParseInt(s, 10, 32)
	return cassblob.BlobKey(i), err
}

type putItem struct {
	key  cassblob.BlobKey
	path string
	blob *cassblob.BlobRecord
}

func readBlobFile(path string, chunkSize int64) (*cassblob.BlobRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return cassblob.NewBlobRecordFromReader(f, chunkSize, fi.ModTime().UnixMicro(), 0)
}

func put(ctx context.Context, args *globalArgs, cmd *PutCommand, opts cassblob.TaskOpts) error {
	chunkSize := args.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultChunkSize
	}
	items := make([]putItem, 0, len(cmd.Blobs))
	for _, s := range cmd.Blobs {
		keyStr, path, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("expected KEY=FILE, got %q", s)
		}
		key, err := parseKey(keyStr)
		if err != nil {
			return fmt.Errorf("parsing key %q: %w", keyStr, err)
		}
		items = append(items, putItem{key: key, path: path})
	}
	var eg errgroup.Group
	for i := range items {
		item := &items[i]
		eg.Go(func() (err error) {
			item.blob, err = readBlobFile(item.path, chunkSize)
			if err != nil {
				err = fmt.Errorf("reading %q: %w", item.path, err)
			}
			return
		})
	}
	err := eg.Wait()
	if err != nil {
		return err
	}
	hint := cassblob.IsNewUnknown
	if cmd.New {
		hint = cassblob.IsNewTrue
	}
	tasks := make([]*cassblob.InsertTask, 0, len(items))
	for _, item := range items {
		t, err := cassblob.NewInsertTask(opts, item.key, item.blob, hint)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
	}
	err = cassblob.Drive(ctx, time.Millisecond, asTasks(tasks)...)
	for i, t := range tasks {
		if t.State() != cassblob.StateDone {
			continue
		}
		opts.Logger.Printf(
			"stored %q as %v.%v: %v bytes, %v chunk rows",
			items[i].path, opts.Keyspace, items[i].key, items[i].blob.Size(), t.LargeParts())
	}
	return err
}

func del(ctx context.Context, cmd *DeleteCommand, opts cassblob.TaskOpts) error {
	var tasks []*cassblob.DeleteTask
	for _, k := range cmd.Keys {
		t, err := cassblob.NewDeleteTask(opts, cassblob.BlobKey(k))
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
	}
	return cassblob.Drive(ctx, time.Millisecond, asTasks(tasks)...)
}

func asTasks[T cassblob.Task](ts []T) (ret []cassblob.Task) {
	for _, t := range ts {
		ret = append(ret, t)
	}
	return
}
