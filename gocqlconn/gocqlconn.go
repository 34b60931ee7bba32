// Package gocqlconn implements cassblob.Conn on a gocql session.
package gocqlconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/anacrolix/log"
	"github.com/gocql/gocql"
	"github.com/sony/gobreaker"

	"github.com/anacrolix/cassblob"
)

type ClusterOpts struct {
	Hosts    []string
	Port     int
	Keyspace string
	// Prefer hosts in this datacenter. LOCAL_* consistency levels are relative to it.
	LocalDC        string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	NumConns       int
	Username       string
	Password       string
}

func NewSession(opts ClusterOpts) (*gocql.Session, error) {
	if len(opts.Hosts) == 0 {
		return nil, errors.New("no hosts")
	}
	cluster := gocql.NewCluster(opts.Hosts...)
	if opts.Port != 0 {
		cluster.Port = opts.Port
	}
	cluster.Keyspace = opts.Keyspace
	if opts.Timeout != 0 {
		cluster.Timeout = opts.Timeout
	}
	if opts.ConnectTimeout != 0 {
		cluster.ConnectTimeout = opts.ConnectTimeout
	}
	if opts.NumConns != 0 {
		cluster.NumConns = opts.NumConns
	}
	if opts.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: opts.Username,
			Password: opts.Password,
		}
	}
	if opts.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(opts.LocalDC))
	}
	// Tasks do their own retrying per statement.
	cluster.RetryPolicy = nil
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return session, nil
}

type ConnOpts struct {
	// If set, executions go through a circuit breaker with these settings. While it's open,
	// submissions fail as retryable.
	Breaker *gobreaker.Settings
	Logger  log.Logger
}

type Conn struct {
	session *gocql.Session
	breaker *gobreaker.CircuitBreaker
	logger  log.Logger
}

var _ cassblob.Conn = (*Conn)(nil)

func New(session *gocql.Session, opts ConnOpts) *Conn {
	c := &Conn{
		session: session,
		logger:  opts.Logger,
	}
	if c.logger.IsZero() {
		c.logger = log.Default.WithNames("cassblob", "gocqlconn")
	}
	if opts.Breaker != nil {
		settings := *opts.Breaker
		if settings.IsSuccessful == nil {
			settings.IsSuccessful = func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || !cassblob.IsRetryable(classify(err))
			}
		}
		c.breaker = gobreaker.NewCircuitBreaker(settings)
	}
	return c
}

func (c *Conn) Submit(ctx context.Context, cons cassblob.Consistency, stmts ...cassblob.Statement) *cassblob.Future {
	f := cassblob.NewFuture()
	go func() {
		f.Complete(c.exec(ctx, cons, stmts))
	}()
	return f
}

func (c *Conn) exec(ctx context.Context, cons cassblob.Consistency, stmts []cassblob.Statement) (res cassblob.Result, err error) {
	run := func() (cassblob.Result, error) {
		if len(stmts) == 1 {
			return c.query(ctx, cons, stmts[0])
		}
		return cassblob.Result{}, c.batch(ctx, cons, stmts)
	}
	if c.breaker == nil {
		res, err = run()
		return res, classify(err)
	}
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return run()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Levelf(log.Debug, "circuit breaker %q rejected submission: %v", c.breaker.Name(), err)
		}
		return res, classify(err)
	}
	return v.(cassblob.Result), nil
}

func (c *Conn) query(ctx context.Context, cons cassblob.Consistency, s cassblob.Statement) (res cassblob.Result, err error) {
	iter := c.session.Query(s.Cql, s.Args...).WithContext(ctx).Consistency(consistency(cons)).Iter()
	rd, err := iter.RowData()
	if err == nil && len(rd.Values) != 0 {
		for iter.Scan(rd.Values...) {
			res.Rows = append(res.Rows, rowFromValues(rd.Values))
		}
	}
	closeErr := iter.Close()
	if err == nil {
		err = closeErr
	}
	return
}

func (c *Conn) batch(ctx context.Context, cons cassblob.Consistency, stmts []cassblob.Statement) error {
	b := c.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.SetConsistency(consistency(cons))
	for _, s := range stmts {
		b.Query(s.Cql, s.Args...)
	}
	return c.session.ExecuteBatch(b)
}

// Scan destinations are pointers that gocql reuses between rows.
func rowFromValues(values []interface{}) cassblob.ValuesRow {
	row := make(cassblob.ValuesRow, len(values))
	for i, v := range values {
		x := reflect.ValueOf(v).Elem().Interface()
		if b, ok := x.([]byte); ok {
			x = bytes.Clone(b)
		}
		row[i] = x
	}
	return row
}

func consistency(cons cassblob.Consistency) gocql.Consistency {
	switch cons {
	case cassblob.Any:
		return gocql.Any
	case cassblob.One:
		return gocql.One
	case cassblob.Two:
		return gocql.Two
	case cassblob.Three:
		return gocql.Three
	case cassblob.Quorum:
		return gocql.Quorum
	case cassblob.All:
		return gocql.All
	case cassblob.LocalQuorum:
		return gocql.LocalQuorum
	case cassblob.EachQuorum:
		return gocql.EachQuorum
	case cassblob.LocalOne:
		return gocql.LocalOne
	}
	panic(cons)
}

// Marks errors a later attempt could get past as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrConnectionClosed),
		errors.Is(err, context.DeadlineExceeded):
		return cassblob.Retryable(err)
	}
	var re gocql.RequestError
	if errors.As(err, &re) {
		switch re.Code() {
		case gocql.ErrCodeUnavailable,
			gocql.ErrCodeOverloaded,
			gocql.ErrCodeBootstrapping,
			gocql.ErrCodeTruncate,
			gocql.ErrCodeWriteTimeout,
			gocql.ErrCodeReadTimeout:
			return cassblob.Retryable(err)
		}
	}
	return err
}

// Creates the blob tables in keyspace, which must already exist.
func InitSchema(ctx context.Context, session *gocql.Session, keyspace string) error {
	stmts, err := cassblob.SchemaCQL(keyspace)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		err = session.Query(s).WithContext(ctx).Exec()
		if err != nil {
			return fmt.Errorf("executing %q: %w", s, err)
		}
	}
	return nil
}
