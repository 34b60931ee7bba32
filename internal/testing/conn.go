package cassblobTesting

import (
	"context"
	"strings"
	"sync"

	"github.com/anacrolix/cassblob"
)

type Submission struct {
	Consistency cassblob.Consistency
	Stmts       []cassblob.Statement
}

func (s Submission) HasPrefix(prefix string) bool {
	for _, stmt := range s.Stmts {
		if strings.HasPrefix(stmt.Cql, prefix) {
			return true
		}
	}
	return false
}

type fault struct {
	prefix string
	n      int
	// Nil stalls the submission forever.
	err error
}

// Conn wraps another Conn, recording what's submitted. It can fail or stall submissions, and hold
// them back until released.
type Conn struct {
	Inner cassblob.Conn

	mu          sync.Mutex
	submissions []Submission
	faults      []*fault
	holding     bool
	held        []func()
}

var _ cassblob.Conn = (*Conn)(nil)

func (c *Conn) Submit(ctx context.Context, cons cassblob.Consistency, stmts ...cassblob.Statement) *cassblob.Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := Submission{
		Consistency: cons,
		Stmts:       append([]cassblob.Statement(nil), stmts...),
	}
	c.submissions = append(c.submissions, sub)
	for _, f := range c.faults {
		if f.n == 0 || !sub.HasPrefix(f.prefix) {
			continue
		}
		f.n--
		if f.err == nil {
			return cassblob.NewFuture()
		}
		return cassblob.CompletedFuture(cassblob.Result{}, f.err)
	}
	if c.holding {
		outer := cassblob.NewFuture()
		c.held = append(c.held, func() {
			forward(c.Inner.Submit(ctx, cons, stmts...), outer)
		})
		return outer
	}
	return c.Inner.Submit(ctx, cons, stmts...)
}

func forward(inner, outer *cassblob.Future) {
	go func() {
		<-inner.Done()
		outer.Complete(inner.Result())
	}()
}

// The next n submissions containing a statement starting with prefix fail with err.
func (c *Conn) FailNext(prefix string, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, &fault{prefix: prefix, n: n, err: err})
}

// The next n submissions containing a statement starting with prefix never complete.
func (c *Conn) StallNext(prefix string, n int) {
	c.FailNext(prefix, n, nil)
}

// Submissions are held back from Inner until Release.
func (c *Conn) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holding = true
}

// Forwards held submissions to Inner and stops holding.
func (c *Conn) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holding = false
	for _, f := range c.held {
		f()
	}
	c.held = nil
}

func (c *Conn) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}

func (c *Conn) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission(nil), c.submissions...)
}

// Counts submissions containing a statement starting with prefix.
func (c *Conn) Count(prefix string) (n int) {
	for _, s := range c.Submissions() {
		if s.HasPrefix(prefix) {
			n++
		}
	}
	return
}
