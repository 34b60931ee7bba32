package cassblob

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/log"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultLargeThreshold = 64 << 10
)

// Receives a task's terminal error. It's called at most once per task and carries no ownership of
// the task.
type ErrorFunc func(status int, code ErrorCode, severity log.Level, message string)

type TaskOpts struct {
	Conn     Conn
	Keyspace string
	// Per statement. Zero means DefaultTimeout.
	Timeout time.Duration
	// Wait for each statement inside DriveStep instead of polling for it on later calls.
	Sync bool
	// Times a single statement is reissued after transient failures. Unset means DefaultMaxRetries.
	MaxRetries g.Option[int]
	// Blobs of at least this size have their chunks stored in separate rows. Zero means
	// DefaultLargeThreshold.
	LargeThreshold int64
	OnError        ErrorFunc
	Logger         log.Logger
}

var keyspaceRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (opts *TaskOpts) setDefaults() error {
	if opts.Conn == nil {
		return errors.New("no conn")
	}
	if !keyspaceRegexp.MatchString(opts.Keyspace) {
		return fmt.Errorf("invalid keyspace %q", opts.Keyspace)
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if !opts.MaxRetries.Ok {
		opts.MaxRetries = g.Some(DefaultMaxRetries)
	}
	if opts.MaxRetries.Value < 0 {
		return fmt.Errorf("negative max retries %v", opts.MaxRetries.Value)
	}
	if opts.LargeThreshold == 0 {
		opts.LargeThreshold = DefaultLargeThreshold
	}
	if opts.Logger.IsZero() {
		opts.Logger = log.Default.WithNames("cassblob")
	}
	return nil
}
