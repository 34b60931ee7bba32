package cassblob

import (
	"context"
	"errors"
	"fmt"

	"github.com/anacrolix/log"
)

type ErrorCode int

const (
	ErrorCodeQueryFailed ErrorCode = iota + 1
)

func (me ErrorCode) String() string {
	switch me {
	case ErrorCodeQueryFailed:
		return "query failed"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(me))
}

// The terminal error of a task. It's what the error callback was given.
type TaskError struct {
	Status   int
	Code     ErrorCode
	Severity log.Level
	Message  string
}

func (me *TaskError) Error() string {
	return fmt.Sprintf("%s (status %v, %v)", me.Message, me.Status, me.Code)
}

func (me *TaskError) Is(target error) bool {
	return target == ErrQueryFailed && me.Code == ErrorCodeQueryFailed
}

type errQueryFailed struct{}

func (errQueryFailed) Error() string {
	return "query failed"
}

var ErrQueryFailed = errQueryFailed{}

var ErrQueryTimeout = errors.New("query timed out")

// Marks a backend error as transient. The statement that produced it may be reissued.
type RetryableError struct {
	Err error
}

func (me RetryableError) Error() string {
	return me.Err.Error()
}

func (me RetryableError) Unwrap() error {
	return me.Err
}

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{err}
}

func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re) ||
		errors.Is(err, ErrQueryTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
