package cassblob

import (
	"fmt"
	"net/http"

	"github.com/anacrolix/log"

	"github.com/anacrolix/cassblob/internal/metrics"
)

type TaskState int

const (
	StateInit TaskState = iota

	StateFetchOldLargeParts
	StateDeleteOldLargeParts
	StateWaitDeleteOldLargeParts
	StateInsert
	StateWaitingInserted
	StateUpdatingFlags
	StateWaitingUpdateFlags

	StateDeleteFetchLargeParts
	StateDeleteWaitLargeParts
	StateDeleteControlRow
	StateDeleteWaitControlRow

	StateDone
	StateError
)

var taskStateNames = map[TaskState]string{
	StateInit:                    "init",
	StateFetchOldLargeParts:      "fetch old large parts",
	StateDeleteOldLargeParts:     "delete old large parts",
	StateWaitDeleteOldLargeParts: "wait delete old large parts",
	StateInsert:                  "insert",
	StateWaitingInserted:         "waiting inserted",
	StateUpdatingFlags:           "updating flags",
	StateWaitingUpdateFlags:      "waiting update flags",
	StateDeleteFetchLargeParts:   "delete fetch large parts",
	StateDeleteWaitLargeParts:    "delete wait large parts",
	StateDeleteControlRow:        "delete control row",
	StateDeleteWaitControlRow:    "delete wait control row",
	StateDone:                    "done",
	StateError:                   "error",
}

func (me TaskState) String() string {
	if s, ok := taskStateNames[me]; ok {
		return s
	}
	return fmt.Sprintf("TaskState(%d)", int(me))
}

// A non-blocking, poll-driven operation against the blob tables. Callers invoke DriveStep until
// IsFinished. Nothing about a Task is safe for concurrent use.
type Task interface {
	// Advances as far as possible without waiting on I/O. A no-op on finished tasks.
	DriveStep()
	IsFinished() bool
	State() TaskState
	// The terminal error, if the task finished in StateError.
	Err() error
	// Releases all query handles, cancelling outstanding statements.
	CloseAll()
}

type querySlot struct {
	q        *Query
	restarts int
}

// The state, query slots and error handling shared by concrete tasks. Slot 0 is for control row
// statements, higher slots for per-chunk statements.
type taskBase struct {
	opts   TaskOpts
	kind   string
	key    BlobKey
	logger log.Logger
	state  TaskState
	slots  []querySlot
	err    *TaskError
}

func (t *taskBase) init(opts TaskOpts, kind string, key BlobKey) error {
	err := opts.setDefaults()
	if err != nil {
		return err
	}
	t.opts = opts
	t.kind = kind
	t.key = key
	t.logger = opts.Logger.WithNames(kind)
	t.state = StateInit
	return nil
}

func (t *taskBase) Key() BlobKey {
	return t.key
}

func (t *taskBase) State() TaskState {
	return t.state
}

func (t *taskBase) IsFinished() bool {
	return t.state == StateDone || t.state == StateError
}

func (t *taskBase) Err() error {
	if t.err == nil {
		return nil
	}
	return t.err
}

func (t *taskBase) setState(s TaskState) {
	t.logger.Levelf(log.Debug, "%v.%v: %v -> %v", t.opts.Keyspace, t.key, t.state, s)
	t.state = s
}

// Returns the handle in slot i, growing the slots as needed.
func (t *taskBase) query(i int) *Query {
	for len(t.slots) <= i {
		t.slots = append(t.slots, querySlot{q: NewQuery(t.opts.Conn, t.opts.Timeout)})
	}
	return t.slots[i].q
}

func (t *taskBase) execute(i int, stmts ...Statement) {
	q := t.query(i)
	t.slots[i].restarts = 0
	q.Set(stmts...)
	metrics.QueriesTotal.WithLabelValues(t.kind).Inc()
	q.Execute(LocalQuorum, !t.opts.Sync)
}

func (t *taskBase) CloseAll() {
	for i := range t.slots {
		t.slots[i].q.Close()
		t.slots[i].restarts = 0
	}
}

// Polls slot i. Transient failures are reissued on the same slot until the retry limit, after which
// the task fails.
func (t *taskBase) checkReady(i int) Readiness {
	if i >= len(t.slots) {
		t.fail(http.StatusBadGateway, ErrorCodeQueryFailed, log.Critical,
			fmt.Sprintf("polling missing query slot %v (key=%v.%v)", i, t.opts.Keyspace, t.key))
		return FailedFatal
	}
	s := &t.slots[i]
	r := s.q.Poll()
	switch r {
	case FailedRetryable:
		if s.restarts < t.opts.MaxRetries.Value {
			s.restarts++
			metrics.QueryRestartsTotal.WithLabelValues(t.kind).Inc()
			t.logger.Levelf(log.Debug, "restarting query in slot %v (key=%v.%v, restart %v of %v): %v",
				i, t.opts.Keyspace, t.key, s.restarts, t.opts.MaxRetries.Value, s.q.Err())
			s.q.Restart()
			return FailedRetryable
		}
		t.fail(http.StatusBadGateway, ErrorCodeQueryFailed, log.Error, fmt.Sprintf(
			"query failed after %v restarts (key=%v.%v): %v", s.restarts, t.opts.Keyspace, t.key, s.q.Err()))
		return FailedFatal
	case FailedFatal:
		t.fail(http.StatusBadGateway, ErrorCodeQueryFailed, log.Error, fmt.Sprintf(
			"query failed (key=%v.%v): %v", t.opts.Keyspace, t.key, s.q.Err()))
	}
	return r
}

// Polls slot i, reporting whether it completed successfully.
func (t *taskBase) ready(i int) bool {
	return t.checkReady(i).Ready()
}

// Moves the task to StateError, reporting through the callback once.
func (t *taskBase) fail(status int, code ErrorCode, severity log.Level, msg string) {
	if t.IsFinished() {
		return
	}
	t.CloseAll()
	t.slots = nil
	t.err = &TaskError{
		Status:   status,
		Code:     code,
		Severity: severity,
		Message:  msg,
	}
	t.setState(StateError)
	t.logger.Levelf(severity, "%v", msg)
	metrics.TasksTotal.WithLabelValues(t.kind, "error").Inc()
	if t.opts.OnError != nil {
		t.opts.OnError(status, code, severity, msg)
	}
}

func (t *taskBase) finish() {
	t.CloseAll()
	t.setState(StateDone)
	metrics.TasksTotal.WithLabelValues(t.kind, "done").Inc()
}

func (t *taskBase) unexpectedState(op string) {
	t.fail(http.StatusBadGateway, ErrorCodeQueryFailed, log.Critical, fmt.Sprintf(
		"failed to %s blob (key=%v.%v): unexpected state (%d)", op, t.opts.Keyspace, t.key, int(t.state)))
}

// Calls step until it reports no further progress can be made without I/O.
func (t *taskBase) drive(step func() bool) {
	for !t.IsFinished() && step() {
	}
}
