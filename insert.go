package cassblob

import (
	"fmt"

	g "github.com/anacrolix/generics"
)

// Whether the caller knows the key has never been written.
type IsNewHint int

const (
	IsNewUnknown IsNewHint = iota
	IsNewTrue
	IsNewFalse
)

func (me IsNewHint) String() string {
	switch me {
	case IsNewUnknown:
		return "unknown"
	case IsNewTrue:
		return "true"
	case IsNewFalse:
		return "false"
	}
	return fmt.Sprintf("IsNewHint(%d)", int(me))
}

// Inserts or overwrites a blob. Large blobs have their chunks written to largeentity, and chunk rows
// left over from a larger previous version are deleted. The control row only carries FlagComplete
// once every row it depends on has been written.
type InsertTask struct {
	taskBase
	blob          *BlobRecord
	isNew         IsNewHint
	largeParts int32
	// The control row found before writing, if there was one.
	old g.Option[storedRow]
}

type storedRow struct {
	flags      Flags
	largeParts int32
}

var _ Task = (*InsertTask)(nil)

func NewInsertTask(opts TaskOpts, key BlobKey, blob *BlobRecord, isNew IsNewHint) (*InsertTask, error) {
	if blob == nil {
		return nil, fmt.Errorf("nil blob for key %v", key)
	}
	t := &InsertTask{
		blob:  blob,
		isNew: isNew,
	}
	err := t.init(opts, "insert", key)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// The number of chunk rows the blob is stored in. Only meaningful once the task has started.
func (t *InsertTask) LargeParts() int32 {
	return t.largeParts
}

func (t *InsertTask) DriveStep() {
	t.drive(t.step)
}

func (t *InsertTask) step() bool {
	switch t.state {
	case StateInit:
		t.CloseAll()
		t.largeParts = 0
		if t.blob.Size() >= t.opts.LargeThreshold {
			t.largeParts = int32(t.blob.NChunks())
		}
		if t.isNew == IsNewTrue {
			t.setState(StateInsert)
			return true
		}
		t.execute(0, Stmt(t.cql(selectFlagsLargePartsCql), int32(t.key)))
		t.setState(StateFetchOldLargeParts)
		return false

	case StateFetchOldLargeParts:
		switch t.checkReady(0) {
		case ReadyWithData:
			row := t.query(0).Rows()[0]
			t.old = g.Some(storedRow{
				flags:      Flags(row.Int64(0)),
				largeParts: row.Int32(1),
			})
		case ReadyNoData:
			t.old = g.None[storedRow]()
		default:
			return false
		}
		t.CloseAll()
		if t.old.Ok && t.old.Value.largeParts > t.largeParts {
			t.setState(StateDeleteOldLargeParts)
		} else {
			t.setState(StateInsert)
		}
		return true

	case StateDeleteOldLargeParts:
		// Readers must stop trusting the row before its chunks go away.
		stmts := []Statement{
			Stmt(t.cql(updateFlagsCql), int64(t.old.Value.flags&^(FlagComplete|FlagCheckFailed)), int32(t.key)),
		}
		for i := t.largeParts; i < t.old.Value.largeParts; i++ {
			stmts = append(stmts, Stmt(t.cql(deleteLargeEntityCql), int32(t.key), i))
		}
		t.execute(0, stmts...)
		t.setState(StateWaitDeleteOldLargeParts)
		return false

	case StateWaitDeleteOldLargeParts:
		if !t.ready(0) {
			return false
		}
		t.CloseAll()
		t.setState(StateInsert)
		return true

	case StateInsert:
		flags := t.blob.Flags()
		var data any
		if t.largeParts == 0 {
			flags |= FlagComplete
			data = t.blob.inlineData()
		} else {
			flags &^= FlagComplete
		}
		t.execute(0, Stmt(
			t.cql(insertEntityCql),
			int32(t.key),
			t.blob.Modified(),
			t.blob.Size(),
			int64(flags),
			t.largeParts,
			data,
		))
		for i := int32(0); i < t.largeParts; i++ {
			t.execute(int(i)+1, Stmt(t.cql(insertLargeEntityCql), int32(t.key), i, t.blob.Chunk(int(i))))
		}
		t.setState(StateWaitingInserted)
		return false

	case StateWaitingInserted:
		allReady := true
		for i := range t.slots {
			if !t.slots[i].q.Active() {
				continue
			}
			switch r := t.checkReady(i); {
			case r.Ready():
			case r == FailedFatal:
				return false
			default:
				allReady = false
			}
		}
		if !allReady {
			return false
		}
		t.CloseAll()
		t.setState(StateUpdatingFlags)
		return true

	case StateUpdatingFlags:
		if t.largeParts == 0 {
			// The control row was written complete.
			t.finish()
			return false
		}
		t.execute(0, Stmt(t.cql(updateFlagsCql), int64(t.blob.Flags()|FlagComplete), int32(t.key)))
		t.setState(StateWaitingUpdateFlags)
		return false

	case StateWaitingUpdateFlags:
		if !t.ready(0) {
			return false
		}
		t.finish()
		return false

	default:
		t.unexpectedState("insert")
		return false
	}
}
