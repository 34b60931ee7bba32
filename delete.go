package cassblob

// Deletes a blob. Chunk rows are removed, with the control row marked incomplete first, before the
// control row itself. Deleting a missing blob succeeds.
type DeleteTask struct {
	taskBase
	flags      Flags
	largeParts int32
}

var _ Task = (*DeleteTask)(nil)

func NewDeleteTask(opts TaskOpts, key BlobKey) (*DeleteTask, error) {
	t := &DeleteTask{}
	err := t.init(opts, "delete", key)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *DeleteTask) DriveStep() {
	t.drive(t.step)
}

func (t *DeleteTask) step() bool {
	switch t.state {
	case StateInit:
		t.CloseAll()
		t.execute(0, Stmt(t.cql(selectFlagsLargePartsCql), int32(t.key)))
		t.setState(StateDeleteFetchLargeParts)
		return false

	case StateDeleteFetchLargeParts:
		switch t.checkReady(0) {
		case ReadyWithData:
			row := t.query(0).Rows()[0]
			t.flags = Flags(row.Int64(0))
			t.largeParts = row.Int32(1)
		case ReadyNoData:
			t.finish()
			return false
		default:
			return false
		}
		t.CloseAll()
		if t.largeParts == 0 {
			t.setState(StateDeleteControlRow)
			return true
		}
		stmts := []Statement{
			Stmt(t.cql(updateFlagsCql), int64(t.flags&^(FlagComplete|FlagCheckFailed)), int32(t.key)),
		}
		for i := int32(0); i < t.largeParts; i++ {
			stmts = append(stmts, Stmt(t.cql(deleteLargeEntityCql), int32(t.key), i))
		}
		t.execute(0, stmts...)
		t.setState(StateDeleteWaitLargeParts)
		return false

	case StateDeleteWaitLargeParts:
		if !t.ready(0) {
			return false
		}
		t.CloseAll()
		t.setState(StateDeleteControlRow)
		return true

	case StateDeleteControlRow:
		t.execute(0, Stmt(t.cql(deleteEntityCql), int32(t.key)))
		t.setState(StateDeleteWaitControlRow)
		return false

	case StateDeleteWaitControlRow:
		if !t.ready(0) {
			return false
		}
		t.finish()
		return false

	default:
		t.unexpectedState("delete")
		return false
	}
}
