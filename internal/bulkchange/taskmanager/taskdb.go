package taskmanager

import (
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

const (
	tasksTable = "tasks"
	idIndex    = "id"    // index for looking up tasks by id
	dedupIndex = "dedup" // index for looking up the live task of a dedup key
	liveIndex  = "live"  // index for looking up all tasks that haven't finished
	seqIndex   = "seq"   // index for iterating over tasks in submission order
)

// taskRecord is what's stored in the db. Records are never modified once inserted; a changed record is
// inserted in place of the old one.
type taskRecord struct {
	Id       string
	DedupKey string
	// True until the task has finished.
	Live bool
	// Logical timestamp of the submission.
	Seq  uint64
	task *Task
}

// TaskDb is the registry of submitted tasks. It guarantees there is at most one live task per dedup key.
// TaskDb is implemented on top of https://github.com/hashicorp/go-memdb.
type TaskDb struct {
	db  *memdb.MemDB
	seq uint64
}

func NewTaskDb() (*TaskDb, error) {
	db, err := memdb.NewMemDB(taskDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &TaskDb{db: db}, nil
}

// GetOrRegister returns the live task with the same dedup key as task if there is one.
// Otherwise task is registered and returned along with true.
func (d *TaskDb) GetOrRegister(task *Task) (*Task, bool, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tasksTable, dedupIndex, task.dedupKey.String(), true)
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	if existing != nil {
		return existing.(*taskRecord).task, false, nil
	}
	// Write transactions are serialised, so this is safe.
	d.seq++
	record := &taskRecord{
		Id:       task.id,
		DedupKey: task.dedupKey.String(),
		Live:     true,
		Seq:      d.seq,
		task:     task,
	}
	if err := txn.Insert(tasksTable, record); err != nil {
		return nil, false, errors.WithStack(err)
	}
	txn.Commit()
	return task, true, nil
}

// MarkFinished releases the dedup key of task.
func (d *TaskDb) MarkFinished(task *Task) error {
	txn := d.db.Txn(true)
	defer txn.Abort()
	record, err := getRecord(txn, task.id)
	if err != nil {
		return err
	}
	finished := *record
	finished.Live = false
	if err := txn.Insert(tasksTable, &finished); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (d *TaskDb) Get(id string) (*Task, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	record, err := getRecord(txn, id)
	if err != nil {
		return nil, err
	}
	return record.task, nil
}

// Live returns all unfinished tasks in submission order.
func (d *TaskDb) Live() ([]*Task, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tasksTable, liveIndex, true)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var records []*taskRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		records = append(records, obj.(*taskRecord))
	}
	slices.SortFunc(records, func(a, b *taskRecord) bool { return a.Seq < b.Seq })
	return tasksOf(records), nil
}

// All returns every task in submission order.
func (d *TaskDb) All() ([]*Task, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tasksTable, seqIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var records []*taskRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		records = append(records, obj.(*taskRecord))
	}
	return tasksOf(records), nil
}

// Remove deletes a finished task.
func (d *TaskDb) Remove(id string) error {
	txn := d.db.Txn(true)
	defer txn.Abort()
	record, err := getRecord(txn, id)
	if err != nil {
		return err
	}
	if record.Live {
		return &bulkerrors.ErrInvalidArgument{Name: "taskId", Value: id, Message: "task has not finished"}
	}
	if err := txn.Delete(tasksTable, record); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

// RemoveFinishedBefore deletes tasks that finished before cutoff and returns how many were deleted.
func (d *TaskDb) RemoveFinishedBefore(cutoff time.Time) (int, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()
	it, err := txn.Get(tasksTable, liveIndex, false)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	var expired []*taskRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		record := obj.(*taskRecord)
		if record.task.FinishedAt().Before(cutoff) {
			expired = append(expired, record)
		}
	}
	for _, record := range expired {
		if err := txn.Delete(tasksTable, record); err != nil {
			return 0, errors.WithStack(err)
		}
	}
	txn.Commit()
	return len(expired), nil
}

func getRecord(txn *memdb.Txn, id string) (*taskRecord, error) {
	obj, err := txn.First(tasksTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, &bulkerrors.ErrNotFound{Type: "task", Value: id}
	}
	return obj.(*taskRecord), nil
}

func tasksOf(records []*taskRecord) []*Task {
	tasks := make([]*Task, len(records))
	for i, record := range records {
		tasks[i] = record.task
	}
	return tasks
}

func taskDbSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tasksTable: {
				Name: tasksTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Id"},
					},
					dedupIndex: {
						Name:   dedupIndex,
						Unique: false,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "DedupKey"},
								&memdb.BoolFieldIndex{Field: "Live"},
							},
						},
					},
					liveIndex: {
						Name:    liveIndex,
						Unique:  false,
						Indexer: &memdb.BoolFieldIndex{Field: "Live"},
					},
					seqIndex: {
						Name:    seqIndex,
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "Seq"},
					},
				},
			},
		},
	}
}
