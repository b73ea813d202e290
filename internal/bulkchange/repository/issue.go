package repository

import (
	"context"
	"strconv"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/bulkchange/internal/bulkchange/domain"
	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

const (
	issuesTable = "issues"
	idIndex     = "id"     // lookup by primary key
	keyIndex    = "key"    // lookup by human readable key
	parentIndex = "parent" // lookup subtasks of an issue
)

type IssueRepository interface {
	GetIssue(ctx context.Context, id int64) (*domain.Issue, error)
	// GetIssues returns issues in the order of ids.
	GetIssues(ctx context.Context, ids []int64) ([]*domain.Issue, error)
	GetSubtasks(ctx context.Context, parentId int64) ([]*domain.Issue, error)
	UpdateIssue(ctx context.Context, issue *domain.Issue) error
	// DeleteIssue deletes an issue together with its subtasks.
	DeleteIssue(ctx context.Context, id int64) error
	AddWatcher(ctx context.Context, id int64, user string) error
	RemoveWatcher(ctx context.Context, id int64, user string) error
}

// MemIssueRepository is an IssueRepository backed by https://github.com/hashicorp/go-memdb.
// Stored issues are never mutated in place; updates insert a fresh copy.
type MemIssueRepository struct {
	db *memdb.MemDB
}

func NewMemIssueRepository() (*MemIssueRepository, error) {
	db, err := memdb.NewMemDB(issueDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &MemIssueRepository{db: db}, nil
}

// Seed inserts or replaces issues.
func (r *MemIssueRepository) Seed(issues ...*domain.Issue) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	for _, issue := range issues {
		if err := txn.Insert(issuesTable, issue.DeepCopy()); err != nil {
			return errors.WithStack(err)
		}
	}
	txn.Commit()
	return nil
}

func (r *MemIssueRepository) GetIssue(_ context.Context, id int64) (*domain.Issue, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	issue, err := getById(txn, id)
	if err != nil {
		return nil, err
	}
	return issue.DeepCopy(), nil
}

func (r *MemIssueRepository) GetIssueByKey(_ context.Context, key string) (*domain.Issue, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	obj, err := txn.First(issuesTable, keyIndex, key)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, &bulkerrors.ErrNotFound{Type: "issue", Value: key}
	}
	return obj.(*domain.Issue).DeepCopy(), nil
}

func (r *MemIssueRepository) GetIssues(_ context.Context, ids []int64) ([]*domain.Issue, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	issues := make([]*domain.Issue, 0, len(ids))
	for _, id := range ids {
		issue, err := getById(txn, id)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue.DeepCopy())
	}
	return issues, nil
}

func (r *MemIssueRepository) GetSubtasks(_ context.Context, parentId int64) ([]*domain.Issue, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(issuesTable, parentIndex, parentId)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var subtasks []*domain.Issue
	for obj := it.Next(); obj != nil; obj = it.Next() {
		subtasks = append(subtasks, obj.(*domain.Issue).DeepCopy())
	}
	slices.SortFunc(subtasks, func(a, b *domain.Issue) bool { return a.Id < b.Id })
	return subtasks, nil
}

func (r *MemIssueRepository) UpdateIssue(_ context.Context, issue *domain.Issue) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	if _, err := getById(txn, issue.Id); err != nil {
		return err
	}
	if err := txn.Insert(issuesTable, issue.DeepCopy()); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (r *MemIssueRepository) DeleteIssue(_ context.Context, id int64) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	issue, err := getById(txn, id)
	if err != nil {
		return err
	}
	if _, err := txn.DeleteAll(issuesTable, parentIndex, id); err != nil {
		return errors.WithStack(err)
	}
	if err := txn.Delete(issuesTable, issue); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func (r *MemIssueRepository) AddWatcher(_ context.Context, id int64, user string) error {
	return r.modify(id, func(issue *domain.Issue) {
		if !issue.IsWatchedBy(user) {
			issue.Watchers = append(issue.Watchers, user)
		}
	})
}

func (r *MemIssueRepository) RemoveWatcher(_ context.Context, id int64, user string) error {
	return r.modify(id, func(issue *domain.Issue) {
		if i := slices.Index(issue.Watchers, user); i >= 0 {
			issue.Watchers = slices.Delete(issue.Watchers, i, i+1)
		}
	})
}

func (r *MemIssueRepository) modify(id int64, f func(issue *domain.Issue)) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	existing, err := getById(txn, id)
	if err != nil {
		return err
	}
	updated := existing.DeepCopy()
	f(updated)
	if err := txn.Insert(issuesTable, updated); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

func getById(txn *memdb.Txn, id int64) (*domain.Issue, error) {
	obj, err := txn.First(issuesTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, &bulkerrors.ErrNotFound{Type: "issue", Value: strconv.FormatInt(id, 10)}
	}
	return obj.(*domain.Issue), nil
}

func issueDbSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[idIndex] = &memdb.IndexSchema{
		Name:    idIndex,
		Unique:  true,
		Indexer: &memdb.IntFieldIndex{Field: "Id"},
	}
	indexes[keyIndex] = &memdb.IndexSchema{
		Name:         keyIndex,
		Unique:       true,
		AllowMissing: true,
		Indexer:      &memdb.StringFieldIndex{Field: "Key"},
	}
	indexes[parentIndex] = &memdb.IndexSchema{
		Name:    parentIndex,
		Unique:  false,
		Indexer: &memdb.IntFieldIndex{Field: "ParentId"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			issuesTable: {
				Name:    issuesTable,
				Indexes: indexes,
			},
		},
	}
}
