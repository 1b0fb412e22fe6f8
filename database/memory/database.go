// Package memory provides an in-memory database implementation.
package memory

import (
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"

	"mediabot/database"
)

// DB is a memory-backed database.
type DB struct {
	db *memdb.MemDB
}

// New creates a new memory-backed database.
func New() *DB {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		panic(err)
	}
	return &DB{db: db}
}

// CreateJobInfo stores a new job. Its status defaults to pending.
func (d *DB) CreateJobInfo(info *database.JobInfo) error {
	txn := d.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tblJobs, idxJobID, info.ID)
	if err != nil {
		return fmt.Errorf("find job by id: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%s: %w", info.ID, database.ErrJobAlreadyExists)
	}

	stored := info.DeepCopy()
	if stored.Status == "" {
		stored.Status = database.JobPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if err := txn.Insert(tblJobs, stored); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	txn.Commit()
	return nil
}

// FindJobInfoByID finds a job by its ID.
func (d *DB) FindJobInfoByID(id string) (*database.JobInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tblJobs, idxJobID, id)
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", id, database.ErrJobNotFound)
	}
	return raw.(*database.JobInfo).DeepCopy(), nil
}

// FindJobInfosByStatus returns the jobs with the given status, oldest first.
func (d *DB) FindJobInfosByStatus(status database.JobStatus) ([]*database.JobInfo, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(tblJobs, idxJobStatus, string(status))
	if err != nil {
		return nil, fmt.Errorf("find jobs by status: %w", err)
	}

	var infos []*database.JobInfo
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		infos = append(infos, raw.(*database.JobInfo).DeepCopy())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos, nil
}

// UpdateJobInfoState records the session state of a running job.
func (d *DB) UpdateJobInfoState(id, state string) (*database.JobInfo, error) {
	return d.update(id, func(info *database.JobInfo) {
		info.UpdateState(state)
	})
}

// FinishJobInfo records the outcome of a job. A job finishes only once.
func (d *DB) FinishJobInfo(id string, jobErr error) (*database.JobInfo, error) {
	return d.update(id, func(info *database.JobInfo) {
		info.Finish(jobErr, time.Now())
	})
}

func (d *DB) update(id string, apply func(info *database.JobInfo)) (*database.JobInfo, error) {
	txn := d.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tblJobs, idxJobID, id)
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", id, database.ErrJobNotFound)
	}

	info := raw.(*database.JobInfo).DeepCopy()
	if info.Finished() {
		return nil, fmt.Errorf("%s: %w", id, database.ErrJobFinished)
	}
	apply(info)
	if err := txn.Insert(tblJobs, info); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	txn.Commit()
	return info.DeepCopy(), nil
}
