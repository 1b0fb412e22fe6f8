// Package database provides an interface for database operations.
package database

import (
	"errors"
)

var (
	// ErrJobAlreadyExists is returned when the job already exists.
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrJobNotFound is returned when the job is not found.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished is returned when updating a job that already finished.
	ErrJobFinished = errors.New("job already finished")
)

// Database is an interface for database operations.
type Database interface {
	CreateJobInfo(info *JobInfo) error
	FindJobInfoByID(id string) (*JobInfo, error)
	FindJobInfosByStatus(status JobStatus) ([]*JobInfo, error)
	UpdateJobInfoState(id, state string) (*JobInfo, error)
	FinishJobInfo(id string, jobErr error) (*JobInfo, error)
}
