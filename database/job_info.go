package database

import "time"

// JobStatus is the outcome stage of a join job.
type JobStatus string

const (
	// JobPending is a job accepted but not started.
	JobPending JobStatus = "pending"

	// JobRunning is a job whose session is running.
	JobRunning JobStatus = "running"

	// JobSucceeded is a job whose session finished without error.
	JobSucceeded JobStatus = "success"

	// JobFailed is a job whose session failed.
	JobFailed JobStatus = "failed"
)

// JobInfo is a struct for join job information.
type JobInfo struct {
	ID         string     `json:"job_id"`
	WSURL      string     `json:"ws_url"`
	SuccessURL string     `json:"success_url,omitempty"`
	FailureURL string     `json:"failure_url,omitempty"`
	Status     JobStatus  `json:"status"`
	State      string     `json:"state,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the job reached a final status.
func (j *JobInfo) Finished() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// UpdateState records the session state and marks the job running.
func (j *JobInfo) UpdateState(state string) {
	j.State = state
	if j.Status == JobPending {
		j.Status = JobRunning
	}
}

// Finish records the outcome of the job.
func (j *JobInfo) Finish(err error, at time.Time) {
	if err != nil {
		j.Status = JobFailed
		j.Error = err.Error()
	} else {
		j.Status = JobSucceeded
	}
	j.FinishedAt = &at
}

// DeepCopy creates a deep copy of the given JobInfo.
func (j *JobInfo) DeepCopy() *JobInfo {
	c := *j
	if j.FinishedAt != nil {
		at := *j.FinishedAt
		c.FinishedAt = &at
	}
	return &c
}
