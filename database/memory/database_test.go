package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediabot/database"
	"mediabot/database/memory"
)

func TestJobInfo(t *testing.T) {
	t.Run("given new job when created then find it pending", func(t *testing.T) {
		db := memory.New()
		require.NoError(t, db.CreateJobInfo(&database.JobInfo{ID: "job-1", WSURL: "wss://example.com"}))

		info, err := db.FindJobInfoByID("job-1")
		require.NoError(t, err)
		assert.Equal(t, database.JobPending, info.Status)
		assert.Equal(t, "wss://example.com", info.WSURL)
		assert.False(t, info.CreatedAt.IsZero())
		assert.Nil(t, info.FinishedAt)
	})

	t.Run("given existing job when created again then return already exists", func(t *testing.T) {
		db := memory.New()
		require.NoError(t, db.CreateJobInfo(&database.JobInfo{ID: "job-1"}))
		assert.ErrorIs(t, db.CreateJobInfo(&database.JobInfo{ID: "job-1"}), database.ErrJobAlreadyExists)
	})

	t.Run("given unknown job when found then return not found", func(t *testing.T) {
		db := memory.New()
		_, err := db.FindJobInfoByID("missing")
		assert.ErrorIs(t, err, database.ErrJobNotFound)
		_, err = db.UpdateJobInfoState("missing", "connecting")
		assert.ErrorIs(t, err, database.ErrJobNotFound)
	})

	t.Run("given state update when applied then job is running", func(t *testing.T) {
		db := memory.New()
		require.NoError(t, db.CreateJobInfo(&database.JobInfo{ID: "job-1"}))

		info, err := db.UpdateJobInfoState("job-1", "producing")
		require.NoError(t, err)
		assert.Equal(t, database.JobRunning, info.Status)
		assert.Equal(t, "producing", info.State)
	})

	t.Run("given finished job when finished again then return error", func(t *testing.T) {
		db := memory.New()
		require.NoError(t, db.CreateJobInfo(&database.JobInfo{ID: "job-1"}))

		info, err := db.FinishJobInfo("job-1", errors.New("connect: refused"))
		require.NoError(t, err)
		assert.Equal(t, database.JobFailed, info.Status)
		assert.Equal(t, "connect: refused", info.Error)
		require.NotNil(t, info.FinishedAt)

		_, err = db.FinishJobInfo("job-1", nil)
		assert.ErrorIs(t, err, database.ErrJobFinished)
		_, err = db.UpdateJobInfoState("job-1", "closed")
		assert.ErrorIs(t, err, database.ErrJobFinished)
	})

	t.Run("given returned copy when mutated then stored job is unchanged", func(t *testing.T) {
		db := memory.New()
		require.NoError(t, db.CreateJobInfo(&database.JobInfo{ID: "job-1"}))

		info, err := db.FindJobInfoByID("job-1")
		require.NoError(t, err)
		info.Status = database.JobSucceeded

		stored, err := db.FindJobInfoByID("job-1")
		require.NoError(t, err)
		assert.Equal(t, database.JobPending, stored.Status)
	})

	t.Run("given jobs in several states when found by status then return oldest first", func(t *testing.T) {
		db := memory.New()
		now := time.Now()
		require.NoError(t, db.CreateJobInfo(&database.JobInfo{ID: "b", CreatedAt: now.Add(time.Second)}))
		require.NoError(t, db.CreateJobInfo(&database.JobInfo{ID: "a", CreatedAt: now}))
		require.NoError(t, db.CreateJobInfo(&database.JobInfo{ID: "c", CreatedAt: now}))
		_, err := db.FinishJobInfo("c", nil)
		require.NoError(t, err)

		pending, err := db.FindJobInfosByStatus(database.JobPending)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "a", pending[0].ID)
		assert.Equal(t, "b", pending[1].ID)

		done, err := db.FindJobInfosByStatus(database.JobSucceeded)
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, "c", done[0].ID)
	})
}
