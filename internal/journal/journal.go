// Package journal persists profiling task admissions and outcomes in duckdb
// so that an agent restart does not forget which tasks it already ran.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	cerrors "github.com/coral-mesh/coral-profiler/internal/errors"
	"github.com/coral-mesh/coral-profiler/internal/profiling/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiling_tasks (
	task_id     VARCHAR PRIMARY KEY,
	create_time BIGINT NOT NULL,
	format      VARCHAR NOT NULL,
	duration    INTEGER NOT NULL,
	state       VARCHAR NOT NULL,
	detail      VARCHAR NOT NULL,
	accepted_at BIGINT NOT NULL,
	finished_at BIGINT NOT NULL
)`

// Record is one journaled task. Times are Unix milliseconds; FinishedAt is
// zero until the task reaches a terminal state.
type Record struct {
	TaskID     string `duckdb:"task_id,pk"`
	CreateTime int64  `duckdb:"create_time"`
	Format     string `duckdb:"format"`
	Duration   int    `duckdb:"duration"`
	State      string `duckdb:"state"`
	Detail     string `duckdb:"detail"`
	AcceptedAt int64  `duckdb:"accepted_at"`
	FinishedAt int64  `duckdb:"finished_at"`
}

// Journal is a duckdb-backed task journal.
type Journal struct {
	db     *sql.DB
	tasks  *table[Record]
	logger zerolog.Logger
	now    func() time.Time
}

// Open opens or creates the journal at path. Use MemoryPath for a journal
// that does not outlive the process.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Journal, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{
		db:     db,
		tasks:  newTable[Record]("profiling_tasks"),
		logger: logger.With().Str("component", "journal").Logger(),
		now:    time.Now,
	}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// LastCreateTime returns the newest create time ever accepted, or zero.
func (j *Journal) LastCreateTime(ctx context.Context) (int64, error) {
	var last int64
	err := j.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(create_time), 0) FROM profiling_tasks").Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("failed to read last create time: %w", err)
	}
	return last, nil
}

// RecordAccepted journals an admitted task in the starting state.
func (j *Journal) RecordAccepted(ctx context.Context, t *task.Task) error {
	rec := &Record{
		TaskID:     t.ID(),
		CreateTime: t.CreateTime(),
		Format:     t.Format().String(),
		Duration:   t.DurationSeconds(),
		State:      task.StateStarting.String(),
		AcceptedAt: j.now().UnixMilli(),
	}
	if err := j.tasks.upsert(ctx, j.db, rec); err != nil {
		return fmt.Errorf("failed to journal task %s: %w", t.ID(), err)
	}
	return nil
}

// RecordOutcome marks a journaled task finished with state and detail.
func (j *Journal) RecordOutcome(ctx context.Context, taskID string, state task.State, detail string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer cerrors.DeferRollback(j.logger, tx)

	rec, err := j.tasks.get(ctx, tx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s is not journaled", taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	rec.State = state.String()
	rec.Detail = detail
	rec.FinishedAt = j.now().UnixMilli()
	if err := j.tasks.upsert(ctx, tx, rec); err != nil {
		return fmt.Errorf("failed to journal outcome of %s: %w", taskID, err)
	}
	return tx.Commit()
}

// Get returns the record of taskID.
func (j *Journal) Get(ctx context.Context, taskID string) (*Record, error) {
	return j.tasks.get(ctx, j.db, taskID)
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	return j.tasks.list(ctx, j.db, "", fmt.Sprintf("create_time DESC LIMIT %d", limit))
}

// Prune deletes finished tasks older than retention. The newest task is always
// kept so that LastCreateTime survives pruning.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := j.now().Add(-retention).UnixMilli()
	res, err := j.db.ExecContext(ctx, `
		DELETE FROM profiling_tasks
		WHERE finished_at > 0
		  AND finished_at < ?
		  AND create_time < (SELECT MAX(create_time) FROM profiling_tasks)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Debug().Int64("deleted", n).Msg("Pruned task journal")
	}
	return n, nil
}
