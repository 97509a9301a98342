package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	gofastererrors "github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"

	"github.com/mindforge/altec/pkg/altec/task"
)

// PostgresTaskStore persists Task rows durably. It implements the
// task-lifecycle half of StateStore; lock/heartbeat operations are
// delegated to RedisLockStore by CompositeStore.
type PostgresTaskStore struct {
	db *sqlx.DB
}

// NewPostgresTaskStore wraps an open *sqlx.DB.
func NewPostgresTaskStore(db *sqlx.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

type taskRow struct {
	ID              string         `db:"id"`
	Kind            string         `db:"kind"`
	ResourceID      string         `db:"resource_id"`
	Status          string         `db:"status"`
	PhaseCursor     int            `db:"phase_cursor"`
	Checkpoint      []byte         `db:"checkpoint"`
	ProgressPercent float64        `db:"progress_percent"`
	ProgressMessage string         `db:"progress_message"`
	PolicyJSON      []byte         `db:"policy_json"`
	StartedAt       sql.NullTime   `db:"started_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	Attempts        int            `db:"attempts"`
	ErrorKind       sql.NullString `db:"error_kind"`
	ErrorMessage    sql.NullString `db:"error_message"`
	ResultRef       sql.NullString `db:"result_ref"`
	OwnerWorker     sql.NullString `db:"owner_worker"`
	CancelRequested bool           `db:"cancel_requested"`
	Deleted         bool           `db:"deleted"`
}

func (r *taskRow) toTask() (*task.Task, error) {
	t := &task.Task{
		ID:              r.ID,
		Key:             task.Key{Kind: task.Kind(r.Kind), ResourceID: r.ResourceID},
		Status:          task.Status(r.Status),
		PhaseCursor:     r.PhaseCursor,
		Checkpoint:      r.Checkpoint,
		ProgressPercent: r.ProgressPercent,
		ProgressMessage: r.ProgressMessage,
		UpdatedAt:       r.UpdatedAt,
		Attempts:        r.Attempts,
		CancelRequested: r.CancelRequested,
		Deleted:         r.Deleted,
	}
	if r.StartedAt.Valid {
		t.StartedAt = r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		t.CompletedAt = r.CompletedAt.Time
	}
	if r.ResultRef.Valid {
		t.ResultRef = r.ResultRef.String
	}
	if r.OwnerWorker.Valid {
		t.OwnerWorker = r.OwnerWorker.String
	}
	if r.ErrorKind.Valid {
		t.Error = &task.TaskError{Kind: task.ErrorKind(r.ErrorKind.String), Message: r.ErrorMessage.String}
	}
	if len(r.PolicyJSON) > 0 {
		if err := json.Unmarshal(r.PolicyJSON, &t.Policy); err != nil {
			return nil, gofastererrors.Wrap(err, "unmarshal policy")
		}
	}
	return t, nil
}

const selectTaskSQL = `
SELECT id, kind, resource_id, status, phase_cursor, checkpoint, progress_percent,
       progress_message, policy_json, started_at, updated_at, completed_at,
       attempts, error_kind, error_message, result_ref, owner_worker, cancel_requested, deleted
FROM altec_tasks WHERE kind = $1 AND resource_id = $2`

// PutTaskIfAbsent inserts initial for key, or returns the existing row.
func (s *PostgresTaskStore) PutTaskIfAbsent(ctx context.Context, key task.Key, initial *task.Task) (PutResult, error) {
	policyJSON, err := json.Marshal(initial.Policy)
	if err != nil {
		return PutResult{}, gofastererrors.Wrap(err, "marshal policy")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO altec_tasks (id, kind, resource_id, status, phase_cursor, progress_percent,
		                         progress_message, policy_json, updated_at, attempts, cancel_requested)
		VALUES ($1, $2, $3, $4, 0, 0, '', $5, now(), 0, false)
		ON CONFLICT (kind, resource_id) DO NOTHING`,
		initial.ID, string(key.Kind), key.ResourceID, string(initial.Status), policyJSON)
	if err != nil {
		return PutResult{}, gofastererrors.Wrap(err, "insert task")
	}

	var row taskRow
	if err := s.db.GetContext(ctx, &row, selectTaskSQL, string(key.Kind), key.ResourceID); err != nil {
		return PutResult{}, gofastererrors.Wrap(err, "load task after insert")
	}
	if row.ID == initial.ID {
		return PutResult{Created: true}, nil
	}
	existing, err := row.toTask()
	if err != nil {
		return PutResult{}, err
	}
	return PutResult{Created: false, Existing: existing}, nil
}

// LoadTask returns the current row for key.
func (s *PostgresTaskStore) LoadTask(ctx context.Context, key task.Key) (*task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, selectTaskSQL, string(key.Kind), key.ResourceID)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, gofastererrors.Wrap(err, "load task")
	}
	return row.toTask()
}

// UpdateTaskProgress commits a phase boundary, guarded by ownerWorker.
func (s *PostgresTaskStore) UpdateTaskProgress(ctx context.Context, key task.Key, ownerWorker string, update ProgressUpdate) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE altec_tasks
		SET phase_cursor = $1, checkpoint = $2, progress_percent = $3,
		    progress_message = $4, updated_at = now()
		WHERE kind = $5 AND resource_id = $6 AND owner_worker = $7`,
		update.PhaseCursor, update.Checkpoint, update.ProgressPercent, update.ProgressMessage,
		string(key.Kind), key.ResourceID, ownerWorker)
	if err != nil {
		return gofastererrors.Wrap(err, "update task progress")
	}
	return requireRowAffected(result)
}

// FinalizeTask transitions a Task to COMPLETED or FAILED, guarded by ownerWorker.
func (s *PostgresTaskStore) FinalizeTask(ctx context.Context, key task.Key, ownerWorker string, final Finalization) error {
	var errKind, errMessage sql.NullString
	if final.Error != nil {
		errKind = sql.NullString{String: string(final.Error.Kind), Valid: true}
		errMessage = sql.NullString{String: final.Error.Message, Valid: true}
	}
	progress := 0.0
	if final.Status == task.StatusCompleted {
		progress = 100.0
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE altec_tasks
		SET status = $1, result_ref = $2, error_kind = $3, error_message = $4,
		    progress_percent = GREATEST(progress_percent, $5), completed_at = now(),
		    updated_at = now(), owner_worker = NULL
		WHERE kind = $6 AND resource_id = $7 AND owner_worker = $8`,
		string(final.Status), nullIfEmpty(final.ResultRef), errKind, errMessage, progress,
		string(key.Kind), key.ResourceID, ownerWorker)
	if err != nil {
		return gofastererrors.Wrap(err, "finalize task")
	}
	return requireRowAffected(result)
}

// MarkAbandoned transitions a RUNNING Task to ABANDONED, incrementing attempts.
func (s *PostgresTaskStore) MarkAbandoned(ctx context.Context, key task.Key) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE altec_tasks
		SET status = $1, attempts = attempts + 1, updated_at = now(), owner_worker = NULL
		WHERE kind = $2 AND resource_id = $3 AND status = $4`,
		string(task.StatusAbandoned), string(key.Kind), key.ResourceID, string(task.StatusRunning))
	if err != nil {
		return gofastererrors.Wrap(err, "mark task abandoned")
	}
	return nil
}

// RequestCancel sets the cancel flag observed by the executor's next heartbeat.
func (s *PostgresTaskStore) RequestCancel(ctx context.Context, key task.Key) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE altec_tasks SET cancel_requested = true, updated_at = now()
		WHERE kind = $1 AND resource_id = $2`,
		string(key.Kind), key.ResourceID)
	if err != nil {
		return gofastererrors.Wrap(err, "request cancel")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return gofastererrors.Wrap(err, "read rows affected")
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// MarkDeleted tombstones a Task row on explicit resource deletion.
func (s *PostgresTaskStore) MarkDeleted(ctx context.Context, key task.Key) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE altec_tasks SET deleted = true, updated_at = now()
		WHERE kind = $1 AND resource_id = $2`,
		string(key.Kind), key.ResourceID)
	if err != nil {
		return gofastererrors.Wrap(err, "mark task deleted")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return gofastererrors.Wrap(err, "read rows affected")
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// listRunningPastLease returns keys of RUNNING tasks whose lock_lease
// (from their persisted policy) has elapsed since updated_at, i.e. whose
// heartbeat has stopped arriving.
func (s *PostgresTaskStore) listRunningPastLease(ctx context.Context, now time.Time) ([]task.Key, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT kind, resource_id, policy_json, updated_at FROM altec_tasks WHERE status = $1`,
		string(task.StatusRunning))
	if err != nil {
		return nil, gofastererrors.Wrap(err, "scan running tasks")
	}
	defer rows.Close()

	var expired []task.Key
	for rows.Next() {
		var kind, resourceID string
		var policyJSON []byte
		var updatedAt time.Time
		if err := rows.Scan(&kind, &resourceID, &policyJSON, &updatedAt); err != nil {
			return nil, gofastererrors.Wrap(err, "scan running task row")
		}
		var policy task.Policy
		if len(policyJSON) > 0 {
			if err := json.Unmarshal(policyJSON, &policy); err != nil {
				return nil, gofastererrors.Wrap(err, "unmarshal policy")
			}
		}
		if policy.LockLease > 0 && now.After(updatedAt.Add(policy.LockLease)) {
			expired = append(expired, task.Key{Kind: task.Kind(kind), ResourceID: resourceID})
		}
	}
	return expired, rows.Err()
}

func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return gofastererrors.Wrap(err, "read rows affected")
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
