package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC layout of stored timestamps.
const TimeLayout = "2006-01-02T15:04:05Z"

// Job is a row in the jobs table.
type Job struct {
	ID          int64
	Name        string
	URL         string
	OwnerUserID int64
	ChatID      int64
	CreatedAt   time.Time

	// ScheduledTime is set for scheduled entries.
	ScheduledTime *time.Time

	// Parameter is the build parameter, e.g. a version tag.
	Parameter string
}

// Scheduled reports whether the row is a scheduled entry.
func (j Job) Scheduled() bool {
	return j.ScheduledTime != nil
}

// JobRef identifies a job being referenced by a user.
type JobRef struct {
	Name        string
	URL         string
	OwnerUserID int64
	ChatID      int64
	Parameter   string
}

// ScheduleRequest turns a job row into a scheduled entry.
type ScheduleRequest struct {
	At          time.Time
	Parameter   string
	OwnerUserID int64
	ChatID      int64
}

const jobColumns = `id, name, url, owner_user_id, chat_id, created_at, scheduled_time, parameter`

// UpsertJob records a reference to ref.URL and returns its row.
//
// An existing row keeps its id and schedule; name and created_at are
// refreshed and parameter is replaced only when ref.Parameter is set. A new
// row gets the next id from the recycled id space.
func (s *Store) UpsertJob(ctx context.Context, ref JobRef) (*Job, error) {
	url := strings.Trim(strings.TrimSpace(ref.URL), "/")
	if url == "" {
		return nil, fmt.Errorf("job url is required")
	}
	name := ref.Name
	if name == "" {
		name = url[strings.LastIndex(url, "/")+1:]
	}
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM jobs WHERE url = ?`), url).Scan(&id)
	switch {
	case err == nil:
		if ref.Parameter != "" {
			_, err = tx.ExecContext(ctx,
				s.rebind(`UPDATE jobs SET name = ?, created_at = ?, parameter = ? WHERE id = ?`),
				name, now, ref.Parameter, id)
		} else {
			_, err = tx.ExecContext(ctx,
				s.rebind(`UPDATE jobs SET name = ?, created_at = ? WHERE id = ?`),
				name, now, id)
		}
		if err != nil {
			return nil, fmt.Errorf("update job: %w", err)
		}

	case errors.Is(err, sql.ErrNoRows):
		id, err = s.allocateID(ctx, tx)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO jobs (`+jobColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, NULL, ?)
			 ON CONFLICT(url) DO UPDATE SET
			   name = excluded.name,
			   created_at = excluded.created_at`),
			id, name, url, ref.OwnerUserID, ref.ChatID, now, nullString(ref.Parameter))
		if err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}

	default:
		return nil, fmt.Errorf("lookup job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job: %w", err)
	}

	return s.GetJobByURL(ctx, url)
}

// allocateID hands out the job id counter: the first free id at or after
// next_job_id, wrapping to 1 past the ceiling. A freed id is reused only once
// the counter comes back round. When every id is live the oldest unscheduled
// row is deleted and its id reused.
func (s *Store) allocateID(ctx context.Context, tx *sql.Tx) (int64, error) {
	// Take the counter row before reading it so concurrent allocations serialize.
	if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET next_job_id = next_job_id WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("lock job id counter: %w", err)
	}
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT next_job_id FROM schema_meta WHERE id = 1`).Scan(&next); err != nil {
		return 0, fmt.Errorf("read job id counter: %w", err)
	}
	if next < 1 || next > s.maxJobID {
		next = 1
	}

	id, err := s.firstFreeID(ctx, tx, next, s.maxJobID)
	if err != nil {
		return 0, err
	}
	if id == 0 && next > 1 {
		id, err = s.firstFreeID(ctx, tx, 1, next-1)
		if err != nil {
			return 0, err
		}
	}
	if id == 0 {
		id, err = s.recycleOldest(ctx, tx)
		if err != nil {
			return 0, err
		}
	}

	following := id + 1
	if following > s.maxJobID {
		following = 1
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE schema_meta SET next_job_id = ? WHERE id = 1`), following); err != nil {
		return 0, fmt.Errorf("advance job id counter: %w", err)
	}
	return id, nil
}

// firstFreeID returns the lowest id in [from, to] without a row, or 0.
func (s *Store) firstFreeID(ctx context.Context, tx *sql.Tx, from, to int64) (int64, error) {
	rows, err := tx.QueryContext(ctx, s.rebind(`SELECT id FROM jobs WHERE id >= ? AND id <= ? ORDER BY id`), from, to)
	if err != nil {
		return 0, fmt.Errorf("scan job ids: %w", err)
	}
	defer rows.Close()

	expect := from
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("scan job id: %w", err)
		}
		if id > expect {
			break
		}
		expect = id + 1
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate job ids: %w", err)
	}
	if expect <= to {
		return expect, nil
	}
	return 0, nil
}

func (s *Store) recycleOldest(ctx context.Context, tx *sql.Tx) (int64, error) {
	var victim int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM jobs WHERE scheduled_time IS NULL ORDER BY created_at, id LIMIT 1`).Scan(&victim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrIDSpaceExhausted
	}
	if err != nil {
		return 0, fmt.Errorf("select recyclable job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE id = ?`), victim); err != nil {
		return 0, fmt.Errorf("recycle job id: %w", err)
	}
	return victim, nil
}

// GetJob returns the row with id, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// GetJobByURL returns the row for url, or ErrNotFound.
func (s *Store) GetJobByURL(ctx context.Context, url string) (*Job, error) {
	url = strings.Trim(strings.TrimSpace(url), "/")
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE url = ?`), url)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %q: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Schedule makes job id a scheduled entry owned by req.OwnerUserID.
func (s *Store) Schedule(ctx context.Context, id int64, req ScheduleRequest) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE jobs SET scheduled_time = ?, parameter = ?, owner_user_id = ?, chat_id = ? WHERE id = ?`),
		formatTime(req.At), nullString(req.Parameter), req.OwnerUserID, req.ChatID, id)
	if err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	return expectOneRow(res, id)
}

// UpdateScheduledTime moves an existing scheduled entry to at.
func (s *Store) UpdateScheduledTime(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE jobs SET scheduled_time = ? WHERE id = ? AND scheduled_time IS NOT NULL`),
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update scheduled time: %w", err)
	}
	return expectOneRow(res, id)
}

// Delete removes job id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return expectOneRow(res, id)
}

// DeleteFired removes scheduled entry id if it is still scheduled at
// scheduledTime. It reports false when the entry was moved or removed in the
// meantime, in which case the row is left alone.
func (s *Store) DeleteFired(ctx context.Context, id int64, scheduledTime time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM jobs WHERE id = ? AND scheduled_time = ?`),
		id, formatTime(scheduledTime))
	if err != nil {
		return false, fmt.Errorf("delete fired job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListDue returns scheduled entries with scheduled_time <= now, oldest first.
func (s *Store) ListDue(ctx context.Context, now time.Time) ([]Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE scheduled_time IS NOT NULL AND scheduled_time <= ?
		 ORDER BY scheduled_time, id`,
		formatTime(now))
}

// ListScheduled returns every scheduled entry ordered by time.
func (s *Store) ListScheduled(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE scheduled_time IS NOT NULL
		 ORDER BY scheduled_time, id`)
}

// ListScheduledByOwner returns the scheduled entries of one user.
func (s *Store) ListScheduledByOwner(ctx context.Context, ownerUserID int64) ([]Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE scheduled_time IS NOT NULL AND owner_user_id = ?
		 ORDER BY scheduled_time, id`,
		ownerUserID)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		j         Job
		createdAt string
		scheduled sql.NullString
		param     sql.NullString
	)
	if err := r.Scan(&j.ID, &j.Name, &j.URL, &j.OwnerUserID, &j.ChatID, &createdAt, &scheduled, &param); err != nil {
		return nil, err
	}

	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of job %d: %w", j.ID, err)
	}
	j.CreatedAt = t

	if scheduled.Valid && scheduled.String != "" {
		at, err := parseTime(scheduled.String)
		if err != nil {
			return nil, fmt.Errorf("parse scheduled_time of job %d: %w", j.ID, err)
		}
		j.ScheduledTime = &at
	}
	j.Parameter = param.String
	return &j, nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
