package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"followcast/internal/cache"
	"followcast/internal/model"
)

// LoadProgress returns the crawl progress for followee.
func (d *DB) LoadProgress(ctx context.Context, followee string) (model.TaskProgress, error) {
	p := model.TaskProgress{FolloweeID: followee}
	var start int64
	var finish sql.NullInt64
	err := d.sql.QueryRowContext(ctx,
		`SELECT next_cursor, percent, start_time, finish_time FROM task_progress WHERE followee_id=?`, followee).
		Scan(&p.Cursor, &p.Percent, &start, &finish)
	if errors.Is(err, sql.ErrNoRows) {
		return p, cache.ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.StartedAt = fromMillis(start)
	if finish.Valid {
		t := fromMillis(finish.Int64)
		p.FinishedAt = &t
	}
	return p, nil
}

// ResetFollowee drops every edge of followee and restarts its progress.
func (d *DB) ResetFollowee(ctx context.Context, followee string, started time.Time) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM follow_edges WHERE followee_id=?`, followee); err != nil {
		return err
	}
	fresh := model.TaskProgress{FolloweeID: followee, StartedAt: started}
	if err := saveProgress(ctx, tx, fresh); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) CountEdges(ctx context.Context, followee string) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM follow_edges WHERE followee_id=?`, followee).Scan(&n)
	return n, err
}

// CompleteProgress marks the crawl finished; the cursor is cleared.
func (d *DB) CompleteProgress(ctx context.Context, followee string, finished time.Time) error {
	res, err := d.sql.ExecContext(ctx,
		`UPDATE task_progress SET next_cursor='', percent=100, finish_time=? WHERE followee_id=?`,
		toMillis(finished), followee)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cache.ErrNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveProgress(ctx context.Context, x execer, p model.TaskProgress) error {
	var finish any
	if p.FinishedAt != nil {
		finish = toMillis(*p.FinishedAt)
	}
	_, err := x.ExecContext(ctx, `INSERT INTO task_progress(followee_id, next_cursor, percent, start_time, finish_time)
		VALUES(?,?,?,?,?)
		ON CONFLICT(followee_id) DO UPDATE SET next_cursor=excluded.next_cursor, percent=excluded.percent,
		start_time=excluded.start_time, finish_time=excluded.finish_time`,
		p.FolloweeID, p.Cursor, p.Percent, toMillis(p.StartedAt), finish)
	return err
}
