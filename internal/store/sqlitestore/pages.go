package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"followcast/internal/cache"
	"followcast/internal/util"
)

// WritePage persists one ingestion page and its progress in a single transaction.
func (d *DB) WritePage(ctx context.Context, followee string, page cache.Page) (int, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, u := range page.Users {
		hash := util.BioHash(u.Description)
		var stored string
		err := tx.QueryRowContext(ctx, `SELECT bio_hash FROM users WHERE id=?`, u.ID).Scan(&stored)
		known := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("load user %s: %w", u.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO users(id, handle, display_name, follower_count, bio, bio_hash, profile_image_url)
			VALUES(?,?,?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET handle=excluded.handle, display_name=excluded.display_name,
			follower_count=excluded.follower_count, bio=excluded.bio, bio_hash=excluded.bio_hash,
			profile_image_url=excluded.profile_image_url`,
			u.ID, u.Username, u.Name, u.FollowersCount, u.Description, hash, u.ProfileImageURL); err != nil {
			return 0, fmt.Errorf("upsert user %s: %w", u.ID, err)
		}
		if !known || stored != hash {
			if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE id=?`, u.ID); err != nil {
				return 0, err
			}
			for _, tag := range util.BioTags(u.Description) {
				if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags(tag, id) VALUES(?,?)`, tag, u.ID); err != nil {
					return 0, fmt.Errorf("insert tag: %w", err)
				}
			}
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO follow_edges(follower_id, followee_id, age) VALUES(?,?,?)
			ON CONFLICT(follower_id, followee_id) DO NOTHING`, u.ID, followee, page.StartAge+inserted)
		if err != nil {
			return 0, fmt.Errorf("insert edge %s: %w", u.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	progress := page.Progress
	progress.FolloweeID = followee
	if page.Expected > 0 {
		progress.Percent = cache.Percent(page.StartAge+inserted, page.Expected)
	}
	if err := saveProgress(ctx, tx, progress); err != nil {
		return 0, fmt.Errorf("save progress: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Tags lists a user's tags in insertion order.
func (d *DB) Tags(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT tag FROM tags WHERE id=? ORDER BY rowid`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
