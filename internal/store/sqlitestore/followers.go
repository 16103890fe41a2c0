package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"followcast/internal/cache"
	"followcast/internal/model"
)

// QueryFollowers answers a filtered, sorted, paginated follower query.
func (d *DB) QueryFollowers(ctx context.Context, q cache.FollowerQuery) ([]model.Follower, error) {
	table := historyTable(q.Rehearsal)
	var sb strings.Builder
	args := []any{q.CampaignID, q.Followee}
	fmt.Fprintf(&sb, `SELECT u.id, u.handle, u.display_name, u.bio, e.age, u.follower_count, u.profile_image_url, h.sent_at
		FROM follow_edges e
		JOIN users u ON u.id = e.follower_id
		LEFT JOIN (SELECT recipient_id, MAX(sent_at) AS sent_at FROM %s WHERE campaign_id=? GROUP BY recipient_id) h
		  ON h.recipient_id = u.id
		WHERE e.followee_id=?`, table)
	if !q.IncludeContacted {
		sb.WriteString(` AND h.recipient_id IS NULL`)
	}
	if len(q.Tags) > 0 {
		sb.WriteString(` AND EXISTS (SELECT 1 FROM tags t WHERE t.id = u.id AND t.tag IN (`)
		for i, tag := range q.Tags {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("?")
			args = append(args, tag)
		}
		sb.WriteString("))")
	}
	if q.Sort == model.SortInfluence {
		sb.WriteString(` ORDER BY u.follower_count DESC, u.id`)
	} else {
		sb.WriteString(` ORDER BY e.age ASC, u.id`)
	}
	// SQLite needs a LIMIT clause before OFFSET; -1 means unbounded.
	switch {
	case q.Limit != nil && q.Offset != nil:
		sb.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, *q.Limit, *q.Offset)
	case q.Limit != nil:
		sb.WriteString(` LIMIT ?`)
		args = append(args, *q.Limit)
	case q.Offset != nil:
		sb.WriteString(` LIMIT -1 OFFSET ?`)
		args = append(args, *q.Offset)
	}

	rows, err := d.sql.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Follower{}
	for rows.Next() {
		var f model.Follower
		var sent sql.NullInt64
		if err := rows.Scan(&f.ID, &f.Username, &f.Name, &f.Description, &f.Age, &f.FollowersCount, &f.ProfileImageURL, &sent); err != nil {
			return nil, err
		}
		if sent.Valid {
			t := fromMillis(sent.Int64)
			f.ContactedAt = &t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
