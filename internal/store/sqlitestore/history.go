package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"followcast/internal/model"
)

// AppendHistory records one send in the live or rehearsal table.
func (d *DB) AppendHistory(ctx context.Context, e model.HistoryEvent, rehearsal bool) error {
	q := fmt.Sprintf(`INSERT INTO %s(campaign_id, recipient_id, sent_at) VALUES(?,?,?)`, historyTable(rehearsal))
	_, err := d.sql.ExecContext(ctx, q, e.CampaignID, e.RecipientID, toMillis(e.SentAt))
	return err
}

// RecentSends returns the latest limit send times across all campaigns, oldest first.
func (d *DB) RecentSends(ctx context.Context, rehearsal bool, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`SELECT sent_at FROM %s ORDER BY sent_at DESC LIMIT ?`, historyTable(rehearsal))
	rows, err := d.sql.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, fromMillis(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
