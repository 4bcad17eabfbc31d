package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pactline/internal/domain"
)

// ListReceipts returns the promise's receipts oldest first.
func (r Repo) ListReceipts(ctx context.Context, promiseID string) ([]domain.Receipt, error) {
	return r.listReceipts(ctx, r.DB, promiseID)
}

func (r Repo) listReceipts(ctx context.Context, q querier, promiseID string) ([]domain.Receipt, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,promise_id,at,actor_id,action,meta_json FROM receipts WHERE promise_id=? ORDER BY id ASC`, promiseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReceipts(rows)
}

// ReceiptsAfter returns up to limit receipts with id greater than afterID, in
// append order. The webhook dispatcher uses this as its cursor feed.
func (r Repo) ReceiptsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Receipt, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,promise_id,at,actor_id,action,meta_json FROM receipts WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReceipts(rows)
}

// LatestReceiptID returns the highest receipt id, or 0 when empty.
func (r Repo) LatestReceiptID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM receipts`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func collectReceipts(rows *sql.Rows) ([]domain.Receipt, error) {
	var res []domain.Receipt
	for rows.Next() {
		var rec domain.Receipt
		var actorID sql.NullString
		var metaJSON string
		if err := rows.Scan(&rec.ID, &rec.PromiseID, &rec.At, &actorID, &rec.Action, &metaJSON); err != nil {
			return nil, err
		}
		rec.ActorID = actorID.String
		if err := json.Unmarshal([]byte(metaJSON), &rec.Meta); err != nil {
			return nil, fmt.Errorf("receipt %d meta: %w", rec.ID, err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
