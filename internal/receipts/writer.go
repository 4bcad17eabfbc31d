package receipts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends receipts inside the transaction of the operation that
// produced them, so a state change is never recorded without its receipt.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Meta map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, promiseID, actorID, action string, meta Meta) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	at := w.Now().UTC().Format(time.RFC3339)
	if meta == nil {
		meta = Meta{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal receipt meta: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO receipts(promise_id,at,actor_id,action,meta_json) VALUES (?,?,?,?,?)`,
		promiseID, at, nullable(actorID), action, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
