package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pactline/internal/domain"
)

// Repo is the persistence boundary for the promise aggregate. Mutations that
// belong to one logical operation run inside a caller-owned transaction so a
// status change and its receipt commit or roll back together.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStaleStatus reports that a conditional status update matched the promise
// but not its expected current status (a concurrent transition won).
var ErrStaleStatus = errors.New("promise status changed concurrently")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// InsertPromiseTx stores a new aggregate: the promise row plus its owned
// participants and conditions.
func (r Repo) InsertPromiseTx(ctx context.Context, tx *sql.Tx, p domain.Promise) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO promises(id,type,title,description,status,seriousness,visibility,share_code,timezone,start_at,due_at,auto_breach_enabled,auto_breach_grace_minutes,preferred_view,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Type, p.Title, nullable(p.Description), p.Status, p.Seriousness, p.Visibility, p.ShareCode,
		p.Timezone, nullableStringPtr(p.StartAt), nullableStringPtr(p.DueAt),
		boolToInt(p.AutoBreach.Enabled), p.AutoBreach.GraceMinutes, p.PreferredView, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert promise: %w", err)
	}
	for i, part := range p.Participants {
		if err := r.insertParticipant(ctx, tx, p.ID, part, i); err != nil {
			return err
		}
	}
	for i, c := range p.Conditions {
		if err := r.insertCondition(ctx, tx, p.ID, c, i); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) insertParticipant(ctx context.Context, tx *sql.Tx, promiseID string, part domain.Participant, position int) error {
	var sigMethod, sigData any
	if part.Signature != nil {
		sigMethod = part.Signature.Method
		sigData = nullable(part.Signature.Data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO participants(promise_id,user_id,role,status,accepted_at,signature_method,signature_data,position)
VALUES (?,?,?,?,?,?,?,?)`,
		promiseID, part.UserID, part.Role, part.Status, nullableStringPtr(part.AcceptedAt), sigMethod, sigData, position)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (r Repo) insertCondition(ctx context.Context, tx *sql.Tx, promiseID string, c domain.Condition, position int) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO conditions(id,promise_id,label,type,deadline_at,action_key,requires_evidence,consequence_kind,consequence_text,is_met,met_at,position,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, promiseID, c.Label, c.Type, nullableStringPtr(c.Rule.DeadlineAt), nullable(c.Rule.ActionKey),
		boolToInt(c.Rule.RequiresEvidence), c.Consequence.Kind, nullable(c.Consequence.Text),
		boolToInt(c.IsMet), nullableStringPtr(c.MetAt), position, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert condition: %w", err)
	}
	return nil
}

const promiseColumns = `id,type,title,COALESCE(description,''),status,seriousness,visibility,share_code,timezone,start_at,due_at,auto_breach_enabled,auto_breach_grace_minutes,preferred_view,created_at,updated_at,deleted_at`

func scanPromise(row *sql.Row) (domain.Promise, error) {
	var p domain.Promise
	var startAt, dueAt, deletedAt sql.NullString
	var abEnabled int
	err := row.Scan(&p.ID, &p.Type, &p.Title, &p.Description, &p.Status, &p.Seriousness, &p.Visibility, &p.ShareCode,
		&p.Timezone, &startAt, &dueAt, &abEnabled, &p.AutoBreach.GraceMinutes, &p.PreferredView,
		&p.CreatedAt, &p.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.AutoBreach.Enabled = abEnabled != 0
	p.StartAt = ptrFromNull(startAt)
	p.DueAt = ptrFromNull(dueAt)
	p.DeletedAt = ptrFromNull(deletedAt)
	return p, nil
}

// GetPromise loads the full aggregate by id, excluding soft-deleted promises.
func (r Repo) GetPromise(ctx context.Context, id string) (domain.Promise, error) {
	return r.GetPromiseTx(ctx, nil, id)
}

// GetPromiseTx is GetPromise inside a caller transaction.
func (r Repo) GetPromiseTx(ctx context.Context, tx *sql.Tx, id string) (domain.Promise, error) {
	q := r.q(tx)
	p, err := scanPromise(q.QueryRowContext(ctx, `SELECT `+promiseColumns+` FROM promises WHERE id=? AND deleted_at IS NULL`, id))
	if err != nil {
		return p, err
	}
	if err := r.loadChildren(ctx, q, &p); err != nil {
		return p, err
	}
	return p, nil
}

// GetByShareCode loads the aggregate by share code, excluding soft-deleted
// promises. Visibility gating is the caller's concern.
func (r Repo) GetByShareCode(ctx context.Context, code string) (domain.Promise, error) {
	p, err := scanPromise(r.DB.QueryRowContext(ctx, `SELECT `+promiseColumns+` FROM promises WHERE share_code=? AND deleted_at IS NULL`, code))
	if err != nil {
		return p, err
	}
	if err := r.loadChildren(ctx, r.DB, &p); err != nil {
		return p, err
	}
	return p, nil
}

// ListByUser returns all non-deleted promises the user participates in,
// newest update first.
func (r Repo) ListByUser(ctx context.Context, userID string) ([]domain.Promise, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+qualifiedPromiseColumns()+` FROM promises p
JOIN participants pa ON pa.promise_id = p.id
WHERE pa.user_id=? AND p.deleted_at IS NULL
ORDER BY p.updated_at DESC, p.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Promise
	for rows.Next() {
		p, err := scanPromiseRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if err := r.loadChildren(ctx, r.DB, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func qualifiedPromiseColumns() string {
	return `p.id,p.type,p.title,COALESCE(p.description,''),p.status,p.seriousness,p.visibility,p.share_code,p.timezone,p.start_at,p.due_at,p.auto_breach_enabled,p.auto_breach_grace_minutes,p.preferred_view,p.created_at,p.updated_at,p.deleted_at`
}

func scanPromiseRows(rows *sql.Rows) (domain.Promise, error) {
	var p domain.Promise
	var startAt, dueAt, deletedAt sql.NullString
	var abEnabled int
	err := rows.Scan(&p.ID, &p.Type, &p.Title, &p.Description, &p.Status, &p.Seriousness, &p.Visibility, &p.ShareCode,
		&p.Timezone, &startAt, &dueAt, &abEnabled, &p.AutoBreach.GraceMinutes, &p.PreferredView,
		&p.CreatedAt, &p.UpdatedAt, &deletedAt)
	if err != nil {
		return p, err
	}
	p.AutoBreach.Enabled = abEnabled != 0
	p.StartAt = ptrFromNull(startAt)
	p.DueAt = ptrFromNull(dueAt)
	p.DeletedAt = ptrFromNull(deletedAt)
	return p, nil
}

func (r Repo) loadChildren(ctx context.Context, q querier, p *domain.Promise) error {
	parts, err := r.listParticipants(ctx, q, p.ID)
	if err != nil {
		return err
	}
	p.Participants = parts
	conds, err := r.listConditions(ctx, q, p.ID)
	if err != nil {
		return err
	}
	p.Conditions = conds
	evs, err := r.listEvidences(ctx, q, p.ID)
	if err != nil {
		return err
	}
	p.Evidences = evs
	recs, err := r.listReceipts(ctx, q, p.ID)
	if err != nil {
		return err
	}
	p.Receipts = recs
	return nil
}

func (r Repo) listParticipants(ctx context.Context, q querier, promiseID string) ([]domain.Participant, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id,role,status,accepted_at,signature_method,signature_data FROM participants WHERE promise_id=? ORDER BY position ASC`, promiseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		var part domain.Participant
		var acceptedAt, sigMethod, sigData sql.NullString
		if err := rows.Scan(&part.UserID, &part.Role, &part.Status, &acceptedAt, &sigMethod, &sigData); err != nil {
			return nil, err
		}
		part.AcceptedAt = ptrFromNull(acceptedAt)
		if sigMethod.Valid {
			part.Signature = &domain.Signature{Method: sigMethod.String}
			if sigData.Valid {
				part.Signature.Data = sigData.String
			}
		}
		res = append(res, part)
	}
	return res, rows.Err()
}

func (r Repo) listConditions(ctx context.Context, q querier, promiseID string) ([]domain.Condition, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,label,type,deadline_at,action_key,requires_evidence,consequence_kind,consequence_text,is_met,met_at,created_at,updated_at FROM conditions WHERE promise_id=? ORDER BY position ASC`, promiseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Condition
	for rows.Next() {
		var c domain.Condition
		var deadlineAt, actionKey, consText, metAt sql.NullString
		var requiresEvidence, isMet int
		if err := rows.Scan(&c.ID, &c.Label, &c.Type, &deadlineAt, &actionKey, &requiresEvidence,
			&c.Consequence.Kind, &consText, &isMet, &metAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Rule.DeadlineAt = ptrFromNull(deadlineAt)
		if actionKey.Valid {
			c.Rule.ActionKey = actionKey.String
		}
		c.Rule.RequiresEvidence = requiresEvidence != 0
		if consText.Valid {
			c.Consequence.Text = consText.String
		}
		c.IsMet = isMet != 0
		c.MetAt = ptrFromNull(metAt)
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) listEvidences(ctx context.Context, q querier, promiseID string) ([]domain.Evidence, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,by_user_id,kind,url,text,hash,condition_id,created_at FROM evidences WHERE promise_id=? ORDER BY created_at ASC, id ASC`, promiseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Evidence
	for rows.Next() {
		var e domain.Evidence
		var url, text, hash, conditionID sql.NullString
		if err := rows.Scan(&e.ID, &e.ByUserID, &e.Kind, &url, &text, &hash, &conditionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.URL = url.String
		e.Text = text.String
		e.Hash = hash.String
		e.ConditionID = conditionID.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// UpdateStatusTx performs the compare-and-swap status transition: it succeeds
// only when the promise still has the expected prior status and is not
// soft-deleted. ErrNotFound means missing or deleted; ErrStaleStatus means a
// concurrent transition changed the status first.
func (r Repo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id, fromStatus, toStatus, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE promises SET status=?, updated_at=? WHERE id=? AND status=? AND deleted_at IS NULL`,
		toStatus, updatedAt, id, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM promises WHERE id=? AND deleted_at IS NULL`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStaleStatus
}

// UpdateDueAtTx sets the due time, guarded against soft-deleted promises.
func (r Repo) UpdateDueAtTx(ctx context.Context, tx *sql.Tx, id, dueAt, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE promises SET due_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, dueAt, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchTx bumps updated_at after a sub-entity mutation.
func (r Repo) TouchTx(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE promises SET updated_at=? WHERE id=? AND deleted_at IS NULL`, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks the promise deleted. Already-deleted promises do not match,
// so a promise cannot be resurrected or re-deleted.
func (r Repo) SoftDelete(ctx context.Context, id, deletedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE promises SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, deletedAt, deletedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AcceptParticipantTx marks the participant accepted and records the signature.
func (r Repo) AcceptParticipantTx(ctx context.Context, tx *sql.Tx, promiseID, userID, acceptedAt string, sig *domain.Signature) error {
	var sigMethod, sigData any
	if sig != nil {
		sigMethod = sig.Method
		sigData = nullable(sig.Data)
	}
	res, err := tx.ExecContext(ctx, `UPDATE participants SET status='accepted', accepted_at=?,
signature_method=COALESCE(?, signature_method), signature_data=COALESCE(?, signature_data)
WHERE promise_id=? AND user_id=?`, acceptedAt, sigMethod, sigData, promiseID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkConditionMetTx sets is_met and met_at on the owned condition. Re-marking
// an already-met condition re-sets met_at.
func (r Repo) MarkConditionMetTx(ctx context.Context, tx *sql.Tx, promiseID, conditionID, metAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE conditions SET is_met=1, met_at=?, updated_at=? WHERE id=? AND promise_id=?`,
		metAt, metAt, conditionID, promiseID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertEvidenceTx appends an evidence record to the promise.
func (r Repo) InsertEvidenceTx(ctx context.Context, tx *sql.Tx, promiseID string, e domain.Evidence) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO evidences(id,promise_id,by_user_id,kind,url,text,hash,condition_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, promiseID, e.ByUserID, e.Kind, nullable(e.URL), nullable(e.Text), nullable(e.Hash), nullable(e.ConditionID), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

// DeleteEvidenceTx removes an evidence record by id.
func (r Repo) DeleteEvidenceTx(ctx context.Context, tx *sql.Tx, promiseID, evidenceID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM evidences WHERE id=? AND promise_id=?`, evidenceID, promiseID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAutoBreachCandidates returns active, auto-breach-enabled promises with a
// due time, for the sweeper to evaluate against the grace window.
func (r Repo) ListAutoBreachCandidates(ctx context.Context) ([]domain.Promise, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+promiseColumns+` FROM promises
WHERE status='active' AND auto_breach_enabled=1 AND due_at IS NOT NULL AND deleted_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Promise
	for rows.Next() {
		p, err := scanPromiseRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func ptrFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
