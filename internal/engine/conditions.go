package engine

import (
	"context"

	"github.com/google/uuid"

	"pactline/internal/domain"
	"pactline/internal/receipts"
	"pactline/internal/repo"
)

// MarkConditionMet marks a condition satisfied. Re-marking an already-met
// condition refreshes metAt and still appends a receipt; the audit log keeps
// every call.
func (e Engine) MarkConditionMet(ctx context.Context, promiseID, conditionID, actorID string) (domain.Promise, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Promise{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPromiseTx(ctx, tx, promiseID)
	if err != nil {
		return domain.Promise{}, err
	}
	if _, ok := p.ConditionByID(conditionID); !ok {
		return domain.Promise{}, repo.ErrNotFound
	}
	now := e.nowString()
	if err := e.Repo.MarkConditionMetTx(ctx, tx, promiseID, conditionID, now); err != nil {
		return domain.Promise{}, err
	}
	if err := e.receiptWriter().Append(ctx, tx, promiseID, actorID, "condition_met", receipts.Meta{"conditionId": conditionID}); err != nil {
		return domain.Promise{}, err
	}
	if err := e.Repo.TouchTx(ctx, tx, promiseID, now); err != nil {
		return domain.Promise{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Promise{}, err
	}
	return e.Repo.GetPromise(ctx, promiseID)
}

// EvidenceOptions are parameters for attaching evidence to a promise.
type EvidenceOptions struct {
	ByUserID    string
	Kind        string
	URL         string
	Text        string
	Hash        string
	ConditionID string
	ActorID     string
}

// AddEvidence attaches an artifact to the promise, optionally linked to one of
// its conditions.
func (e Engine) AddEvidence(ctx context.Context, promiseID string, opts EvidenceOptions) (domain.Evidence, error) {
	if opts.ByUserID == "" {
		opts.ByUserID = opts.ActorID
	}
	if opts.ByUserID == "" {
		return domain.Evidence{}, validationf("by_user_id is required")
	}
	if !evidenceKinds[opts.Kind] {
		return domain.Evidence{}, validationf("unknown evidence kind %q", opts.Kind)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Evidence{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPromiseTx(ctx, tx, promiseID)
	if err != nil {
		return domain.Evidence{}, err
	}
	if opts.ConditionID != "" {
		if _, ok := p.ConditionByID(opts.ConditionID); !ok {
			return domain.Evidence{}, repo.ErrNotFound
		}
	}
	now := e.nowString()
	ev := domain.Evidence{
		ID:          uuid.NewString(),
		ByUserID:    opts.ByUserID,
		Kind:        opts.Kind,
		URL:         opts.URL,
		Text:        opts.Text,
		Hash:        opts.Hash,
		ConditionID: opts.ConditionID,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertEvidenceTx(ctx, tx, promiseID, ev); err != nil {
		return domain.Evidence{}, err
	}
	if err := e.receiptWriter().Append(ctx, tx, promiseID, opts.ActorID, "evidence_added", receipts.Meta{"evidenceKind": ev.Kind}); err != nil {
		return domain.Evidence{}, err
	}
	if err := e.Repo.TouchTx(ctx, tx, promiseID, now); err != nil {
		return domain.Evidence{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Evidence{}, err
	}
	return ev, nil
}

// RemoveEvidence detaches an evidence record from the promise.
func (e Engine) RemoveEvidence(ctx context.Context, promiseID, evidenceID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetPromiseTx(ctx, tx, promiseID); err != nil {
		return err
	}
	if err := e.Repo.DeleteEvidenceTx(ctx, tx, promiseID, evidenceID); err != nil {
		return err
	}
	now := e.nowString()
	if err := e.receiptWriter().Append(ctx, tx, promiseID, actorID, "evidence_removed", receipts.Meta{"evidenceId": evidenceID}); err != nil {
		return err
	}
	if err := e.Repo.TouchTx(ctx, tx, promiseID, now); err != nil {
		return err
	}
	return tx.Commit()
}
