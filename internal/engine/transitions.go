package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"pactline/internal/domain"
	"pactline/internal/receipts"
	"pactline/internal/repo"
)

// transition applies one guarded status change and its receipt atomically.
// guard may return an InvalidTransitionError; metaFn builds the receipt meta
// from the loaded promise.
func (e Engine) transition(ctx context.Context, id, actorID, op, toStatus, action string,
	guard func(p domain.Promise) error, metaFn func(p domain.Promise) receipts.Meta) (domain.Promise, error) {

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Promise{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPromiseTx(ctx, tx, id)
	if err != nil {
		return domain.Promise{}, err
	}
	if err := guard(p); err != nil {
		return domain.Promise{}, err
	}
	if err := e.Repo.UpdateStatusTx(ctx, tx, id, p.Status, toStatus, e.nowString()); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return domain.Promise{}, InvalidTransitionError{PromiseID: id, Status: p.Status, Op: op, Reason: "status changed concurrently"}
		}
		return domain.Promise{}, err
	}
	var meta receipts.Meta
	if metaFn != nil {
		meta = metaFn(p)
	}
	if err := e.receiptWriter().Append(ctx, tx, id, actorID, action, meta); err != nil {
		return domain.Promise{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Promise{}, err
	}
	return e.Repo.GetPromise(ctx, id)
}

func requireStatus(op, want string) func(p domain.Promise) error {
	return func(p domain.Promise) error {
		if p.Status != want {
			return InvalidTransitionError{PromiseID: p.ID, Status: p.Status, Op: op}
		}
		return nil
	}
}

func requireNonTerminal(op string) func(p domain.Promise) error {
	return func(p domain.Promise) error {
		if domain.IsTerminal(p.Status) {
			return InvalidTransitionError{PromiseID: p.ID, Status: p.Status, Op: op}
		}
		return nil
	}
}

// Send proposes a draft promise to its participants.
func (e Engine) Send(ctx context.Context, id, actorID string) (domain.Promise, error) {
	return e.transition(ctx, id, actorID, "send", domain.StatusProposed, "sent",
		requireStatus("send", domain.StatusDraft),
		func(p domain.Promise) receipts.Meta {
			return receipts.Meta{"from": p.Status, "to": domain.StatusProposed}
		})
}

// Accept activates a proposed promise.
func (e Engine) Accept(ctx context.Context, id, actorID string) (domain.Promise, error) {
	return e.transition(ctx, id, actorID, "accept", domain.StatusActive, "accepted",
		requireStatus("accept", domain.StatusProposed),
		func(p domain.Promise) receipts.Meta {
			return receipts.Meta{"from": p.Status, "to": domain.StatusActive}
		})
}

// Cancel moves any non-terminal promise to cancelled.
func (e Engine) Cancel(ctx context.Context, id, reason, actorID string) (domain.Promise, error) {
	return e.transition(ctx, id, actorID, "cancel", domain.StatusCancelled, "cancelled",
		requireNonTerminal("cancel"),
		func(p domain.Promise) receipts.Meta {
			meta := receipts.Meta{}
			if reason != "" {
				meta["reason"] = reason
			}
			return meta
		})
}

// Fulfill marks an active promise kept.
func (e Engine) Fulfill(ctx context.Context, id, actorID string) (domain.Promise, error) {
	return e.transition(ctx, id, actorID, "fulfill", domain.StatusFulfilled, "fulfilled",
		requireStatus("fulfill", domain.StatusActive), nil)
}

// DeclareBreach marks an active promise broken.
func (e Engine) DeclareBreach(ctx context.Context, id, reason, actorID string) (domain.Promise, error) {
	return e.declareBreach(ctx, id, reason, actorID, false)
}

func (e Engine) declareBreach(ctx context.Context, id, reason, actorID string, auto bool) (domain.Promise, error) {
	return e.transition(ctx, id, actorID, "breach", domain.StatusBreached, "breached",
		requireStatus("breach", domain.StatusActive),
		func(p domain.Promise) receipts.Meta {
			meta := receipts.Meta{}
			if reason != "" {
				meta["reason"] = reason
			}
			if auto {
				meta["auto"] = true
			}
			return meta
		})
}

// unilateralTypes can be published directly from draft without counterparties.
var unilateralTypes = map[string]bool{"declaration": true, "oath": true}

// Publish moves a draft declaration or oath straight to published.
func (e Engine) Publish(ctx context.Context, id, actorID string) (domain.Promise, error) {
	guard := func(p domain.Promise) error {
		if !unilateralTypes[p.Type] {
			return InvalidTransitionError{PromiseID: p.ID, Status: p.Status, Op: "publish",
				Reason: fmt.Sprintf("type %s cannot be published", p.Type)}
		}
		if p.Status != domain.StatusDraft {
			return InvalidTransitionError{PromiseID: p.ID, Status: p.Status, Op: "publish"}
		}
		return nil
	}
	return e.transition(ctx, id, actorID, "publish", domain.StatusPublished, "published", guard, nil)
}

// Settle resolves an active promise in favor of one participant, moving it to
// fulfilled.
func (e Engine) Settle(ctx context.Context, id, winnerUserID, note, actorID string) (domain.Promise, error) {
	if winnerUserID == "" {
		return domain.Promise{}, validationf("winner user id is required")
	}
	guard := func(p domain.Promise) error {
		if p.Status != domain.StatusActive {
			return InvalidTransitionError{PromiseID: p.ID, Status: p.Status, Op: "settle"}
		}
		if _, ok := p.ParticipantByUser(winnerUserID); !ok {
			return validationf("winner %s is not a participant", winnerUserID)
		}
		return nil
	}
	return e.transition(ctx, id, actorID, "settle", domain.StatusFulfilled, "settled", guard,
		func(p domain.Promise) receipts.Meta {
			meta := receipts.Meta{"winnerUserId": winnerUserID}
			if note != "" {
				meta["note"] = note
			}
			return meta
		})
}

// Extend pushes the due time forward by minutes. A promise without a due time
// gets now+minutes. Any non-terminal status may be extended.
func (e Engine) Extend(ctx context.Context, id string, minutes int, actorID string) (domain.Promise, error) {
	if minutes <= 0 {
		return domain.Promise{}, validationf("minutes must be > 0")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Promise{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPromiseTx(ctx, tx, id)
	if err != nil {
		return domain.Promise{}, err
	}
	if domain.IsTerminal(p.Status) {
		return domain.Promise{}, InvalidTransitionError{PromiseID: id, Status: p.Status, Op: "extend"}
	}

	base := e.now().UTC()
	var oldDueAt any
	if p.DueAt != nil {
		oldDueAt = *p.DueAt
		parsed, err := time.Parse(time.RFC3339, *p.DueAt)
		if err != nil {
			return domain.Promise{}, fmt.Errorf("stored due_at: %w", err)
		}
		base = parsed
	}
	newDueAt := base.Add(time.Duration(minutes) * time.Minute).UTC().Format(time.RFC3339)
	if err := validateSchedule(p.StartAt, &newDueAt); err != nil {
		return domain.Promise{}, err
	}

	if err := e.Repo.UpdateDueAtTx(ctx, tx, id, newDueAt, e.nowString()); err != nil {
		return domain.Promise{}, err
	}
	meta := receipts.Meta{"oldDueAt": oldDueAt, "newDueAt": newDueAt, "minutes": minutes}
	if err := e.receiptWriter().Append(ctx, tx, id, actorID, "extended", meta); err != nil {
		return domain.Promise{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Promise{}, err
	}
	return e.Repo.GetPromise(ctx, id)
}

// CoinFlip records a fair crypto-random heads/tails draw for the promise. The
// status is untouched; the flip works in any non-deleted state.
func (e Engine) CoinFlip(ctx context.Context, id, actorID string) (string, error) {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("coin flip randomness: %w", err)
	}
	result := "heads"
	if b[0]&1 == 1 {
		result = "tails"
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// TouchTx doubles as the existence check: zero rows means missing or deleted.
	if err := e.Repo.TouchTx(ctx, tx, id, e.nowString()); err != nil {
		return "", err
	}
	if err := e.receiptWriter().Append(ctx, tx, id, actorID, "coin_flip", receipts.Meta{"result": result}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return result, nil
}

// AcceptParticipant records one participant's acceptance, independently of the
// promise status.
func (e Engine) AcceptParticipant(ctx context.Context, id, userID string, sig *domain.Signature) (domain.Promise, error) {
	if userID == "" {
		return domain.Promise{}, validationf("user id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Promise{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPromiseTx(ctx, tx, id)
	if err != nil {
		return domain.Promise{}, err
	}
	if _, ok := p.ParticipantByUser(userID); !ok {
		return domain.Promise{}, repo.ErrNotFound
	}
	now := e.nowString()
	if err := e.Repo.AcceptParticipantTx(ctx, tx, id, userID, now, sig); err != nil {
		return domain.Promise{}, err
	}
	if err := e.receiptWriter().Append(ctx, tx, id, userID, "participant_accepted", receipts.Meta{"userId": userID}); err != nil {
		return domain.Promise{}, err
	}
	if err := e.Repo.TouchTx(ctx, tx, id, now); err != nil {
		return domain.Promise{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Promise{}, err
	}
	return e.Repo.GetPromise(ctx, id)
}
