package engine

import (
	"context"
	"errors"
	"time"

	"pactline/internal/domain"
	"pactline/internal/repo"
)

// SystemActorID is the actor recorded on automatically applied breaches.
const SystemActorID = "system"

// EligibleForAutoBreach reports whether the promise is overdue past its grace
// window at the given instant.
func EligibleForAutoBreach(p domain.Promise, now time.Time) bool {
	if p.Status != domain.StatusActive || !p.AutoBreach.Enabled || p.DueAt == nil {
		return false
	}
	due, err := time.Parse(time.RFC3339, *p.DueAt)
	if err != nil {
		return false
	}
	return now.After(due.Add(time.Duration(p.AutoBreach.GraceMinutes) * time.Minute))
}

// SweepAutoBreach applies declareBreach to every overdue active promise with
// auto-breach enabled. A promise transitioned concurrently during the sweep is
// skipped, not an error. Returns the number of promises breached.
func (e Engine) SweepAutoBreach(ctx context.Context) (int, error) {
	candidates, err := e.Repo.ListAutoBreachCandidates(ctx)
	if err != nil {
		return 0, err
	}
	now := e.now().UTC()
	breached := 0
	for _, p := range candidates {
		if !EligibleForAutoBreach(p, now) {
			continue
		}
		_, err := e.declareBreach(ctx, p.ID, "", SystemActorID, true)
		if err != nil {
			var ite InvalidTransitionError
			if errors.As(err, &ite) || errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return breached, err
		}
		breached++
	}
	return breached, nil
}
