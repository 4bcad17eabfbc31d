package engine

import (
	"context"

	"github.com/google/uuid"

	"pactline/internal/domain"
	"pactline/internal/repo"
)

// CreateAPIKey mints a new API key for an actor and stores only its hash. The
// raw key is returned once and cannot be recovered.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", validationf("actor id is required")
	}
	raw := "pk_" + uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

// ListAPIKeys returns stored key records, optionally filtered by actor.
func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

// DeleteAPIKey revokes a key by id.
func (e Engine) DeleteAPIKey(ctx context.Context, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id)
}
