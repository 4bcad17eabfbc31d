package engine

import (
	"context"
	"database/sql"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"pactline/internal/config"
	"pactline/internal/domain"
	"pactline/internal/receipts"
	"pactline/internal/repo"
)

// Engine implements the promise lifecycle: creation, guarded status
// transitions, sub-entity mutations and the append-only receipt log. Every
// mutation runs in one transaction together with its receipt.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Receipts receipts.Writer
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Receipts: receipts.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// receiptWriter keeps the writer's clock aligned with the engine's.
func (e Engine) receiptWriter() receipts.Writer {
	w := e.Receipts
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// newShareCode returns the 22-char raw-URL-base64 form of a fresh UUID.
func newShareCode() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParticipantInput names a party on a new promise. Role defaults to member;
// the first participant is always the creator.
type ParticipantInput struct {
	UserID string
	Role   string
}

type ConditionInput struct {
	Label            string
	Type             string
	DeadlineAt       *string
	ActionKey        string
	RequiresEvidence bool
	ConsequenceKind  string
	ConsequenceText  string
}

// CreateOptions are parameters for creating a promise. Zero-valued fields
// fall back to the workspace defaults.
type CreateOptions struct {
	Type          string
	Title         string
	Description   string
	Seriousness   string
	Visibility    string
	Timezone      string
	StartAt       *string
	DueAt         *string
	AutoBreach    *domain.AutoBreach
	PreferredView string
	Participants  []ParticipantInput
	Conditions    []ConditionInput
	ActorID       string
}

var promiseTypes = map[string]bool{
	"promise": true, "bet": true, "oath": true,
	"declaration": true, "pact": true, "challenge": true,
}

// multiPartyTypes need at least two participants to make sense.
var multiPartyTypes = map[string]bool{
	"promise": true, "bet": true, "challenge": true, "pact": true,
}

var seriousnessLevels = map[string]bool{"playful": true, "normal": true, "serious": true}
var visibilities = map[string]bool{"private": true, "friends": true, "link": true}
var participantRoles = map[string]bool{"creator": true, "counterparty": true, "member": true}
var conditionTypes = map[string]bool{"time": true, "action": true, "proof": true}
var consequenceKinds = map[string]bool{"penalty": true, "reward": true, "forfeit": true, "none": true}
var evidenceKinds = map[string]bool{"photo": true, "video": true, "text": true, "file": true, "link": true}
var preferredViews = map[string]bool{
	"declaration": true, "card": true, "timeline": true,
	"receipt": true, "minimal": true, "default": true,
}

// Create stores a new promise in status draft. No receipt is appended; the
// receipt log starts with the first lifecycle operation.
func (e Engine) Create(ctx context.Context, opts CreateOptions) (domain.Promise, error) {
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Title == "" {
		return domain.Promise{}, validationf("title is required")
	}
	if opts.Type == "" {
		opts.Type = "promise"
	}
	if !promiseTypes[opts.Type] {
		return domain.Promise{}, validationf("unknown promise type %q", opts.Type)
	}
	if opts.Seriousness == "" {
		opts.Seriousness = "normal"
	}
	if !seriousnessLevels[opts.Seriousness] {
		return domain.Promise{}, validationf("unknown seriousness %q", opts.Seriousness)
	}
	if opts.Visibility == "" {
		opts.Visibility = cfg.Defaults.Visibility
	}
	if !visibilities[opts.Visibility] {
		return domain.Promise{}, validationf("unknown visibility %q", opts.Visibility)
	}
	if opts.Timezone == "" {
		opts.Timezone = cfg.Defaults.Timezone
	}
	if opts.PreferredView == "" {
		opts.PreferredView = "default"
	}
	if !preferredViews[opts.PreferredView] {
		return domain.Promise{}, validationf("unknown preferred view %q", opts.PreferredView)
	}
	if err := validateTimestamp("start_at", opts.StartAt); err != nil {
		return domain.Promise{}, err
	}
	if err := validateTimestamp("due_at", opts.DueAt); err != nil {
		return domain.Promise{}, err
	}
	if err := validateSchedule(opts.StartAt, opts.DueAt); err != nil {
		return domain.Promise{}, err
	}

	now := e.nowString()
	participants, err := e.buildParticipants(opts, now, cfg)
	if err != nil {
		return domain.Promise{}, err
	}
	conditions, err := buildConditions(opts.Conditions, now)
	if err != nil {
		return domain.Promise{}, err
	}

	autoBreach := domain.AutoBreach{
		Enabled:      cfg.Defaults.AutoBreach.Enabled,
		GraceMinutes: cfg.Defaults.AutoBreach.GraceMinutes,
	}
	if opts.AutoBreach != nil {
		if opts.AutoBreach.GraceMinutes < 0 {
			return domain.Promise{}, validationf("auto_breach.grace_minutes must be >= 0")
		}
		autoBreach = *opts.AutoBreach
	}

	p := domain.Promise{
		ID:            uuid.NewString(),
		Type:          opts.Type,
		Title:         opts.Title,
		Description:   opts.Description,
		Status:        domain.StatusDraft,
		Seriousness:   opts.Seriousness,
		Participants:  participants,
		Visibility:    opts.Visibility,
		ShareCode:     newShareCode(),
		Conditions:    conditions,
		Timezone:      opts.Timezone,
		StartAt:       opts.StartAt,
		DueAt:         opts.DueAt,
		AutoBreach:    autoBreach,
		PreferredView: opts.PreferredView,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Promise{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertPromiseTx(ctx, tx, p); err != nil {
		return domain.Promise{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Promise{}, err
	}
	p.Evidences = nil
	p.Receipts = nil
	return p, nil
}

func (e Engine) buildParticipants(opts CreateOptions, now string, cfg *config.Config) ([]domain.Participant, error) {
	inputs := opts.Participants
	if len(inputs) == 0 {
		if opts.ActorID == "" {
			return nil, validationf("at least one participant is required")
		}
		inputs = []ParticipantInput{{UserID: opts.ActorID, Role: "creator"}}
	}
	if multiPartyTypes[opts.Type] && len(inputs) < 2 {
		return nil, validationf("type %s requires at least 2 participants", opts.Type)
	}
	if len(inputs) > cfg.Limits.MaxParticipants {
		return nil, validationf("at most %d participants allowed", cfg.Limits.MaxParticipants)
	}
	seen := map[string]bool{}
	var res []domain.Participant
	for i, in := range inputs {
		if in.UserID == "" {
			return nil, validationf("participants[%d].user_id is required", i)
		}
		if seen[in.UserID] {
			return nil, validationf("duplicate participant %s", in.UserID)
		}
		seen[in.UserID] = true
		role := in.Role
		if i == 0 {
			role = "creator"
		} else if role == "" {
			role = "member"
		}
		if !participantRoles[role] {
			return nil, validationf("unknown participant role %q", in.Role)
		}
		part := domain.Participant{UserID: in.UserID, Role: role, Status: "pending"}
		if i == 0 {
			part.Status = "accepted"
			at := now
			part.AcceptedAt = &at
		}
		res = append(res, part)
	}
	return res, nil
}

func buildConditions(inputs []ConditionInput, now string) ([]domain.Condition, error) {
	var res []domain.Condition
	for i, in := range inputs {
		if in.Label == "" {
			return nil, validationf("conditions[%d].label is required", i)
		}
		if in.Type == "" {
			in.Type = "action"
		}
		if !conditionTypes[in.Type] {
			return nil, validationf("conditions[%d]: unknown type %q", i, in.Type)
		}
		if in.ConsequenceKind == "" {
			in.ConsequenceKind = "none"
		}
		if !consequenceKinds[in.ConsequenceKind] {
			return nil, validationf("conditions[%d]: unknown consequence kind %q", i, in.ConsequenceKind)
		}
		if err := validateTimestamp("deadline_at", in.DeadlineAt); err != nil {
			return nil, validationf("conditions[%d]: %s", i, err)
		}
		res = append(res, domain.Condition{
			ID:    uuid.NewString(),
			Label: in.Label,
			Type:  in.Type,
			Rule: domain.ConditionRule{
				DeadlineAt:       in.DeadlineAt,
				ActionKey:        in.ActionKey,
				RequiresEvidence: in.RequiresEvidence,
			},
			Consequence: domain.CondConsequence{Kind: in.ConsequenceKind, Text: in.ConsequenceText},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return res, nil
}

func validateTimestamp(field string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, *v); err != nil {
		return validationf("%s must be RFC3339: %v", field, err)
	}
	return nil
}

// validateSchedule requires due_at to be strictly after start_at when both are
// set. Callers validate the RFC3339 form first.
func validateSchedule(startAt, dueAt *string) error {
	if startAt == nil || dueAt == nil || *startAt == "" || *dueAt == "" {
		return nil
	}
	start, err := time.Parse(time.RFC3339, *startAt)
	if err != nil {
		return validationf("start_at must be RFC3339: %v", err)
	}
	due, err := time.Parse(time.RFC3339, *dueAt)
	if err != nil {
		return validationf("due_at must be RFC3339: %v", err)
	}
	if !due.After(start) {
		return validationf("due_at must be after start_at")
	}
	return nil
}

// Get returns the full aggregate, excluding soft-deleted promises.
func (e Engine) Get(ctx context.Context, id string) (domain.Promise, error) {
	return e.Repo.GetPromise(ctx, id)
}

// List returns the user's promises, most recently updated first.
func (e Engine) List(ctx context.Context, userID string) ([]domain.Promise, error) {
	if userID == "" {
		return nil, validationf("user id is required")
	}
	return e.Repo.ListByUser(ctx, userID)
}

// GetByShareCode resolves a share link. Only link-visible promises are served.
func (e Engine) GetByShareCode(ctx context.Context, code string) (domain.Promise, error) {
	p, err := e.Repo.GetByShareCode(ctx, code)
	if err != nil {
		return domain.Promise{}, err
	}
	if p.Visibility != "link" {
		return domain.Promise{}, repo.ErrNotFound
	}
	return p, nil
}

// Delete soft-deletes the promise. Deleted promises disappear from every read
// and reject every mutation.
func (e Engine) Delete(ctx context.Context, id string) error {
	return e.Repo.SoftDelete(ctx, id, e.nowString())
}

// ListReceipts returns the promise's receipts oldest first.
func (e Engine) ListReceipts(ctx context.Context, promiseID string) ([]domain.Receipt, error) {
	if _, err := e.Repo.GetPromise(ctx, promiseID); err != nil {
		return nil, err
	}
	return e.Repo.ListReceipts(ctx, promiseID)
}
