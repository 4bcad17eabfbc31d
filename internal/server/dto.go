package server

import (
	"pactline/internal/domain"
	"pactline/internal/engine"
)

// Request payloads

type ParticipantRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty" enum:"creator,counterparty,member"`
}

type ConditionRuleRequest struct {
	DeadlineAt       *string `json:"deadline_at,omitempty" format:"date-time"`
	ActionKey        *string `json:"action_key,omitempty"`
	RequiresEvidence bool    `json:"requires_evidence,omitempty"`
}

type ConditionConsequenceRequest struct {
	Kind string  `json:"kind,omitempty" enum:"penalty,reward,forfeit,none"`
	Text *string `json:"text,omitempty"`
}

type ConditionRequest struct {
	Label       string                       `json:"label"`
	Type        string                       `json:"type,omitempty" enum:"time,action,proof"`
	Rule        *ConditionRuleRequest        `json:"rule,omitempty"`
	Consequence *ConditionConsequenceRequest `json:"consequence,omitempty"`
}

type AutoBreachRequest struct {
	Enabled      bool `json:"enabled"`
	GraceMinutes int  `json:"grace_minutes"`
}

type CreatePromiseRequest struct {
	Type          string               `json:"type,omitempty" enum:"promise,bet,oath,declaration,pact,challenge"`
	Title         string               `json:"title"`
	Description   *string              `json:"description,omitempty"`
	Seriousness   string               `json:"seriousness,omitempty" enum:"playful,normal,serious"`
	Visibility    string               `json:"visibility,omitempty" enum:"private,friends,link"`
	Timezone      string               `json:"timezone,omitempty"`
	StartAt       *string              `json:"start_at,omitempty" format:"date-time"`
	DueAt         *string              `json:"due_at,omitempty" format:"date-time"`
	AutoBreach    *AutoBreachRequest   `json:"auto_breach,omitempty"`
	PreferredView string               `json:"preferred_view,omitempty" enum:"declaration,card,timeline,receipt,minimal,default"`
	Participants  []ParticipantRequest `json:"participants,omitempty"`
	Conditions    []ConditionRequest   `json:"conditions,omitempty"`
}

type ReasonRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type SettleRequest struct {
	WinnerUserID string  `json:"winner_user_id"`
	Note         *string `json:"note,omitempty"`
}

type ExtendRequest struct {
	Minutes int `json:"minutes"`
}

type SignatureRequest struct {
	Method string  `json:"method" enum:"tap-accept,drawn,typed,pin"`
	Data   *string `json:"data,omitempty"`
}

type AcceptParticipantRequest struct {
	Signature *SignatureRequest `json:"signature,omitempty"`
}

type AddEvidenceRequest struct {
	ByUserID    *string `json:"by_user_id,omitempty"`
	Kind        string  `json:"kind" enum:"photo,video,text,file,link"`
	URL         *string `json:"url,omitempty"`
	Text        *string `json:"text,omitempty"`
	Hash        *string `json:"hash,omitempty"`
	ConditionID *string `json:"condition_id,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type PromiseResponse = domain.Promise

type CoinFlipResponse struct {
	Result string `json:"result" enum:"heads,tails"`
}

type MeResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Converters

func createOptions(body CreatePromiseRequest, actorID string) engine.CreateOptions {
	opts := engine.CreateOptions{
		Type:          body.Type,
		Title:         body.Title,
		Seriousness:   body.Seriousness,
		Visibility:    body.Visibility,
		Timezone:      body.Timezone,
		StartAt:       body.StartAt,
		DueAt:         body.DueAt,
		PreferredView: body.PreferredView,
		ActorID:       actorID,
	}
	if body.Description != nil {
		opts.Description = *body.Description
	}
	if body.AutoBreach != nil {
		opts.AutoBreach = &domain.AutoBreach{
			Enabled:      body.AutoBreach.Enabled,
			GraceMinutes: body.AutoBreach.GraceMinutes,
		}
	}
	for _, p := range body.Participants {
		opts.Participants = append(opts.Participants, engine.ParticipantInput{UserID: p.UserID, Role: p.Role})
	}
	for _, c := range body.Conditions {
		in := engine.ConditionInput{Label: c.Label, Type: c.Type}
		if c.Rule != nil {
			in.DeadlineAt = c.Rule.DeadlineAt
			in.RequiresEvidence = c.Rule.RequiresEvidence
			if c.Rule.ActionKey != nil {
				in.ActionKey = *c.Rule.ActionKey
			}
		}
		if c.Consequence != nil {
			in.ConsequenceKind = c.Consequence.Kind
			if c.Consequence.Text != nil {
				in.ConsequenceText = *c.Consequence.Text
			}
		}
		opts.Conditions = append(opts.Conditions, in)
	}
	return opts
}

func signatureFromRequest(req *SignatureRequest) *domain.Signature {
	if req == nil {
		return nil
	}
	sig := &domain.Signature{Method: req.Method}
	if req.Data != nil {
		sig.Data = *req.Data
	}
	return sig
}

func evidenceOptions(body AddEvidenceRequest, actorID string) engine.EvidenceOptions {
	opts := engine.EvidenceOptions{Kind: body.Kind, ActorID: actorID}
	if body.ByUserID != nil {
		opts.ByUserID = *body.ByUserID
	}
	if body.URL != nil {
		opts.URL = *body.URL
	}
	if body.Text != nil {
		opts.Text = *body.Text
	}
	if body.Hash != nil {
		opts.Hash = *body.Hash
	}
	if body.ConditionID != nil {
		opts.ConditionID = *body.ConditionID
	}
	return opts
}

func strOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func nonNilPromises(items []domain.Promise) []domain.Promise {
	if items == nil {
		return []domain.Promise{}
	}
	return items
}

func nonNilReceipts(items []domain.Receipt) []domain.Receipt {
	if items == nil {
		return []domain.Receipt{}
	}
	return items
}
