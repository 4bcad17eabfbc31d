package domain

// Promise is the aggregate root: a structured commitment between participants
// with a lifecycle status, conditions, evidence and an append-only receipt log.
type Promise struct {
	ID          string `json:"id"`
	Type        string `json:"type" enum:"promise,bet,oath,declaration,pact,challenge"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"draft,proposed,active,fulfilled,breached,cancelled,published"`
	Seriousness string `json:"seriousness" enum:"playful,normal,serious"`

	Participants []Participant `json:"participants"`

	Visibility string `json:"visibility" enum:"private,friends,link"`
	ShareCode  string `json:"share_code,omitempty"`

	Conditions []Condition `json:"conditions"`
	Evidences  []Evidence  `json:"evidences"`

	Timezone string  `json:"timezone"`
	StartAt  *string `json:"start_at,omitempty" format:"date-time"`
	DueAt    *string `json:"due_at,omitempty" format:"date-time"`

	AutoBreach AutoBreach `json:"auto_breach"`

	Receipts []Receipt `json:"receipts"`

	PreferredView string `json:"preferred_view" enum:"declaration,card,timeline,receipt,minimal,default"`

	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
	DeletedAt *string `json:"deleted_at,omitempty" format:"date-time"`
}

// Participant references an external user by id; acceptance is tracked per
// participant, independently of the promise status.
type Participant struct {
	UserID     string     `json:"user_id"`
	Role       string     `json:"role" enum:"creator,counterparty,member"`
	Status     string     `json:"status" enum:"pending,accepted,rejected"`
	AcceptedAt *string    `json:"accepted_at,omitempty" format:"date-time"`
	Signature  *Signature `json:"signature,omitempty"`
}

type Signature struct {
	Method string `json:"method" enum:"tap-accept,drawn,typed,pin"`
	Data   string `json:"data,omitempty"`
}

// Condition is a sub-requirement owned by its promise.
type Condition struct {
	ID          string          `json:"id"`
	Label       string          `json:"label"`
	Type        string          `json:"type" enum:"time,action,proof"`
	Rule        ConditionRule   `json:"rule"`
	Consequence CondConsequence `json:"consequence"`
	IsMet       bool            `json:"is_met"`
	MetAt       *string         `json:"met_at,omitempty" format:"date-time"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

type ConditionRule struct {
	DeadlineAt       *string `json:"deadline_at,omitempty" format:"date-time"`
	ActionKey        string  `json:"action_key,omitempty"`
	RequiresEvidence bool    `json:"requires_evidence"`
}

type CondConsequence struct {
	Kind string `json:"kind" enum:"penalty,reward,forfeit,none"`
	Text string `json:"text,omitempty"`
}

// Evidence is an artifact attached to a promise, optionally linked to one of
// its conditions.
type Evidence struct {
	ID          string `json:"id"`
	ByUserID    string `json:"by_user_id"`
	Kind        string `json:"kind" enum:"photo,video,text,file,link"`
	URL         string `json:"url,omitempty"`
	Text        string `json:"text,omitempty"`
	Hash        string `json:"hash,omitempty"`
	ConditionID string `json:"condition_id,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Receipt is one immutable audit-log entry. ID is assigned by the store in
// global append order, so insertion order equals chronological order.
type Receipt struct {
	ID        int64          `json:"id"`
	PromiseID string         `json:"promise_id"`
	At        string         `json:"at" format:"date-time"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	Meta      map[string]any `json:"meta"`
}

// AutoBreach is the policy for automatic breach of an overdue active promise.
type AutoBreach struct {
	Enabled      bool `json:"enabled"`
	GraceMinutes int  `json:"grace_minutes"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Promise statuses.
const (
	StatusDraft     = "draft"
	StatusProposed  = "proposed"
	StatusActive    = "active"
	StatusFulfilled = "fulfilled"
	StatusBreached  = "breached"
	StatusCancelled = "cancelled"
	StatusPublished = "published"
)

// IsTerminal reports whether no further status transition is accepted.
func IsTerminal(status string) bool {
	switch status {
	case StatusFulfilled, StatusBreached, StatusCancelled, StatusPublished:
		return true
	}
	return false
}

// ParticipantByUser returns the participant entry for userID, if any.
func (p Promise) ParticipantByUser(userID string) (Participant, bool) {
	for _, part := range p.Participants {
		if part.UserID == userID {
			return part, true
		}
	}
	return Participant{}, false
}

// ConditionByID returns the owned condition with the given id, if any.
func (p Promise) ConditionByID(id string) (Condition, bool) {
	for _, c := range p.Conditions {
		if c.ID == id {
			return c, true
		}
	}
	return Condition{}, false
}
