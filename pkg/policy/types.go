package policy

import (
	"context"
	"sort"
	"time"

	"castellan-hq/portcullis/pkg/entity"
)

// ScopeGlobal applies a policy to every entity type.
const ScopeGlobal = "global"

// Policy is a declarative rule that can deny access under a stated
// condition. Policies never grant; absence of a blocking policy permits.
type Policy struct {
	// ID is the unique policy identifier.
	ID string `json:"id" yaml:"id"`

	// Name is the human-readable policy name, used in denial motives.
	Name string `json:"name" yaml:"name"`

	// Priority orders evaluation: lower evaluates first.
	Priority int `json:"priority" yaml:"priority"`

	// Scope is "global" or a specific entity type.
	Scope string `json:"scope" yaml:"scope"`

	// Active policies are the only ones ever evaluated.
	Active bool `json:"active" yaml:"active"`

	// Condition is the rule condition (tagged union).
	Condition Condition `json:"condition" yaml:"condition"`

	// CreatedAt breaks priority ties: earlier policies evaluate first.
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

// AppliesTo reports whether the policy's scope covers the entity type.
func (p *Policy) AppliesTo(typ entity.Type) bool {
	return p.Scope == ScopeGlobal || p.Scope == string(typ)
}

// RequestContext is the caller-supplied context an access decision is
// evaluated against. It is persisted verbatim as the event's context
// snapshot.
type RequestContext struct {
	// Time is the moment the access was requested.
	Time time.Time `json:"time"`

	// Authorized indicates the request carries a prior authorization.
	Authorized bool `json:"authorized"`

	// DenyListed flags the request itself as deny-listed (e.g., a gate
	// operator override), independent of the entity's own attribute.
	DenyListed bool `json:"deny_listed"`

	// Flags carries additional caller-supplied context for the snapshot.
	Flags map[string]any `json:"flags,omitempty"`
}

// Decision is the result of evaluating the active policy set.
type Decision struct {
	// Permitted is the overall outcome.
	Permitted bool `json:"permitted"`

	// Motive explains a denial; empty when permitted.
	Motive string `json:"motive,omitempty"`

	// PolicyID identifies the policy that caused the denial, if any.
	PolicyID string `json:"policy_id,omitempty"`
}

// Store defines the contract for policy persistence backends.
// This is administrative pass-through storage; evaluation semantics live in
// the engine subpackage.
type Store interface {
	// Create persists a new policy. The ID must be set and unique.
	Create(ctx context.Context, p *Policy) error

	// Get returns the policy with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Policy, error)

	// Update replaces the stored policy with the same ID.
	Update(ctx context.Context, p *Policy) error

	// SetActive toggles the active flag. Idempotent.
	SetActive(ctx context.Context, id string, active bool) error

	// List returns all policies, active or not.
	List(ctx context.Context) ([]*Policy, error)

	// ListActive returns active policies only.
	ListActive(ctx context.Context) ([]*Policy, error)

	// Close releases any resources held by the backend.
	Close() error
}

// SortForEvaluation orders policies by ascending priority, breaking ties by
// creation time then ID so the order is stable across storage backends.
func SortForEvaluation(policies []*Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority < policies[j].Priority
		}
		if !policies[i].CreatedAt.Equal(policies[j].CreatedAt) {
			return policies[i].CreatedAt.Before(policies[j].CreatedAt)
		}
		return policies[i].ID < policies[j].ID
	})
}
