package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"castellan-hq/portcullis/pkg/entity"
	"castellan-hq/portcullis/pkg/policy"
)

// EntryCounter reports how many "entry" events the entity accumulated since
// the given instant. It is the single side-effecting dependency of the
// engine; production wires it to the ledger, tests use a stub.
type EntryCounter func(ctx context.Context, entityID string, since time.Time) (int, error)

// Engine evaluates policies against entities and request contexts.
type Engine struct {
	logger *slog.Logger
}

// New creates a new policy evaluation engine.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger.With("component", "policy.engine"),
	}
}

// Evaluate runs the active policy set against the entity and request
// context and returns the decision.
//
// Policies are sorted into evaluation order (ascending priority, stable
// tie-break) before the pass. Inactive policies and policies whose scope
// does not cover the entity type are skipped. Malformed conditions are
// skipped with a logged warning. The first policy whose condition blocks
// ends the pass; with no blocking policy the decision is permitted with no
// policy attached.
func (e *Engine) Evaluate(ctx context.Context, ent *entity.Entity, req *policy.RequestContext, policies []*policy.Policy, counter EntryCounter) (*policy.Decision, error) {
	if ent == nil {
		return nil, fmt.Errorf("entity cannot be nil")
	}
	if req == nil {
		return nil, fmt.Errorf("request context cannot be nil")
	}

	ordered := make([]*policy.Policy, len(policies))
	copy(ordered, policies)
	policy.SortForEvaluation(ordered)

	for _, p := range ordered {
		if !p.Active {
			continue
		}
		if !p.AppliesTo(ent.Type) {
			continue
		}

		if err := p.Condition.Validate(); err != nil {
			e.logger.Warn("skipping policy with malformed condition",
				"policy_id", p.ID,
				"policy_name", p.Name,
				"error", err,
			)
			continue
		}

		blocked, motive, err := e.conditionBlocks(ctx, &p.Condition, ent, req, counter)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}

		if blocked {
			e.logger.Info("policy blocked access",
				"policy_id", p.ID,
				"policy_name", p.Name,
				"entity_id", ent.ID,
				"motive", motive,
			)
			return &policy.Decision{
				Permitted: false,
				Motive:    fmt.Sprintf("%s: %s", p.Name, motive),
				PolicyID:  p.ID,
			}, nil
		}
	}

	return &policy.Decision{Permitted: true}, nil
}

// conditionBlocks evaluates one validated condition. It returns whether the
// condition blocks the request and, if so, the motive.
func (e *Engine) conditionBlocks(ctx context.Context, c *policy.Condition, ent *entity.Entity, req *policy.RequestContext, counter EntryCounter) (bool, string, error) {
	switch c.Kind {
	case policy.ConditionTimeWindow:
		start, _ := policy.ParseClock(c.Start)
		end, _ := policy.ParseClock(c.End)
		if !policy.ClockOf(req.Time).InWindow(start, end) {
			return true, fmt.Sprintf("outside permitted time window %s-%s", c.Start, c.End), nil
		}
		return false, "", nil

	case policy.ConditionDayOfWeek:
		day := req.Time.Weekday()
		for _, name := range c.Days {
			permitted, _ := policy.ParseWeekday(name)
			if day == permitted {
				return false, "", nil
			}
		}
		return true, fmt.Sprintf("access not permitted on %s", day), nil

	case policy.ConditionMaxPerDay:
		if counter == nil {
			return false, "", fmt.Errorf("max_per_day condition requires an entry counter")
		}
		dayStart := time.Date(req.Time.Year(), req.Time.Month(), req.Time.Day(), 0, 0, 0, 0, req.Time.Location())
		count, err := counter(ctx, ent.ID, dayStart)
		if err != nil {
			return false, "", fmt.Errorf("entry count failed: %w", err)
		}
		if count >= c.Max {
			return true, fmt.Sprintf("daily entry limit reached (%d of %d)", count, c.Max), nil
		}
		return false, "", nil

	case policy.ConditionRequireAuth:
		if !req.Authorized {
			return true, "prior authorization required", nil
		}
		return false, "", nil

	case policy.ConditionDenyList:
		if ent.DenyListed() || req.DenyListed {
			return true, "subject is deny-listed", nil
		}
		return false, "", nil

	case policy.ConditionComposite:
		for i := range c.All {
			blocked, motive, err := e.conditionBlocks(ctx, &c.All[i], ent, req, counter)
			if err != nil {
				return false, "", err
			}
			if blocked {
				return true, motive, nil
			}
		}
		return false, "", nil

	default:
		// Validate() runs before evaluation, so this is unreachable for
		// policies that passed it.
		return false, "", policy.NewMalformedConditionError(c.Kind, "unknown condition kind")
	}
}
