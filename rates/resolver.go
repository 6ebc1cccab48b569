package rates

import (
	"context"
	"fmt"

	"github.com/warp/billing-engine/generic"
)

// =============================================================================
// RESOLVER - Finds the single version effective on a date
// =============================================================================

// Query is the full lookup key of a resolution. All fields are required.
type Query struct {
	CompanyID  generic.CompanyID
	TargetType generic.TargetType
	TargetID   generic.PartyID
	RoleID     generic.RoleID
	ShiftType  ShiftType
	AsOf       generic.TimePoint
}

func (q Query) validate() error {
	switch {
	case q.CompanyID == "":
		return &generic.InvalidValueError{Field: "company_id", Value: ""}
	case !q.TargetType.Valid():
		return &generic.InvalidValueError{Field: "target_type", Value: string(q.TargetType)}
	case q.TargetID == "":
		return &generic.InvalidValueError{Field: "target_id", Value: ""}
	case q.RoleID == "":
		return &generic.InvalidValueError{Field: "role_id", Value: ""}
	case q.AsOf.IsZero():
		return &generic.InvalidValueError{Field: "as_of", Value: "", Err: generic.ErrInvalidDate}
	}
	return nil
}

func (q Query) String() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s@%s", q.CompanyID, q.TargetType, q.TargetID, q.RoleID, q.ShiftType, q.AsOf)
}

// Resolver reads from a Store and holds no other state; it is safe for
// concurrent use.
type Resolver struct {
	Store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{Store: store}
}

// Resolve returns the rate of the version effective on q.AsOf.
//
// found is false when no version qualifies. That is not an error: callers
// that need a rate must treat it as a failed precondition, never as zero.
//
// Versions are scanned newest effective_from first and the first one that
// has not lapsed wins. The newest version alone is not enough: it may
// already have an effective_to before q.AsOf.
func (r *Resolver) Resolve(ctx context.Context, q Query) (rate ResolvedRate, found bool, err error) {
	if err := q.validate(); err != nil {
		return ResolvedRate{}, false, err
	}
	label, err := LabelFor(q.ShiftType)
	if err != nil {
		return ResolvedRate{}, false, err
	}

	key := Key{
		CompanyID:  q.CompanyID,
		TargetType: q.TargetType,
		TargetID:   q.TargetID,
		RoleID:     q.RoleID,
		RateLabel:  label,
	}
	candidates, err := r.Store.Versions(ctx, key, q.AsOf)
	if err != nil {
		return ResolvedRate{}, false, fmt.Errorf("load rate card versions for %s: %w", key, err)
	}

	card, ok := pickEffective(candidates, q.AsOf)
	if !ok {
		return ResolvedRate{}, false, nil
	}
	return card.Resolve(), true, nil
}

// pickEffective expects candidates newest effective_from first.
func pickEffective(candidates []RateCard, asOf generic.TimePoint) (RateCard, bool) {
	for _, c := range candidates {
		if !c.Effective.StartedBy(asOf) {
			continue
		}
		if c.Effective.StillValidOn(asOf) {
			return c, true
		}
	}
	return RateCard{}, false
}
