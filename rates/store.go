/*
store.go - Read/write contract over versioned rate cards

PURPOSE:
  Defines the interface between the resolver and the database. The
  resolver consumes a single read query per call; authoring tools use the
  write side. Implementations: store/memory (tests, CLI), store/sqlite,
  store/postgres.

QUERY CONTRACT:
  Versions(key, asOf) returns EVERY card of the key whose effective_from is
  on or before asOf, ordered by effective_from descending. There is no
  result cap: a capped page can hide the effective version behind newer
  expired ones when a key has many versions.

APPEND-ONLY:
  Cards referenced by finalized cost records are never edited. A change of
  rate is a new version with a later effective_from; the previous version
  is closed by giving it an effective_to (CloseVersion).

SEE ALSO:
  - resolver.go: The only reader in the calculation core
  - store/memory/memory.go: Sorted per-key versions, binary search by date
*/
package rates

import (
	"context"
	"fmt"

	"github.com/warp/billing-engine/generic"
)

// Store is the read contract the resolver depends on.
type Store interface {
	// Versions returns all cards for key with effective_from <= asOf,
	// newest effective_from first. Uncapped.
	Versions(ctx context.Context, key Key, asOf generic.TimePoint) ([]RateCard, error)
}

// CardStore adds authoring operations on top of Store.
type CardStore interface {
	Store

	// Save inserts a new version. Returns ErrOverlappingVersions when the
	// version shares a day with another version of the same key.
	Save(ctx context.Context, card RateCard) error

	// CloseVersion sets effective_to on an open-ended version. Returns
	// ErrVersionClosed when the version already has an effective_to, and
	// ErrOverlappingVersions if the closed period would overlap a sibling.
	CloseVersion(ctx context.Context, id generic.RateCardID, to generic.TimePoint) error

	// Get returns a card by ID. Returns ErrRateCardNotFound if absent.
	Get(ctx context.Context, id generic.RateCardID) (RateCard, error)

	// List returns cards matching the filter, ordered by key then
	// effective_from ascending.
	List(ctx context.Context, filter Filter) ([]RateCard, error)
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	CompanyID  generic.CompanyID
	TargetType generic.TargetType
	TargetID   generic.PartyID
	RoleID     generic.RoleID
	RateLabel  RateLabel
}

// Matches reports whether a card passes the filter.
func (f Filter) Matches(c RateCard) bool {
	k := c.Key
	return (f.CompanyID == "" || f.CompanyID == k.CompanyID) &&
		(f.TargetType == "" || f.TargetType == k.TargetType) &&
		(f.TargetID == "" || f.TargetID == k.TargetID) &&
		(f.RoleID == "" || f.RoleID == k.RoleID) &&
		(f.RateLabel == "" || f.RateLabel == k.RateLabel)
}

// CloseOpenVersion returns card with its period ending on to. It fails
// when card is already closed, when to is not after effective_from, or when
// the closed period would share a day with a sibling in existing.
func CloseOpenVersion(card RateCard, to generic.TimePoint, existing []RateCard) (RateCard, error) {
	if !card.Effective.IsOpenEnded() {
		return RateCard{}, fmt.Errorf("%w: %s ends %s", generic.ErrVersionClosed, card.ID, card.Effective.To)
	}
	closed := card
	closed.Effective.To = &to
	if err := closed.Effective.Validate(); err != nil {
		return RateCard{}, err
	}
	if err := CheckOverlap(closed, existing); err != nil {
		return RateCard{}, err
	}
	return closed, nil
}

// CheckOverlap returns a VersionOverlapError if card shares a day with any
// existing version of its key. Stores call it inside their write lock.
func CheckOverlap(card RateCard, existing []RateCard) error {
	for _, e := range existing {
		if e.Key != card.Key || e.ID == card.ID {
			continue
		}
		if e.Effective.Overlaps(card.Effective) {
			return &generic.VersionOverlapError{Existing: e.ID, Period: e.Effective}
		}
	}
	return nil
}
