// Package memory provides in-memory implementations of the engine's stores.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev/CLI)
// =============================================================================

// Store keeps each key's versions sorted by effective_from ascending so a
// date lookup is a binary search, independent of how many versions exist.
type Store struct {
	mu       sync.RWMutex
	versions map[rates.Key][]rates.RateCard
	byID     map[generic.RateCardID]rates.Key

	timeLogs   []pricing.TimeLog
	timeLogIDs map[generic.TimeLogID]bool
}

func New() *Store {
	return &Store{
		versions:   make(map[rates.Key][]rates.RateCard),
		byID:       make(map[generic.RateCardID]rates.Key),
		timeLogIDs: make(map[generic.TimeLogID]bool),
	}
}

// Versions returns every version of key started on or before asOf, newest
// first.
func (m *Store) Versions(_ context.Context, key rates.Key, asOf generic.TimePoint) ([]rates.RateCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cards := m.versions[key]
	// First version starting after asOf; everything before it qualifies.
	n := sort.Search(len(cards), func(i int) bool {
		return cards[i].Effective.From.After(asOf)
	})

	result := make([]rates.RateCard, 0, n)
	for i := n - 1; i >= 0; i-- {
		result = append(result, cards[i])
	}
	return result, nil
}

// Save inserts a version. Append-only per key.
func (m *Store) Save(_ context.Context, card rates.RateCard) error {
	if err := rates.ValidateCard(card); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[card.ID]; exists {
		return generic.ErrDuplicateID
	}
	cards := m.versions[card.Key]
	if err := rates.CheckOverlap(card, cards); err != nil {
		return err
	}

	// Binary search for insertion point
	i := sort.Search(len(cards), func(i int) bool {
		return cards[i].Effective.From.After(card.Effective.From)
	})
	cards = append(cards, rates.RateCard{})
	copy(cards[i+1:], cards[i:])
	cards[i] = card
	m.versions[card.Key] = cards
	m.byID[card.ID] = card.Key
	return nil
}

// CloseVersion ends an open-ended version on to.
func (m *Store) CloseVersion(_ context.Context, id generic.RateCardID, to generic.TimePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byID[id]
	if !ok {
		return generic.ErrRateCardNotFound
	}
	cards := m.versions[key]
	for i := range cards {
		if cards[i].ID != id {
			continue
		}
		closed, err := rates.CloseOpenVersion(cards[i], to, cards)
		if err != nil {
			return err
		}
		cards[i] = closed
		return nil
	}
	return generic.ErrRateCardNotFound
}

func (m *Store) Get(_ context.Context, id generic.RateCardID) (rates.RateCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.byID[id]
	if !ok {
		return rates.RateCard{}, generic.ErrRateCardNotFound
	}
	for _, c := range m.versions[key] {
		if c.ID == id {
			return c, nil
		}
	}
	return rates.RateCard{}, generic.ErrRateCardNotFound
}

func (m *Store) List(_ context.Context, filter rates.Filter) ([]rates.RateCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]rates.Key, 0, len(m.versions))
	for k := range m.versions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var result []rates.RateCard
	for _, k := range keys {
		for _, c := range m.versions[k] {
			if filter.Matches(c) {
				result = append(result, c)
			}
		}
	}
	return result, nil
}

// =============================================================================
// TIME LOGS
// =============================================================================

func (m *Store) SaveTimeLog(_ context.Context, log pricing.TimeLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timeLogIDs[log.ID] {
		return generic.ErrDuplicateID
	}
	m.timeLogs = append(m.timeLogs, log)
	m.timeLogIDs[log.ID] = true
	return nil
}

// ListTimeLogs returns matching logs in insertion order.
func (m *Store) ListTimeLogs(_ context.Context, filter pricing.TimeLogFilter) ([]pricing.TimeLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []pricing.TimeLog
	for _, l := range m.timeLogs {
		if filter.Matches(l) {
			result = append(result, l)
		}
	}
	return result, nil
}
