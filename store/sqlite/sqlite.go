/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements rates.CardStore (versioned rate cards) and pricing.TimeLogStore
  (priced time logs) on SQLite. The PostgreSQL store in store/postgres
  follows the same layout with dialect changes only.

INTERFACES IMPLEMENTED:
  rates.Store:          Versions(key, asOf), the resolver's only query
  rates.CardStore:      Save / CloseVersion / Get / List for authoring
  pricing.TimeLogStore: SaveTimeLog / ListTimeLogs

APPEND-ONLY ENFORCEMENT:
  - Rate card rows are inserted, never rewritten
  - The only UPDATE sets effective_to on an open-ended version (CloseVersion)
  - No DELETE statements on either table

KEY TABLES:
  rate_cards: One row per version. Rates are TEXT decimals, never REAL.
  time_logs:  Priced work records. The price and the window breakdown are
              kept as JSON next to the headline money columns.

INDEXES:
  - idx_rate_cards_key_from: (key columns, effective_from DESC), serves
    Versions without a sort step however many versions a key has

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Save reads the existing versions
  and inserts inside one write lock and one SQL transaction, so two
  overlapping versions can never both land.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  resolver := rates.NewResolver(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - rates/store.go: Rate card contract
  - pricing/timelog.go: Time log contract
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
)

// Store implements rates.CardStore and pricing.TimeLogStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ rates.CardStore      = (*Store)(nil)
	_ pricing.TimeLogStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Rate cards (one row per version)
	CREATE TABLE IF NOT EXISTS rate_cards (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		rate_label TEXT NOT NULL,
		rate_mode TEXT NOT NULL,
		base_rate TEXT NOT NULL,
		ot_rate TEXT,
		currency TEXT NOT NULL,
		min_hours TEXT,
		weekend_multiplier TEXT,
		night_multiplier TEXT,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rate_cards_key_from
		ON rate_cards(company_id, target_type, target_id, role_id, rate_label, effective_from DESC);

	-- Time logs (priced work records)
	CREATE TABLE IF NOT EXISTS time_logs (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		subcontractor_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		shift_type TEXT NOT NULL,
		date TEXT NOT NULL,
		start_time TEXT,
		end_time TEXT,
		hours_regular TEXT NOT NULL,
		hours_ot TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		sub_cost TEXT NOT NULL,
		client_bill TEXT NOT NULL,
		margin_value TEXT NOT NULL,
		margin_pct TEXT NOT NULL,
		currency TEXT NOT NULL,
		price_json TEXT NOT NULL,
		breakdown_json TEXT,
		sub_rate_card_id TEXT,
		client_rate_card_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_time_logs_company_status
		ON time_logs(company_id, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RATE CARD STORE (rates.CardStore interface)
// =============================================================================

const rateCardColumns = `
	id, company_id, target_type, target_id, role_id, rate_label, rate_mode,
	base_rate, ot_rate, currency, min_hours, weekend_multiplier, night_multiplier,
	effective_from, effective_to, created_at`

const versionsQuery = `
	SELECT ` + rateCardColumns + `
	FROM rate_cards
	WHERE company_id = ? AND target_type = ? AND target_id = ? AND role_id = ? AND rate_label = ?
	  AND effective_from <= ?
	ORDER BY effective_from DESC
`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Versions returns every version of key started on or before asOf, newest
// first. The result is never capped.
func (s *Store) Versions(ctx context.Context, key rates.Key, asOf generic.TimePoint) ([]rates.RateCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRateCards(ctx, s.db, versionsQuery, keyArgs(key, asOf.String())...)
}

// Save inserts a new version after checking it against the key's other
// versions.
func (s *Store) Save(ctx context.Context, card rates.RateCard) error {
	if err := rates.ValidateCard(card); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	// A far-future asOf returns every version of the key.
	existing, err := s.queryRateCards(ctx, sqlTx, versionsQuery, keyArgs(card.Key, "9999-12-31")...)
	if err != nil {
		return err
	}
	if err := rates.CheckOverlap(card, existing); err != nil {
		return err
	}

	mode, rate, otRate := rates.StoredTerms(card.Terms)
	createdAt := card.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO rate_cards (` + rateCardColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = sqlTx.ExecContext(ctx, query,
		card.ID,
		card.Key.CompanyID,
		card.Key.TargetType,
		card.Key.TargetID,
		card.Key.RoleID,
		card.Key.RateLabel,
		mode,
		rate.String(),
		nullDecimal(otRate),
		generic.NormalizeCurrency(string(card.Currency)),
		nullDecimal(card.MinHours),
		nullDecimal(card.WeekendMultiplier),
		nullDecimal(card.NightMultiplier),
		card.Effective.From.String(),
		nullDate(card.Effective.To),
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert rate card: %w", err)
	}

	return sqlTx.Commit()
}

// CloseVersion ends an open-ended version on to. The sibling check and
// the update share one transaction.
func (s *Store) CloseVersion(ctx context.Context, id generic.RateCardID, to generic.TimePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	card, err := s.get(ctx, sqlTx, id)
	if err != nil {
		return err
	}
	siblings, err := s.queryRateCards(ctx, sqlTx, versionsQuery, keyArgs(card.Key, "9999-12-31")...)
	if err != nil {
		return err
	}
	if _, err := rates.CloseOpenVersion(card, to, siblings); err != nil {
		return err
	}

	_, err = sqlTx.ExecContext(ctx,
		"UPDATE rate_cards SET effective_to = ? WHERE id = ? AND effective_to IS NULL",
		to.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to close rate card: %w", err)
	}
	return sqlTx.Commit()
}

// Get returns a card by ID.
func (s *Store) Get(ctx context.Context, id generic.RateCardID) (rates.RateCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.get(ctx, s.db, id)
}

func (s *Store) get(ctx context.Context, q queryer, id generic.RateCardID) (rates.RateCard, error) {
	cards, err := s.queryRateCards(ctx, q,
		"SELECT "+rateCardColumns+" FROM rate_cards WHERE id = ?", id)
	if err != nil {
		return rates.RateCard{}, err
	}
	if len(cards) == 0 {
		return rates.RateCard{}, generic.ErrRateCardNotFound
	}
	return cards[0], nil
}

// List returns cards matching the filter, ordered by key then
// effective_from ascending.
func (s *Store) List(ctx context.Context, filter rates.Filter) ([]rates.RateCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	add := func(column, value string) {
		if value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	add("company_id", string(filter.CompanyID))
	add("target_type", string(filter.TargetType))
	add("target_id", string(filter.TargetID))
	add("role_id", string(filter.RoleID))
	add("rate_label", string(filter.RateLabel))

	query := "SELECT " + rateCardColumns + " FROM rate_cards"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY company_id, target_type, target_id, role_id, rate_label, effective_from ASC"

	return s.queryRateCards(ctx, s.db, query, args...)
}

func (s *Store) queryRateCards(ctx context.Context, db queryer, query string, args ...any) ([]rates.RateCard, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate cards: %w", err)
	}
	defer rows.Close()

	var cards []rates.RateCard
	for rows.Next() {
		card, err := scanRateCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}

	return cards, rows.Err()
}

func scanRateCard(rows *sql.Rows) (rates.RateCard, error) {
	var (
		card                   rates.RateCard
		mode, from, createdAt  string
		rate                   decimal.Decimal
		otRate, minHours       decimal.NullDecimal
		weekendMult, nightMult decimal.NullDecimal
		to                     sql.NullString
	)

	if err := rows.Scan(
		&card.ID, &card.Key.CompanyID, &card.Key.TargetType, &card.Key.TargetID,
		&card.Key.RoleID, &card.Key.RateLabel, &mode, &rate, &otRate, &card.Currency,
		&minHours, &weekendMult, &nightMult, &from, &to, &createdAt,
	); err != nil {
		return rates.RateCard{}, fmt.Errorf("failed to scan rate card: %w", err)
	}

	terms, err := rates.TermsFor(rates.RateMode(mode), rate, decimalPtr(otRate))
	if err != nil {
		return rates.RateCard{}, fmt.Errorf("rate card %s: %w", card.ID, err)
	}
	card.Terms = terms
	card.MinHours = decimalPtr(minHours)
	card.WeekendMultiplier = decimalPtr(weekendMult)
	card.NightMultiplier = decimalPtr(nightMult)

	card.Effective.From, err = generic.ParseDate(from)
	if err != nil {
		return rates.RateCard{}, fmt.Errorf("rate card %s: %w", card.ID, err)
	}
	if to.Valid {
		end, err := generic.ParseDate(to.String)
		if err != nil {
			return rates.RateCard{}, fmt.Errorf("rate card %s: %w", card.ID, err)
		}
		card.Effective.To = &end
	}
	card.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return card, nil
}

func keyArgs(key rates.Key, asOf string) []any {
	return []any{key.CompanyID, key.TargetType, key.TargetID, key.RoleID, key.RateLabel, asOf}
}

// =============================================================================
// TIME LOG STORE (pricing.TimeLogStore interface)
// =============================================================================

const timeLogColumns = `
	id, company_id, subcontractor_id, client_id, role_id, shift_type, date,
	start_time, end_time, hours_regular, hours_ot, status,
	sub_cost, client_bill, margin_value, margin_pct, currency,
	price_json, breakdown_json, sub_rate_card_id, client_rate_card_id, created_at`

// timeLogSelect skips the headline money columns; price_json carries them.
const timeLogSelect = `
	id, company_id, subcontractor_id, client_id, role_id, shift_type, date,
	start_time, end_time, hours_regular, hours_ot, status,
	price_json, breakdown_json, sub_rate_card_id, client_rate_card_id, created_at`

// SaveTimeLog inserts a priced time log.
func (s *Store) SaveTimeLog(ctx context.Context, log pricing.TimeLog) error {
	priceJSON, err := json.Marshal(log.Price)
	if err != nil {
		return fmt.Errorf("failed to encode price: %w", err)
	}
	var breakdownJSON sql.NullString
	if len(log.Breakdown) > 0 {
		b, err := json.Marshal(log.Breakdown)
		if err != nil {
			return fmt.Errorf("failed to encode breakdown: %w", err)
		}
		breakdownJSON = sql.NullString{String: string(b), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO time_logs (` + timeLogColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		log.ID,
		log.CompanyID,
		log.SubcontractorID,
		log.ClientID,
		log.RoleID,
		log.ShiftType,
		log.Date.String(),
		nullString(log.StartTime),
		nullString(log.EndTime),
		log.HoursRegular.String(),
		log.HoursOT.String(),
		log.Status,
		log.Price.SubCost.String(),
		log.Price.ClientBill.String(),
		log.Price.MarginValue.String(),
		log.Price.MarginPct.String(),
		log.Price.Currency,
		string(priceJSON),
		breakdownJSON,
		nullString(string(log.SubRateCardID)),
		nullString(string(log.ClientRateCardID)),
		log.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateID
		}
		return fmt.Errorf("failed to insert time log: %w", err)
	}
	return nil
}

// ListTimeLogs returns matching logs in insertion order.
func (s *Store) ListTimeLogs(ctx context.Context, filter pricing.TimeLogFilter) ([]pricing.TimeLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + timeLogSelect + " FROM time_logs WHERE 1 = 1"
	var args []any
	if filter.CompanyID != "" {
		query += " AND company_id = ?"
		args = append(args, filter.CompanyID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time logs: %w", err)
	}
	defer rows.Close()

	var logs []pricing.TimeLog
	for rows.Next() {
		log, err := scanTimeLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func scanTimeLog(rows *sql.Rows) (pricing.TimeLog, error) {
	var (
		log                               pricing.TimeLog
		date, priceJSON, createdAt        string
		startTime, endTime, breakdownJSON sql.NullString
		subCardID, clientCardID           sql.NullString
	)

	if err := rows.Scan(
		&log.ID, &log.CompanyID, &log.SubcontractorID, &log.ClientID, &log.RoleID,
		&log.ShiftType, &date, &startTime, &endTime, &log.HoursRegular, &log.HoursOT,
		&log.Status, &priceJSON, &breakdownJSON, &subCardID, &clientCardID, &createdAt,
	); err != nil {
		return pricing.TimeLog{}, fmt.Errorf("failed to scan time log: %w", err)
	}

	if err := json.Unmarshal([]byte(priceJSON), &log.Price); err != nil {
		return pricing.TimeLog{}, fmt.Errorf("time log %s: failed to decode price: %w", log.ID, err)
	}
	if breakdownJSON.Valid {
		if err := json.Unmarshal([]byte(breakdownJSON.String), &log.Breakdown); err != nil {
			return pricing.TimeLog{}, fmt.Errorf("time log %s: failed to decode breakdown: %w", log.ID, err)
		}
	}

	var err error
	log.Date, err = generic.ParseDate(date)
	if err != nil {
		return pricing.TimeLog{}, fmt.Errorf("time log %s: %w", log.ID, err)
	}
	log.StartTime = startTime.String
	log.EndTime = endTime.String
	log.SubRateCardID = generic.RateCardID(subCardID.String)
	log.ClientRateCardID = generic.RateCardID(clientCardID.String)
	log.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return log, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
