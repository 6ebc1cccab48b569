/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Same contracts as store/sqlite (rates.CardStore and pricing.TimeLogStore)
  on PostgreSQL through pgx. Money columns are NUMERIC and dates are DATE;
  both are read back as text so no float ever enters the pricing path.

CONCURRENCY:
  Save takes a transaction-scoped advisory lock on the rate card key, so
  two writers cannot both pass the overlap check for the same key. Reads
  take no locks.

TESTING:
  Store depends on the Pool interface, which *pgxpool.Pool and
  pgxmock.PgxPoolIface both satisfy.

SEE ALSO:
  - store/sqlite/sqlite.go: Same schema in SQLite dialect
  - rates/store.go: Rate card contract
*/
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/pricing"
	"github.com/warp/billing-engine/rates"
)

const uniqueViolationCode = "23505"

// Queryer is compatible with pgx.Tx and pgxpool.Pool.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Pool is a Queryer that can start transactions.
type Pool interface {
	Queryer
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Store implements rates.CardStore and pricing.TimeLogStore on PostgreSQL.
type Store struct {
	pool Pool
}

var (
	_ rates.CardStore      = (*Store)(nil)
	_ pricing.TimeLogStore = (*Store)(nil)
)

func New(pool Pool) *Store {
	return &Store{pool: pool}
}

// PoolConfig holds connection settings for NewPool.
type PoolConfig struct {
	DSN      string
	MaxConns int
}

// NewPool opens a pgxpool.Pool and checks it answers.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
	CREATE TABLE IF NOT EXISTS rate_cards (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		rate_label TEXT NOT NULL,
		rate_mode TEXT NOT NULL,
		base_rate NUMERIC NOT NULL,
		ot_rate NUMERIC,
		currency TEXT NOT NULL,
		min_hours NUMERIC,
		weekend_multiplier NUMERIC,
		night_multiplier NUMERIC,
		effective_from DATE NOT NULL,
		effective_to DATE,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rate_cards_key_from
		ON rate_cards(company_id, target_type, target_id, role_id, rate_label, effective_from DESC);

	CREATE TABLE IF NOT EXISTS time_logs (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		subcontractor_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		shift_type TEXT NOT NULL,
		date DATE NOT NULL,
		start_time TEXT,
		end_time TEXT,
		hours_regular NUMERIC NOT NULL,
		hours_ot NUMERIC NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		sub_cost NUMERIC NOT NULL,
		client_bill NUMERIC NOT NULL,
		margin_value NUMERIC NOT NULL,
		margin_pct NUMERIC NOT NULL,
		currency TEXT NOT NULL,
		price_json JSONB NOT NULL,
		breakdown_json JSONB,
		sub_rate_card_id TEXT,
		client_rate_card_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_time_logs_company_status
		ON time_logs(company_id, status);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// =============================================================================
// RATE CARD STORE (rates.CardStore interface)
// =============================================================================

const selectRateCards = `
        SELECT id, company_id, target_type, target_id, role_id, rate_label, rate_mode,
               base_rate::text, ot_rate::text, currency, min_hours::text,
               weekend_multiplier::text, night_multiplier::text,
               effective_from::text, effective_to::text, created_at
          FROM rate_cards`

const versionsQuery = selectRateCards + `
         WHERE company_id = $1 AND target_type = $2 AND target_id = $3
           AND role_id = $4 AND rate_label = $5
           AND effective_from <= $6::date
         ORDER BY effective_from DESC`

const lockKeyQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

const insertRateCard = `
        INSERT INTO rate_cards (id, company_id, target_type, target_id, role_id, rate_label,
               rate_mode, base_rate, ot_rate, currency, min_hours, weekend_multiplier,
               night_multiplier, effective_from, effective_to, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const getRateCard = selectRateCards + `
         WHERE id = $1
         LIMIT 1`

const closeRateCard = `UPDATE rate_cards SET effective_to = $1::date WHERE id = $2 AND effective_to IS NULL`

// Versions returns every version of key started on or before asOf, newest
// first. The result is never capped.
func (s *Store) Versions(ctx context.Context, key rates.Key, asOf generic.TimePoint) ([]rates.RateCard, error) {
	return queryRateCards(ctx, s.pool, versionsQuery, keyArgs(key, asOf.String())...)
}

// Save inserts a new version after checking it against the key's other
// versions under a per-key lock.
func (s *Store) Save(ctx context.Context, card rates.RateCard) error {
	if err := rates.ValidateCard(card); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, lockKeyQuery, card.Key.String()); err != nil {
		return fmt.Errorf("postgres: lock key: %w", err)
	}
	existing, err := queryRateCards(ctx, tx, versionsQuery, keyArgs(card.Key, "infinity")...)
	if err != nil {
		return err
	}
	if err := rates.CheckOverlap(card, existing); err != nil {
		return err
	}

	mode, rate, otRate := rates.StoredTerms(card.Terms)
	createdAt := card.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, insertRateCard,
		string(card.ID),
		string(card.Key.CompanyID),
		string(card.Key.TargetType),
		string(card.Key.TargetID),
		string(card.Key.RoleID),
		string(card.Key.RateLabel),
		string(mode),
		rate.String(),
		nullableDecimal(otRate),
		string(generic.NormalizeCurrency(string(card.Currency))),
		nullableDecimal(card.MinHours),
		nullableDecimal(card.WeekendMultiplier),
		nullableDecimal(card.NightMultiplier),
		card.Effective.From.String(),
		nullableDate(card.Effective.To),
		createdAt,
	)
	if err != nil {
		return translatePgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	committed = true
	return nil
}

// CloseVersion ends an open-ended version on to. The card is re-read and
// checked against its siblings under the same per-key lock Save takes.
func (s *Store) CloseVersion(ctx context.Context, id generic.RateCardID, to generic.TimePoint) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	card, err := getCard(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, lockKeyQuery, card.Key.String()); err != nil {
		return fmt.Errorf("postgres: lock key: %w", err)
	}
	siblings, err := queryRateCards(ctx, tx, versionsQuery, keyArgs(card.Key, "infinity")...)
	if err != nil {
		return err
	}
	if _, err := rates.CloseOpenVersion(card, to, siblings); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, closeRateCard, to.String(), string(id))
	if err != nil {
		return fmt.Errorf("postgres: close rate card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", generic.ErrVersionClosed, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) Get(ctx context.Context, id generic.RateCardID) (rates.RateCard, error) {
	return getCard(ctx, s.pool, id)
}

func getCard(ctx context.Context, q Queryer, id generic.RateCardID) (rates.RateCard, error) {
	card, err := scanRateCard(q.QueryRow(ctx, getRateCard, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return rates.RateCard{}, generic.ErrRateCardNotFound
	}
	return card, err
}

// List returns cards matching the filter, ordered by key then
// effective_from ascending.
func (s *Store) List(ctx context.Context, filter rates.Filter) ([]rates.RateCard, error) {
	args := make([]any, 0, 5)
	conditions := make([]string, 0, 5)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, column+" = $"+strconv.Itoa(len(args)))
	}
	add("company_id", string(filter.CompanyID))
	add("target_type", string(filter.TargetType))
	add("target_id", string(filter.TargetID))
	add("role_id", string(filter.RoleID))
	add("rate_label", string(filter.RateLabel))

	query := selectRateCards
	if len(conditions) > 0 {
		query += "\n         WHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n         ORDER BY company_id, target_type, target_id, role_id, rate_label, effective_from"

	return queryRateCards(ctx, s.pool, query, args...)
}

func queryRateCards(ctx context.Context, q Queryer, query string, args ...any) ([]rates.RateCard, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query rate cards: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query rate cards: %w", err)
	}
	return cards, nil
}

func scanRateCard(row pgx.Row) (rates.RateCard, error) {
	var (
		id, companyID, targetType, targetID string
		roleID, label, mode, rate, currency string
		from                                string
		otRate, minHours                    sql.NullString
		weekendMult, nightMult, to          sql.NullString
		createdAt                           time.Time
	)

	if err := row.Scan(&id, &companyID, &targetType, &targetID, &roleID, &label, &mode,
		&rate, &otRate, &currency, &minHours, &weekendMult, &nightMult, &from, &to, &createdAt); err != nil {
		return rates.RateCard{}, err
	}

	card := rates.RateCard{
		ID: generic.RateCardID(id),
		Key: rates.Key{
			CompanyID:  generic.CompanyID(companyID),
			TargetType: generic.TargetType(targetType),
			TargetID:   generic.PartyID(targetID),
			RoleID:     generic.RoleID(roleID),
			RateLabel:  rates.RateLabel(label),
		},
		Currency:  generic.Currency(currency),
		CreatedAt: createdAt,
	}

	base, err := decimal.NewFromString(rate)
	if err != nil {
		return rates.RateCard{}, fmt.Errorf("postgres: rate card %s: base_rate: %w", id, err)
	}
	var parsed [4]*decimal.Decimal
	for i, col := range []sql.NullString{otRate, minHours, weekendMult, nightMult} {
		if parsed[i], err = decimalFromNull(col); err != nil {
			return rates.RateCard{}, fmt.Errorf("postgres: rate card %s: %w", id, err)
		}
	}
	card.MinHours, card.WeekendMultiplier, card.NightMultiplier = parsed[1], parsed[2], parsed[3]

	if card.Terms, err = rates.TermsFor(rates.RateMode(mode), base, parsed[0]); err != nil {
		return rates.RateCard{}, fmt.Errorf("postgres: rate card %s: %w", id, err)
	}

	if card.Effective.From, err = generic.ParseDate(from); err != nil {
		return rates.RateCard{}, fmt.Errorf("postgres: rate card %s: %w", id, err)
	}
	if to.Valid {
		end, err := generic.ParseDate(to.String)
		if err != nil {
			return rates.RateCard{}, fmt.Errorf("postgres: rate card %s: %w", id, err)
		}
		card.Effective.To = &end
	}
	return card, nil
}

func keyArgs(key rates.Key, asOf string) []any {
	return []any{
		string(key.CompanyID),
		string(key.TargetType),
		string(key.TargetID),
		string(key.RoleID),
		string(key.RateLabel),
		asOf,
	}
}

// =============================================================================
// TIME LOG STORE (pricing.TimeLogStore interface)
// =============================================================================

const insertTimeLog = `
        INSERT INTO time_logs (id, company_id, subcontractor_id, client_id, role_id, shift_type,
               date, start_time, end_time, hours_regular, hours_ot, status,
               sub_cost, client_bill, margin_value, margin_pct, currency,
               price_json, breakdown_json, sub_rate_card_id, client_rate_card_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
               $18, $19, $20, $21, $22)`

const selectTimeLogs = `
        SELECT id, company_id, subcontractor_id, client_id, role_id, shift_type,
               date::text, start_time, end_time, hours_regular::text, hours_ot::text, status,
               price_json::text, breakdown_json::text, sub_rate_card_id, client_rate_card_id, created_at
          FROM time_logs`

func (s *Store) SaveTimeLog(ctx context.Context, log pricing.TimeLog) error {
	priceJSON, err := json.Marshal(log.Price)
	if err != nil {
		return fmt.Errorf("postgres: encode price: %w", err)
	}
	var breakdownJSON any
	if len(log.Breakdown) > 0 {
		b, err := json.Marshal(log.Breakdown)
		if err != nil {
			return fmt.Errorf("postgres: encode breakdown: %w", err)
		}
		breakdownJSON = string(b)
	}

	_, err = s.pool.Exec(ctx, insertTimeLog,
		string(log.ID),
		string(log.CompanyID),
		string(log.SubcontractorID),
		string(log.ClientID),
		string(log.RoleID),
		string(log.ShiftType),
		log.Date.String(),
		nullableString(log.StartTime),
		nullableString(log.EndTime),
		log.HoursRegular.String(),
		log.HoursOT.String(),
		string(log.Status),
		log.Price.SubCost.String(),
		log.Price.ClientBill.String(),
		log.Price.MarginValue.String(),
		log.Price.MarginPct.String(),
		string(log.Price.Currency),
		string(priceJSON),
		breakdownJSON,
		nullableString(string(log.SubRateCardID)),
		nullableString(string(log.ClientRateCardID)),
		log.CreatedAt,
	)
	if err != nil {
		return translatePgError(err)
	}
	return nil
}

// ListTimeLogs returns matching logs in insertion order.
func (s *Store) ListTimeLogs(ctx context.Context, filter pricing.TimeLogFilter) ([]pricing.TimeLog, error) {
	args := make([]any, 0, 2)
	conditions := make([]string, 0, 2)
	if filter.CompanyID != "" {
		args = append(args, string(filter.CompanyID))
		conditions = append(conditions, "company_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, "status = $"+strconv.Itoa(len(args)))
	}

	query := selectTimeLogs
	if len(conditions) > 0 {
		query += "\n         WHERE " + strings.Join(conditions, " AND ")
	}
	query += "\n         ORDER BY seq"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query time logs: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query time logs: %w", err)
	}
	return logs, nil
}

func scanTimeLog(row pgx.Row) (pricing.TimeLog, error) {
	var (
		id, companyID, subID, clientID, roleID, shiftType string
		date, hoursRegular, hoursOT, status, priceJSON    string
		startTime, endTime, breakdownJSON                 sql.NullString
		subCardID, clientCardID                           sql.NullString
		createdAt                                         time.Time
	)

	if err := row.Scan(&id, &companyID, &subID, &clientID, &roleID, &shiftType,
		&date, &startTime, &endTime, &hoursRegular, &hoursOT, &status,
		&priceJSON, &breakdownJSON, &subCardID, &clientCardID, &createdAt); err != nil {
		return pricing.TimeLog{}, err
	}

	log := pricing.TimeLog{
		ID:               generic.TimeLogID(id),
		CompanyID:        generic.CompanyID(companyID),
		SubcontractorID:  generic.PartyID(subID),
		ClientID:         generic.PartyID(clientID),
		RoleID:           generic.RoleID(roleID),
		ShiftType:        rates.ShiftType(shiftType),
		StartTime:        startTime.String,
		EndTime:          endTime.String,
		Status:           pricing.Status(status),
		SubRateCardID:    generic.RateCardID(subCardID.String),
		ClientRateCardID: generic.RateCardID(clientCardID.String),
		CreatedAt:        createdAt,
	}

	var err error
	if log.Date, err = generic.ParseDate(date); err != nil {
		return pricing.TimeLog{}, fmt.Errorf("postgres: time log %s: %w", id, err)
	}
	if log.HoursRegular, err = decimal.NewFromString(hoursRegular); err != nil {
		return pricing.TimeLog{}, fmt.Errorf("postgres: time log %s: hours_regular: %w", id, err)
	}
	if log.HoursOT, err = decimal.NewFromString(hoursOT); err != nil {
		return pricing.TimeLog{}, fmt.Errorf("postgres: time log %s: hours_ot: %w", id, err)
	}
	if err := json.Unmarshal([]byte(priceJSON), &log.Price); err != nil {
		return pricing.TimeLog{}, fmt.Errorf("postgres: time log %s: decode price: %w", id, err)
	}
	if breakdownJSON.Valid {
		if err := json.Unmarshal([]byte(breakdownJSON.String), &log.Breakdown); err != nil {
			return pricing.TimeLog{}, fmt.Errorf("postgres: time log %s: decode breakdown: %w", id, err)
		}
	}
	return log, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return generic.ErrDuplicateID
	}
	return err
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullableDate(tp *generic.TimePoint) any {
	if tp == nil {
		return nil
	}
	return tp.String()
}

func decimalFromNull(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
