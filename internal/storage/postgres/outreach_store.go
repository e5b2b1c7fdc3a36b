// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

// Schema creates the tables the store expects.
//
//go:embed schema.sql
var Schema string

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reserveLockKey serializes reservations across every source so the per-source
// and global counts are read and written under the same lock.
const reserveLockKey int64 = 0x6f7574726561 // "outrea"

// OutreachStoreConfig controls the Postgres connection pool and table names.
type OutreachStoreConfig struct {
	DSN             string
	Table           string
	SettingsTable   string
	SettingsKey     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// OutreachStore implements outreach.Store and outreach.SettingsSource on Postgres.
type OutreachStore struct {
	pool          pool
	table         string
	settingsTable string
	settingsKey   string
}

// NewOutreachStore connects a pool using the provided config.
func NewOutreachStore(ctx context.Context, cfg OutreachStoreConfig) (*OutreachStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewOutreachStoreWithPool(p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewOutreachStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewOutreachStoreWithPool(p pool, cfg OutreachStoreConfig) (*OutreachStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table := defaultString(cfg.Table, "whatsapp_outreach")
	settingsTable := defaultString(cfg.SettingsTable, "app_settings")
	for _, name := range []string{table, settingsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &OutreachStore{
		pool:          p,
		table:         table,
		settingsTable: settingsTable,
		settingsKey:   defaultString(cfg.SettingsKey, "whatsapp_outreach"),
	}, nil
}

// Close releases the underlying pool resources.
func (s *OutreachStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *OutreachStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate applies Schema. Table names in Schema are the defaults.
func (s *OutreachStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CountSince groups today's non-failed records by source.
func (s *OutreachStore) CountSince(ctx context.Context, since time.Time) (map[outreach.Source]int, error) {
	query := fmt.Sprintf(`
SELECT source, count(*)
FROM %s
WHERE sent_at >= $1 AND status <> 'failed'
GROUP BY source`, s.table)

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("count outreach: %w", err)
	}
	defer rows.Close()

	counts := make(map[outreach.Source]int)
	for rows.Next() {
		var (
			source string
			n      int64
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("scan outreach count: %w", err)
		}
		counts[outreach.Source(source)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outreach counts: %w", err)
	}
	return counts, nil
}

// AlreadyContacted reports whether any non-failed record targets phone.
func (s *OutreachStore) AlreadyContacted(ctx context.Context, phone string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, s.contactedQuery(), phone).Scan(&exists); err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return exists, nil
}

func (s *OutreachStore) contactedQuery() string {
	return fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE phone = $1 AND status <> 'failed')`, s.table)
}

// Reserve counts and inserts inside one transaction guarded by an advisory
// lock, so two concurrent sends cannot both take the last slot.
func (s *OutreachStore) Reserve(ctx context.Context, res outreach.Reservation) (int, error) {
	if res.Record.ID == "" {
		return 0, fmt.Errorf("record id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin reservation: %w", err)
	}
	sent, err := s.reserveTx(ctx, tx, res)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return sent, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return sent, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reservation: %w", err)
	}
	return sent, nil
}

func (s *OutreachStore) reserveTx(ctx context.Context, tx pgx.Tx, res outreach.Reservation) (int, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, reserveLockKey); err != nil {
		return 0, fmt.Errorf("lock reservation: %w", err)
	}

	var contacted bool
	if err := tx.QueryRow(ctx, s.contactedQuery(), res.Record.Phone).Scan(&contacted); err != nil {
		return 0, fmt.Errorf("dedup reservation: %w", err)
	}
	if contacted {
		return 0, outreach.ErrAlreadyContacted
	}

	countQuery := fmt.Sprintf(`
SELECT count(*)
FROM %s
WHERE sent_at >= $1 AND status <> 'failed' AND ($2 = '' OR source = $2)`, s.table)
	var current int64
	if err := tx.QueryRow(ctx, countQuery, res.DayStart, string(res.Scope)).Scan(&current); err != nil {
		return 0, fmt.Errorf("count reservation scope: %w", err)
	}
	if int(current) >= res.Limit {
		return int(current), outreach.ErrQuotaExceeded
	}

	rec := res.Record
	status := rec.Status
	if status == "" {
		status = outreach.StatusPending
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (
	id,
	phone,
	contact_name,
	company_name,
	source,
	message,
	language,
	sent_at,
	status
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)
	args := []any{
		rec.ID,
		rec.Phone,
		rec.ContactName,
		rec.CompanyName,
		string(rec.Source),
		rec.Message,
		string(rec.Language),
		rec.SentAt,
		string(status),
	}
	if _, err := tx.Exec(ctx, insert, args...); err != nil {
		return 0, fmt.Errorf("insert outreach: %w", err)
	}
	return int(current) + 1, nil
}

// Confirm moves a pending record to sent.
func (s *OutreachStore) Confirm(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2 WHERE id = $1 AND status = $3`, s.table)
	return s.execOne(ctx, "confirm outreach", query, id, string(outreach.StatusSent), string(outreach.StatusPending))
}

// Fail marks a record failed with a reason.
func (s *OutreachStore) Fail(ctx context.Context, id string, reason string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, failure_reason = $3 WHERE id = $1`, s.table)
	return s.execOne(ctx, "fail outreach", query, id, string(outreach.StatusFailed), reason)
}

// MarkReplied stores a contact's reply.
func (s *OutreachStore) MarkReplied(ctx context.Context, id, responseText string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, replied_at = $3, response_text = $4 WHERE id = $1`, s.table)
	return s.execOne(ctx, "mark replied", query, id, string(outreach.StatusReplied), at, responseText)
}

// MarkConverted flags a record as converted, keeping any prior value when
// value is nil.
func (s *OutreachStore) MarkConverted(ctx context.Context, id string, value *float64) error {
	query := fmt.Sprintf(
		`UPDATE %s SET converted = TRUE, conversion_value = COALESCE($2, conversion_value) WHERE id = $1`,
		s.table,
	)
	return s.execOne(ctx, "mark converted", query, id, value)
}

// FetchSettings reads the outreach settings document. A missing row yields
// empty settings so defaults stay in effect.
func (s *OutreachStore) FetchSettings(ctx context.Context) (outreach.RemoteSettings, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.settingsTable)
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, s.settingsKey).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return outreach.RemoteSettings{}, nil
		}
		return outreach.RemoteSettings{}, fmt.Errorf("read settings: %w", err)
	}
	var settings outreach.RemoteSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return outreach.RemoteSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

func (s *OutreachStore) execOne(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, outreach.ErrRecordNotFound)
	}
	return nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
