// Package postgres provides Postgres-backed repositories for users, items,
// watchlists and price history.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements the tracker repositories on one pool.
type Store struct {
	pool pool
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// SaveUser upserts a user.
func (s *Store) SaveUser(ctx context.Context, user tracker.User) error {
	const q = `
INSERT INTO users (id, email, scraping_enabled) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, scraping_enabled = EXCLUDED.scraping_enabled`
	if _, err := s.pool.Exec(ctx, q, user.ID, user.Email, user.ScrapingEnabled); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (tracker.User, error) {
	var u tracker.User
	err := s.pool.QueryRow(ctx, `SELECT id, email, scraping_enabled FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.ScrapingEnabled)
	if err != nil {
		return tracker.User{}, notFound("user", id, err)
	}
	return u, nil
}

const itemColumns = `id, user_id, title, price, target_price, rating, reviews, availability, last_scraped`

// GetItem returns an item by id.
func (s *Store) GetItem(ctx context.Context, id string) (tracker.TrackedItem, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE id = $1`, id))
	if err != nil {
		return tracker.TrackedItem{}, notFound("item", id, err)
	}
	return item, nil
}

// ListItems returns a user's items ordered by title.
func (s *Store) ListItems(ctx context.Context, userID string) ([]tracker.TrackedItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM tracked_items WHERE user_id = $1 ORDER BY title`, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []tracker.TrackedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return out, nil
}

// SaveItem upserts an item. A second item with the same title for the same
// user fails with tracker.ErrDuplicateTitle.
func (s *Store) SaveItem(ctx context.Context, item tracker.TrackedItem) error {
	const q = `
INSERT INTO tracked_items (` + itemColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	price = EXCLUDED.price,
	target_price = EXCLUDED.target_price,
	rating = EXCLUDED.rating,
	reviews = EXCLUDED.reviews,
	availability = EXCLUDED.availability,
	last_scraped = EXCLUDED.last_scraped`
	_, err := s.pool.Exec(ctx, q,
		item.ID,
		item.UserID,
		item.Title,
		item.Price,
		item.TargetPrice,
		item.Rating,
		item.Reviews,
		availabilityOrUnknown(item.Availability),
		nullTime(item.LastScraped),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("save item %q: %w", item.Title, tracker.ErrDuplicateTitle)
		}
		return fmt.Errorf("save item: %w", err)
	}
	return nil
}

// DeleteItem removes an item row. History must already be detached.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tracked_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, tracker.ErrNotFound)
	}
	return nil
}

const watchlistSelect = `
SELECT w.id, w.user_id, w.name, w.scraping_enabled, w.scraping_time, w.created_at,
	COALESCE(array_agg(wi.item_id ORDER BY wi.position) FILTER (WHERE wi.item_id IS NOT NULL), '{}')
FROM watchlists w
LEFT JOIN watchlist_items wi ON wi.watchlist_id = w.id`

// ListWatchlists returns every watchlist in creation order.
func (s *Store) ListWatchlists(ctx context.Context) ([]tracker.Watchlist, error) {
	rows, err := s.pool.Query(ctx, watchlistSelect+`
GROUP BY w.id
ORDER BY w.created_at, w.id`)
	if err != nil {
		return nil, fmt.Errorf("list watchlists: %w", err)
	}
	defer rows.Close()
	var out []tracker.Watchlist
	for rows.Next() {
		wl, err := scanWatchlist(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		out = append(out, wl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list watchlists: %w", err)
	}
	return out, nil
}

// GetWatchlist returns one watchlist with its ordered members.
func (s *Store) GetWatchlist(ctx context.Context, id string) (tracker.Watchlist, error) {
	wl, err := scanWatchlist(s.pool.QueryRow(ctx, watchlistSelect+`
WHERE w.id = $1
GROUP BY w.id`, id))
	if err != nil {
		return tracker.Watchlist{}, notFound("watchlist", id, err)
	}
	return wl, nil
}

// SaveWatchlist upserts a watchlist and replaces its membership in one
// transaction.
func (s *Store) SaveWatchlist(ctx context.Context, wl tracker.Watchlist) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	createdAt := wl.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	const upsert = `
INSERT INTO watchlists (id, user_id, name, scraping_enabled, scraping_time, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	scraping_enabled = EXCLUDED.scraping_enabled,
	scraping_time = EXCLUDED.scraping_time`
	if _, err = tx.Exec(ctx, upsert, wl.ID, wl.UserID, wl.Name, wl.ScrapingEnabled, wl.ScrapingTime, createdAt); err != nil {
		return fmt.Errorf("save watchlist: %w", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM watchlist_items WHERE watchlist_id = $1`, wl.ID); err != nil {
		return fmt.Errorf("clear watchlist members: %w", err)
	}
	for pos, itemID := range wl.ItemIDs {
		if _, err = tx.Exec(ctx,
			`INSERT INTO watchlist_items (watchlist_id, item_id, position) VALUES ($1, $2, $3)`,
			wl.ID, itemID, pos,
		); err != nil {
			return fmt.Errorf("add watchlist member: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RemoveItem drops an item from every watchlist.
func (s *Store) RemoveItem(ctx context.Context, itemID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM watchlist_items WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("remove item from watchlists: %w", err)
	}
	return nil
}

const entryColumns = `id, item_id, title_snapshot, price, price_numeric, availability, recorded_at, event_name`

// CreateEntry inserts one history row.
func (s *Store) CreateEntry(ctx context.Context, e tracker.PriceHistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_history (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID,
		nullText(e.Subject.ItemID),
		nullText(e.Subject.Title),
		e.Price,
		e.PriceNumeric,
		availabilityOrUnknown(e.Availability),
		e.RecordedAt,
		nullText(e.EventName),
	)
	if err != nil {
		return fmt.Errorf("insert price history: %w", err)
	}
	return nil
}

// RecentEntries returns up to n entries for an item, newest first.
func (s *Store) RecentEntries(ctx context.Context, itemID string, n int) ([]tracker.PriceHistoryEntry, error) {
	if n <= 0 {
		n = 1
	}
	return s.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM price_history WHERE item_id = $1 ORDER BY recorded_at DESC LIMIT $2`,
		itemID, n)
}

// DetachItem keeps the first title snapshot of each entry and clears the
// item reference.
func (s *Store) DetachItem(ctx context.Context, itemID, title string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE price_history
SET title_snapshot = COALESCE(NULLIF(title_snapshot, ''), $2), item_id = NULL
WHERE item_id = $1`, itemID, title)
	if err != nil {
		return 0, fmt.Errorf("detach history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RemoveTrackedItem detaches the item's history, drops its watchlist
// memberships and deletes it in one transaction.
func (s *Store) RemoveTrackedItem(ctx context.Context, itemID, title string) (_ int, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
UPDATE price_history
SET title_snapshot = COALESCE(NULLIF(title_snapshot, ''), $2), item_id = NULL
WHERE item_id = $1`, itemID, title)
	if err != nil {
		return 0, fmt.Errorf("detach history: %w", err)
	}
	detached := int(tag.RowsAffected())
	if _, err = tx.Exec(ctx, `DELETE FROM watchlist_items WHERE item_id = $1`, itemID); err != nil {
		return 0, fmt.Errorf("remove item from watchlists: %w", err)
	}
	tag, err = tx.Exec(ctx, `DELETE FROM tracked_items WHERE id = $1`, itemID)
	if err != nil {
		return 0, fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = fmt.Errorf("item %s: %w", itemID, tracker.ErrNotFound)
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return detached, nil
}

// QueryEntries filters history, newest first.
func (s *Store) QueryEntries(ctx context.Context, q tracker.HistoryQuery) ([]tracker.PriceHistoryEntry, error) {
	sql, args := buildHistoryQuery(q)
	return s.queryEntries(ctx, sql, args...)
}

// SnapshotTitles lists the unique titles of detached entries, sorted.
func (s *Store) SnapshotTitles(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT title_snapshot FROM price_history
WHERE item_id IS NULL AND title_snapshot IS NOT NULL AND title_snapshot <> ''
ORDER BY title_snapshot`)
	if err != nil {
		return nil, fmt.Errorf("list snapshot titles: %w", err)
	}
	titles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list snapshot titles: %w", err)
	}
	return titles, nil
}

func buildHistoryQuery(q tracker.HistoryQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.ItemID != "" {
		add("item_id = $%d", q.ItemID)
	} else {
		add("item_id IS NULL AND title_snapshot = $%d", q.Title)
	}
	if !q.Since.IsZero() {
		add("recorded_at >= $%d", q.Since)
	}
	if event := strings.TrimSpace(q.Event); event != "" {
		add("LOWER(TRIM(event_name)) = LOWER($%d)", event)
	}
	return `SELECT ` + entryColumns + ` FROM price_history WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY recorded_at DESC`, args
}

func (s *Store) queryEntries(ctx context.Context, sql string, args ...any) ([]tracker.PriceHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()
	var out []tracker.PriceHistoryEntry
	for rows.Next() {
		var (
			e                    tracker.PriceHistoryEntry
			itemID, title, event pgtype.Text
			price, numeric       decimal.NullDecimal
		)
		if err := rows.Scan(&e.ID, &itemID, &title, &price, &numeric, &e.Availability, &e.RecordedAt, &event); err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		e.Subject = tracker.Subject{ItemID: itemID.String, Title: title.String}
		e.Price, e.PriceNumeric = price, numeric
		e.EventName = event.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	return out, nil
}

func scanItem(row pgx.Row) (tracker.TrackedItem, error) {
	var (
		item        tracker.TrackedItem
		rating      pgtype.Float8
		reviews     pgtype.Int4
		lastScraped pgtype.Timestamptz
	)
	if err := row.Scan(
		&item.ID, &item.UserID, &item.Title, &item.Price, &item.TargetPrice,
		&rating, &reviews, &item.Availability, &lastScraped,
	); err != nil {
		return tracker.TrackedItem{}, err
	}
	if rating.Valid {
		r := rating.Float64
		item.Rating = &r
	}
	if reviews.Valid {
		n := int(reviews.Int32)
		item.Reviews = &n
	}
	if lastScraped.Valid {
		item.LastScraped = lastScraped.Time
	}
	return item, nil
}

func scanWatchlist(row pgx.Row) (tracker.Watchlist, error) {
	var wl tracker.Watchlist
	if err := row.Scan(&wl.ID, &wl.UserID, &wl.Name, &wl.ScrapingEnabled, &wl.ScrapingTime, &wl.CreatedAt, &wl.ItemIDs); err != nil {
		return tracker.Watchlist{}, err
	}
	return wl, nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, tracker.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", kind, err)
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func availabilityOrUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
