// Package crm is the demo backend's mock CRM: a sqlite-backed, user-scoped
// store of fake deals. It holds no PII; users are keyed by a salted HMAC of
// the OAuth subject, so the database cannot be joined back to identities.
package crm

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoSalt indicates PII_SALT is unset. The CRM fails closed rather than
// derive user keys from an empty secret.
var ErrNoSalt = errors.New("crm: PII_SALT is not configured")

// UserKey derives the pseudonymous storage key for an OAuth subject. Stable
// per (salt, sub); without the salt the subject cannot be recovered.
func UserKey(salt, sub string) (string, error) {
	if salt == "" {
		return "", ErrNoSalt
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(sub))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Label renders the short human-facing form of a user key. Leaks nothing; the
// full key never leaves the server.
func Label(userKey string) string {
	if len(userKey) < 6 {
		return "user-" + userKey
	}
	return "user-" + userKey[:6]
}

// Store is the CRM database handle. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the CRM database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("crm: open %s: %w", path, err)
	}
	// sqlite allows one writer; serialize at the pool level instead of
	// surfacing SQLITE_BUSY to handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("crm: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_key   TEXT PRIMARY KEY,
	label      TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS deals (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_key     TEXT NOT NULL REFERENCES users(user_key),
	account      TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	stage        TEXT NOT NULL,
	close_date   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS deals_user_close ON deals(user_key, close_date);
CREATE INDEX IF NOT EXISTS deals_user_stage ON deals(user_key, stage);
`

// EnsureUser registers the user if new and seeds their demo deals. Returns
// whether seeding happened and how many deals were created. Seeding is
// deterministic per user key, so re-creating the database reproduces the same
// book of business.
func (s *Store) EnsureUser(ctx context.Context, userKey string) (seeded bool, created int, err error) {
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE user_key = ?`, userKey).Scan(&exists)
	if err != nil {
		return false, 0, fmt.Errorf("crm: lookup user: %w", err)
	}
	if exists > 0 {
		return false, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("crm: begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (user_key, label, created_at) VALUES (?, ?, ?)`,
		userKey, Label(userKey), now); err != nil {
		return false, 0, fmt.Errorf("crm: insert user: %w", err)
	}

	deals := generateDeals(userKey)
	for _, d := range deals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deals (user_key, account, amount_cents, stage, close_date) VALUES (?, ?, ?, ?, ?)`,
			userKey, d.account, d.amountCents, d.stage, d.closeDate); err != nil {
			return false, 0, fmt.Errorf("crm: insert deal: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("crm: commit: %w", err)
	}
	return true, len(deals), nil
}

type seedDeal struct {
	account     string
	amountCents int64
	stage       string
	closeDate   string // ISO yyyy-mm-dd
}

var dealStages = []string{"won", "lost", "open"}

var dealAccounts = []string{"Acme Co", "Globex", "Initech", "Umbrella", "Stark Industries", "Wayne Enterprises"}

// generateDeals produces 40 to 79 deals spread across 2024 and 2025 (weighted
// toward 2025 so recent-quarter queries hit immediately), seeded from the user
// key so the same user always gets the same book of business. Deal amounts run
// $800 to $18,800; open deals are scaled down.
func generateDeals(userKey string) []seedDeal {
	sum := sha256.Sum256([]byte(userKey))
	rng := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))

	n := 40 + rng.Intn(40)
	deals := make([]seedDeal, 0, n)
	for i := 0; i < n; i++ {
		year := 2024
		if rng.Float64() < 0.55 {
			year = 2025
		}
		month := time.Month(1 + rng.Intn(12))
		day := 1 + rng.Intn(28)
		closeDate := time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")

		stage := dealStages[rng.Intn(len(dealStages))]
		amount := 800 + rng.Float64()*18000
		if stage == "open" {
			amount *= 0.7
		}

		deals = append(deals, seedDeal{
			account:     dealAccounts[rng.Intn(len(dealAccounts))],
			amountCents: int64(amount * 100),
			stage:       stage,
			closeDate:   closeDate,
		})
	}
	return deals
}

// Summary is one user's sales totals for a quarter.
type Summary struct {
	Year         int   `json:"year"`
	Quarter      int   `json:"quarter"`
	RevenueCents int64 `json:"revenue_cents"`
	DealsWon     int   `json:"deals_won"`
}

// SalesSummary totals won deals for the user in the given quarter. The window
// is [quarter start, next quarter start).
func (s *Store) SalesSummary(ctx context.Context, userKey string, year, quarter int) (*Summary, error) {
	if quarter < 1 || quarter > 4 {
		return nil, fmt.Errorf("crm: quarter must be 1-4, got %d", quarter)
	}
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)

	var revenue sql.NullInt64
	var won int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0), COUNT(1)
		   FROM deals
		  WHERE user_key = ? AND stage = 'won' AND close_date >= ? AND close_date < ?`,
		userKey, start.Format("2006-01-02"), end.Format("2006-01-02"),
	).Scan(&revenue, &won)
	if err != nil {
		return nil, fmt.Errorf("crm: sales summary: %w", err)
	}
	return &Summary{
		Year:         year,
		Quarter:      quarter,
		RevenueCents: revenue.Int64,
		DealsWon:     won,
	}, nil
}

// Counts returns global database counts, shown in the crmInit welcome so the
// demo can illustrate multi-tenancy without exposing other tenants' rows.
// Entries counts every row (users plus deals).
func (s *Store) Counts(ctx context.Context) (users, entries int, err error) {
	var deals int
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&users); err != nil {
		return 0, 0, fmt.Errorf("crm: count users: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM deals`).Scan(&deals); err != nil {
		return 0, 0, fmt.Errorf("crm: count deals: %w", err)
	}
	return users, users + deals, nil
}
