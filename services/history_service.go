package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"strictHabitAPI/internal/types/challenge"
	"strictHabitAPI/internal/types/checkin"
)

// HistoryStore persists what the chain does not record for us: the category
// picked at creation time and the log of clock-in outcomes.
type HistoryStore interface {
	SaveCategory(ctx context.Context, wallet string, challengeID uint64, category challenge.Category) error
	Categories(ctx context.Context, wallet string) (map[uint64]challenge.Category, error)
	Record(ctx context.Context, entry checkin.HistoryEntry) error
	List(ctx context.Context, wallet string, limit int) ([]checkin.HistoryEntry, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS challenge_categories (
	wallet_address TEXT        NOT NULL,
	challenge_id   BIGINT      NOT NULL,
	category       TEXT        NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (wallet_address, challenge_id)
);

CREATE TABLE IF NOT EXISTS checkin_history (
	id             UUID        PRIMARY KEY,
	wallet_address TEXT        NOT NULL,
	challenge_id   BIGINT      NOT NULL,
	check_in_day   TEXT        NOT NULL,
	outcome        TEXT        NOT NULL,
	tx_hash        TEXT        NOT NULL DEFAULT '',
	message        TEXT        NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (wallet_address, challenge_id, check_in_day, outcome)
);

CREATE INDEX IF NOT EXISTS idx_checkin_history_wallet_created
	ON checkin_history (wallet_address, created_at DESC);
`

type HistoryService struct {
	db *pgxpool.Pool
}

func NewHistoryService(db *pgxpool.Pool) *HistoryService {
	return &HistoryService{db: db}
}

func (s *HistoryService) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply history schema: %w", err)
	}
	return nil
}

func (s *HistoryService) SaveCategory(ctx context.Context, wallet string, challengeID uint64, category challenge.Category) error {
	query := `
		INSERT INTO challenge_categories (wallet_address, challenge_id, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet_address, challenge_id)
		DO UPDATE SET category = EXCLUDED.category
	`
	if _, err := s.db.Exec(ctx, query, strings.ToLower(wallet), int64(challengeID), string(category)); err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func (s *HistoryService) Categories(ctx context.Context, wallet string) (map[uint64]challenge.Category, error) {
	rows, err := s.db.Query(ctx,
		`SELECT challenge_id, category FROM challenge_categories WHERE wallet_address = $1`,
		strings.ToLower(wallet))
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64]challenge.Category)
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if cat, ok := challenge.ParseCategory(raw); ok {
			out[uint64(id)] = cat
		}
	}
	return out, rows.Err()
}

func (s *HistoryService) Record(ctx context.Context, e checkin.HistoryEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO checkin_history (id, wallet_address, challenge_id, check_in_day, outcome, tx_hash, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (wallet_address, challenge_id, check_in_day, outcome) DO NOTHING
	`
	_, err := s.db.Exec(ctx, query, e.ID, strings.ToLower(e.WalletAddress), int64(e.ChallengeID),
		e.Day, e.Outcome, e.TxHash, e.Message)
	if err != nil {
		return fmt.Errorf("failed to record check-in: %w", err)
	}
	return nil
}

func (s *HistoryService) List(ctx context.Context, wallet string, limit int) ([]checkin.HistoryEntry, error) {
	query := `
		SELECT id, wallet_address, challenge_id, check_in_day, outcome, tx_hash, message, created_at
		FROM checkin_history
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, strings.ToLower(wallet), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]checkin.HistoryEntry, 0)
	for rows.Next() {
		var e checkin.HistoryEntry
		var id int64
		if err := rows.Scan(&e.ID, &e.WalletAddress, &id, &e.Day, &e.Outcome, &e.TxHash, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.ChallengeID = uint64(id)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MemoryHistoryStore is used when no database is configured. Entries are
// grouped per wallet and deduplicated the way the checkin_history unique key
// does; Prune drops old days.
type MemoryHistoryStore struct {
	mu         sync.Mutex
	categories map[string]map[uint64]challenge.Category
	entries    map[string][]checkin.HistoryEntry
	seen       map[historyKey]struct{}
	now        func() time.Time
}

type historyKey struct {
	wallet  string
	id      uint64
	day     string
	outcome string
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		categories: make(map[string]map[uint64]challenge.Category),
		entries:    make(map[string][]checkin.HistoryEntry),
		seen:       make(map[historyKey]struct{}),
		now:        time.Now,
	}
}

func (m *MemoryHistoryStore) SaveCategory(_ context.Context, wallet string, challengeID uint64, category challenge.Category) error {
	wallet = strings.ToLower(wallet)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.categories[wallet] == nil {
		m.categories[wallet] = make(map[uint64]challenge.Category)
	}
	m.categories[wallet][challengeID] = category
	return nil
}

func (m *MemoryHistoryStore) Categories(_ context.Context, wallet string) (map[uint64]challenge.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint64]challenge.Category, len(m.categories[strings.ToLower(wallet)]))
	for id, c := range m.categories[strings.ToLower(wallet)] {
		out[id] = c
	}
	return out, nil
}

func (m *MemoryHistoryStore) Record(_ context.Context, e checkin.HistoryEntry) error {
	e.WalletAddress = strings.ToLower(e.WalletAddress)
	key := historyKey{e.WalletAddress, e.ChallengeID, e.Day, e.Outcome}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[key]; dup {
		return nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	m.seen[key] = struct{}{}
	m.entries[e.WalletAddress] = append(m.entries[e.WalletAddress], e)
	return nil
}

func (m *MemoryHistoryStore) List(_ context.Context, wallet string, limit int) ([]checkin.HistoryEntry, error) {
	m.mu.Lock()
	out := slices.Clone(m.entries[strings.ToLower(wallet)])
	m.mu.Unlock()
	if out == nil {
		out = []checkin.HistoryEntry{}
	}

	slices.SortStableFunc(out, func(a, b checkin.HistoryEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune drops entries whose day sorts before the given YYYY-MM-DD day and
// returns how many were removed.
func (m *MemoryHistoryStore) Prune(before string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for wallet, list := range m.entries {
		kept := list[:0]
		for _, e := range list {
			if e.Day < before {
				delete(m.seen, historyKey{e.WalletAddress, e.ChallengeID, e.Day, e.Outcome})
				n++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(m.entries, wallet)
		} else {
			m.entries[wallet] = kept
		}
	}
	return n
}
