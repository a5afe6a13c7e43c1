package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/growthdesk/scout/internal/scout"
)

// PageStoreConfig controls the Postgres connection pool used for page rows.
type PageStoreConfig struct {
	Pool  PoolConfig
	Table string
}

// PageStore implements scout.PageStore on a Postgres table.
//
// Expected schema:
//
//	CREATE TABLE pages (
//	    id          TEXT PRIMARY KEY,
//	    username    TEXT NOT NULL UNIQUE,
//	    scraped     JSONB NOT NULL DEFAULT '{}',
//	    operator    JSONB NOT NULL DEFAULT '{}',
//	    client_refs TEXT[] NOT NULL DEFAULT '{}',
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL
//	);
//
// The scraped and operator attribute classes live in separate columns so
// the scrape upsert can replace one without ever reading or writing the
// other.
type PageStore struct {
	pool  querier
	table string
	clock scout.Clock
	idGen scout.IDGenerator
}

// NewPageStore creates a Postgres-backed PageStore using the provided config.
func NewPageStore(ctx context.Context, cfg PageStoreConfig, clock scout.Clock, idGen scout.IDGenerator) (*PageStore, error) {
	pool, err := newPool(ctx, cfg.Pool)
	if err != nil {
		return nil, err
	}
	return NewPageStoreWithPool(pool, cfg.Table, clock, idGen)
}

// NewPageStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPageStoreWithPool(pool querier, table string, clock scout.Clock, idGen scout.IDGenerator) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "pages"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PageStore{pool: pool, table: table, clock: clock, idGen: idGen}, nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const pageColumns = "id, username, scraped, operator, client_refs, created_at, updated_at"

// GetByUsername fetches a page, matching case-insensitively.
func (s *PageStore) GetByUsername(ctx context.Context, username string) (scout.Page, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE username = $1", pageColumns, s.table)
	page, err := scanPage(s.pool.QueryRow(ctx, query, normalizeUsername(username)))
	if errors.Is(err, pgx.ErrNoRows) {
		return scout.Page{}, scout.ErrNotFound
	}
	if err != nil {
		return scout.Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// Save upserts the scraped and linkage columns. On conflict the operator
// column is deliberately absent from the SET list, so a concurrent human
// edit can never be clobbered by a scrape write.
func (s *PageStore) Save(ctx context.Context, page scout.Page) error {
	username := normalizeUsername(page.Username)
	if username == "" {
		return fmt.Errorf("page username is required")
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate page id: %w", err)
	}
	scrapedJSON, err := json.Marshal(page.Scraped)
	if err != nil {
		return fmt.Errorf("marshal scraped attributes: %w", err)
	}
	operatorJSON, err := json.Marshal(page.Operator)
	if err != nil {
		return fmt.Errorf("marshal operator attributes: %w", err)
	}
	refs := page.Linkage.ClientRefs
	if refs == nil {
		refs = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, username, scraped, operator, client_refs, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (username) DO UPDATE SET
	scraped = EXCLUDED.scraped,
	client_refs = EXCLUDED.client_refs,
	updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, username, scrapedJSON, operatorJSON, refs, s.clock.Now()); err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

// UpdateOperator applies an operator patch to the page's operator column.
func (s *PageStore) UpdateOperator(ctx context.Context, username string, patch scout.OperatorPatch) (scout.Page, error) {
	page, err := s.GetByUsername(ctx, username)
	if err != nil {
		return scout.Page{}, err
	}
	page.Operator = patch.Apply(page.Operator)
	now := s.clock.Now()
	if patch.ReviewedBy.Present {
		page.Operator.ReviewedAt = &now
	}
	operatorJSON, err := json.Marshal(page.Operator)
	if err != nil {
		return scout.Page{}, fmt.Errorf("marshal operator attributes: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET operator = $2, updated_at = $3 WHERE username = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, page.Username, operatorJSON, now)
	if err != nil {
		return scout.Page{}, fmt.Errorf("update operator attributes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scout.Page{}, scout.ErrNotFound
	}
	page.UpdatedAt = now
	return page, nil
}

// List returns pages ordered by username.
func (s *PageStore) List(ctx context.Context, limit, offset int) ([]scout.Page, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY username LIMIT $1 OFFSET $2", pageColumns, s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []scout.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

func scanPage(row pgx.Row) (scout.Page, error) {
	var (
		page         scout.Page
		scrapedJSON  []byte
		operatorJSON []byte
		refs         []string
	)
	if err := row.Scan(&page.ID, &page.Username, &scrapedJSON, &operatorJSON, &refs, &page.CreatedAt, &page.UpdatedAt); err != nil {
		return scout.Page{}, err
	}
	if len(scrapedJSON) > 0 {
		if err := json.Unmarshal(scrapedJSON, &page.Scraped); err != nil {
			return scout.Page{}, fmt.Errorf("unmarshal scraped attributes: %w", err)
		}
	}
	if len(operatorJSON) > 0 {
		if err := json.Unmarshal(operatorJSON, &page.Operator); err != nil {
			return scout.Page{}, fmt.Errorf("unmarshal operator attributes: %w", err)
		}
	}
	page.Linkage = scout.LinkageAttributes{ClientRefs: refs, ClientCount: len(refs)}
	return page, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
