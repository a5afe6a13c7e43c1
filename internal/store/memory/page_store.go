package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/growthdesk/scout/internal/scout"
)

// PageStore is a mutex-guarded map store implementing scout.PageStore.
// Keys are lowercased usernames.
type PageStore struct {
	mu    sync.RWMutex
	pages map[string]scout.Page
	clock scout.Clock
	idGen scout.IDGenerator
}

// NewPageStore constructs a PageStore.
func NewPageStore(clock scout.Clock, idGen scout.IDGenerator) *PageStore {
	return &PageStore{
		pages: make(map[string]scout.Page),
		clock: clock,
		idGen: idGen,
	}
}

// GetByUsername fetches a page, matching case-insensitively.
func (s *PageStore) GetByUsername(_ context.Context, username string) (scout.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[normalize(username)]
	if !ok {
		return scout.Page{}, scout.ErrNotFound
	}
	return page, nil
}

// Save upserts the scraped and linkage classes. On an existing page the
// stored operator attributes win over whatever the caller passed in,
// mirroring the Postgres upsert that leaves the operator column alone.
func (s *PageStore) Save(_ context.Context, page scout.Page) error {
	key := normalize(page.Username)
	if key == "" {
		return fmt.Errorf("page username is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if current, ok := s.pages[key]; ok {
		current.Scraped = page.Scraped
		current.Linkage = page.Linkage
		current.UpdatedAt = now
		s.pages[key] = current
		return nil
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("generate page id: %w", err)
	}
	page.ID = id
	page.Username = key
	page.CreatedAt = now
	page.UpdatedAt = now
	s.pages[key] = page
	return nil
}

// UpdateOperator applies an operator patch directly.
func (s *PageStore) UpdateOperator(_ context.Context, username string, patch scout.OperatorPatch) (scout.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(username)
	page, ok := s.pages[key]
	if !ok {
		return scout.Page{}, scout.ErrNotFound
	}
	page.Operator = patch.Apply(page.Operator)
	if patch.ReviewedBy.Present {
		now := s.clock.Now()
		page.Operator.ReviewedAt = &now
	}
	page.UpdatedAt = s.clock.Now()
	s.pages[key] = page
	return page, nil
}

// List returns pages ordered by username.
func (s *PageStore) List(_ context.Context, limit, offset int) ([]scout.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pages := make([]scout.Page, 0, len(s.pages))
	for _, page := range s.pages {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].Username < pages[j].Username
	})
	if offset >= len(pages) {
		return nil, nil
	}
	pages = pages[offset:]
	if limit > 0 && limit < len(pages) {
		pages = pages[:limit]
	}
	return pages, nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
