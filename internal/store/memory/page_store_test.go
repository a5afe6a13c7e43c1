package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/growthdesk/scout/internal/scout"
)

func TestPageSaveCreatesAndNormalizes(t *testing.T) {
	t.Parallel()

	store := newTestPageStore()
	ctx := context.Background()

	err := store.Save(ctx, scout.Page{
		Username: "  Acct_A ",
		Scraped:  scout.ScrapedAttributes{FullName: "Account A", FollowerCount: 1000},
		Linkage:  scout.LinkageAttributes{ClientRefs: []string{"client_one"}, ClientCount: 1},
	})
	require.NoError(t, err)

	page, err := store.GetByUsername(ctx, "ACCT_A")
	require.NoError(t, err)
	require.Equal(t, "acct_a", page.Username)
	require.NotEmpty(t, page.ID)
	require.Equal(t, 1000, page.Scraped.FollowerCount)
	require.False(t, page.CreatedAt.IsZero())
	require.Equal(t, page.CreatedAt, page.UpdatedAt)

	err = store.Save(ctx, scout.Page{})
	require.Error(t, err)
}

func TestPageSavePreservesOperatorAttributes(t *testing.T) {
	t.Parallel()

	store := newTestPageStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, scout.Page{
		Username: "acct_b",
		Scraped:  scout.ScrapedAttributes{FollowerCount: 500},
	}))

	price := 250.0
	_, err := store.UpdateOperator(ctx, "acct_b", scout.OperatorPatch{
		Category:  scout.Field[string]{Present: true, Value: strPtr("Celebrity")},
		PromoPrice: scout.Field[float64]{Present: true, Value: &price},
	})
	require.NoError(t, err)

	// A later scrape write carries empty operator attrs; they must not win.
	require.NoError(t, store.Save(ctx, scout.Page{
		Username: "acct_b",
		Scraped:  scout.ScrapedAttributes{FollowerCount: 600},
	}))

	page, err := store.GetByUsername(ctx, "acct_b")
	require.NoError(t, err)
	require.Equal(t, 600, page.Scraped.FollowerCount)
	require.NotNil(t, page.Operator.Category)
	require.Equal(t, "Celebrity", *page.Operator.Category)
	require.NotNil(t, page.Operator.PromoPrice)
	require.Equal(t, 250.0, *page.Operator.PromoPrice)
}

func TestUpdateOperatorAppliesPatch(t *testing.T) {
	t.Parallel()

	store := newTestPageStore()
	ctx := context.Background()

	_, err := store.UpdateOperator(ctx, "missing", scout.OperatorPatch{})
	require.ErrorIs(t, err, scout.ErrNotFound)

	require.NoError(t, store.Save(ctx, scout.Page{Username: "acct_c"}))

	reviewer := "ops@growthdesk"
	page, err := store.UpdateOperator(ctx, "acct_c", scout.OperatorPatch{
		ContactStatus: scout.Field[string]{Present: true, Value: strPtr("reached_out")},
		ReviewedBy:    scout.Field[string]{Present: true, Value: &reviewer},
	})
	require.NoError(t, err)
	require.NotNil(t, page.Operator.ContactStatus)
	require.Equal(t, "reached_out", *page.Operator.ContactStatus)
	require.NotNil(t, page.Operator.ReviewedBy)
	require.NotNil(t, page.Operator.ReviewedAt)

	// Explicit null clears the field without touching the rest.
	page, err = store.UpdateOperator(ctx, "acct_c", scout.OperatorPatch{
		ContactStatus: scout.Field[string]{Present: true, Value: nil},
	})
	require.NoError(t, err)
	require.Nil(t, page.Operator.ContactStatus)
	require.NotNil(t, page.Operator.ReviewedBy)
}

func TestPageListOrdersAndPaginates(t *testing.T) {
	t.Parallel()

	store := newTestPageStore()
	ctx := context.Background()

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, store.Save(ctx, scout.Page{Username: name}))
	}

	pages, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, "alpha", pages[0].Username)
	require.Equal(t, "bravo", pages[1].Username)

	pages, err = store.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "charlie", pages[0].Username)

	pages, err = store.List(ctx, 10, 10)
	require.NoError(t, err)
	require.Empty(t, pages)
}

func newTestPageStore() *PageStore {
	return NewPageStore(newFakeClock(time.Unix(1700000000, 0).UTC()), &seqIDGen{})
}

func strPtr(s string) *string { return &s }
