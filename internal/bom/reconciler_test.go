package bom

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartplan/smartplan/internal/catalog"
)

func materialized(t *testing.T, repo *memRepo, cat *memCatalog, placements *memPlacements, floorplanID, variantID int64, count int) int64 {
	t.Helper()
	b := NewBuilder(repo, cat, BuilderOptions{})
	var id int64
	for i := 0; i < count; i++ {
		res, err := b.Materialize(context.Background(), placements.add(floorplanID, variantID))
		require.NoError(t, err)
		id = res.EntryID
	}
	return id
}

func TestUpdateFromCatalogAppliesPriceChangeOnce(t *testing.T) {
	repo, cat, placements := fixture()
	cat.addItem(5, "Thermostat", "TH-1")
	cat.addVariant(50, 5, "", "100", 1)
	entryID := materialized(t, repo, cat, placements, 2, 50, 1)
	cat.setPrice(50, "120")

	r := NewReconciler(repo, cat, placements, nil)
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	report, err := r.UpdateFromCatalog(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, report.Updated, 1)
	assert.Equal(t, entryID, report.Updated[0].EntryID)
	assert.True(t, report.Updated[0].OldPrice.Equal(mustDecimal("100")))
	assert.True(t, report.Updated[0].NewPrice.Equal(mustDecimal("120")))
	assert.Empty(t, report.Invalid)
	assert.True(t, report.TotalBefore.Equal(mustDecimal("100")))
	assert.True(t, report.TotalAfter.Equal(mustDecimal("120")))
	assert.Equal(t, fixed, report.GeneratedAt)
	assert.NotEmpty(t, report.RunID)

	stored, err := repo.Get(context.Background(), entryID)
	require.NoError(t, err)
	assert.True(t, stored.Snapshot.Price.Equal(mustDecimal("120")))

	again, err := r.UpdateFromCatalog(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, again.Updated)
	assert.Empty(t, again.Invalid)
	assert.NotEqual(t, report.RunID, again.RunID)
}

func TestUpdateFromCatalogReportsInactiveVariant(t *testing.T) {
	repo, cat, placements := fixture()
	entryID := materialized(t, repo, cat, placements, 2, 30, 2)
	cat.deactivateVariant(30)
	cat.setPrice(30, "70")

	r := NewReconciler(repo, cat, placements, nil)
	report, err := r.UpdateFromCatalog(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, report.Invalid, 1)
	assert.Equal(t, InvalidReference{EntryID: entryID, Name: "Hub", Reason: ReasonVariantInactive}, report.Invalid[0])
	assert.Empty(t, report.Updated)
	assert.True(t, report.TotalBefore.Equal(report.TotalAfter))

	stored, err := repo.Get(context.Background(), entryID)
	require.NoError(t, err)
	assert.True(t, stored.Snapshot.Price.Equal(mustDecimal("50")), "invalid entries keep their quote")

	again, err := r.UpdateFromCatalog(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, report.Invalid, again.Invalid)
}

func TestUpdateFromCatalogInvalidReasons(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*memCatalog)
		want   InvalidReason
	}{
		{name: "variant deleted", mutate: func(c *memCatalog) { delete(c.variants, 30) }, want: ReasonVariantNotFound},
		{name: "item deleted", mutate: func(c *memCatalog) { delete(c.items, 3) }, want: ReasonItemNotFound},
		{name: "item inactive", mutate: func(c *memCatalog) { c.deactivateItem(3) }, want: ReasonItemInactive},
		{name: "variant before item", mutate: func(c *memCatalog) {
			c.deactivateItem(3)
			c.deactivateVariant(30)
		}, want: ReasonVariantInactive},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, cat, placements := fixture()
			materialized(t, repo, cat, placements, 2, 30, 1)
			tc.mutate(cat)

			report, err := NewReconciler(repo, cat, placements, nil).UpdateFromCatalog(context.Background(), 2)
			require.NoError(t, err)
			require.Len(t, report.Invalid, 1)
			assert.Equal(t, tc.want, report.Invalid[0].Reason)
		})
	}
}

func TestUpdateFromCatalogCoversChildrenAndHoldsQuantities(t *testing.T) {
	repo, cat, placements := fixture()
	materialized(t, repo, cat, placements, 2, 10, 3)
	cat.setPrice(20, "4")

	report, err := NewReconciler(repo, cat, placements, nil).UpdateFromCatalog(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, report.Updated, 1)
	assert.True(t, report.TotalBefore.Equal(mustDecimal("36")))
	assert.True(t, report.TotalAfter.Equal(mustDecimal("42")))
}

func TestPreviewFromCatalogDoesNotWrite(t *testing.T) {
	repo, cat, placements := fixture()
	entryID := materialized(t, repo, cat, placements, 2, 30, 1)
	cat.setPrice(30, "55")

	r := NewReconciler(repo, cat, placements, nil)
	preview, err := r.PreviewFromCatalog(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, preview.DryRun)
	require.Len(t, preview.Updated, 1)
	assert.True(t, preview.TotalAfter.Equal(mustDecimal("55")))

	stored, err := repo.Get(context.Background(), entryID)
	require.NoError(t, err)
	assert.True(t, stored.Snapshot.Price.Equal(mustDecimal("50")))
}

type cancelAfterCatalog struct {
	*memCatalog
	cancel context.CancelFunc
	after  int
	seen   int
}

func (c *cancelAfterCatalog) ResolveVariant(ctx context.Context, variantID int64) (catalog.Resolved, error) {
	c.seen++
	res, err := c.memCatalog.ResolveVariant(ctx, variantID)
	if c.seen == c.after {
		c.cancel()
	}
	return res, err
}

func TestUpdateFromCatalogStopsOnCancellation(t *testing.T) {
	repo, cat, placements := fixture()
	first := materialized(t, repo, cat, placements, 2, 30, 1)
	cat.addItem(5, "Thermostat", "TH-1")
	cat.addVariant(50, 5, "", "100", 1)
	second := materialized(t, repo, cat, placements, 2, 50, 1)
	cat.setPrice(30, "60")
	cat.setPrice(50, "110")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wrapped := &cancelAfterCatalog{memCatalog: cat, cancel: cancel, after: 1}

	_, err := NewReconciler(repo, wrapped, placements, nil).UpdateFromCatalog(ctx, 2)
	require.ErrorIs(t, err, context.Canceled)

	done, _ := repo.Get(context.Background(), first)
	untouched, _ := repo.Get(context.Background(), second)
	assert.True(t, done.Snapshot.Price.Equal(mustDecimal("60")), "processed entry is committed")
	assert.True(t, untouched.Snapshot.Price.Equal(mustDecimal("100")))
	assert.Equal(t, 1, wrapped.seen, "no lookups after cancellation")
}

func TestUpdateFromCatalogAbortsOnCatalogOutage(t *testing.T) {
	repo, cat, placements := fixture()
	materialized(t, repo, cat, placements, 2, 30, 1)
	cat.failWith = errCatalogDown

	_, err := NewReconciler(repo, cat, placements, nil).UpdateFromCatalog(context.Background(), 2)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}
