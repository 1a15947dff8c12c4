package bom

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Assemble groups entries under their main entry and prices each group by the
// number of placements of the main entry's variant. It performs no I/O.
func Assemble(floorplanID int64, entries []Entry, placements []Placement) View {
	quantities := make(map[int64]int, len(placements))
	for _, p := range placements {
		if p.FloorplanID != floorplanID {
			continue
		}
		quantities[p.VariantID]++
	}

	children := make(map[int64][]Entry)
	mains := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.FloorplanID != floorplanID {
			continue
		}
		if e.IsMain() {
			mains = append(mains, e)
			continue
		}
		children[*e.ParentEntryID] = append(children[*e.ParentEntryID], e)
	}
	byID := func(a, b Entry) int { return cmp.Compare(a.ID, b.ID) }
	slices.SortFunc(mains, byID)

	view := View{
		FloorplanID: floorplanID,
		Groups:      []Group{},
		TotalPrice:  decimal.Zero,
	}
	for _, main := range mains {
		kids := children[main.ID]
		slices.SortFunc(kids, byID)
		if kids == nil {
			kids = []Entry{}
		}
		unit := main.Snapshot.Price
		for _, c := range kids {
			unit = unit.Add(c.Snapshot.Price)
		}
		qty := quantities[main.VariantID]
		group := Group{
			Main:       main,
			Children:   kids,
			Quantity:   qty,
			UnitPrice:  unit,
			TotalPrice: unit.Mul(decimal.NewFromInt(int64(qty))),
		}
		if qty == 0 {
			view.Orphaned = append(view.Orphaned, group)
			continue
		}
		view.Groups = append(view.Groups, group)
		view.TotalPrice = view.TotalPrice.Add(group.TotalPrice)
	}
	return view
}

// Aggregator builds the read model of a floorplan BOM.
type Aggregator struct {
	repo       Repository
	placements PlacementPort
}

// NewAggregator constructs an Aggregator.
func NewAggregator(repo Repository, placements PlacementPort) *Aggregator {
	return &Aggregator{repo: repo, placements: placements}
}

// BuildView loads entries and placements concurrently and assembles the view.
func (a *Aggregator) BuildView(ctx context.Context, floorplanID int64) (View, error) {
	entries, placements, err := a.load(ctx, floorplanID)
	if err != nil {
		return View{}, err
	}
	return Assemble(floorplanID, entries, placements), nil
}

func (a *Aggregator) load(ctx context.Context, floorplanID int64) ([]Entry, []Placement, error) {
	var (
		entries    []Entry
		placements []Placement
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = a.repo.ListByFloorplan(gctx, floorplanID)
		if err != nil {
			return fmt.Errorf("bom: list entries: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		placements, err = a.placements.ListPlacements(gctx, floorplanID)
		if err != nil {
			return fmt.Errorf("bom: list placements: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return entries, placements, nil
}
