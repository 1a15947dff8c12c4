package bom

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartplan/smartplan/internal/catalog"
	"github.com/smartplan/smartplan/internal/shared"
)

type memRepo struct {
	mu         sync.Mutex
	nextID     int64
	entries    map[int64]Entry
	placements *memPlacements
	// beforeInsert runs outside the lock ahead of every Insert.
	beforeInsert func(Entry)
	failInsert   func(Entry) error
	failReassign error
}

func newMemRepo(placements *memPlacements) *memRepo {
	return &memRepo{entries: make(map[int64]Entry), placements: placements}
}

var errTxAborted = errors.New("current transaction is aborted, commands ignored until end of transaction block")

// memTx mimics a PostgreSQL transaction: after a failed statement every
// later statement fails until the transaction or savepoint is rolled back.
type memTx struct {
	*memRepo
	aborted bool
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return r.runTx(ctx, fn)
}

func (t *memTx) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if t.aborted {
		return errTxAborted
	}
	return t.runTx(ctx, fn)
}

func (r *memRepo) runTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	r.mu.Lock()
	snapshot := make(map[int64]Entry, len(r.entries))
	for id, e := range r.entries {
		snapshot[id] = e
	}
	r.mu.Unlock()
	tx := &memTx{memRepo: r}
	err := fn(ctx, tx)
	if err == nil && tx.aborted {
		err = errTxAborted
	}
	if err != nil {
		r.mu.Lock()
		r.entries = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

func (t *memTx) Insert(ctx context.Context, entry Entry) (int64, error) {
	if t.aborted {
		return 0, errTxAborted
	}
	id, err := t.memRepo.Insert(ctx, entry)
	if err != nil {
		t.aborted = true
	}
	return id, err
}

func (t *memTx) ReassignPlacements(ctx context.Context, floorplanID, from, to, entryID int64) (int64, error) {
	if t.aborted {
		return 0, errTxAborted
	}
	n, err := t.memRepo.ReassignPlacements(ctx, floorplanID, from, to, entryID)
	if err != nil {
		t.aborted = true
	}
	return n, err
}

func (r *memRepo) Get(ctx context.Context, id int64) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}
	return e, nil
}

func (r *memRepo) FindMain(ctx context.Context, floorplanID, variantID int64) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.IsMain() && e.FloorplanID == floorplanID && e.VariantID == variantID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

func (r *memRepo) LockMain(ctx context.Context, floorplanID, variantID int64) (Entry, error) {
	return r.FindMain(ctx, floorplanID, variantID)
}

func (r *memRepo) CountPlacements(ctx context.Context, floorplanID, variantID int64) (int, error) {
	if r.placements == nil {
		return 0, nil
	}
	all, _ := r.placements.ListPlacements(ctx, floorplanID)
	n := 0
	for _, p := range all {
		if p.VariantID == variantID {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) ReassignPlacements(ctx context.Context, floorplanID, from, to, entryID int64) (int64, error) {
	if r.failReassign != nil {
		return 0, r.failReassign
	}
	if r.placements == nil {
		return 0, nil
	}
	return r.placements.reassign(floorplanID, from, to, entryID), nil
}

func (r *memRepo) ListByFloorplan(ctx context.Context, floorplanID int64) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.FloorplanID == floorplanID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r *memRepo) ListFloorplanIDs(ctx context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[int64]bool{}
	var ids []int64
	for _, e := range r.entries {
		if !seen[e.FloorplanID] {
			seen[e.FloorplanID] = true
			ids = append(ids, e.FloorplanID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *memRepo) Insert(ctx context.Context, entry Entry) (int64, error) {
	if r.beforeInsert != nil {
		r.beforeInsert(entry)
	}
	if r.failInsert != nil {
		if err := r.failInsert(entry); err != nil {
			return 0, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(entry)
}

func (r *memRepo) insertLocked(entry Entry) (int64, error) {
	if entry.IsMain() {
		for _, e := range r.entries {
			if e.IsMain() && e.FloorplanID == entry.FloorplanID && e.VariantID == entry.VariantID {
				return 0, ErrConflict
			}
		}
	}
	r.nextID++
	entry.ID = r.nextID
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	r.entries[entry.ID] = entry
	return entry.ID, nil
}

// seed inserts an entry directly, bypassing hooks.
func (r *memRepo) seed(entry Entry) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := r.insertLocked(entry)
	if err != nil {
		panic(err)
	}
	return id
}

func (r *memRepo) UpdateSnapshot(ctx context.Context, id int64, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Snapshot = snap
	r.entries[id] = e
	return nil
}

func (r *memRepo) Retarget(ctx context.Context, id, itemID, variantID int64, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.ItemID, e.VariantID, e.Snapshot = itemID, variantID, snap
	r.entries[id] = e
	return nil
}

func (r *memRepo) DeleteChildren(ctx context.Context, parentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.ParentEntryID != nil && *e.ParentEntryID == parentID {
			delete(r.entries, id)
		}
	}
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *memRepo) mains(floorplanID, variantID int64) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.IsMain() && e.FloorplanID == floorplanID && e.VariantID == variantID {
			out = append(out, e)
		}
	}
	return out
}

func (r *memRepo) children(parentID int64) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.ParentEntryID != nil && *e.ParentEntryID == parentID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return int(a.ID - b.ID) })
	return out
}

type memCatalog struct {
	mu       sync.Mutex
	items    map[int64]catalog.Item
	variants map[int64]catalog.Variant
	addons   []catalog.Addon
	failWith error
	calls    int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{items: map[int64]catalog.Item{}, variants: map[int64]catalog.Variant{}}
}

func (c *memCatalog) addItem(id int64, name, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id] = catalog.Item{ID: id, Name: name, BaseModelNumber: model, IsActive: true}
}

func (c *memCatalog) addVariant(id, itemID int64, style, price string, sort int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variants[id] = catalog.Variant{ID: id, ItemID: itemID, StyleName: style, Price: decimal.RequireFromString(price), SortOrder: sort, IsActive: true}
}

func (c *memCatalog) setPrice(id int64, price string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.variants[id]
	v.Price = decimal.RequireFromString(price)
	c.variants[id] = v
}

func (c *memCatalog) deactivateVariant(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.variants[id]
	v.IsActive = false
	c.variants[id] = v
}

func (c *memCatalog) deactivateItem(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.items[id]
	i.IsActive = false
	c.items[id] = i
}

func (c *memCatalog) ResolveVariant(ctx context.Context, variantID int64) (catalog.Resolved, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if err := ctx.Err(); err != nil {
		return catalog.Resolved{}, err
	}
	if c.failWith != nil {
		return catalog.Resolved{}, c.failWith
	}
	v, ok := c.variants[variantID]
	if !ok {
		return catalog.Resolved{}, catalog.ErrVariantNotFound
	}
	i, ok := c.items[v.ItemID]
	if !ok {
		return catalog.Resolved{}, catalog.ErrItemNotFound
	}
	return catalog.Resolved{Item: i, Variant: v}, nil
}

func (c *memCatalog) GetRequiredAddons(ctx context.Context, itemID int64) ([]catalog.Addon, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []catalog.Addon
	for _, a := range c.addons {
		if a.ItemID == itemID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c *memCatalog) LowestSortVariant(ctx context.Context, itemID int64) (catalog.Resolved, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *catalog.Variant
	for _, v := range c.variants {
		if v.ItemID != itemID || !v.IsActive {
			continue
		}
		if best == nil || v.SortOrder < best.SortOrder || (v.SortOrder == best.SortOrder && v.ID < best.ID) {
			v := v
			best = &v
		}
	}
	if best == nil {
		return catalog.Resolved{}, catalog.ErrVariantNotFound
	}
	i, ok := c.items[itemID]
	if !ok {
		return catalog.Resolved{}, catalog.ErrItemNotFound
	}
	return catalog.Resolved{Item: i, Variant: *best}, nil
}

type memPlacements struct {
	mu     sync.Mutex
	nextID int64
	items  []Placement
}

func (p *memPlacements) add(floorplanID, variantID int64) Placement {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	pl := Placement{ID: p.nextID, FloorplanID: floorplanID, VariantID: variantID, Width: 1, Height: 1}
	p.items = append(p.items, pl)
	return pl
}

func (p *memPlacements) remove(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = slices.DeleteFunc(p.items, func(pl Placement) bool { return pl.ID == id })
}

func (p *memPlacements) ListPlacements(ctx context.Context, floorplanID int64) ([]Placement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Placement
	for _, pl := range p.items {
		if pl.FloorplanID == floorplanID {
			out = append(out, pl)
		}
	}
	return out, nil
}

func (p *memPlacements) reassign(floorplanID, from, to, entryID int64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int64
	for i, pl := range p.items {
		if pl.FloorplanID == floorplanID && pl.VariantID == from {
			p.items[i].VariantID = to
			id := entryID
			p.items[i].BOMEntryID = &id
			n++
		}
	}
	return n
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingEvents struct {
	mu       sync.Mutex
	subjects []string
}

func (e *recordingEvents) Publish(ctx context.Context, subject string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subjects = append(e.subjects, subject)
	return nil
}

func (e *recordingEvents) count(subject string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

var errCatalogDown = errors.New("catalog: connection refused")

// fixture is the catalog used across tests:
// item 1 "Light switch" with variants 10 (10.00) and 11 (12.00), required addon
// item 2 "Frame" whose lowest-sort variant is 20 (2.00);
// item 3 "Hub" with variant 30 (50.00) and no addons.
func fixture() (*memRepo, *memCatalog, *memPlacements) {
	cat := newMemCatalog()
	cat.addItem(1, "Light switch", "LS-100")
	cat.addVariant(10, 1, "White", "10", 1)
	cat.addVariant(11, 1, "Black", "12", 2)
	cat.addItem(2, "Frame", "")
	cat.addVariant(21, 2, "Steel", "3", 2)
	cat.addVariant(20, 2, "Plastic", "2", 1)
	cat.addItem(3, "Hub", "HUB-1")
	cat.addVariant(30, 3, "", "50", 1)
	cat.addons = []catalog.Addon{{ID: 1, ItemID: 1, AddonItemID: 2, SlotNumber: 1, IsRequired: true}}
	placements := &memPlacements{}
	return newMemRepo(placements), cat, placements
}
