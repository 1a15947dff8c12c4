package placements

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartplan/smartplan/internal/bom"
	"github.com/smartplan/smartplan/internal/shared"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]bom.Placement
	// beforeCreate runs ahead of every Create; an error aborts it.
	beforeCreate func(bom.Placement) error
}

func newMemStore() *memStore {
	return &memStore{items: map[int64]bom.Placement{}}
}

func (s *memStore) ListPlacements(ctx context.Context, floorplanID int64) ([]bom.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []bom.Placement
	for id := int64(1); id <= s.nextID; id++ {
		if p, ok := s.items[id]; ok && p.FloorplanID == floorplanID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) Get(ctx context.Context, floorplanID, id int64) (bom.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok || p.FloorplanID != floorplanID {
		return bom.Placement{}, fmt.Errorf("%w: placement %d", ErrNotFound, id)
	}
	return p, nil
}

func (s *memStore) Create(ctx context.Context, p bom.Placement) (bom.Placement, error) {
	if s.beforeCreate != nil {
		if err := s.beforeCreate(p); err != nil {
			return bom.Placement{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.items[p.ID] = p
	return p, nil
}

func (s *memStore) UpdateGeometry(ctx context.Context, floorplanID, id int64, g Geometry) (bom.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok || p.FloorplanID != floorplanID {
		return bom.Placement{}, ErrNotFound
	}
	p.X, p.Y, p.Width, p.Height = g.X, g.Y, g.Width, g.Height
	s.items[id] = p
	return p, nil
}

func (s *memStore) Delete(ctx context.Context, floorplanID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// stubEngine keeps one entry per floorplan/variant and releases it when no
// placement of the variant remains in store.
type stubEngine struct {
	store        *memStore
	entries      map[[2]int64]int64
	nextID       int64
	materialized int
	released     []int64
}

func newStubEngine(store *memStore) *stubEngine {
	return &stubEngine{store: store, entries: map[[2]int64]int64{}}
}

func (e *stubEngine) MaterializeForPlacement(ctx context.Context, p bom.Placement) (int64, error) {
	if p.VariantID == 404 {
		return 0, bom.ErrReferenceNotFound
	}
	e.materialized++
	key := [2]int64{p.FloorplanID, p.VariantID}
	if id, ok := e.entries[key]; ok {
		return id, nil
	}
	e.nextID++
	e.entries[key] = e.nextID
	return e.nextID, nil
}

func (e *stubEngine) ReleaseVariant(ctx context.Context, floorplanID, variantID int64) (bool, error) {
	list, _ := e.store.ListPlacements(ctx, floorplanID)
	for _, p := range list {
		if p.VariantID == variantID {
			return false, nil
		}
	}
	key := [2]int64{floorplanID, variantID}
	if _, ok := e.entries[key]; !ok {
		return false, nil
	}
	delete(e.entries, key)
	e.released = append(e.released, variantID)
	return true, nil
}

func newTestService() (*Service, *memStore, *stubEngine) {
	store := newMemStore()
	engine := newStubEngine(store)
	return NewService(store, engine, slog.New(slog.NewTextHandler(io.Discard, nil))), store, engine
}

func TestCreateLinksPlacementToSharedEntry(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	in := CreateInput{FloorplanID: 1, VariantID: 10, Geometry: Geometry{Width: 20, Height: 20}}

	first, err := svc.Create(ctx, in)
	require.NoError(t, err)
	second, err := svc.Create(ctx, in)
	require.NoError(t, err)

	require.NotNil(t, first.BOMEntryID)
	require.NotNil(t, second.BOMEntryID)
	assert.Equal(t, *first.BOMEntryID, *second.BOMEntryID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestCreateUnknownVariantStoresNothing(t *testing.T) {
	svc, store, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateInput{FloorplanID: 1, VariantID: 404, Geometry: Geometry{Width: 1, Height: 1}})
	require.ErrorIs(t, err, bom.ErrReferenceNotFound)
	list, _ := store.ListPlacements(context.Background(), 1)
	assert.Empty(t, list)
}

func TestCreateRejectsInvalidGeometry(t *testing.T) {
	svc, _, engine := newTestService()
	_, err := svc.Create(context.Background(), CreateInput{FloorplanID: 1, VariantID: 10, Geometry: Geometry{Width: 0, Height: 1}})
	require.ErrorIs(t, err, bom.ErrValidation)
	assert.Zero(t, engine.materialized)
}

func TestMoveDoesNotTouchBOM(t *testing.T) {
	svc, _, engine := newTestService()
	ctx := context.Background()
	p, err := svc.Create(ctx, CreateInput{FloorplanID: 1, VariantID: 10, Geometry: Geometry{Width: 1, Height: 1}})
	require.NoError(t, err)

	moved, err := svc.Move(ctx, 1, p.ID, Geometry{X: 5, Y: 6, Width: 2, Height: 3})
	require.NoError(t, err)
	assert.Equal(t, 5.0, moved.X)
	assert.Equal(t, *p.BOMEntryID, *moved.BOMEntryID)
	assert.Equal(t, 1, engine.materialized)
}

func TestDeleteReleasesEntryWithLastPlacement(t *testing.T) {
	svc, _, engine := newTestService()
	ctx := context.Background()
	in := CreateInput{FloorplanID: 1, VariantID: 10, Geometry: Geometry{Width: 1, Height: 1}}
	a, err := svc.Create(ctx, in)
	require.NoError(t, err)
	b, err := svc.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, 1, a.ID))
	assert.Empty(t, engine.released)

	require.NoError(t, svc.Delete(ctx, 1, b.ID))
	assert.Equal(t, []int64{10}, engine.released)
}

func TestDeleteWrongFloorplan(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	p, err := svc.Create(ctx, CreateInput{FloorplanID: 1, VariantID: 10, Geometry: Geometry{Width: 1, Height: 1}})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(ctx, 2, p.ID), ErrNotFound)
}

func newTestRouter(svc placementService) http.Handler {
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)
	return r
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, reader))
	return rr
}

func TestHandlerLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	router := newTestRouter(svc)

	rr := do(router, http.MethodPost, "/floorplans/1/placements", `{"variant_id":10,"x":1,"y":2,"width":10,"height":10}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"bom_entry_id":1`)

	rr = do(router, http.MethodGet, "/floorplans/1/placements", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"variant_id":10`)

	rr = do(router, http.MethodPatch, "/floorplans/1/placements/1", `{"x":3,"y":4,"width":5,"height":6}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"width":5`)

	rr = do(router, http.MethodDelete, "/floorplans/1/placements/1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(router, http.MethodDelete, "/floorplans/1/placements/1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerErrors(t *testing.T) {
	svc, _, _ := newTestService()
	router := newTestRouter(svc)

	rr := do(router, http.MethodPost, "/floorplans/1/placements", `{"variant_id":404,"width":1,"height":1}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(router, http.MethodPost, "/floorplans/1/placements", `{"variant_id":10,"width":0,"height":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(router, http.MethodPost, "/floorplans/x/placements", `{"variant_id":10,"width":1,"height":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(router, http.MethodGet, "/floorplans/2/placements", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

type brokenService struct{ placementService }

func (brokenService) List(ctx context.Context, floorplanID int64) ([]bom.Placement, error) {
	return nil, errors.Join(bom.ErrUpstreamUnavailable, errors.New("pg down"))
}

func TestHandlerUpstreamFailure(t *testing.T) {
	rr := do(newTestRouter(brokenService{}), http.MethodGet, "/floorplans/1/placements", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memIdempotency) Delete(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

func TestCreateWithIdempotencyKeyRejectsReplay(t *testing.T) {
	svc, store, _ := newTestService()
	svc.WithIdempotency(&memIdempotency{})
	ctx := context.Background()
	in := CreateInput{FloorplanID: 1, VariantID: 10, IdempotencyKey: "req-1", Geometry: Geometry{Width: 1, Height: 1}}

	_, err := svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, ErrDuplicateRequest)

	other := in
	other.FloorplanID = 2
	_, err = svc.Create(ctx, other)
	require.NoError(t, err, "keys are scoped per floorplan")

	list, _ := store.ListPlacements(ctx, 1)
	assert.Len(t, list, 1)
}

func TestCreateFailureReleasesIdempotencyKey(t *testing.T) {
	svc, _, _ := newTestService()
	idem := &memIdempotency{}
	svc.WithIdempotency(idem)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{FloorplanID: 1, VariantID: 404, IdempotencyKey: "req-2", Geometry: Geometry{Width: 1, Height: 1}})
	require.ErrorIs(t, err, bom.ErrReferenceNotFound)
	assert.Empty(t, idem.keys)
}

func TestHandlerDuplicateRequest(t *testing.T) {
	svc, _, _ := newTestService()
	svc.WithIdempotency(&memIdempotency{})
	router := newTestRouter(svc)

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/floorplans/1/placements", strings.NewReader(`{"variant_id":10,"width":1,"height":1}`))
		req.Header.Set(IdempotencyHeader, "abc")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}
	require.Equal(t, http.StatusCreated, post().Code)
	assert.Equal(t, http.StatusConflict, post().Code)
}

func TestCreateRematerializesWhenEntryReleasedConcurrently(t *testing.T) {
	svc, store, engine := newTestService()
	ctx := context.Background()
	released := false
	store.beforeCreate = func(p bom.Placement) error {
		if released {
			return nil
		}
		released = true
		delete(engine.entries, [2]int64{p.FloorplanID, p.VariantID})
		return fmt.Errorf("%w: bom entry released concurrently", bom.ErrConflict)
	}

	created, err := svc.Create(ctx, CreateInput{FloorplanID: 1, VariantID: 10, Geometry: Geometry{Width: 5, Height: 5}})
	require.NoError(t, err)
	require.NotNil(t, created.BOMEntryID)
	assert.Equal(t, int64(2), *created.BOMEntryID)
	assert.Equal(t, 2, engine.materialized)
	assert.Equal(t, engine.entries[[2]int64{1, 10}], *created.BOMEntryID)
}

func TestCreateGivesUpAfterRepeatedRelease(t *testing.T) {
	svc, store, engine := newTestService()
	store.beforeCreate = func(p bom.Placement) error {
		return fmt.Errorf("%w: bom entry released concurrently", bom.ErrConflict)
	}

	_, err := svc.Create(context.Background(), CreateInput{FloorplanID: 1, VariantID: 10, Geometry: Geometry{Width: 5, Height: 5}})
	require.ErrorIs(t, err, bom.ErrConflict)
	assert.Equal(t, maxCreateAttempts, engine.materialized)
	list, _ := store.ListPlacements(context.Background(), 1)
	assert.Empty(t, list)
}
