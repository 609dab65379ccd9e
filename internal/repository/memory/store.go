// Package memory is an in-process repository.Store for tests, local runs and
// STORE_DRIVER=memory. Product locks are channel mutexes taken in sorted id
// order; writes inside a unit of work are recorded in an undo log and
// reverted if the unit fails.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	"github.com/Sumudu01/NayanaPharma/internal/repository"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

type reservationKey struct {
	cartID    string
	productID string
}

// Store implements repository.Store in memory.
type Store struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	reservations map[reservationKey]domain.Reservation
	sales        map[string]domain.Sale
	movements    map[string][]domain.StockMovement

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	repos
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{
		products:     make(map[string]domain.Product),
		reservations: make(map[reservationKey]domain.Reservation),
		sales:        make(map[string]domain.Sale),
		movements:    make(map[string][]domain.StockMovement),
		locks:        make(map[string]chan struct{}),
	}
	s.repos = s.newRepos(nil)
	return s
}

// undoLog collects compensations for the writes of one unit of work. A nil
// log means autocommit.
type undoLog struct {
	ops []func()
}

func (u *undoLog) record(op func()) {
	if u != nil {
		u.ops = append(u.ops, op)
	}
}

// rollback runs compensations newest first. Caller holds s.mu.
func (u *undoLog) rollback() {
	for i := len(u.ops) - 1; i >= 0; i-- {
		u.ops[i]()
	}
	u.ops = nil
}

type repos struct {
	products     *productRepo
	reservations *reservationRepo
	sales        *saleRepo
	movements    *movementRepo
}

func (s *Store) newRepos(undo *undoLog) repos {
	return repos{
		products:     &productRepo{s: s, undo: undo},
		reservations: &reservationRepo{s: s, undo: undo},
		sales:        &saleRepo{s: s, undo: undo},
		movements:    &movementRepo{s: s, undo: undo},
	}
}

func (r repos) Products() repository.ProductRepository         { return r.products }
func (r repos) Reservations() repository.ReservationRepository { return r.reservations }
func (r repos) Sales() repository.SaleRepository               { return r.sales }
func (r repos) Movements() repository.MovementRepository       { return r.movements }

func (s *Store) lockFor(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

// WithProductLocks implements repository.Store.
func (s *Store) WithProductLocks(ctx context.Context, productIDs []string, fn func(ctx context.Context, tx repository.Tx) error) error {
	ids := repository.SortedUnique(productIDs)
	held := make([]chan struct{}, 0, len(ids))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}()
	for _, id := range ids {
		l := s.lockFor(id)
		select {
		case l <- struct{}{}:
			held = append(held, l)
		case <-ctx.Done():
			return fmt.Errorf("lock product %s: %w", id, ctx.Err())
		}
	}

	undo := &undoLog{}
	if err := fn(ctx, s.newRepos(undo)); err != nil {
		s.mu.Lock()
		undo.rollback()
		s.mu.Unlock()
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// products
// ---------------------------------------------------------------------------

type productRepo struct {
	s    *Store
	undo *undoLog
}

func (r *productRepo) Get(_ context.Context, id string) (*domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return &p, nil
}

func (r *productRepo) Create(_ context.Context, p *domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.products[p.ID]; ok {
		return apperrors.AlreadyExists("product", "id", p.ID)
	}
	r.s.products[p.ID] = *p
	r.undo.record(func() { delete(r.s.products, p.ID) })
	return nil
}

// put replaces a product and records the previous value. Caller holds s.mu.
func (r *productRepo) put(p domain.Product) {
	prev := r.s.products[p.ID]
	r.s.products[p.ID] = p
	r.undo.record(func() { r.s.products[prev.ID] = prev })
}

func (r *productRepo) ApplyDelta(_ context.Context, id string, onHandDelta, soldDelta int, now time.Time) (*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	if p.OnHand+onHandDelta < 0 || p.Sold+soldDelta < 0 {
		return nil, domain.ErrInsufficientStock
	}
	p.OnHand += onHandDelta
	p.Sold += soldDelta
	p.UpdatedAt = now
	r.put(p)
	return &p, nil
}

func (r *productRepo) SetStatus(_ context.Context, id string, status domain.ProductStatus, now time.Time) (*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	p.Status = status
	p.UpdatedAt = now
	r.put(p)
	return &p, nil
}

func (r *productRepo) ListLevels(_ context.Context, now time.Time) ([]domain.StockLevel, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	held := make(map[string]int)
	for _, res := range r.s.reservations {
		if res.IsActive(now) {
			held[res.ProductID] += res.Quantity
		}
	}
	levels := make([]domain.StockLevel, 0, len(r.s.products))
	for _, p := range r.s.products {
		levels = append(levels, domain.NewStockLevel(p, held[p.ID]))
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].ID < levels[j].ID })
	return levels, nil
}

func (r *productRepo) Count(context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.products), nil
}

func (r *productRepo) TotalOnHand(context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	total := 0
	for _, p := range r.s.products {
		total += p.OnHand
	}
	return total, nil
}

// ---------------------------------------------------------------------------
// reservations
// ---------------------------------------------------------------------------

type reservationRepo struct {
	s    *Store
	undo *undoLog
}

// restore puts back prev, or removes key when there was none. Caller holds s.mu.
func (r *reservationRepo) restore(key reservationKey, prev domain.Reservation, existed bool) {
	if existed {
		r.s.reservations[key] = prev
	} else {
		delete(r.s.reservations, key)
	}
}

func (r *reservationRepo) Get(_ context.Context, cartID, productID string) (*domain.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res, ok := r.s.reservations[reservationKey{cartID, productID}]
	if !ok {
		return nil, apperrors.NotFound("reservation", cartID+"/"+productID)
	}
	return &res, nil
}

func (r *reservationRepo) Upsert(_ context.Context, res *domain.Reservation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := reservationKey{res.CartID, res.ProductID}
	prev, existed := r.s.reservations[key]
	r.s.reservations[key] = *res
	r.undo.record(func() { r.restore(key, prev, existed) })
	return nil
}

func (r *reservationRepo) Delete(_ context.Context, cartID, productID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := reservationKey{cartID, productID}
	prev, existed := r.s.reservations[key]
	if !existed {
		return false, nil
	}
	delete(r.s.reservations, key)
	r.undo.record(func() { r.restore(key, prev, true) })
	return true, nil
}

func (r *reservationRepo) ListByCart(_ context.Context, cartID string, now time.Time) ([]domain.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Reservation{}
	for key, res := range r.s.reservations {
		if key.cartID == cartID && res.IsActive(now) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (r *reservationRepo) HeldQuantity(_ context.Context, productID, excludeCartID string, now time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	held := 0
	for key, res := range r.s.reservations {
		if key.productID == productID && key.cartID != excludeCartID && res.IsActive(now) {
			held += res.Quantity
		}
	}
	return held, nil
}

func (r *reservationRepo) Renew(_ context.Context, cartID string, now, expiresAt time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for key, res := range r.s.reservations {
		if key.cartID != cartID || !res.IsActive(now) {
			continue
		}
		prev := res
		res.ExpiresAt = expiresAt
		r.s.reservations[key] = res
		r.undo.record(func() { r.restore(key, prev, true) })
		n++
	}
	return n, nil
}

func (r *reservationRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := []domain.Reservation{}
	for _, res := range r.s.reservations {
		if !res.IsActive(now) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *reservationRepo) DeleteIfExpired(_ context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for key, res := range r.s.reservations {
		if res.ID != id {
			continue
		}
		if res.IsActive(now) {
			return false, nil
		}
		delete(r.s.reservations, key)
		prev := res
		r.undo.record(func() { r.restore(key, prev, true) })
		return true, nil
	}
	return false, nil
}

func (r *reservationRepo) CountByCart(_ context.Context, cartID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for key := range r.s.reservations {
		if key.cartID == cartID {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// sales
// ---------------------------------------------------------------------------

type saleRepo struct {
	s    *Store
	undo *undoLog
}

func cloneSale(s domain.Sale) domain.Sale {
	s.Lines = append([]domain.SaleLine{}, s.Lines...)
	return s
}

func (r *saleRepo) Create(_ context.Context, sale *domain.Sale) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sales[sale.ID]; ok {
		return apperrors.AlreadyExists("sale", "id", sale.ID)
	}
	r.s.sales[sale.ID] = cloneSale(*sale)
	id := sale.ID
	r.undo.record(func() { delete(r.s.sales, id) })
	return nil
}

func (r *saleRepo) Get(_ context.Context, id string) (*domain.Sale, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sale, ok := r.s.sales[id]
	if !ok {
		return nil, apperrors.NotFound("sale", id)
	}
	sale = cloneSale(sale)
	return &sale, nil
}

func (r *saleRepo) List(_ context.Context, offset, limit int) ([]domain.Sale, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := make([]domain.Sale, 0, len(r.s.sales))
	for _, sale := range r.s.sales {
		all = append(all, cloneSale(sale))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []domain.Sale{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (r *saleRepo) Count(context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.sales), nil
}

func (r *saleRepo) Update(_ context.Context, sale *domain.Sale) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.sales[sale.ID]
	if !ok {
		return apperrors.NotFound("sale", sale.ID)
	}
	updated := cloneSale(prev)
	updated.CustomerID = sale.CustomerID
	updated.Lines = append([]domain.SaleLine{}, sale.Lines...)
	updated.TotalAmount = sale.TotalAmount
	updated.UpdatedAt = sale.UpdatedAt
	r.s.sales[sale.ID] = updated
	r.undo.record(func() { r.s.sales[prev.ID] = prev })
	return nil
}

func (r *saleRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.sales[id]
	if !ok {
		return apperrors.NotFound("sale", id)
	}
	delete(r.s.sales, id)
	r.undo.record(func() { r.s.sales[id] = prev })
	return nil
}

// ---------------------------------------------------------------------------
// movements
// ---------------------------------------------------------------------------

type movementRepo struct {
	s    *Store
	undo *undoLog
}

func (r *movementRepo) Append(_ context.Context, m *domain.StockMovement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pid := m.ProductID
	r.s.movements[pid] = append(r.s.movements[pid], *m)
	r.undo.record(func() {
		list := r.s.movements[pid]
		r.s.movements[pid] = list[:len(list)-1]
	})
	return nil
}

func (r *movementRepo) ListByProduct(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := r.s.movements[productID]
	out := make([]domain.StockMovement, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, list[i])
	}
	return out, nil
}
