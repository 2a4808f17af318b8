package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"clubsite/internal/status"
	"clubsite/models"
)

// Memory is an in-process Store. Every operation and every RunInTx call is
// serialized on a single mutex, matching the single-writer behaviour of the
// embedded database.
type Memory struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	seq         int
	events      map[string]models.Event
	lots        map[string]models.Lot
	ticketTypes map[string]models.TicketType
	tickets     map[string]models.Ticket
	scans       []models.ScanAttempt
	orders      map[string]models.Order
	products    map[string]models.Product
	variants    map[string]models.Variant
}

func NewMemory() *Memory {
	return &Memory{state: &memoryState{
		events:      map[string]models.Event{},
		lots:        map[string]models.Lot{},
		ticketTypes: map[string]models.TicketType{},
		tickets:     map[string]models.Ticket{},
		orders:      map[string]models.Order{},
		products:    map[string]models.Product{},
		variants:    map[string]models.Variant{},
	}}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		seq:         s.seq,
		events:      maps.Clone(s.events),
		lots:        maps.Clone(s.lots),
		ticketTypes: maps.Clone(s.ticketTypes),
		tickets:     maps.Clone(s.tickets),
		scans:       slices.Clone(s.scans),
		orders:      make(map[string]models.Order, len(s.orders)),
		products:    maps.Clone(s.products),
		variants:    maps.Clone(s.variants),
	}
	for id, o := range s.orders {
		o.Items = slices.Clone(o.Items)
		c.orders[id] = o
	}
	return c
}

func (s *memoryState) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%06d", prefix, s.seq)
}

func (m *Memory) locked(fn func(tx *memoryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memoryTx{s: m.state})
}

// RunInTx restores the pre-transaction state when fn returns an error.
func (m *Memory) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memoryTx{s: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Seeding helpers used by tests and local fixtures.

func (m *Memory) PutEvent(e models.Event) {
	m.locked(func(tx *memoryTx) error { tx.s.events[e.ID] = e; return nil })
}

func (m *Memory) PutLot(l models.Lot) {
	m.locked(func(tx *memoryTx) error { tx.s.lots[l.ID] = l; return nil })
}

func (m *Memory) PutTicketType(t models.TicketType) {
	m.locked(func(tx *memoryTx) error { tx.s.ticketTypes[t.ID] = t; return nil })
}

func (m *Memory) PutTicket(t models.Ticket) {
	m.locked(func(tx *memoryTx) error { tx.s.tickets[t.ID] = t; return nil })
}

func (m *Memory) PutProduct(p models.Product) {
	m.locked(func(tx *memoryTx) error { tx.s.products[p.ID] = p; return nil })
}

func (m *Memory) PutVariant(v models.Variant) {
	m.locked(func(tx *memoryTx) error { tx.s.variants[v.ID] = v; return nil })
}

// Scans returns every recorded scan attempt in insertion order.
func (m *Memory) Scans() []models.ScanAttempt {
	var out []models.ScanAttempt
	m.locked(func(tx *memoryTx) error { out = slices.Clone(tx.s.scans); return nil })
	return out
}

// Store methods delegate to a transaction view under the lock.

func (m *Memory) Event(ctx context.Context, id string) (e *models.Event, err error) {
	err = m.locked(func(tx *memoryTx) error { e, err = tx.Event(ctx, id); return err })
	return e, err
}

func (m *Memory) EventsStartingBetween(ctx context.Context, from, to time.Time) (out []models.Event, err error) {
	err = m.locked(func(tx *memoryTx) error { out, err = tx.EventsStartingBetween(ctx, from, to); return err })
	return out, err
}

func (m *Memory) Lot(ctx context.Context, id string) (l *models.Lot, err error) {
	err = m.locked(func(tx *memoryTx) error { l, err = tx.Lot(ctx, id); return err })
	return l, err
}

func (m *Memory) LotsByEvent(ctx context.Context, eventID string) (out []models.Lot, err error) {
	err = m.locked(func(tx *memoryTx) error { out, err = tx.LotsByEvent(ctx, eventID); return err })
	return out, err
}

func (m *Memory) TicketType(ctx context.Context, id string) (t *models.TicketType, err error) {
	err = m.locked(func(tx *memoryTx) error { t, err = tx.TicketType(ctx, id); return err })
	return t, err
}

func (m *Memory) TicketTypesByLot(ctx context.Context, lotID string) (out []models.TicketType, err error) {
	err = m.locked(func(tx *memoryTx) error { out, err = tx.TicketTypesByLot(ctx, lotID); return err })
	return out, err
}

func (m *Memory) IncrementSold(ctx context.Context, ticketTypeID string, n int) (ok bool, err error) {
	err = m.locked(func(tx *memoryTx) error { ok, err = tx.IncrementSold(ctx, ticketTypeID, n); return err })
	return ok, err
}

func (m *Memory) InsertTicket(ctx context.Context, t *models.Ticket) error {
	return m.locked(func(tx *memoryTx) error { return tx.InsertTicket(ctx, t) })
}

func (m *Memory) Ticket(ctx context.Context, id string) (t *models.Ticket, err error) {
	err = m.locked(func(tx *memoryTx) error { t, err = tx.Ticket(ctx, id); return err })
	return t, err
}

func (m *Memory) TicketByCode(ctx context.Context, code string) (t *models.Ticket, err error) {
	err = m.locked(func(tx *memoryTx) error { t, err = tx.TicketByCode(ctx, code); return err })
	return t, err
}

func (m *Memory) FindTickets(ctx context.Context, f TicketFilter) (out []models.Ticket, err error) {
	err = m.locked(func(tx *memoryTx) error { out, err = tx.FindTickets(ctx, f); return err })
	return out, err
}

func (m *Memory) CountTickets(ctx context.Context, f TicketFilter) (n int, err error) {
	err = m.locked(func(tx *memoryTx) error { n, err = tx.CountTickets(ctx, f); return err })
	return n, err
}

func (m *Memory) TransitionTicket(ctx context.Context, tr TicketTransition) (ok bool, err error) {
	err = m.locked(func(tx *memoryTx) error { ok, err = tx.TransitionTicket(ctx, tr); return err })
	return ok, err
}

func (m *Memory) DeleteTickets(ctx context.Context, ids []string) error {
	return m.locked(func(tx *memoryTx) error { return tx.DeleteTickets(ctx, ids) })
}

func (m *Memory) InsertScan(ctx context.Context, sc *models.ScanAttempt) error {
	return m.locked(func(tx *memoryTx) error { return tx.InsertScan(ctx, sc) })
}

func (m *Memory) ScansByEvent(ctx context.Context, eventID string) (out []models.ScanAttempt, err error) {
	err = m.locked(func(tx *memoryTx) error { out, err = tx.ScansByEvent(ctx, eventID); return err })
	return out, err
}

func (m *Memory) InsertOrder(ctx context.Context, o *models.Order) error {
	return m.locked(func(tx *memoryTx) error { return tx.InsertOrder(ctx, o) })
}

func (m *Memory) Order(ctx context.Context, id string) (o *models.Order, err error) {
	err = m.locked(func(tx *memoryTx) error { o, err = tx.Order(ctx, id); return err })
	return o, err
}

func (m *Memory) ListOrders(ctx context.Context) (out []models.Order, err error) {
	err = m.locked(func(tx *memoryTx) error { out, err = tx.ListOrders(ctx); return err })
	return out, err
}

func (m *Memory) TransitionOrder(ctx context.Context, tr OrderTransition) (ok bool, err error) {
	err = m.locked(func(tx *memoryTx) error { ok, err = tx.TransitionOrder(ctx, tr); return err })
	return ok, err
}

func (m *Memory) DeleteOrder(ctx context.Context, id string) error {
	return m.locked(func(tx *memoryTx) error { return tx.DeleteOrder(ctx, id) })
}

func (m *Memory) Product(ctx context.Context, id string) (p *models.Product, err error) {
	err = m.locked(func(tx *memoryTx) error { p, err = tx.Product(ctx, id); return err })
	return p, err
}

func (m *Memory) Variant(ctx context.Context, id string) (v *models.Variant, err error) {
	err = m.locked(func(tx *memoryTx) error { v, err = tx.Variant(ctx, id); return err })
	return v, err
}

func (m *Memory) DecrementStock(ctx context.Context, item models.LineItem) (ok bool, err error) {
	err = m.locked(func(tx *memoryTx) error { ok, err = tx.DecrementStock(ctx, item); return err })
	return ok, err
}

// memoryTx operates on the state directly; callers hold the Memory lock.
type memoryTx struct {
	s *memoryState
}

func (tx *memoryTx) Event(_ context.Context, id string) (*models.Event, error) {
	e, ok := tx.s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, status.ErrNotFound)
	}
	return &e, nil
}

func (tx *memoryTx) EventsStartingBetween(_ context.Context, from, to time.Time) ([]models.Event, error) {
	var out []models.Event
	for _, e := range tx.s.events {
		if !e.StartsAt.Before(from) && !e.StartsAt.After(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (tx *memoryTx) Lot(_ context.Context, id string) (*models.Lot, error) {
	l, ok := tx.s.lots[id]
	if !ok {
		return nil, fmt.Errorf("lot %s: %w", id, status.ErrNotFound)
	}
	return &l, nil
}

func (tx *memoryTx) LotsByEvent(_ context.Context, eventID string) ([]models.Lot, error) {
	var out []models.Lot
	for _, l := range tx.s.lots {
		if l.EventID == eventID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *memoryTx) TicketType(_ context.Context, id string) (*models.TicketType, error) {
	t, ok := tx.s.ticketTypes[id]
	if !ok {
		return nil, fmt.Errorf("ticket type %s: %w", id, status.ErrNotFound)
	}
	return &t, nil
}

func (tx *memoryTx) TicketTypesByLot(_ context.Context, lotID string) ([]models.TicketType, error) {
	var out []models.TicketType
	for _, t := range tx.s.ticketTypes {
		if t.LotID == lotID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tx *memoryTx) IncrementSold(_ context.Context, ticketTypeID string, n int) (bool, error) {
	t, ok := tx.s.ticketTypes[ticketTypeID]
	if !ok {
		return false, fmt.Errorf("ticket type %s: %w", ticketTypeID, status.ErrNotFound)
	}
	if t.QuantitySold+n > t.TotalQuantity {
		return false, nil
	}
	t.QuantitySold += n
	tx.s.ticketTypes[ticketTypeID] = t
	return true, nil
}

func (tx *memoryTx) InsertTicket(_ context.Context, t *models.Ticket) error {
	for _, existing := range tx.s.tickets {
		if existing.QRCode == t.QRCode {
			return fmt.Errorf("qr code already issued")
		}
	}
	if t.ID == "" {
		t.ID = tx.s.nextID("tkt")
	}
	tx.s.tickets[t.ID] = *t
	return nil
}

func (tx *memoryTx) Ticket(_ context.Context, id string) (*models.Ticket, error) {
	t, ok := tx.s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, status.ErrNotFound)
	}
	return &t, nil
}

func (tx *memoryTx) TicketByCode(_ context.Context, code string) (*models.Ticket, error) {
	for _, t := range tx.s.tickets {
		if code != "" && t.QRCode == code {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("ticket code: %w", status.ErrNotFound)
}

func (f TicketFilter) match(t models.Ticket) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, t.ID) {
		return false
	}
	if f.EventID != "" && t.EventID != f.EventID {
		return false
	}
	if f.LotID != "" && t.LotID != f.LotID {
		return false
	}
	if f.TicketTypeID != "" && t.TicketTypeID != f.TicketTypeID {
		return false
	}
	if f.PurchaserID != "" && t.PurchaserID != f.PurchaserID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if !f.PurchasedBefore.IsZero() && !t.PurchasedAt.Before(f.PurchasedBefore) {
		return false
	}
	return true
}

func (tx *memoryTx) FindTickets(_ context.Context, f TicketFilter) ([]models.Ticket, error) {
	var out []models.Ticket
	for _, t := range tx.s.tickets {
		if f.match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) CountTickets(ctx context.Context, f TicketFilter) (int, error) {
	out, err := tx.FindTickets(ctx, f)
	return len(out), err
}

func (tx *memoryTx) TransitionTicket(_ context.Context, tr TicketTransition) (bool, error) {
	t, ok := tx.s.tickets[tr.ID]
	if !ok || t.Status != tr.From {
		return false, nil
	}
	t.Status = tr.To
	if tr.To == models.TicketUsed {
		at := tr.At
		t.UsedAt = &at
	}
	if tr.PaymentID != "" {
		t.PaymentID = tr.PaymentID
	}
	tx.s.tickets[tr.ID] = t
	return true, nil
}

func (tx *memoryTx) DeleteTickets(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(tx.s.tickets, id)
	}
	return nil
}

func (tx *memoryTx) InsertScan(_ context.Context, sc *models.ScanAttempt) error {
	if sc.ID == "" {
		sc.ID = tx.s.nextID("scn")
	}
	tx.s.scans = append(tx.s.scans, *sc)
	return nil
}

func (tx *memoryTx) ScansByEvent(_ context.Context, eventID string) ([]models.ScanAttempt, error) {
	var out []models.ScanAttempt
	for _, sc := range tx.s.scans {
		if sc.EventID == eventID {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertOrder(_ context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = tx.s.nextID("ord")
	}
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
		if o.Items[i].ID == "" {
			o.Items[i].ID = tx.s.nextID("itm")
		}
	}
	stored := *o
	stored.Items = slices.Clone(o.Items)
	tx.s.orders[o.ID] = stored
	return nil
}

func (tx *memoryTx) Order(_ context.Context, id string) (*models.Order, error) {
	o, ok := tx.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, status.ErrNotFound)
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (tx *memoryTx) ListOrders(_ context.Context) ([]models.Order, error) {
	out := make([]models.Order, 0, len(tx.s.orders))
	for _, o := range tx.s.orders {
		o.Items = slices.Clone(o.Items)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) TransitionOrder(_ context.Context, tr OrderTransition) (bool, error) {
	o, ok := tx.s.orders[tr.ID]
	if !ok || o.Status != tr.From {
		return false, nil
	}
	o.Status = tr.To
	if tr.PaymentID != "" {
		o.PaymentID = tr.PaymentID
	}
	if tr.To == models.OrderPaid {
		at := tr.At
		o.PaidAt = &at
	}
	tx.s.orders[tr.ID] = o
	return true, nil
}

func (tx *memoryTx) DeleteOrder(_ context.Context, id string) error {
	delete(tx.s.orders, id)
	return nil
}

func (tx *memoryTx) Product(_ context.Context, id string) (*models.Product, error) {
	p, ok := tx.s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, status.ErrNotFound)
	}
	return &p, nil
}

func (tx *memoryTx) Variant(_ context.Context, id string) (*models.Variant, error) {
	v, ok := tx.s.variants[id]
	if !ok {
		return nil, fmt.Errorf("variant %s: %w", id, status.ErrNotFound)
	}
	return &v, nil
}

func (tx *memoryTx) DecrementStock(_ context.Context, item models.LineItem) (bool, error) {
	if item.VariantID != "" {
		v, ok := tx.s.variants[item.VariantID]
		if !ok || v.Stock < item.Quantity {
			return false, nil
		}
		v.Stock -= item.Quantity
		tx.s.variants[v.ID] = v
		return true, nil
	}
	p, ok := tx.s.products[item.ProductID]
	if !ok || p.Stock < item.Quantity {
		return false, nil
	}
	p.Stock -= item.Quantity
	tx.s.products[p.ID] = p
	return true, nil
}
