package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clubsite/internal/status"
	"clubsite/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// PocketBase implements Store on top of the app's collections.
type PocketBase struct {
	app core.App
	now func() time.Time
}

func NewPocketBase(app core.App) *PocketBase {
	return &PocketBase{app: app, now: time.Now}
}

func (s *PocketBase) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(&PocketBase{app: txApp, now: s.now})
	})
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, status.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

func (s *PocketBase) findByID(collection, id string) (*core.Record, error) {
	r, err := s.app.FindRecordById(collection, id)
	if err != nil {
		return nil, notFound(err, collection, id)
	}
	return r, nil
}

func (s *PocketBase) Event(_ context.Context, id string) (*models.Event, error) {
	r, err := s.findByID(CollectionEvents, id)
	if err != nil {
		return nil, err
	}
	return toEvent(r), nil
}

func (s *PocketBase) EventsStartingBetween(_ context.Context, from, to time.Time) ([]models.Event, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionEvents,
		"starts_at >= {:from} && starts_at <= {:to}",
		"starts_at",
		0,
		0,
		dbx.Params{"from": dbTime(from), "to": dbTime(to)},
	)
	if err != nil {
		return nil, fmt.Errorf("events starting between: %w", err)
	}
	out := make([]models.Event, 0, len(records))
	for _, r := range records {
		out = append(out, *toEvent(r))
	}
	return out, nil
}

func (s *PocketBase) Lot(_ context.Context, id string) (*models.Lot, error) {
	r, err := s.findByID(CollectionLots, id)
	if err != nil {
		return nil, err
	}
	return toLot(r), nil
}

func (s *PocketBase) LotsByEvent(_ context.Context, eventID string) ([]models.Lot, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionLots, "event = {:event}", "display_order,id", 0, 0,
		dbx.Params{"event": eventID},
	)
	if err != nil {
		return nil, fmt.Errorf("lots of event %s: %w", eventID, err)
	}
	out := make([]models.Lot, 0, len(records))
	for _, r := range records {
		out = append(out, *toLot(r))
	}
	return out, nil
}

func (s *PocketBase) TicketType(_ context.Context, id string) (*models.TicketType, error) {
	r, err := s.findByID(CollectionTicketTypes, id)
	if err != nil {
		return nil, err
	}
	return toTicketType(r), nil
}

func (s *PocketBase) TicketTypesByLot(_ context.Context, lotID string) ([]models.TicketType, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionTicketTypes, "lot = {:lot}", "display_order,id", 0, 0,
		dbx.Params{"lot": lotID},
	)
	if err != nil {
		return nil, fmt.Errorf("ticket types of lot %s: %w", lotID, err)
	}
	out := make([]models.TicketType, 0, len(records))
	for _, r := range records {
		out = append(out, *toTicketType(r))
	}
	return out, nil
}

// exec runs a guarded UPDATE and reports whether a row matched. Raw queries
// bypass record saves, so the statement must set updated = {:updated} itself.
func (s *PocketBase) exec(ctx context.Context, query string, params dbx.Params) (bool, error) {
	params["updated"] = dbTime(s.now())
	res, err := s.app.DB().NewQuery(query).Bind(params).WithContext(ctx).Execute()
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PocketBase) IncrementSold(ctx context.Context, ticketTypeID string, n int) (bool, error) {
	ok, err := s.exec(ctx,
		"UPDATE ticket_types SET quantity_sold = quantity_sold + {:n}, updated = {:updated} "+
			"WHERE id = {:id} AND quantity_sold + {:n} <= total_quantity",
		dbx.Params{"id": ticketTypeID, "n": n},
	)
	if err != nil {
		return false, fmt.Errorf("increment sold %s: %w", ticketTypeID, err)
	}
	if !ok {
		// distinguish a rejected guard from a missing row
		if _, err := s.findByID(CollectionTicketTypes, ticketTypeID); err != nil {
			return false, err
		}
	}
	return ok, nil
}

func (s *PocketBase) InsertTicket(ctx context.Context, t *models.Ticket) error {
	collection, err := s.app.FindCollectionByNameOrId(CollectionTickets)
	if err != nil {
		return fmt.Errorf("tickets collection: %w", err)
	}
	r := core.NewRecord(collection)
	fillTicket(r, t)
	if err := s.app.SaveWithContext(ctx, r); err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	t.ID = r.Id
	return nil
}

func (s *PocketBase) Ticket(_ context.Context, id string) (*models.Ticket, error) {
	r, err := s.findByID(CollectionTickets, id)
	if err != nil {
		return nil, err
	}
	return toTicket(r), nil
}

func (s *PocketBase) TicketByCode(_ context.Context, code string) (*models.Ticket, error) {
	if code == "" {
		return nil, fmt.Errorf("ticket code: %w", status.ErrNotFound)
	}
	r, err := s.app.FindFirstRecordByData(CollectionTickets, "qr_code", code)
	if err != nil {
		return nil, notFound(err, "ticket code", "")
	}
	return toTicket(r), nil
}

func ticketWhere(f TicketFilter) []dbx.Expression {
	var where []dbx.Expression
	if len(f.IDs) > 0 {
		ids := make([]any, len(f.IDs))
		for i, id := range f.IDs {
			ids[i] = id
		}
		where = append(where, dbx.In("id", ids...))
	}
	for col, val := range map[string]string{
		"event":       f.EventID,
		"lot":         f.LotID,
		"ticket_type": f.TicketTypeID,
		"purchaser":   f.PurchaserID,
	} {
		if val != "" {
			where = append(where, dbx.HashExp{col: val})
		}
	}
	if len(f.Statuses) > 0 {
		statuses := make([]any, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, dbx.In("status", statuses...))
	}
	if !f.PurchasedBefore.IsZero() {
		where = append(where, dbx.NewExp("purchased_at < {:before}", dbx.Params{"before": dbTime(f.PurchasedBefore)}))
	}
	return where
}

func (s *PocketBase) FindTickets(ctx context.Context, f TicketFilter) ([]models.Ticket, error) {
	var records []*core.Record
	err := s.app.RecordQuery(CollectionTickets).
		WithContext(ctx).
		AndWhere(dbx.And(ticketWhere(f)...)).
		OrderBy("id").
		All(&records)
	if err != nil {
		return nil, fmt.Errorf("find tickets: %w", err)
	}
	out := make([]models.Ticket, 0, len(records))
	for _, r := range records {
		out = append(out, *toTicket(r))
	}
	return out, nil
}

func (s *PocketBase) CountTickets(_ context.Context, f TicketFilter) (int, error) {
	n, err := s.app.CountRecords(CollectionTickets, ticketWhere(f)...)
	if err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return int(n), nil
}

func (s *PocketBase) TransitionTicket(ctx context.Context, tr TicketTransition) (bool, error) {
	query := "UPDATE tickets SET status = {:to}, updated = {:updated}"
	params := dbx.Params{"id": tr.ID, "from": string(tr.From), "to": string(tr.To)}
	if tr.To == models.TicketUsed {
		query += ", used_at = {:at}"
		params["at"] = dbTime(tr.At)
	}
	if tr.PaymentID != "" {
		query += ", payment_id = {:payment}"
		params["payment"] = tr.PaymentID
	}
	query += " WHERE id = {:id} AND status = {:from}"

	ok, err := s.exec(ctx, query, params)
	if err != nil {
		return false, fmt.Errorf("transition ticket %s %s->%s: %w", tr.ID, tr.From, tr.To, err)
	}
	return ok, nil
}

func (s *PocketBase) DeleteTickets(ctx context.Context, ids []string) error {
	for _, id := range ids {
		r, err := s.app.FindRecordById(CollectionTickets, id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("delete ticket %s: %w", id, err)
		}
		if err := s.app.DeleteWithContext(ctx, r); err != nil {
			return fmt.Errorf("delete ticket %s: %w", id, err)
		}
	}
	return nil
}

func (s *PocketBase) InsertScan(ctx context.Context, sc *models.ScanAttempt) error {
	collection, err := s.app.FindCollectionByNameOrId(CollectionScanAttempts)
	if err != nil {
		return fmt.Errorf("scan_attempts collection: %w", err)
	}
	r := core.NewRecord(collection)
	r.Set("ticket", sc.TicketID)
	r.Set("event", sc.EventID)
	r.Set("actor", sc.ActorID)
	r.Set("outcome", string(sc.Outcome))
	r.Set("location", sc.Location)
	r.Set("scanned_at", dbTime(sc.ScannedAt))
	if err := s.app.SaveWithContext(ctx, r); err != nil {
		return fmt.Errorf("insert scan attempt: %w", err)
	}
	sc.ID = r.Id
	return nil
}

func (s *PocketBase) ScansByEvent(_ context.Context, eventID string) ([]models.ScanAttempt, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionScanAttempts, "event = {:event}", "scanned_at", 0, 0,
		dbx.Params{"event": eventID},
	)
	if err != nil {
		return nil, fmt.Errorf("scans of event %s: %w", eventID, err)
	}
	out := make([]models.ScanAttempt, 0, len(records))
	for _, r := range records {
		out = append(out, toScan(r))
	}
	return out, nil
}

func (s *PocketBase) InsertOrder(ctx context.Context, o *models.Order) error {
	orders, err := s.app.FindCollectionByNameOrId(CollectionOrders)
	if err != nil {
		return fmt.Errorf("orders collection: %w", err)
	}
	items, err := s.app.FindCollectionByNameOrId(CollectionOrderItems)
	if err != nil {
		return fmt.Errorf("order_items collection: %w", err)
	}

	r := core.NewRecord(orders)
	r.Set("number", o.Number)
	r.Set("purchaser", o.PurchaserID)
	r.Set("contact_name", o.Contact.Name)
	r.Set("contact_email", o.Contact.Email)
	r.Set("contact_phone", o.Contact.Phone)
	r.Set("shipping_address", o.Contact.Address)
	r.Set("subtotal", o.Subtotal.InexactFloat64())
	r.Set("shipping_cost", o.ShippingCost.InexactFloat64())
	r.Set("discount", o.Discount.InexactFloat64())
	r.Set("total", o.Total.InexactFloat64())
	r.Set("status", string(o.Status))
	r.Set("payment_method", o.PaymentMethod)
	r.Set("payment_id", o.PaymentID)
	r.Set("created_at", dbTime(o.CreatedAt))
	if err := s.app.SaveWithContext(ctx, r); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	o.ID = r.Id

	for i := range o.Items {
		item := &o.Items[i]
		ir := core.NewRecord(items)
		ir.Set("order", o.ID)
		ir.Set("product", item.ProductID)
		ir.Set("variant", item.VariantID)
		ir.Set("description", item.Description)
		ir.Set("quantity", item.Quantity)
		ir.Set("unit_price", item.UnitPrice.InexactFloat64())
		if err := s.app.SaveWithContext(ctx, ir); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		item.ID = ir.Id
		item.OrderID = o.ID
	}
	return nil
}

func (s *PocketBase) orderItems(orderID string) ([]models.LineItem, error) {
	records, err := s.app.FindRecordsByFilter(
		CollectionOrderItems, "order = {:order}", "id", 0, 0,
		dbx.Params{"order": orderID},
	)
	if err != nil {
		return nil, fmt.Errorf("items of order %s: %w", orderID, err)
	}
	out := make([]models.LineItem, 0, len(records))
	for _, r := range records {
		out = append(out, toLineItem(r))
	}
	return out, nil
}

func (s *PocketBase) Order(_ context.Context, id string) (*models.Order, error) {
	r, err := s.findByID(CollectionOrders, id)
	if err != nil {
		return nil, err
	}
	o := toOrder(r)
	if o.Items, err = s.orderItems(id); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders returns orders without their line items.
func (s *PocketBase) ListOrders(ctx context.Context) ([]models.Order, error) {
	var records []*core.Record
	err := s.app.RecordQuery(CollectionOrders).
		WithContext(ctx).
		OrderBy("created_at DESC").
		All(&records)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]models.Order, 0, len(records))
	for _, r := range records {
		out = append(out, *toOrder(r))
	}
	return out, nil
}

func (s *PocketBase) TransitionOrder(ctx context.Context, tr OrderTransition) (bool, error) {
	query := "UPDATE orders SET status = {:to}, updated = {:updated}"
	params := dbx.Params{"id": tr.ID, "from": string(tr.From), "to": string(tr.To)}
	if tr.To == models.OrderPaid {
		query += ", paid_at = {:at}"
		params["at"] = dbTime(tr.At)
	}
	if tr.PaymentID != "" {
		query += ", payment_id = {:payment}"
		params["payment"] = tr.PaymentID
	}
	query += " WHERE id = {:id} AND status = {:from}"

	ok, err := s.exec(ctx, query, params)
	if err != nil {
		return false, fmt.Errorf("transition order %s %s->%s: %w", tr.ID, tr.From, tr.To, err)
	}
	return ok, nil
}

// DeleteOrder relies on the cascade delete of the order relation to drop the
// line items.
func (s *PocketBase) DeleteOrder(ctx context.Context, id string) error {
	r, err := s.app.FindRecordById(CollectionOrders, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return s.app.DeleteWithContext(ctx, r)
}

func (s *PocketBase) Product(_ context.Context, id string) (*models.Product, error) {
	r, err := s.findByID(CollectionProducts, id)
	if err != nil {
		return nil, err
	}
	return toProduct(r), nil
}

func (s *PocketBase) Variant(_ context.Context, id string) (*models.Variant, error) {
	r, err := s.findByID(CollectionVariants, id)
	if err != nil {
		return nil, err
	}
	return toVariant(r), nil
}

func (s *PocketBase) DecrementStock(ctx context.Context, item models.LineItem) (bool, error) {
	table, id := CollectionProducts, item.ProductID
	if item.VariantID != "" {
		table, id = CollectionVariants, item.VariantID
	}
	ok, err := s.exec(ctx,
		"UPDATE "+table+" SET stock = stock - {:n}, updated = {:updated} WHERE id = {:id} AND stock >= {:n}",
		dbx.Params{"id": id, "n": item.Quantity},
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock %s %s: %w", table, id, err)
	}
	return ok, nil
}
