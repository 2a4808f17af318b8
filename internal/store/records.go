package store

import (
	"time"

	"clubsite/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

// Collection names.
const (
	CollectionEvents       = "events"
	CollectionLots         = "lots"
	CollectionTicketTypes  = "ticket_types"
	CollectionTickets      = "tickets"
	CollectionScanAttempts = "scan_attempts"
	CollectionOrders       = "orders"
	CollectionOrderItems   = "order_items"
	CollectionProducts     = "products"
	CollectionVariants     = "product_variants"
	CollectionUsers        = "users"
)

// Untyped records never leave this file: everything past the store boundary
// works on models.

func dbTime(t time.Time) string {
	dt, err := types.ParseDateTime(t.UTC())
	if err != nil {
		return ""
	}
	return dt.String()
}

func recordTime(r *core.Record, field string) time.Time {
	return r.GetDateTime(field).Time()
}

func recordTimePtr(r *core.Record, field string) *time.Time {
	dt := r.GetDateTime(field)
	if dt.IsZero() {
		return nil
	}
	t := dt.Time()
	return &t
}

func recordDecimal(r *core.Record, field string) decimal.Decimal {
	return decimal.NewFromFloat(r.GetFloat(field)).Round(2)
}

// optionalInt maps the number field zero value to "not set".
func optionalInt(r *core.Record, field string) *int {
	n := r.GetInt(field)
	if n <= 0 {
		return nil
	}
	return &n
}

func toEvent(r *core.Record) *models.Event {
	return &models.Event{
		ID:          r.Id,
		Title:       r.GetString("title"),
		Slug:        r.GetString("slug"),
		StartsAt:    recordTime(r, "starts_at"),
		EndsAt:      recordTime(r, "ends_at"),
		Location:    r.GetString("location"),
		Capacity:    optionalInt(r, "capacity"),
		MembersOnly: r.GetBool("members_only"),
		Published:   r.GetBool("published"),
		Active:      r.GetBool("active"),
	}
}

func toLot(r *core.Record) *models.Lot {
	return &models.Lot{
		ID:           r.Id,
		EventID:      r.GetString("event"),
		Name:         r.GetString("name"),
		StartsAt:     recordTime(r, "starts_at"),
		EndsAt:       recordTime(r, "ends_at"),
		MaxQuantity:  optionalInt(r, "max_quantity"),
		Active:       r.GetBool("active"),
		DisplayOrder: r.GetInt("display_order"),
	}
}

func toTicketType(r *core.Record) *models.TicketType {
	tt := &models.TicketType{
		ID:             r.Id,
		LotID:          r.GetString("lot"),
		Name:           r.GetString("name"),
		Price:          recordDecimal(r, "price"),
		TotalQuantity:  r.GetInt("total_quantity"),
		QuantitySold:   r.GetInt("quantity_sold"),
		MaxPerPurchase: r.GetInt("max_per_purchase"),
		Active:         r.GetBool("active"),
		DisplayOrder:   r.GetInt("display_order"),
	}
	if r.GetFloat("member_price") > 0 {
		mp := recordDecimal(r, "member_price")
		tt.MemberPrice = &mp
	}
	return tt
}

func toTicket(r *core.Record) *models.Ticket {
	return &models.Ticket{
		ID:              r.Id,
		EventID:         r.GetString("event"),
		LotID:           r.GetString("lot"),
		TicketTypeID:    r.GetString("ticket_type"),
		PurchaserID:     r.GetString("purchaser"),
		PaymentRef:      r.GetString("payment_ref"),
		PaymentID:       r.GetString("payment_id"),
		QRCode:          r.GetString("qr_code"),
		ValidationToken: r.GetString("validation_token"),
		Attendee: models.Attendee{
			Name:     r.GetString("attendee_name"),
			Document: r.GetString("attendee_document"),
			Email:    r.GetString("attendee_email"),
			Phone:    r.GetString("attendee_phone"),
		},
		Price:       recordDecimal(r, "price"),
		Status:      models.TicketStatus(r.GetString("status")),
		PurchasedAt: recordTime(r, "purchased_at"),
		UsedAt:      recordTimePtr(r, "used_at"),
		Notes:       r.GetString("notes"),
	}
}

func fillTicket(r *core.Record, t *models.Ticket) {
	r.Set("event", t.EventID)
	r.Set("lot", t.LotID)
	r.Set("ticket_type", t.TicketTypeID)
	r.Set("purchaser", t.PurchaserID)
	r.Set("payment_ref", t.PaymentRef)
	r.Set("payment_id", t.PaymentID)
	r.Set("qr_code", t.QRCode)
	r.Set("validation_token", t.ValidationToken)
	r.Set("attendee_name", t.Attendee.Name)
	r.Set("attendee_document", t.Attendee.Document)
	r.Set("attendee_email", t.Attendee.Email)
	r.Set("attendee_phone", t.Attendee.Phone)
	r.Set("price", t.Price.InexactFloat64())
	r.Set("status", string(t.Status))
	r.Set("purchased_at", dbTime(t.PurchasedAt))
	if t.UsedAt != nil {
		r.Set("used_at", dbTime(*t.UsedAt))
	}
	r.Set("notes", t.Notes)
}

func toScan(r *core.Record) models.ScanAttempt {
	return models.ScanAttempt{
		ID:        r.Id,
		TicketID:  r.GetString("ticket"),
		EventID:   r.GetString("event"),
		ActorID:   r.GetString("actor"),
		Outcome:   models.ScanOutcome(r.GetString("outcome")),
		Location:  r.GetString("location"),
		ScannedAt: recordTime(r, "scanned_at"),
	}
}

func toOrder(r *core.Record) *models.Order {
	return &models.Order{
		ID:          r.Id,
		Number:      r.GetString("number"),
		PurchaserID: r.GetString("purchaser"),
		Contact: models.Contact{
			Name:    r.GetString("contact_name"),
			Email:   r.GetString("contact_email"),
			Phone:   r.GetString("contact_phone"),
			Address: r.GetString("shipping_address"),
		},
		Subtotal:      recordDecimal(r, "subtotal"),
		ShippingCost:  recordDecimal(r, "shipping_cost"),
		Discount:      recordDecimal(r, "discount"),
		Total:         recordDecimal(r, "total"),
		Status:        models.OrderStatus(r.GetString("status")),
		PaymentMethod: r.GetString("payment_method"),
		PaymentID:     r.GetString("payment_id"),
		CreatedAt:     recordTime(r, "created_at"),
		PaidAt:        recordTimePtr(r, "paid_at"),
	}
}

func toLineItem(r *core.Record) models.LineItem {
	return models.LineItem{
		ID:          r.Id,
		OrderID:     r.GetString("order"),
		ProductID:   r.GetString("product"),
		VariantID:   r.GetString("variant"),
		Description: r.GetString("description"),
		Quantity:    r.GetInt("quantity"),
		UnitPrice:   recordDecimal(r, "unit_price"),
	}
}

func toProduct(r *core.Record) *models.Product {
	return &models.Product{
		ID:     r.Id,
		Name:   r.GetString("name"),
		Price:  recordDecimal(r, "price"),
		Stock:  r.GetInt("stock"),
		Active: r.GetBool("active"),
	}
}

func toVariant(r *core.Record) *models.Variant {
	v := &models.Variant{
		ID:        r.Id,
		ProductID: r.GetString("product"),
		Name:      r.GetString("name"),
		Stock:     r.GetInt("stock"),
		Active:    r.GetBool("active"),
	}
	if r.GetFloat("price") > 0 {
		p := recordDecimal(r, "price")
		v.Price = &p
	}
	return v
}

// ActorFromRecord converts an authenticated users or _superusers record.
func ActorFromRecord(r *core.Record) *models.Actor {
	if r == nil {
		return nil
	}
	a := &models.Actor{
		ID:    r.Id,
		Email: r.Email(),
		Name:  r.GetString("name"),
	}
	if r.IsSuperuser() {
		a.Superuser = true
		a.Role = models.RoleAdmin
		return a
	}
	a.Role = models.Role(r.GetString("role"))
	a.Staff = r.GetBool("is_staff")
	a.Member = r.GetBool("is_member") || a.Role == models.RoleBoard
	return a
}
