package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clubsite/internal/services/gateway"
	"clubsite/internal/status"
	"clubsite/internal/store"
	"clubsite/models"
	"clubsite/monitoring"
	"clubsite/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Notification is the identifying part of a gateway webhook. Its body is
// never trusted beyond the payment id.
type Notification struct {
	Type   string
	DataID string
}

const (
	ResultIgnored         = "ignored"
	ResultInProgress      = "in_progress"
	ResultPaymentNotFound = "payment_not_found"
	ResultUnrecognized    = "unrecognized"
	ResultConfirmed       = "confirmed"
	ResultPaid            = "paid"
	ResultCancelled       = "cancelled"
	ResultNoop            = "noop"
	ResultOversold        = "oversold"
	ResultUnknownOrder    = "unknown_order"
)

type Outcome struct {
	Kind   string `json:"kind"`
	Result string `json:"result"`
}

// Locker serializes concurrent deliveries for the same payment.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), acquired bool, err error)
}

type RedisLocker struct {
	client   redis.Cmdable
	ttl      time.Duration
	newOwner func() string
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, newOwner: uuid.NewString}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), bool, error) {
	owner := l.newOwner()
	ok, err := utils.AcquireLock(ctx, l.client, key, owner, l.ttl)
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		if err := utils.ReleaseLock(context.WithoutCancel(ctx), l.client, key, owner); err != nil {
			slog.Warn("redisLocker.unlock()", "key", key, "error", err)
		}
	}, true, nil
}

type Reconciler struct {
	store    store.Store
	gateway  gateway.Gateway
	mailer   Mailer
	notifier Notifier
	locker   Locker
	now      func() time.Time
}

func NewReconciler(s store.Store, gw gateway.Gateway, m Mailer, n Notifier, l Locker) *Reconciler {
	return &Reconciler{store: s, gateway: gw, mailer: m, notifier: n, locker: l, now: time.Now}
}

// HandleNotification brings local state in line with the authoritative
// payment it names. Redelivering the same notification is harmless.
func (r *Reconciler) HandleNotification(ctx context.Context, n Notification) (*Outcome, error) {
	if n.Type != "payment" || n.DataID == "" {
		monitoring.TrackWebhook("none", ResultIgnored)
		return &Outcome{Kind: "none", Result: ResultIgnored}, nil
	}

	if r.locker != nil {
		unlock, acquired, err := r.locker.Lock(ctx, "webhook:payment:"+n.DataID)
		switch {
		case err != nil:
			slog.Warn("reconciler.HandleNotification() lock unavailable", "payment_id", n.DataID, "error", err)
		case !acquired:
			monitoring.TrackWebhook("none", ResultInProgress)
			return &Outcome{Kind: "none", Result: ResultInProgress}, nil
		default:
			defer unlock()
		}
	}

	p, err := r.gateway.GetPayment(ctx, n.DataID)
	if errors.Is(err, status.ErrPaymentNotFound) {
		slog.Warn("reconciler.HandleNotification() unknown payment", "payment_id", n.DataID)
		monitoring.TrackWebhook("none", ResultPaymentNotFound)
		return &Outcome{Kind: "none", Result: ResultPaymentNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", n.DataID, err)
	}

	out, err := r.ApplyPayment(ctx, p)
	if err != nil {
		return nil, err
	}
	monitoring.TrackWebhook(out.Kind, out.Result)
	return out, nil
}

// ApplyPayment dispatches on the decoded external reference of p.
func (r *Reconciler) ApplyPayment(ctx context.Context, p *gateway.Payment) (*Outcome, error) {
	ref := DecodeReference(p.ExternalReference)
	switch ref := ref.(type) {
	case TicketBatchReference:
		result, err := r.applyTicketBatch(ctx, ref, p)
		return &Outcome{Kind: ref.Kind(), Result: result}, err
	case OrderReference:
		result, err := r.applyOrder(ctx, ref, p)
		return &Outcome{Kind: ref.Kind(), Result: result}, err
	default:
		slog.Warn("reconciler.ApplyPayment() unrecognized reference", "payment_id", p.ID, "reference", p.ExternalReference)
		return &Outcome{Kind: ref.Kind(), Result: ResultUnrecognized}, nil
	}
}

func (r *Reconciler) applyTicketBatch(ctx context.Context, ref TicketBatchReference, p *gateway.Payment) (string, error) {
	switch {
	case p.Status == gateway.StatusApproved:
		return r.confirmTickets(ctx, ref, p)
	case p.Status.Failed():
		return r.cancelTickets(ctx, ref, p)
	default:
		return ResultNoop, nil
	}
}

func (r *Reconciler) confirmTickets(ctx context.Context, ref TicketBatchReference, p *gateway.Payment) (string, error) {
	now := r.now()
	var confirmed []models.Ticket
	err := r.store.RunInTx(ctx, func(tx store.Tx) error {
		tickets, err := tx.FindTickets(ctx, store.TicketFilter{IDs: ref.TicketIDs, Statuses: []models.TicketStatus{models.TicketPending}})
		if err != nil {
			return err
		}

		perType := map[string]int{}
		var order []string
		for _, t := range tickets {
			won, err := tx.TransitionTicket(ctx, store.TicketTransition{
				ID: t.ID, From: models.TicketPending, To: models.TicketValid, At: now, PaymentID: p.ID,
			})
			if err != nil {
				return err
			}
			if !won {
				continue
			}
			if perType[t.TicketTypeID] == 0 {
				order = append(order, t.TicketTypeID)
			}
			perType[t.TicketTypeID]++
			t.Status = models.TicketValid
			t.PaymentID = p.ID
			confirmed = append(confirmed, t)
		}

		for _, typeID := range order {
			ok, err := tx.IncrementSold(ctx, typeID, perType[typeID])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: ticket type %s", status.ErrOversold, typeID)
			}
		}
		return nil
	})
	if errors.Is(err, status.ErrOversold) {
		slog.Error("reconciler.confirmTickets() oversell guard rejected batch", "payment_id", p.ID, "batch", ref.Batch, "error", err)
		monitoring.TrackOversellGuard()
		return ResultOversold, nil
	}
	if err != nil {
		return "", fmt.Errorf("confirm tickets: %w", err)
	}

	if len(confirmed) == 0 {
		r.warnIfCancelled(ctx, ref, p)
		return ResultNoop, nil
	}

	monitoring.TrackTicketsConfirmed(len(confirmed))
	slog.Info("tickets confirmed", "payment_id", p.ID, "batch", ref.Batch, "tickets", len(confirmed))

	r.sendTickets(ctx, confirmed)

	ev := confirmed[0].EventID
	publish(ctx, r.notifier, eventChannel(ev), map[string]any{
		"type":  "tickets_confirmed",
		"count": len(confirmed),
	})
	if purchaser := confirmed[0].PurchaserID; purchaser != "" {
		publish(ctx, r.notifier, userChannel(purchaser), map[string]any{
			"type":       "payment_success",
			"payment_id": p.ID,
			"tickets":    ref.TicketIDs,
		})
	}
	return ResultConfirmed, nil
}

// warnIfCancelled flags approved payments that arrive after their tickets
// were released, which need a manual refund.
func (r *Reconciler) warnIfCancelled(ctx context.Context, ref TicketBatchReference, p *gateway.Payment) {
	n, err := r.store.CountTickets(ctx, store.TicketFilter{IDs: ref.TicketIDs, Statuses: []models.TicketStatus{models.TicketCancelled}})
	if err != nil || n == 0 {
		return
	}
	slog.Warn("reconciler.confirmTickets() approved payment for cancelled tickets", "payment_id", p.ID, "batch", ref.Batch, "cancelled", n)
}

// sendTickets mails each attendee the tickets carrying their address.
func (r *Reconciler) sendTickets(ctx context.Context, tickets []models.Ticket) {
	if r.mailer == nil {
		return
	}
	ev, err := r.store.Event(ctx, tickets[0].EventID)
	if err != nil {
		slog.Error("reconciler.sendTickets()", "event_id", tickets[0].EventID, "error", err)
		monitoring.TrackEmailFailure("tickets")
		return
	}

	typeNames := map[string]string{}
	var recipients []string
	byEmail := map[string]*TicketEmail{}
	for _, t := range tickets {
		name, ok := typeNames[t.TicketTypeID]
		if !ok {
			if tt, err := r.store.TicketType(ctx, t.TicketTypeID); err == nil {
				name = tt.Name
			}
			typeNames[t.TicketTypeID] = name
		}

		key := strings.ToLower(t.Attendee.Email)
		msg, ok := byEmail[key]
		if !ok {
			msg = &TicketEmail{To: t.Attendee, Event: *ev}
			byEmail[key] = msg
			recipients = append(recipients, key)
		}
		msg.Tickets = append(msg.Tickets, IssuedTicket{Ticket: t, TypeName: name})
	}

	for _, key := range recipients {
		msg := byEmail[key]
		if err := r.mailer.SendTickets(ctx, *msg); err != nil {
			slog.Error("mailer.SendTickets()", "email", key, "tickets", len(msg.Tickets), "error", err)
			monitoring.TrackEmailFailure("tickets")
		}
	}
}

func (r *Reconciler) cancelTickets(ctx context.Context, ref TicketBatchReference, p *gateway.Payment) (string, error) {
	cancelled := 0
	err := r.store.RunInTx(ctx, func(tx store.Tx) error {
		for _, id := range ref.TicketIDs {
			won, err := tx.TransitionTicket(ctx, store.TicketTransition{
				ID: id, From: models.TicketPending, To: models.TicketCancelled, At: r.now(), PaymentID: p.ID,
			})
			if err != nil {
				return err
			}
			if won {
				cancelled++
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("cancel tickets: %w", err)
	}
	if cancelled == 0 {
		return ResultNoop, nil
	}
	slog.Info("tickets cancelled", "payment_id", p.ID, "batch", ref.Batch, "status", p.Status, "tickets", cancelled)
	return ResultCancelled, nil
}

func (r *Reconciler) applyOrder(ctx context.Context, ref OrderReference, p *gateway.Payment) (string, error) {
	o, err := r.store.Order(ctx, ref.OrderID)
	if errors.Is(err, status.ErrNotFound) {
		slog.Warn("reconciler.applyOrder() unknown order", "payment_id", p.ID, "order_id", ref.OrderID)
		return ResultUnknownOrder, nil
	}
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}

	switch {
	case p.Status == gateway.StatusApproved:
		return r.payOrder(ctx, o, p)
	case p.Status.Failed():
		won := false
		err := r.store.RunInTx(ctx, func(tx store.Tx) error {
			var err error
			won, err = tx.TransitionOrder(ctx, store.OrderTransition{
				ID: o.ID, From: models.OrderPending, To: models.OrderCancelled, At: r.now(), PaymentID: p.ID,
			})
			return err
		})
		if err != nil {
			return "", fmt.Errorf("cancel order: %w", err)
		}
		if !won {
			return ResultNoop, nil
		}
		slog.Info("order cancelled", "order", o.Number, "payment_id", p.ID, "status", p.Status)
		return ResultCancelled, nil
	default:
		return ResultNoop, nil
	}
}

func (r *Reconciler) payOrder(ctx context.Context, o *models.Order, p *gateway.Payment) (string, error) {
	if o.Status != models.OrderPending {
		return ResultNoop, nil
	}
	if !p.Amount.IsZero() && p.Amount.LessThan(o.Total) {
		slog.Warn("reconciler.payOrder() amount below order total", "order", o.Number, "payment_id", p.ID, "amount", p.Amount.String(), "total", o.Total.String())
	}

	now := r.now()
	won := false
	err := r.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		won, err = tx.TransitionOrder(ctx, store.OrderTransition{
			ID: o.ID, From: models.OrderPending, To: models.OrderPaid, At: now, PaymentID: p.ID,
		})
		if err != nil || !won {
			return err
		}
		for _, item := range o.Items {
			ok, err := tx.DecrementStock(ctx, item)
			if err != nil {
				return err
			}
			if !ok {
				slog.Error("reconciler.payOrder() stock below zero", "order", o.Number, "product_id", item.ProductID, "variant_id", item.VariantID, "quantity", item.Quantity)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("pay order: %w", err)
	}
	if !won {
		return ResultNoop, nil
	}

	o.Status = models.OrderPaid
	o.PaymentID = p.ID
	o.PaidAt = &now
	slog.Info("order paid", "order", o.Number, "payment_id", p.ID)

	if r.mailer != nil {
		if err := r.mailer.SendOrderConfirmation(ctx, o); err != nil {
			slog.Error("mailer.SendOrderConfirmation()", "order", o.Number, "error", err)
			monitoring.TrackEmailFailure("order_paid")
		}
	}
	if o.PurchaserID != "" {
		publish(ctx, r.notifier, userChannel(o.PurchaserID), map[string]any{
			"type":     "order_paid",
			"order_id": o.ID,
			"number":   o.Number,
		})
	}
	return ResultPaid, nil
}
