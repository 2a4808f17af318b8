package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"clubsite/internal/services/gateway"
	"clubsite/internal/status"
	"clubsite/internal/store"
	"clubsite/models"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// purchaseBatch runs a real purchase and returns its external reference.
func purchaseBatch(t *testing.T, m *store.Memory, sel []Selection) *PurchaseResult {
	t.Helper()
	gw := new(MockGateway)
	gw.On("CreatePreference", mock.Anything, mock.Anything).Return(&gateway.Preference{ID: "pref", CheckoutURL: "https://pay"}, nil)
	res, err := newIssuance(m, gw).Purchase(context.Background(), PurchaseRequest{
		EventID: "ev1", LotID: "lot1", Selections: sel, Purchaser: &models.Actor{ID: "u1"},
	})
	require.NoError(t, err)
	return res
}

func TestReconciler_ApprovedBatch(t *testing.T) {
	m := seedCatalog()
	attendeesMixed := []models.Attendee{
		{Name: "Ana", Email: "ana@example.com"},
		{Name: "Ana hija", Email: "ANA@example.com"},
		{Name: "Beto", Email: "beto@example.com"},
	}
	res := purchaseBatch(t, m, []Selection{{TicketTypeID: "tt1", Quantity: 3, Attendees: attendeesMixed}})

	ctx := context.Background()
	gw := new(MockGateway)
	gw.On("GetPayment", ctx, "pay-1").Return(&gateway.Payment{
		ID: "pay-1", Status: gateway.StatusApproved, ExternalReference: res.Reference, Amount: dec("300"),
	}, nil)
	mailer := &fakeMailer{}
	notifier := &fakeNotifier{}
	r := newReconciler(m, gw, mailer, notifier)

	out, err := r.HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-1"})
	require.NoError(t, err)
	assert.Equal(t, &Outcome{Kind: "tickets", Result: ResultConfirmed}, out)

	tickets, _ := m.FindTickets(ctx, store.TicketFilter{IDs: res.TicketIDs})
	for _, tk := range tickets {
		assert.Equal(t, models.TicketValid, tk.Status)
		assert.Equal(t, "pay-1", tk.PaymentID)
	}
	tt, _ := m.TicketType(ctx, "tt1")
	assert.Equal(t, 3, tt.QuantitySold)

	require.Len(t, mailer.tickets, 2, "one email per distinct attendee address")
	assert.Len(t, mailer.tickets[0].Tickets, 2)
	assert.Equal(t, "General", mailer.tickets[0].Tickets[0].TypeName)
	assert.Len(t, mailer.tickets[1].Tickets, 1)
	assert.Contains(t, notifier.channels(), "event-ev1")
	assert.Contains(t, notifier.channels(), "user-u1")

	// redelivery finds nothing pending
	out, err = r.HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-1"})
	require.NoError(t, err)
	assert.Equal(t, ResultNoop, out.Result)
	assert.Len(t, mailer.tickets, 2)
	tt, _ = m.TicketType(ctx, "tt1")
	assert.Equal(t, 3, tt.QuantitySold)
}

func TestReconciler_RejectedBatchCancels(t *testing.T) {
	m := seedCatalog()
	res := purchaseBatch(t, m, []Selection{{TicketTypeID: "tt1", Quantity: 2, Attendees: attendees(2, "a@b.c")}})
	ctx := context.Background()

	gw := new(MockGateway)
	gw.On("GetPayment", ctx, "pay-2").Return(&gateway.Payment{ID: "pay-2", Status: gateway.StatusRejected, ExternalReference: res.Reference}, nil)
	mailer := &fakeMailer{}

	out, err := newReconciler(m, gw, mailer, nil).HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-2"})
	require.NoError(t, err)
	assert.Equal(t, ResultCancelled, out.Result)

	n, _ := m.CountTickets(ctx, store.TicketFilter{IDs: res.TicketIDs, Statuses: []models.TicketStatus{models.TicketCancelled}})
	assert.Equal(t, 2, n)
	assert.Empty(t, mailer.tickets)
}

func TestReconciler_InProcessIsNoop(t *testing.T) {
	m := seedCatalog()
	res := purchaseBatch(t, m, []Selection{{TicketTypeID: "tt1", Quantity: 1, Attendees: attendees(1, "a@b.c")}})
	ctx := context.Background()

	gw := new(MockGateway)
	gw.On("GetPayment", ctx, "pay-3").Return(&gateway.Payment{ID: "pay-3", Status: gateway.StatusInProcess, ExternalReference: res.Reference}, nil)

	out, err := newReconciler(m, gw, nil, nil).HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-3"})
	require.NoError(t, err)
	assert.Equal(t, ResultNoop, out.Result)

	tk, _ := m.Ticket(ctx, res.TicketIDs[0])
	assert.Equal(t, models.TicketPending, tk.Status)
}

func TestReconciler_OversellGuardRollsBack(t *testing.T) {
	m := seedCatalog()
	res := purchaseBatch(t, m, []Selection{{TicketTypeID: "tt1", Quantity: 2, Attendees: attendees(2, "a@b.c")}})
	// an admin shrank the inventory after the purchase
	m.PutTicketType(models.TicketType{ID: "tt1", LotID: "lot1", Name: "General", Price: dec("100"), TotalQuantity: 1, Active: true})
	ctx := context.Background()

	gw := new(MockGateway)
	gw.On("GetPayment", ctx, "pay-4").Return(&gateway.Payment{ID: "pay-4", Status: gateway.StatusApproved, ExternalReference: res.Reference}, nil)
	mailer := &fakeMailer{}

	out, err := newReconciler(m, gw, mailer, nil).HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-4"})
	require.NoError(t, err)
	assert.Equal(t, ResultOversold, out.Result)

	n, _ := m.CountTickets(ctx, store.TicketFilter{IDs: res.TicketIDs, Statuses: []models.TicketStatus{models.TicketPending}})
	assert.Equal(t, 2, n, "confirmation rolled back")
	tt, _ := m.TicketType(ctx, "tt1")
	assert.Zero(t, tt.QuantitySold)
	assert.Empty(t, mailer.tickets)
}

func TestReconciler_EmailFailureDoesNotFail(t *testing.T) {
	m := seedCatalog()
	res := purchaseBatch(t, m, []Selection{{TicketTypeID: "tt1", Quantity: 1, Attendees: attendees(1, "a@b.c")}})
	ctx := context.Background()

	gw := new(MockGateway)
	gw.On("GetPayment", ctx, "pay-5").Return(&gateway.Payment{ID: "pay-5", Status: gateway.StatusApproved, ExternalReference: res.Reference}, nil)

	out, err := newReconciler(m, gw, &fakeMailer{err: errors.New("smtp down")}, nil).
		HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-5"})
	require.NoError(t, err)
	assert.Equal(t, ResultConfirmed, out.Result)
}

func seedOrder(t *testing.T, m *store.Memory) *models.Order {
	t.Helper()
	m.PutProduct(models.Product{ID: "pr1", Name: "Camiseta", Price: dec("15000"), Stock: 10, Active: true})
	m.PutVariant(models.Variant{ID: "va1", ProductID: "pr1", Name: "M", Stock: 3, Active: true})
	o := &models.Order{
		Number: "ORD-20260301-ABC123",
		Status: models.OrderPending,
		Total:  dec("30000"),
		Items: []models.LineItem{
			{ProductID: "pr1", VariantID: "va1", Quantity: 2, UnitPrice: dec("15000")},
		},
	}
	require.NoError(t, m.InsertOrder(context.Background(), o))
	return o
}

func TestReconciler_ApprovedOrder(t *testing.T) {
	m := seedCatalog()
	o := seedOrder(t, m)
	ctx := context.Background()

	gw := new(MockGateway)
	gw.On("GetPayment", ctx, "pay-6").Return(&gateway.Payment{ID: "pay-6", Status: gateway.StatusApproved, ExternalReference: o.ID, Amount: dec("30000")}, nil)
	mailer := &fakeMailer{}
	r := newReconciler(m, gw, mailer, nil)

	out, err := r.HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-6"})
	require.NoError(t, err)
	assert.Equal(t, &Outcome{Kind: "order", Result: ResultPaid}, out)

	got, _ := m.Order(ctx, o.ID)
	assert.Equal(t, models.OrderPaid, got.Status)
	assert.Equal(t, "pay-6", got.PaymentID)
	require.NotNil(t, got.PaidAt)
	assert.Equal(t, t0, *got.PaidAt)

	v, _ := m.Variant(ctx, "va1")
	assert.Equal(t, 1, v.Stock)
	p, _ := m.Product(ctx, "pr1")
	assert.Equal(t, 10, p.Stock, "variant stock is drawn, not product stock")
	assert.Equal(t, []string{o.Number}, mailer.paid)

	out, err = r.HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-6"})
	require.NoError(t, err)
	assert.Equal(t, ResultNoop, out.Result)
	v, _ = m.Variant(ctx, "va1")
	assert.Equal(t, 1, v.Stock, "stock is decremented once")
	assert.Len(t, mailer.paid, 1)
}

func TestReconciler_ApprovedOrderStockFloor(t *testing.T) {
	m := seedCatalog()
	o := seedOrder(t, m)
	m.PutVariant(models.Variant{ID: "va1", ProductID: "pr1", Name: "M", Stock: 1, Active: true})
	ctx := context.Background()

	gw := new(MockGateway)
	gw.On("GetPayment", ctx, "pay-7").Return(&gateway.Payment{ID: "pay-7", Status: gateway.StatusApproved, ExternalReference: o.ID}, nil)

	out, err := newReconciler(m, gw, nil, nil).HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-7"})
	require.NoError(t, err)
	assert.Equal(t, ResultPaid, out.Result, "payment is kept when stock ran out")

	v, _ := m.Variant(ctx, "va1")
	assert.Equal(t, 1, v.Stock)
}

func TestReconciler_RejectedOrder(t *testing.T) {
	m := seedCatalog()
	o := seedOrder(t, m)
	ctx := context.Background()

	gw := new(MockGateway)
	gw.On("GetPayment", ctx, "pay-8").Return(&gateway.Payment{ID: "pay-8", Status: gateway.StatusCancelled, ExternalReference: o.ID}, nil)

	out, err := newReconciler(m, gw, nil, nil).HandleNotification(ctx, Notification{Type: "payment", DataID: "pay-8"})
	require.NoError(t, err)
	assert.Equal(t, ResultCancelled, out.Result)
	got, _ := m.Order(ctx, o.ID)
	assert.Equal(t, models.OrderCancelled, got.Status)
}

func TestReconciler_EdgeCases(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		n        Notification
		payment  *gateway.Payment
		err      error
		expected string
		wantErr  error
	}{
		{"Merchant order topic", Notification{Type: "merchant_order", DataID: "1"}, nil, nil, ResultIgnored, nil},
		{"Missing data id", Notification{Type: "payment"}, nil, nil, ResultIgnored, nil},
		{"Unknown payment", Notification{Type: "payment", DataID: "404"}, nil, status.ErrPaymentNotFound, ResultPaymentNotFound, nil},
		{"Gateway down", Notification{Type: "payment", DataID: "500"}, nil, status.ErrGateway, "", status.ErrGateway},
		{"Unknown order", Notification{Type: "payment", DataID: "9"}, &gateway.Payment{ID: "9", Status: gateway.StatusApproved, ExternalReference: "ghost"}, nil, ResultUnknownOrder, nil},
		{"Free text reference", Notification{Type: "payment", DataID: "10"}, &gateway.Payment{ID: "10", Status: gateway.StatusApproved, ExternalReference: "donación socios"}, nil, ResultUnrecognized, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(MockGateway)
			if tt.payment != nil || tt.err != nil {
				gw.On("GetPayment", ctx, tt.n.DataID).Return(tt.payment, tt.err).Once()
			}

			out, err := newReconciler(seedCatalog(), gw, nil, nil).HandleNotification(ctx, tt.n)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out.Result)
			gw.AssertExpectations(t)
		})
	}
}

type stubLocker struct {
	acquired bool
	err      error
	unlocked int
}

func (l *stubLocker) Lock(context.Context, string) (func(), bool, error) {
	return func() { l.unlocked++ }, l.acquired, l.err
}

func TestReconciler_LockHeldReturnsInProgress(t *testing.T) {
	gw := new(MockGateway)
	r := newReconciler(seedCatalog(), gw, nil, nil)
	r.locker = &stubLocker{acquired: false}

	out, err := r.HandleNotification(context.Background(), Notification{Type: "payment", DataID: "1"})
	require.NoError(t, err)
	assert.Equal(t, ResultInProgress, out.Result)
	gw.AssertNotCalled(t, "GetPayment", mock.Anything, mock.Anything)
}

func TestReconciler_LockReleasedAfterHandling(t *testing.T) {
	ctx := context.Background()
	gw := new(MockGateway)
	gw.On("GetPayment", ctx, "1").Return(nil, status.ErrPaymentNotFound)
	l := &stubLocker{acquired: true}
	r := newReconciler(seedCatalog(), gw, nil, nil)
	r.locker = l

	_, err := r.HandleNotification(ctx, Notification{Type: "payment", DataID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, l.unlocked)
}

func TestRedisLocker(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	l := NewRedisLocker(db, 30*time.Second)
	l.newOwner = func() string { return "owner-1" }
	ctx := context.Background()

	rmock.ExpectSetNX("webhook:payment:1", "owner-1", 30*time.Second).SetVal(false)
	_, acquired, err := l.Lock(ctx, "webhook:payment:1")
	require.NoError(t, err)
	assert.False(t, acquired)

	rmock.ExpectSetNX("webhook:payment:2", "owner-1", 30*time.Second).SetErr(errors.New("connection refused"))
	_, acquired, err = l.Lock(ctx, "webhook:payment:2")
	assert.Error(t, err)
	assert.False(t, acquired)

	rmock.ExpectSetNX("webhook:payment:3", "owner-1", 30*time.Second).SetVal(true)
	unlock, acquired, err := l.Lock(ctx, "webhook:payment:3")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NotNil(t, unlock)

	assert.NoError(t, rmock.ExpectationsWereMet())
}
