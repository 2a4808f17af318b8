package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"clubsite/internal/services/gateway"
	"clubsite/internal/status"
	"clubsite/internal/store"
	"clubsite/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func seedShop() *store.Memory {
	m := store.NewMemory()
	m.PutProduct(models.Product{ID: "pr1", Name: "Camiseta", Price: dec("12000"), Stock: 5, Active: true})
	m.PutVariant(models.Variant{ID: "va1", ProductID: "pr1", Name: "L", Price: decPtr("13000"), Stock: 2, Active: true})
	m.PutProduct(models.Product{ID: "pr2", Name: "Gorra", Price: dec("5000"), Stock: 0, Active: true})
	m.PutProduct(models.Product{ID: "pr3", Name: "Bufanda", Price: dec("7000"), Stock: 4, Active: false})
	return m
}

func newShop(m store.Store, gw gateway.Gateway, mailer Mailer) *ShopService {
	s := NewShopService(m, gw, mailer, nil, testConfig())
	s.now = fixedNow
	return s
}

var orderNumberPattern = regexp.MustCompile(`^ORD-20260301-[0-9A-Z]{6}$`)

func TestPlaceOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		items    []CartItem
		pickup   bool
		member   bool
		subtotal string
		discount string
		shipping string
		total    string
	}{
		{"Flat shipping", []CartItem{{ProductID: "pr1", Quantity: 1}}, false, false, "12000", "0", "1500", "13500"},
		{"Pickup", []CartItem{{ProductID: "pr1", Quantity: 1}}, true, false, "12000", "0", "0", "12000"},
		{"Free shipping threshold", []CartItem{{ProductID: "pr1", Quantity: 2}}, false, false, "24000", "0", "0", "24000"},
		{"Variant price and member discount", []CartItem{{ProductID: "pr1", VariantID: "va1", Quantity: 2}}, false, true, "26000", "2600", "0", "23400"},
		{"Member discount keeps free shipping", []CartItem{{ProductID: "pr1", Quantity: 1}, {ProductID: "pr1", VariantID: "va1", Quantity: 1}}, false, true, "25000", "2500", "0", "22500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := seedShop()
			gw := new(MockGateway)
			var sent *gateway.PreferenceRequest
			gw.On("CreatePreference", ctx, mock.Anything).
				Run(func(args mock.Arguments) { sent = args.Get(1).(*gateway.PreferenceRequest) }).
				Return(&gateway.Preference{ID: "pref", CheckoutURL: "https://pay"}, nil).Once()

			req := CheckoutRequest{
				Items:   tt.items,
				Contact: models.Contact{Name: "Ana", Email: "ana@example.com", Address: "Calle 1"},
				Pickup:  tt.pickup,
			}
			if tt.member {
				req.Purchaser = &models.Actor{ID: "u1", Member: true}
			}

			res, err := newShop(m, gw, nil).PlaceOrder(ctx, req)
			require.NoError(t, err)
			assert.Regexp(t, orderNumberPattern, res.Number)
			assert.True(t, res.Total.Equal(dec(tt.total)), "total %s", res.Total)

			o, err := m.Order(ctx, res.OrderID)
			require.NoError(t, err)
			assert.Equal(t, models.OrderPending, o.Status)
			assert.True(t, o.Subtotal.Equal(dec(tt.subtotal)), "subtotal %s", o.Subtotal)
			assert.True(t, o.Discount.Equal(dec(tt.discount)), "discount %s", o.Discount)
			assert.True(t, o.ShippingCost.Equal(dec(tt.shipping)), "shipping %s", o.ShippingCost)
			assert.Equal(t, o.ID, sent.ExternalReference)
			assert.Equal(t, OrderReference{OrderID: o.ID}, DecodeReference(sent.ExternalReference))
		})
	}
}

func TestPlaceOrder_Rejections(t *testing.T) {
	contact := models.Contact{Name: "Ana", Email: "ana@example.com", Address: "Calle 1"}
	tests := []struct {
		name     string
		req      CheckoutRequest
		expected error
	}{
		{"Empty cart", CheckoutRequest{Contact: contact}, status.ErrInvalidRequest},
		{"Missing contact", CheckoutRequest{Items: []CartItem{{ProductID: "pr1", Quantity: 1}}}, status.ErrInvalidRequest},
		{"Missing address", CheckoutRequest{Items: []CartItem{{ProductID: "pr1", Quantity: 1}}, Contact: models.Contact{Name: "Ana", Email: "a@b.c"}}, status.ErrInvalidRequest},
		{"Unknown product", CheckoutRequest{Items: []CartItem{{ProductID: "nope", Quantity: 1}}, Contact: contact}, status.ErrInvalidRequest},
		{"Inactive product", CheckoutRequest{Items: []CartItem{{ProductID: "pr3", Quantity: 1}}, Contact: contact}, status.ErrInvalidRequest},
		{"Variant of another product", CheckoutRequest{Items: []CartItem{{ProductID: "pr2", VariantID: "va1", Quantity: 1}}, Contact: contact}, status.ErrInvalidRequest},
		{"No stock", CheckoutRequest{Items: []CartItem{{ProductID: "pr2", Quantity: 1}}, Contact: contact}, status.ErrOutOfStock},
		{"Variant stock across lines", CheckoutRequest{Items: []CartItem{{ProductID: "pr1", VariantID: "va1", Quantity: 2}, {ProductID: "pr1", VariantID: "va1", Quantity: 1}}, Contact: contact}, status.ErrOutOfStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := seedShop()
			gw := new(MockGateway)
			_, err := newShop(m, gw, nil).PlaceOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.expected)
			orders, _ := m.ListOrders(context.Background())
			assert.Empty(t, orders)
		})
	}
}

func TestPlaceOrder_GatewayFailureDeletesOrder(t *testing.T) {
	m := seedShop()
	gw := new(MockGateway)
	gw.On("CreatePreference", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	_, err := newShop(m, gw, nil).PlaceOrder(context.Background(), CheckoutRequest{
		Items:   []CartItem{{ProductID: "pr1", Quantity: 1}},
		Contact: models.Contact{Name: "Ana", Email: "ana@example.com"},
		Pickup:  true,
	})
	assert.ErrorIs(t, err, status.ErrGateway)
	orders, _ := m.ListOrders(context.Background())
	assert.Empty(t, orders)
}

func TestAdvanceOrder(t *testing.T) {
	ctx := context.Background()
	admin := &models.Actor{ID: "adm", Role: models.RoleAdmin}

	m := seedShop()
	o := &models.Order{Number: "ORD-20260301-XYZ789", Status: models.OrderPaid, Total: decimal.NewFromInt(100)}
	require.NoError(t, m.InsertOrder(ctx, o))
	mailer := &fakeMailer{}
	s := newShop(m, new(MockGateway), mailer)

	_, err := s.AdvanceOrder(ctx, o.ID, models.OrderShipped, admin)
	assert.ErrorIs(t, err, status.ErrInvalidTransition, "cannot skip preparing")

	_, err = s.AdvanceOrder(ctx, o.ID, models.OrderCancelled, admin)
	assert.ErrorIs(t, err, status.ErrInvalidTransition, "paid orders cannot be cancelled")

	_, err = s.AdvanceOrder(ctx, o.ID, models.OrderPreparing, &models.Actor{ID: "m", Member: true})
	assert.ErrorIs(t, err, status.ErrForbidden)

	_, err = s.AdvanceOrder(ctx, o.ID, "lost", admin)
	assert.ErrorIs(t, err, status.ErrInvalidRequest)

	got, err := s.AdvanceOrder(ctx, o.ID, models.OrderPreparing, admin)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPreparing, got.Status)

	got, err = s.AdvanceOrder(ctx, o.ID, models.OrderShipped, admin)
	require.NoError(t, err)
	assert.Equal(t, models.OrderShipped, got.Status)
	assert.Equal(t, []string{o.Number}, mailer.shipped)

	_, err = s.AdvanceOrder(ctx, "missing", models.OrderPaid, admin)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestAdvanceOrder_ManualPaymentDrawsStock(t *testing.T) {
	ctx := context.Background()
	m := seedShop()
	o := &models.Order{
		Number: "ORD-20260301-CASH01",
		Status: models.OrderPending,
		Items:  []models.LineItem{{ProductID: "pr1", Quantity: 2, UnitPrice: dec("12000")}},
	}
	require.NoError(t, m.InsertOrder(ctx, o))

	got, err := newShop(m, new(MockGateway), nil).AdvanceOrder(ctx, o.ID, models.OrderPaid, &models.Actor{ID: "s", Superuser: true})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
	require.NotNil(t, got.PaidAt)

	p, _ := m.Product(ctx, "pr1")
	assert.Equal(t, 3, p.Stock)
}
