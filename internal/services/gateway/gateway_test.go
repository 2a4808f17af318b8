package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clubsite/internal/services/gateway/mercadopago"
	"clubsite/internal/status"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Provider() Provider { return "mock" }

func (m *MockGateway) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	args := m.Called(ctx, req)
	if p := args.Get(0); p != nil {
		return p.(*Preference), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) GetPayment(ctx context.Context, id string) (*Payment, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestPaymentStatus_Failed(t *testing.T) {
	assert.True(t, StatusRejected.Failed())
	assert.True(t, StatusCancelled.Failed())
	assert.False(t, StatusApproved.Failed())
	assert.False(t, StatusInProcess.Failed())
	assert.False(t, StatusPending.Failed())
}

func TestFactory_CreateGateway(t *testing.T) {
	db, _ := redismock.NewClientMock()
	f := NewFactory(db)
	ctx := context.Background()

	gw, err := f.CreateGateway(ctx, ProviderSandbox, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderSandbox, gw.Provider())

	gw, err = f.CreateGateway(ctx, ProviderMercadoPago, &mercadopago.Config{AccessToken: "T"})
	require.NoError(t, err)
	assert.Equal(t, ProviderMercadoPago, gw.Provider())

	_, err = f.CreateGateway(ctx, ProviderMercadoPago, "wrong")
	assert.Error(t, err)

	_, err = f.CreateGateway(ctx, ProviderMercadoPago, &mercadopago.Config{})
	assert.Error(t, err)

	_, err = f.CreateGateway(ctx, "stripe", nil)
	assert.Error(t, err)

	_, err = NewFactory(nil).CreateGateway(ctx, ProviderSandbox, nil)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	db, _ := redismock.NewClientMock()
	r := NewRegistry(NewFactory(db))
	ctx := context.Background()

	_, err := r.Primary()
	assert.Error(t, err)

	require.NoError(t, r.Register(ctx, ProviderSandbox, &SandboxConfig{}))
	require.NoError(t, r.Register(ctx, ProviderMercadoPago, &mercadopago.Config{AccessToken: "T"}))

	primary, err := r.Primary()
	require.NoError(t, err)
	assert.Equal(t, ProviderSandbox, primary.Provider())

	require.NoError(t, r.SetPrimary(ProviderMercadoPago))
	primary, _ = r.Primary()
	assert.Equal(t, ProviderMercadoPago, primary.Provider())

	assert.Error(t, r.SetPrimary("stripe"))
	assert.Equal(t, []Provider{ProviderMercadoPago, ProviderSandbox}, r.Providers())
}

func TestBreaker_WrapsErrors(t *testing.T) {
	m := new(MockGateway)
	gw := WithBreaker(m)
	ctx := context.Background()

	m.On("GetPayment", ctx, "missing").Return(nil, status.ErrPaymentNotFound).Once()
	m.On("GetPayment", ctx, "boom").Return(nil, errors.New("connection reset")).Once()
	m.On("GetPayment", ctx, "ok").Return(&Payment{ID: "ok", Status: StatusApproved}, nil).Once()

	_, err := gw.GetPayment(ctx, "missing")
	assert.ErrorIs(t, err, status.ErrPaymentNotFound)
	assert.NotErrorIs(t, err, status.ErrGateway)

	_, err = gw.GetPayment(ctx, "boom")
	assert.ErrorIs(t, err, status.ErrGateway)

	p, err := gw.GetPayment(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, p.Status)

	m.AssertExpectations(t)
}

func TestBreaker_OpensAfterRepeatedFailures(t *testing.T) {
	m := new(MockGateway)
	gw := WithBreaker(m)
	ctx := context.Background()

	m.On("CreatePreference", ctx, mock.Anything).Return(nil, errors.New("503")).Times(5)

	for i := 0; i < 5; i++ {
		_, err := gw.CreatePreference(ctx, &PreferenceRequest{})
		assert.ErrorIs(t, err, status.ErrGateway)
	}

	_, err := gw.CreatePreference(ctx, &PreferenceRequest{})
	assert.ErrorIs(t, err, status.ErrCircuitOpen)
	m.AssertNumberOfCalls(t, "CreatePreference", 5)
}

func TestMercadoPagoAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/checkout/preferences":
			var form mercadopago.PreferenceForm
			require.NoError(t, json.NewDecoder(r.Body).Decode(&form))
			assert.Equal(t, "ARS", form.Items[0].CurrencyID)
			assert.Equal(t, 80.5, form.Items[0].UnitPrice)
			assert.Equal(t, "approved", form.AutoReturn)
			assert.True(t, form.Expires)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"pref-9","init_point":"https://mp/pref-9"}`))
		case "/v1/payments/77":
			w.Write([]byte(`{"id":77,"status":"rejected","external_reference":"ord1","transaction_amount":80.5}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a, err := NewMercadoPagoAdapter(&mercadopago.Config{BaseURL: srv.URL, AccessToken: "T"})
	require.NoError(t, err)
	ctx := context.Background()

	pref, err := a.CreatePreference(ctx, &PreferenceRequest{
		Items:     []Item{{ID: "p1", Title: "Shirt", Quantity: 1, UnitPrice: decimal.RequireFromString("80.50")}},
		Currency:  "ARS",
		BackURLs:  BackURLs{Success: "https://club/ok"},
		ExpiresAt: time.Now().Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, &Preference{ID: "pref-9", CheckoutURL: "https://mp/pref-9"}, pref)

	p, err := a.GetPayment(ctx, "77")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, p.Status)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("80.5")))

	_, err = a.GetPayment(ctx, "78")
	assert.ErrorIs(t, err, status.ErrPaymentNotFound)
}

func TestSandbox_PreferenceAndPayment(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	sb := NewSandbox(db, &SandboxConfig{CheckoutBaseURL: "http://localhost:8090/", TTL: time.Hour})
	sb.newID = func() string { return "fixed" }
	ctx := context.Background()

	rmock.ExpectHSet("sandbox:preference:sb-pref-fixed",
		"external_reference", "ord1", "amount", "30", "payer_email", "ana@example.com",
	).SetVal(3)
	rmock.ExpectExpire("sandbox:preference:sb-pref-fixed", time.Hour).SetVal(true)

	pref, err := sb.CreatePreference(ctx, &PreferenceRequest{
		Items:             []Item{{Quantity: 3, UnitPrice: decimal.NewFromInt(10)}},
		Payer:             Payer{Email: "ana@example.com"},
		ExternalReference: "ord1",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090/sandbox/checkout/sb-pref-fixed", pref.CheckoutURL)

	rmock.ExpectHGetAll("sandbox:preference:sb-pref-fixed").SetVal(map[string]string{
		"external_reference": "ord1", "amount": "30", "payer_email": "ana@example.com",
	})
	rmock.ExpectHSet("sandbox:payment:sb-pay-fixed",
		"status", "approved", "external_reference", "ord1", "amount", "30", "payer_email", "ana@example.com",
	).SetVal(4)
	rmock.ExpectExpire("sandbox:payment:sb-pay-fixed", time.Hour).SetVal(true)

	paymentID, err := sb.SimulatePayment(ctx, pref.ID, StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, "sb-pay-fixed", paymentID)

	rmock.ExpectHGetAll("sandbox:payment:sb-pay-fixed").SetVal(map[string]string{
		"status": "approved", "external_reference": "ord1", "amount": "30", "payer_email": "ana@example.com",
	})

	p, err := sb.GetPayment(ctx, paymentID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, p.Status)
	assert.Equal(t, "ord1", p.ExternalReference)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(30)))

	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestSandbox_Missing(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	sb := NewSandbox(db, nil)
	ctx := context.Background()

	rmock.ExpectHGetAll("sandbox:payment:nope").SetVal(map[string]string{})
	_, err := sb.GetPayment(ctx, "nope")
	assert.ErrorIs(t, err, status.ErrPaymentNotFound)

	rmock.ExpectHGetAll("sandbox:preference:nope").SetVal(map[string]string{})
	_, err = sb.SimulatePayment(ctx, "nope", StatusApproved)
	assert.ErrorIs(t, err, status.ErrNotFound)
}
