package services

import (
	"context"
	"sync"
	"time"

	"clubsite/internal/services/gateway"
	"clubsite/internal/store"
	"clubsite/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return t0 }

func intPtr(n int) *int { return &n }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Provider() gateway.Provider { return gateway.ProviderSandbox }

func (m *MockGateway) CreatePreference(ctx context.Context, req *gateway.PreferenceRequest) (*gateway.Preference, error) {
	args := m.Called(ctx, req)
	if p := args.Get(0); p != nil {
		return p.(*gateway.Preference), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) GetPayment(ctx context.Context, id string) (*gateway.Payment, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*gateway.Payment), args.Error(1)
	}
	return nil, args.Error(1)
}

type fakeMailer struct {
	mu        sync.Mutex
	err       error
	tickets   []TicketEmail
	reminders []ReminderEmail
	paid      []string
	shipped   []string
}

func (f *fakeMailer) SendTickets(_ context.Context, msg TicketEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, msg)
	return f.err
}

func (f *fakeMailer) SendReminder(_ context.Context, msg ReminderEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders = append(f.reminders, msg)
	return f.err
}

func (f *fakeMailer) SendOrderConfirmation(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, o.Number)
	return f.err
}

func (f *fakeMailer) SendOrderShipped(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipped = append(f.shipped, o.Number)
	return f.err
}

type published struct {
	channel string
	message any
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeNotifier) Publish(_ context.Context, channel string, message any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{channel, message})
	return nil
}

func (f *fakeNotifier) channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		out = append(out, m.channel)
	}
	return out
}

// seedCatalog stores one published event with a single open lot and a
// ticket type of ten units priced 100 (80 for members).
func seedCatalog() *store.Memory {
	m := store.NewMemory()
	m.PutEvent(models.Event{
		ID: "ev1", Title: "Cena aniversario", Slug: "cena-aniversario",
		StartsAt: t0.Add(10 * 24 * time.Hour), EndsAt: t0.Add(10*24*time.Hour + 4*time.Hour),
		Location: "Sede social", Published: true, Active: true,
	})
	m.PutLot(models.Lot{
		ID: "lot1", EventID: "ev1", Name: "Preventa",
		StartsAt: t0.Add(-24 * time.Hour), EndsAt: t0.Add(5 * 24 * time.Hour), Active: true,
	})
	m.PutTicketType(models.TicketType{
		ID: "tt1", LotID: "lot1", Name: "General",
		Price: dec("100"), MemberPrice: decPtr("80"),
		TotalQuantity: 10, MaxPerPurchase: 4, Active: true,
	})
	return m
}

func attendees(n int, email string) []models.Attendee {
	out := make([]models.Attendee, n)
	for i := range out {
		out[i] = models.Attendee{Name: "Asistente", Document: "30111222", Email: email}
	}
	return out
}

func testConfig() Config {
	return Config{
		PublicBaseURL:         "https://club.example",
		Currency:              "ARS",
		PendingTicketTTL:      30 * time.Minute,
		MaxTicketsPerPurchase: 10,
		MemberDiscountPercent: dec("10"),
		ShippingFlatCost:      dec("1500"),
		FreeShippingThreshold: dec("20000"),
	}
}

func newIssuance(s store.Store, gw gateway.Gateway) *IssuanceService {
	svc := NewIssuanceService(s, gw, testConfig())
	svc.now = fixedNow
	return svc
}

func newReconciler(s store.Store, gw gateway.Gateway, m Mailer, n Notifier) *Reconciler {
	r := NewReconciler(s, gw, m, n, nil)
	r.now = fixedNow
	return r
}
