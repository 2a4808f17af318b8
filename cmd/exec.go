package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clubsite/config"
	"clubsite/internal/handlers"
	"clubsite/internal/services"
	"clubsite/internal/services/gateway"
	"clubsite/internal/services/gateway/mercadopago"
	"clubsite/internal/store"
	_ "clubsite/migrations"
	"clubsite/monitoring"
	"clubsite/security"
	"clubsite/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go/v7"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type app struct {
	cfg        *config.Config
	pb         *pocketbase.PocketBase
	redis      *redis.Client
	store      *store.PocketBase
	sandbox    *gateway.Sandbox
	pricing    *services.PricingService
	issuance   *services.IssuanceService
	reconciler *services.Reconciler
	scanner    *services.Scanner
	shop       *services.ShopService
	reminders  *services.ReminderService
	sweeper    *services.Sweeper
	reports    *services.ReportService
}

func Start() error {
	pb := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// no arguments: serve on the configured port
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve", "--http=0.0.0.0:"+cfg.Port)
	}

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey
	pn := pubnub.NewPubNub(pnConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := wire(ctx, pb, cfg, redisClient, services.NewPubNubNotifier(pn))
	if err != nil {
		return err
	}

	// Enable migrations
	migratecmd.MustRegister(pb, pb.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})
	a.registerCommands()
	a.registerHooks()
	a.registerJobs()

	// Setup graceful shutdown
	go handleShutdown(cancel)

	pb.OnServe().BindFunc(func(se *core.ServeEvent) error {
		// the store is only queryable once the app has bootstrapped
		go monitoring.NewMonitor(monitoring.PendingCounterFunc(a.sweeper.CountPending), 30*time.Second).
			WhenReady(se.App.IsBootstrapped).
			Run(ctx)

		a.registerRoutes(se)
		log.Println("Server routes registered")
		return se.Next()
	})

	// Start server
	if err := pb.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func wire(ctx context.Context, pb *pocketbase.PocketBase, cfg *config.Config, redisClient *redis.Client, notifier services.Notifier) (*app, error) {
	a := &app{cfg: cfg, pb: pb, redis: redisClient, store: store.NewPocketBase(pb)}

	registry := gateway.NewRegistry(gateway.NewFactory(redisClient))
	switch gateway.Provider(cfg.PaymentProvider) {
	case gateway.ProviderMercadoPago:
		if err := registry.Register(ctx, gateway.ProviderMercadoPago, &mercadopago.Config{
			BaseURL:             cfg.MPBaseURL,
			AccessToken:         cfg.MPAccessToken,
			Timeout:             cfg.GatewayTimeout,
			UseSandboxInitPoint: cfg.IsDevelopment(),
		}); err != nil {
			return nil, err
		}
	case gateway.ProviderSandbox:
		a.sandbox = gateway.NewSandbox(redisClient, &gateway.SandboxConfig{
			CheckoutBaseURL: cfg.PublicBaseURL,
			Currency:        cfg.Currency,
		})
		registry.Add(a.sandbox)
	default:
		return nil, fmt.Errorf("unsupported PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}
	gw, err := registry.Primary()
	if err != nil {
		return nil, err
	}

	svcCfg := services.Config{
		PublicBaseURL:         cfg.PublicBaseURL,
		Currency:              cfg.Currency,
		PendingTicketTTL:      cfg.PendingTicketTTL,
		MaxTicketsPerPurchase: cfg.MaxTicketsPerPurchase,
		MemberDiscountPercent: cfg.MemberDiscountPercent,
		ShippingFlatCost:      cfg.ShippingFlatCost,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
	}
	mailer := services.NewPocketBaseMailer(pb, cfg.MailFromName, cfg.MailFromAddress)

	// Initialize services
	a.pricing = services.NewPricingService(a.store)
	a.issuance = services.NewIssuanceService(a.store, gw, svcCfg)
	a.reconciler = services.NewReconciler(a.store, gw, mailer, notifier, services.NewRedisLocker(redisClient, cfg.WebhookLockTTL))
	a.scanner = services.NewScanner(a.store, notifier)
	a.shop = services.NewShopService(a.store, gw, mailer, notifier, svcCfg)
	a.reminders = services.NewReminderService(a.store, mailer, redisClient)
	a.sweeper = services.NewSweeper(a.store, cfg.PendingTicketTTL)
	a.reports = services.NewReportService(a.store)
	return a, nil
}

func (a *app) registerRoutes(se *core.ServeEvent) {
	limiter := security.NewRateLimiter(a.redis, a.cfg.RateLimitPerMinute)

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(a.store, a.pricing, a.issuance)
	paymentHandler := handlers.NewPaymentHandler(a.reconciler, a.sandbox, a.cfg.MPWebhookSecret)
	scannerHandler := handlers.NewScannerHandler(a.scanner)
	shopHandler := handlers.NewShopHandler(a.shop)
	adminHandler := handlers.NewAdminHandler(a.reports, a.shop, a.redis)
	cronHandler := handlers.NewCronHandler(a.reminders, a.sweeper)

	se.Router.GET("/health", adminHandler.Health)
	if a.cfg.EnableMetrics {
		se.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
	}

	v1 := se.Router.Group("/api/v1")

	// Catalog and purchase endpoints
	v1.GET("/events/{eventId}/pricing", ticketHandler.GetPricing)
	v1.GET("/events/{eventId}/lots", ticketHandler.GetLots)
	v1.POST("/events/{eventId}/purchase", ticketHandler.Purchase).
		BindFunc(limiter.BlockBots(), limiter.Limit("purchase"))
	v1.GET("/me/tickets", ticketHandler.MyTickets).Bind(apis.RequireAuth())
	v1.GET("/tickets/{ticketId}/qr.png", ticketHandler.TicketQR).Bind(apis.RequireAuth())

	// Storefront
	v1.POST("/shop/checkout", shopHandler.Checkout).
		BindFunc(limiter.BlockBots(), limiter.Limit("checkout"))

	// Payment endpoints
	v1.POST("/payments/webhook", paymentHandler.Webhook)

	// Door
	v1.POST("/scanner/validate", scannerHandler.Validate).
		Bind(apis.RequireAuth()).
		BindFunc(limiter.Limit("scanner"))

	// Admin endpoints
	v1.GET("/admin/events/{eventId}/report", adminHandler.EventReport).Bind(apis.RequireAuth())
	v1.GET("/admin/orders/report", adminHandler.OrdersReport).Bind(apis.RequireAuth())
	v1.POST("/admin/orders/{orderId}/status", adminHandler.UpdateOrderStatus).Bind(apis.RequireAuth())

	// Scheduler entry points
	cron := v1.Group("/cron")
	cron.BindFunc(security.RequireBearer(a.cfg.CronSecret))
	cron.POST("/reminders", cronHandler.Reminders)
	cron.POST("/expire-pending", cronHandler.ExpirePending)

	// Test endpoint for payment simulation
	if a.cfg.IsDevelopment() {
		v1.POST("/test/simulate-payment", paymentHandler.SimulatePayment)
	}
}

// registerHooks protects invariants that admin edits through the dashboard
// could otherwise break.
func (a *app) registerHooks() {
	a.pb.OnRecordUpdate(store.CollectionTickets).BindFunc(func(e *core.RecordEvent) error {
		if e.Record.Original().GetString("qr_code") != e.Record.GetString("qr_code") {
			slog.Warn("rejected qr_code change", "ticket_id", e.Record.Id)
			return errors.New("qr_code cannot be changed once issued")
		}
		return e.Next()
	})
}

func (a *app) registerJobs() {
	if a.cfg.ReminderSchedule != "" {
		a.pb.Cron().MustAdd("eventReminders", a.cfg.ReminderSchedule, func() {
			if _, err := a.reminders.SendReminders(context.Background(), time.Now()); err != nil {
				slog.Error("cron reminders.SendReminders()", "error", err)
			}
		})
	}
	if a.cfg.ExpirySchedule != "" {
		a.pb.Cron().MustAdd("expirePendingTickets", a.cfg.ExpirySchedule, func() {
			if _, err := a.sweeper.ExpirePending(context.Background(), time.Now()); err != nil {
				slog.Error("cron sweeper.ExpirePending()", "error", err)
			}
		})
	}
}

func (a *app) registerCommands() {
	a.pb.RootCmd.AddCommand(&cobra.Command{
		Use:   "reminders",
		Short: "Send reminders for events starting in 24 to 48 hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.reminders.SendReminders(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			cmd.Printf("events=%d sent=%d skipped=%d failed=%d\n", report.Events, report.Sent, report.Skipped, report.Failed)
			return nil
		},
	})
	a.pb.RootCmd.AddCommand(&cobra.Command{
		Use:   "expire-pending",
		Short: "Cancel pending tickets whose payment window has lapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.sweeper.ExpirePending(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			cmd.Printf("expired=%d\n", n)
			return nil
		},
	})
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
