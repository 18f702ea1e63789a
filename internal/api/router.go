package api

import (
	"net/http"

	"github.com/ayo6706/referral-commerce/internal/api/handler"
	"github.com/ayo6706/referral-commerce/internal/api/middleware"
	"github.com/ayo6706/referral-commerce/internal/api/spec"
	"github.com/ayo6706/referral-commerce/internal/config"
	"github.com/ayo6706/referral-commerce/internal/idempotency"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Handlers groups every HTTP handler the router mounts.
type Handlers struct {
	Health      *handler.HealthHandler
	Auth        *handler.AuthHandler
	Webhook     *handler.WebhookHandler
	Members     *handler.MemberHandler
	Checkout    *handler.CheckoutHandler
	Orders      *handler.OrderHandler
	Wallets     *handler.WalletHandler
	Commissions *handler.CommissionHandler
	Withdrawals *handler.WithdrawalHandler
	BankEvents  *handler.BankEventHandler
	Maintenance *handler.MaintenanceHandler
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	idemStore *idempotency.Store
	h         Handlers
}

// NewRouter builds the router. idemStore may be nil, which disables Idempotency-Key replay.
func NewRouter(cfg *config.Config, logger *zap.Logger, idemStore *idempotency.Store, handlers Handlers) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, idemStore: idemStore, h: handlers}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	r.Get("/health/live", api.h.Health.Live)
	r.Get("/health/ready", api.h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public routes, limited per IP.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/login", api.h.Auth.Login)
		r.Post("/v1/members", api.h.Members.Register)
	})

	// Bank notifications are authenticated by signature and limited on their own budget.
	r.Group(func(r chi.Router) {
		r.Use(middleware.WebhookRateLimiter(api.cfg.WebhookRateLimitRPS))
		r.Post("/v1/webhooks/bank", api.h.Webhook.HandleBankWebhook)
	})

	// Authenticated routes, limited per member.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		r.Use(middleware.IdempotencyMiddleware(api.idemStore, api.logger))

		r.Route("/v1/members/{id}", func(r chi.Router) {
			r.Get("/", api.h.Members.Get)
			r.Get("/upline", api.h.Members.Upline)
			r.Get("/downline", api.h.Members.Downline)
			r.Get("/wallet", api.h.Wallets.GetForMember)
			r.Get("/wallet/transactions", api.h.Wallets.Statement)
			r.Get("/commissions", api.h.Commissions.ListForMember)
		})

		r.Post("/v1/checkout", api.h.Checkout.CreatePendingOrder)
		r.Get("/v1/pending-orders/{code}", api.h.Checkout.GetByCode)

		r.Get("/v1/orders", api.h.Orders.List)
		r.Get("/v1/orders/{id}", api.h.Orders.Get)

		r.Post("/v1/withdrawals", api.h.Withdrawals.Create)
		r.Get("/v1/withdrawals", api.h.Withdrawals.ListMine)
		r.Get("/v1/withdrawals/{id}", api.h.Withdrawals.Get)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole("admin"))

			r.Get("/members", api.h.Members.List)
			r.Post("/members", api.h.Members.RegisterByAdmin)
			r.Post("/members/{id}/approve", api.h.Members.Approve)
			r.Post("/members/{id}/reject", api.h.Members.Reject)
			r.Post("/members/{id}/suspend", api.h.Members.Suspend)
			r.Post("/members/{id}/reinstate", api.h.Members.Reinstate)
			r.Delete("/members/{id}", api.h.Members.Delete)

			r.Post("/orders", api.h.Orders.CreateManual)
			r.Post("/orders/{id}/status", api.h.Orders.UpdateStatus)
			r.Post("/orders/{id}/distribute", api.h.Orders.Distribute)
			r.Get("/orders/{id}/commissions", api.h.Commissions.ListForOrder)

			r.Get("/withdrawals", api.h.Withdrawals.ListAll)
			r.Post("/withdrawals/{id}/approve", api.h.Withdrawals.Approve)
			r.Post("/withdrawals/{id}/reject", api.h.Withdrawals.Reject)
			r.Post("/withdrawals/{id}/complete", api.h.Withdrawals.Complete)

			r.Get("/bank-events", api.h.BankEvents.List)
			r.Get("/bank-events/{id}", api.h.BankEvents.Get)
			r.Post("/bank-events/{id}/resolve", api.h.BankEvents.Resolve)

			r.Get("/commission-rates", api.h.Commissions.GetRates)
			r.Put("/commission-rates", api.h.Commissions.UpdateRates)

			r.Post("/wallets/{id}/adjustments", api.h.Wallets.Adjust)
			r.Get("/wallets/{id}/verify", api.h.Wallets.Verify)

			r.Post("/sweeps", api.h.Maintenance.Sweep)
			r.Post("/ledger/verify", api.h.Maintenance.VerifyLedger)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "resource/not-found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusMethodNotAllowed, "request/method-not-allowed", "method not allowed")
	})
	return r
}
