package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stagepass/stagepass-backend/api/controllers"
	ordercontrollers "github.com/stagepass/stagepass-backend/api/controllers/orders"
	vouchercontrollers "github.com/stagepass/stagepass-backend/api/controllers/vouchers"
	webhookcontrollers "github.com/stagepass/stagepass-backend/api/controllers/webhooks"
	"github.com/stagepass/stagepass-backend/api/middleware"
	internalorders "github.com/stagepass/stagepass-backend/internal/orders"
	internalvouchers "github.com/stagepass/stagepass-backend/internal/vouchers"
	internalwebhooks "github.com/stagepass/stagepass-backend/internal/webhooks"
	pkgauth "github.com/stagepass/stagepass-backend/pkg/auth"
	"github.com/stagepass/stagepass-backend/pkg/config"
	"github.com/stagepass/stagepass-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	cacheP controllers.Pinger,
	ordersSvc internalorders.Service,
	vouchersSvc internalvouchers.Service,
	webhooksSvc *internalwebhooks.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cacheP))
	})

	r.Handle("/metrics", promhttp.Handler())

	// Provider notifications authenticate by signature, not bearer token.
	r.Route("/orders/paypal/webhook", func(r chi.Router) {
		r.Post("/checkout", webhookcontrollers.PayPalCheckout(webhooksSvc, logg))
		r.Post("/payment", webhookcontrollers.PayPalPayment(webhooksSvc, logg))
	})

	r.Route("/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequirePermission(pkgauth.PermCreateOrders, logg))

		r.Route("/reservation", func(r chi.Router) {
			r.Post("/", ordercontrollers.CreateReservation(ordersSvc, logg))
			r.Post("/payment", ordercontrollers.CreatePayment(ordersSvc, logg))
			r.Post("/cancel", ordercontrollers.CancelReservation(ordersSvc, logg))
			r.Post("/voucher", ordercontrollers.ApplyVoucher(ordersSvc, logg))
			r.Delete("/voucher", ordercontrollers.RemoveVoucher(ordersSvc, logg))
		})

		r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
		r.Get("/{orderId}/payments", ordercontrollers.ListPayments(ordersSvc, logg))
	})

	r.Route("/vouchers", func(r chi.Router) {
		r.Get("/event/{eventId}/public", vouchercontrollers.ListPublic(vouchersSvc, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.With(middleware.RequirePermission(pkgauth.PermReadVouchers, logg)).
				Get("/event/{eventId}", vouchercontrollers.ListByEvent(vouchersSvc, logg))
			r.With(middleware.RequirePermission(pkgauth.PermReadVouchers, logg)).
				Get("/{id}/event/{eventId}/usage", vouchercontrollers.Usage(vouchersSvc, logg))

			r.With(middleware.RequirePermission(pkgauth.PermManageVouchers, logg)).
				Post("/event/{eventId}", vouchercontrollers.Create(vouchersSvc, logg))
			r.With(middleware.RequirePermission(pkgauth.PermManageVouchers, logg)).
				Put("/{id}/event/{eventId}", vouchercontrollers.Update(vouchersSvc, logg))
			r.With(middleware.RequirePermission(pkgauth.PermManageVouchers, logg)).
				Delete("/{id}/event/{eventId}", vouchercontrollers.Delete(vouchersSvc, logg))
		})
	})

	return r
}
