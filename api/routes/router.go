package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rentiva/rentiva-backend/api/controllers"
	installmentcontrollers "github.com/rentiva/rentiva-backend/api/controllers/installments"
	ordercontrollers "github.com/rentiva/rentiva-backend/api/controllers/orders"
	"github.com/rentiva/rentiva-backend/api/middleware"
	"github.com/rentiva/rentiva-backend/internal/deposits"
	"github.com/rentiva/rentiva-backend/internal/installments"
	"github.com/rentiva/rentiva-backend/internal/notifier"
	"github.com/rentiva/rentiva-backend/internal/orders"
	"github.com/rentiva/rentiva-backend/pkg/config"
	"github.com/rentiva/rentiva-backend/pkg/db"
	"github.com/rentiva/rentiva-backend/pkg/logger"
	"github.com/rentiva/rentiva-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisP redis.Pinger,
	ordersSvc orders.Service,
	installmentsSvc installments.Service,
	depositsSvc deposits.Service,
	notifierSvc notifier.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(ordersSvc, logg))
			r.Post("/calculator", ordercontrollers.CreateFromCalculator(ordersSvc, logg))
			r.Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersSvc, logg))
			r.Get("/{orderId}/installments", installmentcontrollers.ListForOrder(installmentsSvc, logg))
			r.Get("/{orderId}/installments/next", installmentcontrollers.NextPending(installmentsSvc, logg))
		})

		r.Route("/installments", func(r chi.Router) {
			r.Post("/{installmentId}/intent", installmentcontrollers.RequestIntent(installmentsSvc, logg))
			r.Post("/{installmentId}/confirm", installmentcontrollers.ConfirmPayment(installmentsSvc, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notifierSvc, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notifierSvc, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(notifierSvc, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireAdmin(logg))

		r.Route("/orders", func(r chi.Router) {
			r.Patch("/{orderId}", controllers.AdminEditOrder(ordersSvc, logg))
			r.Post("/{orderId}/status", controllers.AdminUpdateOrderStatus(ordersSvc, logg))
			r.Post("/{orderId}/return", controllers.AdminMarkReturned(ordersSvc, logg))
			r.Post("/{orderId}/deposit/capture", controllers.AdminCaptureDeposit(depositsSvc, logg))
			r.Post("/{orderId}/deposit/release", controllers.AdminReleaseDeposit(depositsSvc, logg))
		})
	})

	return r
}
