package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sumudu01/NayanaPharma/internal/service"
	"github.com/Sumudu01/NayanaPharma/pkg/health"
	"github.com/Sumudu01/NayanaPharma/pkg/middleware"
)

// Services groups the application services the router exposes.
type Services struct {
	Ledger   *service.Ledger
	Checkout *service.CheckoutService
	Monitor  *service.StockMonitor
	Sales    *service.SalesService
}

// RouterConfig holds the HTTP-level settings.
type RouterConfig struct {
	ServiceName       string
	CORS              middleware.CORSConfig
	PprofAllowedCIDRs []string
	LowStockThreshold int
	// RateLimitRPS caps cart calls per client IP; 0 disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter creates a chi router with every stock service route registered.
func NewRouter(svc Services, healthHandler *health.Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	cart := NewCartHandler(svc.Checkout, logger)
	r.Route("/cart/{cartId}", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger))
		r.Get("/", cart.GetCart)
		r.Delete("/", cart.ClearCart)
		r.Post("/lines", cart.AddLine)
		r.Put("/lines/{productId}", cart.UpdateLine)
		r.Delete("/lines/{productId}", cart.RemoveLine)
		r.Post("/renew", cart.Renew)
		r.Post("/checkout", cart.Checkout)
	})

	inventory := NewInventoryHandler(svc.Ledger, svc.Monitor, cfg.LowStockThreshold, logger)
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/alerts", inventory.ListAlerts)
		r.Get("/product-count", inventory.ProductCount)
		r.Get("/stock-count", inventory.StockCount)
		r.Post("/products", inventory.RegisterProduct)
		r.Get("/products/{productId}", inventory.GetStock)
		r.Post("/products/{productId}/adjustments", inventory.Adjust)
		r.Put("/products/{productId}/status", inventory.SetStatus)
		r.Get("/products/{productId}/movements", inventory.ListMovements)
	})

	sales := NewSalesHandler(svc.Sales, logger)
	r.Route("/sales", func(r chi.Router) {
		r.Get("/", sales.List)
		r.Get("/count", sales.Count)
		r.Get("/{saleId}", sales.Get)
		r.Put("/{saleId}", sales.Update)
		r.Delete("/{saleId}", sales.Delete)
	})

	return r
}
