package http

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pairlingo/entitlements/internal/domain/quota"
)

type Server struct {
	srv *http.Server
}

// Deps collects everything the route table needs. Webhook handlers
// arrive as plain http.Handlers because each provider carries its own
// signature verification.
type Deps struct {
	Stripe        http.Handler
	RevenueCat    http.Handler
	Accounts      *AccountHandlers
	Admin         *AdminHandlers
	Gate          *QuotaGate
	ServiceToken  string
	ExposeMetrics bool
}

func New(addr string, d Deps) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if d.ExposeMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.Handle("POST /webhooks/stripe", d.Stripe)
	mux.Handle("POST /webhooks/revenuecat", d.RevenueCat)

	auth := requireToken(d.ServiceToken)

	mux.Handle("GET /accounts/{id}/subscription", auth(http.HandlerFunc(d.Accounts.Subscription)))
	mux.Handle("GET /accounts/{id}/notifications", auth(http.HandlerFunc(d.Accounts.Notifications)))
	mux.Handle("POST /accounts/{id}/invite", auth(d.Gate.Limit(
		quota.ActionGenerateInvite, quota.CheckOptions{}, http.HandlerFunc(d.Accounts.GenerateInvite))))
	mux.Handle("POST /accounts/{id}/invite/complete", auth(http.HandlerFunc(d.Accounts.CompleteInvite)))
	mux.Handle("POST /accounts/{id}/delink", auth(http.HandlerFunc(d.Accounts.Delink)))
	mux.Handle("POST /accounts/{id}/delete", auth(d.Gate.Limit(
		quota.ActionDeleteAccount, quota.CheckOptions{}, http.HandlerFunc(d.Accounts.Delete))))

	mux.Handle("GET /admin/billing-events.xlsx", auth(http.HandlerFunc(d.Admin.BillingEventsExport)))

	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
