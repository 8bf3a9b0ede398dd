package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/engine"
	"github.com/efreitasn/p2pescrow/internal/service"
	"github.com/efreitasn/p2pescrow/internal/token"
	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all routes registered, request logging,
// signature verification and Content-Type validation middleware. metrics may
// be nil.
func NewRouter(
	eng *engine.Engine,
	tok *token.Ledger,
	webhookSvc *service.WebhookService,
	verifier *auth.Verifier,
	metrics http.Handler,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))

	// Health check and metrics are unauthenticated.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	offerH := NewOfferHandler(eng)
	tradeH := NewTradeHandler(eng)
	adminH := NewAdminHandler(eng)
	tokenH := NewTokenHandler(tok)
	eventH := NewEventHandler(eng.Events())
	webhookH := NewWebhookHandler(webhookSvc)

	v := *verifier
	if v.OnReject == nil {
		v.OnReject = writeAuthError
	}

	r.Group(func(r chi.Router) {
		r.Use(v.Middleware)
		r.Use(contentTypeJSON)

		r.Get("/contract", adminH.Info)
		r.Get("/events", eventH.List)

		// Offer routes.
		r.Post("/offers", offerH.Create)
		r.Get("/offers", offerH.List)
		r.Get("/offers/depth", offerH.Depth)
		r.Get("/offers/{offer_id}", offerH.Get)
		r.Delete("/offers/{offer_id}", offerH.Cancel)
		r.Get("/sellers/{address}/offer", offerH.SellerOffer)

		// Trade routes.
		r.Post("/trades", tradeH.Initiate)
		r.Get("/trades", tradeH.List)
		r.Get("/trades/{trade_id}", tradeH.Get)
		r.Post("/trades/{trade_id}/confirm", tradeH.Confirm)
		r.Post("/trades/{trade_id}/cancel", tradeH.Cancel)
		r.Post("/trades/{trade_id}/dispute", tradeH.Dispute)
		r.Post("/trades/{trade_id}/resolve", tradeH.Resolve)

		// Admin routes.
		r.Route("/admin", func(r chi.Router) {
			r.Post("/pause", adminH.Pause)
			r.Post("/unpause", adminH.Unpause)
			r.Put("/fee-rate", adminH.UpdateFeeRate)
			r.Put("/trade-limits", adminH.UpdateTradeLimits)
			r.Put("/rate-bounds", adminH.UpdateRateBounds)
			r.Put("/fee-collector", adminH.UpdateFeeCollector)
			r.Put("/admin", adminH.UpdateAdmin)
			r.Post("/accept", adminH.AcceptAdmin)
		})

		// Token routes.
		r.Get("/token", tokenH.Info)
		r.Get("/token/balances/{address}", tokenH.Balance)
		r.Get("/token/allowances/{owner}/{spender}", tokenH.Allowance)
		r.Post("/token/approve", tokenH.Approve)
		r.Post("/token/transfer", tokenH.Transfer)
		r.Post("/token/mint", tokenH.Mint)

		// Webhook routes.
		r.Post("/webhooks", webhookH.Upsert)
		r.Get("/webhooks", webhookH.List)
		r.Delete("/webhooks/{webhook_id}", webhookH.Delete)
	})

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON rejects POST, PUT and PATCH requests whose Content-Type
// is not application/json with 400 before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
