// Package api exposes the estimator over HTTP: the public quote and upload
// endpoints used by the widget, and the token-protected admin endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/estimator/internal/admission"
	"github.com/sells-group/estimator/internal/model"
	"github.com/sells-group/estimator/internal/store"
)

// Quoter produces a quote for an admitted request. It never fails; errors
// surface as the fallback response.
type Quoter interface {
	Quote(ctx context.Context, req model.QuoteRequest, clientIP string) model.QuoteResponse
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Gate    *admission.Gate
	Quotes  Quoter
	Records *store.Records
	// Uploads is nil when the store cannot grant direct uploads.
	Uploads    store.Presigner
	AdminToken string
}

type server struct {
	gate       *admission.Gate
	quotes     Quoter
	records    *store.Records
	uploads    store.Presigner
	adminToken string
}

// NewRouter builds the chi router with request IDs, access logging, panic
// recovery and CORS on the public routes.
func NewRouter(d Deps) http.Handler {
	s := &server{
		gate:       d.Gate,
		quotes:     d.Quotes,
		records:    d.Records,
		uploads:    d.Uploads,
		adminToken: d.AdminToken,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(corsHandler(d.Gate.Origins()))
		r.HandleFunc("/estimate", s.handleEstimate)
		r.HandleFunc("/blob/sign", s.handleSign)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/list", s.handleAdminList)
		r.Get("/get", s.handleAdminGet)
	})

	return r
}

// corsHandler decorates preflights and responses for allowed origins and
// passes preflights through to the handlers, which answer 204. Disallowed origins get no CORS headers; the gate then
// rejects the actual request with 403.
func corsHandler(origins admission.OriginPolicy) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return origins.Allowed(origin)
		},
		AllowedMethods:     []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type"},
		ExposedHeaders:     []string{"Retry-After"},
		MaxAge:             int((10 * time.Minute).Seconds()),
		OptionsPassthrough: true,
	})
}
