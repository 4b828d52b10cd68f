// Package httpapi is the HTTP Surface (spec §2 item 11, §6): a thin
// mapping of the Eval/Compare orchestrators and Repository onto the wire
// contract. Grounded on the pack's go-chi/chi router (declared in
// jordigilh-kubernaut's go.mod and exercised by its handler tests via
// chi.NewRouteContext/chi.URLParam) rather than the teacher's own
// hand-rolled http.ServeMux, since chi's validator-friendly route params
// and middleware chain are a better fit for this surface's request
// validation needs.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/choiwab/promptsmith/internal/adapters/generator"
	"github.com/choiwab/promptsmith/internal/blobstore"
	"github.com/choiwab/promptsmith/internal/compare"
	"github.com/choiwab/promptsmith/internal/eval"
	"github.com/choiwab/promptsmith/internal/ids"
	"github.com/choiwab/promptsmith/internal/logging"
	"github.com/choiwab/promptsmith/internal/repository"
)

// Deps bundles everything a handler needs; built once at process startup.
type Deps struct {
	Repo      repository.Repository
	Blobs     *blobstore.Store
	IDs       *ids.Factory
	Generator generator.Generator
	Compare   *compare.Orchestrator
	Eval      *eval.Orchestrator
	Logger    logging.Logger
}

type server struct {
	deps     Deps
	validate *validator.Validate
}

// NewRouter builds the full chi.Router for the Promptsmith HTTP surface.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logging.NoOp{}
	}
	s := &server{deps: deps, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Route("/projects", func(r chi.Router) {
		r.Post("/", s.createProject)
		r.Get("/", s.listProjects)
		r.Delete("/{id}", s.deleteProject)
	})
	r.Post("/generate", s.generate)
	r.Post("/baseline", s.setBaseline)
	r.Get("/history", s.history)
	r.Post("/compare", s.compareCommits)
	r.Delete("/commits/{id}", s.deleteCommit)
	r.Route("/eval-runs", func(r chi.Router) {
		r.Post("/", s.createEvalRun)
		r.Get("/{id}", s.getEvalRun)
	})

	return r
}

type requestIDKeyType struct{}

var requestIDKey requestIDKeyType

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		ctx := logging.WithRequestID(r.Context(), id)
		ctx = context.WithValue(ctx, requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
