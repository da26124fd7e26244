package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tribevibe-cleanup/internal/config"
	"tribevibe-cleanup/internal/identity"
	"tribevibe-cleanup/internal/models"
	"tribevibe-cleanup/internal/ratelimit"
	"tribevibe-cleanup/internal/store"
	"tribevibe-cleanup/internal/telemetry"
)

// TribeStore is the slice of the Postgres store the HTTP handlers need.
type TribeStore interface {
	GetTribe(ctx context.Context, id string) (models.Tribe, error)
	ListTribeEvents(ctx context.Context, tribeID string) ([]models.Event, error)
	InsertJobs(ctx context.Context, params []store.InsertJobParams) (int, error)
	GetJob(ctx context.Context, id string) (models.DeletionJob, error)
	SoftDeleteTribe(ctx context.Context, id string) error
	CancelTribeEvents(ctx context.Context, tribeID string) (int64, error)
}

// ObjectDeleter is the bulk storage delete used by the direct path.
type ObjectDeleter interface {
	DeleteBatch(ctx context.Context, bucket string, keys []string) error
}

// Server wires HTTP handlers for the deletion API.
type Server struct {
	cfg      config.Config
	store    TribeStore
	objects  ObjectDeleter
	identity identity.Resolver
	limiter  *ratelimit.TokenBucket
}

// New constructs the API server.
func New(cfg config.Config, st TribeStore, objects ObjectDeleter, resolver identity.Resolver, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		objects:  objects,
		identity: resolver,
		limiter:  limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/v1/tribes/delete-jobs", s.handleEnqueueDeletion)
	r.Post("/v1/tribes/delete", s.handleDirectDelete)
	r.Get("/v1/jobs/{id}", s.handleGetJob)
	return r
}

type deleteRequest struct {
	TribeID string `json:"tribe_id"`
	DryRun  bool   `json:"dry_run"`
}

type plannedRef struct {
	Bucket     string `json:"bucket"`
	ObjectPath string `json:"object_path"`
}

type enqueueResponse struct {
	Planned  int          `json:"planned"`
	Inserted int          `json:"inserted"`
	DryRun   bool         `json:"dry_run"`
	Objects  []plannedRef `json:"objects,omitempty"`
}

type directDeleteResponse struct {
	FilesDeleted    int   `json:"files_deleted"`
	EventsCancelled int64 `json:"events_cancelled"`
}

// handleEnqueueDeletion plans the storage objects owned by a tribe and
// enqueues one pending deletion job per object. It never touches the tribe
// or event rows; the worker and the direct path own those mutations.
func (s *Server) handleEnqueueDeletion(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Errorf("%w: invalid json", models.ErrValidation))
		return
	}
	if req.TribeID == "" {
		respondError(w, fmt.Errorf("%w: tribe_id is required", models.ErrValidation))
		return
	}

	callerID, tribe, events, err := s.authorizeTribeDelete(r, req.TribeID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !s.allow(w, r, callerID) {
		return
	}

	objects := planObjects(tribe, events)
	resp := enqueueResponse{Planned: len(objects), DryRun: req.DryRun}

	if req.DryRun {
		for _, o := range objects {
			resp.Objects = append(resp.Objects, plannedRef{Bucket: o.Ref.Bucket, ObjectPath: o.Ref.Path})
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	params := make([]store.InsertJobParams, 0, len(objects))
	for _, o := range objects {
		params = append(params, store.InsertJobParams{
			TribeID:    tribe.ID,
			EventID:    o.EventID,
			Bucket:     o.Ref.Bucket,
			ObjectPath: o.Ref.Path,
			CreatedBy:  callerID,
		})
	}
	inserted, err := s.store.InsertJobs(r.Context(), params)
	if err != nil {
		respondError(w, err)
		return
	}
	resp.Inserted = inserted
	telemetry.JobsEnqueued.Add(float64(inserted))
	writeJSON(w, http.StatusOK, resp)
}

// handleDirectDelete deletes a tribe's storage objects inline, then
// soft-deletes the tribe and soft-cancels its events. Storage failures are
// best-effort: an orphaned object is preferred over failing the delete.
// The tribe update is the one fatal step; the database is source of truth.
func (s *Server) handleDirectDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Errorf("%w: invalid json", models.ErrValidation))
		return
	}
	if req.TribeID == "" {
		respondError(w, fmt.Errorf("%w: tribe_id is required", models.ErrValidation))
		return
	}

	callerID, tribe, events, err := s.authorizeTribeDelete(r, req.TribeID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !s.allow(w, r, callerID) {
		return
	}

	objects := planObjects(tribe, events)
	keys, order := groupByBucket(objects)
	for _, bucket := range order {
		if err := s.objects.DeleteBatch(r.Context(), bucket, keys[bucket]); err != nil {
			log.Printf("direct delete: storage cleanup failed for bucket %s (tribe %s): %v", bucket, tribe.ID, err)
		}
	}

	if err := s.store.SoftDeleteTribe(r.Context(), tribe.ID); err != nil {
		respondError(w, err)
		return
	}
	cancelled, err := s.store.CancelTribeEvents(r.Context(), tribe.ID)
	if err != nil {
		log.Printf("direct delete: cancel events failed for tribe %s: %v", tribe.ID, err)
	}

	telemetry.DirectDeletes.Inc()
	writeJSON(w, http.StatusOK, directDeleteResponse{
		FilesDeleted:    len(objects),
		EventsCancelled: cancelled,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// authorizeTribeDelete runs the shared precondition ladder for both delete
// paths: resolve the caller, load the tribe and its events, check
// ownership. Soft-deleted tribes read as not found.
func (s *Server) authorizeTribeDelete(r *http.Request, tribeID string) (string, models.Tribe, []models.Event, error) {
	callerID, err := s.caller(r)
	if err != nil {
		return "", models.Tribe{}, nil, err
	}
	tribe, err := s.store.GetTribe(r.Context(), tribeID)
	if err != nil {
		return "", models.Tribe{}, nil, err
	}
	if tribe.IsDeleted {
		return "", models.Tribe{}, nil, models.ErrNotFound
	}
	if tribe.OwnerID != callerID {
		return "", models.Tribe{}, nil, fmt.Errorf("%w: caller does not own tribe", models.ErrForbidden)
	}
	events, err := s.store.ListTribeEvents(r.Context(), tribeID)
	if err != nil {
		return "", models.Tribe{}, nil, err
	}
	return callerID, tribe, events, nil
}

func (s *Server) caller(r *http.Request) (string, error) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("%w: missing bearer token", models.ErrUnauthorized)
	}
	callerID, err := s.identity.Resolve(r.Context(), strings.TrimPrefix(header, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	return callerID, nil
}

// allow applies the per-caller rate limit. It writes the 429 itself and
// reports whether the request may proceed.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, callerID string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, err := s.limiter.Allow(r.Context(), "rl:"+callerID)
	if err != nil {
		log.Printf("rate limiter unavailable: %v", err)
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limited"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// respondError maps sentinel errors onto the HTTP taxonomy. Internal
// details go to the log, not the response body.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, models.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.Is(err, models.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	default:
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
